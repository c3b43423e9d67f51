// Package apperr defines the error taxonomy shared by the scoring client and
// the short Portuguese sentences shown to users for each failure.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindTransport covers store/network failures; it is the default for
	// errors that carry no classification.
	KindTransport Kind = iota
	KindConfiguration
	KindValidation
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	default:
		return "transport"
	}
}

// Error is a classified failure. Msg is always safe to render to a user.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrMissingEndpoint = &Error{Kind: KindConfiguration, Msg: "Configuração da base de dados remota não encontrada."}
	ErrMissingAdmin    = &Error{Kind: KindConfiguration, Msg: "Nó /admin não existe na base de dados."}
	ErrPINUnavailable  = &Error{Kind: KindConfiguration, Msg: "Não foi possível validar o PIN deste posto."}

	ErrStillLoading       = &Error{Kind: KindValidation, Msg: "A aplicação ainda está a carregar. Tente novamente dentro de instantes."}
	ErrInvalidCredentials = &Error{Kind: KindValidation, Msg: "Credenciais inválidas."}
	ErrNotLoggedIn        = &Error{Kind: KindValidation, Msg: "Sessão de equipa não iniciada."}
	ErrUnknownStation     = &Error{Kind: KindValidation, Msg: "Posto desconhecido."}
	ErrInvalidPoints      = &Error{Kind: KindValidation, Msg: "Pontuação inválida: use 0 ou 100."}
	ErrInvalidPIN         = &Error{Kind: KindValidation, Msg: "PIN incorreto."}
	ErrDuplicate          = &Error{Kind: KindValidation, Msg: "Jogo já registado para esta equipa."}

	// ErrConflict shares ErrDuplicate's message: a lost race and a double
	// submit must look the same to the user.
	ErrConflict = &Error{Kind: KindConflict, Msg: ErrDuplicate.Msg}
)

// Transport classifies err as a store/network failure raised by op.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransport, Msg: "Erro de comunicação", Err: fmt.Errorf("%s: %w", op, err)}
}

// Wrap attaches cause to a sentinel so both match errors.Is while the
// sentinel's message stays the one rendered.
func Wrap(sentinel *Error, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// Bootstrap converts a startup failure into the error returned by the next
// login attempt.
func Bootstrap(err error) error {
	return &Error{Kind: KindConfiguration, Msg: "Erro ao iniciar: " + Message(err), Err: err}
}

// KindOf reports the class of err; unclassified errors are transport errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// Message renders err as a user-facing sentence. Transport failures include
// the underlying message, nothing else leaks internals.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Erro de comunicação: " + err.Error()
	}
	if e.Kind == KindTransport && e.Err != nil {
		return e.Msg + ": " + rootMessage(e.Err)
	}
	return e.Msg
}

func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
