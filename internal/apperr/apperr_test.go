package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "sentinel", err: ErrInvalidPIN, want: "PIN incorreto."},
		{name: "wrapped sentinel keeps its message", err: Wrap(ErrPINUnavailable, errors.New("key not found")), want: ErrPINUnavailable.Msg},
		{name: "conflict reads like a duplicate", err: ErrConflict, want: ErrDuplicate.Msg},
		{name: "transport surfaces the cause", err: Transport("get postos", errors.New("connection refused")), want: "Erro de comunicação: connection refused"},
		{name: "unclassified", err: errors.New("boom"), want: "Erro de comunicação: boom"},
		{name: "bootstrap", err: Bootstrap(ErrMissingAdmin), want: "Erro ao iniciar: Nó /admin não existe na base de dados."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Message(tc.err))
		})
	}
}

func TestKindOfAndIs(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", ErrConflict)

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrConflict))
	assert.False(t, errors.Is(wrapped, ErrDuplicate))

	boot := Bootstrap(ErrMissingEndpoint)
	assert.Equal(t, KindConfiguration, KindOf(boot))
	assert.True(t, errors.Is(boot, ErrMissingEndpoint))

	assert.Equal(t, KindTransport, KindOf(errors.New("x")))
	assert.Equal(t, "validation", KindValidation.String())
}
