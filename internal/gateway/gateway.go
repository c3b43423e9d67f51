// Package gateway is the only write path for submissions and access logs.
// A submission is validated against freshly read remote state and committed
// through the store's conditional write.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DCabral11/cj-digital-bp/internal/apperr"
	"github.com/DCabral11/cj-digital-bp/internal/metrics"
	"github.com/DCabral11/cj-digital-bp/internal/record"
	"github.com/DCabral11/cj-digital-bp/internal/store"
)

type Gateway struct {
	store   store.Store
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

type Option func(*Gateway)

func WithClock(c clockwork.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func New(st store.Store, logger *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		store:  st,
		clock:  clockwork.NewRealClock(),
		logger: logger.Named("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type Result struct {
	State      State
	Submission record.Submission
}

// Message is the confirmation shown after a committed submission.
func (r Result) Message() string {
	return fmt.Sprintf("Registo efetuado. %d pontos.", r.State.Points)
}

// Submit runs one attempt to completion. The returned error is the
// user-facing reason for any non-committed outcome.
func (g *Gateway) Submit(ctx context.Context, teamID, stationID, pin string, points int) (Result, error) {
	s := NewAttempt(teamID, stationID, points)
	log := g.logger.With(zap.String("team_id", teamID), zap.String("station_id", stationID))

	if teamID == "" || strings.Contains(teamID, "/") || stationID == "" || strings.Contains(stationID, "/") {
		return Result{State: s}, apperr.ErrUnknownStation
	}

	if points != 0 && points != 100 {
		return g.settle(log, s, Event{Type: EvtPointsInvalid, Err: apperr.ErrInvalidPoints})
	}
	s = g.must(s, Event{Type: EvtValidationStart})

	snap, err := g.store.Get(ctx, store.Join(store.PathStations, stationID, "pin"))
	if err != nil {
		log.Warn("fetch station pin", zap.Error(err))
		return g.settle(log, s, Event{Type: EvtPINUnavailable, Err: apperr.Wrap(apperr.ErrPINUnavailable, err)})
	}
	expected, ok := record.DecodePIN(snap.Value)
	if !ok {
		return g.settle(log, s, Event{Type: EvtPINUnavailable, Err: apperr.ErrPINUnavailable})
	}
	if strings.TrimSpace(pin) != strings.TrimSpace(expected) {
		return g.settle(log, s, Event{Type: EvtPINMismatch, Err: apperr.ErrInvalidPIN})
	}

	// Advisory only: the conditional write below is what enforces uniqueness.
	subs, err := g.store.Get(ctx, store.PathSubmissions)
	if err != nil {
		return Result{State: s}, apperr.Transport("read submissions", err)
	}
	rows, err := record.NormalizeSubmissions(subs.Value)
	if err != nil {
		log.Warn("pre-check skipped, submissions undecodable", zap.Error(err))
	}
	for _, row := range rows {
		if row.Equipa == teamID && row.Posto == stationID {
			return g.settle(log, s, Event{Type: EvtDuplicateFound, Err: apperr.ErrDuplicate})
		}
	}

	sub := record.Submission{
		ID:        record.PairID(teamID, stationID),
		Timestamp: g.clock.Now().UTC().Format(record.TimestampLayout),
		Posto:     stationID,
		Equipa:    teamID,
		Pontos:    points,
	}
	committed, err := g.commit(ctx, subs.Value, sub)
	if err != nil {
		return Result{State: s}, apperr.Transport("write submission", err)
	}
	if !committed {
		return g.settle(log, s, Event{Type: EvtWriteConflict, Err: apperr.ErrConflict})
	}

	res, _ := g.settle(log, s, Event{Type: EvtWriteCommitted})
	res.Submission = sub
	return res, nil
}

// commit performs the conditional write. Teams whose history is still
// stored as a legacy team node keep writing under it, so each pair has one
// write key whichever shape it was first recorded in.
func (g *Gateway) commit(ctx context.Context, snapshot json.RawMessage, sub record.Submission) (bool, error) {
	value, err := json.Marshal(sub.Flat())
	if err != nil {
		return false, fmt.Errorf("encode submission: %w", err)
	}
	if !record.NestedTeam(snapshot, sub.Equipa) {
		return g.store.Transaction(ctx, store.Join(store.PathSubmissions, sub.ID), store.CreateIfAbsent(value))
	}

	committed, err := g.store.Transaction(ctx, store.Join(store.PathSubmissions, sub.Equipa, sub.Posto), store.CreateIfAbsent(value))
	if errors.Is(err, store.ErrNotLeaf) {
		// The team node is stored as one value.
		return g.store.Transaction(ctx, store.Join(store.PathSubmissions, sub.Equipa), store.CreateChildIfAbsent(sub.Posto, value))
	}
	return committed, err
}

func (g *Gateway) settle(log *zap.Logger, s State, evt Event) (Result, error) {
	s = g.must(s, evt)
	if g.metrics != nil {
		g.metrics.Submissions.WithLabelValues(string(s.Phase)).Inc()
	}
	if s.Phase == PhaseCommitted {
		log.Info("submission committed", zap.Int("points", s.Points))
	} else {
		log.Info("submission not committed", zap.String("phase", string(s.Phase)), zap.String("event", string(evt.Type)))
	}
	return Result{State: s}, s.Reason
}

// must applies an event the caller already knows is valid.
func (g *Gateway) must(s State, evt Event) State {
	next, err := Apply(s, evt)
	if err != nil {
		panic(fmt.Sprintf("gateway: %s in %s: %v", evt.Type, s.Phase, err))
	}
	return next
}

// RegisterAccess appends an access log entry. Failures are logged and never
// reach the caller.
func (g *Gateway) RegisterAccess(ctx context.Context, teamID, deviceID, ua string) {
	entry := record.AccessPayload{
		TeamID:    teamID,
		Timestamp: g.clock.Now().UTC().Format(record.TimestampLayout),
		DeviceID:  deviceID,
		UA:        ua,
	}
	key, err := g.store.Push(ctx, store.PathAccessLogs, entry)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		g.logger.Warn("access log append failed", zap.String("team_id", teamID), zap.Error(err))
	} else {
		g.logger.Debug("access logged", zap.String("team_id", teamID), zap.String("key", key))
	}
	if g.metrics != nil {
		g.metrics.AccessLogs.WithLabelValues(outcome).Inc()
	}
}
