package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DCabral11/cj-digital-bp/internal/apperr"
	"github.com/DCabral11/cj-digital-bp/internal/metrics"
	"github.com/DCabral11/cj-digital-bp/internal/record"
	"github.com/DCabral11/cj-digital-bp/internal/store"
	"github.com/DCabral11/cj-digital-bp/internal/store/memstore"
)

// countingStore records every remote call made through it.
type countingStore struct {
	store.Store
	gets, txns, pushes atomic.Int32
}

func (c *countingStore) Get(ctx context.Context, path string) (store.Snapshot, error) {
	c.gets.Add(1)
	return c.Store.Get(ctx, path)
}

func (c *countingStore) Transaction(ctx context.Context, path string, fn store.TxFunc) (bool, error) {
	c.txns.Add(1)
	return c.Store.Transaction(ctx, path, fn)
}

func (c *countingStore) Push(ctx context.Context, path string, value any) (string, error) {
	c.pushes.Add(1)
	return c.Store.Push(ctx, path, value)
}

func (c *countingStore) calls() int32 { return c.gets.Load() + c.txns.Load() + c.pushes.Load() }

// barrierStore holds every submissions read until n readers have arrived,
// so n pre-checks interleave before any write.
type barrierStore struct {
	store.Store
	wg *sync.WaitGroup
}

func (b barrierStore) Get(ctx context.Context, path string) (store.Snapshot, error) {
	snap, err := b.Store.Get(ctx, path)
	if path == store.PathSubmissions {
		b.wg.Done()
		b.wg.Wait()
	}
	return snap, err
}

type failingStore struct {
	store.Store
	err error
}

func (f failingStore) Get(ctx context.Context, path string) (store.Snapshot, error) {
	return store.Snapshot{}, f.err
}

func (f failingStore) Push(ctx context.Context, path string, value any) (string, error) {
	return "", f.err
}

var epoch = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func seeded(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	s := memstore.New(ctx, zaptest.NewLogger(t))
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Set(ctx, "postos/P1", map[string]any{"game_label": "P01", "pin": "4412"}))
	require.NoError(t, s.Set(ctx, "postos/P2", map[string]any{"game_label": "P02", "pin": 7}))
	require.NoError(t, s.Set(ctx, "postos/P3", map[string]any{"game_label": "P03"}))
	return s
}

func newGateway(t *testing.T, st store.Store, opts ...Option) *Gateway {
	t.Helper()
	opts = append([]Option{WithClock(clockwork.NewFakeClockAt(epoch))}, opts...)
	return New(st, zaptest.NewLogger(t), opts...)
}

func submissions(t *testing.T, st store.Store) []record.Submission {
	t.Helper()
	snap, err := st.Get(context.Background(), store.PathSubmissions)
	require.NoError(t, err)
	rows, err := record.NormalizeSubmissions(snap.Value)
	require.NoError(t, err)
	return rows
}

func TestSubmit_Commits(t *testing.T) {
	st := seeded(t)
	m := metrics.New()
	g := newGateway(t, st, WithMetrics(m))

	res, err := g.Submit(context.Background(), "T1", "P1", " 4412 ", 100)
	require.NoError(t, err)
	assert.Equal(t, PhaseCommitted, res.State.Phase)
	assert.Equal(t, "Registo efetuado. 100 pontos.", res.Message())
	assert.Equal(t, record.Submission{
		ID:        "T1_P1",
		Timestamp: "2024-05-01T09:30:00.000Z",
		Posto:     "P1",
		Equipa:    "T1",
		Pontos:    100,
	}, res.Submission)

	assert.Equal(t, []record.Submission{res.Submission}, submissions(t, st))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("committed")))
}

func TestSubmit_ZeroPointsAndNumericPIN(t *testing.T) {
	st := seeded(t)
	g := newGateway(t, st)

	res, err := g.Submit(context.Background(), "T1", "P2", "7", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Submission.Pontos)
}

func TestSubmit_InvalidPointsMakesNoRemoteCalls(t *testing.T) {
	cs := &countingStore{Store: seeded(t)}
	g := newGateway(t, cs)

	for _, pts := range []int{50, -100, 1, 200} {
		res, err := g.Submit(context.Background(), "T1", "P1", "4412", pts)
		assert.ErrorIs(t, err, apperr.ErrInvalidPoints)
		assert.Equal(t, PhaseRejected, res.State.Phase)
	}
	assert.Equal(t, int32(0), cs.calls())
}

func TestSubmit_WrongPINWritesNothing(t *testing.T) {
	st := seeded(t)
	cs := &countingStore{Store: st}
	g := newGateway(t, cs)

	res, err := g.Submit(context.Background(), "T1", "P1", "4413", 100)
	assert.ErrorIs(t, err, apperr.ErrInvalidPIN)
	assert.Equal(t, "PIN incorreto.", apperr.Message(err))
	assert.Equal(t, PhaseRejected, res.State.Phase)
	assert.Equal(t, int32(0), cs.txns.Load())
	assert.Empty(t, submissions(t, st))
}

func TestSubmit_PINUnavailable(t *testing.T) {
	st := seeded(t)

	cases := []struct {
		name    string
		store   store.Store
		station string
	}{
		{name: "station without pin", store: st, station: "P3"},
		{name: "unknown station", store: st, station: "P9"},
		{name: "read fails", store: failingStore{Store: st, err: errors.New("connection reset")}, station: "P1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newGateway(t, tc.store)
			res, err := g.Submit(context.Background(), "T1", tc.station, "4412", 100)
			assert.ErrorIs(t, err, apperr.ErrPINUnavailable)
			assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
			assert.Equal(t, PhaseRejected, res.State.Phase)
		})
	}
}

func TestSubmit_DuplicateAfterCommit(t *testing.T) {
	st := seeded(t)
	g := newGateway(t, st)
	ctx := context.Background()

	_, err := g.Submit(ctx, "T1", "P1", "4412", 100)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := g.Submit(ctx, "T1", "P1", "4412", 0)
		assert.ErrorIs(t, err, apperr.ErrDuplicate)
		assert.Equal(t, PhaseDuplicateRejected, res.State.Phase)
	}

	// Another team is unaffected.
	_, err = g.Submit(ctx, "T2", "P1", "4412", 100)
	require.NoError(t, err)
	assert.Len(t, submissions(t, st), 2)
}

func TestSubmit_DuplicateAgainstLegacyNestedRow(t *testing.T) {
	st := seeded(t)
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "submissions/T1", map[string]any{
		"P1": map[string]any{"timestamp": "2024-01-01T00:00:00Z", "points": 100},
	}))

	g := newGateway(t, st)
	_, err := g.Submit(ctx, "T1", "P1", "4412", 100)
	assert.ErrorIs(t, err, apperr.ErrDuplicate)
}

func TestSubmit_LegacyTeamNodeKeepsRowsAndWriteKey(t *testing.T) {
	cases := map[string]func(t *testing.T, st store.Store){
		"team node stored as one value": func(t *testing.T, st store.Store) {
			require.NoError(t, st.Set(context.Background(), "submissions/T1", map[string]any{
				"P1": map[string]any{"timestamp": "2024-01-01T00:00:00Z", "points": 100},
			}))
		},
		"one value per station": func(t *testing.T, st store.Store) {
			require.NoError(t, st.Set(context.Background(), "submissions/T1/P1",
				map[string]any{"timestamp": "2024-01-01T00:00:00Z", "points": 100}))
		},
	}
	for name, seedLegacy := range cases {
		t.Run(name, func(t *testing.T) {
			st := seeded(t)
			seedLegacy(t, st)
			ctx := context.Background()
			g := newGateway(t, st)

			// Another team's flat write leaves the legacy row intact.
			_, err := g.Submit(ctx, "T2", "P1", "4412", 100)
			require.NoError(t, err)
			board := submissions(t, st)
			require.Len(t, board, 2)
			assert.Equal(t, record.Submission{ID: "T1_P1", Timestamp: "2024-01-01T00:00:00Z", Posto: "P1", Equipa: "T1", Pontos: 100}, board[0])
			assert.Equal(t, "T2", board[1].Equipa)

			_, err = g.Submit(ctx, "T1", "P1", "4412", 100)
			assert.ErrorIs(t, err, apperr.ErrDuplicate)

			// New pairs of a legacy team land inside its node.
			res, err := g.Submit(ctx, "T1", "P2", "7", 0)
			require.NoError(t, err)
			assert.Equal(t, "T1_P2", res.Submission.ID)

			flat, err := st.Get(ctx, "submissions/T1_P2")
			require.NoError(t, err)
			assert.False(t, flat.Exists())
			nested, err := st.Get(ctx, "submissions/T1/P2")
			require.NoError(t, err)
			assert.JSONEq(t, `{"timestamp":"2024-05-01T09:30:00.000Z","posto":"P2","equipa":"T1","pontos":0}`, string(nested.Value))
			assert.Len(t, submissions(t, st), 3)
		})
	}
}

func TestSubmit_LegacyTeamInterleavedOnlyOneCommits(t *testing.T) {
	st := seeded(t)
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "submissions/T1", map[string]any{
		"P1": map[string]any{"timestamp": "2024-01-01T00:00:00Z", "points": 100},
	}))

	var wg sync.WaitGroup
	wg.Add(2)
	shared := barrierStore{Store: st, wg: &wg}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		g := newGateway(t, shared)
		go func() {
			_, err := g.Submit(ctx, "T1", "P2", "7", 100)
			errs <- err
		}()
	}

	var committed, conflicted int
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			switch {
			case err == nil:
				committed++
			case errors.Is(err, apperr.ErrConflict):
				conflicted++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for submissions")
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, conflicted)
	assert.Len(t, submissions(t, st), 2)
}

func TestSubmit_InterleavedPreChecksOnlyOneCommits(t *testing.T) {
	st := seeded(t)
	var wg sync.WaitGroup
	wg.Add(2)
	shared := barrierStore{Store: st, wg: &wg}

	type outcome struct {
		res Result
		err error
	}
	out := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		g := newGateway(t, shared)
		go func() {
			res, err := g.Submit(context.Background(), "T1", "P1", "4412", 100)
			out <- outcome{res, err}
		}()
	}

	var committed, conflicted int
	for i := 0; i < 2; i++ {
		select {
		case o := <-out:
			switch {
			case o.err == nil:
				committed++
				assert.Equal(t, PhaseCommitted, o.res.State.Phase)
			case errors.Is(o.err, apperr.ErrConflict):
				conflicted++
				assert.Equal(t, PhaseDuplicateRejected, o.res.State.Phase)
				assert.Equal(t, apperr.ErrDuplicate.Msg, apperr.Message(o.err))
			default:
				t.Fatalf("unexpected error: %v", o.err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for submissions")
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, conflicted)
	assert.Len(t, submissions(t, st), 1)
}

func TestSubmit_TransportErrorOnPreCheck(t *testing.T) {
	st := seeded(t)
	g := newGateway(t, prefixFailing{Store: st, prefix: store.PathSubmissions})

	res, err := g.Submit(context.Background(), "T1", "P1", "4412", 100)
	assert.Equal(t, apperr.KindTransport, apperr.KindOf(err))
	assert.Equal(t, PhasePendingValidation, res.State.Phase, "no verdict was reached")
}

type prefixFailing struct {
	store.Store
	prefix string
}

func (p prefixFailing) Get(ctx context.Context, path string) (store.Snapshot, error) {
	if path == p.prefix {
		return store.Snapshot{}, errors.New("timeout")
	}
	return p.Store.Get(ctx, path)
}

func TestSubmit_RejectsPathLikeIDs(t *testing.T) {
	cs := &countingStore{Store: seeded(t)}
	g := newGateway(t, cs)

	_, err := g.Submit(context.Background(), "T1", "P1/pin", "4412", 100)
	assert.ErrorIs(t, err, apperr.ErrUnknownStation)
	assert.Equal(t, int32(0), cs.calls())
}

func TestRegisterAccess(t *testing.T) {
	st := seeded(t)
	m := metrics.New()
	g := newGateway(t, st, WithMetrics(m))
	ctx := context.Background()

	g.RegisterAccess(ctx, "T1", "device-1", "Mozilla/5.0")

	snap, err := st.Get(ctx, store.PathAccessLogs)
	require.NoError(t, err)
	logs, err := record.NormalizeAccessLogs(snap.Value)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "T1", logs[0].TeamID)
	assert.Equal(t, "device-1", logs[0].DeviceID)
	assert.Equal(t, "2024-05-01T09:30:00.000Z", logs[0].Timestamp)

	// Failures are swallowed.
	newGateway(t, failingStore{Store: st, err: errors.New("offline")}, WithMetrics(m)).
		RegisterAccess(ctx, "T1", "device-1", "")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccessLogs.WithLabelValues("failed")))
}

func TestResultMessage(t *testing.T) {
	assert.Equal(t, "Registo efetuado. 0 pontos.", Result{State: State{Points: 0}}.Message())
}
