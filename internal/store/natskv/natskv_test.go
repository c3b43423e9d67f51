package natskv

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DCabral11/cj-digital-bp/internal/store"
)

func runServer(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func openStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = runServer(t)
	cfg.MaxReconnects = 0

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func recvSnapshot(t *testing.T, ch <-chan store.Snapshot, within time.Duration) store.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("subscription closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return store.Snapshot{}
	}
}

func TestEncodePath(t *testing.T) {
	cases := []struct {
		path string
		key  string
	}{
		{path: "submissions/T1_P2", key: "submissions.T1_P2"},
		{path: "equipas/Équipa 1", key: "equipas.=C3=89quipa=201"},
		{path: "postos/1.5/pin", key: "postos.1=2E5.pin"},
		{path: "a=b", key: "a=3Db"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.key, EncodePath(tc.path))
		back, err := DecodeKey(tc.key)
		require.NoError(t, err)
		assert.Equal(t, tc.path, back)
	}

	_, err := DecodeKey("bad=4")
	assert.Error(t, err)
}

func TestStore_SetGetCompose(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Set(ctx, "postos/1", map[string]any{"game_label": "P01", "pin": "4412"}))
	require.NoError(t, s.Set(ctx, "postos/2", map[string]any{"game_label": "P02", "pin": "0007"}))

	snap, err := s.Get(ctx, "postos/1/pin")
	require.NoError(t, err)
	assert.JSONEq(t, `"4412"`, string(snap.Value))

	snap, err = s.Get(ctx, "postos")
	require.NoError(t, err)
	assert.JSONEq(t, `{"1":{"game_label":"P01","pin":"4412"},"2":{"game_label":"P02","pin":"0007"}}`, string(snap.Value))

	snap, err = s.Get(ctx, "submissions")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestStore_TransactionOneWinner(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Transaction(ctx, "submissions/T1_P1", store.CreateIfAbsent(json.RawMessage(`{"pontos":100}`)))
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestStore_TransactionUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Set(ctx, "counter", 1))
	ok, err := s.Transaction(ctx, "counter", func(cur json.RawMessage) (json.RawMessage, bool) {
		var n int
		require.NoError(t, json.Unmarshal(cur, &n))
		return json.RawMessage(`2`), n == 1
	})
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, `2`, string(snap.Value))
}

func TestStore_SubscribeSeesPushes(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	sub, err := s.Subscribe(ctx, store.PathAccessLogs)
	require.NoError(t, err)
	defer sub.Close()

	first := recvSnapshot(t, sub.Events(), 2*time.Second)
	assert.False(t, first.Exists())

	key, err := s.Push(ctx, store.PathAccessLogs, map[string]string{"teamId": "T1", "deviceId": "d1"})
	require.NoError(t, err)

	next := recvSnapshot(t, sub.Events(), 2*time.Second)
	var logs map[string]map[string]string
	require.NoError(t, json.Unmarshal(next.Value, &logs))
	assert.Equal(t, "d1", logs[key]["deviceId"])

	require.NoError(t, sub.Close())
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscription not closed")
		}
	}
}

func TestStore_Seed(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	doc := []byte("postos:\n  1:\n    game_label: P01\n    pin: 4412\n")
	require.NoError(t, store.Seed(ctx, s, doc, zaptest.NewLogger(t)))

	snap, err := s.Get(ctx, "postos/1/pin")
	require.NoError(t, err)
	assert.Equal(t, `4412`, string(snap.Value))
}
