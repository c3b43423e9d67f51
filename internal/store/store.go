// Package store defines the remote synchronized key-value contract the client
// runs against. Nodes are addressed by slash-separated paths; values are JSON.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

const (
	PathAdmin       = "admin"
	PathTeams       = "equipas"
	PathStations    = "postos"
	PathSubmissions = "submissions"
	PathAccessLogs  = "access_logs"
)

var (
	ErrClosed      = errors.New("store: closed")
	ErrInvalidPath = errors.New("store: invalid path")
	// ErrNotLeaf is returned when a write targets a node held inside a larger
	// stored value, or a node that only exists as a composite of children.
	ErrNotLeaf = errors.New("store: path is not a writable leaf")
)

// Snapshot is the full value at Path at one point in time. Value is nil when
// nothing exists there.
type Snapshot struct {
	Path  string
	Value json.RawMessage
}

func (s Snapshot) Exists() bool { return s.Value != nil }

// Subscription delivers full snapshots in emission order. Intermediate
// snapshots may be coalesced when the consumer is slower than the producer;
// the latest one is always delivered. The channel closes after Close or when
// the backend goes away.
type Subscription interface {
	Events() <-chan Snapshot
	Close() error
}

// TxFunc maps the current value (nil when absent) to the next one. Returning
// ok=false aborts without writing.
type TxFunc func(current json.RawMessage) (next json.RawMessage, ok bool)

// CreateIfAbsent commits value only when nothing exists at the path.
func CreateIfAbsent(value json.RawMessage) TxFunc {
	return func(current json.RawMessage) (json.RawMessage, bool) {
		if current != nil {
			return nil, false
		}
		return value, true
	}
}

// CreateChildIfAbsent adds value under key inside the object at the path,
// committing only when that key is absent or null. A missing object is
// created.
func CreateChildIfAbsent(key string, value json.RawMessage) TxFunc {
	return func(current json.RawMessage) (json.RawMessage, bool) {
		obj := map[string]json.RawMessage{}
		if current != nil {
			if err := json.Unmarshal(current, &obj); err != nil || obj == nil {
				return nil, false
			}
		}
		if v, ok := obj[key]; ok && !isNull(v) {
			return nil, false
		}
		obj[key] = value
		next, err := json.Marshal(obj)
		if err != nil {
			return nil, false
		}
		return next, true
	}
}

type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	Subscribe(ctx context.Context, path string) (Subscription, error)
	// Transaction applies fn atomically against the value at path and reports
	// whether it committed. Concurrent writers to the same path are serialised
	// by the backend; a losing writer sees the winner's value on retry.
	Transaction(ctx context.Context, path string, fn TxFunc) (bool, error)
	// Push appends value under a freshly generated child key of path.
	Push(ctx context.Context, path string, value any) (string, error)
	Set(ctx context.Context, path string, value any) error
	Close() error
}

// Feed is a Subscription backed by a single-slot channel that always holds
// the newest snapshot. Offer and Finish must be called from one producer
// goroutine.
type Feed struct {
	ch   chan Snapshot
	once sync.Once
	stop func()
}

func NewFeed(stop func()) *Feed {
	return &Feed{ch: make(chan Snapshot, 1), stop: stop}
}

func (f *Feed) Offer(s Snapshot) {
	select {
	case <-f.ch:
	default:
	}
	f.ch <- s
}

// Finish closes the event channel. Producer side only.
func (f *Feed) Finish() { close(f.ch) }

func (f *Feed) Events() <-chan Snapshot { return f.ch }

func (f *Feed) Close() error {
	f.once.Do(func() {
		if f.stop != nil {
			f.stop()
		}
	})
	return nil
}

// Marshal encodes a write value; json.RawMessage and []byte pass through.
func Marshal(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}
