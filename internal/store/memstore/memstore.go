// Package memstore is an in-process store.Store. One goroutine owns the tree
// and every subscriber; transactions run inside that goroutine, so writes to
// the same path are serialised.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DCabral11/cj-digital-bp/internal/store"
)

type Msg interface{ isStoreMsg() }

type get struct {
	Path  string
	Reply chan getResult
}

type getResult struct {
	Value json.RawMessage
	Err   error
}

type subscribe struct {
	ID    string
	Path  string
	Feed  *store.Feed
	Reply chan error
}

type unsubscribe struct{ ID string }

type txn struct {
	Path  string
	Fn    store.TxFunc
	Reply chan txnResult
}

type txnResult struct {
	Committed bool
	Err       error
}

type set struct {
	Path  string
	Value json.RawMessage
	Reply chan error
}

type shutdown struct{}

// GetState is test-only introspection.
type GetState struct {
	Reply chan View
}

type View struct {
	Leaves      int
	Subscribers int
	Writes      int
}

func (get) isStoreMsg()         {}
func (subscribe) isStoreMsg()   {}
func (unsubscribe) isStoreMsg() {}
func (txn) isStoreMsg()         {}
func (set) isStoreMsg()         {}
func (shutdown) isStoreMsg()    {}
func (GetState) isStoreMsg()    {}

type subscriber struct {
	path string
	feed *store.Feed
}

type Store struct {
	inbox  chan Msg
	tree   store.Tree
	subs   map[string]subscriber
	writes int
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

var _ store.Store = (*Store)(nil)

func New(parent context.Context, logger *zap.Logger) *Store {
	ctx, cancel := context.WithCancel(parent)
	s := &Store{
		inbox:  make(chan Msg, 64),
		tree:   store.Tree{},
		subs:   make(map[string]subscriber),
		logger: logger.Named("memstore"),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.loop()
	return s
}

func (s *Store) Inbox() chan<- Msg { return s.inbox }

func (s *Store) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case get:
				v, err := s.tree.Compose(msg.Path)
				msg.Reply <- getResult{Value: v, Err: err}

			case subscribe:
				v, err := s.tree.Compose(msg.Path)
				if err != nil {
					msg.Reply <- err
					break
				}
				s.subs[msg.ID] = subscriber{path: msg.Path, feed: msg.Feed}
				// First event is the current value, like a fresh listener.
				msg.Feed.Offer(store.Snapshot{Path: msg.Path, Value: v})
				msg.Reply <- nil

			case unsubscribe:
				if sub, ok := s.subs[msg.ID]; ok {
					sub.feed.Finish()
					delete(s.subs, msg.ID)
				}

			case txn:
				committed, err := s.apply(msg.Path, msg.Fn)
				msg.Reply <- txnResult{Committed: committed, Err: err}

			case set:
				err := s.tree.Put(msg.Path, msg.Value)
				if err == nil {
					s.writes++
					s.broadcast(msg.Path)
				}
				msg.Reply <- err

			case GetState:
				msg.Reply <- View{Leaves: len(s.tree), Subscribers: len(s.subs), Writes: s.writes}

			case shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Store) apply(path string, fn store.TxFunc) (bool, error) {
	current, err := s.tree.Compose(path)
	if err != nil {
		return false, err
	}
	next, ok := fn(current)
	if !ok {
		return false, nil
	}
	if s.tree.Shadowed(path) {
		return false, fmt.Errorf("%w: %s", store.ErrNotLeaf, path)
	}
	if err := s.tree.Put(path, next); err != nil {
		return false, err
	}
	s.writes++
	s.broadcast(path)
	return true, nil
}

// broadcast never blocks: feeds keep only the newest snapshot.
func (s *Store) broadcast(written string) {
	for _, sub := range s.subs {
		if !store.Related(sub.path, written) {
			continue
		}
		v, err := s.tree.Compose(sub.path)
		if err != nil {
			s.logger.Warn("compose for subscriber", zap.String("path", sub.path), zap.Error(err))
			continue
		}
		sub.feed.Offer(store.Snapshot{Path: sub.path, Value: v})
	}
}

func (s *Store) shutdown() {
	for id, sub := range s.subs {
		sub.feed.Finish()
		delete(s.subs, id)
	}
	s.cancel()
}

// send delivers m unless the caller or the store has gone away.
func (s *Store) send(ctx context.Context, m Msg) error {
	select {
	case s.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return store.ErrClosed
	}
}

func await[T any](ctx context.Context, s *Store, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.ctx.Done():
		return zero, store.ErrClosed
	}
}

func (s *Store) Get(ctx context.Context, path string) (store.Snapshot, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return store.Snapshot{}, err
	}
	reply := make(chan getResult, 1)
	if err := s.send(ctx, get{Path: p, Reply: reply}); err != nil {
		return store.Snapshot{}, err
	}
	res, err := await(ctx, s, reply)
	if err != nil {
		return store.Snapshot{}, err
	}
	if res.Err != nil {
		return store.Snapshot{}, res.Err
	}
	return store.Snapshot{Path: p, Value: res.Value}, nil
}

func (s *Store) Subscribe(ctx context.Context, path string) (store.Subscription, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	feed := store.NewFeed(func() {
		// Unsubscribe outlives the caller's context.
		_ = s.send(context.Background(), unsubscribe{ID: id})
	})

	reply := make(chan error, 1)
	if err := s.send(ctx, subscribe{ID: id, Path: p, Feed: feed, Reply: reply}); err != nil {
		return nil, err
	}
	res, err := await(ctx, s, reply)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return nil, res
	}
	return feed, nil
}

func (s *Store) Transaction(ctx context.Context, path string, fn store.TxFunc) (bool, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return false, err
	}
	reply := make(chan txnResult, 1)
	if err := s.send(ctx, txn{Path: p, Fn: fn, Reply: reply}); err != nil {
		return false, err
	}
	res, err := await(ctx, s, reply)
	if err != nil {
		return false, err
	}
	return res.Committed, res.Err
}

func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("push key: %w", err)
	}
	key := id.String()
	if err := s.Set(ctx, store.Join(p, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	p, err := store.CleanPath(path)
	if err != nil {
		return err
	}
	b, err := store.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p, err)
	}
	reply := make(chan error, 1)
	if err := s.send(ctx, set{Path: p, Value: b, Reply: reply}); err != nil {
		return err
	}
	res, err := await(ctx, s, reply)
	if err != nil {
		return err
	}
	return res
}

func (s *Store) Close() error {
	select {
	case s.inbox <- shutdown{}:
	case <-s.ctx.Done():
	}
	return nil
}
