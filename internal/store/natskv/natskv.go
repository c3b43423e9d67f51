// Package natskv implements store.Store on a NATS JetStream key-value
// bucket. Every stored leaf is one key; path segments become dot-separated
// key tokens so subtree watches can use the ">" wildcard.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/DCabral11/cj-digital-bp/internal/store"
)

const maxTxRetries = 8

type Config struct {
	URL           string
	Bucket        string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Bucket:        "peddy",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

type Store struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects and creates the bucket if it does not exist yet.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	logger = logger.Named("natskv")
	opts := []nats.Option{
		nats.Name("peddy"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "peddy-paper shared state",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}

	logger.Info("connected", zap.String("url", nc.ConnectedUrl()), zap.String("bucket", cfg.Bucket))
	return &Store{nc: nc, kv: kv, logger: logger}, nil
}

func (s *Store) Close() error {
	s.nc.Close()
	return nil
}

// filters lists the key filters whose entries can affect the value at path.
func filters(path string) []string {
	key := EncodePath(path)
	out := []string{key, key + ".>"}
	for _, a := range store.Ancestors(path) {
		out = append(out, EncodePath(a))
	}
	return out
}

// load reads every leaf that can affect path.
func (s *Store) load(ctx context.Context, path string) (store.Tree, error) {
	tree := store.Tree{}
	for _, f := range filters(path) {
		w, err := s.kv.Watch(ctx, f, jetstream.IgnoreDeletes())
		if err != nil {
			return nil, err
		}
		err = drainInitial(ctx, w, tree)
		w.Stop()
		if err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func drainInitial(ctx context.Context, w jetstream.KeyWatcher, tree store.Tree) error {
	for {
		select {
		case e, ok := <-w.Updates():
			if !ok {
				return store.ErrClosed
			}
			if e == nil {
				return nil
			}
			apply(tree, e)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func apply(tree store.Tree, e jetstream.KeyValueEntry) {
	path, err := DecodeKey(e.Key())
	if err != nil {
		return
	}
	if e.Operation() != jetstream.KeyValuePut {
		delete(tree, path)
		return
	}
	tree[path] = append([]byte(nil), e.Value()...)
}

func (s *Store) Get(ctx context.Context, path string) (store.Snapshot, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return store.Snapshot{}, err
	}
	tree, err := s.load(ctx, p)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("get %s: %w", p, err)
	}
	v, err := tree.Compose(p)
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Path: p, Value: v}, nil
}

func (s *Store) Subscribe(ctx context.Context, path string) (store.Subscription, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithCancel(context.Background())
	var watchers []jetstream.KeyWatcher
	for _, f := range filters(p) {
		w, err := s.kv.Watch(wctx, f)
		if err != nil {
			for _, w := range watchers {
				w.Stop()
			}
			cancel()
			return nil, fmt.Errorf("watch %s: %w", p, err)
		}
		watchers = append(watchers, w)
	}

	feed := store.NewFeed(cancel)
	go s.pump(wctx, p, watchers, feed)
	return feed, nil
}

type update struct {
	entry jetstream.KeyValueEntry
	done  bool
}

// pump merges the watchers into one leaf tree and offers a recomposed
// snapshot once every watcher has delivered its initial values, then after
// each change.
func (s *Store) pump(ctx context.Context, path string, watchers []jetstream.KeyWatcher, feed *store.Feed) {
	defer feed.Finish()

	merged := make(chan update)
	for _, w := range watchers {
		go func(w jetstream.KeyWatcher) {
			defer w.Stop()
			for {
				select {
				case e, ok := <-w.Updates():
					if !ok {
						return
					}
					select {
					case merged <- update{entry: e, done: e == nil}:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(w)
	}

	tree := store.Tree{}
	pending := len(watchers)
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-merged:
			if u.done {
				pending--
			} else {
				apply(tree, u.entry)
			}
			if pending > 0 {
				continue
			}
			v, err := tree.Compose(path)
			if err != nil {
				s.logger.Warn("compose watched subtree", zap.String("path", path), zap.Error(err))
				continue
			}
			feed.Offer(store.Snapshot{Path: path, Value: v})
		}
	}
}

func (s *Store) Transaction(ctx context.Context, path string, fn store.TxFunc) (bool, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return false, err
	}
	key := EncodePath(p)

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var rev uint64
		entry, err := s.kv.Get(ctx, key)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
		case err != nil:
			return false, fmt.Errorf("transaction %s: %w", p, err)
		default:
			rev = entry.Revision()
		}

		tree, err := s.load(ctx, p)
		if err != nil {
			return false, fmt.Errorf("transaction %s: %w", p, err)
		}
		current, err := tree.Compose(p)
		if err != nil {
			return false, err
		}

		next, ok := fn(current)
		if !ok {
			return false, nil
		}
		if tree.Shadowed(p) {
			return false, fmt.Errorf("%w: %s", store.ErrNotLeaf, p)
		}

		switch {
		case rev == 0 && next == nil:
			return true, nil
		case rev == 0:
			_, err = s.kv.Create(ctx, key, next)
		case next == nil:
			err = s.kv.Delete(ctx, key, jetstream.LastRevision(rev))
		default:
			_, err = s.kv.Update(ctx, key, next, rev)
		}
		if err == nil {
			return true, nil
		}
		if !isRevisionConflict(err) {
			return false, fmt.Errorf("transaction %s: %w", p, err)
		}
		s.logger.Debug("transaction lost race, retrying", zap.String("path", p), zap.Int("attempt", attempt+1))
	}
	return false, fmt.Errorf("transaction %s: too many concurrent writers", p)
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return "", err
	}
	b, err := store.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode push %s: %w", p, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("push key: %w", err)
	}
	key := id.String()
	if _, err := s.kv.Create(ctx, EncodePath(store.Join(p, key)), b); err != nil {
		return "", fmt.Errorf("push %s: %w", p, err)
	}
	return key, nil
}

// Set replaces the leaf at path. Not atomic with respect to descendant
// cleanup; used for seeding.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	p, err := store.CleanPath(path)
	if err != nil {
		return err
	}
	b, err := store.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p, err)
	}

	tree, err := s.load(ctx, p)
	if err != nil {
		return fmt.Errorf("set %s: %w", p, err)
	}
	for _, a := range store.Ancestors(p) {
		if _, ok := tree[a]; ok {
			return fmt.Errorf("%w: %s is inside %s", store.ErrNotLeaf, p, a)
		}
	}
	for leaf := range tree {
		if strings.HasPrefix(leaf, p+"/") {
			if err := s.kv.Delete(ctx, EncodePath(leaf)); err != nil {
				return fmt.Errorf("set %s: drop %s: %w", p, leaf, err)
			}
		}
	}

	key := EncodePath(p)
	if b == nil {
		if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("set %s: %w", p, err)
		}
		return nil
	}
	if _, err := s.kv.Put(ctx, key, b); err != nil {
		return fmt.Errorf("set %s: %w", p, err)
	}
	return nil
}
