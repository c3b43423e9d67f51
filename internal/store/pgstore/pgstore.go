// Package pgstore implements store.Store on PostgreSQL. Leaves live in one
// table; a row trigger publishes changed paths over LISTEN/NOTIFY.
package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DCabral11/cj-digital-bp/internal/store"
)

const maxTxRetries = 8

type Config struct {
	DatabaseURL      string
	FallbackInterval time.Duration // How often subscribers re-read without a notification
	RetryDelay       time.Duration
}

func DefaultConfig() Config {
	return Config{
		FallbackInterval: 30 * time.Second,
		RetryDelay:       time.Second,
	}
}

type Store struct {
	pool     *pgxpool.Pool
	db       *gorm.DB
	listener *listener
	logger   *zap.Logger
	cancel   context.CancelFunc
}

var _ store.Store = (*Store)(nil)

// Open connects, migrates the schema and starts the notification listener.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	logger = logger.Named("pgstore")

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	if err := Migrate(db.WithContext(ctx)); err != nil {
		pool.Close()
		return nil, err
	}

	lctx, cancel := context.WithCancel(context.Background())
	s := &Store{pool: pool, db: db, logger: logger, cancel: cancel}
	s.listener = newListener(cfg, logger)
	go s.listener.run(lctx)

	logger.Info("connected")
	return s, nil
}

func (s *Store) Close() error {
	s.cancel()
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
	s.pool.Close()
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// likePrefix escapes LIKE metacharacters so ids containing % or _ match
// literally.
func likePrefix(path string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(path) + "/%"
}

// load reads every leaf that can affect path; lock adds FOR UPDATE.
func load(ctx context.Context, q querier, path string, lock bool) (store.Tree, error) {
	sql := `
		SELECT path, value::text FROM peddy_nodes
		WHERE path = $1 OR path = ANY($2) OR path LIKE $3 ESCAPE '\'`
	if lock {
		sql += ` FOR UPDATE`
	}
	ancestors := store.Ancestors(path)
	if ancestors == nil {
		ancestors = []string{}
	}
	rows, err := q.Query(ctx, sql, path, ancestors, likePrefix(path))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tree := store.Tree{}
	for rows.Next() {
		var p, v string
		if err := rows.Scan(&p, &v); err != nil {
			return nil, err
		}
		tree[p] = []byte(v)
	}
	return tree, rows.Err()
}

func (s *Store) Get(ctx context.Context, path string) (store.Snapshot, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return store.Snapshot{}, err
	}
	tree, err := load(ctx, s.pool, p, false)
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
	initial, err := s.Get(ctx, p)
	if err != nil {
		return nil, err
	}

	wake, remove := s.listener.register(p)
	sctx, cancel := context.WithCancel(context.Background())
	feed := store.NewFeed(func() {
		remove()
		cancel()
	})
	feed.Offer(initial)
	go s.follow(sctx, p, wake, feed)
	return feed, nil
}

// follow re-reads path whenever the listener signals a related change or
// the fallback interval elapses.
func (s *Store) follow(ctx context.Context, path string, wake <-chan struct{}, feed *store.Feed) {
	defer feed.Finish()

	fallback := time.NewTicker(s.listener.cfg.FallbackInterval)
	defer fallback.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-fallback.C:
		}
		snap, err := s.Get(ctx, path)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("re-read subscribed path", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		feed.Offer(snap)
	}
}

func (s *Store) Transaction(ctx context.Context, path string, fn store.TxFunc) (bool, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return false, err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		committed, retry, err := s.tryTransaction(ctx, p, fn)
		if err != nil || !retry {
			return committed, err
		}
		s.logger.Debug("transaction lost race, retrying", zap.String("path", p), zap.Int("attempt", attempt+1))
	}
	return false, fmt.Errorf("transaction %s: too many concurrent writers", p)
}

func (s *Store) tryTransaction(ctx context.Context, p string, fn store.TxFunc) (committed, retry bool, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, false, fmt.Errorf("transaction %s: %w", p, err)
	}
	defer tx.Rollback(ctx)

	tree, err := load(ctx, tx, p, true)
	if err != nil {
		return false, false, fmt.Errorf("transaction %s: %w", p, err)
	}
	current, err := tree.Compose(p)
	if err != nil {
		return false, false, err
	}

	next, ok := fn(current)
	if !ok {
		return false, false, nil
	}
	if tree.Shadowed(p) {
		return false, false, fmt.Errorf("%w: %s", store.ErrNotLeaf, p)
	}

	_, exists := tree[p]
	switch {
	case next == nil && !exists:
		return true, false, nil
	case next == nil:
		_, err = tx.Exec(ctx, `DELETE FROM peddy_nodes WHERE path = $1`, p)
	case exists:
		_, err = tx.Exec(ctx, `UPDATE peddy_nodes SET value = $2::jsonb, updated_at = now() WHERE path = $1`, p, string(next))
	default:
		tag, ierr := tx.Exec(ctx, `
			INSERT INTO peddy_nodes (path, value, updated_at) VALUES ($1, $2::jsonb, now())
			ON CONFLICT (path) DO NOTHING`, p, string(next))
		if ierr != nil {
			return false, false, fmt.Errorf("transaction %s: %w", p, ierr)
		}
		if tag.RowsAffected() == 0 {
			// A concurrent writer created the row after our read.
			return false, true, nil
		}
	}
	if err != nil {
		return false, false, fmt.Errorf("transaction %s: %w", p, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, false, fmt.Errorf("commit %s: %w", p, err)
	}
	return true, false, nil
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
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO peddy_nodes (path, value, updated_at) VALUES ($1, $2::jsonb, now())`,
		store.Join(p, key), string(b)); err != nil {
		return "", fmt.Errorf("push %s: %w", p, err)
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

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var shadowed bool
		ancestors := store.Ancestors(p)
		if ancestors == nil {
			ancestors = []string{}
		}
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM peddy_nodes WHERE path = ANY($1))`, ancestors,
		).Scan(&shadowed); err != nil {
			return fmt.Errorf("set %s: %w", p, err)
		}
		if shadowed {
			return fmt.Errorf("%w: %s", store.ErrNotLeaf, p)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM peddy_nodes WHERE path LIKE $1 ESCAPE '\'`, likePrefix(p)); err != nil {
			return fmt.Errorf("set %s: %w", p, err)
		}
		if b == nil {
			_, err := tx.Exec(ctx, `DELETE FROM peddy_nodes WHERE path = $1`, p)
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO peddy_nodes (path, value, updated_at) VALUES ($1, $2::jsonb, now())
			ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, p, string(b))
		if err != nil {
			return fmt.Errorf("set %s: %w", p, err)
		}
		return nil
	})
}
