package pgstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/DCabral11/cj-digital-bp/internal/store"
)

type watch struct {
	path string
	wake chan struct{}
}

// listener holds a dedicated connection on LISTEN and wakes every watch
// whose path is related to a notified path.
type listener struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	watches map[string]watch
}

func newListener(cfg Config, logger *zap.Logger) *listener {
	return &listener{cfg: cfg, logger: logger, watches: make(map[string]watch)}
}

func (l *listener) register(path string) (<-chan struct{}, func()) {
	id := uuid.NewString()
	w := watch{path: path, wake: make(chan struct{}, 1)}

	l.mu.Lock()
	l.watches[id] = w
	l.mu.Unlock()

	return w.wake, func() {
		l.mu.Lock()
		delete(l.watches, id)
		l.mu.Unlock()
	}
}

// notify wakes matching watches; an empty path wakes all of them.
func (l *listener) notify(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.watches {
		if path != "" && !store.Related(w.path, path) {
			continue
		}
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

func (l *listener) run(ctx context.Context) {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("listener connection lost", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.cfg.RetryDelay):
		}
	}
}

func (l *listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	l.logger.Info("listening for notifications", zap.String("channel", notifyChannel))

	// Anything may have changed while we were not listening.
	l.notify("")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.notify(n.Payload)
	}
}
