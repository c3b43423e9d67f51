package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/DCabral11/cj-digital-bp/internal/apperr"
	"github.com/DCabral11/cj-digital-bp/internal/config"
	"github.com/DCabral11/cj-digital-bp/internal/controller"
	"github.com/DCabral11/cj-digital-bp/internal/gateway"
	"github.com/DCabral11/cj-digital-bp/internal/httpapi"
	"github.com/DCabral11/cj-digital-bp/internal/localstate"
	"github.com/DCabral11/cj-digital-bp/internal/metrics"
	"github.com/DCabral11/cj-digital-bp/internal/session"
	"github.com/DCabral11/cj-digital-bp/internal/store"
	"github.com/DCabral11/cj-digital-bp/internal/store/memstore"
	"github.com/DCabral11/cj-digital-bp/internal/store/natskv"
	"github.com/DCabral11/cj-digital-bp/internal/store/pgstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("load config", zap.Error(err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger.Info("starting peddy", zap.String("config", cfg.Redacted()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slots, err := localstate.OpenSQLite(cfg.StatePath)
	if err != nil {
		logger.Fatal("open local state", zap.String("path", cfg.StatePath), zap.Error(err))
	}
	defer slots.Close()

	loc, err := time.LoadLocation("Europe/Lisbon")
	if err != nil {
		logger.Fatal("load time zone", zap.Error(err))
	}

	m := metrics.New()
	opts := []controller.Option{
		controller.WithMetrics(m),
		controller.WithLocation(loc),
		controller.WithBootstrapTimeout(cfg.BootstrapTimeout),
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		// Surfaced at login; the HTTP surface still comes up.
		logger.Error("remote store unavailable", zap.String("store", cfg.Store), zap.Error(err))
		opts = append(opts, controller.WithBootError(err))
	} else {
		defer st.Close()
	}

	gw := gateway.New(st, logger, gateway.WithMetrics(m))
	sessions := session.NewStore(slots, logger)
	c := controller.New(ctx, st, gw, sessions, logger, opts...)
	defer c.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.SetupRoutes(c, m, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server", zap.Error(err))
	}
	logger.Info("shut down")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Dev() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openStore connects the selected backend. A missing endpoint is reported as
// ErrMissingEndpoint, a failed connection as a transport error.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.Endpoint() == "" {
		return nil, apperr.ErrMissingEndpoint
	}

	switch cfg.Store {
	case config.StoreNATS:
		nc := natskv.DefaultConfig()
		nc.URL = cfg.NATSURL
		nc.Bucket = cfg.NATSBucket
		st, err := natskv.Open(ctx, nc, logger)
		if err != nil {
			return nil, apperr.Transport("connect nats", err)
		}
		return st, nil

	case config.StorePostgres:
		pc := pgstore.DefaultConfig()
		pc.DatabaseURL = cfg.DatabaseURL
		st, err := pgstore.Open(ctx, pc, logger)
		if err != nil {
			return nil, apperr.Transport("connect postgres", err)
		}
		return st, nil

	default:
		st := memstore.New(ctx, logger)
		if cfg.SeedFile != "" {
			if err := store.SeedFile(ctx, st, cfg.SeedFile, logger); err != nil {
				st.Close()
				return nil, err
			}
		}
		return st, nil
	}
}
