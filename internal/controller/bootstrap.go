package controller

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DCabral11/cj-digital-bp/internal/apperr"
	"github.com/DCabral11/cj-digital-bp/internal/record"
	"github.com/DCabral11/cj-digital-bp/internal/store"
)

// bootstrap fetches the admin record, the team catalog and the station
// catalog concurrently. All three must succeed for the client to be ready.
func (c *Controller) bootstrap(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.bootTimeout)
	defer cancel()

	var adminRaw, teamsRaw, stationsRaw json.RawMessage
	g, gctx := errgroup.WithContext(ctx)
	fetch := func(path string, dst *json.RawMessage) {
		g.Go(func() error {
			snap, err := c.store.Get(gctx, path)
			if err != nil {
				return apperr.Transport("read "+path, err)
			}
			*dst = snap.Value
			return nil
		})
	}
	fetch(store.PathAdmin, &adminRaw)
	fetch(store.PathTeams, &teamsRaw)
	fetch(store.PathStations, &stationsRaw)

	msg := bootstrapped{}
	if err := g.Wait(); err != nil {
		msg.Err = err
	} else {
		msg = decodeCatalog(adminRaw, teamsRaw, stationsRaw)
	}
	c.send(msg)
}

func decodeCatalog(adminRaw, teamsRaw, stationsRaw json.RawMessage) bootstrapped {
	members, err := record.DecodeTeams(teamsRaw)
	if err != nil {
		return bootstrapped{Err: fmt.Errorf("decode %s: %w", store.PathTeams, err)}
	}
	stations, err := record.DecodeStations(stationsRaw)
	if err != nil {
		return bootstrapped{Err: fmt.Errorf("decode %s: %w", store.PathStations, err)}
	}

	admin, err := record.DecodeAdmin(adminRaw)
	if err != nil {
		return bootstrapped{Err: fmt.Errorf("decode %s: %w", store.PathAdmin, err)}
	}
	if admin == nil {
		// Older deployments only flag the admin inside the team catalog.
		if a, ok := record.AdminFromTeams(members); ok {
			admin = a
		}
	}
	if admin == nil {
		return bootstrapped{Err: apperr.ErrMissingAdmin}
	}

	return bootstrapped{Admin: admin, Teams: record.OnlyTeams(members), Stations: stations}
}

// follow keeps one subscription alive for the controller's lifetime and
// forwards every snapshot into the actor.
func (c *Controller) follow(ctx context.Context, path string) {
	log := c.logger.With(zap.String("path", path))
	for {
		sub, err := c.store.Subscribe(ctx, path)
		if err != nil {
			log.Warn("subscribe failed", zap.Error(err))
		} else {
			c.drain(ctx, path, sub)
			sub.Close()
		}

		if ctx.Err() != nil {
			return
		}
		log.Info("subscription ended, resubscribing", zap.Duration("after", c.retryDelay))
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.retryDelay):
		}
	}
}

func (c *Controller) drain(ctx context.Context, path string, sub store.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.Events():
			if !ok {
				return
			}
			c.send(pushed{Path: path, Value: snap.Value})
		}
	}
}

func (c *Controller) send(m Msg) {
	select {
	case c.inbox <- m:
	case <-c.ctx.Done():
	}
}
