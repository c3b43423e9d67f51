package controller

import (
	"context"
	"errors"

	"github.com/DCabral11/cj-digital-bp/internal/gateway"
	"github.com/DCabral11/cj-digital-bp/internal/store"
	"github.com/DCabral11/cj-digital-bp/pkg/types"
)

// ErrNoBuffer rejects a renderer that could not hold the initial view.
var ErrNoBuffer = errors.New("controller: subscribe buffer must be at least 1")

// call sends m and waits for its reply, giving up when ctx ends or the
// controller shuts down.
func call[T any](ctx context.Context, c *Controller, m Msg, reply <-chan T) (T, error) {
	var zero T
	select {
	case c.inbox <- m:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.ctx.Done():
		return zero, store.ErrClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.ctx.Done():
		return zero, store.ErrClosed
	}
}

func (c *Controller) Login(ctx context.Context, username, password, ua string) (types.View, error) {
	reply := make(chan LoginResult, 1)
	res, err := call(ctx, c, Login{Username: username, Password: password, UA: ua, Reply: reply}, reply)
	if err != nil {
		return types.View{}, err
	}
	return res.View, res.Err
}

func (c *Controller) Logout(ctx context.Context) (types.View, error) {
	reply := make(chan types.View, 1)
	return call(ctx, c, Logout{Reply: reply}, reply)
}

func (c *Controller) View(ctx context.Context) (types.View, error) {
	reply := make(chan types.View, 1)
	return call(ctx, c, GetView{Reply: reply}, reply)
}

// Subscribe registers a renderer. The channel receives the current view at
// once, then every change; it is closed when the renderer falls behind,
// leaves, or the controller stops.
func (c *Controller) Subscribe(ctx context.Context, clientID string, buffer int) (<-chan types.View, func(), error) {
	if buffer < 1 {
		return nil, nil, ErrNoBuffer
	}
	out := make(chan types.View, buffer)
	select {
	case c.inbox <- Join{ClientID: clientID, Outbox: out}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, nil, store.ErrClosed
	}
	leave := func() {
		select {
		case c.inbox <- Leave{ClientID: clientID}:
		case <-c.ctx.Done():
		}
	}
	return out, leave, nil
}

// Submit records a result for the logged-in team. The write runs outside the
// actor and is not cancelled with ctx; its effect on the view arrives through
// the submissions subscription.
func (c *Controller) Submit(ctx context.Context, stationID, pin string, points int) (gateway.Result, error) {
	reply := make(chan targetResult, 1)
	target, err := call(ctx, c, submitTarget{StationID: stationID, Reply: reply}, reply)
	if err != nil {
		return gateway.Result{}, err
	}
	if target.Err != nil {
		return gateway.Result{}, target.Err
	}
	return c.gateway.Submit(context.WithoutCancel(ctx), target.TeamID, stationID, pin, points)
}

// Close stops the actor and every subscription it holds.
func (c *Controller) Close() {
	select {
	case c.inbox <- Shutdown{}:
	case <-c.ctx.Done():
	}
}
