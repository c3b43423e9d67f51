// Package controller owns the client's state container. A single goroutine
// applies bootstrap results, store pushes and session changes, and
// broadcasts the derived view to every renderer connection.
package controller

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DCabral11/cj-digital-bp/internal/apperr"
	"github.com/DCabral11/cj-digital-bp/internal/gateway"
	"github.com/DCabral11/cj-digital-bp/internal/metrics"
	"github.com/DCabral11/cj-digital-bp/internal/record"
	"github.com/DCabral11/cj-digital-bp/internal/session"
	"github.com/DCabral11/cj-digital-bp/internal/store"
	"github.com/DCabral11/cj-digital-bp/pkg/types"
)

type Msg interface{ isControllerMsg() }

type bootstrapped struct {
	Admin    *record.Admin
	Teams    []record.Team
	Stations []record.Station
	Err      error
}

type pushed struct {
	Path  string
	Value json.RawMessage
}

type Login struct {
	Username string
	Password string
	UA       string
	Reply    chan LoginResult
}

type LoginResult struct {
	View types.View
	Err  error
}

type Logout struct {
	Reply chan types.View
}

type Join struct {
	ClientID string
	Outbox   chan types.View // where this renderer wants to receive views
}

type Leave struct{ ClientID string }

type GetView struct {
	Reply chan types.View
}

// submitTarget resolves the logged-in team and checks the station against
// the catalog before a submission leaves the actor.
type submitTarget struct {
	StationID string
	Reply     chan targetResult
}

type targetResult struct {
	TeamID string
	Err    error
}

type Shutdown struct{}

// GetState is test-only introspection.
type GetState struct {
	Reply chan Introspection
}

type Introspection struct {
	Version    int
	NumClients int
	State      State
}

func (bootstrapped) isControllerMsg() {}
func (pushed) isControllerMsg()       {}
func (Login) isControllerMsg()        {}
func (Logout) isControllerMsg()       {}
func (Join) isControllerMsg()         {}
func (Leave) isControllerMsg()        {}
func (GetView) isControllerMsg()      {}
func (submitTarget) isControllerMsg() {}
func (Shutdown) isControllerMsg()     {}
func (GetState) isControllerMsg()     {}

// State is the canonical client state. Only the actor goroutine touches it.
type State struct {
	Ready       bool
	BootErr     error
	Admin       *record.Admin
	Teams       []record.Team
	Stations    []record.Station
	Submissions []record.Submission
	AccessLogs  []record.AccessLogEntry
	LoggedIn    bool
	Session     session.Session
}

type Controller struct {
	inbox   chan Msg
	state   State
	version int
	clients map[string]chan types.View

	store    store.Store
	gateway  *gateway.Gateway
	sessions *session.Store
	metrics  *metrics.Metrics
	logger   *zap.Logger
	clock    clockwork.Clock
	loc      *time.Location

	bootTimeout time.Duration
	retryDelay  time.Duration
	bootErr     error

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Controller)

// WithBootError starts the controller in a failed bootstrap: nothing is
// fetched and every login reports err.
func WithBootError(err error) Option {
	return func(c *Controller) { c.bootErr = err }
}

func WithBootstrapTimeout(d time.Duration) Option {
	return func(c *Controller) { c.bootTimeout = d }
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *Controller) { c.retryDelay = d }
}

func WithClock(clk clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

func WithLocation(loc *time.Location) Option {
	return func(c *Controller) { c.loc = loc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func New(parent context.Context, st store.Store, gw *gateway.Gateway, sessions *session.Store, logger *zap.Logger, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		inbox:       make(chan Msg, 64),
		clients:     make(map[string]chan types.View),
		store:       st,
		gateway:     gw,
		sessions:    sessions,
		logger:      logger.Named("controller"),
		clock:       clockwork.NewRealClock(),
		loc:         time.Local,
		bootTimeout: 10 * time.Second,
		retryDelay:  2 * time.Second,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.loop()

	if c.bootErr != nil {
		c.inbox <- bootstrapped{Err: c.bootErr}
		return c
	}
	go c.bootstrap(ctx)
	go c.follow(ctx, store.PathSubmissions)
	go c.follow(ctx, store.PathAccessLogs)
	return c
}

// Inbox exposes the actor so tests and transports can send messages.
func (c *Controller) Inbox() chan<- Msg { return c.inbox }

func (c *Controller) loop() {
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case bootstrapped:
				c.onBootstrapped(msg)

			case pushed:
				c.onPushed(msg)

			case Login:
				msg.Reply <- c.onLogin(msg)

			case Logout:
				if c.state.LoggedIn {
					c.state.LoggedIn = false
					c.state.Session = session.Session{}
					if err := c.sessions.Clear(); err != nil {
						c.logger.Warn("clear persisted session", zap.Error(err))
					}
					c.changed()
				}
				msg.Reply <- c.view()

			case Join:
				// Register renderer + send current view immediately
				select {
				case msg.Outbox <- c.view():
					c.clients[msg.ClientID] = msg.Outbox
				default:
					// No room for even the first view.
					close(msg.Outbox)
					c.logger.Info("rejected renderer without buffer", zap.String("client_id", msg.ClientID))
				}
				c.trackClients()

			case Leave:
				if ch, ok := c.clients[msg.ClientID]; ok {
					close(ch)
					delete(c.clients, msg.ClientID)
					c.trackClients()
				}

			case GetView:
				msg.Reply <- c.view()

			case submitTarget:
				msg.Reply <- c.resolveTarget(msg.StationID)

			case GetState:
				// test-only: reflect internal state without data races
				msg.Reply <- Introspection{
					Version:    c.version,
					NumClients: len(c.clients),
					State:      c.state,
				}

			case Shutdown:
				c.shutdown()
				return
			}
		}
	}
}

func (c *Controller) onBootstrapped(msg bootstrapped) {
	if msg.Err != nil {
		c.state.BootErr = msg.Err
		c.logger.Error("bootstrap failed", zap.Error(msg.Err))
		c.changed()
		return
	}

	c.state.Ready = true
	c.state.Admin = msg.Admin
	c.state.Teams = msg.Teams
	c.state.Stations = msg.Stations
	c.logger.Info("catalog loaded",
		zap.Int("teams", len(msg.Teams)),
		zap.Int("stations", len(msg.Stations)))

	if sess, ok := c.sessions.Restore(c.state.Admin, c.state.Teams); ok {
		c.state.LoggedIn = true
		c.state.Session = sess
		c.logger.Info("session restored", zap.String("role", string(sess.Role)), zap.String("team_id", sess.TeamID()))
	}
	c.changed()
}

// onPushed replaces a collection wholesale. An undecodable snapshot keeps
// the previous one.
func (c *Controller) onPushed(msg pushed) {
	var err error
	switch msg.Path {
	case store.PathSubmissions:
		var rows []record.Submission
		if rows, err = record.NormalizeSubmissions(msg.Value); err == nil {
			c.state.Submissions = rows
		}
	case store.PathAccessLogs:
		var rows []record.AccessLogEntry
		if rows, err = record.NormalizeAccessLogs(msg.Value); err == nil {
			c.state.AccessLogs = rows
		}
	default:
		return
	}

	outcome := "applied"
	if err != nil {
		outcome = "undecodable"
		c.logger.Warn("ignoring undecodable push", zap.String("path", msg.Path), zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.Pushes.WithLabelValues(msg.Path, outcome).Inc()
	}
	if err == nil {
		c.changed()
	}
}

func (c *Controller) onLogin(msg Login) LoginResult {
	fail := func(outcome string, err error) LoginResult {
		if c.metrics != nil {
			c.metrics.Logins.WithLabelValues(outcome).Inc()
		}
		return LoginResult{View: c.view(), Err: err}
	}

	if c.state.BootErr != nil {
		return fail("boot_error", apperr.Bootstrap(c.state.BootErr))
	}
	if !c.state.Ready {
		return fail("still_loading", apperr.ErrStillLoading)
	}
	sess, ok := session.Authenticate(c.state.Admin, c.state.Teams, msg.Username, msg.Password)
	if !ok {
		return fail("rejected", apperr.ErrInvalidCredentials)
	}

	c.state.LoggedIn = true
	c.state.Session = sess
	if err := c.sessions.Persist(sess); err != nil {
		c.logger.Warn("persist session", zap.Error(err))
	}
	if sess.Role == session.RoleTeam {
		go c.registerAccess(sess.TeamID(), msg.UA)
	}
	if c.metrics != nil {
		c.metrics.Logins.WithLabelValues(string(sess.Role)).Inc()
	}
	c.logger.Info("logged in", zap.String("role", string(sess.Role)), zap.String("team_id", sess.TeamID()))
	c.changed()
	return LoginResult{View: c.view()}
}

func (c *Controller) registerAccess(teamID, ua string) {
	deviceID, err := c.sessions.DeviceID()
	if err != nil {
		c.logger.Warn("device id unavailable, access not logged", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.bootTimeout)
	defer cancel()
	c.gateway.RegisterAccess(ctx, teamID, deviceID, ua)
}

func (c *Controller) resolveTarget(stationID string) targetResult {
	if !c.state.LoggedIn || c.state.Session.Role != session.RoleTeam {
		return targetResult{Err: apperr.ErrNotLoggedIn}
	}
	for _, st := range c.state.Stations {
		if st.ID == stationID {
			return targetResult{TeamID: c.state.Session.TeamID()}
		}
	}
	return targetResult{Err: apperr.ErrUnknownStation}
}

func (c *Controller) view() types.View {
	return render(c.state, c.version, c.loc)
}

// changed bumps the version and broadcasts the new view.
func (c *Controller) changed() {
	c.version++
	c.broadcast(c.view())
}

func (c *Controller) broadcast(v types.View) {
	for id, ch := range c.clients {
		select {
		case ch <- v:
			//ok
		default:
			// Renderer is slow/full - drop it.
			close(ch)
			delete(c.clients, id)
			c.logger.Info("dropped slow renderer", zap.String("client_id", id))
		}
	}
	c.trackClients()
}

func (c *Controller) trackClients() {
	if c.metrics != nil {
		c.metrics.ViewSubscribers.Set(float64(len(c.clients)))
	}
}

func (c *Controller) shutdown() {
	for id, ch := range c.clients {
		close(ch) // Tell renderer no more views
		delete(c.clients, id)
	}
	c.trackClients()
	c.cancel()
}
