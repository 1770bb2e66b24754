// Package client composes the credential guard, push connection, chat
// session and offline fallback into one goroutine-safe facade. Every
// component runs on a single event loop; the facade posts calls onto it.
package client

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/chatlink/internal/auth"
	"github.com/haasonsaas/chatlink/internal/backoff"
	"github.com/haasonsaas/chatlink/internal/chat"
	"github.com/haasonsaas/chatlink/internal/config"
	"github.com/haasonsaas/chatlink/internal/fallback"
	"github.com/haasonsaas/chatlink/internal/loop"
	"github.com/haasonsaas/chatlink/internal/transport"
	"github.com/haasonsaas/chatlink/pkg/models"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("client closed")

// Options configure a Client. Only Config is required; the remaining fields
// override the production defaults.
type Options struct {
	Config *config.Config
	Logger *slog.Logger
	// Registerer receives transport and fallback metrics.
	Registerer prometheus.Registerer
	Tracer     trace.Tracer

	// Scheduler replaces the internal event loop. When set, Run only waits
	// for ctx.
	Scheduler loop.Scheduler
	Dialer    transport.Dialer
	Fetcher   fallback.Fetcher
	// Store replaces the configured primary credential store.
	Store auth.Store
}

// Status is a point-in-time view of the client.
type Status struct {
	Connection transport.Snapshot
	Mode       fallback.Mode
	Scope      string
	Active     bool
	Typing     []models.TypingUser
}

// Client is the chat transport facade. Its methods may be called from any
// goroutine. Handlers passed to it run on the event loop and must not block.
type Client struct {
	cfg    *config.Config
	logger *slog.Logger

	loop  *loop.Loop
	sched loop.Scheduler

	guard    *auth.Guard
	creds    *Credentials
	manager  *transport.Manager
	session  *chat.Session
	fallback *fallback.Controller

	closed bool
}

// New wires a client from opts. Nothing connects until ConnectToGeneral or
// ConnectToRoom is called, and nothing is processed until Run is started.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("client: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{cfg: cfg, logger: logger, sched: opts.Scheduler}
	if c.sched == nil {
		c.loop = loop.New(logger)
		c.sched = c.loop
	}

	creds, err := openCredentials(cfg.Credentials, opts.Store, logger)
	if err != nil {
		return nil, err
	}
	c.creds = creds
	c.guard = auth.NewGuard(logger, creds.Sources()...)

	dialer := opts.Dialer
	if dialer == nil {
		dialer = transport.NewWebSocketDialer(cfg.Server.DialTimeout, logger)
	}
	c.manager = transport.NewManager(transportConfig(cfg), transport.Deps{
		Scheduler:   c.sched,
		Dialer:      dialer,
		Credentials: c.guard,
		Logger:      logger,
		Metrics:     transport.NewMetrics(opts.Registerer),
	})

	c.session = chat.NewSession(chat.Config{
		BaseURL:        cfg.Server.WSURL,
		ConnectTimeout: cfg.Session.ConnectTimeout,
		TypingTimeout:  cfg.Session.TypingTimeout,
	}, chat.Deps{Scheduler: c.sched, Conn: c.manager, Logger: logger})

	fetcher := opts.Fetcher
	if fetcher == nil {
		var ropts []fallback.RESTOption
		if opts.Tracer != nil {
			ropts = append(ropts, fallback.WithTracer(opts.Tracer))
		}
		fetcher = fallback.NewRESTFetcher(cfg.Server.APIURL, c.guard, ropts...)
	}
	c.fallback = fallback.NewController(fallbackConfig(cfg), fallback.Deps{
		Scheduler: c.sched,
		Conn:      c.manager,
		Sink:      c.session,
		Fetcher:   fetcher,
		Logger:    logger,
		Metrics:   fallback.NewMetrics(opts.Registerer),
	})
	c.session.SetGate(c.fallback)

	return c, nil
}

func transportConfig(cfg *config.Config) transport.Config {
	return transport.Config{
		Backoff: backoff.Policy{
			Base:   cfg.Reconnect.Base,
			Max:    cfg.Reconnect.Max,
			Factor: cfg.Reconnect.Factor,
			Jitter: cfg.Reconnect.Jitter,
		},
		MaxAttempts:       cfg.Reconnect.MaxAttempts,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		QueueSize:         cfg.Queue.Size,
		DialTimeout:       cfg.Server.DialTimeout,
	}
}

func fallbackConfig(cfg *config.Config) fallback.Config {
	return fallback.Config{
		Threshold:     cfg.Fallback.Threshold,
		PollInterval:  cfg.Fallback.PollInterval,
		PollLimit:     cfg.Fallback.PollLimit,
		ResyncLimit:   cfg.Fallback.ResyncLimit,
		ProbeInterval: cfg.Fallback.ProbeInterval,
		FetchTimeout:  cfg.Fallback.FetchTimeout,
	}
}

// Run processes events until ctx is cancelled. It also watches the
// credential file when configured to.
func (c *Client) Run(ctx context.Context) error {
	if c.creds.file != nil && c.cfg.Credentials.Watch {
		go func() {
			if err := c.creds.file.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn("credential watch stopped", "error", err)
			}
		}()
	}
	if c.loop == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.loop.Run(ctx)
}

// call runs fn on the loop.
func (c *Client) call(ctx context.Context, fn func() error) error {
	var err error
	if cerr := loop.Call(ctx, c.sched, func() {
		if c.closed {
			err = ErrClosed
			return
		}
		err = fn()
	}); cerr != nil {
		return cerr
	}
	return err
}

// ConnectToGeneral attaches to the general channel and waits for it.
func (c *Client) ConnectToGeneral(ctx context.Context, h chat.Handlers) error {
	return c.connect(ctx, func() *chat.Pending { return c.session.ConnectToGeneral(h) })
}

// ConnectToRoom attaches to room id and waits until connected, rejected,
// superseded or timed out.
func (c *Client) ConnectToRoom(ctx context.Context, id models.ID, h chat.Handlers) error {
	return c.connect(ctx, func() *chat.Pending { return c.session.ConnectToRoom(id, h) })
}

func (c *Client) connect(ctx context.Context, start func() *chat.Pending) error {
	var p *chat.Pending
	if err := c.call(ctx, func() error {
		p = start()
		return nil
	}); err != nil {
		return err
	}
	_, err := p.Wait(ctx)
	return err
}

// SendMessage sends content to scope. The message is queued while the
// connection is down.
func (c *Client) SendMessage(ctx context.Context, scope chat.Scope, content string) error {
	return c.call(ctx, func() error { return c.session.SendMessage(scope, content) })
}

// SendTyping announces typing in scope and arms the local stop timer.
func (c *Client) SendTyping(ctx context.Context, scope chat.Scope) error {
	return c.call(ctx, func() error {
		if err := c.session.SendTyping(scope); err != nil {
			return err
		}
		if scope.IsRoom() {
			c.session.StartTypingTimer(scope.RoomID)
		}
		return nil
	})
}

// MarkRead acknowledges messageID in the active scope.
func (c *Client) MarkRead(ctx context.Context, messageID models.ID) error {
	return c.call(ctx, func() error { return c.session.MarkRead(messageID) })
}

// DisconnectFromRoom detaches from room id if it is the active scope.
func (c *Client) DisconnectFromRoom(ctx context.Context, id models.ID) error {
	return c.call(ctx, func() error {
		c.session.DisconnectFromRoom(id)
		return nil
	})
}

// Disconnect detaches from the active scope and closes the connection.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.call(ctx, func() error {
		c.session.Disconnect()
		return nil
	})
}

// Status returns a snapshot of connection and fallback state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.call(ctx, func() error {
		scope, active := c.session.Scope()
		st = Status{
			Connection: c.manager.Snapshot(),
			Mode:       c.fallback.Mode(),
			Scope:      scope.String(),
			Active:     active,
			Typing:     c.session.TypingUsers(),
		}
		return nil
	})
	return st, err
}

// OnModeChange registers a fallback mode listener. fn runs on the loop.
func (c *Client) OnModeChange(ctx context.Context, fn func(fallback.ModeChange)) (func(), error) {
	var remove func()
	err := c.call(ctx, func() error {
		remove = c.fallback.OnModeChange(fn)
		return nil
	})
	if err != nil {
		return func() {}, err
	}
	return func() { c.sched.Post(remove) }, nil
}

// OnStateChange registers a connectivity listener. fn runs on the loop.
func (c *Client) OnStateChange(ctx context.Context, fn func(transport.StateChange)) (func(), error) {
	var remove func()
	err := c.call(ctx, func() error {
		remove = c.manager.OnStateChange(fn)
		return nil
	})
	if err != nil {
		return func() {}, err
	}
	return func() { c.sched.Post(remove) }, nil
}

// OnSessionExpired registers a listener for terminal credential rejection.
func (c *Client) OnSessionExpired(fn func(auth.Outcome)) func() {
	return c.guard.OnSessionExpired(fn)
}

// Guard exposes the credential guard.
func (c *Client) Guard() *auth.Guard { return c.guard }

// Close disconnects, stops the fallback controller and releases the
// credential stores. Later calls return ErrClosed.
func (c *Client) Close(ctx context.Context) error {
	err := c.call(ctx, func() error {
		c.fallback.Stop()
		c.session.Close()
		c.manager.Disconnect()
		c.closed = true
		return nil
	})
	if err != nil {
		return err
	}
	return c.creds.Close()
}
