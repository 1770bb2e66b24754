// Package fallback keeps chat flowing while the push channel is down. After
// a bounded offline window it polls the REST API, deduplicating what it
// forwards, and resynchronizes once push connectivity returns.
package fallback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haasonsaas/chatlink/internal/auth"
	"github.com/haasonsaas/chatlink/internal/loop"
	"github.com/haasonsaas/chatlink/internal/observer"
	"github.com/haasonsaas/chatlink/internal/transport"
	"github.com/haasonsaas/chatlink/pkg/models"
)

// Mode is the controller's degradation mode.
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeArmed      Mode = "armed"
	ModeDegraded   Mode = "degraded"
	ModeRecovering Mode = "recovering"
)

var allModes = []Mode{ModeIdle, ModeArmed, ModeDegraded, ModeRecovering}

// Reasons attached to mode changes.
const (
	ReasonReconnecting = "reconnecting"
	ReasonRestored     = "restored"
	ReasonThreshold    = "offline_threshold"
	ReasonExhausted    = "attempts_exhausted"
	ReasonResynced     = "resynced"
	ReasonResyncFailed = "resync_failed"
	ReasonPushLost     = "push_lost"
	ReasonReset        = "reset"
)

const (
	DefaultThreshold     = 5 * time.Minute
	DefaultPollInterval  = 3 * time.Second
	MinPollInterval      = time.Second
	MaxPollInterval      = 60 * time.Second
	DefaultPollLimit     = 50
	DefaultResyncLimit   = 200
	DefaultProbeInterval = 30 * time.Second
	DefaultFetchTimeout  = 10 * time.Second
)

// ModeChange describes one mode transition.
type ModeChange struct {
	From   Mode
	To     Mode
	Reason string
	At     time.Time
}

// Config tunes the controller.
type Config struct {
	Threshold     time.Duration
	PollInterval  time.Duration
	PollLimit     int
	ResyncLimit   int
	ProbeInterval time.Duration
	FetchTimeout  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:     DefaultThreshold,
		PollInterval:  DefaultPollInterval,
		PollLimit:     DefaultPollLimit,
		ResyncLimit:   DefaultResyncLimit,
		ProbeInterval: DefaultProbeInterval,
		FetchTimeout:  DefaultFetchTimeout,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	c.PollInterval = ClampPollInterval(c.PollInterval)
	if c.PollLimit <= 0 {
		c.PollLimit = d.PollLimit
	}
	if c.ResyncLimit <= 0 {
		c.ResyncLimit = d.ResyncLimit
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = d.ProbeInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	return c
}

// ClampPollInterval bounds d to [MinPollInterval, MaxPollInterval].
func ClampPollInterval(d time.Duration) time.Duration {
	switch {
	case d < MinPollInterval:
		return MinPollInterval
	case d > MaxPollInterval:
		return MaxPollInterval
	default:
		return d
	}
}

// Conn is the push channel as seen by the controller.
type Conn interface {
	OnStateChange(fn func(transport.StateChange)) func()
	State() transport.State
	Retry()
	FailAuth(o auth.Outcome)
}

// Sink receives polled messages and snapshots. The chat session implements it.
type Sink interface {
	ActiveRoom() (models.ID, bool)
	DeliverMessage(msg models.ChatMessage)
	DeliverHistory(msgs []models.ChatMessage)
	ReportError(err *transport.Error)
}

// Deps are the controller's collaborators.
type Deps struct {
	Scheduler loop.Scheduler
	Conn      Conn
	Sink      Sink
	Fetcher   Fetcher
	Logger    *slog.Logger
	Metrics   *Metrics
}

type heldMessage struct {
	msg     models.ChatMessage
	deliver func(models.ChatMessage)
}

// Controller switches between push delivery and REST polling. All methods
// must run on the loop.
type Controller struct {
	cfg     Config
	sched   loop.Scheduler
	conn    Conn
	sink    Sink
	fetcher Fetcher
	logger  *slog.Logger
	metrics *Metrics

	mode    Mode
	cache   *Cache
	recent  *recentIDs
	held    []heldMessage
	pollGen uint64

	countdown loop.Timer
	pollTimer loop.Timer
	probe     loop.Timer

	listeners observer.List[ModeChange]
	unhook    func()
}

// NewController creates an idle controller observing conn.
func NewController(cfg Config, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalized()
	c := &Controller{
		cfg:     cfg,
		sched:   deps.Scheduler,
		conn:    deps.Conn,
		sink:    deps.Sink,
		fetcher: deps.Fetcher,
		logger:  logger.With("component", "fallback"),
		metrics: deps.Metrics,
		mode:    ModeIdle,
		cache:   NewCache(DefaultCacheSize),
		recent:  newRecentIDs(cfg.ResyncLimit),
	}
	c.metrics.setMode(c.mode)
	c.unhook = c.conn.OnStateChange(c.onStateChange)
	return c
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode { return c.mode }

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// OnModeChange registers a mode listener; the returned func removes it.
func (c *Controller) OnModeChange(fn func(ModeChange)) func() {
	return c.listeners.Add(fn)
}

// Admit gates a pushed message. Messages arriving while the controller is
// resynchronizing are held until the snapshot has been delivered.
func (c *Controller) Admit(msg models.ChatMessage, deliver func(models.ChatMessage)) {
	c.recent.add(msg.ID)
	switch c.mode {
	case ModeRecovering:
		c.held = append(c.held, heldMessage{msg: msg, deliver: deliver})
	case ModeDegraded:
		if c.cache.Add(msg.ID) {
			deliver(msg)
		}
	default:
		deliver(msg)
	}
}

// Stop cancels every timer and detaches from the connection.
func (c *Controller) Stop() {
	c.reset(ReasonReset)
	if c.unhook != nil {
		c.unhook()
		c.unhook = nil
	}
}

func (c *Controller) onStateChange(sc transport.StateChange) {
	switch sc.To {
	case transport.StateConnected:
		c.stopProbe()
		switch c.mode {
		case ModeArmed:
			c.stopCountdown()
			c.setMode(ModeIdle, ReasonRestored)
		case ModeDegraded:
			c.startRecovery()
		}
	case transport.StateConnecting:
		if sc.Reconnecting {
			c.arm(sc.DisconnectedAt)
		}
	case transport.StateDisconnected:
		switch {
		case sc.Intentional:
			c.reset(ReasonReset)
		case c.mode == ModeRecovering:
			c.logger.Warn("push channel lost during resync, resuming polling")
			c.releaseHeld()
			c.setMode(ModeDegraded, ReasonPushLost)
			c.startPolling()
		case sc.WillRetry:
			c.arm(sc.DisconnectedAt)
		}
	case transport.StateError:
		if !sc.Exhausted {
			return
		}
		if c.mode == ModeIdle || c.mode == ModeArmed {
			c.degrade(ReasonExhausted)
		}
		if c.mode == ModeDegraded {
			c.armProbe()
		}
	case transport.StateAuthError:
		c.reset(ReasonReset)
	}
}

// arm starts the offline countdown for the episode that began at start.
func (c *Controller) arm(start time.Time) {
	if c.mode != ModeIdle {
		return
	}
	now := c.sched.Now()
	if start.IsZero() {
		start = now
	}
	remaining := c.cfg.Threshold - now.Sub(start)
	c.setMode(ModeArmed, ReasonReconnecting)
	if remaining <= 0 {
		c.degrade(ReasonThreshold)
		return
	}
	c.logger.Debug("offline countdown armed", "remaining", remaining)
	c.countdown = c.sched.AfterFunc(remaining, func() {
		c.countdown = nil
		if c.mode == ModeArmed {
			c.degrade(ReasonThreshold)
		}
	})
}

func (c *Controller) degrade(reason string) {
	if c.mode == ModeDegraded || c.mode == ModeRecovering {
		return
	}
	c.stopCountdown()
	c.cache.Reset(c.recent.list()...)
	c.logger.Warn("push channel unavailable, polling for messages", "reason", reason, "interval", c.cfg.PollInterval)
	c.setMode(ModeDegraded, reason)
	c.startPolling()
}

func (c *Controller) startPolling() {
	c.stopPolling()
	c.pollGen++
	c.tick(c.pollGen)
}

func (c *Controller) tick(gen uint64) {
	if gen != c.pollGen || c.mode != ModeDegraded {
		return
	}
	room, ok := c.sink.ActiveRoom()
	if !ok {
		c.logger.Debug("no active room to poll")
		c.scheduleTick(gen)
		return
	}
	limit := c.cfg.PollLimit
	c.fetch(room, limit, func(msgs []models.ChatMessage, err error) {
		c.pollDone(gen, msgs, err)
	})
}

func (c *Controller) pollDone(gen uint64, msgs []models.ChatMessage, err error) {
	if gen != c.pollGen || c.mode != ModeDegraded {
		return
	}
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.metrics.poll("unauthorized")
			c.unauthorized()
			return
		}
		c.metrics.poll("error")
		c.logger.Warn("poll failed", "error", err)
		c.scheduleTick(gen)
		return
	}
	c.metrics.poll("ok")
	delivered := 0
	for _, msg := range msgs {
		if c.cache.Add(msg.ID) {
			c.sink.DeliverMessage(msg)
			delivered++
		}
	}
	c.metrics.delivered(delivered)
	if delivered > 0 {
		c.logger.Debug("delivered polled messages", "count", delivered)
	}
	c.scheduleTick(gen)
}

func (c *Controller) scheduleTick(gen uint64) {
	if gen != c.pollGen || c.mode != ModeDegraded {
		return
	}
	c.pollTimer = c.sched.AfterFunc(c.cfg.PollInterval, func() {
		c.pollTimer = nil
		c.tick(gen)
	})
}

func (c *Controller) startRecovery() {
	c.stopPolling()
	c.pollGen++
	gen := c.pollGen
	c.held = nil
	c.setMode(ModeRecovering, ReasonRestored)

	room, ok := c.sink.ActiveRoom()
	if !ok {
		c.finishRecovery(nil)
		return
	}
	c.fetch(room, c.cfg.ResyncLimit, func(msgs []models.ChatMessage, err error) {
		if gen != c.pollGen || c.mode != ModeRecovering {
			return
		}
		if err != nil {
			c.metrics.resync("error")
			if errors.Is(err, ErrUnauthorized) {
				c.unauthorized()
				return
			}
			c.logger.Warn("resync failed", "error", err)
			c.sink.ReportError(transport.ErrConnection("failed to resynchronize messages", err).
				WithContext("room", room.String()))
			c.releaseHeld()
			c.setMode(ModeIdle, ReasonResyncFailed)
			return
		}
		c.metrics.resync("ok")
		c.finishRecovery(msgs)
	})
}

func (c *Controller) finishRecovery(msgs []models.ChatMessage) {
	ids := make([]models.ID, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	c.cache.Reset(ids...)
	if msgs != nil {
		c.sink.DeliverHistory(msgs)
	}
	c.releaseHeld()
	c.logger.Info("push channel restored, resynchronized", "messages", len(msgs))
	c.setMode(ModeIdle, ReasonResynced)
}

func (c *Controller) releaseHeld() {
	held := c.held
	c.held = nil
	for _, h := range held {
		if c.cache.Add(h.msg.ID) {
			h.deliver(h.msg)
		}
	}
}

func (c *Controller) unauthorized() {
	c.logger.Warn("credential rejected by API")
	c.stopPolling()
	c.pollGen++
	c.conn.FailAuth(auth.SessionExpired("api returned 401"))
	// FailAuth moves the connection to auth_error, which resets the mode.
	if c.mode != ModeIdle {
		c.reset(ReasonReset)
	}
}

// fetch runs the fetcher off the loop and posts the result back.
func (c *Controller) fetch(room models.ID, limit int, done func([]models.ChatMessage, error)) {
	timeout := c.cfg.FetchTimeout
	c.sched.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		msgs, err := c.fetcher.Fetch(ctx, room, limit)
		cancel()
		c.sched.Post(func() { done(msgs, err) })
	})
}

func (c *Controller) armProbe() {
	if c.probe != nil {
		return
	}
	c.probe = c.sched.AfterFunc(c.cfg.ProbeInterval, func() {
		c.probe = nil
		if c.mode == ModeDegraded && c.conn.State() == transport.StateError {
			c.logger.Info("probing push channel")
			c.conn.Retry()
		}
	})
}

func (c *Controller) reset(reason string) {
	c.stopCountdown()
	c.stopPolling()
	c.stopProbe()
	c.pollGen++
	c.held = nil
	if c.mode != ModeIdle {
		c.setMode(ModeIdle, reason)
	}
}

func (c *Controller) stopCountdown() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
}

func (c *Controller) stopPolling() {
	if c.pollTimer != nil {
		c.pollTimer.Stop()
		c.pollTimer = nil
	}
}

func (c *Controller) stopProbe() {
	if c.probe != nil {
		c.probe.Stop()
		c.probe = nil
	}
}

func (c *Controller) setMode(to Mode, reason string) {
	from := c.mode
	if from == to {
		return
	}
	c.mode = to
	c.metrics.setMode(to)
	c.logger.Info("fallback mode changed", "from", from, "to", to, "reason", reason)
	c.listeners.Emit(ModeChange{From: from, To: to, Reason: reason, At: c.sched.Now()})
}
