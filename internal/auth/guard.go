package auth

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/chatlink/internal/observer"
)

// Guard supplies credentials for the push channel and interprets close codes.
// Sources are consulted in order; the first non-empty access credential wins.
type Guard struct {
	logger  *slog.Logger
	sources []Store
	now     func() time.Time

	mu      sync.Mutex
	expired observer.List[Outcome]
	warned  string
}

// NewGuard builds a guard over ordered credential sources. The first source
// is the primary store; the rest are legacy fallbacks.
func NewGuard(logger *slog.Logger, sources ...Store) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		logger:  logger.With("component", "auth"),
		sources: sources,
		now:     time.Now,
	}
}

// SetClock overrides the clock used for expiry checks.
func (g *Guard) SetClock(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// Tokens returns the first non-empty credential pair across sources.
func (g *Guard) Tokens() (Tokens, error) {
	for i, src := range g.sources {
		t, err := src.Tokens()
		if err != nil {
			g.logger.Warn("credential source unavailable", "source", i, "error", err)
			continue
		}
		if !t.Empty() {
			return t, nil
		}
	}
	return Tokens{}, ErrNoCredential
}

// Token returns the current access credential, or "" if none is stored.
// An expired JWT is still returned so the server can reject it with 4001.
func (g *Guard) Token() string {
	t, err := g.Tokens()
	if err != nil {
		return ""
	}
	if Expired(t.Access, g.now()) {
		g.mu.Lock()
		first := g.warned != t.Access
		g.warned = t.Access
		g.mu.Unlock()
		if first {
			g.logger.Warn("access credential has expired")
		}
	}
	return t.Access
}

// InterpretClose maps a close code to an outcome.
func (g *Guard) InterpretClose(code int, reason string) Outcome {
	return InterpretClose(code, reason)
}

// Apply performs the side effects of an outcome. A terminal outcome clears
// every credential source and notifies session-expired listeners.
func (g *Guard) Apply(o Outcome) error {
	if !o.Terminal() {
		if o.IsAuth() {
			g.logger.Warn("authentication failure", "kind", o.Kind, "code", o.Code, "reason", o.Reason)
		}
		return nil
	}

	g.logger.Warn("session expired, clearing credentials", "code", o.Code, "reason", o.Reason)
	var errs []error
	for _, src := range g.sources {
		if err := src.Clear(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		g.logger.Error("failed to clear credentials", "error", err)
	}

	g.mu.Lock()
	fns := g.expired.Snapshot()
	g.mu.Unlock()
	if o.Redirect() {
		for _, fn := range fns {
			fn(o)
		}
	}
	return errors.Join(errs...)
}

// OnSessionExpired registers a listener for the login redirect intent.
// The returned func removes it.
func (g *Guard) OnSessionExpired(fn func(Outcome)) func() {
	g.mu.Lock()
	remove := g.expired.Add(fn)
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		remove()
		g.mu.Unlock()
	}
}
