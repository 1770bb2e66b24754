package fallback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/chatlink/internal/auth"
	"github.com/haasonsaas/chatlink/internal/loop"
	"github.com/haasonsaas/chatlink/internal/observer"
	"github.com/haasonsaas/chatlink/internal/transport"
	"github.com/haasonsaas/chatlink/pkg/models"
)

type fakeConn struct {
	sched     loop.Scheduler
	state     transport.State
	listeners observer.List[transport.StateChange]
	retries   int
	failures  []auth.Outcome
}

func (c *fakeConn) OnStateChange(fn func(transport.StateChange)) func() {
	return c.listeners.Add(fn)
}

func (c *fakeConn) State() transport.State { return c.state }

func (c *fakeConn) Retry() {
	c.retries++
	c.emit(transport.StateChange{To: transport.StateConnecting, Reconnecting: true})
}

func (c *fakeConn) FailAuth(o auth.Outcome) {
	c.failures = append(c.failures, o)
	c.emit(transport.StateChange{To: transport.StateAuthError, Err: transport.FromOutcome(o)})
}

func (c *fakeConn) emit(sc transport.StateChange) {
	sc.From = c.state
	c.state = sc.To
	if sc.At.IsZero() {
		sc.At = c.sched.Now()
	}
	c.listeners.Emit(sc)
}

// lose simulates an unexpected close with a retry armed.
func (c *fakeConn) lose(at time.Time) {
	c.emit(transport.StateChange{To: transport.StateDisconnected, WillRetry: true, DisconnectedAt: at})
}

func (c *fakeConn) restore() {
	c.emit(transport.StateChange{To: transport.StateConnected})
}

type fakeSink struct {
	room      models.ID
	delivered []models.ID
	histories [][]models.ID
	errs      []*transport.Error
	log       []string
}

func (s *fakeSink) ActiveRoom() (models.ID, bool) { return s.room, s.room != "" }

func (s *fakeSink) DeliverMessage(msg models.ChatMessage) {
	s.delivered = append(s.delivered, msg.ID)
	s.log = append(s.log, "msg:"+msg.ID.String())
}

func (s *fakeSink) DeliverHistory(msgs []models.ChatMessage) {
	ids := make([]models.ID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	s.histories = append(s.histories, ids)
	s.log = append(s.log, "history")
}

func (s *fakeSink) ReportError(err *transport.Error) { s.errs = append(s.errs, err) }

type fetchCall struct {
	room  models.ID
	limit int
}

type fakeFetcher struct {
	calls []fetchCall
	// respond returns the result for call n (0-based).
	respond func(n int, limit int) ([]models.ChatMessage, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, room models.ID, limit int) ([]models.ChatMessage, error) {
	n := len(f.calls)
	f.calls = append(f.calls, fetchCall{room: room, limit: limit})
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(n, limit)
}

func messages(ids ...string) []models.ChatMessage {
	out := make([]models.ChatMessage, len(ids))
	for i, id := range ids {
		out[i] = models.ChatMessage{ID: models.ID(id), Content: "m" + id}
	}
	return out
}

type fixture struct {
	sched   *loop.Manual
	conn    *fakeConn
	sink    *fakeSink
	fetcher *fakeFetcher
	ctrl    *Controller
	modes   []ModeChange
}

func newManual() *loop.Manual {
	return loop.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

// newFixture builds a controller on manual; sched overrides the scheduler
// handed to the controller when non-nil.
func newFixture(t *testing.T, cfg Config, manual *loop.Manual, sched loop.Scheduler) *fixture {
	t.Helper()
	if manual == nil {
		manual = newManual()
	}
	if sched == nil {
		sched = manual
	}
	f := &fixture{
		sched:   manual,
		conn:    &fakeConn{sched: sched, state: transport.StateConnected},
		sink:    &fakeSink{room: "42"},
		fetcher: &fakeFetcher{},
	}
	f.ctrl = NewController(cfg, Deps{
		Scheduler: sched,
		Conn:      f.conn,
		Sink:      f.sink,
		Fetcher:   f.fetcher,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   NewMetrics(nil),
	})
	f.ctrl.OnModeChange(func(mc ModeChange) { f.modes = append(f.modes, mc) })
	return f
}

func (f *fixture) entered(mode Mode) int {
	n := 0
	for _, mc := range f.modes {
		if mc.To == mode {
			n++
		}
	}
	return n
}

func TestArmedCancelledBeforeThreshold(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.conn.lose(f.sched.Now())
	if f.ctrl.Mode() != ModeArmed {
		t.Fatalf("mode = %s, want armed", f.ctrl.Mode())
	}

	f.sched.Advance(4*time.Minute + 59*time.Second)
	f.conn.restore()
	if f.ctrl.Mode() != ModeIdle {
		t.Fatalf("mode = %s, want idle", f.ctrl.Mode())
	}
	f.sched.Advance(10 * time.Minute)
	if f.entered(ModeDegraded) != 0 || len(f.fetcher.calls) != 0 {
		t.Errorf("degraded=%d fetches=%d", f.entered(ModeDegraded), len(f.fetcher.calls))
	}
	if f.sched.Pending() != 0 {
		t.Errorf("timers pending = %d", f.sched.Pending())
	}
}

func TestDegradeAfterThresholdOnce(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	start := f.sched.Now()
	f.conn.lose(start)

	// Repeated reconnect attempts within one episode.
	for i := 0; i < 10; i++ {
		f.sched.Advance(time.Minute)
		f.conn.emit(transport.StateChange{To: transport.StateConnecting, Reconnecting: true, DisconnectedAt: start})
		f.conn.lose(start)
	}

	if got := f.entered(ModeDegraded); got != 1 {
		t.Fatalf("degraded entered %d times, want 1", got)
	}
	for _, mc := range f.modes {
		if mc.To == ModeDegraded {
			if !mc.At.Equal(start.Add(5 * time.Minute)) {
				t.Errorf("degraded at %v, want %v", mc.At, start.Add(5*time.Minute))
			}
			if mc.Reason != ReasonThreshold {
				t.Errorf("reason = %s", mc.Reason)
			}
		}
	}
	if len(f.fetcher.calls) == 0 || f.fetcher.calls[0].room != "42" || f.fetcher.calls[0].limit != DefaultPollLimit {
		t.Errorf("fetch calls = %+v", f.fetcher.calls)
	}
}

func TestCountdownMeasuredFromEpisodeStart(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.sched.Advance(time.Hour)
	f.conn.emit(transport.StateChange{
		To:             transport.StateConnecting,
		Reconnecting:   true,
		DisconnectedAt: f.sched.Now().Add(-4 * time.Minute),
	})
	f.sched.Advance(59 * time.Second)
	if f.ctrl.Mode() != ModeArmed {
		t.Fatalf("mode = %s", f.ctrl.Mode())
	}
	f.sched.Advance(time.Second)
	if f.ctrl.Mode() != ModeDegraded {
		t.Errorf("mode = %s, want degraded", f.ctrl.Mode())
	}
}

func TestConnectingWithoutRetryDoesNotArm(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.conn.emit(transport.StateChange{To: transport.StateConnecting})
	f.conn.emit(transport.StateChange{To: transport.StateDisconnected})
	if f.ctrl.Mode() != ModeIdle {
		t.Errorf("mode = %s, want idle", f.ctrl.Mode())
	}
}

func TestExhaustionDegradesImmediatelyAndProbes(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.conn.lose(f.sched.Now())
	f.sched.Advance(30 * time.Second)
	f.conn.emit(transport.StateChange{To: transport.StateError, Exhausted: true})

	if f.ctrl.Mode() != ModeDegraded {
		t.Fatalf("mode = %s, want degraded", f.ctrl.Mode())
	}
	if f.modes[len(f.modes)-1].Reason != ReasonExhausted {
		t.Errorf("reason = %s", f.modes[len(f.modes)-1].Reason)
	}

	f.sched.Advance(29 * time.Second)
	if f.conn.retries != 0 {
		t.Fatal("probed early")
	}
	f.sched.Advance(time.Second)
	if f.conn.retries != 1 {
		t.Fatalf("retries = %d, want 1", f.conn.retries)
	}

	// While the manager retries on its own the probe stays disarmed.
	f.sched.Advance(5 * time.Minute)
	if f.conn.retries != 1 {
		t.Errorf("retries = %d while connecting", f.conn.retries)
	}

	f.conn.emit(transport.StateChange{To: transport.StateError, Exhausted: true})
	f.sched.Advance(30 * time.Second)
	if f.conn.retries != 2 {
		t.Errorf("retries = %d after second exhaustion", f.conn.retries)
	}
	if got := f.entered(ModeDegraded); got != 1 {
		t.Errorf("degraded entered %d times", got)
	}
}

func TestPollingDedupSameIDs(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.fetcher.respond = func(int, int) ([]models.ChatMessage, error) {
		return messages("1", "2", "3"), nil
	}
	f.conn.emit(transport.StateChange{To: transport.StateError, Exhausted: true})
	f.sched.Advance(11 * DefaultPollInterval)

	if len(f.fetcher.calls) != 12 {
		t.Fatalf("ticks = %d, want 12", len(f.fetcher.calls))
	}
	if len(f.sink.delivered) != 3 {
		t.Errorf("delivered = %v, want 3 ids", f.sink.delivered)
	}
}

func TestPollingOverlappingBatches(t *testing.T) {
	batches := [][]models.ChatMessage{
		messages("1", "2", "3"),
		messages("2", "3", "4"),
		messages("3", "4", "5"),
		messages("1", "5"),
	}
	f := newFixture(t, Config{PollInterval: 2 * time.Second}, nil, nil)
	f.fetcher.respond = func(n, _ int) ([]models.ChatMessage, error) {
		if n < len(batches) {
			return batches[n], nil
		}
		return nil, nil
	}
	f.conn.emit(transport.StateChange{To: transport.StateError, Exhausted: true})
	f.sched.Advance(10 * time.Second)

	got := make([]string, len(f.sink.delivered))
	for i, id := range f.sink.delivered {
		got[i] = id.String()
	}
	if strings.Join(got, ",") != "1,2,3,4,5" {
		t.Errorf("delivered = %v", got)
	}
}

func TestPollingSkipsIDsSeenOnPush(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	var pushed []models.ID
	f.ctrl.Admit(models.ChatMessage{ID: "1"}, func(m models.ChatMessage) { pushed = append(pushed, m.ID) })
	if len(pushed) != 1 {
		t.Fatal("idle controller held a push message")
	}

	f.fetcher.respond = func(int, int) ([]models.ChatMessage, error) { return messages("1", "2"), nil }
	f.conn.emit(transport.StateChange{To: transport.StateError, Exhausted: true})
	if len(f.sink.delivered) != 1 || f.sink.delivered[0] != "2" {
		t.Errorf("delivered = %v, want [2]", f.sink.delivered)
	}
}

func TestPollingTransientErrorsContinue(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.fetcher.respond = func(n, _ int) ([]models.ChatMessage, error) {
		if n < 2 {
			return nil, errors.New("502 bad gateway")
		}
		return messages("9"), nil
	}
	f.conn.emit(transport.StateChange{To: transport.StateError, Exhausted: true})
	f.sched.Advance(2 * DefaultPollInterval)

	if len(f.fetcher.calls) != 3 || len(f.sink.delivered) != 1 {
		t.Errorf("calls=%d delivered=%v", len(f.fetcher.calls), f.sink.delivered)
	}
	if f.ctrl.Mode() != ModeDegraded {
		t.Errorf("mode = %s", f.ctrl.Mode())
	}
}

func TestPollingUnauthorized(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.fetcher.respond = func(int, int) ([]models.ChatMessage, error) { return nil, ErrUnauthorized }
	f.conn.emit(transport.StateChange{To: transport.StateError, Exhausted: true})

	if len(f.conn.failures) != 1 || !f.conn.failures[0].Terminal() || f.conn.failures[0].Code != auth.CloseSessionExpired {
		t.Fatalf("failures = %+v", f.conn.failures)
	}
	if f.ctrl.Mode() != ModeIdle {
		t.Errorf("mode = %s, want idle", f.ctrl.Mode())
	}
	f.sched.Advance(time.Minute)
	if len(f.fetcher.calls) != 1 {
		t.Errorf("polling continued after 401: %d calls", len(f.fetcher.calls))
	}
	if f.sched.Pending() != 0 {
		t.Errorf("timers pending = %d", f.sched.Pending())
	}
}

func TestRecoveryResyncOnce(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.fetcher.respond = func(_ int, limit int) ([]models.ChatMessage, error) {
		if limit == DefaultResyncLimit {
			return messages("1", "2", "3", "4"), nil
		}
		return messages("1", "2"), nil
	}
	f.conn.emit(transport.StateChange{To: transport.StateError, Exhausted: true})
	f.sched.Advance(DefaultPollInterval)
	f.conn.restore()

	resyncs := 0
	for _, c := range f.fetcher.calls {
		if c.limit == DefaultResyncLimit {
			resyncs++
		}
	}
	if resyncs != 1 {
		t.Errorf("resync fetches = %d, want 1", resyncs)
	}
	if len(f.sink.histories) != 1 || len(f.sink.histories[0]) != 4 {
		t.Errorf("histories = %v", f.sink.histories)
	}
	if f.ctrl.Mode() != ModeIdle {
		t.Errorf("mode = %s", f.ctrl.Mode())
	}
	calls := len(f.fetcher.calls)
	f.sched.Advance(time.Minute)
	if len(f.fetcher.calls) != calls {
		t.Error("polling continued after recovery")
	}

	want := []Mode{ModeDegraded, ModeRecovering, ModeIdle}
	got := f.modes[len(f.modes)-3:]
	for i := range want {
		if got[i].To != want[i] {
			t.Errorf("mode[%d] = %s, want %s", i, got[i].To, want[i])
		}
	}
}

// deferredGo holds off-loop work until the test runs it.
type deferredGo struct {
	*loop.Manual
	jobs []func()
}

func (d *deferredGo) Go(fn func()) { d.jobs = append(d.jobs, fn) }

func (d *deferredGo) run() {
	jobs := d.jobs
	d.jobs = nil
	for _, fn := range jobs {
		fn()
	}
}

func TestRecoveryHoldsPushUntilSnapshot(t *testing.T) {
	sched := &deferredGo{Manual: newManual()}
	f := newFixture(t, Config{}, sched.Manual, sched)
	f.fetcher.respond = func(_ int, limit int) ([]models.ChatMessage, error) {
		if limit == DefaultResyncLimit {
			return messages("1", "2", "3"), nil
		}
		return nil, nil
	}
	f.conn.emit(transport.StateChange{To: transport.StateError, Exhausted: true})
	sched.run()
	f.conn.restore()
	if f.ctrl.Mode() != ModeRecovering {
		t.Fatalf("mode = %s, want recovering", f.ctrl.Mode())
	}

	deliver := func(m models.ChatMessage) { f.sink.DeliverMessage(m) }
	f.ctrl.Admit(models.ChatMessage{ID: "4"}, deliver)
	f.ctrl.Admit(models.ChatMessage{ID: "2"}, deliver)
	if len(f.sink.log) != 0 {
		t.Fatalf("delivered before snapshot: %v", f.sink.log)
	}

	sched.run()
	if got := strings.Join(f.sink.log, ","); got != "history,msg:4" {
		t.Errorf("delivery order = %s, want history,msg:4", got)
	}
	if f.ctrl.Mode() != ModeIdle {
		t.Errorf("mode = %s", f.ctrl.Mode())
	}
}

func TestRecoveryFailureReportsAndReturnsIdle(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.fetcher.respond = func(_ int, limit int) ([]models.ChatMessage, error) {
		if limit == DefaultResyncLimit {
			return nil, errors.New("timeout")
		}
		return nil, nil
	}
	f.conn.emit(transport.StateChange{To: transport.StateError, Exhausted: true})
	f.conn.restore()

	if f.ctrl.Mode() != ModeIdle {
		t.Errorf("mode = %s", f.ctrl.Mode())
	}
	if len(f.sink.errs) != 1 || f.sink.errs[0].Code != transport.ErrCodeConnection {
		t.Errorf("errors = %v", f.sink.errs)
	}
	if f.modes[len(f.modes)-1].Reason != ReasonResyncFailed {
		t.Errorf("reason = %s", f.modes[len(f.modes)-1].Reason)
	}
}

func TestPushLostDuringRecoveryResumesPolling(t *testing.T) {
	sched := &deferredGo{Manual: newManual()}
	f := newFixture(t, Config{}, sched.Manual, sched)
	f.conn.emit(transport.StateChange{To: transport.StateError, Exhausted: true})
	sched.run()
	f.conn.restore()
	f.conn.lose(f.sched.Now())

	if f.ctrl.Mode() != ModeDegraded {
		t.Fatalf("mode = %s, want degraded", f.ctrl.Mode())
	}
	// The stale resync result is discarded.
	sched.run()
	if len(f.sink.histories) != 0 {
		t.Errorf("stale resync delivered: %v", f.sink.histories)
	}
}

func TestPushLostDuringRecoveryDeliversHeld(t *testing.T) {
	sched := &deferredGo{Manual: newManual()}
	f := newFixture(t, Config{}, sched.Manual, sched)
	f.conn.emit(transport.StateChange{To: transport.StateError, Exhausted: true})
	sched.run()
	f.conn.restore()

	deliver := func(m models.ChatMessage) { f.sink.DeliverMessage(m) }
	f.ctrl.Admit(models.ChatMessage{ID: "5"}, deliver)
	f.ctrl.Admit(models.ChatMessage{ID: "5"}, deliver)
	f.ctrl.Admit(models.ChatMessage{ID: "6"}, deliver)
	if len(f.sink.delivered) != 0 {
		t.Fatalf("delivered before snapshot: %v", f.sink.delivered)
	}

	f.conn.lose(f.sched.Now())
	if f.ctrl.Mode() != ModeDegraded {
		t.Fatalf("mode = %s, want degraded", f.ctrl.Mode())
	}
	if got := strings.Join(f.sink.log, ","); got != "msg:5,msg:6" {
		t.Errorf("delivered = %s, want msg:5,msg:6", got)
	}
	f.ctrl.Admit(models.ChatMessage{ID: "6"}, deliver)
	if len(f.sink.delivered) != 2 {
		t.Errorf("duplicate delivered after push loss: %v", f.sink.delivered)
	}
}

func TestIntentionalDisconnectResets(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.conn.emit(transport.StateChange{To: transport.StateError, Exhausted: true})
	f.conn.emit(transport.StateChange{To: transport.StateDisconnected, Intentional: true})

	if f.ctrl.Mode() != ModeIdle {
		t.Errorf("mode = %s", f.ctrl.Mode())
	}
	if f.sched.Pending() != 0 {
		t.Errorf("timers pending = %d", f.sched.Pending())
	}
}

func TestStopClearsTimers(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.conn.lose(f.sched.Now())
	f.ctrl.Stop()
	if f.sched.Pending() != 0 {
		t.Errorf("timers pending = %d", f.sched.Pending())
	}
	f.conn.lose(f.sched.Now())
	if f.ctrl.Mode() != ModeIdle {
		t.Error("stopped controller still observes the connection")
	}
}

func TestClampPollInterval(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, MinPollInterval},
		{500 * time.Millisecond, MinPollInterval},
		{time.Second, time.Second},
		{3 * time.Second, 3 * time.Second},
		{time.Minute, time.Minute},
		{2 * time.Minute, MaxPollInterval},
	}
	for _, tt := range tests {
		if got := ClampPollInterval(tt.in); got != tt.want {
			t.Errorf("ClampPollInterval(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
	cfg := Config{PollInterval: 10 * time.Millisecond}.normalized()
	if cfg.PollInterval != MinPollInterval {
		t.Errorf("normalized interval = %v", cfg.PollInterval)
	}
}
