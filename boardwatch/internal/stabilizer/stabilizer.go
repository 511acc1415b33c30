// Package stabilizer turns noisy "something may have changed" notifications
// into confirmed, de-duplicated position emissions.
//
// Each detection cycle samples the live source after a settle delay, samples
// it again after a shorter confirm delay, and emits only when both samples
// agree on placement and side to move and differ from the last emission.
// Disagreeing samples are retried until an overall timeout, after which the
// cycle is dropped silently. At most one cycle is in flight; notifications
// arriving meanwhile collapse into a single follow-up cycle.
//
// All state is owned by the scheduler goroutine. Notify and Publish may be
// called from anywhere.
package stabilizer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/boardwatch/boardwatch/internal/reader"
	"github.com/hazyhaar/boardwatch/boardwatch/internal/sched"
	"github.com/hazyhaar/boardwatch/boardwatch/internal/sink"
	"github.com/hazyhaar/boardwatch/idgen"
	"github.com/hazyhaar/boardwatch/position"
)

// Default timings.
const (
	DefaultSettleDelay  = 220 * time.Millisecond
	DefaultConfirmDelay = 120 * time.Millisecond
	DefaultTimeout      = 1500 * time.Millisecond
)

// Phase is the state of the current detection cycle.
type Phase int32

const (
	Idle Phase = iota
	Sampling
	ConfirmWaiting
	Deciding
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Sampling:
		return "sampling"
	case ConfirmWaiting:
		return "confirm_waiting"
	case Deciding:
		return "deciding"
	}
	return "unknown"
}

// Context is the emission state consulted by the de-duplication check. It is
// written only when a position is emitted (or primed at startup).
type Context struct {
	LastPlacement string `json:"last_placement"`
	LastActive    string `json:"last_active"`
}

// isNew reports whether p differs from the last emitted position.
func (c Context) isNew(p position.Position) bool {
	return p.Placement != c.LastPlacement || p.Active != c.LastActive
}

// Config for creating a Stabilizer.
type Config struct {
	Read      reader.ReadFunc
	Sink      sink.Sink
	Scheduler sched.Scheduler
	PageID    string

	SettleDelay  time.Duration
	ConfirmDelay time.Duration
	Timeout      time.Duration

	NewID  idgen.Generator
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.ConfirmDelay <= 0 {
		c.ConfirmDelay = DefaultConfirmDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.NewID == nil {
		c.NewID = idgen.Emission
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Sink == nil {
		c.Sink = sink.NewCallback(nil)
	}
	if c.Read == nil {
		c.Read = func(context.Context) (string, bool) { return "", false }
	}
}

// Stabilizer runs the sample/confirm protocol for one live source.
type Stabilizer struct {
	cfg    Config
	sched  sched.Scheduler
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// Loop-owned state.
	state    Context
	start    time.Time
	sampleA  position.Position
	timer    sched.Handle
	followUp bool
	stopped  bool
	seq      uint64

	phase atomic.Int32

	// Copy of the emission state for readers outside the loop.
	snapMu   sync.RWMutex
	snap     Context
	last     position.Emission
	haveLast bool

	stats counters
}

type counters struct {
	notifications atomic.Int64
	coalesced     atomic.Int64
	attempts      atomic.Int64
	samples       atomic.Int64
	emissions     atomic.Int64
	retries       atomic.Int64
	abandoned     atomic.Int64
	timeouts      atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Notifications int64  `json:"notifications"`
	Coalesced     int64  `json:"coalesced"`
	Attempts      int64  `json:"attempts"`
	Samples       int64  `json:"samples"`
	Emissions     int64  `json:"emissions"`
	Retries       int64  `json:"retries"`
	Abandoned     int64  `json:"abandoned"`
	Timeouts      int64  `json:"timeouts"`
	Phase         string `json:"phase"`
}

// New creates a Stabilizer. A nil Scheduler is not allowed.
func New(cfg Config) *Stabilizer {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Stabilizer{
		cfg:    cfg,
		sched:  cfg.Scheduler,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetContext allows the parent watcher to pass its context. Reads and sink
// deliveries use it.
func (s *Stabilizer) SetContext(ctx context.Context) {
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Notify is the entry point for every change notification. It is safe to
// call from any goroutine and at any rate.
func (s *Stabilizer) Notify() {
	s.stats.notifications.Add(1)
	s.sched.Post(s.trigger)
}

// Publish is the emission choke point for positions that need no
// confirmation (direct feeds). Empty input is a no-op.
func (s *Stabilizer) Publish(raw string, src position.Source) {
	s.sched.Post(func() {
		if s.stopped {
			return
		}
		p, ok := position.Normalize(raw)
		if !ok {
			return
		}
		s.emit(p, src)
	})
}

// Prime seeds the emission state from one read of the source without
// emitting, so the position already on the board at startup is not
// reported as a change.
func (s *Stabilizer) Prime() {
	s.sched.Post(func() {
		raw, ok := s.cfg.Read(s.ctx)
		if !ok {
			s.logger.Debug("stabilizer: prime read absent", "page_id", s.cfg.PageID)
			return
		}
		p, ok := position.Normalize(raw)
		if !ok {
			return
		}
		s.setState(Context{LastPlacement: p.Placement, LastActive: p.Active})
		s.logger.Info("stabilizer: primed", "page_id", s.cfg.PageID,
			"placement", p.Placement, "active", p.Active)
	})
}

// Stop cancels any scheduled sample and rejects further notifications.
func (s *Stabilizer) Stop() {
	s.sched.Post(func() {
		s.stopped = true
		s.cancelTimer()
		s.followUp = false
		s.phase.Store(int32(Idle))
	})
	s.cancel()
}

// Pending reports whether a detection cycle is in flight.
func (s *Stabilizer) Pending() bool {
	return Phase(s.phase.Load()) != Idle
}

// Phase returns the current phase.
func (s *Stabilizer) Phase() Phase {
	return Phase(s.phase.Load())
}

// State returns the current emission state.
func (s *Stabilizer) State() Context {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Last returns the most recent emission, if any.
func (s *Stabilizer) Last() (position.Emission, bool) {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.last, s.haveLast
}

// Stats returns the current counters.
func (s *Stabilizer) Stats() Stats {
	return Stats{
		Notifications: s.stats.notifications.Load(),
		Coalesced:     s.stats.coalesced.Load(),
		Attempts:      s.stats.attempts.Load(),
		Samples:       s.stats.samples.Load(),
		Emissions:     s.stats.emissions.Load(),
		Retries:       s.stats.retries.Load(),
		Abandoned:     s.stats.abandoned.Load(),
		Timeouts:      s.stats.timeouts.Load(),
		Phase:         s.Phase().String(),
	}
}

// --- loop-owned transitions ---

func (s *Stabilizer) trigger() {
	if s.stopped {
		return
	}
	if s.Pending() {
		s.followUp = true
		s.stats.coalesced.Add(1)
		return
	}
	s.begin()
}

func (s *Stabilizer) begin() {
	s.stats.attempts.Add(1)
	s.start = s.sched.Now()
	s.scheduleSample()
}

func (s *Stabilizer) scheduleSample() {
	s.cancelTimer()
	s.phase.Store(int32(Sampling))
	s.timer = s.sched.AfterFunc(s.cfg.SettleDelay, s.sample)
}

func (s *Stabilizer) sample() {
	p, ok := s.read()
	if !ok {
		s.abandon("source unreadable at sample")
		return
	}
	s.sampleA = p
	s.phase.Store(int32(ConfirmWaiting))
	s.timer = s.sched.AfterFunc(s.cfg.ConfirmDelay, s.confirm)
}

func (s *Stabilizer) confirm() {
	b, ok := s.read()
	if !ok {
		s.abandon("source unreadable at confirm")
		return
	}
	s.phase.Store(int32(Deciding))
	s.decide(s.sampleA, b)
}

func (s *Stabilizer) decide(a, b position.Position) {
	unchanged := a.SameBoard(b)
	isNew := s.state.isNew(b)

	if unchanged && isNew {
		s.emit(b, position.SourceStabilizer)
		s.resolve()
		return
	}

	elapsed := s.sched.Now().Sub(s.start)
	if elapsed < s.cfg.Timeout {
		s.stats.retries.Add(1)
		s.logger.Debug("stabilizer: retry",
			"page_id", s.cfg.PageID, "unchanged", unchanged, "new", isNew, "elapsed", elapsed)
		s.scheduleSample()
		return
	}

	s.stats.timeouts.Add(1)
	s.logger.Debug("stabilizer: timed out without a stable new position",
		"page_id", s.cfg.PageID, "elapsed", elapsed)
	s.resolve()
}

func (s *Stabilizer) abandon(reason string) {
	s.stats.abandoned.Add(1)
	s.logger.Debug("stabilizer: abandoned", "page_id", s.cfg.PageID, "reason", reason)
	s.resolve()
}

// resolve ends the current cycle and starts the coalesced follow-up, if any.
func (s *Stabilizer) resolve() {
	s.timer = nil
	s.sampleA = position.Position{}
	s.phase.Store(int32(Idle))
	if s.followUp && !s.stopped {
		s.followUp = false
		s.begin()
	}
}

func (s *Stabilizer) read() (position.Position, bool) {
	s.stats.samples.Add(1)
	raw, ok := s.cfg.Read(s.ctx)
	if !ok {
		return position.Position{}, false
	}
	return position.Normalize(raw)
}

func (s *Stabilizer) cancelTimer() {
	if s.timer != nil {
		s.timer.Cancel()
		s.timer = nil
	}
}

// emit records p as last emitted and hands it to the sink.
func (s *Stabilizer) emit(p position.Position, src position.Source) {
	if p.Raw == "" {
		return
	}
	s.seq++
	e := position.Emission{
		ID:        s.cfg.NewID(),
		PageID:    s.cfg.PageID,
		Seq:       s.seq,
		Raw:       p.Raw,
		Position:  p,
		Source:    src,
		Timestamp: s.sched.Now().UnixMilli(),
	}

	state := Context{LastPlacement: p.Placement, LastActive: p.Active}
	s.state = state
	s.snapMu.Lock()
	s.snap = state
	s.last = e
	s.haveLast = true
	s.snapMu.Unlock()
	s.stats.emissions.Add(1)

	s.logger.Info("stabilizer: position emitted",
		"page_id", s.cfg.PageID, "seq", e.Seq, "source", src, "raw", p.Raw)

	if err := s.cfg.Sink.Publish(s.ctx, e); err != nil {
		s.logger.Warn("stabilizer: sink publish failed", "seq", e.Seq, "error", err)
	}
}

func (s *Stabilizer) setState(c Context) {
	s.state = c
	s.snapMu.Lock()
	s.snap = c
	s.snapMu.Unlock()
}
