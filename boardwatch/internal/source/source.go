// Package source selects how a live board reports possible changes and
// routes every such report to a single notify function.
//
// Three strategies exist, chosen once at start in priority order: the
// widget's own event API, DOM mutation observation of the board element,
// and unconditional fixed-interval polling. None of them decides whether the
// position really changed; that is the stabilizer's job.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is the polling period of the PollOnly strategy.
const DefaultPollInterval = 300 * time.Millisecond

// DefaultEvents are the widget events that signal a position change.
var DefaultEvents = []string{"move", "undo", "reset", "load"}

// Strategy is the change-notification strategy in use.
type Strategy int

const (
	PollOnly Strategy = iota
	MutationCapable
	EventCapable
)

func (s Strategy) String() string {
	switch s {
	case PollOnly:
		return "poll"
	case MutationCapable:
		return "mutation"
	case EventCapable:
		return "events"
	}
	return "unknown"
}

// ParseStrategy maps a config value to a forced strategy. "auto" and ""
// return ok=false: the strategy is detected from capabilities.
func ParseStrategy(s string) (Strategy, bool, error) {
	switch s {
	case "", "auto":
		return PollOnly, false, nil
	case "events":
		return EventCapable, true, nil
	case "mutation":
		return MutationCapable, true, nil
	case "poll":
		return PollOnly, true, nil
	}
	return PollOnly, false, fmt.Errorf("source: unknown strategy %q", s)
}

// Capabilities is what a host exposes for change notification.
type Capabilities struct {
	Events   bool `json:"events"`
	Mutation bool `json:"mutation"`
}

// Detect picks the highest-priority strategy the capabilities allow.
func Detect(c Capabilities) Strategy {
	switch {
	case c.Events:
		return EventCapable
	case c.Mutation:
		return MutationCapable
	default:
		return PollOnly
	}
}

// Host is a live board that can be probed and subscribed to.
type Host interface {
	Capabilities(ctx context.Context) (Capabilities, error)
	SubscribeEvents(ctx context.Context, events []string, fn func(event string)) (stop func(), err error)
	ObserveMutations(ctx context.Context, fn func()) (stop func(), err error)
}

// Config for creating a Watcher.
type Config struct {
	// Host may be nil: the watcher then polls.
	Host         Host
	Notify       func()
	Strategy     string
	Events       []string
	PollInterval time.Duration
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if len(c.Events) == 0 {
		c.Events = DefaultEvents
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Notify == nil {
		c.Notify = func() {}
	}
}

// Watcher runs exactly one strategy, plus polling as a fallback when the
// primary subscription could not be installed.
type Watcher struct {
	cfg Config

	mu       sync.Mutex
	strategy Strategy
	fellBack bool
	stop     func()
	started  bool
}

// New creates a Watcher. Call Start to select and install a strategy.
func New(cfg Config) *Watcher {
	cfg.defaults()
	return &Watcher{cfg: cfg}
}

// Start selects the strategy and installs it. It fails only for an invalid
// forced strategy.
func (w *Watcher) Start(ctx context.Context) error {
	forced, isForced, err := ParseStrategy(w.cfg.Strategy)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("source: already started")
	}
	w.started = true

	strategy := PollOnly
	switch {
	case isForced:
		strategy = forced
	case w.cfg.Host != nil:
		caps, err := w.cfg.Host.Capabilities(ctx)
		if err != nil {
			w.cfg.Logger.Warn("source: capability probe failed, polling", "error", err)
		}
		strategy = Detect(caps)
	}
	if w.cfg.Host == nil {
		strategy = PollOnly
	}

	w.strategy = strategy
	stop, err := w.install(ctx, strategy)
	if err != nil {
		w.cfg.Logger.Warn("source: subscription failed, falling back to polling",
			"strategy", strategy, "error", err)
		w.strategy = PollOnly
		w.fellBack = true
		stop, _ = w.install(ctx, PollOnly)
	}
	w.stop = stop

	w.cfg.Logger.Info("source: watching", "strategy", w.strategy, "fallback", w.fellBack)
	return nil
}

// Strategy returns the strategy in use and whether it is a fallback.
func (w *Watcher) Strategy() (Strategy, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.strategy, w.fellBack
}

// Stop tears the subscription down. It is idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	stop := w.stop
	w.stop = nil
	w.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (w *Watcher) install(ctx context.Context, s Strategy) (func(), error) {
	switch s {
	case EventCapable:
		return w.cfg.Host.SubscribeEvents(ctx, w.cfg.Events, func(event string) {
			w.cfg.Logger.Debug("source: widget event", "event", event)
			w.cfg.Notify()
		})
	case MutationCapable:
		return w.cfg.Host.ObserveMutations(ctx, w.cfg.Notify)
	default:
		return w.poll(ctx), nil
	}
}

// poll invokes Notify every interval regardless of whether anything changed.
func (w *Watcher) poll(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.cfg.Notify()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
