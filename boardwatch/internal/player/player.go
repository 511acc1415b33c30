// Package player reacts to confirmed positions: it asks the engine for a
// move and submits it through the move channel.
//
// Engine failures and closed channels are logged and otherwise ignored;
// they never reach the stabilization pipeline.
package player

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/boardwatch/boardwatch/internal/channel"
	"github.com/hazyhaar/boardwatch/engine"
	"github.com/hazyhaar/boardwatch/position"
)

// DefaultBudget is the compute budget handed to the engine per move.
const DefaultBudget = 1 * time.Second

// Config for creating a Player.
type Config struct {
	Engine engine.Engine
	// Channel returns the current move channel; it may return nil.
	Channel func() channel.Channel
	Budget  time.Duration
	// Color is the side played: "w", "b" or "any".
	Color  string
	Logger *slog.Logger
}

// Stats are cumulative player counters.
type Stats struct {
	Considered int64 `json:"considered"`
	Skipped    int64 `json:"skipped"`
	Cancelled  int64 `json:"cancelled"`
	NoMove     int64 `json:"no_move"`
	Failed     int64 `json:"failed"`
	Submitted  int64 `json:"submitted"`
	Dropped    int64 `json:"dropped"`
}

// Player is a sink that plays engine moves. Each new emission cancels the
// search started for the previous one.
type Player struct {
	cfg     Config
	enabled atomic.Bool
	ack     atomic.Int64

	base     context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	inflight context.CancelFunc
	wg       sync.WaitGroup

	lastMove atomic.Value // string

	considered, skipped, cancelled, noMove atomic.Int64
	failed, submitted, dropped             atomic.Int64
}

// New creates an enabled Player.
func New(cfg Config) *Player {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.Color == "" {
		cfg.Color = "any"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	p := &Player{cfg: cfg, base: base, stop: stop}
	p.enabled.Store(true)
	p.lastMove.Store("")
	return p
}

// SetEnabled turns automatic play on or off.
func (p *Player) SetEnabled(on bool) { p.enabled.Store(on) }

// Enabled reports whether automatic play is on.
func (p *Player) Enabled() bool { return p.enabled.Load() }

// LastMove returns the last move submitted.
func (p *Player) LastMove() string { return p.lastMove.Load().(string) }

// Plays reports whether the player moves for the given side to move.
// An unknown side only matches "any".
func (p *Player) Plays(active string) bool {
	if p.cfg.Color == "any" {
		return true
	}
	return active == p.cfg.Color
}

// Publish starts a search for e's position and returns immediately.
func (p *Player) Publish(_ context.Context, e position.Emission) error {
	p.considered.Add(1)
	if !p.enabled.Load() || p.cfg.Engine == nil || !p.Plays(e.Position.Active) {
		p.skipped.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(p.base)
	p.mu.Lock()
	if p.inflight != nil {
		p.inflight()
	}
	p.inflight = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.play(ctx, e)
	}()
	return nil
}

func (p *Player) play(ctx context.Context, e position.Emission) {
	fen := e.Position.FEN()
	m, err := p.cfg.Engine.BestMove(ctx, fen, p.cfg.Budget)
	switch {
	case ctx.Err() != nil:
		p.cancelled.Add(1)
		p.cfg.Logger.Debug("player: search superseded", "seq", e.Seq)
		return
	case errors.Is(err, engine.ErrNoMove):
		p.noMove.Add(1)
		p.cfg.Logger.Info("player: no move available", "fen", fen)
		return
	case err != nil:
		p.failed.Add(1)
		p.cfg.Logger.Warn("player: engine failed", "fen", fen, "error", err)
		return
	}

	var ch channel.Channel
	if p.cfg.Channel != nil {
		ch = p.cfg.Channel()
	}
	sub := channel.MoveSubmission{Move: string(m), Ack: int(p.ack.Add(1))}
	sent, err := channel.Submit(ctx, ch, sub)
	switch {
	case err != nil:
		p.failed.Add(1)
		p.cfg.Logger.Warn("player: submit failed", "move", m, "error", err)
	case !sent:
		p.dropped.Add(1)
		p.cfg.Logger.Info("player: channel not open, move dropped", "move", m)
	default:
		p.submitted.Add(1)
		p.lastMove.Store(string(m))
		p.cfg.Logger.Info("player: move submitted", "move", m, "seq", e.Seq)
	}
}

// Stats returns a snapshot of the counters.
func (p *Player) Stats() Stats {
	return Stats{
		Considered: p.considered.Load(),
		Skipped:    p.skipped.Load(),
		Cancelled:  p.cancelled.Load(),
		NoMove:     p.noMove.Load(),
		Failed:     p.failed.Load(),
		Submitted:  p.submitted.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// Wait blocks until no search is running.
func (p *Player) Wait() { p.wg.Wait() }

// Close cancels any running search and waits for it.
func (p *Player) Close() error {
	p.stop()
	p.wg.Wait()
	return nil
}
