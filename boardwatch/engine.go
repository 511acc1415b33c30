package boardwatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/boardwatch/connectivity"
	"github.com/hazyhaar/boardwatch/engine"
	"github.com/hazyhaar/boardwatch/position"
)

// engineService is the connectivity service name of the move engine.
const engineService = "engine"

var errNoLocalEngine = errors.New("boardwatch: no local engine")

// routedEngine calls the "engine" service through the connectivity router.
// The routes row decides between the local UCI process, a remote HTTP
// engine and noop; a failing remote falls back to the local process.
func (w *Watcher) routedEngine() engine.Engine {
	call := func(ctx context.Context, payload []byte) ([]byte, error) {
		return w.router.Call(ctx, engineService, payload)
	}
	mws := []connectivity.HandlerMiddleware{
		connectivity.Recovery(w.logger),
		connectivity.Logging(w.logger, engineService),
		connectivity.WithTimeout(w.cfg.Engine.Budget + w.cfg.Engine.Timeout),
	}
	if w.cfg.Engine.Path != "" {
		mws = append(mws, connectivity.WithFallback(w.localEngine, engineService, w.logger))
	}
	mws = append(mws, connectivity.WithCircuitBreaker(w.breaker, engineService))
	if w.cfg.Engine.Retries > 0 {
		mws = append(mws, connectivity.WithRetry(w.cfg.Engine.Retries, 200*time.Millisecond, w.logger))
	}
	return engine.NewRemote(connectivity.Chain(mws...)(call))
}

// localEngine serves engine calls from the UCI process, once started.
func (w *Watcher) localEngine(ctx context.Context, payload []byte) ([]byte, error) {
	w.mu.Lock()
	uci := w.uci
	w.mu.Unlock()
	if uci == nil {
		return nil, errNoLocalEngine
	}
	return engine.AsHandler(uci)(ctx, payload)
}

// startEngine launches the local engine when configured, seeds the engine
// route from configuration and follows later edits of the routes table.
func (w *Watcher) startEngine(ctx context.Context) error {
	if w.cfg.Engine.Path != "" {
		uci, err := engine.StartUCI(ctx, w.cfg.Engine.Path, w.cfg.Engine.Args,
			engine.WithUCIOptions(w.cfg.Engine.Options),
			engine.WithUCILogger(w.logger))
		if err != nil {
			if w.cfg.Engine.Strategy == "local" {
				return fmt.Errorf("boardwatch: start engine: %w", err)
			}
			w.logger.Warn("boardwatch: local engine unavailable", "path", w.cfg.Engine.Path, "error", err)
		} else {
			w.mu.Lock()
			w.uci = uci
			w.mu.Unlock()
			w.router.RegisterLocal(engineService, w.localEngine)
		}
	}

	rt := connectivity.Route{Service: engineService, Strategy: w.cfg.Engine.Strategy}
	if rt.Strategy == "http" {
		rt.Endpoint = w.cfg.Engine.Endpoint
	}
	if err := connectivity.Upsert(ctx, w.store.DB, rt); err != nil {
		return fmt.Errorf("boardwatch: seed engine route: %w", err)
	}
	if err := w.router.Reload(ctx, w.store.DB); err != nil {
		return fmt.Errorf("boardwatch: load routes: %w", err)
	}
	w.goRun(func() { w.router.Watch(ctx, w.store.DB, 2*time.Second) })
	return nil
}

// BestMove asks the engine for fen, or for the last emitted position when
// fen is empty. Partial positions are completed the way the normalizer
// does.
func (w *Watcher) BestMove(ctx context.Context, fen string) (engine.Move, string, error) {
	var p position.Position
	if fen == "" {
		e, ok := w.Position()
		if !ok {
			return "", "", fmt.Errorf("boardwatch: no position emitted yet")
		}
		p = e.Position
	} else {
		var ok bool
		if p, ok = position.Normalize(fen); !ok {
			return "", "", fmt.Errorf("boardwatch: empty position")
		}
	}
	full := p.FEN()
	m, err := w.engine.BestMove(ctx, full, w.cfg.Engine.Budget)
	return m, full, err
}
