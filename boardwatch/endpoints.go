package boardwatch

import (
	"context"
	"errors"

	"github.com/hazyhaar/boardwatch/engine"
	"github.com/hazyhaar/boardwatch/kit"
)

// ErrNoPosition is returned while nothing has been emitted yet.
var ErrNoPosition = errors.New("boardwatch: no position emitted yet")

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

type historyReq struct {
	Limit int `json:"limit"`
}

type bestMoveReq struct {
	FEN string `json:"fen"`
}

type autoplayReq struct {
	Enabled bool `json:"enabled"`
}

// BestMoveResult is the answer of the bestmove endpoint. NoMove is set when
// the engine reports mate or stalemate.
type BestMoveResult struct {
	FEN       string `json:"fen"`
	Move      string `json:"move"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	NoMove    bool   `json:"no_move,omitempty"`
}

// endpoints are shared by the HTTP API and the MCP tools.
type endpoints struct {
	position kit.Endpoint
	history  kit.Endpoint
	stats    kit.Endpoint
	bestMove kit.Endpoint
	autoplay kit.Endpoint
}

func (w *Watcher) endpoints() endpoints {
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		return kit.Logging(w.logger, name)(ep)
	}
	return endpoints{
		position: wrap("position", func(context.Context, any) (any, error) {
			e, ok := w.Position()
			if !ok {
				return nil, ErrNoPosition
			}
			return e, nil
		}),
		history: wrap("history", func(ctx context.Context, req any) (any, error) {
			limit := defaultHistoryLimit
			if r, ok := req.(*historyReq); ok && r.Limit > 0 {
				limit = min(r.Limit, maxHistoryLimit)
			}
			list, err := w.History(ctx, limit)
			if err != nil {
				return nil, err
			}
			if list == nil {
				list = []Emission{}
			}
			return map[string]any{"emissions": list, "count": len(list)}, nil
		}),
		stats: wrap("stats", func(ctx context.Context, _ any) (any, error) {
			return w.Stats(ctx), nil
		}),
		bestMove: wrap("bestmove", func(ctx context.Context, req any) (any, error) {
			var fen string
			if r, ok := req.(*bestMoveReq); ok {
				fen = r.FEN
			}
			m, full, err := w.BestMove(ctx, fen)
			if errors.Is(err, engine.ErrNoMove) {
				return BestMoveResult{FEN: full, NoMove: true}, nil
			}
			if err != nil {
				return nil, err
			}
			return BestMoveResult{
				FEN:       full,
				Move:      string(m),
				From:      m.From(),
				To:        m.To(),
				Promotion: m.Promotion(),
			}, nil
		}),
		autoplay: wrap("autoplay", func(_ context.Context, req any) (any, error) {
			if r, ok := req.(*autoplayReq); ok {
				w.SetAutoplay(r.Enabled)
			}
			return map[string]bool{"enabled": w.player.Enabled()}, nil
		}),
	}
}
