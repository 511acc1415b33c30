// Package engine defines the move-calculation contract boardwatch consumes:
// a position string and a compute budget in, a best move or an explicit
// "no move" out.
//
// Two drivers are provided. UCI talks to a local engine process over the
// Universal Chess Interface. Remote sends JSON requests through a
// connectivity.Handler, which may be an HTTP endpoint, a local engine
// exposed with AsHandler, or a router choosing between the two.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/boardwatch/connectivity"
)

// ErrNoMove is returned when the engine explicitly reports that no move is
// available (mate or stalemate).
var ErrNoMove = errors.New("engine: no move")

// Engine computes a best move for a position.
type Engine interface {
	BestMove(ctx context.Context, fen string, budget time.Duration) (Move, error)
}

// Func adapts a function to Engine.
type Func func(ctx context.Context, fen string, budget time.Duration) (Move, error)

func (f Func) BestMove(ctx context.Context, fen string, budget time.Duration) (Move, error) {
	return f(ctx, fen, budget)
}

// Move is a compact origin/destination token such as "e2e4" or "e7e8q".
type Move string

// ParseMove validates a move token. The UCI null moves "0000" and "(none)"
// yield ErrNoMove.
func ParseMove(s string) (Move, error) {
	switch s {
	case "", "0000", "(none)":
		return "", ErrNoMove
	}
	if len(s) != 4 && len(s) != 5 {
		return "", fmt.Errorf("engine: malformed move %q", s)
	}
	for i := 0; i < 4; i += 2 {
		if s[i] < 'a' || s[i] > 'h' || s[i+1] < '1' || s[i+1] > '8' {
			return "", fmt.Errorf("engine: malformed move %q", s)
		}
	}
	if len(s) == 5 {
		switch s[4] {
		case 'q', 'r', 'b', 'n':
		default:
			return "", fmt.Errorf("engine: bad promotion in %q", s)
		}
	}
	return Move(s), nil
}

// From returns the origin square.
func (m Move) From() string {
	if len(m) < 4 {
		return ""
	}
	return string(m[:2])
}

// To returns the destination square.
func (m Move) To() string {
	if len(m) < 4 {
		return ""
	}
	return string(m[2:4])
}

// Promotion returns the promotion piece, or "" for none.
func (m Move) Promotion() string {
	if len(m) != 5 {
		return ""
	}
	return string(m[4:])
}

// Request is the JSON body of a remote engine call.
type Request struct {
	FEN        string `json:"fen"`
	MoveTimeMs int64  `json:"movetime_ms"`
}

// Response is the JSON reply of a remote engine call. An empty move means
// no move is available.
type Response struct {
	Move  string `json:"move"`
	Error string `json:"error,omitempty"`
}

// Remote is an Engine backed by a connectivity.Handler speaking the
// Request/Response JSON contract.
type Remote struct {
	call connectivity.Handler
}

// NewRemote creates a Remote engine.
func NewRemote(call connectivity.Handler) *Remote {
	return &Remote{call: call}
}

// BestMove implements Engine. A nil response (a "noop" route) is reported as
// ErrNoMove.
func (r *Remote) BestMove(ctx context.Context, fen string, budget time.Duration) (Move, error) {
	payload, err := json.Marshal(Request{FEN: fen, MoveTimeMs: budget.Milliseconds()})
	if err != nil {
		return "", fmt.Errorf("engine: encode request: %w", err)
	}
	body, err := r.call(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("engine: call: %w", err)
	}
	if len(body) == 0 {
		return "", ErrNoMove
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("engine: decode response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("engine: remote: %s", resp.Error)
	}
	return ParseMove(resp.Move)
}

// AsHandler exposes e through the Request/Response JSON contract, so a local
// engine can be registered on a connectivity.Router or served over HTTP.
// ErrNoMove is encoded as an empty move, other failures as an error field.
func AsHandler(e Engine) connectivity.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("engine: decode request: %w", err)
		}
		m, err := e.BestMove(ctx, req.FEN, time.Duration(req.MoveTimeMs)*time.Millisecond)
		var resp Response
		switch {
		case errors.Is(err, ErrNoMove):
		case err != nil:
			if ctx.Err() != nil {
				return nil, err
			}
			resp.Error = err.Error()
		default:
			resp.Move = string(m)
		}
		return json.Marshal(resp)
	}
}
