// Package feed handles push-based network feeds whose messages embed a full
// position snapshot. Such snapshots are taken as atomic and final, so they
// skip the sample/confirm cycle and go straight to emission.
package feed

import (
	"encoding/json"
	"log/slog"

	"github.com/hazyhaar/boardwatch/position"
)

// Update is the position-bearing part of a feed message.
type Update struct {
	Type   string `json:"type,omitempty"`
	FEN    string `json:"fen"`
	Ply    int    `json:"ply"`
	HasPly bool   `json:"has_ply"`
}

// Raw returns the position string to emit: the fen as sent, with the side
// to move derived from the ply counter when the fen does not carry one.
func (u Update) Raw() string {
	if !u.HasPly {
		return u.FEN
	}
	return position.WithActiveFromPly(u.FEN, u.Ply)
}

type payload struct {
	FEN *string `json:"fen"`
	Ply *int    `json:"ply"`
}

type envelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d"`
	payload
}

// Parse extracts an Update from a feed message. Two shapes are accepted:
// {"t": "...", "d": {"fen": "...", "ply": n}} and a flat {"fen": "...", "ply": n}.
// Messages without a fen report false.
func Parse(data []byte) (Update, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Update{}, false
	}

	p := env.payload
	if len(env.D) > 0 && env.D[0] == '{' {
		var inner payload
		if err := json.Unmarshal(env.D, &inner); err == nil && inner.FEN != nil {
			p = inner
		}
	}
	if p.FEN == nil || *p.FEN == "" {
		return Update{}, false
	}

	u := Update{Type: env.T, FEN: *p.FEN}
	if p.Ply != nil {
		u.Ply = *p.Ply
		u.HasPly = true
	}
	return u, true
}

// Publisher is the emission choke point the feed writes to.
type Publisher interface {
	Publish(raw string, src position.Source)
}

// Handler turns raw feed frames into direct emissions.
type Handler struct {
	pub    Publisher
	logger *slog.Logger
}

// NewHandler creates a Handler publishing to pub.
func NewHandler(pub Publisher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{pub: pub, logger: logger}
}

// Handle processes one frame. It reports whether the frame carried a position.
func (h *Handler) Handle(data []byte) bool {
	u, ok := Parse(data)
	if !ok {
		return false
	}
	raw := u.Raw()
	h.logger.Debug("feed: position received", "type", u.Type, "raw", raw)
	h.pub.Publish(raw, position.SourceFeed)
	return true
}
