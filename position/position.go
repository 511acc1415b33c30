// Package position normalizes raw board position strings into their six
// canonical fields. It is the public data contract between the watcher and
// anything consuming its emissions.
package position

import "strings"

// Field fillers used when the raw string carries fewer than six tokens.
const (
	Filler          = "-"
	UnknownActive   = "?"
	DefaultHalfmove = "0"
	DefaultFullmove = "1"
)

// FieldCount is the number of fields in a normalized position.
const FieldCount = 6

// Position is an immutable, normalized board position.
type Position struct {
	Placement string `json:"placement"`
	Active    string `json:"active"`
	Castling  string `json:"castling"`
	EnPassant string `json:"en_passant"`
	Halfmove  string `json:"halfmove"`
	Fullmove  string `json:"fullmove"`

	// Raw is the source string, kept verbatim for re-transmission.
	Raw string `json:"raw"`
}

// Normalize splits raw on runs of whitespace and assigns the six fields
// positionally, filling missing trailing fields with their defaults. It
// reports false for an empty or whitespace-only input. Tokens beyond the
// sixth are ignored.
func Normalize(raw string) (Position, bool) {
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		return Position{}, false
	}
	n := len(tokens)

	var f [FieldCount]string
	for i := range f {
		if i < n {
			f[i] = tokens[i]
		} else {
			f[i] = Filler
		}
	}
	if n < 2 {
		f[1] = UnknownActive
	}
	if n < 5 {
		f[4] = DefaultHalfmove
	}
	if n < 6 {
		f[5] = DefaultFullmove
	}

	return Position{
		Placement: f[0],
		Active:    f[1],
		Castling:  f[2],
		EnPassant: f[3],
		Halfmove:  f[4],
		Fullmove:  f[5],
		Raw:       raw,
	}, true
}

// Fields returns the six normalized fields in canonical order.
func (p Position) Fields() [FieldCount]string {
	return [FieldCount]string{p.Placement, p.Active, p.Castling, p.EnPassant, p.Halfmove, p.Fullmove}
}

// SameBoard reports whether p and o agree on placement and side to move.
// Clocks, castling and en-passant are not compared.
func (p Position) SameBoard(o Position) bool {
	return p.Placement == o.Placement && p.Active == o.Active
}

// FEN returns the six fields joined by single spaces, with an unknown side
// to move resolved to white so engines accept it.
func (p Position) FEN() string {
	f := p.Fields()
	if f[1] == UnknownActive {
		f[1] = "w"
	}
	return strings.Join(f[:], " ")
}

// ActiveFromPly returns the side to move after ply half-moves.
func ActiveFromPly(ply int) string {
	if ply%2 == 0 {
		return "w"
	}
	return "b"
}

// WithActiveFromPly inserts a side-to-move token derived from ply when raw
// carries a placement only. Raw strings that already name the side to move
// are returned unchanged.
func WithActiveFromPly(raw string, ply int) string {
	tokens := strings.Fields(raw)
	if len(tokens) != 1 {
		return raw
	}
	return tokens[0] + " " + ActiveFromPly(ply)
}

// String implements fmt.Stringer.
func (p Position) String() string {
	return p.Placement + " " + p.Active + " " + p.Castling + " " + p.EnPassant + " " +
		p.Halfmove + " " + p.Fullmove
}
