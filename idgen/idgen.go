// Package idgen generates the identifiers of emissions and endpoint calls.
//
// Components take a Generator so tests can swap in Sequence for stable
// output.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// Time returns UUID v7 strings. They sort in creation order, so emission
// IDs follow emission time.
func Time() Generator {
	return func() string { return uuid.Must(uuid.NewV7()).String() }
}

// Random returns UUID v4 strings.
func Random() Generator {
	return func() string { return uuid.NewString() }
}

// WithPrefix prepends prefix to every ID of gen.
func WithPrefix(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Sequence yields prefix1, prefix2, ... and is safe for concurrent use.
func Sequence(prefix string) Generator {
	var n atomic.Uint64
	return func() string {
		return prefix + strconv.FormatUint(n.Add(1), 10)
	}
}

var (
	// Emission names confirmed positions.
	Emission Generator = WithPrefix("em_", Time())
	// Call names MCP tool calls in endpoint logs.
	Call Generator = WithPrefix("call_", Random())
)
