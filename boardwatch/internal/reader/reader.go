// Package reader pulls raw position strings from live sources. Sources may
// fail in many ways; the pipeline only ever sees a string or "absent".
package reader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Reader queries a live source for its current raw position string.
type Reader interface {
	Read(ctx context.Context) (string, error)
}

// Func adapts a plain function to Reader.
type Func func(ctx context.Context) (string, error)

// Read implements Reader.
func (f Func) Read(ctx context.Context) (string, error) { return f(ctx) }

// ReadFunc is the pipeline-side contract: it never fails, it only reports
// whether a position was available.
type ReadFunc func(ctx context.Context) (string, bool)

// Tolerant wraps r so that errors, empty results and panics all become
// absent. Each read is bounded by timeout when timeout > 0.
func Tolerant(r Reader, timeout time.Duration, logger *slog.Logger) ReadFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (raw string, ok bool) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Debug("reader: recovered from panic", "panic", fmt.Sprint(rec))
				raw, ok = "", false
			}
		}()

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		s, err := r.Read(ctx)
		if err != nil {
			logger.Debug("reader: read failed", "error", err)
			return "", false
		}
		if strings.TrimSpace(s) == "" {
			return "", false
		}
		return s, true
	}
}
