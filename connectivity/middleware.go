package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"
)

// HandlerMiddleware wraps a Handler without changing its signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call with its duration.
func Logging(logger *slog.Logger, service string) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			if err != nil {
				logger.WarnContext(ctx, "connectivity: call failed",
					"service", service, "duration_ms", time.Since(start).Milliseconds(), "error", err)
			} else {
				logger.DebugContext(ctx, "connectivity: call ok",
					"service", service, "duration_ms", time.Since(start).Milliseconds(), "response_bytes", len(resp))
			}
			return resp, err
		}
	}
}

// WithTimeout bounds each call. Zero disables the bound.
func WithTimeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, payload)
		}
	}
}

// Recovery converts handler panics into *ErrPanic.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if v := recover(); v != nil {
					logger.ErrorContext(ctx, "connectivity: handler panic recovered",
						"panic", v, "stack", string(debug.Stack()))
					err = &ErrPanic{Value: v}
				}
			}()
			return next(ctx, payload)
		}
	}
}

// WithRetry retries failed calls up to maxRetries times, doubling the pause
// from baseBackoff each time. Cancelled contexts and open circuits are not
// retried. logger may be nil.
func WithRetry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			wait := baseBackoff
			for attempt := 0; ; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				var open *ErrCircuitOpen
				if attempt >= maxRetries || ctx.Err() != nil || errors.As(err, &open) {
					return nil, err
				}
				if logger != nil {
					logger.WarnContext(ctx, "connectivity: retrying call",
						"attempt", attempt+1, "max_retries", maxRetries, "backoff_ms", wait.Milliseconds(), "error", err)
				}
				select {
				case <-ctx.Done():
					return nil, err
				case <-time.After(wait):
				}
				wait *= 2
			}
		}
	}
}

// WithFallback calls local when the wrapped handler fails for any reason
// other than the caller giving up. A nil local disables the fallback.
func WithFallback(local Handler, service string, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		if local == nil {
			return next
		}
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			resp, err := next(ctx, payload)
			if err == nil || ctx.Err() != nil {
				return resp, err
			}
			if logger != nil {
				logger.WarnContext(ctx, "connectivity: remote failed, using local",
					"service", service, "remote_error", err)
			}
			return local(ctx, payload)
		}
	}
}
