package boardwatch

import (
	"context"
	"io"
	"log/slog"

	"github.com/hazyhaar/boardwatch/boardwatch/internal/sink"
	"github.com/hazyhaar/boardwatch/position"
)

// Sink is the output interface for confirmed positions.
type Sink = sink.Sink

// Emission is one confirmed position change.
type Emission = position.Emission

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink, zero serialisation.
func NewCallbackSink(fn func(ctx context.Context, e Emission) error) Sink {
	return sink.NewCallback(fn)
}

// SinksFromConfig builds the sinks listed in cfg. An empty list yields a
// stdout sink.
func SinksFromConfig(cfg *Config, logger *slog.Logger) []Sink {
	var sinks []Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, NewStdoutSink(nil))
		case "webhook":
			sinks = append(sinks, NewWebhookSink(sc.URL, logger))
		default:
			logger.Warn("boardwatch: unknown sink type", "type", sc.Type)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NewStdoutSink(nil))
	}
	return sinks
}
