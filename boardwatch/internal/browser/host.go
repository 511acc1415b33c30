package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/boardwatch/boardwatch/internal/source"
)

//go:embed board.js
var boardJS string

const bindingName = "__boardwatch_binding"

// HostConfig locates the board inside the page.
type HostConfig struct {
	// Selector is the CSS selector of the board element.
	Selector string `json:"selector"`
	// Widget is the dotted path of the board widget object from window,
	// e.g. "board" or "app.game.board". Optional.
	Widget string `json:"widget"`
	// Attribute holds the position string on the board element. Empty
	// reads the element text.
	Attribute string `json:"attribute"`
}

// bindingMessage is what board.js sends through the binding.
type bindingMessage struct {
	Kind string `json:"kind"` // "event" | "mutation"
	Name string `json:"name,omitempty"`
}

func parseBinding(payload string) (bindingMessage, error) {
	var m bindingMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return m, err
	}
	if m.Kind != "event" && m.Kind != "mutation" {
		return m, fmt.Errorf("browser: unknown binding kind %q", m.Kind)
	}
	return m, nil
}

// PageHost exposes a tab's board to the pipeline. It reads positions and
// implements source.Host over the injected board script.
type PageHost struct {
	page   *rod.Page
	cfg    HostConfig
	logger *slog.Logger

	mu         sync.Mutex
	onEvent    func(string)
	onMutation func()
	cancel     context.CancelFunc
}

// NewPageHost creates a host for tab. Call Install before use.
func NewPageHost(tab *Tab, cfg HostConfig, logger *slog.Logger) *PageHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageHost{page: tab.Page, cfg: cfg, logger: logger}
}

// Install registers the binding, injects the board script and starts
// delivering binding calls.
func (h *PageHost) Install(ctx context.Context) error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(h.page); err != nil {
		h.logger.Warn("browser: addBinding failed (may already exist)", "error", err)
	}
	if _, err := h.page.Context(ctx).Eval(boardJS, h.cfg); err != nil {
		return fmt.Errorf("browser: inject board script: %w", err)
	}

	lctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	go h.listen(lctx)

	h.logger.Debug("browser: board script injected", "selector", h.cfg.Selector, "widget", h.cfg.Widget)
	return nil
}

func (h *PageHost) listen(ctx context.Context) {
	h.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		msg, err := parseBinding(e.Payload)
		if err != nil {
			h.logger.Debug("browser: bad binding payload", "error", err)
			return
		}
		h.mu.Lock()
		onEvent, onMutation := h.onEvent, h.onMutation
		h.mu.Unlock()
		switch {
		case msg.Kind == "event" && onEvent != nil:
			onEvent(msg.Name)
		case msg.Kind == "mutation" && onMutation != nil:
			onMutation()
		}
	})()
}

// Read returns the board's current position string, or "" when the page
// has none.
func (h *PageHost) Read(ctx context.Context) (string, error) {
	res, err := h.page.Context(ctx).Eval(`() => window.__boardwatch ? window.__boardwatch.read() : null`)
	if err != nil {
		return "", fmt.Errorf("browser: read: %w", err)
	}
	if res.Value.Nil() {
		return "", nil
	}
	return res.Value.Str(), nil
}

// Capabilities probes the widget event API and the board element.
func (h *PageHost) Capabilities(ctx context.Context) (source.Capabilities, error) {
	var caps source.Capabilities
	res, err := h.page.Context(ctx).Eval(`() => window.__boardwatch ? window.__boardwatch.caps() : "{}"`)
	if err != nil {
		return caps, fmt.Errorf("browser: probe: %w", err)
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &caps); err != nil {
		return caps, fmt.Errorf("browser: probe: %w", err)
	}
	return caps, nil
}

// SubscribeEvents registers fn for the widget's events.
func (h *PageHost) SubscribeEvents(ctx context.Context, events []string, fn func(string)) (func(), error) {
	h.mu.Lock()
	h.onEvent = fn
	h.mu.Unlock()
	if _, err := h.page.Context(ctx).Eval(`(events) => window.__boardwatch.subscribe(events)`, events); err != nil {
		h.mu.Lock()
		h.onEvent = nil
		h.mu.Unlock()
		return nil, fmt.Errorf("browser: subscribe: %w", err)
	}
	return h.stopper(), nil
}

// ObserveMutations registers fn for mutations under the board element.
func (h *PageHost) ObserveMutations(ctx context.Context, fn func()) (func(), error) {
	h.mu.Lock()
	h.onMutation = fn
	h.mu.Unlock()
	if _, err := h.page.Context(ctx).Eval(`() => window.__boardwatch.observe()`); err != nil {
		h.mu.Lock()
		h.onMutation = nil
		h.mu.Unlock()
		return nil, fmt.Errorf("browser: observe: %w", err)
	}
	return h.stopper(), nil
}

func (h *PageHost) stopper() func() {
	return func() {
		h.mu.Lock()
		h.onEvent, h.onMutation = nil, nil
		h.mu.Unlock()
		if _, err := h.page.Eval(`() => window.__boardwatch ? window.__boardwatch.stop() : true`); err != nil {
			h.logger.Debug("browser: stop board script", "error", err)
		}
	}
}

// Close stops delivering binding calls.
func (h *PageHost) Close() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
