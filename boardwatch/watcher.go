// Package boardwatch watches a live chess board and emits each confirmed
// position change exactly once.
//
// A board is read from a browser tab driven over the DevTools protocol, or
// from static HTML when no browser is configured. Change hints (widget
// events, DOM mutations or polling) go through a stabilizer that samples
// the board twice before emitting. Positions pushed by a network feed skip
// the stabilizer and are emitted directly. Emissions fan out to sinks: the
// history store, stdout, webhooks, callbacks and the engine-driven player.
package boardwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/boardwatch/boardwatch/internal/browser"
	"github.com/hazyhaar/boardwatch/boardwatch/internal/channel"
	"github.com/hazyhaar/boardwatch/boardwatch/internal/feed"
	"github.com/hazyhaar/boardwatch/boardwatch/internal/player"
	"github.com/hazyhaar/boardwatch/boardwatch/internal/reader"
	"github.com/hazyhaar/boardwatch/boardwatch/internal/sched"
	"github.com/hazyhaar/boardwatch/boardwatch/internal/sink"
	"github.com/hazyhaar/boardwatch/boardwatch/internal/source"
	"github.com/hazyhaar/boardwatch/boardwatch/internal/stabilizer"
	"github.com/hazyhaar/boardwatch/boardwatch/internal/store"
	"github.com/hazyhaar/boardwatch/connectivity"
	"github.com/hazyhaar/boardwatch/engine"
	"github.com/hazyhaar/boardwatch/position"
)

// Reader reads the raw position string from the board.
type Reader = reader.Reader

// ReaderFunc adapts a function to Reader.
type ReaderFunc = reader.Func

// Host is a board that can report changes by widget events or DOM
// mutations.
type Host = source.Host

// Capabilities is what a Host supports.
type Capabilities = source.Capabilities

// Option configures a Watcher.
type Option func(*Watcher)

// WithReader reads the board through r instead of a browser tab or static
// HTML. Without WithHost the watcher polls r.
func WithReader(r Reader) Option {
	return func(w *Watcher) { w.fixedReader = r }
}

// WithHost subscribes to change notifications from h. It is only used
// together with WithReader.
func WithHost(h Host) Option {
	return func(w *Watcher) { w.fixedHost = h }
}

// WithEngine replaces the routed engine.
func WithEngine(e engine.Engine) Option {
	return func(w *Watcher) { w.engine = e }
}

// Watcher is the top-level orchestrator. Create one per watched board.
type Watcher struct {
	cfg    *Config
	logger *slog.Logger

	loop    *sched.Loop
	sinkR   *sink.Router
	stab    *stabilizer.Stabilizer
	feedH   *feed.Handler
	store   *store.Store
	router  *connectivity.Router
	breaker *connectivity.CircuitBreaker
	engine  engine.Engine
	player  *player.Player

	fixedReader Reader
	fixedHost   Host

	mu      sync.Mutex
	ctx     context.Context
	mgr     *browser.Manager
	tab     *browser.Tab
	host    *browser.PageHost
	rd      Reader
	src     *source.Watcher
	stopTap func()
	uci     *engine.UCI
	ch      channel.Channel
	started bool
	stopped bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// New creates a Watcher from configuration. It opens the history store and
// wires sinks, engine and player; Start attaches to the board.
func New(cfg *Config, logger *slog.Logger, sinks []Sink, opts ...Option) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ApplyDefaults()

	st, err := openStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("boardwatch: open store: %w", err)
	}

	w := &Watcher{
		cfg:     cfg,
		logger:  logger,
		loop:    sched.NewLoop(0),
		store:   st,
		router:  connectivity.New(connectivity.WithLogger(logger)),
		breaker: connectivity.NewCircuitBreaker(),
	}
	for _, o := range opts {
		o(w)
	}

	w.router.RegisterTransport("http", connectivity.HTTPFactory(cfg.Engine.Timeout))
	w.RegisterConnectivity(w.router)
	if w.engine == nil {
		w.engine = w.routedEngine()
	}

	w.player = player.New(player.Config{
		Engine:  w.engine,
		Channel: w.currentChannel,
		Budget:  cfg.Engine.Budget,
		Color:   cfg.Engine.Color,
		Logger:  logger,
	})
	w.player.SetEnabled(cfg.Engine.Autoplay)

	all := append([]Sink{store.NewSink(st)}, sinks...)
	all = append(all, w.player)
	w.sinkR = sink.NewRouter(logger, all...)

	w.stab = stabilizer.New(stabilizer.Config{
		Read:         reader.Tolerant(reader.Func(w.read), cfg.Page.ReadTimeout, logger),
		Sink:         w.sinkR,
		Scheduler:    w.loop,
		PageID:       cfg.Page.ID,
		SettleDelay:  cfg.Stabilizer.SettleDelay,
		ConfirmDelay: cfg.Stabilizer.ConfirmDelay,
		Timeout:      cfg.Stabilizer.Timeout,
		Logger:       logger,
	})
	w.feedH = feed.NewHandler(w.stab, logger)
	return w, nil
}

func openStore(path string) (*store.Store, error) {
	if path == "" {
		st, err := store.Open(":memory:")
		if err != nil {
			return nil, err
		}
		st.DB.SetMaxOpenConns(1)
		return st, nil
	}
	return store.Open(path)
}

// Start attaches to the board and starts every configured source.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("boardwatch: already started")
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.ctx = ctx
	w.mu.Unlock()

	go w.loop.Run(ctx)
	w.stab.SetContext(ctx)

	if err := w.startEngine(ctx); err != nil {
		w.cancel()
		return err
	}

	host, err := w.attach(ctx)
	if err != nil {
		w.cancel()
		return err
	}

	// Prime is queued before the first notification can be.
	w.stab.Prime()
	if err := w.startSource(ctx, host); err != nil {
		w.cancel()
		return err
	}

	w.startFeeds(ctx)
	if w.cfg.Channel.URL != "" {
		w.goRun(func() { w.keepChannel(ctx) })
	}
	w.goRun(func() { w.pruneLoop(ctx) })

	w.logger.Info("boardwatch: watching", "page_id", w.cfg.Page.ID, "url", w.cfg.Page.URL)
	return nil
}

func (w *Watcher) goRun(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// attach selects the board reader and, when available, its change host.
func (w *Watcher) attach(ctx context.Context) (Host, error) {
	if w.fixedReader != nil {
		w.setReader(w.fixedReader)
		return w.fixedHost, nil
	}
	if w.cfg.Browser.Disabled {
		w.setReader(reader.NewHTML(w.cfg.Page.URL, w.cfg.Page.Selector, w.cfg.Page.Attribute))
		return nil, nil
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        w.cfg.Browser.Remote,
		Headless:         w.cfg.Browser.Headless,
		Stealth:          w.cfg.Browser.Stealth,
		MemoryLimit:      w.cfg.Browser.MemoryLimit,
		RecycleInterval:  w.cfg.Browser.RecycleInterval,
		ResourceBlocking: w.cfg.Browser.ResourceBlocking,
		Logger:           w.logger,
	})
	mgr.AfterRecycle = func(*rod.Browser) { w.reattach() }
	if _, err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("boardwatch: start browser: %w", err)
	}
	w.mu.Lock()
	w.mgr = mgr
	w.mu.Unlock()

	host, err := w.openPage(ctx)
	if err != nil {
		return nil, err
	}
	return host, nil
}

// openPage opens the board tab and installs the page host.
func (w *Watcher) openPage(ctx context.Context) (*browser.PageHost, error) {
	tab, err := browser.OpenTab(ctx, w.mgr, w.cfg.Page.URL, w.cfg.Page.ID)
	if err != nil {
		return nil, fmt.Errorf("boardwatch: open tab: %w", err)
	}
	host := browser.NewPageHost(tab, browser.HostConfig{
		Selector:  w.cfg.Page.Selector,
		Widget:    w.cfg.Page.Widget,
		Attribute: w.cfg.Page.Attribute,
	}, w.logger)
	if err := host.Install(ctx); err != nil {
		tab.Close()
		return nil, fmt.Errorf("boardwatch: install board script: %w", err)
	}

	w.mu.Lock()
	w.tab, w.host = tab, host
	w.mu.Unlock()
	w.setReader(host)

	if w.cfg.Feed.Tap != "" {
		match := w.cfg.Feed.Tap
		if match == "*" {
			match = ""
		}
		stop, err := browser.TapSockets(ctx, tab, match, func(frame []byte) { w.feedH.Handle(frame) })
		if err != nil {
			w.logger.Warn("boardwatch: socket tap failed", "error", err)
		} else {
			w.mu.Lock()
			w.stopTap = stop
			w.mu.Unlock()
		}
	}
	return host, nil
}

// reattach reopens the board after Chrome was recycled. The emission state
// survives, so an unchanged board is not re-emitted.
func (w *Watcher) reattach() {
	w.mu.Lock()
	ctx, stopped := w.ctx, w.stopped
	w.mu.Unlock()
	if stopped || ctx == nil || ctx.Err() != nil {
		return
	}

	w.detachPage()
	host, err := w.openPage(ctx)
	if err != nil {
		w.logger.Error("boardwatch: reattach failed, polling a dead page", "error", err)
		return
	}
	if err := w.startSource(ctx, host); err != nil {
		w.logger.Error("boardwatch: restart source failed", "error", err)
		return
	}
	w.stab.Notify()
	w.logger.Info("boardwatch: reattached after browser recycle", "page_id", w.cfg.Page.ID)
}

func (w *Watcher) detachPage() {
	w.mu.Lock()
	src, stopTap, host, tab := w.src, w.stopTap, w.host, w.tab
	w.src, w.stopTap, w.host, w.tab = nil, nil, nil, nil
	w.mu.Unlock()

	if src != nil {
		src.Stop()
	}
	if stopTap != nil {
		stopTap()
	}
	if host != nil {
		host.Close()
	}
	if tab != nil {
		tab.Close()
	}
}

func (w *Watcher) startSource(ctx context.Context, host Host) error {
	cfg := source.Config{
		Notify:       w.stab.Notify,
		Strategy:     w.cfg.Page.Strategy,
		Events:       w.cfg.Page.Events,
		PollInterval: w.cfg.Page.PollInterval,
		Logger:       w.logger,
	}
	if host != nil {
		cfg.Host = host
	}
	src := source.New(cfg)
	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("boardwatch: start source: %w", err)
	}
	w.mu.Lock()
	old := w.src
	w.src = src
	w.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	strategy, fellBack := src.Strategy()
	if err := w.store.UpsertPage(ctx, &store.Page{
		PageID:   w.cfg.Page.ID,
		URL:      w.cfg.Page.URL,
		Strategy: strategy.String(),
		Fallback: fellBack,
	}); err != nil {
		w.logger.Warn("boardwatch: record page failed", "error", err)
	}
	return nil
}

func (w *Watcher) startFeeds(ctx context.Context) {
	if w.cfg.Feed.URL == "" {
		return
	}
	opts := []feed.Option{feed.WithLogger(w.logger), feed.WithHeader(header(w.cfg.Feed.Headers))}
	if w.cfg.Feed.MinBackoff > 0 && w.cfg.Feed.MaxBackoff > 0 {
		opts = append(opts, feed.WithBackoff(w.cfg.Feed.MinBackoff, w.cfg.Feed.MaxBackoff))
	}
	if w.cfg.Feed.Keepalive > 0 {
		opts = append(opts, feed.WithKeepalive(w.cfg.Feed.Keepalive, []byte("null")))
	}
	client := feed.NewClient(w.cfg.Feed.URL, func(frame []byte) { w.feedH.Handle(frame) }, opts...)
	w.goRun(func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("boardwatch: feed stopped", "error", err)
		}
	})
}

// keepChannel holds the move channel open, redialling with backoff.
func (w *Watcher) keepChannel(ctx context.Context) {
	open := channel.Intercept(
		channel.DialWS(channel.WithWSHeader(header(w.cfg.Channel.Headers)), channel.WithWSLogger(w.logger)),
		channel.Hooks{
			OnOpen: func(url string, ch channel.Channel) {
				w.setChannel(ch)
				w.logger.Info("boardwatch: move channel open", "url", url)
			},
			OnSend: func(frame []byte) {
				w.logger.Debug("boardwatch: move channel send", "frame", string(frame))
			},
			OnReceive: func(frame []byte) {
				if w.cfg.Channel.Feed {
					w.feedH.Handle(frame)
				}
			},
			OnClose: func(url string) {
				w.setChannel(nil)
				w.logger.Info("boardwatch: move channel closed", "url", url)
			},
		},
	)

	backoff := 500 * time.Millisecond
	for ctx.Err() == nil {
		ch, err := open(ctx, w.cfg.Channel.URL, nil)
		if err != nil {
			w.logger.Warn("boardwatch: move channel dial failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = 500 * time.Millisecond
		waitClosed(ctx, ch)
		ch.Close()
	}
}

func waitClosed(ctx context.Context, ch channel.Channel) {
	t := time.NewTicker(250 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ch.State() == channel.Closed {
				return
			}
		}
	}
}

func (w *Watcher) pruneLoop(ctx context.Context) {
	t := time.NewTicker(w.cfg.Store.Prune)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := w.store.PruneEmissions(ctx, w.cfg.Store.Keep)
			if err != nil {
				w.logger.Warn("boardwatch: prune failed", "error", err)
			} else if n > 0 {
				w.logger.Info("boardwatch: pruned history", "deleted", n)
			}
		}
	}
}

func header(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

func (w *Watcher) read(ctx context.Context) (string, error) {
	w.mu.Lock()
	rd := w.rd
	w.mu.Unlock()
	if rd == nil {
		return "", fmt.Errorf("boardwatch: board not attached")
	}
	return rd.Read(ctx)
}

func (w *Watcher) setReader(r Reader) {
	w.mu.Lock()
	w.rd = r
	w.mu.Unlock()
}

func (w *Watcher) currentChannel() channel.Channel {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ch
}

func (w *Watcher) setChannel(ch channel.Channel) {
	w.mu.Lock()
	w.ch = ch
	w.mu.Unlock()
}

// Notify hints that the board may have changed. Hints are coalesced; the
// stabilizer decides whether anything is emitted.
func (w *Watcher) Notify() {
	w.stab.Notify()
}

// Publish emits raw directly, bypassing confirmation, as a feed would.
func (w *Watcher) Publish(raw string) {
	w.stab.Publish(raw, position.SourceFeed)
}

// HandleFeedMessage processes one feed frame. It reports whether the frame
// carried a position.
func (w *Watcher) HandleFeedMessage(frame []byte) bool {
	return w.feedH.Handle(frame)
}

// Position returns the last emitted position.
func (w *Watcher) Position() (Emission, bool) {
	return w.stab.Last()
}

// History returns the most recent emissions for the watched page, newest
// first.
func (w *Watcher) History(ctx context.Context, limit int) ([]Emission, error) {
	return w.store.RecentEmissions(ctx, w.cfg.Page.ID, limit)
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	PageID     string               `json:"page_id"`
	Strategy   string               `json:"strategy"`
	Fallback   bool                 `json:"fallback"`
	Stabilizer stabilizer.Stats     `json:"stabilizer"`
	State      stabilizer.Context   `json:"state"`
	Autoplay   bool                 `json:"autoplay"`
	Player     player.Stats         `json:"player"`
	LastMove   string               `json:"last_move,omitempty"`
	Channel    string               `json:"channel"`
	Breaker    string               `json:"engine_breaker"`
	Routes     []connectivity.Route `json:"routes"`
	Stored     int                  `json:"stored"`
}

// Stats returns the current counters.
func (w *Watcher) Stats(ctx context.Context) Stats {
	s := Stats{
		PageID:     w.cfg.Page.ID,
		Strategy:   "none",
		Stabilizer: w.stab.Stats(),
		State:      w.stab.State(),
		Autoplay:   w.player.Enabled(),
		Player:     w.player.Stats(),
		LastMove:   w.player.LastMove(),
		Channel:    "none",
		Breaker:    w.breaker.State().String(),
		Routes:     w.router.Routes(),
	}
	w.mu.Lock()
	src, ch := w.src, w.ch
	w.mu.Unlock()
	if src != nil {
		strategy, fellBack := src.Strategy()
		s.Strategy, s.Fallback = strategy.String(), fellBack
	}
	if ch != nil {
		s.Channel = ch.State().String()
	}
	if n, err := w.store.CountEmissions(ctx, w.cfg.Page.ID); err == nil {
		s.Stored = n
	}
	return s
}

// SetAutoplay turns the engine-driven player on or off.
func (w *Watcher) SetAutoplay(on bool) {
	w.player.SetEnabled(on)
	w.logger.Info("boardwatch: autoplay", "enabled", on)
}

// Stop shuts every component down. It is idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel, mgr, uci := w.cancel, w.mgr, w.uci
	w.mu.Unlock()

	w.detachPage()
	w.stab.Stop()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	w.loop.Close()

	if err := w.sinkR.Close(); err != nil {
		w.logger.Warn("boardwatch: close sinks", "error", err)
	}
	if mgr != nil {
		mgr.Close()
	}
	if uci != nil {
		if err := uci.Close(); err != nil {
			w.logger.Debug("boardwatch: engine exit", "error", err)
		}
	}
	w.router.Close()
	w.store.Close()
	w.logger.Info("boardwatch: stopped", "page_id", w.cfg.Page.ID)
}

// RegisterConnectivity registers boardwatch services on a connectivity
// router. Services: boardwatch_notify, boardwatch_position.
func (w *Watcher) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal("boardwatch_notify", w.handleNotify)
	router.RegisterLocal("boardwatch_position", w.handlePosition)
}

// handleNotify is the connectivity handler for change hints and pushed
// positions. Payload: {} or {"fen": "...", "ply": n}.
func (w *Watcher) handleNotify(_ context.Context, payload []byte) ([]byte, error) {
	if len(payload) > 0 && w.feedH.Handle(payload) {
		return json.Marshal(map[string]string{"status": "published"})
	}
	w.Notify()
	return json.Marshal(map[string]string{"status": "notified"})
}

func (w *Watcher) handlePosition(_ context.Context, _ []byte) ([]byte, error) {
	e, ok := w.Position()
	if !ok {
		return json.Marshal(map[string]any{"position": nil})
	}
	return json.Marshal(map[string]any{"position": e})
}
