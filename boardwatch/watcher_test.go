package boardwatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/boardwatch/engine"
	"github.com/hazyhaar/boardwatch/position"
)

const (
	startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	e4FEN    = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// board is a settable position source.
type board struct {
	mu  sync.Mutex
	raw string
}

func (b *board) Read(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw, nil
}

func (b *board) set(raw string) {
	b.mu.Lock()
	b.raw = raw
	b.mu.Unlock()
}

// collector records emissions.
type collector struct {
	mu   sync.Mutex
	seen []Emission
}

func (c *collector) sink() Sink {
	return NewCallbackSink(func(_ context.Context, e Emission) error {
		c.mu.Lock()
		c.seen = append(c.seen, e)
		c.mu.Unlock()
		return nil
	})
}

func (c *collector) all() []Emission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Emission(nil), c.seen...)
}

func testConfig() *Config {
	return &Config{
		Page: PageConfig{
			ID:           "test",
			URL:          "test://board",
			Strategy:     "poll",
			PollInterval: 15 * time.Millisecond,
		},
		Stabilizer: StabilizerConfig{
			SettleDelay:  10 * time.Millisecond,
			ConfirmDelay: 5 * time.Millisecond,
			Timeout:      200 * time.Millisecond,
		},
		Store: StoreConfig{Prune: time.Hour},
	}
}

func startWatcher(t *testing.T, cfg *Config, b *board, opts ...Option) (*Watcher, *collector) {
	t.Helper()
	c := &collector{}
	w, err := New(cfg, discard, []Sink{c.sink()}, append([]Option{WithReader(b)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w, c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatcher_EmitsOncePerChange(t *testing.T) {
	b := &board{raw: startFEN}
	w, c := startWatcher(t, testConfig(), b)

	// The startup position is primed, not emitted.
	time.Sleep(100 * time.Millisecond)
	if n := len(c.all()); n != 0 {
		t.Fatalf("startup emissions: got %d, want 0", n)
	}

	b.set(e4FEN)
	waitFor(t, "e4 emission", func() bool { return len(c.all()) == 1 })

	// Polling keeps notifying; the unchanged board is never re-emitted.
	time.Sleep(150 * time.Millisecond)
	got := c.all()
	if len(got) != 1 {
		t.Fatalf("emissions: got %d, want 1", len(got))
	}
	e := got[0]
	if e.Raw != e4FEN || e.Position.Active != "b" || e.Source != position.SourceStabilizer || e.PageID != "test" {
		t.Errorf("emission: got %+v", e)
	}

	hist, err := w.History(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].ID != e.ID {
		t.Errorf("history: got %+v", hist)
	}
	if last, ok := w.Position(); !ok || last.ID != e.ID {
		t.Errorf("Position: got %+v, %v", last, ok)
	}

	st := w.Stats(context.Background())
	if st.Strategy != "poll" || st.Stored != 1 || st.Stabilizer.Emissions != 1 {
		t.Errorf("stats: got %+v", st)
	}
}

func TestWatcher_FeedBypassesStabilizer(t *testing.T) {
	// An unreadable board keeps the stabilizer out of the way.
	w, c := startWatcher(t, testConfig(), &board{})

	if !w.HandleFeedMessage([]byte(`{"t":"fen","d":{"fen":"8/8/8/8/8/8/8/K6k","ply":3}}`)) {
		t.Fatal("feed message not recognised")
	}
	if w.HandleFeedMessage([]byte(`{"t":"crowd","d":{"nb":12}}`)) {
		t.Fatal("message without a position was handled")
	}
	waitFor(t, "feed emission", func() bool { return len(c.all()) == 1 })

	e := c.all()[0]
	if e.Source != position.SourceFeed || e.Position.Placement != "8/8/8/8/8/8/8/K6k" || e.Position.Active != "b" {
		t.Errorf("feed emission: got %+v", e)
	}
	// Feed emissions update the emission state.
	if st := w.Stats(context.Background()).State; st.LastPlacement != "8/8/8/8/8/8/8/K6k" || st.LastActive != "b" {
		t.Errorf("state: got %+v", st)
	}
}

func TestWatcher_BestMove(t *testing.T) {
	var gotFEN string
	fake := engine.Func(func(_ context.Context, fen string, _ time.Duration) (engine.Move, error) {
		gotFEN = fen
		return "h1g1", nil
	})
	w, err := New(testConfig(), discard, nil, WithReader(&board{}), WithEngine(fake))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	m, full, err := w.BestMove(context.Background(), "8/8/8/8/8/8/8/K6k")
	if err != nil {
		t.Fatal(err)
	}
	if m != "h1g1" {
		t.Errorf("move: got %q", m)
	}
	if full != "8/8/8/8/8/8/8/K6k w - - 0 1" || gotFEN != full {
		t.Errorf("fen: got %q, engine saw %q", full, gotFEN)
	}

	if _, _, err := w.BestMove(context.Background(), ""); err == nil {
		t.Error("expected error without an emitted position")
	}
}

func TestWatcher_NoopEngineRoute(t *testing.T) {
	w, _ := startWatcher(t, testConfig(), &board{raw: startFEN})
	if _, _, err := w.BestMove(context.Background(), startFEN); !errors.Is(err, engine.ErrNoMove) {
		t.Fatalf("got %v, want ErrNoMove", err)
	}
	routes := w.Stats(context.Background()).Routes
	if len(routes) != 1 || routes[0].Service != "engine" || routes[0].Strategy != "noop" {
		t.Errorf("routes: got %+v", routes)
	}
}

func TestWatcher_HTTPEngineRoute(t *testing.T) {
	handler := engine.AsHandler(engine.Func(func(context.Context, string, time.Duration) (engine.Move, error) {
		return "d2d4", nil
	}))
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		resp, err := handler(r.Context(), body)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		rw.Write(resp)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Engine.Strategy = "http"
	cfg.Engine.Endpoint = srv.URL
	w, _ := startWatcher(t, cfg, &board{raw: startFEN})

	m, _, err := w.BestMove(context.Background(), startFEN)
	if err != nil || m != "d2d4" {
		t.Fatalf("got %q, %v", m, err)
	}
}

func TestWatcher_ConnectivityServices(t *testing.T) {
	w, c := startWatcher(t, testConfig(), &board{})

	resp, err := w.router.Call(context.Background(), "boardwatch_notify", []byte(`{"fen":"8/8/8/8/8/8/8/K6k w"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(resp), "published") {
		t.Errorf("notify: got %s", resp)
	}
	waitFor(t, "published emission", func() bool { return len(c.all()) == 1 })

	resp, err = w.router.Call(context.Background(), "boardwatch_position", nil)
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Position *Emission `json:"position"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		t.Fatal(err)
	}
	if body.Position == nil || body.Position.Position.Placement != "8/8/8/8/8/8/8/K6k" {
		t.Errorf("position: got %s", resp)
	}
}

func TestWatcher_AutoplayOverMoveChannel(t *testing.T) {
	moves := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		replied := false
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			moves <- string(data)
			if replied {
				continue
			}
			replied = true
			// Answer the first move with the opponent's reply as a feed frame.
			conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"t":"fen","d":{"fen":"rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR","ply":2}}`))
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Channel.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Channel.Feed = true
	cfg.Engine.Autoplay = true
	cfg.Engine.Color = "w"
	fake := engine.Func(func(_ context.Context, fen string, _ time.Duration) (engine.Move, error) {
		if strings.HasPrefix(fen, "rnbqkbnr/pppppppp/") {
			return "e2e4", nil
		}
		return "g1f3", nil
	})
	w, c := startWatcher(t, cfg, &board{}, WithEngine(fake))

	waitFor(t, "channel open", func() bool { return w.Stats(context.Background()).Channel == "open" })

	w.Publish(startFEN)
	select {
	case got := <-moves:
		if got != `{"t":"move","d":{"u":"e2e4","a":1}}` {
			t.Errorf("move frame: got %s", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no move submitted")
	}

	// The reply arrives on the channel, is emitted as a feed position with
	// white to move, and the player answers it.
	waitFor(t, "reply emission", func() bool { return len(c.all()) == 2 })
	if e := c.all()[1]; e.Source != position.SourceFeed || e.Position.Active != "w" {
		t.Errorf("reply emission: got %+v", e)
	}
	select {
	case got := <-moves:
		if got != `{"t":"move","d":{"u":"g1f3","a":2}}` {
			t.Errorf("second move frame: got %s", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reply move submitted")
	}

	waitFor(t, "player stats", func() bool { return w.Stats(context.Background()).Player.Submitted == 2 })
	if lm := w.Stats(context.Background()).LastMove; lm != "g1f3" {
		t.Errorf("last move: got %q", lm)
	}
}

func TestWatcher_StartTwice(t *testing.T) {
	w, _ := startWatcher(t, testConfig(), &board{raw: startFEN})
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected error on second Start")
	}
}

func TestSinksFromConfig(t *testing.T) {
	cfg := &Config{Sinks: []SinkConfig{{Type: "stdout"}, {Type: "webhook", URL: "http://127.0.0.1:1/hook"}}}
	if got := SinksFromConfig(cfg, discard); len(got) != 2 {
		t.Errorf("sinks: got %d, want 2", len(got))
	}
	if got := SinksFromConfig(&Config{}, discard); len(got) != 1 {
		t.Errorf("default sinks: got %d, want 1", len(got))
	}
}
