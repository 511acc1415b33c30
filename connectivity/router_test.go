package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/boardwatch/dbopen"
)

func echo(prefix string) Handler {
	return func(_ context.Context, payload []byte) ([]byte, error) {
		return append([]byte(prefix), payload...), nil
	}
}

func TestCall_LocalWithoutRoute(t *testing.T) {
	r := New()
	r.RegisterLocal("engine", echo("local:"))
	resp, err := r.Call(context.Background(), "engine", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "local:x" {
		t.Fatalf("got %q, want %q", resp, "local:x")
	}
}

func TestCall_ServiceNotFound(t *testing.T) {
	_, err := New().Call(context.Background(), "engine", nil)
	var snf *ErrServiceNotFound
	if !errors.As(err, &snf) || snf.Service != "engine" {
		t.Fatalf("got %v, want ErrServiceNotFound{engine}", err)
	}
}

func TestReload_Strategies(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	ctx := context.Background()
	r := New()
	r.RegisterLocal("engine", echo("local:"))

	var closed atomic.Int32
	r.RegisterTransport("http", func(endpoint string, _ json.RawMessage) (Handler, func(), error) {
		return echo("remote:" + endpoint + ":"), func() { closed.Add(1) }, nil
	})

	if err := Upsert(ctx, db, Route{Service: "engine", Strategy: "http", Endpoint: "http://a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(ctx, db); err != nil {
		t.Fatal(err)
	}
	if resp, _ := r.Call(ctx, "engine", []byte("x")); string(resp) != "remote:http://a:x" {
		t.Errorf("http route: got %q", resp)
	}

	// Unchanged route keeps its handler.
	if err := r.Reload(ctx, db); err != nil {
		t.Fatal(err)
	}
	if closed.Load() != 0 {
		t.Errorf("unchanged route was rebuilt")
	}

	Upsert(ctx, db, Route{Service: "engine", Strategy: "http", Endpoint: "http://b"})
	r.Reload(ctx, db)
	if closed.Load() != 1 {
		t.Errorf("changed route: close calls = %d, want 1", closed.Load())
	}
	if resp, _ := r.Call(ctx, "engine", []byte("x")); string(resp) != "remote:http://b:x" {
		t.Errorf("changed route: got %q", resp)
	}

	Upsert(ctx, db, Route{Service: "engine", Strategy: "noop"})
	r.Reload(ctx, db)
	if resp, err := r.Call(ctx, "engine", []byte("x")); resp != nil || err != nil {
		t.Errorf("noop: got %q, %v", resp, err)
	}
	if closed.Load() != 2 {
		t.Errorf("removed remote: close calls = %d, want 2", closed.Load())
	}

	Upsert(ctx, db, Route{Service: "engine", Strategy: "local"})
	r.Reload(ctx, db)
	if resp, _ := r.Call(ctx, "engine", []byte("x")); string(resp) != "local:x" {
		t.Errorf("local: got %q", resp)
	}

	routes := r.Routes()
	if len(routes) != 1 || routes[0].Strategy != "local" {
		t.Errorf("Routes: got %+v", routes)
	}
}

func TestReload_RejectsUnknownStrategy(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	err := Upsert(context.Background(), db, Route{Service: "engine", Strategy: "quic"})
	if err == nil {
		t.Fatal("expected CHECK constraint failure")
	}
}

func TestWatch_InitialLoad(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	Upsert(context.Background(), db, Route{Service: "engine", Strategy: "noop"})
	r := New()
	r.RegisterLocal("engine", echo("local:"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Watch(ctx, db, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(r.Routes()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if resp, err := r.Call(ctx, "engine", []byte("x")); resp != nil || err != nil {
		t.Errorf("noop after initial load: got %q, %v", resp, err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestHTTPFactory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		w.Write(append([]byte("ok:"), body...))
	}))
	defer srv.Close()

	h, closeFn, err := HTTPFactory(time.Second)(srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	resp, err := h(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "ok:{}" {
		t.Errorf("got %q", resp)
	}

	if _, _, err := HTTPFactory(time.Second)("ftp://x", nil); err == nil {
		t.Error("expected error for non-http endpoint")
	}
}

func TestHTTPFactory_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "engine down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	h, _, _ := HTTPFactory(time.Second)(srv.URL, json.RawMessage(`{"timeout_ms":500}`))
	if _, err := h(context.Background(), nil); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestWithRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := func(context.Context, []byte) ([]byte, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return []byte("ok"), nil
	}
	resp, err := WithRetry(3, time.Millisecond, nil)(flaky)(context.Background(), nil)
	if err != nil || string(resp) != "ok" {
		t.Fatalf("got %q, %v", resp, err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestWithRetry_CircuitOpenNotRetried(t *testing.T) {
	var calls atomic.Int32
	h := func(context.Context, []byte) ([]byte, error) {
		calls.Add(1)
		return nil, &ErrCircuitOpen{Service: "engine"}
	}
	WithRetry(5, time.Millisecond, nil)(h)(context.Background(), nil)
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(
		WithBreakerThreshold(2),
		WithBreakerResetTimeout(time.Second),
		WithBreakerHalfOpenMax(1),
		WithBreakerClock(func() time.Time { return now }),
	)
	fail := func(context.Context, []byte) ([]byte, error) { return nil, errors.New("down") }
	h := WithCircuitBreaker(cb, "engine")(fail)

	h(context.Background(), nil)
	h(context.Background(), nil)
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	var open *ErrCircuitOpen
	if _, err := h(context.Background(), nil); !errors.As(err, &open) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}

	now = now.Add(time.Second)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}
	ok := WithCircuitBreaker(cb, "engine")(echo(""))
	ok(context.Background(), nil)
	if cb.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestWithFallback(t *testing.T) {
	fail := func(context.Context, []byte) ([]byte, error) { return nil, errors.New("down") }
	h := WithFallback(echo("local:"), "engine", nil)(fail)
	resp, err := h(context.Background(), []byte("x"))
	if err != nil || string(resp) != "local:x" {
		t.Fatalf("got %q, %v", resp, err)
	}
}

func TestRecovery(t *testing.T) {
	boom := func(context.Context, []byte) ([]byte, error) { panic("boom") }
	_, err := Recovery(slog.New(slog.NewTextHandler(io.Discard, nil)))(boom)(context.Background(), nil)
	var p *ErrPanic
	if !errors.As(err, &p) {
		t.Fatalf("got %v, want ErrPanic", err)
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) HandlerMiddleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, p []byte) ([]byte, error) {
				order = append(order, name)
				return next(ctx, p)
			}
		}
	}
	Chain(mw("a"), mw("b"))(echo(""))(context.Background(), nil)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v", order)
	}
}
