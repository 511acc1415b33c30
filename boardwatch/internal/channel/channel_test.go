package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeChannel struct {
	state State
	sent  [][]byte
	err   error
}

func (f *fakeChannel) State() State { return f.state }

func (f *fakeChannel) Send(_ context.Context, frame []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeChannel) Close() error {
	f.state = Closed
	return nil
}

func TestMoveSubmission_Payload(t *testing.T) {
	b, err := MoveSubmission{Move: "e2e4", Ack: 3}.Payload()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"t":"move","d":{"u":"e2e4","a":3}}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
	if _, err := (MoveSubmission{}).Payload(); err == nil {
		t.Error("expected error for empty move")
	}
}

func TestSubmit_DropsWhenNotOpen(t *testing.T) {
	for _, st := range []State{Connecting, Closing, Closed} {
		ch := &fakeChannel{state: st}
		sent, err := Submit(context.Background(), ch, MoveSubmission{Move: "e2e4"})
		if sent || err != nil {
			t.Errorf("%s: sent=%v err=%v, want silent drop", st, sent, err)
		}
		if len(ch.sent) != 0 {
			t.Errorf("%s: frame written on non-open channel", st)
		}
	}
	if sent, err := Submit(context.Background(), nil, MoveSubmission{Move: "e2e4"}); sent || err != nil {
		t.Errorf("nil channel: sent=%v err=%v", sent, err)
	}
}

func TestSubmit_Open(t *testing.T) {
	ch := &fakeChannel{state: Open}
	sent, err := Submit(context.Background(), ch, MoveSubmission{Move: "g1f3"})
	if !sent || err != nil {
		t.Fatalf("sent=%v err=%v", sent, err)
	}
	if len(ch.sent) != 1 || !strings.Contains(string(ch.sent[0]), `"u":"g1f3"`) {
		t.Errorf("frames: got %q", ch.sent)
	}
}

func TestSubmit_SendError(t *testing.T) {
	ch := &fakeChannel{state: Open, err: errors.New("broken pipe")}
	if sent, err := Submit(context.Background(), ch, MoveSubmission{Move: "g1f3"}); sent || err == nil {
		t.Errorf("sent=%v err=%v, want error", sent, err)
	}
}

func TestIntercept_Hooks(t *testing.T) {
	fake := &fakeChannel{state: Open}
	var deliver func([]byte)
	open := func(_ context.Context, _ string, onReceive func([]byte)) (Channel, error) {
		deliver = onReceive
		return fake, nil
	}

	var opened, closed string
	var out, in []string
	var got []string
	wrapped := Intercept(open, Hooks{
		OnOpen:    func(url string, _ Channel) { opened = url },
		OnSend:    func(b []byte) { out = append(out, string(b)) },
		OnReceive: func(b []byte) { in = append(in, string(b)) },
		OnClose:   func(url string) { closed = url },
	})

	ch, err := wrapped(context.Background(), "ws://board", func(b []byte) { got = append(got, string(b)) })
	if err != nil {
		t.Fatal(err)
	}
	if opened != "ws://board" {
		t.Errorf("OnOpen: got %q", opened)
	}
	if ch.State() != Open {
		t.Errorf("state: got %v", ch.State())
	}

	if _, err := Submit(context.Background(), ch, MoveSubmission{Move: "e2e4", Ack: 1}); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || len(fake.sent) != 1 {
		t.Errorf("OnSend saw %d frames, channel saw %d", len(out), len(fake.sent))
	}

	deliver([]byte(`{"t":"n"}`))
	if len(in) != 1 || len(got) != 1 {
		t.Errorf("OnReceive saw %d, caller saw %d", len(in), len(got))
	}

	ch.Close()
	if closed != "ws://board" || ch.State() != Closed {
		t.Errorf("close: hook=%q state=%v", closed, ch.State())
	}
}

func TestIntercept_OpenError(t *testing.T) {
	called := false
	open := func(context.Context, string, func([]byte)) (Channel, error) {
		return nil, errors.New("refused")
	}
	_, err := Intercept(open, Hooks{OnOpen: func(string, Channel) { called = true }})(context.Background(), "ws://x", nil)
	if err == nil || called {
		t.Errorf("err=%v OnOpen called=%v", err, called)
	}
}

func TestDialWS_RoundTrip(t *testing.T) {
	received := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"t":"fen","d":{"fen":"8/8/8/8/8/8/8/8","ply":1}}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	}))
	defer srv.Close()

	var mu sync.Mutex
	var inbound []string
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ch, err := DialWS()(context.Background(), url, func(b []byte) {
		mu.Lock()
		inbound = append(inbound, string(b))
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	if ch.State() != Open {
		t.Fatalf("state: got %v", ch.State())
	}

	if sent, err := Submit(context.Background(), ch, MoveSubmission{Move: "e7e5", Ack: 2}); !sent || err != nil {
		t.Fatalf("sent=%v err=%v", sent, err)
	}
	select {
	case got := <-received:
		if got != `{"t":"move","d":{"u":"e7e5","a":2}}` {
			t.Errorf("server got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the move")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(inbound)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	if len(inbound) != 1 {
		t.Errorf("inbound frames: got %d", len(inbound))
	}
	mu.Unlock()

	if err := ch.Close(); err != nil {
		t.Logf("close: %v", err)
	}
	if ch.State() != Closed {
		t.Errorf("state after close: got %v", ch.State())
	}
	if sent, _ := Submit(context.Background(), ch, MoveSubmission{Move: "e7e5"}); sent {
		t.Error("submission on closed channel must be dropped")
	}
}

func TestDialWS_Refused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()
	if _, err := DialWS()(context.Background(), url, nil); err == nil {
		t.Error("expected dial error")
	}
}

func TestState_String(t *testing.T) {
	if Open.String() != "open" || Closed.String() != "closed" || State(9).String() != "unknown" {
		t.Error("unexpected State strings")
	}
}
