package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"
)

// websocket opcode for text frames
const opText = 1

// frameFilter remembers which websocket requests match a URL substring.
type frameFilter struct {
	match string
	mu    sync.Mutex
	ids   map[proto.NetworkRequestID]bool
}

func newFrameFilter(match string) *frameFilter {
	return &frameFilter{match: match, ids: make(map[proto.NetworkRequestID]bool)}
}

func (f *frameFilter) created(id proto.NetworkRequestID, url string) {
	if f.match != "" && !strings.Contains(url, f.match) {
		return
	}
	f.mu.Lock()
	f.ids[id] = true
	f.mu.Unlock()
}

func (f *frameFilter) closed(id proto.NetworkRequestID) {
	f.mu.Lock()
	delete(f.ids, id)
	f.mu.Unlock()
}

func (f *frameFilter) accepts(id proto.NetworkRequestID, opcode float64) bool {
	if opcode != opText {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[id]
}

// TapSockets delivers text frames received by the tab's websockets whose URL
// contains match (every socket when match is empty). Sockets opened before
// the tap are not seen. The tap runs until the returned stop is called or
// ctx ends.
func TapSockets(ctx context.Context, tab *Tab, match string, onFrame func([]byte)) (stop func(), err error) {
	if err := (proto.NetworkEnable{}).Call(tab.Page); err != nil {
		return nil, fmt.Errorf("browser: network enable: %w", err)
	}
	f := newFrameFilter(match)
	tctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tab.Page.Context(tctx).EachEvent(
			func(e *proto.NetworkWebSocketCreated) { f.created(e.RequestID, e.URL) },
			func(e *proto.NetworkWebSocketClosed) { f.closed(e.RequestID) },
			func(e *proto.NetworkWebSocketFrameReceived) {
				if e.Response != nil && f.accepts(e.RequestID, e.Response.Opcode) {
					onFrame([]byte(e.Response.PayloadData))
				}
			},
		)()
	}()
	return func() {
		cancel()
		<-done
	}, nil
}
