// Package channel provides the outbound move-submission channel.
//
// A Channel is a long-lived, send-capable connection with a known state.
// Submissions are only attempted while the channel reports Open; anything
// sent in another state is dropped without retry.
//
//	open := channel.Intercept(channel.DialWS(), channel.Hooks{
//		OnSend: func(b []byte) { logger.Debug("outbound", "frame", string(b)) },
//	})
//	ch, err := open(ctx, url, feedHandler.Handle)
//	channel.Submit(ctx, ch, channel.MoveSubmission{Move: "e2e4"})
package channel

import (
	"context"
	"encoding/json"
	"fmt"
)

// State is the connection state of a Channel.
type State int32

const (
	Connecting State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Channel is a send-capable connection.
type Channel interface {
	// State returns the current connection state.
	State() State

	// Send pushes one frame. It fails when the channel is not open.
	Send(ctx context.Context, frame []byte) error

	// Close shuts the connection down. It is idempotent.
	Close() error
}

// Opener opens a channel to url. Inbound frames are passed to onReceive,
// which may be nil.
type Opener func(ctx context.Context, url string, onReceive func([]byte)) (Channel, error)

// ErrSendFailed is returned when a frame could not be written.
type ErrSendFailed struct {
	URL   string
	State State
	Cause error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("channel: send failed on %s (%s): %v", e.URL, e.State, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }

// MoveSubmission is a computed move to hand back to the remote service.
type MoveSubmission struct {
	// Move is the compact origin/destination token, e.g. "e2e4" or "e7e8q".
	Move string
	// Ack is the client acknowledgement counter echoed by the server.
	Ack int
}

type moveFrame struct {
	T string   `json:"t"`
	D moveData `json:"d"`
}

type moveData struct {
	U string `json:"u"`
	A int    `json:"a"`
}

// Payload encodes the submission as {"t":"move","d":{"u":"e2e4","a":1}}.
func (m MoveSubmission) Payload() ([]byte, error) {
	if m.Move == "" {
		return nil, fmt.Errorf("channel: empty move")
	}
	return json.Marshal(moveFrame{T: "move", D: moveData{U: m.Move, A: m.Ack}})
}

// Submit sends m if ch is open. It reports whether the submission was
// written; a channel in any other state drops it silently.
func Submit(ctx context.Context, ch Channel, m MoveSubmission) (bool, error) {
	if ch == nil || ch.State() != Open {
		return false, nil
	}
	frame, err := m.Payload()
	if err != nil {
		return false, err
	}
	if err := ch.Send(ctx, frame); err != nil {
		return false, err
	}
	return true, nil
}
