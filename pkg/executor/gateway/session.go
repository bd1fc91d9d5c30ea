package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Gateway RPC frame types. The protocol is JSON over one websocket:
//
//	Request:  { "type": "req",   "id": string, "method": string, "params": object }
//	Response: { "type": "res",   "id": string, "ok": boolean, "payload"?: any, "error"?: any }
//	Event:    { "type": "event", "event": string, "payload": any, "seq"?: number }
//
// An agent run is one "agent" request followed by streamed events until
// agent.turn.done or agent.error.
const (
	frameReq   = "req"
	frameRes   = "res"
	frameEvent = "event"
)

type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  map[string]any  `json:"params,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

var errSessionClosed = errors.New("gateway session closed")

// Session is one authenticated websocket connection to the gateway.
// It supports one agent run at a time; the adapter serializes access.
type Session struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan frame

	events chan frame

	closeOnce sync.Once
	closed    chan struct{}
	err       error
}

// DialSession connects to the gateway websocket and performs the connect
// handshake with the given token
func DialSession(ctx context.Context, wsURL, token string, header http.Header) (*Session, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("gateway dial %s: %w", wsURL, err)
	}

	s := &Session{
		conn:    conn,
		pending: make(map[string]chan frame),
		events:  make(chan frame, 64),
		closed:  make(chan struct{}),
	}
	go s.readLoop()

	if _, err := s.call(ctx, "connect", map[string]any{"token": token, "client": "zulu"}); err != nil {
		s.Close()
		return nil, fmt.Errorf("gateway handshake: %w", err)
	}
	return s, nil
}

// Alive reports whether the session can still carry frames
func (s *Session) Alive() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// Close tears down the connection. Pending calls and runs unblock with an
// error.
func (s *Session) Close() {
	s.fail(errSessionClosed)
}

func (s *Session) fail(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.closed)
		_ = s.conn.Close()
	})
}

func (s *Session) readLoop() {
	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			s.fail(err)
			return
		}
		switch f.Type {
		case frameRes:
			s.pendingMu.Lock()
			ch := s.pending[f.ID]
			delete(s.pending, f.ID)
			s.pendingMu.Unlock()
			if ch != nil {
				ch <- f
			}
		case frameEvent:
			select {
			case s.events <- f:
			case <-s.closed:
				return
			}
		}
	}
}

// call sends one request frame and waits for its response
func (s *Session) call(ctx context.Context, method string, params map[string]any) (frame, error) {
	id := uuid.NewString()
	ch := make(chan frame, 1)

	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()

	s.writeMu.Lock()
	err := s.conn.WriteJSON(frame{Type: frameReq, ID: id, Method: method, Params: params})
	s.writeMu.Unlock()
	if err != nil {
		s.dropPending(id)
		return frame{}, err
	}

	select {
	case f := <-ch:
		if !f.OK {
			return f, fmt.Errorf("gateway %s failed: %s", method, string(f.Error))
		}
		return f, nil
	case <-ctx.Done():
		s.dropPending(id)
		return frame{}, ctx.Err()
	case <-s.closed:
		return frame{}, s.closedErr()
	}
}

// RunAgent sends one agent turn and collects the streamed text until the
// turn completes
func (s *Session) RunAgent(ctx context.Context, sessionID, message string) (string, error) {
	if _, err := s.call(ctx, "agent", map[string]any{
		"message":    message,
		"session_id": sessionID,
	}); err != nil {
		return "", err
	}

	var text string
	for {
		select {
		case f := <-s.events:
			switch f.Event {
			case "agent.text.delta":
				text += eventText(f.Payload)
			case "agent.text.done":
				// The done event carries the full text when present
				if t := eventText(f.Payload); t != "" {
					text = t
				}
			case "agent.turn.done":
				return text, nil
			case "agent.error":
				return "", fmt.Errorf("agent error: %s", eventMessage(f.Payload))
			}
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.closed:
			return "", s.closedErr()
		}
	}
}

func (s *Session) dropPending(id string) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

func (s *Session) closedErr() error {
	if s.err != nil && !errors.Is(s.err, errSessionClosed) {
		return fmt.Errorf("gateway session closed: %w", s.err)
	}
	return errSessionClosed
}

func eventText(payload json.RawMessage) string {
	var p struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(payload, &p)
	return p.Text
}

func eventMessage(payload json.RawMessage) string {
	var p struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(payload, &p)
	if p.Message != "" {
		return p.Message
	}
	if p.Error != "" {
		return p.Error
	}
	return string(payload)
}

// gatewayURL converts the HTTP base URL into the websocket endpoint
func gatewayURL(base string) string {
	ws := base
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimRight(ws, "/") + "/gateway"
}
