// Package gateway implements the Gateway half of the platform: the
// single-Worker WebSocket session (§4.A–§4.B) and the public HTTP API
// that submits idempotent action requests to it (§5).
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nodebridge/relay/pkg/config"
	"github.com/nodebridge/relay/pkg/log"
	"github.com/nodebridge/relay/pkg/metrics"
	"github.com/nodebridge/relay/pkg/types"
)

// ErrNoAgent is returned by Session.SendAction and friends when no
// Worker is currently connected.
var ErrNoAgent = fmt.Errorf("no agent connected")

// Session owns the single Worker WebSocket connection the Gateway
// accepts at a time, and the request_id -> waiter correlation map for
// in-flight action requests (§4.B).
type Session struct {
	authToken string

	mu   sync.Mutex
	conn *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan types.Response

	connected chan struct{} // closed and replaced whenever state flips to connected
}

// NewSession builds an empty Session; no Worker is connected yet.
func NewSession(authToken string) *Session {
	return &Session{
		authToken: authToken,
		pending:   make(map[string]chan types.Response),
		connected: make(chan struct{}),
	}
}

// IsConnected reports whether a Worker currently holds the session.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the inbound request to a WebSocket, enforces the
// Bearer-token auth and single-Worker invariant, and blocks reading
// frames from the Worker until it disconnects.
func (s *Session) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponent("gateway.session")

	token := bearerToken(r.Header.Get("Authorization"))
	if token != s.authToken {
		logger.Warn().Msg("rejected worker connection: invalid token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err == nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(4001, "Unauthorized"), time.Now().Add(time.Second))
			conn.Close()
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		logger.Warn().Msg("rejected worker connection: one already connected")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4002, "Another agent is already connected"), time.Now().Add(time.Second))
		conn.Close()
		return
	}
	conn.SetReadLimit(config.MaxFrameBytes)
	s.conn = conn
	close(s.connected)
	s.connected = make(chan struct{})
	s.mu.Unlock()

	metrics.WorkerConnected.Set(1)
	logger.Info().Str("remote", r.RemoteAddr).Msg("agent connected")

	s.readLoop(conn)

	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()

	metrics.WorkerConnected.Set(0)
	s.failAllPending(fmt.Errorf("agent disconnected"))
	logger.Info().Msg("agent connection cleaned up")
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func (s *Session) readLoop(conn *websocket.Conn) {
	logger := log.WithComponent("gateway.session")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info().Err(err).Msg("agent disconnected")
			return
		}
		s.onMessage(data)
	}
}

func (s *Session) onMessage(data []byte) {
	logger := log.WithComponent("gateway.session")

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.Warn().Msg("non-JSON frame from agent, ignoring")
		return
	}

	switch envelope.Type {
	case "agent_hello":
		var hello struct {
			Capabilities []string `json:"capabilities"`
		}
		_ = json.Unmarshal(data, &hello)
		logger.Info().Strs("capabilities", hello.Capabilities).Msg("agent hello received")
	case "action_response":
		var resp types.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			logger.Warn().Err(err).Msg("malformed action_response")
			return
		}
		s.resolvePending(resp)
	case "emergency_stop_ack", "resume_ack":
		logger.Info().Str("type", envelope.Type).Msg("agent acknowledged")
	case "pong":
	default:
		logger.Debug().Str("type", envelope.Type).Msg("unhandled agent message type")
	}
}

func (s *Session) resolvePending(resp types.Response) {
	s.pendingMu.Lock()
	ch, ok := s.pending[resp.RequestID]
	if ok {
		delete(s.pending, resp.RequestID)
	}
	s.pendingMu.Unlock()

	if !ok {
		log.WithComponent("gateway.session").Warn().Str("request_id", resp.RequestID).Msg("response for unknown/expired request_id")
		return
	}
	ch <- resp
}

func (s *Session) failAllPending(err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for rid, ch := range s.pending {
		ch <- types.Response{RequestID: rid, Status: "error", Error: err.Error()}
		delete(s.pending, rid)
	}
}

func (s *Session) writeJSON(v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNoAgent
	}
	return conn.WriteJSON(v)
}

// SendAction submits req to the connected Worker and blocks until its
// response arrives or ctx is cancelled. A req.RequestID is generated
// if the caller didn't set one.
func (s *Session) SendAction(ctx context.Context, req types.Request) (types.Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	req.Type = "action_request"

	ch := make(chan types.Response, 1)
	s.pendingMu.Lock()
	s.pending[req.RequestID] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, req.RequestID)
		s.pendingMu.Unlock()
	}()

	if err := s.writeJSON(req); err != nil {
		return types.Response{}, err
	}
	log.WithComponent("gateway.session").Info().Str("action", req.Action).Str("request_id", req.RequestID).Msg("sent action to agent")

	select {
	case resp := <-ch:
		if resp.Type != "action_response" {
			// Synthetic reply from failAllPending: the Worker dropped
			// before answering, so the request was never completed.
			return types.Response{}, fmt.Errorf("%s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return types.Response{}, ctx.Err()
	}
}

// SendEmergencyStop sends the emergency_stop control frame.
func (s *Session) SendEmergencyStop() error {
	if err := s.writeJSON(map[string]string{"type": "emergency_stop"}); err != nil {
		return err
	}
	log.WithComponent("gateway.session").Warn().Msg("emergency stop sent to agent")
	return nil
}

// SendResume sends the resume control frame.
func (s *Session) SendResume() error {
	if err := s.writeJSON(map[string]string{"type": "resume"}); err != nil {
		return err
	}
	log.WithComponent("gateway.session").Info().Msg("resume sent to agent")
	return nil
}
