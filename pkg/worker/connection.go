package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodebridge/relay/pkg/config"
	"github.com/nodebridge/relay/pkg/executor"
	"github.com/nodebridge/relay/pkg/log"
	"github.com/nodebridge/relay/pkg/metrics"
	"github.com/nodebridge/relay/pkg/security"
	"github.com/nodebridge/relay/pkg/types"
)

const agentVersion = "1.0.0"

// Connection owns the Worker's single outbound WebSocket session to
// the Gateway: connect, handshake, ping/pong keep-alive, dispatch,
// and reconnect with capped exponential backoff (§4.G).
type Connection struct {
	cfg    config.WorkerConfig
	router *Router
	dialer *websocket.Dialer
}

// NewConnection builds a Connection ready to Run.
func NewConnection(cfg config.WorkerConfig, router *Router) *Connection {
	return &Connection{
		cfg:    cfg,
		router: router,
		dialer: &websocket.Dialer{
			TLSClientConfig:  security.InsecureClientTLSConfig(),
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Run loops forever: connect, handshake, dispatch frames until
// disconnect, then sleep with capped exponential backoff and retry.
// Returns only when ctx is cancelled.
func (c *Connection) Run(ctx context.Context) {
	delay := c.cfg.ReconnectDelay
	logger := log.WithComponent("worker.connection")

	for {
		if ctx.Err() != nil {
			return
		}
		metrics.ReconnectAttemptsTotal.Inc()
		if err := c.connectAndListen(ctx); err != nil {
			metrics.WorkerConnected.Set(0)
			logger.Warn().Err(err).Msg("connection dropped, will reconnect")
		} else {
			delay = c.cfg.ReconnectDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxReconnectWait {
			delay = c.cfg.MaxReconnectWait
		}
	}
}

func (c *Connection) connectAndListen(ctx context.Context) error {
	logger := log.WithComponent("worker.connection")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.AuthToken)

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.GatewayURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial gateway (status %s): %w", resp.Status, err)
		}
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(config.MaxFrameBytes)
	logger.Info().Msg("connected to gateway")

	if err := c.sendHello(conn); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	metrics.WorkerConnected.Set(1)
	defer metrics.WorkerConnected.Set(0)

	return c.dispatchLoop(ctx, conn)
}

func (c *Connection) sendHello(conn *websocket.Conn) error {
	hello := map[string]any{
		"type":          "agent_hello",
		"agent_version": agentVersion,
		"capabilities":  capabilityList(),
	}
	return conn.WriteJSON(hello)
}

func (c *Connection) dispatchLoop(ctx context.Context, conn *websocket.Conn) error {
	logger := log.WithComponent("worker.connection")

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PingInterval + c.cfg.PingTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PingInterval + c.cfg.PingTimeout))

	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	frames := make(chan []byte)
	readErrs := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErrs <- err
				return
			}
			frames <- data
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErrs:
			return fmt.Errorf("read frame: %w", err)
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.PingTimeout)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case data := <-frames:
			if err := c.handleFrame(ctx, conn, data); err != nil {
				logger.Warn().Err(err).Msg("error handling frame")
			}
		}
	}
}

func (c *Connection) handleFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		log.WithComponent("worker.connection").Debug().Msg("ignoring non-JSON frame")
		return nil
	}

	frameType := envelope.Type
	if frameType == "" {
		frameType = "action_request"
	}

	switch frameType {
	case "emergency_stop":
		c.router.validator.SetEmergencyStop(true)
		metrics.EmergencyStopActive.Set(1)
		return conn.WriteJSON(map[string]string{"type": "emergency_stop_ack", "status": "stopped"})
	case "resume":
		c.router.validator.SetEmergencyStop(false)
		metrics.EmergencyStopActive.Set(0)
		return conn.WriteJSON(map[string]string{"type": "resume_ack", "status": "resumed"})
	case "ping":
		return conn.WriteJSON(map[string]string{"type": "pong"})
	case "action_request", "action":
		var req types.Request
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("decode action request: %w", err)
		}
		if req.RequestID == "" {
			return fmt.Errorf("action request missing request_id")
		}
		resp := c.router.Dispatch(ctx, req)
		resp.Type = "action_response"
		return conn.WriteJSON(resp)
	default:
		log.WithComponent("worker.connection").Debug().Str("type", frameType).Msg("ignoring unhandled frame type")
		return nil
	}
}

// capabilityList is the union of AUTO and CONFIRM action names
// advertised in the hello frame's capabilities field.
func capabilityList() []string {
	names := make([]string, 0, len(executor.AutoActions)+len(executor.ConfirmActions))
	names = append(names, executor.AutoActions...)
	names = append(names, executor.ConfirmActions...)
	return names
}
