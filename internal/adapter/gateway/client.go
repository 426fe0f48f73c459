package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/AgentPulse/internal/config"
	"github.com/Strob0t/AgentPulse/internal/logger"
)

// EventHandler receives authenticated push events, one at a time, in
// per-connection order.
type EventHandler func(ctx context.Context, kind string, payload json.RawMessage)

// Client owns the persistent duplex connection to the gateway. Exactly one
// logical connection exists at a time, identified by a monotonically
// increasing connection id used for log correlation; frames carried over
// from a superseded connection are discarded by that id.
type Client struct {
	cfg     config.Gateway
	log     *slog.Logger
	handler EventHandler

	// OnAuthenticated and OnDisconnected gate the session poller's timer.
	// Both are invoked from the connect loop goroutine only.
	OnAuthenticated func()
	OnDisconnected  func()

	dial    func(ctx context.Context) (wsConn, error)
	backoff *backoff
	connID  int64
	authed  bool
}

// wsConn is the minimal connection surface the manager needs; tests swap in
// a scripted fake.
type wsConn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// NewClient creates a gateway client. Run must be called to connect.
func NewClient(cfg config.Gateway, log *slog.Logger, handler EventHandler) *Client {
	c := &Client{
		cfg:     cfg,
		log:     log,
		handler: handler,
		backoff: newBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
	}
	c.dial = c.dialWebsocket
	return c
}

func (c *Client) dialWebsocket(ctx context.Context) (wsConn, error) {
	ws, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(4 << 20)
	return &coderConn{ws: ws}, nil
}

// coderConn adapts coder/websocket to wsConn.
type coderConn struct {
	ws *websocket.Conn
}

func (c *coderConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *coderConn) Write(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *coderConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

// Run maintains the connection until ctx is cancelled: dial, serve frames,
// and on any terminal event schedule exactly one reconnect after the current
// backoff delay. An authenticated session resets the delay.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.connID++
		connCtx := logger.WithConnID(ctx, c.connID)
		log := c.log.With("conn_id", c.connID)

		err := c.serveConn(connCtx, log)
		if errors.Is(err, context.Canceled) {
			return err
		}

		if c.authed {
			c.authed = false
			if c.OnDisconnected != nil {
				c.OnDisconnected()
			}
		}

		delay := c.backoff.Next()
		log.Warn("gateway connection ended", "error", err, "reconnect_in", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// serveConn runs one connection to completion: the read goroutine pushes
// parsed frames onto a channel and this loop consumes them sequentially,
// preserving per-connection ordering without nested callbacks.
func (c *Client) serveConn(ctx context.Context, log *slog.Logger) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	log.Info("gateway connected", "url", c.cfg.URL)

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan Frame, 64)
	readErr := make(chan error, 1)
	connID := c.connID

	go func() {
		for {
			data, err := conn.Read(readCtx)
			if err != nil {
				readErr <- err
				close(frames)
				return
			}
			var f Frame
			if err := json.Unmarshal(data, &f); err != nil {
				log.Warn("malformed frame skipped", "error", err)
				continue
			}
			frames <- f
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return <-readErr
			}
			// Stale-connection guard: frames buffered from a superseded
			// connection are dropped by id.
			if connID != c.connID {
				continue
			}
			if err := c.dispatch(ctx, log, conn, f); err != nil {
				return err
			}
		}
	}
}

// dispatch routes one inbound frame. Unknown event types are logged and
// dropped, never fatal.
func (c *Client) dispatch(ctx context.Context, log *slog.Logger, conn wsConn, f Frame) error {
	switch f.Type {
	case frameEvent:
		switch f.Event {
		case EventChallenge:
			return c.sendConnect(ctx, conn)
		case EventAgent, EventHealth, EventHeartbeat, EventPresence, EventChat:
			if c.handler != nil {
				c.handler(ctx, f.Event, f.Payload)
			}
		default:
			log.Debug("unknown gateway event dropped", "event", f.Event)
		}
	case frameRes:
		if f.ID == connectRequestID {
			if f.OK == nil || !*f.OK {
				return fmt.Errorf("gateway auth rejected: %s", string(f.Payload))
			}
			c.authed = true
			c.backoff.Reset()
			log.Info("gateway authenticated")
			if c.OnAuthenticated != nil {
				c.OnAuthenticated()
			}
		}
	case frameReq:
		// The gateway does not call back into the pipeline.
		log.Debug("unexpected req frame dropped", "id", f.ID)
	default:
		log.Debug("unknown frame type dropped", "type", f.Type)
	}
	return nil
}

// sendConnect answers a challenge with the single outbound connect request,
// keyed by the fixed request id.
func (c *Client) sendConnect(ctx context.Context, conn wsConn) error {
	payload, err := json.Marshal(connectRequest{
		MinProtocol: c.cfg.MinProtocol,
		MaxProtocol: c.cfg.MaxProtocol,
		Client:      clientInfo{Name: "agentpulse", Version: clientVersion},
		Role:        c.cfg.Role,
		Scopes:      c.cfg.Scopes,
		Auth:        authInfo{Token: c.cfg.Token},
	})
	if err != nil {
		return fmt.Errorf("marshal connect: %w", err)
	}

	frame, err := json.Marshal(Frame{Type: frameReq, ID: connectRequestID, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal connect frame: %w", err)
	}

	if err := conn.Write(ctx, frame); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}
	return nil
}
