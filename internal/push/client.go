// Package push subscribes to the per-user progress topic over STOMP on a
// websocket and delivers decoded progress events in order.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/events"
	"github.com/closetconnect/closet-tracker/internal/logging"
	"github.com/closetconnect/closet-tracker/internal/models"
)

// State is the connection state shown by the progress view.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Config configures a Client.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws/websocket
	URL string

	// TopicPrefix is joined with the user id to form the destination.
	TopicPrefix string

	// Token is sent as a bearer token on the upgrade request and in CONNECT.
	Token string

	// Heartbeat is the requested heart-beat in both directions. Zero disables.
	Heartbeat time.Duration

	// HeartbeatTolerance multiplies the incoming interval into a read deadline.
	HeartbeatTolerance int

	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration

	// Dialer overrides the websocket dialer (proxy, TLS).
	Dialer *websocket.Dialer

	Bus    *events.EventBus
	Logger *logging.Logger
}

// Client is the event channel adapter. It owns one background connection
// loop per Connect call and reconnects with a fixed delay.
type Client struct {
	cfg    Config
	logger *logging.Logger
	events chan models.ProgressEvent

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	connReady bool
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
	closed    bool

	writeMu sync.Mutex
}

// New creates a client. Nothing is dialed until Connect.
func New(cfg Config) *Client {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = constants.DefaultTopicPrefix
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = constants.ReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = constants.HandshakeTimeout
	}
	if cfg.HeartbeatTolerance <= 0 {
		cfg.HeartbeatTolerance = constants.HeartbeatTolerance
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Client{
		cfg:    cfg,
		logger: logger.With("push"),
		events: make(chan models.ProgressEvent),
		state:  StateDisconnected,
	}
}

// Events delivers decoded progress events in arrival order. It is closed
// by Teardown.
func (c *Client) Events() <-chan models.ProgressEvent {
	return c.events
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Destination returns the topic subscribed for userID.
func (c *Client) Destination(userID int64) string {
	return c.cfg.TopicPrefix + strconv.FormatInt(userID, 10)
}

// Connect starts the connection loop for userID and returns immediately.
// Anonymous sessions (userID 0) and repeated calls are no-ops.
func (c *Client) Connect(ctx context.Context, userID int64) {
	if userID <= 0 {
		c.logger.Debug().Msg("No user id, push channel not started")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, userID)
}

// Teardown disconnects and stops the loop, then closes Events. Safe to
// call more than once and when Connect never ran.
func (c *Client) Teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn, ready := c.conn, c.connReady
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if conn != nil {
		if ready {
			if err := c.writeFrame(conn, disconnectFrame()); err != nil {
				c.logger.Debug().Err(err).Msg("DISCONNECT not sent")
			}
		}
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	close(c.events)
}

func (c *Client) run(ctx context.Context, userID int64) {
	defer close(c.done)

	for {
		err := c.session(ctx, userID)
		c.setState(StateDisconnected, err)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("Push channel disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection from dial to failure.
func (c *Client) session(ctx context.Context, userID int64) error {
	c.setState(StateConnecting, nil)

	target, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid push url: %w", err)
	}

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := c.cfg.Dialer.DialContext(dialCtx, target.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return context.Canceled
	}
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.connReady = false
		c.mu.Unlock()
		conn.Close()
	}()

	// Close the socket when the loop is cancelled so blocked reads return.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := c.writeFrame(conn, connectFrame(target.Host, c.cfg.Token, c.cfg.Heartbeat)); err != nil {
		return fmt.Errorf("failed to send CONNECT: %w", err)
	}

	connected, err := c.awaitConnected(conn)
	if err != nil {
		return err
	}

	outgoing, incoming, err := negotiateHeartbeat(c.cfg.Heartbeat, connected.Header.Get(frame.HeartBeat))
	if err != nil {
		return err
	}

	destination := c.Destination(userID)
	if err := c.writeFrame(conn, subscribeFrame(uuid.NewString(), destination)); err != nil {
		return fmt.Errorf("failed to send SUBSCRIBE: %w", err)
	}

	c.mu.Lock()
	c.connReady = true
	c.mu.Unlock()
	c.setState(StateConnected, nil)
	c.logger.Info().
		Str("destination", destination).
		Dur("heartbeat_out", outgoing).
		Dur("heartbeat_in", incoming).
		Msg("Push channel subscribed")

	hbDone := make(chan struct{})
	defer close(hbDone)
	if outgoing > 0 {
		go c.heartbeatLoop(conn, outgoing, hbDone)
	}

	return c.readLoop(ctx, conn, incoming)
}

func (c *Client) awaitConnected(conn *websocket.Conn) (*frame.Frame, error) {
	conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("waiting for CONNECTED: %w", err)
		}
		frames, err := decodeFrames(msg)
		if err != nil {
			return nil, fmt.Errorf("invalid frame during handshake: %w", err)
		}
		for _, f := range frames {
			switch f.Command {
			case frame.CONNECTED:
				return f, nil
			case frame.ERROR:
				return nil, brokerError(f)
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, incoming time.Duration) error {
	var deadline time.Duration
	if incoming > 0 {
		deadline = incoming * time.Duration(c.cfg.HeartbeatTolerance)
	}

	for {
		if deadline > 0 {
			conn.SetReadDeadline(time.Now().Add(deadline))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("push read failed: %w", err)
		}

		frames, err := decodeFrames(msg)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Dropping undecodable frame")
		}
		for _, f := range frames {
			switch f.Command {
			case frame.MESSAGE:
				if err := c.deliver(ctx, f.Body); err != nil {
					return err
				}
			case frame.ERROR:
				return brokerError(f)
			default:
				c.logger.Debug().Str("command", f.Command).Msg("Ignoring frame")
			}
		}
	}
}

// deliver decodes one payload and hands it to the engine. Malformed
// payloads are dropped.
func (c *Client) deliver(ctx context.Context, body []byte) error {
	ev, err := models.DecodeProgressEvent(body)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Dropping malformed progress event")
		return nil
	}

	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte("\n"))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("Heart-beat write failed")
				return
			}
		}
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, f *frame.Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) setState(s State, err error) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if c.cfg.Bus != nil {
		c.cfg.Bus.PublishConnection(string(s), err)
	}
}
