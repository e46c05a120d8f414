package transport

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/openclaw/chat-session-go/internal/config"
	apperrors "github.com/openclaw/chat-session-go/internal/errors"
	"github.com/openclaw/chat-session-go/internal/wire"
)

// Handlers receive transport events. All callbacks are invoked serially
// from the transport's read loop (OnConnected from the dialing
// goroutine); implementations must be safe against rapid repeated
// invocation.
type Handlers struct {
	OnConnected  func()
	OnFrame      func(f wire.Frame)
	OnMalformed  func(err error)
	OnDisconnect func(err error)
}

type Options struct {
	URL string

	// TokenFunc returns the current access token, or "" when the user
	// is not authenticated. Called on every dial so rotated tokens are
	// picked up by redials.
	TokenFunc func() string

	// TokenInURL embeds the token as an access_token query parameter
	// instead of the Authorization header. Less secure; off by default.
	TokenInURL bool

	HeartbeatInterval time.Duration
	RedialDelay       time.Duration

	// AutoRedial re-dials with a fixed delay after an unexpected drop.
	// The transport never resubscribes on its own: session state is not
	// preserved across a drop.
	AutoRedial bool

	Logger zerolog.Logger
}

// Conn owns exactly one logical connection to the broker. It survives
// redials: Close deactivates it, Connect reactivates it.
type Conn struct {
	opts Options
	h    Handlers
	log  zerolog.Logger

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	closed    bool
	dialing   bool
	gen       uint64

	writeMu sync.Mutex
}

func New(opts Options, h Handlers) *Conn {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.RedialDelay <= 0 {
		opts.RedialDelay = 5 * time.Second
	}
	return &Conn{
		opts: opts,
		h:    h,
		log:  opts.Logger.With().Str("component", "transport").Logger(),
	}
}

// Connect dials the broker and performs the CONNECT/CONNECTED handshake.
// On success the read and heartbeat loops are running and OnConnected
// has fired. A handshake rejection is returned without retrying.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Conn) dial(ctx context.Context) error {
	// At most one dial may be in flight: a user Reconnect racing a
	// pending auto-redial must not produce two live sockets, which
	// would double every subscription and inbound frame.
	c.mu.Lock()
	if c.connected || c.dialing {
		c.mu.Unlock()
		return nil
	}
	c.dialing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
	}()

	token := c.opts.TokenFunc()
	if token == "" {
		return apperrors.NoAccessToken()
	}

	dialURL := c.opts.URL
	header := http.Header{}
	if c.opts.TokenInURL {
		dialURL += "?access_token=" + url.QueryEscape(token)
	} else {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: config.DialTimeout}
	ws, resp, err := dialer.DialContext(ctx, dialURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return apperrors.HandshakeRejected(err)
		}
		return apperrors.Wrap(apperrors.ErrCodeTransportClosed, "dial broker", err)
	}

	if err := c.handshake(ws); err != nil {
		ws.Close()
		return err
	}

	pongWait := config.PongWait(c.opts.HeartbeatInterval)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return apperrors.New(apperrors.ErrCodeTransportClosed, "Transport closed during dial")
	}
	c.ws = ws
	c.connected = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.readLoop(ws, gen)
	go c.pingLoop(ws, gen)

	c.log.Info().Str("url", c.opts.URL).Msg("transport connected")
	if c.h.OnConnected != nil {
		c.h.OnConnected()
	}
	return nil
}

// handshake sends CONNECT and waits for CONNECTED. An ERROR frame here
// means the broker refused the credential.
func (c *Conn) handshake(ws *websocket.Conn) error {
	ws.SetReadDeadline(time.Now().Add(config.DialTimeout))

	data, err := wire.Encode(wire.Frame{Command: wire.CmdConnect})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "encode CONNECT", err)
	}
	ws.SetWriteDeadline(time.Now().Add(config.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeTransportClosed, "send CONNECT", err)
	}

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return apperrors.HandshakeRejected(err)
		}
		f, err := wire.Decode(raw)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeMalformedFrame, "handshake frame", err)
		}
		switch f.Command {
		case wire.CmdConnected:
			return nil
		case wire.CmdError:
			return apperrors.New(apperrors.ErrCodeHandshakeRejected, f.Header(wire.HdrMessage))
		default:
			// Not part of the handshake; the broker must not push
			// messages before CONNECTED, so drop it.
		}
	}
}

func (c *Conn) readLoop(ws *websocket.Conn, gen uint64) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			c.handleDrop(ws, gen, err)
			return
		}

		f, err := wire.Decode(raw)
		if err != nil {
			if c.current(gen) && c.h.OnMalformed != nil {
				c.h.OnMalformed(err)
			}
			continue
		}

		if c.current(gen) && c.h.OnFrame != nil {
			c.h.OnFrame(f)
		}
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !c.current(gen) {
			return
		}
		c.writeMu.Lock()
		ws.SetWriteDeadline(time.Now().Add(config.WriteTimeout))
		err := ws.WriteMessage(websocket.PingMessage, nil)
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *Conn) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.connected && !c.closed
}

// handleDrop processes an unexpected read failure. OnDisconnect fires
// exactly once per failure episode: a stale generation means Close or a
// newer dial already took over.
func (c *Conn) handleDrop(ws *websocket.Conn, gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen || !c.connected {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.connected = false
	c.ws = nil
	closed := c.closed
	c.mu.Unlock()
	ws.Close()

	if closed {
		return
	}

	c.log.Warn().Err(err).Msg("transport dropped")
	if c.h.OnDisconnect != nil {
		c.h.OnDisconnect(err)
	}
	if c.opts.AutoRedial {
		go c.redial()
	}
}

// redial retries the dial with a fixed delay until it succeeds, the
// transport is closed, or the broker rejects the credential.
func (c *Conn) redial() {
	backoff := retry.NewConstant(c.opts.RedialDelay)

	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		c.mu.Lock()
		if c.closed || c.connected {
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		if err := c.dial(ctx); err != nil {
			if apperrors.GetCode(err) == apperrors.ErrCodeHandshakeRejected {
				return err
			}
			c.log.Debug().Err(err).Msg("redial attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		c.log.Error().Err(err).Msg("redial abandoned")
	}
}

// Send publishes one frame. Publishing is fire-and-forget: a nil return
// means the frame was written to the socket, not that the broker
// processed it.
func (c *Conn) Send(f wire.Frame) error {
	c.mu.Lock()
	ws := c.ws
	ok := c.connected
	c.mu.Unlock()
	if !ok || ws == nil {
		return apperrors.NotConnected()
	}

	data, err := wire.Encode(f)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "encode frame", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(config.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down. Idempotent. No OnDisconnect fires
// for a deliberate close, and the generation bump stops the read loop
// from dispatching further frames.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	ws := c.ws
	c.ws = nil
	c.gen++
	c.mu.Unlock()

	if ws != nil {
		c.writeMu.Lock()
		ws.SetWriteDeadline(time.Now().Add(config.WriteTimeout))
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		ws.Close()
	}
	c.log.Info().Msg("transport closed")
}

// Connected reports whether the transport is active and handshaken.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}
