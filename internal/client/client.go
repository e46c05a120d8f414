package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openclaw/chat-session-go/internal/auth"
	"github.com/openclaw/chat-session-go/internal/config"
	apperrors "github.com/openclaw/chat-session-go/internal/errors"
	"github.com/openclaw/chat-session-go/internal/subs"
	"github.com/openclaw/chat-session-go/internal/transport"
	"github.com/openclaw/chat-session-go/internal/wire"
)

// Transport is the connection manager the client drives. Satisfied by
// *transport.Conn.
type Transport interface {
	Connect(ctx context.Context) error
	Send(f wire.Frame) error
	Close()
}

// EndedSession is handed to OnSessionEnd just before the message log is
// cleared, so callers can archive transcripts.
type EndedSession struct {
	SessionID string
	Partner   string
	Entries   []LogEntry
}

type Options struct {
	BrokerURL string

	// TokenFunc returns the current access token, or "" when not
	// authenticated.
	TokenFunc func() string

	TokenInURL        bool
	HeartbeatInterval time.Duration
	RedialDelay       time.Duration

	Logger zerolog.Logger

	// OnUpdate is invoked with a fresh snapshot after every observable
	// change. Called without internal locks held; it may call back into
	// the client.
	OnUpdate func(Snapshot)

	// OnSessionEnd is invoked when a live session ends for any reason,
	// before the message log is cleared.
	OnSessionEnd func(EndedSession)

	// Transport overrides the real websocket transport. Tests only.
	Transport Transport
}

// Client is one owned chat session client: one transport, one
// subscription set, one state machine. Its lifetime is scoped by the
// caller; Close releases everything.
type Client struct {
	log          zerolog.Logger
	tokenFunc    func() string
	tr           Transport
	subs         *subs.Registry
	onUpdate     func(Snapshot)
	onSessionEnd func(EndedSession)

	mu              sync.Mutex
	ctx             context.Context
	state           State
	messages        []LogEntry
	draft           string
	sessionID       string
	partner         string
	errMsg          string
	connected       bool
	userID          string
	inviteCode      string
	inviteExpiresIn int
	inviteStop      chan struct{}
	attempt         uint64
}

func New(opts Options) *Client {
	if opts.TokenFunc == nil {
		opts.TokenFunc = func() string { return "" }
	}

	c := &Client{
		log:          opts.Logger.With().Str("component", "client").Logger(),
		tokenFunc:    opts.TokenFunc,
		onUpdate:     opts.OnUpdate,
		onSessionEnd: opts.OnSessionEnd,
		state:        StateDisconnected,
	}

	if opts.Transport != nil {
		c.tr = opts.Transport
	} else {
		c.tr = transport.New(transport.Options{
			URL:               opts.BrokerURL,
			TokenFunc:         opts.TokenFunc,
			TokenInURL:        opts.TokenInURL,
			HeartbeatInterval: opts.HeartbeatInterval,
			RedialDelay:       opts.RedialDelay,
			AutoRedial:        true,
			Logger:            opts.Logger,
		}, transport.Handlers{
			OnConnected:  c.handleConnected,
			OnFrame:      c.handleFrame,
			OnMalformed:  c.handleMalformed,
			OnDisconnect: c.handleDisconnected,
		})
	}

	c.subs = subs.NewRegistry(c.tr, opts.Logger)
	return c
}

// Start begins the connection sequence. With no token available the
// client stays disconnected and makes no connection attempt.
func (c *Client) Start(ctx context.Context) error {
	if c.tokenFunc() == "" {
		return apperrors.NoAccessToken()
	}

	c.mu.Lock()
	c.ctx = ctx
	c.state = StateConnecting
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	if err := c.tr.Connect(ctx); err != nil {
		c.mu.Lock()
		c.state = StateErrored
		c.errMsg = apperrors.Surface(err)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return err
	}
	return nil
}

// Close tears everything down. The client is not reusable afterwards.
func (c *Client) Close() {
	c.ResetChat(true)
}

// Snapshot returns a copy of the observable state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// handleConnected runs after every successful handshake, including
// automatic redials. Fixed subscriptions are attached fresh each time;
// session state never survives a reconnect.
func (c *Client) handleConnected() {
	c.mu.Lock()
	c.connected = true

	userID, err := auth.Subject(c.tokenFunc())
	if err != nil {
		c.state = StateErrored
		c.errMsg = apperrors.Surface(apperrors.Wrap(apperrors.ErrCodeHandshakeRejected, "Unusable access token", err))
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return
	}
	c.userID = userID

	if err := c.subs.AttachFixed(userID); err != nil {
		c.errMsg = apperrors.Surface(err)
	}

	if c.state == StateConnecting || c.state == StateDisconnected {
		c.state = StateIdle
		c.errMsg = ""
	}

	c.log.Info().Str("userId", userID).Msg("connected and subscribed")
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// handleDisconnected runs once per unexpected transport drop. Session
// state is discarded rather than resumed.
func (c *Client) handleDisconnected(err error) {
	c.mu.Lock()
	c.connected = false
	ended := c.endedSessionLocked()
	c.subs.TeardownAll()
	c.clearInviteLocked()
	c.sessionID = ""
	c.partner = ""
	c.messages = nil
	c.draft = ""
	c.attempt++
	c.errMsg = apperrors.Surface(err)
	c.state = StateDisconnected
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Warn().Err(err).Msg("disconnected")
	c.finishSession(ended)
	c.notify(snap)
}

// handleMalformed handles an unparseable frame: the connection itself
// is healthy, so this is a soft failure.
func (c *Client) handleMalformed(err error) {
	c.mu.Lock()
	c.appendLocked(LogEntry{Kind: KindError, Content: err.Error(), Ts: time.Now()})
	ended := c.softResetLocked(apperrors.Surface(apperrors.Wrap(apperrors.ErrCodeMalformedFrame, "Malformed frame from broker", err)))
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.finishSession(ended)
	c.notify(snap)
}

func (c *Client) notify(snap Snapshot) {
	if c.onUpdate != nil {
		c.onUpdate(snap)
	}
}

func (c *Client) finishSession(ended *EndedSession) {
	if ended != nil && c.onSessionEnd != nil {
		c.onSessionEnd(*ended)
	}
}

func (c *Client) snapshotLocked() Snapshot {
	messages := make([]LogEntry, len(c.messages))
	copy(messages, c.messages)
	return Snapshot{
		State:           c.state,
		Messages:        messages,
		Draft:           c.draft,
		SessionID:       c.sessionID,
		Partner:         c.partner,
		Err:             c.errMsg,
		Connected:       c.connected,
		InviteCode:      c.inviteCode,
		InviteExpiresIn: c.inviteExpiresIn,
	}
}

func (c *Client) appendLocked(e LogEntry) {
	c.messages = append(c.messages, e)
}

// endedSessionLocked captures the live session for OnSessionEnd, or
// returns nil when no session is active.
func (c *Client) endedSessionLocked() *EndedSession {
	if c.sessionID == "" {
		return nil
	}
	entries := make([]LogEntry, len(c.messages))
	copy(entries, c.messages)
	return &EndedSession{
		SessionID: c.sessionID,
		Partner:   c.partner,
		Entries:   entries,
	}
}

// softResetLocked returns to idle while keeping the transport alive.
// The attempt counter is left alone: a soft reset never abandons an
// in-flight request, so a reply that raced the error is still honored.
// The message log survives unless a live session is being discarded; a
// failure entry appended just before the reset survives either way.
func (c *Client) softResetLocked(errText string) *EndedSession {
	ended := c.endedSessionLocked()
	c.subs.DetachSession()
	if ended != nil {
		var keep []LogEntry
		if n := len(c.messages); n > 0 && c.messages[n-1].Kind == KindError {
			keep = []LogEntry{c.messages[n-1]}
		}
		c.messages = keep
	}
	c.sessionID = ""
	c.partner = ""
	c.clearInviteLocked()
	c.errMsg = errText
	if c.connected {
		c.state = StateIdle
	} else {
		c.state = StateDisconnected
	}
	return ended
}

func (c *Client) clearInviteLocked() {
	if c.inviteStop != nil {
		close(c.inviteStop)
		c.inviteStop = nil
	}
	c.inviteCode = ""
	c.inviteExpiresIn = 0
}

// startInviteCountdownLocked ticks the advertised expiry down once per
// second while the invite is outstanding.
func (c *Client) startInviteCountdownLocked() {
	stop := make(chan struct{})
	c.inviteStop = stop

	go func() {
		ticker := time.NewTicker(config.InviteTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if c.tickInvite() {
					return
				}
			}
		}
	}()
}

// tickInvite decrements the invite countdown. Returns true when the
// countdown is finished or no longer applies.
func (c *Client) tickInvite() bool {
	c.mu.Lock()
	if c.state != StateWaitingWithInvite || c.inviteCode == "" {
		c.mu.Unlock()
		return true
	}

	c.inviteExpiresIn--
	if c.inviteExpiresIn > 0 {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return false
	}

	c.clearInviteLocked()
	c.state = StateIdle
	c.errMsg = apperrors.InviteExpired().Message
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info().Msg("invite expired locally")
	c.notify(snap)
	return true
}
