package client

import (
	"context"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/openclaw/chat-session-go/internal/errors"
	"github.com/openclaw/chat-session-go/internal/wire"
)

// guardLocked enforces the action preconditions: connected, and the
// state must exactly match the action's required source state. The
// exact match is deliberate: it prevents, e.g., sending a chat message
// while a search is still pending.
func (c *Client) guardLocked(action string, want State) error {
	if !c.connected {
		return apperrors.NotConnected()
	}
	if c.state != want {
		return apperrors.InvalidState(action, c.state.String())
	}
	return nil
}

// fail surfaces a precondition error locally without touching the
// transport or transitioning state.
func (c *Client) fail(err error) error {
	c.mu.Lock()
	c.errMsg = apperrors.Surface(err)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return err
}

// FindPartner requests a random partner. Valid only while idle.
func (c *Client) FindPartner() error {
	c.mu.Lock()
	if err := c.guardLocked("search for a partner", StateIdle); err != nil {
		c.mu.Unlock()
		return c.fail(err)
	}

	c.errMsg = ""
	c.messages = nil
	c.appendLocked(LogEntry{Kind: KindSystem, Content: "Searching for a partner...", Ts: time.Now()})
	c.clearInviteLocked()
	c.attempt++
	c.state = StateSearching
	frame, attempt := c.intentLocked(wire.DestFindPartner, struct{}{})
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	c.log.Info().Uint64("attempt", attempt).Msg("searching for partner")
	return c.publish(frame)
}

// CreateInvite requests a single-use invite code. Valid only while idle.
func (c *Client) CreateInvite() error {
	c.mu.Lock()
	if err := c.guardLocked("create an invite", StateIdle); err != nil {
		c.mu.Unlock()
		return c.fail(err)
	}

	c.errMsg = ""
	c.messages = nil
	c.clearInviteLocked()
	c.attempt++
	c.state = StateCreatingInvite
	frame, attempt := c.intentLocked(wire.DestCreateInvite, struct{}{})
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	c.log.Info().Uint64("attempt", attempt).Msg("requesting invite code")
	return c.publish(frame)
}

// JoinWithInvite joins a partner's session by invite code. Valid only
// while idle, with a non-empty code.
func (c *Client) JoinWithInvite(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return c.fail(apperrors.EmptyInviteCode())
	}

	c.mu.Lock()
	if err := c.guardLocked("join with an invite", StateIdle); err != nil {
		c.mu.Unlock()
		return c.fail(err)
	}

	c.errMsg = ""
	c.messages = nil
	c.attempt++
	c.state = StateJoiningInvite
	frame, attempt := c.intentLocked(wire.DestJoinInvite, wire.JoinInvitePayload{Code: code})
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	c.log.Info().Uint64("attempt", attempt).Msg("joining with invite code")
	return c.publish(frame)
}

// SendMessage publishes chat content to the live session. An empty
// draft is a silent no-op so that plain typing never surfaces errors.
// Sender identity and timestamp are assigned server-side.
func (c *Client) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if err := c.guardLocked("send a message", StateInChat); err != nil {
		c.mu.Unlock()
		return c.fail(err)
	}
	if c.sessionID == "" {
		c.mu.Unlock()
		return c.fail(apperrors.New(apperrors.ErrCodeNoActiveSession, "No active session"))
	}

	frame, err := wire.Send(wire.DestSendMessage, wire.ChatSendPayload{Content: text})
	if err != nil {
		c.mu.Unlock()
		return c.fail(apperrors.Wrap(apperrors.ErrCodeInternal, "encode chat message", err))
	}
	frame = frame.WithHeader(wire.HdrSession, c.sessionID)
	c.draft = ""
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	return c.publish(frame)
}

// SetDraft stores the in-progress message text.
func (c *Client) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// ResetChat discards the session, invite, message log and draft. The
// session topic subscription is always dropped; with disconnect the
// fixed subscriptions and the transport go too. Idempotent.
func (c *Client) ResetChat(disconnect bool) {
	c.mu.Lock()
	ended := c.endedSessionLocked()
	c.subs.DetachSession()
	if disconnect {
		c.subs.TeardownAll()
	}
	c.clearInviteLocked()
	c.sessionID = ""
	c.partner = ""
	c.messages = nil
	c.draft = ""
	c.attempt++
	if disconnect {
		c.tr.Close()
		c.connected = false
		c.state = StateDisconnected
	} else if c.connected {
		c.state = StateIdle
	} else {
		c.state = StateDisconnected
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.finishSession(ended)
	c.notify(snap)
}

// Reconnect performs a full reset and re-runs the connection sequence.
func (c *Client) Reconnect() error {
	c.ResetChat(true)

	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return c.Start(ctx)
}

// intentLocked builds a SEND frame tagged with the current attempt
// counter, so late replies to an abandoned attempt can be discarded.
func (c *Client) intentLocked(destination string, body any) (wire.Frame, uint64) {
	frame, err := wire.Send(destination, body)
	if err != nil {
		// Bodies here are fixed structs; this cannot fail at runtime.
		c.log.Error().Err(err).Str("destination", destination).Msg("encode intent")
	}
	frame = frame.WithHeader(wire.HdrAttempt, strconv.FormatUint(c.attempt, 10))
	return frame, c.attempt
}

func (c *Client) publish(frame wire.Frame) error {
	if err := c.tr.Send(frame); err != nil {
		c.mu.Lock()
		c.errMsg = apperrors.Surface(err)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return err
	}
	return nil
}
