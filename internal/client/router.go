package client

import (
	"strconv"
	"time"

	apperrors "github.com/openclaw/chat-session-go/internal/errors"
	"github.com/openclaw/chat-session-go/internal/wire"
)

// Server error codes with prescribed recovery transitions. Unrecognized
// codes transition to errored while preserving the connection.
const (
	srvAlreadyInSession  = "ALREADY_IN_SESSION"
	srvNotInSession      = "NOT_IN_SESSION"
	srvInvalidInviteCode = "INVALID_INVITE_CODE"
	srvCodeGenFailed     = "CODE_GENERATION_FAILED"
	srvCodeStorageFailed = "CODE_STORAGE_FAILED"
	srvSelfJoinInvite    = "SELF_JOIN_INVITE"
)

// handleFrame classifies one inbound frame. Invoked serially by the
// transport.
func (c *Client) handleFrame(f wire.Frame) {
	switch f.Command {
	case wire.CmdMessage:
		c.routeMessage(f)
	case wire.CmdError:
		c.handleBrokerError(f)
	default:
		// CONNECTED is consumed by the transport handshake; anything
		// else is not ours to interpret.
	}
}

// handleBrokerError handles a broker-level ERROR frame: unrecoverable,
// but scoped to the session, never fatal to the process.
func (c *Client) handleBrokerError(f wire.Frame) {
	message := f.Header(wire.HdrMessage)
	if message == "" {
		message = "broker error"
	}

	c.mu.Lock()
	c.appendLocked(LogEntry{Kind: KindError, Content: message, Ts: time.Now()})
	c.errMsg = message
	c.state = StateErrored
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Error().Str("message", message).Msg("broker error frame")
	c.notify(snap)
}

func (c *Client) routeMessage(f wire.Frame) {
	c.mu.Lock()

	if subID := f.Header(wire.HdrSubscription); subID != "" && !c.subs.Known(subID) {
		c.mu.Unlock()
		c.log.Debug().Str("subscription", subID).Msg("dropping frame for stale subscription")
		return
	}

	dest := f.Header(wire.HdrDestination)
	switch {
	case dest == wire.MatchQueue(c.userID):
		c.handleMatch(f)
	case dest == wire.ErrorQueue(c.userID):
		c.handleErrorQueue(f)
	case dest == wire.InviteQueue(c.userID):
		c.handleInviteQueue(f)
	default:
		if sessionID, ok := wire.ParseSessionTopic(dest); ok {
			c.handleSessionEvent(sessionID, f)
			return
		}
		c.mu.Unlock()
		c.log.Debug().Str("destination", dest).Msg("dropping frame for unknown destination")
	}
}

// staleAttemptLocked reports whether the frame answers an attempt the
// client has since abandoned. Untagged frames are accepted for broker
// compatibility.
func (c *Client) staleAttemptLocked(f wire.Frame) bool {
	tag := f.Header(wire.HdrAttempt)
	if tag == "" {
		return false
	}
	return tag != strconv.FormatUint(c.attempt, 10)
}

// handleMatch processes a match notification. Callers hold the lock;
// it is released before returning.
func (c *Client) handleMatch(f wire.Frame) {
	if c.staleAttemptLocked(f) {
		c.mu.Unlock()
		c.log.Debug().Msg("dropping match for stale attempt")
		return
	}

	switch c.state {
	case StateIdle, StateSearching, StateWaitingWithInvite, StateJoiningInvite:
	default:
		c.mu.Unlock()
		c.log.Debug().Str("state", c.state.String()).Msg("dropping match in invalid state")
		return
	}

	payload, err := wire.ParseMatch(f.Body)
	if err != nil {
		c.appendLocked(LogEntry{Kind: KindError, Content: err.Error(), Ts: time.Now()})
		ended := c.softResetLocked(apperrors.Surface(apperrors.MalformedPayload("match queue", err)))
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.finishSession(ended)
		c.notify(snap)
		return
	}

	c.messages = nil
	c.sessionID = payload.SessionID
	c.partner = payload.Partner
	c.clearInviteLocked()
	c.errMsg = ""
	c.state = StateInChat
	c.appendLocked(LogEntry{
		Kind:    KindMatch,
		Content: "Matched with " + payload.Partner,
		Ts:      time.Now(),
	})

	// AttachSession drops any stale session subscription first, so two
	// session topics are never live at once even on a rapid re-match.
	if err := c.subs.AttachSession(payload.SessionID); err != nil {
		c.errMsg = apperrors.Surface(err)
	}

	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info().Str("sessionId", payload.SessionID).Str("partner", payload.Partner).Msg("matched")
	c.notify(snap)
}

// handleErrorQueue applies the prescribed recovery for a
// server-reported application error. Callers hold the lock; it is
// released before returning.
func (c *Client) handleErrorQueue(f wire.Frame) {
	payload, err := wire.ParseError(f.Body)
	if err != nil {
		c.appendLocked(LogEntry{Kind: KindError, Content: err.Error(), Ts: time.Now()})
		ended := c.softResetLocked(apperrors.Surface(apperrors.MalformedPayload("error queue", err)))
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.finishSession(ended)
		c.notify(snap)
		return
	}

	surfaced := apperrors.Server(payload.Code, payload.Message).Message
	c.appendLocked(LogEntry{Kind: KindError, Content: surfaced, Ts: time.Now()})

	var ended *EndedSession
	switch payload.Code {
	case srvAlreadyInSession:
		if payload.SessionID != "" {
			c.sessionID = payload.SessionID
		}
		if c.sessionID != "" {
			c.clearInviteLocked()
			c.errMsg = surfaced
			c.state = StateInChat
			if err := c.subs.AttachSession(c.sessionID); err != nil {
				c.errMsg = apperrors.Surface(err)
			}
		} else {
			// Nothing to adopt: without a session id the forced
			// in-chat state would have no session behind it.
			c.errMsg = surfaced
			c.state = StateErrored
		}

	case srvNotInSession:
		ended = c.softResetLocked(surfaced)

	case srvInvalidInviteCode, srvCodeGenFailed, srvCodeStorageFailed, srvSelfJoinInvite:
		// These only concern a pending search/invite. Anywhere else,
		// surface the message without disturbing the current state.
		switch c.state {
		case StateSearching, StateCreatingInvite, StateWaitingWithInvite, StateJoiningInvite:
			ended = c.softResetLocked(surfaced)
		default:
			c.errMsg = surfaced
		}

	default:
		c.errMsg = surfaced
		c.state = StateErrored
	}

	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Warn().Str("code", payload.Code).Str("message", payload.Message).Msg("server error")
	c.finishSession(ended)
	c.notify(snap)
}

// handleInviteQueue processes an issued invite code. Callers hold the
// lock; it is released before returning.
func (c *Client) handleInviteQueue(f wire.Frame) {
	if c.staleAttemptLocked(f) {
		c.mu.Unlock()
		c.log.Debug().Msg("dropping invite code for stale attempt")
		return
	}

	if c.state != StateCreatingInvite {
		c.mu.Unlock()
		c.log.Debug().Str("state", c.state.String()).Msg("dropping invite code in invalid state")
		return
	}

	payload, err := wire.ParseInvite(f.Body)
	if err != nil {
		c.appendLocked(LogEntry{Kind: KindError, Content: err.Error(), Ts: time.Now()})
		ended := c.softResetLocked(apperrors.Surface(apperrors.MalformedPayload("invite queue", err)))
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.finishSession(ended)
		c.notify(snap)
		return
	}

	c.inviteCode = payload.Code
	c.inviteExpiresIn = payload.ExpiresInSeconds
	c.errMsg = ""
	c.state = StateWaitingWithInvite
	c.appendLocked(LogEntry{Kind: KindInviteCode, Content: payload.Code, Ts: time.Now()})
	c.startInviteCountdownLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info().Str("code", payload.Code).Int("expiresIn", payload.ExpiresInSeconds).Msg("invite code issued")
	c.notify(snap)
}

// handleSessionEvent processes one event on the live session topic.
// Callers hold the lock; it is released before returning.
func (c *Client) handleSessionEvent(sessionID string, f wire.Frame) {
	if c.sessionID == "" || sessionID != c.sessionID {
		c.mu.Unlock()
		c.log.Debug().Str("sessionId", sessionID).Msg("dropping event for inactive session")
		return
	}

	ev, err := wire.ParseSessionEvent(f.Body)
	if err != nil {
		c.appendLocked(LogEntry{Kind: KindError, Content: err.Error(), Ts: time.Now()})
		ended := c.softResetLocked(apperrors.Surface(apperrors.MalformedPayload("session topic", err)))
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.finishSession(ended)
		c.notify(snap)
		return
	}

	c.appendLocked(entryFromEvent(ev))

	if !ev.Ended() {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return
	}

	c.appendLocked(LogEntry{Kind: KindSystem, Content: "Your partner left the chat", Ts: time.Now()})
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	// Partner departure tears down and re-establishes the whole
	// transport rather than soft-resetting. The fresh CONNECT also
	// flushes any stale server-side session pointers.
	c.log.Info().Str("sessionId", sessionID).Msg("partner left, reconnecting")
	go func() {
		if err := c.Reconnect(); err != nil {
			c.log.Error().Err(err).Msg("reconnect after partner departure failed")
		}
	}()
}

// entryFromEvent maps a session event to its log entry. Chat content
// keeps the sender's timestamp; everything else is stamped on receipt.
func entryFromEvent(ev *wire.SessionEvent) LogEntry {
	entry := LogEntry{Content: ev.Content, Sender: ev.Sender, Ts: time.Now()}
	switch ev.Type {
	case wire.EventChat:
		entry.Kind = KindChat
		if ev.Ts > 0 {
			entry.Ts = time.UnixMilli(ev.Ts)
		}
	case wire.EventJoin:
		entry.Kind = KindJoin
	case wire.EventLeave:
		entry.Kind = KindLeave
	case wire.EventTyping:
		entry.Kind = KindTyping
	case wire.EventSessionEnded:
		entry.Kind = KindSessionEnded
	default:
		entry.Kind = KindSystem
	}
	return entry
}
