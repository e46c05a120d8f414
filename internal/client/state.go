package client

import "time"

// State is the session state machine's current position. The machine is
// long-lived and cycles; there is no terminal state.
type State int

const (
	// StateDisconnected means no active transport.
	StateDisconnected State = iota

	// StateConnecting means the transport handshake is in flight.
	StateConnecting

	// StateIdle means connected with no session and no pending intent.
	StateIdle

	// StateSearching means a find-partner intent is pending.
	StateSearching

	// StateCreatingInvite means a create-invite intent is pending.
	StateCreatingInvite

	// StateWaitingWithInvite means an invite code was issued and the
	// client is waiting for a partner to join.
	StateWaitingWithInvite

	// StateJoiningInvite means a join-with-invite intent is pending.
	StateJoiningInvite

	// StateInChat means a session is live.
	StateInChat

	// StateErrored means an unrecoverable broker error was reported.
	StateErrored
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateCreatingInvite:
		return "creating invite"
	case StateWaitingWithInvite:
		return "waiting with invite"
	case StateJoiningInvite:
		return "joining invite"
	case StateInChat:
		return "in chat"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// EntryKind classifies a message log entry.
type EntryKind string

const (
	KindChat         EntryKind = "CHAT"
	KindJoin         EntryKind = "JOIN"
	KindLeave        EntryKind = "LEAVE"
	KindSystem       EntryKind = "SYSTEM"
	KindMatch        EntryKind = "MATCH"
	KindError        EntryKind = "ERROR"
	KindInviteCode   EntryKind = "INVITE_CODE"
	KindTyping       EntryKind = "TYPING"
	KindSessionEnded EntryKind = "SESSION_ENDED"
)

// LogEntry is one immutable record in the message log. An empty Sender
// means the entry is system-authored.
type LogEntry struct {
	Kind    EntryKind
	Content string
	Sender  string
	Ts      time.Time
}

// Snapshot is a read-only copy of the client's observable state, safe
// to read from any goroutine.
type Snapshot struct {
	State           State
	Messages        []LogEntry
	Draft           string
	SessionID       string
	Partner         string
	Err             string
	Connected       bool
	InviteCode      string
	InviteExpiresIn int
}
