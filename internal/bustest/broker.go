// Package bustest provides an in-memory chat broker double for
// exercising the session client end to end in tests. It speaks the same
// frame protocol as the real broker but keeps all state in process.
package bustest

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/openclaw/chat-session-go/internal/auth"
	"github.com/openclaw/chat-session-go/internal/wire"
)

const inviteCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type conn struct {
	userID string
	ws     *websocket.Conn

	mu   sync.Mutex
	subs map[string]string // destination -> subscription id
}

func (c *conn) send(f wire.Frame) {
	data, err := wire.Encode(f)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteMessage(websocket.TextMessage, data)
}

// deliver pushes a MESSAGE frame if the conn subscribes the destination.
func (c *conn) deliver(destination string, headers map[string]string, body []byte) {
	c.mu.Lock()
	subID, ok := c.subs[destination]
	c.mu.Unlock()
	if !ok {
		return
	}

	f := wire.Frame{Command: wire.CmdMessage, Headers: map[string]string{
		wire.HdrDestination:  destination,
		wire.HdrSubscription: subID,
	}, Body: body}
	for k, v := range headers {
		f.Headers[k] = v
	}
	c.send(f)
}

type pendingInvite struct {
	userID  string
	attempt string
}

// Broker is the in-memory test double.
type Broker struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[string]*conn // userID -> connection (one per user)
	waiting  map[string]string
	invites  map[string]pendingInvite
	sessions map[string]map[string]bool // sessionID -> member userIDs
}

func NewBroker(logger zerolog.Logger) *Broker {
	return &Broker{
		log:      logger.With().Str("component", "bustest").Logger(),
		conns:    make(map[string]*conn),
		waiting:  make(map[string]string),
		invites:  make(map[string]pendingInvite),
		sessions: make(map[string]map[string]bool),
	}
}

// Router serves the websocket endpoint at /ws.
func (b *Broker) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/ws", b.serveWS)
	return r
}

func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	userID, err := auth.Subject(token)
	if err != nil {
		http.Error(w, "bad token", http.StatusUnauthorized)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &conn{userID: userID, ws: ws, subs: make(map[string]string)}
	b.mu.Lock()
	b.conns[userID] = c
	b.mu.Unlock()

	go b.readLoop(c)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

func (b *Broker) readLoop(c *conn) {
	defer b.dropConn(c)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := wire.Decode(raw)
		if err != nil {
			continue
		}

		switch f.Command {
		case wire.CmdConnect:
			c.send(wire.Frame{Command: wire.CmdConnected})
		case wire.CmdSubscribe:
			c.mu.Lock()
			c.subs[f.Header(wire.HdrDestination)] = f.Header(wire.HdrSubscription)
			c.mu.Unlock()
		case wire.CmdUnsubscribe:
			id := f.Header(wire.HdrSubscription)
			c.mu.Lock()
			for dest, subID := range c.subs {
				if subID == id {
					delete(c.subs, dest)
				}
			}
			c.mu.Unlock()
		case wire.CmdSend:
			b.handleSend(c, f)
		}
	}
}

func (b *Broker) handleSend(c *conn, f wire.Frame) {
	switch f.Header(wire.HdrDestination) {
	case wire.DestFindPartner:
		b.findPartner(c, f.Header(wire.HdrAttempt))
	case wire.DestCreateInvite:
		b.createInvite(c, f.Header(wire.HdrAttempt))
	case wire.DestJoinInvite:
		b.joinInvite(c, f.Body)
	case wire.DestSendMessage:
		b.chatMessage(c, f.Header(wire.HdrSession), f.Body)
	}
}

func (b *Broker) findPartner(c *conn, attempt string) {
	b.mu.Lock()
	for otherID, otherAttempt := range b.waiting {
		if otherID == c.userID {
			continue
		}
		delete(b.waiting, otherID)
		delete(b.waiting, c.userID)
		b.mu.Unlock()
		b.pair(c.userID, attempt, otherID, otherAttempt)
		return
	}
	b.waiting[c.userID] = attempt
	b.mu.Unlock()
}

func (b *Broker) createInvite(c *conn, attempt string) {
	code := generateInviteCode()
	b.mu.Lock()
	b.invites[code] = pendingInvite{userID: c.userID, attempt: attempt}
	b.mu.Unlock()

	b.PushInvite(c.userID, wire.InvitePayload{Code: code, ExpiresInSeconds: 300}, attempt)
}

func (b *Broker) joinInvite(c *conn, body []byte) {
	var payload wire.JoinInvitePayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Code == "" {
		b.PushError(c.userID, wire.ErrorPayload{Code: "INVALID_INVITE_CODE", Message: "no such code"})
		return
	}

	b.mu.Lock()
	invite, ok := b.invites[payload.Code]
	if !ok {
		b.mu.Unlock()
		b.PushError(c.userID, wire.ErrorPayload{Code: "INVALID_INVITE_CODE", Message: "no such code"})
		return
	}
	if invite.userID == c.userID {
		b.mu.Unlock()
		b.PushError(c.userID, wire.ErrorPayload{Code: "SELF_JOIN_INVITE", Message: "cannot join your own invite"})
		return
	}
	delete(b.invites, payload.Code)
	b.mu.Unlock()

	b.pair(c.userID, "", invite.userID, invite.attempt)
}

func (b *Broker) pair(userA, attemptA, userB, attemptB string) {
	sessionID := uuid.New().String()

	b.mu.Lock()
	b.sessions[sessionID] = map[string]bool{userA: true, userB: true}
	connA := b.conns[userA]
	connB := b.conns[userB]
	b.mu.Unlock()

	b.log.Info().Str("sessionId", sessionID).Str("userA", userA).Str("userB", userB).Msg("paired")

	if connA != nil {
		b.pushMatch(connA, sessionID, userB, attemptA)
	}
	if connB != nil {
		b.pushMatch(connB, sessionID, userA, attemptB)
	}
}

func (b *Broker) pushMatch(c *conn, sessionID, partner, attempt string) {
	body, _ := json.Marshal(wire.MatchPayload{SessionID: sessionID, Partner: partner})
	headers := map[string]string{}
	if attempt != "" {
		headers[wire.HdrAttempt] = attempt
	}
	c.deliver(wire.MatchQueue(c.userID), headers, body)
}

func (b *Broker) chatMessage(c *conn, sessionID string, body []byte) {
	var payload wire.ChatSendPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return
	}

	b.PushSessionEvent(sessionID, wire.SessionEvent{
		Type:    wire.EventChat,
		Content: payload.Content,
		Sender:  c.userID,
		Ts:      time.Now().UnixMilli(),
	})
}

// PushError delivers an error payload on a user's error queue.
func (b *Broker) PushError(userID string, payload wire.ErrorPayload) {
	b.mu.Lock()
	c := b.conns[userID]
	b.mu.Unlock()
	if c == nil {
		return
	}
	body, _ := json.Marshal(payload)
	c.deliver(wire.ErrorQueue(userID), nil, body)
}

// PushInvite delivers an invite payload on a user's invite queue.
func (b *Broker) PushInvite(userID string, payload wire.InvitePayload, attempt string) {
	b.mu.Lock()
	c := b.conns[userID]
	b.mu.Unlock()
	if c == nil {
		return
	}
	body, _ := json.Marshal(payload)
	headers := map[string]string{}
	if attempt != "" {
		headers[wire.HdrAttempt] = attempt
	}
	c.deliver(wire.InviteQueue(userID), headers, body)
}

// PushSessionEvent broadcasts an event to every member subscribed to
// the session topic.
func (b *Broker) PushSessionEvent(sessionID string, ev wire.SessionEvent) {
	body, _ := json.Marshal(ev)

	b.mu.Lock()
	members := b.sessions[sessionID]
	conns := make([]*conn, 0, len(members))
	for userID := range members {
		if c := b.conns[userID]; c != nil {
			conns = append(conns, c)
		}
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.deliver(wire.SessionTopic(sessionID), nil, body)
	}
}

// DropUser force-closes a user's connection server-side and notifies
// any session the user was in.
func (b *Broker) DropUser(userID string) {
	b.mu.Lock()
	c := b.conns[userID]
	b.mu.Unlock()
	if c != nil {
		c.ws.Close()
	}
}

func (b *Broker) dropConn(c *conn) {
	c.ws.Close()

	b.mu.Lock()
	if b.conns[c.userID] == c {
		delete(b.conns, c.userID)
	}
	delete(b.waiting, c.userID)
	for code, invite := range b.invites {
		if invite.userID == c.userID {
			delete(b.invites, code)
		}
	}
	var left []string
	for sessionID, members := range b.sessions {
		if members[c.userID] {
			delete(members, c.userID)
			left = append(left, sessionID)
		}
	}
	b.mu.Unlock()

	for _, sessionID := range left {
		b.PushSessionEvent(sessionID, wire.SessionEvent{Type: wire.EventLeave, Sender: c.userID})
	}
}

func generateInviteCode() string {
	chars := []byte(inviteCodeChars)
	code := make([]byte, 6)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		code[i] = chars[n.Int64()]
	}
	return string(code)
}
