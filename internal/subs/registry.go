package subs

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openclaw/chat-session-go/internal/wire"
)

// Publisher writes frames to the broker.
type Publisher interface {
	Send(f wire.Frame) error
}

// Registry owns the set of active channel subscriptions: the three
// fixed per-user queues plus at most one session topic. Subscription
// ids are fresh UUIDs per attach, so a frame tagged with an id the
// registry no longer knows is stale by construction.
type Registry struct {
	pub Publisher
	log zerolog.Logger

	mu   sync.Mutex
	subs map[string]string // subscription id -> destination

	sessionSubID string
}

func NewRegistry(pub Publisher, logger zerolog.Logger) *Registry {
	return &Registry{
		pub:  pub,
		log:  logger.With().Str("component", "subs").Logger(),
		subs: make(map[string]string),
	}
}

// AttachFixed subscribes the per-user match, error and invite queues.
// Called after every successful connection: fixed subscriptions never
// survive a reconnect.
func (r *Registry) AttachFixed(userID string) error {
	destinations := []string{
		wire.MatchQueue(userID),
		wire.ErrorQueue(userID),
		wire.InviteQueue(userID),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dest := range destinations {
		if err := r.subscribeLocked(dest); err != nil {
			return err
		}
	}
	return nil
}

// AttachSession subscribes the session topic, replacing any previously
// attached session topic first. At most one session subscription is
// active at a time.
func (r *Registry) AttachSession(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.detachSessionLocked()

	id := uuid.New().String()
	dest := wire.SessionTopic(sessionID)
	if err := r.pub.Send(wire.Subscribe(id, dest)); err != nil {
		return err
	}
	r.subs[id] = dest
	r.sessionSubID = id

	r.log.Debug().Str("destination", dest).Msg("session topic attached")
	return nil
}

// DetachSession unsubscribes the current session topic. Safe to call
// when none is attached.
func (r *Registry) DetachSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachSessionLocked()
}

// TeardownAll unsubscribes every channel. Send failures are ignored:
// teardown also runs when the transport is already gone, and local
// bookkeeping must be cleared either way.
func (r *Registry) TeardownAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.subs {
		_ = r.pub.Send(wire.Unsubscribe(id))
	}
	r.subs = make(map[string]string)
	r.sessionSubID = ""

	r.log.Debug().Msg("all subscriptions torn down")
}

// Known reports whether a subscription id is currently live. Frames
// carrying an unknown id must be dropped, never dispatched.
func (r *Registry) Known(subscriptionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[subscriptionID]
	return ok
}

func (r *Registry) subscribeLocked(dest string) error {
	id := uuid.New().String()
	if err := r.pub.Send(wire.Subscribe(id, dest)); err != nil {
		return err
	}
	r.subs[id] = dest
	return nil
}

func (r *Registry) detachSessionLocked() {
	if r.sessionSubID == "" {
		return
	}
	_ = r.pub.Send(wire.Unsubscribe(r.sessionSubID))
	delete(r.subs, r.sessionSubID)
	r.sessionSubID = ""
}
