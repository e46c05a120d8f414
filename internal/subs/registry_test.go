package subs

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/chat-session-go/internal/wire"
)

type fakePublisher struct {
	mu     sync.Mutex
	frames []wire.Frame
	err    error
}

func (p *fakePublisher) Send(f wire.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.frames = append(p.frames, f)
	return nil
}

func (p *fakePublisher) sent() []wire.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]wire.Frame, len(p.frames))
	copy(out, p.frames)
	return out
}

func (p *fakePublisher) byCommand(cmd wire.Command) []wire.Frame {
	var out []wire.Frame
	for _, f := range p.sent() {
		if f.Command == cmd {
			out = append(out, f)
		}
	}
	return out
}

func newTestRegistry() (*Registry, *fakePublisher) {
	pub := &fakePublisher{}
	return NewRegistry(pub, zerolog.Nop()), pub
}

func TestAttachFixed(t *testing.T) {
	t.Run("subscribes the three per-user queues", func(t *testing.T) {
		r, pub := newTestRegistry()
		require.NoError(t, r.AttachFixed("alice"))

		subscribes := pub.byCommand(wire.CmdSubscribe)
		require.Len(t, subscribes, 3)

		var dests []string
		for _, f := range subscribes {
			dests = append(dests, f.Header(wire.HdrDestination))
			assert.True(t, r.Known(f.Header(wire.HdrSubscription)))
		}
		assert.ElementsMatch(t, []string{
			"queue.match.alice",
			"queue.errors.alice",
			"queue.invite.alice",
		}, dests)
	})

	t.Run("propagates publish failures", func(t *testing.T) {
		pub := &fakePublisher{err: errors.New("transport gone")}
		r := NewRegistry(pub, zerolog.Nop())
		assert.Error(t, r.AttachFixed("alice"))
	})
}

func TestAttachSession(t *testing.T) {
	t.Run("subscribes the session topic", func(t *testing.T) {
		r, pub := newTestRegistry()
		require.NoError(t, r.AttachSession("s1"))

		subscribes := pub.byCommand(wire.CmdSubscribe)
		require.Len(t, subscribes, 1)
		assert.Equal(t, "topic.session.s1", subscribes[0].Header(wire.HdrDestination))
	})

	t.Run("replaces a previous session subscription", func(t *testing.T) {
		r, pub := newTestRegistry()
		require.NoError(t, r.AttachSession("s1"))
		firstID := pub.byCommand(wire.CmdSubscribe)[0].Header(wire.HdrSubscription)

		require.NoError(t, r.AttachSession("s2"))

		unsubscribes := pub.byCommand(wire.CmdUnsubscribe)
		require.Len(t, unsubscribes, 1)
		assert.Equal(t, firstID, unsubscribes[0].Header(wire.HdrSubscription))
		assert.False(t, r.Known(firstID))

		secondID := pub.byCommand(wire.CmdSubscribe)[1].Header(wire.HdrSubscription)
		assert.True(t, r.Known(secondID))
	})
}

func TestDetachSession(t *testing.T) {
	t.Run("unsubscribes the session topic", func(t *testing.T) {
		r, pub := newTestRegistry()
		require.NoError(t, r.AttachSession("s1"))
		subID := pub.byCommand(wire.CmdSubscribe)[0].Header(wire.HdrSubscription)

		r.DetachSession()

		assert.False(t, r.Known(subID))
		assert.Len(t, pub.byCommand(wire.CmdUnsubscribe), 1)
	})

	t.Run("is a no-op when no session is attached", func(t *testing.T) {
		r, pub := newTestRegistry()
		r.DetachSession()
		assert.Empty(t, pub.sent())
	})

	t.Run("leaves fixed subscriptions alone", func(t *testing.T) {
		r, pub := newTestRegistry()
		require.NoError(t, r.AttachFixed("alice"))
		fixed := pub.byCommand(wire.CmdSubscribe)
		require.Len(t, fixed, 3)
		require.NoError(t, r.AttachSession("s1"))

		r.DetachSession()

		for _, f := range fixed {
			assert.True(t, r.Known(f.Header(wire.HdrSubscription)))
		}
	})
}

func TestTeardownAll(t *testing.T) {
	t.Run("unsubscribes everything", func(t *testing.T) {
		r, pub := newTestRegistry()
		require.NoError(t, r.AttachFixed("alice"))
		require.NoError(t, r.AttachSession("s1"))

		var ids []string
		for _, f := range pub.byCommand(wire.CmdSubscribe) {
			ids = append(ids, f.Header(wire.HdrSubscription))
		}

		r.TeardownAll()

		assert.Len(t, pub.byCommand(wire.CmdUnsubscribe), 4)
		for _, id := range ids {
			assert.False(t, r.Known(id))
		}
	})

	t.Run("clears bookkeeping even when sends fail", func(t *testing.T) {
		r, pub := newTestRegistry()
		require.NoError(t, r.AttachFixed("alice"))
		subID := pub.byCommand(wire.CmdSubscribe)[0].Header(wire.HdrSubscription)

		pub.mu.Lock()
		pub.err = errors.New("transport gone")
		pub.mu.Unlock()

		r.TeardownAll()

		assert.False(t, r.Known(subID))
	})
}

func TestKnown(t *testing.T) {
	r, _ := newTestRegistry()
	assert.False(t, r.Known("never-issued"))
}
