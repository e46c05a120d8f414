package bustest

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/chat-session-go/internal/client"
	"github.com/openclaw/chat-session-go/internal/wire"
)

func signToken(t *testing.T, sub string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func startBroker(t *testing.T) (*Broker, string) {
	t.Helper()
	b := NewBroker(zerolog.Nop())
	srv := httptest.NewServer(b.Router())
	t.Cleanup(srv.Close)
	return b, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func startClient(t *testing.T, url, user string) *client.Client {
	t.Helper()
	c := client.New(client.Options{
		BrokerURL:         url,
		TokenFunc:         func() string { return signToken(t, user) },
		HeartbeatInterval: time.Second,
		RedialDelay:       50 * time.Millisecond,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	require.Equal(t, client.StateIdle, c.Snapshot().State)
	return c
}

func waitState(t *testing.T, c *client.Client, want client.State) client.Snapshot {
	t.Helper()
	var snap client.Snapshot
	require.Eventually(t, func() bool {
		snap = c.Snapshot()
		return snap.State == want
	}, 3*time.Second, 20*time.Millisecond, "waiting for state %s, last seen %s", want, snap.State)
	return snap
}

func hasChatEntry(snap client.Snapshot, sender, content string) bool {
	for _, e := range snap.Messages {
		if e.Kind == client.KindChat && e.Sender == sender && e.Content == content {
			return true
		}
	}
	return false
}

func TestRandomMatch(t *testing.T) {
	_, url := startBroker(t)
	alice := startClient(t, url, "alice")
	bob := startClient(t, url, "bob")

	require.NoError(t, alice.FindPartner())
	require.NoError(t, bob.FindPartner())

	aliceSnap := waitState(t, alice, client.StateInChat)
	bobSnap := waitState(t, bob, client.StateInChat)

	assert.Equal(t, aliceSnap.SessionID, bobSnap.SessionID)
	assert.Equal(t, "bob", aliceSnap.Partner)
	assert.Equal(t, "alice", bobSnap.Partner)

	require.NoError(t, alice.SendMessage("hello bob"))

	require.Eventually(t, func() bool {
		return hasChatEntry(alice.Snapshot(), "alice", "hello bob") &&
			hasChatEntry(bob.Snapshot(), "alice", "hello bob")
	}, 3*time.Second, 20*time.Millisecond, "both sides should see the message")

	require.NoError(t, bob.SendMessage("hi alice"))
	require.Eventually(t, func() bool {
		return hasChatEntry(alice.Snapshot(), "bob", "hi alice")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestInviteFlow(t *testing.T) {
	_, url := startBroker(t)
	alice := startClient(t, url, "alice")
	bob := startClient(t, url, "bob")

	require.NoError(t, alice.CreateInvite())
	aliceSnap := waitState(t, alice, client.StateWaitingWithInvite)
	require.NotEmpty(t, aliceSnap.InviteCode)
	assert.Positive(t, aliceSnap.InviteExpiresIn)

	require.NoError(t, bob.JoinWithInvite(aliceSnap.InviteCode))

	aliceSnap = waitState(t, alice, client.StateInChat)
	bobSnap := waitState(t, bob, client.StateInChat)
	assert.Equal(t, aliceSnap.SessionID, bobSnap.SessionID)
	assert.Equal(t, "bob", aliceSnap.Partner)
	assert.Empty(t, aliceSnap.InviteCode, "pairing consumes the invite")
}

func TestInvalidInviteCode(t *testing.T) {
	_, url := startBroker(t)
	bob := startClient(t, url, "bob")

	require.NoError(t, bob.JoinWithInvite("ZZZZZZ"))

	snap := waitState(t, bob, client.StateIdle)
	assert.Equal(t, "no such code", snap.Err)
	assert.Empty(t, snap.SessionID)
}

func TestServerPushedError(t *testing.T) {
	b, url := startBroker(t)
	alice := startClient(t, url, "alice")

	require.NoError(t, alice.FindPartner())
	b.PushError("alice", wire.ErrorPayload{Code: "NOT_IN_SESSION", Message: "not in a session"})

	snap := waitState(t, alice, client.StateIdle)
	assert.Equal(t, "not in a session", snap.Err)
}

func TestPartnerDeparture(t *testing.T) {
	b, url := startBroker(t)
	alice := startClient(t, url, "alice")
	bob := startClient(t, url, "bob")

	require.NoError(t, alice.FindPartner())
	require.NoError(t, bob.FindPartner())
	waitState(t, alice, client.StateInChat)
	waitState(t, bob, client.StateInChat)

	b.DropUser("bob")

	// The departure tears the whole transport down and reconnects, so
	// alice ends up idle on a fresh connection with no session state.
	require.Eventually(t, func() bool {
		snap := alice.Snapshot()
		return snap.State == client.StateIdle && snap.SessionID == "" && snap.Connected
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReconnectAfterBrokerDrop(t *testing.T) {
	b, url := startBroker(t)
	alice := startClient(t, url, "alice")

	b.DropUser("alice")

	// Auto redial brings the client back to idle without intervention.
	require.Eventually(t, func() bool {
		snap := alice.Snapshot()
		return snap.State == client.StateIdle && snap.Connected
	}, 5*time.Second, 20*time.Millisecond)

	// The fresh connection is fully usable.
	require.NoError(t, alice.FindPartner())
	waitState(t, alice, client.StateSearching)
}
