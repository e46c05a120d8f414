package history

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveTranscriptValidation(t *testing.T) {
	s := &pgStore{}
	err := s.SaveTranscript(context.Background(), Transcript{Partner: "bob"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing session id")
}

// TestSaveTranscript exercises the real schema against Postgres. Set
// CHAT_HISTORY_TEST_DATABASE_URL to run it.
func TestSaveTranscript(t *testing.T) {
	dsn := os.Getenv("CHAT_HISTORY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CHAT_HISTORY_TEST_DATABASE_URL not set")
	}

	store, err := Open(dsn)
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, store.EnsureSchema(ctx))

	now := time.Now()
	err = store.SaveTranscript(ctx, Transcript{
		SessionID: "test-session",
		Partner:   "bob",
		EndedAt:   now,
		Entries: []Entry{
			{Kind: "MATCH", Content: "Matched with bob", Ts: now},
			{Kind: "CHAT", Content: "hello", Sender: "alice", Ts: now},
			{Kind: "LEAVE", Sender: "bob", Ts: now},
		},
	})
	require.NoError(t, err)
}
