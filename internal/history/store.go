package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Transcript is one ended session's message log, archived verbatim.
type Transcript struct {
	SessionID string
	Partner   string
	EndedAt   time.Time
	Entries   []Entry
}

type Entry struct {
	Kind    string
	Content string
	Sender  string
	Ts      time.Time
}

// Store archives transcripts of ended sessions. The chat client core
// never depends on this; it is wired in by the binary when configured.
type Store interface {
	EnsureSchema(ctx context.Context) error
	SaveTranscript(ctx context.Context, t Transcript) error
	Close() error
}

type pgStore struct {
	db *sqlx.DB
}

var _ Store = (*pgStore)(nil)

func Open(databaseURL string) (Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect history database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &pgStore{db: db}, nil
}

func (s *pgStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chat_transcripts (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			partner    TEXT NOT NULL,
			ended_at   TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS chat_transcript_entries (
			transcript_id TEXT NOT NULL REFERENCES chat_transcripts(id) ON DELETE CASCADE,
			seq           INT NOT NULL,
			kind          TEXT NOT NULL,
			content       TEXT NOT NULL,
			sender        TEXT NOT NULL DEFAULT '',
			ts            TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (transcript_id, seq)
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	return nil
}

func (s *pgStore) SaveTranscript(ctx context.Context, t Transcript) error {
	if t.SessionID == "" {
		return fmt.Errorf("save transcript: missing session id")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_transcripts (id, session_id, partner, ended_at)
		VALUES ($1, $2, $3, $4)
	`, id, t.SessionID, t.Partner, t.EndedAt)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	for seq, e := range t.Entries {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_transcript_entries (transcript_id, seq, kind, content, sender, ts)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, seq, e.Kind, e.Content, e.Sender, e.Ts)
		if err != nil {
			return fmt.Errorf("insert transcript entry %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	log.Info().
		Str("sessionId", t.SessionID).
		Int("entries", len(t.Entries)).
		Msg("transcript archived")
	return nil
}

func (s *pgStore) Close() error {
	return s.db.Close()
}
