// Package archive persists completed conversation turns to PostgreSQL so a
// session's history survives reconnects and can be reviewed later. Writes are
// best effort from the caller's point of view: the conversation keeps going
// even when the archive is down.
//
// Usage:
//
//	store, err := archive.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.WriteTurn(ctx, sessionID, turn)
package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlConversationTurns = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id             TEXT         PRIMARY KEY,
    session_id     TEXT         NOT NULL,
    user_text      TEXT         NOT NULL,
    assistant_text TEXT         NOT NULL,
    action         TEXT         NOT NULL DEFAULT '',
    duration_ns    BIGINT       NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_session_id
    ON conversation_turns (session_id);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_session_created
    ON conversation_turns (session_id, created_at);

CREATE INDEX IF NOT EXISTS idx_conversation_turns_fts
    ON conversation_turns USING GIN (to_tsvector('english', user_text || ' ' || assistant_text));
`

// Migrate creates or ensures the conversation_turns table and its indexes
// exist. It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversationTurns); err != nil {
		return fmt.Errorf("archive migrate: %w", err)
	}
	return nil
}
