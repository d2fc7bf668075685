package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mylee04/email-manager/internal/conversation"
)

// Compile-time interface check.
var _ conversation.TurnArchiver = (*Store)(nil)

// SearchOpts narrows a full-text search over archived turns.
type SearchOpts struct {
	// SessionID restricts results to one session when non-empty.
	SessionID string

	// After and Before bound the created_at timestamp when non-zero.
	After  time.Time
	Before time.Time

	// Limit caps the number of results; zero means no limit.
	Limit int
}

// Store is the PostgreSQL-backed turn archive. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool to the PostgreSQL database at dsn, pings
// it, and runs [Migrate] so the conversation_turns table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// WriteTurn implements [conversation.TurnArchiver]. It appends one completed
// turn under sessionID.
func (s *Store) WriteTurn(ctx context.Context, sessionID string, turn conversation.ConversationTurn) error {
	const q = `
		INSERT INTO conversation_turns
		    (id, session_id, user_text, assistant_text, action, duration_ns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		turn.ID,
		sessionID,
		turn.UserText,
		turn.AssistantText,
		turn.Action,
		turn.Duration.Nanoseconds(),
		turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("archive: write turn: %w", err)
	}
	return nil
}

// RecentTurns returns the newest limit turns for sessionID in chronological
// order (oldest first).
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]conversation.ConversationTurn, error) {
	const q = `
		SELECT id, user_text, assistant_text, action, duration_ns, created_at
		FROM   (
		    SELECT *
		    FROM   conversation_turns
		    WHERE  session_id = $1
		    ORDER  BY created_at DESC
		    LIMIT  $2
		) newest
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: recent turns: %w", err)
	}
	return collectTurns(rows)
}

// Search performs a PostgreSQL full-text search over the user and assistant
// text of archived turns, with optional filters from opts.
//
// The query is passed to plainto_tsquery so no special operator syntax is
// required.
func (s *Store) Search(ctx context.Context, query string, opts SearchOpts) ([]conversation.ConversationTurn, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', user_text || ' ' || assistant_text) @@ plainto_tsquery('english', $1)",
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(opts.Before))
	}

	q := "SELECT id, user_text, assistant_text, action, duration_ns, created_at\n" +
		"FROM   conversation_turns\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY created_at"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: search: %w", err)
	}
	return collectTurns(rows)
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("archive: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// collectTurns scans pgx rows into a slice of ConversationTurn values.
func collectTurns(rows pgx.Rows) ([]conversation.ConversationTurn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (conversation.ConversationTurn, error) {
		var (
			t          conversation.ConversationTurn
			durationNS int64
		)
		if err := row.Scan(
			&t.ID,
			&t.UserText,
			&t.AssistantText,
			&t.Action,
			&durationNS,
			&t.CreatedAt,
		); err != nil {
			return conversation.ConversationTurn{}, err
		}
		t.Duration = time.Duration(durationNS)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan rows: %w", err)
	}
	if turns == nil {
		turns = []conversation.ConversationTurn{}
	}
	return turns, nil
}
