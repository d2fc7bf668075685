package conversation

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the in-memory session registry. It owns all per-session state,
// keyed by session ID, and is safe for concurrent use.
//
// Mutating methods on unknown session IDs are silent no-ops: races between a
// session being destroyed and late worker callbacks are expected and harmless.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewStore creates an empty session store. A nil logger falls back to
// slog.Default().
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Create registers a new session in StatusIdle and returns its snapshot.
func (s *Store) Create() Session {
	now := time.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		Status:       StatusIdle,
		CreatedAt:    now,
		LastActivity: now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("session created", "session_id", sess.ID)
	return *sess
}

// Get returns a snapshot of the session and whether it exists. The snapshot's
// Context.Turns slice is shared; callers must not mutate it.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Status returns the current status of the session. Unknown sessions report
// StatusDestroyed.
func (s *Store) Status(id string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return StatusDestroyed
	}
	return sess.Status
}

// SetStatus applies a lifecycle transition. Illegal transitions are logged at
// warn level and ignored; the session keeps its current status.
func (s *Store) SetStatus(id string, next Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	if sess.Status == next {
		return
	}
	if !sess.Status.CanTransition(next) {
		s.logger.Warn("illegal status transition ignored",
			"session_id", id, "from", sess.Status, "to", next)
		return
	}
	sess.Status = next
	sess.LastActivity = time.Now()
}

// AppendTurn records a completed exchange and updates the rolling context.
// Returns the stored turn (zero value for unknown sessions).
func (s *Store) AppendTurn(id, userText, assistantText, action string, d time.Duration) ConversationTurn {
	turn := ConversationTurn{
		ID:            uuid.NewString(),
		UserText:      userText,
		AssistantText: assistantText,
		Action:        action,
		Duration:      d,
		CreatedAt:     time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ConversationTurn{}
	}
	sess.Context.Turns = append(sess.Context.Turns, turn)
	sess.Context.LastUserQuery = userText
	sess.Context.LastAssistantReply = assistantText
	sess.Context.TurnCount++
	sess.LastActivity = turn.CreatedAt
	return turn
}

// RecentTurns returns up to n most recent turns, oldest first. The result is
// a copy and safe to retain.
func (s *Store) RecentTurns(id string, n int) []ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || n <= 0 {
		return nil
	}
	turns := sess.Context.Turns
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]ConversationTurn, len(turns))
	copy(out, turns)
	return out
}

// AttachResource associates a long-lived helper with the session. The store
// closes it exactly once when the session is destroyed. Attaching to an
// unknown session closes the resource immediately.
func (s *Store) AttachResource(id string, r io.Closer) {
	if r == nil {
		return
	}
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		// Replacing an existing resource closes the old one.
		old := sess.resource
		sess.resource = r
		s.mu.Unlock()
		if old != nil {
			if err := old.Close(); err != nil {
				s.logger.Warn("close replaced session resource", "session_id", id, "error", err)
			}
		}
		return
	}
	s.mu.Unlock()
	if err := r.Close(); err != nil {
		s.logger.Warn("close orphaned session resource", "session_id", id, "error", err)
	}
}

// Resource returns the helper attached to the session, or nil.
func (s *Store) Resource(id string) io.Closer {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return sess.resource
}

// Destroy removes the session and releases its resource. Idempotent: calling
// it on an unknown or already-destroyed ID is a no-op.
func (s *Store) Destroy(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, id)
	resource := sess.resource
	sess.resource = nil
	sess.Status = StatusDestroyed
	s.mu.Unlock()

	if resource != nil {
		if err := resource.Close(); err != nil {
			s.logger.Warn("close session resource", "session_id", id, "error", err)
		}
	}
	s.logger.Info("session destroyed", "session_id", id, "turns", sess.Context.TurnCount)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// IDs returns the IDs of all live sessions. Used by the shutdown cascade.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
