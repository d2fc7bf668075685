package conversation

import (
	"io"
	"time"
)

// ConversationTurn is one completed exchange: what the user said and what the
// assistant answered.
type ConversationTurn struct {
	// ID uniquely identifies the turn.
	ID string

	// UserText is the final transcript of the user's utterance.
	UserText string

	// AssistantText is the reply that was delivered to the client.
	AssistantText string

	// Action describes the task the assistant executed for this turn, if any
	// (empty for plain conversational replies).
	Action string

	// Duration is the wall-clock time from final transcript to delivered reply.
	Duration time.Duration

	// CreatedAt is when the turn completed.
	CreatedAt time.Time
}

// ConversationContext is the rolling per-session conversation memory.
type ConversationContext struct {
	// Turns is the ordered history of completed turns, oldest first.
	Turns []ConversationTurn

	// LastUserQuery is the user text of the most recent turn.
	LastUserQuery string

	// LastAssistantReply is the assistant text of the most recent turn.
	LastAssistantReply string

	// TurnCount is the total number of completed turns.
	TurnCount int
}

// Session is the server-side state of one continuous conversation. All fields
// are owned by the Store; callers receive copies via snapshot accessors and
// must mutate through Store methods.
type Session struct {
	// ID is the unique session identifier.
	ID string

	// Status is the current lifecycle state.
	Status Status

	// Context is the conversation memory.
	Context ConversationContext

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	// LastActivity is the time of the most recent status change or turn.
	LastActivity time.Time

	// resource is an optional long-lived helper (e.g. an automation runner)
	// attached to the session and closed exactly once on destroy.
	resource io.Closer
}
