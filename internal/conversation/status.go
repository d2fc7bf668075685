// Package conversation implements the continuous voice conversation core: the
// per-session state machine, the audio chunk queue, the recognition stream
// worker with restart and backoff, the cross-goroutine bridge that serialises
// all client-facing sends, and the turn processor that runs a full
// transcript → assistant reply → ready cycle.
package conversation

// Status is the lifecycle state of a conversation session. A session cycles
// through the listening → processing → responding → ready states once per
// conversational turn and re-enters listening for the next turn.
type Status string

const (
	// StatusIdle is the state of a freshly created session before any audio
	// has been received.
	StatusIdle Status = "idle"

	// StatusListening means the recognition stream is (or is about to be)
	// consuming audio for the current turn.
	StatusListening Status = "listening"

	// StatusProcessingSTT means a final transcript arrived and is being
	// prepared for the assistant.
	StatusProcessingSTT Status = "processing_stt"

	// StatusAwaitingAI means the assistant request is in flight.
	StatusAwaitingAI Status = "awaiting_ai"

	// StatusAIResponding means the assistant reply is being delivered to the
	// client.
	StatusAIResponding Status = "ai_responding"

	// StatusReadyForInput means the completed turn has been delivered and the
	// session is ready for the next utterance.
	StatusReadyForInput Status = "ready_for_input"

	// StatusDestroyed is the terminal state. Reachable from every other state.
	StatusDestroyed Status = "destroyed"
)

// String returns the status as its wire representation.
func (s Status) String() string { return string(s) }

// IsValid reports whether s is one of the defined Status values.
func (s Status) IsValid() bool {
	switch s {
	case StatusIdle, StatusListening, StatusProcessingSTT, StatusAwaitingAI,
		StatusAIResponding, StatusReadyForInput, StatusDestroyed:
		return true
	}
	return false
}

// legalTransitions maps each status to the set of statuses it may move to.
// Destroyed is handled separately in CanTransition since it is reachable from
// everywhere and permits nothing.
var legalTransitions = map[Status][]Status{
	StatusIdle:          {StatusListening},
	StatusListening:     {StatusProcessingSTT},
	StatusProcessingSTT: {StatusAwaitingAI},
	StatusAwaitingAI:    {StatusAIResponding},
	StatusAIResponding:  {StatusReadyForInput},
	StatusReadyForInput: {StatusListening},
	StatusDestroyed:     nil,
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition. Every non-terminal status may move to StatusDestroyed.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return false
	}
	if next == StatusDestroyed {
		return s != StatusDestroyed
	}
	for _, t := range legalTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}
