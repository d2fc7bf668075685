package conversation

import (
	"context"
	"time"
)

// Sender delivers a single JSON-encodable payload to the session's client.
// The server's WebSocket connection implements this; tests substitute a
// recording fake. Implementations are called only from the bridge's writer
// goroutine and therefore need not be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, payload any) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, payload any) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, payload any) error { return f(ctx, payload) }

// InterimMessage is the low-latency partial transcript pushed while the user
// is still speaking.
type InterimMessage struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
	SessionID  string `json:"session_id"`
}

// ProcessingMessage acknowledges a final transcript while the assistant reply
// is still being produced.
type ProcessingMessage struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
	Processing bool    `json:"processing"`
	Status     string  `json:"status"`
	SessionID  string  `json:"session_id"`
	Timestamp  string  `json:"timestamp"`
}

// FinalMessage carries the assistant reply for a completed turn.
type FinalMessage struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
	AIResponse string  `json:"ai_response"`
	Processing bool    `json:"processing"`
	SessionID  string  `json:"session_id"`
	Timestamp  string  `json:"timestamp"`
}

// ReadyMessage tells the client the session is ready for the next utterance.
type ReadyMessage struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

// KeepAliveAckMessage answers a client KEEP_ALIVE control frame.
type KeepAliveAckMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

// PingMessage is pushed when no audio has arrived for the idle timeout, so the
// client knows the session is still alive and listening.
type PingMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ErrorMessage reports a terminal session failure to the client.
type ErrorMessage struct {
	Error     string `json:"error"`
	SessionID string `json:"session_id"`
}

// idlePingText matches what voice clients display while waiting for input.
const idlePingText = "Still listening for your command..."

func wireTimestamp() string { return time.Now().Format(time.RFC3339) }

// NewInterimMessage builds the partial transcript payload.
func NewInterimMessage(sessionID, transcript string) InterimMessage {
	return InterimMessage{Transcript: transcript, IsFinal: false, SessionID: sessionID}
}

// NewProcessingMessage builds the "working on it" payload for a final transcript.
func NewProcessingMessage(sessionID, transcript string, confidence float64) ProcessingMessage {
	return ProcessingMessage{
		Transcript: transcript,
		Confidence: confidence,
		IsFinal:    true,
		Processing: true,
		Status:     StatusProcessingSTT.String(),
		SessionID:  sessionID,
		Timestamp:  wireTimestamp(),
	}
}

// NewFinalMessage builds the completed-turn payload.
func NewFinalMessage(sessionID, transcript string, confidence float64, reply string) FinalMessage {
	return FinalMessage{
		Transcript: transcript,
		Confidence: confidence,
		IsFinal:    true,
		AIResponse: reply,
		Processing: false,
		SessionID:  sessionID,
		Timestamp:  wireTimestamp(),
	}
}

// NewReadyMessage builds the ready-for-next-input payload.
func NewReadyMessage(sessionID string) ReadyMessage {
	return ReadyMessage{
		Type:      "ready_for_next",
		Status:    StatusReadyForInput.String(),
		SessionID: sessionID,
		Timestamp: wireTimestamp(),
	}
}

// NewKeepAliveAckMessage builds the KEEP_ALIVE acknowledgement payload.
func NewKeepAliveAckMessage(sessionID string) KeepAliveAckMessage {
	return KeepAliveAckMessage{
		Type:      "keep_alive_ack",
		SessionID: sessionID,
		Timestamp: wireTimestamp(),
	}
}

// NewPingMessage builds the idle still-listening payload.
func NewPingMessage(sessionID string) PingMessage {
	return PingMessage{Type: "ping", Message: idlePingText, SessionID: sessionID}
}

// NewErrorMessage builds the terminal error payload.
func NewErrorMessage(sessionID, msg string) ErrorMessage {
	return ErrorMessage{Error: msg, SessionID: sessionID}
}
