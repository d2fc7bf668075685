package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mylee04/email-manager/internal/archive"
)

const (
	// transcribeTimeout bounds one-shot recognition requests.
	transcribeTimeout = 30 * time.Second

	// defaultSearchLimit caps history search results when the client does not
	// ask for a limit.
	defaultSearchLimit = 50
)

type commandRequest struct {
	Command string `json:"command"`
}

type transcribeRequest struct {
	// AudioData is the base64-encoded audio payload.
	AudioData string `json:"audio_data"`

	// Optional overrides of the configured stream settings.
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Language   string `json:"language,omitempty"`
}

// handleCommand acknowledges a text command. Clients use it to confirm
// connectivity before opening an audio session.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "received",
		"command":   req.Command,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleTranscribe runs one-shot recognition: the audio is pushed through a
// single streaming session which is then flushed, and the last non-empty
// final transcript is returned.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.AudioData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio_data is not valid base64")
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "audio_data is required")
		return
	}

	cfg := s.cfg.Worker.Stream
	if req.Encoding != "" {
		cfg.Encoding = req.Encoding
	}
	if req.SampleRate > 0 {
		cfg.SampleRate = req.SampleRate
	}
	if req.Language != "" {
		cfg.Language = req.Language
	}

	ctx, cancel := context.WithTimeout(r.Context(), transcribeTimeout)
	defer cancel()

	handle, err := s.stt.StartStream(ctx, cfg)
	if err != nil {
		s.logger.Error("one-shot recognition stream failed", "error", err)
		writeError(w, http.StatusBadGateway, "recognition unavailable")
		return
	}
	if err := handle.SendAudio(audio); err != nil {
		handle.Close()
		s.logger.Error("one-shot audio send failed", "error", err)
		writeError(w, http.StatusBadGateway, "recognition failed")
		return
	}
	// Close flushes pending audio; finals emitted by the flush are drained
	// below once the channel closes.
	handle.Close()

	var transcript string
	var confidence float64
	for t := range handle.Finals() {
		if t.Text != "" {
			transcript = t.Text
			confidence = t.Confidence
		}
	}
	if err := handle.Err(); err != nil {
		s.logger.Error("one-shot recognition failed", "error", err)
		writeError(w, http.StatusBadGateway, "recognition failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transcript": transcript,
		"confidence": confidence,
	})
}

// handleHealth reports overall service health plus a live session count.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"active_sessions": s.store.Len(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

// handleSpeechStatus reports one session's lifecycle state, or a summary of
// all live sessions when no session_id is given.
func (s *Server) handleSpeechStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"active_sessions": s.store.Len(),
			"session_ids":     s.store.IDs(),
		})
		return
	}

	sess, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    sess.ID,
		"status":        sess.Status.String(),
		"turn_count":    sess.Context.TurnCount,
		"last_activity": sess.LastActivity.Format(time.RFC3339),
	})
}

// historyTurn is the wire form of one archived turn.
type historyTurn struct {
	ID            string `json:"id"`
	UserText      string `json:"user_text"`
	AssistantText string `json:"assistant_text"`
	Action        string `json:"action,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// handleHistorySearch runs a full-text search over the turn archive. Query
// parameters: q (required), session_id, after, before (RFC 3339), limit.
func (s *Server) handleHistorySearch(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history archive not configured")
		return
	}

	params := r.URL.Query()
	query := strings.TrimSpace(params.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	opts := archive.SearchOpts{
		SessionID: params.Get("session_id"),
		Limit:     defaultSearchLimit,
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}
	if v := params.Get("after"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be an RFC 3339 timestamp")
			return
		}
		opts.After = ts
	}
	if v := params.Get("before"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
			return
		}
		opts.Before = ts
	}

	turns, err := s.history.Search(r.Context(), query, opts)
	if err != nil {
		s.logger.Error("history search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history search failed")
		return
	}

	results := make([]historyTurn, 0, len(turns))
	for _, t := range turns {
		results = append(results, historyTurn{
			ID:            t.ID,
			UserText:      t.UserText,
			AssistantText: t.AssistantText,
			Action:        t.Action,
			CreatedAt:     t.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query": query,
		"count": len(results),
		"turns": results,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
