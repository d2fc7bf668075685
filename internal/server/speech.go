package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/mylee04/email-manager/internal/conversation"
)

// maxFrameBytes is the largest accepted WebSocket frame. Browser recorders
// emit audio chunks well under this.
const maxFrameBytes = 1 << 20

// controlFrame is a client→server JSON text frame.
type controlFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// handleSpeech runs one continuous voice conversation over a WebSocket.
//
// Binary frames are audio chunks for the recognition queue; an empty binary
// frame ends the session gracefully. Text frames are control messages:
// STOP_RECORDING ends the session, KEEP_ALIVE is acknowledged, anything else
// is logged and skipped. The deferred teardown runs unconditionally in a
// fixed order so every exit path releases the same resources.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := s.store.Create()
	logger := s.logger.With("session_id", sess.ID)
	logger.Info("speech session opened", "remote", r.RemoteAddr)

	s.metrics.SessionStarted(ctx)
	s.conns.Register(sess.ID, cancel)

	queue := conversation.NewAudioQueue()
	bridge := conversation.NewBridge(logger)
	go bridge.Run(ctx)

	sender := &wsSender{conn: conn}
	worker := conversation.NewWorker(sess.ID, queue, bridge, sender, s.store,
		s.stt, s.turns, s.metrics, logger, s.cfg.Worker)
	worker.Start(ctx)

	defer func() {
		worker.Stop()
		queue.PushSentinel()
		select {
		case <-worker.Done():
		case <-time.After(workerJoinTimeout):
			logger.Warn("recognition worker did not stop in time")
		}
		bridge.Close()
		s.store.Destroy(sess.ID)
		s.conns.Unregister(sess.ID)
		s.metrics.SessionEnded(context.WithoutCancel(ctx))
		conn.Close(websocket.StatusNormalClosure, "session ended")
		logger.Info("speech session closed")
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				logger.Debug("connection closed", "error", err)
			} else {
				logger.Warn("connection read failed", "error", err)
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if len(data) == 0 {
				logger.Info("empty audio frame, ending session")
				return
			}
			queue.Push(data)

		case websocket.MessageText:
			if done := s.handleControl(ctx, bridge, sender, logger, sess.ID, data); done {
				return
			}
		}
	}
}

// handleControl processes one JSON control frame. It reports true when the
// frame ends the session.
func (s *Server) handleControl(ctx context.Context, bridge *conversation.Bridge, sender *wsSender, logger *slog.Logger, sessionID string, data []byte) bool {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.Warn("malformed control frame", "error", err)
		return false
	}

	switch frame.Type {
	case "STOP_RECORDING":
		logger.Info("stop requested", "reason", frame.Reason)
		return true

	case "KEEP_ALIVE":
		ack := conversation.NewKeepAliveAckMessage(sessionID)
		if err := bridge.Do(controlAckTimeout, func(ctx context.Context) error {
			return sender.Send(ctx, ack)
		}); err != nil {
			logger.Warn("keep-alive ack not delivered", "error", err)
		}
		return false

	default:
		logger.Warn("unknown control frame", "type", frame.Type)
		return false
	}
}
