package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/mylee04/email-manager/internal/conversation"
)

// wsSender delivers JSON payloads over the session's WebSocket as text
// frames. All sends flow through the session bridge, so the connection only
// ever sees one writer.
type wsSender struct {
	conn *websocket.Conn
}

var _ conversation.Sender = (*wsSender)(nil)

func (s *wsSender) Send(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("server: encode payload: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("server: write frame: %w", err)
	}
	return nil
}
