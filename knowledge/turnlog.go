package knowledge

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/room4-2/graphcall/logger"
	"github.com/room4-2/graphcall/metrics"
)

// TurnLogger mirrors conversation turns to the backend, best effort.
type TurnLogger struct {
	client *Client
}

func NewTurnLogger(client *Client) *TurnLogger {
	return &TurnLogger{client: client}
}

// Notify dispatches the turn and returns immediately. Failures are logged
// and dropped.
func (t *TurnLogger) Notify(sessionID, role, text string) {
	text = strings.TrimSpace(text)
	if text == "" || sessionID == "" || !t.client.Configured() {
		return
	}
	go t.post(sessionID, Turn{Role: role, Text: text})
}

func (t *TurnLogger) post(sessionID string, turn Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), t.client.Timeout())
	defer cancel()

	resp, err := t.client.request(ctx, sessionID).
		SetPathParam("sessionId", sessionID).
		SetBody(turn).
		Post(sessionMsgPath)
	if err == nil {
		err = decode(resp, nil)
	}
	if err != nil {
		metrics.TurnLogFailures.Inc()
		logger.Warn("failed to log turn",
			zap.String("session_id", sessionID),
			zap.String("role", turn.Role),
			zap.Error(err))
	}
}
