package knowledge

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/graphcall/logger"
	"github.com/room4-2/graphcall/metrics"
)

// Enricher fetches graph context for completed caller utterances.
type Enricher struct {
	client *Client
}

func NewEnricher(client *Client) *Enricher {
	return &Enricher{client: client}
}

// Fetch makes a single attempt at retrieving context for utterance. It never
// fails: on timeout, transport error, non-2xx or a malformed body the result
// has no facts, no actions, zero confidence and a reason.
func (e *Enricher) Fetch(ctx context.Context, sessionID, utterance string) GraphContext {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return degraded(utterance, "empty utterance")
	}
	if !e.client.Configured() {
		metrics.EnrichFailures.Inc()
		return degraded(utterance, ErrNotConfigured.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, e.client.Timeout())
	defer cancel()

	start := time.Now()
	resp, err := e.client.request(ctx, sessionID).
		SetBody(graphContextRequest{Question: utterance}).
		Post(graphContextPath)
	metrics.EnrichDuration.Observe(time.Since(start).Seconds())

	var out GraphContext
	if err == nil {
		err = decode(resp, &out)
	}
	if err != nil {
		metrics.EnrichFailures.Inc()
		reason := "graph context lookup failed: " + err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "graph context lookup timed out"
		}
		logger.Warn("graph context degraded",
			zap.String("session_id", sessionID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return degraded(utterance, reason)
	}

	return normalize(out, utterance)
}

func normalize(g GraphContext, utterance string) GraphContext {
	if g.Question == "" {
		g.Question = utterance
	}
	if g.Facts == nil {
		g.Facts = []string{}
	}
	if g.Actions == nil {
		g.Actions = []Action{}
	}
	switch {
	case g.Confidence < 0:
		g.Confidence = 0
	case g.Confidence > 1:
		g.Confidence = 1
	}
	return g
}
