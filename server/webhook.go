package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/room4-2/graphcall/config"
	"github.com/room4-2/graphcall/logger"
	"github.com/room4-2/graphcall/messages"
	"github.com/room4-2/graphcall/metrics"
	"github.com/room4-2/graphcall/session"
)

// UnconfiguredMessage is spoken when a call carries no routing parameters.
const UnconfiguredMessage = "Sorry, this phone line is not configured yet. Goodbye."

// Webhook outcomes
const (
	outcomeStream       = "stream"
	outcomeUnconfigured = "unconfigured"
	outcomeError        = "error"
)

// handleVoiceCall answers the inbound call webhook. It never fails: any
// fault degrades to an empty TwiML document with status 200.
func (s *Server) handleVoiceCall(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("voice webhook panic", zap.Any("panic", rec))
			metrics.CallsTotal.WithLabelValues(outcomeError).Inc()
			writeTwiML(w, []byte(messages.EmptyTwiML))
		}
	}()

	// query and form body both carry parameters
	if err := r.ParseForm(); err != nil {
		logger.Warn("voice webhook form parse failed", zap.Error(err))
	}

	doc, outcome := VoiceResponse(s.config, r.Host, r.Form)
	body, err := doc.Render()
	if err != nil {
		logger.Error("failed to render TwiML", zap.Error(err))
		metrics.CallsTotal.WithLabelValues(outcomeError).Inc()
		writeTwiML(w, []byte(messages.EmptyTwiML))
		return
	}

	metrics.CallsTotal.WithLabelValues(outcome).Inc()
	logger.Info("voice webhook",
		zap.String("call_sid", r.Form.Get("CallSid")),
		zap.String("outcome", outcome))
	writeTwiML(w, body)
}

// VoiceResponse decides the TwiML for an inbound call. It performs no I/O.
func VoiceResponse(cfg *config.Config, requestHost string, form url.Values) (*messages.TwiML, string) {
	agentID := form.Get("agentId")
	username := form.Get("username")

	callSid := form.Get("CallSid")
	if callSid == "" {
		callSid = uuid.New().String()
	}

	var sessionID string
	switch {
	case agentID != "" && username != "":
		sessionID = session.BuildSessionID(username, agentID, callSid)
	case form.Get("sessionId") != "":
		sessionID = form.Get("sessionId")
		username, agentID, _ = session.ParseSessionID(sessionID)
	default:
		return messages.NewSayHangupTwiML(UnconfiguredMessage), outcomeUnconfigured
	}

	host := cfg.PublicHost()
	if host == "" {
		host = requestHost
	}

	streamURL := url.URL{
		Scheme:   "wss",
		Host:     host,
		Path:     "/media-stream",
		RawQuery: messages.ParamSessionID + "=" + queryEscapeKeepColons(sessionID),
	}
	statusCallback := fmt.Sprintf("https://%s/stream-status", host)

	var params []messages.Parameter
	for _, p := range []messages.Parameter{
		{Name: messages.ParamSessionID, Value: sessionID},
		{Name: messages.ParamAgentID, Value: agentID},
		{Name: messages.ParamUsername, Value: username},
		{Name: messages.ParamCallerID, Value: form.Get("From")},
	} {
		if p.Value != "" {
			params = append(params, p)
		}
	}

	return messages.NewStreamTwiML(streamURL.String(), statusCallback, params), outcomeStream
}

// queryEscapeKeepColons escapes a query value but leaves the ':' separators of
// a session id readable.
func queryEscapeKeepColons(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "%3A", ":")
}

func writeTwiML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
