package server

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/room4-2/graphcall/logger"
	"github.com/room4-2/graphcall/telephony"
)

const maxProvisionBody = 16 * 1024

// Provisioner buys a phone number.
type Provisioner interface {
	Provision(ctx context.Context, req telephony.ProvisionRequest) (*telephony.PurchasedNumber, error)
}

// BindingStore records which tenant and agent a number belongs to.
type BindingStore interface {
	Save(ctx context.Context, b telephony.Binding) error
	List(ctx context.Context) ([]telephony.Binding, error)
}

type provisionRequest struct {
	Username string `json:"username"`
	AgentID  string `json:"agentId"`
	AreaCode string `json:"areaCode,omitempty"`
}

type provisionResponse struct {
	OK          bool   `json:"ok"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Error       string `json:"error,omitempty"`
}

type numbersResponse struct {
	OK      bool                `json:"ok"`
	Numbers []telephony.Binding `json:"numbers"`
	Error   string              `json:"error,omitempty"`
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	if s.deps.Provisioner == nil {
		writeJSON(w, http.StatusServiceUnavailable, provisionResponse{Error: "number provisioning is not configured"})
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxProvisionBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, provisionResponse{Error: "unreadable request body"})
		return
	}
	var req provisionRequest
	if err := sonic.ConfigStd.Unmarshal(data, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, provisionResponse{Error: "invalid JSON body"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.AgentID = strings.TrimSpace(req.AgentID)
	if req.Username == "" || req.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, provisionResponse{Error: "username and agentId are required"})
		return
	}

	base := s.publicBase(r)
	voiceURL := base + "/voice?" + url.Values{
		"agentId":  {req.AgentID},
		"username": {req.Username},
	}.Encode()

	number, err := s.deps.Provisioner.Provision(r.Context(), telephony.ProvisionRequest{
		AreaCode:       req.AreaCode,
		FriendlyName:   req.Username + "/" + req.AgentID,
		VoiceURL:       voiceURL,
		StatusCallback: base + "/stream-status",
	})
	if err != nil {
		logger.Warn("number provisioning failed",
			zap.String("username", req.Username),
			zap.String("agent_id", req.AgentID),
			zap.Error(err))
		writeJSON(w, http.StatusBadGateway, provisionResponse{Error: err.Error()})
		return
	}

	if s.deps.Bindings != nil {
		if err := s.deps.Bindings.Save(r.Context(), telephony.Binding{
			PhoneNumber: number.PhoneNumber,
			NumberSID:   number.SID,
			Username:    req.Username,
			AgentID:     req.AgentID,
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			logger.Warn("failed to record number binding", zap.String("number", number.PhoneNumber), zap.Error(err))
		}
	}

	logger.Info("number provisioned",
		zap.String("number", number.PhoneNumber),
		zap.String("username", req.Username),
		zap.String("agent_id", req.AgentID))
	writeJSON(w, http.StatusOK, provisionResponse{OK: true, PhoneNumber: number.PhoneNumber})
}

func (s *Server) handleListNumbers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bindings == nil {
		writeJSON(w, http.StatusOK, numbersResponse{OK: true, Numbers: []telephony.Binding{}})
		return
	}
	bindings, err := s.deps.Bindings.List(r.Context())
	if err != nil {
		logger.Warn("failed to list number bindings", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, numbersResponse{Numbers: []telephony.Binding{}, Error: "failed to list numbers"})
		return
	}
	writeJSON(w, http.StatusOK, numbersResponse{OK: true, Numbers: bindings})
}

// publicBase is the https base Twilio should call back on.
func (s *Server) publicBase(r *http.Request) string {
	if s.config.PublicBaseIsSecure() {
		return strings.TrimRight(s.config.PublicBaseURL, "/")
	}
	return "https://" + r.Host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		http.Error(w, `{"ok":false,"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
