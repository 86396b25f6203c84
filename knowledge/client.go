// Package knowledge talks to the graph knowledge backend: per-utterance
// context lookups, turn logging and business profiles.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

// Backend headers
const (
	HeaderServiceToken = "X-Service-Token"
	HeaderSessionID    = "X-Session-Id"

	graphContextPath = "/api/tools/get-graph-context"
	sessionMsgPath   = "/api/sessions/{sessionId}/message"
	profilePath      = "/api/business-profile"
)

// ErrNotConfigured is returned when no backend URL was given.
var ErrNotConfigured = errors.New("backend URL is not configured")

var json = sonic.ConfigStd

// Client is a thin resty wrapper carrying the backend base URL and service token.
type Client struct {
	http    *resty.Client
	baseURL string
	timeout time.Duration
}

// NewClient builds a backend client. An empty baseURL yields a client whose
// calls fail fast with ErrNotConfigured.
func NewClient(baseURL, serviceToken string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	h := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	if serviceToken != "" {
		h.SetHeader(HeaderServiceToken, serviceToken)
	}

	return &Client{http: h, baseURL: baseURL, timeout: timeout}
}

// Configured reports whether a backend URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Timeout is the hard deadline applied to each call.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

func (c *Client) request(ctx context.Context, sessionID string) *resty.Request {
	r := c.http.R().SetContext(ctx)
	if sessionID != "" {
		r.SetHeader(HeaderSessionID, sessionID)
	}
	return r
}

// decode checks the status and unmarshals the body into out.
func decode(resp *resty.Response, out any) error {
	if resp.IsError() {
		return fmt.Errorf("backend returned status %d", resp.StatusCode())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("malformed backend response: %w", err)
	}
	return nil
}
