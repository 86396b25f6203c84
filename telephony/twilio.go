// Package telephony buys Twilio numbers and records which tenant and agent
// each number routes to.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

const (
	DefaultAPIBase = "https://api.twilio.com/2010-04-01"

	requestTimeout = 15 * time.Second
)

var json = sonic.ConfigStd

// ErrNoNumbers is returned when Twilio has no matching number for sale.
var ErrNoNumbers = errors.New("no phone numbers available")

// APIError is a non-2xx answer from the Twilio REST API.
type APIError struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("twilio returned status %d", e.Status)
	}
	return fmt.Sprintf("twilio error %d (status %d): %s", e.Code, e.Status, e.Message)
}

// ProvisionRequest describes the number to buy and where its calls go.
type ProvisionRequest struct {
	AreaCode       string
	FriendlyName   string
	VoiceURL       string
	StatusCallback string
}

// PurchasedNumber is an incoming phone number owned by the account.
type PurchasedNumber struct {
	SID         string `json:"sid"`
	PhoneNumber string `json:"phone_number"`
}

type availableNumber struct {
	PhoneNumber string `json:"phone_number"`
}

type availableNumbers struct {
	AvailablePhoneNumbers []availableNumber `json:"available_phone_numbers"`
}

// Provisioner talks to the Twilio REST API for one account.
type Provisioner struct {
	http       *resty.Client
	accountSID string
}

// NewProvisioner builds a client. apiBase defaults to DefaultAPIBase.
func NewProvisioner(apiBase, accountSID, authToken string) *Provisioner {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	h := resty.New().
		SetBaseURL(strings.TrimRight(apiBase, "/")).
		SetTimeout(requestTimeout).
		SetBasicAuth(accountSID, authToken).
		SetHeader("Accept", "application/json").
		SetPathParam("accountSid", accountSID)

	return &Provisioner{http: h, accountSID: accountSID}
}

// Provision finds a voice-capable local number and buys it with the given
// webhook configuration.
func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (*PurchasedNumber, error) {
	number, err := p.findNumber(ctx, req.AreaCode)
	if err != nil {
		return nil, err
	}
	return p.buyNumber(ctx, number, req)
}

func (p *Provisioner) findNumber(ctx context.Context, areaCode string) (string, error) {
	r := p.http.R().
		SetContext(ctx).
		SetQueryParam("VoiceEnabled", "true").
		SetQueryParam("PageSize", "1")
	if areaCode != "" {
		r.SetQueryParam("AreaCode", areaCode)
	}

	resp, err := r.Get("/Accounts/{accountSid}/AvailablePhoneNumbers/US/Local.json")
	if err != nil {
		return "", fmt.Errorf("failed to search numbers: %w", err)
	}

	var out availableNumbers
	if err := decode(resp, &out); err != nil {
		return "", err
	}
	if len(out.AvailablePhoneNumbers) == 0 || out.AvailablePhoneNumbers[0].PhoneNumber == "" {
		return "", ErrNoNumbers
	}
	return out.AvailablePhoneNumbers[0].PhoneNumber, nil
}

func (p *Provisioner) buyNumber(ctx context.Context, number string, req ProvisionRequest) (*PurchasedNumber, error) {
	form := map[string]string{
		"PhoneNumber": number,
		"VoiceUrl":    req.VoiceURL,
		"VoiceMethod": "POST",
	}
	if req.FriendlyName != "" {
		form["FriendlyName"] = req.FriendlyName
	}
	if req.StatusCallback != "" {
		form["StatusCallback"] = req.StatusCallback
		form["StatusCallbackMethod"] = "POST"
	}

	resp, err := p.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post("/Accounts/{accountSid}/IncomingPhoneNumbers.json")
	if err != nil {
		return nil, fmt.Errorf("failed to buy number: %w", err)
	}

	var out PurchasedNumber
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	if out.PhoneNumber == "" {
		out.PhoneNumber = number
	}
	return &out, nil
}

func decode(resp *resty.Response, out any) error {
	if resp.IsError() {
		apiErr := &APIError{}
		_ = json.Unmarshal(resp.Body(), apiErr)
		apiErr.Status = resp.StatusCode()
		return apiErr
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("malformed twilio response: %w", err)
	}
	return nil
}
