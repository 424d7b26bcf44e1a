package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/carverify/carverify/internal/model"
)

// CheckoutRequest describes a report purchase to open a session for.
type CheckoutRequest struct {
	Email       string
	Identifier  model.VehicleIdentifier
	ReportType  model.ReportType
	AmountCents int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the hosted payment page the customer is sent to.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutError is a rejected session request. It carries the processor's
// error type only, never the request.
type CheckoutError struct {
	StatusCode int
	Type       string
}

func (e *CheckoutError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("checkout session rejected (%d %s)", e.StatusCode, e.Type)
	}
	return fmt.Sprintf("checkout session rejected (%d)", e.StatusCode)
}

// CheckoutClient opens checkout sessions with the processor API.
type CheckoutClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

// NewCheckoutClient returns a client for the API at baseURL.
func NewCheckoutClient(baseURL, secretKey string, hc *http.Client) *CheckoutClient {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &CheckoutClient{baseURL: baseURL, secretKey: secretKey, http: hc}
}

// CreateSession opens a one-item payment session. The vehicle identifier
// and report type travel in the session metadata and come back on the
// completion webhook.
func (c *CheckoutClient) CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if err := req.Identifier.Validate(); err != nil {
		return nil, err
	}
	form := url.Values{
		"mode":                                   {"payment"},
		"success_url":                            {req.SuccessURL},
		"cancel_url":                             {req.CancelURL},
		"line_items[0][quantity]":                {"1"},
		"line_items[0][price_data][currency]":    {req.Currency},
		"line_items[0][price_data][unit_amount]": {strconv.FormatInt(req.AmountCents, 10)},
		"line_items[0][price_data][product_data][name]":         {productName(req.ReportType)},
		"metadata[" + MetaReportType + "]":                      {string(req.ReportType)},
		"payment_intent_data[metadata][" + MetaReportType + "]": {string(req.ReportType)},
	}
	if req.Email != "" {
		form.Set("customer_email", req.Email)
	}
	switch req.Identifier.Kind {
	case model.KindVIN:
		form.Set("metadata["+MetaVIN+"]", req.Identifier.VIN)
	case model.KindRego:
		form.Set("metadata["+MetaRego+"]", req.Identifier.Plate)
		form.Set("metadata["+MetaState+"]", string(req.Identifier.State))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("checkout request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read checkout response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error struct {
				Type string `json:"type"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return nil, &CheckoutError{StatusCode: resp.StatusCode, Type: e.Error.Type}
	}

	var s CheckoutSession
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	if s.ID == "" || s.URL == "" {
		return nil, fmt.Errorf("checkout session response missing id or url")
	}
	return &s, nil
}

func productName(t model.ReportType) string {
	if t == model.ReportPremium {
		return "Car Verify premium vehicle report"
	}
	return "Car Verify vehicle report"
}
