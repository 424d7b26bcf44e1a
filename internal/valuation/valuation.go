// Package valuation asks a chat-completions model for an indicative market
// value range. Premium reports include it; failures never block a report.
package valuation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carverify/carverify/internal/model"
)

// ErrInsufficientSpecs is returned when the vehicle lacks make, model or
// year; the model cannot price it.
var ErrInsufficientSpecs = errors.New("valuation: make, model and year are required")

// Valuation is an indicative retail price range.
type Valuation struct {
	Low        float64 `json:"low"`
	High       float64 `json:"high"`
	Currency   string  `json:"currency"`
	Confidence string  `json:"confidence"`
	Summary    string  `json:"summary"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string    `json:"model"`
	Messages       []message `json:"messages"`
	Temperature    float64   `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const systemPrompt = `You estimate Australian used car retail prices. Answer with a JSON object only:
{"low": number, "high": number, "currency": "AUD", "confidence": "low"|"medium"|"high", "summary": string}.
Prices are whole Australian dollars. The summary is at most two sentences.`

// Valuer calls an OpenAI-compatible chat completions endpoint.
type Valuer struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewValuer returns a Valuer for baseURL (for example
// https://api.openai.com/v1).
func NewValuer(baseURL, apiKey, model string, timeout time.Duration) *Valuer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Valuer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

// Estimate prices the vehicle described by specs.
func (v *Valuer) Estimate(ctx context.Context, specs model.VehicleSpecs) (*Valuation, error) {
	if specs.Make == "" || specs.Model == "" || specs.Year == 0 {
		return nil, ErrInsufficientSpecs
	}

	reqBody := chatRequest{
		Model: v.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: describe(specs)},
		},
		Temperature: 0.2,
	}
	reqBody.ResponseFormat.Type = "json_object"

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("valuation: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("valuation: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("valuation: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("valuation: model error: %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("valuation: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("valuation: empty choices in response")
	}
	return parseValuation(out.Choices[0].Message.Content)
}

func parseValuation(content string) (*Valuation, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var val Valuation
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &val); err != nil {
		return nil, fmt.Errorf("valuation: decode answer: %w", err)
	}
	if val.Low <= 0 || val.High < val.Low {
		return nil, fmt.Errorf("valuation: implausible range %.0f-%.0f", val.Low, val.High)
	}
	if val.Currency == "" {
		val.Currency = "AUD"
	}
	return &val, nil
}

func describe(s model.VehicleSpecs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s %s", s.Year, s.Make, s.Model)
	for _, kv := range [][2]string{
		{"body", s.BodyType},
		{"fuel", s.FuelType},
		{"transmission", s.Transmission},
		{"colour", s.Colour},
		{"registered in", s.State},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, ", %s %s", kv[0], kv[1])
		}
	}
	return b.String()
}
