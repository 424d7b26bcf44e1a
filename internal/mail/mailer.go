// Package mail sends report emails through the transactional email
// provider's HTTP API and renders their content.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrDisabled is returned by Send when no API key is configured.
var ErrDisabled = errors.New("mail delivery is disabled")

// Attachment is a file sent with a message. Content is base64.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Message is one outgoing email.
type Message struct {
	From        string       `json:"from"`
	To          []string     `json:"to"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	Subject     string       `json:"subject"`
	HTML        string       `json:"html"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SendError is a message the provider refused.
type SendError struct {
	StatusCode int
	Name       string
}

func (e *SendError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("mail provider rejected message (%d %s)", e.StatusCode, e.Name)
	}
	return fmt.Sprintf("mail provider rejected message (%d)", e.StatusCode)
}

// Mailer posts messages to the provider.
type Mailer struct {
	baseURL string
	apiKey  string
	from    string
	replyTo string
	http    *http.Client
}

// NewMailer returns a Mailer. from and replyTo fill messages that leave
// them empty.
func NewMailer(baseURL, apiKey, from, replyTo string) *Mailer {
	return &Mailer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		from:    from,
		replyTo: replyTo,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

// Send submits msg and returns the provider's message id.
func (m *Mailer) Send(ctx context.Context, msg Message) (string, error) {
	if m == nil || m.apiKey == "" {
		return "", ErrDisabled
	}
	if len(msg.To) == 0 {
		return "", errors.New("mail: no recipient")
	}
	if msg.From == "" {
		msg.From = m.from
	}
	if msg.ReplyTo == "" {
		msg.ReplyTo = m.replyTo
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("mail: marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("mail: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("mail: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(raw, &e)
		return "", &SendError{StatusCode: resp.StatusCode, Name: e.Name}
	}
	var ok struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &ok)
	return ok.ID, nil
}
