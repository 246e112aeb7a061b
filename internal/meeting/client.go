// Package meeting creates video-meeting links for online appointments.
package meeting

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

var ErrNotConfigured = errors.New("meeting provider not configured")

type Request struct {
	Topic    string    `json:"topic"`
	Start    time.Time `json:"start_time"`
	Duration int       `json:"duration"`
	Timezone string    `json:"timezone,omitempty"`
	Agenda   string    `json:"agenda,omitempty"`
}

type Meeting struct {
	ID      string `json:"id"`
	JoinURL string `json:"join_url"`
}

// Provider is satisfied by Client and by test fakes.
type Provider interface {
	CreateMeeting(ctx context.Context, req Request) (Meeting, error)
	DeleteMeeting(ctx context.Context, meetingID string) error
}

// Client calls a Zoom-style REST API: POST {base}/meetings and
// DELETE {base}/meetings/{id}, authenticated with a bearer key.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) configured() bool {
	return c != nil && c.baseURL != ""
}

func (c *Client) CreateMeeting(ctx context.Context, req Request) (Meeting, error) {
	if !c.configured() {
		return Meeting{}, ErrNotConfigured
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Meeting{}, fmt.Errorf("encode meeting request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/meetings", bytes.NewReader(body))
	if err != nil {
		return Meeting{}, fmt.Errorf("build meeting request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Meeting{}, fmt.Errorf("meeting request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Meeting{}, fmt.Errorf("meeting provider returned %s: %s", resp.Status, readSnippet(resp.Body))
	}

	var raw struct {
		ID      json.RawMessage `json:"id"`
		JoinURL string          `json:"join_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Meeting{}, fmt.Errorf("decode meeting response: %w", err)
	}
	if raw.JoinURL == "" {
		return Meeting{}, errors.New("meeting provider returned no join url")
	}
	// Zoom returns numeric ids; others use strings.
	return Meeting{ID: strings.Trim(string(raw.ID), `"`), JoinURL: raw.JoinURL}, nil
}

func (c *Client) DeleteMeeting(ctx context.Context, meetingID string) error {
	if !c.configured() {
		return ErrNotConfigured
	}
	if strings.TrimSpace(meetingID) == "" {
		return nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/meetings/"+meetingID, nil)
	if err != nil {
		return fmt.Errorf("build meeting delete: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("meeting delete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("meeting provider returned %s: %s", resp.Status, readSnippet(resp.Body))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
