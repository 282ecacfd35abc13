package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

var ErrRateLimited = errors.New("webhook rate limited")

// Payload is the subset of a Discord webhook message mcwarden sends.
type Payload struct {
	Content         string           `json:"content"`
	Username        string           `json:"username,omitempty"`
	AllowedMentions *AllowedMentions `json:"allowed_mentions,omitempty"`
}

// AllowedMentions limits which mentions in Content Discord turns into pings.
type AllowedMentions struct {
	Parse []string `json:"parse"`
}

// NoMentions keeps @everyone, @here, roles and users in the content as plain text.
func NoMentions() *AllowedMentions {
	return &AllowedMentions{Parse: []string{}}
}

// Client posts to one Discord webhook URL.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{url: url, http: hc}
}

// Post sends p. When Discord asks to slow down it returns ErrRateLimited and how long to
// wait before trying again; otherwise the returned duration is zero.
func (c *Client) Post(ctx context.Context, p Payload) (time.Duration, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return retryAfter(resp.Header, data), ErrRateLimited
	case resp.StatusCode >= 400:
		return 0, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return 0, nil
}

// retryAfter prefers the JSON body's retry_after, in seconds, over the Retry-After header.
func retryAfter(h http.Header, body []byte) time.Duration {
	var rl struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if json.Unmarshal(body, &rl) == nil && rl.RetryAfter > 0 {
		return time.Duration(rl.RetryAfter * float64(time.Second))
	}
	if secs, err := strconv.ParseFloat(h.Get("Retry-After"), 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return time.Second
}
