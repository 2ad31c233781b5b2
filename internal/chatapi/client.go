// Package chatapi talks to the remote persona chat endpoint: one URL that
// answers GET with a profile and its history, and POST with a chat reply.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"personachat/internal/models"
)

const maxBodyBytes = 1 << 20

// SendRequest is the body of a chat send.
type SendRequest struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// SendReply is a successful chat send. Reply is nil when the API answered
// without one; the counts are nil when the API did not report them.
type SendReply struct {
	Reply            *string `json:"reply"`
	CurrentTurnCount *int    `json:"currentTurnCount"`
	MaxTurns         *int    `json:"maxTurns"`
}

// Counts returns the turn counts when both are present.
func (r *SendReply) Counts() (TurnCounts, bool) {
	if r == nil || r.CurrentTurnCount == nil || r.MaxTurns == nil {
		return TurnCounts{}, false
	}
	return TurnCounts{Current: *r.CurrentTurnCount, Max: *r.MaxTurns}, true
}

type errorBody struct {
	Error            string `json:"error"`
	Code             string `json:"code"`
	CurrentTurnCount *int   `json:"currentTurnCount"`
	MaxTurns         *int   `json:"maxTurns"`
}

// Client calls the chat endpoint over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient builds a client for endpoint. timeout bounds each call; zero
// leaves it to the transport.
func NewClient(endpoint string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts one user message for the given character.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendReply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode send request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	var reply SendReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, &Error{Kind: KindMalformed, Status: http.StatusOK, Message: "decode reply", Err: err}
	}
	return &reply, nil
}

// FetchProfile loads the persona, its turn counts and history.
func (c *Client) FetchProfile(ctx context.Context, characterID string) (*models.Profile, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "parse endpoint", Err: err}
	}
	q := u.Query()
	q.Set("id", characterID)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "build request", Err: err}
	}
	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	var profile models.Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, &Error{Kind: KindMalformed, Status: http.StatusOK, Message: "decode profile", Err: err}
	}
	profile.ID = characterID
	profile.History = cleanHistory(profile.History)
	return &profile, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("chat api request failed", "method", req.Method, "error", err)
		return nil, &Error{Kind: KindTransport, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Status: resp.StatusCode, Message: "read body", Err: err}
	}
	c.logger.Debug("chat api request", "method", req.Method, "status", resp.StatusCode, "elapsed", time.Since(started))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, classify(resp.StatusCode, body)
}

func classify(status int, body []byte) *Error {
	var eb errorBody
	// non-JSON error bodies are kept as plain text below
	if err := json.Unmarshal(body, &eb); err != nil {
		eb = errorBody{}
	}
	e := &Error{Status: status, Code: eb.Code, Message: strings.TrimSpace(eb.Error)}
	if eb.CurrentTurnCount != nil && eb.MaxTurns != nil {
		e.Turns = &TurnCounts{Current: *eb.CurrentTurnCount, Max: *eb.MaxTurns}
	}

	switch {
	case accessDenied(status) && eb.Code == TurnLimitCode:
		e.Kind = KindTurnLimit
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusForbidden:
		e.Kind = KindForbidden
	default:
		e.Kind = KindServer
	}
	return e
}

func accessDenied(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	}
	return false
}

func cleanHistory(history []models.HistoryEntry) []models.HistoryEntry {
	out := history[:0]
	for _, h := range history {
		sender, ok := models.NormalizeSender(h.Role)
		if !ok || sender == models.SenderError || h.Text == "" {
			continue
		}
		out = append(out, models.HistoryEntry{Role: string(sender), Text: h.Text})
	}
	return out
}

// IsTimeout reports whether err is a transport failure caused by a deadline.
func IsTimeout(err error) bool {
	if KindOf(err) != KindTransport {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
