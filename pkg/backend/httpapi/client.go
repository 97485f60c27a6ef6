// Package httpapi is the JSON-over-HTTP implementation of the interview
// backend client.
package httpapi

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
	"time"

	"github.com/prepdeck/interviewkit/pkg/backend"
	"github.com/prepdeck/interviewkit/pkg/errorsx"
	"github.com/prepdeck/interviewkit/pkg/interview"
	"github.com/prepdeck/interviewkit/pkg/logging"
	"github.com/prepdeck/interviewkit/pkg/resilience"
	"github.com/prepdeck/interviewkit/pkg/voice"
)

// Options configures the HTTP client. BaseURL is required.
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Retry      resilience.RetryPolicy
	Logger     *slog.Logger
	HTTPClient *http.Client
}

type Client struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("httpapi: base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("httpapi: invalid base url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		opts:   opts,
		http:   hc,
		logger: logging.NewComponentLogger(opts.Logger, "backend_http"),
	}, nil
}

func (c *Client) StartInterview(ctx context.Context, problemID string) (backend.StartResult, error) {
	var out backend.StartResult
	body := map[string]string{"problem_id": problemID}
	err := c.do(ctx, http.MethodPost, "/api/interviews", body, &out)
	return out, err
}

func (c *Client) GetInterview(ctx context.Context, interviewID string) (backend.InterviewDetail, error) {
	var out backend.InterviewDetail
	err := c.get(ctx, "/api/interviews/"+url.PathEscape(interviewID), &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, interviewID, text string) (backend.SendResult, error) {
	var out backend.SendResult
	body := map[string]string{"content": text}
	path := "/api/interviews/" + url.PathEscape(interviewID) + "/messages"
	err := c.do(ctx, http.MethodPost, path, body, &out)
	if err != nil {
		return out, errorsx.Wrap(err, errorsx.ReasonSendFailed)
	}
	return out, nil
}

func (c *Client) GetChatHistory(ctx context.Context, interviewID string) ([]interview.Message, error) {
	var out struct {
		Messages []interview.Message `json:"messages"`
	}
	path := "/api/interviews/" + url.PathEscape(interviewID) + "/messages"
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) EndInterview(ctx context.Context, interviewID string) (interview.Evaluation, error) {
	var out interview.Evaluation
	path := "/api/interviews/" + url.PathEscape(interviewID) + "/end"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return out, errorsx.Wrap(err, errorsx.ReasonEvaluationFailed)
	}
	return out, nil
}

func (c *Client) GetVoiceToken(ctx context.Context, interviewID string) (voice.Grant, error) {
	var out struct {
		Token    string `json:"token"`
		RoomURL  string `json:"room_url"`
		RoomName string `json:"room_name"`
	}
	path := "/api/interviews/" + url.PathEscape(interviewID) + "/voice-token"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return voice.Grant{}, errorsx.Wrap(err, errorsx.ReasonTokenAcquisition)
	}
	return voice.Grant{Token: out.Token, RoomURL: out.RoomURL, RoomName: out.RoomName}, nil
}

// get wraps idempotent reads with the retry policy; mutating calls go
// through do directly so a retried POST cannot double-apply.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.opts.Retry.Do(ctx, func() error {
		return c.do(ctx, http.MethodGet, path, nil, out)
	})
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errorsx.Wrap(err, errorsx.ReasonNetworkTimeout)
		}
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("backend call failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode))
		return fmt.Errorf("backend %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(payload))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ backend.Client = (*Client)(nil)
