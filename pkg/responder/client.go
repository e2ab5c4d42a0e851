// Package responder calls the external service that writes clone replies.
package responder

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
	"unicode/utf8"

	"github.com/otherjamesbrown/penf-chat/pkg/logging"
	"github.com/otherjamesbrown/penf-chat/pkg/mentions/processor"
)

// API selects the wire format used to talk to the responder.
type API string

const (
	// APINative posts processor.Request as-is to {base_url}/v1/respond.
	APINative API = "native"

	// APIOpenAI maps the request onto {base_url}/v1/chat/completions, with
	// the clone's base prompt as the system message.
	APIOpenAI API = "openai"
)

// Config holds responder client configuration.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	API     API           `yaml:"api"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64 `yaml:"max_response_bytes"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "http://localhost:8090",
		API:              APINative,
		Timeout:          2 * time.Minute,
		MaxResponseBytes: 1 << 20,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("responder base_url is required")
	}
	switch c.API {
	case APINative, APIOpenAI:
	default:
		return fmt.Errorf("unknown responder api %q", c.API)
	}
	if c.API == APIOpenAI && c.Model == "" {
		return fmt.Errorf("responder model is required for the openai api")
	}
	return nil
}

// Error is returned for failed responder calls.
type Error struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Client implements processor.Responder over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     logging.Logger
}

var _ processor.Responder = (*Client)(nil)

// NewClient creates a responder client.
func NewClient(config Config, logger logging.Logger) (*Client, error) {
	if config.API == "" {
		config.API = APINative
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = DefaultConfig().MaxResponseBytes
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logging.Component(logger, "responder_client"),
	}, nil
}

// chatMessage is an OpenAI-compatible chat message.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	User     string        `json:"user,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Invoke sends req to the responder and returns its reply text.
func (c *Client) Invoke(ctx context.Context, req processor.Request) (*processor.Response, error) {
	start := time.Now()

	var (
		path string
		body any
	)
	switch c.config.API {
	case APIOpenAI:
		path = "/v1/chat/completions"
		body = c.chatRequest(req)
	default:
		path = "/v1/respond"
		body = req
	}

	raw, err := c.post(ctx, path, body)
	if err != nil {
		return nil, err
	}

	var resp *processor.Response
	switch c.config.API {
	case APIOpenAI:
		resp, err = decodeChat(raw)
	default:
		resp, err = decodeNative(raw)
	}
	if err != nil {
		return nil, err
	}

	c.logger.WithContext(ctx).Debug("Responder replied",
		logging.F("entity_id", req.EntityID),
		logging.F("latency_ms", time.Since(start).Milliseconds()),
		logging.F("response_chars", len(resp.Response)),
	)
	return resp, nil
}

func (c *Client) chatRequest(req processor.Request) chatRequest {
	messages := make([]chatMessage, 0, len(req.Context)+1)
	if req.BasePrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.BasePrompt})
	}
	for _, t := range req.Context {
		messages = append(messages, chatMessage{Role: string(t.Role), Content: t.Content})
	}
	if len(req.Context) == 0 && req.Query != "" {
		messages = append(messages, chatMessage{Role: string(processor.RoleUser), Content: req.Query})
	}
	return chatRequest{
		Model:    c.config.Model,
		Messages: messages,
		User:     req.EntityID,
	}
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("marshal request: %v", err), Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("create request: %v", err), Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Message: fmt.Sprintf("request aborted: %v", ctx.Err()), Cause: ctx.Err()}
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &Error{Message: "request timed out", Cause: context.DeadlineExceeded}
		}
		return nil, &Error{Message: fmt.Sprintf("service unavailable: %v", err), Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes))
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("read response: %v", err), Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(truncate(string(respBody), 512)),
		}
	}
	return respBody, nil
}

func decodeNative(raw []byte) (*processor.Response, error) {
	var resp processor.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &Error{Message: fmt.Sprintf("parse response: %v", err), Cause: err}
	}
	return &resp, nil
}

func decodeChat(raw []byte) (*processor.Response, error) {
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &Error{Message: fmt.Sprintf("parse response: %v", err), Cause: err}
	}
	if len(resp.Choices) == 0 {
		return &processor.Response{}, nil
	}
	return &processor.Response{Response: resp.Choices[0].Message.Content}, nil
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
