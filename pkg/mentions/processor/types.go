// Package processor drains pending mentions for a clone: it builds the
// conversation context, invokes the responder, posts the reply and moves each
// mention to a terminal state.
package processor

import (
	"context"
	"fmt"
	"time"
)

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation sent to the responder.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a responder invocation.
type Request struct {
	Context    []Turn `json:"context"`
	EntityID   string `json:"entity_id"`
	BasePrompt string `json:"base_prompt"`
	Query      string `json:"query"`
}

// Response is the responder's answer. An empty Response is a failure.
type Response struct {
	Response string `json:"response"`
}

// Responder generates a clone's reply.
type Responder interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// EntityLocker serializes drains of one clone across processes. TryLock
// must not wait: acquired is false when another holder has entityID.
type EntityLocker interface {
	TryLock(ctx context.Context, entityID string) (unlock func(), acquired bool, err error)
}

// Config holds processor configuration.
type Config struct {
	// ResponderTimeout bounds each responder call.
	ResponderTimeout time.Duration `yaml:"responder_timeout"`
}

// DefaultConfig returns the default processor configuration.
func DefaultConfig() Config {
	return Config{
		ResponderTimeout: 60 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ResponderTimeout <= 0 {
		return fmt.Errorf("responder_timeout must be positive, got %s", c.ResponderTimeout)
	}
	return nil
}

// Summary reports what a ProcessAllPending call did.
type Summary struct {
	EntityID  string        `json:"entity_id"`
	Pending   int           `json:"pending"`
	Responded int           `json:"responded"`
	Errored   int           `json:"errored"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`

	// Busy is set when another holder was draining the clone, in which
	// case nothing was listed or processed.
	Busy bool `json:"busy,omitempty"`
}

// Outcome of a single ProcessOne call.
type Outcome string

const (
	OutcomeResponded Outcome = "responded"
	OutcomeErrored   Outcome = "errored"
	// OutcomeSkipped means the mention was left pending, either because the
	// caller's context ended or because its terminal write failed.
	OutcomeSkipped Outcome = "skipped"
)
