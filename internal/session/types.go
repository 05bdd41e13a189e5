// Package session implements the client side of the session service: the
// remote surface that hosts agents. A workflow agent step maps to one session
// lifecycle: create, prompt, poll until idle, extract the reply, delete.
package session

import (
	"time"
)

// Poll and cleanup defaults. Each can be overridden through Config.
const (
	// DefaultPollInterval is the sleep between status polls.
	DefaultPollInterval = time.Second
	// DefaultMaxPollAttempts caps how many status polls one agent run may use.
	DefaultMaxPollAttempts = 600
	// DefaultMaxPollDuration caps the wall-clock time one agent run may poll.
	DefaultMaxPollDuration = 10 * time.Minute
	// MaxConsecutivePollFailures aborts the run when this many polls fail in a
	// row without a successful one in between.
	MaxConsecutivePollFailures = 3
	// DefaultCleanupMaxRetries is how often session deletion is retried.
	DefaultCleanupMaxRetries = 3
	// DefaultCleanupRetryDelay is the base delay between cleanup retries,
	// doubled per attempt.
	DefaultCleanupRetryDelay = 500 * time.Millisecond
	// DefaultHTTPTimeout bounds a single HTTP request to the service.
	DefaultHTTPTimeout = 30 * time.Second
)

// StatusType is the service-reported state of a session.
type StatusType string

const (
	// StatusBusy means the agent is still working; poll again.
	StatusBusy StatusType = "busy"
	// StatusIdle means the agent finished and messages can be fetched.
	StatusIdle StatusType = "idle"
	// StatusRetry means the service asks the client to back off before the
	// next poll, optionally for a specific number of milliseconds.
	StatusRetry StatusType = "retry"
	// StatusError means the agent run failed service-side.
	StatusError StatusType = "error"
)

// Part is one segment of a prompt or reply message.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CreateRequest is the body of POST /session.
type CreateRequest struct {
	Title string `json:"title"`
}

// CreateResponse is the reply to POST /session.
type CreateResponse struct {
	ID string `json:"id"`
}

// PromptRequest is the body of POST /session/:id/prompt. The agent is bound
// to the session here, not at create time.
type PromptRequest struct {
	Agent string `json:"agent"`
	Parts []Part `json:"parts"`
}

// Status is one entry of the bulk GET /session/status reply.
type Status struct {
	Type StatusType `json:"type"`
	// Next is the service-suggested backoff in milliseconds for retry status.
	Next *int64 `json:"next,omitempty"`
	// Error carries the failure details for error status.
	Error *StatusErrorDetail `json:"error,omitempty"`
}

// StatusErrorDetail is the error payload inside a Status.
type StatusErrorDetail struct {
	Message string `json:"message"`
}

// MessageInfo carries the role of a message.
type MessageInfo struct {
	Role string `json:"role"`
}

// Message is one conversation entry from GET /session/:id/messages.
type Message struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// Request describes one agent run.
type Request struct {
	// Title names the session service-side, typically workflow and step id.
	Title string
	// Agent is the name of the remote agent to drive. Required.
	Agent string
	// Input is the agent input object assembled by the step executor. The
	// "input" member becomes the task section of the prompt and the "context"
	// member the context section. Required.
	Input map[string]interface{}
	// OnPoll, if set, overrides Config.OnPoll for this run. The step executor
	// uses it to attribute polling progress to the right step.
	OnPoll func(attempt int)
}

// Result is the non-exceptional outcome of an agent run. Exactly one of Data
// or Error is meaningful: a service-reported agent failure comes back as
// Error, not as a Go error, so the step executor can record it and route.
type Result struct {
	Data  interface{}
	Error string
}

// Failed reports whether the service returned an agent failure.
func (r *Result) Failed() bool { return r.Error != "" }

// Config parameterizes a Client.
type Config struct {
	// BaseURL is the root of the session service, e.g. http://127.0.0.1:4096.
	BaseURL string

	PollInterval    time.Duration
	MaxPollAttempts int
	MaxPollDuration time.Duration

	CleanupMaxRetries int
	CleanupRetryDelay time.Duration

	HTTPTimeout time.Duration

	// OnPoll, if set, is invoked before each status poll with the 1-based
	// attempt number. The agent executor uses it to surface progress.
	OnPoll func(attempt int)
}

// DefaultConfig returns a Config with all tunables at their defaults.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:           baseURL,
		PollInterval:      DefaultPollInterval,
		MaxPollAttempts:   DefaultMaxPollAttempts,
		MaxPollDuration:   DefaultMaxPollDuration,
		CleanupMaxRetries: DefaultCleanupMaxRetries,
		CleanupRetryDelay: DefaultCleanupRetryDelay,
		HTTPTimeout:       DefaultHTTPTimeout,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.MaxPollAttempts <= 0 {
		out.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if out.MaxPollDuration <= 0 {
		out.MaxPollDuration = DefaultMaxPollDuration
	}
	if out.CleanupMaxRetries <= 0 {
		out.CleanupMaxRetries = DefaultCleanupMaxRetries
	}
	if out.CleanupRetryDelay <= 0 {
		out.CleanupRetryDelay = DefaultCleanupRetryDelay
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = DefaultHTTPTimeout
	}
	return &out
}
