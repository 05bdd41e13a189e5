package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weftai/weft/internal/agent"
	"github.com/weftai/weft/internal/wferrors"
)

// Client drives agent runs against the session service. It is safe for
// concurrent use; the parallel step executor calls Run from multiple
// goroutines, each run owning its own session.
type Client struct {
	config     *Config
	httpClient *http.Client
	resolver   agent.Resolver

	leakedMu sync.Mutex
	leaked   []string
}

// NewClient creates a client for the service at config.BaseURL. The resolver
// maps agent names to definitions; unresolvable names fail before any session
// is created.
func NewClient(config *Config, resolver agent.Resolver) *Client {
	cfg := config.withDefaults()
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		resolver:   resolver,
	}
}

// LeakedSessions returns the ids of sessions whose deletion kept failing.
// They require manual cleanup service-side.
func (c *Client) LeakedSessions() []string {
	c.leakedMu.Lock()
	defer c.leakedMu.Unlock()
	out := make([]string, len(c.leaked))
	copy(out, c.leaked)
	return out
}

// Run executes one full agent lifecycle: resolve, create, prompt, poll,
// extract, delete. Service-reported agent failures come back as a Result with
// Error set; transport faults, timeouts and unresolvable agents are returned
// as Go errors. Session deletion is attempted on every exit path once the
// session exists.
func (c *Client) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Agent) == "" {
		return nil, &wferrors.InvalidValueError{
			Where: "agent run",
			What:  "agent name",
			Why:   "must be a non-empty string",
		}
	}
	if req.Input == nil {
		return nil, &wferrors.InvalidValueError{
			Where: "agent run",
			What:  "input",
			Why:   "must be an object",
		}
	}

	resolved, err := c.resolver.Resolve(req.Agent)
	if err != nil {
		return nil, err
	}

	sessionID, err := c.createSession(ctx, req.Title)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for agent %q: %w", req.Agent, err)
	}

	logger := zerolog.Ctx(ctx).With().
		Str("agent", req.Agent).
		Str("session_id", sessionID).
		Logger()
	logger.Debug().Msg("session created")

	defer c.cleanup(ctx, sessionID, logger)

	prompt := BuildPrompt(req.Input)
	if err := c.promptSession(ctx, sessionID, resolved.Name, prompt); err != nil {
		return nil, fmt.Errorf("failed to prompt session %s: %w", sessionID, err)
	}

	onPoll := req.OnPoll
	if onPoll == nil {
		onPoll = c.config.OnPoll
	}
	return c.poll(ctx, sessionID, onPoll, logger)
}

// BuildPrompt renders the agent input object into the prompt string: the
// "input" member under a Task heading, then each context entry as a fenced
// JSON block under its step id.
func BuildPrompt(input map[string]interface{}) string {
	task, ok := input["input"]
	if !ok {
		task = input
	}

	var sb strings.Builder
	sb.WriteString("## Task\n\n")
	sb.WriteString(stringifyTask(task))
	sb.WriteString("\n\n## Context from Previous Steps\n")

	contextData, _ := input["context"].(map[string]interface{})
	ids := make([]string, 0, len(contextData))
	for id := range contextData {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		raw, err := json.MarshalIndent(contextData[id], "", "  ")
		if err != nil {
			raw = []byte(fmt.Sprintf("%v", contextData[id]))
		}
		sb.WriteString(fmt.Sprintf("\n### %s\n\n```json\n%s\n```\n", id, raw))
	}

	return sb.String()
}

func stringifyTask(task interface{}) string {
	if s, ok := task.(string); ok {
		return s
	}
	raw, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", task)
	}
	return string(raw)
}

// poll watches the session until it settles. Attempt count and wall clock are
// both bounded; hitting either limit is a timeout.
func (c *Client) poll(ctx context.Context, sessionID string, onPoll func(int), logger zerolog.Logger) (*Result, error) {
	start := time.Now()
	consecutiveFailures := 0

	for attempt := 1; attempt <= c.config.MaxPollAttempts; attempt++ {
		if elapsed := time.Since(start); elapsed >= c.config.MaxPollDuration {
			return nil, &wferrors.TimeoutError{
				Scope:    wferrors.ScopePoll,
				Elapsed:  elapsed,
				Limit:    c.config.MaxPollDuration,
				Attempts: attempt - 1,
			}
		}

		if onPoll != nil {
			onPoll(attempt)
		}

		statuses, err := c.sessionStatus(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			consecutiveFailures++
			logger.Warn().Err(err).Int("consecutive", consecutiveFailures).Msg("status poll failed")
			if consecutiveFailures >= MaxConsecutivePollFailures {
				return nil, &wferrors.NetworkError{
					Operation:   "session status poll",
					Consecutive: consecutiveFailures,
					Cause:       err,
				}
			}
			if err := sleepContext(ctx, c.config.PollInterval); err != nil {
				return nil, err
			}
			continue
		}
		consecutiveFailures = 0

		status, ok := statuses[sessionID]
		if !ok {
			// The service has not registered the session yet; same as busy.
			if err := sleepContext(ctx, c.config.PollInterval); err != nil {
				return nil, err
			}
			continue
		}

		switch status.Type {
		case StatusIdle:
			return c.extract(ctx, sessionID)

		case StatusError:
			msg := "unknown agent error"
			if status.Error != nil && status.Error.Message != "" {
				msg = status.Error.Message
			}
			logger.Debug().Str("error", msg).Msg("session reported agent error")
			return &Result{Error: msg}, nil

		case StatusRetry:
			delay := c.config.PollInterval
			if status.Next != nil && *status.Next > 0 {
				delay = time.Duration(*status.Next) * time.Millisecond
			}
			if err := sleepContext(ctx, delay); err != nil {
				return nil, err
			}

		default: // busy or anything unrecognized
			if err := sleepContext(ctx, c.config.PollInterval); err != nil {
				return nil, err
			}
		}
	}

	return nil, &wferrors.TimeoutError{
		Scope:    wferrors.ScopePoll,
		Elapsed:  time.Since(start),
		Limit:    c.config.MaxPollDuration,
		Attempts: c.config.MaxPollAttempts,
	}
}

// extract pulls the last assistant message and decodes it: JSON replies come
// back as parsed values, plain text is wrapped as {result: text}.
func (c *Client) extract(ctx context.Context, sessionID string) (*Result, error) {
	messages, err := c.sessionMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages for session %s: %w", sessionID, err)
	}

	text := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Info.Role != "assistant" {
			continue
		}
		var parts []string
		for _, part := range messages[i].Parts {
			if part.Type == "text" && part.Text != "" {
				parts = append(parts, part.Text)
			}
		}
		text = strings.TrimSpace(strings.Join(parts, "\n"))
		break
	}

	if text == "" {
		return &Result{Error: "agent returned no reply"}, nil
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return &Result{Data: parsed}, nil
	}
	return &Result{Data: map[string]interface{}{"result": text}}, nil
}

// cleanup deletes the session with exponential backoff. Persistent failure is
// logged and the id recorded on the leaked list; it never fails the run.
func (c *Client) cleanup(ctx context.Context, sessionID string, logger zerolog.Logger) {
	// Deletion must still happen when the step was cancelled or timed out.
	ctx = context.WithoutCancel(ctx)

	delay := c.config.CleanupRetryDelay
	var lastErr error
	for attempt := 1; attempt <= c.config.CleanupMaxRetries; attempt++ {
		if err := c.deleteSession(ctx, sessionID); err != nil {
			lastErr = err
			if attempt < c.config.CleanupMaxRetries {
				time.Sleep(delay)
				delay *= 2
			}
			continue
		}
		logger.Debug().Int("attempt", attempt).Msg("session deleted")
		return
	}

	cleanupErr := &wferrors.CleanupError{
		SessionID: sessionID,
		Attempts:  c.config.CleanupMaxRetries,
		Cause:     lastErr,
	}
	logger.Warn().Err(cleanupErr).Msg("session cleanup failed, session leaked")

	c.leakedMu.Lock()
	c.leaked = append(c.leaked, sessionID)
	c.leakedMu.Unlock()
}

func (c *Client) createSession(ctx context.Context, title string) (string, error) {
	var resp CreateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/session", CreateRequest{Title: title}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("session service returned an empty session id")
	}
	return resp.ID, nil
}

func (c *Client) promptSession(ctx context.Context, sessionID, agentName, prompt string) error {
	body := PromptRequest{
		Agent: agentName,
		Parts: []Part{{Type: "text", Text: prompt}},
	}
	return c.doJSON(ctx, http.MethodPost, "/session/"+sessionID+"/prompt", body, nil)
}

func (c *Client) sessionStatus(ctx context.Context) (map[string]Status, error) {
	var statuses map[string]Status
	if err := c.doJSON(ctx, http.MethodGet, "/session/status", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (c *Client) sessionMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var messages []Message
	if err := c.doJSON(ctx, http.MethodGet, "/session/"+sessionID+"/messages", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) deleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/session/"+sessionID, nil, nil)
}

// doJSON performs one JSON request against the service and decodes the reply
// into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to session service failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("session service %s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode session service response: %w", err)
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
