package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftai/weft/internal/agent"
	"github.com/weftai/weft/internal/wferrors"
)

// fakeService mocks the session HTTP service. Status responses are scripted
// per session; the last scripted status repeats once the script runs out.
type fakeService struct {
	mu sync.Mutex

	nextID  int
	created []string
	prompts map[string]PromptRequest
	deletes map[string]int

	script      []Status
	scriptPos   int
	messages    []Message
	failCreate  bool
	failPrompt  bool
	failStatus  int // fail this many status calls before serving
	failDeletes int // fail this many delete calls before accepting

	server *httptest.Server
}

func newFakeService(t *testing.T) *fakeService {
	f := &fakeService{
		prompts: make(map[string]PromptRequest),
		deletes: make(map[string]int),
		script:  []Status{{Type: StatusIdle}},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /session", f.handleCreate)
	mux.HandleFunc("POST /session/{id}/prompt", f.handlePrompt)
	mux.HandleFunc("GET /session/status", f.handleStatus)
	mux.HandleFunc("GET /session/{id}/messages", f.handleMessages)
	mux.HandleFunc("DELETE /session/{id}", f.handleDelete)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeService) handleCreate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		http.Error(w, "create unavailable", http.StatusServiceUnavailable)
		return
	}
	f.nextID++
	id := fmt.Sprintf("sess_%d", f.nextID)
	f.created = append(f.created, id)
	_ = json.NewEncoder(w).Encode(CreateResponse{ID: id})
}

func (f *fakeService) handlePrompt(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPrompt {
		http.Error(w, "prompt rejected", http.StatusInternalServerError)
		return
	}
	var req PromptRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.prompts[r.PathValue("id")] = req
	w.WriteHeader(http.StatusOK)
}

func (f *fakeService) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStatus > 0 {
		f.failStatus--
		http.Error(w, "status unavailable", http.StatusBadGateway)
		return
	}
	status := f.script[len(f.script)-1]
	if f.scriptPos < len(f.script) {
		status = f.script[f.scriptPos]
		f.scriptPos++
	}
	statuses := make(map[string]Status, len(f.created))
	for _, id := range f.created {
		statuses[id] = status
	}
	_ = json.NewEncoder(w).Encode(statuses)
}

func (f *fakeService) handleMessages(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(f.messages)
}

func (f *fakeService) handleDelete(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := r.PathValue("id")
	f.deletes[id]++
	if f.failDeletes > 0 {
		f.failDeletes--
		http.Error(w, "delete unavailable", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeService) deleteCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes[id]
}

func (f *fakeService) promptFor(id string) (PromptRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.prompts[id]
	return req, ok
}

func assistantReply(texts ...string) []Message {
	parts := make([]Part, 0, len(texts))
	for _, text := range texts {
		parts = append(parts, Part{Type: "text", Text: text})
	}
	return []Message{
		{Info: MessageInfo{Role: "user"}, Parts: []Part{{Type: "text", Text: "## Task"}}},
		{Info: MessageInfo{Role: "assistant"}, Parts: parts},
	}
}

func testConfig(baseURL string) *Config {
	return &Config{
		BaseURL:           baseURL,
		PollInterval:      time.Millisecond,
		MaxPollAttempts:   50,
		MaxPollDuration:   5 * time.Second,
		CleanupMaxRetries: 3,
		CleanupRetryDelay: time.Millisecond,
		HTTPTimeout:       5 * time.Second,
	}
}

func testResolver() agent.Resolver {
	registry := agent.NewRegistry()
	registry.Register(&agent.Agent{Name: "planner", Model: "sonnet"})
	return registry
}

func TestClient_Run_JSONReply(t *testing.T) {
	service := newFakeService(t)
	service.script = []Status{{Type: StatusBusy}, {Type: StatusBusy}, {Type: StatusIdle}}
	service.messages = assistantReply(`{"plan": ["draft", "review"], "count": 2}`)

	client := NewClient(testConfig(service.server.URL), testResolver())
	result, err := client.Run(context.Background(), Request{
		Title: "plan: draft the release notes",
		Agent: "planner",
		Input: map[string]interface{}{
			"input":   "draft the release notes",
			"context": map[string]interface{}{},
		},
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Failed())

	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"draft", "review"}, data["plan"])
	assert.Equal(t, float64(2), data["count"])

	prompt, ok := service.promptFor("sess_1")
	require.True(t, ok)
	assert.Equal(t, "planner", prompt.Agent)
	require.Len(t, prompt.Parts, 1)
	assert.Equal(t, "text", prompt.Parts[0].Type)
	assert.Contains(t, prompt.Parts[0].Text, "## Task\n\ndraft the release notes")

	assert.Equal(t, 1, service.deleteCount("sess_1"))
	assert.Empty(t, client.LeakedSessions())
}

func TestClient_Run_TextReply(t *testing.T) {
	service := newFakeService(t)
	service.messages = assistantReply("All steps look good.")

	client := NewClient(testConfig(service.server.URL), testResolver())
	result, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "review"},
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"result": "All steps look good."}, result.Data)
}

func TestClient_Run_MultipleTextParts(t *testing.T) {
	service := newFakeService(t)
	service.messages = []Message{
		{Info: MessageInfo{Role: "assistant"}, Parts: []Part{
			{Type: "tool", Text: "ignored"},
			{Type: "text", Text: "first"},
			{Type: "text", Text: "second"},
		}},
	}

	client := NewClient(testConfig(service.server.URL), testResolver())
	result, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"result": "first\nsecond"}, result.Data)
}

func TestClient_Run_ServiceError(t *testing.T) {
	service := newFakeService(t)
	service.script = []Status{
		{Type: StatusBusy},
		{Type: StatusError, Error: &StatusErrorDetail{Message: "model overloaded"}},
	}

	client := NewClient(testConfig(service.server.URL), testResolver())
	result, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Failed())
	assert.Equal(t, "model overloaded", result.Error)
	assert.Nil(t, result.Data)

	// The session is still torn down after an agent failure.
	assert.Equal(t, 1, service.deleteCount("sess_1"))
}

func TestClient_Run_ServiceErrorWithoutDetail(t *testing.T) {
	service := newFakeService(t)
	service.script = []Status{{Type: StatusError}}

	client := NewClient(testConfig(service.server.URL), testResolver())
	result, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	require.NoError(t, err)
	assert.Equal(t, "unknown agent error", result.Error)
}

func TestClient_Run_RetryStatus(t *testing.T) {
	service := newFakeService(t)
	next := int64(5)
	service.script = []Status{
		{Type: StatusRetry, Next: &next},
		{Type: StatusIdle},
	}
	service.messages = assistantReply("done")

	client := NewClient(testConfig(service.server.URL), testResolver())
	result, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	require.NoError(t, err)
	assert.False(t, result.Failed())
}

func TestClient_Run_PollAttemptsExhausted(t *testing.T) {
	service := newFakeService(t)
	service.script = []Status{{Type: StatusBusy}}

	cfg := testConfig(service.server.URL)
	cfg.MaxPollAttempts = 3
	var polls []int
	cfg.OnPoll = func(attempt int) { polls = append(polls, attempt) }

	client := NewClient(cfg, testResolver())
	result, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	require.Error(t, err)
	assert.Nil(t, result)

	var timeoutErr *wferrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, wferrors.ScopePoll, timeoutErr.Scope)
	assert.Equal(t, 3, timeoutErr.Attempts)
	assert.Equal(t, []int{1, 2, 3}, polls)

	// Timeout still cleans up.
	assert.Equal(t, 1, service.deleteCount("sess_1"))
}

func TestClient_Run_PollWallClockExceeded(t *testing.T) {
	service := newFakeService(t)
	service.script = []Status{{Type: StatusBusy}}

	cfg := testConfig(service.server.URL)
	cfg.PollInterval = 20 * time.Millisecond
	cfg.MaxPollDuration = 10 * time.Millisecond

	client := NewClient(cfg, testResolver())
	_, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	var timeoutErr *wferrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, wferrors.ScopePoll, timeoutErr.Scope)
	assert.GreaterOrEqual(t, timeoutErr.Elapsed, cfg.MaxPollDuration)
	assert.Equal(t, 1, service.deleteCount("sess_1"))
}

func TestClient_Run_ConsecutivePollFailures(t *testing.T) {
	service := newFakeService(t)
	service.failStatus = 10

	client := NewClient(testConfig(service.server.URL), testResolver())
	_, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	var netErr *wferrors.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "session status poll", netErr.Operation)
	assert.Equal(t, MaxConsecutivePollFailures, netErr.Consecutive)
	assert.Equal(t, 1, service.deleteCount("sess_1"))
}

func TestClient_Run_PollFailureThenRecovery(t *testing.T) {
	service := newFakeService(t)
	service.failStatus = MaxConsecutivePollFailures - 1
	service.messages = assistantReply("recovered")

	client := NewClient(testConfig(service.server.URL), testResolver())
	result, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"result": "recovered"}, result.Data)
}

func TestClient_Run_PromptFailureStillDeletes(t *testing.T) {
	service := newFakeService(t)
	service.failPrompt = true

	client := NewClient(testConfig(service.server.URL), testResolver())
	result, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "failed to prompt session sess_1")

	assert.Equal(t, 1, service.deleteCount("sess_1"))
	assert.Empty(t, client.LeakedSessions())
}

func TestClient_Run_CreateFailure(t *testing.T) {
	service := newFakeService(t)
	service.failCreate = true

	client := NewClient(testConfig(service.server.URL), testResolver())
	_, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create session")

	// Nothing was created, so nothing to delete.
	assert.Empty(t, service.deletes)
}

func TestClient_Run_CleanupRetriesThenLeaks(t *testing.T) {
	service := newFakeService(t)
	service.messages = assistantReply("done")
	service.failDeletes = 10

	client := NewClient(testConfig(service.server.URL), testResolver())
	result, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	// Cleanup failure never fails the run itself.
	require.NoError(t, err)
	assert.False(t, result.Failed())

	assert.Equal(t, DefaultCleanupMaxRetries, service.deleteCount("sess_1"))
	assert.Equal(t, []string{"sess_1"}, client.LeakedSessions())
}

func TestClient_Run_CleanupEventuallySucceeds(t *testing.T) {
	service := newFakeService(t)
	service.messages = assistantReply("done")
	service.failDeletes = 2

	client := NewClient(testConfig(service.server.URL), testResolver())
	_, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	require.NoError(t, err)
	assert.Equal(t, 3, service.deleteCount("sess_1"))
	assert.Empty(t, client.LeakedSessions())
}

func TestClient_Run_ContextCancelled(t *testing.T) {
	service := newFakeService(t)
	service.script = []Status{{Type: StatusBusy}}

	cfg := testConfig(service.server.URL)
	cfg.PollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := NewClient(cfg, testResolver())
	_, err := client.Run(ctx, Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Cleanup runs on an uncancellable context.
	assert.Equal(t, 1, service.deleteCount("sess_1"))
}

func TestClient_Run_NoAssistantReply(t *testing.T) {
	service := newFakeService(t)
	service.messages = []Message{
		{Info: MessageInfo{Role: "user"}, Parts: []Part{{Type: "text", Text: "## Task"}}},
	}

	client := NewClient(testConfig(service.server.URL), testResolver())
	result, err := client.Run(context.Background(), Request{
		Agent: "planner",
		Input: map[string]interface{}{"input": "go"},
	})

	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Equal(t, "agent returned no reply", result.Error)
}

func TestClient_Run_ValidatesRequest(t *testing.T) {
	service := newFakeService(t)
	client := NewClient(testConfig(service.server.URL), testResolver())

	t.Run("empty agent", func(t *testing.T) {
		_, err := client.Run(context.Background(), Request{
			Agent: "  ",
			Input: map[string]interface{}{"input": "go"},
		})
		var invalidErr *wferrors.InvalidValueError
		require.ErrorAs(t, err, &invalidErr)
		assert.Equal(t, "agent name", invalidErr.What)
	})

	t.Run("nil input", func(t *testing.T) {
		_, err := client.Run(context.Background(), Request{Agent: "planner"})
		var invalidErr *wferrors.InvalidValueError
		require.ErrorAs(t, err, &invalidErr)
		assert.Equal(t, "input", invalidErr.What)
	})

	t.Run("unknown agent", func(t *testing.T) {
		_, err := client.Run(context.Background(), Request{
			Agent: "ghost",
			Input: map[string]interface{}{"input": "go"},
		})
		var notFoundErr *wferrors.NotFoundError
		require.ErrorAs(t, err, &notFoundErr)
		assert.Equal(t, "ghost", notFoundErr.Name)
	})

	// None of the rejected requests should have touched the service.
	assert.Empty(t, service.created)
}

func TestBuildPrompt(t *testing.T) {
	t.Run("string input with context", func(t *testing.T) {
		prompt := BuildPrompt(map[string]interface{}{
			"input": "summarize the findings",
			"context": map[string]interface{}{
				"fetch":   map[string]interface{}{"pages": float64(3)},
				"analyze": map[string]interface{}{"risk": "low"},
			},
		})

		assert.Contains(t, prompt, "## Task\n\nsummarize the findings")
		assert.Contains(t, prompt, "## Context from Previous Steps")
		assert.Contains(t, prompt, "### analyze\n\n```json\n{\n  \"risk\": \"low\"\n}\n```")
		assert.Contains(t, prompt, "### fetch\n\n```json\n{\n  \"pages\": 3\n}\n```")

		// Context sections come out in sorted id order.
		assert.Less(t, strings.Index(prompt, "### analyze"), strings.Index(prompt, "### fetch"))
	})

	t.Run("object input is serialized", func(t *testing.T) {
		prompt := BuildPrompt(map[string]interface{}{
			"input": map[string]interface{}{"goal": "ship"},
		})
		assert.Contains(t, prompt, "## Task\n\n{\n  \"goal\": \"ship\"\n}")
	})

	t.Run("missing input member uses whole object", func(t *testing.T) {
		prompt := BuildPrompt(map[string]interface{}{"topic": "release"})
		assert.Contains(t, prompt, "## Task\n\n{\n  \"topic\": \"release\"\n}")
	})

	t.Run("empty context keeps heading only", func(t *testing.T) {
		prompt := BuildPrompt(map[string]interface{}{
			"input":   "go",
			"context": map[string]interface{}{},
		})
		assert.Contains(t, prompt, "## Context from Previous Steps")
		assert.NotContains(t, prompt, "### ")
	})
}
