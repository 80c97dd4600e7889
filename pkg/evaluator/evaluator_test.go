package evaluator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"progression_engine/internal/config"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionBody(t *testing.T, content string, finish string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": finish,
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	require.NoError(t, err)
	return body
}

func newTestEvaluator(t *testing.T, handler http.HandlerFunc) *LLMEvaluator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	e, err := NewLLMEvaluator(config.EvaluatorConfig{
		BaseURL:        srv.URL + "/v1",
		APIKey:         "test-key",
		Model:          "gpt-4o-mini",
		TimeoutSeconds: 5,
	})
	require.NoError(t, err)
	return e
}

func TestNewLLMEvaluator_RequiresAPIKey(t *testing.T) {
	_, err := NewLLMEvaluator(config.EvaluatorConfig{})
	require.Error(t, err)
}

func TestEvaluateBatch_SingleRequestForAllItems(t *testing.T) {
	calls := 0
	var received struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	e := newTestEvaluator(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &received))

		content := `{"verdicts":[{"question_id":"q2","correct":false,"explanation":"misses the point"},{"question_id":"q1","correct":true,"explanation":"same meaning"}]}`
		w.Header().Set("Content-Type", "application/json")
		w.Write(completionBody(t, content, "stop"))
	})

	verdicts, err := e.EvaluateBatch(context.Background(), "go-101", 2, []Item{
		{QuestionID: "q1", Prompt: "What is a goroutine?", SubmittedText: "a lightweight thread", ReferenceAnswer: "a function running concurrently managed by the Go runtime"},
		{QuestionID: "q2", Prompt: "What does defer do?", SubmittedText: "nothing", ReferenceAnswer: "schedules a call to run when the function returns"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "gpt-4o-mini", received.Model)
	require.Len(t, received.Messages, 2)
	assert.Contains(t, received.Messages[1].Content, `"question_id":"q1"`)
	assert.Contains(t, received.Messages[1].Content, `"question_id":"q2"`)

	require.Len(t, verdicts, 2)
	byID := map[string]Verdict{}
	for _, v := range verdicts {
		byID[v.QuestionID] = v
	}
	assert.True(t, byID["q1"].Correct)
	assert.False(t, byID["q2"].Correct)
	assert.Equal(t, "misses the point", byID["q2"].Explanation)
}

func TestEvaluateBatch_EmptyItemsSkipsRequest(t *testing.T) {
	called := false
	e := newTestEvaluator(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	verdicts, err := e.EvaluateBatch(context.Background(), "go-101", 1, nil)
	require.NoError(t, err)
	assert.Empty(t, verdicts)
	assert.False(t, called)
}

func TestEvaluateBatch_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			},
		},
		{
			name: "malformed content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write(completionBody(t, "not json", "stop"))
			},
		},
		{
			name: "truncated",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write(completionBody(t, `{"verdicts":[`, "length"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvaluator(t, tt.handler)
			_, err := e.EvaluateBatch(context.Background(), "go-101", 1, []Item{{QuestionID: "q1", SubmittedText: "x", ReferenceAnswer: "y"}})
			require.Error(t, err)
		})
	}
}
