package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var departments = []string{"Billing", "Technical Support", "Appeals"}

func TestSimpleClassifier(t *testing.T) {
	c := NewSimpleClassifier(1)
	ctx := context.Background()

	assert.Equal(t, "Billing", c.Suggest(ctx, "I have a billing problem, charged twice", departments))
	assert.Equal(t, "Technical Support", c.Suggest(ctx, "need technical help, the app crashes", departments))
	assert.Equal(t, "Appeals", c.Suggest(ctx, "I want to appeal my ban", departments))
	assert.Empty(t, c.Suggest(ctx, "hello there", departments))
	assert.Empty(t, c.Suggest(ctx, "billing", nil))
}

func TestSimpleClassifierMinScore(t *testing.T) {
	c := NewSimpleClassifier(3)
	assert.Empty(t, c.Suggest(context.Background(), "billed", departments))
	assert.Equal(t, "Billing", c.Suggest(context.Background(), "billing billing question", departments))
}

// fakeCompletion serves one canned chat completion.
func fakeCompletion(t *testing.T, content string, status int) *GPTClassifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	c := NewGPTClassifier("test-key", "gpt-3.5-turbo", 50, 0, zap.NewNop())
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL
	c.client = openai.NewClientWithConfig(cfg)
	return c
}

func TestGPTClassifier(t *testing.T) {
	c := fakeCompletion(t, `{"department": "appeals", "reason": "ban"}`, http.StatusOK)
	assert.Equal(t, "Appeals", c.Suggest(context.Background(), "please unban me", departments))
}

func TestGPTClassifierFallsBack(t *testing.T) {
	ctx := context.Background()

	unknown := fakeCompletion(t, `{"department": "Sales"}`, http.StatusOK)
	assert.Equal(t, "Billing", unknown.Suggest(ctx, "billing question", departments))

	garbled := fakeCompletion(t, "Billing, probably", http.StatusOK)
	assert.Equal(t, "Billing", garbled.Suggest(ctx, "billing question", departments))

	failing := fakeCompletion(t, "", http.StatusInternalServerError)
	assert.Empty(t, failing.Suggest(ctx, "hello", departments))
}
