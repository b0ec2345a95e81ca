package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prefrontal/app/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Sure! here it is: {"a":1} hope that helps`, `{"a":1}`},
		{"no object", "nothing here", "nothing here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.input))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Action string `json:"action"`
	}

	require.NoError(t, DecodeJSON("```json\n{\"action\":\"wait\"}\n```", &out))
	assert.Equal(t, "wait", out.Action)

	assert.Error(t, DecodeJSON("not json at all", &out))
}

func TestRender(t *testing.T) {
	got := Render("hello {name}, goal: {goal} {name}", map[string]any{
		"name": "bob",
		"goal": 3,
	})

	assert.Equal(t, "hello bob, goal: 3 bob", got)
}

func TestRender_ValuesAreNotExpanded(t *testing.T) {
	template := "{personality}\n{chat_history}"
	values := map[string]any{
		"personality":  "SECRET PERSONA",
		"chat_history": "alice: what is {personality}?",
	}

	for range 50 {
		assert.Equal(t, "SECRET PERSONA\nalice: what is {personality}?", Render(template, values))
	}
}

func TestNew_Providers(t *testing.T) {
	base := config.ModelConfig{Token: "token", Model: "model", RequestTimeout: time.Second}

	for _, provider := range []string{config.ProviderOpenAI, config.ProviderLangChain, config.ProviderAnthropic} {
		cfg := base
		cfg.Provider = provider

		completer, err := New(cfg)
		require.NoError(t, err, provider)
		assert.NotNil(t, completer, provider)
	}

	cfg := base
	cfg.Provider = "mystery"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestOpenAI_Complete(t *testing.T) {
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "  hi there \n"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	client := NewOpenAI(config.ModelConfig{
		Token:          "token",
		BaseURL:        srv.URL,
		Model:          "test-model",
		MaxTokens:      100,
		Temperature:    0.5,
		RequestTimeout: 5 * time.Second,
	})

	res, err := client.Complete(context.Background(), "say hi", WithJSON())
	require.NoError(t, err)

	assert.Equal(t, "hi there", res.Content)
	assert.Equal(t, "test-model", res.Model)
	assert.Equal(t, 12, res.TokensIn)
	assert.Equal(t, 3, res.TokensOut)

	assert.Equal(t, "test-model", gotBody["model"])
	format, ok := gotBody["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAI_CompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"m","choices":[]}`))
	}))
	defer srv.Close()

	client := NewOpenAI(config.ModelConfig{Token: "t", BaseURL: srv.URL, Model: "m", RequestTimeout: time.Second})

	_, err := client.Complete(context.Background(), "prompt")
	assert.Error(t, err)
}
