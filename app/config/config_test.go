package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
llm:
  token: sk-test
  planner: {model: planner-model}
  goal: {model: goal-model}
  reply: {model: reply-model, temperature: 1.3}
  check: {model: check-model}
  knowledge: {model: knowledge-model, provider: langchain}
conversation:
  bot_name: Durka
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.LLM.Planner.Provider)
	assert.Equal(t, ProviderLangChain, cfg.LLM.Knowledge.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.Goal.Token)
	assert.Equal(t, 0.7, cfg.LLM.Planner.Temperature)
	assert.Equal(t, 1.3, cfg.LLM.Reply.Temperature)
	assert.Equal(t, 30*time.Second, cfg.LLM.Check.RequestTimeout)

	assert.Equal(t, "Durka", cfg.Conversation.BotID)
	assert.Equal(t, 10*time.Second, cfg.Conversation.InitWaitTimeout)
	assert.Equal(t, time.Second, cfg.Conversation.WaitPollInterval)
	assert.Equal(t, 300*time.Second, cfg.Conversation.WaitTimeout)
	assert.Equal(t, ReplyCheckAdvisory, cfg.Conversation.ReplyCheckPolicy)
	assert.Equal(t, 3, cfg.Conversation.MaxReplyRetries)
	assert.NotEmpty(t, cfg.Conversation.TimeoutMessage)

	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, "pfc", cfg.NATS.SubjectPrefix)
	assert.Equal(t, 100, cfg.Archive.HistorySize)
}

func TestParse_DurationsFromYAML(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
  wait_timeout: 2m
  cold_chat_after: 45s
`))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Conversation.WaitTimeout)
	assert.Equal(t, 45*time.Second, cfg.Conversation.ColdChatAfter)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("PFC_LLM_TOKEN", "sk-from-env")
	t.Setenv("PFC_HTTP_LISTEN", ":9999")
	t.Setenv("PFC_BOT_ID", "12345")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.LLM.Planner.Token)
	assert.Equal(t, ":9999", cfg.HTTP.Listen)
	assert.Equal(t, "12345", cfg.Conversation.BotID)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing token",
			yaml: `
llm:
  planner: {model: a}
  goal: {model: a}
  reply: {model: a}
  check: {model: a}
  knowledge: {model: a}
`,
		},
		{
			name: "unknown provider",
			yaml: `
llm:
  token: sk
  planner: {model: a, provider: ollama}
  goal: {model: a}
  reply: {model: a}
  check: {model: a}
  knowledge: {model: a}
`,
		},
		{
			name: "bad policy",
			yaml: minimalYAML + `
  reply_check_policy: sometimes
`,
		},
		{
			name: "twitch enabled without credentials",
			yaml: minimalYAML + `
twitch:
  enabled: true
`,
		},
		{
			name: "unknown log level",
			yaml: minimalYAML + `
log:
  level: loud
`,
		},
		{
			name: "mcp command without tool",
			yaml: minimalYAML + `
knowledge:
  mcp:
    command: docker
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_LogLevelOffset(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
log:
  level: info+2
`))
	require.NoError(t, err)

	assert.Equal(t, "info+2", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "Durka", cfg.Conversation.BotName)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
