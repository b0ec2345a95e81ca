package knowledge

import (
	"context"
	_ "embed"
	"log/slog"
	"strings"

	"prefrontal/app/client/llm"
	"prefrontal/app/config"
	"prefrontal/app/model"

	"github.com/mark3labs/mcp-go/client"
	"github.com/samber/do"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/tools"
)

//go:embed knowledge_prompt_template.txt
var knowledgePromptTemplate string

// NothingFound is returned as content when no source knows anything useful.
const NothingFound = "no relevant knowledge found"

const (
	sourceLLM          = "llm"
	queryHistoryLimit  = 5
	promptHistoryLimit = 30
	noneAnswer         = "NONE"
)

var _ do.Shutdownable = (*Service)(nil)

type Service struct {
	completer llm.Completer
	tool      tools.Tool
	mcpClient client.MCPClient
	botID     string
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	completer, err := llm.New(cfg.LLM.Knowledge)
	if err != nil {
		return nil, oops.In("knowledge").Wrapf(err, "failed to create knowledge model")
	}

	s := &Service{
		completer: completer,
		botID:     cfg.Conversation.BotID,
	}

	mcpCfg := cfg.Knowledge.MCP
	if mcpCfg.Command == "" {
		return s, nil
	}

	mcpClient, err := createMCPClient(mcpCfg)
	if err != nil {
		return nil, oops.In("knowledge").With("command", mcpCfg.Command).Wrapf(err, "failed to create MCP client")
	}

	tool, err := initializeMCPTool(mcpClient, mcpCfg.Tool)
	if err != nil {
		_ = mcpClient.Close()
		slog.Error("MCP knowledge source unavailable, using the model only",
			"command", mcpCfg.Command,
			"tool", mcpCfg.Tool,
			"error", err,
			"telegram", true,
		)
		return s, nil
	}

	s.mcpClient = mcpClient
	s.tool = tool

	slog.Info("MCP knowledge source ready", "tool", tool.Name())

	return s, nil
}

// Fetch looks up knowledge relevant to the goal and the latest messages.
// The MCP tool is asked first; the model answers when the tool is missing or fails.
func (s *Service) Fetch(ctx context.Context, goal string, history []model.Message) (string, string, error) {
	if s.tool != nil {
		content, err := s.tool.Call(ctx, buildQuery(goal, history))
		if err == nil {
			if content == "" {
				return NothingFound, s.source(), nil
			}
			return content, s.source(), nil
		}

		slog.Warn("MCP knowledge lookup failed, asking the model",
			"tool", s.tool.Name(),
			"error", err,
		)
	}

	if len(history) > promptHistoryLimit {
		history = history[len(history)-promptHistoryLimit:]
	}

	prompt := llm.Render(knowledgePromptTemplate, map[string]any{
		"goal":         goal,
		"chat_history": model.FormatHistory(history, s.botID),
	})

	completion, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return "", "", oops.In("knowledge").Wrapf(err, "failed to fetch knowledge")
	}

	content := strings.TrimSpace(completion.Content)
	if content == "" || strings.EqualFold(strings.Trim(content, "."), noneAnswer) {
		return NothingFound, sourceLLM, nil
	}

	return content, sourceLLM, nil
}

func (s *Service) source() string {
	return "mcp:" + s.tool.Name()
}

func buildQuery(goal string, history []model.Message) string {
	if len(history) > queryHistoryLimit {
		history = history[len(history)-queryHistoryLimit:]
	}

	parts := make([]string, 0, len(history)+1)
	parts = append(parts, goal)
	for _, msg := range history {
		parts = append(parts, msg.Text)
	}

	return strings.Join(parts, "\n")
}

func (s *Service) Shutdown() error {
	if s.mcpClient == nil {
		return nil
	}

	return s.mcpClient.Close()
}
