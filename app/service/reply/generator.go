package reply

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"prefrontal/app/client/llm"
	"prefrontal/app/config"
	"prefrontal/app/model"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
	"github.com/samber/oops"
)

//go:embed reply_prompt_template.txt
var replyPromptTemplate string

const replyHistoryLimit = 20

var errEmptyReply = errors.New("model returned an empty reply")

// Generator writes the bot's next chat message.
type Generator struct {
	completer   llm.Completer
	botID       string
	botName     string
	personality string
}

func NewGenerator(di *do.Injector) (*Generator, error) {
	cfg := do.MustInvoke[*config.Config](di)

	completer, err := llm.New(cfg.LLM.Reply)
	if err != nil {
		return nil, oops.In("reply").Wrapf(err, "failed to create reply model")
	}

	return newGenerator(completer, cfg.Conversation), nil
}

func newGenerator(completer llm.Completer, cfg config.Conversation) *Generator {
	return &Generator{
		completer:   completer,
		botID:       cfg.BotID,
		botName:     cfg.BotName,
		personality: cfg.Personality,
	}
}

func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	history := req.History
	if len(history) > replyHistoryLimit {
		history = history[len(history)-replyHistoryLimit:]
	}

	previousReply := ""
	improve := ""
	if req.PreviousReply != "" {
		previousReply = "Your previous attempt, which needs improvement:\n" + req.PreviousReply + "\n"
		improve = "5. Fix what was wrong with the previous attempt"
	}

	prompt := llm.Render(replyPromptTemplate, map[string]any{
		"personality":    personalityText(g.botName, g.personality),
		"goal":           req.Goal,
		"method":         req.Method,
		"knowledge":      formatKnowledge(req.Knowledge),
		"previous_reply": previousReply,
		"improve":        improve,
		"chat_history":   model.FormatHistory(history, g.botID),
	})

	completion, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		return "", oops.In("reply").Wrapf(err, "failed to generate reply")
	}

	result := cleanReply(completion.Content)
	if result == "" {
		return "", oops.In("reply").Wrap(errEmptyReply)
	}

	slog.Info("Generated reply",
		"goal", req.Goal,
		"reply", result,
		"retry", req.PreviousReply != "",
	)

	return result, nil
}

func formatKnowledge(knowledge map[string]string) string {
	if len(knowledge) == 0 {
		return ""
	}

	var builder strings.Builder
	builder.WriteString("Relevant knowledge:\n")

	for _, source := range pie.Sort(pie.Keys(knowledge)) {
		builder.WriteString(knowledge[source])
		builder.WriteString("\n")
	}

	return builder.String()
}

// cleanReply drops the quotes and speaker prefixes models like to add.
func cleanReply(content string) string {
	result := strings.TrimSpace(content)
	result = strings.Trim(result, "\"'«»“”")
	result = strings.TrimSpace(result)

	for _, prefix := range []string{"You:", "Reply:"} {
		result = strings.TrimSpace(strings.TrimPrefix(result, prefix))
	}

	return result
}

func personalityText(botName, personality string) string {
	if personality == "" {
		return fmt.Sprintf("Your name is %s.", botName)
	}

	return fmt.Sprintf("Your name is %s. %s", botName, personality)
}
