package reply

import (
	"context"
	_ "embed"
	"log/slog"
	"strings"
	"unicode/utf8"

	"prefrontal/app/client/llm"
	"prefrontal/app/config"
	"prefrontal/app/model"

	"github.com/elliotchance/pie/v2"
	"github.com/go-playground/validator/v10"
	"github.com/samber/do"
	"github.com/samber/oops"
)

//go:embed check_prompt_template.txt
var checkPromptTemplate string

const (
	maxReplyLength = 500
	// Recent bot lines a reply must not repeat
	repeatWindow = 5
	// A reply still repeating itself after this many retries needs a new plan
	replanAfterRetries = 2
	checkHistoryLimit  = 20
)

// Checker decides whether a generated reply is fit to send.
type Checker struct {
	completer llm.Completer
	validate  *validator.Validate
	botID     string
}

type checkResponse struct {
	Acceptable *bool  `json:"acceptable" validate:"required"`
	Reason     string `json:"reason"`
	NeedReplan bool   `json:"need_replan"`
}

func NewChecker(di *do.Injector) (*Checker, error) {
	cfg := do.MustInvoke[*config.Config](di)

	completer, err := llm.New(cfg.LLM.Check)
	if err != nil {
		return nil, oops.In("reply").Wrapf(err, "failed to create check model")
	}

	return newChecker(completer, cfg.Conversation.BotID), nil
}

func newChecker(completer llm.Completer, botID string) *Checker {
	return &Checker{
		completer: completer,
		validate:  validator.New(),
		botID:     botID,
	}
}

// Check runs the local checks first and asks the model only when they pass.
// A failing model call does not block the reply.
func (c *Checker) Check(ctx context.Context, req CheckRequest) (Verdict, error) {
	if verdict, ok := c.localCheck(req); !ok {
		slog.Info("Reply rejected by local check",
			"reply", req.Reply,
			"reason", verdict.Reason,
		)
		return verdict, nil
	}

	history := req.History
	if len(history) > checkHistoryLimit {
		history = history[len(history)-checkHistoryLimit:]
	}

	prompt := llm.Render(checkPromptTemplate, map[string]any{
		"goal":         req.Goal,
		"chat_history": model.FormatHistory(history, c.botID),
		"reply":        req.Reply,
		"attempt":      req.Retry + 1,
	})

	completion, err := c.completer.Complete(ctx, prompt, llm.WithJSON())
	if err != nil {
		slog.Warn("Reply check unavailable", "error", err)
		return Verdict{Acceptable: true, Reason: "check unavailable: model call failed"}, nil
	}

	var response checkResponse
	if err = llm.DecodeJSON(completion.Content, &response); err != nil {
		slog.Warn("Failed to parse reply check", "error", err, "content", completion.Content)
		return Verdict{Acceptable: true, Reason: "check unavailable: unparsable verdict"}, nil
	}
	if err = c.validate.Struct(response); err != nil {
		slog.Warn("Invalid reply check", "error", err, "content", completion.Content)
		return Verdict{Acceptable: true, Reason: "check unavailable: invalid verdict"}, nil
	}

	verdict := Verdict{
		Acceptable: *response.Acceptable,
		Reason:     strings.TrimSpace(response.Reason),
		NeedReplan: response.NeedReplan,
	}

	slog.Info("Reply checked",
		"reply", req.Reply,
		"acceptable", verdict.Acceptable,
		"reason", verdict.Reason,
		"need_replan", verdict.NeedReplan,
	)

	return verdict, nil
}

func (c *Checker) localCheck(req CheckRequest) (Verdict, bool) {
	text := strings.TrimSpace(req.Reply)

	if text == "" {
		return Verdict{Reason: "reply is empty"}, false
	}

	if utf8.RuneCountInString(text) > maxReplyLength {
		return Verdict{Reason: "reply is too long"}, false
	}

	botLines := pie.Filter(req.History, func(msg model.Message) bool {
		return msg.UserID == c.botID
	})
	if len(botLines) > repeatWindow {
		botLines = botLines[len(botLines)-repeatWindow:]
	}

	repeated := pie.Any(botLines, func(msg model.Message) bool {
		return strings.EqualFold(strings.TrimSpace(msg.Text), text)
	})
	if repeated {
		return Verdict{
			Reason:     "reply repeats an earlier message",
			NeedReplan: req.Retry >= replanAfterRetries,
		}, false
	}

	return Verdict{Acceptable: true}, true
}
