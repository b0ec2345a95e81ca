package conversation

import (
	"context"
	_ "embed"
	"log/slog"
	"strings"

	"prefrontal/app/client/llm"
	"prefrontal/app/model"
	"prefrontal/app/util/clock"
	"prefrontal/app/util/metrics"

	"github.com/elliotchance/pie/v2"
	"github.com/go-playground/validator/v10"
)

//go:embed planner_prompt_template.txt
var plannerPromptTemplate string

const plannerHistoryLimit = 20

type PlanRequest struct {
	Goal     Goal
	Actions  []model.ActionEntry
	Decision DecisionSnapshot
}

type PlanResult struct {
	Action  Action
	Reason  string
	Outcome Outcome
}

type planResponse struct {
	Action string `json:"action" validate:"required"`
	Reason string `json:"reason"`
}

// ActionPlanner asks the model which action the conversation takes next.
type ActionPlanner struct {
	completer   Completer
	observer    Observer
	clock       clock.Clock
	validate    *validator.Validate
	botID       string
	botName     string
	personality string
}

func NewActionPlanner(
	completer Completer,
	observer Observer,
	clk clock.Clock,
	botID, botName, personality string,
) *ActionPlanner {
	return &ActionPlanner{
		completer:   completer,
		observer:    observer,
		clock:       clk,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		botID:       botID,
		botName:     botName,
		personality: personality,
	}
}

// Plan never fails: model errors and unparsable answers fall back to a direct
// reply, unknown actions are replaced with listening.
func (p *ActionPlanner) Plan(ctx context.Context, req PlanRequest) PlanResult {
	now := p.clock.Now()

	var actionHistory string
	if len(req.Actions) > 0 && req.Actions[len(req.Actions)-1].Action == string(ActionDirectReply) {
		actionHistory = "You have just replied to the other side."
	}

	prompt := llm.Render(plannerPromptTemplate, map[string]any{
		"personality":    personalityText(p.botName, p.personality),
		"goal":           req.Goal.Text,
		"method":         req.Goal.Method,
		"reasoning":      req.Goal.Reasoning,
		"decision_info":  formatDecisionInfo(req.Decision, now),
		"action_history": actionHistory,
		"now":            model.FormatTime(now),
		"chat_history":   model.FormatHistory(p.observer.History(plannerHistoryLimit), p.botID),
	})

	completion, err := p.completer.Complete(ctx, prompt, llm.WithJSON())
	if err != nil {
		slog.Error("Failed to plan action", "error", err)
		return p.fallback("planning failed, replying directly")
	}

	var response planResponse
	if err = llm.DecodeJSON(completion.Content, &response); err != nil {
		slog.Warn("Failed to parse plan", "content", completion.Content, "error", err)
		return p.fallback("failed to parse plan, replying directly")
	}
	if err = p.validate.Struct(response); err != nil {
		slog.Warn("Invalid plan", "content", completion.Content, "error", err)
		return p.fallback("failed to parse plan, replying directly")
	}

	action := Action(strings.TrimSpace(response.Action))
	if !pie.Contains(validActions, action) {
		slog.Warn("Unknown action, listening instead", "action", response.Action)
		action = ActionListening
	}

	metrics.RecordOutcome("planner", OutcomeOK.String())

	return PlanResult{
		Action:  action,
		Reason:  response.Reason,
		Outcome: OutcomeOK,
	}
}

func (p *ActionPlanner) fallback(reason string) PlanResult {
	metrics.RecordOutcome("planner", OutcomeFallback.String())

	return PlanResult{
		Action:  ActionDirectReply,
		Reason:  reason,
		Outcome: OutcomeFallback,
	}
}
