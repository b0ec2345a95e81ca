package conversation

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"prefrontal/app/client/llm"
	"prefrontal/app/model"
	"prefrontal/app/util/metrics"

	"github.com/elliotchance/pie/v2"
	"github.com/go-playground/validator/v10"
)

//go:embed goal_prompt_template.txt
var goalPromptTemplate string

//go:embed judge_prompt_template.txt
var judgePromptTemplate string

const (
	maxGoals            = 3
	goalAnalysisRetries = 3
	goalHistoryLimit    = 20
	similarityThreshold = 0.7
	defaultMethod       = "respond in a friendly manner"
	judgeFallbackReason = "make sure the conversation goes smoothly"
)

var defaultGoal = Goal{
	Text:      "keep the conversation friendly",
	Method:    defaultMethod,
	Reasoning: "make sure the conversation goes smoothly",
}

type Goal struct {
	Text      string `json:"text"`
	Method    string `json:"method"`
	Reasoning string `json:"reasoning"`
}

type GoalResult struct {
	Goal    Goal
	Outcome Outcome
	Reason  string
}

type JudgeResult struct {
	Achieved bool
	Stop     bool
	Reason   string
	Outcome  Outcome
}

type goalResponse struct {
	Goal      string `json:"goal" validate:"required"`
	Reasoning string `json:"reasoning" validate:"required"`
	Method    string `json:"method"`
}

type judgeResponse struct {
	GoalAchieved     *bool  `json:"goal_achieved" validate:"required"`
	StopConversation *bool  `json:"stop_conversation" validate:"required"`
	Reason           string `json:"reason"`
}

// GoalAnalyzer keeps a ranked list of conversation goals, most important first.
type GoalAnalyzer struct {
	completer   Completer
	observer    Observer
	validate    *validator.Validate
	botID       string
	botName     string
	personality string

	mu    sync.Mutex
	goals []Goal
}

func NewGoalAnalyzer(completer Completer, observer Observer, botID, botName, personality string) *GoalAnalyzer {
	return &GoalAnalyzer{
		completer:   completer,
		observer:    observer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		botID:       botID,
		botName:     botName,
		personality: personality,
	}
}

// AnalyzeGoal asks the model for the main goal, merges it into the goal list
// and returns the front goal. All attempts failing yields the default goal.
func (a *GoalAnalyzer) AnalyzeGoal(ctx context.Context) GoalResult {
	var lastErr error

	for attempt := 1; attempt <= goalAnalysisRetries; attempt++ {
		proposal, err := a.proposeGoal(ctx)
		if err != nil {
			lastErr = err
			slog.Warn("Failed to analyze conversation goal",
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		a.merge(proposal)

		front, _ := a.front()
		metrics.RecordOutcome("goal", OutcomeOK.String())

		return GoalResult{Goal: front, Outcome: OutcomeOK}
	}

	metrics.RecordOutcome("goal", OutcomeFallback.String())

	return GoalResult{
		Goal:    defaultGoal,
		Outcome: OutcomeFallback,
		Reason:  fmt.Sprintf("goal analysis failed after %d attempts: %v", goalAnalysisRetries, lastErr),
	}
}

func (a *GoalAnalyzer) proposeGoal(ctx context.Context) (Goal, error) {
	prompt := llm.Render(goalPromptTemplate, map[string]any{
		"personality":    personalityText(a.botName, a.personality),
		"existing_goals": a.formatGoals(),
		"chat_history":   model.FormatHistory(a.observer.History(goalHistoryLimit), a.botID),
	})

	completion, err := a.completer.Complete(ctx, prompt, llm.WithJSON())
	if err != nil {
		return Goal{}, fmt.Errorf("completer.Complete: %w", err)
	}

	var response goalResponse
	if err = llm.DecodeJSON(completion.Content, &response); err != nil {
		return Goal{}, err
	}
	if err = a.validate.Struct(response); err != nil {
		return Goal{}, fmt.Errorf("invalid goal response: %w", err)
	}

	method := strings.TrimSpace(response.Method)
	if method == "" {
		method = defaultMethod
	}

	return Goal{
		Text:      strings.TrimSpace(response.Goal),
		Method:    method,
		Reasoning: strings.TrimSpace(response.Reasoning),
	}, nil
}

// AnalyzeConversation judges whether goal is achieved and whether to stop talking.
// A goal achieved without stopping is dropped from the list.
func (a *GoalAnalyzer) AnalyzeConversation(ctx context.Context, goal Goal) JudgeResult {
	prompt := llm.Render(judgePromptTemplate, map[string]any{
		"personality":  personalityText(a.botName, a.personality),
		"goal":         goal.Text,
		"reasoning":    goal.Reasoning,
		"chat_history": model.FormatHistory(a.observer.History(0), a.botID),
	})

	fallback := func(err error) JudgeResult {
		slog.Warn("Failed to judge conversation", "error", err)
		metrics.RecordOutcome("judge", OutcomeFallback.String())

		return JudgeResult{Reason: judgeFallbackReason, Outcome: OutcomeFallback}
	}

	completion, err := a.completer.Complete(ctx, prompt, llm.WithJSON())
	if err != nil {
		return fallback(err)
	}

	var response judgeResponse
	if err = llm.DecodeJSON(completion.Content, &response); err != nil {
		return fallback(err)
	}
	if err = a.validate.Struct(response); err != nil {
		return fallback(err)
	}

	result := JudgeResult{
		Achieved: *response.GoalAchieved,
		Stop:     *response.StopConversation,
		Reason:   response.Reason,
		Outcome:  OutcomeOK,
	}

	if result.Achieved && !result.Stop {
		a.remove(goal.Text)
	}

	metrics.RecordOutcome("judge", OutcomeOK.String())

	return result
}

// Goals returns a copy of the goal list.
func (a *GoalAnalyzer) Goals() []Goal {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]Goal, len(a.goals))
	copy(result, a.goals)

	return result
}

// Alternatives returns the held goals other than active, in rank order.
func (a *GoalAnalyzer) Alternatives(active Goal) []Goal {
	a.mu.Lock()
	defer a.mu.Unlock()

	return pie.Filter(a.goals, func(g Goal) bool {
		return g.Text != active.Text
	})
}

func (a *GoalAnalyzer) merge(goal Goal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, existing := range a.goals {
		if Similarity(goal.Text, existing.Text) > similarityThreshold {
			rest := append(a.goals[:i:i], a.goals[i+1:]...)
			a.goals = append([]Goal{goal}, rest...)
			return
		}
	}

	a.goals = append([]Goal{goal}, a.goals...)
	if len(a.goals) > maxGoals {
		a.goals = a.goals[:maxGoals]
	}
}

func (a *GoalAnalyzer) remove(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, existing := range a.goals {
		if existing.Text == text {
			a.goals = append(a.goals[:i:i], a.goals[i+1:]...)
			return
		}
	}
}

func (a *GoalAnalyzer) front() (Goal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.goals) == 0 {
		return Goal{}, false
	}

	return a.goals[0], true
}

func (a *GoalAnalyzer) formatGoals() string {
	goals := a.Goals()
	if len(goals) == 0 {
		return "You have no conversation goals yet."
	}

	var builder strings.Builder

	builder.WriteString("Your current conversation goals:\n")
	for i, goal := range goals {
		builder.WriteString(fmt.Sprintf("%d. Goal: %s, reason: %s\n", i+1, goal.Text, goal.Reasoning))
	}

	return builder.String()
}

// Similarity is the Jaccard index of the character sets of a and b.
func Similarity(a, b string) float64 {
	setA := make(map[rune]struct{})
	for _, r := range a {
		setA[r] = struct{}{}
	}

	setB := make(map[rune]struct{})
	for _, r := range b {
		setB[r] = struct{}{}
	}

	intersection := 0
	for r := range setA {
		if _, ok := setB[r]; ok {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}
