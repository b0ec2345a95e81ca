package conversation

import (
	"context"
	"errors"
	"testing"

	"prefrontal/app/model"
	"prefrontal/app/util/clock"

	"github.com/stretchr/testify/assert"
)

func newTestPlanner(completer Completer, observer Observer) *ActionPlanner {
	return NewActionPlanner(completer, observer, clock.NewFake(testStart), "bot", "Bot", "A cheerful helper.")
}

func TestActionPlanner_Plan(t *testing.T) {
	tests := []struct {
		name       string
		completer  *fakeCompleter
		wantAction Action
		wantResult Outcome
	}{
		{
			name:       "valid action",
			completer:  &fakeCompleter{responses: []string{`{"action": "fetch_knowledge", "reason": "need facts"}`}},
			wantAction: ActionFetchKnowledge,
			wantResult: OutcomeOK,
		},
		{
			name:       "unknown action becomes listening",
			completer:  &fakeCompleter{responses: []string{`{"action": "dance", "reason": "why not"}`}},
			wantAction: ActionListening,
			wantResult: OutcomeOK,
		},
		{
			name:       "unparsable answer falls back to direct reply",
			completer:  &fakeCompleter{responses: []string{"I think we should wait"}},
			wantAction: ActionDirectReply,
			wantResult: OutcomeFallback,
		},
		{
			name:       "missing action falls back to direct reply",
			completer:  &fakeCompleter{responses: []string{`{"reason": "no idea"}`}},
			wantAction: ActionDirectReply,
			wantResult: OutcomeFallback,
		},
		{
			name:       "completion error falls back to direct reply",
			completer:  &fakeCompleter{err: errors.New("timeout")},
			wantAction: ActionDirectReply,
			wantResult: OutcomeFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlanner(tt.completer, &fakeObserver{})

			result := p.Plan(context.Background(), PlanRequest{Goal: defaultGoal})

			assert.Equal(t, tt.wantAction, result.Action)
			assert.Equal(t, tt.wantResult, result.Outcome)
			assert.NotEmpty(t, result.Reason)
		})
	}
}

func TestActionPlanner_PromptContext(t *testing.T) {
	observer := &fakeObserver{}
	observer.add(userMessage("1", testStart, "what is a goroutine?"))
	observer.add(model.Message{ID: "2", Time: testStart, UserID: "bot", Nickname: "Bot", Text: "a lightweight thread"})

	completer := &fakeCompleter{responses: []string{`{"action": "wait", "reason": "they are typing"}`}}
	p := newTestPlanner(completer, observer)

	info := NewDecisionInfo("bot")
	info.UpdateFromMessage(userMessage("1", testStart, "what is a goroutine?"))

	p.Plan(context.Background(), PlanRequest{
		Goal:     Goal{Text: "explain goroutines", Method: "simply", Reasoning: "they asked"},
		Actions:  []model.ActionEntry{{Action: string(ActionDirectReply)}},
		Decision: info.Snapshot(),
	})

	prompt := completer.lastPrompt()
	assert.Contains(t, prompt, "Your name is Bot. A cheerful helper.")
	assert.Contains(t, prompt, "Current conversation goal: explain goroutines")
	assert.Contains(t, prompt, "You have just replied")
	assert.Contains(t, prompt, "alice: what is a goroutine?")
	assert.Contains(t, prompt, "You: a lightweight thread")
	assert.Contains(t, prompt, "There are 1 new unprocessed messages")
	assert.Contains(t, prompt, "Active users: 1")
}

func TestActionPlanner_PromptWithoutRecentReply(t *testing.T) {
	completer := &fakeCompleter{responses: []string{`{"action": "wait", "reason": "r"}`}}
	p := newTestPlanner(completer, &fakeObserver{})

	p.Plan(context.Background(), PlanRequest{
		Goal:    defaultGoal,
		Actions: []model.ActionEntry{{Action: string(ActionDirectReply)}, {Action: string(ActionWait)}},
	})

	assert.NotContains(t, completer.lastPrompt(), "You have just replied")
	assert.Contains(t, completer.lastPrompt(), "No recent messages")
}
