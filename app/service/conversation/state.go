package conversation

type State int

const (
	StateInit State = iota
	StateRethinking
	StateAnalyzing
	StatePlanning
	StateGenerating
	StateChecking
	StateSending
	StateWaiting
	StateListening
	StateJudging
	StateEnded
)

var stateNames = [...]string{
	StateInit:       "init",
	StateRethinking: "rethinking",
	StateAnalyzing:  "analyzing",
	StatePlanning:   "planning",
	StateGenerating: "generating",
	StateChecking:   "checking",
	StateSending:    "sending",
	StateWaiting:    "waiting",
	StateListening:  "listening",
	StateJudging:    "judging",
	StateEnded:      "ended",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

// Outcome tells which path produced a result.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeFallback
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeFallback:
		return "fallback"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

type Action string

const (
	ActionDirectReply       Action = "direct_reply"
	ActionFetchKnowledge    Action = "fetch_knowledge"
	ActionWait              Action = "wait"
	ActionListening         Action = "listening"
	ActionRethinkGoal       Action = "rethink_goal"
	ActionJudgeConversation Action = "judge_conversation"
)

var validActions = []Action{
	ActionDirectReply,
	ActionFetchKnowledge,
	ActionWait,
	ActionListening,
	ActionRethinkGoal,
	ActionJudgeConversation,
}
