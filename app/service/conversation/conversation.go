package conversation

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	"prefrontal/app/config"
	"prefrontal/app/model"
	"prefrontal/app/service/knowledge"
	"prefrontal/app/service/reply"
	"prefrontal/app/util/metrics"

	"github.com/elliotchance/pie/v2"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

const (
	replyHistoryLimit     = 30
	knowledgeHistoryLimit = 30
)

// Conversation drives the decision loop of one stream.
type Conversation struct {
	key      string
	cfg      config.Conversation
	deps     Deps
	registry *Registry

	observer Observer
	info     *DecisionInfo
	goals    *GoalAnalyzer
	planner  *ActionPlanner
	waiter   *Waiter
	handler  *NotificationHandler

	runCtx   context.Context
	cancel   context.CancelFunc
	running  atomic.Bool
	stopOnce sync.Once
	initDone chan struct{}
	initOnce sync.Once

	mu            sync.RWMutex
	state         State
	goal          Goal
	actions       actionHistory
	goalAchieved  bool
	stopRequested bool
	stopReason    string
	reply         string
	knowledge     map[string]string
}

// Status is a read-only view of a conversation.
type Status struct {
	StreamKey        string              `json:"stream_key"`
	State            string              `json:"state"`
	Running          bool                `json:"running"`
	Goal             Goal                `json:"goal"`
	Goals            []Goal              `json:"goals"`
	Actions          []model.ActionEntry `json:"actions"`
	GoalAchieved     bool                `json:"goal_achieved"`
	StopRequested    bool                `json:"stop_requested"`
	StopReason       string              `json:"stop_reason,omitempty"`
	LastReply        string              `json:"last_reply,omitempty"`
	KnowledgeSources []string            `json:"knowledge_sources"`
	Decision         DecisionSnapshot    `json:"decision"`
}

func newConversation(key string, cfg config.Conversation, deps Deps, registry *Registry, observer Observer) *Conversation {
	runCtx, cancel := context.WithCancel(context.Background())

	c := &Conversation{
		key:       key,
		cfg:       cfg,
		deps:      deps,
		registry:  registry,
		observer:  observer,
		info:      NewDecisionInfo(cfg.BotID),
		goals:     NewGoalAnalyzer(deps.Goal, observer, cfg.BotID, cfg.BotName, cfg.Personality),
		planner:   NewActionPlanner(deps.Planner, observer, deps.Clock, cfg.BotID, cfg.BotName, cfg.Personality),
		waiter:    NewWaiter(observer, deps.Clock, cfg.WaitPollInterval, cfg.WaitTimeout),
		runCtx:    runCtx,
		cancel:    cancel,
		initDone:  make(chan struct{}),
		state:     StateInit,
		knowledge: make(map[string]string),
	}
	c.handler = NewNotificationHandler(c.info, observer, deps.Clock)
	c.running.Store(true)

	observer.Subscribe(func(n model.Notification) {
		c.handler.Handle(&n)
	})

	return c
}

func (c *Conversation) StreamKey() string {
	return c.key
}

// Observe hands an inbound chat message to the stream observer.
func (c *Conversation) Observe(msg model.Message) {
	if msg.StreamKey == "" {
		msg.StreamKey = c.key
	}

	c.observer.Push(msg)
}

// Notify handles an externally delivered notification.
func (c *Conversation) Notify(n model.Notification) HandleResult {
	return c.handler.Handle(&n)
}

// Done is closed once the conversation has been torn down.
func (c *Conversation) Done() <-chan struct{} {
	return c.runCtx.Done()
}

func (c *Conversation) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

func (c *Conversation) Goal() Goal {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.goal
}

func (c *Conversation) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Status{
		StreamKey:        c.key,
		State:            c.state.String(),
		Running:          c.running.Load(),
		Goal:             c.goal,
		Goals:            c.goals.Goals(),
		Actions:          c.actions.list(),
		GoalAchieved:     c.goalAchieved,
		StopRequested:    c.stopRequested,
		StopReason:       c.stopReason,
		LastReply:        c.reply,
		KnowledgeSources: pie.Sort(pie.Keys(c.knowledge)),
		Decision:         c.info.Snapshot(),
	}
}

func (c *Conversation) setState(state State) {
	c.mu.Lock()
	previous := c.state
	c.state = state
	c.mu.Unlock()

	if previous != state {
		slog.Debug("Conversation state changed",
			"stream", c.key,
			"from", previous.String(),
			"to", state.String(),
		)
		metrics.StateTransitionsTotal.WithLabelValues(state.String()).Inc()
	}
}

func (c *Conversation) setGoal(goal Goal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.goal = goal
}

func (c *Conversation) setReply(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reply = text
}

func (c *Conversation) knowledgeCopy() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]string, len(c.knowledge))
	for source, content := range c.knowledge {
		result[source] = content
	}

	return result
}

// initialize starts the observer and sets the initial goal.
func (c *Conversation) initialize() error {
	errb := oops.In("conversation").With("stream", c.key)

	if err := c.observer.Start(c.runCtx); err != nil {
		return errb.Wrapf(err, "failed to start observer")
	}

	if err := c.deps.Clock.Sleep(c.runCtx, c.cfg.ObserverWarmup); err != nil {
		return errb.Wrapf(ErrStopped, "stopped during observer warmup")
	}

	result := c.goals.AnalyzeGoal(context.WithoutCancel(c.runCtx))
	c.setGoal(result.Goal)

	if result.Outcome != OutcomeOK {
		slog.Warn("Using default conversation goal",
			"stream", c.key,
			"reason", result.Reason,
		)
	}

	if c.runCtx.Err() != nil {
		return errb.Wrapf(ErrStopped, "stopped during goal analysis")
	}

	slog.Info("Conversation initialized",
		"stream", c.key,
		"goal", result.Goal.Text,
	)

	return nil
}

func (c *Conversation) markInitDone() {
	c.initOnce.Do(func() {
		close(c.initDone)
	})
}

// run is the decision loop. It returns after the stop path or teardown.
func (c *Conversation) run() {
	c.setState(StateAnalyzing)

	for c.running.Load() && c.runCtx.Err() == nil {
		c.iterate()
	}

	slog.Info("Conversation loop finished", "stream", c.key)
}

func (c *Conversation) iterate() {
	ctx := context.WithoutCancel(c.runCtx)

	c.awaitRefresh()

	c.setState(StatePlanning)
	plan := c.planner.Plan(ctx, PlanRequest{
		Goal:     c.Goal(),
		Actions:  c.actionList(),
		Decision: c.info.Snapshot(),
	})

	if plan.Outcome == OutcomeFallback && c.cfg.FallbackBackoff > 0 {
		if err := c.deps.Clock.Sleep(c.runCtx, c.cfg.FallbackBackoff); err != nil {
			return
		}
	}

	c.recordAction(ctx, plan)
	c.dispatch(ctx, plan)
	c.info.ClearUnprocessedMessages()
}

func (c *Conversation) actionList() []model.ActionEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.actions.list()
}

func (c *Conversation) recordAction(ctx context.Context, plan PlanResult) {
	entry := model.ActionEntry{
		StreamKey: c.key,
		Action:    string(plan.Action),
		Reason:    plan.Reason,
		Time:      c.deps.Clock.Now(),
	}

	c.mu.Lock()
	c.actions.add(entry)
	c.mu.Unlock()

	slog.Info("Executing action",
		"stream", c.key,
		"action", plan.Action,
		"reason", plan.Reason,
	)

	metrics.ActionsTotal.WithLabelValues(string(plan.Action)).Inc()

	if c.deps.Recorder != nil {
		c.deps.Recorder.RecordAction(ctx, entry)
	}
}

func (c *Conversation) dispatch(ctx context.Context, plan PlanResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Action panicked",
				"stream", c.key,
				"action", plan.Action,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			c.setState(StateAnalyzing)
		}
	}()

	switch plan.Action {
	case ActionDirectReply:
		c.directReply(ctx)
	case ActionFetchKnowledge:
		c.fetchKnowledge(ctx)
	case ActionRethinkGoal:
		c.rethinkGoal(ctx)
	case ActionJudgeConversation:
		c.judge(ctx)
	case ActionListening:
		c.setState(StateListening)
		c.wait(ctx)
	default:
		c.setState(StateWaiting)
		c.wait(ctx)
	}
}

func (c *Conversation) directReply(ctx context.Context) {
	defer c.setState(StateAnalyzing)

	c.setState(StateGenerating)

	goal := c.Goal()
	req := reply.Request{
		Goal:      goal.Text,
		Method:    goal.Method,
		History:   c.observer.History(replyHistoryLimit),
		Knowledge: c.knowledgeCopy(),
	}

	text, err := c.deps.Generator.Generate(ctx, req)
	if err != nil {
		slog.Error("Failed to generate reply", "stream", c.key, "error", err)
		c.setReply("")
		return
	}

	text, ok := c.checkReply(ctx, req, text)
	if !ok {
		c.setReply("")
		return
	}

	c.setReply(text)
	c.sendReply(ctx)
}

// checkReply applies the configured policy to the checker verdict and returns
// the reply to send, if any.
func (c *Conversation) checkReply(ctx context.Context, req reply.Request, text string) (string, bool) {
	for retry := 0; ; retry++ {
		c.setState(StateChecking)

		verdict, err := c.deps.Checker.Check(ctx, reply.CheckRequest{
			Reply:   text,
			Goal:    req.Goal,
			Retry:   retry,
			History: req.History,
		})
		if err != nil {
			slog.Warn("Failed to check reply", "stream", c.key, "error", err)
			verdict = reply.Verdict{Acceptable: true, Reason: "check unavailable"}
		}

		if !verdict.Acceptable {
			slog.Info("Reply rejected",
				"stream", c.key,
				"reply", text,
				"reason", verdict.Reason,
				"need_replan", verdict.NeedReplan,
				"policy", c.cfg.ReplyCheckPolicy,
			)
		}

		switch c.cfg.ReplyCheckPolicy {
		case config.ReplyCheckEnforce:
			return text, verdict.Acceptable
		case config.ReplyCheckRegenerate:
			if verdict.Acceptable {
				return text, true
			}
			if verdict.NeedReplan || retry+1 >= c.cfg.MaxReplyRetries {
				return "", false
			}

			c.setState(StateGenerating)
			req.PreviousReply = text
			text, err = c.deps.Generator.Generate(ctx, req)
			if err != nil {
				slog.Error("Failed to regenerate reply", "stream", c.key, "error", err)
				return "", false
			}
		default:
			return text, true
		}
	}
}

func (c *Conversation) latestMessage() (model.Message, bool) {
	history := c.observer.History(1)
	if len(history) == 0 {
		return model.Message{}, false
	}

	return history[len(history)-1], true
}

func (c *Conversation) sendReply(ctx context.Context) {
	c.mu.RLock()
	text := c.reply
	c.mu.RUnlock()

	if text == "" {
		slog.Warn("No reply generated", "stream", c.key)
		return
	}

	target, ok := c.latestMessage()
	if !ok {
		slog.Warn("No message to reply to", "stream", c.key)
		return
	}

	c.setState(StateSending)

	if err := c.send(ctx, text, &target); err != nil {
		slog.Error("Failed to send reply",
			"stream", c.key,
			"text", text,
			"error", err,
		)
		c.setState(StateAnalyzing)
		return
	}

	c.awaitRefresh()
	c.setState(StateAnalyzing)
}

func (c *Conversation) send(ctx context.Context, text string, replyTo *model.Message) error {
	if err := c.deps.Sender.Send(ctx, c.key, text, replyTo); err != nil {
		return oops.In("conversation").With("stream", c.key).Wrapf(err, "failed to send message")
	}

	msg := model.Message{
		ID:        uuid.NewString(),
		StreamKey: c.key,
		Time:      c.deps.Clock.Now(),
		UserID:    c.cfg.BotID,
		Nickname:  c.cfg.BotName,
		Text:      text,
	}
	if replyTo != nil {
		msg.ReplyToID = replyTo.ID
	}

	c.observer.Record(msg)

	return nil
}

func (c *Conversation) awaitRefresh() {
	c.observer.TriggerRefresh()

	ctx, cancel := context.WithTimeout(c.runCtx, c.cfg.RefreshTimeout)
	defer cancel()

	if !c.observer.AwaitRefresh(ctx) && c.runCtx.Err() == nil {
		slog.Warn("Timed out waiting for message refresh", "stream", c.key)
	}
}

func (c *Conversation) fetchKnowledge(ctx context.Context) {
	c.setState(StateGenerating)

	goal := c.Goal()

	content, source, err := c.deps.Knowledge.Fetch(ctx, goal.Text, c.observer.History(knowledgeHistoryLimit))
	if err != nil {
		slog.Error("Failed to fetch knowledge", "stream", c.key, "error", err)
		return
	}

	slog.Info("Fetched knowledge", "stream", c.key, "source", source)

	content = strings.TrimSpace(content)
	if content == "" || content == knowledge.NothingFound {
		return
	}

	c.mu.Lock()
	c.knowledge[source] = content
	c.mu.Unlock()
}

func (c *Conversation) rethinkGoal(ctx context.Context) {
	c.setState(StateRethinking)

	result := c.goals.AnalyzeGoal(ctx)
	c.setGoal(result.Goal)

	slog.Info("Goal rethought",
		"stream", c.key,
		"goal", result.Goal.Text,
		"outcome", result.Outcome.String(),
	)
}

func (c *Conversation) judge(ctx context.Context) {
	c.setState(StateJudging)

	goal := c.Goal()
	result := c.goals.AnalyzeConversation(ctx, goal)

	c.mu.Lock()
	c.goalAchieved = result.Achieved
	c.stopRequested = result.Stop
	c.stopReason = result.Reason
	c.mu.Unlock()

	if result.Achieved && !result.Stop {
		alternatives := c.goals.Alternatives(goal)
		if len(alternatives) > 0 {
			c.setGoal(alternatives[0])
			slog.Info("Goal achieved, switching to the next one",
				"stream", c.key,
				"goal", alternatives[0].Text,
			)
			return
		}
	}

	if result.Stop {
		c.stop(result.Reason)
	}
}

func (c *Conversation) wait(ctx context.Context) {
	result := c.waiter.Wait(c.runCtx)
	if result.Cancelled || !result.TimedOut {
		return
	}

	c.sendTimeoutMessage(ctx)
	c.stop("nobody answered in time")
}

func (c *Conversation) sendTimeoutMessage(ctx context.Context) {
	target, ok := c.latestMessage()
	if !ok {
		return
	}

	if err := c.send(ctx, c.cfg.TimeoutMessage, &target); err != nil {
		slog.Error("Failed to send timeout message", "stream", c.key, "error", err)
	}
}

// stop ends the conversation. Safe to call more than once.
func (c *Conversation) stop(reason string) {
	c.running.Store(false)
	c.setState(StateEnded)

	slog.Info("Stopping conversation", "stream", c.key, "reason", reason)

	if c.registry != nil {
		c.registry.evict(c)
	}
	c.shutdown()
}

// shutdown cancels pending waits and stops the observer exactly once.
func (c *Conversation) shutdown() {
	c.stopOnce.Do(func() {
		c.running.Store(false)
		c.cancel()
		c.observer.Stop()
		metrics.ConversationsTotal.WithLabelValues("stopped").Inc()
	})
}
