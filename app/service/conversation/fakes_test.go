package conversation

import (
	"context"
	"sync"
	"time"

	"prefrontal/app/client/llm"
	"prefrontal/app/config"
	"prefrontal/app/model"
	"prefrontal/app/service/reply"
	"prefrontal/app/util/clock"
)

var testStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testConfig() config.Conversation {
	return config.Conversation{
		BotID:            "bot",
		BotName:          "Bot",
		InitWaitTimeout:  time.Second,
		RefreshTimeout:   100 * time.Millisecond,
		WaitPollInterval: time.Second,
		WaitTimeout:      300 * time.Second,
		ReplyCheckPolicy: config.ReplyCheckAdvisory,
		MaxReplyRetries:  3,
		TimeoutMessage:   "bye for now",
	}
}

type fakeObserver struct {
	mu          sync.Mutex
	history     []model.Message
	recorded    []model.Message
	pushed      []model.Message
	refreshes   int
	waitStart   time.Time
	startErr    error
	startCalls  int
	stopCalls   int
	subscribers []func(model.Notification)
}

func (f *fakeObserver) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.startCalls++

	return f.startErr
}

func (f *fakeObserver) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopCalls++
}

func (f *fakeObserver) History(limit int) []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	messages := f.history
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	result := make([]model.Message, len(messages))
	copy(result, messages)

	return result
}

func (f *fakeObserver) TriggerRefresh() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refreshes++
}

func (f *fakeObserver) AwaitRefresh(context.Context) bool {
	return true
}

func (f *fakeObserver) NewMessageSince(t time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, msg := range f.history {
		if msg.Time.After(t) {
			return true
		}
	}

	return false
}

func (f *fakeObserver) SetWaitStart(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.waitStart = t
}

func (f *fakeObserver) Push(msg model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pushed = append(f.pushed, msg)
}

func (f *fakeObserver) Record(msg model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.recorded = append(f.recorded, msg)
	f.history = append(f.history, msg)
}

func (f *fakeObserver) Subscribe(fn func(model.Notification)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribers = append(f.subscribers, fn)
}

func (f *fakeObserver) add(msg model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.history = append(f.history, msg)
}

func (f *fakeObserver) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.stopCalls
}

func (f *fakeObserver) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.refreshes
}

func (f *fakeObserver) recordedMessages() []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]model.Message, len(f.recorded))
	copy(result, f.recorded)

	return result
}

// fakeCompleter answers with responses in order and repeats the last one.
type fakeCompleter struct {
	mu        sync.Mutex
	responses []string
	err       error
	block     chan struct{}
	calls     int
	prompts   []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, _ ...llm.Option) (*llm.Completion, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	call := f.calls
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	if f.err != nil {
		return nil, f.err
	}

	if len(f.responses) == 0 {
		return &llm.Completion{}, nil
	}

	idx := min(call-1, len(f.responses)-1)

	return &llm.Completion{Content: f.responses[idx], Model: "fake"}, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func (f *fakeCompleter) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.prompts) == 0 {
		return ""
	}

	return f.prompts[len(f.prompts)-1]
}

type fakeGenerator struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []reply.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req reply.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}

	idx := min(len(f.requests)-1, len(f.replies)-1)

	return f.replies[idx], nil
}

type fakeChecker struct {
	mu       sync.Mutex
	verdicts []reply.Verdict
	err      error
	requests []reply.CheckRequest
}

func (f *fakeChecker) Check(_ context.Context, req reply.CheckRequest) (reply.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.err != nil {
		return reply.Verdict{}, f.err
	}
	if len(f.verdicts) == 0 {
		return reply.Verdict{Acceptable: true}, nil
	}

	idx := min(len(f.requests)-1, len(f.verdicts)-1)

	return f.verdicts[idx], nil
}

type fakeKnowledge struct {
	content string
	source  string
	err     error
}

func (f *fakeKnowledge) Fetch(context.Context, string, []model.Message) (string, string, error) {
	return f.content, f.source, f.err
}

type sentMessage struct {
	streamKey string
	content   string
	replyTo   *model.Message
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []sentMessage
}

func (f *fakeSender) Send(_ context.Context, streamKey, content string, replyTo *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.sent = append(f.sent, sentMessage{streamKey: streamKey, content: content, replyTo: replyTo})

	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]sentMessage, len(f.sent))
	copy(result, f.sent)

	return result
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []model.ActionEntry
}

func (f *fakeRecorder) RecordAction(_ context.Context, entry model.ActionEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = append(f.entries, entry)
}

type testEnv struct {
	observer  *fakeObserver
	planner   *fakeCompleter
	goal      *fakeCompleter
	generator *fakeGenerator
	checker   *fakeChecker
	knowledge *fakeKnowledge
	sender    *fakeSender
	recorder  *fakeRecorder
	clock     *clock.Fake
}

func newTestEnv() *testEnv {
	return &testEnv{
		observer:  &fakeObserver{},
		planner:   &fakeCompleter{},
		goal:      &fakeCompleter{},
		generator: &fakeGenerator{replies: []string{"hello there"}},
		checker:   &fakeChecker{},
		knowledge: &fakeKnowledge{},
		sender:    &fakeSender{},
		recorder:  &fakeRecorder{},
		clock:     clock.NewFake(testStart),
	}
}

func (e *testEnv) deps() Deps {
	return Deps{
		Planner:   e.planner,
		Goal:      e.goal,
		Generator: e.generator,
		Checker:   e.checker,
		Knowledge: e.knowledge,
		Sender:    e.sender,
		Recorder:  e.recorder,
		NewObserver: func(string) (Observer, error) {
			return e.observer, nil
		},
		Clock: e.clock,
	}
}

func (e *testEnv) conversation(cfg config.Conversation) *Conversation {
	return newConversation("http:test", cfg, e.deps(), nil, e.observer)
}

func userMessage(id string, at time.Time, text string) model.Message {
	return model.Message{
		ID:        id,
		StreamKey: "http:test",
		Time:      at,
		UserID:    "user-1",
		Nickname:  "alice",
		Text:      text,
	}
}

func newMessageNotification(msg model.Message) model.Notification {
	return model.Notification{
		Type:      model.NotificationNewMessage,
		StreamKey: msg.StreamKey,
		Time:      msg.Time,
		Data:      msg,
	}
}
