package conversation

import (
	"context"
	"time"

	"prefrontal/app/client/llm"
	"prefrontal/app/model"
	"prefrontal/app/service/reply"
	"prefrontal/app/util/clock"
)

type Completer interface {
	Complete(ctx context.Context, prompt string, opts ...llm.Option) (*llm.Completion, error)
}

// Observer watches one stream: it keeps the message history, folds pushed
// messages into it on refresh and emits notifications about them.
type Observer interface {
	Start(ctx context.Context) error
	Stop()
	// History returns up to limit most recent messages, oldest first. limit <= 0 means all.
	History(limit int) []model.Message
	TriggerRefresh()
	// AwaitRefresh blocks until the next refresh completes; false when ctx ends first.
	AwaitRefresh(ctx context.Context) bool
	NewMessageSince(t time.Time) bool
	SetWaitStart(t time.Time)
	// Push queues an inbound message.
	Push(msg model.Message)
	// Record queues a message the bot sent itself.
	Record(msg model.Message)
	Subscribe(fn func(model.Notification))
}

type ReplyGenerator interface {
	Generate(ctx context.Context, req reply.Request) (string, error)
}

type ReplyChecker interface {
	Check(ctx context.Context, req reply.CheckRequest) (reply.Verdict, error)
}

type KnowledgeFetcher interface {
	Fetch(ctx context.Context, goal string, history []model.Message) (content, source string, err error)
}

type Sender interface {
	Send(ctx context.Context, streamKey, content string, replyTo *model.Message) error
}

// Recorder receives every action a conversation takes.
type Recorder interface {
	RecordAction(ctx context.Context, entry model.ActionEntry)
}

type Deps struct {
	Planner     Completer
	Goal        Completer
	Generator   ReplyGenerator
	Checker     ReplyChecker
	Knowledge   KnowledgeFetcher
	Sender      Sender
	Recorder    Recorder
	NewObserver func(streamKey string) (Observer, error)
	Clock       clock.Clock
}
