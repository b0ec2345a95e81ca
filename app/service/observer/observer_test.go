package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"prefrontal/app/model"
	"prefrontal/app/util/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type memoryArchive struct {
	mu       sync.Mutex
	messages []model.Message
	err      error
}

func (a *memoryArchive) Append(msgs ...model.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return a.err
	}
	a.messages = append(a.messages, msgs...)

	return nil
}

func (a *memoryArchive) Recent(_ string, n int) ([]model.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return nil, a.err
	}

	msgs := a.messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}

	return append([]model.Message(nil), msgs...), nil
}

type notificationLog struct {
	mu    sync.Mutex
	items []model.Notification
}

func (l *notificationLog) add(n model.Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = append(l.items, n)
}

func (l *notificationLog) list() []model.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]model.Notification(nil), l.items...)
}

func testSettings() Settings {
	return Settings{
		BotID:         "bot",
		HistorySize:   5,
		ColdChatAfter: time.Minute,
		PollInterval:  time.Hour,
	}
}

func newTestObserver(t *testing.T, archive *memoryArchive) (*Observer, *clock.Fake, *notificationLog) {
	t.Helper()

	clk := clock.NewFake(testStart)
	svc := NewService(testSettings(), archive, clk)

	o, err := svc.New("http:test")
	require.NoError(t, err)

	log := &notificationLog{}
	o.Subscribe(log.add)

	return o, clk, log
}

func chatMessage(id, user string, at time.Time) model.Message {
	return model.Message{ID: id, UserID: user, Nickname: user, Time: at, Text: "hi " + id}
}

func TestServiceRejectsMalformedKey(t *testing.T) {
	svc := NewService(testSettings(), &memoryArchive{}, clock.NewFake(testStart))

	_, err := svc.New("no-platform")
	assert.Error(t, err)
}

func TestRefreshFoldsPendingMessages(t *testing.T) {
	archive := &memoryArchive{}
	o, _, log := newTestObserver(t, archive)

	o.Push(chatMessage("1", "alice", testStart.Add(time.Second)))
	o.Record(chatMessage("2", "bot", testStart.Add(2*time.Second)))

	assert.Empty(t, o.History(0))

	o.refresh()

	history := o.History(0)
	require.Len(t, history, 2)
	assert.Equal(t, "http:test", history[0].StreamKey)
	assert.Len(t, archive.messages, 2)

	notifications := log.list()
	require.Len(t, notifications, 2)
	assert.Equal(t, model.NotificationNewMessage, notifications[0].Type)
	assert.Equal(t, "1", notifications[0].Data.(model.Message).ID)
}

func TestHistoryIsBounded(t *testing.T) {
	o, _, _ := newTestObserver(t, &memoryArchive{})

	for i := range 8 {
		o.Push(chatMessage(string(rune('a'+i)), "alice", testStart.Add(time.Duration(i)*time.Second)))
	}
	o.refresh()

	history := o.History(0)
	require.Len(t, history, 5)
	assert.Equal(t, "d", history[0].ID)
	assert.Len(t, o.History(2), 2)
}

func TestColdChatDetection(t *testing.T) {
	o, clk, log := newTestObserver(t, &memoryArchive{})
	o.lastActivity = testStart

	clk.Advance(30 * time.Second)
	o.refresh()
	assert.Empty(t, log.list())

	clk.Advance(31 * time.Second)
	o.refresh()
	o.refresh()

	notifications := log.list()
	require.Len(t, notifications, 1)
	assert.Equal(t, model.NotificationColdChat, notifications[0].Type)
	assert.True(t, notifications[0].Data.(model.ColdChat).IsCold)

	o.Push(chatMessage("1", "alice", clk.Now()))
	o.refresh()

	notifications = log.list()
	require.Len(t, notifications, 3)
	assert.False(t, notifications[1].Data.(model.ColdChat).IsCold)
	assert.Equal(t, model.NotificationNewMessage, notifications[2].Type)
}

func TestNewMessageSinceIgnoresBot(t *testing.T) {
	o, _, _ := newTestObserver(t, &memoryArchive{})

	o.Push(chatMessage("1", "alice", testStart))
	o.Record(chatMessage("2", "bot", testStart.Add(10*time.Second)))
	o.refresh()

	assert.False(t, o.NewMessageSince(testStart.Add(5*time.Second)))
	assert.True(t, o.NewMessageSince(testStart.Add(-time.Second)))

	o.Push(chatMessage("3", "alice", testStart.Add(20*time.Second)))
	o.refresh()

	assert.True(t, o.NewMessageSince(testStart.Add(5*time.Second)))
}

func TestArchiveFailureKeepsHistory(t *testing.T) {
	archive := &memoryArchive{err: errors.New("disk full")}
	o, _, log := newTestObserver(t, archive)

	o.Push(chatMessage("1", "alice", testStart))
	o.refresh()

	assert.Len(t, o.History(0), 1)
	assert.Len(t, log.list(), 1)
}

func TestStartSeedsFromArchiveAndRefreshes(t *testing.T) {
	archive := &memoryArchive{}
	require.NoError(t, archive.Append(
		model.Message{ID: "old", StreamKey: "http:test", UserID: "alice", Time: testStart.Add(-time.Minute)},
	))

	o, _, log := newTestObserver(t, archive)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Start(ctx))

	history := o.History(0)
	require.Len(t, history, 1)
	assert.Equal(t, "old", history[0].ID)

	awaited := make(chan bool, 1)
	go func() {
		awaited <- o.AwaitRefresh(ctx)
	}()

	require.Eventually(t, func() bool {
		o.Push(chatMessage("new", "alice", testStart.Add(time.Second)))
		select {
		case ok := <-awaited:
			return ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(log.list()) > 0
	}, time.Second, 10*time.Millisecond)

	o.Stop()
	o.Stop()

	assert.False(t, o.AwaitRefresh(ctx))
}

func TestStopArchivesPending(t *testing.T) {
	archive := &memoryArchive{}
	o, _, _ := newTestObserver(t, archive)

	require.NoError(t, o.Start(context.Background()))

	o.Record(chatMessage("farewell", "bot", testStart))
	o.Stop()

	archive.mu.Lock()
	defer archive.mu.Unlock()

	require.Len(t, archive.messages, 1)
	assert.Equal(t, "farewell", archive.messages[0].ID)
}

func TestStartAfterStopIsNoop(t *testing.T) {
	archive := &memoryArchive{}
	o, _, _ := newTestObserver(t, archive)

	o.Stop()
	require.NoError(t, o.Start(context.Background()))

	o.Record(chatMessage("late", "alice", testStart))
	o.Stop()

	assert.Empty(t, archive.messages)
}

func TestStopWithoutStart(t *testing.T) {
	o, _, _ := newTestObserver(t, &memoryArchive{})

	o.Stop()

	assert.False(t, o.AwaitRefresh(context.Background()))
}
