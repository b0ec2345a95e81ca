package observer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"prefrontal/app/model"
	"prefrontal/app/util/clock"
)

// Observer keeps the message history of one stream. Pushed and recorded
// messages stay pending until the next refresh folds them into the history,
// archives them and notifies subscribers.
type Observer struct {
	key      string
	settings Settings
	archive  Archive
	clock    clock.Clock

	trigger chan struct{}
	stopCh  chan struct{}
	done    chan struct{}

	mu           sync.Mutex
	history      []model.Message
	pending      []model.Message
	subscribers  []func(model.Notification)
	refreshed    chan struct{}
	waitStart    time.Time
	lastActivity time.Time
	cold         bool
	started      bool

	stopOnce sync.Once
}

func newObserver(key string, settings Settings, archive Archive, clk clock.Clock) *Observer {
	return &Observer{
		key:       key,
		settings:  settings,
		archive:   archive,
		clock:     clk,
		trigger:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		refreshed: make(chan struct{}),
	}
}

// Start seeds the history from the archive and launches the refresh goroutine.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	select {
	case <-o.stopCh:
		o.mu.Unlock()
		return nil
	default:
	}
	o.started = true
	o.mu.Unlock()

	seed, err := o.archive.Recent(o.key, o.settings.HistorySize)
	if err != nil {
		slog.Warn("Failed to load archived history",
			"stream", o.key,
			"error", err,
		)
	}

	o.mu.Lock()
	o.history = append(seed, o.history...)
	o.trimHistory()
	o.lastActivity = o.clock.Now()
	if len(o.history) > 0 {
		o.lastActivity = o.history[len(o.history)-1].Time
	}
	o.mu.Unlock()

	slog.Debug("Observer started",
		"stream", o.key,
		"seeded", len(seed),
	)

	go o.run(ctx)

	return nil
}

func (o *Observer) run(ctx context.Context) {
	defer close(o.done)

	ticker := time.NewTicker(o.settings.PollInterval)
	defer ticker.Stop()

	defer o.flush()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-o.trigger:
			o.refresh()
		case <-ticker.C:
			o.refresh()
		}
	}
}

// refresh folds pending messages into the history and notifies subscribers.
func (o *Observer) refresh() {
	now := o.clock.Now()

	o.mu.Lock()
	pending := o.pending
	o.pending = nil

	o.history = append(o.history, pending...)
	o.trimHistory()

	var notifications []model.Notification

	if len(pending) > 0 {
		o.lastActivity = pending[len(pending)-1].Time

		if o.cold {
			o.cold = false
			notifications = append(notifications, o.coldNotification(false, now))
		}
	} else if !o.cold && o.settings.ColdChatAfter > 0 && now.Sub(o.lastActivity) >= o.settings.ColdChatAfter {
		o.cold = true
		notifications = append(notifications, o.coldNotification(true, now))
	}

	for _, msg := range pending {
		notifications = append(notifications, model.Notification{
			Type:      model.NotificationNewMessage,
			StreamKey: o.key,
			Time:      msg.Time,
			Data:      msg,
		})
	}

	subscribers := make([]func(model.Notification), len(o.subscribers))
	copy(subscribers, o.subscribers)

	close(o.refreshed)
	o.refreshed = make(chan struct{})
	o.mu.Unlock()

	if len(pending) > 0 {
		if err := o.archive.Append(pending...); err != nil {
			slog.Error("Failed to archive messages",
				"stream", o.key,
				"count", len(pending),
				"error", err,
			)
		}
	}

	for _, n := range notifications {
		for _, fn := range subscribers {
			fn(n)
		}
	}
}

// flush archives messages still pending when the observer stops.
func (o *Observer) flush() {
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	if err := o.archive.Append(pending...); err != nil {
		slog.Error("Failed to archive pending messages",
			"stream", o.key,
			"count", len(pending),
			"error", err,
		)
	}
}

func (o *Observer) coldNotification(isCold bool, now time.Time) model.Notification {
	return model.Notification{
		Type:      model.NotificationColdChat,
		StreamKey: o.key,
		Time:      now,
		Data:      model.ColdChat{IsCold: isCold},
	}
}

// trimHistory must be called with mu held.
func (o *Observer) trimHistory() {
	if size := o.settings.HistorySize; size > 0 && len(o.history) > size {
		o.history = append([]model.Message(nil), o.history[len(o.history)-size:]...)
	}
}

// Stop halts the refresh goroutine and waits for it. Safe to call more than once.
func (o *Observer) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
	})

	o.mu.Lock()
	started := o.started
	o.mu.Unlock()

	if started {
		<-o.done
	}
}

func (o *Observer) History(limit int) []model.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	messages := o.history
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	result := make([]model.Message, len(messages))
	copy(result, messages)

	return result
}

func (o *Observer) TriggerRefresh() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

func (o *Observer) AwaitRefresh(ctx context.Context) bool {
	o.mu.Lock()
	refreshed := o.refreshed
	o.mu.Unlock()

	select {
	case <-refreshed:
		return true
	case <-ctx.Done():
		return false
	case <-o.stopCh:
		return false
	}
}

// NewMessageSince reports whether someone other than the bot spoke after t.
func (o *Observer) NewMessageSince(t time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := len(o.history) - 1; i >= 0; i-- {
		msg := o.history[i]
		if !msg.Time.After(t) {
			return false
		}
		if msg.UserID != o.settings.BotID {
			return true
		}
	}

	return false
}

func (o *Observer) SetWaitStart(t time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.waitStart = t
}

func (o *Observer) WaitStart() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.waitStart
}

func (o *Observer) Push(msg model.Message) {
	o.enqueue(msg)
	o.TriggerRefresh()
}

func (o *Observer) Record(msg model.Message) {
	o.enqueue(msg)
}

func (o *Observer) enqueue(msg model.Message) {
	if msg.StreamKey == "" {
		msg.StreamKey = o.key
	}
	if msg.Time.IsZero() {
		msg.Time = o.clock.Now()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending = append(o.pending, msg)
}

func (o *Observer) Subscribe(fn func(model.Notification)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.subscribers = append(o.subscribers, fn)
}
