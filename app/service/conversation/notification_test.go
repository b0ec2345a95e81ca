package conversation

import (
	"testing"
	"time"

	"prefrontal/app/model"
	"prefrontal/app/util/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler() (*NotificationHandler, *DecisionInfo, *fakeObserver) {
	info := NewDecisionInfo("bot")
	observer := &fakeObserver{}

	return NewNotificationHandler(info, observer, clock.NewFake(testStart)), info, observer
}

func TestNotificationHandler_DropsInvalid(t *testing.T) {
	h, info, observer := newTestHandler()

	result := h.Handle(nil)
	assert.Equal(t, OutcomeFallback, result.Outcome)
	assert.ErrorIs(t, result.Err, errNilNotification)

	result = h.Handle(&model.Notification{Type: model.NotificationNewMessage, Data: nil})
	assert.Equal(t, OutcomeFallback, result.Outcome)
	assert.ErrorIs(t, result.Err, errNilNotification)

	result = h.Handle(&model.Notification{Type: "mystery", Data: map[string]any{}})
	assert.ErrorIs(t, result.Err, errUnknownType)

	snap := info.Snapshot()
	assert.Zero(t, snap.NewMessagesCount)
	assert.Empty(t, snap.ActiveUsers)
	assert.True(t, snap.LastMessageTime.IsZero())
	assert.Zero(t, observer.refreshCount())
}

func TestNotificationHandler_NewMessage(t *testing.T) {
	tests := []struct {
		name string
		data any
	}{
		{"value", userMessage("1", testStart, "hi")},
		{"pointer", func() *model.Message { m := userMessage("1", testStart, "hi"); return &m }()},
		{"map", map[string]any{
			"id":       "1",
			"time":     testStart.Format(time.RFC3339Nano),
			"user_id":  "user-1",
			"nickname": "alice",
			"text":     "hi",
		}},
		{"map with unix time", map[string]any{
			"time":    float64(testStart.Unix()),
			"user_id": "user-1",
			"text":    "hi",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, info, observer := newTestHandler()

			result := h.Handle(&model.Notification{Type: model.NotificationNewMessage, Data: tt.data})

			require.NoError(t, result.Err)
			assert.Equal(t, OutcomeOK, result.Outcome)

			snap := info.Snapshot()
			assert.Equal(t, 1, snap.NewMessagesCount)
			assert.Equal(t, "hi", snap.LastMessageContent)
			assert.True(t, snap.LastMessageTime.Equal(testStart))
			assert.Equal(t, []string{"user-1"}, snap.ActiveUsers)
			assert.Equal(t, 1, observer.refreshCount())
		})
	}
}

func TestNotificationHandler_MalformedMessage(t *testing.T) {
	tests := []struct {
		name string
		data any
	}{
		{"missing user", map[string]any{"time": testStart.Format(time.RFC3339), "text": "hi"}},
		{"missing time", map[string]any{"user_id": "u", "text": "hi"}},
		{"bad time", map[string]any{"user_id": "u", "time": "yesterday"}},
		{"wrong type", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, info, observer := newTestHandler()

			result := h.Handle(&model.Notification{Type: model.NotificationNewMessage, Data: tt.data})

			assert.Equal(t, OutcomeFallback, result.Outcome)
			assert.Error(t, result.Err)
			assert.Zero(t, info.Snapshot().NewMessagesCount)
			assert.Zero(t, observer.refreshCount())
		})
	}
}

func TestNotificationHandler_ColdChat(t *testing.T) {
	h, info, _ := newTestHandler()
	info.UpdateFromMessage(userMessage("1", testStart, "hi"))

	result := h.Handle(&model.Notification{
		Type: model.NotificationColdChat,
		Time: testStart.Add(2 * time.Minute),
		Data: map[string]any{"is_cold": true},
	})
	require.NoError(t, result.Err)

	snap := info.Snapshot()
	assert.True(t, snap.IsColdChat)
	assert.Equal(t, 2*time.Minute, snap.ColdChatDuration)

	result = h.Handle(&model.Notification{Type: model.NotificationColdChat, Data: model.ColdChat{IsCold: false}})
	require.NoError(t, result.Err)
	assert.False(t, info.Snapshot().IsColdChat)

	result = h.Handle(&model.Notification{Type: model.NotificationColdChat, Data: map[string]any{"is_cold": "yes"}})
	assert.Equal(t, OutcomeFallback, result.Outcome)
	assert.False(t, info.Snapshot().IsColdChat)
}
