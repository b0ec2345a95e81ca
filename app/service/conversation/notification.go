package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"prefrontal/app/model"
	"prefrontal/app/util/clock"
	"prefrontal/app/util/metrics"

	"github.com/go-playground/validator/v10"
)

var (
	errNilNotification = errors.New("notification or its data is nil")
	errUnknownType     = errors.New("unknown notification type")
)

type HandleResult struct {
	Outcome Outcome
	Err     error
}

type messagePayload struct {
	Time   time.Time `validate:"required"`
	UserID string    `validate:"required"`
}

// NotificationHandler folds pushed events into DecisionInfo.
// It never panics and never returns an error to the caller: failures are
// logged and reported as a fallback result.
type NotificationHandler struct {
	info     *DecisionInfo
	observer Observer
	clock    clock.Clock
	validate *validator.Validate
}

func NewNotificationHandler(info *DecisionInfo, observer Observer, clk clock.Clock) *NotificationHandler {
	return &NotificationHandler{
		info:     info,
		observer: observer,
		clock:    clk,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *NotificationHandler) Handle(n *model.Notification) (result HandleResult) {
	defer func() {
		if r := recover(); r != nil {
			result = HandleResult{Outcome: OutcomeFallback, Err: fmt.Errorf("panic: %v", r)}
		}

		notificationType := "invalid"
		if n != nil {
			notificationType = string(n.Type)
		}

		if result.Err != nil {
			slog.Warn("Failed to handle notification",
				"type", notificationType,
				"error", result.Err,
			)
		}

		metrics.NotificationsTotal.WithLabelValues(notificationType, result.Outcome.String()).Inc()
	}()

	if n == nil || n.Data == nil {
		return HandleResult{Outcome: OutcomeFallback, Err: errNilNotification}
	}

	switch n.Type {
	case model.NotificationNewMessage:
		return h.handleNewMessage(n)
	case model.NotificationColdChat:
		return h.handleColdChat(n)
	default:
		return HandleResult{Outcome: OutcomeFallback, Err: fmt.Errorf("%w: %s", errUnknownType, n.Type)}
	}
}

func (h *NotificationHandler) handleNewMessage(n *model.Notification) HandleResult {
	msg, err := messageFromData(n.Data)
	if err != nil {
		return HandleResult{Outcome: OutcomeFallback, Err: err}
	}

	if err = h.validate.Struct(messagePayload{Time: msg.Time, UserID: msg.UserID}); err != nil {
		return HandleResult{Outcome: OutcomeFallback, Err: fmt.Errorf("invalid message payload: %w", err)}
	}

	slog.Debug("New message notification",
		"user_id", msg.UserID,
		"text", msg.Text,
	)

	h.info.UpdateFromMessage(msg)
	h.observer.TriggerRefresh()

	return HandleResult{Outcome: OutcomeOK}
}

func (h *NotificationHandler) handleColdChat(n *model.Notification) HandleResult {
	var isCold bool

	switch data := n.Data.(type) {
	case model.ColdChat:
		isCold = data.IsCold
	case *model.ColdChat:
		isCold = data.IsCold
	case map[string]any:
		value, ok := data["is_cold"]
		if ok {
			isCold, ok = value.(bool)
			if !ok {
				return HandleResult{Outcome: OutcomeFallback, Err: fmt.Errorf("is_cold is %T, not bool", value)}
			}
		}
	default:
		return HandleResult{Outcome: OutcomeFallback, Err: fmt.Errorf("unexpected cold chat payload %T", n.Data)}
	}

	now := n.Time
	if now.IsZero() {
		now = h.clock.Now()
	}

	h.info.UpdateColdChatStatus(isCold, now)

	if isCold {
		slog.Info("Chat went cold")
	} else {
		slog.Info("Chat is active again")
	}

	return HandleResult{Outcome: OutcomeOK}
}

func messageFromData(data any) (model.Message, error) {
	switch v := data.(type) {
	case model.Message:
		return v, nil
	case *model.Message:
		return *v, nil
	case map[string]any:
		return messageFromMap(v)
	default:
		return model.Message{}, fmt.Errorf("unexpected message payload %T", data)
	}
}

func messageFromMap(data map[string]any) (model.Message, error) {
	msg := model.Message{
		ID:        stringField(data, "id"),
		StreamKey: stringField(data, "stream_key"),
		UserID:    stringField(data, "user_id"),
		Nickname:  stringField(data, "nickname"),
		Text:      stringField(data, "text"),
		ReplyToID: stringField(data, "reply_to_id"),
	}

	switch t := data["time"].(type) {
	case nil:
	case time.Time:
		msg.Time = t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return model.Message{}, fmt.Errorf("failed to parse message time: %w", err)
		}
		msg.Time = parsed
	case float64:
		msg.Time = time.UnixMilli(int64(t * 1000))
	case int64:
		msg.Time = time.Unix(t, 0)
	case int:
		msg.Time = time.Unix(int64(t), 0)
	default:
		return model.Message{}, fmt.Errorf("unexpected message time %T", t)
	}

	return msg, nil
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}
