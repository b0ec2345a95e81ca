package conversation

import (
	"sync"
	"time"

	"prefrontal/app/model"

	"github.com/elliotchance/pie/v2"
)

// DecisionSnapshot is a point-in-time copy of DecisionInfo.
type DecisionSnapshot struct {
	LastMessageTime     time.Time       `json:"last_message_time"`
	LastMessageContent  string          `json:"last_message_content"`
	LastMessageSender   string          `json:"last_message_sender"`
	NewMessagesCount    int             `json:"new_messages_count"`
	UnprocessedMessages []model.Message `json:"unprocessed_messages"`
	IsColdChat          bool            `json:"is_cold_chat"`
	ColdChatDuration    time.Duration   `json:"cold_chat_duration"`
	LastBotSpeakTime    time.Time       `json:"last_bot_speak_time"`
	LastUserSpeakTime   time.Time       `json:"last_user_speak_time"`
	ActiveUsers         []string        `json:"active_users"`
}

// ActiveDuration is the time since the last message of anyone.
func (s DecisionSnapshot) ActiveDuration(now time.Time) (time.Duration, bool) {
	return since(now, s.LastMessageTime)
}

// UserResponseTime is the time since a user last spoke.
func (s DecisionSnapshot) UserResponseTime(now time.Time) (time.Duration, bool) {
	return since(now, s.LastUserSpeakTime)
}

// BotResponseTime is the time since the bot last spoke.
func (s DecisionSnapshot) BotResponseTime(now time.Time) (time.Duration, bool) {
	return since(now, s.LastBotSpeakTime)
}

func since(now, t time.Time) (time.Duration, bool) {
	if t.IsZero() {
		return 0, false
	}

	return now.Sub(t), true
}

// DecisionInfo aggregates conversational signals for the planner.
// The notification handler writes it, the decision loop reads and clears it.
type DecisionInfo struct {
	mu    sync.Mutex
	botID string

	lastMessageTime     time.Time
	lastMessageContent  string
	lastMessageSender   string
	newMessagesCount    int
	unprocessedMessages []model.Message
	isColdChat          bool
	coldChatDuration    time.Duration
	lastBotSpeakTime    time.Time
	lastUserSpeakTime   time.Time
	activeUsers         map[string]struct{}
}

func NewDecisionInfo(botID string) *DecisionInfo {
	return &DecisionInfo{
		botID:       botID,
		activeUsers: make(map[string]struct{}),
	}
}

func (d *DecisionInfo) UpdateFromMessage(msg model.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastMessageTime = msg.Time
	d.lastMessageContent = msg.Text
	d.lastMessageSender = msg.UserID

	if msg.UserID == d.botID {
		d.lastBotSpeakTime = msg.Time
	} else {
		d.lastUserSpeakTime = msg.Time
		d.activeUsers[msg.UserID] = struct{}{}
	}

	d.newMessagesCount++
	d.unprocessedMessages = append(d.unprocessedMessages, msg)
}

// UpdateColdChatStatus sets the cold flag. The duration is only recomputed
// when the chat turns cold and a message was ever seen.
func (d *DecisionInfo) UpdateColdChatStatus(isCold bool, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.isColdChat = isCold
	if isCold && !d.lastMessageTime.IsZero() {
		d.coldChatDuration = now.Sub(d.lastMessageTime)
	}
}

func (d *DecisionInfo) ClearUnprocessedMessages() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.unprocessedMessages = nil
	d.newMessagesCount = 0
}

func (d *DecisionInfo) Snapshot() DecisionSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	unprocessed := make([]model.Message, len(d.unprocessedMessages))
	copy(unprocessed, d.unprocessedMessages)

	return DecisionSnapshot{
		LastMessageTime:     d.lastMessageTime,
		LastMessageContent:  d.lastMessageContent,
		LastMessageSender:   d.lastMessageSender,
		NewMessagesCount:    d.newMessagesCount,
		UnprocessedMessages: unprocessed,
		IsColdChat:          d.isColdChat,
		ColdChatDuration:    d.coldChatDuration,
		LastBotSpeakTime:    d.lastBotSpeakTime,
		LastUserSpeakTime:   d.lastUserSpeakTime,
		ActiveUsers:         pie.Sort(pie.Keys(d.activeUsers)),
	}
}
