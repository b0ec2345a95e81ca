package model

import (
	"fmt"
	"strings"
	"time"
)

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return t.Format("15:04:05")
}

// FormatHistory renders messages one per line for prompts; botID lines are shown as "You".
func FormatHistory(messages []Message, botID string) string {
	if len(messages) == 0 {
		return "No recent messages"
	}

	var builder strings.Builder

	for _, msg := range messages {
		sender := msg.Nickname
		if sender == "" {
			sender = "user " + msg.UserID
		}
		if msg.UserID == botID {
			sender = "You"
		}

		builder.WriteString(fmt.Sprintf("%s, %s: %s\n", FormatTime(msg.Time), sender, msg.Text))
	}

	return builder.String()
}
