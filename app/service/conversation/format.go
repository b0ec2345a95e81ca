package conversation

import (
	"fmt"
	"strings"
	"time"
)

func formatDecisionInfo(info DecisionSnapshot, now time.Time) string {
	var builder strings.Builder

	builder.WriteString("Conversation status:\n")

	if info.IsColdChat {
		builder.WriteString(fmt.Sprintf("The chat has been silent for %d seconds\n", int(info.ColdChatDuration.Seconds())))
	}
	if info.NewMessagesCount > 0 {
		builder.WriteString(fmt.Sprintf("There are %d new unprocessed messages\n", info.NewMessagesCount))
	}
	if d, ok := info.UserResponseTime(now); ok {
		builder.WriteString(fmt.Sprintf("%d seconds passed since the other side last spoke\n", int(d.Seconds())))
	}
	if d, ok := info.BotResponseTime(now); ok {
		builder.WriteString(fmt.Sprintf("%d seconds passed since you last spoke\n", int(d.Seconds())))
	}
	if len(info.ActiveUsers) > 0 {
		builder.WriteString(fmt.Sprintf("Active users: %d\n", len(info.ActiveUsers)))
	}

	return builder.String()
}

func personalityText(botName, personality string) string {
	if personality == "" {
		return fmt.Sprintf("Your name is %s.", botName)
	}

	return fmt.Sprintf("Your name is %s. %s", botName, personality)
}
