package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatHistory(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 5, 0, time.UTC)

	result := FormatHistory([]Message{
		{UserID: "u1", Nickname: "alice", Time: at, Text: "hi"},
		{UserID: "u2", Time: at, Text: "hello"},
		{UserID: "bot", Nickname: "Bot", Time: at, Text: "hey"},
	}, "bot")

	assert.Equal(t, "12:30:05, alice: hi\n12:30:05, user u2: hello\n12:30:05, You: hey\n", result)
	assert.Equal(t, "No recent messages", FormatHistory(nil, "bot"))
	assert.Equal(t, "never", FormatTime(time.Time{}))
}

func TestParseStreamKey(t *testing.T) {
	platform, channel, err := ParseStreamKey(StreamKey(PlatformTwitch, "somechannel"))
	assert.NoError(t, err)
	assert.Equal(t, "twitch", platform)
	assert.Equal(t, "somechannel", channel)

	for _, key := range []string{"", "twitch", ":chan", "twitch:"} {
		_, _, err = ParseStreamKey(key)
		assert.Error(t, err, key)
	}
}
