package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	PlatformTwitch = "twitch"
	PlatformHTTP   = "http"
	PlatformNATS   = "nats"
)

// Message is one chat line observed in a stream, including the bot's own lines.
type Message struct {
	ID        string    `json:"id"`
	StreamKey string    `json:"stream_key"`
	Time      time.Time `json:"time"`
	UserID    string    `json:"user_id"`
	Nickname  string    `json:"nickname"`
	Text      string    `json:"text"`
	ReplyToID string    `json:"reply_to_id,omitempty"`
}

// StreamKey builds the "<platform>:<channel>" identifier of a chat stream.
func StreamKey(platform, channel string) string {
	return platform + ":" + channel
}

// ParseStreamKey splits a stream key into platform and channel.
func ParseStreamKey(key string) (platform, channel string, err error) {
	platform, channel, ok := strings.Cut(key, ":")
	if !ok || platform == "" || channel == "" {
		return "", "", fmt.Errorf("malformed stream key %q", key)
	}

	return platform, channel, nil
}
