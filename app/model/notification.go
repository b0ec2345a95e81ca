package model

import "time"

type NotificationType string

const (
	NotificationNewMessage NotificationType = "new_message"
	NotificationColdChat   NotificationType = "cold_chat"
)

// Notification is an event pushed into a conversation from the outside.
// For new_message Data holds a Message, *Message or a JSON-shaped map;
// for cold_chat it holds a ColdChat or a map with an "is_cold" key.
type Notification struct {
	Type      NotificationType `json:"type"`
	StreamKey string           `json:"stream_key"`
	Time      time.Time        `json:"time"`
	Data      any              `json:"data"`
}

type ColdChat struct {
	IsCold bool `json:"is_cold"`
}
