package model

import "time"

// ActionEntry is one decision taken by a conversation loop.
type ActionEntry struct {
	StreamKey string    `json:"stream_key"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason"`
	Time      time.Time `json:"time"`
}
