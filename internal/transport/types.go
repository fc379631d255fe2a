package transport

import (
	"context"
	"time"
)

// Event is one observed post in a monitored thread.
type Event struct {
	ThreadID string
	Author   string
	Time     time.Time // UTC
	UpdateID int64
}

// Batch is the result of one fetch.
//
// HighWater is the highest update id the source consumed, including updates
// that were filtered out (other chats, unmonitored topics, bots). It lets the
// cursor move past irrelevant traffic so it is never fetched again.
type Batch struct {
	Events    []Event
	HighWater int64
}

// ChatTarget addresses a forum topic inside a chat.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// EventSource yields events with update ids strictly greater than after.
// An empty batch is a valid result.
type EventSource interface {
	FetchEvents(ctx context.Context, after int64) (Batch, error)
}

// AlertSink delivers a plain text message to a topic.
type AlertSink interface {
	SendText(ctx context.Context, to ChatTarget, text string) error
}
