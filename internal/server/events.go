package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

type StatusEvent struct {
	Event
	Text  string `json:"text"`
	Color string `json:"color"`
}

type TranscriptEvent struct {
	Event
	Final       string `json:"final"`
	Interim     string `json:"interim"`
	Notice      string `json:"notice,omitempty"`
	NoticeColor string `json:"notice_color,omitempty"`
}

type ToggleEvent struct {
	Event
	Label   string `json:"label"`
	Color   string `json:"color"`
	Enabled bool   `json:"enabled"`
}

type AlertEvent struct {
	Event
	Message string `json:"message"`
}

type CommandEvent struct {
	Event
	Command    string `json:"command"`
	SourceText string `json:"source_text"`
}

type AnimationEvent struct {
	Event
	Name       string `json:"name"`
	Command    string `json:"command"`
	DurationMS int64  `json:"duration_ms"`
}

type AssistantReplyEvent struct {
	Event
	Prompt string `json:"prompt"`
	Text   string `json:"text"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
