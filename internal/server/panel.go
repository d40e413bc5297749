package server

import (
	"sync"
	"time"

	"github.com/sjawhar/ghost-puppet/internal/voice"
)

// Panel is the browser control panel seen from the voice controller. Every
// change is broadcast, and the latest status, transcript and toggle are kept
// so a page that connects later starts from the current state.
type Panel struct {
	hub *Hub

	mu         sync.Mutex
	status     StatusEvent
	transcript TranscriptEvent
	toggle     ToggleEvent
}

func NewPanel(hub *Hub) *Panel {
	now := time.Now().UTC()
	return &Panel{
		hub:    hub,
		status: StatusEvent{Event: newEvent("status", now), Text: voice.StatusIdle, Color: voice.ColorIdle},
		transcript: TranscriptEvent{
			Event:  newEvent("transcript", now),
			Notice: voice.TranscriptPlaceholder,
		},
		toggle: ToggleEvent{Event: newEvent("toggle", now), Label: voice.ToggleStart, Color: voice.ColorToggleStart, Enabled: true},
	}
}

func (p *Panel) SetStatus(text, color string) {
	p.mu.Lock()
	p.status.Event = newEvent("status", time.Now().UTC())
	p.status.Text = text
	if color != "" {
		p.status.Color = color
	}
	ev := p.status
	p.mu.Unlock()

	p.hub.broadcastEvent(ev)
}

func (p *Panel) SetTranscript(view voice.TranscriptView) {
	p.mu.Lock()
	p.transcript = TranscriptEvent{
		Event:       newEvent("transcript", time.Now().UTC()),
		Final:       view.Final,
		Interim:     view.Interim,
		Notice:      view.Notice,
		NoticeColor: view.NoticeColor,
	}
	ev := p.transcript
	p.mu.Unlock()

	p.hub.broadcastEvent(ev)
}

func (p *Panel) SetToggle(label, color string, enabled bool) {
	p.mu.Lock()
	p.toggle.Event = newEvent("toggle", time.Now().UTC())
	p.toggle.Label = label
	if color != "" {
		p.toggle.Color = color
	}
	p.toggle.Enabled = enabled
	ev := p.toggle
	p.mu.Unlock()

	p.hub.broadcastEvent(ev)
}

// Alert is delivered to connected pages only. It is not replayed.
func (p *Panel) Alert(message string) {
	p.hub.broadcastEvent(AlertEvent{
		Event:   newEvent("alert", time.Now().UTC()),
		Message: message,
	})
}

// Snapshot returns the encoded status, transcript and toggle events.
func (p *Panel) Snapshot() [][]byte {
	p.mu.Lock()
	events := []any{p.status, p.transcript, p.toggle}
	p.mu.Unlock()

	out := make([][]byte, 0, len(events))
	for _, ev := range events {
		payload, err := marshalEvent(ev)
		if err != nil {
			continue
		}
		out = append(out, payload)
	}
	return out
}
