package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/ghost-puppet/internal/command"
	"github.com/sjawhar/ghost-puppet/internal/scene"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

// Broadcast drops the message for clients whose buffer is full.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastCommand(ev command.Event) {
	h.broadcastEvent(CommandEvent{
		Event:      newEvent("command", time.Now().UTC()),
		Command:    string(ev.Command),
		SourceText: ev.SourceText,
	})
}

// BroadcastAnimation tells every page to play a clip on the character.
func (h *Hub) BroadcastAnimation(a scene.Animation) {
	h.broadcastEvent(AnimationEvent{
		Event:      newEvent("animation", time.Now().UTC()),
		Name:       a.Name,
		Command:    string(a.Command),
		DurationMS: a.Duration.Milliseconds(),
	})
}

func (h *Hub) BroadcastAssistantReply(prompt, reply string) {
	h.broadcastEvent(AssistantReplyEvent{
		Event:  newEvent("assistant_reply", time.Now().UTC()),
		Prompt: prompt,
		Text:   reply,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := marshalEvent(event)
	if err != nil {
		return
	}
	h.Broadcast(payload)
}

func marshalEvent(event any) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("event marshal error", "error", err)
		return nil, err
	}
	return payload, nil
}
