package deepgram

import (
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/sjawhar/ghost-puppet/internal/recognition"
)

// callback adapts Deepgram websocket messages to recognition.Events.
type callback struct {
	session *session
}

func (c callback) Open(*api.OpenResponse) error {
	c.session.platform.logger.Info("connected to Deepgram")
	c.session.events.OnStart()
	return nil
}

func (c callback) Message(mr *api.MessageResponse) error {
	batch, ok := batchFromMessage(mr)
	if !ok {
		return nil
	}
	c.session.events.OnResult(batch)

	if !c.session.cfg.Continuous && mr.IsFinal {
		go c.session.finish()
	}
	return nil
}

func (c callback) Metadata(*api.MetadataResponse) error { return nil }

func (c callback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c callback) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (c callback) Close(*api.CloseResponse) error {
	c.session.platform.logger.Info("disconnected from Deepgram")
	go c.session.finish()
	return nil
}

func (c callback) Error(er *api.ErrorResponse) error {
	c.session.platform.logger.Warn("deepgram error", "code", er.ErrCode, "description", er.Description)
	c.session.events.OnError(recognition.Error{
		Kind:    classifyError(er.ErrCode, er.Description),
		Message: er.Description,
	})
	return nil
}

func (c callback) UnhandledEvent([]byte) error { return nil }

// batchFromMessage turns one transcript message into a single-segment batch.
// Empty transcripts, which Deepgram emits during silence, are dropped.
func batchFromMessage(mr *api.MessageResponse) (recognition.Batch, bool) {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return recognition.Batch{}, false
	}
	text := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if text == "" {
		return recognition.Batch{}, false
	}
	return recognition.Batch{Segments: []recognition.Segment{{Text: text, Final: mr.IsFinal}}}, true
}

func classifyError(code, description string) recognition.ErrorKind {
	probe := strings.ToLower(code + " " + description)

	for _, marker := range []string{"auth", "401", "403", "forbidden", "permission", "credential", "api key"} {
		if strings.Contains(probe, marker) {
			return recognition.ErrorNotAllowed
		}
	}
	for _, marker := range []string{"network", "timeout", "connect", "dial", "eof", "websocket", "net0"} {
		if strings.Contains(probe, marker) {
			return recognition.ErrorNetwork
		}
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return "unknown"
	}
	return recognition.ErrorKind(strings.ToLower(code))
}
