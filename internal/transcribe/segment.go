package transcribe

import (
	"fmt"
	"strings"
	"time"
)

// Segment is one final piece of recognized speech, as persisted and logged.
type Segment struct {
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSegment(sessionID, text string, at time.Time) Segment {
	return Segment{
		SessionID: sessionID,
		Text:      strings.TrimSpace(text),
		Timestamp: at,
	}
}

// FormatMarkdown renders the segment as one line of the daily transcript log.
func (s Segment) FormatMarkdown() string {
	ts := s.Timestamp.Format("15:04:05")
	return fmt.Sprintf("**[%s]** %s", ts, strings.TrimSpace(s.Text))
}

// JoinText concatenates the text of segments, one per line, skipping blanks.
func JoinText(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}
