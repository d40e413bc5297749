package voice

import "strings"

// transcriptBuffer accumulates final text for the current listening period.
// Each final segment is followed by a single space.
type transcriptBuffer struct {
	b strings.Builder
}

func (t *transcriptBuffer) Append(text string) {
	t.b.WriteString(text)
	t.b.WriteString(" ")
}

func (t *transcriptBuffer) String() string {
	return t.b.String()
}

func (t *transcriptBuffer) Reset() {
	t.b.Reset()
}
