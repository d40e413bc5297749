package audio

import (
	"context"
	"io"
	"strings"
	"time"
)

// Streamer copies captured audio into a writer until it fails.
type Streamer interface {
	Stream(w io.Writer) error
}

// StreamWithRetry runs s.Stream, restarting after input overflows. It returns
// nil when ctx is done or the stream ends cleanly, and the stream error
// otherwise.
func StreamWithRetry(ctx context.Context, s Streamer, w io.Writer, wait func(time.Duration), logf func(string, ...any)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.Stream(w)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		if strings.Contains(strings.ToLower(err.Error()), "overflow") {
			logf("mic input overflow, restarting stream")
			wait(250 * time.Millisecond)
			continue
		}

		return err
	}
}
