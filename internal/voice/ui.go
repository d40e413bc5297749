package voice

import (
	"time"

	"github.com/sjawhar/ghost-puppet/internal/command"
	"github.com/sjawhar/ghost-puppet/internal/transcribe"
)

const (
	StatusIdle          = "🔴 Not listening"
	StatusListening     = "🟢 Listening..."
	StatusStopped       = "🔴 Stopped"
	StatusFailedToStart = "❌ Failed to start"
	StatusUnsupported   = "❌ Speech recognition not supported"
	StatusMicBlocked    = "❌ Microphone blocked. Allow mic access in browser settings."
	StatusNetworkError  = "❌ Network error"

	ToggleStart = "🎤 Start Listening"
	ToggleStop  = "🔴 Stop Listening"

	TranscriptPlaceholder = "Speech will appear here..."
	TranscriptListening   = "Listening for your voice..."
	TranscriptUnsupported = "Please use a supported microphone and speech service"

	MicBlockedAlert = "Microphone access was denied. Allow access, then press Start Listening to try again."
)

const (
	ColorIdle        = "rgba(255, 255, 255, 0.1)"
	ColorListening   = "rgba(76, 175, 80, 0.3)"
	ColorWarning     = "rgba(255, 152, 0, 0.3)"
	ColorFailure     = "rgba(255, 50, 50, 0.3)"
	ColorToggleStart = "#4CAF50"
	ColorToggleStop  = "#f44336"
	ColorNotice      = "#4CAF50"
	ColorNoticeError = "#ff5555"
)

// TranscriptView is what the transcript surface shows. Notice replaces the
// transcript text when set.
type TranscriptView struct {
	Final       string `json:"final"`
	Interim     string `json:"interim"`
	Notice      string `json:"notice,omitempty"`
	NoticeColor string `json:"notice_color,omitempty"`
}

// UI is the set of display surfaces the controller writes to. The caller owns
// them; the controller only changes text and colour. An empty colour leaves the
// current one in place.
type UI interface {
	SetStatus(text, color string)
	SetTranscript(view TranscriptView)
	SetToggle(label, color string, enabled bool)
	Alert(message string)
}

// CommandHandler receives every detected command. It runs on the recognition
// goroutine and must not block.
type CommandHandler func(ev command.Event)

// End reasons recorded when a listening period closes.
const (
	EndUserStopped      = "user_stopped"
	EndStartFailed      = "start_failed"
	EndPermissionDenied = "permission_denied"
	EndRestartFailed    = "restart_failed"
	EndRestartLimit     = "restart_limit"
)

// Store persists listening periods, final transcript segments and
// recognition errors.
type Store interface {
	CreateSession(id string, startedAt time.Time) error
	EndSession(id string, endedAt time.Time, reason string) error
	IncrementRestarts(id string) error
	AppendSegment(sessionID string, seg transcribe.Segment) error
	RecordError(sessionID, kind, message string, at time.Time) error
}

// TranscriptLog receives every final segment for the human-readable log.
type TranscriptLog interface {
	Append(seg transcribe.Segment) error
}
