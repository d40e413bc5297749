// Package recognition describes a live speech-to-text platform in terms of
// sessions and lifecycle events. A session reports start, zero or more result
// batches, zero or more errors, and exactly one end.
package recognition

import (
	"context"
	"errors"
)

var (
	// ErrUnsupported means the host offers no speech recognition capability.
	ErrUnsupported = errors.New("speech recognition not supported")
	// ErrAlreadyStarted is returned when Start is called on a running session.
	ErrAlreadyStarted = errors.New("recognition session already started")
)

// Config is applied to every session a platform creates.
type Config struct {
	Language        string
	Continuous      bool
	InterimResults  bool
	MaxAlternatives int
}

// DefaultConfig is continuous, interim-enabled, single-alternative en-US.
func DefaultConfig() Config {
	return Config{
		Language:        "en-US",
		Continuous:      true,
		InterimResults:  true,
		MaxAlternatives: 1,
	}
}

// Segment is one piece of recognized speech. Final segments are no longer
// subject to revision.
type Segment struct {
	Text  string
	Final bool
}

// Batch is the set of segments delivered by one result event.
type Batch struct {
	Segments []Segment
}

// ErrorKind classifies a platform error.
type ErrorKind string

const (
	ErrorNotAllowed        ErrorKind = "not-allowed"
	ErrorServiceNotAllowed ErrorKind = "service-not-allowed"
	ErrorNoSpeech          ErrorKind = "no-speech"
	ErrorNetwork           ErrorKind = "network"
	ErrorAudioCapture      ErrorKind = "audio-capture"
	ErrorAborted           ErrorKind = "aborted"
)

// PermissionDenied reports whether the kind ends the session for good.
func (k ErrorKind) PermissionDenied() bool {
	return k == ErrorNotAllowed || k == ErrorServiceNotAllowed
}

// Error is a platform-reported failure delivered through Events.OnError.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Events receives the lifecycle callbacks of one session.
type Events interface {
	OnStart()
	OnResult(batch Batch)
	OnError(err Error)
	OnEnd()
}

// Session is a single recognition run. Stop is advisory: OnEnd still fires.
type Session interface {
	Start(ctx context.Context) error
	Stop() error
}

// Platform creates sessions. NewSession returns ErrUnsupported when
// recognition is unavailable on this host.
type Platform interface {
	NewSession(cfg Config, events Events) (Session, error)
}

// Prober is implemented by platforms that can report up front whether they
// are usable on this host.
type Prober interface {
	Probe() error
}

// Probe runs p's own check when it has one. A nil platform is unsupported.
func Probe(p Platform) error {
	if p == nil {
		return ErrUnsupported
	}
	if prober, ok := p.(Prober); ok {
		return prober.Probe()
	}
	return nil
}
