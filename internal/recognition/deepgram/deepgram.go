// Package deepgram implements recognition.Platform on top of Deepgram's live
// transcription websocket, fed from the default microphone.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/ghost-puppet/internal/audio"
	"github.com/sjawhar/ghost-puppet/internal/recognition"
)

// Conn is the subset of the Deepgram websocket client a session drives.
type Conn interface {
	Connect() bool
	Write(p []byte) (int, error)
	Stop()
}

// Dialer builds a websocket client that reports to callback.
type Dialer func(ctx context.Context, apiKey string, cOptions *interfaces.ClientOptions, tOptions *interfaces.LiveTranscriptionOptions, callback api.LiveMessageCallback) (Conn, error)

// Mic is a capture source a session streams into the websocket.
type Mic interface {
	Start() error
	Stream(w io.Writer) error
	Close() error
}

// MicOpener opens a capture source at the given sample rate.
type MicOpener func(sampleRate, framesPerBuffer int) (Mic, error)

type Options struct {
	APIKey          string
	Model           string
	SampleRates     []int
	FramesPerBuffer int
	Logger          *slog.Logger

	Dial    Dialer
	OpenMic MicOpener
}

type Platform struct {
	apiKey          string
	model           string
	sampleRates     []int
	framesPerBuffer int
	logger          *slog.Logger
	dial            Dialer
	openMic         MicOpener
}

func New(opts Options) *Platform {
	p := &Platform{
		apiKey:          strings.TrimSpace(opts.APIKey),
		model:           opts.Model,
		sampleRates:     opts.SampleRates,
		framesPerBuffer: opts.FramesPerBuffer,
		logger:          opts.Logger,
		dial:            opts.Dial,
		openMic:         opts.OpenMic,
	}
	if p.model == "" {
		p.model = "nova-2"
	}
	if len(p.sampleRates) == 0 {
		p.sampleRates = []int{16000}
	}
	if p.framesPerBuffer <= 0 {
		p.framesPerBuffer = 1024
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.dial == nil {
		p.dial = dialDeepgram
	}
	if p.openMic == nil {
		p.openMic = openPortAudioMic
	}
	return p
}

// Probe reports recognition.ErrUnsupported when no API key is configured or
// no input device can be opened.
func (p *Platform) Probe() error {
	if p.apiKey == "" {
		return fmt.Errorf("%w: deepgram api key not configured", recognition.ErrUnsupported)
	}
	mic, _, err := p.openFirstMic()
	if err != nil {
		return fmt.Errorf("%w: %v", recognition.ErrUnsupported, err)
	}
	_ = mic.Close()
	return nil
}

func (p *Platform) NewSession(cfg recognition.Config, events recognition.Events) (recognition.Session, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: deepgram api key not configured", recognition.ErrUnsupported)
	}
	if events == nil {
		return nil, errors.New("recognition events are required")
	}
	return &session{platform: p, cfg: cfg, events: events}, nil
}

func (p *Platform) openFirstMic() (Mic, int, error) {
	var lastErr error
	for _, rate := range p.sampleRates {
		mic, err := p.openMic(rate, p.framesPerBuffer)
		if err != nil {
			p.logger.Warn("microphone open failed", "sample_rate", rate, "error", err)
			lastErr = err
			continue
		}
		return mic, rate, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no sample rates configured")
	}
	return nil, 0, lastErr
}

type session struct {
	platform *Platform
	cfg      recognition.Config
	events   recognition.Events

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	conn    Conn
	mic     Mic

	ended atomic.Bool
}

func (s *session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return recognition.ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	mic, rate, err := s.platform.openFirstMic()
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.platform.model,
		Language:       s.cfg.Language,
		InterimResults: s.cfg.InterimResults,
		Punctuate:      true,
		SmartFormat:    true,
		Encoding:       "linear16",
		SampleRate:     rate,
		Channels:       1,
	}

	conn, err := s.platform.dial(sessionCtx, s.platform.apiKey, cOptions, tOptions, callback{session: s})
	if err != nil {
		cancel()
		_ = mic.Close()
		return fmt.Errorf("create deepgram client: %w", err)
	}
	if ok := conn.Connect(); !ok {
		cancel()
		_ = mic.Close()
		return errors.New("deepgram connect failed")
	}
	if err := mic.Start(); err != nil {
		cancel()
		conn.Stop()
		_ = mic.Close()
		return fmt.Errorf("start microphone: %w", err)
	}

	s.mu.Lock()
	s.cancel = cancel
	s.conn = conn
	s.mic = mic
	s.mu.Unlock()

	go s.pump(sessionCtx, mic, conn)
	return nil
}

// Stop tears the session down in the background; OnEnd follows.
func (s *session) Stop() error {
	go s.finish()
	return nil
}

func (s *session) pump(ctx context.Context, mic Mic, conn Conn) {
	logf := func(format string, args ...any) {
		s.platform.logger.Warn(fmt.Sprintf(format, args...))
	}
	err := audio.StreamWithRetry(ctx, mic, conn, time.Sleep, logf)
	if err != nil && !s.ended.Load() {
		s.events.OnError(recognition.Error{Kind: recognition.ErrorAudioCapture, Message: err.Error()})
	}
	s.finish()
}

// finish releases the mic and websocket and reports OnEnd once.
func (s *session) finish() {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	cancel, conn, mic := s.cancel, s.conn, s.mic
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if mic != nil {
		_ = mic.Close()
	}
	if conn != nil {
		conn.Stop()
	}
	s.events.OnEnd()
}

func dialDeepgram(ctx context.Context, apiKey string, cOptions *interfaces.ClientOptions, tOptions *interfaces.LiveTranscriptionOptions, cb api.LiveMessageCallback) (Conn, error) {
	ws, err := client.NewWSUsingCallback(ctx, apiKey, cOptions, tOptions, cb)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func openPortAudioMic(sampleRate, framesPerBuffer int) (Mic, error) {
	return audio.OpenMic(sampleRate, framesPerBuffer)
}
