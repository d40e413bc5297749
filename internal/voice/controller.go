// Package voice turns live speech into character commands. A Controller owns
// the user's listening intent, keeps a recognition session running while that
// intent holds, and dispatches every command detected in final speech.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/ghost-puppet/internal/command"
	"github.com/sjawhar/ghost-puppet/internal/recognition"
	"github.com/sjawhar/ghost-puppet/internal/transcribe"
)

// ErrDisabled is reported by a controller built on a host without speech
// recognition.
var ErrDisabled = errors.New("voice control disabled")

type Options struct {
	Language        string
	Table           *command.Table
	RevertDelay     time.Duration
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration
	MaxRestarts     int

	Store       Store
	Log         TranscriptLog
	Logger      *slog.Logger
	OnUnmatched func(text string)
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Language == "" {
		o.Language = "en-US"
	}
	if o.Table == nil {
		o.Table = command.Default()
	}
	if o.RevertDelay <= 0 {
		o.RevertDelay = 2 * time.Second
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = 100 * time.Millisecond
	}
	if o.MaxRestartDelay < o.RestartDelay {
		o.MaxRestartDelay = 2 * time.Second
		if o.MaxRestartDelay < o.RestartDelay {
			o.MaxRestartDelay = o.RestartDelay
		}
	}
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = 5
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Controller struct {
	ui        UI
	platform  recognition.Platform
	onCommand CommandHandler
	cfg       recognition.Config
	opts      Options
	logger    *slog.Logger
	probeErr  error

	// lifecycle serialises session starts and stops.
	lifecycle sync.Mutex

	mu         sync.Mutex
	active     bool
	closed     bool
	session    recognition.Session
	binding    *binding
	transcript transcriptBuffer
	restarts   int
	listenID   string

	revert  delayTimer
	restart delayTimer
}

// Initialize builds a controller and paints the initial UI. When the platform
// reports no recognition capability, the returned controller is disabled: the
// UI shows the unsupported state and Toggle does nothing.
func Initialize(ui UI, platform recognition.Platform, onCommand CommandHandler, opts Options) *Controller {
	opts = opts.withDefaults()

	cfg := recognition.DefaultConfig()
	cfg.Language = opts.Language

	c := &Controller{
		ui:        ui,
		platform:  platform,
		onCommand: onCommand,
		cfg:       cfg,
		opts:      opts,
		logger:    opts.Logger,
	}

	if err := recognition.Probe(platform); err != nil {
		if platform == nil || errors.Is(err, recognition.ErrUnsupported) {
			c.probeErr = err
			c.logger.Error("speech recognition not supported", "error", err)
			ui.SetStatus(StatusUnsupported, ColorFailure)
			ui.SetTranscript(TranscriptView{Notice: TranscriptUnsupported, NoticeColor: ColorNoticeError})
			ui.SetToggle(ToggleStart, ColorToggleStart, false)
			return c
		}
		c.logger.Warn("speech recognition probe failed", "error", err)
	}

	ui.SetStatus(StatusIdle, ColorIdle)
	ui.SetTranscript(TranscriptView{Notice: TranscriptPlaceholder})
	ui.SetToggle(ToggleStart, ColorToggleStart, true)
	return c
}

// Supported reports whether the controller can listen at all.
func (c *Controller) Supported() bool {
	return c.probeErr == nil
}

// Err returns ErrDisabled, wrapping the probe failure, for a disabled
// controller.
func (c *Controller) Err() error {
	if c.probeErr == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrDisabled, c.probeErr)
}

// Listening reports the user's listening intent.
func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// DetectCommand runs the controller's command table over text.
func (c *Controller) DetectCommand(text string) (command.Event, bool) {
	return c.opts.Table.Detect(text)
}

// Commands returns the rules the controller matches against.
func (c *Controller) Commands() []command.Rule {
	return c.opts.Table.Rules()
}

// Toggle starts listening when stopped and stops when listening. It returns
// the resulting listening intent.
func (c *Controller) Toggle(ctx context.Context) bool {
	if !c.Supported() {
		return false
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.active {
		sess := c.stopLocked(EndUserStopped)
		if sess == nil {
			c.showStoppedLocked(StatusStopped)
		}
		c.mu.Unlock()
		c.requestStop(sess)
		return false
	}
	defer c.mu.Unlock()

	c.active = true
	c.restarts = 0
	c.restart.Stop()
	c.transcript.Reset()
	c.beginListenLocked()

	if err := c.launchLocked(ctx); err != nil {
		c.active = false
		c.endListenLocked(EndStartFailed)
		c.logger.Warn("failed to start recognition", "error", err)
		c.ui.SetStatus(StatusFailedToStart, ColorFailure)
		return false
	}
	return c.active
}

// Close stops listening for good. Later calls to Toggle do nothing.
func (c *Controller) Close() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var sess recognition.Session
	if c.active {
		sess = c.stopLocked(EndUserStopped)
	}
	c.restart.Stop()
	c.revert.Stop()
	c.mu.Unlock()

	c.requestStop(sess)
}

// stopLocked clears intent and closes the listening period. It returns the
// running session, which the caller stops once the lock is released.
func (c *Controller) stopLocked(reason string) recognition.Session {
	c.active = false
	c.restart.Stop()
	c.endListenLocked(reason)
	return c.session
}

func (c *Controller) requestStop(sess recognition.Session) {
	if sess == nil {
		return
	}
	if err := sess.Stop(); err != nil {
		c.logger.Warn("failed to stop recognition", "error", err)
	}
}

func (c *Controller) showStoppedLocked(status string) {
	c.ui.SetToggle(ToggleStart, ColorToggleStart, true)
	c.ui.SetStatus(status, "")
}

// launchLocked creates a session bound to fresh events and starts it. The
// controller lock is released while the platform starts and held again on
// return.
func (c *Controller) launchLocked(ctx context.Context) error {
	b := &binding{c: c}
	sess, err := c.platform.NewSession(c.cfg, b)
	if err != nil {
		return fmt.Errorf("create recognition session: %w", err)
	}
	c.session = sess
	c.binding = b

	c.mu.Unlock()
	err = sess.Start(ctx)
	c.mu.Lock()

	if err != nil {
		if c.binding == b {
			c.session = nil
			c.binding = nil
		}
		return fmt.Errorf("start recognition session: %w", err)
	}
	return nil
}

// beginListenLocked opens a listening period. The row exists before the first
// session starts, since platform events may arrive while Start is running.
func (c *Controller) beginListenLocked() {
	c.listenID = uuid.NewString()
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.CreateSession(c.listenID, c.opts.Now().UTC()); err != nil {
		c.logger.Warn("failed to record listen session", "session_id", c.listenID, "error", err)
	}
}

func (c *Controller) endListenLocked(reason string) {
	id := c.listenID
	if id == "" {
		return
	}
	c.listenID = ""
	c.logger.Info("listening stopped", "session_id", id, "reason", reason)
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.EndSession(id, c.opts.Now().UTC(), reason); err != nil {
		c.logger.Warn("failed to end listen session", "session_id", id, "error", err)
	}
}

func (c *Controller) current(b *binding) bool {
	return b != nil && c.binding == b && !c.closed
}

func (c *Controller) handleStart(b *binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(b) {
		return
	}

	c.logger.Info("voice recognition started", "session_id", c.listenID)
	c.ui.SetToggle(ToggleStop, ColorToggleStop, true)
	c.ui.SetStatus(StatusListening, ColorListening)
	c.ui.SetTranscript(TranscriptView{Notice: TranscriptListening, NoticeColor: ColorNotice})
}

func (c *Controller) handleResult(b *binding, batch recognition.Batch) {
	c.mu.Lock()
	if !c.current(b) {
		c.mu.Unlock()
		return
	}

	c.restarts = 0
	listenID := c.listenID
	now := c.opts.Now()

	var (
		interim   strings.Builder
		finals    []transcribe.Segment
		detected  []command.Event
		unmatched []string
	)
	for _, seg := range batch.Segments {
		if !seg.Final {
			interim.WriteString(seg.Text)
			continue
		}

		c.transcript.Append(seg.Text)
		finals = append(finals, transcribe.NewSegment(listenID, seg.Text, now))

		ev, ok := c.opts.Table.Detect(seg.Text)
		if !ok {
			unmatched = append(unmatched, strings.TrimSpace(seg.Text))
			continue
		}
		c.logger.Info("command detected", "command", ev.Command, "text", ev.SourceText)
		c.ui.SetStatus(ev.Message, ev.Color)
		detected = append(detected, ev)
	}

	c.ui.SetTranscript(TranscriptView{Final: c.transcript.String(), Interim: interim.String()})
	if len(detected) > 0 {
		c.revert.Schedule(c.opts.RevertDelay, c.revertStatus)
	}
	c.mu.Unlock()

	c.persist(finals)
	for _, ev := range detected {
		if c.onCommand != nil {
			c.onCommand(ev)
		}
	}
	if c.opts.OnUnmatched != nil {
		for _, text := range unmatched {
			if text != "" {
				c.opts.OnUnmatched(text)
			}
		}
	}
}

func (c *Controller) persist(segments []transcribe.Segment) {
	for _, seg := range segments {
		if seg.Text == "" {
			continue
		}
		if c.opts.Store != nil && seg.SessionID != "" {
			if err := c.opts.Store.AppendSegment(seg.SessionID, seg); err != nil {
				c.logger.Warn("failed to persist segment", "session_id", seg.SessionID, "error", err)
			}
		}
		if c.opts.Log != nil {
			if err := c.opts.Log.Append(seg); err != nil {
				c.logger.Warn("failed to write transcript log", "error", err)
			}
		}
	}
}

// revertStatus restores the listening status after a command message, as
// long as the user is still listening when it fires.
func (c *Controller) revertStatus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.closed {
		return
	}
	c.ui.SetStatus(StatusListening, ColorListening)
}

func (c *Controller) handleError(b *binding, rerr recognition.Error) {
	c.mu.Lock()
	if !c.current(b) {
		c.mu.Unlock()
		return
	}
	if rerr.Kind == recognition.ErrorNoSpeech {
		c.mu.Unlock()
		return
	}

	listenID := c.listenID
	c.logger.Warn("speech error", "session_id", listenID, "kind", rerr.Kind, "message", rerr.Message)

	var sess recognition.Session
	switch {
	case rerr.Kind.PermissionDenied():
		sess = c.stopLocked(EndPermissionDenied)
		c.ui.SetToggle(ToggleStart, ColorToggleStart, true)
		c.ui.SetStatus(StatusMicBlocked, ColorWarning)
		c.ui.Alert(MicBlockedAlert)
	case rerr.Kind == recognition.ErrorNetwork:
		c.ui.SetStatus(StatusNetworkError, ColorWarning)
	default:
		c.ui.SetStatus("❌ Error: "+string(rerr.Kind), ColorWarning)
	}
	c.mu.Unlock()

	if c.opts.Store != nil && listenID != "" {
		if err := c.opts.Store.RecordError(listenID, string(rerr.Kind), rerr.Message, c.opts.Now().UTC()); err != nil {
			c.logger.Warn("failed to record speech error", "session_id", listenID, "error", err)
		}
	}
	c.requestStop(sess)
}

func (c *Controller) handleEnd(b *binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(b) {
		return
	}
	c.session = nil
	c.binding = nil
	c.logger.Info("recognition ended", "session_id", c.listenID, "listening", c.active)

	if !c.active {
		c.showStoppedLocked(StatusStopped)
		return
	}

	c.restarts++
	if c.restarts > c.opts.MaxRestarts {
		c.logger.Warn("restart limit reached", "session_id", c.listenID, "restarts", c.restarts-1)
		c.stopLocked(EndRestartLimit)
		c.showStoppedLocked(StatusIdle)
		return
	}

	delay := backoff(c.opts.RestartDelay, c.opts.MaxRestartDelay, c.restarts)
	c.restart.Schedule(delay, c.restartSession)
}

// restartSession makes the single restart attempt that follows an unexpected
// end.
func (c *Controller) restartSession() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.closed || c.session != nil {
		return
	}

	if c.opts.Store != nil && c.listenID != "" {
		if err := c.opts.Store.IncrementRestarts(c.listenID); err != nil {
			c.logger.Warn("failed to count restart", "session_id", c.listenID, "error", err)
		}
	}

	if err := c.launchLocked(context.Background()); err != nil {
		c.logger.Warn("cannot restart recognition", "error", err)
		if !c.active {
			return
		}
		c.stopLocked(EndRestartFailed)
		c.showStoppedLocked(StatusIdle)
		return
	}
	c.logger.Info("recognition auto-restarted", "session_id", c.listenID)
}

// binding ties platform events to the session they were created for. Events
// from a replaced session are dropped.
type binding struct {
	c *Controller
}

func (b *binding) OnStart()                         { b.c.handleStart(b) }
func (b *binding) OnResult(batch recognition.Batch) { b.c.handleResult(b, batch) }
func (b *binding) OnError(err recognition.Error)    { b.c.handleError(b, err) }
func (b *binding) OnEnd()                           { b.c.handleEnd(b) }
