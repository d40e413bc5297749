package voice

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/ghost-puppet/internal/command"
	"github.com/sjawhar/ghost-puppet/internal/recognition"
	"github.com/sjawhar/ghost-puppet/internal/storage"
	"github.com/sjawhar/ghost-puppet/internal/transcribe"
)

type uiState struct {
	status      string
	statusColor string
	transcript  TranscriptView
	toggle      string
	toggleColor string
	enabled     bool
	alerts      []string
	calls       int
}

type uiMock struct {
	mu sync.Mutex
	st uiState
}

func (u *uiMock) SetStatus(text, color string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.st.calls++
	u.st.status = text
	if color != "" {
		u.st.statusColor = color
	}
}

func (u *uiMock) SetTranscript(view TranscriptView) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.st.calls++
	u.st.transcript = view
}

func (u *uiMock) SetToggle(label, color string, enabled bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.st.calls++
	u.st.toggle = label
	u.st.toggleColor = color
	u.st.enabled = enabled
}

func (u *uiMock) Alert(message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.st.calls++
	u.st.alerts = append(u.st.alerts, message)
}

func (u *uiMock) snapshot() uiState {
	u.mu.Lock()
	defer u.mu.Unlock()
	st := u.st
	st.alerts = append([]string(nil), u.st.alerts...)
	return st
}

type sessionMock struct {
	events recognition.Events

	mu       sync.Mutex
	started  int
	stopped  int
	startErr error
	// duringStart runs inside Start, before it returns.
	duringStart func(recognition.Events)
}

func (s *sessionMock) Start(context.Context) error {
	s.mu.Lock()
	s.started++
	hook, err := s.duringStart, s.startErr
	s.mu.Unlock()

	if hook != nil {
		hook(s.events)
	}
	return err
}

func (s *sessionMock) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *sessionMock) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type platformMock struct {
	mu       sync.Mutex
	sessions []*sessionMock
	cfgs     []recognition.Config
	probeErr error
	// startErrs is consumed one entry per created session.
	startErrs   []error
	duringStart func(recognition.Events)
	created     chan *sessionMock
}

func newPlatformMock() *platformMock {
	return &platformMock{created: make(chan *sessionMock, 16)}
}

func (p *platformMock) Probe() error { return p.probeErr }

func (p *platformMock) NewSession(cfg recognition.Config, events recognition.Events) (recognition.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &sessionMock{events: events, duringStart: p.duringStart}
	if len(p.startErrs) > 0 {
		s.startErr = p.startErrs[0]
		p.startErrs = p.startErrs[1:]
	}
	p.sessions = append(p.sessions, s)
	p.cfgs = append(p.cfgs, cfg)
	p.created <- s
	return s, nil
}

func (p *platformMock) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *platformMock) last() *sessionMock {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[len(p.sessions)-1]
}

type storeMock struct {
	mu       sync.Mutex
	created  []string
	ended    map[string]string
	restarts map[string]int
	segments map[string][]transcribe.Segment
	errs     []string
}

func newStoreMock() *storeMock {
	return &storeMock{
		ended:    map[string]string{},
		restarts: map[string]int{},
		segments: map[string][]transcribe.Segment{},
	}
}

func (s *storeMock) CreateSession(id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, id)
	return nil
}

func (s *storeMock) EndSession(id string, _ time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended[id] = reason
	return nil
}

func (s *storeMock) IncrementRestarts(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts[id]++
	return nil
}

func (s *storeMock) AppendSegment(sessionID string, seg transcribe.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments[sessionID] = append(s.segments[sessionID], seg)
	return nil
}

func (s *storeMock) RecordError(_ string, kind, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, kind)
	return nil
}

func (s *storeMock) onlySession(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.created) != 1 {
		t.Fatalf("expected one listen session, got %d", len(s.created))
	}
	return s.created[0]
}

func (s *storeMock) endReason(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended[id]
}

type logMock struct {
	mu       sync.Mutex
	segments []transcribe.Segment
}

func (l *logMock) Append(seg transcribe.Segment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.segments = append(l.segments, seg)
	return nil
}

type harness struct {
	ui       *uiMock
	platform *platformMock
	store    *storeMock
	commands chan command.Event
	ctrl     *Controller
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		ui:       &uiMock{},
		platform: newPlatformMock(),
		store:    newStoreMock(),
		commands: make(chan command.Event, 16),
	}
	if opts.RevertDelay == 0 {
		opts.RevertDelay = 40 * time.Millisecond
	}
	if opts.RestartDelay == 0 {
		opts.RestartDelay = 5 * time.Millisecond
	}
	if opts.MaxRestartDelay == 0 {
		opts.MaxRestartDelay = 20 * time.Millisecond
	}
	if opts.Store == nil {
		opts.Store = h.store
	}
	h.ctrl = Initialize(h.ui, h.platform, func(ev command.Event) { h.commands <- ev }, opts)
	t.Cleanup(h.ctrl.Close)
	return h
}

// start toggles listening on and delivers the platform start event.
func (h *harness) start(t *testing.T) *sessionMock {
	t.Helper()
	if !h.ctrl.Toggle(context.Background()) {
		t.Fatal("expected Toggle to start listening")
	}
	s := h.platform.last()
	s.events.OnStart()
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func final(text string) recognition.Batch {
	return recognition.Batch{Segments: []recognition.Segment{{Text: text, Final: true}}}
}

func TestInitializeUnsupportedPlatform(t *testing.T) {
	tests := []struct {
		name     string
		platform recognition.Platform
	}{
		{name: "nil platform", platform: nil},
		{name: "probe reports unsupported", platform: &platformMock{probeErr: recognition.ErrUnsupported}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ui := &uiMock{}
			ctrl := Initialize(ui, tt.platform, nil, Options{})

			got := ui.snapshot()
			if got.status != StatusUnsupported || got.statusColor != ColorFailure {
				t.Fatalf("unexpected status %q (%s)", got.status, got.statusColor)
			}
			if got.transcript.Notice != TranscriptUnsupported {
				t.Fatalf("unexpected transcript notice %q", got.transcript.Notice)
			}
			if got.enabled {
				t.Fatal("expected toggle to be disabled")
			}
			if ctrl.Supported() {
				t.Fatal("expected unsupported controller")
			}
			if !errors.Is(ctrl.Err(), ErrDisabled) {
				t.Fatalf("expected ErrDisabled, got %v", ctrl.Err())
			}
			if ctrl.Toggle(context.Background()) {
				t.Fatal("expected Toggle on disabled controller to return false")
			}
		})
	}
}

func TestInitializeShowsIdleState(t *testing.T) {
	h := newHarness(t, Options{Language: "de-DE"})

	got := h.ui.snapshot()
	if got.status != StatusIdle || got.toggle != ToggleStart || !got.enabled {
		t.Fatalf("unexpected initial UI %#v", got)
	}
	if !h.ctrl.Supported() || h.ctrl.Err() != nil {
		t.Fatal("expected supported controller")
	}

	h.ctrl.Toggle(context.Background())
	cfg := h.platform.cfgs[0]
	if !cfg.Continuous || !cfg.InterimResults || cfg.MaxAlternatives != 1 || cfg.Language != "de-DE" {
		t.Fatalf("unexpected recognition config %#v", cfg)
	}
}

func TestToggleTwiceStartsThenStops(t *testing.T) {
	h := newHarness(t, Options{})

	s := h.start(t)
	got := h.ui.snapshot()
	if got.status != StatusListening || got.toggle != ToggleStop || got.toggleColor != ColorToggleStop {
		t.Fatalf("unexpected listening UI %#v", got)
	}
	if got.transcript.Notice != TranscriptListening {
		t.Fatalf("unexpected transcript notice %q", got.transcript.Notice)
	}

	s.events.OnResult(recognition.Batch{Segments: []recognition.Segment{{Text: "some", Final: false}}})

	if h.ctrl.Toggle(context.Background()) {
		t.Fatal("expected second Toggle to stop listening")
	}
	if h.ctrl.Listening() {
		t.Fatal("expected intent to be cleared")
	}
	if s.stopCount() != 1 {
		t.Fatalf("expected one stop request, got %d", s.stopCount())
	}

	s.events.OnEnd()
	got = h.ui.snapshot()
	if got.status != StatusStopped || got.toggle != ToggleStart {
		t.Fatalf("expected stopped UI, got %#v", got)
	}
	if h.platform.count() != 1 {
		t.Fatalf("expected no restart after user stop, got %d sessions", h.platform.count())
	}

	id := h.store.onlySession(t)
	if reason := h.store.endReason(id); reason != EndUserStopped {
		t.Fatalf("expected end reason %q, got %q", EndUserStopped, reason)
	}
}

func TestToggleStartFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.platform.startErrs = []error{recognition.ErrAlreadyStarted}

	if h.ctrl.Toggle(context.Background()) {
		t.Fatal("expected Toggle to report failure")
	}
	got := h.ui.snapshot()
	if got.status != StatusFailedToStart || got.statusColor != ColorFailure {
		t.Fatalf("unexpected status %q (%s)", got.status, got.statusColor)
	}
	if h.ctrl.Listening() {
		t.Fatal("expected no listening intent after failed start")
	}
}

func TestResultRendersTranscriptAndDispatchesCommand(t *testing.T) {
	h := newHarness(t, Options{})
	s := h.start(t)

	s.events.OnResult(recognition.Batch{Segments: []recognition.Segment{
		{Text: "Hello there!", Final: true},
		{Text: "jum", Final: false},
		{Text: "p", Final: false},
	}})

	got := h.ui.snapshot()
	if got.transcript.Final != "Hello there! " || got.transcript.Interim != "jump" {
		t.Fatalf("unexpected transcript %#v", got.transcript)
	}
	if got.status != "👋 Hello! I heard you!" || got.statusColor != "rgba(76, 175, 80, 0.3)" {
		t.Fatalf("unexpected status %q (%s)", got.status, got.statusColor)
	}

	select {
	case ev := <-h.commands:
		if ev.Command != command.Hello || ev.SourceText != "hello there!" {
			t.Fatalf("unexpected command event %#v", ev)
		}
	default:
		t.Fatal("expected command handler to be invoked")
	}

	s.events.OnResult(final("let's DANCE now"))
	if got := h.ui.snapshot().transcript.Final; got != "Hello there! let's DANCE now " {
		t.Fatalf("expected accumulated transcript, got %q", got)
	}
	if ev := <-h.commands; ev.Command != command.Dance {
		t.Fatalf("expected dance, got %q", ev.Command)
	}
}

func TestUnmatchedFinalTextDispatchesNothing(t *testing.T) {
	var mu sync.Mutex
	var unmatched []string
	h := newHarness(t, Options{OnUnmatched: func(text string) {
		mu.Lock()
		unmatched = append(unmatched, text)
		mu.Unlock()
	}})
	s := h.start(t)

	s.events.OnResult(final("nothing matches here"))

	select {
	case ev := <-h.commands:
		t.Fatalf("expected no command, got %#v", ev)
	default:
	}
	if got := h.ui.snapshot().status; got != StatusListening {
		t.Fatalf("expected status unchanged, got %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(unmatched) != 1 || unmatched[0] != "nothing matches here" {
		t.Fatalf("expected unmatched hook call, got %v", unmatched)
	}
}

func TestStatusRevertsWhileListening(t *testing.T) {
	h := newHarness(t, Options{RevertDelay: 20 * time.Millisecond})
	s := h.start(t)

	s.events.OnResult(final("jump"))
	if got := h.ui.snapshot().status; got != "⬆️ Jumping!" {
		t.Fatalf("expected command status, got %q", got)
	}

	waitFor(t, "status revert", func() bool {
		got := h.ui.snapshot()
		return got.status == StatusListening && got.statusColor == ColorListening
	})
}

func TestStatusRevertSkippedAfterStop(t *testing.T) {
	h := newHarness(t, Options{RevertDelay: 30 * time.Millisecond})
	s := h.start(t)

	s.events.OnResult(final("spin around"))
	h.ctrl.Toggle(context.Background())
	s.events.OnEnd()

	time.Sleep(60 * time.Millisecond)
	if got := h.ui.snapshot().status; got != StatusStopped {
		t.Fatalf("expected stopped status after revert delay, got %q", got)
	}
}

func TestNewerCommandReplacesPendingRevert(t *testing.T) {
	h := newHarness(t, Options{RevertDelay: 40 * time.Millisecond})
	s := h.start(t)

	s.events.OnResult(final("wave"))
	time.Sleep(25 * time.Millisecond)
	s.events.OnResult(final("jump"))
	time.Sleep(25 * time.Millisecond)

	if got := h.ui.snapshot().status; got != "⬆️ Jumping!" {
		t.Fatalf("expected newer command status to survive first revert, got %q", got)
	}
	waitFor(t, "status revert", func() bool { return h.ui.snapshot().status == StatusListening })
}

func TestNoSpeechErrorChangesNothing(t *testing.T) {
	h := newHarness(t, Options{})
	s := h.start(t)

	before := h.ui.snapshot()
	s.events.OnError(recognition.Error{Kind: recognition.ErrorNoSpeech})
	after := h.ui.snapshot()

	if after.calls != before.calls || after.status != before.status || after.statusColor != before.statusColor {
		t.Fatalf("expected no UI change, before=%#v after=%#v", before, after)
	}
	if !h.ctrl.Listening() {
		t.Fatal("expected intent to be kept")
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if len(h.store.errs) != 0 {
		t.Fatalf("expected no recorded errors, got %v", h.store.errs)
	}
}

func TestPermissionDeniedIsTerminal(t *testing.T) {
	for _, kind := range []recognition.ErrorKind{recognition.ErrorNotAllowed, recognition.ErrorServiceNotAllowed} {
		t.Run(string(kind), func(t *testing.T) {
			h := newHarness(t, Options{})
			s := h.start(t)

			s.events.OnError(recognition.Error{Kind: kind})

			if h.ctrl.Listening() {
				t.Fatal("expected intent to be cleared")
			}
			got := h.ui.snapshot()
			if got.toggle != ToggleStart || got.toggleColor != ColorToggleStart {
				t.Fatalf("expected toggle reset, got %q", got.toggle)
			}
			if got.status != StatusMicBlocked || got.statusColor != ColorWarning {
				t.Fatalf("unexpected status %q (%s)", got.status, got.statusColor)
			}
			if len(got.alerts) != 1 {
				t.Fatalf("expected one alert, got %v", got.alerts)
			}
			if s.stopCount() != 1 {
				t.Fatalf("expected session stop request, got %d", s.stopCount())
			}

			s.events.OnEnd()
			time.Sleep(20 * time.Millisecond)
			if h.platform.count() != 1 {
				t.Fatalf("expected no restart after permission error, got %d sessions", h.platform.count())
			}

			id := h.store.onlySession(t)
			if reason := h.store.endReason(id); reason != EndPermissionDenied {
				t.Fatalf("expected end reason %q, got %q", EndPermissionDenied, reason)
			}
		})
	}
}

func TestTransientErrorsKeepListening(t *testing.T) {
	tests := []struct {
		kind recognition.ErrorKind
		want string
	}{
		{kind: recognition.ErrorNetwork, want: StatusNetworkError},
		{kind: recognition.ErrorAborted, want: "❌ Error: aborted"},
		{kind: "bad-grammar", want: "❌ Error: bad-grammar"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			h := newHarness(t, Options{})
			s := h.start(t)

			s.events.OnError(recognition.Error{Kind: tt.kind, Message: "boom"})

			got := h.ui.snapshot()
			if got.status != tt.want || got.statusColor != ColorWarning {
				t.Fatalf("unexpected status %q (%s)", got.status, got.statusColor)
			}
			if !h.ctrl.Listening() {
				t.Fatal("expected intent to be kept")
			}
			if s.stopCount() != 0 {
				t.Fatal("expected session to keep running")
			}
			h.store.mu.Lock()
			defer h.store.mu.Unlock()
			if len(h.store.errs) != 1 || h.store.errs[0] != string(tt.kind) {
				t.Fatalf("expected error to be recorded, got %v", h.store.errs)
			}
		})
	}
}

func TestUnexpectedEndRestartsOnce(t *testing.T) {
	h := newHarness(t, Options{})
	first := h.start(t)
	<-h.platform.created

	first.events.OnEnd()

	select {
	case second := <-h.platform.created:
		waitFor(t, "restart start", func() bool {
			second.mu.Lock()
			defer second.mu.Unlock()
			return second.started == 1
		})
	case <-time.After(time.Second):
		t.Fatal("expected a restart")
	}

	time.Sleep(30 * time.Millisecond)
	if got := h.platform.count(); got != 2 {
		t.Fatalf("expected exactly one restart, got %d sessions", got)
	}
	if !h.ctrl.Listening() {
		t.Fatal("expected intent to persist across restart")
	}

	id := h.store.onlySession(t)
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.store.restarts[id] != 1 {
		t.Fatalf("expected one recorded restart, got %d", h.store.restarts[id])
	}
}

func TestRestartFailureClearsIntent(t *testing.T) {
	h := newHarness(t, Options{})
	first := h.start(t)
	h.platform.mu.Lock()
	h.platform.startErrs = []error{errors.New("invalid state")}
	h.platform.mu.Unlock()

	first.events.OnEnd()

	waitFor(t, "failed restart", func() bool { return !h.ctrl.Listening() })
	got := h.ui.snapshot()
	if got.toggle != ToggleStart || got.status != StatusIdle {
		t.Fatalf("expected reset UI after failed restart, got %#v", got)
	}
	if h.platform.count() != 2 {
		t.Fatalf("expected one restart attempt, got %d sessions", h.platform.count())
	}
	id := h.store.onlySession(t)
	if reason := h.store.endReason(id); reason != EndRestartFailed {
		t.Fatalf("expected end reason %q, got %q", EndRestartFailed, reason)
	}
}

func TestRestartLimitEndsListening(t *testing.T) {
	h := newHarness(t, Options{MaxRestarts: 2})
	h.start(t)
	<-h.platform.created

	// Every session ends immediately without producing results.
	for i := 0; i < 3; i++ {
		h.platform.last().events.OnEnd()
		if i < 2 {
			select {
			case <-h.platform.created:
			case <-time.After(time.Second):
				t.Fatalf("expected restart %d", i+1)
			}
			waitFor(t, "restart start", func() bool {
				s := h.platform.last()
				s.mu.Lock()
				defer s.mu.Unlock()
				return s.started == 1
			})
		}
	}

	if h.ctrl.Listening() {
		t.Fatal("expected restart limit to clear intent")
	}
	if got := h.platform.count(); got != 3 {
		t.Fatalf("expected 3 sessions, got %d", got)
	}
	id := h.store.onlySession(t)
	if reason := h.store.endReason(id); reason != EndRestartLimit {
		t.Fatalf("expected end reason %q, got %q", EndRestartLimit, reason)
	}
	if got := h.ui.snapshot(); got.toggle != ToggleStart {
		t.Fatalf("expected toggle reset, got %q", got.toggle)
	}
}

func TestResultResetsRestartCounter(t *testing.T) {
	h := newHarness(t, Options{MaxRestarts: 1})
	h.start(t)
	<-h.platform.created

	for i := 0; i < 3; i++ {
		s := h.platform.last()
		s.events.OnResult(final("still here"))
		s.events.OnEnd()
		select {
		case <-h.platform.created:
		case <-time.After(time.Second):
			t.Fatalf("expected restart %d", i+1)
		}
		waitFor(t, "restart start", func() bool {
			s := h.platform.last()
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.started == 1
		})
	}

	if !h.ctrl.Listening() {
		t.Fatal("expected listening to continue while sessions produce results")
	}
}

func TestStopDuringPendingRestart(t *testing.T) {
	h := newHarness(t, Options{RestartDelay: 50 * time.Millisecond, MaxRestartDelay: 50 * time.Millisecond})
	first := h.start(t)

	first.events.OnEnd()
	if h.ctrl.Toggle(context.Background()) {
		t.Fatal("expected Toggle to stop listening")
	}
	if got := h.ui.snapshot(); got.status != StatusStopped || got.toggle != ToggleStart {
		t.Fatalf("expected stopped UI, got %#v", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := h.platform.count(); got != 1 {
		t.Fatalf("expected pending restart to be cancelled, got %d sessions", got)
	}
}

func TestStaleSessionEventsAreIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	first := h.start(t)
	<-h.platform.created

	first.events.OnEnd()
	<-h.platform.created
	second := h.platform.last()
	second.events.OnStart()

	first.events.OnResult(final("dance"))
	first.events.OnError(recognition.Error{Kind: recognition.ErrorNotAllowed})
	first.events.OnEnd()

	if !h.ctrl.Listening() {
		t.Fatal("expected stale events to leave intent alone")
	}
	select {
	case ev := <-h.commands:
		t.Fatalf("expected no command from stale session, got %#v", ev)
	default:
	}
	if got := h.ui.snapshot().status; got != StatusListening {
		t.Fatalf("expected listening status, got %q", got)
	}
}

func TestFinalSegmentsArePersisted(t *testing.T) {
	log := &logMock{}
	h := newHarness(t, Options{Log: log})
	s := h.start(t)

	s.events.OnResult(recognition.Batch{Segments: []recognition.Segment{
		{Text: "  wave at me ", Final: true},
		{Text: "and", Final: false},
	}})

	id := h.store.onlySession(t)
	h.store.mu.Lock()
	segs := h.store.segments[id]
	h.store.mu.Unlock()
	if len(segs) != 1 || segs[0].Text != "wave at me" || segs[0].SessionID != id {
		t.Fatalf("unexpected persisted segments %#v", segs)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.segments) != 1 || log.segments[0].Text != "wave at me" {
		t.Fatalf("unexpected logged segments %#v", log.segments)
	}
}

func TestCommandHandlerMayToggle(t *testing.T) {
	ui := &uiMock{}
	platform := newPlatformMock()
	var ctrl *Controller
	done := make(chan bool, 1)
	ctrl = Initialize(ui, platform, func(command.Event) {
		done <- ctrl.Toggle(context.Background())
	}, Options{})
	defer ctrl.Close()

	ctrl.Toggle(context.Background())
	s := platform.last()
	s.events.OnStart()
	s.events.OnResult(final("hey"))

	select {
	case listening := <-done:
		if listening {
			t.Fatal("expected handler Toggle to stop listening")
		}
	case <-time.After(time.Second):
		t.Fatal("handler Toggle deadlocked")
	}
}

func TestCloseStopsListening(t *testing.T) {
	h := newHarness(t, Options{})
	s := h.start(t)

	h.ctrl.Close()

	if h.ctrl.Listening() {
		t.Fatal("expected intent cleared on close")
	}
	if s.stopCount() != 1 {
		t.Fatalf("expected stop request, got %d", s.stopCount())
	}
	if h.ctrl.Toggle(context.Background()) {
		t.Fatal("expected Toggle after Close to do nothing")
	}
}

func TestDetectCommandDelegatesToTable(t *testing.T) {
	table, err := command.NewTable([]command.Rule{{Name: "sit", Keywords: []string{"sit"}, Message: "sitting"}})
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	h := newHarness(t, Options{Table: table})

	ev, ok := h.ctrl.DetectCommand("  SIT down ")
	if !ok || ev.Command != "sit" {
		t.Fatalf("expected custom command, got %v %#v", ok, ev)
	}
	if _, ok := h.ctrl.DetectCommand("hello"); ok {
		t.Fatal("expected default commands to be absent from custom table")
	}
	if got := h.ctrl.Commands(); len(got) != 1 {
		t.Fatalf("expected one rule, got %d", len(got))
	}
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	max := 2 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 100 * time.Millisecond},
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 4, want: 800 * time.Millisecond},
		{attempt: 5, want: 1600 * time.Millisecond},
		{attempt: 6, want: 2 * time.Second},
		{attempt: 40, want: 2 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(base, max, tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func newSQLiteHarness(t *testing.T, hook func(recognition.Events)) (*harness, *storage.SQLiteStore, string) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "puppet.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := &harness{ui: &uiMock{}, platform: newPlatformMock(), commands: make(chan command.Event, 16)}
	h.platform.duringStart = hook
	h.ctrl = Initialize(h.ui, h.platform, func(ev command.Event) { h.commands <- ev }, Options{
		RevertDelay:  40 * time.Millisecond,
		RestartDelay: 5 * time.Millisecond,
		Store:        store,
		Now:          func() time.Time { return day },
	})
	t.Cleanup(h.ctrl.Close)
	return h, store, day.Format("2006-01-02")
}

func onlyStoredSession(t *testing.T, store *storage.SQLiteStore, date string) storage.Session {
	t.Helper()
	sessions, err := store.GetSessionsByDate(date)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one listen session, got %d", len(sessions))
	}
	return sessions[0]
}

func TestErrorDuringStartIsPersisted(t *testing.T) {
	h, store, date := newSQLiteHarness(t, func(ev recognition.Events) {
		ev.OnStart()
		ev.OnError(recognition.Error{Kind: recognition.ErrorNetwork, Message: "socket reset"})
	})

	if !h.ctrl.Toggle(context.Background()) {
		t.Fatal("expected Toggle to start listening")
	}

	sess := onlyStoredSession(t, store, date)
	if sess.Status != storage.StatusActive {
		t.Fatalf("expected active listen session, got %q", sess.Status)
	}
	errs, err := store.GetErrors(sess.ID)
	if err != nil {
		t.Fatalf("get errors: %v", err)
	}
	if len(errs) != 1 || errs[0].Kind != string(recognition.ErrorNetwork) {
		t.Fatalf("expected the network error to be stored, got %+v", errs)
	}
	if got := h.ui.snapshot().status; got != StatusNetworkError {
		t.Fatalf("expected network status, got %q", got)
	}
}

func TestPermissionDeniedDuringStartEndsStoredSession(t *testing.T) {
	h, store, date := newSQLiteHarness(t, func(ev recognition.Events) {
		ev.OnError(recognition.Error{Kind: recognition.ErrorNotAllowed})
	})

	if h.ctrl.Toggle(context.Background()) {
		t.Fatal("expected listening intent to be cleared by the permission error")
	}

	sess := onlyStoredSession(t, store, date)
	if sess.Status != storage.StatusEnded || sess.EndReason != EndPermissionDenied {
		t.Fatalf("expected session ended with %q, got %q/%q", EndPermissionDenied, sess.Status, sess.EndReason)
	}
	errs, err := store.GetErrors(sess.ID)
	if err != nil {
		t.Fatalf("get errors: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected the permission error to be stored, got %+v", errs)
	}
}

func TestStartFailureEndsListenSession(t *testing.T) {
	h := newHarness(t, Options{})
	h.platform.startErrs = []error{errors.New("device busy")}

	if h.ctrl.Toggle(context.Background()) {
		t.Fatal("expected Toggle to report failure")
	}

	id := h.store.onlySession(t)
	if got := h.store.endReason(id); got != EndStartFailed {
		t.Fatalf("expected end reason %q, got %q", EndStartFailed, got)
	}
}
