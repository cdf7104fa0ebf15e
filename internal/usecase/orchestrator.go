package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vcni/internal/domain"
	"vcni/internal/logging"
	"vcni/internal/metrics"
	"vcni/internal/ports"
)

var (
	// ErrEmptyCommand is returned when a command trims to nothing.
	ErrEmptyCommand = errors.New("command is empty")
	// ErrDuplicateCommand is returned when a command repeats the last one
	// processed and force was not set.
	ErrDuplicateCommand = errors.New("command was already processed")
	// ErrStartInterrupted is returned by StartListening when a newer start,
	// a stop or a command superseded it before it connected.
	ErrStartInterrupted = errors.New("listening start was interrupted")
	ErrClosed           = errors.New("session orchestrator closed")
)

const (
	DefaultInactivityTimeout = 15 * time.Second
	DefaultSessionTimeout    = 60 * time.Second
	DefaultDispatchDebounce  = 800 * time.Millisecond
	DefaultResumeDelay       = time.Second
)

// Config controls session timing.
type Config struct {
	// InactivityTimeout stops listening when no transcript arrives in time.
	InactivityTimeout time.Duration
	// SessionTimeout bounds a listening session regardless of activity.
	SessionTimeout time.Duration
	// DispatchDebounce coalesces final transcripts before dispatch.
	DispatchDebounce time.Duration
	// ResumeDelay is the pause before listening resumes after a command.
	ResumeDelay       time.Duration
	DisableAutoResume bool
	UserID            string

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// SessionOrchestrator drives the listen, process, speak and resume cycle.
// At most one transcription client and one set of session timers are live
// at a time.
type SessionOrchestrator struct {
	transcribers ports.TranscriberFactory
	tokens       ports.TokenSource
	dispatcher   ports.CommandDispatcher
	speaker      ports.Speaker
	events       ports.EventSink
	cfg          Config
	log          zerolog.Logger
	metrics      *metrics.Metrics

	baseCtx   context.Context
	closeBase context.CancelFunc

	mu    sync.Mutex
	state domain.SessionState
	// gen invalidates in-flight start attempts.
	gen uint64
	// intent counts explicit start/stop requests; a scheduled resume is
	// dropped when it changes.
	intent    uint64
	processID uint64
	active    *listenSession
	starting  *startAttempt
	resume    *time.Timer

	transcript    string
	pendingFinal  string
	lastProcessed string
	conversation  domain.ConversationContext
	lastResult    *domain.CommandResult
	speaking      bool
	closed        bool
}

func NewSessionOrchestrator(
	transcribers ports.TranscriberFactory,
	tokens ports.TokenSource,
	dispatcher ports.CommandDispatcher,
	speaker ports.Speaker,
	events ports.EventSink,
	cfg Config,
) *SessionOrchestrator {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.DispatchDebounce <= 0 {
		cfg.DispatchDebounce = DefaultDispatchDebounce
	}
	if cfg.ResumeDelay <= 0 {
		cfg.ResumeDelay = DefaultResumeDelay
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	if events == nil {
		events = nopSink{}
	}

	baseCtx, closeBase := context.WithCancel(context.Background())
	return &SessionOrchestrator{
		transcribers: transcribers,
		tokens:       tokens,
		dispatcher:   dispatcher,
		speaker:      speaker,
		events:       events,
		cfg:          cfg,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		baseCtx:      baseCtx,
		closeBase:    closeBase,
		state:        domain.SessionStateIdle,
	}
}

// StartListening connects a new transcription session. It is a no-op while
// already listening. A start still connecting is torn down first. ctx bounds
// the connection attempt only.
func (o *SessionOrchestrator) StartListening(ctx context.Context) error {
	return o.startListening(ctx, true, 0)
}

func (o *SessionOrchestrator) startListening(ctx context.Context, explicit bool, resumeSeq uint64) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if explicit {
		o.intent++
	} else if o.intent != resumeSeq || o.state != domain.SessionStateIdle {
		o.mu.Unlock()
		return ErrStartInterrupted
	}
	if o.active != nil && o.state == domain.SessionStateListening {
		o.mu.Unlock()
		return nil
	}

	o.cancelResumeLocked()
	o.gen++
	prevAttempt := o.starting
	prev := o.detachLocked()
	sessionCtx, cancel := context.WithCancel(o.baseCtx)
	attempt := &startAttempt{gen: o.gen, cancel: cancel, done: make(chan struct{})}
	o.starting = attempt
	o.state = domain.SessionStateConnecting
	o.transcript = ""
	o.mu.Unlock()
	defer close(attempt.done)

	if prevAttempt != nil {
		prevAttempt.cancel()
		<-prevAttempt.done
	}
	if prev != nil {
		o.teardown(prev)
		o.metrics.RecordSessionEnd(string(domain.SessionReasonListeningRestarted))
	}

	reason := domain.SessionReasonListeningStarted
	if prev != nil || !explicit {
		reason = domain.SessionReasonListeningRestarted
	}

	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	o.events.SessionStateChanged(domain.SessionStateConnecting, reason)

	token, err := o.tokens.GetToken(sessionCtx)
	if err != nil {
		return o.failStart(ctx, attempt, nil, err)
	}
	client := o.transcribers.NewClient()
	if err := client.Connect(sessionCtx, token); err != nil {
		return o.failStart(ctx, attempt, client, err)
	}

	id := uuid.NewString()
	sess := &listenSession{
		id:     id,
		client: client,
		cancel: cancel,
		log:    logging.WithSession(o.log, id),
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	if o.gen != attempt.gen || o.closed || sessionCtx.Err() != nil {
		o.mu.Unlock()
		return o.failStart(ctx, attempt, client, ErrStartInterrupted)
	}
	o.starting = nil
	o.active = sess
	o.state = domain.SessionStateListening
	o.transcript = ""
	o.pendingFinal = ""
	o.armLocked(sess, &sess.inactivity, o.cfg.InactivityTimeout, func() {
		o.endSession(sess, domain.SessionReasonInactivityTimeout)
	})
	o.armLocked(sess, &sess.ceiling, o.cfg.SessionTimeout, func() {
		o.endSession(sess, domain.SessionReasonSessionTimeout)
	})
	o.mu.Unlock()

	o.metrics.RecordSessionStart(nil)
	sess.log.Info().Str("reason", string(reason)).Msg("listening")
	o.events.SessionStateChanged(domain.SessionStateListening, reason)
	go o.consume(sess)
	return nil
}

// failStart releases a start attempt. Superseded attempts return
// ErrStartInterrupted without emitting anything.
func (o *SessionOrchestrator) failStart(ctx context.Context, attempt *startAttempt, client ports.TranscriptionClient, err error) error {
	if client != nil {
		_ = client.Disconnect()
	}
	attempt.cancel()

	o.mu.Lock()
	current := o.gen == attempt.gen && !o.closed
	if current {
		o.starting = nil
		o.state = domain.SessionStateIdle
	}
	o.mu.Unlock()

	if !current {
		return ErrStartInterrupted
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		o.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonStoppedByUser)
		return ctxErr
	}

	reason := domain.SessionReasonConnectFailed
	var captureErr *domain.CaptureError
	if errors.As(err, &captureErr) {
		reason = domain.SessionReasonCaptureFailed
	} else {
		// The token may be what the server rejected.
		o.tokens.Invalidate()
	}

	o.metrics.RecordSessionStart(err)
	o.log.Warn().Err(err).Str("reason", string(reason)).Msg("failed to start listening")
	o.events.SessionError(domain.CodeOf(err), err.Error())
	o.events.SessionStateChanged(domain.SessionStateIdle, reason)
	return err
}

// StopListening disconnects the current session, interrupting a start in
// progress. It is safe to call when idle.
func (o *SessionOrchestrator) StopListening() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.intent++
	o.cancelResumeLocked()
	o.gen++
	attempt := o.starting
	o.starting = nil
	sess := o.detachLocked()
	live := attempt != nil || sess != nil
	if live && o.state != domain.SessionStateProcessing {
		o.state = domain.SessionStateIdle
	}
	o.mu.Unlock()

	if attempt != nil {
		attempt.cancel()
		<-attempt.done
	}
	if sess != nil {
		o.teardown(sess)
		o.metrics.RecordSessionEnd(string(domain.SessionReasonStoppedByUser))
		sess.log.Info().Msg("listening stopped by user")
	}
	if live {
		o.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonStoppedByUser)
	}
	return nil
}

// ProcessCommand stops listening and sends text to the NLU backend. Empty
// and repeated commands are ignored unless force is set. Dispatch failures
// are reported through the event sink, not returned. Listening resumes
// after ResumeDelay either way.
func (o *SessionOrchestrator) ProcessCommand(ctx context.Context, text string, force bool) error {
	command := strings.TrimSpace(text)
	if command == "" {
		o.metrics.RecordIgnored("empty")
		return ErrEmptyCommand
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if !force && command == o.lastProcessed {
		o.mu.Unlock()
		o.metrics.RecordIgnored("duplicate")
		o.log.Debug().Str("command", command).Msg("ignoring duplicate command")
		return ErrDuplicateCommand
	}
	o.lastProcessed = command
	o.cancelResumeLocked()
	o.processID++
	id := o.processID
	seq := o.intent
	o.gen++
	attempt := o.starting
	o.starting = nil
	sess := o.detachLocked()
	o.state = domain.SessionStateProcessing
	o.transcript = command
	req := domain.CommandRequest{
		Text:    command,
		Context: o.conversation.Clone(),
		UserID:  o.cfg.UserID,
	}
	o.mu.Unlock()

	if attempt != nil {
		attempt.cancel()
		<-attempt.done
	}
	if sess != nil {
		o.teardown(sess)
		o.metrics.RecordSessionEnd(string(domain.SessionReasonProcessing))
	}
	o.events.SessionStateChanged(domain.SessionStateProcessing, domain.SessionReasonProcessing)

	started := time.Now()
	result, err := o.dispatcher.Dispatch(ctx, req)
	o.metrics.RecordDispatch(err, time.Since(started).Seconds())
	if err != nil {
		var dispatchErr *domain.DispatchError
		if !errors.As(err, &dispatchErr) {
			err = &domain.DispatchError{Err: err}
		}
		o.log.Warn().Err(err).Str("command", command).Msg("command dispatch failed")
		o.events.SessionError(domain.ErrorCodeDispatch, err.Error())
		o.finishProcessing(id, seq, domain.SessionReasonDispatchFailed)
		return nil
	}

	o.mu.Lock()
	o.conversation = o.conversation.Apply(command, result)
	stored := result
	o.lastResult = &stored
	o.mu.Unlock()

	o.log.Info().
		Str("command", command).
		Str("intent", result.Intent).
		Bool("needsMoreInfo", result.NeedsMoreInfo).
		Msg("command processed")
	o.events.CommandResult(command, result)
	if strings.TrimSpace(result.Response) != "" {
		o.speak(result.Response)
	}
	o.finishProcessing(id, seq, domain.SessionReasonResponseReady)
	return nil
}

func (o *SessionOrchestrator) finishProcessing(id, seq uint64, reason domain.SessionStateReason) {
	o.mu.Lock()
	latest := o.processID == id && o.state == domain.SessionStateProcessing
	if latest {
		o.state = domain.SessionStateIdle
		if !o.cfg.DisableAutoResume && o.intent == seq && !o.closed {
			o.armResumeLocked(seq)
		}
	}
	o.mu.Unlock()

	if latest {
		o.events.SessionStateChanged(domain.SessionStateIdle, reason)
	}
}

// CancelSpeech stops any response playback.
func (o *SessionOrchestrator) CancelSpeech() {
	if o.speaker != nil {
		o.speaker.Cancel()
	}
}

// Status returns the current session status.
func (o *SessionOrchestrator) Status() domain.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return domain.Status{
		State:      o.state,
		Active:     o.state != domain.SessionStateIdle && o.state != domain.SessionStateError,
		Speaking:   o.speaking,
		Transcript: o.transcript,
	}
}

// Conversation returns a copy of the dialogue context sent with the next
// command.
func (o *SessionOrchestrator) Conversation() domain.ConversationContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conversation.Clone()
}

// LastResult returns the most recent successful command result.
func (o *SessionOrchestrator) LastResult() (domain.CommandResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastResult == nil {
		return domain.CommandResult{}, false
	}
	return *o.lastResult, true
}

// ResetConversation forgets dialogue context and duplicate suppression.
func (o *SessionOrchestrator) ResetConversation() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conversation = domain.ConversationContext{}
	o.lastProcessed = ""
	o.lastResult = nil
}

// Close stops listening and speech. The orchestrator cannot be reused.
func (o *SessionOrchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.cancelResumeLocked()
	o.gen++
	attempt := o.starting
	o.starting = nil
	sess := o.detachLocked()
	o.state = domain.SessionStateIdle
	o.mu.Unlock()

	o.closeBase()
	if attempt != nil {
		<-attempt.done
	}
	if sess != nil {
		o.teardown(sess)
		o.metrics.RecordSessionEnd("closed")
	}
	o.CancelSpeech()
	return nil
}

func (o *SessionOrchestrator) consume(sess *listenSession) {
	defer close(sess.done)

	for event := range sess.client.Events() {
		switch event.Kind {
		case domain.StreamEventConnected:
			sess.log.Debug().Msg("transcription connected")
		case domain.StreamEventTranscript:
			o.handleTranscript(sess, event.Transcript)
		case domain.StreamEventError:
			o.handleStreamError(sess, event.Err)
		case domain.StreamEventDisconnected:
			o.handleDisconnected(sess)
		}
	}
}

func (o *SessionOrchestrator) handleTranscript(sess *listenSession, event domain.TranscriptEvent) {
	o.mu.Lock()
	if o.active != sess || o.state != domain.SessionStateListening {
		o.mu.Unlock()
		return
	}
	o.transcript = event.Text
	o.armLocked(sess, &sess.inactivity, o.cfg.InactivityTimeout, func() {
		o.endSession(sess, domain.SessionReasonInactivityTimeout)
	})
	if event.IsFinal {
		o.pendingFinal = event.Text
		o.armLocked(sess, &sess.debounce, o.cfg.DispatchDebounce, func() {
			o.flushFinal(sess)
		})
	}
	o.mu.Unlock()

	if event.IsFinal {
		o.events.FinalTranscript(event.Text)
		return
	}
	o.events.PartialTranscript(event.Text)
}

func (o *SessionOrchestrator) handleStreamError(sess *listenSession, err error) {
	o.mu.Lock()
	current := o.active == sess
	if current && sess.failure == nil {
		sess.failure = err
	}
	o.mu.Unlock()
	if !current || err == nil {
		return
	}

	var captureErr *domain.CaptureError
	if !errors.As(err, &captureErr) {
		o.tokens.Invalidate()
	}
	sess.log.Warn().Err(err).Msg("transcription stream failed")
	o.events.SessionError(domain.CodeOf(err), err.Error())
}

// handleDisconnected runs on the consumer goroutine, so it must not wait
// for the consumer to finish.
func (o *SessionOrchestrator) handleDisconnected(sess *listenSession) {
	o.mu.Lock()
	if o.active != sess {
		o.mu.Unlock()
		return
	}
	pending := o.pendingFinal
	o.detachLocked()
	o.state = domain.SessionStateIdle
	reason := sess.endReason()
	o.mu.Unlock()

	sess.cancel()
	o.metrics.RecordSessionEnd(string(reason))
	sess.log.Info().Str("reason", string(reason)).Msg("transcription closed")
	o.events.SessionStateChanged(domain.SessionStateIdle, reason)

	if pending != "" {
		go o.dispatchFinal(pending)
	}
}

func (o *SessionOrchestrator) flushFinal(sess *listenSession) {
	o.mu.Lock()
	if o.active != sess {
		o.mu.Unlock()
		return
	}
	text := o.pendingFinal
	o.pendingFinal = ""
	o.mu.Unlock()

	if text != "" {
		o.dispatchFinal(text)
	}
}

func (o *SessionOrchestrator) dispatchFinal(text string) {
	err := o.ProcessCommand(o.baseCtx, text, false)
	if err != nil && !errors.Is(err, ErrClosed) {
		o.log.Debug().Err(err).Str("command", text).Msg("final transcript not dispatched")
	}
}

func (o *SessionOrchestrator) endSession(sess *listenSession, reason domain.SessionStateReason) {
	o.mu.Lock()
	if o.active != sess {
		o.mu.Unlock()
		return
	}
	o.detachLocked()
	o.state = domain.SessionStateIdle
	o.mu.Unlock()

	o.teardown(sess)
	o.metrics.RecordSessionEnd(string(reason))
	sess.log.Info().Str("reason", string(reason)).Msg("listening stopped")
	o.events.SessionStateChanged(domain.SessionStateIdle, reason)
}

func (o *SessionOrchestrator) speak(text string) {
	if o.speaker == nil {
		return
	}
	go func() {
		err := o.speaker.Speak(o.baseCtx, text, ports.SpeechCallbacks{
			OnStart: func() { o.setSpeaking(true) },
			OnEnd:   func() { o.setSpeaking(false) },
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			o.log.Warn().Err(err).Msg("speech playback failed")
			o.events.SessionError(domain.ErrorCodeSynthesis, err.Error())
		}
	}()
}

func (o *SessionOrchestrator) setSpeaking(speaking bool) {
	o.mu.Lock()
	if o.speaking == speaking {
		o.mu.Unlock()
		return
	}
	o.speaking = speaking
	o.mu.Unlock()
	o.events.SpeakingChanged(speaking)
}

// teardown must not be called from the session's consumer goroutine.
func (o *SessionOrchestrator) teardown(sess *listenSession) {
	_ = sess.client.Disconnect()
	sess.cancel()
	<-sess.done
}

// detachLocked clears the active session and its timers.
func (o *SessionOrchestrator) detachLocked() *listenSession {
	sess := o.active
	if sess == nil {
		return nil
	}
	sess.stopTimersLocked()
	o.active = nil
	o.pendingFinal = ""
	return sess
}

// armLocked replaces the timer in slot. fn runs only if the timer is still
// the one armed in slot for the active session when it fires.
func (o *SessionOrchestrator) armLocked(sess *listenSession, slot **time.Timer, d time.Duration, fn func()) {
	if *slot != nil {
		(*slot).Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		o.mu.Lock()
		if o.active != sess || *slot != timer {
			o.mu.Unlock()
			return
		}
		*slot = nil
		o.mu.Unlock()
		fn()
	})
	*slot = timer
}

func (o *SessionOrchestrator) armResumeLocked(seq uint64) {
	o.cancelResumeLocked()
	var timer *time.Timer
	timer = time.AfterFunc(o.cfg.ResumeDelay, func() {
		o.mu.Lock()
		if o.resume != timer {
			o.mu.Unlock()
			return
		}
		o.resume = nil
		o.mu.Unlock()

		err := o.startListening(o.baseCtx, false, seq)
		if err != nil && !errors.Is(err, ErrStartInterrupted) && !errors.Is(err, ErrClosed) {
			o.log.Warn().Err(err).Msg("failed to resume listening")
		}
	})
	o.resume = timer
}

func (o *SessionOrchestrator) cancelResumeLocked() {
	if o.resume != nil {
		o.resume.Stop()
		o.resume = nil
	}
}
