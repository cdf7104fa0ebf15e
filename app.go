package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"vcni/internal/bootstrap"
	"vcni/internal/config"
	"vcni/internal/domain"
	"vcni/internal/usecase"
)

const (
	eventSession  = "vcni:session"
	eventPartial  = "vcni:partial"
	eventFinal    = "vcni:final"
	eventResult   = "vcni:result"
	eventSpeaking = "vcni:speaking"
	eventError    = "vcni:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	orchestrator *usecase.SessionOrchestrator
	services     bootstrap.Services
	cfg          config.Config
	bootErr      error

	// emit is swapped out in tests.
	emit func(ctx context.Context, name string, data ...interface{})
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.orchestrator = services.Orchestrator
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonMicCold)
}

func (a *App) shutdown(context.Context) {
	if a.orchestrator == nil {
		return
	}
	_ = a.services.Close()
}

// StartListening opens the microphone and a transcription session.
func (a *App) StartListening() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.orchestrator.StartListening(a.ctx); err != nil && !errors.Is(err, usecase.ErrStartInterrupted) {
		return a.orchestrator.Status(), err
	}
	return a.orchestrator.Status(), nil
}

// StopListening closes the current transcription session.
func (a *App) StopListening() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.orchestrator.StopListening(); err != nil {
		return domain.Status{}, err
	}
	return a.orchestrator.Status(), nil
}

// ProcessCommand sends typed text to the assistant. The response arrives
// as a vcni:result event.
func (a *App) ProcessCommand(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	err := a.orchestrator.ProcessCommand(a.ctx, text, true)
	if errors.Is(err, usecase.ErrEmptyCommand) {
		return nil
	}
	return err
}

// CancelSpeech stops the spoken response.
func (a *App) CancelSpeech() {
	if a.orchestrator != nil {
		a.orchestrator.CancelSpeech()
	}
}

// ResetConversation forgets follow-up context.
func (a *App) ResetConversation() {
	if a.orchestrator != nil {
		a.orchestrator.ResetConversation()
	}
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.orchestrator == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.orchestrator.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"backend":          a.cfg.Backend.BaseURL,
		"transcription":    "AssemblyAI " + a.cfg.Transcription.Protocol,
		"sampleRate":       fmt.Sprintf("%d", a.cfg.Transcription.SampleRate),
		"speaker":          a.cfg.Backend.Speaker,
		"speech":           enabledLabel(a.cfg.Speech.Enabled),
		"autoResume":       enabledLabel(a.cfg.Session.AutoResume),
		"audioBackend":     a.cfg.Audio.Backend,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"events":           enabledLabel(a.cfg.KafkaEnabled()),
		"configFile":       a.cfg.Source,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.orchestrator == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) send(name string, data interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, data)
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.send(eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// PartialTranscript emits live partial transcript text.
func (a *App) PartialTranscript(text string) {
	a.send(eventPartial, map[string]string{"text": text})
}

// FinalTranscript emits a finalized utterance.
func (a *App) FinalTranscript(text string) {
	a.send(eventFinal, map[string]string{"text": text})
}

// CommandResult emits the assistant response for a command.
func (a *App) CommandResult(command string, result domain.CommandResult) {
	uiMode := result.UIMode
	if uiMode == "" {
		uiMode = domain.UIModeForIntent(result.Intent)
	}
	a.send(eventResult, map[string]interface{}{
		"command":          command,
		"intent":           result.Intent,
		"response":         result.Response,
		"uiMode":           uiMode,
		"uiData":           result.UIData,
		"slots":            result.Slots,
		"needsMoreInfo":    result.NeedsMoreInfo,
		"followUpQuestion": result.FollowUpQuestion,
	})
}

// SpeakingChanged emits playback start and stop.
func (a *App) SpeakingChanged(speaking bool) {
	a.send(eventSpeaking, map[string]bool{"speaking": speaking})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonMicCold:
		return "Mic cold"
	case domain.SessionReasonListeningStarted:
		return "Listening"
	case domain.SessionReasonListeningRestarted:
		return "Listening again"
	case domain.SessionReasonStoppedByUser:
		return "Stopped listening"
	case domain.SessionReasonInactivityTimeout:
		return "Stopped listening after silence"
	case domain.SessionReasonSessionTimeout:
		return "Listening time limit reached"
	case domain.SessionReasonConnectionClosed:
		return "Transcription connection closed"
	case domain.SessionReasonConnectFailed:
		return "Could not connect to transcription"
	case domain.SessionReasonCaptureFailed:
		return "Microphone unavailable"
	case domain.SessionReasonProcessing:
		return "Thinking..."
	case domain.SessionReasonResponseReady:
		return "Response ready"
	case domain.SessionReasonDispatchFailed:
		return "Command failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCapture:
		return "Microphone error"
	case domain.ErrorCodeConnection:
		return "Connection error"
	case domain.ErrorCodeProtocol:
		return "Transcription error"
	case domain.ErrorCodeDispatch:
		return "Assistant request failed"
	case domain.ErrorCodeSynthesis:
		return "Speech playback failed"
	default:
		if strings.TrimSpace(detail) == "" {
			return "Unknown error"
		}
		return detail
	}
}
