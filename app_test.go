package main

import (
	"context"
	"errors"
	"testing"

	"vcni/internal/domain"
)

func TestSessionReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.SessionStateReason]string{
		domain.SessionReasonMicCold:            "Mic cold",
		domain.SessionReasonListeningStarted:   "Listening",
		domain.SessionReasonListeningRestarted: "Listening again",
		domain.SessionReasonStoppedByUser:      "Stopped listening",
		domain.SessionReasonInactivityTimeout:  "Stopped listening after silence",
		domain.SessionReasonSessionTimeout:     "Listening time limit reached",
		domain.SessionReasonConnectionClosed:   "Transcription connection closed",
		domain.SessionReasonConnectFailed:      "Could not connect to transcription",
		domain.SessionReasonCaptureFailed:      "Microphone unavailable",
		domain.SessionReasonProcessing:         "Thinking...",
		domain.SessionReasonResponseReady:      "Response ready",
		domain.SessionReasonDispatchFailed:     "Command failed",
	}

	for reason, want := range cases {
		reason, want := reason, want
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			if got := sessionReasonMessage(reason); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := sessionReasonMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown reason message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:    "Startup failed",
		domain.ErrorCodeCapture:    "Microphone error",
		domain.ErrorCodeConnection: "Connection error",
		domain.ErrorCodeProtocol:   "Transcription error",
		domain.ErrorCodeDispatch:   "Assistant request failed",
		domain.ErrorCodeSynthesis:  "Speech playback failed",
	}
	for code, want := range cases {
		code, want := code, want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}
	if _, err := app.StartListening(); err == nil {
		t.Fatalf("expected start to fail before startup")
	}
	if err := app.ProcessCommand("hello"); err == nil {
		t.Fatalf("expected command to fail before startup")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.StopListening(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error from stop, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	status := app.GetStatus()
	if status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.State != domain.SessionStateError || status.Active != false || status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("expected boot error in runtime info, got %+v", info)
	}
}

type emitted struct {
	name string
	data interface{}
}

func TestEventsAreEmittedOnlyAfterStartup(t *testing.T) {
	t.Parallel()

	var got []emitted
	app := &App{emit: func(_ context.Context, name string, data ...interface{}) {
		got = append(got, emitted{name: name, data: data[0]})
	}}

	app.PartialTranscript("ignored")
	if len(got) != 0 {
		t.Fatalf("expected no events without a context, got %+v", got)
	}

	app.ctx = context.Background()
	app.SessionStateChanged(domain.SessionStateListening, domain.SessionReasonListeningStarted)
	app.FinalTranscript("play some jazz")
	app.CommandResult("play some jazz", domain.CommandResult{Intent: "play_music", Response: "Playing jazz."})
	app.SpeakingChanged(true)
	app.SessionError(domain.ErrorCodeSynthesis, "no engine")

	wantNames := []string{eventSession, eventFinal, eventResult, eventSpeaking, eventError}
	if len(got) != len(wantNames) {
		t.Fatalf("expected %d events, got %+v", len(wantNames), got)
	}
	for i, name := range wantNames {
		if got[i].name != name {
			t.Fatalf("event %d: expected %q, got %q", i, name, got[i].name)
		}
	}

	session := got[0].data.(map[string]string)
	if session["state"] != "listening" || session["message"] != "Listening" {
		t.Fatalf("unexpected session payload: %+v", session)
	}
	result := got[2].data.(map[string]interface{})
	if result["uiMode"] != domain.UIModeMusic || result["response"] != "Playing jazz." {
		t.Fatalf("unexpected result payload: %+v", result)
	}
	speaking := got[3].data.(map[string]bool)
	if !speaking["speaking"] {
		t.Fatalf("unexpected speaking payload: %+v", speaking)
	}
}
