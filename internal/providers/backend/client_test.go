package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"vcni/internal/domain"
)

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{BaseURL: "http://example.test/ "}, zerolog.Nop())
	if c.cfg.Speaker != "moon" {
		t.Fatalf("unexpected default speaker %q", c.cfg.Speaker)
	}
	if got := c.endpoint(c.cfg.TokenPath); got != "http://example.test/api/assemblyai/token" {
		t.Fatalf("unexpected token endpoint %q", got)
	}
	if got := c.endpoint("https://other.test/x"); got != "https://other.test/x" {
		t.Fatalf("absolute paths should pass through, got %q", got)
	}
}

func TestFetchToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/assemblyai/token" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"token":"abc123"}`))
	}))
	defer srv.Close()

	token, err := NewClient(Config{BaseURL: srv.URL}, zerolog.Nop()).FetchToken(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if token != "abc123" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestFetchTokenFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"detail":"Failed to get AssemblyAI token"}`))
		},
		"missing": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		},
	}
	for name, handler := range cases {
		srv := httptest.NewServer(handler)
		_, err := NewClient(Config{BaseURL: srv.URL}, zerolog.Nop()).FetchToken(context.Background())
		srv.Close()

		var connErr *domain.ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("%s: expected ConnectionError, got %v", name, err)
		}
	}
}

func TestDispatchSendsContextAndFillsUIMode(t *testing.T) {
	t.Parallel()

	var got domain.CommandRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/nlu/process" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"intent":"weather_query","slots":{"place_name":"Paris"},"response":"Sunny in Paris","state":"completed","needs_more_info":false,"follow_up_question":null,"confidence":0.93}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, UserID: "user-1"}, zerolog.Nop())
	result, err := client.Dispatch(context.Background(), domain.CommandRequest{
		Text:    "weather in paris",
		Context: domain.ConversationContext{LastIntent: "play_music"},
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if got.Text != "weather in paris" || got.UserID != "user-1" || got.Context.LastIntent != "play_music" {
		t.Fatalf("unexpected request body: %+v", got)
	}
	if result.UIMode != domain.UIModeWeather {
		t.Fatalf("expected ui_mode fallback, got %q", result.UIMode)
	}
	if result.Response != "Sunny in Paris" || result.Slots["place_name"] != "Paris" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Confidence == nil || *result.Confidence != 0.93 {
		t.Fatalf("expected confidence to be carried")
	}
}

func TestDispatchKeepsExplicitUIMode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"intent":"weather_query","response":"ok","ui_mode":"ai_response"}`))
	}))
	defer srv.Close()

	result, err := NewClient(Config{BaseURL: srv.URL}, zerolog.Nop()).Dispatch(context.Background(), domain.CommandRequest{Text: "x"})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if result.UIMode != domain.UIModeAIResponse {
		t.Fatalf("explicit ui_mode overwritten: %q", result.UIMode)
	}
}

func TestDispatchFailuresAreDispatchErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}, zerolog.Nop()).Dispatch(context.Background(), domain.CommandRequest{Text: "x"})
	var dispatchErr *domain.DispatchError
	if !errors.As(err, &dispatchErr) || dispatchErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected DispatchError with status, got %v", err)
	}
}

func TestSynthesizeStreamsBody(t *testing.T) {
	t.Parallel()

	var got ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "audio/pcm" {
			t.Errorf("unexpected accept header %q", r.Header.Get("Accept"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/pcm")
		w.Header().Set("X-Sample-Rate", "22050")
		_, _ = w.Write([]byte{1, 2, 3, 4})
	}))
	defer srv.Close()

	audio, err := NewClient(Config{BaseURL: srv.URL}, zerolog.Nop()).Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	defer audio.Body.Close()

	body, _ := io.ReadAll(audio.Body)
	if len(body) != 4 || audio.ContentType != "audio/pcm" || audio.SampleRate != 22050 {
		t.Fatalf("unexpected audio: %+v len=%d", audio, len(body))
	}
	if got.Text != "hello" || got.Speaker != "moon" {
		t.Fatalf("unexpected tts request: %+v", got)
	}
}

func TestSynthesizeErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Rime API key not configured"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}, zerolog.Nop()).Synthesize(context.Background(), "hello")
	var synthErr *domain.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("expected SynthesisError, got %v", err)
	}
}
