package events

import (
	"testing"

	"vcni/internal/domain"
)

type recordingSink struct {
	calls []string
}

func (r *recordingSink) SessionStateChanged(state domain.SessionState, _ domain.SessionStateReason) {
	r.calls = append(r.calls, "state:"+string(state))
}
func (r *recordingSink) PartialTranscript(text string) { r.calls = append(r.calls, "partial:"+text) }
func (r *recordingSink) FinalTranscript(text string)   { r.calls = append(r.calls, "final:"+text) }
func (r *recordingSink) CommandResult(command string, _ domain.CommandResult) {
	r.calls = append(r.calls, "result:"+command)
}
func (r *recordingSink) SpeakingChanged(speaking bool) {
	if speaking {
		r.calls = append(r.calls, "speaking")
		return
	}
	r.calls = append(r.calls, "quiet")
}
func (r *recordingSink) SessionError(code domain.ErrorCode, _ string) {
	r.calls = append(r.calls, "error:"+string(code))
}

func TestFanoutForwardsToEverySink(t *testing.T) {
	t.Parallel()

	first := &recordingSink{}
	second := &recordingSink{}
	sink := NewFanout(first, nil, second)
	if len(sink) != 2 {
		t.Fatalf("expected nil sink dropped, got %d sinks", len(sink))
	}

	sink.SessionStateChanged(domain.SessionStateListening, domain.SessionReasonListeningStarted)
	sink.PartialTranscript("turn on")
	sink.FinalTranscript("turn on the lights")
	sink.CommandResult("turn on the lights", domain.CommandResult{})
	sink.SpeakingChanged(true)
	sink.SpeakingChanged(false)
	sink.SessionError(domain.ErrorCodeSynthesis, "no engine")

	want := []string{
		"state:listening",
		"partial:turn on",
		"final:turn on the lights",
		"result:turn on the lights",
		"speaking",
		"quiet",
		"error:synthesis",
	}
	for _, rec := range []*recordingSink{first, second} {
		if len(rec.calls) != len(want) {
			t.Fatalf("unexpected calls: %q", rec.calls)
		}
		for i := range want {
			if rec.calls[i] != want[i] {
				t.Fatalf("call %d: expected %q, got %q", i, want[i], rec.calls[i])
			}
		}
	}
}
