package events

import (
	"vcni/internal/domain"
	"vcni/internal/ports"
)

// Fanout forwards every event to each sink in order.
type Fanout []ports.EventSink

// NewFanout drops nil sinks.
func NewFanout(sinks ...ports.EventSink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

func (f Fanout) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	for _, sink := range f {
		sink.SessionStateChanged(state, reason)
	}
}

func (f Fanout) PartialTranscript(text string) {
	for _, sink := range f {
		sink.PartialTranscript(text)
	}
}

func (f Fanout) FinalTranscript(text string) {
	for _, sink := range f {
		sink.FinalTranscript(text)
	}
}

func (f Fanout) CommandResult(command string, result domain.CommandResult) {
	for _, sink := range f {
		sink.CommandResult(command, result)
	}
}

func (f Fanout) SpeakingChanged(speaking bool) {
	for _, sink := range f {
		sink.SpeakingChanged(speaking)
	}
}

func (f Fanout) SessionError(code domain.ErrorCode, detail string) {
	for _, sink := range f {
		sink.SessionError(code, detail)
	}
}
