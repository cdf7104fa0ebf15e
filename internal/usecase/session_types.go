package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"vcni/internal/domain"
	"vcni/internal/ports"
)

// listenSession is one connected transcription session. Its timers are only
// touched with the orchestrator mutex held.
type listenSession struct {
	id     string
	client ports.TranscriptionClient
	cancel context.CancelFunc
	log    zerolog.Logger

	inactivity *time.Timer
	ceiling    *time.Timer
	debounce   *time.Timer

	failure error
	// done is closed when the event consumer has drained the client.
	done chan struct{}
}

func (s *listenSession) stopTimersLocked() {
	for _, timer := range []*time.Timer{s.inactivity, s.ceiling, s.debounce} {
		if timer != nil {
			timer.Stop()
		}
	}
	s.inactivity = nil
	s.ceiling = nil
	s.debounce = nil
}

// endReason picks the idle reason for a session the server closed.
func (s *listenSession) endReason() domain.SessionStateReason {
	var captureErr *domain.CaptureError
	if errors.As(s.failure, &captureErr) {
		return domain.SessionReasonCaptureFailed
	}
	return domain.SessionReasonConnectionClosed
}

// startAttempt is a StartListening call that has not connected yet.
type startAttempt struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

type nopSink struct{}

func (nopSink) SessionStateChanged(domain.SessionState, domain.SessionStateReason) {}
func (nopSink) PartialTranscript(string)                                           {}
func (nopSink) FinalTranscript(string)                                             {}
func (nopSink) CommandResult(string, domain.CommandResult)                         {}
func (nopSink) SpeakingChanged(bool)                                               {}
func (nopSink) SessionError(domain.ErrorCode, string)                              {}
