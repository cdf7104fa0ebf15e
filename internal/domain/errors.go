package domain

import (
	"errors"
	"fmt"
)

// CaptureError reports that the microphone could not be opened or read.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("audio capture: %v", e.Err) }
func (e *CaptureError) Unwrap() error { return e.Err }

// ConnectionError reports a credential fetch or socket failure.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("transcription connection: %v", e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports an error message sent by the transcription server.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return "transcription protocol: " + e.Message }

// DispatchError reports an NLU request that failed or returned garbage.
type DispatchError struct {
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("command dispatch: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("command dispatch: %v", e.Err)
}
func (e *DispatchError) Unwrap() error { return e.Err }

// SynthesisError reports a primary speech synthesis failure.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return fmt.Sprintf("speech synthesis: %v", e.Err) }
func (e *SynthesisError) Unwrap() error { return e.Err }

// CodeOf maps an error to the ErrorCode reported to the UI.
func CodeOf(err error) ErrorCode {
	var (
		captureErr    *CaptureError
		connectionErr *ConnectionError
		protocolErr   *ProtocolError
		dispatchErr   *DispatchError
		synthesisErr  *SynthesisError
	)
	switch {
	case errors.As(err, &captureErr):
		return ErrorCodeCapture
	case errors.As(err, &protocolErr):
		return ErrorCodeProtocol
	case errors.As(err, &connectionErr):
		return ErrorCodeConnection
	case errors.As(err, &dispatchErr):
		return ErrorCodeDispatch
	case errors.As(err, &synthesisErr):
		return ErrorCodeSynthesis
	default:
		return ErrorCodeConnection
	}
}
