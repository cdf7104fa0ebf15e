package domain

import (
	"encoding/binary"
	"strings"
)

// SessionState models the hands-free listening lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateListening  SessionState = "listening"
	SessionStateProcessing SessionState = "processing"
	SessionStateError      SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonMicCold            SessionStateReason = "mic_cold"
	SessionReasonListeningStarted   SessionStateReason = "listening_started"
	SessionReasonListeningRestarted SessionStateReason = "listening_restarted"
	SessionReasonStoppedByUser      SessionStateReason = "stopped_by_user"
	SessionReasonInactivityTimeout  SessionStateReason = "inactivity_timeout"
	SessionReasonSessionTimeout     SessionStateReason = "session_timeout"
	SessionReasonConnectionClosed   SessionStateReason = "connection_closed"
	SessionReasonConnectFailed      SessionStateReason = "connect_failed"
	SessionReasonCaptureFailed      SessionStateReason = "capture_failed"
	SessionReasonProcessing         SessionStateReason = "processing"
	SessionReasonResponseReady      SessionStateReason = "response_ready"
	SessionReasonDispatchFailed     SessionStateReason = "dispatch_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodeCapture    ErrorCode = "capture"
	ErrorCodeConnection ErrorCode = "connection"
	ErrorCodeProtocol   ErrorCode = "protocol"
	ErrorCodeDispatch   ErrorCode = "dispatch"
	ErrorCodeSynthesis  ErrorCode = "synthesis"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// StreamEventKind tags a StreamEvent.
type StreamEventKind string

const (
	StreamEventConnected    StreamEventKind = "connected"
	StreamEventTranscript   StreamEventKind = "transcript"
	StreamEventError        StreamEventKind = "error"
	StreamEventDisconnected StreamEventKind = "disconnected"
)

// StreamEvent is delivered by a transcription client. Transcript is set for
// StreamEventTranscript and Err for StreamEventError.
type StreamEvent struct {
	Kind       StreamEventKind
	Transcript TranscriptEvent
	Err        error
}

// AudioFrame is a fixed-size block of signed 16-bit mono samples.
type AudioFrame []int16

// Bytes encodes the frame as little-endian PCM16.
func (f AudioFrame) Bytes() []byte {
	out := make([]byte, len(f)*2)
	for i, sample := range f {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// ConversationContext carries dialogue continuity between commands.
type ConversationContext struct {
	LastIntent       string         `json:"last_intent,omitempty"`
	LastSlots        map[string]any `json:"last_slots,omitempty"`
	LastCommand      string         `json:"last_command,omitempty"`
	AwaitingFollowup bool           `json:"awaiting_followup"`
	FollowupContext  string         `json:"followup_context,omitempty"`
}

// Clone returns a copy that shares no map storage with c.
func (c ConversationContext) Clone() ConversationContext {
	out := c
	if c.LastSlots != nil {
		out.LastSlots = make(map[string]any, len(c.LastSlots))
		for k, v := range c.LastSlots {
			out.LastSlots[k] = v
		}
	}
	return out
}

// Apply folds a successful command result into the context.
func (c ConversationContext) Apply(command string, result CommandResult) ConversationContext {
	next := ConversationContext{
		LastIntent:       result.Intent,
		LastCommand:      command,
		AwaitingFollowup: result.NeedsMoreInfo,
	}
	if len(result.Slots) > 0 {
		next.LastSlots = make(map[string]any, len(result.Slots))
		for k, v := range result.Slots {
			next.LastSlots[k] = v
		}
	}
	if result.NeedsMoreInfo {
		next.FollowupContext = result.FollowUpQuestion
	}
	return next
}

// CommandRequest is sent to the NLU backend.
type CommandRequest struct {
	Text    string              `json:"text"`
	Context ConversationContext `json:"context"`
	UserID  string              `json:"user_id"`
}

// CommandResult is the NLU backend's interpretation of a command.
type CommandResult struct {
	Intent           string         `json:"intent"`
	Slots            map[string]any `json:"slots"`
	Response         string         `json:"response"`
	UIMode           string         `json:"ui_mode,omitempty"`
	UIData           map[string]any `json:"ui_data,omitempty"`
	Action           map[string]any `json:"action,omitempty"`
	State            string         `json:"state,omitempty"`
	NeedsMoreInfo    bool           `json:"needs_more_info,omitempty"`
	FollowUpQuestion string         `json:"follow_up_question,omitempty"`
	Confidence       *float64       `json:"confidence,omitempty"`
}

// UI modes understood by the presentation layer.
const (
	UIModeWeather    = "weather"
	UIModeMusic      = "music"
	UIModeSmartHome  = "smart_home"
	UIModeAIResponse = "ai_response"
)

var intentUIModes = map[string]string{
	"weather_query":       UIModeWeather,
	"play_music":          UIModeMusic,
	"play_radio":          UIModeMusic,
	"play_podcasts":       UIModeMusic,
	"play_audiobook":      UIModeMusic,
	"iot_hue_lighton":     UIModeSmartHome,
	"iot_hue_lightoff":    UIModeSmartHome,
	"iot_hue_lightchange": UIModeSmartHome,
	"iot_hue_lightup":     UIModeSmartHome,
	"iot_hue_lightdim":    UIModeSmartHome,
	"iot_wemo_on":         UIModeSmartHome,
	"iot_wemo_off":        UIModeSmartHome,
	"iot_coffee":          UIModeSmartHome,
	"iot_cleaning":        UIModeSmartHome,
}

// UIModeForIntent maps an intent name to the presentation mode used when the
// backend omits ui_mode. Unknown intents fall back by family prefix.
func UIModeForIntent(intent string) string {
	name := strings.ToLower(strings.TrimSpace(intent))
	if mode, ok := intentUIModes[name]; ok {
		return mode
	}
	switch {
	case strings.HasPrefix(name, "weather_"):
		return UIModeWeather
	case strings.HasPrefix(name, "play_"):
		return UIModeMusic
	case strings.HasPrefix(name, "iot_"):
		return UIModeSmartHome
	default:
		return UIModeAIResponse
	}
}

// Status summarizes the current runtime status.
type Status struct {
	State      SessionState `json:"state"`
	Active     bool         `json:"active"`
	Speaking   bool         `json:"speaking"`
	Transcript string       `json:"transcript,omitempty"`
	Message    string       `json:"message,omitempty"`
}
