package assemblyai

import (
	"encoding/json"
	"strings"

	"vcni/internal/domain"
)

type messageKind int

const (
	messageIgnored messageKind = iota
	messageBegin
	messageTranscript
	messageTerminated
	messageError
)

// serverMessage covers both the v3 streaming shape ({"type": "Turn", ...})
// and the legacy realtime shape ({"message_type": "FinalTranscript", ...}).
type serverMessage struct {
	Type            string `json:"type"`
	MessageType     string `json:"message_type"`
	Transcript      string `json:"transcript"`
	Text            string `json:"text"`
	EndOfTurn       bool   `json:"end_of_turn"`
	TurnIsFormatted bool   `json:"turn_is_formatted"`
	Error           string `json:"error"`
	ID              string `json:"id"`
	SessionID       string `json:"session_id"`
}

type parsedMessage struct {
	kind       messageKind
	transcript domain.TranscriptEvent
	sessionID  string
	errText    string
}

// parseMessage classifies a server payload. With formatTurns set, an
// unformatted end of turn is treated as partial because a formatted copy
// of the same turn follows.
func parseMessage(payload []byte, formatTurns bool) (parsedMessage, error) {
	var msg serverMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return parsedMessage{}, err
	}

	if errText := strings.TrimSpace(msg.Error); errText != "" {
		return parsedMessage{kind: messageError, errText: errText}, nil
	}

	tag := msg.Type
	if tag == "" {
		tag = msg.MessageType
	}

	switch tag {
	case "Begin", "SessionBegins":
		id := msg.ID
		if id == "" {
			id = msg.SessionID
		}
		return parsedMessage{kind: messageBegin, sessionID: id}, nil
	case "Turn":
		final := msg.EndOfTurn && (!formatTurns || msg.TurnIsFormatted)
		return parsedMessage{
			kind:       messageTranscript,
			transcript: domain.TranscriptEvent{Text: strings.TrimSpace(msg.Transcript), IsFinal: final},
		}, nil
	case "PartialTranscript":
		return parsedMessage{
			kind:       messageTranscript,
			transcript: domain.TranscriptEvent{Text: strings.TrimSpace(msg.Text)},
		}, nil
	case "FinalTranscript":
		return parsedMessage{
			kind:       messageTranscript,
			transcript: domain.TranscriptEvent{Text: strings.TrimSpace(msg.Text), IsFinal: true},
		}, nil
	case "Termination", "SessionTerminated":
		return parsedMessage{kind: messageTerminated}, nil
	case "Error":
		return parsedMessage{kind: messageError, errText: "server reported an unknown error"}, nil
	default:
		return parsedMessage{kind: messageIgnored}, nil
	}
}
