// Package session drives the live interview dialog: the per-connection
// orchestrator state machine, the connection registry, the generator context
// builder, and the readiness classifier.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hireloop/hireloop/internal/models"
)

// ClientKind enumerates incoming message kinds. Unknown kinds get a
// structured error reply and the dialog loop continues.
type ClientKind string

const (
	ClientKindStart   ClientKind = "start"
	ClientKindText    ClientKind = "text"
	ClientKindAudio   ClientKind = "audio"
	ClientKindEnd     ClientKind = "end"
	ClientKindUnknown ClientKind = "unknown"
)

// ClientMessage is one message received from the candidate's client. Audio
// arrives as a binary frame; everything else is a JSON text frame.
type ClientMessage struct {
	Kind  ClientKind
	Text  string
	Audio []byte
}

type clientEnvelope struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseClientText decodes a JSON text frame into a ClientMessage. A frame
// with an unrecognized type parses to ClientKindUnknown rather than an error.
func ParseClientText(payload []byte) (ClientMessage, error) {
	var env clientEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("malformed client message: %w", err)
	}
	switch ClientKind(env.Type) {
	case ClientKindStart:
		return ClientMessage{Kind: ClientKindStart}, nil
	case ClientKindText:
		return ClientMessage{Kind: ClientKindText, Text: env.Text}, nil
	case ClientKindEnd:
		return ClientMessage{Kind: ClientKindEnd}, nil
	default:
		return ClientMessage{Kind: ClientKindUnknown, Text: env.Type}, nil
	}
}

// AudioMessage wraps a binary frame as an audio client message.
func AudioMessage(data []byte) ClientMessage {
	return ClientMessage{Kind: ClientKindAudio, Audio: data}
}

// ServerMessage is one message sent to the candidate's client.
type ServerMessage struct {
	Type              string                    `json:"type"`
	Role              models.Role               `json:"role,omitempty"`
	Message           string                    `json:"message,omitempty"`
	SessionID         string                    `json:"session_id,omitempty"`
	AudioURL          string                    `json:"audio_url,omitempty"`
	Timestamp         string                    `json:"timestamp,omitempty"`
	Metadata          *models.GeneratorMetadata `json:"metadata,omitempty"`
	QuestionType      models.QuestionType       `json:"questionType,omitempty"`
	Transcript        []TranscriptReplayEntry   `json:"transcript,omitempty"`
	NextQuestionIndex *int                      `json:"nextQuestionIndex,omitempty"`
	RemainingSeconds  *int                      `json:"remainingSeconds,omitempty"`
}

// TranscriptReplayEntry is one prior turn replayed to a resuming client.
type TranscriptReplayEntry struct {
	Role      models.Role `json:"role"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
	AudioURL  string      `json:"audioUrl,omitempty"`
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ConnectedMessage greets a freshly connected client.
func ConnectedMessage(sessionID string) ServerMessage {
	return ServerMessage{
		Type:      "connected",
		Message:   "Подключено к интервью",
		SessionID: sessionID,
	}
}

// ResumeMessage replays history to a reconnecting client.
func ResumeMessage(sessionID string, transcript []TranscriptReplayEntry, nextQuestionIndex, remainingSeconds int) ServerMessage {
	return ServerMessage{
		Type:              "resume",
		Message:           "Сессия восстановлена",
		SessionID:         sessionID,
		Transcript:        transcript,
		NextQuestionIndex: &nextQuestionIndex,
		RemainingSeconds:  &remainingSeconds,
	}
}

// TranscriptionMessage echoes the recognized candidate text back to the client.
func TranscriptionMessage(text string) ServerMessage {
	return ServerMessage{
		Type:      "transcription",
		Message:   text,
		Timestamp: nowStamp(),
	}
}

// AssistantMessage carries one assistant dialog turn.
func AssistantMessage(text, audioURL string, meta *models.GeneratorMetadata, qt models.QuestionType) ServerMessage {
	return ServerMessage{
		Type:         "message",
		Role:         models.RoleAssistant,
		Message:      text,
		AudioURL:     audioURL,
		Timestamp:    nowStamp(),
		Metadata:     meta,
		QuestionType: qt,
	}
}

// TimeExpiredMessage notifies the client that the allotted time has run out.
func TimeExpiredMessage() ServerMessage {
	return ServerMessage{
		Type:      "time_expired",
		Message:   "Время интервью истекло",
		Timestamp: nowStamp(),
	}
}

// ErrorMessage reports a recoverable failure; the dialog continues.
func ErrorMessage(text string) ServerMessage {
	return ServerMessage{
		Type:    "error",
		Message: text,
	}
}

// EndedMessage closes out the dialog.
func EndedMessage() ServerMessage {
	return ServerMessage{
		Type:      "ended",
		Message:   "Интервью завершено",
		Timestamp: nowStamp(),
	}
}
