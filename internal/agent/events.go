package agent

import (
	"encoding/json"
	"fmt"
)

// Event is one server-to-client message on the agent socket. Exactly one of
// the typed variants is returned by ParseEvent; anything the bridge does not
// act on comes back as Unknown so new server event types never break a call.
type Event interface {
	eventType() string
}

type Welcome struct {
	RequestID string
}

type SettingsApplied struct{}

// UserStartedSpeaking is the barge-in signal: the caller talked over the
// agent and any queued playback must be flushed.
type UserStartedSpeaking struct{}

type AgentStartedSpeaking struct{}

// ConversationText is a finalized transcript line for either side of the
// conversation.
type ConversationText struct {
	Role    string
	Content string
}

type AgentError struct {
	Code        string
	Description string
}

type Unknown struct {
	Type string
}

func (Welcome) eventType() string              { return "Welcome" }
func (SettingsApplied) eventType() string      { return "SettingsApplied" }
func (UserStartedSpeaking) eventType() string  { return "UserStartedSpeaking" }
func (AgentStartedSpeaking) eventType() string { return "AgentStartedSpeaking" }
func (ConversationText) eventType() string     { return "ConversationText" }
func (AgentError) eventType() string           { return "Error" }
func (u Unknown) eventType() string            { return u.Type }

// ParseEvent decodes one text frame from the agent socket.
func ParseEvent(raw []byte) (Event, error) {
	var envelope struct {
		Type        string `json:"type"`
		RequestID   string `json:"request_id"`
		Role        string `json:"role"`
		Content     string `json:"content"`
		Code        string `json:"code"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode agent event: %w", err)
	}

	switch envelope.Type {
	case "Welcome":
		return Welcome{RequestID: envelope.RequestID}, nil
	case "SettingsApplied":
		return SettingsApplied{}, nil
	case "UserStartedSpeaking":
		return UserStartedSpeaking{}, nil
	case "AgentStartedSpeaking":
		return AgentStartedSpeaking{}, nil
	case "ConversationText":
		return ConversationText{Role: envelope.Role, Content: envelope.Content}, nil
	case "Error":
		return AgentError{Code: envelope.Code, Description: envelope.Description}, nil
	default:
		return Unknown{Type: envelope.Type}, nil
	}
}
