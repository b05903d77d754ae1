package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies voice data-channel payload variants.
type MessageType string

const (
	TypeSessionUpdate          MessageType = "session.update"
	TypeFunctionCallDone       MessageType = "response.function_call_arguments.done"
	TypeConversationItemCreate MessageType = "conversation.item.create"
	TypeError                  MessageType = "error"
)

// Conversation item types sent back after a tool invocation.
const (
	ItemFunctionCallOutput = "function_call_output"
	ItemFunctionCallError  = "function_call_error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// SessionUpdate configures the realtime session after the link opens: persona
// instructions, voice, and the one callable tool.
type SessionUpdate struct {
	Type    MessageType   `json:"type"`
	Session SessionConfig `json:"session"`
}

type SessionConfig struct {
	Instructions  string         `json:"instructions"`
	Voice         string         `json:"voice"`
	Modalities    []string       `json:"modalities"`
	TurnDetection *TurnDetection `json:"turn_detection,omitempty"`
	Tools         []Tool         `json:"tools,omitempty"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

type ToolParameters struct {
	Type       string                  `json:"type"`
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required"`
}

type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
}

// FunctionCallDone arrives when the agent finished streaming a tool call.
type FunctionCallDone struct {
	Type      MessageType `json:"type"`
	Name      string      `json:"name"`
	CallID    string      `json:"call_id"`
	Arguments string      `json:"arguments"`
}

// ErrorEvent is an upstream error surfaced on the data channel.
type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// ConversationItemCreate carries a tool result (or error) back to the agent.
type ConversationItemCreate struct {
	Type MessageType `json:"type"`
	Item Item        `json:"item"`
}

type Item struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// GenerateImageArgs are the parameters of the one exposed tool.
type GenerateImageArgs struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// NewBoothSessionUpdate builds the session configuration pushed when the
// voice link opens, exposing generateImage as the single callable action.
func NewBoothSessionUpdate(instructions, voice string) SessionUpdate {
	return SessionUpdate{
		Type: TypeSessionUpdate,
		Session: SessionConfig{
			Instructions: instructions,
			Voice:        voice,
			Modalities:   []string{"text", "audio"},
			TurnDetection: &TurnDetection{
				Type:              "server_vad",
				Threshold:         0.3,
				PrefixPaddingMS:   250,
				SilenceDurationMS: 400,
				CreateResponse:    true,
			},
			Tools: []Tool{
				{
					Type:        "function",
					Name:        "generateImage",
					Description: "Generate the visitor's personalized poster from their photo",
					Parameters: ToolParameters{
						Type: "object",
						Properties: map[string]ToolProperty{
							"prompt": {
								Type:        "string",
								Description: "The prompt to generate an image for",
							},
							"width": {
								Type:        "number",
								Description: "Width of the generated image (default: 1024)",
								Default:     1024,
							},
							"height": {
								Type:        "number",
								Description: "Height of the generated image (default: 1024)",
								Default:     1024,
							},
						},
						Required: []string{"prompt"},
					},
				},
			},
		},
	}
}

// FunctionOutput builds the success item for a completed tool call.
func FunctionOutput(callID string, output any) (ConversationItemCreate, error) {
	payload, err := json.Marshal(output)
	if err != nil {
		return ConversationItemCreate{}, fmt.Errorf("marshal function output: %w", err)
	}
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: Item{Type: ItemFunctionCallOutput, CallID: callID, Output: string(payload)},
	}, nil
}

// FunctionError builds the error item so the agent can apologize verbally.
func FunctionError(callID, message string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: Item{Type: ItemFunctionCallError, CallID: callID, Error: message},
	}
}

// ParseServerEvent decodes a data-channel message from the provider. Unknown
// types return ErrUnsupportedType so callers can skip chatter they don't
// handle.
func ParseServerEvent(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeFunctionCallDone:
		var msg FunctionCallDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.CallID == "" || msg.Name == "" {
			return nil, errors.New("invalid function call event")
		}
		return msg, nil
	case TypeError:
		var msg ErrorEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
