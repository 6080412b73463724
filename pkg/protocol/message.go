// Package protocol defines the provider-neutral conversation model shared
// by the adapters, the tool-calling loop, and the HTTP boundary.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall is one function invocation requested by the model. Arguments is
// always a JSON-encoded object, regardless of the provider's native shape.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ArgumentsMap decodes the arguments object. Empty arguments decode to an
// empty map.
func (c ToolCall) ArgumentsMap() (map[string]any, error) {
	if c.Arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
		return nil, fmt.Errorf("tool %q has invalid arguments: %w", c.Name, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// Message is one conversation turn. ToolCallID and Name are set only on
// tool-result messages; Name carries the tool name for providers that need
// it on the result (Gemini, Ollama).
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewAssistantToolCalls builds the assistant turn recording a dispatch
// decision. Content may carry text the model produced alongside the calls.
func NewAssistantToolCalls(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

func NewToolMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}

// ToolSchema is a provider-neutral tool declaration. Parameters is a JSON
// schema object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ValidateConversation checks the structural pairing of tool calls and tool
// results: every tool message must answer a call of the immediately
// preceding assistant batch, and each call is answered exactly once before
// the conversation moves on.
func ValidateConversation(messages []Message) error {
	pending := make(map[string]bool)

	for i, m := range messages {
		switch m.Role {
		case RoleTool:
			if len(pending) == 0 {
				return fmt.Errorf("message %d: tool result without a preceding tool call", i)
			}
			if m.ToolCallID == "" {
				return fmt.Errorf("message %d: tool result missing tool_call_id", i)
			}
			if !pending[m.ToolCallID] {
				return fmt.Errorf("message %d: tool result references unknown call %q", i, m.ToolCallID)
			}
			delete(pending, m.ToolCallID)

		case RoleAssistant:
			if len(pending) > 0 {
				return fmt.Errorf("message %d: assistant turn before all tool calls were answered", i)
			}
			for _, tc := range m.ToolCalls {
				pending[tc.ID] = true
			}

		default:
			if len(pending) > 0 {
				return fmt.Errorf("message %d: %s turn before all tool calls were answered", i, m.Role)
			}
		}
	}

	if len(pending) > 0 {
		return fmt.Errorf("conversation ends with %d unanswered tool calls", len(pending))
	}
	return nil
}
