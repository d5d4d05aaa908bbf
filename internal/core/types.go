package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a chat message. The set is closed.
type Role int

const (
	RoleSystem Role = iota + 1
	RoleAssistant
	RoleUser
)

var roleWire = map[Role]string{
	RoleSystem:    "system",
	RoleAssistant: "assistant",
	RoleUser:      "user",
}

// Wire returns the literal role string sent to the provider. ok is false for
// any value outside the closed set.
func (r Role) Wire() (string, bool) {
	s, ok := roleWire[r]
	return s, ok
}

func (r Role) String() string {
	if s, ok := roleWire[r]; ok {
		return s
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ParseRole accepts the wire string or the upper-case task-file name
// (SYSTEM, ASSISTANT, USER), case-insensitively.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for role, wire := range roleWire {
		if wire == name {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown message role %q (valid: system, assistant, user)", s)
}

// UnmarshalText lets roles be decoded from YAML and JSON documents.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// MarshalText encodes the role as its wire string.
func (r Role) MarshalText() ([]byte, error) {
	s, ok := r.Wire()
	if !ok {
		return nil, fmt.Errorf("unknown message role %d", int(r))
	}
	return []byte(s), nil
}

// ChatMessage is one caller-supplied conversation turn. Content may be nil.
type ChatMessage struct {
	Role    Role    `json:"type" yaml:"type"`
	Content *string `json:"content" yaml:"content"`
}

// Message represents a single message in the outgoing payload
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the provider wire body. Field order is fixed so that
// encoding is byte-stable.
type CompletionRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Temperature      float64         `json:"temperature"`
	TopP             float64         `json:"top_p"`
	TopK             int             `json:"top_k"`
	Stream           bool            `json:"stream"`
	PresencePenalty  float64         `json:"presence_penalty"`
	FrequencyPenalty float64         `json:"frequency_penalty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormatJSONSchema is the only structured-output type the provider accepts.
const ResponseFormatJSONSchema = "json_schema"

// ResponseFormat constrains the completion to a caller-supplied JSON Schema.
type ResponseFormat struct {
	Type       string     `json:"type"`
	JSONSchema JSONSchema `json:"json_schema"`
}

// JSONSchema holds the schema document verbatim (compacted).
type JSONSchema struct {
	Schema json.RawMessage `json:"schema"`
}

// CompletionResult is the output of one successful invocation
type CompletionResult struct {
	OutputText  string `json:"output_text"`
	RawResponse string `json:"raw_response"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}
