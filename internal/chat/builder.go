// Package chat implements the chat-completion task: request construction,
// the provider call and response extraction.
package chat

import (
	"bytes"
	"encoding/json"
	"fmt"

	"pplxchat/internal/core"
)

// Defaults applied when a sampling parameter is not supplied.
const (
	DefaultTemperature      = 0.2
	DefaultTopP             = 0.9
	DefaultTopK             = 0
	DefaultStream           = false
	DefaultPresencePenalty  = 0.0
	DefaultFrequencyPenalty = 0.0
)

// Input holds the resolved task configuration for one invocation.
// Nil pointers mean "not supplied".
type Input struct {
	APIKey             string             `json:"api_key"`
	Model              string             `json:"model"`
	Messages           []core.ChatMessage `json:"messages"`
	Temperature        *float64           `json:"temperature,omitempty"`
	TopP               *float64           `json:"top_p,omitempty"`
	TopK               *int               `json:"top_k,omitempty"`
	Stream             *bool              `json:"stream,omitempty"`
	PresencePenalty    *float64           `json:"presence_penalty,omitempty"`
	FrequencyPenalty   *float64           `json:"frequency_penalty,omitempty"`
	MaxTokens          *int               `json:"max_tokens,omitempty"`
	JSONResponseSchema *string            `json:"json_response_schema,omitempty"`
}

// BuildRequest maps resolved input into the provider request body.
// It performs no I/O and is deterministic for identical input.
func BuildRequest(in Input) (*core.CompletionRequest, error) {
	messages, err := buildMessages(in.Messages)
	if err != nil {
		return nil, err
	}

	req := &core.CompletionRequest{
		Model:            in.Model,
		Messages:         messages,
		Temperature:      floatOr(in.Temperature, DefaultTemperature),
		TopP:             floatOr(in.TopP, DefaultTopP),
		TopK:             DefaultTopK,
		Stream:           DefaultStream,
		PresencePenalty:  floatOr(in.PresencePenalty, DefaultPresencePenalty),
		FrequencyPenalty: floatOr(in.FrequencyPenalty, DefaultFrequencyPenalty),
	}
	if in.TopK != nil {
		req.TopK = *in.TopK
	}
	if in.Stream != nil {
		req.Stream = *in.Stream
	}
	if in.MaxTokens != nil {
		maxTokens := *in.MaxTokens
		req.MaxTokens = &maxTokens
	}

	if err := validateSampling(req); err != nil {
		return nil, err
	}

	format, err := WrapSchema(in.JSONResponseSchema)
	if err != nil {
		return nil, err
	}
	req.ResponseFormat = format

	return req, nil
}

// WrapSchema builds the structured-output wrapper for a raw JSON Schema string.
// A nil schema yields a nil wrapper; an invalid document is a configuration error.
func WrapSchema(schema *string) (*core.ResponseFormat, error) {
	if schema == nil {
		return nil, nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(*schema)); err != nil {
		return nil, core.NewConfigurationError("json_response_schema is not valid JSON", err)
	}

	return &core.ResponseFormat{
		Type: core.ResponseFormatJSONSchema,
		JSONSchema: core.JSONSchema{
			Schema: json.RawMessage(compact.Bytes()),
		},
	}, nil
}

// EncodeRequest serialises a built request. Output is byte-identical for equal requests.
func EncodeRequest(req *core.CompletionRequest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(req); err != nil {
		return nil, core.NewConfigurationError("failed to marshal request", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func buildMessages(in []core.ChatMessage) ([]core.Message, error) {
	out := make([]core.Message, 0, len(in))
	for i, msg := range in {
		role, ok := msg.Role.Wire()
		if !ok {
			return nil, core.NewConfigurationError(fmt.Sprintf("messages[%d]: unknown role %s", i, msg.Role), nil)
		}
		content := ""
		if msg.Content != nil {
			content = *msg.Content
		}
		out = append(out, core.Message{Role: role, Content: content})
	}
	return out, nil
}

func validateSampling(req *core.CompletionRequest) error {
	checks := []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"temperature", req.Temperature, 0, 2},
		{"top_p", req.TopP, 0, 1},
		{"presence_penalty", req.PresencePenalty, 0, 2},
		{"frequency_penalty", req.FrequencyPenalty, 0, 2},
	}
	for _, c := range checks {
		if c.value < c.min || c.value > c.max {
			return core.NewConfigurationError(fmt.Sprintf("%s must be between %g and %g, got %g", c.name, c.min, c.max, c.value), nil)
		}
	}
	if req.TopK < 0 {
		return core.NewConfigurationError(fmt.Sprintf("top_k must be >= 0, got %d", req.TopK), nil)
	}
	if req.MaxTokens != nil && *req.MaxTokens < 1 {
		return core.NewConfigurationError(fmt.Sprintf("max_tokens must be >= 1, got %d", *req.MaxTokens), nil)
	}
	return nil
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
