package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"pplxchat/internal/chat"
	"pplxchat/internal/core"
)

// TaskFile is a chat-completion task as written on disk. Every string value
// may reference ${VAR} or ${VAR:-default}; rendering fails on any placeholder
// left unresolved.
type TaskFile struct {
	APIKey             string        `yaml:"apiKey"`
	Model              string        `yaml:"model"`
	Messages           []TaskMessage `yaml:"messages"`
	Temperature        *float64      `yaml:"temperature"`
	TopP               *float64      `yaml:"topP"`
	TopK               *int          `yaml:"topK"`
	Stream             *bool         `yaml:"stream"`
	PresencePenalty    *float64      `yaml:"presencePenalty"`
	FrequencyPenalty   *float64      `yaml:"frequencyPenalty"`
	MaxTokens          *int          `yaml:"maxTokens"`
	JSONResponseSchema *string       `yaml:"jsonResponseSchema"`
}

// TaskMessage is one message entry of a task file.
type TaskMessage struct {
	Type    string  `yaml:"type"`
	Content *string `yaml:"content"`
}

// LoadTask reads and expands a task file. Failures are configuration errors.
func LoadTask(path string) (*TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewConfigurationError(fmt.Sprintf("read task file %q", path), err)
	}
	return ParseTask(data)
}

// ParseTask expands and decodes a task document.
func ParseTask(data []byte) (*TaskFile, error) {
	var task TaskFile
	if err := decodeExpanded(data, &task); err != nil {
		return nil, core.NewConfigurationError("parse task file: "+err.Error(), err)
	}
	return &task, nil
}

// Render resolves the task into the input of a chat completion.
// fallbackAPIKey is used when the task carries no key of its own.
func (t *TaskFile) Render(fallbackAPIKey string) (chat.Input, error) {
	if err := t.checkResolved(); err != nil {
		return chat.Input{}, err
	}

	in := chat.Input{
		APIKey:             strings.TrimSpace(t.APIKey),
		Model:              strings.TrimSpace(t.Model),
		Temperature:        t.Temperature,
		TopP:               t.TopP,
		TopK:               t.TopK,
		Stream:             t.Stream,
		PresencePenalty:    t.PresencePenalty,
		FrequencyPenalty:   t.FrequencyPenalty,
		MaxTokens:          t.MaxTokens,
		JSONResponseSchema: t.JSONResponseSchema,
	}
	if in.APIKey == "" {
		in.APIKey = fallbackAPIKey
	}

	in.Messages = make([]core.ChatMessage, 0, len(t.Messages))
	for i, m := range t.Messages {
		role, err := core.ParseRole(m.Type)
		if err != nil {
			return chat.Input{}, core.NewConfigurationError(fmt.Sprintf("messages[%d].type: %v", i, err), err)
		}
		in.Messages = append(in.Messages, core.ChatMessage{Role: role, Content: m.Content})
	}

	return in, nil
}

type taskField struct {
	name  string
	value string
}

func (t *TaskFile) checkResolved() error {
	fields := []taskField{
		{"apiKey", t.APIKey},
		{"model", t.Model},
	}
	for i, m := range t.Messages {
		fields = append(fields, taskField{fmt.Sprintf("messages[%d].type", i), m.Type})
		if m.Content != nil {
			fields = append(fields, taskField{fmt.Sprintf("messages[%d].content", i), *m.Content})
		}
	}
	if t.JSONResponseSchema != nil {
		fields = append(fields, taskField{"jsonResponseSchema", *t.JSONResponseSchema})
	}

	for _, f := range fields {
		if vars := unresolvedVars(f.value); len(vars) > 0 {
			sort.Strings(vars)
			return core.NewConfigurationError(
				fmt.Sprintf("%s references unset variable(s): %s", f.name, strings.Join(vars, ", ")), nil)
		}
	}
	return nil
}
