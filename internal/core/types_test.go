package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		input   string
		want    Role
		wantErr bool
	}{
		{"system", RoleSystem, false},
		{"assistant", RoleAssistant, false},
		{"user", RoleUser, false},
		{"USER", RoleUser, false},
		{"  System ", RoleSystem, false},
		{"tool", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRole(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRole_Wire(t *testing.T) {
	for role, want := range map[Role]string{RoleSystem: "system", RoleAssistant: "assistant", RoleUser: "user"} {
		got, ok := role.Wire()
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := Role(0).Wire()
	assert.False(t, ok, "zero role is outside the closed set")
	_, ok = Role(42).Wire()
	assert.False(t, ok)
	assert.Equal(t, "Role(42)", Role(42).String())
}

func TestChatMessage_YAML(t *testing.T) {
	doc := `
- type: USER
  content: "What is 2 plus 2?"
- type: system
  content: null
- type: assistant
`
	var msgs []ChatMessage
	require.NoError(t, yaml.Unmarshal([]byte(doc), &msgs))
	require.Len(t, msgs, 3)

	assert.Equal(t, RoleUser, msgs[0].Role)
	require.NotNil(t, msgs[0].Content)
	assert.Equal(t, "What is 2 plus 2?", *msgs[0].Content)
	assert.Equal(t, RoleSystem, msgs[1].Role)
	assert.Nil(t, msgs[1].Content)
	assert.Nil(t, msgs[2].Content)
}

func TestChatMessage_UnknownRoleRejected(t *testing.T) {
	var msg ChatMessage
	err := json.Unmarshal([]byte(`{"type":"TOOL","content":"x"}`), &msg)
	require.Error(t, err)
}

func TestCompletionRequest_OptionalFieldsOmitted(t *testing.T) {
	req := CompletionRequest{
		Model:    "sonar",
		Messages: []Message{{Role: "user", Content: ""}},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	assert.Equal(t,
		`{"model":"sonar","messages":[{"role":"user","content":""}],"temperature":0,"top_p":0,"top_k":0,"stream":false,"presence_penalty":0,"frequency_penalty":0}`,
		string(data))
}
