package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pplxchat/internal/core"
)

const sampleTask = `
apiKey: ${TEST_PPLX_TASK_KEY}
model: ${TEST_PPLX_TASK_MODEL:-sonar}
messages:
  - type: SYSTEM
    content: Be precise and concise.
  - type: USER
    content: What is the capital of ${TEST_PPLX_TASK_COUNTRY:-France}?
  - type: ASSISTANT
temperature: 0.7
topP: 0.8
topK: 5
maxTokens: ${TEST_PPLX_TASK_MAX:-128}
jsonResponseSchema: |
  {"type": "object"}
`

func TestParseTask_Render(t *testing.T) {
	t.Setenv("TEST_PPLX_TASK_KEY", "pplx-task")

	task, err := ParseTask([]byte(sampleTask))
	require.NoError(t, err)

	in, err := task.Render("pplx-fallback")
	require.NoError(t, err)

	assert.Equal(t, "pplx-task", in.APIKey)
	assert.Equal(t, "sonar", in.Model)
	require.Len(t, in.Messages, 3)
	assert.Equal(t, core.RoleSystem, in.Messages[0].Role)
	assert.Equal(t, "Be precise and concise.", *in.Messages[0].Content)
	assert.Equal(t, core.RoleUser, in.Messages[1].Role)
	assert.Equal(t, "What is the capital of France?", *in.Messages[1].Content)
	assert.Equal(t, core.RoleAssistant, in.Messages[2].Role)
	assert.Nil(t, in.Messages[2].Content)

	require.NotNil(t, in.Temperature)
	assert.Equal(t, 0.7, *in.Temperature)
	require.NotNil(t, in.TopP)
	assert.Equal(t, 0.8, *in.TopP)
	require.NotNil(t, in.TopK)
	assert.Equal(t, 5, *in.TopK)
	require.NotNil(t, in.MaxTokens)
	assert.Equal(t, 128, *in.MaxTokens, "expanded placeholder decodes into a number")
	assert.Nil(t, in.Stream)
	assert.Nil(t, in.PresencePenalty)
	require.NotNil(t, in.JSONResponseSchema)
	assert.JSONEq(t, `{"type":"object"}`, *in.JSONResponseSchema)
}

func TestRender_FallbackAPIKey(t *testing.T) {
	task, err := ParseTask([]byte("model: sonar\nmessages:\n  - type: USER\n    content: hi\n"))
	require.NoError(t, err)

	in, err := task.Render("pplx-fallback")
	require.NoError(t, err)
	assert.Equal(t, "pplx-fallback", in.APIKey)
}

func TestRender_UnresolvedPlaceholder(t *testing.T) {
	task, err := ParseTask([]byte("apiKey: ${TEST_PPLX_UNSET_KEY}\nmodel: sonar\nmessages:\n  - type: USER\n    content: hi\n"))
	require.NoError(t, err)

	_, err = task.Render("pplx-fallback")
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeConfiguration))
	assert.Contains(t, err.Error(), "apiKey")
	assert.Contains(t, err.Error(), "TEST_PPLX_UNSET_KEY")
}

func TestRender_UnresolvedInMessageContent(t *testing.T) {
	task, err := ParseTask([]byte("model: sonar\nmessages:\n  - type: USER\n    content: hello ${TEST_PPLX_UNSET_NAME}\n"))
	require.NoError(t, err)

	_, err = task.Render("k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "messages[0].content")
}

func TestRender_UnknownMessageType(t *testing.T) {
	task, err := ParseTask([]byte("model: sonar\nmessages:\n  - type: TOOL\n    content: hi\n"))
	require.NoError(t, err)

	_, err = task.Render("k")
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeConfiguration))
	assert.Contains(t, err.Error(), "messages[0].type")
}

func TestParseTask_Invalid(t *testing.T) {
	_, err := ParseTask([]byte("temperature: warm\n"))
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeConfiguration))
}

func TestLoadTask(t *testing.T) {
	path := writeFile(t, t.TempDir(), "task.yaml", "model: sonar\nmessages:\n  - type: user\n    content: hi\n")

	task, err := LoadTask(path)
	require.NoError(t, err)
	assert.Equal(t, "sonar", task.Model)

	_, err = LoadTask(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeConfiguration))
}
