package chat

import (
	"fmt"

	"github.com/tidwall/gjson"

	"pplxchat/internal/core"
	"pplxchat/internal/usage"
)

// ProviderName labels errors and ledger entries produced by this package.
const ProviderName = "perplexity"

// Extract interprets a successful provider body. Usage counters are emitted to
// sink only when the whole body was interpreted, so a failed call emits nothing.
// The returned Usage is nil when the body carries no usage object.
func Extract(body string, sink usage.Sink) (*core.CompletionResult, *core.Usage, error) {
	if !gjson.Valid(body) {
		return nil, nil, core.NewResponseShapeError(ProviderName, "response body is not valid JSON", nil)
	}
	root := gjson.Parse(body)
	if !root.IsObject() {
		return nil, nil, core.NewResponseShapeError(ProviderName, "response body is not a JSON object", nil)
	}

	counters, err := extractUsage(root)
	if err != nil {
		return nil, nil, err
	}

	text, err := extractOutputText(root)
	if err != nil {
		return nil, nil, err
	}

	if counters != nil && sink != nil {
		sink.Counter(usage.CounterPromptTokens, counters.PromptTokens)
		sink.Counter(usage.CounterCompletionTokens, counters.CompletionTokens)
		sink.Counter(usage.CounterTotalTokens, counters.TotalTokens)
	}

	return &core.CompletionResult{
		OutputText:  text,
		RawResponse: body,
	}, counters, nil
}

func extractUsage(root gjson.Result) (*core.Usage, error) {
	u := root.Get("usage")
	if !u.Exists() || u.Type == gjson.Null {
		return nil, nil
	}
	if !u.IsObject() {
		return nil, core.NewResponseShapeError(ProviderName, "usage is not an object", nil)
	}

	fields := [3]int64{}
	for i, key := range [3]string{"prompt_tokens", "completion_tokens", "total_tokens"} {
		v := u.Get(key)
		if v.Type != gjson.Number {
			return nil, core.NewResponseShapeError(ProviderName, fmt.Sprintf("usage.%s is missing or not a number", key), nil)
		}
		fields[i] = v.Int()
	}

	return &core.Usage{
		PromptTokens:     fields[0],
		CompletionTokens: fields[1],
		TotalTokens:      fields[2],
	}, nil
}

func extractOutputText(root gjson.Result) (string, error) {
	choices := root.Get("choices")
	if !choices.IsArray() {
		return "", core.NewResponseShapeError(ProviderName, "choices is missing or not an array", nil)
	}
	items := choices.Array()
	if len(items) == 0 {
		return "", core.NewResponseShapeError(ProviderName, "choices is empty", nil)
	}

	message := items[0].Get("message")
	if !message.IsObject() {
		return "", core.NewResponseShapeError(ProviderName, "choices[0].message is missing or not an object", nil)
	}
	content := message.Get("content")
	if content.Type != gjson.String {
		return "", core.NewResponseShapeError(ProviderName, "choices[0].message.content is missing or not a string", nil)
	}
	return content.String(), nil
}
