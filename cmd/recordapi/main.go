// Package main records a real Perplexity chat-completion response as a test fixture.
// Usage:
//
//	PERPLEXITY_API_KEY=pplx-xxx go run ./cmd/recordapi \
//	  -task=task.yaml \
//	  -output=internal/chat/testdata/perplexity/chat_completion.json
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"pplxchat/config"
	"pplxchat/internal/chat"
	"pplxchat/internal/pkg/llmclient"
)

func main() {
	taskPath := flag.String("task", "", "Task file to send (required)")
	output := flag.String("output", "", "Output file path (required)")
	model := flag.String("model", "", "Override model in the task")
	baseURL := flag.String("base-url", llmclient.DefaultBaseURL, "Provider base URL")
	flag.Parse()

	if *taskPath == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "Error: -task and -output flags are required")
		flag.Usage()
		os.Exit(1)
	}

	if err := record(*taskPath, *output, *model, *baseURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func record(taskPath, output, model, baseURL string) error {
	task, err := config.LoadTask(taskPath)
	if err != nil {
		return err
	}
	if model != "" {
		task.Model = model
	}

	in, err := task.Render(os.Getenv("PERPLEXITY_API_KEY"))
	if err != nil {
		return err
	}
	if in.APIKey == "" {
		return fmt.Errorf("PERPLEXITY_API_KEY environment variable is required when the task has no apiKey")
	}

	req, err := chat.BuildRequest(in)
	if err != nil {
		return err
	}
	body, err := chat.EncodeRequest(req)
	if err != nil {
		return err
	}

	client := llmclient.New(llmclient.DefaultConfig(chat.ProviderName, baseURL), llmclient.BearerAuth(in.APIKey))
	defer func() {
		_ = client.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Printf("Sending request to %s%s...\n", baseURL, llmclient.ChatCompletionsEndpoint)
	resp, err := client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: llmclient.ChatCompletionsEndpoint,
		Body:     body,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Response status: %d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))

	data := resp.Body
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resp.Body, "", "  "); err == nil {
		data = append(pretty.Bytes(), '\n')
	}
	if err := writeOutput(output, data); err != nil {
		return err
	}
	fmt.Printf("Response saved to %s\n", output)

	if id := gjson.GetBytes(resp.Body, "id"); id.Exists() {
		fmt.Printf("Response ID: %s\n", id.String())
	}
	if m := gjson.GetBytes(resp.Body, "model"); m.Exists() {
		fmt.Printf("Model: %s\n", m.String())
	}
	return nil
}

// writeOutput writes data to the output file, creating directories as needed.
func writeOutput(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
