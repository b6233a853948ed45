package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nodebridge/relay/pkg/types"
)

const defaultOllamaURL = "http://localhost:11434"

type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []map[string]any `json:"messages"`
	Stream   bool             `json:"stream"`
}

type ollamaChatReply struct {
	Model      string `json:"model"`
	Message    struct {
		Content   string `json:"content"`
		ToolCalls []any  `json:"tool_calls,omitempty"`
	} `json:"message"`
	Done           bool `json:"done"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// ollamaNormalised is the shape returned to the caller: a single
// envelope regardless of which LLM actually answered, per §4.A.
type ollamaNormalised struct {
	Text          string `json:"text"`
	ToolCalls     []any  `json:"tool_calls"`
	StopReason    string `json:"stop_reason"`
	InputTokens   int    `json:"input_tokens"`
	OutputTokens  int    `json:"output_tokens"`
	Model         string `json:"model"`
	ProviderName  string `json:"provider_name"`
}

// ollamaChat posts to a local Ollama server's /api/chat endpoint and
// normalises the reply. baseURL defaults to http://localhost:11434.
func ollamaChat(baseURL string) Func {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	return func(ctx context.Context, params types.Params) (*types.ExecResult, error) {
		model := paramString(params, "model", "llama3")
		messages, _ := params["messages"].([]any)

		chatMessages := make([]map[string]any, 0, len(messages))
		for _, m := range messages {
			if mm, ok := m.(map[string]any); ok {
				chatMessages = append(chatMessages, mm)
			}
		}

		reqBody, err := json.Marshal(ollamaChatRequest{Model: model, Messages: chatMessages, Stream: false})
		if err != nil {
			return nil, fmt.Errorf("marshal ollama request: %w", err)
		}

		httpClient := &http.Client{Timeout: DefaultTimeout}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/chat", bytes.NewReader(reqBody))
		if err != nil {
			return nil, fmt.Errorf("build ollama request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(httpReq)
		if err != nil {
			return errResult("ollama request failed: %v", err), nil
		}
		defer resp.Body.Close()

		var reply ollamaChatReply
		if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
			return errResult("ollama response decode failed: %v", err), nil
		}

		stopReason := "stop"
		if !reply.Done {
			stopReason = "incomplete"
		}
		normalised := ollamaNormalised{
			Text:         reply.Message.Content,
			ToolCalls:    reply.Message.ToolCalls,
			StopReason:   stopReason,
			InputTokens:  reply.PromptEvalCount,
			OutputTokens: reply.EvalCount,
			Model:        reply.Model,
			ProviderName: "ollama",
		}
		encoded, err := json.Marshal(normalised)
		if err != nil {
			return nil, fmt.Errorf("marshal normalised ollama reply: %w", err)
		}
		return &types.ExecResult{ReturnCode: 0, Stdout: string(encoded)}, nil
	}
}
