package nodes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// LLM executes chat completions for llm nodes through any
// OpenAI-compatible endpoint.
type LLM struct {
	client       *openai.Client
	defaultModel string
}

type LLMOpts struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	HTTPClient   *http.Client
}

func NewLLM(opts LLMOpts) *LLM {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	model := opts.DefaultModel
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLM{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: model,
	}
}

func (l *LLM) Kind() string { return "llm" }

func (l *LLM) Execute(ctx context.Context, req Request) Response {
	chatReq, err := l.buildRequest(req.Config)
	if err != nil {
		return Fail(ErrorTypeValidation, err.Error(), false)
	}

	start := time.Now()
	resp, err := l.client.CreateChatCompletion(ctx, chatReq)
	elapsed := time.Since(start)
	if err != nil {
		return FailErr(classifyOpenAI(err))
	}
	if len(resp.Choices) == 0 {
		return Fail(ErrorTypeServerError, "completion returned no choices", true)
	}

	choice := resp.Choices[0]
	return Succeed(map[string]interface{}{
		"content":       choice.Message.Content,
		"model":         resp.Model,
		"finish_reason": string(choice.FinishReason),
	}, &Metrics{
		DurationMs: elapsed.Milliseconds(),
		TokenUsage: &TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	})
}

func (l *LLM) buildRequest(config map[string]interface{}) (openai.ChatCompletionRequest, error) {
	chatReq := openai.ChatCompletionRequest{Model: l.defaultModel}
	if model, ok := config["model"].(string); ok && model != "" {
		chatReq.Model = model
	}

	if raw, ok := config["messages"].([]interface{}); ok && len(raw) > 0 {
		for i, entry := range raw {
			m, ok := entry.(map[string]interface{})
			if !ok {
				return chatReq, fmt.Errorf("messages[%d] must be an object with role and content", i)
			}
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			if role == "" || content == "" {
				return chatReq, fmt.Errorf("messages[%d] must carry role and content", i)
			}
			chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{Role: role, Content: content})
		}
	} else {
		prompt, _ := config["prompt"].(string)
		if prompt == "" {
			return chatReq, fmt.Errorf("llm node requires a prompt or messages")
		}
		if system, ok := config["system"].(string); ok && system != "" {
			chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: system,
			})
		}
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		})
	}

	if temp, ok := config["temperature"].(float64); ok {
		chatReq.Temperature = float32(temp)
	}
	if maxTokens, ok := config["max_tokens"].(float64); ok && maxTokens > 0 {
		chatReq.MaxTokens = int(maxTokens)
	}
	return chatReq, nil
}

func classifyOpenAI(err error) *NodeError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		errType, retryable := ClassifyStatus(apiErr.HTTPStatusCode)
		return &NodeError{Type: errType, Message: apiErr.Message, Retryable: retryable}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		errType, retryable := ClassifyStatus(reqErr.HTTPStatusCode)
		return &NodeError{Type: errType, Message: err.Error(), Retryable: retryable}
	}
	return Classify(err)
}
