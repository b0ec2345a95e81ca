package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"prefrontal/app/config"

	"github.com/sashabaranov/go-openai"
)

type OpenAI struct {
	cfg    config.ModelConfig
	client *openai.Client
}

func NewOpenAI(cfg config.ModelConfig) *OpenAI {
	return &OpenAI{
		cfg:    cfg,
		client: createClient(cfg),
	}
}

func createClient(cfg config.ModelConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.Token)

	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout: cfg.RequestTimeout,
	}

	return openai.NewClientWithConfig(clientConfig)
}

func (c *OpenAI) Complete(ctx context.Context, prompt string, opts ...Option) (result *Completion, err error) {
	start := time.Now()
	defer func() {
		observe(c.cfg.Model, start, result, err)
	}()

	options := applyOptions(opts)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxCompletionTokens: c.cfg.MaxTokens,
		Temperature:         float32(c.cfg.Temperature),
	}
	if options.json {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	aiResponse, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(aiResponse.Choices) == 0 {
		return nil, fmt.Errorf("no chat completion found")
	}

	return &Completion{
		Content:   strings.TrimSpace(aiResponse.Choices[0].Message.Content),
		Model:     aiResponse.Model,
		TokensIn:  aiResponse.Usage.PromptTokens,
		TokensOut: aiResponse.Usage.CompletionTokens,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
