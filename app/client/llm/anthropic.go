package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prefrontal/app/config"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type Anthropic struct {
	cfg    config.ModelConfig
	client *anthropic.Client
}

func NewAnthropic(cfg config.ModelConfig) (*Anthropic, error) {
	if cfg.Token == "" {
		return nil, errors.New("anthropic API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.Token)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{
		cfg:    cfg,
		client: anthropic.NewClient(opts...),
	}, nil
}

// Complete ignores WithJSON: the prompts already demand JSON and the parser tolerates fences.
func (c *Anthropic) Complete(ctx context.Context, prompt string, _ ...Option) (result *Completion, err error) {
	start := time.Now()
	defer func() {
		observe(c.cfg.Model, start, result, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	messages := []anthropic.MessageParam{
		{
			Role: anthropic.F(anthropic.MessageParamRoleUser),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(prompt),
				},
			}),
		},
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.F(c.cfg.Model),
		MaxTokens:   anthropic.F(int64(c.cfg.MaxTokens)),
		Messages:    anthropic.F(messages),
		Temperature: anthropic.F(c.cfg.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content.WriteString(block.Text)
		}
	}

	return &Completion{
		Content:   strings.TrimSpace(content.String()),
		Model:     resp.Model,
		TokensIn:  int(resp.Usage.InputTokens),
		TokensOut: int(resp.Usage.OutputTokens),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
