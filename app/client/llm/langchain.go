package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"prefrontal/app/config"

	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

type LangChain struct {
	cfg config.ModelConfig
	llm llms.Model
}

func NewLangChain(cfg config.ModelConfig) (*LangChain, error) {
	opts := []lcopenai.Option{
		lcopenai.WithToken(cfg.Token),
		lcopenai.WithModel(cfg.Model),
		lcopenai.WithCallback(LogCallbackHandler{}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
	}

	model, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain openai model: %w", err)
	}

	return &LangChain{
		cfg: cfg,
		llm: model,
	}, nil
}

func (c *LangChain) Complete(ctx context.Context, prompt string, opts ...Option) (result *Completion, err error) {
	start := time.Now()
	defer func() {
		observe(c.cfg.Model, start, result, err)
	}()

	options := applyOptions(opts)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	callOpts := []llms.CallOption{
		llms.WithTemperature(c.cfg.Temperature),
		llms.WithMaxTokens(c.cfg.MaxTokens),
	}
	if options.json {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	content, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, callOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate from prompt: %w", err)
	}

	return &Completion{
		Content:   strings.TrimSpace(content),
		Model:     c.cfg.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

var _ callbacks.Handler = (*LogCallbackHandler)(nil)

// LogCallbackHandler reports langchain errors and completions to slog.
type LogCallbackHandler struct {
	callbacks.SimpleHandler
}

func (l LogCallbackHandler) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	if res == nil {
		return
	}

	slog.DebugContext(ctx, "LLM generate content end", "choices", len(res.Choices))
}

func (l LogCallbackHandler) HandleLLMError(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "LLM error", "error", err)
}
