// Package llm provides the text-completion collaborator and its providers.
package llm

import (
	"context"
	"fmt"
	"time"

	"prefrontal/app/config"
	"prefrontal/app/util/metrics"
)

// Completion is the completion text plus call metadata.
type Completion struct {
	Content   string
	Model     string
	TokensIn  int
	TokensOut int
	LatencyMs int64
}

// Completer turns a single prompt into a completion.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts ...Option) (*Completion, error)
}

type callOptions struct {
	json bool
}

type Option func(*callOptions)

// WithJSON asks the provider for a JSON object response when it supports it.
func WithJSON() Option {
	return func(o *callOptions) {
		o.json = true
	}
}

func applyOptions(opts []Option) callOptions {
	var result callOptions
	for _, opt := range opts {
		opt(&result)
	}

	return result
}

// New creates a Completer for the provider named in cfg.
func New(cfg config.ModelConfig) (Completer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return NewOpenAI(cfg), nil
	case config.ProviderLangChain:
		return NewLangChain(cfg)
	case config.ProviderAnthropic:
		return NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

func observe(model string, start time.Time, result *Completion, err error) {
	status := "success"
	tokensIn, tokensOut := 0, 0

	if err != nil {
		status = "error"
	} else if result != nil {
		tokensIn, tokensOut = result.TokensIn, result.TokensOut
	}

	metrics.RecordLLM(model, status, time.Since(start).Seconds(), tokensIn, tokensOut)
}
