package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nstogner/contextharness/pkg/budget"
	"github.com/nstogner/contextharness/pkg/model"
	"github.com/nstogner/contextharness/pkg/model/anthropic"
	"github.com/nstogner/contextharness/pkg/model/gemini"
)

// newProvider returns the configured completion provider and the model name
// to request from it.
func newProvider(ctx context.Context, cfg config) (model.Provider, string, error) {
	switch cfg.Provider {
	case providerGemini:
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, "", errors.New("GEMINI_API_KEY environment variable not set")
		}
		p, err := gemini.New(ctx, apiKey)
		if err != nil {
			return nil, "", fmt.Errorf("initializing Gemini provider: %w", err)
		}
		return p, cmp.Or(cfg.Model, gemini.DefaultModel), nil
	case providerAnthropic:
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, "", errors.New("ANTHROPIC_API_KEY environment variable not set")
		}
		p := anthropic.New(nil, os.Getenv("ANTHROPIC_BASE_URL"), apiKey)
		return p, cmp.Or(cfg.Model, anthropic.DefaultModel), nil
	}
	return nil, "", fmt.Errorf("unknown provider %q", cfg.Provider)
}

func newEstimator(name, encoding string) budget.Estimator {
	if name != estimatorTiktoken {
		return budget.CharEstimator{}
	}
	est, err := budget.NewTiktokenEstimator(encoding)
	if err != nil {
		slog.Warn("Falling back to character estimator", "error", err)
		return budget.CharEstimator{}
	}
	return est
}
