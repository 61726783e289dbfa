package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joelkehle/kyc-agency/internal/evaluator"
	"github.com/joelkehle/kyc-agency/internal/kyc"
	"github.com/joelkehle/kyc-agency/internal/store"
	"github.com/joelkehle/kyc-agency/internal/validation"
)

// appEnv holds the store and the services built on it for the process and
// serve commands.
type appEnv struct {
	Store    *store.SQLiteStore
	Pipeline *kyc.Pipeline
	Reviewer *kyc.Reviewer
	Registry *prometheus.Registry
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the store and wires the pipeline. Without ANTHROPIC_API_KEY
// every stage reports "stage not configured" and validation uses the rules
// only, so runs end pending.
func initEnv(progress kyc.StageProgressFn) (*appEnv, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := kyc.Options{
		Metrics:      kyc.NewMetrics(reg),
		StageTimeout: cfg.Pipeline.StageTimeout(),
		Progress:     progress,
	}

	var stages *evaluator.Service
	llm, err := evaluator.NewAnthropicCallerFromEnv(evaluator.ModelOptions{
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
	})
	if err != nil {
		zap.L().Warn("evaluation service unavailable, stages will not run", zap.Error(err))
		stages = evaluator.NewService(nil, evaluator.Options{})
		opts.Validator = validation.NewEngine(nil, cfg.Validation.Thresholds())
	} else {
		stages = evaluator.NewService(llm, evaluator.Options{
			Enabled:           cfg.EnabledStages(),
			RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
			MaxAttempts:       cfg.Anthropic.MaxAttempts,
		})
		opts.Extractor = evaluator.NewDocumentExtractor(llm)
		if cfg.Validation.UseLLM {
			opts.Validator = validation.NewEngine(llm, cfg.Validation.Thresholds())
		} else {
			opts.Validator = validation.NewEngine(nil, cfg.Validation.Thresholds())
		}
	}

	return &appEnv{
		Store:    st,
		Pipeline: kyc.NewPipeline(st, st, stages, opts),
		Reviewer: kyc.NewReviewer(st),
		Registry: reg,
	}, nil
}
