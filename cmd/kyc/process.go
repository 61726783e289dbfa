package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joelkehle/kyc-agency/internal/kyc"
)

var (
	processInput       string
	processOutput      string
	processConcurrency int
	processBy          string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run submissions from a JSON file through the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		raw, err := os.ReadFile(processInput)
		if err != nil {
			return eris.Wrap(err, "read input")
		}
		subs, err := decodeSubmissions(raw)
		if err != nil {
			return err
		}

		env, err := initEnv(func(stage, message string) {
			zap.L().Info("stage progress", zap.String("stage", stage), zap.String("message", message))
		})
		if err != nil {
			return err
		}
		defer env.Close()

		limit := processConcurrency
		if limit <= 0 {
			limit = cfg.Pipeline.Concurrency
		}
		items := kyc.Batch{Pipeline: env.Pipeline}.Run(ctx, subs, limit)
		outcomes := summarize(ctx, env.Reviewer, subs, items, processBy)

		out, err := json.MarshalIndent(outcomes, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode results")
		}
		if err := writeOutput(processOutput, append(out, '\n')); err != nil {
			return err
		}

		failed := 0
		for _, o := range outcomes {
			if o.Error != "" {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d submissions failed", failed, len(outcomes))
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processInput, "input", "", "path to a submission or an array of submissions (JSON)")
	processCmd.Flags().StringVar(&processOutput, "output", "", "path to write results (defaults to stdout)")
	processCmd.Flags().IntVar(&processConcurrency, "concurrency", 0, "max submissions in flight (default from config)")
	processCmd.Flags().StringVar(&processBy, "performed-by", "cli", "name recorded in the audit log")
	_ = processCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(processCmd)
}

// decodeSubmissions accepts a single submission object or an array.
func decodeSubmissions(raw []byte) ([]kyc.Submission, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, eris.New("input is empty")
	}
	if trimmed[0] == '[' {
		var subs []kyc.Submission
		if err := json.Unmarshal(trimmed, &subs); err != nil {
			return nil, eris.Wrap(err, "decode submissions")
		}
		return subs, nil
	}
	var sub kyc.Submission
	if err := json.Unmarshal(trimmed, &sub); err != nil {
		return nil, eris.Wrap(err, "decode submission")
	}
	return []kyc.Submission{sub}, nil
}

type outcome struct {
	*kyc.RunResult
	ValidationWarnings []kyc.DocumentWarning `json:"validation_warnings,omitempty"`
	Error              string                `json:"error,omitempty"`
}

type warningFlagger interface {
	FlagWarnings(ctx context.Context, customerID string, warnings []kyc.DocumentWarning, by string) (kyc.CaseRecord, error)
}

// summarize pairs each batch item with its validation warnings and holds
// cases with warnings for review.
func summarize(ctx context.Context, flagger warningFlagger, subs []kyc.Submission, items []kyc.BatchItem, by string) []outcome {
	out := make([]outcome, len(items))
	for i, item := range items {
		if item.Err != nil {
			out[i] = outcome{Error: item.Err.Error()}
			zap.L().Error("submission failed", zap.Int("index", i), zap.Error(item.Err))
			continue
		}
		res := item.Result
		o := outcome{RunResult: &res, ValidationWarnings: res.ValidationWarnings(subs[i].Documents)}
		if len(o.ValidationWarnings) > 0 {
			c, err := flagger.FlagWarnings(ctx, res.CustomerID, o.ValidationWarnings, by)
			if err != nil {
				o.Error = err.Error()
			} else {
				res.Status = c.Status
				res.RiskLevel = c.RiskLevel
			}
		}
		out[i] = o
	}
	return out
}

func writeOutput(path string, b []byte) error {
	if path == "" {
		_, err := io.Copy(os.Stdout, bytes.NewReader(b))
		return err
	}
	return eris.Wrapf(os.WriteFile(path, b, 0o644), "write %s", path)
}
