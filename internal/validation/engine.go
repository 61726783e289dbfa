package validation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joelkehle/kyc-agency/internal/document"
	"github.com/joelkehle/kyc-agency/internal/extract"
)

// LLM generates a reply for a prompt.
type LLM interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Engine validates documents through the LLM when one is configured and
// falls back to the rule path on any failure. It holds no mutable state.
type Engine struct {
	llm        LLM
	thresholds Thresholds
}

// NewEngine builds an Engine. A nil llm selects the rule path only.
func NewEngine(llm LLM, th Thresholds) *Engine {
	return &Engine{llm: llm, thresholds: th}
}

// Validate always returns a well-formed Result.
func (e *Engine) Validate(ctx context.Context, extracted document.Record, declared Declared, kind document.Kind) Result {
	if e.llm != nil {
		res, err := e.validateLLM(ctx, extracted, declared, kind)
		if err == nil {
			return res
		}
		zap.L().Info("validation: falling back to rules",
			zap.String("document_kind", string(kind)),
			zap.Error(err),
		)
	}
	return ValidateRules(extracted, declared, kind, e.thresholds)
}

func (e *Engine) validateLLM(ctx context.Context, extracted document.Record, declared Declared, kind document.Kind) (Result, error) {
	raw, err := e.llm.GenerateJSON(ctx, BuildPrompt(extracted, declared, kind))
	if err != nil {
		return Result{}, eris.Wrap(err, "validation llm call")
	}
	obj, err := extract.ValidationObject(raw)
	if err != nil {
		return Result{}, err
	}
	res, err := decodeReply(obj)
	if err != nil {
		return Result{}, eris.Wrap(err, "validation reply schema")
	}
	res.Details["validation_method"] = MethodLLM
	return res, nil
}

// decodeReply converts a backfilled reply object into a Result.
func decodeReply(obj map[string]any) (Result, error) {
	match, err := asBool(obj["overall_match"])
	if err != nil {
		return Result{}, eris.Wrap(err, "overall_match")
	}
	score, err := asNumber(obj["confidence_score"])
	if err != nil {
		return Result{}, eris.Wrap(err, "confidence_score")
	}
	items, ok := obj["discrepancies"].([]any)
	if !ok {
		return Result{}, eris.New("discrepancies is not a list")
	}
	warnings, ok := obj["warnings"].([]any)
	if !ok {
		return Result{}, eris.New("warnings is not a list")
	}

	res := Result{
		OverallMatch:    match,
		ConfidenceScore: clampScore(int(score)),
		Discrepancies:   make([]Discrepancy, 0, len(items)),
		Warnings:        make([]string, 0, len(warnings)),
		Details:         map[string]any{},
	}
	for _, item := range items {
		switch d := item.(type) {
		case map[string]any:
			res.Discrepancies = append(res.Discrepancies, Discrepancy{
				Field:         text(d["field"]),
				DocumentValue: text(d["document_value"]),
				UserValue:     text(d["user_value"]),
				Severity:      ParseSeverity(text(d["severity"])),
				Reason:        text(d["reason"]),
			})
		case string:
			res.Discrepancies = append(res.Discrepancies, Discrepancy{Severity: SeverityMedium, Reason: d})
		}
	}
	for _, w := range warnings {
		if s := text(w); s != "" {
			res.Warnings = append(res.Warnings, s)
		}
	}
	if details, ok := obj["validation_details"].(map[string]any); ok {
		for k, v := range details {
			res.Details[k] = v
		}
	}
	return res, nil
}

func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(b))
	}
	return false, eris.Errorf("unexpected type %T", v)
}

func asNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "%")), 64)
	}
	return 0, eris.Errorf("unexpected type %T", v)
}

func text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
