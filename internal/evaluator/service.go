package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Stage names one agent of the KYC pipeline.
type Stage string

const (
	StageCoordinator        Stage = "coordinator"
	StageDocumentValidation Stage = "document_validation"
	StageRiskAnalysis       Stage = "risk_analysis"
	StageSanctionScreening  Stage = "sanction_screening"
	StageCompliance         Stage = "compliance"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StageCoordinator,
	StageDocumentValidation,
	StageRiskAnalysis,
	StageSanctionScreening,
	StageCompliance,
}

// ErrNotConfigured is returned for a stage that has no resolvable agent.
var ErrNotConfigured = errors.New("stage not configured")

const defaultMaxAttempts = 3

type Options struct {
	// Enabled maps stages to their switch; stages absent from a non-nil map
	// are enabled.
	Enabled           map[Stage]bool
	RequestsPerSecond float64
	MaxAttempts       int
}

// Service invokes stage agents through an LLM. Safe for concurrent use.
type Service struct {
	llm         LLM
	limiter     *rate.Limiter
	enabled     map[Stage]bool
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewService(llm LLM, opts Options) *Service {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Service{
		llm:         llm,
		limiter:     rate.NewLimiter(limit, 1),
		enabled:     opts.Enabled,
		maxAttempts: opts.MaxAttempts,
		sleep:       sleepContext,
	}
}

func (s *Service) configured(stage Stage) bool {
	if s == nil || s.llm == nil {
		return false
	}
	if _, ok := stagePrompts[stage]; !ok {
		return false
	}
	if on, ok := s.enabled[stage]; ok {
		return on
	}
	return true
}

// Invoke runs the agent for stage over payload and returns its raw reply.
// An empty reply is retried once with a plain-text prompt.
func (s *Service) Invoke(ctx context.Context, stage Stage, payload any) (string, error) {
	if !s.configured(stage) {
		return "", fmt.Errorf("%s: %w", stage, ErrNotConfigured)
	}
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", eris.Wrapf(err, "%s: encode payload", stage)
	}

	raw, err := s.call(ctx, stage, BuildStagePrompt(stage, body))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(raw) != "" {
		return raw, nil
	}

	zap.L().Warn("evaluator: empty reply, retrying with simple prompt", zap.String("stage", string(stage)))
	raw, err = s.call(ctx, stage, BuildSimplePrompt(stage, body))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(raw) == "" {
		return "", eris.Errorf("%s: empty response with both input formats", stage)
	}
	return raw, nil
}

func (s *Service) call(ctx context.Context, stage Stage, prompt string) (string, error) {
	for attempt := 1; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", eris.Wrapf(err, "%s: rate limit wait", stage)
		}
		raw, err := s.llm.GenerateJSON(ctx, prompt)
		if err == nil {
			return raw, nil
		}
		if !retryable(classifyTransportError(err)) || attempt >= s.maxAttempts {
			return "", eris.Wrapf(err, "%s transport failure", stage)
		}
		zap.L().Info("evaluator: retrying stage call",
			zap.String("stage", string(stage)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := s.sleep(ctx, backoffDelay(attempt)); err != nil {
			return "", eris.Wrapf(err, "%s: backoff", stage)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var stagePrompts = map[Stage]string{
	StageCoordinator: `You coordinate a KYC onboarding review. Summarize the submission, note which checks are required for this customer type and flag anything missing.
Reply with JSON: {"status": "initiated|blocked", "customer_type": "...", "required_checks": ["..."], "missing_information": ["..."], "notes": "..."}`,
	StageDocumentValidation: `You validate the identity, address and employment documents of a KYC submission against the declared customer data. Use the document_details and any validation results supplied.
Reply with JSON: {"validation_status": "complete|incomplete|error", "document_validation_results": {"validation_status": "complete|incomplete|error", "documents": {"<kind>": {"status": "valid|invalid|missing", "issues": ["..."]}}, "summary": "..."}}`,
	StageRiskAnalysis: `You assess the money-laundering and fraud risk of a KYC customer from income, occupation, business interests, political exposure and document completeness.
Reply with JSON: {"risk_analysis_results": {"risk_classification": "Low|Medium|High", "risk_score": 0, "risk_factors": ["..."], "rationale": "..."}}`,
	StageSanctionScreening: `You screen a KYC customer against sanctions lists, watch lists and politically exposed person registers.
Reply with JSON: {"sanction_screening_results": {"screening_status": "clear|match_found", "matches": [{"source": "PEP|OFAC|UN|EU|OTHER", "entity_name": "...", "match_details": "...", "confidence": 0}], "summary": "..."}}`,
	StageCompliance: `You make the compliance determination for a KYC case. agent_results holds the outputs of document validation, risk analysis and sanction screening; any of them may carry an error instead of a result, in which case reason about what is missing rather than assuming success.
Reply with JSON: {"compliance_status": "compliant|warning|violation", "compliance_results": {"compliance_status": "compliant|warning|violation", "issues": ["..."], "required_actions": ["..."], "summary": "..."}}`,
}

// BuildStagePrompt renders the full instruction for stage.
func BuildStagePrompt(stage Stage, payload []byte) string {
	return stagePrompts[stage] + "\n\nINPUT:\n" + string(payload) + "\n\nRespond with only valid JSON matching the schema."
}

// BuildSimplePrompt renders the reduced plain-text instruction used after an
// empty reply.
func BuildSimplePrompt(stage Stage, payload []byte) string {
	name := gjson.GetBytes(payload, "customer_data.name").String()
	id := gjson.GetBytes(payload, "customer_data.customer_id").String()
	var kinds []string
	gjson.GetBytes(payload, "customer_data.documents").ForEach(func(key, value gjson.Result) bool {
		if k := value.Get("kind").String(); k != "" {
			kinds = append(kinds, k)
		} else if key.Type == gjson.String {
			kinds = append(kinds, key.String())
		}
		return true
	})
	if len(kinds) == 0 {
		kinds = append(kinds, "none")
	}
	return fmt.Sprintf("Please run the %s check for customer %s (ID: %s). Documents provided: %s. Reply with JSON.",
		strings.ReplaceAll(string(stage), "_", " "), orUnknown(name), orUnknown(id), strings.Join(kinds, ", "))
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
