package kyc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/joelkehle/kyc-agency/internal/document"
	"github.com/joelkehle/kyc-agency/internal/evaluator"
	"github.com/joelkehle/kyc-agency/internal/extract"
	"github.com/joelkehle/kyc-agency/internal/risk"
	"github.com/joelkehle/kyc-agency/internal/validation"
)

const tracerName = "github.com/joelkehle/kyc-agency/internal/kyc"

// Evaluator invokes the external agent for a stage and returns its raw reply.
type Evaluator interface {
	Invoke(ctx context.Context, stage evaluator.Stage, payload any) (string, error)
}

// Extractor reads the fields of an uploaded document.
type Extractor interface {
	Extract(ctx context.Context, kind document.Kind, path string) (document.Record, error)
}

// Validator compares a document with the declared record.
type Validator interface {
	Validate(ctx context.Context, extracted document.Record, declared validation.Declared, kind document.Kind) validation.Result
}

// StageError is a failed stage invocation. It is recorded on the step and
// never aborts a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type StageProgressFn func(stage, message string)

type Options struct {
	// Extractor fills the document store for attachments it has no record of.
	Extractor Extractor
	// Validator checks each extracted document against the declared record.
	Validator    Validator
	Metrics      *Metrics
	StageTimeout time.Duration
	Progress     StageProgressFn
}

// Pipeline runs submissions. Runs share no mutable state, so one Pipeline
// may process many submissions concurrently.
type Pipeline struct {
	cases  CaseStore
	docs   DocumentStore
	eval   Evaluator
	opts   Options
	tracer trace.Tracer
	now    func() time.Time
}

func NewPipeline(cases CaseStore, docs DocumentStore, eval Evaluator, opts Options) *Pipeline {
	return &Pipeline{
		cases:  cases,
		docs:   docs,
		eval:   eval,
		opts:   opts,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
}

// DocumentWarning is a document whose validation found discrepancies.
type DocumentWarning struct {
	Kind            document.Kind             `json:"document_type"`
	DocumentID      string                    `json:"document_id"`
	ConfidenceScore int                       `json:"confidence_score"`
	Discrepancies   []validation.Discrepancy `json:"discrepancies"`
}

// RunResult summarizes one pipeline run.
type RunResult struct {
	CaseID           int64                                `json:"case_id"`
	CustomerID       string                               `json:"customer_id"`
	Status           Status                               `json:"final_status"`
	RiskLevel        risk.Level                           `json:"risk_level"`
	EstimatedRisk    risk.Level                           `json:"estimated_risk_level"`
	CustomerType     risk.CustomerType                    `json:"customer_type"`
	ValidationStatus string                               `json:"validation_status"`
	ComplianceStatus string                               `json:"compliance_status"`
	PEP              bool                                 `json:"pep_status"`
	FailedStages     []string                             `json:"failed_stages,omitempty"`
	Validations      map[document.Kind]validation.Result `json:"document_validations,omitempty"`
	StageOutputs     map[string]map[string]any            `json:"stage_outputs"`
}

// ValidationWarnings lists the documents whose validation did not match.
func (r RunResult) ValidationWarnings(docs []document.Attachment) []DocumentWarning {
	var out []DocumentWarning
	for _, d := range docs {
		res, ok := r.Validations[d.Kind]
		if !ok || res.OverallMatch {
			continue
		}
		out = append(out, DocumentWarning{
			Kind:            d.Kind,
			DocumentID:      d.ID,
			ConfidenceScore: res.ConfidenceScore,
			Discrepancies:   res.Discrepancies,
		})
	}
	return out
}

// Process runs sub through enrichment, every stage and the final decision.
// Only case and document store failures abort a run.
func (p *Pipeline) Process(ctx context.Context, sub Submission) (RunResult, error) {
	started := p.now()
	ctx, span := p.tracer.Start(ctx, "kyc.process")
	defer span.End()
	// Checkpoints outlive caller cancellation so every started run is recorded.
	storeCtx := context.WithoutCancel(ctx)

	if strings.TrimSpace(sub.CustomerID) == "" {
		id, err := p.cases.NextCustomerID(storeCtx)
		if err != nil {
			return RunResult{}, eris.Wrap(err, "assign customer id")
		}
		sub.CustomerID = id
	}
	for i := range sub.Documents {
		if sub.Documents[i].ID == "" {
			sub.Documents[i].ID = uuid.NewString()
		}
	}
	span.SetAttributes(attribute.String("kyc.customer_id", sub.CustomerID))
	log := zap.L().With(zap.String("customer_id", sub.CustomerID))

	if prev, err := p.cases.FindCase(storeCtx, sub.CustomerID); err == nil && prev.Status == StatusArchived {
		log.Warn("kyc: refusing to process archived case")
		return RunResult{}, eris.Wrapf(ErrCaseArchived, "customer %s", sub.CustomerID)
	}

	docs, err := p.loadDocuments(ctx, storeCtx, sub.Documents, log)
	if err != nil {
		return RunResult{}, err
	}
	customer := Enrich(sub.Customer, docs)
	validations := p.validateDocuments(ctx, sub.Customer.Declared(), docs)

	profile := customer.Profile(sub.Documents)
	estimate := risk.Estimate(profile)
	ctype := risk.ClassifyCustomer(profile)

	caseID, err := p.cases.GetOrCreateCase(storeCtx, CaseRecord{
		Customer:      customer,
		CustomerType:  ctype,
		Status:        StatusSubmitted,
		EstimatedRisk: estimate,
		RiskLevel:     risk.Pending,
		CreatedAt:     started,
		UpdatedAt:     started,
	})
	if err != nil {
		return RunResult{}, eris.Wrap(err, "checkpoint case")
	}
	if err := p.cases.AttachDocuments(storeCtx, caseID, docs); err != nil {
		return RunResult{}, eris.Wrap(err, "checkpoint documents")
	}
	span.SetAttributes(attribute.Int64("kyc.case_id", caseID))
	log = log.With(zap.Int64("case_id", caseID))
	log.Info("kyc: case checkpointed",
		zap.String("customer_type", string(ctype)),
		zap.String("estimated_risk", string(estimate)),
		zap.Int("documents", len(docs)),
	)

	res := RunResult{
		CaseID:        caseID,
		CustomerID:    customer.CustomerID,
		EstimatedRisk: estimate,
		CustomerType:  ctype,
		Validations:   validations,
		StageOutputs:  map[string]map[string]any{},
	}
	customerData := buildCustomerData(customer, ctype, estimate, docs, validations)
	failed := map[evaluator.Stage]bool{}
	finished := map[evaluator.Stage]time.Time{}

	for _, stage := range evaluator.Stages {
		var payload map[string]any
		if stage == evaluator.StageCompliance {
			payload = compliancePayload(customerData, res.StageOutputs, finished)
		} else {
			payload = map[string]any{"customer_data": customerData}
			if session := sessionContext(res.StageOutputs, failed); len(session) > 0 {
				payload["session_context"] = session
			}
		}

		out, stageErr, err := p.runStage(ctx, storeCtx, caseID, stage, payload, log)
		if err != nil {
			return res, err
		}
		res.StageOutputs[string(stage)] = out
		finished[stage] = p.now()
		if stageErr != nil {
			failed[stage] = true
			res.FailedStages = append(res.FailedStages, string(stage))
			continue
		}

		if stage == evaluator.StageSanctionScreening {
			hit, ok := DetectPEP(out)
			if !ok || customer.PEP {
				continue
			}
			customer.PEP = true
			customer.PEPDetails = hit.Details
			profile.PEP = true
			estimate = risk.Estimate(profile)
			ctype = risk.ClassifyCustomer(profile)
			pep := true
			if err := p.cases.UpdateCase(storeCtx, caseID, CaseUpdate{
				PEP:           &pep,
				PEPDetails:    &hit.Details,
				EstimatedRisk: &estimate,
				CustomerType:  &ctype,
			}); err != nil {
				return res, eris.Wrap(err, "checkpoint pep status")
			}
			log.Warn("kyc: PEP match from sanction screening",
				zap.String("entity", hit.EntityName),
				zap.String("details", hit.Details),
			)
			res.EstimatedRisk = estimate
			res.CustomerType = ctype
			customerData = buildCustomerData(customer, ctype, estimate, docs, validations)
		}
	}

	res.ValidationStatus = probeStage(res.StageOutputs, failed, evaluator.StageDocumentValidation, "validation_status")
	res.ComplianceStatus = probeStage(res.StageOutputs, failed, evaluator.StageCompliance, "compliance_status")
	res.Status = Decide(res.ValidationStatus, res.ComplianceStatus)
	res.RiskLevel = RiskFromResult(res.StageOutputs[string(evaluator.StageRiskAnalysis)], estimate)
	res.PEP = customer.PEP

	completed := p.now()
	if err := p.cases.UpdateCase(storeCtx, caseID, CaseUpdate{
		Status:           &res.Status,
		RiskLevel:        &res.RiskLevel,
		ValidationStatus: &res.ValidationStatus,
		ComplianceStatus: &res.ComplianceStatus,
		PEP:              &res.PEP,
		CompletedAt:      &completed,
	}); err != nil {
		return res, eris.Wrap(err, "checkpoint final status")
	}
	if err := p.cases.AppendAudit(storeCtx, AuditEntry{
		CaseID:     caseID,
		ActionType: "pipeline_completed",
		Details: map[string]any{
			"final_status":      res.Status,
			"risk_level":        res.RiskLevel,
			"validation_status": res.ValidationStatus,
			"compliance_status": res.ComplianceStatus,
			"failed_stages":     res.FailedStages,
		},
		PerformedBy: "pipeline",
		CreatedAt:   completed,
	}); err != nil {
		return res, eris.Wrap(err, "audit final status")
	}

	p.opts.Metrics.observeRun(res.Status, completed.Sub(started))
	span.SetAttributes(attribute.String("kyc.final_status", string(res.Status)))
	log.Info("kyc: processing complete",
		zap.String("final_status", string(res.Status)),
		zap.String("risk_level", string(res.RiskLevel)),
		zap.Strings("failed_stages", res.FailedStages),
	)
	return res, nil
}

// probeStage reads key from a stage result. A failed stage reads as
// incomplete so that the case is held for review.
func probeStage(outputs map[string]map[string]any, failed map[evaluator.Stage]bool, stage evaluator.Stage, key string) string {
	if failed[stage] {
		return ProbeIncomplete
	}
	return ProbeStatus(outputs[string(stage)], key)
}

func (p *Pipeline) runStage(ctx, storeCtx context.Context, caseID int64, stage evaluator.Stage, payload map[string]any, log *zap.Logger) (map[string]any, error, error) {
	ctx, span := p.tracer.Start(ctx, "kyc.stage", trace.WithAttributes(attribute.String("kyc.stage", string(stage))))
	defer span.End()

	emit(p.opts.Progress, string(stage), fmt.Sprintf("%s: started", stage))
	start := p.now()
	stepID, err := p.cases.AppendStep(storeCtx, caseID, ProcessingStep{
		CaseID:    caseID,
		StageName: string(stage),
		AgentKind: string(stage),
		Status:    StepPending,
		StartTime: start,
		Input:     payload,
	})
	if err != nil {
		return nil, nil, eris.Wrapf(err, "checkpoint %s start", stage)
	}

	out, stageErr := p.invoke(ctx, stage, payload)
	end := p.now()
	upd := StepUpdate{Status: StepSuccess, EndTime: end, Output: out}
	if stageErr != nil {
		upd.Status = StepError
		upd.ErrorMessage = stageErr.Error()
		span.RecordError(stageErr)
		span.SetStatus(codes.Error, stageErr.Error())
		log.Warn("kyc: stage failed, continuing", zap.String("stage", string(stage)), zap.Error(stageErr))
	}
	p.opts.Metrics.observeStage(string(stage), upd.Status, end.Sub(start))
	if err := p.cases.UpdateStep(storeCtx, stepID, upd); err != nil {
		return nil, nil, eris.Wrapf(err, "checkpoint %s end", stage)
	}
	emit(p.opts.Progress, string(stage), fmt.Sprintf("%s: %s in %s", stage, upd.Status, end.Sub(start).Round(time.Millisecond)))
	return out, stageErr, nil
}

// invoke calls the evaluator and shapes its reply. Errors come back as an
// error-shaped result so downstream stages can reason over them.
func (p *Pipeline) invoke(ctx context.Context, stage evaluator.Stage, payload map[string]any) (map[string]any, error) {
	if p.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.StageTimeout)
		defer cancel()
	}
	raw, err := p.eval.Invoke(ctx, stage, payload)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, evaluator.ErrNotConfigured) {
			msg = evaluator.ErrNotConfigured.Error()
		}
		return map[string]any{"status": "error", "stage": string(stage), "message": msg},
			&StageError{Stage: string(stage), Err: err}
	}
	obj, perr := extract.ParseText(raw)
	if perr != nil {
		return map[string]any{"status": "success", "response_text": raw, "raw_response": raw}, nil
	}
	return obj, nil
}

func (p *Pipeline) loadDocuments(ctx, storeCtx context.Context, atts []document.Attachment, log *zap.Logger) ([]CaseDocument, error) {
	docs := make([]CaseDocument, 0, len(atts))
	for _, att := range atts {
		cd := CaseDocument{Attachment: att}
		rec, ok, err := p.docs.GetDocument(storeCtx, att.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "load document %s", att.ID)
		}
		if !ok && p.opts.Extractor != nil && att.Path != "" {
			rec, err = p.opts.Extractor.Extract(ctx, att.Kind, att.Path)
			if err != nil {
				cd.ExtractionError = err.Error()
				log.Warn("kyc: document extraction failed",
					zap.String("document_id", att.ID),
					zap.String("kind", string(att.Kind)),
					zap.Error(err),
				)
			} else {
				if err := p.docs.PutDocument(storeCtx, att.ID, rec); err != nil {
					return nil, eris.Wrapf(err, "store document %s", att.ID)
				}
				ok = true
			}
		}
		if ok {
			cd.Extracted = rec
		} else if cd.ExtractionError == "" {
			cd.ExtractionError = "no extracted data"
		}
		docs = append(docs, cd)
	}
	return docs, nil
}

func (p *Pipeline) validateDocuments(ctx context.Context, declared validation.Declared, docs []CaseDocument) map[document.Kind]validation.Result {
	if p.opts.Validator == nil {
		return nil
	}
	out := map[document.Kind]validation.Result{}
	for _, d := range docs {
		if d.Extracted == nil {
			continue
		}
		res := p.opts.Validator.Validate(ctx, d.Extracted, declared, d.Kind)
		p.opts.Metrics.incValidation(string(d.Kind), res.Method())
		out[d.Kind] = res
	}
	return out
}

// buildCustomerData renders the enriched record handed to every stage.
func buildCustomerData(c Customer, ctype risk.CustomerType, estimate risk.Level, docs []CaseDocument, validations map[document.Kind]validation.Result) map[string]any {
	data := map[string]any{}
	if b, err := json.Marshal(c); err == nil {
		_ = json.Unmarshal(b, &data)
	}
	data["customer_type"] = string(ctype)
	data["estimated_risk_level"] = string(estimate)

	list := make([]map[string]any, 0, len(docs))
	details := map[string]any{}
	for _, d := range docs {
		list = append(list, map[string]any{"id": d.ID, "kind": string(d.Kind), "filename": d.Filename})
		detail := map[string]any{"document_id": d.ID, "filename": d.Filename}
		if d.Extracted != nil {
			detail["extracted_data"] = d.Extracted
			detail["validation_status"] = "extracted"
		} else {
			detail["validation_status"] = "extraction_failed"
			detail["error"] = d.ExtractionError
		}
		if v, ok := validations[d.Kind]; ok {
			detail["validation"] = v
		}
		details[string(d.Kind)] = detail
	}
	data["documents"] = list
	data["document_details"] = details
	return data
}

// sessionContext carries the successful outputs of earlier stages of this run.
func sessionContext(outputs map[string]map[string]any, failed map[evaluator.Stage]bool) map[string]any {
	session := map[string]any{}
	for stage, out := range outputs {
		if failed[evaluator.Stage(stage)] {
			continue
		}
		session[stage] = out
	}
	return session
}

func compliancePayload(customerData map[string]any, outputs map[string]map[string]any, finished map[evaluator.Stage]time.Time) map[string]any {
	results := map[string]any{}
	timeline := map[string]any{}
	for _, stage := range []evaluator.Stage{evaluator.StageDocumentValidation, evaluator.StageRiskAnalysis, evaluator.StageSanctionScreening} {
		results[string(stage)] = AgentResults(outputs[string(stage)], string(stage))
		if t, ok := finished[stage]; ok {
			timeline[string(stage)+"_time"] = t.UTC().Format(time.RFC3339Nano)
		}
	}
	return map[string]any{
		"customer_data":       customerData,
		"agent_results":       results,
		"processing_timeline": timeline,
	}
}

func emit(progress StageProgressFn, stage, msg string) {
	if progress != nil {
		progress(stage, msg)
	}
}
