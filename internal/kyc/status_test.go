package kyc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joelkehle/kyc-agency/internal/document"
	"github.com/joelkehle/kyc-agency/internal/risk"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		validation, compliance string
		want                   Status
	}{
		{"complete", "compliant", StatusApproved},
		{"unknown", "unknown", StatusApproved},
		{"incomplete", "compliant", StatusPending},
		{"complete", "warning", StatusPending},
		{"pending", "violation", StatusPending},
		{"error", "compliant", StatusRejected},
		{"complete", "violation", StatusRejected},
		{"failed", "non_compliant", StatusRejected},
		{"needs_review", "error", StatusPending},
		{" Warning ", "compliant", StatusPending},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.validation, tt.compliance), "%s/%s", tt.validation, tt.compliance)
	}
}

func TestProbeStatus(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]any
		want   string
	}{
		{"top level", map[string]any{"validation_status": "Complete"}, "complete"},
		{"nested", map[string]any{"document_validation_results": map[string]any{"validation_status": "warning"}}, "warning"},
		{"json in text", map[string]any{"response_text": "```json\n{\"validation_status\":\"incomplete\"}\n```"}, "incomplete"},
		{"incomplete before complete", map[string]any{"response_text": "The file is incomplete."}, ProbeIncomplete},
		{"pending text", map[string]any{"response_text": "Review pending."}, ProbeIncomplete},
		{"warning text", map[string]any{"response_text": "One warning raised."}, ProbeWarning},
		{"violation text", map[string]any{"response_text": "Policy violation."}, ProbeViolation},
		{"failed text", map[string]any{"response_text": "Screening failed."}, ProbeError},
		{"success text", map[string]any{"response_text": "Finished with success."}, ProbeComplete},
		{"success with negated errors", map[string]any{
			"status":        "success",
			"response_text": "Document validation completed successfully. No errors found.",
		}, ProbeComplete},
		{"compliant with negated violations", map[string]any{"response_text": "Customer is compliant. No sanctions violations."}, ProbeComplete},
		{"without any warnings", map[string]any{"response_text": "Checks passed without any warnings."}, ProbeUnknown},
		{"non-compliant", map[string]any{"response_text": "Customer is non-compliant."}, ProbeViolation},
		{"real error after negation", map[string]any{"response_text": "No warnings, but the check failed."}, ProbeError},
		{"no hint", map[string]any{"response_text": "ok"}, ProbeUnknown},
		{"empty", map[string]any{}, ProbeUnknown},
		{"nil", nil, ProbeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProbeStatus(tt.result, "validation_status"))
		})
	}
}

func TestDecideFromSuccessText(t *testing.T) {
	v := ProbeStatus(map[string]any{
		"status":        "success",
		"response_text": "Document validation completed successfully. No errors found.",
	}, "validation_status")
	c := ProbeStatus(map[string]any{
		"status":        "success",
		"response_text": "The customer is compliant. No sanctions violations were identified.",
	}, "compliance_status")
	assert.Equal(t, ProbeComplete, v)
	assert.Equal(t, ProbeComplete, c)
	assert.Equal(t, StatusApproved, Decide(v, c))
}

func TestRiskFromResult(t *testing.T) {
	assert.Equal(t, risk.High, RiskFromResult(map[string]any{
		"risk_analysis_results": map[string]any{"risk_classification": "HIGH"},
	}, risk.Low))
	assert.Equal(t, risk.Medium, RiskFromResult(map[string]any{"risk_classification": "medium"}, risk.Low))
	assert.Equal(t, risk.Medium, RiskFromResult(map[string]any{
		"response_text": `{"risk_analysis_results":{"risk_classification":"Medium"}}`,
	}, risk.Low))
	assert.Equal(t, risk.High, RiskFromResult(map[string]any{"response_text": "Overall risk: High"}, risk.Low))
	assert.Equal(t, risk.Medium, RiskFromResult(map[string]any{"status": "error", "message": "boom"}, risk.Medium))
	assert.Equal(t, risk.Low, RiskFromResult(nil, risk.Low))
}

func TestAgentResults(t *testing.T) {
	nested := map[string]any{"risk_classification": "Low"}
	assert.Equal(t, nested, AgentResults(map[string]any{"risk_analysis_results": nested}, "risk_analysis"))

	whole := map[string]any{"status": "error"}
	assert.Equal(t, whole, AgentResults(whole, "risk_analysis"))

	fromText := AgentResults(map[string]any{"response_text": `{"risk_analysis_results":{"risk_score":5}}`}, "risk_analysis")
	assert.Equal(t, map[string]any{"risk_score": float64(5)}, fromText)
}

func TestDetectPEP(t *testing.T) {
	hit, ok := DetectPEP(map[string]any{"sanction_screening_results": map[string]any{
		"screening_status": "match_found",
		"matches": []any{
			map[string]any{"source": "UN", "entity_name": "X"},
			map[string]any{"source": "pep", "entity_name": "Jane Roe", "match_details": "Senator"},
		},
	}})
	assert.True(t, ok)
	assert.Equal(t, PEPMatch{EntityName: "Jane Roe", Details: "Senator"}, hit)

	_, ok = DetectPEP(map[string]any{"sanction_screening_results": map[string]any{
		"screening_status": "clear",
		"matches":          []any{map[string]any{"source": "PEP"}},
	}})
	assert.False(t, ok, "a clear screening never promotes")

	_, ok = DetectPEP(map[string]any{"sanction_screening_results": map[string]any{
		"screening_status": "match_found",
		"matches":          []any{map[string]any{"source": "OFAC"}},
	}})
	assert.False(t, ok)

	_, ok = DetectPEP(nil)
	assert.False(t, ok)
}

func TestParseSalary(t *testing.T) {
	v, ok := ParseSalary("$120,000")
	assert.True(t, ok)
	assert.Equal(t, 120000.0, v)

	v, ok = ParseSalary(" 45000.50 ")
	assert.True(t, ok)
	assert.Equal(t, 45000.5, v)

	_, ok = ParseSalary("competitive")
	assert.False(t, ok)
	_, ok = ParseSalary("")
	assert.False(t, ok)
}

func TestEnrichFillsOnlyEmptyFields(t *testing.T) {
	c := Customer{Name: "Johnny Smith", Address: ""}
	docs := []CaseDocument{
		{Attachment: document.Attachment{Kind: document.IDProof}, Extracted: document.Record{
			"first_name": "John", "last_name": "Smith", "dob": "1990-01-15", "nationality": "US",
		}},
		{Attachment: document.Attachment{Kind: document.AddressProof}, Extracted: document.Record{"full_address": "9 Elm Road"}},
		{Attachment: document.Attachment{Kind: document.EmploymentProof}, ExtractionError: "unreadable"},
	}

	got := Enrich(c, docs)
	assert.Equal(t, "Johnny Smith", got.Name, "declared values win")
	assert.Equal(t, "1990-01-15", got.DateOfBirth)
	assert.Equal(t, "US", got.Nationality)
	assert.Equal(t, "9 Elm Road", got.Address)
	assert.Empty(t, got.Employer, "failed extractions contribute nothing")
	assert.Zero(t, got.AnnualIncome)
}

func TestEnrichKeepsDeclaredIncome(t *testing.T) {
	c := Customer{AnnualIncome: 50000}
	docs := []CaseDocument{{Attachment: document.Attachment{Kind: document.EmploymentProof}, Extracted: document.Record{
		"employer_name": "Globex", "position": "Analyst", "annual_salary": "$90,000",
	}}}

	got := Enrich(c, docs)
	assert.Equal(t, 50000.0, got.AnnualIncome)
	assert.Equal(t, "Globex", got.Employer)
	assert.Equal(t, "Analyst", got.Occupation)
}
