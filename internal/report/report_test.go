package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/kyc-agency/internal/document"
	"github.com/joelkehle/kyc-agency/internal/kyc"
	"github.com/joelkehle/kyc-agency/internal/risk"
)

var generated = time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC)

func sampleCase() kyc.CaseRecord {
	start := generated.Add(-time.Minute)
	end := start.Add(1500 * time.Millisecond)
	return kyc.CaseRecord{
		ID: 12,
		Customer: kyc.Customer{
			CustomerID: "CUST012", Name: "Ann Lee", Address: "9 Elm Road | Flat 2",
			PEP: true, PEPDetails: "Deputy minister",
		},
		CustomerType:     risk.TypePEP,
		Status:           kyc.StatusPending,
		EstimatedRisk:    risk.High,
		RiskLevel:        risk.Pending,
		ValidationStatus: "Document Validation Warnings (2026-04-02 14:59): Found 1 document(s)",
		CreatedAt:        start,
		Documents: []kyc.CaseDocument{
			{Attachment: document.Attachment{ID: "d1", Kind: document.IDProof, Filename: "id.png"},
				Extracted: document.Record{"last_name": "Lee", "first_name": "Ann", "dob": ""}},
			{Attachment: document.Attachment{ID: "d2", Kind: document.AddressProof}, ExtractionError: "unreadable"},
		},
		Steps: []kyc.ProcessingStep{
			{StageName: "coordinator", Status: kyc.StepSuccess, StartTime: start, EndTime: &end},
			{StageName: "risk_analysis", Status: kyc.StepError, StartTime: start, EndTime: &end, ErrorMessage: "timeout"},
			{StageName: "compliance", Status: kyc.StepPending, StartTime: start},
		},
	}
}

func TestBuildMarkdown(t *testing.T) {
	audit := []kyc.AuditEntry{{ActionType: "pipeline_completed", PerformedBy: "pipeline", CreatedAt: generated}}
	doc := Build(sampleCase(), audit, generated)

	assert.Equal(t, []string{"PENDING", "Risk: pending", "PEP"}, doc.Badges)
	md := doc.Markdown
	assert.Contains(t, md, "# KYC Case Report")
	assert.Contains(t, md, "Final status: **pending**.")
	assert.Contains(t, md, "Politically exposed person: **yes** (Deputy minister).")
	assert.Contains(t, md, "| Address | 9 Elm Road \\| Flat 2 |")
	assert.Contains(t, md, "| id_proof | id.png | extracted | first_name: Ann; last_name: Lee |")
	assert.Contains(t, md, "| address_proof | - | failed: unreadable | - |")
	assert.Contains(t, md, "Missing required documents: employment_proof.")
	assert.Contains(t, md, "| risk_analysis | error | 1.5s | timeout |")
	assert.Contains(t, md, "| compliance | pending | - | - |")
	assert.Contains(t, md, "| 2026-04-02 15:00 UTC | pipeline_completed | pipeline |")
	assert.Contains(t, md, "Assign a reviewer.")
}

func TestBuildMarkdownEmptyCase(t *testing.T) {
	doc := Build(kyc.CaseRecord{Customer: kyc.Customer{CustomerID: "CUST001"}, Status: kyc.StatusApproved, RiskLevel: risk.Low}, nil, generated)
	assert.Contains(t, doc.Markdown, "No documents were attached.")
	assert.Contains(t, doc.Markdown, "No stages have run.")
	assert.Contains(t, doc.Markdown, "No recorded actions.")
	assert.Contains(t, doc.Markdown, "Schedule periodic review according to the Low risk band.")
	assert.NotContains(t, doc.Markdown, "Politically exposed")
}

func TestDocumentHTML(t *testing.T) {
	doc := Build(sampleCase(), nil, generated)
	doc.Meta = append(doc.Meta, MetaItem{Label: "Note", Value: "<script>"})

	out, err := doc.HTML()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "<!doctype html>"))
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, `<h2 data-page-break-before="true">Audit Trail</h2>`)
	assert.Contains(t, out, `<td class="step-error">error</td>`)
	assert.Contains(t, out, "report-badge status-pending")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.NotContains(t, out, "<script>")
}

func TestApplyPrintLayoutHooksNoopWithoutMatches(t *testing.T) {
	in := "<h2>Summary</h2><p>x</p>"
	assert.Equal(t, in, applyPrintLayoutHooks(in))
}
