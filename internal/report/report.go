// Package report renders a KYC case as markdown, HTML and PDF.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joelkehle/kyc-agency/internal/document"
	"github.com/joelkehle/kyc-agency/internal/kyc"
	"github.com/joelkehle/kyc-agency/internal/risk"
)

const Disclaimer = "This report summarizes an automated KYC screening. " +
	"Final decisions on pending cases rest with a compliance reviewer."

// MetaItem is one labelled line of the report header.
type MetaItem struct {
	Label string
	Value string
}

// Document is a rendered case report.
type Document struct {
	Title    string
	Meta     []MetaItem
	Status   kyc.Status
	Badges   []string
	Markdown string
}

// Build renders c and its audit trail.
func Build(c kyc.CaseRecord, audit []kyc.AuditEntry, generated time.Time) Document {
	doc := Document{
		Title:  "KYC Case Report",
		Status: c.Status,
		Meta: []MetaItem{
			{"Customer", c.CustomerID},
			{"Case", fmt.Sprintf("%d", c.ID)},
			{"Submitted", formatTime(c.CreatedAt)},
			{"Generated", formatTime(generated)},
		},
		Badges: []string{strings.ToUpper(string(c.Status)), "Risk: " + string(c.RiskLevel)},
	}
	if c.PEP {
		doc.Badges = append(doc.Badges, "PEP")
	}
	doc.Markdown = buildMarkdown(c, audit, generated)
	return doc
}

func buildMarkdown(c kyc.CaseRecord, audit []kyc.AuditEntry, generated time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# KYC Case Report\n\n")
	fmt.Fprintf(&b, "- Customer ID: %s\n", c.CustomerID)
	fmt.Fprintf(&b, "- Case: %d\n", c.ID)
	fmt.Fprintf(&b, "- Date: %s\n\n", generated.Format(time.RFC3339))
	fmt.Fprintf(&b, "%s\n\n", Disclaimer)

	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "Final status: **%s**.\n", c.Status)
	fmt.Fprintf(&b, "Risk level: **%s** (estimated %s).\n", orDash(string(c.RiskLevel)), orDash(string(c.EstimatedRisk)))
	fmt.Fprintf(&b, "Customer type: **%s**.\n", orDash(string(c.CustomerType)))
	if c.PEP {
		fmt.Fprintf(&b, "Politically exposed person: **yes**")
		if c.PEPDetails != "" {
			fmt.Fprintf(&b, " (%s)", c.PEPDetails)
		}
		b.WriteString(".\n")
	}
	if c.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s.\n", formatTime(*c.CompletedAt))
	}
	b.WriteString("\n")
	appendNextSteps(&b, c)

	fmt.Fprintf(&b, "## Customer\n\n")
	fmt.Fprintf(&b, "| Field | Value |\n|---|---|\n")
	rows := []MetaItem{
		{"Name", c.Name},
		{"Date of birth", c.DateOfBirth},
		{"Nationality", c.Nationality},
		{"Address", c.Address},
		{"Email", c.Email},
		{"Phone", c.Phone},
		{"Occupation", c.Occupation},
		{"Employer", c.Employer},
		{"Business", c.BusinessName},
		{"Position", c.Position},
		{"University", c.University},
		{"Source of funds", c.SourceOfFunds},
	}
	if c.AnnualIncome > 0 {
		rows = append(rows, MetaItem{"Annual income", fmt.Sprintf("%.2f", c.AnnualIncome)})
	}
	for _, r := range rows {
		if strings.TrimSpace(r.Value) == "" {
			continue
		}
		fmt.Fprintf(&b, "| %s | %s |\n", r.Label, cell(r.Value))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Documents\n\n")
	if len(c.Documents) == 0 {
		fmt.Fprintf(&b, "No documents were attached.\n\n")
	} else {
		fmt.Fprintf(&b, "| Kind | File | Extraction | Fields |\n|---|---|---|---|\n")
		for _, d := range c.Documents {
			extraction := "extracted"
			if d.Extracted == nil {
				extraction = "failed: " + orDash(d.ExtractionError)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", d.Kind, cell(orDash(d.Filename)), cell(extraction), cell(fieldSummary(d)))
		}
		b.WriteString("\n")
	}
	if missing := risk.MissingDocuments(documentKinds(c)); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, k := range missing {
			names[i] = string(k)
		}
		fmt.Fprintf(&b, "Missing required documents: %s.\n\n", strings.Join(names, ", "))
	}

	fmt.Fprintf(&b, "## Review Notes\n\n")
	fmt.Fprintf(&b, "- Validation: %s\n", orDash(c.ValidationStatus))
	fmt.Fprintf(&b, "- Compliance: %s\n\n", orDash(c.ComplianceStatus))

	fmt.Fprintf(&b, "## Processing Steps\n\n")
	if len(c.Steps) == 0 {
		fmt.Fprintf(&b, "No stages have run.\n\n")
	} else {
		fmt.Fprintf(&b, "| Stage | Status | Duration | Detail |\n|---|---|---|---|\n")
		for _, s := range c.Steps {
			duration := "-"
			if s.EndTime != nil {
				duration = s.Duration().Round(time.Millisecond).String()
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", s.StageName, s.Status, duration, cell(orDash(s.ErrorMessage)))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Audit Trail\n\n")
	if len(audit) == 0 {
		fmt.Fprintf(&b, "No recorded actions.\n")
	} else {
		fmt.Fprintf(&b, "| Time | Action | By |\n|---|---|---|\n")
		for _, e := range audit {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", formatTime(e.CreatedAt), e.ActionType, cell(orDash(e.PerformedBy)))
		}
	}
	return b.String()
}

func appendNextSteps(b *strings.Builder, c kyc.CaseRecord) {
	fmt.Fprintf(b, "## Recommended Next Steps\n\n")
	switch c.Status {
	case kyc.StatusApproved:
		fmt.Fprintf(b, "No action required. Schedule periodic review according to the %s risk band.\n\n", orDash(string(c.RiskLevel)))
	case kyc.StatusRejected:
		fmt.Fprintf(b, "Notify the customer of the rejection and retain the case file.\n\n")
	case kyc.StatusArchived:
		fmt.Fprintf(b, "Case is archived. No further action.\n\n")
	default:
		fmt.Fprintf(b, "Assign a reviewer. Check the review notes and any failed processing steps before deciding.\n\n")
	}
}

func fieldSummary(d kyc.CaseDocument) string {
	if len(d.Extracted) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(d.Extracted))
	for k, v := range d.Extracted {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + d.Extracted.Get(k)
	}
	return strings.Join(parts, "; ")
}

func documentKinds(c kyc.CaseRecord) []document.Kind {
	out := make([]document.Kind, 0, len(c.Documents))
	for _, d := range c.Documents {
		out = append(out, d.Kind)
	}
	return out
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}
