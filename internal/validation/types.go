// Package validation compares the fields extracted from a KYC document with
// what the customer declared, producing a scored discrepancy report.
package validation

import "strings"

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParseSeverity maps free text onto a Severity, defaulting to medium.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityLow:
		return SeverityLow
	case SeverityHigh:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

type Discrepancy struct {
	Field         string   `json:"field"`
	DocumentValue string   `json:"document_value"`
	UserValue     string   `json:"user_value"`
	Severity      Severity `json:"severity"`
	Reason        string   `json:"reason,omitempty"`
}

// Result is the outcome of comparing one document with the declared record.
// ConfidenceScore is always within [0,100].
type Result struct {
	OverallMatch    bool           `json:"overall_match"`
	ConfidenceScore int            `json:"confidence_score"`
	Discrepancies   []Discrepancy  `json:"discrepancies"`
	Warnings        []string       `json:"warnings"`
	Details         map[string]any `json:"validation_details"`
}

// Method values recorded under Details["validation_method"].
const (
	MethodLLM   = "llm"
	MethodRules = "rule_based"
	MethodError = "error"
)

// Method reports which path produced r.
func (r Result) Method() string {
	if m, ok := r.Details["validation_method"].(string); ok {
		return m
	}
	return ""
}

// Declared is the subset of the customer's declared record that documents
// are checked against.
type Declared struct {
	Name         string `json:"name,omitempty"`
	DateOfBirth  string `json:"date_of_birth,omitempty"`
	Nationality  string `json:"nationality,omitempty"`
	Address      string `json:"address,omitempty"`
	Employer     string `json:"employer,omitempty"`
	Occupation   string `json:"occupation,omitempty"`
	AnnualIncome string `json:"annual_income,omitempty"`
}

// Thresholds are the per-field similarity thresholds used by the rule path.
type Thresholds struct {
	Name        float64
	Address     float64
	Nationality float64
	Employer    float64
	Position    float64
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
