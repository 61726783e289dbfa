package validation

import (
	"fmt"

	"github.com/joelkehle/kyc-agency/internal/document"
	"github.com/joelkehle/kyc-agency/internal/matching"
)

// DefaultThresholds returns the stock per-field thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Name:        matching.NameThreshold,
		Address:     matching.AddressThreshold,
		Nationality: matching.NationalityThreshold,
		Employer:    matching.EmployerThreshold,
		Position:    matching.PositionThreshold,
	}
}

// fieldCheck compares one extracted field with one declared field.
type fieldCheck struct {
	field     string
	docValue  func(document.Record) string
	userValue func(Declared) string
	matchType matching.MatchType
	threshold float64
	severity  Severity
	date      bool
}

// penalty computes the confidence reduction for a set of discrepancies.
type penalty func(high, medium, low, total int) int

func identityPenalty(high, medium, _, total int) int {
	return high*30 + medium*20 + total*10
}

func employmentPenalty(high, medium, low, total int) int {
	return high*30 + medium*20 + low*10 + total*5
}

func (th Thresholds) checks(kind document.Kind) ([]fieldCheck, penalty, bool) {
	declaredName := func(d Declared) string { return d.Name }
	switch kind {
	case document.IDProof:
		return []fieldCheck{
			{field: "name", docValue: document.Record.FullName, userValue: declaredName, matchType: matching.MatchName, threshold: th.Name, severity: SeverityMedium},
			{field: "date_of_birth", docValue: get("dob"), userValue: func(d Declared) string { return d.DateOfBirth }, severity: SeverityHigh, date: true},
			{field: "nationality", docValue: get("nationality"), userValue: func(d Declared) string { return d.Nationality }, matchType: matching.MatchGeneral, threshold: th.Nationality, severity: SeverityLow},
		}, identityPenalty, true
	case document.AddressProof:
		return []fieldCheck{
			{field: "address", docValue: get("full_address"), userValue: func(d Declared) string { return d.Address }, matchType: matching.MatchAddress, threshold: th.Address, severity: SeverityHigh},
			{field: "account_holder_name", docValue: get("account_holder_name"), userValue: declaredName, matchType: matching.MatchName, threshold: th.Name, severity: SeverityHigh},
		}, identityPenalty, true
	case document.EmploymentProof:
		return []fieldCheck{
			{field: "employer", docValue: get("employer_name"), userValue: func(d Declared) string { return d.Employer }, matchType: matching.MatchGeneral, threshold: th.Employer, severity: SeverityMedium},
			{field: "employee_name", docValue: get("employee_name"), userValue: declaredName, matchType: matching.MatchName, threshold: th.Name, severity: SeverityHigh},
			{field: "position", docValue: get("position"), userValue: func(d Declared) string { return d.Occupation }, matchType: matching.MatchGeneral, threshold: th.Position, severity: SeverityLow},
		}, employmentPenalty, true
	}
	return nil, nil, false
}

func get(field string) func(document.Record) string {
	return func(r document.Record) string { return r.Get(field) }
}

// ValidateRules compares extracted against declared with the match
// strategies. Fields missing on either side are skipped. Internal failures
// yield a zero-confidence result carrying a diagnostic warning.
func ValidateRules(extracted document.Record, declared Declared, kind document.Kind, th Thresholds) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failedResult(fmt.Sprint(r))
		}
	}()

	checks, pen, ok := th.checks(kind)
	if !ok {
		return Result{
			OverallMatch:    true,
			ConfidenceScore: 100,
			Discrepancies:   []Discrepancy{},
			Warnings:        []string{fmt.Sprintf("no rule set for document kind %q", kind)},
			Details:         map[string]any{"validation_method": MethodRules},
		}
	}

	res = Result{
		Discrepancies: []Discrepancy{},
		Warnings:      []string{},
		Details:       map[string]any{"validation_method": MethodRules},
	}
	var high, medium, low int
	for _, c := range checks {
		docVal := c.docValue(extracted)
		userVal := c.userValue(declared)
		if docVal == "" || userVal == "" {
			continue
		}
		var matched bool
		detail := map[string]any{"document_value": docVal, "user_value": userVal}
		if c.date {
			matched = NormalizeDate(docVal) == NormalizeDate(userVal)
		} else {
			matched = matching.Match(docVal, userVal, c.threshold, c.matchType)
			detail["score"] = matching.Score(docVal, userVal, c.matchType)
			detail["threshold"] = c.threshold
		}
		detail["matches"] = matched
		res.Details[c.field] = detail
		if matched {
			continue
		}
		res.Discrepancies = append(res.Discrepancies, Discrepancy{
			Field:         c.field,
			DocumentValue: docVal,
			UserValue:     userVal,
			Severity:      c.severity,
			Reason:        mismatchReason(c),
		})
		switch c.severity {
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		default:
			low++
		}
	}
	res.ConfidenceScore = clampScore(100 - pen(high, medium, low, len(res.Discrepancies)))
	res.OverallMatch = len(res.Discrepancies) == 0
	return res
}

func mismatchReason(c fieldCheck) string {
	if c.date {
		return "dates differ after normalization"
	}
	return fmt.Sprintf("%s similarity below %.0f%%", c.matchType, c.threshold*100)
}

func failedResult(cause string) Result {
	return Result{
		OverallMatch:    false,
		ConfidenceScore: 0,
		Discrepancies: []Discrepancy{{
			Field:    "validation",
			Severity: SeverityHigh,
			Reason:   "validation error occurred",
		}},
		Warnings: []string{"validation failed: " + cause},
		Details:  map[string]any{"validation_method": MethodError},
	}
}
