package kyc

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/joelkehle/kyc-agency/internal/extract"
	"github.com/joelkehle/kyc-agency/internal/risk"
)

// Signal is what a probed status says about the final decision.
type Signal int

const (
	SignalNone Signal = iota
	SignalHold
	SignalFail
)

// Probe values.
const (
	ProbeComplete   = "complete"
	ProbeIncomplete = "incomplete"
	ProbeWarning    = "warning"
	ProbeError      = "error"
	ProbeViolation  = "violation"
	ProbeUnknown    = "unknown"
)

// Classify maps a probed status onto a Signal. Unknown or unrecognized
// values carry no signal.
func Classify(probe string) Signal {
	switch strings.ToLower(strings.TrimSpace(probe)) {
	case ProbeIncomplete, ProbeWarning, "pending", "needs_review":
		return SignalHold
	case ProbeError, ProbeViolation, "failed", "rejected", "non_compliant":
		return SignalFail
	}
	return SignalNone
}

// Decide derives the final case status from the document validation and
// compliance probes:
//
//	either holds            -> pending
//	else either fails       -> rejected
//	else                    -> approved
func Decide(validationStatus, complianceStatus string) Status {
	v, c := Classify(validationStatus), Classify(complianceStatus)
	switch {
	case v == SignalHold || c == SignalHold:
		return StatusPending
	case v == SignalFail || c == SignalFail:
		return StatusRejected
	}
	return StatusApproved
}

// resultKeys names the nested result object each stage replies with.
var resultKeys = map[string]string{
	"coordinator":         "coordinator_results",
	"document_validation": "document_validation_results",
	"risk_analysis":       "risk_analysis_results",
	"sanction_screening":  "sanction_screening_results",
	"compliance":          "compliance_results",
}

// ProbeStatus looks for key in a stage result: at the top level, inside any
// nested results object, then inside a JSON response_text, and finally in
// the wording of response_text. It returns ProbeUnknown when nothing fits.
func ProbeStatus(result map[string]any, key string) string {
	if v, ok := lookupStatus(result, key); ok {
		return v
	}
	text, _ := result["response_text"].(string)
	if strings.TrimSpace(text) == "" {
		return ProbeUnknown
	}
	if inner, err := extract.ParseText(text); err == nil {
		if v, ok := lookupStatus(inner, key); ok {
			return v
		}
	}
	return statusFromText(text)
}

func lookupStatus(m map[string]any, key string) (string, bool) {
	js := toJSON(m)
	if js == "" {
		return "", false
	}
	if r := gjson.Get(js, gjsonKey(key)); r.Type == gjson.String && strings.TrimSpace(r.Str) != "" {
		return strings.ToLower(strings.TrimSpace(r.Str)), true
	}
	var found string
	gjson.Parse(js).ForEach(func(_, value gjson.Result) bool {
		if !value.IsObject() {
			return true
		}
		if r := value.Get(gjsonKey(key)); r.Type == gjson.String && strings.TrimSpace(r.Str) != "" {
			found = strings.ToLower(strings.TrimSpace(r.Str))
			return false
		}
		return true
	})
	return found, found != ""
}

// negatedFinding matches phrases such as "no errors found" or "without any
// sanctions violations" that report the absence of a problem.
var negatedFinding = regexp.MustCompile(`\b(?:no|not any|without|zero)\s+(?:[a-z]+\s+){0,2}?(?:errors?|violations?|warnings?|failures?|issues?|discrepancies)\b`)

// statusFromText reads a status out of free text. Negated findings are
// dropped before matching, and narrower words are tested first so that
// "incomplete" is not read as "complete" nor "non-compliant" as "compliant".
func statusFromText(text string) string {
	t := negatedFinding.ReplaceAllString(strings.ToLower(text), " ")
	switch {
	case strings.Contains(t, "incomplete") || strings.Contains(t, "pending"):
		return ProbeIncomplete
	case strings.Contains(t, "non-compliant") || strings.Contains(t, "non_compliant") || strings.Contains(t, "noncompliant"):
		return ProbeViolation
	case strings.Contains(t, "warning"):
		return ProbeWarning
	case strings.Contains(t, "violation"):
		return ProbeViolation
	case strings.Contains(t, "error") || strings.Contains(t, "failed"):
		return ProbeError
	case strings.Contains(t, "complete") || strings.Contains(t, "success") || strings.Contains(t, "compliant"):
		return ProbeComplete
	}
	return ProbeUnknown
}

// RiskFromResult reads the risk analysis classification, falling back to
// estimate when the stage offers no recognizable band.
func RiskFromResult(result map[string]any, estimate risk.Level) risk.Level {
	if lvl := riskClassification(result); lvl.Scored() {
		return lvl
	}
	text, _ := result["response_text"].(string)
	if strings.TrimSpace(text) != "" {
		if inner, err := extract.ParseText(text); err == nil {
			if lvl := riskClassification(inner); lvl.Scored() {
				return lvl
			}
		}
		if lvl := risk.ParseLevel(text); lvl.Scored() {
			return lvl
		}
	}
	return estimate
}

func riskClassification(m map[string]any) risk.Level {
	js := toJSON(m)
	for _, path := range []string{"risk_analysis_results.risk_classification", "risk_classification"} {
		if r := gjson.Get(js, path); r.Type == gjson.String {
			return risk.ParseLevel(r.Str)
		}
	}
	return risk.Unknown
}

// AgentResults returns the nested results object of a stage when present,
// either directly or inside a JSON response_text, and the whole result
// otherwise.
func AgentResults(result map[string]any, stage string) map[string]any {
	key := resultKeys[stage]
	if nested, ok := result[key].(map[string]any); ok {
		return nested
	}
	if text, ok := result["response_text"].(string); ok {
		if inner, err := extract.ParseText(text); err == nil {
			if nested, ok := inner[key].(map[string]any); ok {
				return nested
			}
		}
	}
	return result
}

// PEPMatch is a politically exposed person hit from sanction screening.
type PEPMatch struct {
	EntityName string
	Details    string
}

// DetectPEP reports a confirmed PEP match in a sanction screening result.
func DetectPEP(result map[string]any) (PEPMatch, bool) {
	res := AgentResults(result, "sanction_screening")
	js := toJSON(res)
	if !strings.EqualFold(strings.TrimSpace(gjson.Get(js, "screening_status").String()), "match_found") {
		return PEPMatch{}, false
	}
	var hit PEPMatch
	found := false
	gjson.Get(js, "matches").ForEach(func(_, m gjson.Result) bool {
		if strings.EqualFold(strings.TrimSpace(m.Get("source").String()), "PEP") {
			hit = PEPMatch{EntityName: m.Get("entity_name").String(), Details: m.Get("match_details").String()}
			found = true
			return false
		}
		return true
	})
	return hit, found
}

func toJSON(m map[string]any) string {
	if m == nil {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func gjsonKey(key string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(key)
}
