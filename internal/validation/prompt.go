package validation

import (
	"encoding/json"
	"fmt"

	"github.com/joelkehle/kyc-agency/internal/document"
)

const replySchema = `{
  "overall_match": true,
  "confidence_score": 0,
  "discrepancies": [
    {
      "field": "field_name",
      "document_value": "value from document",
      "user_value": "value from user",
      "severity": "high|medium|low",
      "reason": "why the values differ"
    }
  ],
  "warnings": ["warning message"],
  "validation_details": {
    "name_match": {"matches": true, "confidence": 0, "reason": "explanation"},
    "address_match": {"matches": true, "confidence": 0, "reason": "explanation"},
    "other_matches": {"field_name": {"matches": true, "confidence": 0, "reason": "explanation"}}
  }
}`

// BuildPrompt renders the LLM instruction comparing extracted with declared.
func BuildPrompt(extracted document.Record, declared Declared, kind document.Kind) string {
	doc, _ := json.MarshalIndent(extracted, "", "  ")
	user, _ := json.MarshalIndent(declared, "", "  ")
	return fmt.Sprintf(`You are a KYC document validation expert. Decide whether the information extracted from a %[1]s document matches the information the customer provided.

VALIDATION RULES:
1. Names match at 80%% confidence or higher. Consider nicknames, abbreviations, middle names and name order.
2. Addresses match at 80%% confidence or higher. Consider abbreviations such as St/Street and Ave/Avenue.
3. Dates must match exactly once different date formats are accounted for.
4. Other fields match at an appropriate confidence level.
5. A field missing on either side is not a discrepancy.

DOCUMENT TYPE: %[1]s

EXTRACTED DATA FROM DOCUMENT:
%[2]s

USER PROVIDED DATA:
%[3]s

Reply with JSON in exactly this shape:
%[4]s

Use 80%% as the threshold for acceptable matches and explain every mismatch. Return only the JSON.`, kind, doc, user, replySchema)
}
