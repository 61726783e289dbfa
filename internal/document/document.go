// Package document holds the document kinds a KYC case can carry and the
// loosely structured field records extracted from them.
package document

import "strings"

type Kind string

const (
	IDProof         Kind = "id_proof"
	AddressProof    Kind = "address_proof"
	EmploymentProof Kind = "employment_proof"
)

// RequiredKinds lists the kinds every complete submission carries.
var RequiredKinds = []Kind{IDProof, AddressProof, EmploymentProof}

var kindFields = map[Kind][]string{
	IDProof:         {"first_name", "last_name", "dob", "nationality", "document_type", "document_number"},
	AddressProof:    {"full_address", "document_type", "document_date", "account_holder_name"},
	EmploymentProof: {"employer_name", "employee_name", "position", "employment_date", "annual_salary", "document_type"},
}

// Known reports whether k is one of the required kinds.
func (k Kind) Known() bool {
	_, ok := kindFields[k]
	return ok
}

// Fields returns the fields extracted for k, in reconstruction order. Unknown
// kinds have none.
func (k Kind) Fields() []string {
	return append([]string(nil), kindFields[k]...)
}

// ParseKind maps free text such as "ID Proof" or "employment-proof" onto a Kind.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return Kind(s)
}

// Record is the set of fields extracted from one document. Values are kept
// as text; absent and blank fields are equivalent.
type Record map[string]string

// Get returns the trimmed value of field.
func (r Record) Get(field string) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r[field])
}

// Has reports whether field carries a non-blank value.
func (r Record) Has(field string) bool {
	return r.Get(field) != ""
}

// FullName joins first and last name when either is present.
func (r Record) FullName() string {
	return strings.TrimSpace(r.Get("first_name") + " " + r.Get("last_name"))
}

// Attachment is a document uploaded with a submission.
type Attachment struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Filename string `json:"filename,omitempty"`
	Path     string `json:"path,omitempty"`
}
