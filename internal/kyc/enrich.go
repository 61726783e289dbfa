package kyc

import (
	"strconv"
	"strings"

	"github.com/joelkehle/kyc-agency/internal/document"
)

var salaryNoise = strings.NewReplacer("$", "", "£", "", "€", "", ",", "", " ", "", "\t", "")

// ParseSalary reads an extracted salary such as "$120,000". ok is false
// when nothing numeric remains.
func ParseSalary(s string) (float64, bool) {
	cleaned := salaryNoise.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Enrich fills the empty declared fields of c from the extracted records of
// successfully extracted documents. Declared values always win.
func Enrich(c Customer, docs []CaseDocument) Customer {
	for _, d := range docs {
		if d.Extracted == nil {
			continue
		}
		rec := d.Extracted
		switch d.Kind {
		case document.IDProof:
			fill(&c.Name, rec.FullName())
			fill(&c.DateOfBirth, rec.Get("dob"))
			fill(&c.Nationality, rec.Get("nationality"))
		case document.AddressProof:
			fill(&c.Address, rec.Get("full_address"))
		case document.EmploymentProof:
			fill(&c.Employer, rec.Get("employer_name"))
			fill(&c.Occupation, rec.Get("position"))
			if c.AnnualIncome <= 0 {
				if v, ok := ParseSalary(rec.Get("annual_salary")); ok {
					c.AnnualIncome = v
				}
			}
		}
	}
	return c
}

func fill(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" && v != "" {
		*dst = v
	}
}
