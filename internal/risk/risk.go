// Package risk scores a customer's declared attributes into a risk band and
// classifies the customer type.
package risk

import (
	"strings"

	"github.com/joelkehle/kyc-agency/internal/document"
)

type Level string

const (
	Low     Level = "Low"
	Medium  Level = "Medium"
	High    Level = "High"
	Pending Level = "pending"
	Unknown Level = "Unknown"
)

// Rank orders the scored bands; pending and unknown levels rank zero.
func (l Level) Rank() int {
	switch l {
	case Low:
		return 1
	case Medium:
		return 2
	case High:
		return 3
	}
	return 0
}

// Scored reports whether l is one of Low, Medium or High.
func (l Level) Scored() bool {
	return l.Rank() > 0
}

// ParseLevel maps text containing high, medium or low onto a band, checked
// in that order. Anything else is Unknown.
func ParseLevel(s string) Level {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "high"):
		return High
	case strings.Contains(s, "medium"):
		return Medium
	case strings.Contains(s, "low"):
		return Low
	}
	return Unknown
}

// Score weights.
const (
	WeightPEP              = 50
	WeightVeryHighIncome   = 30
	WeightHighIncome       = 15
	WeightBusiness         = 20
	WeightGovernment       = 25
	WeightMissingDocument  = 10
	VeryHighIncomeFloor    = 500_000
	HighIncomeFloor        = 200_000
	HighBandThreshold      = 50
	MediumBandThreshold    = 25
	freelanceOccupationKey = "freelance"
)

var governmentKeywords = []string{"government", "minister", "ministry", "senator", "parliament"}

// Profile is the set of attributes the scorer reads.
type Profile struct {
	PEP          bool
	AnnualIncome float64
	BusinessName string
	Position     string
	Occupation   string
	University   string
	Documents    []document.Kind
}

// Score sums the weights of every factor present in p.
func Score(p Profile) int {
	score := 0
	if p.PEP {
		score += WeightPEP
	}
	switch {
	case p.AnnualIncome > VeryHighIncomeFloor:
		score += WeightVeryHighIncome
	case p.AnnualIncome > HighIncomeFloor:
		score += WeightHighIncome
	}
	if strings.TrimSpace(p.BusinessName) != "" {
		score += WeightBusiness
	}
	if governmentPosition(p.Position) {
		score += WeightGovernment
	}
	score += WeightMissingDocument * len(MissingDocuments(p.Documents))
	return score
}

// Band maps a score onto a Level.
func Band(score int) Level {
	switch {
	case score >= HighBandThreshold:
		return High
	case score >= MediumBandThreshold:
		return Medium
	}
	return Low
}

// Estimate is Band(Score(p)).
func Estimate(p Profile) Level {
	return Band(Score(p))
}

// MissingDocuments lists the required kinds absent from have.
func MissingDocuments(have []document.Kind) []document.Kind {
	present := map[document.Kind]bool{}
	for _, k := range have {
		present[k] = true
	}
	var missing []document.Kind
	for _, k := range document.RequiredKinds {
		if !present[k] {
			missing = append(missing, k)
		}
	}
	return missing
}

func governmentPosition(position string) bool {
	position = strings.ToLower(position)
	for _, kw := range governmentKeywords {
		if strings.Contains(position, kw) {
			return true
		}
	}
	return false
}

type CustomerType string

const (
	TypePEP          CustomerType = "PEP"
	TypeBusiness     CustomerType = "Business"
	TypeStudent      CustomerType = "Student"
	TypeFreelancer   CustomerType = "Freelancer"
	TypeHighNetWorth CustomerType = "High_Net_Worth"
	TypeIndividual   CustomerType = "Individual"
)

// ClassifyCustomer picks the first matching type in priority order:
// PEP, business, student, freelancer, high net worth, individual.
func ClassifyCustomer(p Profile) CustomerType {
	switch {
	case p.PEP:
		return TypePEP
	case strings.TrimSpace(p.BusinessName) != "":
		return TypeBusiness
	case strings.TrimSpace(p.University) != "":
		return TypeStudent
	case strings.Contains(strings.ToLower(p.Occupation), freelanceOccupationKey):
		return TypeFreelancer
	case p.AnnualIncome > HighIncomeFloor:
		return TypeHighNetWorth
	}
	return TypeIndividual
}
