// Package kyc runs customer submissions through enrichment, the staged
// evaluation agents and the final status decision.
package kyc

import (
	"context"
	"strconv"
	"time"

	"github.com/joelkehle/kyc-agency/internal/document"
	"github.com/joelkehle/kyc-agency/internal/risk"
	"github.com/joelkehle/kyc-agency/internal/validation"
)

type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusArchived  Status = "archived"
)

// Terminal reports whether a pipeline run or manual action has closed s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusArchived
}

type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
)

// Customer is the declared record as entered by the customer.
type Customer struct {
	CustomerID    string  `json:"customer_id"`
	Name          string  `json:"name"`
	Email         string  `json:"email,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	Address       string  `json:"address,omitempty"`
	DateOfBirth   string  `json:"dob,omitempty"`
	Nationality   string  `json:"nationality,omitempty"`
	Occupation    string  `json:"occupation,omitempty"`
	Employer      string  `json:"employer,omitempty"`
	AnnualIncome  float64 `json:"annual_income,omitempty"`
	SourceOfFunds string  `json:"source_of_funds,omitempty"`
	BusinessName  string  `json:"business_name,omitempty"`
	Position      string  `json:"position,omitempty"`
	University    string  `json:"university,omitempty"`
	PEP           bool    `json:"pep_status"`
	PEPDetails    string  `json:"pep_details,omitempty"`
}

// Declared projects the fields documents are validated against.
func (c Customer) Declared() validation.Declared {
	d := validation.Declared{
		Name:        c.Name,
		DateOfBirth: c.DateOfBirth,
		Nationality: c.Nationality,
		Address:     c.Address,
		Employer:    c.Employer,
		Occupation:  c.Occupation,
	}
	if c.AnnualIncome > 0 {
		d.AnnualIncome = formatAmount(c.AnnualIncome)
	}
	return d
}

// Profile projects the fields the risk scorer reads.
func (c Customer) Profile(docs []document.Attachment) risk.Profile {
	p := risk.Profile{
		PEP:          c.PEP,
		AnnualIncome: c.AnnualIncome,
		BusinessName: c.BusinessName,
		Position:     c.Position,
		Occupation:   c.Occupation,
		University:   c.University,
	}
	for _, d := range docs {
		p.Documents = append(p.Documents, d.Kind)
	}
	return p
}

// Submission is one customer's KYC application.
type Submission struct {
	Customer
	Documents []document.Attachment `json:"documents"`
}

// CaseDocument is an attachment together with its extraction outcome.
type CaseDocument struct {
	document.Attachment
	Extracted       document.Record `json:"extracted_data,omitempty"`
	ExtractionError string          `json:"extraction_error,omitempty"`
}

// ProcessingStep is the persisted record of one stage run.
type ProcessingStep struct {
	ID           string         `json:"id"`
	CaseID       int64          `json:"case_id"`
	StageName    string         `json:"stage_name"`
	AgentKind    string         `json:"agent_kind"`
	Status       StepStatus     `json:"status"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Duration is zero until the step has ended.
func (s ProcessingStep) Duration() time.Duration {
	if s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// CaseRecord is the aggregate of one customer's KYC case.
type CaseRecord struct {
	ID int64 `json:"id"`
	Customer
	CustomerType     risk.CustomerType `json:"customer_type"`
	Status           Status            `json:"status"`
	EstimatedRisk    risk.Level        `json:"estimated_risk_level"`
	RiskLevel        risk.Level        `json:"final_risk_level"`
	ValidationStatus string            `json:"validation_status"`
	ComplianceStatus string            `json:"compliance_status"`
	CreatedAt        time.Time         `json:"submission_time"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CompletedAt      *time.Time        `json:"completion_time,omitempty"`
	Steps            []ProcessingStep  `json:"processing_steps"`
	Documents        []CaseDocument    `json:"documents"`
}

// CaseUpdate carries the fields to change; nil fields are left untouched.
type CaseUpdate struct {
	Status           *Status
	EstimatedRisk    *risk.Level
	RiskLevel        *risk.Level
	CustomerType     *risk.CustomerType
	PEP              *bool
	PEPDetails       *string
	ValidationStatus *string
	ComplianceStatus *string
	CompletedAt      *time.Time
	ClearCompletedAt bool
}

// StepUpdate finalizes a processing step.
type StepUpdate struct {
	Status       StepStatus
	EndTime      time.Time
	Output       map[string]any
	ErrorMessage string
}

// AuditEntry records one mutation of a case.
type AuditEntry struct {
	ID          int64          `json:"id"`
	CaseID      int64          `json:"case_id"`
	ActionType  string         `json:"action_type"`
	Details     map[string]any `json:"details,omitempty"`
	PerformedBy string         `json:"performed_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CaseStore persists cases, their processing steps and audit log. Writes to
// one case are serialized by the implementation.
type CaseStore interface {
	NextCustomerID(ctx context.Context) (string, error)
	// GetOrCreateCase creates the case of c.CustomerID, or refreshes the
	// existing one with c's customer, type and estimate and resets it to
	// submitted. It fails with ErrCaseArchived for an archived case.
	GetOrCreateCase(ctx context.Context, c CaseRecord) (int64, error)
	UpdateCase(ctx context.Context, caseID int64, u CaseUpdate) error
	AttachDocuments(ctx context.Context, caseID int64, docs []CaseDocument) error
	AppendStep(ctx context.Context, caseID int64, step ProcessingStep) (string, error)
	UpdateStep(ctx context.Context, stepID string, u StepUpdate) error
	GetCase(ctx context.Context, caseID int64) (CaseRecord, error)
	FindCase(ctx context.Context, customerID string) (CaseRecord, error)
	ListCases(ctx context.Context, status Status) ([]CaseRecord, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, caseID int64) ([]AuditEntry, error)
}

// DocumentStore holds extracted field records keyed by document id.
type DocumentStore interface {
	GetDocument(ctx context.Context, documentID string) (document.Record, bool, error)
	PutDocument(ctx context.Context, documentID string, rec document.Record) error
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
