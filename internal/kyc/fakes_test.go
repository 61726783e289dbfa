package kyc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/joelkehle/kyc-agency/internal/document"
	"github.com/joelkehle/kyc-agency/internal/evaluator"
)

var errNoCase = errors.New("case not found")

// memStore is an in-memory CaseStore and DocumentStore.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	custSeq int
	cases   map[int64]*CaseRecord
	steps   map[string]*ProcessingStep
	audit   []AuditEntry
	docs    map[string]document.Record

	// caseSnapshots records the case as it stood when each step was appended.
	caseSnapshots map[string]CaseRecord
	failAppend    bool
}

func newMemStore() *memStore {
	return &memStore{
		cases:         map[int64]*CaseRecord{},
		steps:         map[string]*ProcessingStep{},
		docs:          map[string]document.Record{},
		caseSnapshots: map[string]CaseRecord{},
	}
}

func (s *memStore) NextCustomerID(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custSeq++
	return fmt.Sprintf("CUST%03d", s.custSeq), nil
}

func (s *memStore) GetOrCreateCase(_ context.Context, c CaseRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.cases {
		if existing.CustomerID != c.CustomerID {
			continue
		}
		if existing.Status == StatusArchived {
			return 0, ErrCaseArchived
		}
		existing.Customer = c.Customer
		existing.CustomerType = c.CustomerType
		existing.EstimatedRisk = c.EstimatedRisk
		existing.RiskLevel = c.RiskLevel
		existing.Status = StatusSubmitted
		existing.CompletedAt = nil
		return id, nil
	}
	s.nextID++
	c.ID = s.nextID
	s.cases[c.ID] = &c
	return c.ID, nil
}

func (s *memStore) UpdateCase(_ context.Context, id int64, u CaseUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return errNoCase
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.EstimatedRisk != nil {
		c.EstimatedRisk = *u.EstimatedRisk
	}
	if u.RiskLevel != nil {
		c.RiskLevel = *u.RiskLevel
	}
	if u.CustomerType != nil {
		c.CustomerType = *u.CustomerType
	}
	if u.PEP != nil {
		c.PEP = *u.PEP
	}
	if u.PEPDetails != nil {
		c.PEPDetails = *u.PEPDetails
	}
	if u.ValidationStatus != nil {
		c.ValidationStatus = *u.ValidationStatus
	}
	if u.ComplianceStatus != nil {
		c.ComplianceStatus = *u.ComplianceStatus
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		c.CompletedAt = &t
	}
	if u.ClearCompletedAt {
		c.CompletedAt = nil
	}
	return nil
}

func (s *memStore) AttachDocuments(_ context.Context, id int64, docs []CaseDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return errNoCase
	}
	c.Documents = append([]CaseDocument(nil), docs...)
	return nil
}

func (s *memStore) AppendStep(_ context.Context, id int64, step ProcessingStep) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return "", errors.New("disk full")
	}
	c, ok := s.cases[id]
	if !ok {
		return "", errNoCase
	}
	step.ID = fmt.Sprintf("step-%d", len(s.steps)+1)
	s.steps[step.ID] = &step
	c.Steps = append(c.Steps, step)
	s.caseSnapshots[step.StageName] = *c
	return step.ID, nil
}

func (s *memStore) UpdateStep(_ context.Context, stepID string, u StepUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[stepID]
	if !ok {
		return errors.New("step not found")
	}
	end := u.EndTime
	st.Status, st.EndTime, st.Output, st.ErrorMessage = u.Status, &end, u.Output, u.ErrorMessage
	c := s.cases[st.CaseID]
	for i := range c.Steps {
		if c.Steps[i].ID == stepID {
			c.Steps[i] = *st
		}
	}
	return nil
}

func (s *memStore) GetCase(_ context.Context, id int64) (CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return CaseRecord{}, errNoCase
	}
	return *c, nil
}

func (s *memStore) FindCase(_ context.Context, customerID string) (CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cases {
		if c.CustomerID == customerID {
			return *c, nil
		}
	}
	return CaseRecord{}, errNoCase
}

func (s *memStore) ListCases(_ context.Context, status Status) ([]CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CaseRecord
	for _, c := range s.cases {
		if status == "" || c.Status == status {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.audit) + 1)
	s.audit = append(s.audit, e)
	return nil
}

func (s *memStore) ListAudit(_ context.Context, id int64) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEntry
	for _, e := range s.audit {
		if e.CaseID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) GetDocument(_ context.Context, id string) (document.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[id]
	return rec, ok, nil
}

func (s *memStore) PutDocument(_ context.Context, id string, rec document.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = rec
	return nil
}

// scriptedEvaluator replies per stage and records every payload it receives.
type scriptedEvaluator struct {
	mu       sync.Mutex
	replies  map[evaluator.Stage]string
	errs     map[evaluator.Stage]error
	payloads map[evaluator.Stage]map[string]any
	order    []evaluator.Stage
}

func newScriptedEvaluator(replies map[evaluator.Stage]string) *scriptedEvaluator {
	return &scriptedEvaluator{
		replies:  replies,
		errs:     map[evaluator.Stage]error{},
		payloads: map[evaluator.Stage]map[string]any{},
	}
}

func (e *scriptedEvaluator) Invoke(_ context.Context, stage evaluator.Stage, payload any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.order = append(e.order, stage)
	if m, ok := payload.(map[string]any); ok {
		e.payloads[stage] = m
	}
	if err := e.errs[stage]; err != nil {
		return "", err
	}
	reply, ok := e.replies[stage]
	if !ok {
		return "", fmt.Errorf("%s: %w", stage, evaluator.ErrNotConfigured)
	}
	return reply, nil
}

type fakeExtractor struct {
	records map[document.Kind]document.Record
	calls   int
}

func (f *fakeExtractor) Extract(_ context.Context, kind document.Kind, _ string) (document.Record, error) {
	f.calls++
	rec, ok := f.records[kind]
	if !ok {
		return nil, errors.New("unreadable document")
	}
	return rec, nil
}
