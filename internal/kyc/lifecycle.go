package kyc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joelkehle/kyc-agency/internal/risk"
)

const noteTimeLayout = "2006-01-02 15:04"

var (
	// ErrCaseArchived is returned for any change to an archived case.
	ErrCaseArchived  = errors.New("case is archived")
	ErrUnknownAction = errors.New("unknown review action")
)

type ReviewAction string

const (
	ReviewApprove     ReviewAction = "approve"
	ReviewReject      ReviewAction = "reject"
	ReviewRequestInfo ReviewAction = "request_info"
)

// Mutation is a change to a case together with the audit row describing it.
type Mutation struct {
	Update CaseUpdate
	Audit  AuditEntry
}

// ApplyValidationWarnings holds a case for manual review because some
// documents disagree with the declared record.
func ApplyValidationWarnings(c CaseRecord, warnings []DocumentWarning, by string, now time.Time) Mutation {
	var b strings.Builder
	fmt.Fprintf(&b, "Document Validation Warnings (%s): ", now.Format(noteTimeLayout))
	fmt.Fprintf(&b, "Found %d document(s) with discrepancies requiring manual review.", len(warnings))
	for _, w := range warnings {
		fmt.Fprintf(&b, " %s: %d%% confidence.", w.Kind, w.ConfidenceScore)
		for _, d := range w.Discrepancies {
			fmt.Fprintf(&b, " %s mismatch (doc: %s, user: %s).", d.Field, d.DocumentValue, d.UserValue)
		}
	}
	status := StatusPending
	level := risk.Pending
	note := appendNote(c.ValidationStatus, b.String())
	return Mutation{
		Update: CaseUpdate{
			Status:           &status,
			RiskLevel:        &level,
			ValidationStatus: &note,
			ClearCompletedAt: true,
		},
		Audit: AuditEntry{
			CaseID:     c.ID,
			ActionType: "validation_warnings",
			Details: map[string]any{
				"previous_status": c.Status,
				"new_status":      status,
				"warnings":        warnings,
			},
			PerformedBy: by,
			CreatedAt:   now,
		},
	}
}

// ApplyReview records a reviewer's decision on a case.
func ApplyReview(c CaseRecord, action ReviewAction, notes, by string, now time.Time) (Mutation, error) {
	if c.Status == StatusArchived {
		return Mutation{}, ErrCaseArchived
	}
	var u CaseUpdate
	switch action {
	case ReviewApprove:
		status := StatusApproved
		level := c.EstimatedRisk
		if !level.Scored() {
			level = risk.Low
		}
		u.Status, u.RiskLevel, u.CompletedAt = &status, &level, &now
	case ReviewReject:
		status := StatusRejected
		u.Status, u.CompletedAt = &status, &now
	case ReviewRequestInfo:
		status := StatusPending
		u.Status = &status
	default:
		return Mutation{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	note := appendNote(c.ValidationStatus, fmt.Sprintf("Manual Review (%s): %s", now.Format(noteTimeLayout), notes))
	u.ValidationStatus = &note
	return Mutation{
		Update: u,
		Audit: AuditEntry{
			CaseID:     c.ID,
			ActionType: "manual_review",
			Details: map[string]any{
				"action":          string(action),
				"notes":           notes,
				"previous_status": c.Status,
				"new_status":      *u.Status,
			},
			PerformedBy: by,
			CreatedAt:   now,
		},
	}, nil
}

// Archive closes a case. An archived case cannot be archived again.
func Archive(c CaseRecord, notes, by string, now time.Time) (Mutation, error) {
	if c.Status == StatusArchived {
		return Mutation{}, ErrCaseArchived
	}
	status := StatusArchived
	note := "Archived: " + notes
	return Mutation{
		Update: CaseUpdate{
			Status:           &status,
			ValidationStatus: &note,
			CompletedAt:      &now,
		},
		Audit: AuditEntry{
			CaseID:     c.ID,
			ActionType: "case_archived",
			Details: map[string]any{
				"previous_status": c.Status,
				"new_status":      status,
				"archive_notes":   notes,
			},
			PerformedBy: by,
			CreatedAt:   now,
		},
	}, nil
}

// ResetForRetry reopens a case so it can be processed again. Archived cases
// stay closed.
func ResetForRetry(c CaseRecord, by string, now time.Time) (Mutation, error) {
	if c.Status == StatusArchived {
		return Mutation{}, ErrCaseArchived
	}
	status := StatusPending
	return Mutation{
		Update: CaseUpdate{Status: &status, ClearCompletedAt: true},
		Audit: AuditEntry{
			CaseID:     c.ID,
			ActionType: "retry_processing",
			Details: map[string]any{
				"previous_status": c.Status,
				"new_status":      status,
			},
			PerformedBy: by,
			CreatedAt:   now,
		},
	}, nil
}

func appendNote(current, note string) string {
	return strings.Trim(current+"; "+note, "; ")
}

// Reviewer applies lifecycle mutations to stored cases.
type Reviewer struct {
	cases CaseStore
	now   func() time.Time
}

func NewReviewer(cases CaseStore) *Reviewer {
	return &Reviewer{cases: cases, now: time.Now}
}

func (r *Reviewer) apply(ctx context.Context, m Mutation) (CaseRecord, error) {
	if err := r.cases.UpdateCase(ctx, m.Audit.CaseID, m.Update); err != nil {
		return CaseRecord{}, eris.Wrapf(err, "update case %d", m.Audit.CaseID)
	}
	if err := r.cases.AppendAudit(ctx, m.Audit); err != nil {
		return CaseRecord{}, eris.Wrapf(err, "audit case %d", m.Audit.CaseID)
	}
	zap.L().Info("kyc: case updated",
		zap.Int64("case_id", m.Audit.CaseID),
		zap.String("action", m.Audit.ActionType),
		zap.String("performed_by", m.Audit.PerformedBy),
	)
	return r.cases.GetCase(ctx, m.Audit.CaseID)
}

// FlagWarnings holds the case of customerID when warnings is non-empty.
func (r *Reviewer) FlagWarnings(ctx context.Context, customerID string, warnings []DocumentWarning, by string) (CaseRecord, error) {
	c, err := r.cases.FindCase(ctx, customerID)
	if err != nil {
		return CaseRecord{}, err
	}
	if len(warnings) == 0 {
		return c, nil
	}
	return r.apply(ctx, ApplyValidationWarnings(c, warnings, by, r.now()))
}

func (r *Reviewer) Review(ctx context.Context, customerID string, action ReviewAction, notes, by string) (CaseRecord, error) {
	c, err := r.cases.FindCase(ctx, customerID)
	if err != nil {
		return CaseRecord{}, err
	}
	m, err := ApplyReview(c, action, notes, by, r.now())
	if err != nil {
		return CaseRecord{}, err
	}
	return r.apply(ctx, m)
}

func (r *Reviewer) Archive(ctx context.Context, customerID, notes, by string) (CaseRecord, error) {
	c, err := r.cases.FindCase(ctx, customerID)
	if err != nil {
		return CaseRecord{}, err
	}
	m, err := Archive(c, notes, by, r.now())
	if err != nil {
		return CaseRecord{}, err
	}
	return r.apply(ctx, m)
}

func (r *Reviewer) ResetForRetry(ctx context.Context, customerID, by string) (CaseRecord, error) {
	c, err := r.cases.FindCase(ctx, customerID)
	if err != nil {
		return CaseRecord{}, err
	}
	m, err := ResetForRetry(c, by, r.now())
	if err != nil {
		return CaseRecord{}, err
	}
	return r.apply(ctx, m)
}
