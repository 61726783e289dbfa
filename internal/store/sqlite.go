// Package store persists KYC cases, their processing steps, extracted
// documents and audit log in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/kyc-agency/internal/document"
	"github.com/joelkehle/kyc-agency/internal/kyc"
	"github.com/joelkehle/kyc-agency/internal/risk"
)

var ErrNotFound = errors.New("store: not found")

const customerIDCounter = "next_customer_id"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cases (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	customer_id          TEXT NOT NULL UNIQUE,
	customer             TEXT NOT NULL DEFAULT '{}',
	customer_type        TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'submitted',
	estimated_risk_level TEXT NOT NULL DEFAULT '',
	final_risk_level     TEXT NOT NULL DEFAULT '',
	validation_status    TEXT NOT NULL DEFAULT '',
	compliance_status    TEXT NOT NULL DEFAULT '',
	pep_status           INTEGER NOT NULL DEFAULT 0,
	pep_details          TEXT NOT NULL DEFAULT '',
	submission_time      TEXT NOT NULL,
	updated_at           TEXT NOT NULL,
	completion_time      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS documents (
	document_id      TEXT PRIMARY KEY,
	case_id          INTEGER,
	position         INTEGER NOT NULL DEFAULT 0,
	kind             TEXT NOT NULL DEFAULT '',
	filename         TEXT NOT NULL DEFAULT '',
	path             TEXT NOT NULL DEFAULT '',
	extracted_data   TEXT,
	extraction_error TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_steps (
	id            TEXT PRIMARY KEY,
	seq           INTEGER NOT NULL,
	case_id       INTEGER NOT NULL,
	stage_name    TEXT NOT NULL,
	agent_kind    TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	start_time    TEXT NOT NULL,
	end_time      TEXT NOT NULL DEFAULT '',
	input_data    TEXT,
	output_data   TEXT,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_steps_case ON processing_steps(case_id, seq);

CREATE TABLE IF NOT EXISTS audit_logs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	case_id        INTEGER NOT NULL,
	action_type    TEXT NOT NULL,
	action_details TEXT,
	performed_by   TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore implements kyc.CaseStore and kyc.DocumentStore. Writes are
// serialized through a single connection.
type SQLiteStore struct {
	db    *sqlx.DB
	mu    sync.Mutex
	clock func() time.Time
	seq   int64
}

type caseRow struct {
	ID               int64  `db:"id"`
	CustomerID       string `db:"customer_id"`
	Customer         string `db:"customer"`
	CustomerType     string `db:"customer_type"`
	Status           string `db:"status"`
	EstimatedRisk    string `db:"estimated_risk_level"`
	RiskLevel        string `db:"final_risk_level"`
	ValidationStatus string `db:"validation_status"`
	ComplianceStatus string `db:"compliance_status"`
	PEP              bool   `db:"pep_status"`
	PEPDetails       string `db:"pep_details"`
	SubmissionTime   string `db:"submission_time"`
	UpdatedAt        string `db:"updated_at"`
	CompletionTime   string `db:"completion_time"`
}

type stepRow struct {
	ID           string         `db:"id"`
	CaseID       int64          `db:"case_id"`
	StageName    string         `db:"stage_name"`
	AgentKind    string         `db:"agent_kind"`
	Status       string         `db:"status"`
	StartTime    string         `db:"start_time"`
	EndTime      string         `db:"end_time"`
	Input        sql.NullString `db:"input_data"`
	Output       sql.NullString `db:"output_data"`
	ErrorMessage string         `db:"error_message"`
}

type documentRow struct {
	DocumentID      string         `db:"document_id"`
	Kind            string         `db:"kind"`
	Filename        string         `db:"filename"`
	Path            string         `db:"path"`
	Extracted       sql.NullString `db:"extracted_data"`
	ExtractionError string         `db:"extraction_error"`
}

type auditRow struct {
	ID          int64          `db:"id"`
	CaseID      int64          `db:"case_id"`
	ActionType  string         `db:"action_type"`
	Details     sql.NullString `db:"action_details"`
	PerformedBy string         `db:"performed_by"`
	CreatedAt   string         `db:"created_at"`
}

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, eris.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "create schema")
	}
	s := &SQLiteStore{db: db, clock: time.Now}
	if err := db.Get(&s.seq, "SELECT COALESCE(MAX(seq), 0) FROM processing_steps"); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "load step sequence")
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- persist helpers ---

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullableJSON(v any) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func decodeMap(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal([]byte(ns.String), &m)
	return m
}

// NextCustomerID returns the next free identifier of the form CUST001.
func (s *SQLiteStore) NextCustomerID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "begin customer id")
	}
	defer tx.Rollback()

	var next int64
	err = tx.GetContext(ctx, &next, "SELECT value FROM counters WHERE key = ?", customerIDCounter)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", eris.Wrap(err, "read customer counter")
	}
	for {
		next++
		id := fmt.Sprintf("CUST%03d", next)
		var taken int
		if err := tx.GetContext(ctx, &taken, "SELECT COUNT(*) FROM cases WHERE customer_id = ?", id); err != nil {
			return "", eris.Wrap(err, "check customer id")
		}
		if taken > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO counters (key, value) VALUES (?, ?)", customerIDCounter, next); err != nil {
			return "", eris.Wrap(err, "save customer counter")
		}
		if err := tx.Commit(); err != nil {
			return "", eris.Wrap(err, "commit customer id")
		}
		return id, nil
	}
}

func (s *SQLiteStore) GetOrCreateCase(ctx context.Context, c kyc.CaseRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var existing struct {
		ID     int64  `db:"id"`
		Status string `db:"status"`
	}
	err := s.db.GetContext(ctx, &existing, "SELECT id, status FROM cases WHERE customer_id = ?", c.CustomerID)
	switch {
	case err == nil:
		return existing.ID, s.refreshCase(ctx, existing.ID, kyc.Status(existing.Status), c, now)
	case !errors.Is(err, sql.ErrNoRows):
		return 0, eris.Wrapf(err, "find case %s", c.CustomerID)
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Status == "" {
		c.Status = kyc.StatusSubmitted
	}
	customer, _ := json.Marshal(c.Customer)
	res, err := s.db.ExecContext(ctx, `INSERT INTO cases (customer_id, customer, customer_type, status,
		estimated_risk_level, final_risk_level, validation_status, compliance_status, pep_status, pep_details,
		submission_time, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CustomerID,
		string(customer),
		string(c.CustomerType),
		string(c.Status),
		string(c.EstimatedRisk),
		string(c.RiskLevel),
		c.ValidationStatus,
		c.ComplianceStatus,
		boolToInt(c.PEP),
		c.PEPDetails,
		timeToString(c.CreatedAt),
		timeToString(now),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "create case %s", c.CustomerID)
	}
	return res.LastInsertId()
}

// refreshCase stores a resubmission on an existing case and reopens it as
// submitted. Archived cases are left untouched.
func (s *SQLiteStore) refreshCase(ctx context.Context, id int64, status kyc.Status, c kyc.CaseRecord, now time.Time) error {
	if status == kyc.StatusArchived {
		return eris.Wrapf(kyc.ErrCaseArchived, "case %s", c.CustomerID)
	}
	customer, _ := json.Marshal(c.Customer)
	_, err := s.db.ExecContext(ctx, `UPDATE cases SET customer = ?, customer_type = ?, status = ?,
		estimated_risk_level = ?, final_risk_level = ?, pep_status = ?, pep_details = ?,
		updated_at = ?, completion_time = ''
		WHERE id = ?`,
		string(customer),
		string(c.CustomerType),
		string(kyc.StatusSubmitted),
		string(c.EstimatedRisk),
		string(c.RiskLevel),
		boolToInt(c.PEP),
		c.PEPDetails,
		timeToString(now),
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "refresh case %s", c.CustomerID)
	}
	return nil
}

func (s *SQLiteStore) UpdateCase(ctx context.Context, caseID int64, u kyc.CaseUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{"updated_at = ?"}
	args := []any{timeToString(s.clock())}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.EstimatedRisk != nil {
		add("estimated_risk_level", string(*u.EstimatedRisk))
	}
	if u.RiskLevel != nil {
		add("final_risk_level", string(*u.RiskLevel))
	}
	if u.CustomerType != nil {
		add("customer_type", string(*u.CustomerType))
	}
	if u.PEP != nil {
		add("pep_status", boolToInt(*u.PEP))
	}
	if u.PEPDetails != nil {
		add("pep_details", *u.PEPDetails)
	}
	if u.ValidationStatus != nil {
		add("validation_status", *u.ValidationStatus)
	}
	if u.ComplianceStatus != nil {
		add("compliance_status", *u.ComplianceStatus)
	}
	switch {
	case u.ClearCompletedAt:
		add("completion_time", "")
	case u.CompletedAt != nil:
		add("completion_time", timeToString(*u.CompletedAt))
	}
	args = append(args, caseID)

	res, err := s.db.ExecContext(ctx, "UPDATE cases SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return eris.Wrapf(err, "update case %d", caseID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "case %d", caseID)
	}
	return nil
}

func (s *SQLiteStore) AttachDocuments(ctx context.Context, caseID int64, docs []kyc.CaseDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin attach documents")
	}
	defer tx.Rollback()
	now := timeToString(s.clock())
	for i, d := range docs {
		var extracted sql.NullString
		if d.Extracted != nil {
			extracted = nullableJSON(d.Extracted)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO documents (document_id, case_id, position, kind, filename, path, extracted_data, extraction_error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(document_id) DO UPDATE SET
				case_id = excluded.case_id,
				position = excluded.position,
				kind = excluded.kind,
				filename = excluded.filename,
				path = excluded.path,
				extracted_data = COALESCE(excluded.extracted_data, documents.extracted_data),
				extraction_error = excluded.extraction_error`,
			d.ID, caseID, i, string(d.Kind), d.Filename, d.Path, extracted, d.ExtractionError, now)
		if err != nil {
			return eris.Wrapf(err, "attach document %s", d.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "commit attach documents")
}

func (s *SQLiteStore) AppendStep(ctx context.Context, caseID int64, step kyc.ProcessingStep) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	if step.StartTime.IsZero() {
		step.StartTime = s.clock()
	}
	if step.Status == "" {
		step.Status = kyc.StepPending
	}
	s.seq++
	_, err := s.db.ExecContext(ctx, `INSERT INTO processing_steps (id, seq, case_id, stage_name, agent_kind, status, start_time, input_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, s.seq, caseID, step.StageName, step.AgentKind, string(step.Status), timeToString(step.StartTime), nullableJSON(step.Input))
	if err != nil {
		return "", eris.Wrapf(err, "append step %s", step.StageName)
	}
	return step.ID, nil
}

func (s *SQLiteStore) UpdateStep(ctx context.Context, stepID string, u kyc.StepUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var output sql.NullString
	if u.Output != nil {
		output = nullableJSON(u.Output)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE processing_steps SET status = ?, end_time = ?, output_data = ?, error_message = ? WHERE id = ?`,
		string(u.Status), timeToString(u.EndTime), output, u.ErrorMessage, stepID)
	if err != nil {
		return eris.Wrapf(err, "update step %s", stepID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "step %s", stepID)
	}
	return nil
}

func (s *SQLiteStore) GetCase(ctx context.Context, caseID int64) (kyc.CaseRecord, error) {
	var row caseRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM cases WHERE id = ?", caseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return kyc.CaseRecord{}, eris.Wrapf(ErrNotFound, "case %d", caseID)
		}
		return kyc.CaseRecord{}, eris.Wrapf(err, "get case %d", caseID)
	}
	return s.hydrate(ctx, row)
}

func (s *SQLiteStore) FindCase(ctx context.Context, customerID string) (kyc.CaseRecord, error) {
	var row caseRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM cases WHERE customer_id = ?", customerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return kyc.CaseRecord{}, eris.Wrapf(ErrNotFound, "customer %s", customerID)
		}
		return kyc.CaseRecord{}, eris.Wrapf(err, "find case %s", customerID)
	}
	return s.hydrate(ctx, row)
}

// ListCases returns cases newest first, optionally filtered by status. The
// listing omits steps and documents.
func (s *SQLiteStore) ListCases(ctx context.Context, status kyc.Status) ([]kyc.CaseRecord, error) {
	var rows []caseRow
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &rows, "SELECT * FROM cases ORDER BY id DESC")
	} else {
		err = s.db.SelectContext(ctx, &rows, "SELECT * FROM cases WHERE status = ? ORDER BY id DESC", string(status))
	}
	if err != nil {
		return nil, eris.Wrap(err, "list cases")
	}
	out := make([]kyc.CaseRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, e kyc.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_logs (case_id, action_type, action_details, performed_by, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.CaseID, e.ActionType, nullableJSON(e.Details), e.PerformedBy, timeToString(e.CreatedAt))
	return eris.Wrapf(err, "append audit %s", e.ActionType)
}

func (s *SQLiteStore) ListAudit(ctx context.Context, caseID int64) ([]kyc.AuditEntry, error) {
	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM audit_logs WHERE case_id = ? ORDER BY id", caseID); err != nil {
		return nil, eris.Wrapf(err, "list audit %d", caseID)
	}
	out := make([]kyc.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, kyc.AuditEntry{
			ID:          r.ID,
			CaseID:      r.CaseID,
			ActionType:  r.ActionType,
			Details:     decodeMap(r.Details),
			PerformedBy: r.PerformedBy,
			CreatedAt:   parseTime(r.CreatedAt),
		})
	}
	return out, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, documentID string) (document.Record, bool, error) {
	var raw sql.NullString
	err := s.db.GetContext(ctx, &raw, "SELECT extracted_data FROM documents WHERE document_id = ?", documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "get document %s", documentID)
	}
	if !raw.Valid || raw.String == "" {
		return nil, false, nil
	}
	var rec document.Record
	if err := json.Unmarshal([]byte(raw.String), &rec); err != nil {
		return nil, false, eris.Wrapf(err, "decode document %s", documentID)
	}
	return rec, true, nil
}

func (s *SQLiteStore) PutDocument(ctx context.Context, documentID string, rec document.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO documents (document_id, extracted_data, created_at) VALUES (?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET extracted_data = excluded.extracted_data, extraction_error = ''`,
		documentID, nullableJSON(rec), timeToString(s.clock()))
	return eris.Wrapf(err, "put document %s", documentID)
}

func (s *SQLiteStore) hydrate(ctx context.Context, row caseRow) (kyc.CaseRecord, error) {
	c := row.record()

	var steps []stepRow
	if err := s.db.SelectContext(ctx, &steps, `SELECT id, case_id, stage_name, agent_kind, status, start_time, end_time,
		input_data, output_data, error_message FROM processing_steps WHERE case_id = ? ORDER BY seq`, row.ID); err != nil {
		return kyc.CaseRecord{}, eris.Wrapf(err, "load steps of case %d", row.ID)
	}
	for _, st := range steps {
		step := kyc.ProcessingStep{
			ID:           st.ID,
			CaseID:       st.CaseID,
			StageName:    st.StageName,
			AgentKind:    st.AgentKind,
			Status:       kyc.StepStatus(st.Status),
			StartTime:    parseTime(st.StartTime),
			Input:        decodeMap(st.Input),
			Output:       decodeMap(st.Output),
			ErrorMessage: st.ErrorMessage,
		}
		if st.EndTime != "" {
			end := parseTime(st.EndTime)
			step.EndTime = &end
		}
		c.Steps = append(c.Steps, step)
	}

	var docs []documentRow
	if err := s.db.SelectContext(ctx, &docs, `SELECT document_id, kind, filename, path, extracted_data, extraction_error
		FROM documents WHERE case_id = ? ORDER BY position`, row.ID); err != nil {
		return kyc.CaseRecord{}, eris.Wrapf(err, "load documents of case %d", row.ID)
	}
	for _, d := range docs {
		cd := kyc.CaseDocument{
			Attachment:      document.Attachment{ID: d.DocumentID, Kind: document.Kind(d.Kind), Filename: d.Filename, Path: d.Path},
			ExtractionError: d.ExtractionError,
		}
		if d.Extracted.Valid && d.Extracted.String != "" {
			_ = json.Unmarshal([]byte(d.Extracted.String), &cd.Extracted)
		}
		c.Documents = append(c.Documents, cd)
	}
	return c, nil
}

func (r caseRow) record() kyc.CaseRecord {
	c := kyc.CaseRecord{
		ID:               r.ID,
		CustomerType:     risk.CustomerType(r.CustomerType),
		Status:           kyc.Status(r.Status),
		EstimatedRisk:    risk.Level(r.EstimatedRisk),
		RiskLevel:        risk.Level(r.RiskLevel),
		ValidationStatus: r.ValidationStatus,
		ComplianceStatus: r.ComplianceStatus,
		CreatedAt:        parseTime(r.SubmissionTime),
		UpdatedAt:        parseTime(r.UpdatedAt),
	}
	_ = json.Unmarshal([]byte(r.Customer), &c.Customer)
	c.CustomerID = r.CustomerID
	c.PEP = r.PEP
	c.PEPDetails = r.PEPDetails
	if r.CompletionTime != "" {
		t := parseTime(r.CompletionTime)
		c.CompletedAt = &t
	}
	return c
}

var (
	_ kyc.CaseStore     = (*SQLiteStore)(nil)
	_ kyc.DocumentStore = (*SQLiteStore)(nil)
)
