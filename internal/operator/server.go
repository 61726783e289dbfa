// Package operator serves the KYC admin HTTP surface: submissions, case
// lookups, manual review, reports and metrics.
package operator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/joelkehle/kyc-agency/internal/document"
	"github.com/joelkehle/kyc-agency/internal/kyc"
	"github.com/joelkehle/kyc-agency/internal/report"
	"github.com/joelkehle/kyc-agency/internal/store"
)

const defaultPerformer = "operator"

// Processor runs one submission through the pipeline.
type Processor interface {
	Process(ctx context.Context, sub kyc.Submission) (kyc.RunResult, error)
}

// Cases reads stored cases.
type Cases interface {
	FindCase(ctx context.Context, customerID string) (kyc.CaseRecord, error)
	ListCases(ctx context.Context, status kyc.Status) ([]kyc.CaseRecord, error)
	ListAudit(ctx context.Context, caseID int64) ([]kyc.AuditEntry, error)
}

// Reviewer applies manual lifecycle actions.
type Reviewer interface {
	FlagWarnings(ctx context.Context, customerID string, warnings []kyc.DocumentWarning, by string) (kyc.CaseRecord, error)
	Review(ctx context.Context, customerID string, action kyc.ReviewAction, notes, by string) (kyc.CaseRecord, error)
	Archive(ctx context.Context, customerID, notes, by string) (kyc.CaseRecord, error)
	ResetForRetry(ctx context.Context, customerID, by string) (kyc.CaseRecord, error)
}

type ReportPDFRenderer interface {
	Render(ctx context.Context, d report.Document) ([]byte, error)
}

type Config struct {
	Processor   Processor
	Cases       Cases
	Reviewer    Reviewer
	PDFRenderer ReportPDFRenderer
	Gatherer    prometheus.Gatherer
	UploadDir   string
	// RequestTimeout bounds every request except submissions and retries,
	// which run the whole pipeline.
	RequestTimeout time.Duration
}

type Server struct {
	cfg Config
	now func() time.Time
}

func NewServer(cfg Config) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{cfg: cfg, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/submissions", s.handleSubmit)
		r.Post("/cases/{customerID}/retry", s.handleRetry)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			r.Get("/cases", s.handleListCases)
			r.Get("/cases/{customerID}", s.handleGetCase)
			r.Get("/cases/{customerID}/audit", s.handleAudit)
			r.Post("/cases/{customerID}/review", s.handleReview)
			r.Post("/cases/{customerID}/archive", s.handleArchive)
			r.Get("/cases/{customerID}/report", s.handleReport)
			r.Get("/cases/{customerID}/report.html", s.handleReportHTML)
			r.Get("/cases/{customerID}/report.pdf", s.handleReportPDF)
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("operator: request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeStoreError maps lookup and lifecycle errors onto status codes.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "case not found")
	case errors.Is(err, kyc.ErrCaseArchived):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, kyc.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		zap.L().Error("operator: request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func performer(r *http.Request) string {
	if by := strings.TrimSpace(r.Header.Get("X-Operator")); by != "" {
		return by
	}
	return defaultPerformer
}

type submissionResponse struct {
	kyc.RunResult
	ValidationWarnings []kyc.DocumentWarning `json:"validation_warnings,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sub, err := s.readSubmission(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.process(w, r, sub)
}

// process runs sub and holds the case for review when any document
// disagrees with the declared record.
func (s *Server) process(w http.ResponseWriter, r *http.Request, sub kyc.Submission) {
	res, err := s.cfg.Processor.Process(r.Context(), sub)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	resp := submissionResponse{RunResult: res, ValidationWarnings: res.ValidationWarnings(sub.Documents)}
	if len(resp.ValidationWarnings) > 0 {
		c, err := s.cfg.Reviewer.FlagWarnings(r.Context(), res.CustomerID, resp.ValidationWarnings, performer(r))
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		resp.Status = c.Status
		resp.RiskLevel = c.RiskLevel
	}
	writeJSON(w, http.StatusOK, resp)
}

// readSubmission accepts either a JSON submission or a multipart form with a
// "customer" JSON field and one file per document kind.
func (s *Server) readSubmission(r *http.Request) (kyc.Submission, error) {
	var sub kyc.Submission
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&sub); err != nil {
			return sub, fmt.Errorf("invalid json body")
		}
		return sub, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return sub, fmt.Errorf("invalid multipart form")
	}
	if raw := r.FormValue("customer"); strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &sub.Customer); err != nil {
			return sub, fmt.Errorf("invalid customer field")
		}
	}
	for _, kind := range document.RequiredKinds {
		att, ok, err := s.saveUpload(r, kind)
		if err != nil {
			return sub, err
		}
		if ok {
			sub.Documents = append(sub.Documents, att)
		}
	}
	return sub, nil
}

func (s *Server) saveUpload(r *http.Request, kind document.Kind) (document.Attachment, bool, error) {
	file, header, err := r.FormFile(string(kind))
	if err != nil {
		return document.Attachment{}, false, nil
	}
	defer file.Close()

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return document.Attachment{}, false, fmt.Errorf("failed to prepare upload directory")
	}
	id := uuid.NewString()
	dst := filepath.Join(s.cfg.UploadDir, id+"-"+sanitizeFilename(header.Filename))
	out, err := os.Create(dst)
	if err != nil {
		return document.Attachment{}, false, fmt.Errorf("failed to save uploaded file")
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		return document.Attachment{}, false, fmt.Errorf("failed to write uploaded file")
	}
	abs, _ := filepath.Abs(dst)
	return document.Attachment{ID: id, Kind: kind, Filename: header.Filename, Path: abs}, true, nil
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.cfg.Cases.ListCases(r.Context(), kyc.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": cases, "total": len(cases)})
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.cfg.Cases.FindCase(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	c, err := s.cfg.Cases.FindCase(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	entries, err := s.cfg.Cases.ListAudit(r.Context(), c.ID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer_id": c.CustomerID, "audit_logs": entries})
}

type reviewRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	c, err := s.cfg.Reviewer.Review(r.Context(), chi.URLParam(r, "customerID"), kyc.ReviewAction(strings.TrimSpace(req.Action)), req.Notes, performer(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	c, err := s.cfg.Reviewer.Archive(r.Context(), chi.URLParam(r, "customerID"), req.Notes, performer(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleRetry reopens a case and runs its stored submission again.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	c, err := s.cfg.Reviewer.ResetForRetry(r.Context(), chi.URLParam(r, "customerID"), performer(r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	sub := kyc.Submission{Customer: c.Customer}
	for _, d := range c.Documents {
		sub.Documents = append(sub.Documents, d.Attachment)
	}
	s.process(w, r, sub)
}

func (s *Server) loadReport(w http.ResponseWriter, r *http.Request) (report.Document, bool) {
	c, err := s.cfg.Cases.FindCase(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		writeStoreError(w, r, err)
		return report.Document{}, false
	}
	audit, err := s.cfg.Cases.ListAudit(r.Context(), c.ID)
	if err != nil {
		writeStoreError(w, r, err)
		return report.Document{}, false
	}
	return report.Build(c, audit, s.now()), true
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadReport(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc.Markdown))
}

func (s *Server) handleReportHTML(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadReport(w, r)
	if !ok {
		return
	}
	page, err := doc.HTML()
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}

func (s *Server) handleReportPDF(w http.ResponseWriter, r *http.Request) {
	if s.cfg.PDFRenderer == nil {
		writeError(w, http.StatusServiceUnavailable, "pdf renderer unavailable")
		return
	}
	doc, ok := s.loadReport(w, r)
	if !ok {
		return
	}
	pdf, err := s.cfg.PDFRenderer.Render(r.Context(), doc)
	if err != nil {
		zap.L().Error("operator: render report pdf failed",
			zap.String("customer_id", chi.URLParam(r, "customerID")),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to render pdf")
		return
	}
	filename := fmt.Sprintf("kyc-%s.pdf", sanitizeFilename(chi.URLParam(r, "customerID")))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func sanitizeFilename(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "report"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, v)
}
