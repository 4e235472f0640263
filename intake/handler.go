// Package intake exposes the webhook endpoint that client applications post
// exception reports to.
package intake

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"trace-triage/logger"
	"trace-triage/report"
	"trace-triage/store"
	"trace-triage/triage"

	"github.com/google/uuid"
)

// Triager runs the full dedup-and-sync pipeline for one report.
type Triager interface {
	Process(ctx context.Context, rpt *report.Report) (triage.Outcome, error)
}

// OpenIssueLister returns the tracker's open-issue listing for the
// configured project.
type OpenIssueLister interface {
	OpenIssues(ctx context.Context) (json.RawMessage, error)
}

// HandlerConfig configures the intake handler.
type HandlerConfig struct {
	AuthToken      string
	MaxPayloadSize int
}

// Handler handles incoming exception reports via HTTP. Each request is
// processed end-to-end as one synchronous chain; the handler itself holds
// no per-request state.
type Handler struct {
	authToken      string
	maxPayloadSize int
	log            logger.Logger
	triager        Triager
	issues         OpenIssueLister
	archive        store.Store // nil disables the archive
}

// NewHandler creates an intake handler. archive may be nil.
func NewHandler(cfg HandlerConfig, triager Triager, issues OpenIssueLister, archive store.Store, log logger.Logger) *Handler {
	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = 1 << 20
	}
	return &Handler{
		authToken:      cfg.AuthToken,
		maxPayloadSize: cfg.MaxPayloadSize,
		log:            log,
		triager:        triager,
		issues:         issues,
		archive:        archive,
	}
}

// ServeHTTP handles the webhook root: POST files or updates an issue for
// the posted report, GET lists the project's open issues.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.receiveReport(w, r)
	case http.MethodGet:
		h.listOpenIssues(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) receiveReport(w http.ResponseWriter, r *http.Request) {
	if !h.checkAuth(w, r) {
		return
	}

	body := http.MaxBytesReader(w, r.Body, int64(h.maxPayloadSize))
	rawBody, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var rpt report.Report
	if err := json.Unmarshal(rawBody, &rpt); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	h.logReceived(&rpt, len(rawBody))

	outcome, err := h.triager.Process(r.Context(), &rpt)
	h.record(&rpt, outcome, err)
	if err != nil {
		h.log.Error("intake.process_failed", logger.Err(err))
		http.Error(w, fmt.Sprintf("Error during processing; \n\t%s", err), http.StatusInternalServerError)
		return
	}

	if outcome.Created {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, "Issue added: %s", outcome.IssueKey)
		return
	}
	fmt.Fprintf(w, "Issue already exists, updated: %s", outcome.IssueKey)
}

func (h *Handler) listOpenIssues(w http.ResponseWriter, r *http.Request) {
	if !h.checkAuth(w, r) {
		return
	}

	raw, err := h.issues.OpenIssues(r.Context())
	if err != nil {
		h.log.Error("intake.open_issues_failed", logger.Err(err))
		http.Error(w, fmt.Sprintf("Error during processing; \n\t%s", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

// ServeRecords handles GET /api/v1/reports: the processed-report archive.
func (h *Handler) ServeRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.checkAuth(w, r) {
		return
	}
	if h.archive == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	filter := store.RecordFilter{
		IssueKey: q.Get("issue_key"),
		Outcome:  q.Get("outcome"),
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	records, err := h.archive.ListRecords(ctx, filter)
	if err != nil {
		h.log.Error("intake.list_records_failed", logger.Err(err))
		http.Error(w, "failed to list records", http.StatusInternalServerError)
		return
	}
	summary, err := h.archive.GetSummary(ctx)
	if err != nil {
		h.log.Error("intake.summary_failed", logger.Err(err))
		http.Error(w, "failed to summarize records", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*store.ReportRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"records": records,
	})
}

// ServeHealth handles GET /healthz.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	token := r.Header.Get("Authorization")
	expected := "Bearer " + h.authToken
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// logReceived logs the report envelope without the binary artifacts.
func (h *Handler) logReceived(rpt *report.Report, size int) {
	summary, _ := rpt.Summary()
	h.log.Info("intake.report_received",
		logger.String("summary", report.TruncateRunes(summary, 120)),
		logger.Int("cause_frames", len(rpt.CauseFrames)),
		logger.Int("screenshots", len(rpt.Screenshots)),
		logger.Bool("has_logs", rpt.Logs != ""),
		logger.Int("payload_bytes", size),
	)
}

// record archives the processed report. Uses an independent context so a
// cancelled request doesn't lose the record; store failures are logged only.
func (h *Handler) record(rpt *report.Report, outcome triage.Outcome, procErr error) {
	if h.archive == nil {
		return
	}

	summary, _ := rpt.Summary()
	rec := &store.ReportRecord{
		ID:         "rpt-" + uuid.New().String()[:8],
		IssueKey:   outcome.IssueKey,
		Summary:    report.TruncateRunes(summary, report.MaxSummaryLength),
		Duplicate:  outcome.IssueKey != "" && !outcome.Created,
		ReceivedAt: time.Now(),
	}
	switch {
	case procErr != nil:
		rec.Outcome = store.OutcomeError
		rec.Error = procErr.Error()
	case outcome.Created:
		rec.Outcome = store.OutcomeCreated
	default:
		rec.Outcome = store.OutcomeUpdated
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.archive.SaveRecord(ctx, rec); err != nil {
		h.log.Error("intake.archive_failed", logger.Err(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
