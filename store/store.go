package store

import (
	"context"
	"time"
)

// Outcome values recorded for a processed report.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeError   = "error"
)

// ReportRecord is one processed webhook kept in the archive.
type ReportRecord struct {
	ID         string    `json:"id"`
	IssueKey   string    `json:"issue_key"`
	Summary    string    `json:"summary"`
	Duplicate  bool      `json:"duplicate"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// RecordFilter specifies criteria for listing archive records.
type RecordFilter struct {
	IssueKey string `json:"issue_key"`
	Outcome  string `json:"outcome"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

// Summary holds aggregated archive counts.
type Summary struct {
	Total      int `json:"total"`
	Today      int `json:"today"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// Store is the persistence interface for the report archive. Archive writes
// are best-effort from the caller's point of view: a failure is logged and
// never fails the webhook that triggered it.
type Store interface {
	SaveRecord(ctx context.Context, rec *ReportRecord) error
	GetRecord(ctx context.Context, id string) (*ReportRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]*ReportRecord, error)
	GetSummary(ctx context.Context) (*Summary, error)
	Close() error
}
