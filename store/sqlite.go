package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"trace-triage/logger"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite via modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	log logger.Logger
}

// NewSQLiteStore opens a SQLite database and initializes the schema.
func NewSQLiteStore(dbPath string, log logger.Logger) (*SQLiteStore, error) {
	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Info("store.sqlite.opened", logger.String("path", dbPath))
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS report_records (
    id TEXT PRIMARY KEY,
    issue_key TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    duplicate BOOLEAN NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_records_issue_key ON report_records(issue_key);
CREATE INDEX IF NOT EXISTS idx_records_outcome ON report_records(outcome);
CREATE INDEX IF NOT EXISTS idx_records_received_at ON report_records(received_at);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, rec *ReportRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO report_records (id, issue_key, summary, duplicate, outcome, error, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.IssueKey, rec.Summary, rec.Duplicate, rec.Outcome, rec.Error, rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*ReportRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, issue_key, summary, duplicate, outcome, error, received_at
		 FROM report_records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]*ReportRecord, error) {
	query := "SELECT id, issue_key, summary, duplicate, outcome, error, received_at FROM report_records"
	var conditions []string
	var args []any

	if filter.IssueKey != "" {
		conditions = append(conditions, "issue_key = ?")
		args = append(args, filter.IssueKey)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY received_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*ReportRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) GetSummary(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN outcome = 'created' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN duplicate THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN outcome = 'error' THEN 1 ELSE 0 END), 0)
		 FROM report_records`,
	).Scan(&summary.Total, &summary.Created, &summary.Duplicates, &summary.Errors)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM report_records WHERE DATE(received_at) = DATE('now')",
	).Scan(&summary.Today)
	if err != nil {
		return nil, fmt.Errorf("count today records: %w", err)
	}

	return summary, nil
}

func (s *SQLiteStore) Close() error {
	s.log.Info("store.sqlite.closing")
	return s.db.Close()
}

// scan helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*ReportRecord, error) {
	var rec ReportRecord
	err := row.Scan(
		&rec.ID, &rec.IssueKey, &rec.Summary, &rec.Duplicate,
		&rec.Outcome, &rec.Error, &rec.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
