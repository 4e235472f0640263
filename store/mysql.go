package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"trace-triage/logger"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig holds connection settings for the MySQL store.
type MySQLConfig struct {
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// MySQLStore implements Store using MySQL.
type MySQLStore struct {
	db  *sql.DB
	log logger.Logger
}

// NewMySQLStore opens a MySQL database and initializes the schema.
// The DSN must enable parseTime so received_at scans into time.Time.
func NewMySQLStore(cfg MySQLConfig, log logger.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Info("store.mysql.opened")
	return s, nil
}

func (s *MySQLStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS report_records (
    id VARCHAR(64) PRIMARY KEY,
    issue_key VARCHAR(64) NOT NULL DEFAULT '',
    summary TEXT NOT NULL,
    duplicate BOOLEAN NOT NULL DEFAULT FALSE,
    outcome VARCHAR(16) NOT NULL DEFAULT '',
    error TEXT NOT NULL,
    received_at DATETIME NOT NULL,
    INDEX idx_records_issue_key (issue_key),
    INDEX idx_records_outcome (outcome),
    INDEX idx_records_received_at (received_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	_, err := s.db.Exec(schema)
	return err
}

func (s *MySQLStore) SaveRecord(ctx context.Context, rec *ReportRecord) error {
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

func (s *MySQLStore) GetRecord(ctx context.Context, id string) (*ReportRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, issue_key, summary, duplicate, outcome, error, received_at
		 FROM report_records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *MySQLStore) ListRecords(ctx context.Context, filter RecordFilter) ([]*ReportRecord, error) {
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

func (s *MySQLStore) GetSummary(ctx context.Context) (*Summary, error) {
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
		"SELECT COUNT(*) FROM report_records WHERE DATE(received_at) = CURDATE()",
	).Scan(&summary.Today)
	if err != nil {
		return nil, fmt.Errorf("count today records: %w", err)
	}

	return summary, nil
}

func (s *MySQLStore) Close() error {
	s.log.Info("store.mysql.closing")
	return s.db.Close()
}
