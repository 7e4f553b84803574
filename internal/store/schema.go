package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Shared document/issue tables. Both stores carry them: the metrics store
// owns the canonical rows, the review store a projection.
const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'registered',
	ocr_confidence REAL NOT NULL DEFAULT 0,
	json_confidence REAL NOT NULL DEFAULT 0,
	correction_count INTEGER NOT NULL DEFAULT 0,
	flagged_for_review INTEGER NOT NULL DEFAULT 0,
	review_status TEXT NOT NULL DEFAULT 'none',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_flagged ON documents(flagged_for_review);

CREATE TABLE IF NOT EXISTS issues (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL REFERENCES documents(doc_id),
	issue_type TEXT NOT NULL,
	issue_details TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_issues_document ON issues(document_id);
CREATE INDEX IF NOT EXISTS idx_issues_type ON issues(issue_type);
`

// Metrics-store-only tables: pipeline telemetry and resource samples.
const metricsSchema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	id TEXT PRIMARY KEY,
	start_step TEXT NOT NULL,
	end_step TEXT NOT NULL,
	start_time DATETIME NOT NULL,
	end_time DATETIME,
	status TEXT NOT NULL DEFAULT 'running',
	document_count INTEGER NOT NULL DEFAULT 0,
	details TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS step_executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES pipeline_runs(id),
	step_name TEXT NOT NULL,
	start_time DATETIME NOT NULL,
	end_time DATETIME,
	status TEXT NOT NULL DEFAULT 'running',
	document_count INTEGER NOT NULL DEFAULT 0,
	details TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_step_exec_run ON step_executions(run_id);

CREATE TABLE IF NOT EXISTS metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	metric_type TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	value REAL NOT NULL,
	details TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_metrics_time ON metrics(timestamp);
CREATE INDEX IF NOT EXISTS idx_metrics_type ON metrics(metric_type);

CREATE TABLE IF NOT EXISTS resource_samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	activity TEXT NOT NULL DEFAULT '',
	cpu_percent REAL NOT NULL DEFAULT 0,
	memory_mb REAL NOT NULL DEFAULT 0,
	gpu_index INTEGER NOT NULL DEFAULT -1,
	gpu_util_percent REAL NOT NULL DEFAULT 0,
	gpu_memory_mb REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_resource_time ON resource_samples(timestamp);
`

// Review-store-only tables: reviewer feedback and the field-correction log.
const reviewSchema = `
CREATE TABLE IF NOT EXISTS review_feedback (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL,
	status TEXT NOT NULL,
	changes_made INTEGER NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	fields_corrected TEXT NOT NULL DEFAULT '[]',
	timestamp DATETIME NOT NULL,
	reviewer TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_feedback_document ON review_feedback(document_id);

CREATE TABLE IF NOT EXISTS field_corrections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL,
	field_name TEXT NOT NULL,
	original_value TEXT NOT NULL DEFAULT '',
	corrected_value TEXT NOT NULL DEFAULT '',
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_corrections_document ON field_corrections(document_id);
`

// columnMigration adds a column to databases created before the column
// existed. Missing tables are skipped quietly.
type columnMigration struct {
	Table  string
	Column string
	Def    string
}

var pendingMigrations = []columnMigration{
	// Reviewer attribution was added after the first review_feedback schema.
	{"review_feedback", "reviewer", "TEXT NOT NULL DEFAULT ''"},
	// Activity labels on resource samples.
	{"resource_samples", "activity", "TEXT NOT NULL DEFAULT ''"},
}

func initSchema(db *sql.DB, schemas ...string) error {
	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table,
	).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if strings.EqualFold(name, column) {
			return true
		}
	}
	return false
}
