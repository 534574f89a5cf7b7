package database

import (
	"database/sql"
	"fmt"
)

// initSchema creates tables when absent. Answers are stored as a JSON column
// on the submission row: the submission is the unit of transfer and merge, so
// a row-per-answer layout buys nothing here.
func initSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			class_id   TEXT NOT NULL,
			tutor_id   TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at   TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			submission_id   TEXT PRIMARY KEY,
			session_id      TEXT NOT NULL,
			assessment_id   TEXT NOT NULL,
			student_id      TEXT NOT NULL,
			student_name    TEXT NOT NULL DEFAULT '',
			submitted_at    TIMESTAMP NOT NULL,
			answers         TEXT NOT NULL,
			feedback_status TEXT NOT NULL DEFAULT 'PENDING_SEND'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_session ON submissions(session_id)`,
		`CREATE TABLE IF NOT EXISTS roster (
			class_id   TEXT NOT NULL,
			student_id TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (class_id, student_id)
		)`,
		`CREATE TABLE IF NOT EXISTS attendance (
			session_id TEXT NOT NULL,
			student_id TEXT NOT NULL,
			joined_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, student_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
