package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"peerclass/pkg/interfaces"
	"peerclass/pkg/types"
)

// Store is the SQLite-backed implementation of interfaces.Store. All writes
// funnel through a single writer goroutine; SQLite holds one write lock and
// contention from transport callbacks would otherwise surface as busy errors.
type Store struct {
	db       *sql.DB
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
	logger   *zap.Logger
}

type writeOp struct {
	operation func(*sql.DB) error
	result    chan error
}

var _ interfaces.Store = (*Store)(nil)

// NewStore opens (or creates) the database at path and prepares the schema.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
		logger:   logger,
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			err := op.operation(s.db)
			if err != nil {
				s.logger.Warn("database write failed, retrying once", zap.Error(err))
				time.Sleep(250 * time.Millisecond)
				err = op.operation(s.db)
			}
			op.result <- err
		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrStoreClosed
	}
}

// UpsertSubmission inserts or replaces a submission keyed by SubmissionID.
// Re-applying the same submission is a no-op merge, never a duplicate row.
func (s *Store) UpsertSubmission(ctx context.Context, submission *types.AssessmentSubmission) error {
	if err := submission.Validate(); err != nil {
		return err
	}
	return s.executeWrite(func(db *sql.DB) error {
		answersJSON, err := json.Marshal(submission.Answers)
		if err != nil {
			return fmt.Errorf("marshal answers: %w", err)
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO submissions
				(submission_id, session_id, assessment_id, student_id, student_name, submitted_at, answers, feedback_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(submission_id) DO UPDATE SET
				session_id = excluded.session_id,
				assessment_id = excluded.assessment_id,
				student_id = excluded.student_id,
				student_name = excluded.student_name,
				submitted_at = excluded.submitted_at,
				answers = excluded.answers,
				feedback_status = excluded.feedback_status
		`,
			submission.SubmissionID,
			submission.SessionID,
			submission.AssessmentID,
			submission.StudentID,
			submission.StudentName,
			submission.SubmittedAt,
			string(answersJSON),
			string(submission.FeedbackStatus),
		)
		if err != nil {
			return fmt.Errorf("upsert submission: %w", err)
		}
		return nil
	})
}

// GetSubmission retrieves a submission by ID.
func (s *Store) GetSubmission(ctx context.Context, submissionID string) (*types.AssessmentSubmission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT submission_id, session_id, assessment_id, student_id, student_name, submitted_at, answers, feedback_status
		FROM submissions
		WHERE submission_id = ?
	`, submissionID)

	submission, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrSubmissionNotFound
	}
	return submission, err
}

// GetSubmissionsForSession returns every submission for a session, oldest
// first.
func (s *Store) GetSubmissionsForSession(ctx context.Context, sessionID string) ([]*types.AssessmentSubmission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT submission_id, session_id, assessment_id, student_id, student_name, submitted_at, answers, feedback_status
		FROM submissions
		WHERE session_id = ?
		ORDER BY submitted_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var submissions []*types.AssessmentSubmission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, submission)
	}
	return submissions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (*types.AssessmentSubmission, error) {
	var submission types.AssessmentSubmission
	var answersJSON, status string

	err := row.Scan(
		&submission.SubmissionID,
		&submission.SessionID,
		&submission.AssessmentID,
		&submission.StudentID,
		&submission.StudentName,
		&submission.SubmittedAt,
		&answersJSON,
		&status,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(answersJSON), &submission.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal answers: %w", err)
	}
	submission.FeedbackStatus = types.FeedbackStatus(status)
	return &submission, nil
}

// CreateSession records a new advertising period.
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (id, class_id, tutor_id, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?)
		`, session.ID, session.ClassID, session.TutorID, session.StartedAt, session.EndedAt)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, class_id, tutor_id, started_at, ended_at
		FROM sessions
		WHERE id = ?
	`, sessionID)

	var session types.Session
	var endedAt sql.NullTime
	err := row.Scan(&session.ID, &session.ClassID, &session.TutorID, &session.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	return &session, nil
}

// EndSession sets the session end time once. Ending an already ended session
// keeps the original end time.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	return s.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL
		`, time.Now().UTC(), sessionID)
		if err != nil {
			return fmt.Errorf("end session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Either already ended (fine) or missing.
			var exists int
			if err := db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return interfaces.ErrSessionNotFound
			}
		}
		return nil
	})
}

// AddStudent adds a student to the class roster. Idempotent on student ID.
func (s *Store) AddStudent(ctx context.Context, classID string, student types.StudentProfile) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO roster (class_id, student_id, name)
			VALUES (?, ?, ?)
			ON CONFLICT(class_id, student_id) DO UPDATE SET name = excluded.name
		`, classID, student.StudentID, student.Name)
		if err != nil {
			return fmt.Errorf("add roster entry: %w", err)
		}
		return nil
	})
}

// OnRoster reports class roster membership.
func (s *Store) OnRoster(ctx context.Context, classID, studentID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM roster WHERE class_id = ? AND student_id = ?
	`, classID, studentID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query roster: %w", err)
	}
	return count > 0, nil
}

// ListRoster returns the class roster ordered by name.
func (s *Store) ListRoster(ctx context.Context, classID string) ([]types.StudentProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT student_id, name FROM roster WHERE class_id = ? ORDER BY name ASC
	`, classID)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var roster []types.StudentProfile
	for rows.Next() {
		var student types.StudentProfile
		if err := rows.Scan(&student.StudentID, &student.Name); err != nil {
			return nil, err
		}
		roster = append(roster, student)
	}
	return roster, rows.Err()
}

// RecordAttendance marks a student present. Idempotent on (session, student);
// the first join time wins.
func (s *Store) RecordAttendance(ctx context.Context, record types.AttendanceRecord) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO attendance (session_id, student_id, joined_at)
			VALUES (?, ?, ?)
			ON CONFLICT(session_id, student_id) DO NOTHING
		`, record.SessionID, record.StudentID, record.JoinedAt)
		if err != nil {
			return fmt.Errorf("record attendance: %w", err)
		}
		return nil
	})
}

// ListAttendance returns attendance for a session in join order.
func (s *Store) ListAttendance(ctx context.Context, sessionID string) ([]types.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, student_id, joined_at FROM attendance
		WHERE session_id = ?
		ORDER BY joined_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.AttendanceRecord
	for rows.Next() {
		var record types.AttendanceRecord
		if err := rows.Scan(&record.SessionID, &record.StudentID, &record.JoinedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// HealthCheck verifies connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// Close drains the writer and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	return nil
}
