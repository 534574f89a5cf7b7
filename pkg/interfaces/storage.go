package interfaces

import (
	"context"

	"peerclass/pkg/types"
)

// SubmissionStore handles persistence of assessment submissions. All
// operations are idempotent on SubmissionID: upserting the same submission
// twice leaves one row.
type SubmissionStore interface {
	// UpsertSubmission inserts or replaces a submission by its ID.
	UpsertSubmission(ctx context.Context, submission *types.AssessmentSubmission) error

	// GetSubmission retrieves a submission by ID, or ErrSubmissionNotFound.
	GetSubmission(ctx context.Context, submissionID string) (*types.AssessmentSubmission, error)

	// GetSubmissionsForSession returns every submission recorded for a session.
	GetSubmissionsForSession(ctx context.Context, sessionID string) ([]*types.AssessmentSubmission, error)
}

// SessionStore persists session records for the tutor device.
type SessionStore interface {
	// CreateSession records a new advertising period.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by ID, or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// EndSession sets the session's end time. Idempotent: ending an already
	// ended session keeps the original end time.
	EndSession(ctx context.Context, sessionID string) error
}

// RosterStore persists the set of students associated with a class.
type RosterStore interface {
	// AddStudent adds a student to the class roster. Idempotent on student ID.
	AddStudent(ctx context.Context, classID string, student types.StudentProfile) error

	// OnRoster reports whether the student is on the class roster.
	OnRoster(ctx context.Context, classID, studentID string) (bool, error)

	// ListRoster returns the class roster.
	ListRoster(ctx context.Context, classID string) ([]types.StudentProfile, error)

	// RecordAttendance marks a student present in a session. Idempotent on
	// (sessionID, studentID).
	RecordAttendance(ctx context.Context, record types.AttendanceRecord) error

	// ListAttendance returns attendance for a session.
	ListAttendance(ctx context.Context, sessionID string) ([]types.AttendanceRecord, error)
}

// Store aggregates all persistence used by the session coordinators.
type Store interface {
	SubmissionStore
	SessionStore
	RosterStore

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases resources.
	Close() error
}
