package types

import (
	"time"
)

// Wire message type tags carried in PayloadEnvelope.Type. These strings are
// the protocol contract with existing clients and must not change.
const (
	MessageTypeConnectionRequest  = "CONNECTION_REQUEST"
	MessageTypeConnectionApproved = "CONNECTION_APPROVED"
	MessageTypeSessionInfo        = "SESSION_INFO"
	MessageTypeStartAssessment    = "START_ASSESSMENT"
	MessageTypeSubmissionMetadata = "SUBMISSION_METADATA"
	MessageTypeAssessmentResult   = "ASSESSMENT_RESULT"
	MessageTypeFeedbackAck        = "FEEDBACK_ACK"
	MessageTypeSessionEndData     = "SESSION_END_DATA"
)

// Session represents one advertising period on the tutor device.
// Immutable after creation except for EndedAt, which is set exactly once
// when the tutor stops advertising.
type Session struct {
	ID        string     `json:"id" db:"id"`
	ClassID   string     `json:"class_id" db:"class_id"`
	TutorID   string     `json:"tutor_id" db:"tutor_id"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Active reports whether the session has not been ended yet.
func (s *Session) Active() bool {
	return s != nil && s.EndedAt == nil
}

// VerificationState is the outcome of the PIN/roster check during a join
// handshake. Rejected is terminal for the attempt.
type VerificationState int

const (
	// VerificationPinVerifiedPendingApproval: PIN matched, student not yet
	// on the roster. Tutor approval will add them.
	VerificationPinVerifiedPendingApproval VerificationState = iota
	// VerificationPendingApproval: student already on the roster; the PIN is
	// not consulted.
	VerificationPendingApproval
	// VerificationRejected: PIN mismatch for a non-roster student. Always
	// followed by a transport disconnect, never by stored state.
	VerificationRejected
)

func (v VerificationState) String() string {
	switch v {
	case VerificationPinVerifiedPendingApproval:
		return "pin_verified_pending_approval"
	case VerificationPendingApproval:
		return "pending_approval"
	case VerificationRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ConnectionAttempt is the transient handshake record for one endpoint.
// It exists only between the inbound connection and the tutor's
// accept/reject decision.
type ConnectionAttempt struct {
	EndpointID  string            `json:"endpoint_id"`
	StudentID   string            `json:"student_id"`
	StudentName string            `json:"student_name"`
	PIN         string            `json:"pin"`
	State       VerificationState `json:"state"`
}

// StudentProfile is a roster entry for a class.
type StudentProfile struct {
	StudentID string `json:"student_id" db:"student_id"`
	Name      string `json:"name" db:"name"`
}

// ClassProfile describes the class a session is run for, including the join
// PIN checked during the handshake.
type ClassProfile struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	TutorName string `json:"tutor_name" db:"tutor_name"`
	PIN       string `json:"pin" db:"pin"`
}

// AttendanceRecord marks a student as having joined a session.
type AttendanceRecord struct {
	SessionID string    `json:"session_id" db:"session_id"`
	StudentID string    `json:"student_id" db:"student_id"`
	JoinedAt  time.Time `json:"joined_at" db:"joined_at"`
}

// Question is one assessment item. MarkingGuide and MaxScore drive grading
// on the tutor side; the copy distributed to students is stripped of the
// marking guide.
type Question struct {
	ID            string  `json:"id"`
	Text          string  `json:"text"`
	MarkingGuide  string  `json:"marking_guide,omitempty"`
	MaxScore      float64 `json:"max_score"`
	ImageFilename string  `json:"image_filename,omitempty"`
}

// StudentCopy returns the question with tutor-only fields removed.
func (q Question) StudentCopy() Question {
	q.MarkingGuide = ""
	return q
}

// Assessment is a set of questions distributed to students in one session.
type Assessment struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	Title           string     `json:"title"`
	Questions       []Question `json:"questions"`
	DurationMinutes int        `json:"duration_minutes"`
}

// StudentCopy returns the assessment with every question's marking guide
// stripped, for transmission over START_ASSESSMENT.
func (a Assessment) StudentCopy() Assessment {
	questions := make([]Question, len(a.Questions))
	for i, q := range a.Questions {
		questions[i] = q.StudentCopy()
	}
	a.Questions = questions
	return a
}
