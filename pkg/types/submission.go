package types

import (
	"time"
)

// FeedbackStatus tracks delivery of graded feedback to the student.
// Transitions are one-directional: PendingSend -> SentPendingAck -> Delivered.
// Delivered is terminal and is the only state a re-send sweep skips.
type FeedbackStatus string

const (
	FeedbackPendingSend    FeedbackStatus = "PENDING_SEND"
	FeedbackSentPendingAck FeedbackStatus = "SENT_PENDING_ACK"
	FeedbackDelivered      FeedbackStatus = "DELIVERED"
)

// rank orders statuses for monotonic advancement.
func (s FeedbackStatus) rank() int {
	switch s {
	case FeedbackPendingSend:
		return 0
	case FeedbackSentPendingAck:
		return 1
	case FeedbackDelivered:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving to next is a forward transition.
// A status never regresses.
func (s FeedbackStatus) CanAdvanceTo(next FeedbackStatus) bool {
	return next.rank() > s.rank()
}

// Answer is a student's response to a single question. Text and an image are
// mutually exclusive in practice, though both fields exist. Score and
// Feedback are owned by the tutor once grading completes.
type Answer struct {
	QuestionID    string   `json:"question_id"`
	Text          string   `json:"text,omitempty"`
	ImageFilename string   `json:"image_filename,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	Feedback      string   `json:"feedback,omitempty"`
}

// Graded reports whether this answer carries a score.
func (a Answer) Graded() bool {
	return a.Score != nil
}

// AssessmentSubmission is owned by the student until sent; the tutor receives
// a copy and owns the graded fields once grading completes. SubmissionID is
// globally unique and is the idempotency key for every update: re-applying
// the same submission is a no-op merge, never a duplicate.
type AssessmentSubmission struct {
	SubmissionID   string         `json:"submission_id" db:"submission_id"`
	SessionID      string         `json:"session_id" db:"session_id"`
	AssessmentID   string         `json:"assessment_id" db:"assessment_id"`
	StudentID      string         `json:"student_id" db:"student_id"`
	StudentName    string         `json:"student_name" db:"student_name"`
	SubmittedAt    time.Time      `json:"submitted_at" db:"submitted_at"`
	Answers        []Answer       `json:"answers"`
	FeedbackStatus FeedbackStatus `json:"feedback_status" db:"feedback_status"`
}

// AnswerFor returns a pointer to the answer for questionID, or nil.
func (s *AssessmentSubmission) AnswerFor(questionID string) *Answer {
	for i := range s.Answers {
		if s.Answers[i].QuestionID == questionID {
			return &s.Answers[i]
		}
	}
	return nil
}

// MergeGrades folds per-answer score/feedback from an incoming graded copy
// into the locally held submission, matching by question ID. Answers absent
// from the incoming copy are left untouched, so a partial or repeated
// delivery never wipes locally known answer text. Idempotent.
func (s *AssessmentSubmission) MergeGrades(incoming *AssessmentSubmission) {
	if incoming == nil || incoming.SubmissionID != s.SubmissionID {
		return
	}
	for _, in := range incoming.Answers {
		local := s.AnswerFor(in.QuestionID)
		if local == nil {
			continue
		}
		if in.Score != nil {
			score := *in.Score
			local.Score = &score
		}
		if in.Feedback != "" {
			local.Feedback = in.Feedback
		}
	}
}

// TotalScore sums the graded answers. Ungraded answers contribute nothing.
func (s *AssessmentSubmission) TotalScore() float64 {
	var total float64
	for _, a := range s.Answers {
		if a.Score != nil {
			total += *a.Score
		}
	}
	return total
}

// GradeResult is the validated outcome of grading a single answer.
type GradeResult struct {
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
	Feedback   string  `json:"feedback"`
	// Clamped records that the model returned an out-of-range score which
	// was clamped into [0, max].
	Clamped bool `json:"clamped,omitempty"`
}
