package types

import (
	"regexp"
)

// Compiled once; identifiers appear on every message so validation is hot.
var (
	idRegex  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	pinRegex = regexp.MustCompile(`^[0-9]{4,8}$`)
)

// IsValidID checks identifier format for session, student, submission and
// question IDs.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}

// IsValidPIN checks the class join PIN format.
func IsValidPIN(pin string) bool {
	return pinRegex.MatchString(pin)
}

// Validate ensures a submission is structurally sound before it is persisted
// or transmitted.
func (s *AssessmentSubmission) Validate() error {
	if !IsValidID(s.SubmissionID) {
		return ErrInvalidID
	}
	if s.SessionID == "" {
		return ErrMissingSession
	}
	if s.StudentID == "" {
		return ErrMissingStudent
	}
	if len(s.Answers) == 0 {
		return ErrEmptyAnswers
	}
	switch s.FeedbackStatus {
	case FeedbackPendingSend, FeedbackSentPendingAck, FeedbackDelivered, "":
	default:
		return ErrInvalidStatus
	}
	return nil
}

// Validate ensures an assessment can be distributed.
func (a *Assessment) Validate() error {
	if !IsValidID(a.ID) {
		return ErrInvalidID
	}
	if len(a.Title) < 1 || len(a.Title) > 200 {
		return ErrInvalidTitle
	}
	if len(a.Questions) == 0 {
		return ErrEmptyQuestionList
	}
	for _, q := range a.Questions {
		if !IsValidID(q.ID) {
			return ErrInvalidID
		}
		if q.MaxScore <= 0 {
			return ErrInvalidMaxScore
		}
	}
	return nil
}
