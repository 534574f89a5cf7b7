package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"peerclass/internal/protocol"
	"peerclass/pkg/interfaces"
	"peerclass/pkg/types"
)

// Peers resolves the live endpoint for a connected student. The session
// coordinator owns the mapping; the engine only asks.
type Peers interface {
	EndpointFor(studentID string) (interfaces.Endpoint, bool)
	ConnectedStudents() []string
}

// SnapshotFunc supplies the session, class and attendance snapshots embedded
// in every outgoing result envelope.
type SnapshotFunc func(ctx context.Context) (*types.Session, *types.ClassProfile, []types.AttendanceRecord, error)

// TutorEngine owns submission acceptance and feedback delivery on the tutor
// device. Delivery is at-least-once: anything short of Delivered is eligible
// for re-send, and only a student's FEEDBACK_ACK advances a submission to
// Delivered. All mutation runs under one mutex; transport callbacks are
// arbitrary goroutines.
type TutorEngine struct {
	store    interfaces.Store
	peers    Peers
	snapshot SnapshotFunc
	logger   *zap.Logger

	mu              sync.Mutex
	activeSessionID string
}

func NewTutorEngine(store interfaces.Store, peers Peers, snapshot SnapshotFunc, logger *zap.Logger) *TutorEngine {
	return &TutorEngine{
		store:    store,
		peers:    peers,
		snapshot: snapshot,
		logger:   logger,
	}
}

// SetActiveSession scopes submission acceptance to one session. An empty ID
// rejects everything.
func (e *TutorEngine) SetActiveSession(sessionID string) {
	e.mu.Lock()
	e.activeSessionID = sessionID
	e.mu.Unlock()
}

// AcceptSubmission stores an incoming submission. Submissions for a session
// other than the active one, or from a student who is not currently
// connected, are dropped silently: the peer is stale or unauthorized, and
// neither condition is actionable on this side.
func (e *TutorEngine) AcceptSubmission(ctx context.Context, endpointStudentID string, submission *types.AssessmentSubmission) error {
	if err := submission.Validate(); err != nil {
		e.logger.Debug("dropping invalid submission", zap.Error(err))
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if submission.SessionID != e.activeSessionID {
		e.logger.Debug("dropping submission for inactive session",
			zap.String("submission_id", submission.SubmissionID),
			zap.String("session_id", submission.SessionID))
		return nil
	}
	if _, ok := e.peers.EndpointFor(endpointStudentID); !ok {
		e.logger.Debug("dropping submission from disconnected student",
			zap.String("student_id", endpointStudentID))
		return nil
	}

	existing, err := e.store.GetSubmission(ctx, submission.SubmissionID)
	if err != nil && !errors.Is(err, interfaces.ErrSubmissionNotFound) {
		return fmt.Errorf("load submission: %w", err)
	}
	if existing != nil {
		// Redelivered copy. SubmissionID is the idempotency key: the stored
		// record keeps the graded fields and delivery status the tutor owns,
		// and only the student-owned answer content is refreshed.
		mergeStudentFields(existing, submission)
		if err := e.store.UpsertSubmission(ctx, existing); err != nil {
			return fmt.Errorf("persist submission: %w", err)
		}
		e.logger.Debug("duplicate submission merged",
			zap.String("submission_id", existing.SubmissionID),
			zap.String("feedback_status", string(existing.FeedbackStatus)))
		return nil
	}

	stored := *submission
	if stored.FeedbackStatus == "" {
		stored.FeedbackStatus = types.FeedbackPendingSend
	}
	if err := e.store.UpsertSubmission(ctx, &stored); err != nil {
		return fmt.Errorf("persist submission: %w", err)
	}
	e.logger.Info("submission accepted",
		zap.String("submission_id", stored.SubmissionID),
		zap.String("student_id", stored.StudentID),
		zap.Int("answers", len(stored.Answers)))
	return nil
}

// RecordGrades applies grading results to a stored submission and attempts
// immediate delivery. The graded state is persisted before any send so a
// crash between the two never loses a grade.
func (e *TutorEngine) RecordGrades(ctx context.Context, submissionID string, results []types.GradeResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	submission, err := e.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("load submission for grading: %w", err)
	}

	for _, result := range results {
		answer := submission.AnswerFor(result.QuestionID)
		if answer == nil {
			e.logger.Warn("grade for unknown question",
				zap.String("submission_id", submissionID),
				zap.String("question_id", result.QuestionID))
			continue
		}
		score := result.Score
		answer.Score = &score
		answer.Feedback = result.Feedback
	}

	submission.FeedbackStatus = types.FeedbackPendingSend
	if err := e.store.UpsertSubmission(ctx, submission); err != nil {
		return fmt.Errorf("persist grades: %w", err)
	}

	return e.deliverLocked(ctx, submission)
}

// FlushPending re-sends every undelivered graded submission for one student.
// Called when a student reconnects.
func (e *TutorEngine) FlushPending(ctx context.Context, studentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushStudentLocked(ctx, studentID)
}

// FlushAll sweeps every connected student for undelivered feedback.
func (e *TutorEngine) FlushAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for _, studentID := range e.peers.ConnectedStudents() {
		if err := e.flushStudentLocked(ctx, studentID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HandleAck advances a submission to Delivered. Idempotent: duplicate acks
// and acks for already delivered submissions are no-ops. The status never
// moves backward.
func (e *TutorEngine) HandleAck(ctx context.Context, submissionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	submission, err := e.store.GetSubmission(ctx, submissionID)
	if err != nil {
		e.logger.Debug("ack for unknown submission", zap.String("submission_id", submissionID))
		return nil
	}
	if !submission.FeedbackStatus.CanAdvanceTo(types.FeedbackDelivered) {
		return nil
	}
	submission.FeedbackStatus = types.FeedbackDelivered
	if err := e.store.UpsertSubmission(ctx, submission); err != nil {
		return fmt.Errorf("persist delivery status: %w", err)
	}
	e.logger.Info("feedback delivered", zap.String("submission_id", submissionID))
	return nil
}

func (e *TutorEngine) flushStudentLocked(ctx context.Context, studentID string) error {
	if e.activeSessionID == "" {
		return nil
	}
	submissions, err := e.store.GetSubmissionsForSession(ctx, e.activeSessionID)
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}
	for _, submission := range submissions {
		if submission.StudentID != studentID {
			continue
		}
		if submission.FeedbackStatus == types.FeedbackDelivered {
			continue
		}
		if !fullyGraded(submission) {
			continue
		}
		if err := e.deliverLocked(ctx, submission); err != nil {
			return err
		}
	}
	return nil
}

// deliverLocked sends a graded submission to its student if connected, then
// records SentPendingAck. A disconnected student leaves the submission
// queued; the next flush picks it up.
func (e *TutorEngine) deliverLocked(ctx context.Context, submission *types.AssessmentSubmission) error {
	endpoint, ok := e.peers.EndpointFor(submission.StudentID)
	if !ok {
		e.logger.Debug("feedback queued for disconnected student",
			zap.String("submission_id", submission.SubmissionID),
			zap.String("student_id", submission.StudentID))
		return nil
	}

	session, class, attendance, err := e.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("build result snapshot: %w", err)
	}
	data, err := protocol.EncodeAssessmentResult(protocol.AssessmentResult{
		Submission: submission,
		Session:    session,
		Class:      class,
		Attendance: attendance,
	})
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := endpoint.SendEnvelope(data); err != nil {
		e.logger.Warn("feedback send failed, left queued",
			zap.String("submission_id", submission.SubmissionID),
			zap.Error(err))
		return nil
	}

	if submission.FeedbackStatus.CanAdvanceTo(types.FeedbackSentPendingAck) {
		submission.FeedbackStatus = types.FeedbackSentPendingAck
		if err := e.store.UpsertSubmission(ctx, submission); err != nil {
			return fmt.Errorf("persist send status: %w", err)
		}
	}
	return nil
}

// mergeStudentFields folds the student-owned answer content from a
// redelivered submission into the stored record, matching by question ID.
// Score, feedback and delivery status stay with the stored record.
func mergeStudentFields(stored, incoming *types.AssessmentSubmission) {
	for _, answer := range incoming.Answers {
		local := stored.AnswerFor(answer.QuestionID)
		if local == nil {
			stored.Answers = append(stored.Answers, types.Answer{
				QuestionID:    answer.QuestionID,
				Text:          answer.Text,
				ImageFilename: answer.ImageFilename,
			})
			continue
		}
		local.Text = answer.Text
		local.ImageFilename = answer.ImageFilename
	}
}

// fullyGraded reports whether every answer carries a score. Feedback for a
// partially graded submission is never sent.
func fullyGraded(submission *types.AssessmentSubmission) bool {
	if len(submission.Answers) == 0 {
		return false
	}
	for _, answer := range submission.Answers {
		if !answer.Graded() {
			return false
		}
	}
	return true
}
