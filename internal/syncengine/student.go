package syncengine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"peerclass/internal/protocol"
	"peerclass/pkg/interfaces"
	"peerclass/pkg/types"
)

// StudentEngine owns the student side of submission and feedback flow.
// Submissions are persisted locally before any network send, so a lost
// connection never loses work; the submission can be re-sent as-is.
type StudentEngine struct {
	store  interfaces.SubmissionStore
	logger *zap.Logger

	mu sync.Mutex
}

func NewStudentEngine(store interfaces.SubmissionStore, logger *zap.Logger) *StudentEngine {
	return &StudentEngine{store: store, logger: logger}
}

// Submit persists the submission, then transmits its metadata and each
// answer image as a framed file. The local copy survives any transport
// failure; callers may re-invoke Submit with the same submission ID.
func (e *StudentEngine) Submit(ctx context.Context, endpoint interfaces.Endpoint, submission *types.AssessmentSubmission, images map[string][]byte) error {
	if err := submission.Validate(); err != nil {
		return fmt.Errorf("invalid submission: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.UpsertSubmission(ctx, submission); err != nil {
		return fmt.Errorf("persist submission: %w", err)
	}

	data, err := protocol.EncodeSubmissionMetadata(submission)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	if err := endpoint.SendEnvelope(data); err != nil {
		return fmt.Errorf("send submission: %w", err)
	}

	for questionID, image := range images {
		frame, err := protocol.EncodeFile(protocol.FileHeader{
			SessionID:    submission.SessionID,
			QuestionID:   questionID,
			SubmissionID: submission.SubmissionID,
		}, image)
		if err != nil {
			return fmt.Errorf("frame answer image %s: %w", questionID, err)
		}
		if err := endpoint.SendFile(frame); err != nil {
			return fmt.Errorf("send answer image %s: %w", questionID, err)
		}
	}

	e.logger.Info("submission sent",
		zap.String("submission_id", submission.SubmissionID),
		zap.Int("answers", len(submission.Answers)),
		zap.Int("images", len(images)))
	return nil
}

// ApplyResult merges an incoming graded copy into the local submission,
// persists the merge and acknowledges receipt. Repeated delivery of the same
// result is harmless; the merge is idempotent and never erases local answer
// content.
func (e *StudentEngine) ApplyResult(ctx context.Context, endpoint interfaces.Endpoint, result *protocol.AssessmentResult) (*types.AssessmentSubmission, error) {
	if result == nil || result.Submission == nil {
		return nil, fmt.Errorf("%w: empty result", protocol.ErrMalformedPayload)
	}
	graded := result.Submission

	e.mu.Lock()
	defer e.mu.Unlock()

	local, err := e.store.GetSubmission(ctx, graded.SubmissionID)
	if err != nil {
		// A result for a submission this device never made. Ack anyway so
		// the tutor stops re-sending it.
		e.logger.Warn("result for unknown submission",
			zap.String("submission_id", graded.SubmissionID))
		local = graded
	} else {
		local.MergeGrades(graded)
	}
	local.FeedbackStatus = types.FeedbackDelivered

	if err := e.store.UpsertSubmission(ctx, local); err != nil {
		return nil, fmt.Errorf("persist graded submission: %w", err)
	}

	ack, err := protocol.EncodeFeedbackAck(protocol.FeedbackAck{SubmissionID: local.SubmissionID})
	if err != nil {
		return nil, fmt.Errorf("encode ack: %w", err)
	}
	if err := endpoint.SendEnvelope(ack); err != nil {
		// The merge is already durable. The tutor re-sends, the merge
		// re-applies, and the next ack attempt completes the handshake.
		e.logger.Warn("ack send failed",
			zap.String("submission_id", local.SubmissionID), zap.Error(err))
	}

	e.logger.Info("feedback received",
		zap.String("submission_id", local.SubmissionID),
		zap.Float64("total_score", local.TotalScore()))
	return local, nil
}
