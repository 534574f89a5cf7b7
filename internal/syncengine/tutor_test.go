package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"peerclass/internal/protocol"
	"peerclass/pkg/types"
)

func testSnapshot(ctx context.Context) (*types.Session, *types.ClassProfile, []types.AttendanceRecord, error) {
	return &types.Session{ID: "sess1", ClassID: "class1", TutorID: "tutor1", StartedAt: time.Unix(100, 0)},
		&types.ClassProfile{ID: "class1", Name: "Physics 7B"},
		[]types.AttendanceRecord{{SessionID: "sess1", StudentID: "stu1"}},
		nil
}

func newTutorFixture() (*TutorEngine, *memoryStore, *mockPeers) {
	store := newMemoryStore()
	peers := newMockPeers()
	engine := NewTutorEngine(store, peers, testSnapshot, zap.NewNop())
	engine.SetActiveSession("sess1")
	return engine, store, peers
}

func newSubmission(submissionID, studentID string) *types.AssessmentSubmission {
	return &types.AssessmentSubmission{
		SubmissionID: submissionID,
		SessionID:    "sess1",
		AssessmentID: "asm1",
		StudentID:    studentID,
		StudentName:  "Student " + studentID,
		SubmittedAt:  time.Unix(200, 0),
		Answers: []types.Answer{
			{QuestionID: "q1", Text: "Answer one"},
			{QuestionID: "q2", Text: "Answer two"},
		},
	}
}

func grades() []types.GradeResult {
	return []types.GradeResult{
		{QuestionID: "q1", Score: 3, Feedback: "Good."},
		{QuestionID: "q2", Score: 5, Feedback: "Excellent."},
	}
}

func TestAcceptSubmission_Stored(t *testing.T) {
	engine, store, peers := newTutorFixture()
	peers.connect("stu1")

	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))

	stored, err := store.GetSubmission(context.Background(), "sub1")
	require.NoError(t, err)
	assert.Equal(t, types.FeedbackPendingSend, stored.FeedbackStatus)
}

func TestAcceptSubmission_DropsInactiveSession(t *testing.T) {
	engine, store, peers := newTutorFixture()
	peers.connect("stu1")

	submission := newSubmission("sub1", "stu1")
	submission.SessionID = "some-old-session"
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", submission))

	_, err := store.GetSubmission(context.Background(), "sub1")
	assert.Error(t, err, "stale submission must not be stored")
}

func TestAcceptSubmission_DropsDisconnectedStudent(t *testing.T) {
	engine, store, _ := newTutorFixture()

	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))

	_, err := store.GetSubmission(context.Background(), "sub1")
	assert.Error(t, err)
}

func TestAcceptSubmission_RedeliveryKeepsGradesAndStatus(t *testing.T) {
	engine, store, peers := newTutorFixture()
	peers.connect("stu1")
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))
	require.NoError(t, engine.RecordGrades(context.Background(), "sub1", grades()))
	require.Equal(t, types.FeedbackSentPendingAck, store.status("sub1"))

	// The student reconnects and re-sends the same submission.
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))

	stored, err := store.GetSubmission(context.Background(), "sub1")
	require.NoError(t, err)
	assert.Equal(t, types.FeedbackSentPendingAck, stored.FeedbackStatus,
		"a redelivered submission must not move the status backward")
	q1 := stored.AnswerFor("q1")
	require.NotNil(t, q1)
	require.NotNil(t, q1.Score, "grades must survive redelivery")
	assert.Equal(t, 3.0, *q1.Score)
	assert.Equal(t, "Good.", q1.Feedback)
}

func TestAcceptSubmission_RedeliveryRefreshesAnswerText(t *testing.T) {
	engine, store, peers := newTutorFixture()
	peers.connect("stu1")
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))

	resent := newSubmission("sub1", "stu1")
	resent.Answers[0].Text = "Answer one, revised"
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", resent))

	stored, err := store.GetSubmission(context.Background(), "sub1")
	require.NoError(t, err)
	assert.Equal(t, "Answer one, revised", stored.AnswerFor("q1").Text)
	assert.Equal(t, "Answer two", stored.AnswerFor("q2").Text)
}

func TestRecordGrades_DeliversToConnectedStudent(t *testing.T) {
	engine, store, peers := newTutorFixture()
	endpoint := peers.connect("stu1")
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))

	require.NoError(t, engine.RecordGrades(context.Background(), "sub1", grades()))

	assert.Equal(t, types.FeedbackSentPendingAck, store.status("sub1"))
	envelopes := endpoint.sentEnvelopes()
	require.Len(t, envelopes, 1)

	msg, err := protocol.Decode(envelopes[0])
	require.NoError(t, err)
	require.Equal(t, protocol.KindAssessmentResult, msg.Kind)
	assert.Equal(t, "sub1", msg.AssessmentResult.Submission.SubmissionID)
	assert.Equal(t, 8.0, msg.AssessmentResult.Submission.TotalScore())
	assert.Equal(t, "Physics 7B", msg.AssessmentResult.Class.Name)
}

func TestRecordGrades_QueuesForDisconnectedStudent(t *testing.T) {
	engine, store, peers := newTutorFixture()
	peers.connect("stu1")
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))
	peers.disconnect("stu1")

	require.NoError(t, engine.RecordGrades(context.Background(), "sub1", grades()))

	assert.Equal(t, types.FeedbackPendingSend, store.status("sub1"),
		"grade must be durable and queued while the student is away")
}

func TestFlushPending_DeliversQueuedFeedbackOnReconnect(t *testing.T) {
	engine, store, peers := newTutorFixture()
	peers.connect("stu1")
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))
	peers.disconnect("stu1")
	require.NoError(t, engine.RecordGrades(context.Background(), "sub1", grades()))

	endpoint := peers.connect("stu1")
	require.NoError(t, engine.FlushPending(context.Background(), "stu1"))

	assert.Equal(t, types.FeedbackSentPendingAck, store.status("sub1"))
	assert.Len(t, endpoint.sentEnvelopes(), 1)
}

func TestFlushPending_SkipsDeliveredAndUngraded(t *testing.T) {
	engine, store, peers := newTutorFixture()
	endpoint := peers.connect("stu1")

	// Delivered submission.
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))
	require.NoError(t, engine.RecordGrades(context.Background(), "sub1", grades()))
	require.NoError(t, engine.HandleAck(context.Background(), "sub1"))

	// Ungraded submission.
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub2", "stu1")))

	before := len(endpoint.sentEnvelopes())
	require.NoError(t, engine.FlushPending(context.Background(), "stu1"))

	assert.Len(t, endpoint.sentEnvelopes(), before, "neither delivered nor ungraded may be re-sent")
	assert.Equal(t, types.FeedbackDelivered, store.status("sub1"))
}

func TestFlushPending_ResendIsSafe(t *testing.T) {
	engine, store, peers := newTutorFixture()
	endpoint := peers.connect("stu1")
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))
	require.NoError(t, engine.RecordGrades(context.Background(), "sub1", grades()))

	// Ack never arrived; the sweep sends again.
	require.NoError(t, engine.FlushPending(context.Background(), "stu1"))
	require.NoError(t, engine.FlushPending(context.Background(), "stu1"))

	assert.Len(t, endpoint.sentEnvelopes(), 3)
	assert.Equal(t, types.FeedbackSentPendingAck, store.status("sub1"),
		"re-sending must not advance the status")
}

func TestHandleAck_IdempotentAndMonotonic(t *testing.T) {
	engine, store, peers := newTutorFixture()
	peers.connect("stu1")
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))
	require.NoError(t, engine.RecordGrades(context.Background(), "sub1", grades()))

	require.NoError(t, engine.HandleAck(context.Background(), "sub1"))
	assert.Equal(t, types.FeedbackDelivered, store.status("sub1"))

	// Duplicate ack is a no-op.
	require.NoError(t, engine.HandleAck(context.Background(), "sub1"))
	assert.Equal(t, types.FeedbackDelivered, store.status("sub1"))

	// Ack for a submission this device never stored is dropped quietly.
	require.NoError(t, engine.HandleAck(context.Background(), "no-such-submission"))
}

func TestHandleAck_NeverRegressesAfterDelivery(t *testing.T) {
	engine, store, peers := newTutorFixture()
	endpoint := peers.connect("stu1")
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))
	require.NoError(t, engine.RecordGrades(context.Background(), "sub1", grades()))
	require.NoError(t, engine.HandleAck(context.Background(), "sub1"))

	// A full sweep after delivery stays silent.
	before := len(endpoint.sentEnvelopes())
	require.NoError(t, engine.FlushAll(context.Background()))
	assert.Len(t, endpoint.sentEnvelopes(), before)
	assert.Equal(t, types.FeedbackDelivered, store.status("sub1"))
}

func TestFlushAll_CoversEveryConnectedStudent(t *testing.T) {
	engine, _, peers := newTutorFixture()
	peers.connect("stu1")
	peers.connect("stu2")
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu2", newSubmission("sub2", "stu2")))
	peers.disconnect("stu1")
	peers.disconnect("stu2")
	require.NoError(t, engine.RecordGrades(context.Background(), "sub1", grades()))
	require.NoError(t, engine.RecordGrades(context.Background(), "sub2", grades()))

	ep1 := peers.connect("stu1")
	ep2 := peers.connect("stu2")
	require.NoError(t, engine.FlushAll(context.Background()))

	assert.Len(t, ep1.sentEnvelopes(), 1)
	assert.Len(t, ep2.sentEnvelopes(), 1)
}

func TestDeliver_SendFailureLeavesQueued(t *testing.T) {
	engine, store, peers := newTutorFixture()
	endpoint := peers.connect("stu1")
	require.NoError(t, engine.AcceptSubmission(context.Background(), "stu1", newSubmission("sub1", "stu1")))
	endpoint.sendErr = assert.AnError

	require.NoError(t, engine.RecordGrades(context.Background(), "sub1", grades()))

	assert.Equal(t, types.FeedbackPendingSend, store.status("sub1"),
		"a failed send must not claim the feedback was sent")
}
