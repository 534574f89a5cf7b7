package types

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidID(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"stu1", true},
		{"a", true},
		{"user_name-42", true},
		{strings.Repeat("x", 64), true},
		{strings.Repeat("x", 65), false},
		{"", false},
		{"has space", false},
		{"päron", false},
		{"semi;colon", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.valid, IsValidID(tc.id), "id %q", tc.id)
	}
}

func TestIsValidPIN(t *testing.T) {
	cases := []struct {
		pin   string
		valid bool
	}{
		{"4821", true},
		{"12345678", true},
		{"123", false},
		{"123456789", false},
		{"48a1", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.valid, IsValidPIN(tc.pin), "pin %q", tc.pin)
	}
}

func TestSessionActive(t *testing.T) {
	now := time.Now()
	var nilSession *Session
	assert.False(t, nilSession.Active())
	assert.True(t, (&Session{ID: "s", StartedAt: now}).Active())
	assert.False(t, (&Session{ID: "s", StartedAt: now, EndedAt: &now}).Active())
}

func TestFeedbackStatusMonotonic(t *testing.T) {
	assert.True(t, FeedbackPendingSend.CanAdvanceTo(FeedbackSentPendingAck))
	assert.True(t, FeedbackPendingSend.CanAdvanceTo(FeedbackDelivered))
	assert.True(t, FeedbackSentPendingAck.CanAdvanceTo(FeedbackDelivered))

	assert.False(t, FeedbackSentPendingAck.CanAdvanceTo(FeedbackPendingSend))
	assert.False(t, FeedbackDelivered.CanAdvanceTo(FeedbackSentPendingAck))
	assert.False(t, FeedbackDelivered.CanAdvanceTo(FeedbackPendingSend))
	assert.False(t, FeedbackDelivered.CanAdvanceTo(FeedbackDelivered))
}

func baseSubmission() *AssessmentSubmission {
	return &AssessmentSubmission{
		SubmissionID: "sub1",
		SessionID:    "sess1",
		AssessmentID: "asm1",
		StudentID:    "stu1",
		SubmittedAt:  time.Unix(500, 0),
		Answers: []Answer{
			{QuestionID: "q1", Text: "First answer"},
			{QuestionID: "q2", ImageFilename: "photo.jpg"},
		},
	}
}

func TestSubmissionValidate(t *testing.T) {
	require.NoError(t, baseSubmission().Validate())

	bad := baseSubmission()
	bad.SubmissionID = "bad id"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidID)

	bad = baseSubmission()
	bad.SessionID = ""
	assert.ErrorIs(t, bad.Validate(), ErrMissingSession)

	bad = baseSubmission()
	bad.StudentID = ""
	assert.ErrorIs(t, bad.Validate(), ErrMissingStudent)

	bad = baseSubmission()
	bad.Answers = nil
	assert.ErrorIs(t, bad.Validate(), ErrEmptyAnswers)

	bad = baseSubmission()
	bad.FeedbackStatus = "SHIPPED"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidStatus)
}

func TestMergeGrades(t *testing.T) {
	local := baseSubmission()
	score := 4.0
	incoming := &AssessmentSubmission{
		SubmissionID: "sub1",
		Answers: []Answer{
			{QuestionID: "q1", Score: &score, Feedback: "Good work."},
		},
	}

	local.MergeGrades(incoming)

	require.NotNil(t, local.Answers[0].Score)
	assert.Equal(t, 4.0, *local.Answers[0].Score)
	assert.Equal(t, "Good work.", local.Answers[0].Feedback)
	assert.Equal(t, "First answer", local.Answers[0].Text, "local answer text must survive a merge")
	assert.Nil(t, local.Answers[1].Score, "answers absent from the grade stay untouched")

	// Re-applying the same grade changes nothing.
	before := *local
	beforeAnswers := append([]Answer(nil), local.Answers...)
	local.MergeGrades(incoming)
	before.Answers = beforeAnswers
	if diff := cmp.Diff(&before, local); diff != "" {
		t.Errorf("merge is not idempotent (-want +got):\n%s", diff)
	}
}

func TestMergeGrades_WrongSubmissionIgnored(t *testing.T) {
	local := baseSubmission()
	score := 9.0
	other := &AssessmentSubmission{
		SubmissionID: "someone-else",
		Answers:      []Answer{{QuestionID: "q1", Score: &score}},
	}

	local.MergeGrades(other)
	local.MergeGrades(nil)

	assert.Nil(t, local.Answers[0].Score)
}

func TestTotalScore(t *testing.T) {
	submission := baseSubmission()
	assert.Zero(t, submission.TotalScore())

	s1, s2 := 2.5, 3.0
	submission.Answers[0].Score = &s1
	submission.Answers[1].Score = &s2
	assert.Equal(t, 5.5, submission.TotalScore())
}

func TestAssessmentStudentCopyStripsMarkingGuides(t *testing.T) {
	assessment := Assessment{
		ID:    "asm1",
		Title: "Quiz",
		Questions: []Question{
			{ID: "q1", Text: "Explain", MarkingGuide: "look for X", MaxScore: 5},
			{ID: "q2", Text: "Sketch", MarkingGuide: "axes labelled", MaxScore: 3, ImageFilename: "axes.jpg"},
		},
	}

	stripped := assessment.StudentCopy()

	for _, question := range stripped.Questions {
		assert.Empty(t, question.MarkingGuide)
	}
	assert.Equal(t, "axes.jpg", stripped.Questions[1].ImageFilename)
	// The original is untouched.
	assert.Equal(t, "look for X", assessment.Questions[0].MarkingGuide)
}

func TestAssessmentValidate(t *testing.T) {
	valid := Assessment{
		ID:        "asm1",
		Title:     "Quiz",
		Questions: []Question{{ID: "q1", Text: "Explain", MaxScore: 5}},
	}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.Questions = nil
	assert.ErrorIs(t, bad.Validate(), ErrEmptyQuestionList)

	bad = valid
	bad.Title = ""
	assert.ErrorIs(t, bad.Validate(), ErrInvalidTitle)

	bad = valid
	bad.Questions = []Question{{ID: "q1", Text: "Explain", MaxScore: 0}}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidMaxScore)
}
