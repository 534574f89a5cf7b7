package session

import (
	"context"
	"sync"
	"time"

	"peerclass/internal/inference"
	"peerclass/internal/protocol"
	"peerclass/pkg/interfaces"
	"peerclass/pkg/types"
)

type memoryStore struct {
	mu          sync.Mutex
	submissions map[string]*types.AssessmentSubmission
	sessions    map[string]*types.Session
	roster      map[string]map[string]types.StudentProfile
	attendance  map[string][]types.AttendanceRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		submissions: make(map[string]*types.AssessmentSubmission),
		sessions:    make(map[string]*types.Session),
		roster:      make(map[string]map[string]types.StudentProfile),
		attendance:  make(map[string][]types.AttendanceRecord),
	}
}

func (m *memoryStore) UpsertSubmission(ctx context.Context, submission *types.AssessmentSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *submission
	clone.Answers = append([]types.Answer(nil), submission.Answers...)
	m.submissions[submission.SubmissionID] = &clone
	return nil
}

func (m *memoryStore) GetSubmission(ctx context.Context, submissionID string) (*types.AssessmentSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.submissions[submissionID]
	if !ok {
		return nil, interfaces.ErrSubmissionNotFound
	}
	clone := *stored
	clone.Answers = append([]types.Answer(nil), stored.Answers...)
	return &clone, nil
}

func (m *memoryStore) GetSubmissionsForSession(ctx context.Context, sessionID string) ([]*types.AssessmentSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.AssessmentSubmission
	for _, stored := range m.submissions {
		if stored.SessionID == sessionID {
			clone := *stored
			clone.Answers = append([]types.Answer(nil), stored.Answers...)
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memoryStore) CreateSession(ctx context.Context, session *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *session
	m.sessions[session.ID] = &clone
	return nil
}

func (m *memoryStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	clone := *session
	return &clone, nil
}

func (m *memoryStore) EndSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return interfaces.ErrSessionNotFound
	}
	if session.EndedAt == nil {
		now := time.Now().UTC()
		session.EndedAt = &now
	}
	return nil
}

func (m *memoryStore) AddStudent(ctx context.Context, classID string, student types.StudentProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roster[classID] == nil {
		m.roster[classID] = make(map[string]types.StudentProfile)
	}
	m.roster[classID][student.StudentID] = student
	return nil
}

func (m *memoryStore) OnRoster(ctx context.Context, classID, studentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.roster[classID][studentID]
	return ok, nil
}

func (m *memoryStore) ListRoster(ctx context.Context, classID string) ([]types.StudentProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.StudentProfile
	for _, student := range m.roster[classID] {
		out = append(out, student)
	}
	return out, nil
}

func (m *memoryStore) RecordAttendance(ctx context.Context, record types.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.attendance[record.SessionID] {
		if existing.StudentID == record.StudentID {
			return nil
		}
	}
	m.attendance[record.SessionID] = append(m.attendance[record.SessionID], record)
	return nil
}

func (m *memoryStore) ListAttendance(ctx context.Context, sessionID string) ([]types.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.AttendanceRecord(nil), m.attendance[sessionID]...), nil
}

func (m *memoryStore) HealthCheck(ctx context.Context) error { return nil }
func (m *memoryStore) Close() error                          { return nil }

func (m *memoryStore) status(submissionID string) types.FeedbackStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.submissions[submissionID]
	if !ok {
		return ""
	}
	return stored.FeedbackStatus
}

type mockEndpoint struct {
	mu        sync.Mutex
	id        string
	envelopes [][]byte
	files     [][]byte
	closed    bool
}

func (e *mockEndpoint) ID() string { return e.id }

func (e *mockEndpoint) SendEnvelope(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.envelopes = append(e.envelopes, append([]byte(nil), data...))
	return nil
}

func (e *mockEndpoint) SendFile(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files = append(e.files, append([]byte(nil), data...))
	return nil
}

func (e *mockEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *mockEndpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *mockEndpoint) sentKinds() []protocol.Kind {
	e.mu.Lock()
	envelopes := append([][]byte(nil), e.envelopes...)
	e.mu.Unlock()

	var kinds []protocol.Kind
	for _, data := range envelopes {
		msg, err := protocol.Decode(data)
		if err != nil {
			kinds = append(kinds, protocol.KindUnknown)
			continue
		}
		kinds = append(kinds, msg.Kind)
	}
	return kinds
}

func (e *mockEndpoint) sentFiles() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.files...)
}

// fakeGrader grades every answer with a fixed score.
type fakeGrader struct {
	mu    sync.Mutex
	score float64
	err   error
	tasks []inference.Task
}

func (g *fakeGrader) Grade(ctx context.Context, task inference.Task, onHealth inference.HealthFunc) (types.GradeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tasks = append(g.tasks, task)
	if g.err != nil {
		return types.GradeResult{}, g.err
	}
	return types.GradeResult{QuestionID: task.Question.ID, Score: g.score, Feedback: "Well reasoned."}, nil
}

func (g *fakeGrader) gradedTasks() []inference.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]inference.Task(nil), g.tasks...)
}
