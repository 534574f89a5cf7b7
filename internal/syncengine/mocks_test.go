package syncengine

import (
	"context"
	"sync"

	"peerclass/internal/protocol"
	"peerclass/pkg/interfaces"
	"peerclass/pkg/types"
)

type memoryStore struct {
	mu          sync.Mutex
	submissions map[string]*types.AssessmentSubmission
	sessions    map[string]*types.Session
	upsertErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		submissions: make(map[string]*types.AssessmentSubmission),
		sessions:    make(map[string]*types.Session),
	}
}

func (m *memoryStore) UpsertSubmission(ctx context.Context, submission *types.AssessmentSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
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
		if stored.SessionID != sessionID {
			continue
		}
		clone := *stored
		clone.Answers = append([]types.Answer(nil), stored.Answers...)
		out = append(out, &clone)
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

func (m *memoryStore) EndSession(ctx context.Context, sessionID string) error { return nil }

func (m *memoryStore) AddStudent(ctx context.Context, classID string, student types.StudentProfile) error {
	return nil
}
func (m *memoryStore) OnRoster(ctx context.Context, classID, studentID string) (bool, error) {
	return false, nil
}
func (m *memoryStore) ListRoster(ctx context.Context, classID string) ([]types.StudentProfile, error) {
	return nil, nil
}
func (m *memoryStore) RecordAttendance(ctx context.Context, record types.AttendanceRecord) error {
	return nil
}
func (m *memoryStore) ListAttendance(ctx context.Context, sessionID string) ([]types.AttendanceRecord, error) {
	return nil, nil
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
	sendErr   error
}

func (e *mockEndpoint) ID() string { return e.id }

func (e *mockEndpoint) SendEnvelope(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sendErr != nil {
		return e.sendErr
	}
	e.envelopes = append(e.envelopes, append([]byte(nil), data...))
	return nil
}

func (e *mockEndpoint) SendFile(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sendErr != nil {
		return e.sendErr
	}
	e.files = append(e.files, append([]byte(nil), data...))
	return nil
}

func (e *mockEndpoint) Close() error { return nil }

func (e *mockEndpoint) sentEnvelopes() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.envelopes...)
}

func (e *mockEndpoint) sentFiles() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.files...)
}

func (e *mockEndpoint) decodedKinds() []protocol.Kind {
	var kinds []protocol.Kind
	for _, data := range e.sentEnvelopes() {
		msg, err := protocol.Decode(data)
		if err != nil {
			kinds = append(kinds, protocol.KindUnknown)
			continue
		}
		kinds = append(kinds, msg.Kind)
	}
	return kinds
}

type mockPeers struct {
	mu        sync.Mutex
	endpoints map[string]*mockEndpoint
}

func newMockPeers() *mockPeers {
	return &mockPeers{endpoints: make(map[string]*mockEndpoint)}
}

func (p *mockPeers) connect(studentID string) *mockEndpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	endpoint := &mockEndpoint{id: "ep-" + studentID}
	p.endpoints[studentID] = endpoint
	return endpoint
}

func (p *mockPeers) disconnect(studentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.endpoints, studentID)
}

func (p *mockPeers) EndpointFor(studentID string) (interfaces.Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	endpoint, ok := p.endpoints[studentID]
	return endpoint, ok
}

func (p *mockPeers) ConnectedStudents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.endpoints))
	for studentID := range p.endpoints {
		out = append(out, studentID)
	}
	return out
}
