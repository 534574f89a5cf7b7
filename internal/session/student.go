package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"peerclass/internal/files"
	"peerclass/internal/protocol"
	"peerclass/internal/reassembly"
	"peerclass/internal/syncengine"
	"peerclass/internal/transport"
	"peerclass/pkg/interfaces"
	"peerclass/pkg/types"
)

// StudentSession coordinates one student's side of a classroom session:
// discovering tutors, the join handshake, receiving the assessment,
// submitting answers and receiving graded feedback.
type StudentSession struct {
	profile types.StudentProfile

	engine     *syncengine.StudentEngine
	discoverer *transport.Discoverer
	cache      *reassembly.Cache
	fileStore  *files.Store
	events     chan interfaces.EndpointEvent
	logger     *zap.Logger

	approved     chan protocol.SessionInfo
	assessments  chan types.Assessment
	results      chan *types.AssessmentSubmission
	ended        chan protocol.SessionEndData
	disconnected chan struct{}

	mu         sync.Mutex
	conn       interfaces.Endpoint
	info       *protocol.SessionInfo
	assessment *types.Assessment

	wg sync.WaitGroup
}

// NewStudentSession wires a student coordinator.
func NewStudentSession(
	profile types.StudentProfile,
	store interfaces.SubmissionStore,
	discoverer *transport.Discoverer,
	cache *reassembly.Cache,
	fileStore *files.Store,
	logger *zap.Logger,
) *StudentSession {
	return &StudentSession{
		profile:      profile,
		engine:       syncengine.NewStudentEngine(store, logger),
		discoverer:   discoverer,
		cache:        cache,
		fileStore:    fileStore,
		events:       make(chan interfaces.EndpointEvent, 64),
		logger:       logger,
		approved:     make(chan protocol.SessionInfo, 1),
		assessments:  make(chan types.Assessment, 1),
		results:      make(chan *types.AssessmentSubmission, 8),
		ended:        make(chan protocol.SessionEndData, 1),
		disconnected: make(chan struct{}),
	}
}

// Discover listens for tutor beacons until ctx or the configured timeout
// expires. The returned channel closes when discovery stops.
func (s *StudentSession) Discover(ctx context.Context) (<-chan transport.Discovered, error) {
	return s.discoverer.Start(ctx)
}

// Approved signals tutor approval and carries the session info that follows.
func (s *StudentSession) Approved() <-chan protocol.SessionInfo { return s.approved }

// Assessments delivers each assessment the tutor starts.
func (s *StudentSession) Assessments() <-chan types.Assessment { return s.assessments }

// Results delivers graded submissions as they arrive.
func (s *StudentSession) Results() <-chan *types.AssessmentSubmission { return s.results }

// Ended signals the tutor closing the session, with the final summary.
func (s *StudentSession) Ended() <-chan protocol.SessionEndData { return s.ended }

// Disconnected closes when the data channel drops for any reason.
func (s *StudentSession) Disconnected() <-chan struct{} { return s.disconnected }

// Join dials the tutor and sends the handshake. Approval arrives
// asynchronously on Approved; a wrong PIN surfaces as a disconnect.
func (s *StudentSession) Join(ctx context.Context, addr, pin string) error {
	conn, err := transport.Dial(ctx, addr, s.logger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		conn.ReadLoop(s.events)
	}()
	go s.dispatch(ctx)

	req, err := protocol.EncodeConnectionRequest(protocol.ConnectionRequest{
		StudentID:   s.profile.StudentID,
		StudentName: s.profile.Name,
		PIN:         pin,
	})
	if err != nil {
		return err
	}
	if err := conn.SendEnvelope(req); err != nil {
		return fmt.Errorf("send join request: %w", err)
	}

	s.logger.Info("join requested", zap.String("addr", addr))
	return nil
}

func (s *StudentSession) dispatch(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			switch ev.Kind {
			case interfaces.EndpointEnvelope:
				s.handleEnvelope(ctx, ev)
			case interfaces.EndpointFile:
				s.handleFile(ev)
			case interfaces.EndpointDisconnected:
				s.cache.AbandonEndpoint(ev.EndpointID)
				close(s.disconnected)
				s.logger.Info("disconnected from tutor")
				return
			}
		}
	}
}

func (s *StudentSession) handleEnvelope(ctx context.Context, ev interfaces.EndpointEvent) {
	msg, err := protocol.Decode(ev.Payload)
	if err != nil {
		s.logger.Warn("dropping malformed envelope", zap.Error(err))
		return
	}

	switch msg.Kind {
	case protocol.KindConnectionApproved:
		s.logger.Info("join approved")

	case protocol.KindSessionInfo:
		s.mu.Lock()
		s.info = msg.SessionInfo
		s.mu.Unlock()
		select {
		case s.approved <- *msg.SessionInfo:
		default:
		}

	case protocol.KindStartAssessment:
		s.adoptAssessment(msg.StartAssessment)

	case protocol.KindAssessmentResult:
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		merged, err := s.engine.ApplyResult(ctx, conn, msg.AssessmentResult)
		if err != nil {
			s.logger.Error("applying graded result failed", zap.Error(err))
			return
		}
		select {
		case s.results <- merged:
		default:
			s.logger.Warn("result queue full, dropping notification",
				zap.String("submission_id", merged.SubmissionID))
		}

	case protocol.KindSessionEnd:
		select {
		case s.ended <- *msg.SessionEnd:
		default:
		}

	case protocol.KindUnknown:
		s.logger.Debug("dropping unknown message type")
	default:
		s.logger.Debug("dropping unexpected message", zap.Stringer("kind", msg.Kind))
	}
}

func (s *StudentSession) adoptAssessment(assessment *types.Assessment) {
	if err := assessment.Validate(); err != nil {
		s.logger.Warn("dropping invalid assessment", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.assessment = assessment
	s.mu.Unlock()

	// Question images may have raced ahead of the assessment itself.
	for _, pending := range s.cache.TakeQuestionFilesForSession(assessment.SessionID) {
		s.saveQuestionFile(pending.Header, pending.Payload)
	}

	select {
	case s.assessments <- *assessment:
	default:
		s.logger.Warn("assessment queue full, dropping notification")
	}
	s.logger.Info("assessment received",
		zap.String("assessment_id", assessment.ID),
		zap.Int("questions", len(assessment.Questions)))
}

func (s *StudentSession) handleFile(ev interfaces.EndpointEvent) {
	header, payload, err := protocol.DecodeFile(ev.Payload)
	if err != nil {
		s.logger.Warn("dropping malformed file frame", zap.Error(err))
		return
	}
	if header.ForStudentAnswer() {
		s.logger.Debug("dropping answer file on student side")
		return
	}

	s.mu.Lock()
	assessment := s.assessment
	s.mu.Unlock()
	if assessment == nil || assessment.SessionID != header.SessionID {
		// Image arrived before the assessment; park it.
		s.cache.PutQuestionFile(ev.EndpointID, header, payload)
		return
	}
	s.saveQuestionFile(header, payload)
}

func (s *StudentSession) saveQuestionFile(header protocol.FileHeader, payload []byte) {
	name := s.questionImageName(header.QuestionID)
	if _, err := s.fileStore.SaveQuestionImage(name, payload); err != nil {
		s.logger.Error("question image save failed",
			zap.String("question_id", header.QuestionID), zap.Error(err))
	}
}

// questionImageName resolves the on-disk name for a question image,
// preferring the filename the assessment declares.
func (s *StudentSession) questionImageName(questionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assessment != nil {
		if question, ok := questionByID(s.assessment, questionID); ok && question.ImageFilename != "" {
			return question.ImageFilename
		}
	}
	return questionID + ".jpg"
}

// Submit persists and transmits the student's answers. Image answers are
// provided as raw bytes keyed by question ID.
func (s *StudentSession) Submit(ctx context.Context, submission *types.AssessmentSubmission, images map[string][]byte) error {
	s.mu.Lock()
	conn := s.conn
	info := s.info
	s.mu.Unlock()
	if conn == nil {
		return ErrNotJoined
	}

	if submission.SessionID == "" && info != nil {
		submission.SessionID = info.SessionID
	}
	submission.StudentID = s.profile.StudentID
	submission.StudentName = s.profile.Name

	return s.engine.Submit(ctx, conn, submission, images)
}

// Assessment returns the current assessment, or ErrNoAssessment.
func (s *StudentSession) Assessment() (*types.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assessment == nil {
		return nil, ErrNoAssessment
	}
	clone := *s.assessment
	return &clone, nil
}

// Close drops the connection and waits for the dispatcher to drain.
func (s *StudentSession) Close() error {
	s.discoverer.Stop()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}
