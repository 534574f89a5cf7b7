package session

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"peerclass/internal/files"
	"peerclass/internal/inference"
	"peerclass/internal/protocol"
	"peerclass/internal/reassembly"
	"peerclass/internal/syncengine"
	"peerclass/internal/transport"
	"peerclass/pkg/interfaces"
	"peerclass/pkg/types"
)

// Grader runs one grading task. Satisfied by the inference orchestrator.
type Grader interface {
	Grade(ctx context.Context, task inference.Task, onHealth inference.HealthFunc) (types.GradeResult, error)
}

// TutorSession coordinates one advertising period on the tutor device:
// discovery beacons, join handshakes, assessment distribution, submission
// intake and feedback delivery. Transport events are consumed by a single
// dispatcher goroutine; shared state is guarded by one mutex because accept
// and assessment calls arrive from other goroutines.
type TutorSession struct {
	class   types.ClassProfile
	tutorID string

	store      interfaces.Store
	listener   *transport.Listener
	advertiser *transport.Advertiser
	cache      *reassembly.Cache
	fileStore  *files.Store
	grader     Grader
	engine     *syncengine.TutorEngine
	events     chan interfaces.EndpointEvent
	logger     *zap.Logger

	attempts chan types.ConnectionAttempt

	// resendEvery paces the sweep that re-sends feedback still short of
	// Delivered, covering acks lost while the student stays connected.
	resendEvery time.Duration

	mu              sync.Mutex
	session         *types.Session
	assessment      *types.Assessment
	endpoints       map[string]interfaces.Endpoint      // endpointID -> endpoint
	pending         map[string]*types.ConnectionAttempt // endpointID -> handshake
	students        map[string]string                   // studentID -> endpointID
	endpointStudent map[string]string                   // endpointID -> studentID

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// NewTutorSession wires a tutor coordinator. The listener must share the
// given event channel.
func NewTutorSession(
	class types.ClassProfile,
	tutorID string,
	store interfaces.Store,
	listener *transport.Listener,
	advertiser *transport.Advertiser,
	cache *reassembly.Cache,
	fileStore *files.Store,
	grader Grader,
	events chan interfaces.EndpointEvent,
	logger *zap.Logger,
) *TutorSession {
	s := &TutorSession{
		class:           class,
		tutorID:         tutorID,
		store:           store,
		listener:        listener,
		advertiser:      advertiser,
		cache:           cache,
		fileStore:       fileStore,
		grader:          grader,
		events:          events,
		logger:          logger,
		attempts:        make(chan types.ConnectionAttempt, 16),
		resendEvery:     15 * time.Second,
		endpoints:       make(map[string]interfaces.Endpoint),
		pending:         make(map[string]*types.ConnectionAttempt),
		students:        make(map[string]string),
		endpointStudent: make(map[string]string),
		done:            make(chan struct{}),
	}
	s.engine = syncengine.NewTutorEngine(store, s, s.snapshot, logger)
	return s
}

// Attempts delivers handshakes awaiting the tutor's accept/reject decision.
func (s *TutorSession) Attempts() <-chan types.ConnectionAttempt {
	return s.attempts
}

// Session returns the current session record, or nil before Start.
func (s *TutorSession) Session() *types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	clone := *s.session
	return &clone
}

// Start creates the session record, opens the transport and begins
// advertising. A listener or advertiser failure is returned and nothing is
// left running.
func (s *TutorSession) Start(ctx context.Context) error {
	session := &types.Session{
		ID:        uuid.New().String(),
		ClassID:   s.class.ID,
		TutorID:   s.tutorID,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
	s.engine.SetActiveSession(session.ID)

	if err := s.listener.Start(); err != nil {
		return err
	}
	desc := transport.Descriptor{
		DisplayName:     s.class.Name,
		ProtocolVersion: transport.ProtocolVersion,
		Port:            s.listener.Port(),
	}
	if err := s.advertiser.Start(desc); err != nil {
		_ = s.listener.Stop(ctx)
		return err
	}

	s.wg.Add(1)
	go s.dispatch(ctx)

	s.logger.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("class_id", s.class.ID))
	return nil
}

// dispatch is the single consumer of transport events. A ticker drives the
// periodic feedback re-send sweep alongside them.
func (s *TutorSession) dispatch(ctx context.Context) {
	defer s.wg.Done()
	resend := time.NewTicker(s.resendEvery)
	defer resend.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-resend.C:
			if err := s.engine.FlushAll(ctx); err != nil {
				s.logger.Warn("feedback re-send sweep failed", zap.Error(err))
			}
		case ev := <-s.events:
			switch ev.Kind {
			case interfaces.EndpointConnected:
				s.mu.Lock()
				s.endpoints[ev.EndpointID] = ev.Endpoint
				s.mu.Unlock()
				s.logger.Debug("endpoint connected", zap.String("endpoint_id", ev.EndpointID))
			case interfaces.EndpointEnvelope:
				s.handleEnvelope(ctx, ev)
			case interfaces.EndpointFile:
				s.handleFile(ctx, ev)
			case interfaces.EndpointDisconnected:
				s.handleDisconnect(ev.EndpointID)
			}
		}
	}
}

func (s *TutorSession) handleEnvelope(ctx context.Context, ev interfaces.EndpointEvent) {
	msg, err := protocol.Decode(ev.Payload)
	if err != nil {
		s.logger.Warn("dropping malformed envelope",
			zap.String("endpoint_id", ev.EndpointID), zap.Error(err))
		return
	}

	switch msg.Kind {
	case protocol.KindConnectionRequest:
		s.handleConnectionRequest(ctx, ev, msg.ConnectionRequest)
	case protocol.KindSubmissionMetadata:
		s.handleSubmission(ctx, ev.EndpointID, msg.Submission)
	case protocol.KindFeedbackAck:
		if err := s.engine.HandleAck(ctx, msg.FeedbackAck.SubmissionID); err != nil {
			s.logger.Warn("ack handling failed", zap.Error(err))
		}
	case protocol.KindUnknown:
		s.logger.Debug("dropping unknown message type", zap.String("endpoint_id", ev.EndpointID))
	default:
		// Tutor-bound channel; anything else is a confused peer.
		s.logger.Debug("dropping unexpected message",
			zap.String("endpoint_id", ev.EndpointID),
			zap.Stringer("kind", msg.Kind))
	}
}

// handleConnectionRequest applies the verification decision table. A student
// already on the roster is held for approval regardless of PIN. A correct
// PIN from a new student is held for approval too. A wrong PIN from a new
// student is rejected and disconnected immediately, with nothing stored.
func (s *TutorSession) handleConnectionRequest(ctx context.Context, ev interfaces.EndpointEvent, req *protocol.ConnectionRequest) {
	if !types.IsValidID(req.StudentID) || req.StudentName == "" {
		s.logger.Warn("rejecting malformed handshake", zap.String("endpoint_id", ev.EndpointID))
		_ = ev.Endpoint.Close()
		return
	}

	onRoster, err := s.store.OnRoster(ctx, s.class.ID, req.StudentID)
	if err != nil {
		s.logger.Error("roster lookup failed", zap.Error(err))
		_ = ev.Endpoint.Close()
		return
	}

	attempt := types.ConnectionAttempt{
		EndpointID:  ev.EndpointID,
		StudentID:   req.StudentID,
		StudentName: req.StudentName,
		PIN:         req.PIN,
	}
	switch {
	case onRoster:
		attempt.State = types.VerificationPendingApproval
	case pinMatches(req.PIN, s.class.PIN):
		attempt.State = types.VerificationPinVerifiedPendingApproval
	default:
		s.logger.Info("rejecting join with wrong pin",
			zap.String("student_id", req.StudentID))
		_ = ev.Endpoint.Close()
		return
	}

	s.mu.Lock()
	s.pending[ev.EndpointID] = &attempt
	s.mu.Unlock()

	select {
	case s.attempts <- attempt:
	default:
		s.logger.Warn("attempt queue full, handshake still pending",
			zap.String("student_id", req.StudentID))
	}
	s.logger.Info("join pending approval",
		zap.String("student_id", req.StudentID),
		zap.Stringer("verification", attempt.State))
}

// pinMatches compares in constant time; the PIN travels on an open channel
// and the comparison must not leak length or prefix information.
func pinMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// AcceptStudent approves a pending handshake: the student joins the roster
// if new, attendance is recorded, CONNECTION_APPROVED then SESSION_INFO go
// out, and any feedback queued from an earlier connection is flushed.
func (s *TutorSession) AcceptStudent(ctx context.Context, endpointID string) error {
	s.mu.Lock()
	attempt := s.pending[endpointID]
	endpoint := s.endpoints[endpointID]
	session := s.session
	s.mu.Unlock()

	if attempt == nil || endpoint == nil {
		return ErrUnknownEndpoint
	}
	if session == nil {
		return ErrNoActiveSession
	}

	if attempt.State == types.VerificationPinVerifiedPendingApproval {
		student := types.StudentProfile{StudentID: attempt.StudentID, Name: attempt.StudentName}
		if err := s.store.AddStudent(ctx, s.class.ID, student); err != nil {
			return fmt.Errorf("add student to roster: %w", err)
		}
	}
	record := types.AttendanceRecord{
		SessionID: session.ID,
		StudentID: attempt.StudentID,
		JoinedAt:  time.Now().UTC(),
	}
	if err := s.store.RecordAttendance(ctx, record); err != nil {
		return fmt.Errorf("record attendance: %w", err)
	}

	approved, err := protocol.EncodeConnectionApproved()
	if err != nil {
		return err
	}
	if err := endpoint.SendEnvelope(approved); err != nil {
		return fmt.Errorf("send approval: %w", err)
	}
	info, err := protocol.EncodeSessionInfo(protocol.SessionInfo{
		SessionID: session.ID,
		TutorName: s.class.TutorName,
		ClassName: s.class.Name,
	})
	if err != nil {
		return err
	}
	if err := endpoint.SendEnvelope(info); err != nil {
		return fmt.Errorf("send session info: %w", err)
	}

	s.mu.Lock()
	delete(s.pending, endpointID)
	s.students[attempt.StudentID] = endpointID
	s.endpointStudent[endpointID] = attempt.StudentID
	s.mu.Unlock()

	s.logger.Info("student connected",
		zap.String("student_id", attempt.StudentID),
		zap.String("endpoint_id", endpointID))

	// A returning student may have feedback waiting from before they left.
	if err := s.engine.FlushPending(ctx, attempt.StudentID); err != nil {
		s.logger.Warn("feedback flush failed", zap.Error(err))
	}
	return nil
}

// RejectStudent declines a pending handshake and disconnects the endpoint.
func (s *TutorSession) RejectStudent(endpointID string) error {
	s.mu.Lock()
	attempt := s.pending[endpointID]
	endpoint := s.endpoints[endpointID]
	delete(s.pending, endpointID)
	s.mu.Unlock()

	if attempt == nil || endpoint == nil {
		return ErrUnknownEndpoint
	}
	s.logger.Info("join rejected by tutor", zap.String("student_id", attempt.StudentID))
	return endpoint.Close()
}

// StartAssessment distributes an assessment to every connected student.
// Marking guides never leave the tutor device; question images follow as
// framed files.
func (s *TutorSession) StartAssessment(ctx context.Context, assessment *types.Assessment) error {
	if err := assessment.Validate(); err != nil {
		return fmt.Errorf("invalid assessment: %w", err)
	}

	s.mu.Lock()
	session := s.session
	if session == nil {
		s.mu.Unlock()
		return ErrNoActiveSession
	}
	assessment.SessionID = session.ID
	s.assessment = assessment
	targets := s.connectedEndpointsLocked()
	s.mu.Unlock()

	student := assessment.StudentCopy()
	data, err := protocol.EncodeStartAssessment(&student)
	if err != nil {
		return err
	}

	var frames [][]byte
	for _, question := range assessment.Questions {
		if question.ImageFilename == "" {
			continue
		}
		image, err := s.fileStore.ReadQuestionImage(question.ImageFilename)
		if err != nil {
			return fmt.Errorf("load question image %s: %w", question.ImageFilename, err)
		}
		frame, err := protocol.EncodeFile(protocol.FileHeader{
			SessionID:  session.ID,
			QuestionID: question.ID,
		}, image)
		if err != nil {
			return err
		}
		frames = append(frames, frame)
	}

	for _, endpoint := range targets {
		if err := endpoint.SendEnvelope(data); err != nil {
			s.logger.Warn("assessment send failed",
				zap.String("endpoint_id", endpoint.ID()), zap.Error(err))
			continue
		}
		for _, frame := range frames {
			if err := endpoint.SendFile(frame); err != nil {
				s.logger.Warn("question image send failed",
					zap.String("endpoint_id", endpoint.ID()), zap.Error(err))
				break
			}
		}
	}

	s.logger.Info("assessment distributed",
		zap.String("assessment_id", assessment.ID),
		zap.Int("questions", len(assessment.Questions)),
		zap.Int("students", len(targets)))
	return nil
}

func (s *TutorSession) connectedEndpointsLocked() []interfaces.Endpoint {
	out := make([]interfaces.Endpoint, 0, len(s.students))
	for _, endpointID := range s.students {
		if endpoint, ok := s.endpoints[endpointID]; ok {
			out = append(out, endpoint)
		}
	}
	return out
}

func (s *TutorSession) handleSubmission(ctx context.Context, endpointID string, submission *types.AssessmentSubmission) {
	s.mu.Lock()
	studentID := s.endpointStudent[endpointID]
	s.mu.Unlock()
	if studentID == "" {
		s.logger.Debug("dropping submission from unapproved endpoint",
			zap.String("endpoint_id", endpointID))
		return
	}

	if err := s.engine.AcceptSubmission(ctx, studentID, submission); err != nil {
		s.logger.Error("submission intake failed", zap.Error(err))
		return
	}

	// The metadata may have raced ahead of its answer images, or trailed
	// them; drain whatever arrived first.
	for _, pending := range s.cache.TakeAnswerFilesForSubmission(submission.SubmissionID) {
		s.saveAnswerFile(pending.Header, pending.Payload)
	}

	if s.grader == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.gradeSubmission(ctx, submission.SubmissionID)
	}()
}

func (s *TutorSession) handleFile(ctx context.Context, ev interfaces.EndpointEvent) {
	header, payload, err := protocol.DecodeFile(ev.Payload)
	if err != nil {
		s.logger.Warn("dropping malformed file frame",
			zap.String("endpoint_id", ev.EndpointID), zap.Error(err))
		return
	}
	if !header.ForStudentAnswer() {
		s.logger.Debug("dropping non-answer file on tutor side")
		return
	}

	if _, err := s.store.GetSubmission(ctx, header.SubmissionID); err != nil {
		// Image arrived before its metadata; park it.
		s.cache.PutAnswerFile(ev.EndpointID, header, payload)
		return
	}
	s.saveAnswerFile(header, payload)
}

func (s *TutorSession) saveAnswerFile(header protocol.FileHeader, payload []byte) {
	if _, err := s.fileStore.SaveAnswer(header.SessionID, header.SubmissionID, header.QuestionID, payload); err != nil {
		s.logger.Error("answer image save failed",
			zap.String("submission_id", header.SubmissionID), zap.Error(err))
	}
}

// gradeSubmission grades every answer of a stored submission and records the
// results. An answer the model cannot grade is skipped; the submission stays
// short of fully graded and is never delivered with invented scores.
func (s *TutorSession) gradeSubmission(ctx context.Context, submissionID string) {
	submission, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return
	}

	s.mu.Lock()
	assessment := s.assessment
	s.mu.Unlock()
	if assessment == nil {
		s.logger.Warn("submission arrived with no assessment in progress",
			zap.String("submission_id", submissionID))
		return
	}

	var results []types.GradeResult
	for _, answer := range submission.Answers {
		if answer.Graded() {
			// Redelivered metadata; the grade already exists.
			continue
		}
		question, ok := questionByID(assessment, answer.QuestionID)
		if !ok {
			s.logger.Warn("answer references unknown question",
				zap.String("question_id", answer.QuestionID))
			continue
		}

		task := inference.Task{Question: question, AnswerText: answer.Text}
		if answer.ImageFilename != "" {
			image, err := s.fileStore.ReadAnswer(submission.SessionID, submissionID, answer.QuestionID)
			if err != nil {
				s.logger.Warn("answer image missing, skipping grade",
					zap.String("question_id", answer.QuestionID), zap.Error(err))
				continue
			}
			task.AnswerImage = image
		}

		result, err := s.grader.Grade(ctx, task, nil)
		if err != nil {
			s.logger.Warn("grading failed",
				zap.String("submission_id", submissionID),
				zap.String("question_id", answer.QuestionID),
				zap.Error(err))
			continue
		}
		results = append(results, result)
	}

	if len(results) == 0 {
		return
	}
	if err := s.engine.RecordGrades(ctx, submissionID, results); err != nil {
		s.logger.Error("recording grades failed",
			zap.String("submission_id", submissionID), zap.Error(err))
	}
}

func questionByID(assessment *types.Assessment, questionID string) (types.Question, bool) {
	for _, question := range assessment.Questions {
		if question.ID == questionID {
			return question, true
		}
	}
	return types.Question{}, false
}

func (s *TutorSession) handleDisconnect(endpointID string) {
	s.mu.Lock()
	delete(s.endpoints, endpointID)
	delete(s.pending, endpointID)
	if studentID, ok := s.endpointStudent[endpointID]; ok {
		delete(s.endpointStudent, endpointID)
		if s.students[studentID] == endpointID {
			delete(s.students, studentID)
		}
		s.logger.Info("student disconnected", zap.String("student_id", studentID))
	}
	s.mu.Unlock()

	s.cache.AbandonEndpoint(endpointID)
}

// EndpointFor reports the live endpoint for an approved student.
func (s *TutorSession) EndpointFor(studentID string) (interfaces.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	endpointID, ok := s.students[studentID]
	if !ok {
		return nil, false
	}
	endpoint, ok := s.endpoints[endpointID]
	return endpoint, ok
}

// ConnectedStudents lists currently approved and connected students.
func (s *TutorSession) ConnectedStudents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.students))
	for studentID := range s.students {
		out = append(out, studentID)
	}
	return out
}

// snapshot builds the session/class/attendance view embedded in result and
// session-end envelopes. The class copy is stripped of the PIN; it must not
// travel to students.
func (s *TutorSession) snapshot(ctx context.Context) (*types.Session, *types.ClassProfile, []types.AttendanceRecord, error) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return nil, nil, nil, ErrNoActiveSession
	}

	current, err := s.store.GetSession(ctx, session.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	attendance, err := s.store.ListAttendance(ctx, session.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	class := s.class
	class.PIN = ""
	return current, &class, attendance, nil
}

// End stops advertising, records the session end, broadcasts the closing
// summary to connected students and tears the transport down.
func (s *TutorSession) End(ctx context.Context) error {
	s.mu.Lock()
	session := s.session
	targets := s.connectedEndpointsLocked()
	s.mu.Unlock()
	if session == nil {
		return ErrNoActiveSession
	}

	s.advertiser.Stop()

	if err := s.store.EndSession(ctx, session.ID); err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	current, class, attendance, err := s.snapshot(ctx)
	if err == nil {
		data, encErr := protocol.EncodeSessionEnd(protocol.SessionEndData{
			Session:    current,
			Class:      class,
			Attendance: attendance,
		})
		if encErr == nil {
			for _, endpoint := range targets {
				if sendErr := endpoint.SendEnvelope(data); sendErr != nil {
					s.logger.Debug("session end send failed",
						zap.String("endpoint_id", endpoint.ID()))
				}
			}
		}
	}

	s.cache.ClearSession(session.ID)
	s.doneOnce.Do(func() { close(s.done) })

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.listener.Stop(stopCtx); err != nil {
		s.logger.Warn("listener stop failed", zap.Error(err))
	}
	s.wg.Wait()

	// Grading is done; the answer images have served their purpose.
	if err := s.fileStore.RemoveSession(session.ID); err != nil {
		s.logger.Warn("answer image cleanup failed", zap.Error(err))
	}

	s.logger.Info("session ended", zap.String("session_id", session.ID))
	return nil
}
