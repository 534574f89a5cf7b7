package reassembly

import (
	"sync"

	"go.uber.org/zap"

	"peerclass/internal/protocol"
)

// Files and the metadata describing them may arrive in either order. Every
// transfer is a self-describing framed file: the header travels inside the
// blob, but the record it targets (submission, active assessment) may not
// exist locally yet, so the file is parked keyed by its correlation fields
// and re-checked when the target appears.

// AnswerKey correlates a student answer image with its submission record.
type AnswerKey struct {
	SubmissionID string
	QuestionID   string
}

// QuestionKey correlates a tutor question image with the active assessment.
type QuestionKey struct {
	SessionID  string
	QuestionID string
}

// PendingFile is a parked file waiting for its target record.
type PendingFile struct {
	Header     protocol.FileHeader
	Payload    []byte
	EndpointID string
}

// Cache holds in-flight correlation state. Entries are single-owner: every
// Take removes atomically on first match so a file is never processed twice.
// Entries never accumulate unboundedly; session teardown clears everything
// for that session and endpoint disconnects abandon that endpoint's files.
type Cache struct {
	mu            sync.Mutex
	logger        *zap.Logger
	answerFiles   map[AnswerKey]PendingFile
	questionFiles map[QuestionKey]PendingFile
}

// NewCache creates an empty cache.
func NewCache(logger *zap.Logger) *Cache {
	return &Cache{
		logger:        logger,
		answerFiles:   make(map[AnswerKey]PendingFile),
		questionFiles: make(map[QuestionKey]PendingFile),
	}
}

// PutAnswerFile parks a student answer image whose submission record has not
// arrived yet. A second put for the same key replaces the first; the payload
// is identical by construction (same submission, same question).
func (c *Cache) PutAnswerFile(endpointID string, header protocol.FileHeader, payload []byte) {
	key := AnswerKey{SubmissionID: header.SubmissionID, QuestionID: header.QuestionID}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answerFiles[key] = PendingFile{Header: header, Payload: payload, EndpointID: endpointID}
	c.logger.Debug("parked answer file",
		zap.String("submission_id", header.SubmissionID),
		zap.String("question_id", header.QuestionID))
}

// TakeAnswerFile consumes a parked answer image once its submission record
// exists. Removed on first match.
func (c *Cache) TakeAnswerFile(key AnswerKey) (PendingFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	file, ok := c.answerFiles[key]
	if ok {
		delete(c.answerFiles, key)
	}
	return file, ok
}

// TakeAnswerFilesForSubmission consumes every parked answer image belonging
// to one submission. Used when the submission metadata arrives after its
// files.
func (c *Cache) TakeAnswerFilesForSubmission(submissionID string) []PendingFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	var files []PendingFile
	for key, file := range c.answerFiles {
		if key.SubmissionID == submissionID {
			files = append(files, file)
			delete(c.answerFiles, key)
		}
	}
	return files
}

// PutQuestionFile parks a tutor question image that arrived before the
// assessment it belongs to.
func (c *Cache) PutQuestionFile(endpointID string, header protocol.FileHeader, payload []byte) {
	key := QuestionKey{SessionID: header.SessionID, QuestionID: header.QuestionID}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.questionFiles[key] = PendingFile{Header: header, Payload: payload, EndpointID: endpointID}
	c.logger.Debug("parked question file",
		zap.String("session_id", header.SessionID),
		zap.String("question_id", header.QuestionID))
}

// TakeQuestionFile consumes a parked question image. Removed on first match.
func (c *Cache) TakeQuestionFile(key QuestionKey) (PendingFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	file, ok := c.questionFiles[key]
	if ok {
		delete(c.questionFiles, key)
	}
	return file, ok
}

// TakeQuestionFilesForSession consumes every parked question image for a
// session. Used when the assessment arrives after its images.
func (c *Cache) TakeQuestionFilesForSession(sessionID string) []PendingFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	var files []PendingFile
	for key, file := range c.questionFiles {
		if key.SessionID == sessionID {
			files = append(files, file)
			delete(c.questionFiles, key)
		}
	}
	return files
}

// AbandonEndpoint drops every parked file received from one endpoint. Called
// on disconnect: half-delivered transfers are abandoned, not retried.
func (c *Cache) AbandonEndpoint(endpointID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for key, file := range c.answerFiles {
		if file.EndpointID == endpointID {
			delete(c.answerFiles, key)
			dropped++
		}
	}
	for key, file := range c.questionFiles {
		if file.EndpointID == endpointID {
			delete(c.questionFiles, key)
			dropped++
		}
	}
	if dropped > 0 {
		c.logger.Debug("abandoned in-flight files for endpoint",
			zap.String("endpoint_id", endpointID),
			zap.Int("dropped", dropped))
	}
}

// ClearSession drops every entry tied to a session. Called at session end so
// files whose target never materialized are discarded.
func (c *Cache) ClearSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, file := range c.answerFiles {
		if file.Header.SessionID == sessionID {
			delete(c.answerFiles, key)
		}
	}
	for key := range c.questionFiles {
		if key.SessionID == sessionID {
			delete(c.questionFiles, key)
		}
	}
}

// Len returns the number of parked entries across both maps.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.answerFiles) + len(c.questionFiles)
}
