package files

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	answersDir   = "assessment_files"
	questionsDir = "question_images"
)

// Store lays out received images on disk. Answer images are keyed by
// session, submission and question so a re-sent file lands on the same
// path and overwrites rather than duplicating.
type Store struct {
	root   string
	logger *zap.Logger
}

func NewStore(root string, logger *zap.Logger) (*Store, error) {
	if root == "" {
		return nil, ErrEmptyRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create file store root: %w", err)
	}
	return &Store{root: root, logger: logger}, nil
}

// AnswerPath is the canonical location of a student answer image.
func (s *Store) AnswerPath(sessionID, submissionID, questionID string) string {
	name := fmt.Sprintf("%s_%s.jpg", submissionID, questionID)
	return filepath.Join(s.root, answersDir, sessionID, name)
}

// QuestionPath is the canonical location of a question illustration.
func (s *Store) QuestionPath(filename string) string {
	return filepath.Join(s.root, questionsDir, filepath.Base(filename))
}

// SaveAnswer persists a received answer image and returns its path.
// Idempotent: the same identifiers always map to the same path.
func (s *Store) SaveAnswer(sessionID, submissionID, questionID string, data []byte) (string, error) {
	path := s.AnswerPath(sessionID, submissionID, questionID)
	if err := s.writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("save answer image: %w", err)
	}
	s.logger.Debug("answer image stored",
		zap.String("session_id", sessionID),
		zap.String("submission_id", submissionID),
		zap.String("question_id", questionID),
		zap.Int("bytes", len(data)))
	return path, nil
}

// SaveQuestionImage persists a question illustration under its original
// filename, ignoring any directory components a sender might include.
func (s *Store) SaveQuestionImage(filename string, data []byte) (string, error) {
	base := filepath.Base(filename)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrBadFilename, filename)
	}
	path := s.QuestionPath(base)
	if err := s.writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("save question image: %w", err)
	}
	return path, nil
}

// ReadAnswer loads a stored answer image for grading.
func (s *Store) ReadAnswer(sessionID, submissionID, questionID string) ([]byte, error) {
	data, err := os.ReadFile(s.AnswerPath(sessionID, submissionID, questionID))
	if err != nil {
		return nil, fmt.Errorf("read answer image: %w", err)
	}
	return data, nil
}

// ReadQuestionImage loads a stored question illustration for sending.
func (s *Store) ReadQuestionImage(filename string) ([]byte, error) {
	data, err := os.ReadFile(s.QuestionPath(filename))
	if err != nil {
		return nil, fmt.Errorf("read question image: %w", err)
	}
	return data, nil
}

// RemoveSession deletes all answer images for one session.
func (s *Store) RemoveSession(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(s.root, answersDir, sessionID))
}

// writeAtomic writes via a temp file in the target directory and renames
// into place, so readers never observe a partial image.
func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
