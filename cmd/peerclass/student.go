package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peerclass/internal/app"
	"peerclass/internal/session"
	"peerclass/pkg/types"
)

func newStudentCommand() *cobra.Command {
	var (
		studentID   string
		studentName string
		pin         string
		tutorAddr   string
		answersPath string
	)

	cmd := &cobra.Command{
		Use:   "student",
		Short: "Discover a session, join with a PIN and submit answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var answers map[string]string
			if answersPath != "" {
				answers, err = loadAnswers(answersPath)
				if err != nil {
					return err
				}
			}

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			profile := types.StudentProfile{StudentID: studentID, Name: studentName}
			student := application.NewStudentSession(profile)
			defer func() { _ = student.Close() }()

			addr := tutorAddr
			if addr == "" {
				addr, err = discoverTutor(ctx, student, logger)
				if err != nil {
					return err
				}
			}

			if err := student.Join(ctx, addr, pin); err != nil {
				return err
			}
			return runStudent(ctx, student, answers, logger)
		},
	}

	cmd.Flags().StringVar(&studentID, "student-id", "", "student identifier")
	cmd.Flags().StringVar(&studentName, "name", "", "student display name")
	cmd.Flags().StringVar(&pin, "pin", "", "class join PIN")
	cmd.Flags().StringVar(&tutorAddr, "tutor-addr", "", "skip discovery and dial host:port directly")
	cmd.Flags().StringVar(&answersPath, "answers", "", "path to a JSON file of questionId to answer text")
	_ = cmd.MarkFlagRequired("student-id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("pin")
	return cmd
}

// discoverTutor listens for beacons and picks the first joinable tutor.
func discoverTutor(ctx context.Context, student *session.StudentSession, logger *zap.Logger) (string, error) {
	found, err := student.Discover(ctx)
	if err != nil {
		return "", err
	}
	for discovered := range found {
		addr := discovered.DialAddr()
		if addr == "" {
			logger.Info("ignoring legacy beacon without a port",
				zap.String("display_name", discovered.DisplayName))
			continue
		}
		logger.Info("tutor discovered",
			zap.String("display_name", discovered.DisplayName),
			zap.String("addr", addr))
		return addr, nil
	}
	return "", fmt.Errorf("no tutor discovered before the timeout")
}

// runStudent drives the session: wait for approval, submit prepared answers
// when the assessment arrives, then wait for graded feedback.
func runStudent(ctx context.Context, student *session.StudentSession, answers map[string]string, logger *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-student.Disconnected():
			return fmt.Errorf("connection lost; the tutor may have rejected the join")
		case info := <-student.Approved():
			logger.Info("joined session",
				zap.String("class", info.ClassName),
				zap.String("tutor", info.TutorName))
		case assessment := <-student.Assessments():
			for _, question := range assessment.Questions {
				fmt.Printf("Q %s: %s (max %.1f)\n", question.ID, question.Text, question.MaxScore)
			}
			if answers == nil {
				logger.Info("no answers file given, waiting")
				continue
			}
			submission := buildSubmission(&assessment, answers)
			if err := student.Submit(ctx, submission, nil); err != nil {
				logger.Error("submit failed", zap.Error(err))
				continue
			}
			logger.Info("answers submitted", zap.String("submission_id", submission.SubmissionID))
		case result := <-student.Results():
			for _, answer := range result.Answers {
				if answer.Score == nil {
					continue
				}
				fmt.Printf("Q %s: %.1f  %s\n", answer.QuestionID, *answer.Score, answer.Feedback)
			}
			fmt.Printf("total: %.1f\n", result.TotalScore())
		case end := <-student.Ended():
			logger.Info("session ended by tutor", zap.String("class", end.Class.Name))
			return nil
		}
	}
}

func buildSubmission(assessment *types.Assessment, answers map[string]string) *types.AssessmentSubmission {
	submission := &types.AssessmentSubmission{
		SubmissionID: uuid.New().String(),
		SessionID:    assessment.SessionID,
		AssessmentID: assessment.ID,
		SubmittedAt:  time.Now().UTC(),
	}
	for _, question := range assessment.Questions {
		submission.Answers = append(submission.Answers, types.Answer{
			QuestionID: question.ID,
			Text:       answers[question.ID],
		})
	}
	return submission
}

func loadAnswers(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	answers := make(map[string]string)
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("parse answers %s: %w", path, err)
	}
	return answers, nil
}
