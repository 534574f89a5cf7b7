package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"peerclass/internal/app"
	"peerclass/pkg/types"
)

func newTutorCommand() *cobra.Command {
	var (
		classID        string
		className      string
		tutorID        string
		tutorName      string
		pin            string
		assessmentPath string
		startDelay     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "tutor",
		Short: "Advertise a session, accept students and grade submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !types.IsValidPIN(pin) {
				return types.ErrInvalidPIN
			}
			logger, err := buildLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var assessment *types.Assessment
			if assessmentPath != "" {
				assessment, err = loadAssessment(assessmentPath)
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

			class := types.ClassProfile{ID: classID, Name: className, TutorName: tutorName, PIN: pin}
			tutor, err := application.NewTutorSession(ctx, class, tutorID)
			if err != nil {
				return err
			}
			if err := tutor.Start(ctx); err != nil {
				return err
			}

			group, groupCtx := errgroup.WithContext(ctx)

			// Every verified handshake is accepted; the PIN and roster check
			// already ran. A teaching UI would put a prompt here instead.
			group.Go(func() error {
				for {
					select {
					case <-groupCtx.Done():
						return nil
					case attempt := <-tutor.Attempts():
						logger.Info("accepting student",
							zap.String("student_id", attempt.StudentID),
							zap.String("name", attempt.StudentName),
							zap.Stringer("verification", attempt.State))
						if err := tutor.AcceptStudent(groupCtx, attempt.EndpointID); err != nil {
							logger.Warn("accept failed", zap.Error(err))
						}
					}
				}
			})

			if assessment != nil {
				group.Go(func() error {
					select {
					case <-groupCtx.Done():
						return nil
					case <-time.After(startDelay):
						return tutor.StartAssessment(groupCtx, assessment)
					}
				})
			}

			<-groupCtx.Done()
			endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := tutor.End(endCtx); err != nil {
				logger.Warn("session end failed", zap.Error(err))
			}
			return group.Wait()
		},
	}

	cmd.Flags().StringVar(&classID, "class-id", "", "class identifier")
	cmd.Flags().StringVar(&className, "class-name", "", "class display name shown in discovery")
	cmd.Flags().StringVar(&tutorID, "tutor-id", "", "tutor identifier")
	cmd.Flags().StringVar(&tutorName, "tutor-name", "", "tutor display name")
	cmd.Flags().StringVar(&pin, "pin", "", "join PIN (4-8 digits)")
	cmd.Flags().StringVar(&assessmentPath, "assessment", "", "path to an assessment JSON file to distribute")
	cmd.Flags().DurationVar(&startDelay, "start-delay", 30*time.Second, "delay before the assessment is distributed")
	_ = cmd.MarkFlagRequired("class-id")
	_ = cmd.MarkFlagRequired("class-name")
	_ = cmd.MarkFlagRequired("tutor-id")
	_ = cmd.MarkFlagRequired("pin")
	return cmd
}

func loadAssessment(path string) (*types.Assessment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assessment: %w", err)
	}
	var assessment types.Assessment
	if err := json.Unmarshal(data, &assessment); err != nil {
		return nil, fmt.Errorf("parse assessment %s: %w", path, err)
	}
	if err := assessment.Validate(); err != nil {
		return nil, fmt.Errorf("invalid assessment %s: %w", path, err)
	}
	return &assessment, nil
}
