package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/domain/repository"
)

// Dispatcher is the boundary to the judge fleet.
type Dispatcher interface {
	Dispatch(ctx context.Context, submissionID, priority string) error
	RequestAbort(ctx context.Context, submissionID string) error
}

type SubmissionService struct {
	submissionRepo repository.SubmissionRepository
	problemRepo    repository.ProblemRepository
	contestRepo    repository.ContestRepository
	grading        *GradingService
	dispatcher     Dispatcher
	log            *zap.SugaredLogger
	now            func() time.Time
}

func NewSubmissionService(
	subRepo repository.SubmissionRepository,
	probRepo repository.ProblemRepository,
	contestRepo repository.ContestRepository,
	grading *GradingService,
	dispatcher Dispatcher,
	log *zap.SugaredLogger,
) *SubmissionService {
	return &SubmissionService{
		submissionRepo: subRepo,
		problemRepo:    probRepo,
		contestRepo:    contestRepo,
		grading:        grading,
		dispatcher:     dispatcher,
		log:            log,
		now:            time.Now,
	}
}

type CreateSubmissionRequest struct {
	ProblemID  string `json:"problem_id" validate:"required"`
	LanguageID string `json:"language_id" validate:"required"`
	Source     string `json:"source" validate:"required,max=65536"`
	ContestID  string `json:"contest_id,omitempty"`
}

type SubmissionDetails struct {
	*model.Submission
	StatusText string                     `json:"status_text"`
	Cases      []model.SubmissionTestCase `json:"cases"`
}

func (s *SubmissionService) CreateSubmission(ctx context.Context, userID string, req CreateSubmissionRequest) (*model.Submission, error) {
	problem, err := s.problemRepo.FindProblemByID(ctx, req.ProblemID)
	if err != nil {
		return nil, common.Errorf("problem not found: %w", err)
	}

	language, err := s.problemRepo.GetLanguageByID(ctx, req.LanguageID)
	if err != nil || !language.IsActive {
		return nil, common.Errorf("language not found or inactive: %w", common.ErrBadRequest)
	}

	now := s.now()
	submission := &model.Submission{
		ID:          uuid.NewString(),
		UserID:      userID,
		ProblemID:   problem.ID,
		LanguageID:  language.ID,
		Source:      req.Source,
		Status:      model.StatusQueued,
		SubmittedAt: now,
	}

	if req.ContestID != "" {
		participationID, err := s.contestParticipation(ctx, req.ContestID, userID, problem.ID, now)
		if err != nil {
			return nil, err
		}
		submission.ParticipationID = &participationID
	}

	if err := s.submissionRepo.CreateSubmission(ctx, submission); err != nil {
		return nil, common.Errorf("failed to create submission: %w", err)
	}

	if err := s.dispatcher.Dispatch(ctx, submission.ID, model.PriorityHigh); err != nil {
		s.log.Errorw("dispatch failed", "submission_id", submission.ID, "error", err)
		if _, ferr := s.grading.ReportFinal(ctx, submission.ID, "", FinalReport{Status: model.StatusInternalError}); ferr != nil {
			s.log.Errorw("failed to mark undispatched submission", "submission_id", submission.ID, "error", ferr)
		}
		return nil, fmt.Errorf("judge queue unavailable: %w", common.ErrServiceUnavailable)
	}

	s.log.Infow("submission created", "submission_id", submission.ID, "problem", problem.Code, "user_id", userID)
	return submission, nil
}

// contestParticipation links a submission to the user's participation when the
// contest is running and contains the problem.
func (s *SubmissionService) contestParticipation(ctx context.Context, contestID, userID, problemID string, at time.Time) (string, error) {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return "", common.Errorf("contest not found: %w", err)
	}
	if !contest.InWindow(at) {
		return "", common.Errorf("contest %s is not running: %w", contest.Key, common.ErrForbidden)
	}

	participation, err := s.contestRepo.FindParticipation(ctx, contest.ID, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", common.Errorf("join contest %s first: %w", contest.Key, common.ErrForbidden)
		}
		return "", common.Errorf("failed to load participation: %w", err)
	}

	problems, err := s.contestRepo.ListContestProblems(ctx, contest.ID)
	if err != nil {
		return "", common.Errorf("failed to load contest problems: %w", err)
	}
	if !slices.ContainsFunc(problems, func(cp model.ContestProblem) bool { return cp.ProblemID == problemID }) {
		return "", common.Errorf("problem is not part of contest %s: %w", contest.Key, common.ErrBadRequest)
	}
	return participation.ID, nil
}

func (s *SubmissionService) GetSubmission(ctx context.Context, id string) (*SubmissionDetails, error) {
	sub, err := s.submissionRepo.GetSubmissionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cases, err := s.submissionRepo.GetSubmissionTestCases(ctx, id)
	if err != nil {
		return nil, common.Errorf("failed to load test cases: %w", err)
	}
	return &SubmissionDetails{Submission: sub, StatusText: sub.LongStatus(), Cases: cases}, nil
}

// AbortSubmission stops grading. Only the author or an admin may abort. Aborting
// a graded submission changes nothing.
func (s *SubmissionService) AbortSubmission(ctx context.Context, userID, role, id string) (*model.Submission, error) {
	current, err := s.submissionRepo.GetSubmissionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.UserID != userID && role != model.RoleAdmin {
		return nil, common.ErrForbidden
	}

	sub, aborted, err := s.grading.Abort(ctx, id)
	if err != nil {
		return nil, common.Errorf("failed to abort submission: %w", err)
	}
	if aborted {
		// the judge may still finish; its terminal report then wins
		if err := s.dispatcher.RequestAbort(ctx, id); err != nil {
			s.log.Warnw("abort request not delivered", "submission_id", id, "error", err)
		}
	}
	return sub, nil
}

func (s *SubmissionService) RejudgeSubmission(ctx context.Context, id string) (*model.Submission, error) {
	sub, err := s.grading.Rejudge(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.dispatcher.Dispatch(ctx, id, model.PriorityLow); err != nil {
		return nil, fmt.Errorf("rejudge of %s not queued: %w", id, common.ErrServiceUnavailable)
	}
	return sub, nil
}

// RejudgeProblem requeues every graded submission of a problem and returns how
// many were requeued. Submissions still being judged are left alone.
func (s *SubmissionService) RejudgeProblem(ctx context.Context, problemID string) (int, error) {
	if _, err := s.problemRepo.FindProblemByID(ctx, problemID); err != nil {
		return 0, err
	}
	ids, err := s.submissionRepo.ListSubmissionIDsByProblem(ctx, problemID)
	if err != nil {
		return 0, common.Errorf("failed to list submissions: %w", err)
	}

	count := 0
	for _, id := range ids {
		if _, err := s.RejudgeSubmission(ctx, id); err != nil {
			if errors.Is(err, common.ErrInvalidTransition) {
				continue
			}
			return count, err
		}
		count++
	}
	s.log.Infow("problem rejudged", "problem_id", problemID, "submissions", count)
	return count, nil
}

// UserTotalPoints sums the user's best points over every problem.
func (s *SubmissionService) UserTotalPoints(ctx context.Context, userID string) (float64, error) {
	return s.submissionRepo.UserTotalPoints(ctx, userID)
}
