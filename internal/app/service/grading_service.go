package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tle_zone_judge/internal/app/grading"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/domain/repository"
	"tle_zone_judge/internal/platform/metrics"
)

// Rescheduler queues a participation for recomputation.
type Rescheduler interface {
	Schedule(participationID string)
}

// Alerter notifies operators of judging infrastructure failures.
type Alerter interface {
	Alert(ctx context.Context, msg string, keysAndValues ...interface{}) bool
}

// GradingService applies judge reports to submissions. Every report runs under
// the submission's row lock.
type GradingService struct {
	submissionRepo repository.SubmissionRepository
	problemRepo    repository.ProblemRepository
	recompute      Rescheduler
	alerts         Alerter
	log            *zap.SugaredLogger
	now            func() time.Time
}

func NewGradingService(
	subRepo repository.SubmissionRepository,
	probRepo repository.ProblemRepository,
	recompute Rescheduler,
	alerts Alerter,
	log *zap.SugaredLogger,
) *GradingService {
	return &GradingService{
		submissionRepo: subRepo,
		problemRepo:    probRepo,
		recompute:      recompute,
		alerts:         alerts,
		log:            log,
		now:            time.Now,
	}
}

// CompilationReport is sent once the judge has compiled the source.
type CompilationReport struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty" validate:"max=65536"`
}

// CaseReport carries the outcome of one test case.
type CaseReport struct {
	Case   int          `json:"case" validate:"required,min=1"`
	Result model.Result `json:"result" validate:"required,oneof=AC WA TLE MLE IR RTE"`
	Time   float64      `json:"time" validate:"min=0"`
	Memory float64      `json:"memory" validate:"min=0"`
	Points float64      `json:"points" validate:"min=0,ltefield=Total"`
	Total  float64      `json:"total" validate:"min=0"`
}

// FinalReport ends grading with a terminal status.
type FinalReport struct {
	Status model.SubmissionStatus `json:"status" validate:"required,oneof=D CE IE"`
}

type transition func(sub *model.Submission, cases []model.SubmissionTestCase) ([]model.SubmissionTestCase, grading.Effect, error)

func (s *GradingService) ReportCompilation(ctx context.Context, submissionID, judgeID string, rep CompilationReport) (*model.Submission, error) {
	return s.apply(ctx, submissionID, judgeID, func(sub *model.Submission, cases []model.SubmissionTestCase) ([]model.SubmissionTestCase, grading.Effect, error) {
		return cases, grading.Compiled(sub, rep.Success, rep.Error, s.now()), nil
	})
}

func (s *GradingService) ReportCase(ctx context.Context, submissionID, judgeID string, rep CaseReport) (*model.Submission, error) {
	problem, err := s.problemFor(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	metrics.CaseReports.WithLabelValues(string(rep.Result)).Inc()

	tc := model.SubmissionTestCase{
		Case:   rep.Case,
		Result: rep.Result,
		Time:   rep.Time,
		Memory: rep.Memory,
		Points: rep.Points,
		Total:  rep.Total,
	}
	return s.apply(ctx, submissionID, judgeID, func(sub *model.Submission, cases []model.SubmissionTestCase) ([]model.SubmissionTestCase, grading.Effect, error) {
		return grading.Case(sub, problem, cases, tc)
	})
}

func (s *GradingService) ReportFinal(ctx context.Context, submissionID, judgeID string, rep FinalReport) (*model.Submission, error) {
	problem, err := s.problemFor(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, submissionID, judgeID, func(sub *model.Submission, cases []model.SubmissionTestCase) ([]model.SubmissionTestCase, grading.Effect, error) {
		if rep.Status == model.StatusCompileError || rep.Status == model.StatusInternalError {
			cases = nil
		}
		eff, err := grading.Final(sub, problem, cases, rep.Status, s.now())
		return cases, eff, err
	})
}

// Abort stops grading of an ungraded submission. It reports false when the
// submission was already graded.
func (s *GradingService) Abort(ctx context.Context, submissionID string) (*model.Submission, bool, error) {
	var aborted bool
	sub, err := s.apply(ctx, submissionID, "", func(sub *model.Submission, cases []model.SubmissionTestCase) ([]model.SubmissionTestCase, grading.Effect, error) {
		aborted = grading.Abort(sub, s.now())
		return cases, grading.Effect{Changed: aborted, Rescore: aborted}, nil
	})
	return sub, aborted, err
}

// Rejudge sends a graded submission back to the queue and drops its case rows.
func (s *GradingService) Rejudge(ctx context.Context, submissionID string) (*model.Submission, error) {
	return s.apply(ctx, submissionID, "", func(sub *model.Submission, _ []model.SubmissionTestCase) ([]model.SubmissionTestCase, grading.Effect, error) {
		if err := grading.Rejudge(sub); err != nil {
			return nil, grading.Effect{}, err
		}
		return nil, grading.Effect{Changed: true}, nil
	})
}

func (s *GradingService) problemFor(ctx context.Context, submissionID string) (*model.Problem, error) {
	sub, err := s.submissionRepo.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("submission %s: %w", submissionID, err)
	}
	problem, err := s.problemRepo.FindProblemByID(ctx, sub.ProblemID)
	if err != nil {
		return nil, fmt.Errorf("problem %s of submission %s: %w", sub.ProblemID, submissionID, err)
	}
	return problem, nil
}

func (s *GradingService) apply(ctx context.Context, submissionID, judgeID string, fn transition) (*model.Submission, error) {
	var effect grading.Effect
	sub, err := s.submissionRepo.WithSubmission(ctx, submissionID,
		func(sub *model.Submission, cases []model.SubmissionTestCase) ([]model.SubmissionTestCase, bool, error) {
			newCases, eff, err := fn(sub, cases)
			if err != nil {
				return nil, false, err
			}
			if eff.Changed && judgeID != "" {
				sub.JudgedBy = &judgeID
			}
			effect = eff
			return newCases, eff.Changed, nil
		})
	if err != nil {
		return nil, err
	}

	if !effect.Changed {
		s.log.Debugw("judge report ignored", "submission_id", submissionID, "status", sub.Status)
	}
	if effect.Rescore {
		s.onGraded(ctx, sub)
	}
	return sub, nil
}

func (s *GradingService) onGraded(ctx context.Context, sub *model.Submission) {
	result := string(*sub.Result)
	metrics.SubmissionsGraded.WithLabelValues(result).Inc()
	s.log.Infow("submission graded", "submission_id", sub.ID, "status", sub.Status, "result", result)

	if sub.Status == model.StatusInternalError {
		judge := ""
		if sub.JudgedBy != nil {
			judge = *sub.JudgedBy
		}
		s.alerts.Alert(ctx, "submission ended with an internal error",
			"submission_id", sub.ID, "problem_id", sub.ProblemID, "judge_id", judge)
	}

	if sub.ParticipationID != nil {
		s.recompute.Schedule(*sub.ParticipationID)
	}
}
