package service

import (
	"context"
	"strings"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

const (
	defaultTimeLimitMs   = 2000
	defaultMemoryLimitKb = 262144
)

type ProblemService struct {
	problemRepo repository.ProblemRepository
	log         *zap.SugaredLogger
}

func NewProblemService(problemRepo repository.ProblemRepository, log *zap.SugaredLogger) *ProblemService {
	return &ProblemService{problemRepo: problemRepo, log: log}
}

type CreateProblemRequest struct {
	Code          string  `json:"code,omitempty" validate:"omitempty,max=20"`
	Name          string  `json:"name" validate:"required,max=100"`
	Description   string  `json:"description"`
	Points        float64 `json:"points" validate:"gt=0"`
	Partial       bool    `json:"partial"`
	ShortCircuit  bool    `json:"short_circuit"`
	TimeLimitMs   int     `json:"time_limit_ms" validate:"min=0"`
	MemoryLimitKb int     `json:"memory_limit_kb" validate:"min=0"`
}

func (s *ProblemService) CreateProblem(ctx context.Context, req CreateProblemRequest) (*model.Problem, error) {
	if req.Name == "" || req.Points <= 0 {
		return nil, common.Errorf("missing required fields for problem creation: %w", common.ErrBadRequest)
	}

	// codes are derived from the name when absent; separators are not allowed
	code := req.Code
	if code == "" {
		code = strings.ReplaceAll(slug.Make(req.Name), "-", "")
	}
	if !model.ProblemCodePattern.MatchString(code) {
		return nil, common.Errorf("problem code %q must be lowercase letters and digits: %w", code, common.ErrValidation)
	}

	problem := &model.Problem{
		ID:            uuid.NewString(),
		Code:          code,
		Name:          req.Name,
		Description:   req.Description,
		Points:        req.Points,
		Partial:       req.Partial,
		ShortCircuit:  req.ShortCircuit,
		TimeLimitMs:   req.TimeLimitMs,
		MemoryLimitKb: req.MemoryLimitKb,
	}
	if problem.TimeLimitMs == 0 {
		problem.TimeLimitMs = defaultTimeLimitMs
	}
	if problem.MemoryLimitKb == 0 {
		problem.MemoryLimitKb = defaultMemoryLimitKb
	}

	if err := s.problemRepo.CreateProblem(ctx, problem); err != nil {
		return nil, common.Errorf("failed to create problem: %w", err)
	}
	s.log.Infow("problem created", "problem_id", problem.ID, "code", problem.Code)
	return problem, nil
}

func (s *ProblemService) GetProblem(ctx context.Context, code string) (*model.Problem, error) {
	return s.problemRepo.FindProblemByCode(ctx, code)
}

func (s *ProblemService) ListProblems(ctx context.Context, page, pageSize int) ([]model.Problem, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := max((page-1)*pageSize, 0)
	return s.problemRepo.ListProblems(ctx, pageSize, offset)
}

func (s *ProblemService) ListLanguages(ctx context.Context) ([]model.Language, error) {
	return s.problemRepo.ListLanguages(ctx)
}
