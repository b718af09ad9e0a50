package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/common/security"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/domain/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuthService struct {
	userRepo  repository.UserRepository
	judgeRepo repository.JudgeRepository
	log       *zap.SugaredLogger
}

func NewAuthService(userRepo repository.UserRepository, judgeRepo repository.JudgeRepository, log *zap.SugaredLogger) *AuthService {
	return &AuthService{userRepo: userRepo, judgeRepo: judgeRepo, log: log}
}

type SignupRequest struct {
	Username string `json:"username" validate:"required,alphanum,min=3,max=30"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// JudgeLoginRequest authenticates a grading server by its name and shared key.
type JudgeLoginRequest struct {
	Name string `json:"name" validate:"required"`
	Key  string `json:"key" validate:"required"`
}

type JudgeAuthResponse struct {
	Judge *model.Judge `json:"judge"`
	Token string       `json:"token"`
}

type RegisterJudgeRequest struct {
	Name string `json:"name" validate:"required,alphanum,max=50"`
	Key  string `json:"key" validate:"required,min=16,max=72"`
}

func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, common.ErrBadRequest
	}

	hashedPassword, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:             uuid.NewString(),
		Username:       req.Username,
		HashedPassword: hashedPassword,
		Role:           model.RoleUser,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := security.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	s.log.Infow("user signed up", "user_id", user.ID, "username", user.Username)
	return &AuthResponse{User: user, Token: token}, nil
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, common.ErrBadRequest
	}

	user, err := s.userRepo.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !security.CheckPasswordHash(req.Password, user.HashedPassword) {
		return nil, common.ErrUnauthorized
	}

	token, err := security.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &AuthResponse{User: user, Token: token}, nil
}

// RegisterJudge stores a new grading server. Only the bcrypt hash of its key is kept.
func (s *AuthService) RegisterJudge(ctx context.Context, req RegisterJudgeRequest) (*model.Judge, error) {
	hashedKey, err := security.HashPassword(req.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to hash judge key: %w", err)
	}
	judge := &model.Judge{
		ID:          uuid.NewString(),
		Name:        req.Name,
		AuthKeyHash: hashedKey,
	}
	if err := s.judgeRepo.Create(ctx, judge); err != nil {
		return nil, fmt.Errorf("failed to register judge: %w", err)
	}
	s.log.Infow("judge registered", "judge_id", judge.ID, "name", judge.Name)
	return judge, nil
}

// LoginJudge issues a token carrying the judge role. Judge callbacks are only
// accepted with such a token.
func (s *AuthService) LoginJudge(ctx context.Context, req JudgeLoginRequest) (*JudgeAuthResponse, error) {
	if req.Name == "" || req.Key == "" {
		return nil, common.ErrBadRequest
	}

	judge, err := s.judgeRepo.FindByName(ctx, req.Name)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to find judge: %w", err)
	}
	if !security.CheckPasswordHash(req.Key, judge.AuthKeyHash) {
		s.log.Warnw("judge authentication failed", "name", req.Name)
		return nil, common.ErrUnauthorized
	}

	now := time.Now().UTC()
	if err := s.judgeRepo.MarkConnected(ctx, judge.ID, now); err != nil {
		return nil, fmt.Errorf("failed to record judge connection: %w", err)
	}
	judge.Online = true
	judge.LastConnect = &now

	token, err := security.GenerateToken(judge.ID, model.RoleJudge)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	s.log.Infow("judge connected", "judge_id", judge.ID, "name", judge.Name)
	return &JudgeAuthResponse{Judge: judge, Token: token}, nil
}
