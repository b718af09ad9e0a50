package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"tle_zone_judge/internal/app/format"
	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/domain/repository"
)

const rankingKeyPrefix = "contest_ranking:"

type participationUpdater interface {
	Update(ctx context.Context, participationID string) error
}

type rankingCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type ContestService struct {
	contestRepo repository.ContestRepository
	problemRepo repository.ProblemRepository
	formats     *format.Registry
	scorer      participationUpdater
	cache       rankingCache
	cacheTTL    time.Duration
	parallelism int
	rankings    singleflight.Group
	log         *zap.SugaredLogger
}

func NewContestService(
	contestRepo repository.ContestRepository,
	problemRepo repository.ProblemRepository,
	formats *format.Registry,
	scorer participationUpdater,
	cache rankingCache,
	cacheTTL time.Duration,
	parallelism int,
	log *zap.SugaredLogger,
) *ContestService {
	return &ContestService{
		contestRepo: contestRepo,
		problemRepo: problemRepo,
		formats:     formats,
		scorer:      scorer,
		cache:       cache,
		cacheTTL:    cacheTTL,
		parallelism: max(parallelism, 1),
		log:         log,
	}
}

type CreateContestRequest struct {
	Key          string          `json:"key,omitempty" validate:"omitempty,max=32"`
	Name         string          `json:"name" validate:"required,max=100"`
	StartTime    time.Time       `json:"start_time" validate:"required"`
	EndTime      time.Time       `json:"end_time" validate:"required,gtfield=StartTime"`
	FormatName   string          `json:"format_name,omitempty"`
	FormatConfig json.RawMessage `json:"format_config,omitempty"`
}

type AddContestProblemRequest struct {
	ProblemID string `json:"problem_id" validate:"required"`
	Order     int    `json:"order" validate:"min=0"`
}

type SetFormatRequest struct {
	FormatName   string          `json:"format_name" validate:"required"`
	FormatConfig json.RawMessage `json:"format_config,omitempty"`
}

type FormatInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// ParticipationView is a participant's stored result as the active format renders it.
type ParticipationView struct {
	Participation *model.ContestParticipation `json:"participation"`
	Result        model.ResultDisplay         `json:"result"`
	Problems      []model.ProblemDisplay      `json:"problems"`
}

func (s *ContestService) CreateContest(ctx context.Context, req CreateContestRequest) (*model.Contest, error) {
	if !req.EndTime.After(req.StartTime) {
		return nil, common.Errorf("contest must end after it starts: %w", common.ErrValidation)
	}

	key := req.Key
	if key == "" {
		key = req.Name
	}
	key = slug.Make(key)
	if key == "" {
		return nil, common.Errorf("contest key is empty: %w", common.ErrValidation)
	}

	name := req.FormatName
	if name == "" {
		name = format.DefaultName
	}
	if _, err := s.validateFormat(name, req.FormatConfig); err != nil {
		return nil, err
	}

	contest := &model.Contest{
		ID:           uuid.NewString(),
		Key:          key,
		Name:         req.Name,
		StartTime:    req.StartTime.UTC(),
		EndTime:      req.EndTime.UTC(),
		FormatName:   name,
		FormatConfig: req.FormatConfig,
	}
	if err := s.contestRepo.CreateContest(ctx, contest); err != nil {
		return nil, common.Errorf("failed to create contest: %w", err)
	}
	s.log.Infow("contest created", "contest_id", contest.ID, "key", contest.Key, "format", name)
	return contest, nil
}

func (s *ContestService) validateFormat(name string, raw json.RawMessage) (format.Format, error) {
	f, err := s.formats.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrValidation, err)
	}
	cfg, err := format.ParseConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := f.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *ContestService) GetContest(ctx context.Context, key string) (*model.Contest, []model.ContestProblem, error) {
	contest, err := s.contestRepo.FindContestByKey(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	problems, err := s.contestRepo.ListContestProblems(ctx, contest.ID)
	if err != nil {
		return nil, nil, common.Errorf("failed to load contest problems: %w", err)
	}
	return contest, problems, nil
}

func (s *ContestService) AddProblem(ctx context.Context, contestID string, req AddContestProblemRequest) (*model.ContestProblem, error) {
	if _, err := s.contestRepo.FindContestByID(ctx, contestID); err != nil {
		return nil, err
	}
	problem, err := s.problemRepo.FindProblemByID(ctx, req.ProblemID)
	if err != nil {
		return nil, common.Errorf("problem not found: %w", err)
	}

	cp := &model.ContestProblem{
		ContestID:   contestID,
		ProblemID:   problem.ID,
		ProblemCode: problem.Code,
		Points:      problem.Points,
		Order:       req.Order,
	}
	if err := s.contestRepo.AddContestProblem(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *ContestService) Join(ctx context.Context, contestID, userID string) (*model.ContestParticipation, error) {
	if _, err := s.contestRepo.FindContestByID(ctx, contestID); err != nil {
		return nil, err
	}
	p := &model.ContestParticipation{
		ID:         uuid.NewString(),
		ContestID:  contestID,
		UserID:     userID,
		FormatData: model.FormatData{},
	}
	if err := s.contestRepo.CreateParticipation(ctx, p); err != nil {
		return nil, err
	}
	s.InvalidateRanking(ctx, contestID)
	return p, nil
}

func (s *ContestService) ListFormats() []FormatInfo {
	var out []FormatInfo
	for name, display := range s.formats.All() {
		out = append(out, FormatInfo{Name: name, DisplayName: display})
	}
	return out
}

// SetContestFormat rebinds the contest's format. Every participation's stored
// aggregate is discarded and computed again under the new format.
func (s *ContestService) SetContestFormat(ctx context.Context, contestID string, req SetFormatRequest) error {
	if _, err := s.validateFormat(req.FormatName, req.FormatConfig); err != nil {
		return err
	}
	if err := s.contestRepo.SetFormat(ctx, contestID, req.FormatName, req.FormatConfig); err != nil {
		return err
	}
	s.log.Infow("contest format changed", "contest_id", contestID, "format", req.FormatName)
	return s.RecomputeContest(ctx, contestID)
}

// RecomputeContest recomputes every participation of the contest.
func (s *ContestService) RecomputeContest(ctx context.Context, contestID string) error {
	ids, err := s.contestRepo.ListParticipationIDs(ctx, contestID)
	if err != nil {
		return common.Errorf("failed to list participations: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, id := range ids {
		g.Go(func() error {
			return s.scorer.Update(gctx, id)
		})
	}
	err = g.Wait()
	s.InvalidateRanking(ctx, contestID)
	if err != nil {
		return common.Errorf("contest %s recompute: %w", contestID, err)
	}
	s.log.Infow("contest recomputed", "contest_id", contestID, "participations", len(ids))
	return nil
}

// Ranking returns the scoreboard rendered from stored aggregates. Results are
// cached briefly and concurrent loads of one contest share a single query.
func (s *ContestService) Ranking(ctx context.Context, contestID string) ([]model.RankingEntry, error) {
	key := rankingKeyPrefix + contestID

	if cached, err := s.cache.Get(ctx, key).Bytes(); err == nil {
		var entries []model.RankingEntry
		if err := json.Unmarshal(cached, &entries); err == nil {
			return entries, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warnw("ranking cache read failed", "contest_id", contestID, "error", err)
	}

	v, err, _ := s.rankings.Do(key, func() (interface{}, error) {
		entries, err := s.loadRanking(ctx, contestID)
		if err != nil {
			return nil, err
		}
		if s.cacheTTL > 0 {
			if encoded, err := json.Marshal(entries); err == nil {
				if err := s.cache.Set(ctx, key, encoded, s.cacheTTL).Err(); err != nil {
					s.log.Warnw("ranking cache write failed", "contest_id", contestID, "error", err)
				}
			}
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.RankingEntry), nil
}

func (s *ContestService) loadRanking(ctx context.Context, contestID string) ([]model.RankingEntry, error) {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return nil, err
	}
	f, err := s.formats.Resolve(contest.FormatName)
	if err != nil {
		return nil, err
	}
	problems, err := s.contestRepo.ListContestProblems(ctx, contestID)
	if err != nil {
		return nil, common.Errorf("failed to load contest problems: %w", err)
	}
	rows, err := s.contestRepo.ListRanking(ctx, contestID)
	if err != nil {
		return nil, common.Errorf("failed to load ranking: %w", err)
	}

	entries := make([]model.RankingEntry, 0, len(rows))
	for i, row := range rows {
		p := &row.ContestParticipation
		result := f.DisplayParticipationResult(p)
		rank := i + 1
		if i > 0 && result.Points == entries[i-1].Points && result.Cumtime == entries[i-1].Cumtime {
			rank = entries[i-1].Rank
		}
		entry := model.RankingEntry{
			Rank:            rank,
			ParticipationID: p.ID,
			UserID:          p.UserID,
			Username:        row.Username,
			Points:          result.Points,
			Cumtime:         result.Cumtime,
			Problems:        make([]model.ProblemDisplay, 0, len(problems)),
		}
		for _, cp := range problems {
			entry.Problems = append(entry.Problems, f.DisplayUserProblem(p, cp))
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// InvalidateRanking drops the cached scoreboard of a contest.
func (s *ContestService) InvalidateRanking(ctx context.Context, contestID string) {
	if err := s.cache.Del(ctx, rankingKeyPrefix+contestID).Err(); err != nil {
		s.log.Warnw("ranking cache invalidation failed", "contest_id", contestID, "error", err)
	}
}

func (s *ContestService) ParticipationResult(ctx context.Context, contestID, userID string) (*ParticipationView, error) {
	contest, err := s.contestRepo.FindContestByID(ctx, contestID)
	if err != nil {
		return nil, err
	}
	f, err := s.formats.Resolve(contest.FormatName)
	if err != nil {
		return nil, err
	}
	p, err := s.contestRepo.FindParticipation(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}
	problems, err := s.contestRepo.ListContestProblems(ctx, contestID)
	if err != nil {
		return nil, common.Errorf("failed to load contest problems: %w", err)
	}

	view := &ParticipationView{
		Participation: p,
		Result:        f.DisplayParticipationResult(p),
		Problems:      make([]model.ProblemDisplay, 0, len(problems)),
	}
	for _, cp := range problems {
		view.Problems = append(view.Problems, f.DisplayUserProblem(p, cp))
	}
	return view, nil
}
