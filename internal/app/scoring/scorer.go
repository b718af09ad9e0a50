// Package scoring keeps contest participations in step with their graded
// submissions.
package scoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tle_zone_judge/internal/app/format"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/domain/repository"
	"tle_zone_judge/internal/platform/metrics"
)

// Scorer runs a contest's active format over one participation.
type Scorer struct {
	contests repository.ContestRepository
	formats  *format.Registry
	log      *zap.SugaredLogger
	onCommit func(ctx context.Context, contestID string)
}

func NewScorer(contests repository.ContestRepository, formats *format.Registry, log *zap.SugaredLogger) *Scorer {
	return &Scorer{contests: contests, formats: formats, log: log}
}

// OnCommit registers fn to run after every successful pass, with the contest
// of the updated participation. Call it before the scorer is shared.
func (s *Scorer) OnCommit(fn func(ctx context.Context, contestID string)) {
	s.onCommit = fn
}

// Update recomputes and commits the participation's aggregate. The pass holds
// the participation's lock from the first read to the commit.
func (s *Scorer) Update(ctx context.Context, participationID string) error {
	start := time.Now()
	formatName := "unknown"
	var contestID string

	err := s.contests.WithParticipation(ctx, participationID,
		func(ctx context.Context, snap *repository.ParticipationSnapshot, commit repository.CommitFunc) error {
			formatName = snap.Contest.FormatName
			contestID = snap.Contest.ID
			f, err := s.formats.Resolve(formatName)
			if err != nil {
				return err
			}
			return f.UpdateParticipation(ctx, &scope{snap: snap, commit: commit})
		})

	metrics.RecomputeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ParticipationRecomputes.WithLabelValues(formatName, "error").Inc()
		return fmt.Errorf("recomputing participation %s: %w", participationID, err)
	}
	metrics.ParticipationRecomputes.WithLabelValues(formatName, "ok").Inc()
	s.log.Debugw("participation recomputed", "participation_id", participationID, "format", formatName)
	if s.onCommit != nil {
		s.onCommit(ctx, contestID)
	}
	return nil
}

type scope struct {
	snap   *repository.ParticipationSnapshot
	commit repository.CommitFunc
}

func (s *scope) Contest() *model.Contest                    { return s.snap.Contest }
func (s *scope) Participation() *model.ContestParticipation { return s.snap.Participation }
func (s *scope) Problems() []model.ContestProblem           { return s.snap.Problems }
func (s *scope) Submissions() []model.ContestSubmission     { return s.snap.Submissions }

func (s *scope) Commit(ctx context.Context, points, cumtime float64, data model.FormatData) error {
	return s.commit(ctx, points, cumtime, data)
}
