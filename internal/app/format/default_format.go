package format

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"tle_zone_judge/internal/domain/model"
)

// Default scores a participation by the sum of its best points per problem.
// Cumulative time adds, per problem, the seconds from contest start until the
// latest grading of a submission that reached the best points.
type Default struct{}

type defaultProblemData struct {
	Time   float64 `json:"time"`
	Points float64 `json:"points"`
}

func (Default) DisplayName() string { return "Default" }

func (Default) ValidateConfig(cfg Config) error {
	if len(cfg) == 0 {
		return nil
	}
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return &ValidationError{Field: keys[0], Reason: "default contest format accepts no options"}
}

func (Default) UpdateParticipation(ctx context.Context, scope Scope) error {
	contest := scope.Contest()

	byProblem := make(map[string][]model.ContestSubmission)
	for _, s := range scope.Submissions() {
		if s.Scored() {
			byProblem[s.ProblemID] = append(byProblem[s.ProblemID], s)
		}
	}

	var points, cumtime float64
	data := make(model.FormatData)
	for _, cp := range scope.Problems() {
		subs := byProblem[cp.ProblemID]
		if len(subs) == 0 {
			continue
		}

		best, gradedAt := bestAttempt(subs)
		solveTime := gradedAt.Sub(contest.StartTime).Seconds()
		if solveTime < 0 {
			solveTime = 0
		}

		raw, err := json.Marshal(defaultProblemData{Time: solveTime, Points: best})
		if err != nil {
			return fmt.Errorf("encoding format data for problem %s: %w", cp.ProblemID, err)
		}
		data[cp.ProblemID] = raw
		points += best
		cumtime += solveTime
	}

	return scope.Commit(ctx, points, cumtime, data)
}

// bestAttempt returns the best points among subs and the latest grading time of
// the submissions that reached them. subs must all be scored.
func bestAttempt(subs []model.ContestSubmission) (float64, time.Time) {
	best := *subs[0].Points
	for _, s := range subs[1:] {
		if *s.Points > best {
			best = *s.Points
		}
	}
	var latest time.Time
	for _, s := range subs {
		if *s.Points == best && s.GradedAt.After(latest) {
			latest = *s.GradedAt
		}
	}
	return best, latest
}

func (Default) DisplayUserProblem(p *model.ContestParticipation, cp model.ContestProblem) model.ProblemDisplay {
	display := model.ProblemDisplay{ProblemID: cp.ProblemID}
	raw, ok := p.FormatData[cp.ProblemID]
	if !ok {
		return display
	}
	var d defaultProblemData
	if err := json.Unmarshal(raw, &d); err != nil {
		return display
	}
	display.StateTag = BestSolutionState(d.Points, cp.Points)
	display.Points = d.Points
	display.Time = d.Time
	return display
}

func (Default) DisplayParticipationResult(p *model.ContestParticipation) model.ResultDisplay {
	return model.ResultDisplay{Points: p.Points, Cumtime: p.Cumtime}
}
