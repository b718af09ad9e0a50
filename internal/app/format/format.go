// Package format holds the contest scoring formats. A format turns the
// submission history of one participation into its points, cumulative time and
// per-problem format data, and renders stored aggregates as display records.
package format

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
)

const (
	StateFailed  = "failed"
	StateFull    = "full"
	StatePartial = "partial"
)

// Config is a decoded format configuration. nil means no configuration was given.
type Config map[string]interface{}

// ParseConfig decodes the JSON stored for a contest. Empty input and JSON null
// both yield a nil Config.
func ParseConfig(raw json.RawMessage) (Config, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var cfg Config
	if err := json.Unmarshal(trimmed, &cfg); err != nil {
		return nil, &ValidationError{Reason: "config must be a JSON object"}
	}
	return cfg, nil
}

// ValidationError describes a rejected format configuration.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid format config: " + e.Reason
	}
	return fmt.Sprintf("invalid format config field %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return common.ErrValidation
}

// Scope is everything one recomputation may read, captured while the
// participation is locked. Commit is the single write of the aggregate.
type Scope interface {
	Contest() *model.Contest
	Participation() *model.ContestParticipation
	Problems() []model.ContestProblem
	Submissions() []model.ContestSubmission
	Commit(ctx context.Context, points, cumtime float64, data model.FormatData) error
}

// Format is a contest scoring policy.
type Format interface {
	DisplayName() string

	// ValidateConfig is pure and is the only method reporting user facing errors.
	ValidateConfig(cfg Config) error

	// UpdateParticipation recomputes the aggregate of scope's participation and
	// commits it. Running it twice over the same submissions commits the same bytes.
	UpdateParticipation(ctx context.Context, scope Scope) error

	// DisplayUserProblem reads the stored format data only.
	DisplayUserProblem(p *model.ContestParticipation, cp model.ContestProblem) model.ProblemDisplay

	DisplayParticipationResult(p *model.ContestParticipation) model.ResultDisplay
}

// BestSolutionState picks the display state of a problem cell.
func BestSolutionState(points, total float64) string {
	if points == 0 {
		return StateFailed
	}
	if points == total {
		return StateFull
	}
	return StatePartial
}
