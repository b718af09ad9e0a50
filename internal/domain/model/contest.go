package model

import (
	"encoding/json"
	"time"
)

type Contest struct {
	ID           string          `json:"id"`
	Key          string          `json:"key"`
	Name         string          `json:"name"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	FormatName   string          `json:"format_name"`
	FormatConfig json.RawMessage `json:"format_config,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// InWindow reports whether t falls within [StartTime, EndTime).
func (c *Contest) InWindow(t time.Time) bool {
	return !t.Before(c.StartTime) && t.Before(c.EndTime)
}

type ContestProblem struct {
	ContestID   string  `json:"contest_id"`
	ProblemID   string  `json:"problem_id"`
	ProblemCode string  `json:"problem_code"`
	Points      float64 `json:"points"`
	Order       int     `json:"order"`
}

// FormatData is owned by the contest's scoring format. Keys are problem IDs,
// values are format specific records nothing else should decode.
type FormatData map[string]json.RawMessage

type ContestParticipation struct {
	ID         string     `json:"id"`
	ContestID  string     `json:"contest_id"`
	UserID     string     `json:"user_id"`
	Points     float64    `json:"points"`
	Cumtime    float64    `json:"cumtime"` // seconds
	FormatData FormatData `json:"format_data"`
	JoinedAt   time.Time  `json:"joined_at"`
}

// ContestSubmission is the slice of a submission a scoring format looks at.
type ContestSubmission struct {
	SubmissionID string           `json:"submission_id"`
	ProblemID    string           `json:"problem_id"`
	Status       SubmissionStatus `json:"status"`
	Points       *float64         `json:"points,omitempty"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	GradedAt     *time.Time       `json:"graded_at,omitempty"`
}

// Scored reports whether the submission carries a score a format may count.
func (cs ContestSubmission) Scored() bool {
	return cs.Status.IsTerminal() && cs.Points != nil && cs.GradedAt != nil
}
