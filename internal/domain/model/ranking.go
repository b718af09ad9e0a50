package model

// RankingEntry is one row of a contest scoreboard.
type RankingEntry struct {
	Rank            int              `json:"rank"`
	ParticipationID string           `json:"participation_id"`
	UserID          string           `json:"user_id"`
	Username        string           `json:"username"`
	Points          float64          `json:"points"`
	Cumtime         float64          `json:"cumtime"`
	Problems        []ProblemDisplay `json:"problems"`
}

// ProblemDisplay is the data behind one scoreboard cell. An empty StateTag
// means the participant never attempted the problem.
type ProblemDisplay struct {
	ProblemID string  `json:"problem_id"`
	StateTag  string  `json:"state"`
	Points    float64 `json:"points"`
	Time      float64 `json:"time"`
}

// ResultDisplay is the data behind a participant's total cell.
type ResultDisplay struct {
	Points  float64 `json:"points"`
	Cumtime float64 `json:"cumtime"`
}
