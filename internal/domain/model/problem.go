package model

import (
	"regexp"
	"time"
)

var ProblemCodePattern = regexp.MustCompile(`^[a-z0-9]+$`)

type Problem struct {
	ID            string    `json:"id"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Points        float64   `json:"points"`
	Partial       bool      `json:"partial"`
	ShortCircuit  bool      `json:"short_circuit"`
	TimeLimitMs   int       `json:"time_limit_ms"`
	MemoryLimitKb int       `json:"memory_limit_kb"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
