package model

import "time"

const (
	PriorityHigh = "high" // fresh submissions
	PriorityLow  = "low"  // rejudges
)

// JudgeJob is the message pushed onto the judge queues.
type JudgeJob struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submission_id"`
	Priority     string    `json:"priority"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// Judge is a grading server allowed to report results.
type Judge struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	AuthKeyHash string     `json:"-"`
	Online      bool       `json:"online"`
	LastConnect *time.Time `json:"last_connect,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
