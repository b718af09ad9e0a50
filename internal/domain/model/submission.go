package model

import "time"

type SubmissionStatus string

const (
	StatusQueued        SubmissionStatus = "QU"
	StatusCompiled      SubmissionStatus = "C"
	StatusGrading       SubmissionStatus = "G"
	StatusCompleted     SubmissionStatus = "D"
	StatusCompileError  SubmissionStatus = "CE"
	StatusInternalError SubmissionStatus = "IE"
	StatusAborted       SubmissionStatus = "AB"
)

// IsTerminal reports whether no automatic transition leaves s.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case StatusQueued, StatusCompiled, StatusGrading:
		return false
	}
	return true
}

func (s SubmissionStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusCompiled, StatusGrading, StatusCompleted,
		StatusCompileError, StatusInternalError, StatusAborted:
		return true
	}
	return false
}

type Result string

const (
	ResultAccepted            Result = "AC"
	ResultWrongAnswer         Result = "WA"
	ResultTimeLimitExceeded   Result = "TLE"
	ResultMemoryLimitExceeded Result = "MLE"
	ResultInvalidReturn       Result = "IR"
	ResultRuntimeError        Result = "RTE"
	ResultCompileError        Result = "CE"
	ResultInternalError       Result = "IE"
	ResultAborted             Result = "AB"
)

// caseSeverity orders the outcomes a single test case can have.
var caseSeverity = map[Result]int{
	ResultAccepted:            0,
	ResultWrongAnswer:         1,
	ResultTimeLimitExceeded:   2,
	ResultMemoryLimitExceeded: 3,
	ResultInvalidReturn:       4,
	ResultRuntimeError:        5,
}

// Severity ranks a case outcome, -1 for results a test case cannot have.
func (r Result) Severity() int {
	if s, ok := caseSeverity[r]; ok {
		return s
	}
	return -1
}

func (r Result) IsCaseResult() bool {
	return r.Severity() >= 0
}

var displayNames = map[string]string{
	"AC":  "Accepted",
	"WA":  "Wrong Answer",
	"TLE": "Time Limit Exceeded",
	"MLE": "Memory Limit Exceeded",
	"IR":  "Invalid Return",
	"RTE": "Runtime Error (invalid syscall)",
	"CE":  "Compile Error",
	"IE":  "Internal Error (judging server error)",
	"AB":  "Aborted",
	"QU":  "Queued",
	"C":   "Compiled",
	"G":   "Grading",
	"D":   "Completed",
}

type Submission struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	ProblemID       string           `json:"problem_id"`
	ParticipationID *string          `json:"participation_id,omitempty"`
	LanguageID      string           `json:"language_id"`
	Source          string           `json:"source,omitempty"`
	Status          SubmissionStatus `json:"status"`
	Result          *Result          `json:"result,omitempty"`
	Time            *float64         `json:"time,omitempty"`   // seconds, sum over cases
	Memory          *float64         `json:"memory,omitempty"` // KB, max over cases
	Points          *float64         `json:"points,omitempty"`
	Error           *string          `json:"error,omitempty"` // compiler output
	JudgedBy        *string          `json:"judged_by,omitempty"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	GradedAt        *time.Time       `json:"graded_at,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (s *Submission) IsGraded() bool {
	return s.Status.IsTerminal()
}

// LongStatus is the user facing name of the result, or of the status while ungraded.
func (s *Submission) LongStatus() string {
	if s.Result != nil {
		return displayNames[string(*s.Result)]
	}
	return displayNames[string(s.Status)]
}

type SubmissionTestCase struct {
	SubmissionID string  `json:"submission_id"`
	Case         int     `json:"case"`
	Result       Result  `json:"result"`
	Time         float64 `json:"time"`
	Memory       float64 `json:"memory"`
	Points       float64 `json:"points"`
	Total        float64 `json:"total"`
}

func (tc SubmissionTestCase) Passed() bool {
	return tc.Result == ResultAccepted
}
