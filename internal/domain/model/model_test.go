package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsGraded(t *testing.T) {
	for _, st := range []SubmissionStatus{StatusQueued, StatusCompiled, StatusGrading} {
		s := Submission{Status: st}
		assert.False(t, s.IsGraded(), st)
	}
	for _, st := range []SubmissionStatus{StatusCompleted, StatusCompileError, StatusInternalError, StatusAborted} {
		s := Submission{Status: st}
		assert.True(t, s.IsGraded(), st)
	}
}

func TestSeverityOrder(t *testing.T) {
	order := []Result{
		ResultAccepted, ResultWrongAnswer, ResultTimeLimitExceeded,
		ResultMemoryLimitExceeded, ResultInvalidReturn, ResultRuntimeError,
	}
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1].Severity(), order[i].Severity())
	}
	assert.False(t, ResultCompileError.IsCaseResult())
	assert.False(t, ResultInternalError.IsCaseResult())
}

func TestLongStatus(t *testing.T) {
	s := Submission{Status: StatusGrading}
	assert.Equal(t, "Grading", s.LongStatus())

	res := ResultInternalError
	s = Submission{Status: StatusInternalError, Result: &res}
	assert.Equal(t, "Internal Error (judging server error)", s.LongStatus())
}

func TestContestInWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := Contest{StartTime: start, EndTime: start.Add(2 * time.Hour)}

	assert.True(t, c.InWindow(start))
	assert.True(t, c.InWindow(start.Add(time.Hour)))
	assert.False(t, c.InWindow(start.Add(-time.Second)))
	assert.False(t, c.InWindow(start.Add(2*time.Hour)))
}

func TestContestSubmissionScored(t *testing.T) {
	now := time.Now()
	pts := 5.0
	assert.True(t, ContestSubmission{Status: StatusCompleted, Points: &pts, GradedAt: &now}.Scored())
	assert.False(t, ContestSubmission{Status: StatusGrading, Points: &pts, GradedAt: &now}.Scored())
	assert.False(t, ContestSubmission{Status: StatusInternalError, GradedAt: &now}.Scored())
}
