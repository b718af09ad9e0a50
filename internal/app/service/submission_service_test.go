package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	fail     error
	queued   []string
	aborted  []string
	priority map[string]string
}

func (d *fakeDispatcher) Dispatch(_ context.Context, submissionID, priority string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	if d.priority == nil {
		d.priority = make(map[string]string)
	}
	d.queued = append(d.queued, submissionID)
	d.priority[submissionID] = priority
	return nil
}

func (d *fakeDispatcher) RequestAbort(_ context.Context, submissionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aborted = append(d.aborted, submissionID)
	return nil
}

func newSubmissionService(f *serviceFixture, d *fakeDispatcher) *SubmissionService {
	s := NewSubmissionService(f.store.Submissions(), f.store.Problems(), f.store.Contests(), f.grading, d, zap.NewNop().Sugar())
	s.now = func() time.Time { return f.clock }
	return s
}

func TestCreateContestSubmissionLinksParticipation(t *testing.T) {
	f := newServiceFixture(t)
	d := &fakeDispatcher{}
	svc := newSubmissionService(f, d)

	sub, err := svc.CreateSubmission(t.Context(), "u1", CreateSubmissionRequest{
		ProblemID: "P", LanguageID: "py3", Source: "print(3)", ContestID: "c1",
	})
	require.NoError(t, err)

	require.NotNil(t, sub.ParticipationID)
	assert.Equal(t, "cp1", *sub.ParticipationID)
	assert.Equal(t, model.StatusQueued, sub.Status)
	assert.Equal(t, []string{sub.ID}, d.queued)
	assert.Equal(t, model.PriorityHigh, d.priority[sub.ID])
}

func TestCreateSubmissionContestChecks(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		req     CreateSubmissionRequest
		clock   time.Time
		wantErr error
	}{
		{
			name:    "contest not running",
			userID:  "u1",
			req:     CreateSubmissionRequest{ProblemID: "P", LanguageID: "py3", Source: "x", ContestID: "c1"},
			clock:   contestStart.Add(3 * time.Hour),
			wantErr: common.ErrForbidden,
		},
		{
			name:    "user did not join",
			userID:  "u2",
			req:     CreateSubmissionRequest{ProblemID: "P", LanguageID: "py3", Source: "x", ContestID: "c1"},
			clock:   contestStart.Add(time.Minute),
			wantErr: common.ErrForbidden,
		},
		{
			name:    "inactive language",
			userID:  "u1",
			req:     CreateSubmissionRequest{ProblemID: "P", LanguageID: "bf", Source: "x"},
			clock:   contestStart.Add(time.Minute),
			wantErr: common.ErrBadRequest,
		},
		{
			name:    "unknown problem",
			userID:  "u1",
			req:     CreateSubmissionRequest{ProblemID: "Q", LanguageID: "py3", Source: "x"},
			clock:   contestStart.Add(time.Minute),
			wantErr: common.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			f.clock = tt.clock
			d := &fakeDispatcher{}

			_, err := newSubmissionService(f, d).CreateSubmission(t.Context(), tt.userID, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, d.queued)
		})
	}
}

func TestCreateSubmissionDispatchFailureMarksInternalError(t *testing.T) {
	f := newServiceFixture(t)
	f.alerts.On("Alert", mock.Anything, mock.Anything, mock.Anything).Return(true)
	d := &fakeDispatcher{fail: errors.New("redis down")}

	_, err := newSubmissionService(f, d).CreateSubmission(t.Context(), "u1", CreateSubmissionRequest{
		ProblemID: "P", LanguageID: "py3", Source: "print(3)",
	})
	assert.ErrorIs(t, err, common.ErrServiceUnavailable)

	ids, err := f.store.Submissions().ListSubmissionIDsByProblem(t.Context(), "P")
	require.NoError(t, err)
	require.Len(t, ids, 1)
	sub, err := f.store.Submissions().GetSubmissionByID(t.Context(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.StatusInternalError, sub.Status)
	f.alerts.AssertNumberOfCalls(t, "Alert", 1)
}

func TestAbortSubmissionPermissions(t *testing.T) {
	f := newServiceFixture(t)
	f.queue(t, "s1", 10*time.Second)
	d := &fakeDispatcher{}
	svc := newSubmissionService(f, d)

	_, err := svc.AbortSubmission(t.Context(), "u2", model.RoleUser, "s1")
	assert.ErrorIs(t, err, common.ErrForbidden)

	sub, err := svc.AbortSubmission(t.Context(), "u1", model.RoleUser, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAborted, sub.Status)
	assert.Equal(t, []string{"s1"}, d.aborted)

	// nothing left to stop
	_, err = svc.AbortSubmission(t.Context(), "admin", model.RoleAdmin, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, d.aborted)
}

func TestRejudgeProblemSkipsSubmissionsInFlight(t *testing.T) {
	f := newServiceFixture(t)
	ctx := t.Context()
	f.queue(t, "s1", 10*time.Second)
	f.queue(t, "s2", 20*time.Second)
	_, err := f.grading.ReportCompilation(ctx, "s1", "judge-1", CompilationReport{Success: false})
	require.NoError(t, err)

	d := &fakeDispatcher{}
	n, err := newSubmissionService(f, d).RejudgeProblem(ctx, "P")
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"s1"}, d.queued)
	assert.Equal(t, model.PriorityLow, d.priority["s1"])
}

func TestGetSubmissionIncludesCases(t *testing.T) {
	f := newServiceFixture(t)
	ctx := t.Context()
	f.queue(t, "s1", 10*time.Second)
	_, err := f.grading.ReportCase(ctx, "s1", "judge-1", CaseReport{Case: 2, Result: model.ResultWrongAnswer, Total: 5})
	require.NoError(t, err)
	_, err = f.grading.ReportCase(ctx, "s1", "judge-1", CaseReport{Case: 1, Result: model.ResultAccepted, Points: 5, Total: 5})
	require.NoError(t, err)

	details, err := newSubmissionService(f, &fakeDispatcher{}).GetSubmission(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, model.StatusGrading, details.Status)
	require.Len(t, details.Cases, 2)
	assert.Equal(t, 1, details.Cases[0].Case)
	assert.NotEmpty(t, details.StatusText)
}

func TestUserTotalPointsTakesBestPerProblem(t *testing.T) {
	f := newServiceFixture(t)
	ctx := t.Context()
	for _, id := range []string{"s1", "s2"} {
		f.queue(t, id, 10*time.Second)
		_, err := f.grading.ReportCompilation(ctx, id, "judge-1", CompilationReport{Success: true})
		require.NoError(t, err)
	}
	_, err := f.grading.ReportCase(ctx, "s1", "judge-1", CaseReport{Case: 1, Result: model.ResultWrongAnswer, Points: 3, Total: 10})
	require.NoError(t, err)
	_, err = f.grading.ReportCase(ctx, "s2", "judge-1", CaseReport{Case: 1, Result: model.ResultAccepted, Points: 10, Total: 10})
	require.NoError(t, err)
	for _, id := range []string{"s1", "s2"} {
		_, err := f.grading.ReportFinal(ctx, id, "judge-1", FinalReport{Status: model.StatusCompleted})
		require.NoError(t, err)
	}

	total, err := newSubmissionService(f, &fakeDispatcher{}).UserTotalPoints(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, total)
}
