package service

import (
	"context"
	"testing"
	"time"

	"tle_zone_judge/internal/app/format"
	"tle_zone_judge/internal/app/scoring"
	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var contestStart = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type mockAlerter struct {
	mock.Mock
}

func (m *mockAlerter) Alert(ctx context.Context, msg string, keysAndValues ...interface{}) bool {
	args := m.Called(ctx, msg, keysAndValues)
	return args.Bool(0)
}

type serviceFixture struct {
	store     *repository.MemoryStore
	registry  *format.Registry
	scorer    *scoring.Scorer
	recompute *scoring.Recomputer
	alerts    *mockAlerter
	grading   *GradingService
	clock     time.Time
}

// newServiceFixture seeds two users, one partial 10 point problem and a running
// contest that only the first user joined.
func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	ctx := t.Context()
	log := zap.NewNop().Sugar()
	store := repository.NewMemoryStore()

	store.AddLanguage(model.Language{ID: "py3", Key: "PY3", Name: "Python 3", IsActive: true})
	store.AddLanguage(model.Language{ID: "bf", Key: "BF", Name: "Brainfuck", IsActive: false})
	require.NoError(t, store.Users().Create(ctx, &model.User{ID: "u1", Username: "alice", Role: model.RoleUser}))
	require.NoError(t, store.Users().Create(ctx, &model.User{ID: "u2", Username: "bob", Role: model.RoleUser}))
	require.NoError(t, store.Problems().CreateProblem(ctx, &model.Problem{ID: "P", Code: "aplusb", Name: "A+B", Points: 10, Partial: true}))
	require.NoError(t, store.Contests().CreateContest(ctx, &model.Contest{
		ID: "c1", Key: "spring", Name: "Spring", StartTime: contestStart, EndTime: contestStart.Add(2 * time.Hour),
		FormatName: format.DefaultName,
	}))
	require.NoError(t, store.Contests().AddContestProblem(ctx, &model.ContestProblem{ContestID: "c1", ProblemID: "P", Points: 10, Order: 1}))
	require.NoError(t, store.Contests().CreateParticipation(ctx, &model.ContestParticipation{ID: "cp1", ContestID: "c1", UserID: "u1"}))

	registry, err := format.NewRegistry()
	require.NoError(t, err)
	scorer := scoring.NewScorer(store.Contests(), registry, log)
	recompute := scoring.NewRecomputer(ctx, scorer, log)
	alerts := &mockAlerter{}

	f := &serviceFixture{
		store:     store,
		registry:  registry,
		scorer:    scorer,
		recompute: recompute,
		alerts:    alerts,
		clock:     contestStart.Add(65 * time.Second),
	}
	f.grading = NewGradingService(store.Submissions(), store.Problems(), recompute, alerts, log)
	f.grading.now = func() time.Time { return f.clock }
	return f
}

func (f *serviceFixture) queue(t *testing.T, id string, submitted time.Duration) {
	t.Helper()
	part := "cp1"
	require.NoError(t, f.store.Submissions().CreateSubmission(t.Context(), &model.Submission{
		ID: id, UserID: "u1", ProblemID: "P", LanguageID: "py3", ParticipationID: &part,
		Status: model.StatusQueued, SubmittedAt: contestStart.Add(submitted),
	}))
}

func (f *serviceFixture) participation(t *testing.T) *model.ContestParticipation {
	t.Helper()
	f.recompute.Wait()
	p, err := f.store.Contests().FindParticipationByID(t.Context(), "cp1")
	require.NoError(t, err)
	return p
}

func TestGradingRejudgeFromCompileErrorToAccepted(t *testing.T) {
	f := newServiceFixture(t)
	ctx := t.Context()
	f.queue(t, "s1", 60*time.Second)

	sub, err := f.grading.ReportCompilation(ctx, "s1", "judge-1", CompilationReport{Success: false, Error: "syntax error"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompileError, sub.Status)
	require.NotNil(t, sub.JudgedBy)
	assert.Equal(t, "judge-1", *sub.JudgedBy)

	p := f.participation(t)
	assert.Equal(t, 0.0, p.Points)

	sub, err = f.grading.Rejudge(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, sub.Status)
	assert.Nil(t, sub.Result)

	f.clock = contestStart.Add(200 * time.Second)
	_, err = f.grading.ReportCompilation(ctx, "s1", "judge-2", CompilationReport{Success: true})
	require.NoError(t, err)
	_, err = f.grading.ReportCase(ctx, "s1", "judge-2", CaseReport{Case: 1, Result: model.ResultAccepted, Time: 0.1, Memory: 1024, Points: 10, Total: 10})
	require.NoError(t, err)
	sub, err = f.grading.ReportFinal(ctx, "s1", "judge-2", FinalReport{Status: model.StatusCompleted})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, sub.Status)
	require.NotNil(t, sub.Points)
	assert.Equal(t, 10.0, *sub.Points)

	p = f.participation(t)
	assert.Equal(t, 10.0, p.Points)
	assert.Equal(t, 200.0, p.Cumtime)
	assert.JSONEq(t, `{"time":200,"points":10}`, string(p.FormatData["P"]))
}

func TestGradingInternalErrorRaisesAlert(t *testing.T) {
	f := newServiceFixture(t)
	f.queue(t, "s1", 10*time.Second)
	f.alerts.On("Alert", mock.Anything, "submission ended with an internal error", mock.Anything).Return(true).Once()

	sub, err := f.grading.ReportFinal(t.Context(), "s1", "judge-1", FinalReport{Status: model.StatusInternalError})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInternalError, sub.Status)
	assert.Nil(t, sub.Points)

	// a repeated report is a no-op and does not alert again
	_, err = f.grading.ReportFinal(t.Context(), "s1", "judge-1", FinalReport{Status: model.StatusInternalError})
	require.NoError(t, err)

	p := f.participation(t)
	assert.Empty(t, p.FormatData)
	f.alerts.AssertExpectations(t)
}

func TestGradingFinalAfterAbortCountsLateCases(t *testing.T) {
	f := newServiceFixture(t)
	ctx := t.Context()
	require.NoError(t, f.store.Problems().CreateProblem(ctx, &model.Problem{ID: "Q", Code: "sort", Name: "Sort", Points: 10}))
	require.NoError(t, f.store.Contests().AddContestProblem(ctx, &model.ContestProblem{ContestID: "c1", ProblemID: "Q", Points: 10, Order: 2}))
	part := "cp1"
	require.NoError(t, f.store.Submissions().CreateSubmission(ctx, &model.Submission{
		ID: "s1", UserID: "u1", ProblemID: "Q", LanguageID: "py3", ParticipationID: &part,
		Status: model.StatusQueued, SubmittedAt: contestStart.Add(10 * time.Second),
	}))

	_, err := f.grading.ReportCompilation(ctx, "s1", "judge-1", CompilationReport{Success: true})
	require.NoError(t, err)
	_, err = f.grading.ReportCase(ctx, "s1", "judge-1", CaseReport{Case: 1, Result: model.ResultAccepted, Points: 5, Total: 5})
	require.NoError(t, err)
	_, aborted, err := f.grading.Abort(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, aborted)

	sub, err := f.grading.ReportCase(ctx, "s1", "judge-1", CaseReport{Case: 2, Result: model.ResultWrongAnswer, Points: 0, Total: 5})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAborted, sub.Status)

	cases, err := f.store.Submissions().GetSubmissionTestCases(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, cases, 2)

	sub, err = f.grading.ReportFinal(ctx, "s1", "judge-1", FinalReport{Status: model.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, sub.Status)
	assert.Equal(t, model.ResultWrongAnswer, *sub.Result)
	assert.Zero(t, *sub.Points)

	p := f.participation(t)
	assert.Zero(t, p.Points)

	// aborting a graded submission does nothing
	_, aborted, err = f.grading.Abort(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, aborted)
}

func TestGradingLateCaseRegradesCompletedSubmission(t *testing.T) {
	f := newServiceFixture(t)
	ctx := t.Context()
	f.queue(t, "s1", 10*time.Second)

	_, err := f.grading.ReportCase(ctx, "s1", "judge-1", CaseReport{Case: 1, Result: model.ResultAccepted, Points: 10, Total: 10})
	require.NoError(t, err)
	_, err = f.grading.ReportFinal(ctx, "s1", "judge-1", FinalReport{Status: model.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, 10.0, f.participation(t).Points)

	sub, err := f.grading.ReportCase(ctx, "s1", "judge-1", CaseReport{Case: 2, Result: model.ResultWrongAnswer, Points: 0, Total: 10})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, sub.Status)
	assert.Equal(t, model.ResultWrongAnswer, *sub.Result)
	assert.Equal(t, 10.0, *sub.Points)

	cases, err := f.store.Submissions().GetSubmissionTestCases(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, cases, 2)
}

func TestGradingCompletionWithoutCasesIsInternalError(t *testing.T) {
	f := newServiceFixture(t)
	f.queue(t, "s1", 10*time.Second)
	f.alerts.On("Alert", mock.Anything, "submission ended with an internal error", mock.Anything).Return(true).Once()

	sub, err := f.grading.ReportFinal(t.Context(), "s1", "judge-1", FinalReport{Status: model.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInternalError, sub.Status)
	assert.Nil(t, sub.Points)
	f.alerts.AssertExpectations(t)
}

func TestGradingRejectsInvalidCase(t *testing.T) {
	f := newServiceFixture(t)
	f.queue(t, "s1", 10*time.Second)

	_, err := f.grading.ReportCase(t.Context(), "s1", "judge-1", CaseReport{Case: 1, Result: model.ResultAccepted, Points: 11, Total: 10})
	assert.ErrorIs(t, err, common.ErrValidation)

	sub, err := f.store.Submissions().GetSubmissionByID(t.Context(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, sub.Status)
}

func TestGradingRejudgeRequiresTerminalState(t *testing.T) {
	f := newServiceFixture(t)
	f.queue(t, "s1", 10*time.Second)

	_, err := f.grading.Rejudge(t.Context(), "s1")
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestGradingUnknownSubmission(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.grading.ReportCase(t.Context(), "missing", "judge-1", CaseReport{Case: 1, Result: model.ResultAccepted})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGradingNonTerminalFinalIsRejected(t *testing.T) {
	f := newServiceFixture(t)
	f.queue(t, "s1", 10*time.Second)

	_, err := f.grading.ReportFinal(t.Context(), "s1", "judge-1", FinalReport{Status: model.StatusGrading})
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
}
