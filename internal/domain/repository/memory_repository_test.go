package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := t.Context()
	s := NewMemoryStore()
	s.AddLanguage(model.Language{ID: "py3", Key: "PY3", Name: "Python 3", IsActive: true})
	require.NoError(t, s.Users().Create(ctx, &model.User{ID: "u1", Username: "alice", Role: model.RoleUser}))
	require.NoError(t, s.Users().Create(ctx, &model.User{ID: "u2", Username: "bob", Role: model.RoleUser}))
	require.NoError(t, s.Problems().CreateProblem(ctx, &model.Problem{ID: "P", Code: "aplusb", Name: "A+B", Points: 10}))
	require.NoError(t, s.Problems().CreateProblem(ctx, &model.Problem{ID: "Q", Code: "sort", Name: "Sort", Points: 5}))
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Contests().CreateContest(ctx, &model.Contest{
		ID: "c1", Key: "spring", Name: "Spring", StartTime: start, EndTime: start.Add(time.Hour), FormatName: "default",
	}))
	require.NoError(t, s.Contests().CreateParticipation(ctx, &model.ContestParticipation{ID: "cp1", ContestID: "c1", UserID: "u1"}))
	require.NoError(t, s.Contests().CreateParticipation(ctx, &model.ContestParticipation{ID: "cp2", ContestID: "c1", UserID: "u2"}))
	return s
}

func TestMemoryStoreConflicts(t *testing.T) {
	s := seededStore(t)
	ctx := t.Context()

	err := s.Users().Create(ctx, &model.User{ID: "u3", Username: "alice"})
	assert.ErrorIs(t, err, common.ErrConflict)

	err = s.Contests().CreateContest(ctx, &model.Contest{ID: "c2", Key: "spring"})
	assert.ErrorIs(t, err, common.ErrConflict)

	err = s.Contests().CreateParticipation(ctx, &model.ContestParticipation{ID: "cp3", ContestID: "c1", UserID: "u1"})
	assert.ErrorIs(t, err, common.ErrConflict)

	require.NoError(t, s.Contests().AddContestProblem(ctx, &model.ContestProblem{ContestID: "c1", ProblemID: "P", Points: 10, Order: 1}))
	err = s.Contests().AddContestProblem(ctx, &model.ContestProblem{ContestID: "c1", ProblemID: "P", Points: 10, Order: 2})
	assert.ErrorIs(t, err, common.ErrConflict)

	err = s.Contests().AddContestProblem(ctx, &model.ContestProblem{ContestID: "c1", ProblemID: "nope"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryContestProblemsOrdered(t *testing.T) {
	s := seededStore(t)
	ctx := t.Context()
	require.NoError(t, s.Contests().AddContestProblem(ctx, &model.ContestProblem{ContestID: "c1", ProblemID: "Q", Points: 5, Order: 2}))
	require.NoError(t, s.Contests().AddContestProblem(ctx, &model.ContestProblem{ContestID: "c1", ProblemID: "P", Points: 10, Order: 1}))

	problems, err := s.Contests().ListContestProblems(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, problems, 2)
	assert.Equal(t, "aplusb", problems[0].ProblemCode)
	assert.Equal(t, "sort", problems[1].ProblemCode)
}

func TestMemoryWithParticipationCommitsOnlyOnSuccess(t *testing.T) {
	s := seededStore(t)
	ctx := t.Context()
	boom := errors.New("boom")

	err := s.Contests().WithParticipation(ctx, "cp1", func(ctx context.Context, _ *ParticipationSnapshot, commit CommitFunc) error {
		require.NoError(t, commit(ctx, 7, 30, model.FormatData{"P": json.RawMessage(`{"time":30,"points":7}`)}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := s.Contests().FindParticipationByID(ctx, "cp1")
	require.NoError(t, err)
	assert.Zero(t, p.Points)
	assert.Empty(t, p.FormatData)

	err = s.Contests().WithParticipation(ctx, "cp1", func(ctx context.Context, snap *ParticipationSnapshot, commit CommitFunc) error {
		assert.Equal(t, "c1", snap.Contest.ID)
		return commit(ctx, 7, 30, model.FormatData{"P": json.RawMessage(`{"time":30,"points":7}`)})
	})
	require.NoError(t, err)

	p, err = s.Contests().FindParticipationByID(ctx, "cp1")
	require.NoError(t, err)
	assert.Equal(t, 7.0, p.Points)
	assert.Equal(t, 30.0, p.Cumtime)
	assert.JSONEq(t, `{"time":30,"points":7}`, string(p.FormatData["P"]))

	err = s.Contests().WithParticipation(ctx, "missing", func(context.Context, *ParticipationSnapshot, CommitFunc) error { return nil })
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryWithParticipationSnapshotsContestSubmissions(t *testing.T) {
	s := seededStore(t)
	ctx := t.Context()
	base := time.Date(2026, 5, 1, 12, 10, 0, 0, time.UTC)
	for i, id := range []string{"s2", "s1"} {
		require.NoError(t, s.Submissions().CreateSubmission(ctx, &model.Submission{
			ID: id, UserID: "u1", ProblemID: "P", LanguageID: "py3", ParticipationID: ptr("cp1"),
			Status: model.StatusQueued, SubmittedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	// outside the contest
	require.NoError(t, s.Submissions().CreateSubmission(ctx, &model.Submission{
		ID: "s3", UserID: "u1", ProblemID: "P", LanguageID: "py3", Status: model.StatusQueued, SubmittedAt: base,
	}))

	err := s.Contests().WithParticipation(ctx, "cp1", func(_ context.Context, snap *ParticipationSnapshot, _ CommitFunc) error {
		require.Len(t, snap.Submissions, 2)
		assert.Equal(t, "s2", snap.Submissions[0].SubmissionID)
		assert.Equal(t, "s1", snap.Submissions[1].SubmissionID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemorySetFormatResetsAggregates(t *testing.T) {
	s := seededStore(t)
	ctx := t.Context()
	require.NoError(t, s.Contests().WithParticipation(ctx, "cp1", func(ctx context.Context, _ *ParticipationSnapshot, commit CommitFunc) error {
		return commit(ctx, 10, 120, model.FormatData{"P": json.RawMessage(`{"time":120,"points":10}`)})
	}))

	require.NoError(t, s.Contests().SetFormat(ctx, "c1", "default", json.RawMessage(`{}`)))

	c, err := s.Contests().FindContestByID(ctx, "c1")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(c.FormatConfig))

	p, err := s.Contests().FindParticipationByID(ctx, "cp1")
	require.NoError(t, err)
	assert.Zero(t, p.Points)
	assert.Zero(t, p.Cumtime)
	assert.Empty(t, p.FormatData)

	assert.ErrorIs(t, s.Contests().SetFormat(ctx, "nope", "default", nil), common.ErrNotFound)
}

func TestMemoryListRanking(t *testing.T) {
	s := seededStore(t)
	ctx := t.Context()
	set := func(id string, points, cumtime float64) {
		require.NoError(t, s.Contests().WithParticipation(ctx, id, func(ctx context.Context, _ *ParticipationSnapshot, commit CommitFunc) error {
			return commit(ctx, points, cumtime, model.FormatData{})
		}))
	}
	set("cp1", 10, 300)
	set("cp2", 10, 100)

	ranking, err := s.Contests().ListRanking(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, ranking, 2)
	assert.Equal(t, "bob", ranking[0].Username)
	assert.Equal(t, "alice", ranking[1].Username)

	set("cp1", 15, 300)
	ranking, err = s.Contests().ListRanking(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "alice", ranking[0].Username)
}

func TestMemoryWithSubmission(t *testing.T) {
	s := seededStore(t)
	ctx := t.Context()
	require.NoError(t, s.Submissions().CreateSubmission(ctx, &model.Submission{
		ID: "s1", UserID: "u1", ProblemID: "P", LanguageID: "py3", Status: model.StatusQueued,
	}))

	// persist=false leaves the stored row untouched
	_, err := s.Submissions().WithSubmission(ctx, "s1", func(sub *model.Submission, cases []model.SubmissionTestCase) ([]model.SubmissionTestCase, bool, error) {
		sub.Status = model.StatusGrading
		return cases, false, nil
	})
	require.NoError(t, err)
	sub, err := s.Submissions().GetSubmissionByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, sub.Status)

	_, err = s.Submissions().WithSubmission(ctx, "s1", func(sub *model.Submission, cases []model.SubmissionTestCase) ([]model.SubmissionTestCase, bool, error) {
		sub.Status = model.StatusGrading
		return append(cases, model.SubmissionTestCase{SubmissionID: "s1", Case: 1, Result: model.ResultAccepted, Points: 10, Total: 10}), true, nil
	})
	require.NoError(t, err)
	sub, err = s.Submissions().GetSubmissionByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusGrading, sub.Status)
	cases, err := s.Submissions().GetSubmissionTestCases(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, cases, 1)

	_, err = s.Submissions().WithSubmission(ctx, "missing", func(sub *model.Submission, cases []model.SubmissionTestCase) ([]model.SubmissionTestCase, bool, error) {
		return cases, true, nil
	})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryUserTotalPoints(t *testing.T) {
	s := seededStore(t)
	ctx := t.Context()
	now := time.Now()
	subs := []model.Submission{
		{ID: "s1", ProblemID: "P", Status: model.StatusCompleted, Points: ptr(4.0), GradedAt: &now},
		{ID: "s2", ProblemID: "P", Status: model.StatusCompleted, Points: ptr(10.0), GradedAt: &now},
		{ID: "s3", ProblemID: "Q", Status: model.StatusCompleted, Points: ptr(2.5), GradedAt: &now},
		// still grading, does not count
		{ID: "s4", ProblemID: "Q", Status: model.StatusGrading, Points: ptr(5.0)},
	}
	for i := range subs {
		subs[i].UserID, subs[i].LanguageID = "u1", "py3"
		require.NoError(t, s.Submissions().CreateSubmission(ctx, &subs[i]))
	}

	total, err := s.Submissions().UserTotalPoints(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 12.5, total)

	total, err = s.Submissions().UserTotalPoints(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, total)
}
