package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	args := m.Called(ctx, key, values)
	return redis.NewIntResult(1, args.Error(0))
}

func (m *mockQueue) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return redis.NewStatusResult("OK", args.Error(0))
}

func (m *mockQueue) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return redis.NewIntResult(0, args.Error(0))
}

func newDispatch(q *mockQueue) *DispatchService {
	return NewDispatchService(q, "judge:high", "judge:low", time.Hour, zap.NewNop().Sugar())
}

func TestDispatchPushesJobToPriorityQueue(t *testing.T) {
	q := &mockQueue{}
	q.On("Del", mock.Anything, []string{"judge_abort:s1"}).Return(nil)
	var pushed []interface{}
	q.On("LPush", mock.Anything, "judge:low", mock.Anything).Run(func(args mock.Arguments) {
		pushed = args.Get(2).([]interface{})
	}).Return(nil)

	require.NoError(t, newDispatch(q).Dispatch(t.Context(), "s1", model.PriorityLow))

	q.AssertExpectations(t)
	require.Len(t, pushed, 1)
	var job model.JudgeJob
	require.NoError(t, json.Unmarshal(pushed[0].([]byte), &job))
	assert.Equal(t, "s1", job.SubmissionID)
	assert.Equal(t, model.PriorityLow, job.Priority)
	assert.NotEmpty(t, job.ID)
}

func TestDispatchRejectsUnknownPriority(t *testing.T) {
	q := &mockQueue{}

	err := newDispatch(q).Dispatch(t.Context(), "s1", "urgent")

	assert.ErrorIs(t, err, common.ErrBadRequest)
	q.AssertNotCalled(t, "LPush", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchSurfacesQueueFailure(t *testing.T) {
	q := &mockQueue{}
	q.On("Del", mock.Anything, mock.Anything).Return(nil)
	q.On("LPush", mock.Anything, "judge:high", mock.Anything).Return(errors.New("connection refused"))

	err := newDispatch(q).Dispatch(t.Context(), "s1", model.PriorityHigh)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "judge:high")
}

func TestRequestAbortSetsFlagWithTTL(t *testing.T) {
	q := &mockQueue{}
	q.On("Set", mock.Anything, "judge_abort:s1", 1, time.Hour).Return(nil)

	require.NoError(t, newDispatch(q).RequestAbort(t.Context(), "s1"))
	q.AssertExpectations(t)
}
