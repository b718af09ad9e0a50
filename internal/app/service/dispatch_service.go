package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/platform/metrics"
)

const abortKeyPrefix = "judge_abort:"

// AbortKey is the Redis key flagging a submission whose grading was aborted.
func AbortKey(submissionID string) string {
	return abortKeyPrefix + submissionID
}

type queueClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// DispatchService hands submissions to the judge fleet through Redis lists.
// Both calls return once Redis accepted the write; results arrive later
// through the judge callbacks.
type DispatchService struct {
	rdb       queueClient
	highQueue string
	lowQueue  string
	abortTTL  time.Duration
	log       *zap.SugaredLogger
}

func NewDispatchService(rdb queueClient, highQueue, lowQueue string, abortTTL time.Duration, log *zap.SugaredLogger) *DispatchService {
	return &DispatchService{rdb: rdb, highQueue: highQueue, lowQueue: lowQueue, abortTTL: abortTTL, log: log}
}

// Dispatch enqueues a submission for grading. Fresh submissions go out with
// model.PriorityHigh, rejudges with model.PriorityLow.
func (s *DispatchService) Dispatch(ctx context.Context, submissionID, priority string) error {
	queue := s.highQueue
	switch priority {
	case model.PriorityHigh:
	case model.PriorityLow:
		queue = s.lowQueue
	default:
		return fmt.Errorf("%w: unknown judge priority %q", common.ErrBadRequest, priority)
	}

	job := model.JudgeJob{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		Priority:     priority,
		EnqueuedAt:   time.Now().UTC(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return common.Errorf("failed to marshal judge job: %w", err)
	}

	// a new grading run supersedes any earlier abort request
	if err := s.rdb.Del(ctx, AbortKey(submissionID)).Err(); err != nil {
		s.log.Warnw("failed to clear abort flag", "submission_id", submissionID, "error", err)
	}

	if err := s.rdb.LPush(ctx, queue, payload).Err(); err != nil {
		metrics.JudgeDispatches.WithLabelValues(priority, "error").Inc()
		return common.Errorf("failed to push judge job to %s: %w", queue, err)
	}
	metrics.JudgeDispatches.WithLabelValues(priority, "ok").Inc()
	s.log.Infow("judge job enqueued", "job_id", job.ID, "submission_id", submissionID, "queue", queue)
	return nil
}

// RequestAbort flags the submission so workers skip it and judges stop it.
func (s *DispatchService) RequestAbort(ctx context.Context, submissionID string) error {
	if err := s.rdb.Set(ctx, AbortKey(submissionID), 1, s.abortTTL).Err(); err != nil {
		return common.Errorf("failed to flag submission %s as aborted: %w", submissionID, err)
	}
	s.log.Infow("abort requested", "submission_id", submissionID)
	return nil
}
