package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tle_zone_judge/internal/app/service"
	"tle_zone_judge/internal/domain/model"
	"tle_zone_judge/internal/domain/repository"
	"tle_zone_judge/internal/platform/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	lockKeyPrefix = "judge_lock:"
	popTimeout    = 5 * time.Second
)

// releaseLock deletes the lock only while it still carries our token.
var releaseLock = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

type queueClient interface {
	redis.Scripter
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

type finalReporter interface {
	ReportFinal(ctx context.Context, submissionID, judgeID string, rep service.FinalReport) (*model.Submission, error)
}

type Options struct {
	HighQueue       string
	LowQueue        string
	LockTTL         time.Duration
	FleetURL        string
	CallbackBaseURL string
	RequestTimeout  time.Duration
}

// JudgeWorker moves queued judge jobs to the judge fleet. Queues are polled
// in priority order; results come back through the judge callbacks.
type JudgeWorker struct {
	rdb            queueClient
	submissionRepo repository.SubmissionRepository
	problemRepo    repository.ProblemRepository
	grading        finalReporter
	httpClient     *http.Client
	opts           Options
	log            *zap.SugaredLogger
}

func NewJudgeWorker(
	rdb queueClient,
	subRepo repository.SubmissionRepository,
	probRepo repository.ProblemRepository,
	grading finalReporter,
	opts Options,
	log *zap.SugaredLogger,
) *JudgeWorker {
	return &JudgeWorker{
		rdb:            rdb,
		submissionRepo: subRepo,
		problemRepo:    probRepo,
		grading:        grading,
		httpClient:     &http.Client{Timeout: opts.RequestTimeout},
		opts:           opts,
		log:            log,
	}
}

// FleetRequest is the body posted to the judge fleet.
type FleetRequest struct {
	JobID         string    `json:"job_id"`
	SubmissionID  string    `json:"submission_id"`
	Priority      string    `json:"priority"`
	ProblemCode   string    `json:"problem_code"`
	Language      string    `json:"language"`
	Source        string    `json:"source"`
	TimeLimitMs   int       `json:"time_limit_ms"`
	MemoryLimitKb int       `json:"memory_limit_kb"`
	ShortCircuit  bool      `json:"short_circuit"`
	Callbacks     Callbacks `json:"callbacks"`
}

type Callbacks struct {
	Compile string `json:"compile"`
	Cases   string `json:"cases"`
	Final   string `json:"final"`
}

func (w *JudgeWorker) Start(ctx context.Context) {
	w.log.Infow("judge worker started", "queues", []string{w.opts.HighQueue, w.opts.LowQueue})
	for {
		select {
		case <-ctx.Done():
			w.log.Info("judge worker stopping")
			return
		default:
		}

		// BRPop checks keys in order, so the high queue always drains first.
		res, err := w.rdb.BRPop(ctx, popTimeout, w.opts.HighQueue, w.opts.LowQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.log.Errorw("failed to pop judge queues", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if len(res) < 2 || res[1] == "" {
			w.log.Warn("BRPop returned an empty job")
			continue
		}
		w.handle(ctx, res[0], res[1])
	}
}

func (w *JudgeWorker) handle(ctx context.Context, queue, payload string) {
	var job model.JudgeJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil || job.SubmissionID == "" {
		w.log.Errorw("dropping malformed judge job", "queue", queue, "payload", payload, "error", err)
		return
	}

	aborted, err := w.rdb.Exists(ctx, service.AbortKey(job.SubmissionID)).Result()
	if err != nil {
		w.log.Warnw("failed to check abort flag", "submission_id", job.SubmissionID, "error", err)
	}
	if aborted > 0 {
		w.log.Infow("skipping aborted submission", "submission_id", job.SubmissionID, "job_id", job.ID)
		metrics.JudgeForwards.WithLabelValues("aborted").Inc()
		return
	}

	lockKey := lockKeyPrefix + job.SubmissionID
	token := uuid.NewString()
	ok, err := w.rdb.SetNX(ctx, lockKey, token, w.opts.LockTTL).Result()
	if err != nil || !ok {
		w.log.Infow("submission is locked by another worker, re-queueing", "submission_id", job.SubmissionID, "error", err)
		w.requeue(ctx, queue, payload)
		return
	}
	defer func() {
		deleted, err := releaseLock.Run(context.WithoutCancel(ctx), w.rdb, []string{lockKey}, token).Int64()
		if err != nil {
			w.log.Errorw("failed to release judge lock", "submission_id", job.SubmissionID, "error", err)
		} else if deleted == 0 {
			w.log.Warnw("judge lock expired before release", "submission_id", job.SubmissionID)
		}
	}()

	if err := w.forward(ctx, job); err != nil {
		metrics.JudgeForwards.WithLabelValues("error").Inc()
		w.log.Errorw("failed to forward judge job", "submission_id", job.SubmissionID, "job_id", job.ID, "error", err)
		if _, ferr := w.grading.ReportFinal(ctx, job.SubmissionID, "", service.FinalReport{Status: model.StatusInternalError}); ferr != nil {
			w.log.Errorw("failed to mark submission as internal error", "submission_id", job.SubmissionID, "error", ferr)
		}
		return
	}
}

// errSkipped marks jobs whose submission no longer needs grading.
var errSkipped = errors.New("submission no longer queued")

func (w *JudgeWorker) forward(ctx context.Context, job model.JudgeJob) error {
	req, err := w.buildRequest(ctx, job)
	if errors.Is(err, errSkipped) {
		w.log.Infow("skipping judge job", "submission_id", job.SubmissionID, "reason", err)
		metrics.JudgeForwards.WithLabelValues("skipped").Inc()
		return nil
	}
	if err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal fleet request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.opts.FleetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build fleet request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("judge fleet unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("judge fleet returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	metrics.JudgeForwards.WithLabelValues("ok").Inc()
	w.log.Infow("judge job forwarded", "submission_id", job.SubmissionID, "job_id", job.ID, "priority", job.Priority)
	return nil
}

func (w *JudgeWorker) buildRequest(ctx context.Context, job model.JudgeJob) (*FleetRequest, error) {
	sub, err := w.submissionRepo.GetSubmissionByID(ctx, job.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}
	if sub.Status != model.StatusQueued {
		return nil, fmt.Errorf("%w: status %s", errSkipped, sub.Status)
	}
	problem, err := w.problemRepo.FindProblemByID(ctx, sub.ProblemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load problem %s: %w", sub.ProblemID, err)
	}
	language, err := w.problemRepo.GetLanguageByID(ctx, sub.LanguageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load language %s: %w", sub.LanguageID, err)
	}

	base := strings.TrimRight(w.opts.CallbackBaseURL, "/") + "/api/v1/judge/submissions/" + sub.ID
	return &FleetRequest{
		JobID:         job.ID,
		SubmissionID:  sub.ID,
		Priority:      job.Priority,
		ProblemCode:   problem.Code,
		Language:      language.Key,
		Source:        sub.Source,
		TimeLimitMs:   problem.TimeLimitMs,
		MemoryLimitKb: problem.MemoryLimitKb,
		ShortCircuit:  problem.ShortCircuit,
		Callbacks: Callbacks{
			Compile: base + "/compile",
			Cases:   base + "/cases",
			Final:   base + "/final",
		},
	}, nil
}

func (w *JudgeWorker) requeue(ctx context.Context, queue, payload string) {
	if err := w.rdb.LPush(ctx, queue, payload).Err(); err != nil {
		w.log.Errorw("failed to re-queue judge job", "queue", queue, "error", err)
	}
}
