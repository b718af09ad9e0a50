package scoring

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"tle_zone_judge/internal/platform/metrics"
)

type updater interface {
	Update(ctx context.Context, participationID string) error
}

// Recomputer runs participation updates in the background. Requests for a
// participation that is already being recomputed collapse into one trailing
// pass, so a burst of grading events costs at most two passes.
type Recomputer struct {
	ctx     context.Context
	updater updater
	log     *zap.SugaredLogger

	mu      sync.Mutex
	pending map[string]bool // present while a pass runs, true if another is due
	wg      sync.WaitGroup
}

func NewRecomputer(ctx context.Context, u updater, log *zap.SugaredLogger) *Recomputer {
	return &Recomputer{
		ctx:     context.WithoutCancel(ctx),
		updater: u,
		log:     log,
		pending: make(map[string]bool),
	}
}

// Schedule asks for participationID to be recomputed. It never blocks.
func (r *Recomputer) Schedule(participationID string) {
	r.mu.Lock()
	if again, running := r.pending[participationID]; running {
		if again {
			metrics.RecomputesCoalesced.Inc()
		}
		r.pending[participationID] = true
		r.mu.Unlock()
		return
	}
	r.pending[participationID] = false
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(participationID)
}

func (r *Recomputer) run(participationID string) {
	defer r.wg.Done()
	for {
		if err := r.updater.Update(r.ctx, participationID); err != nil {
			r.log.Errorw("participation recompute failed", "participation_id", participationID, "error", err)
		}

		r.mu.Lock()
		if !r.pending[participationID] {
			delete(r.pending, participationID)
			r.mu.Unlock()
			return
		}
		r.pending[participationID] = false
		r.mu.Unlock()
	}
}

// Wait blocks until every scheduled pass has finished.
func (r *Recomputer) Wait() {
	r.wg.Wait()
}
