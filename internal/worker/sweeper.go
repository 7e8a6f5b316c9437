package worker

import (
	"context"
	"time"

	"github.com/Ni8crawler18/Phloem/config"
	"github.com/Ni8crawler18/Phloem/internal/core/ports"
	"github.com/Ni8crawler18/Phloem/internal/metrics"

	"github.com/rs/zerolog"
)

// Sweeper runs the recurring background passes over delivery records:
// claiming due retries for redelivery and reclaiming records stranded
// non-terminal (pending after a crash, retrying after a claim whose
// redelivery never concluded). Claiming is an atomic failed->retrying
// transition in the store, so concurrent sweep runs never dispatch the
// same record twice.
type Sweeper struct {
	dlvRepo ports.DeliveryRepository
	dlvSvc  ports.DeliveryService
	pool    *Pool
	cfg     config.WebhookConfig
	log     zerolog.Logger
}

// NewSweeper creates a sweeper dispatching redeliveries to the pool.
func NewSweeper(dlvRepo ports.DeliveryRepository, dlvSvc ports.DeliveryService, pool *Pool, cfg config.WebhookConfig, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		dlvRepo: dlvRepo,
		dlvSvc:  dlvSvc,
		pool:    pool,
		cfg:     cfg,
		log:     log,
	}
}

// SweepRetries claims due failed records and dispatches one redelivery
// each to the worker pool.
func (s *Sweeper) SweepRetries(ctx context.Context) {
	due, err := s.dlvRepo.ClaimDue(ctx, time.Now(), s.cfg.MaxAttempts, s.cfg.SweepBatch)
	if err != nil {
		s.log.Error().Err(err).Msg("retry sweep: failed to claim due records")
		return
	}
	if len(due) == 0 {
		return
	}

	for i := range due {
		d := due[i]
		ok := s.pool.Submit(func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), s.cfg.FanoutDeadline)
			defer cancel()
			s.dlvSvc.Redeliver(jobCtx, &d)
		})
		if !ok {
			// The stalled sweep reclaims the record once it ages past the
			// reclaim threshold.
			s.log.Warn().Str("delivery_id", d.ID.String()).Msg("retry sweep: worker pool stopped, record left in retrying")
		}
	}

	metrics.SweepReclaimed.WithLabelValues("retry").Add(float64(len(due)))
	s.log.Info().Int("claimed", len(due)).Msg("retry sweep dispatched")
}

// ReclaimStalled flips records stranded non-terminal since before the
// reclaim age to failed, leaving them immediately eligible for retry if
// attempt budget remains. This is the backstop for deliveries
// interrupted mid-flight and for claimed retries whose redelivery never
// persisted an outcome.
func (s *Sweeper) ReclaimStalled(ctx context.Context) {
	now := time.Now()
	cutoff := now.Add(-s.cfg.StalledReclaimAge)

	n, err := s.dlvRepo.ReclaimStalled(ctx, cutoff, now, s.cfg.MaxAttempts)
	if err != nil {
		s.log.Error().Err(err).Msg("stalled sweep: failed to reclaim records")
		return
	}
	if n > 0 {
		metrics.SweepReclaimed.WithLabelValues("stalled").Add(float64(n))
		s.log.Warn().Int64("reclaimed", n).Msg("stalled sweep reclaimed delivery records")
	}
}
