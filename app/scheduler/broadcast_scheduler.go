// Package scheduler runs periodic background jobs
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	businessflow "github.com/amirphl/broadcast-hub/business_flow"
	"github.com/amirphl/broadcast-hub/utils"
)

// Dispatcher is the part of the broadcast flow the scheduler drives
type Dispatcher interface {
	DispatchDue(ctx context.Context, now time.Time, batchSize int) (*businessflow.DispatchResult, error)
}

// BroadcastScheduler periodically materializes broadcasts whose scheduled time has passed
type BroadcastScheduler struct {
	dispatcher Dispatcher
	interval   time.Duration
	batchSize  int
	timeout    time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

func NewBroadcastScheduler(dispatcher Dispatcher, interval time.Duration, batchSize int) *BroadcastScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 20
	}

	return &BroadcastScheduler{
		dispatcher: dispatcher,
		interval:   interval,
		batchSize:  batchSize,
		timeout:    5 * time.Minute,
		now:        utils.UTCNow,
		logger:     log.With().Str("component", "broadcast_scheduler").Logger(),
	}
}

// Start launches the scheduler loop in a background goroutine and returns a
// stop function that waits for the running tick to finish
func (s *BroadcastScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	s.logger.Info().Dur("interval", s.interval).Int("batch_size", s.batchSize).Msg("broadcast scheduler started")

	return func() {
		cancel()
		wg.Wait()
		s.logger.Info().Msg("broadcast scheduler stopped")
	}
}

func (s *BroadcastScheduler) runOnce(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.dispatcher.DispatchDue(tickCtx, s.now(), s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("dispatch of due broadcasts failed")
		return
	}
	if res == nil || res.Dispatched+res.Failed+res.Skipped == 0 {
		return
	}

	s.logger.Info().
		Int("dispatched", res.Dispatched).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Msg("dispatched due broadcasts")
}
