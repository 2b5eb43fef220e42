package matchmaking

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/dotaduels/backend/internal/metrics"
	"github.com/dotaduels/backend/internal/store"
)

// StartWorker runs a background job that pairs waiting users the immediate
// path missed (two starts racing can both end up queued) and expires stale
// entries with a refund.
func StartWorker(ctx context.Context, svc *Service) {
	interval := time.Duration(svc.cfg.MatchmakerPollSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[MATCHMAKER] Starting matchmaker worker (poll every %v)", interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[MATCHMAKER] Worker stopped")
			return
		case <-ticker.C:
			svc.sweep(ctx)
		}
	}
}

// sweep pairs waiting users per stake tier, expires stale entries and
// refreshes the queue depth gauge.
func (s *Service) sweep(ctx context.Context) {
	stakes, err := s.store.QueuedStakes(ctx)
	if err != nil {
		log.Printf("[MATCHMAKER] Failed to get stake tiers: %v", err)
		return
	}

	for _, stake := range stakes {
		s.pairAtStake(ctx, stake)
	}

	expired, err := s.store.ExpireQueue(ctx, time.Now())
	if err != nil {
		log.Printf("[MATCHMAKER] Failed to expire queue entries: %v", err)
	} else if expired > 0 {
		log.Printf("[MATCHMAKER] Expired and refunded %d queue entries", expired)
		metrics.ExpiredEntriesTotal.Add(float64(expired))
	}

	s.updateQueueDepths(ctx)
}

func (s *Service) pairAtStake(ctx context.Context, stake int64) {
	prize := s.cfg.Prize(stake)
	for {
		match, err := s.store.PairNext(ctx, stake, prize)
		if errors.Is(err, store.ErrNotFound) {
			return // no more pairs at this stake
		}
		if err != nil {
			log.Printf("[MATCHMAKER] Failed to pair at stake %d: %v", stake, err)
			return
		}

		log.Printf("[MATCHMAKER] Match created: id=%d players=[%d,%d] stake=%d",
			match.ID, match.Player1ID, match.Player2ID, stake)
		metrics.MatchesTotal.WithLabelValues(metrics.StakeLabel(stake)).Inc()
		s.announce(ctx, match)
	}
}

func (s *Service) updateQueueDepths(ctx context.Context) {
	depths, err := s.store.QueueDepths(ctx)
	if err != nil {
		log.Printf("[MATCHMAKER] Failed to read queue depths: %v", err)
		return
	}
	for _, tier := range s.cfg.StakeTiers {
		metrics.QueueDepth.WithLabelValues(metrics.StakeLabel(tier)).Set(float64(depths[tier]))
	}
}
