package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dotaduels/backend/internal/config"
	"github.com/dotaduels/backend/internal/metrics"
	"github.com/dotaduels/backend/internal/models"
	"github.com/dotaduels/backend/internal/store"
	"github.com/dotaduels/backend/internal/ws"
)

// ErrInvalidStake is returned when the requested stake is not a configured tier
var ErrInvalidStake = errors.New("stake is not a configured tier")

const matchResultTTL = 10 * time.Minute

// Service implements the matchmaking lifecycle (start, cancel, status) over a
// Store. Redis, when configured, caches pairing results for the polling
// endpoint and fans match events out to websocket clients.
type Service struct {
	store store.Store
	rdb   *redis.Client
	cfg   *config.Config
}

// MatchView is the client-facing shape of a pairing result
type MatchView struct {
	MatchID          int64  `json:"match_id"`
	OpponentName     string `json:"opponent_first_name"`
	OpponentUsername string `json:"opponent_username"`
	Stake            int64  `json:"stake"`
	Prize            int64  `json:"prize"`
	Status           string `json:"status"`
}

// StartOutcome is what a start call produced: an immediate match or a queue spot
type StartOutcome struct {
	MatchFound bool
	Match      *MatchView
	Entry      *models.QueueEntry
}

// StatusView reports a user's current matchmaking state for the polling client
type StatusView struct {
	Status string     `json:"status"` // queued | matched | idle
	Match  *MatchView `json:"match,omitempty"`
	Stake  int64      `json:"stake,omitempty"`
}

func NewService(st store.Store, rdb *redis.Client, cfg *config.Config) *Service {
	return &Service{store: st, rdb: rdb, cfg: cfg}
}

// Start debits the stake and either pairs the user with the oldest waiting
// opponent at that stake or leaves them waiting. The debit and the queue
// change are one atomic store operation.
func (s *Service) Start(ctx context.Context, telegramID, stake int64) (*StartOutcome, error) {
	if !s.cfg.IsValidStake(stake) {
		return nil, ErrInvalidStake
	}

	prize := s.cfg.Prize(stake)
	expiresAt := time.Now().Add(time.Duration(s.cfg.QueueExpiryMinutes) * time.Minute)

	res, err := s.store.StartMatchmaking(ctx, telegramID, stake, prize, expiresAt)
	if err != nil {
		return nil, err
	}

	if !res.Matched {
		log.Printf("[MATCH] User queued: telegram_id=%d stake=%d entry=%d", telegramID, stake, res.Entry.ID)
		metrics.EnqueuesTotal.WithLabelValues(metrics.StakeLabel(stake)).Inc()
		return &StartOutcome{Entry: res.Entry}, nil
	}

	log.Printf("[MATCH] Immediate match: id=%d players=[%d,%d] stake=%d prize=%d",
		res.Match.ID, res.Match.Player1ID, res.Match.Player2ID, stake, prize)
	metrics.MatchesTotal.WithLabelValues(metrics.StakeLabel(stake)).Inc()

	s.announce(ctx, res.Match)

	return &StartOutcome{
		MatchFound: true,
		Match: &MatchView{
			MatchID:          res.Match.ID,
			OpponentName:     res.Opponent.FirstName,
			OpponentUsername: res.Opponent.Username,
			Stake:            stake,
			Prize:            prize,
			Status:           res.Match.Status,
		},
	}, nil
}

// Cancel removes the user's waiting entry and refunds the stake. Idempotent:
// absence of an entry is not an error, and a cancel that lost the race
// against a pairing reports already_matched without touching the balance.
func (s *Service) Cancel(ctx context.Context, telegramID, stake int64) (store.CancelOutcome, error) {
	if !s.cfg.IsValidStake(stake) {
		return "", ErrInvalidStake
	}

	outcome, err := s.store.CancelMatchmaking(ctx, telegramID, stake)
	if err != nil {
		return "", err
	}

	log.Printf("[CANCEL] telegram_id=%d stake=%d outcome=%s", telegramID, stake, outcome)
	metrics.CancelsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

// Status reports the user's current matchmaking state. A cached pairing
// result in Redis answers first; otherwise the store is consulted.
func (s *Service) Status(ctx context.Context, telegramID int64) (*StatusView, error) {
	if view := s.cachedResult(ctx, telegramID); view != nil {
		return &StatusView{Status: "matched", Match: view}, nil
	}

	entry, err := s.store.ActiveEntry(ctx, telegramID)
	if err == nil {
		return &StatusView{Status: "queued", Stake: entry.Stake}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	match, err := s.store.LatestMatchFor(ctx, telegramID)
	if errors.Is(err, store.ErrNotFound) {
		return &StatusView{Status: "idle"}, nil
	}
	if err != nil {
		return nil, err
	}

	view, err := s.matchViewFor(ctx, match, telegramID)
	if err != nil {
		return nil, err
	}
	return &StatusView{Status: "matched", Match: view}, nil
}

// announce caches the pairing result for both participants and pushes
// match_found to any connected websocket client.
func (s *Service) announce(ctx context.Context, match *models.Match) {
	for _, telegramID := range []int64{match.Player1ID, match.Player2ID} {
		view, err := s.matchViewFor(ctx, match, telegramID)
		if err != nil {
			log.Printf("[MATCH] Failed to build match view for telegram_id=%d: %v", telegramID, err)
			continue
		}

		s.cacheResult(ctx, telegramID, view)
		ws.PublishMatchFound(ctx, s.rdb, ws.MatchFoundEvent{
			Type:             "match_found",
			TelegramID:       telegramID,
			MatchID:          view.MatchID,
			OpponentName:     view.OpponentName,
			OpponentUsername: view.OpponentUsername,
			Stake:            view.Stake,
			Prize:            view.Prize,
			Status:           view.Status,
		})
	}
}

// matchViewFor renders a match from one participant's perspective
func (s *Service) matchViewFor(ctx context.Context, match *models.Match, telegramID int64) (*MatchView, error) {
	opponentID := match.Player1ID
	if telegramID == match.Player1ID {
		opponentID = match.Player2ID
	}

	opponent, err := s.store.GetUser(ctx, opponentID)
	if err != nil {
		return nil, fmt.Errorf("load opponent %d: %w", opponentID, err)
	}

	return &MatchView{
		MatchID:          match.ID,
		OpponentName:     opponent.FirstName,
		OpponentUsername: opponent.Username,
		Stake:            match.Stake,
		Prize:            match.Prize,
		Status:           match.Status,
	}, nil
}

func resultKey(telegramID int64) string {
	return fmt.Sprintf("match_result:%d", telegramID)
}

func (s *Service) cacheResult(ctx context.Context, telegramID int64, view *MatchView) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, resultKey(telegramID), data, matchResultTTL).Err(); err != nil {
		log.Printf("[MATCH] Failed to cache result for telegram_id=%d: %v", telegramID, err)
	}
}

func (s *Service) cachedResult(ctx context.Context, telegramID int64) *MatchView {
	if s.rdb == nil {
		return nil
	}
	data, err := s.rdb.Get(ctx, resultKey(telegramID)).Bytes()
	if err != nil {
		return nil
	}
	var view MatchView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil
	}
	return &view
}
