package store

import (
	"context"
	"errors"
	"time"

	"github.com/dotaduels/backend/internal/models"
)

var (
	// ErrNotFound is returned when a referenced user or match does not exist
	ErrNotFound = errors.New("not found")
	// ErrInsufficientFunds is returned when a debit would make a balance negative
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAlreadyQueued is returned when a user already has an active entry at a stake tier
	ErrAlreadyQueued = errors.New("already queued at this stake")
	// ErrMatchClosed is returned when resolving a match that is not in progress
	ErrMatchClosed = errors.New("match is not in progress")
	// ErrNotParticipant is returned when the winner is not one of the match players
	ErrNotParticipant = errors.New("winner is not a match participant")
)

// CancelOutcome reports what a cancel call actually did.
type CancelOutcome string

const (
	CancelOutcomeCancelled      CancelOutcome = "cancelled"
	CancelOutcomeNotQueued      CancelOutcome = "not_queued"
	CancelOutcomeAlreadyMatched CancelOutcome = "already_matched"
)

// StartResult is the outcome of a matchmaking start: either an immediate
// pairing (Matched true, Match and Opponent set) or a waiting queue entry.
type StartResult struct {
	Matched  bool
	Match    *models.Match
	Opponent *models.User
	Entry    *models.QueueEntry
}

// Store persists users, balances, the matchmaking queue, matches and the
// transaction ledger. Every balance change is written together with exactly
// one ledger row in the same atomic unit. Implementations: Postgres (sqlx)
// and Memory (maps, used by tests and when no DATABASE_URL is configured).
type Store interface {
	// GetOrCreateUser looks up a user by Telegram id, creating it with the
	// initial balance on first contact. The bool reports whether a new user
	// was created. Idempotent.
	GetOrCreateUser(ctx context.Context, telegramID int64, username, firstName string) (*models.User, bool, error)

	// GetUser returns the user or ErrNotFound.
	GetUser(ctx context.Context, telegramID int64) (*models.User, error)

	// StartMatchmaking debits the stake, appends a bet transaction, and either
	// pairs the user with the oldest waiting entry at the same stake (creating
	// a match and never pairing a user against themselves) or inserts a new
	// waiting entry. All of it is one atomic unit: a failure leaves balance,
	// ledger and queue untouched.
	StartMatchmaking(ctx context.Context, telegramID, stake, prize int64, expiresAt time.Time) (*StartResult, error)

	// CancelMatchmaking removes the user's waiting entry at the given stake
	// and refunds the debited stake with a refund transaction, atomically.
	// Safe to race against a concurrent pairing: if the entry was already
	// matched the outcome is AlreadyMatched and no refund happens. Calling
	// with no entry at all is a no-op (NotQueued).
	CancelMatchmaking(ctx context.Context, telegramID, stake int64) (CancelOutcome, error)

	// ActiveEntry returns the user's current waiting entry, or ErrNotFound.
	ActiveEntry(ctx context.Context, telegramID int64) (*models.QueueEntry, error)

	// LatestMatchFor returns the most recent in-progress match the user
	// participates in, or ErrNotFound.
	LatestMatchFor(ctx context.Context, telegramID int64) (*models.Match, error)

	// QueuedStakes lists the stake tiers that currently have waiting entries.
	QueuedStakes(ctx context.Context) ([]int64, error)

	// PairNext claims the two oldest waiting entries of distinct users at the
	// given stake and turns them into a match. Returns ErrNotFound when fewer
	// than two eligible entries are waiting. Used by the background sweeper.
	PairNext(ctx context.Context, stake, prize int64) (*models.Match, error)

	// ExpireQueue cancels waiting entries past their expiry and refunds their
	// stakes. Returns the number of expired entries.
	ExpireQueue(ctx context.Context, now time.Time) (int, error)

	// GetMatch returns a match by id or ErrNotFound.
	GetMatch(ctx context.Context, matchID int64) (*models.Match, error)

	// ResolveMatch completes an in-progress match, crediting the prize to the
	// winner with a payout transaction.
	ResolveMatch(ctx context.Context, matchID, winnerTelegramID int64) (*models.Match, error)

	// VoidMatch voids an in-progress match, refunding the stake to both players.
	VoidMatch(ctx context.Context, matchID int64) (*models.Match, error)

	// AdjustBalance applies a signed balance correction with a ledger row.
	// Negative adjustments that would underflow fail with ErrInsufficientFunds.
	AdjustBalance(ctx context.Context, telegramID, amount int64) (*models.User, error)

	// QueueDepths returns the number of waiting entries per stake tier.
	QueueDepths(ctx context.Context) (map[int64]int, error)

	ListUsers(ctx context.Context, limit, offset int) ([]models.User, error)
	ListMatches(ctx context.Context, limit, offset int) ([]models.Match, error)
	ListTransactions(ctx context.Context, telegramID int64, limit int) ([]models.Transaction, error)

	Close() error
}
