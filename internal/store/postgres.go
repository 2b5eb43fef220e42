package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dotaduels/backend/internal/models"
)

const userColumns = `id, telegram_id, username, first_name, balance, created_at, updated_at`
const entryColumns = `id, telegram_id, username, first_name, stake, status, created_at, matched_at, expires_at`
const matchColumns = `id, player1_id, player2_id, stake, prize, status, winner_id, created_at, completed_at`

// Postgres implements Store over sqlx. Balance rows are locked FOR UPDATE and
// waiting queue entries are claimed with FOR UPDATE SKIP LOCKED, so two
// concurrent starts at the same stake can never claim the same entry.
type Postgres struct {
	db             *sqlx.DB
	initialBalance int64
}

// NewPostgres wraps an open sqlx handle. New users start with initialBalance.
func NewPostgres(db *sqlx.DB, initialBalance int64) *Postgres {
	return &Postgres{db: db, initialBalance: initialBalance}
}

func (s *Postgres) GetOrCreateUser(ctx context.Context, telegramID int64, username, firstName string) (*models.User, bool, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE telegram_id=$1`, telegramID)
	if err == nil {
		return &u, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("lookup user: %w", err)
	}

	// ON CONFLICT DO NOTHING keeps creation idempotent under concurrent first
	// contact: the loser of the race falls through to the re-select.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (telegram_id, username, first_name, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (telegram_id) DO NOTHING
	`, telegramID, username, firstName, s.initialBalance)
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
		log.Printf("[DB] New user created: telegram_id=%d username=%s", telegramID, username)
	}

	if err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE telegram_id=$1`, telegramID); err != nil {
		return nil, false, fmt.Errorf("reselect user: %w", err)
	}
	return &u, created, nil
}

func (s *Postgres) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE telegram_id=$1`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *Postgres) StartMatchmaking(ctx context.Context, telegramID, stake, prize int64, expiresAt time.Time) (*StartResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var u models.User
	err = tx.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE telegram_id=$1 FOR UPDATE`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}

	var active int
	if err := tx.GetContext(ctx, &active, `
		SELECT COUNT(*) FROM matchmaking_queue
		WHERE telegram_id=$1 AND stake=$2 AND status='queued' AND expires_at > NOW()
	`, telegramID, stake); err != nil {
		return nil, fmt.Errorf("check active entry: %w", err)
	}
	if active > 0 {
		return nil, ErrAlreadyQueued
	}

	if u.Balance < stake {
		return nil, ErrInsufficientFunds
	}

	// Debit the stake and record the bet in the same tx as the queue change
	if _, err := tx.ExecContext(ctx, `UPDATE users SET balance = balance - $1, updated_at = NOW() WHERE telegram_id=$2`, stake, telegramID); err != nil {
		return nil, fmt.Errorf("debit stake: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (telegram_id, type, amount, created_at) VALUES ($1, 'bet', $2, NOW())`, telegramID, -stake); err != nil {
		return nil, fmt.Errorf("insert bet transaction: %w", err)
	}

	// Claim the oldest waiting entry at this stake, if any.
	// FOR UPDATE SKIP LOCKED ensures an atomic claim without blocking: a
	// concurrent start that already locked this row is skipped.
	var opponent models.QueueEntry
	err = tx.GetContext(ctx, &opponent, `
		SELECT `+entryColumns+`
		FROM matchmaking_queue
		WHERE stake=$1 AND status='queued' AND telegram_id <> $2 AND expires_at > NOW()
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, stake, telegramID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim waiting entry: %w", err)
	}

	if err == nil {
		match := models.Match{
			Player1ID: opponent.TelegramID,
			Player2ID: telegramID,
			Stake:     stake,
			Prize:     prize,
			Status:    models.MatchInProgress,
		}
		if err := tx.QueryRowxContext(ctx, `
			INSERT INTO matches (player1_id, player2_id, stake, prize, status, created_at)
			VALUES ($1, $2, $3, $4, 'in_progress', NOW())
			RETURNING id, created_at
		`, match.Player1ID, match.Player2ID, stake, prize).Scan(&match.ID, &match.CreatedAt); err != nil {
			return nil, fmt.Errorf("create match: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE matchmaking_queue SET status='matched', matched_at=NOW() WHERE id=$1`, opponent.ID); err != nil {
			return nil, fmt.Errorf("mark entry matched: %w", err)
		}

		var opp models.User
		if err := tx.GetContext(ctx, &opp, `SELECT `+userColumns+` FROM users WHERE telegram_id=$1`, opponent.TelegramID); err != nil {
			return nil, fmt.Errorf("load opponent: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		log.Printf("[DB] Match created: id=%d players=[%d,%d] stake=%d prize=%d", match.ID, match.Player1ID, match.Player2ID, stake, prize)
		return &StartResult{Matched: true, Match: &match, Opponent: &opp}, nil
	}

	// No opponent waiting: insert our own entry
	entry := models.QueueEntry{
		TelegramID: telegramID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		Stake:      stake,
		Status:     models.QueueStatusQueued,
		ExpiresAt:  expiresAt,
	}
	if err := tx.QueryRowxContext(ctx, `
		INSERT INTO matchmaking_queue (telegram_id, username, first_name, stake, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, 'queued', NOW(), $5)
		RETURNING id, created_at
	`, telegramID, u.Username, u.FirstName, stake, expiresAt).Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert queue entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &StartResult{Entry: &entry}, nil
}

func (s *Postgres) CancelMatchmaking(ctx context.Context, telegramID, stake int64) (CancelOutcome, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Latest entry for this user and stake decides the outcome. Locking it
	// makes the race against a concurrent pairing safe: whoever commits first
	// wins, and the loser observes the updated status.
	var entry models.QueueEntry
	err = tx.GetContext(ctx, &entry, `
		SELECT `+entryColumns+`
		FROM matchmaking_queue
		WHERE telegram_id=$1 AND stake=$2
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, telegramID, stake)
	if errors.Is(err, sql.ErrNoRows) {
		return CancelOutcomeNotQueued, nil
	}
	if err != nil {
		return "", fmt.Errorf("lock entry: %w", err)
	}

	switch entry.Status {
	case models.QueueStatusMatched:
		return CancelOutcomeAlreadyMatched, nil
	case models.QueueStatusQueued:
		// fall through to cancel + refund
	default:
		return CancelOutcomeNotQueued, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE matchmaking_queue SET status='cancelled' WHERE id=$1`, entry.ID); err != nil {
		return "", fmt.Errorf("cancel entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET balance = balance + $1, updated_at = NOW() WHERE telegram_id=$2`, stake, telegramID); err != nil {
		return "", fmt.Errorf("refund stake: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (telegram_id, type, amount, created_at) VALUES ($1, 'refund', $2, NOW())`, telegramID, stake); err != nil {
		return "", fmt.Errorf("insert refund transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	log.Printf("[DB] Queue entry %d cancelled for telegram_id=%d, refunded %d", entry.ID, telegramID, stake)
	return CancelOutcomeCancelled, nil
}

func (s *Postgres) ActiveEntry(ctx context.Context, telegramID int64) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := s.db.GetContext(ctx, &entry, `
		SELECT `+entryColumns+`
		FROM matchmaking_queue
		WHERE telegram_id=$1 AND status='queued' AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active entry: %w", err)
	}
	return &entry, nil
}

func (s *Postgres) LatestMatchFor(ctx context.Context, telegramID int64) (*models.Match, error) {
	var match models.Match
	err := s.db.GetContext(ctx, &match, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE status='in_progress' AND (player1_id=$1 OR player2_id=$1)
		ORDER BY created_at DESC
		LIMIT 1
	`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest match: %w", err)
	}
	return &match, nil
}

func (s *Postgres) QueuedStakes(ctx context.Context) ([]int64, error) {
	var stakes []int64
	err := s.db.SelectContext(ctx, &stakes, `
		SELECT DISTINCT stake
		FROM matchmaking_queue
		WHERE status = 'queued'
		  AND expires_at > NOW()
		ORDER BY stake
	`)
	if err != nil {
		return nil, fmt.Errorf("queued stakes: %w", err)
	}
	return stakes, nil
}

func (s *Postgres) PairNext(ctx context.Context, stake, prize int64) (*models.Match, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Claim two waiting entries at this stake, oldest first
	var entries []models.QueueEntry
	err = tx.SelectContext(ctx, &entries, `
		SELECT `+entryColumns+`
		FROM matchmaking_queue
		WHERE stake = $1
		  AND status = 'queued'
		  AND expires_at > NOW()
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 2
	`, stake)
	if err != nil {
		return nil, fmt.Errorf("claim entries: %w", err)
	}
	if len(entries) < 2 {
		return nil, ErrNotFound
	}
	if entries[0].TelegramID == entries[1].TelegramID {
		// never pair a user against themselves
		return nil, ErrNotFound
	}

	match := models.Match{
		Player1ID: entries[0].TelegramID,
		Player2ID: entries[1].TelegramID,
		Stake:     stake,
		Prize:     prize,
		Status:    models.MatchInProgress,
	}
	if err := tx.QueryRowxContext(ctx, `
		INSERT INTO matches (player1_id, player2_id, stake, prize, status, created_at)
		VALUES ($1, $2, $3, $4, 'in_progress', NOW())
		RETURNING id, created_at
	`, match.Player1ID, match.Player2ID, stake, prize).Scan(&match.ID, &match.CreatedAt); err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE matchmaking_queue
		SET status='matched', matched_at=NOW()
		WHERE id IN ($1, $2)
	`, entries[0].ID, entries[1].ID); err != nil {
		return nil, fmt.Errorf("mark entries matched: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &match, nil
}

func (s *Postgres) ExpireQueue(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var entries []models.QueueEntry
	err = tx.SelectContext(ctx, &entries, `
		SELECT `+entryColumns+`
		FROM matchmaking_queue
		WHERE status='queued' AND expires_at <= $1
		FOR UPDATE SKIP LOCKED
	`, now)
	if err != nil {
		return 0, fmt.Errorf("select expired: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `UPDATE matchmaking_queue SET status='expired' WHERE id=$1`, e.ID); err != nil {
			return 0, fmt.Errorf("expire entry %d: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET balance = balance + $1, updated_at = NOW() WHERE telegram_id=$2`, e.Stake, e.TelegramID); err != nil {
			return 0, fmt.Errorf("refund expired entry %d: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (telegram_id, type, amount, created_at) VALUES ($1, 'refund', $2, NOW())`, e.TelegramID, e.Stake); err != nil {
			return 0, fmt.Errorf("insert refund for entry %d: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(entries), nil
}

func (s *Postgres) GetMatch(ctx context.Context, matchID int64) (*models.Match, error) {
	var match models.Match
	err := s.db.GetContext(ctx, &match, `SELECT `+matchColumns+` FROM matches WHERE id=$1`, matchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	return &match, nil
}

func (s *Postgres) ResolveMatch(ctx context.Context, matchID, winnerTelegramID int64) (*models.Match, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	match, err := lockMatch(ctx, tx, matchID)
	if err != nil {
		return nil, err
	}
	if winnerTelegramID != match.Player1ID && winnerTelegramID != match.Player2ID {
		return nil, ErrNotParticipant
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET balance = balance + $1, updated_at = NOW() WHERE telegram_id=$2`, match.Prize, winnerTelegramID); err != nil {
		return nil, fmt.Errorf("credit prize: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (telegram_id, type, amount, match_id, created_at) VALUES ($1, 'payout', $2, $3, NOW())`, winnerTelegramID, match.Prize, match.ID); err != nil {
		return nil, fmt.Errorf("insert payout transaction: %w", err)
	}
	if err := tx.GetContext(ctx, match, `
		UPDATE matches SET status='completed', winner_id=$1, completed_at=NOW()
		WHERE id=$2
		RETURNING `+matchColumns+`
	`, winnerTelegramID, matchID); err != nil {
		return nil, fmt.Errorf("complete match: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	log.Printf("[DB] Match %d resolved: winner=%d payout=%d", matchID, winnerTelegramID, match.Prize)
	return match, nil
}

func (s *Postgres) VoidMatch(ctx context.Context, matchID int64) (*models.Match, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	match, err := lockMatch(ctx, tx, matchID)
	if err != nil {
		return nil, err
	}

	for _, player := range []int64{match.Player1ID, match.Player2ID} {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET balance = balance + $1, updated_at = NOW() WHERE telegram_id=$2`, match.Stake, player); err != nil {
			return nil, fmt.Errorf("refund player %d: %w", player, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (telegram_id, type, amount, match_id, created_at) VALUES ($1, 'refund', $2, $3, NOW())`, player, match.Stake, match.ID); err != nil {
			return nil, fmt.Errorf("insert refund for player %d: %w", player, err)
		}
	}
	if err := tx.GetContext(ctx, match, `
		UPDATE matches SET status='voided', completed_at=NOW()
		WHERE id=$1
		RETURNING `+matchColumns+`
	`, matchID); err != nil {
		return nil, fmt.Errorf("void match: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	log.Printf("[DB] Match %d voided, both stakes refunded", matchID)
	return match, nil
}

func (s *Postgres) AdjustBalance(ctx context.Context, telegramID, amount int64) (*models.User, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var u models.User
	err = tx.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE telegram_id=$1 FOR UPDATE`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	if u.Balance+amount < 0 {
		return nil, ErrInsufficientFunds
	}

	if err := tx.GetContext(ctx, &u, `
		UPDATE users SET balance = balance + $1, updated_at = NOW()
		WHERE telegram_id=$2
		RETURNING `+userColumns+`
	`, amount, telegramID); err != nil {
		return nil, fmt.Errorf("adjust balance: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (telegram_id, type, amount, created_at) VALUES ($1, 'adjust', $2, NOW())`, telegramID, amount); err != nil {
		return nil, fmt.Errorf("insert adjust transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &u, nil
}

func (s *Postgres) QueueDepths(ctx context.Context) (map[int64]int, error) {
	rows := []struct {
		Stake int64 `db:"stake"`
		Count int   `db:"count"`
	}{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT stake, COUNT(*) AS count
		FROM matchmaking_queue
		WHERE status='queued' AND expires_at > NOW()
		GROUP BY stake
	`)
	if err != nil {
		return nil, fmt.Errorf("queue depths: %w", err)
	}
	depths := make(map[int64]int, len(rows))
	for _, r := range rows {
		depths[r.Stake] = r.Count
	}
	return depths, nil
}

func (s *Postgres) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	var users []models.User
	err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Postgres) ListMatches(ctx context.Context, limit, offset int) ([]models.Match, error) {
	var matches []models.Match
	err := s.db.SelectContext(ctx, &matches, `SELECT `+matchColumns+` FROM matches ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return matches, nil
}

func (s *Postgres) ListTransactions(ctx context.Context, telegramID int64, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := s.db.SelectContext(ctx, &txns, `
		SELECT id, telegram_id, type, amount, match_id, created_at
		FROM transactions
		WHERE telegram_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, telegramID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

func (s *Postgres) Close() error { return s.db.Close() }

func lockMatch(ctx context.Context, tx *sqlx.Tx, matchID int64) (*models.Match, error) {
	var match models.Match
	err := tx.GetContext(ctx, &match, `SELECT `+matchColumns+` FROM matches WHERE id=$1 FOR UPDATE`, matchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock match: %w", err)
	}
	if match.Status != models.MatchInProgress {
		return nil, ErrMatchClosed
	}
	return &match, nil
}
