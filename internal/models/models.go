package models

import (
	"database/sql"
	"time"
)

// Match statuses
const (
	MatchInProgress = "in_progress"
	MatchCompleted  = "completed"
	MatchVoided     = "voided"
)

// Queue entry statuses
const (
	QueueStatusQueued    = "queued"
	QueueStatusMatched   = "matched"
	QueueStatusCancelled = "cancelled"
	QueueStatusExpired   = "expired"
)

// Transaction types
const (
	TxTypeBet    = "bet"
	TxTypeRefund = "refund"
	TxTypePayout = "payout"
	TxTypeAdjust = "adjust"
)

// User represents a player identified by their Telegram account
type User struct {
	ID         int64     `db:"id" json:"id"`
	TelegramID int64     `db:"telegram_id" json:"telegram_id"`
	Username   string    `db:"username" json:"username"`
	FirstName  string    `db:"first_name" json:"first_name"`
	Balance    int64     `db:"balance" json:"balance"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// QueueEntry represents a user waiting for an opponent at a stake tier
type QueueEntry struct {
	ID         int64        `db:"id" json:"id"`
	TelegramID int64        `db:"telegram_id" json:"telegram_id"`
	Username   string       `db:"username" json:"username"`
	FirstName  string       `db:"first_name" json:"first_name"`
	Stake      int64        `db:"stake" json:"stake"`
	Status     string       `db:"status" json:"status"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	MatchedAt  sql.NullTime `db:"matched_at" json:"matched_at,omitempty"`
	ExpiresAt  time.Time    `db:"expires_at" json:"expires_at"`
}

// Match represents a pairing of two users at a stake tier
type Match struct {
	ID          int64         `db:"id" json:"id"`
	Player1ID   int64         `db:"player1_id" json:"player1_id"`
	Player2ID   int64         `db:"player2_id" json:"player2_id"`
	Stake       int64         `db:"stake" json:"stake"`
	Prize       int64         `db:"prize" json:"prize"`
	Status      string        `db:"status" json:"status"`
	WinnerID    sql.NullInt64 `db:"winner_id" json:"winner_id,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	CompletedAt sql.NullTime  `db:"completed_at" json:"completed_at,omitempty"`
}

// Transaction is an append-only record of a balance change.
// Amount is signed: bets are negative, refunds and payouts positive.
type Transaction struct {
	ID         int64         `db:"id" json:"id"`
	TelegramID int64         `db:"telegram_id" json:"telegram_id"`
	Type       string        `db:"type" json:"type"`
	Amount     int64         `db:"amount" json:"amount"`
	MatchID    sql.NullInt64 `db:"match_id" json:"match_id,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// AdminAccount represents a backoffice operator
type AdminAccount struct {
	Username     string    `db:"username" json:"username"`
	DisplayName  string    `db:"display_name" json:"display_name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// AdminAudit records a backoffice action
type AdminAudit struct {
	ID        int64     `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	IP        string    `db:"ip" json:"ip"`
	Route     string    `db:"route" json:"route"`
	Action    string    `db:"action" json:"action"`
	Details   []byte    `db:"details" json:"details,omitempty"`
	Success   bool      `db:"success" json:"success"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
