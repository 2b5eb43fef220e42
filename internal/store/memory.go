package store

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/dotaduels/backend/internal/models"
)

// Memory is an in-memory Store. It backs unit tests and the no-database
// development mode. A single mutex guards users, queue, matches and ledger so
// debit+enqueue and cancel+refund are atomic exactly like the Postgres
// implementation.
type Memory struct {
	mu             sync.Mutex
	initialBalance int64

	users     map[int64]*models.User
	userOrder []int64
	entries   []*models.QueueEntry
	matches   map[int64]*models.Match
	matchIDs  []int64
	txns      []models.Transaction

	userSeq  int64
	entrySeq int64
	matchSeq int64
	txSeq    int64
}

// NewMemory creates an empty in-memory store. New users start with
// initialBalance.
func NewMemory(initialBalance int64) *Memory {
	return &Memory{
		initialBalance: initialBalance,
		users:          make(map[int64]*models.User),
		matches:        make(map[int64]*models.Match),
	}
}

func (m *Memory) GetOrCreateUser(ctx context.Context, telegramID int64, username, firstName string) (*models.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[telegramID]; ok {
		return cloneUser(u), false, nil
	}

	m.userSeq++
	now := time.Now()
	u := &models.User{
		ID:         m.userSeq,
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
		Balance:    m.initialBalance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.users[telegramID] = u
	m.userOrder = append(m.userOrder, telegramID)
	return cloneUser(u), true, nil
}

func (m *Memory) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[telegramID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) StartMatchmaking(ctx context.Context, telegramID, stake, prize int64, expiresAt time.Time) (*StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[telegramID]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now()
	for _, e := range m.entries {
		if e.TelegramID == telegramID && e.Stake == stake && e.Status == models.QueueStatusQueued && e.ExpiresAt.After(now) {
			return nil, ErrAlreadyQueued
		}
	}

	if u.Balance < stake {
		return nil, ErrInsufficientFunds
	}

	// Debit and ledger row; from here on nothing below can fail, so the
	// mutation stays atomic under the store lock.
	u.Balance -= stake
	u.UpdatedAt = now
	m.appendTx(telegramID, models.TxTypeBet, -stake, 0)

	// Claim the oldest waiting entry at this stake. Entries are appended in
	// arrival order, so the first queued hit is FIFO.
	for _, e := range m.entries {
		if e.Stake != stake || e.Status != models.QueueStatusQueued || !e.ExpiresAt.After(now) {
			continue
		}
		if e.TelegramID == telegramID {
			continue // never pair a user against themselves
		}
		e.Status = models.QueueStatusMatched
		e.MatchedAt = sql.NullTime{Time: now, Valid: true}
		match := m.createMatch(e.TelegramID, telegramID, stake, prize, now)
		return &StartResult{Matched: true, Match: cloneMatch(match), Opponent: cloneUser(m.users[e.TelegramID])}, nil
	}

	m.entrySeq++
	entry := &models.QueueEntry{
		ID:         m.entrySeq,
		TelegramID: telegramID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		Stake:      stake,
		Status:     models.QueueStatusQueued,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	}
	m.entries = append(m.entries, entry)
	return &StartResult{Entry: cloneEntry(entry)}, nil
}

func (m *Memory) CancelMatchmaking(ctx context.Context, telegramID, stake int64) (CancelOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Latest entry for this user and stake decides the outcome.
	var latest *models.QueueEntry
	for _, e := range m.entries {
		if e.TelegramID == telegramID && e.Stake == stake {
			latest = e
		}
	}
	if latest == nil {
		return CancelOutcomeNotQueued, nil
	}

	switch latest.Status {
	case models.QueueStatusQueued:
		latest.Status = models.QueueStatusCancelled
		m.credit(telegramID, models.TxTypeRefund, stake, 0)
		return CancelOutcomeCancelled, nil
	case models.QueueStatusMatched:
		return CancelOutcomeAlreadyMatched, nil
	default:
		return CancelOutcomeNotQueued, nil
	}
}

func (m *Memory) ActiveEntry(ctx context.Context, telegramID int64) (*models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.TelegramID == telegramID && e.Status == models.QueueStatusQueued && e.ExpiresAt.After(now) {
			return cloneEntry(e), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) LatestMatchFor(ctx context.Context, telegramID int64) (*models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.matchIDs) - 1; i >= 0; i-- {
		mt := m.matches[m.matchIDs[i]]
		if mt.Status != models.MatchInProgress {
			continue
		}
		if mt.Player1ID == telegramID || mt.Player2ID == telegramID {
			return cloneMatch(mt), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) QueuedStakes(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	seen := make(map[int64]bool)
	var stakes []int64
	for _, e := range m.entries {
		if e.Status == models.QueueStatusQueued && e.ExpiresAt.After(now) && !seen[e.Stake] {
			seen[e.Stake] = true
			stakes = append(stakes, e.Stake)
		}
	}
	sort.Slice(stakes, func(i, j int) bool { return stakes[i] < stakes[j] })
	return stakes, nil
}

func (m *Memory) PairNext(ctx context.Context, stake, prize int64) (*models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var first, second *models.QueueEntry
	for _, e := range m.entries {
		if e.Stake != stake || e.Status != models.QueueStatusQueued || !e.ExpiresAt.After(now) {
			continue
		}
		if first == nil {
			first = e
			continue
		}
		if e.TelegramID == first.TelegramID {
			continue
		}
		second = e
		break
	}
	if first == nil || second == nil {
		return nil, ErrNotFound
	}

	first.Status = models.QueueStatusMatched
	first.MatchedAt = sql.NullTime{Time: now, Valid: true}
	second.Status = models.QueueStatusMatched
	second.MatchedAt = sql.NullTime{Time: now, Valid: true}
	match := m.createMatch(first.TelegramID, second.TelegramID, stake, prize, now)
	return cloneMatch(match), nil
}

func (m *Memory) ExpireQueue(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for _, e := range m.entries {
		if e.Status == models.QueueStatusQueued && !e.ExpiresAt.After(now) {
			e.Status = models.QueueStatusExpired
			m.credit(e.TelegramID, models.TxTypeRefund, e.Stake, 0)
			expired++
		}
	}
	return expired, nil
}

func (m *Memory) GetMatch(ctx context.Context, matchID int64) (*models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mt, ok := m.matches[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMatch(mt), nil
}

func (m *Memory) ResolveMatch(ctx context.Context, matchID, winnerTelegramID int64) (*models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mt, ok := m.matches[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	if mt.Status != models.MatchInProgress {
		return nil, ErrMatchClosed
	}
	if winnerTelegramID != mt.Player1ID && winnerTelegramID != mt.Player2ID {
		return nil, ErrNotParticipant
	}

	m.credit(winnerTelegramID, models.TxTypePayout, mt.Prize, mt.ID)
	now := time.Now()
	mt.Status = models.MatchCompleted
	mt.WinnerID = sql.NullInt64{Int64: winnerTelegramID, Valid: true}
	mt.CompletedAt = sql.NullTime{Time: now, Valid: true}
	return cloneMatch(mt), nil
}

func (m *Memory) VoidMatch(ctx context.Context, matchID int64) (*models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mt, ok := m.matches[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	if mt.Status != models.MatchInProgress {
		return nil, ErrMatchClosed
	}

	m.credit(mt.Player1ID, models.TxTypeRefund, mt.Stake, mt.ID)
	m.credit(mt.Player2ID, models.TxTypeRefund, mt.Stake, mt.ID)
	mt.Status = models.MatchVoided
	mt.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	return cloneMatch(mt), nil
}

func (m *Memory) AdjustBalance(ctx context.Context, telegramID, amount int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[telegramID]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Balance+amount < 0 {
		return nil, ErrInsufficientFunds
	}
	u.Balance += amount
	u.UpdatedAt = time.Now()
	m.appendTx(telegramID, models.TxTypeAdjust, amount, 0)
	return cloneUser(u), nil
}

func (m *Memory) QueueDepths(ctx context.Context) (map[int64]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	depths := make(map[int64]int)
	for _, e := range m.entries {
		if e.Status == models.QueueStatusQueued && e.ExpiresAt.After(now) {
			depths[e.Stake]++
		}
	}
	return depths, nil
}

func (m *Memory) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var users []models.User
	for i := offset; i < len(m.userOrder) && len(users) < limit; i++ {
		users = append(users, *m.users[m.userOrder[i]])
	}
	return users, nil
}

func (m *Memory) ListMatches(ctx context.Context, limit, offset int) ([]models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []models.Match
	for i := len(m.matchIDs) - 1 - offset; i >= 0 && len(matches) < limit; i-- {
		matches = append(matches, *m.matches[m.matchIDs[i]])
	}
	return matches, nil
}

func (m *Memory) ListTransactions(ctx context.Context, telegramID int64, limit int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var txns []models.Transaction
	for i := len(m.txns) - 1; i >= 0 && len(txns) < limit; i-- {
		if m.txns[i].TelegramID == telegramID {
			txns = append(txns, m.txns[i])
		}
	}
	return txns, nil
}

func (m *Memory) Close() error { return nil }

// createMatch inserts a match row. Caller holds the lock.
func (m *Memory) createMatch(player1, player2, stake, prize int64, now time.Time) *models.Match {
	m.matchSeq++
	match := &models.Match{
		ID:        m.matchSeq,
		Player1ID: player1,
		Player2ID: player2,
		Stake:     stake,
		Prize:     prize,
		Status:    models.MatchInProgress,
		CreatedAt: now,
	}
	m.matches[match.ID] = match
	m.matchIDs = append(m.matchIDs, match.ID)
	return match
}

// credit increases a balance and appends the ledger row. Caller holds the lock.
func (m *Memory) credit(telegramID int64, txType string, amount, matchID int64) {
	if u, ok := m.users[telegramID]; ok {
		u.Balance += amount
		u.UpdatedAt = time.Now()
	}
	m.appendTx(telegramID, txType, amount, matchID)
}

func (m *Memory) appendTx(telegramID int64, txType string, amount, matchID int64) {
	m.txSeq++
	tx := models.Transaction{
		ID:         m.txSeq,
		TelegramID: telegramID,
		Type:       txType,
		Amount:     amount,
		CreatedAt:  time.Now(),
	}
	if matchID != 0 {
		tx.MatchID = sql.NullInt64{Int64: matchID, Valid: true}
	}
	m.txns = append(m.txns, tx)
}

func cloneUser(u *models.User) *models.User {
	cp := *u
	return &cp
}

func cloneEntry(e *models.QueueEntry) *models.QueueEntry {
	cp := *e
	return &cp
}

func cloneMatch(mt *models.Match) *models.Match {
	cp := *mt
	return &cp
}
