package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dotaduels/backend/internal/models"
)

const (
	initialBalance = 5000
	stake          = int64(250)
	prize          = int64(450) // floor(250 * 1.8)
)

func newTestStore(t *testing.T, telegramIDs ...int64) *Memory {
	t.Helper()
	m := NewMemory(initialBalance)
	for _, id := range telegramIDs {
		if _, _, err := m.GetOrCreateUser(context.Background(), id, "user", "User"); err != nil {
			t.Fatalf("failed to create user %d: %v", id, err)
		}
	}
	return m
}

func expiry() time.Time {
	return time.Now().Add(10 * time.Minute)
}

func balance(t *testing.T, m *Memory, telegramID int64) int64 {
	t.Helper()
	u, err := m.GetUser(context.Background(), telegramID)
	if err != nil {
		t.Fatalf("failed to get user %d: %v", telegramID, err)
	}
	return u.Balance
}

// ledgerSum returns the sum of all transaction amounts for a user
func ledgerSum(t *testing.T, m *Memory, telegramID int64) int64 {
	t.Helper()
	txns, err := m.ListTransactions(context.Background(), telegramID, 1000)
	if err != nil {
		t.Fatalf("failed to list transactions: %v", err)
	}
	var sum int64
	for _, tx := range txns {
		sum += tx.Amount
	}
	return sum
}

func TestGetOrCreateUserIdempotent(t *testing.T) {
	m := NewMemory(initialBalance)
	ctx := context.Background()

	u1, created, err := m.GetOrCreateUser(ctx, 42, "alice", "Alice")
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if !created {
		t.Error("first call should create the user")
	}
	if u1.Balance != initialBalance {
		t.Errorf("new user balance = %d, want %d", u1.Balance, initialBalance)
	}

	u2, created, err := m.GetOrCreateUser(ctx, 42, "alice", "Alice")
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if created {
		t.Error("second call must not create a duplicate")
	}
	if u2.ID != u1.ID || u2.Balance != u1.Balance {
		t.Errorf("second call returned a different record: %+v vs %+v", u2, u1)
	}
}

func TestStartMatchmakingQueuesFirstUser(t *testing.T) {
	m := newTestStore(t, 1)
	ctx := context.Background()

	res, err := m.StartMatchmaking(ctx, 1, stake, prize, expiry())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if res.Matched {
		t.Fatal("first user should wait, not match")
	}
	if res.Entry == nil || res.Entry.Stake != stake {
		t.Fatalf("expected a queue entry at stake %d, got %+v", stake, res.Entry)
	}
	if got := balance(t, m, 1); got != initialBalance-stake {
		t.Errorf("balance after enqueue = %d, want %d", got, initialBalance-stake)
	}
}

func TestStartMatchmakingPairsSecondUser(t *testing.T) {
	m := newTestStore(t, 1, 2)
	ctx := context.Background()

	if _, err := m.StartMatchmaking(ctx, 1, stake, prize, expiry()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	res, err := m.StartMatchmaking(ctx, 2, stake, prize, expiry())
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if !res.Matched {
		t.Fatal("second user should match immediately")
	}
	if res.Match.Player1ID != 1 || res.Match.Player2ID != 2 {
		t.Errorf("match participants = [%d,%d], want [1,2]", res.Match.Player1ID, res.Match.Player2ID)
	}
	if res.Match.Prize != prize {
		t.Errorf("prize = %d, want %d", res.Match.Prize, prize)
	}
	if res.Opponent.TelegramID != 1 {
		t.Errorf("opponent = %d, want 1", res.Opponent.TelegramID)
	}
	if got := balance(t, m, 2); got != initialBalance-stake {
		t.Errorf("balance of second user = %d, want %d", got, initialBalance-stake)
	}

	// Neither user remains in the queue
	depths, _ := m.QueueDepths(ctx)
	if depths[stake] != 0 {
		t.Errorf("queue depth at stake %d = %d, want 0", stake, depths[stake])
	}
}

func TestStartMatchmakingFIFO(t *testing.T) {
	m := newTestStore(t, 1, 2, 3)
	ctx := context.Background()

	if _, err := m.StartMatchmaking(ctx, 1, stake, prize, expiry()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.StartMatchmaking(ctx, 2, stake, prize, expiry()); err != nil {
		t.Fatal(err)
	}
	// User 2 matched user 1; user 3 should now wait
	res, err := m.StartMatchmaking(ctx, 3, stake, prize, expiry())
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched {
		t.Error("third user should wait, queue was drained by the pairing")
	}
}

func TestStartMatchmakingInsufficientFunds(t *testing.T) {
	m := newTestStore(t, 1)
	ctx := context.Background()

	_, err := m.StartMatchmaking(ctx, 1, initialBalance+1, prize, expiry())
	if err != ErrInsufficientFunds {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := balance(t, m, 1); got != initialBalance {
		t.Errorf("balance changed on failed start: %d", got)
	}
	depths, _ := m.QueueDepths(ctx)
	if len(depths) != 0 {
		t.Errorf("queue changed on failed start: %v", depths)
	}
	if txns, _ := m.ListTransactions(ctx, 1, 10); len(txns) != 0 {
		t.Errorf("ledger changed on failed start: %v", txns)
	}
}

func TestStartMatchmakingRejectsDuplicateEntry(t *testing.T) {
	m := newTestStore(t, 1)
	ctx := context.Background()

	if _, err := m.StartMatchmaking(ctx, 1, stake, prize, expiry()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.StartMatchmaking(ctx, 1, stake, prize, expiry()); err != ErrAlreadyQueued {
		t.Fatalf("err = %v, want ErrAlreadyQueued", err)
	}
	// A user never pairs against their own waiting entry
	if got := balance(t, m, 1); got != initialBalance-stake {
		t.Errorf("balance = %d, want %d", got, initialBalance-stake)
	}
}

func TestStartMatchmakingUnknownUser(t *testing.T) {
	m := newTestStore(t)
	if _, err := m.StartMatchmaking(context.Background(), 99, stake, prize, expiry()); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelRefundsAndIsIdempotent(t *testing.T) {
	m := newTestStore(t, 1)
	ctx := context.Background()

	if _, err := m.StartMatchmaking(ctx, 1, stake, prize, expiry()); err != nil {
		t.Fatal(err)
	}

	outcome, err := m.CancelMatchmaking(ctx, 1, stake)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if outcome != CancelOutcomeCancelled {
		t.Errorf("outcome = %s, want cancelled", outcome)
	}
	if got := balance(t, m, 1); got != initialBalance {
		t.Errorf("balance after cancel = %d, want %d", got, initialBalance)
	}
	if depths, _ := m.QueueDepths(ctx); depths[stake] != 0 {
		t.Error("queue still contains the user after cancel")
	}

	// Second cancel is a no-op, not an error, and no double refund
	outcome, err = m.CancelMatchmaking(ctx, 1, stake)
	if err != nil {
		t.Fatalf("second cancel failed: %v", err)
	}
	if outcome != CancelOutcomeNotQueued {
		t.Errorf("second cancel outcome = %s, want not_queued", outcome)
	}
	if got := balance(t, m, 1); got != initialBalance {
		t.Errorf("balance after second cancel = %d, want %d", got, initialBalance)
	}
}

func TestCancelAfterPairingDoesNotRefund(t *testing.T) {
	m := newTestStore(t, 1, 2)
	ctx := context.Background()

	if _, err := m.StartMatchmaking(ctx, 1, stake, prize, expiry()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.StartMatchmaking(ctx, 2, stake, prize, expiry()); err != nil {
		t.Fatal(err)
	}

	outcome, err := m.CancelMatchmaking(ctx, 1, stake)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if outcome != CancelOutcomeAlreadyMatched {
		t.Errorf("outcome = %s, want already_matched", outcome)
	}
	if got := balance(t, m, 1); got != initialBalance-stake {
		t.Errorf("balance = %d, stake must stay debited after pairing", got)
	}
}

func TestCancelUnknownStakeIsNoop(t *testing.T) {
	m := newTestStore(t, 1)
	outcome, err := m.CancelMatchmaking(context.Background(), 1, stake)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if outcome != CancelOutcomeNotQueued {
		t.Errorf("outcome = %s, want not_queued", outcome)
	}
}

func TestPairNext(t *testing.T) {
	m := newTestStore(t, 1, 2, 3)
	ctx := context.Background()

	// Seed three waiting entries without immediate pairing by using PairNext
	// on a store populated via direct starts at distinct moments.
	for _, id := range []int64{1, 2, 3} {
		res, err := m.StartMatchmaking(ctx, id, stake, prize, expiry())
		if err != nil {
			t.Fatal(err)
		}
		if id == 1 && res.Matched {
			t.Fatal("first user cannot match an empty queue")
		}
	}

	// Users 1 and 2 already paired on start; only 3 is waiting
	if _, err := m.PairNext(ctx, stake, prize); err != ErrNotFound {
		t.Fatalf("PairNext with one waiting user: err = %v, want ErrNotFound", err)
	}

	// Add a fourth user and pair via the sweeper path
	if _, _, err := m.GetOrCreateUser(ctx, 4, "dave", "Dave"); err != nil {
		t.Fatal(err)
	}
	// Skip the immediate pairing by cancelling 3 and re-adding both in order
	if _, err := m.CancelMatchmaking(ctx, 3, stake); err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	now := time.Now()
	for _, id := range []int64{3, 4} {
		m.users[id].Balance -= stake
		m.appendTx(id, models.TxTypeBet, -stake, 0)
		m.entrySeq++
		m.entries = append(m.entries, &models.QueueEntry{
			ID: m.entrySeq, TelegramID: id, Stake: stake,
			Status: models.QueueStatusQueued, CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute),
		})
	}
	m.mu.Unlock()

	match, err := m.PairNext(ctx, stake, prize)
	if err != nil {
		t.Fatalf("PairNext failed: %v", err)
	}
	if match.Player1ID != 3 || match.Player2ID != 4 {
		t.Errorf("paired [%d,%d], want [3,4]", match.Player1ID, match.Player2ID)
	}
	if depths, _ := m.QueueDepths(ctx); depths[stake] != 0 {
		t.Errorf("queue depth = %d after pairing, want 0", depths[stake])
	}
}

func TestExpireQueueRefunds(t *testing.T) {
	m := newTestStore(t, 1)
	ctx := context.Background()

	if _, err := m.StartMatchmaking(ctx, 1, stake, prize, time.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	n, err := m.ExpireQueue(ctx, time.Now().Add(2*time.Minute))
	if err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d entries, want 1", n)
	}
	if got := balance(t, m, 1); got != initialBalance {
		t.Errorf("balance after expiry refund = %d, want %d", got, initialBalance)
	}
}

func TestResolveMatchPaysWinnerOnce(t *testing.T) {
	m := newTestStore(t, 1, 2)
	ctx := context.Background()

	m.StartMatchmaking(ctx, 1, stake, prize, expiry())
	res, err := m.StartMatchmaking(ctx, 2, stake, prize, expiry())
	if err != nil || !res.Matched {
		t.Fatalf("pairing failed: %v", err)
	}

	match, err := m.ResolveMatch(ctx, res.Match.ID, 2)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if match.Status != models.MatchCompleted {
		t.Errorf("status = %s, want completed", match.Status)
	}
	if !match.WinnerID.Valid || match.WinnerID.Int64 != 2 {
		t.Errorf("winner = %+v, want 2", match.WinnerID)
	}
	if got := balance(t, m, 2); got != initialBalance-stake+prize {
		t.Errorf("winner balance = %d, want %d", got, initialBalance-stake+prize)
	}
	if got := balance(t, m, 1); got != initialBalance-stake {
		t.Errorf("loser balance = %d, want %d", got, initialBalance-stake)
	}

	// A second resolve must fail and not pay twice
	if _, err := m.ResolveMatch(ctx, res.Match.ID, 2); err != ErrMatchClosed {
		t.Fatalf("second resolve err = %v, want ErrMatchClosed", err)
	}
	if got := balance(t, m, 2); got != initialBalance-stake+prize {
		t.Errorf("winner balance changed on second resolve: %d", got)
	}
}

func TestResolveMatchRejectsOutsider(t *testing.T) {
	m := newTestStore(t, 1, 2, 3)
	ctx := context.Background()

	m.StartMatchmaking(ctx, 1, stake, prize, expiry())
	res, _ := m.StartMatchmaking(ctx, 2, stake, prize, expiry())

	if _, err := m.ResolveMatch(ctx, res.Match.ID, 3); err != ErrNotParticipant {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}

func TestVoidMatchRefundsBoth(t *testing.T) {
	m := newTestStore(t, 1, 2)
	ctx := context.Background()

	m.StartMatchmaking(ctx, 1, stake, prize, expiry())
	res, _ := m.StartMatchmaking(ctx, 2, stake, prize, expiry())

	match, err := m.VoidMatch(ctx, res.Match.ID)
	if err != nil {
		t.Fatalf("void failed: %v", err)
	}
	if match.Status != models.MatchVoided {
		t.Errorf("status = %s, want voided", match.Status)
	}
	for _, id := range []int64{1, 2} {
		if got := balance(t, m, id); got != initialBalance {
			t.Errorf("user %d balance = %d, want %d", id, got, initialBalance)
		}
	}
}

func TestAdjustBalance(t *testing.T) {
	m := newTestStore(t, 1)
	ctx := context.Background()

	u, err := m.AdjustBalance(ctx, 1, -initialBalance)
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if u.Balance != 0 {
		t.Errorf("balance = %d, want 0", u.Balance)
	}
	if _, err := m.AdjustBalance(ctx, 1, -1); err != ErrInsufficientFunds {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

// Ledger invariant: the sum of a user's transactions equals balance minus
// the initial balance, across the full enqueue/cancel/match/resolve flow.
func TestLedgerMatchesBalance(t *testing.T) {
	m := newTestStore(t, 1, 2)
	ctx := context.Background()

	m.StartMatchmaking(ctx, 1, stake, prize, expiry())
	m.CancelMatchmaking(ctx, 1, stake)
	m.StartMatchmaking(ctx, 1, stake, prize, expiry())
	res, _ := m.StartMatchmaking(ctx, 2, stake, prize, expiry())
	m.ResolveMatch(ctx, res.Match.ID, 1)

	for _, id := range []int64{1, 2} {
		want := balance(t, m, id) - initialBalance
		if got := ledgerSum(t, m, id); got != want {
			t.Errorf("user %d ledger sum = %d, want %d", id, got, want)
		}
	}
}

// Concurrent starts at one stake tier must never double-claim a waiting
// entry: every user ends up either matched exactly once or still waiting.
func TestConcurrentStartsConsistent(t *testing.T) {
	const users = 40
	m := NewMemory(initialBalance)
	ctx := context.Background()
	for i := int64(1); i <= users; i++ {
		m.GetOrCreateUser(ctx, i, "u", "U")
	}

	var wg sync.WaitGroup
	for i := int64(1); i <= users; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := m.StartMatchmaking(ctx, id, stake, prize, expiry()); err != nil {
				t.Errorf("start failed for %d: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	matches, err := m.ListMatches(ctx, users, 0)
	if err != nil {
		t.Fatal(err)
	}
	depths, _ := m.QueueDepths(ctx)
	if 2*len(matches)+depths[stake] != users {
		t.Errorf("inconsistent state: %d matches and %d waiting for %d users", len(matches), depths[stake], users)
	}

	// No user appears in two matches
	seen := make(map[int64]bool)
	for _, match := range matches {
		for _, id := range []int64{match.Player1ID, match.Player2ID} {
			if seen[id] {
				t.Errorf("user %d appears in more than one match", id)
			}
			seen[id] = true
		}
	}

	// Every user was debited exactly once
	for i := int64(1); i <= users; i++ {
		if got := balance(t, m, i); got != initialBalance-stake {
			t.Errorf("user %d balance = %d, want %d", i, got, initialBalance-stake)
		}
	}
}
