package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"fiscalforge/internal/auth"
	"fiscalforge/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "fiscalforge.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustUser(t *testing.T, repo *SQLiteRepository, username, password string) core.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), username, auth.HashPassword(password), "")
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func mustTx(t *testing.T, repo *SQLiteRepository, userID int64, date string, typ core.TxType, category string, cents int64) core.Transaction {
	t.Helper()
	d, err := core.ParseDate(date)
	if err != nil {
		t.Fatalf("parse date %s: %v", date, err)
	}
	tx, err := repo.CreateTransaction(context.Background(), core.Transaction{
		UserID:   userID,
		Date:     d,
		Type:     typ,
		Category: category,
		Amount:   core.Money{Cents: cents},
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return tx
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fiscalforge.db")
	repo, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	mustUser(t, repo, "alice", "secret1")
	repo.Close()

	// Re-opening runs migrations again; existing data must survive.
	repo2, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer repo2.Close()
	if _, err := repo2.Authenticate(context.Background(), "alice", auth.HashPassword("secret1")); err != nil {
		t.Fatalf("data lost across re-open: %v", err)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mustUser(t, repo, "alice", "secret1")
	_, err := repo.CreateUser(ctx, "alice", auth.HashPassword("other"), "alice@example.com")
	if !errors.Is(err, core.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	// The original row is untouched.
	u, err := repo.Authenticate(ctx, "alice", auth.HashPassword("secret1"))
	if err != nil {
		t.Fatalf("original credentials must still work: %v", err)
	}
	if u.Username != "alice" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestAuthenticateIndistinguishableFailures(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustUser(t, repo, "alice", "secret1")

	if _, err := repo.Authenticate(ctx, "alice", auth.HashPassword("secret1")); err != nil {
		t.Fatalf("correct password: %v", err)
	}

	_, wrongPw := repo.Authenticate(ctx, "alice", auth.HashPassword("wrong"))
	_, noUser := repo.Authenticate(ctx, "nobody", auth.HashPassword("secret1"))
	if !errors.Is(wrongPw, core.ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", wrongPw)
	}
	if !errors.Is(noUser, core.ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", noUser)
	}
	if wrongPw.Error() != noUser.Error() {
		t.Fatalf("failure modes must be indistinguishable: %q vs %q", wrongPw, noUser)
	}
}

func TestCreateTransactionAssignsID(t *testing.T) {
	repo := newTestRepo(t)
	u := mustUser(t, repo, "alice", "secret1")

	tx := mustTx(t, repo, u.ID, "2025-01-15", core.Expense, "Food", 4550)
	if tx.ID == 0 {
		t.Fatalf("store must assign an id")
	}
	if tx.CreatedAt.IsZero() {
		t.Fatalf("store must populate the creation timestamp")
	}

	got, err := repo.GetTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if got.Amount.Cents != 4550 || got.Category != "Food" || got.Type != core.Expense {
		t.Fatalf("re-read mismatch: %+v", got)
	}
}

func TestCreateTransactionUnknownUser(t *testing.T) {
	repo := newTestRepo(t)
	d, _ := core.ParseDate("2025-01-15")
	_, err := repo.CreateTransaction(context.Background(), core.Transaction{
		UserID:   999,
		Date:     d,
		Type:     core.Expense,
		Category: "Food",
		Amount:   core.Money{Cents: 100},
	})
	if !errors.Is(err, core.ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired for missing owner, got %v", err)
	}
}

func TestListTransactionsDateDescending(t *testing.T) {
	repo := newTestRepo(t)
	u := mustUser(t, repo, "alice", "secret1")

	mustTx(t, repo, u.ID, "2025-01-14", core.Income, "Salary", 300000)
	mustTx(t, repo, u.ID, "2025-01-15", core.Expense, "Food", 4550)

	txs, err := repo.ListTransactions(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if txs[0].Category != "Food" || txs[1].Category != "Salary" {
		t.Fatalf("expected Food before Salary (date descending), got %s, %s", txs[0].Category, txs[1].Category)
	}
}

func TestListRecentIsOrderedPrefix(t *testing.T) {
	repo := newTestRepo(t)
	u := mustUser(t, repo, "alice", "secret1")

	// Three rows on the same date; recency must follow insertion order.
	first := mustTx(t, repo, u.ID, "2025-02-01", core.Expense, "Food", 100)
	second := mustTx(t, repo, u.ID, "2025-02-01", core.Expense, "Transport", 200)
	mustTx(t, repo, u.ID, "2025-01-01", core.Expense, "Rent", 300)
	third := mustTx(t, repo, u.ID, "2025-02-01", core.Expense, "Books", 400)

	recent, err := repo.ListRecentTransactions(context.Background(), u.ID, 3)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(recent))
	}
	wantIDs := []int64{third.ID, second.ID, first.ID}
	for i, want := range wantIDs {
		if recent[i].ID != want {
			t.Fatalf("position %d: expected id %d, got %d", i, want, recent[i].ID)
		}
	}
}

func TestListRecentSubsecondTieBreak(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := mustUser(t, repo, "alice", "secret1")

	// RFC 3339 drops trailing fractional zeros, so ".1Z" sorts after ".15Z"
	// as text even though it is earlier. Recency must not depend on the
	// timestamp's string form.
	older := insertRaw(t, repo, u.ID, "2025-02-01", "Food", "2025-02-01T12:00:00.1Z")
	newer := insertRaw(t, repo, u.ID, "2025-02-01", "Transport", "2025-02-01T12:00:00.15Z")

	recent, err := repo.ListRecentTransactions(ctx, u.ID, 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(recent))
	}
	if recent[0].ID != newer || recent[1].ID != older {
		t.Fatalf("expected newest row %d first, got order %d, %d", newer, recent[0].ID, recent[1].ID)
	}
}

// insertRaw writes a transaction row with an explicit created_at, bypassing
// the store's own timestamping.
func insertRaw(t *testing.T, repo *SQLiteRepository, userID int64, date, category, createdAt string) int64 {
	t.Helper()
	res, err := repo.db.ExecContext(context.Background(),
		`INSERT INTO transactions (user_id, date, type, category, description, amount_cents, created_at)
		 VALUES (?, ?, 'Expense', ?, NULL, 100, ?)`,
		userID, date, category, createdAt)
	if err != nil {
		t.Fatalf("insert raw transaction: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("raw insert id: %v", err)
	}
	return id
}

func TestPerUserIsolation(t *testing.T) {
	repo := newTestRepo(t)
	alice := mustUser(t, repo, "alice", "secret1")
	bob := mustUser(t, repo, "bob", "secret2")

	mustTx(t, repo, alice.ID, "2025-01-15", core.Expense, "Food", 4550)
	mustTx(t, repo, bob.ID, "2025-01-15", core.Expense, "Food", 9999)

	txs, err := repo.ListTransactions(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 1 || txs[0].Amount.Cents != 4550 {
		t.Fatalf("alice must only see her own rows: %+v", txs)
	}
}

func TestAggregationScenario(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	alice := mustUser(t, repo, "alice", "secret1")

	mustTx(t, repo, alice.ID, "2025-01-15", core.Expense, "Food", 4550)
	mustTx(t, repo, alice.ID, "2025-01-14", core.Income, "Salary", 300000)

	income, err := repo.TotalByType(ctx, alice.ID, core.Income)
	if err != nil {
		t.Fatalf("income total: %v", err)
	}
	if income.Cents != 300000 {
		t.Fatalf("expected income 3000.00, got %s", income)
	}

	expenses, err := repo.TotalByType(ctx, alice.ID, core.Expense)
	if err != nil {
		t.Fatalf("expense total: %v", err)
	}
	if expenses.Cents != 4550 {
		t.Fatalf("expected expenses 45.50, got %s", expenses)
	}

	byCat, err := repo.SumByCategory(ctx, alice.ID)
	if err != nil {
		t.Fatalf("sum by category: %v", err)
	}
	if len(byCat) != 1 || byCat[0].Category != "Food" || byCat[0].Total.Cents != 4550 {
		t.Fatalf("expected {Food: 45.50}, got %+v", byCat)
	}

	txs, err := repo.ListTransactions(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if txs[0].Category != "Food" {
		t.Fatalf("expected the Food expense first, got %s", txs[0].Category)
	}
}

func TestTotalByTypeEmptyIsZero(t *testing.T) {
	repo := newTestRepo(t)
	u := mustUser(t, repo, "alice", "secret1")

	total, err := repo.TotalByType(context.Background(), u.ID, core.Expense)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total.Cents != 0 {
		t.Fatalf("expected 0.00 for no rows, got %s", total)
	}
}

func TestSumByCategoryOrderingAndConsistency(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := mustUser(t, repo, "alice", "secret1")

	mustTx(t, repo, u.ID, "2025-01-01", core.Expense, "Food", 1000)
	mustTx(t, repo, u.ID, "2025-01-02", core.Expense, "Food", 500)
	mustTx(t, repo, u.ID, "2025-01-03", core.Expense, "Rent", 90000)
	mustTx(t, repo, u.ID, "2025-01-04", core.Expense, "Transport", 200)
	mustTx(t, repo, u.ID, "2025-01-05", core.Income, "Salary", 300000) // excluded

	byCat, err := repo.SumByCategory(ctx, u.ID)
	if err != nil {
		t.Fatalf("sum by category: %v", err)
	}
	if len(byCat) != 3 {
		t.Fatalf("expected 3 categories, got %d", len(byCat))
	}
	var sum int64
	for i, ct := range byCat {
		sum += ct.Total.Cents
		if i > 0 && byCat[i-1].Total.Cents < ct.Total.Cents {
			t.Fatalf("totals not descending: %+v", byCat)
		}
	}
	if byCat[0].Category != "Rent" {
		t.Fatalf("expected Rent first, got %s", byCat[0].Category)
	}

	expenses, err := repo.TotalByType(ctx, u.ID, core.Expense)
	if err != nil {
		t.Fatalf("expense total: %v", err)
	}
	if sum != expenses.Cents {
		t.Fatalf("category totals (%d) must add up to the expense total (%d)", sum, expenses.Cents)
	}
}

func TestSumByMonth(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := mustUser(t, repo, "alice", "secret1")

	// 13 distinct months with one expense each, plus one silent month gap.
	months := []string{
		"2024-01", "2024-02", "2024-03", "2024-04", "2024-05", "2024-06",
		"2024-07", "2024-08", "2024-10", "2024-11", "2024-12", "2025-01",
		"2025-02",
	}
	for i, m := range months {
		mustTx(t, repo, u.ID, m+"-10", core.Expense, "Food", int64((i+1)*100))
	}
	mustTx(t, repo, u.ID, "2025-02-20", core.Income, "Salary", 999999) // excluded
	mustTx(t, repo, u.ID, "2025-02-11", core.Expense, "Rent", 50)

	byMonth, err := repo.SumByMonth(ctx, u.ID)
	if err != nil {
		t.Fatalf("sum by month: %v", err)
	}
	if len(byMonth) != 12 {
		t.Fatalf("expected the 12 most recent months with data, got %d", len(byMonth))
	}
	if byMonth[0].Month != "2025-02" {
		t.Fatalf("expected most recent month first, got %s", byMonth[0].Month)
	}
	if byMonth[0].Total.Cents != 1300+50 {
		t.Fatalf("expected 2025-02 total 1350, got %d", byMonth[0].Total.Cents)
	}
	// The oldest month (2024-01) falls off the 12-month window.
	for _, mt := range byMonth {
		if mt.Month == "2024-01" {
			t.Fatalf("2024-01 must be outside the window: %+v", byMonth)
		}
		if mt.Month == "2024-09" {
			t.Fatalf("silent months must not appear: %+v", byMonth)
		}
	}
}

func TestDeleteUserCascades(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := mustUser(t, repo, "alice", "secret1")
	mustTx(t, repo, u.ID, "2025-01-15", core.Expense, "Food", 4550)
	mustTx(t, repo, u.ID, "2025-01-16", core.Expense, "Rent", 90000)

	// User deletion is outside the exposed operations; the schema enforces
	// the cascade regardless of which caller issues the delete.
	if _, err := repo.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	var count int
	if err := repo.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = ?`, u.ID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected cascade delete to remove transactions, %d left", count)
	}
}

func TestSyncQueue(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := mustUser(t, repo, "alice", "secret1")
	a := mustTx(t, repo, u.ID, "2025-01-15", core.Expense, "Food", 4550)
	b := mustTx(t, repo, u.ID, "2025-01-16", core.Expense, "Rent", 90000)

	pending, err := repo.ListPendingSync(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != a.ID {
		t.Fatalf("expected both rows pending oldest first, got %+v", pending)
	}

	if err := repo.MarkSynced(ctx, a.ID); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if err := repo.MarkSyncError(ctx, b.ID); err != nil {
		t.Fatalf("mark sync error: %v", err)
	}

	// The synced row leaves the queue; the failed row stays retryable.
	pending, err = repo.ListPendingSync(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Fatalf("expected only the failed row to remain queued, got %+v", pending)
	}

	if err := repo.MarkSynced(ctx, b.ID); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	pending, err = repo.ListPendingSync(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty queue, got %+v", pending)
	}
}
