package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fiscalforge/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the single persistence layer behind the account store,
// the transaction store and the analytics queries.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at dbPath and runs the
// embedded migrations. Foreign keys are enabled on the connection so that
// deleting a user cascades to that user's transactions and budgets.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// timestampFormat is how created_at is stored. It is not safe to ORDER BY:
// RFC 3339 drops trailing fractional zeros, so ".1Z" sorts after ".15Z" as
// text. Recency ordering uses the monotonic row id instead.
const timestampFormat = time.RFC3339Nano

// CreateUser registers a new account with an already-hashed password.
// A username collision is reported as core.ErrUsernameTaken without touching
// stored data.
func (r *SQLiteRepository) CreateUser(ctx context.Context, username, passwordHash, email string) (core.User, error) {
	u := core.User{Username: strings.TrimSpace(username), Email: strings.TrimSpace(email)}
	if err := u.Validate(); err != nil {
		return core.User{}, err
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, email, created_at) VALUES (?, ?, ?, ?)`,
		u.Username, passwordHash, nullable(u.Email), now.Format(timestampFormat))
	if err != nil {
		if isUniqueViolation(err) {
			return core.User{}, core.ErrUsernameTaken
		}
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("user id: %w", err)
	}
	u.ID = id
	u.CreatedAt = now

	slog.InfoContext(ctx, "User registered", "id", u.ID, "username", u.Username)
	return u, nil
}

// Authenticate looks up a user by username and password digest in a single
// query. An unknown username and a wrong password produce the same
// core.ErrInvalidCredentials, so callers cannot enumerate accounts.
func (r *SQLiteRepository) Authenticate(ctx context.Context, username, passwordHash string) (core.User, error) {
	var (
		u       core.User
		email   sql.NullString
		created string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, email, created_at FROM users WHERE username = ? AND password_hash = ?`,
		strings.TrimSpace(username), passwordHash).Scan(&u.ID, &u.Username, &email, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrInvalidCredentials
	}
	if err != nil {
		return core.User{}, fmt.Errorf("authenticate user: %w", err)
	}
	u.Email = email.String
	u.CreatedAt = parseTimestamp(created)
	return u, nil
}

// CreateTransaction inserts a transaction and returns the stored copy with
// the assigned id and creation timestamp. Any id on the input is ignored.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (user_id, date, type, category, description, amount_cents, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.UserID, tx.Date.String(), tx.Type.String(), tx.Category,
		nullable(tx.Description), tx.Amount.Cents, now.Format(timestampFormat))
	if err != nil {
		if isForeignKeyViolation(err) {
			return core.Transaction{}, core.ErrUserRequired
		}
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction id: %w", err)
	}
	tx.ID = id
	tx.CreatedAt = now

	slog.InfoContext(ctx, "Transaction saved",
		"id", tx.ID,
		"user_id", tx.UserID,
		"type", tx.Type,
		"category", tx.Category,
		"amount_cents", tx.Amount.Cents)
	return tx, nil
}

const txColumns = `id, user_id, date, type, category, description, amount_cents, created_at`

// ListTransactions returns every transaction owned by userID, most recent
// date first. Ties in date are not ordered further.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID int64) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE user_id = ? ORDER BY date DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ListRecentTransactions returns at most limit transactions for userID,
// ordered by date, then creation order, newest first. Ids are assigned at
// insert, so id order is creation order.
func (r *SQLiteRepository) ListRecentTransactions(ctx context.Context, userID int64, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE user_id = ?
		 ORDER BY date DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// GetTransaction fetches a single transaction by id. Used by the sync worker
// to resolve queue messages back into full rows.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %d not found", id)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// TotalByType sums amounts over the user's transactions of the given type.
// No matching rows is not an error: the total is simply zero.
func (r *SQLiteRepository) TotalByType(ctx context.Context, userID int64, t core.TxType) (core.Money, error) {
	if !t.Valid() {
		return core.Money{}, core.ErrInvalidType
	}
	var cents int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM transactions WHERE user_id = ? AND type = ?`,
		userID, t.String()).Scan(&cents)
	if err != nil {
		return core.Money{}, fmt.Errorf("total by type: %w", err)
	}
	return core.Money{Cents: cents}, nil
}

// SumByCategory aggregates the user's expenses per category, largest total
// first. Income is excluded by design.
func (r *SQLiteRepository) SumByCategory(ctx context.Context, userID int64) ([]core.CategoryTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, SUM(amount_cents) AS total FROM transactions
		 WHERE user_id = ? AND type = 'Expense'
		 GROUP BY category ORDER BY total DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("sum by category: %w", err)
	}
	defer rows.Close()

	var totals []core.CategoryTotal
	for rows.Next() {
		var ct core.CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total.Cents); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		totals = append(totals, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category totals: %w", err)
	}
	return totals, nil
}

// SumByMonth aggregates the user's expenses per calendar month, most recent
// month first, limited to the 12 most recent months that have expenses.
// Months without expenses do not appear.
func (r *SQLiteRepository) SumByMonth(ctx context.Context, userID int64) ([]core.MonthTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT substr(date, 1, 7) AS month, SUM(amount_cents) AS total FROM transactions
		 WHERE user_id = ? AND type = 'Expense'
		 GROUP BY month ORDER BY month DESC LIMIT 12`, userID)
	if err != nil {
		return nil, fmt.Errorf("sum by month: %w", err)
	}
	defer rows.Close()

	var totals []core.MonthTotal
	for rows.Next() {
		var mt core.MonthTotal
		if err := rows.Scan(&mt.Month, &mt.Total.Cents); err != nil {
			return nil, fmt.Errorf("scan month total: %w", err)
		}
		totals = append(totals, mt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate month totals: %w", err)
	}
	return totals, nil
}

// ListPendingSync returns transactions not yet mirrored to the spreadsheet,
// oldest first, capped at limit. Rows whose last mirror attempt failed are
// included so the periodic pass retries them.
func (r *SQLiteRepository) ListPendingSync(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE sync_status IN ('pending', 'error')
		 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending sync: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// MarkSynced records a successful mirror of the transaction.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET sync_status = 'synced' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark transaction synced: %w", err)
	}
	slog.InfoContext(ctx, "Transaction marked as synced", "id", id)
	return nil
}

// MarkSyncError records a failed mirror attempt so the periodic retry can
// pick the row up again.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET sync_status = 'error' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark transaction sync error: %w", err)
	}
	slog.WarnContext(ctx, "Transaction marked with sync error", "id", id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx      core.Transaction
		date    string
		txType  string
		desc    sql.NullString
		created string
	)
	if err := row.Scan(&tx.ID, &tx.UserID, &date, &txType, &tx.Category, &desc, &tx.Amount.Cents, &created); err != nil {
		return core.Transaction{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("stored date %q: %w", date, err)
	}
	t, err := core.ParseTxType(txType)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("stored type %q: %w", txType, err)
	}
	tx.Date = d
	tx.Type = t
	tx.Description = desc.String
	tx.CreatedAt = parseTimestamp(created)
	return tx, nil
}

func scanTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	var txs []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
