// Package http exposes the tracker's operations as a JSON API with
// bearer-token sessions.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"fiscalforge/internal/auth"
	"fiscalforge/internal/core"
	"fiscalforge/internal/export"
)

// Store is the slice of the storage layer the API reads from.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash, email string) (core.User, error)
	Authenticate(ctx context.Context, username, passwordHash string) (core.User, error)
	ListTransactions(ctx context.Context, userID int64) ([]core.Transaction, error)
	ListRecentTransactions(ctx context.Context, userID int64, limit int) ([]core.Transaction, error)
	TotalByType(ctx context.Context, userID int64, t core.TxType) (core.Money, error)
	SumByCategory(ctx context.Context, userID int64) ([]core.CategoryTotal, error)
	SumByMonth(ctx context.Context, userID int64) ([]core.MonthTotal, error)
}

// TransactionCreator is the write path; the service behind it may fan the
// transaction out to the sync pipeline after persisting it.
type TransactionCreator interface {
	CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type transactionRequest struct {
	Date        string `json:"date"`
	Type        string `json:"type"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount"`
}

type transactionResponse struct {
	ID          int64  `json:"id"`
	Date        string `json:"date"`
	Type        string `json:"type"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount"`
}

type summaryResponse struct {
	Income   string `json:"income"`
	Expenses string `json:"expenses"`
	Balance  string `json:"balance"`
}

type categoryTotalResponse struct {
	Category string `json:"category"`
	Total    string `json:"total"`
}

type monthTotalResponse struct {
	Month string `json:"month"`
	Total string `json:"total"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Username, auth.HashPassword(req.Password), strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, core.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to create user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.Authenticate(r.Context(), strings.TrimSpace(req.Username), auth.HashPassword(req.Password))
	if err != nil {
		if errors.Is(err, core.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		slog.ErrorContext(r.Context(), "Login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	token, err := s.sessions.Create(user.ID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"username": user.Username,
	})
}

// requireSession resolves the Bearer token and passes the owning user on.
func (s *Server) requireSession(next func(w http.ResponseWriter, r *http.Request, userID int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, ok := s.sessions.Resolve(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "session expired or invalid")
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request, userID int64) {
	switch r.Method {
	case http.MethodPost:
		s.createTransaction(w, r, userID)
	case http.MethodGet:
		s.listTransactions(w, r, userID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) createTransaction(w http.ResponseWriter, r *http.Request, userID int64) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, err := buildTransaction(userID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.creator.CreateTransaction(r.Context(), tx)
	if err != nil {
		if errors.Is(err, core.ErrUserRequired) {
			writeError(w, http.StatusUnauthorized, "account no longer exists")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to create transaction", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to save transaction")
		return
	}

	s.invalidateSummaries(userID)
	writeJSON(w, http.StatusCreated, toTransactionResponse(created))
}

// buildTransaction validates the raw request fields into a domain transaction.
func buildTransaction(userID int64, req transactionRequest) (core.Transaction, error) {
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Transaction{}, err
	}
	txType, err := core.ParseTxType(req.Type)
	if err != nil {
		return core.Transaction{}, err
	}
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	tx := core.Transaction{
		UserID:      userID,
		Date:        date,
		Type:        txType,
		Category:    strings.TrimSpace(req.Category),
		Description: strings.TrimSpace(req.Description),
		Amount:      core.Money{Cents: cents},
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request, userID int64) {
	var (
		txs []core.Transaction
		err error
	)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, convErr := strconv.Atoi(raw)
		if convErr != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		txs, err = s.store.ListRecentTransactions(r.Context(), userID, limit)
	} else {
		txs, err = s.store.ListTransactions(r.Context(), userID)
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list transactions", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.writeCachedJSON(w, r, summaryCacheKey("summary", userID), "failed to compute summary", func() (any, error) {
		income, err := s.store.TotalByType(r.Context(), userID, core.Income)
		if err != nil {
			return nil, err
		}
		expenses, err := s.store.TotalByType(r.Context(), userID, core.Expense)
		if err != nil {
			return nil, err
		}
		return summaryResponse{
			Income:   income.String(),
			Expenses: expenses.String(),
			Balance:  income.Sub(expenses).String(),
		}, nil
	})
}

func (s *Server) handleSummaryCategories(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.writeCachedJSON(w, r, summaryCacheKey("categories", userID), "failed to compute category totals", func() (any, error) {
		totals, err := s.store.SumByCategory(r.Context(), userID)
		if err != nil {
			return nil, err
		}
		out := make([]categoryTotalResponse, 0, len(totals))
		for _, ct := range totals {
			out = append(out, categoryTotalResponse{Category: ct.Category, Total: ct.Total.String()})
		}
		return out, nil
	})
}

func (s *Server) handleSummaryMonthly(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.writeCachedJSON(w, r, summaryCacheKey("monthly", userID), "failed to compute monthly totals", func() (any, error) {
		totals, err := s.store.SumByMonth(r.Context(), userID)
		if err != nil {
			return nil, err
		}
		out := make([]monthTotalResponse, 0, len(totals))
		for _, mt := range totals {
			out = append(out, monthTotalResponse{Month: mt.Month, Total: mt.Total.String()})
		}
		return out, nil
	})
}

func summaryCacheKey(kind string, userID int64) string {
	return kind + ":" + strconv.FormatInt(userID, 10)
}

// invalidateSummaries drops a user's cached aggregates after a write.
func (s *Server) invalidateSummaries(userID int64) {
	for _, kind := range []string{"summary", "categories", "monthly"} {
		s.summaries.Delete(summaryCacheKey(kind, userID))
	}
}

// writeCachedJSON serves the response from the summary cache when possible,
// computing and caching it otherwise. Errors from compute are logged and
// surfaced as a 500 with errMsg as the body.
func (s *Server) writeCachedJSON(w http.ResponseWriter, r *http.Request, key, errMsg string, compute func() (any, error)) {
	if body, ok := s.summaries.Get(key); ok {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	v, err := compute()
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to compute aggregate", "error", err, "cache_key", key)
		writeError(w, http.StatusInternalServerError, errMsg)
		return
	}

	body, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to encode aggregate", "error", err, "cache_key", key)
		writeError(w, http.StatusInternalServerError, errMsg)
		return
	}
	body = append(body, '\n')
	s.summaries.Set(key, body)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request, userID int64) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	csv, err := export.TransactionsCSV(r.Context(), s.store, userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to export transactions", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to export transactions")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="transactions.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(csv))
}

func toTransactionResponse(tx core.Transaction) transactionResponse {
	return transactionResponse{
		ID:          tx.ID,
		Date:        tx.Date.String(),
		Type:        tx.Type.String(),
		Category:    tx.Category,
		Description: tx.Description,
		Amount:      tx.Amount.String(),
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
