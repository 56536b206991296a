// Package export renders a user's transactions as delimited text.
package export

import (
	"context"
	"fmt"
	"strings"

	"fiscalforge/internal/core"
)

// CSVHeader is the first line of every export.
const CSVHeader = "Date,Type,Category,Description,Amount"

// TransactionLister is the slice of the transaction store the exporter needs.
type TransactionLister interface {
	ListTransactions(ctx context.Context, userID int64) ([]core.Transaction, error)
}

// TransactionsCSV renders all of the user's transactions as CSV, in the
// transaction store's date-descending order. The description field is always
// double-quoted with embedded quotes doubled so the output survives any
// compliant CSV parser; amounts carry exactly two fractional digits.
//
// The date, type, category and amount fields are emitted bare, matching the
// long-established export layout: a category containing a comma or quote
// would corrupt its row. Category names are free text today, so pick them
// accordingly.
//
// The function only produces the text; writing it anywhere is the caller's
// job.
func TransactionsCSV(ctx context.Context, lister TransactionLister, userID int64) (string, error) {
	txs, err := lister.ListTransactions(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list transactions for export: %w", err)
	}
	return FormatCSV(txs), nil
}

// FormatCSV renders the given transactions as CSV in their given order.
func FormatCSV(txs []core.Transaction) string {
	var b strings.Builder
	b.WriteString(CSVHeader)
	b.WriteByte('\n')
	for _, tx := range txs {
		b.WriteString(tx.Date.String())
		b.WriteByte(',')
		b.WriteString(tx.Type.String())
		b.WriteByte(',')
		b.WriteString(tx.Category)
		b.WriteByte(',')
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(tx.Description, `"`, `""`))
		b.WriteByte('"')
		b.WriteByte(',')
		b.WriteString(tx.Amount.String())
		b.WriteByte('\n')
	}
	return b.String()
}
