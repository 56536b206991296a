// Package sheets defines the outbound port for the spreadsheet mirror.
package sheets

import (
	"context"

	"fiscalforge/internal/core"
)

// TransactionAppender appends one transaction row to the mirror destination.
type TransactionAppender interface {
	AppendTransaction(ctx context.Context, tx core.Transaction) (rowRef string, err error)
}
