// Package memory is an in-process mirror target, useful for local
// development and tests when no spreadsheet is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"fiscalforge/internal/core"
)

type Store struct {
	mu   sync.Mutex
	rows []core.Transaction
}

func New() *Store {
	return &Store{}
}

// AppendTransaction records the transaction and returns a synthetic row
// reference in the same position-based style a spreadsheet append yields.
func (s *Store) AppendTransaction(_ context.Context, tx core.Transaction) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, tx)
	return fmt.Sprintf("memory!A%d:E%d", len(s.rows), len(s.rows)), nil
}

// Rows returns a copy of everything mirrored so far, in append order.
func (s *Store) Rows() []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Transaction, len(s.rows))
	copy(out, s.rows)
	return out
}
