package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  TxType = "Income"
	Expense TxType = "Expense"
)

type (
	// TxType is the direction of a transaction. The sign of an amount is
	// implied by the type and never stored.
	TxType string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// User is an account row. The password digest stays inside the storage
	// layer and is not part of the domain type.
	User struct {
		ID        int64
		Username  string
		Email     string
		CreatedAt time.Time
	}

	Transaction struct {
		ID          int64
		UserID      int64
		Date        Date
		Type        TxType
		Category    string
		Description string
		Amount      Money
		CreatedAt   time.Time
	}
)

var (
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidType        = errors.New("invalid transaction type")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyCategory      = errors.New("empty category")
	ErrEmptyUsername      = errors.New("empty username")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserRequired       = errors.New("transaction requires an owning user")
)

func (t TxType) Valid() bool {
	return t == Income || t == Expense
}

// String implements fmt.Stringer
func (t TxType) String() string {
	return string(t)
}

// ParseTxType converts a stored or user-supplied label into a TxType.
func ParseTxType(s string) (TxType, error) {
	t := TxType(strings.TrimSpace(s))
	if !t.Valid() {
		return "", ErrInvalidType
	}
	return t, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a calendar date in YYYY-MM-DD form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// String renders the date as YYYY-MM-DD, the storage and export format.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

// MonthKey returns the YYYY-MM bucket the date falls into.
func (d Date) MonthKey() string {
	return d.Format("2006-01")
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (u User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return ErrEmptyUsername
	}
	return nil
}

func (tx Transaction) Validate() error {
	if tx.UserID <= 0 {
		return ErrUserRequired
	}
	if err := tx.Date.Validate(); err != nil {
		return err
	}
	if !tx.Type.Valid() {
		return ErrInvalidType
	}
	if strings.TrimSpace(tx.Category) == "" {
		return ErrEmptyCategory
	}
	if len(tx.Description) > 500 {
		return errors.New("description too long (max 500 characters)")
	}
	return tx.Amount.Validate()
}
