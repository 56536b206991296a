package core

// CategoryTotal is an expense total aggregated by category name.
type CategoryTotal struct {
	Category string
	Total    Money
}

// MonthTotal is an expense total aggregated by calendar month.
// Month is in "YYYY-MM" form.
type MonthTotal struct {
	Month string
	Total Money
}

// Summary is the headline view for a user: income, expenses and the balance
// implied by signing every transaction by its type.
type Summary struct {
	Income   Money
	Expenses Money
	Balance  Money
}
