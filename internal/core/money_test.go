package core

import "testing"

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"45.50", 4550, true},
		{"45,50", 4550, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{" 3000.00 ", 300000, true},
		{"-1", 0, false},
		{"+1", 0, false},
		{"0", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestMoneyString(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{4550, "45.50"},
		{300000, "3000.00"},
		{5, "0.05"},
		{100, "1.00"},
		{0, "0.00"},
		{-4550, "-45.50"},
	}
	for _, tc := range cases {
		if got := (Money{Cents: tc.cents}).String(); got != tc.want {
			t.Fatalf("%d cents: expected %q, got %q", tc.cents, tc.want, got)
		}
	}
}

func TestMoneyArithmetic(t *testing.T) {
	a := Money{Cents: 4550}
	b := Money{Cents: 300000}
	if got := a.Add(b).Cents; got != 304550 {
		t.Fatalf("Add: expected 304550, got %d", got)
	}
	if got := b.Sub(a).Cents; got != 295450 {
		t.Fatalf("Sub: expected 295450, got %d", got)
	}
}
