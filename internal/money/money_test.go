package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"1500", "1500", false},
		{"42.50", "42.5", false},
		{"0.005", "0.01", false}, // rounds to paise
		{"0.004", "0", false},
		{"0", "0", false},
		{"-10", "", true},
		{"abc", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %s", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestRound(t *testing.T) {
	d := decimal.RequireFromString("10.555")
	if got := Round(d); got.String() != "10.56" {
		t.Errorf("Round(10.555) = %s, want 10.56", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(decimal.NewFromInt(5)); got != "5.00" {
		t.Errorf("Format(5) = %q, want \"5.00\"", got)
	}
}

func TestPaise(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1", 100},
		{"42.50", 4250},
		{"0.01", 1},
		{"0", 0},
	}
	for _, tt := range tests {
		d := decimal.RequireFromString(tt.input)
		if got := Paise(d); got != tt.want {
			t.Errorf("Paise(%s) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
