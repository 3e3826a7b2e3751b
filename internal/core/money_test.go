package core

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0", 0, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half away from zero
		{" 2.50 ", 250, true},
		{"1 500", 150000, true},
		{"1 500,5", 150050, true},
		{"-1", 0, false},
		{"+1", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
		{"10000000000000000", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		if tc.ok {
			if err != nil || got.Kopecks != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got.Kopecks, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(Money{Kopecks: 150050})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "1500.5" {
		t.Fatalf("expected 1500.5, got %s", b)
	}

	var m Money
	for in, want := range map[string]int64{
		`1500.5`:   150050,
		`"12.345"`: 1235,
		`0`:        0,
		`null`:     0,
	} {
		if err := json.Unmarshal([]byte(in), &m); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if m.Kopecks != want {
			t.Fatalf("%s: expected %d, got %d", in, want, m.Kopecks)
		}
	}
	if err := json.Unmarshal([]byte(`"lots"`), &m); err == nil {
		t.Fatalf("expected error for non-numeric amount")
	}
}

func TestMoneyJSONRejectsOverflow(t *testing.T) {
	for _, in := range []string{`1e20`, `-1e20`, `"99999999999999999999"`, `1000000000000000.01`} {
		m := Money{Kopecks: 42}
		err := json.Unmarshal([]byte(in), &m)
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%s: expected ErrInvalidAmount, got %v (kopecks=%d)", in, err, m.Kopecks)
		}
		if m.Kopecks != 42 {
			t.Fatalf("%s: value must be left untouched, got %d", in, m.Kopecks)
		}
	}

	var m Money
	if err := json.Unmarshal([]byte(`1000000000000000`), &m); err != nil {
		t.Fatalf("upper bound should be accepted: %v", err)
	}
	if m.Kopecks != 100000000000000000 {
		t.Fatalf("expected 10^17 kopecks, got %d", m.Kopecks)
	}
}

func TestOverflowingTotalCostFailsProjectValidation(t *testing.T) {
	var in NewProjectInput
	err := json.Unmarshal([]byte(`{"Name":"Alpha","Client":"Acme","StartDate":"2024-01-01","TotalCost":1e20}`), &in)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestFormatRubles(t *testing.T) {
	cases := []struct {
		in   Money
		want string
	}{
		{Money{}, "0 ₽"},
		{Rubles(999), "999 ₽"},
		{Rubles(1000), "1 000 ₽"},
		{Rubles(1234567), "1 234 567 ₽"},
		{Money{Kopecks: 123405}, "1 234,05 ₽"},
		{Rubles(-25000), "-25 000 ₽"},
	}
	for _, tc := range cases {
		if got := FormatRubles(tc.in); got != tc.want {
			t.Errorf("FormatRubles(%d) = %q, want %q", tc.in.Kopecks, got, tc.want)
		}
	}
}
