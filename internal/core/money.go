// Package core provides money parsing and handling utilities.
//
// Amounts are kept as integer kopecks. The JSON form is a plain number of
// rubles, which is what browser clients send and expect.
package core

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type Money struct {
	Kopecks int64
}

// Rubles builds a Money value from whole rubles.
func Rubles(r int64) Money {
	return Money{Kopecks: r * 100}
}

// Decimal returns the amount in rubles as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Kopecks, -2)
}

func (m Money) Add(o Money) Money { return Money{Kopecks: m.Kopecks + o.Kopecks} }

func (m Money) Sub(o Money) Money { return Money{Kopecks: m.Kopecks - o.Kopecks} }

// maxRubles bounds amounts so the kopeck value always fits in an int64.
var maxRubles = decimal.New(1, 15)

// MoneyFromDecimal rounds to two places (half away from zero) and converts
// to kopecks. Amounts beyond ±10^15 rubles are rejected with ErrInvalidAmount.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if d.Abs().GreaterThan(maxRubles) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Kopecks: d.Round(2).Shift(2).IntPart()}, nil
}

// ParseMoney converts a decimal string to Money.
//
// Both dot (12.34) and comma (12,34) separators are accepted, as are spaces
// used for digit grouping ("1 500"). Negative amounts are rejected.
//
// Examples:
//
//	ParseMoney("12.34")  -> 1234 kopecks
//	ParseMoney("1 500")  -> 150000 kopecks
//	ParseMoney("0.005")  -> 1 kopeck
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return MoneyFromDecimal(d)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal().String()), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = Money{}
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ErrInvalidAmount
	}
	v, err := MoneyFromDecimal(d)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// FormatRubles renders the amount with ru-RU digit grouping, e.g. "1 234 567 ₽".
// Kopecks are shown only when non-zero.
func FormatRubles(m Money) string {
	neg := m.Kopecks < 0
	k := m.Kopecks
	if neg {
		k = -k
	}
	whole := strconv.FormatInt(k/100, 10)

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	if rem := k % 100; rem != 0 {
		b.WriteString(",")
		if rem < 10 {
			b.WriteString("0")
		}
		b.WriteString(strconv.FormatInt(rem, 10))
	}
	out := b.String() + " ₽"
	if neg {
		return "-" + out
	}
	return out
}
