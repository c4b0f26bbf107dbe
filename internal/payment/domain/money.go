package domain

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned for amounts that are not non-negative decimals with at most two fraction digits.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseMinor converts a decimal string such as "150000.00" or "99.5" into minor units (cents).
func ParseMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, ErrInvalidAmount
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || (hasFrac && (frac == "" || len(frac) > 2)) {
		return 0, ErrInvalidAmount
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	const maxWhole = (1<<63 - 1) / 100
	if w > maxWhole {
		return 0, ErrInvalidAmount
	}
	return w*100 + f, nil
}

// FormatMinor renders minor units as a two-decimal string.
func FormatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	frac := strconv.FormatInt(v%100, 10)
	if len(frac) == 1 {
		frac = "0" + frac
	}
	return sign + strconv.FormatInt(v/100, 10) + "." + frac
}
