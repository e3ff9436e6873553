package config

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// reader reads typed values and remembers every key that was set but could not be parsed.
// Malformed values are reported by Load instead of silently falling back to defaults.
type reader struct {
	lookup  func(string) (string, bool)
	invalid []string
}

func (r *reader) raw(key string) (string, bool) {
	value, ok := r.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (r *reader) fail(key string) {
	r.invalid = append(r.invalid, key)
}

func (r *reader) str(key, fallback string) string {
	if value, ok := r.raw(key); ok {
		return value
	}
	return fallback
}

func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		r.fail(key)
		return fallback
	}
	return d
}

func (r *reader) integer(key string, fallback int64) int64 {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		r.fail(key)
		return fallback
	}
	return n
}

func (r *reader) boolean(key string, fallback bool) bool {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	r.fail(key)
	return fallback
}

// list splits a comma separated value, dropping blanks.
func (r *reader) list(key string) []string {
	value, ok := r.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs parses "a=1,b=2". Keys are lower-cased; an entry without "=" marks the key invalid.
func (r *reader) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range r.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			r.fail(key)
			continue
		}
		out[name] = value
	}
	return out
}

// amounts parses CURRENCY=minorUnits pairs such as "JPY=10000,EUR=10000".
func (r *reader) amounts(key string) map[string]int64 {
	out := make(map[string]int64)
	for currency, value := range r.pairs(key) {
		amount, err := strconv.ParseInt(value, 10, 64)
		if err != nil || amount <= 0 {
			r.fail(key)
			continue
		}
		out[strings.ToUpper(currency)] = amount
	}
	return out
}

// rate parses a fraction in [0, 1].
func (r *reader) rate(key string) decimal.Decimal {
	value, ok := r.raw(key)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil || !validRate(d) {
		r.fail(key)
		return decimal.Zero
	}
	return d
}

// coupons parses CODE=rate pairs. Codes are upper-cased and sorted.
func (r *reader) coupons(key string) []CouponConfig {
	var out []CouponConfig
	for code, value := range r.pairs(key) {
		d, err := decimal.NewFromString(value)
		if err != nil || !validRate(d) {
			r.fail(key)
			continue
		}
		out = append(out, CouponConfig{Code: strings.ToUpper(code), Rate: d})
	}
	slices.SortFunc(out, func(a, b CouponConfig) int { return strings.Compare(a.Code, b.Code) })
	return out
}

func validRate(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1))
}
