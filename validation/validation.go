// Package validation collects field-level violations for request payloads.
package validation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Violations maps a field name to a violation code (e.g. "required").
// Codes are translated at the HTTP boundary with i18n.T.
type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Add records a violation unless the field already has one.
func (v Violations) Add(field, code string) {
	if _, ok := v[field]; !ok {
		v[field] = code
	}
}

// Merge copies other into v, prefixing field names.
func (v Violations) Merge(prefix string, other Violations) {
	for f, c := range other {
		v.Add(prefix+f, c)
	}
}

// Basic validators
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "required")
	}
}

func RequiredID(field string, id uint, v Violations) {
	if id == 0 {
		v.Add(field, "required")
	}
}

func RequiredDate(field string, t time.Time, v Violations) {
	if t.IsZero() {
		v.Add(field, "required")
	}
}

func MaxLen(field, value string, maxLen int, v Violations) {
	if len([]rune(value)) > maxLen {
		v.Add(field, "too_long")
	}
}

func PositiveDecimal(field string, val decimal.Decimal, v Violations) {
	if !val.IsPositive() {
		v.Add(field, "must_be_positive")
	}
}

func NonNegativeDecimal(field string, val decimal.Decimal, v Violations) {
	if val.IsNegative() {
		v.Add(field, "must_not_be_negative")
	}
}

// OneOf reports "invalid_choice" when value is not one of allowed.
func OneOf(field, value string, allowed []string, v Violations) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.Add(field, "invalid_choice")
}
