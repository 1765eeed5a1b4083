package models

import "strings"

// NormalizeCurrency trims and upper-cases a currency code
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCurrency reports whether code is a 3–4 letter currency code. Blank is
// valid and means the reporting currency.
func ValidCurrency(code string) bool {
	code = NormalizeCurrency(code)
	if code == "" {
		return true
	}
	if len(code) < 3 || len(code) > 4 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
