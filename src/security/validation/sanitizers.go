package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Rhymond/go-money"
	"github.com/username/fintrack/backend/src/utils"
)

const (
	MaxSymbolLength = 32
	MaxNameLength   = 255
	MaxNotesLength  = 1000
)

// StripUnprintable removes non-printable characters, allowing common whitespace
// like space, tab, newline, and carriage return.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		return -1 // Drop the rune
	}, s)
}

// SanitizeText strips unprintable characters and surrounding whitespace and
// rejects values longer than maxLen runes.
func SanitizeText(field, s string, maxLen int) (string, error) {
	clean := strings.TrimSpace(StripUnprintable(s))
	if len([]rune(clean)) > maxLen {
		return "", fmt.Errorf("%s must be at most %d characters", field, maxLen)
	}
	return clean, nil
}

// NormalizeSymbol uppercases a ticker and checks it only holds characters
// that appear in exchange tickers.
func NormalizeSymbol(s string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(s))
	if symbol == "" {
		return "", fmt.Errorf("symbol is required")
	}
	if len(symbol) > MaxSymbolLength {
		return "", fmt.Errorf("symbol must be at most %d characters", MaxSymbolLength)
	}
	for _, r := range symbol {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '^' || r == '=') {
			return "", fmt.Errorf("symbol '%s' contains invalid character %q", symbol, r)
		}
	}
	return symbol, nil
}

// NormalizeCurrencyCode uppercases code and checks it is a known ISO 4217 currency.
func NormalizeCurrencyCode(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 3 || money.GetCurrency(c) == nil {
		return "", fmt.Errorf("unknown currency code '%s'", code)
	}
	return c, nil
}

// ValidateDate checks a YYYY-MM-DD calendar date.
func ValidateDate(field, date string) error {
	if _, err := utils.ParseDate(date); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}
