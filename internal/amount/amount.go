package amount

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/dmarceau/swapcli/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseDecimal converts a decimal string like "1.23" into a base-unit
// integer for a token with the given decimals.
func ParseDecimal(decimal string, decimals int) (*big.Int, error) {
	decimal = strings.TrimSpace(decimal)
	if decimal == "" {
		return nil, clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	if !decimalPattern.MatchString(decimal) {
		return nil, clierr.New(clierr.CodeUsage, "amount must be in decimal form like 1.23")
	}

	parts := strings.SplitN(decimal, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > decimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}

	fracPart = fracPart + strings.Repeat("0", decimals-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return big.NewInt(0), nil
	}
	out, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return out, nil
}

// FormatDecimal converts a base-unit integer into a decimal string,
// trimming trailing zeros.
func FormatDecimal(baseUnits *big.Int, decimals int) string {
	if baseUnits == nil {
		return "0"
	}
	s := baseUnits.String()
	if decimals == 0 {
		return s
	}
	if len(s) <= decimals {
		pad := strings.Repeat("0", decimals-len(s)+1)
		s = pad + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// FormatDecimalString is FormatDecimal over a base-unit integer string.
func FormatDecimalString(baseUnits string, decimals int) string {
	n, ok := new(big.Int).SetString(baseUnits, 10)
	if !ok {
		return "0"
	}
	return FormatDecimal(n, decimals)
}
