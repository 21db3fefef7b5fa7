// Package split turns the free-text tail of an expense command into
// per-member monetary obligations.
package split

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
)

// Parse failures. Callers match them with errors.Is.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrAmountMismatch     = errors.New("split amounts do not add up to the expense total")
	ErrUnknownMember      = errors.New("unknown member")
	ErrInconsistentSyntax = errors.New("inconsistent split syntax")
)

// MaxAmount is the largest value a NUMERIC(12,2) column can hold.
var MaxAmount = decimal.RequireFromString("9999999999.99")

// numberRegex matches unsigned decimals like "5", "5.50", "5,50" and ".5".
var numberRegex = regexp.MustCompile(`^(?:\d+(?:[.,]\d*)?|[.,]\d+)$`)

// ParseAmount parses a non-negative decimal string, rounding half-up to two places.
// Both "." and "," are accepted as the decimal separator.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if !numberRegex.MatchString(s) {
		return decimal.Zero, ErrInvalidAmount
	}

	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	s = strings.TrimSuffix(s, ".")

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}

	// Round is half away from zero, which is half-up for non-negative input.
	amount = amount.Round(models.MoneyPlaces)
	if amount.GreaterThan(MaxAmount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

// ParsePositiveAmount is ParseAmount that also rejects zero.
func ParsePositiveAmount(s string) (decimal.Decimal, error) {
	amount, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}
