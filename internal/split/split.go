package split

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
)

// Mode identifies which split grammar produced a plan.
type Mode int

// Split grammars, in the order they are tried.
const (
	ModeEqualAll Mode = iota
	ModeEqualSubset
	ModeExact
	ModePercent
	ModeShares
)

func (m Mode) String() string {
	switch m {
	case ModeEqualAll:
		return "equal"
	case ModeEqualSubset:
		return "equal-subset"
	case ModeExact:
		return "exact"
	case ModePercent:
		return "percent"
	case ModeShares:
		return "shares"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// SelfMention refers to the payer without needing their username.
const SelfMention = "me"

// maxImplicitShareWeight is the largest bare integer still read as a share weight.
// Larger bare integers are exact amounts; "=12x" forces a share weight.
const maxImplicitShareWeight = 9

// Member is a current chat member that a mention can resolve to.
// ExternalID lets "@<telegram id>" name a member who has no username.
type Member struct {
	UserID     int64
	ExternalID int64
	Username   string
}

// Allocation is what one member owes from the expense.
type Allocation struct {
	UserID int64
	Amount decimal.Decimal
}

// Plan is a validated allocation whose amounts sum exactly to Total.
type Plan struct {
	Mode        Mode
	Total       decimal.Decimal
	Allocations []Allocation
}

// Sum returns the sum of all allocated amounts.
func (p *Plan) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range p.Allocations {
		sum = sum.Add(a.Amount)
	}
	return sum
}

// mentionRegex matches "@name" with an optional "=value" tail.
var mentionRegex = regexp.MustCompile(`^@([A-Za-z0-9_]{1,64})(?:=(\S*))?$`)

type token struct {
	userID   int64
	hasValue bool
	raw      string
}

// Parse builds an allocation plan for total from the raw split arguments.
// An empty raw string splits equally across all members; payer resolves "@me".
func Parse(raw string, total decimal.Decimal, payer int64, members []Member) (*Plan, error) {
	total = total.Round(models.MoneyPlaces)
	if !total.IsPositive() || total.GreaterThan(MaxAmount) {
		return nil, ErrInvalidAmount
	}

	tokens, err := tokenize(raw, payer, members)
	if err != nil {
		return nil, err
	}

	if len(tokens) == 0 {
		return equalAll(total, members)
	}

	valued := 0
	for _, t := range tokens {
		if t.hasValue {
			valued++
		}
	}

	switch valued {
	case 0:
		ids := make([]int64, len(tokens))
		weights := make([]decimal.Decimal, len(tokens))
		for i, t := range tokens {
			ids[i] = t.userID
			weights[i] = decimal.NewFromInt(1)
		}
		return allocate(ModeEqualSubset, total, ids, weights)
	case len(tokens):
		return parseValued(total, tokens)
	default:
		return nil, fmt.Errorf("%w: mentions with and without values", ErrInconsistentSyntax)
	}
}

func tokenize(raw string, payer int64, members []Member) ([]token, error) {
	byName := make(map[string]int64, len(members))
	byExternal := make(map[int64]int64, len(members))
	for _, m := range members {
		if m.Username != "" {
			byName[strings.ToLower(m.Username)] = m.UserID
		}
		if m.ExternalID != 0 {
			byExternal[m.ExternalID] = m.UserID
		}
	}

	fields := strings.Fields(raw)
	tokens := make([]token, 0, len(fields))
	seen := make(map[int64]bool, len(fields))
	for _, field := range fields {
		match := mentionRegex.FindStringSubmatch(field)
		if match == nil {
			return nil, fmt.Errorf("%w: unexpected %q", ErrInconsistentSyntax, field)
		}

		name := strings.ToLower(match[1])
		userID, ok := byName[name]
		if !ok && name == SelfMention && payer != 0 {
			userID, ok = payer, true
		}
		// Usernames never start with a digit, so an all-digit name is an account id.
		if ext, err := strconv.ParseInt(name, 10, 64); !ok && err == nil {
			userID, ok = byExternal[ext]
		}
		if !ok {
			return nil, fmt.Errorf("%w: @%s", ErrUnknownMember, match[1])
		}
		if seen[userID] {
			return nil, fmt.Errorf("%w: @%s mentioned twice", ErrInconsistentSyntax, match[1])
		}
		seen[userID] = true

		tokens = append(tokens, token{
			userID:   userID,
			hasValue: strings.Contains(field, "="),
			raw:      match[2],
		})
	}
	return tokens, nil
}

func equalAll(total decimal.Decimal, members []Member) (*Plan, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: chat has no members", ErrUnknownMember)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	weights := make([]decimal.Decimal, len(ids))
	for i := range weights {
		weights[i] = decimal.NewFromInt(1)
	}
	return allocate(ModeEqualAll, total, ids, weights)
}

func parseValued(total decimal.Decimal, tokens []token) (*Plan, error) {
	var percents, shareMarks, fractional int
	for _, t := range tokens {
		switch {
		case strings.HasSuffix(t.raw, "%"):
			percents++
		case strings.HasSuffix(t.raw, "x"):
			shareMarks++
		case strings.ContainsAny(t.raw, ".,"):
			fractional++
		}
	}

	ids := make([]int64, len(tokens))
	for i, t := range tokens {
		ids[i] = t.userID
	}

	switch {
	case percents > 0:
		if percents != len(tokens) {
			return nil, fmt.Errorf("%w: percentages mixed with amounts", ErrInconsistentSyntax)
		}
		return parsePercent(total, ids, tokens)
	case shareMarks > 0:
		if shareMarks != len(tokens) {
			return nil, fmt.Errorf("%w: shares mixed with amounts", ErrInconsistentSyntax)
		}
		return parseShares(total, ids, tokens)
	}

	values := make([]decimal.Decimal, len(tokens))
	sum := decimal.Zero
	small := true
	for i, t := range tokens {
		v, err := ParseAmount(t.raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, t.raw)
		}
		values[i] = v
		sum = sum.Add(v)
		if v.GreaterThan(decimal.NewFromInt(maxImplicitShareWeight)) {
			small = false
		}
	}

	if fractional == 0 && small && !sum.Equal(total) {
		return allocate(ModeShares, total, ids, values)
	}

	if !sum.Equal(total) {
		return nil, fmt.Errorf("%w: %s != %s", ErrAmountMismatch, sum.StringFixed(2), total.StringFixed(2))
	}

	plan := &Plan{Mode: ModeExact, Total: total, Allocations: make([]Allocation, len(ids))}
	for i, id := range ids {
		plan.Allocations[i] = Allocation{UserID: id, Amount: values[i]}
	}
	return plan, nil
}

// percentTolerance is how far the percentages may drift from 100.
var percentTolerance = decimal.RequireFromString("0.01")

func parsePercent(total decimal.Decimal, ids []int64, tokens []token) (*Plan, error) {
	weights := make([]decimal.Decimal, len(tokens))
	sum := decimal.Zero
	for i, t := range tokens {
		v, err := ParseAmount(strings.TrimSuffix(t.raw, "%"))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, t.raw)
		}
		weights[i] = v
		sum = sum.Add(v)
	}

	hundred := decimal.NewFromInt(100)
	if sum.Sub(hundred).Abs().GreaterThan(percentTolerance) {
		return nil, fmt.Errorf("%w: percentages add up to %s%%", ErrAmountMismatch, sum.String())
	}
	return allocate(ModePercent, total, ids, weights)
}

func parseShares(total decimal.Decimal, ids []int64, tokens []token) (*Plan, error) {
	weights := make([]decimal.Decimal, len(tokens))
	for i, t := range tokens {
		v, err := ParseAmount(strings.TrimSuffix(t.raw, "x"))
		if err != nil || !v.IsInteger() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, t.raw)
		}
		weights[i] = v
	}
	return allocate(ModeShares, total, ids, weights)
}

// allocate divides total proportionally to weights. Each share is floored to
// the cent, then the leftover cents go one each to the largest fractional
// remainders, earlier positions winning ties. The result sums to total exactly.
func allocate(mode Mode, total decimal.Decimal, ids []int64, weights []decimal.Decimal) (*Plan, error) {
	weightSum := decimal.Zero
	for _, w := range weights {
		weightSum = weightSum.Add(w)
	}
	if !weightSum.IsPositive() {
		return nil, fmt.Errorf("%w: weights add up to zero", ErrInvalidAmount)
	}

	cents := total.Shift(models.MoneyPlaces).IntPart()
	centsDec := decimal.NewFromInt(cents)

	shares := make([]int64, len(weights))
	remainders := make([]decimal.Decimal, len(weights))
	var assigned int64
	for i, w := range weights {
		exact := centsDec.Mul(w).Div(weightSum)
		floor := exact.Floor()
		shares[i] = floor.IntPart()
		remainders[i] = exact.Sub(floor)
		assigned += shares[i]
	}

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return remainders[b].Cmp(remainders[a])
	})

	for i := 0; assigned < cents; i++ {
		shares[order[i%len(order)]]++
		assigned++
	}

	plan := &Plan{Mode: mode, Total: total, Allocations: make([]Allocation, len(ids))}
	for i, id := range ids {
		plan.Allocations[i] = Allocation{UserID: id, Amount: decimal.NewFromInt(shares[i]).Shift(-models.MoneyPlaces)}
	}
	return plan, nil
}
