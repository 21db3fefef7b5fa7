package ledger

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"
)

// MemberBalance is the input to PlanSettlement.
type MemberBalance struct {
	UserID int64
	Amount decimal.Decimal
}

// Transfer is a payment from a debtor to a creditor.
type Transfer struct {
	FromUserID int64
	ToUserID   int64
	Amount     decimal.Decimal
}

// PlanSettlement pairs the largest debtor with the largest creditor until one
// side runs out, ties going to the lower user ID. For a zero-sum input the
// transfers zero every balance and number at most len(balances)-1.
// Transfers come back largest first.
func PlanSettlement(balances []MemberBalance) []Transfer {
	var creditors, debtors []MemberBalance
	for _, b := range balances {
		switch {
		case b.Amount.IsPositive():
			creditors = append(creditors, b)
		case b.Amount.IsNegative():
			debtors = append(debtors, MemberBalance{UserID: b.UserID, Amount: b.Amount.Neg()})
		}
	}

	var transfers []Transfer
	for len(creditors) > 0 && len(debtors) > 0 {
		ci := largest(creditors)
		di := largest(debtors)

		amount := decimal.Min(creditors[ci].Amount, debtors[di].Amount)
		transfers = append(transfers, Transfer{
			FromUserID: debtors[di].UserID,
			ToUserID:   creditors[ci].UserID,
			Amount:     amount,
		})

		creditors[ci].Amount = creditors[ci].Amount.Sub(amount)
		debtors[di].Amount = debtors[di].Amount.Sub(amount)
		if creditors[ci].Amount.IsZero() {
			creditors = slices.Delete(creditors, ci, ci+1)
		}
		if debtors[di].Amount.IsZero() {
			debtors = slices.Delete(debtors, di, di+1)
		}
	}

	slices.SortFunc(transfers, func(a, b Transfer) int {
		if c := b.Amount.Cmp(a.Amount); c != 0 {
			return c
		}
		if c := cmp.Compare(a.FromUserID, b.FromUserID); c != 0 {
			return c
		}
		return cmp.Compare(a.ToUserID, b.ToUserID)
	})
	return transfers
}

// largest returns the index of the biggest amount, the lowest user ID winning ties.
func largest(list []MemberBalance) int {
	best := 0
	for i := 1; i < len(list); i++ {
		c := list[i].Amount.Cmp(list[best].Amount)
		if c > 0 || (c == 0 && list[i].UserID < list[best].UserID) {
			best = i
		}
	}
	return best
}
