package bankd

import (
	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeCurrent AccountType = "current"
	AccountTypeSavings AccountType = "savings"
)

// Account is a tagged variant over current and savings accounts. The
// variant-specific rates are meaningful only for the matching Type; the
// repository and the HTTP layer dispatch on the tag. The balance is
// mutated exclusively through apply, inside a posting transaction.
type Account struct {
	IBAN    string
	Type    AccountType
	Owner   Client
	Balance decimal.Decimal

	// current accounts only
	OverdraftLimit        decimal.Decimal
	OverdraftInterestRate decimal.Decimal

	// savings accounts only
	InterestRate decimal.Decimal
}

// available reports whether amount can be withdrawn. Current accounts may
// draw into their overdraft; savings accounts may not go below zero.
func (a *Account) available(amount decimal.Decimal) bool {
	if a.Type == AccountTypeCurrent {
		return a.Balance.Add(a.OverdraftLimit).GreaterThanOrEqual(amount)
	}
	return a.Balance.GreaterThanOrEqual(amount)
}

// apply posts a single entry against the account, mutating the balance.
// The caller holds whatever lock makes the read-modify-write safe.
func (a *Account) apply(e Entry) error {
	if e.Amount.IsNegative() {
		return ErrIllegalArgument{Reason: "amount must not be negative"}
	}

	switch e.Type {
	case EntryTypeDeposit:
		a.Balance = a.Balance.Add(e.Amount)
	case EntryTypeWithdraw:
		if !a.available(e.Amount) {
			return ErrInsufficientFunds{IBAN: a.IBAN}
		}
		a.Balance = a.Balance.Sub(e.Amount)
	default:
		return ErrIllegalArgument{Reason: "unknown entry type " + string(e.Type)}
	}

	return nil
}
