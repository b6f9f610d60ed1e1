package bankd

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryTypeDeposit  EntryType = "deposit"
	EntryTypeWithdraw EntryType = "withdraw"
)

// Entry is one ledger record against an account. Entries are immutable
// once persisted and are removed only by the cascade of an account
// deletion.
type Entry struct {
	ID          string
	IBAN        string
	Description string
	EntryDate   time.Time
	Amount      decimal.Decimal
	Type        EntryType
}
