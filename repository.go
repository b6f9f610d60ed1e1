package bankd

import (
	"context"
	"time"
)

// Repository is the storage contract the service runs against. All
// methods may block on I/O. PostEntry and DeleteAccount are transactional:
// either every row change of the call becomes visible or none does.
type Repository interface {
	Clients(ctx context.Context) ([]Client, error)
	ClientByID(ctx context.Context, id int) (Client, error)
	// CreateClient persists a new client and returns it with the
	// assigned identifier.
	CreateClient(ctx context.Context, c Client) (Client, error)
	UpdateClient(ctx context.Context, c Client) (Client, error)
	DeleteClient(ctx context.Context, id int) error
	ClientOwnsAccounts(ctx context.Context, id int) (bool, error)

	// Accounts returns every account, or only those owned by ownerID
	// when it is non-nil.
	Accounts(ctx context.Context, ownerID *int) ([]Account, error)
	AccountsByType(ctx context.Context, typ AccountType) ([]Account, error)
	AccountByIBAN(ctx context.Context, iban string) (Account, error)
	AllIBANs(ctx context.Context) (map[string]struct{}, error)
	// CreateAccount returns ErrConflict when the IBAN is already taken.
	CreateAccount(ctx context.Context, acct Account) error
	UpdateAccount(ctx context.Context, acct Account) error
	// DeleteAccount removes the account and all its entries in one
	// transaction.
	DeleteAccount(ctx context.Context, iban string) error

	// Entries filters by an open, half-open, or closed time window with
	// strict inequality on both endpoints; nil disables an endpoint.
	// Ordering is unspecified, the transport layer sorts.
	Entries(ctx context.Context, iban string, from, to *time.Time) ([]Entry, error)
	// PostEntry applies e to its account and appends it to the ledger
	// atomically, guarding against lost updates on the balance. It
	// returns the persisted entry.
	PostEntry(ctx context.Context, e Entry) (Entry, error)
}
