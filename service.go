package bankd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ibanRetries bounds how often account creation re-draws an IBAN after a
// storage-level collision with a concurrent creation.
const ibanRetries = 3

type Service interface {
	ListClients(ctx context.Context) ([]Client, error)
	GetClient(ctx context.Context, id int) (Client, error)
	AddClient(ctx context.Context, c Client) (Client, error)
	UpdateClient(ctx context.Context, id int, c Client) (Client, error)
	DeleteClient(ctx context.Context, id int) error

	ListAccounts(ctx context.Context, ownerID *int) ([]Account, error)
	ListAccountsByType(ctx context.Context, typ AccountType) ([]Account, error)
	GetAccount(ctx context.Context, iban string) (Account, error)
	GetAccountByType(ctx context.Context, iban string, typ AccountType) (Account, error)
	AddAccount(ctx context.Context, acct Account, ownerID int) (Account, error)
	UpdateAccount(ctx context.Context, iban string, acct Account, ownerID int) (Account, error)
	DeleteAccount(ctx context.Context, iban string) error

	GetEntries(ctx context.Context, iban string, from, to *time.Time) ([]Entry, error)
	PostEntry(ctx context.Context, iban string, e Entry) (Entry, error)
	Statement(ctx context.Context, w io.Writer, iban string) error
}

type serviceImpl struct {
	repo Repository
	gen  *IBANGenerator
	bank BankConfig
	node *snowflake.Node
	log  *zerolog.Logger
}

var (
	_ Service = (*serviceImpl)(nil)
)

func NewService(repo Repository, bank BankConfig, log *zerolog.Logger) (*serviceImpl, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("initializing id node: %w", err)
	}

	return &serviceImpl{
		repo: repo,
		gen:  NewIBANGenerator(bank, repo),
		bank: bank,
		node: node,
		log:  log,
	}, nil
}

//
// Client registry
//

func (s *serviceImpl) ListClients(ctx context.Context) ([]Client, error) {
	return s.repo.Clients(ctx)
}

func (s *serviceImpl) GetClient(ctx context.Context, id int) (Client, error) {
	return s.repo.ClientByID(ctx, id)
}

func (s *serviceImpl) AddClient(ctx context.Context, c Client) (Client, error) {
	if c.ID != 0 {
		return Client{}, ErrIllegalArgument{Reason: "id must not be set when creating a client"}
	}
	return s.repo.CreateClient(ctx, c)
}

// UpdateClient replaces the names of an existing client. The identifier
// from the path wins over any identifier in the payload.
func (s *serviceImpl) UpdateClient(ctx context.Context, id int, c Client) (Client, error) {
	if _, err := s.repo.ClientByID(ctx, id); err != nil {
		return Client{}, err
	}
	c.ID = id
	return s.repo.UpdateClient(ctx, c)
}

func (s *serviceImpl) DeleteClient(ctx context.Context, id int) error {
	if _, err := s.repo.ClientByID(ctx, id); err != nil {
		return err
	}
	owns, err := s.repo.ClientOwnsAccounts(ctx, id)
	if err != nil {
		return err
	}
	if owns {
		return ErrIllegalState{Reason: fmt.Sprintf("client %d still owns accounts and cannot be deleted", id)}
	}
	return s.repo.DeleteClient(ctx, id)
}

//
// Account registry
//

func (s *serviceImpl) ListAccounts(ctx context.Context, ownerID *int) ([]Account, error) {
	return s.repo.Accounts(ctx, ownerID)
}

func (s *serviceImpl) ListAccountsByType(ctx context.Context, typ AccountType) ([]Account, error) {
	return s.repo.AccountsByType(ctx, typ)
}

func (s *serviceImpl) GetAccount(ctx context.Context, iban string) (Account, error) {
	return s.repo.AccountByIBAN(ctx, iban)
}

// GetAccountByType fails with NotFound when the IBAN exists but belongs
// to the other account variant.
func (s *serviceImpl) GetAccountByType(ctx context.Context, iban string, typ AccountType) (Account, error) {
	acct, err := s.repo.AccountByIBAN(ctx, iban)
	if err != nil {
		return Account{}, err
	}
	if acct.Type != typ {
		return Account{}, ErrNotFound{Resource: string(typ) + " account", ID: iban}
	}
	return acct, nil
}

// AddAccount creates an account of the variant tagged on acct. The
// caller-supplied IBAN, owner, and balance are discarded: the IBAN is
// drawn from the generator, the owner resolved from ownerID, and the
// balance starts at zero. A storage-level IBAN collision with a
// concurrent creation is retried with a fresh draw.
func (s *serviceImpl) AddAccount(ctx context.Context, acct Account, ownerID int) (Account, error) {
	if acct.Type != AccountTypeCurrent && acct.Type != AccountTypeSavings {
		return Account{}, ErrIllegalArgument{Reason: "unknown account type " + string(acct.Type)}
	}

	owner, err := s.repo.ClientByID(ctx, ownerID)
	if err != nil {
		if errors.As(err, &ErrNotFound{}) {
			return Account{}, ErrClientDoesNotExist{ID: ownerID}
		}
		return Account{}, err
	}

	acct.Owner = owner
	acct.Balance = decimal.Zero

	for attempt := 0; attempt < ibanRetries; attempt++ {
		iban, err := s.gen.NextIBAN(ctx)
		if err != nil {
			return Account{}, err
		}
		acct.IBAN = iban

		err = s.repo.CreateAccount(ctx, acct)
		if err == nil {
			return acct, nil
		}
		if !errors.As(err, &ErrConflict{}) {
			return Account{}, err
		}
		s.log.Warn().
			Str("iban", iban).
			Int("attempt", attempt+1).
			Msg("IBAN collision on account creation, redrawing")
	}

	return Account{}, ErrExhaustedIBANSpace{}
}

// UpdateAccount replaces the owner and the variant-specific parameters of
// an existing account. The IBAN and the balance are immutable here; a
// payload variant disagreeing with the stored one is rejected.
func (s *serviceImpl) UpdateAccount(ctx context.Context, iban string, acct Account, ownerID int) (Account, error) {
	stored, err := s.repo.AccountByIBAN(ctx, iban)
	if err != nil {
		return Account{}, err
	}
	if stored.Type != acct.Type {
		return Account{}, ErrIllegalArgument{
			Reason: fmt.Sprintf("account %s is a %s account, not %s", iban, stored.Type, acct.Type),
		}
	}

	owner, err := s.repo.ClientByID(ctx, ownerID)
	if err != nil {
		if errors.As(err, &ErrNotFound{}) {
			return Account{}, ErrClientDoesNotExist{ID: ownerID}
		}
		return Account{}, err
	}

	stored.Owner = owner
	switch stored.Type {
	case AccountTypeCurrent:
		stored.OverdraftLimit = acct.OverdraftLimit
		stored.OverdraftInterestRate = acct.OverdraftInterestRate
	case AccountTypeSavings:
		stored.InterestRate = acct.InterestRate
	}

	if err := s.repo.UpdateAccount(ctx, stored); err != nil {
		return Account{}, err
	}
	return stored, nil
}

// DeleteAccount removes a balanced account together with its entries.
func (s *serviceImpl) DeleteAccount(ctx context.Context, iban string) error {
	acct, err := s.repo.AccountByIBAN(ctx, iban)
	if err != nil {
		return err
	}
	if !acct.Balance.IsZero() {
		return ErrIllegalState{
			Reason: fmt.Sprintf("account %s is not balanced at zero and cannot be deleted", iban),
		}
	}
	return s.repo.DeleteAccount(ctx, iban)
}

//
// Entry ledger
//

func (s *serviceImpl) GetEntries(ctx context.Context, iban string, from, to *time.Time) ([]Entry, error) {
	if _, err := s.repo.AccountByIBAN(ctx, iban); err != nil {
		return nil, err
	}
	return s.repo.Entries(ctx, iban, from, to)
}

// PostEntry is the posting coordinator: it validates the entry, stamps it
// with the account IBAN and a fresh id when absent, and hands it to the
// repository, which applies the balance change and appends the entry in
// one transaction.
func (s *serviceImpl) PostEntry(ctx context.Context, iban string, e Entry) (Entry, error) {
	if _, err := s.repo.AccountByIBAN(ctx, iban); err != nil {
		return Entry{}, err
	}
	if e.Amount.IsNegative() {
		return Entry{}, ErrIllegalArgument{Reason: "amount must not be negative"}
	}
	if e.Type != EntryTypeDeposit && e.Type != EntryTypeWithdraw {
		return Entry{}, ErrIllegalArgument{Reason: "unknown entry type " + string(e.Type)}
	}

	e.IBAN = iban
	if e.ID == "" {
		e.ID = s.node.Generate().String()
	}

	posted, err := s.repo.PostEntry(ctx, e)
	if err != nil {
		return Entry{}, err
	}

	s.log.Info().
		Str("iban", iban).
		Str("entry", posted.ID).
		Str("type", string(posted.Type)).
		Str("amount", posted.Amount.String()).
		Msg("entry posted")

	return posted, nil
}
