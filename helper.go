package bankd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var schemaSQL = `
CREATE TABLE IF NOT EXISTS clients (
	id        SERIAL PRIMARY KEY,
	firstname VARCHAR(100) NOT NULL,
	lastname  VARCHAR(100) NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	iban                    CHAR(22) PRIMARY KEY,
	type                    VARCHAR(10) NOT NULL,
	owner_id                INTEGER NOT NULL REFERENCES clients (id),
	balance                 NUMERIC(19, 4) NOT NULL DEFAULT 0,
	overdraft_limit         NUMERIC(19, 4) NOT NULL DEFAULT 0,
	overdraft_interest_rate NUMERIC(9, 4) NOT NULL DEFAULT 0,
	interest_rate           NUMERIC(9, 4) NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS entries (
	id          VARCHAR(32) PRIMARY KEY,
	iban        CHAR(22) NOT NULL REFERENCES accounts (iban),
	description VARCHAR(255),
	entry_date  TIMESTAMPTZ NOT NULL,
	amount      NUMERIC(19, 4) NOT NULL,
	type        VARCHAR(10) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts (owner_id);
CREATE INDEX IF NOT EXISTS idx_entries_iban_date ON entries (iban, entry_date);
`

// LocalHelper prepares a local database for demos: schema bootstrap and
// a small idempotent sample data set.
type LocalHelper struct {
	repo Repository
	pg   *PostgresEndpoint
	cfg  *Config
	log  *zerolog.Logger
}

func NewLocalHelper(cfg *Config, log *zerolog.Logger) (*LocalHelper, error) {
	pg, err := NewPostgresEndpoint(cfg.Database.ConnStr, log)
	if err != nil {
		return nil, err
	}
	return &LocalHelper{
		repo: pg,
		pg:   pg,
		cfg:  cfg,
		log:  log,
	}, nil
}

func (lh *LocalHelper) InitDB(ctx context.Context) error {
	if _, err := lh.pg.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Seed inserts a handful of clients, accounts and entries through the
// service so every invariant of the posting path holds for the sample
// data. It is a no-op when any client already exists.
func (lh *LocalHelper) Seed(ctx context.Context) error {
	existing, err := lh.repo.Clients(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		lh.log.Info().Int("clients", len(existing)).Msg("store not empty, skipping seed")
		return nil
	}

	svc, err := NewService(lh.repo, lh.cfg.Bank, lh.log)
	if err != nil {
		return err
	}

	samples := []struct {
		firstname, lastname string
		accounts            []Account
		deposits            []string
	}{
		{
			firstname: "Greta", lastname: "Feldmann",
			accounts: []Account{
				{Type: AccountTypeCurrent, OverdraftLimit: dec("1000"), OverdraftInterestRate: dec("9.75")},
				{Type: AccountTypeSavings, InterestRate: dec("1.25")},
			},
			deposits: []string{"2500.00", "800.00"},
		},
		{
			firstname: "Jonas", lastname: "Brandt",
			accounts: []Account{
				{Type: AccountTypeCurrent, OverdraftLimit: dec("500"), OverdraftInterestRate: dec("11.50")},
			},
			deposits: []string{"1200.00"},
		},
		{
			firstname: "Mireille", lastname: "Okonkwo",
			accounts: []Account{
				{Type: AccountTypeSavings, InterestRate: dec("2.00")},
			},
			deposits: []string{"4000.00"},
		},
	}

	for _, sm := range samples {
		client, err := svc.AddClient(ctx, Client{Firstname: sm.firstname, Lastname: sm.lastname})
		if err != nil {
			return fmt.Errorf("seeding client %s %s: %w", sm.firstname, sm.lastname, err)
		}
		for i, acct := range sm.accounts {
			created, err := svc.AddAccount(ctx, acct, client.ID)
			if err != nil {
				return fmt.Errorf("seeding account for client %d: %w", client.ID, err)
			}
			amount, err := decimal.NewFromString(sm.deposits[i])
			if err != nil {
				return err
			}
			_, err = svc.PostEntry(ctx, created.IBAN, Entry{
				Description: "opening deposit",
				EntryDate:   time.Now().AddDate(0, -1, 0),
				Amount:      amount,
				Type:        EntryTypeDeposit,
			})
			if err != nil {
				return fmt.Errorf("seeding deposit on %s: %w", created.IBAN, err)
			}
		}
		lh.log.Info().Int("client", client.ID).Msg("seeded client")
	}

	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
