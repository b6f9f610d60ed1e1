package bankd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const pgUniqueViolation = "23505"

var (
	pgSelectAccountSQL = `
		SELECT a.iban, a.type, a.balance,
		       a.overdraft_limit, a.overdraft_interest_rate, a.interest_rate,
		       c.id, c.firstname, c.lastname
		FROM accounts a
		JOIN clients c ON c.id = a.owner_id
	`

	pgLockAccountSQL = pgSelectAccountSQL + `
		WHERE a.iban = $1
		FOR UPDATE OF a;
	`

	pgUpdateBalanceSQL = `
		UPDATE accounts
		SET balance = $1
		WHERE iban = $2;
	`

	pgInsertEntrySQL = `
		INSERT INTO entries (id, iban, description, entry_date, amount, type)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
)

type PostgresEndpoint struct {
	pool *pgxpool.Pool
	log  *zerolog.Logger
}

var (
	_ Repository = (*PostgresEndpoint)(nil)
)

func NewPostgresEndpoint(connStr string, log *zerolog.Logger) (*PostgresEndpoint, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	if err = pool.Ping(context.Background()); err != nil {
		return nil, err
	}

	return &PostgresEndpoint{
		pool: pool,
		log:  log,
	}, nil
}

func (pg *PostgresEndpoint) Close() {
	pg.pool.Close()
}

//
// clients
//

func (pg *PostgresEndpoint) Clients(ctx context.Context) ([]Client, error) {
	rows, err := pg.pool.Query(ctx, `SELECT id, firstname, lastname FROM clients;`)
	if err != nil {
		return nil, fmt.Errorf("querying clients: %w", err)
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var c Client
		if err = rows.Scan(&c.ID, &c.Firstname, &c.Lastname); err != nil {
			return nil, fmt.Errorf("scanning client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (pg *PostgresEndpoint) ClientByID(ctx context.Context, id int) (Client, error) {
	var c Client
	err := pg.pool.QueryRow(ctx,
		`SELECT id, firstname, lastname FROM clients WHERE id = $1;`, id,
	).Scan(&c.ID, &c.Firstname, &c.Lastname)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrNotFound{Resource: "client", ID: fmt.Sprint(id)}
		}
		return Client{}, fmt.Errorf("querying client %d: %w", id, err)
	}
	return c, nil
}

func (pg *PostgresEndpoint) CreateClient(ctx context.Context, c Client) (Client, error) {
	err := pg.pool.QueryRow(ctx,
		`INSERT INTO clients (firstname, lastname) VALUES ($1, $2) RETURNING id;`,
		c.Firstname, c.Lastname,
	).Scan(&c.ID)
	if err != nil {
		return Client{}, fmt.Errorf("inserting client: %w", err)
	}
	return c, nil
}

func (pg *PostgresEndpoint) UpdateClient(ctx context.Context, c Client) (Client, error) {
	tag, err := pg.pool.Exec(ctx,
		`UPDATE clients SET firstname = $1, lastname = $2 WHERE id = $3;`,
		c.Firstname, c.Lastname, c.ID,
	)
	if err != nil {
		return Client{}, fmt.Errorf("updating client %d: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return Client{}, ErrNotFound{Resource: "client", ID: fmt.Sprint(c.ID)}
	}
	return c, nil
}

func (pg *PostgresEndpoint) DeleteClient(ctx context.Context, id int) error {
	tag, err := pg.pool.Exec(ctx, `DELETE FROM clients WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("deleting client %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound{Resource: "client", ID: fmt.Sprint(id)}
	}
	return nil
}

func (pg *PostgresEndpoint) ClientOwnsAccounts(ctx context.Context, id int) (bool, error) {
	var owns bool
	err := pg.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE owner_id = $1);`, id,
	).Scan(&owns)
	if err != nil {
		return false, fmt.Errorf("checking accounts of client %d: %w", id, err)
	}
	return owns, nil
}

//
// accounts
//

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.IBAN, &a.Type, &a.Balance,
		&a.OverdraftLimit, &a.OverdraftInterestRate, &a.InterestRate,
		&a.Owner.ID, &a.Owner.Firstname, &a.Owner.Lastname,
	)
	return a, err
}

func (pg *PostgresEndpoint) Accounts(ctx context.Context, ownerID *int) ([]Account, error) {
	sql := pgSelectAccountSQL
	args := []any{}
	if ownerID != nil {
		sql += ` WHERE a.owner_id = $1`
		args = append(args, *ownerID)
	}

	rows, err := pg.pool.Query(ctx, sql+";", args...)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

func (pg *PostgresEndpoint) AccountsByType(ctx context.Context, typ AccountType) ([]Account, error) {
	rows, err := pg.pool.Query(ctx, pgSelectAccountSQL+` WHERE a.type = $1;`, typ)
	if err != nil {
		return nil, fmt.Errorf("querying %s accounts: %w", typ, err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

func collectAccounts(rows pgx.Rows) ([]Account, error) {
	var accts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accts = append(accts, a)
	}
	return accts, rows.Err()
}

func (pg *PostgresEndpoint) AccountByIBAN(ctx context.Context, iban string) (Account, error) {
	a, err := scanAccount(pg.pool.QueryRow(ctx, pgSelectAccountSQL+` WHERE a.iban = $1;`, iban))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound{Resource: "account", ID: iban}
		}
		return Account{}, fmt.Errorf("querying account %s: %w", iban, err)
	}
	return a, nil
}

func (pg *PostgresEndpoint) AllIBANs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := pg.pool.Query(ctx, `SELECT iban FROM accounts;`)
	if err != nil {
		return nil, fmt.Errorf("querying ibans: %w", err)
	}
	defer rows.Close()

	ibans := make(map[string]struct{})
	for rows.Next() {
		var iban string
		if err = rows.Scan(&iban); err != nil {
			return nil, fmt.Errorf("scanning iban: %w", err)
		}
		ibans[iban] = struct{}{}
	}
	return ibans, rows.Err()
}

func (pg *PostgresEndpoint) CreateAccount(ctx context.Context, acct Account) error {
	_, err := pg.pool.Exec(ctx, `
		INSERT INTO accounts
			(iban, type, owner_id, balance,
			 overdraft_limit, overdraft_interest_rate, interest_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7);`,
		acct.IBAN, acct.Type, acct.Owner.ID, acct.Balance,
		acct.OverdraftLimit, acct.OverdraftInterestRate, acct.InterestRate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict{Key: acct.IBAN}
		}
		return fmt.Errorf("inserting account %s: %w", acct.IBAN, err)
	}
	return nil
}

func (pg *PostgresEndpoint) UpdateAccount(ctx context.Context, acct Account) error {
	tag, err := pg.pool.Exec(ctx, `
		UPDATE accounts
		SET owner_id = $1,
		    overdraft_limit = $2,
		    overdraft_interest_rate = $3,
		    interest_rate = $4
		WHERE iban = $5;`,
		acct.Owner.ID,
		acct.OverdraftLimit, acct.OverdraftInterestRate, acct.InterestRate,
		acct.IBAN,
	)
	if err != nil {
		return fmt.Errorf("updating account %s: %w", acct.IBAN, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound{Resource: "account", ID: acct.IBAN}
	}
	return nil
}

func (pg *PostgresEndpoint) DeleteAccount(ctx context.Context, iban string) error {
	tx, err := pg.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err = tx.Exec(ctx, `DELETE FROM entries WHERE iban = $1;`, iban); err != nil {
		return fmt.Errorf("deleting entries of %s: %w", iban, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM accounts WHERE iban = $1;`, iban)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", iban, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound{Resource: "account", ID: iban}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing account deletion: %w", err)
	}
	return nil
}

//
// entries
//

func (pg *PostgresEndpoint) Entries(ctx context.Context, iban string, from, to *time.Time) ([]Entry, error) {
	sql := `
		SELECT id, iban, description, entry_date, amount, type
		FROM entries
		WHERE iban = $1`
	args := []any{iban}

	// both endpoints are strict, matching the API contract
	switch {
	case from != nil && to != nil:
		sql += ` AND entry_date > $2 AND entry_date < $3`
		args = append(args, *from, *to)
	case from != nil:
		sql += ` AND entry_date > $2`
		args = append(args, *from)
	case to != nil:
		sql += ` AND entry_date < $2`
		args = append(args, *to)
	}

	rows, err := pg.pool.Query(ctx, sql+";", args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries of %s: %w", iban, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			desc *string
		)
		if err = rows.Scan(&e.ID, &e.IBAN, &desc, &e.EntryDate, &e.Amount, &e.Type); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		if desc != nil {
			e.Description = *desc
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PostEntry locks the account row, applies the entry to the balance, and
// appends the ledger row, all in one transaction. The row lock serializes
// concurrent postings on the same IBAN.
func (pg *PostgresEndpoint) PostEntry(ctx context.Context, e Entry) (Entry, error) {
	tx, err := pg.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Entry{}, fmt.Errorf("beginning posting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, err := scanAccount(tx.QueryRow(ctx, pgLockAccountSQL, e.IBAN))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound{Resource: "account", ID: e.IBAN}
		}
		return Entry{}, fmt.Errorf("locking account %s: %w", e.IBAN, err)
	}

	if err = acct.apply(e); err != nil {
		return Entry{}, err
	}

	if _, err = tx.Exec(ctx, pgUpdateBalanceSQL, acct.Balance, acct.IBAN); err != nil {
		return Entry{}, fmt.Errorf("updating balance of %s: %w", e.IBAN, err)
	}

	var desc *string
	if e.Description != "" {
		desc = &e.Description
	}
	if _, err = tx.Exec(ctx, pgInsertEntrySQL,
		e.ID, e.IBAN, desc, e.EntryDate, e.Amount, e.Type,
	); err != nil {
		if isUniqueViolation(err) {
			return Entry{}, ErrConflict{Key: e.ID}
		}
		return Entry{}, fmt.Errorf("inserting entry %s: %w", e.ID, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return Entry{}, fmt.Errorf("committing posting: %w", err)
	}
	return e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
