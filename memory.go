package bankd

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryEndpoint is a Repository kept entirely in process memory. A
// single mutex serializes every mutation, which trivially satisfies the
// posting atomicity and lost-update guarantees. It backs the test suite
// and can stand in for Postgres in demos.
type MemoryEndpoint struct {
	mu       sync.Mutex
	clients  map[int]Client
	accounts map[string]Account
	entries  map[string]Entry
	nextID   int
}

var (
	_ Repository = (*MemoryEndpoint)(nil)
)

func NewMemoryEndpoint() *MemoryEndpoint {
	return &MemoryEndpoint{
		clients:  make(map[int]Client),
		accounts: make(map[string]Account),
		entries:  make(map[string]Entry),
		nextID:   1,
	}
}

func (m *MemoryEndpoint) Clients(ctx context.Context) ([]Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clients := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	return clients, nil
}

func (m *MemoryEndpoint) ClientByID(ctx context.Context, id int) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[id]
	if !ok {
		return Client{}, ErrNotFound{Resource: "client", ID: fmt.Sprint(id)}
	}
	return c, nil
}

func (m *MemoryEndpoint) CreateClient(ctx context.Context, c Client) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.ID = m.nextID
	m.nextID++
	m.clients[c.ID] = c
	return c, nil
}

func (m *MemoryEndpoint) UpdateClient(ctx context.Context, c Client) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[c.ID]; !ok {
		return Client{}, ErrNotFound{Resource: "client", ID: fmt.Sprint(c.ID)}
	}
	m.clients[c.ID] = c

	// keep the denormalized owner on accounts in step
	for iban, a := range m.accounts {
		if a.Owner.ID == c.ID {
			a.Owner = c
			m.accounts[iban] = a
		}
	}
	return c, nil
}

func (m *MemoryEndpoint) DeleteClient(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[id]; !ok {
		return ErrNotFound{Resource: "client", ID: fmt.Sprint(id)}
	}
	delete(m.clients, id)
	return nil
}

func (m *MemoryEndpoint) ClientOwnsAccounts(ctx context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.Owner.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryEndpoint) Accounts(ctx context.Context, ownerID *int) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var accts []Account
	for _, a := range m.accounts {
		if ownerID == nil || a.Owner.ID == *ownerID {
			accts = append(accts, a)
		}
	}
	return accts, nil
}

func (m *MemoryEndpoint) AccountsByType(ctx context.Context, typ AccountType) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var accts []Account
	for _, a := range m.accounts {
		if a.Type == typ {
			accts = append(accts, a)
		}
	}
	return accts, nil
}

func (m *MemoryEndpoint) AccountByIBAN(ctx context.Context, iban string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[iban]
	if !ok {
		return Account{}, ErrNotFound{Resource: "account", ID: iban}
	}
	return a, nil
}

func (m *MemoryEndpoint) AllIBANs(ctx context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ibans := make(map[string]struct{}, len(m.accounts))
	for iban := range m.accounts {
		ibans[iban] = struct{}{}
	}
	return ibans, nil
}

func (m *MemoryEndpoint) CreateAccount(ctx context.Context, acct Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[acct.IBAN]; ok {
		return ErrConflict{Key: acct.IBAN}
	}
	m.accounts[acct.IBAN] = acct
	return nil
}

func (m *MemoryEndpoint) UpdateAccount(ctx context.Context, acct Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.accounts[acct.IBAN]
	if !ok {
		return ErrNotFound{Resource: "account", ID: acct.IBAN}
	}
	// the balance is owned by the posting path
	acct.Balance = stored.Balance
	m.accounts[acct.IBAN] = acct
	return nil
}

func (m *MemoryEndpoint) DeleteAccount(ctx context.Context, iban string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[iban]; !ok {
		return ErrNotFound{Resource: "account", ID: iban}
	}
	delete(m.accounts, iban)
	for id, e := range m.entries {
		if e.IBAN == iban {
			delete(m.entries, id)
		}
	}
	return nil
}

func (m *MemoryEndpoint) Entries(ctx context.Context, iban string, from, to *time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []Entry
	for _, e := range m.entries {
		if e.IBAN != iban {
			continue
		}
		if from != nil && !e.EntryDate.After(*from) {
			continue
		}
		if to != nil && !e.EntryDate.Before(*to) {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (m *MemoryEndpoint) PostEntry(ctx context.Context, e Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[e.IBAN]
	if !ok {
		return Entry{}, ErrNotFound{Resource: "account", ID: e.IBAN}
	}
	if _, ok := m.entries[e.ID]; ok {
		return Entry{}, ErrConflict{Key: e.ID}
	}

	if err := acct.apply(e); err != nil {
		return Entry{}, err
	}

	m.accounts[e.IBAN] = acct
	m.entries[e.ID] = e
	return e, nil
}
