package auth

import "sync"

// memoryStore is an in-process CredentialStore with error injection
type memoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account

	storeErr error
	listErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{accounts: make(map[string]Account)}
}

func (m *memoryStore) Store(account *Account) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	if account == nil || account.Name == "" {
		return ErrInvalidCredentials
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.Name] = *account
	return nil
}

func (m *memoryStore) Retrieve(name string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

func (m *memoryStore) List() ([]*Account, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Account
	for _, a := range m.accounts {
		a := a
		out = append(out, &a)
	}
	return out, nil
}

func (m *memoryStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[name]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.accounts, name)
	return nil
}

func (m *memoryStore) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[name]
	return ok
}
