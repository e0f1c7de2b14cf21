package auth

import "os"

const (
	// EnvToken holds an API token for deployments without a keychain
	EnvToken = "DLQUEUE_API_TOKEN"
	// EnvServer optionally names the daemon the token belongs to
	EnvServer = "DLQUEUE_SERVER_URL"
)

// EnvironmentStore is a read-only store backed by DLQUEUE_API_TOKEN
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve answers for any name since the environment holds one token
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	token := os.Getenv(EnvToken)
	if token == "" {
		return nil, ErrCredentialsNotFound
	}
	if name == "" {
		name = "default"
	}

	return &Account{
		Name:      name,
		ServerURL: os.Getenv(EnvServer),
		Token:     token,
	}, nil
}

// List returns a single account if the token variable is set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv(EnvToken) != ""
}
