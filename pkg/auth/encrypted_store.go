package auth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenFileVersion = 2
	saltSize         = 16
	keySize          = 32
	kdfIterations    = 100000
)

// EnvPassphrase overrides the generated passphrase of the token file
const EnvPassphrase = "DLQUEUE_PASSPHRASE"

// tokenFile is the on-disk layout. Every entry is sealed on its own with
// the account name as additional data, so an entry copied under another
// name does not open.
type tokenFile struct {
	Version int               `json:"version"`
	Salt    []byte            `json:"salt"`
	Entries map[string][]byte `json:"entries"`
}

// EncryptedFileStore keeps tokens in a file sealed with AES-GCM under a key
// derived from a passphrase with PBKDF2.
type EncryptedFileStore struct {
	path       string
	passphrase []byte

	mu sync.Mutex
	// key is derived once per salt
	salt []byte
	key  []byte
}

// NewEncryptedFileStore creates a store at path. An empty passphrase is
// taken from DLQUEUE_PASSPHRASE, or from a .passphrase file next to the
// store that is generated on first use.
func NewEncryptedFileStore(path, passphrase string) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if passphrase == "" {
		p, err := localPassphrase(filepath.Join(filepath.Dir(path), ".passphrase"))
		if err != nil {
			return nil, err
		}
		passphrase = p
	}
	return &EncryptedFileStore{path: path, passphrase: []byte(passphrase)}, nil
}

// Store seals account into the file, replacing an entry of the same name
func (e *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Name == "" {
		return ErrInvalidCredentials
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
		f = &tokenFile{Version: tokenFileVersion, Salt: salt, Entries: make(map[string][]byte)}
	case err != nil:
		return err
	}

	aead, err := e.aead(f.Salt)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	f.Entries[account.Name] = aead.Seal(nonce, nonce, plain, []byte(account.Name))
	return e.write(f)
}

// Retrieve opens the entry named name
func (e *EncryptedFileStore) Retrieve(name string) (*Account, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.load()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, err
	}
	return e.open(f, name)
}

// List opens every entry, sorted by name
func (e *EncryptedFileStore) List() ([]*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.load()
	if errors.Is(err, fs.ErrNotExist) {
		return []*Account{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(f.Entries))
	for name := range f.Entries {
		names = append(names, name)
	}
	sort.Strings(names)

	accounts := make([]*Account, 0, len(names))
	for _, name := range names {
		account, err := e.open(f, name)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Delete removes the entry named name; the file goes with the last entry
func (e *EncryptedFileStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredentials
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.load()
	if errors.Is(err, fs.ErrNotExist) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return err
	}
	if _, ok := f.Entries[name]; !ok {
		return ErrCredentialsNotFound
	}

	delete(f.Entries, name)
	if len(f.Entries) == 0 {
		return os.Remove(e.path)
	}
	return e.write(f)
}

// Exists checks if an entry named name opens
func (e *EncryptedFileStore) Exists(name string) bool {
	account, err := e.Retrieve(name)
	return err == nil && account != nil
}

func (e *EncryptedFileStore) load() (*tokenFile, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return nil, err
	}
	var f tokenFile
	if err := json.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if f.Version != tokenFileVersion {
		return nil, fmt.Errorf("token file version %d is not supported, remove %s and log in again", f.Version, e.path)
	}
	if len(f.Salt) != saltSize {
		return nil, errors.New("token file has no valid salt")
	}
	if f.Entries == nil {
		f.Entries = make(map[string][]byte)
	}
	return &f, nil
}

func (e *EncryptedFileStore) open(f *tokenFile, name string) (*Account, error) {
	sealed, ok := f.Entries[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	aead, err := e.aead(f.Salt)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("token %q is truncated", name)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("cannot decrypt token %q: wrong passphrase or damaged file", name)
	}

	var account Account
	if err := json.Unmarshal(plain, &account); err != nil {
		return nil, fmt.Errorf("failed to decode token %q: %w", name, err)
	}
	return &account, nil
}

func (e *EncryptedFileStore) write(f *tokenFile) error {
	content, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}
	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return os.Rename(tmp, e.path)
}

// aead returns the cipher for salt. Callers hold e.mu.
func (e *EncryptedFileStore) aead(salt []byte) (cipher.AEAD, error) {
	if e.key == nil || !bytes.Equal(e.salt, salt) {
		e.key = pbkdf2.Key(e.passphrase, salt, kdfIterations, keySize, sha256.New)
		e.salt = append([]byte(nil), salt...)
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// localPassphrase reads DLQUEUE_PASSPHRASE or the passphrase file at path,
// creating the file on first use
func localPassphrase(path string) (string, error) {
	if pass := os.Getenv(EnvPassphrase); pass != "" {
		return pass, nil
	}
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := base64.RawURLEncoding.EncodeToString(b)
	if err := os.WriteFile(path, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}
