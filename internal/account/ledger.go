package account

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/pelletier/go-toml/v2"
)

// RecordExt is the file extension of account records in a directory.
const RecordExt = ".toml"

var (
	// ErrNotADirectory is returned when the account path is not a directory.
	ErrNotADirectory = errors.New("not a directory")
	// ErrMalformedRecord is returned when a record cannot be parsed.
	ErrMalformedRecord = errors.New("malformed account record")
)

// Record is the on-disk form of an account.
type Record struct {
	ID        string `toml:"id"`
	PublicKey string `toml:"public_key"`
	SecretKey string `toml:"secret_key"`
	Nonce     uint64 `toml:"nonce"`
}

// Record returns the on-disk form of a.
func (a *Account) Record() Record {
	return Record{
		ID:        a.ID,
		PublicKey: a.PublicKey(),
		SecretKey: a.SecretKey(),
		Nonce:     a.Nonce(),
	}
}

// Account parses the key material and returns the in-memory account.
func (r Record) Account() (*Account, error) {
	if r.ID == "" {
		return nil, errors.New("missing id")
	}
	key, err := ParseSecretKey(r.SecretKey)
	if err != nil {
		return nil, err
	}
	if r.PublicKey != "" && r.PublicKey != FormatPublicKey(&key.PublicKey) {
		return nil, errors.New("public key does not match secret key")
	}
	return New(r.ID, key, r.Nonce), nil
}

// LoadFile reads one account record.
func LoadFile(path string) (*Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var rec Record
	if err := toml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, path, err)
	}
	acc, err := rec.Account()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, path, err)
	}
	return acc, nil
}

// LoadDir reads every record in dir, sorted by account id.
// Files without the record extension and subdirectories are ignored.
// Any malformed record fails the whole load.
func LoadDir(dir string) ([]*Account, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotADirectory)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var accounts []*Account
	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), RecordExt) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		acc, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[acc.ID]; ok {
			return nil, fmt.Errorf("%w: %s: duplicate id %s (also in %s)", ErrMalformedRecord, path, acc.ID, prev)
		}
		seen[acc.ID] = path
		accounts = append(accounts, acc)
	}

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

// RecordPath returns the path of the record for id in dir.
func RecordPath(dir, id string) string {
	return filepath.Join(dir, id+RecordExt)
}

// Persist writes the record of a to dir. The write is atomic: readers see either
// the previous record or the new one.
func (a *Account) Persist(dir string) error {
	return a.PersistFile(RecordPath(dir, a.ID))
}

// PersistFile atomically writes the record of a to path.
func (a *Account) PersistFile(path string) error {
	data, err := toml.Marshal(a.Record())
	if err != nil {
		return fmt.Errorf("encode %s: %w", a.ID, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", a.ID, err)
	}
	return nil
}

// PersistAll writes every account to dir, creating it if needed, and stops on the first error.
func PersistAll(dir string, accounts []*Account) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	for _, a := range accounts {
		if err := a.Persist(dir); err != nil {
			return err
		}
	}
	return nil
}
