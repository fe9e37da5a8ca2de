// Package account manages the accounts a run signs with and their nonces.
package account

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNonceNotIncreasing is returned when a commit would not advance the nonce.
var ErrNonceNotIncreasing = errors.New("nonce must increase")

// Account holds an account's identity, key material and last used nonce.
//
// Only one goroutine (the pacing loop) calls CommitNonce during a run.
// The atomic lets monitors and tests read the nonce without a lock.
type Account struct {
	ID         string
	PrivateKey *ecdsa.PrivateKey
	nonce      atomic.Uint64
}

// New creates an account from its id, key and last used nonce.
func New(id string, key *ecdsa.PrivateKey, nonce uint64) *Account {
	a := &Account{ID: id, PrivateKey: key}
	a.nonce.Store(nonce)
	return a
}

// Generate creates an account with a fresh key and nonce 0.
func Generate(id string) (*Account, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key for %s: %w", id, err)
	}
	return New(id, key, 0), nil
}

// PublicKey returns the prefixed public key string.
func (a *Account) PublicKey() string {
	return FormatPublicKey(&a.PrivateKey.PublicKey)
}

// SecretKey returns the prefixed secret key string.
func (a *Account) SecretKey() string {
	return FormatSecretKey(a.PrivateKey)
}

// Nonce returns the last used nonce.
func (a *Account) Nonce() uint64 {
	return a.nonce.Load()
}

// NextNonce returns the nonce the next transaction must carry. It does not mutate.
func (a *Account) NextNonce() uint64 {
	return a.nonce.Load() + 1
}

// CommitNonce records n as used. n must be greater than the current nonce.
func (a *Account) CommitNonce(n uint64) error {
	cur := a.nonce.Load()
	if n <= cur {
		return fmt.Errorf("%s: commit %d over %d: %w", a.ID, n, cur, ErrNonceNotIncreasing)
	}
	a.nonce.Store(n)
	return nil
}

// SetNonce overwrites the nonce with an authoritative value from the network.
func (a *Account) SetNonce(n uint64) {
	a.nonce.Store(n)
}

func (a *Account) String() string {
	return fmt.Sprintf("%s(nonce=%d)", a.ID, a.Nonce())
}
