package account

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// Policy chooses how transfer pairs are drawn from a pool.
type Policy string

const (
	// PolicyRoundRobin: sender i mod n, receiver the next account.
	PolicyRoundRobin Policy = "round-robin"
	// PolicyRandom: sender and receiver drawn uniformly.
	PolicyRandom Policy = "random"
)

// ErrPoolTooSmall is returned for pools that cannot form a pair of distinct accounts.
var ErrPoolTooSmall = errors.New("at least 2 accounts are required")

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyRoundRobin, PolicyRandom:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown selection policy %q", s)
	}
}

// Selector draws sender/receiver pairs with sender != receiver.
// It is not safe for concurrent use; the pacing loop owns it.
type Selector struct {
	accounts []*Account
	policy   Policy
	rng      *rand.Rand
}

// NewSelector builds a selector over accounts. The seed makes random draws reproducible.
func NewSelector(accounts []*Account, policy Policy, seed uint64) (*Selector, error) {
	if len(accounts) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrPoolTooSmall, len(accounts))
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	return &Selector{
		accounts: accounts,
		policy:   policy,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Pair returns the sender and receiver for item i.
func (s *Selector) Pair(i int) (sender, receiver *Account) {
	si, ri := s.indices(i)
	return s.accounts[si], s.accounts[ri]
}

func (s *Selector) indices(i int) (int, int) {
	n := len(s.accounts)
	if s.policy == PolicyRoundRobin {
		si := i % n
		return si, (si + 1) % n
	}
	si := s.rng.IntN(n)
	ri := s.rng.IntN(n)
	if ri == si {
		ri = (ri + 1) % n
	}
	return si, ri
}

// Len returns the pool size.
func (s *Selector) Len() int { return len(s.accounts) }
