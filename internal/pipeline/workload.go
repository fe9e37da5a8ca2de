package pipeline

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/gateway-fm/txbench/internal/account"
	"github.com/gateway-fm/txbench/internal/txbuilder"
)

// ErrInsufficientAccounts is returned when a transfer benchmark has fewer than 2 accounts.
var ErrInsufficientAccounts = errors.New("transfer benchmark needs at least 2 accounts")

// WorkSpec is everything about a work item except its nonce and block hash.
type WorkSpec struct {
	Signer     *account.Account
	ReceiverID string
	Actions    []txbuilder.Action
}

// Workload yields the work items of a run in dispatch order.
// Spec is only ever called from the pacing loop.
type Workload interface {
	Len() int
	Spec(i int) (WorkSpec, error)
}

// TransferWorkload sends native transfers between accounts of a pool.
type TransferWorkload struct {
	n        int
	selector *account.Selector
	accounts []*account.Account
	amount   *big.Int
}

// NewTransferWorkload builds n transfers of amount over accounts.
func NewTransferWorkload(accounts []*account.Account, n int, amount *big.Int, policy account.Policy, seed uint64) (*TransferWorkload, error) {
	if len(accounts) < 2 {
		return nil, fmt.Errorf("%w: %d loaded", ErrInsufficientAccounts, len(accounts))
	}
	sel, err := account.NewSelector(accounts, policy, seed)
	if err != nil {
		return nil, err
	}
	return &TransferWorkload{n: n, selector: sel, accounts: accounts, amount: amount}, nil
}

func (w *TransferWorkload) Len() int { return w.n }

func (w *TransferWorkload) Spec(i int) (WorkSpec, error) {
	from, to := w.selector.Pair(i)
	return WorkSpec{
		Signer:     from,
		ReceiverID: to.ID,
		Actions:    txbuilder.TransferActions(w.amount),
	}, nil
}

// Accounts returns the pool, whose nonces the run advances.
func (w *TransferWorkload) Accounts() []*account.Account { return w.accounts }

// SubAccountWorkload creates funded sub accounts of a signer, one per item.
type SubAccountWorkload struct {
	signer  *account.Account
	deposit *big.Int
	created []*account.Account
}

// NewSubAccountWorkload generates the keys of n sub accounts named after prefix.
func NewSubAccountWorkload(signer *account.Account, n int, prefix string, deposit *big.Int) (*SubAccountWorkload, error) {
	created := make([]*account.Account, n)
	for i := range created {
		acc, err := account.Generate(txbuilder.SubAccountID(prefix, i, signer.ID))
		if err != nil {
			return nil, err
		}
		created[i] = acc
	}
	return &SubAccountWorkload{signer: signer, deposit: deposit, created: created}, nil
}

func (w *SubAccountWorkload) Len() int { return len(w.created) }

func (w *SubAccountWorkload) Spec(i int) (WorkSpec, error) {
	acc := w.created[i]
	return WorkSpec{
		Signer:     w.signer,
		ReceiverID: acc.ID,
		Actions:    txbuilder.CreateSubAccountActions(account.PublicKeyBytes(&acc.PrivateKey.PublicKey), w.deposit),
	}, nil
}

// Created returns the generated sub accounts (nonce 0 until synced).
func (w *SubAccountWorkload) Created() []*account.Account { return w.created }

// StaticWorkload is a fixed list of items, used for single contract deploys and calls.
type StaticWorkload []WorkSpec

func (w StaticWorkload) Len() int { return len(w) }

func (w StaticWorkload) Spec(i int) (WorkSpec, error) {
	if i < 0 || i >= len(w) {
		return WorkSpec{}, fmt.Errorf("work item %d out of range", i)
	}
	return w[i], nil
}
