// Package txbuilder builds, signs and encodes transactions.
//
// The wire format is txbench's own: an RLP encoding signed with secp256k1 and
// identified by its keccak256 hash. It follows NEAR's transaction and action
// model but is not NEAR's borsh layout, so the target node must accept this
// encoding (a test node or a gateway that re-encodes).
package txbuilder

import (
	"errors"
	"fmt"

	"github.com/gateway-fm/txbench/internal/account"
)

// TxParams holds the per-item inputs of a transaction.
type TxParams struct {
	Signer     *account.Account
	Nonce      uint64
	ReceiverID string
	BlockHash  string
	Actions    []Action
}

// Validate checks that params can produce a transaction.
func (p TxParams) Validate() error {
	switch {
	case p.Signer == nil || p.Signer.PrivateKey == nil:
		return errors.New("missing signer")
	case p.ReceiverID == "":
		return errors.New("missing receiver")
	case p.BlockHash == "":
		return errors.New("missing block hash")
	case len(p.Actions) == 0:
		return errors.New("no actions")
	}
	return nil
}

// Build assembles and signs a transaction. It has no side effects on the signer.
func Build(p TxParams) (*SignedTransaction, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	tx := Transaction{
		SignerID:   p.Signer.ID,
		PublicKey:  account.PublicKeyBytes(&p.Signer.PrivateKey.PublicKey),
		Nonce:      p.Nonce,
		ReceiverID: p.ReceiverID,
		BlockHash:  p.BlockHash,
		Actions:    p.Actions,
	}
	return Sign(tx, p.Signer.PrivateKey)
}

// SubAccountID names the i-th sub account of parent: "<prefix>_user_<i>.<parent>",
// or "user_<i>.<parent>" without a prefix.
func SubAccountID(prefix string, i int, parent string) string {
	if prefix == "" {
		return fmt.Sprintf("user_%d.%s", i, parent)
	}
	return fmt.Sprintf("%s_user_%d.%s", prefix, i, parent)
}
