package txbuilder

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// ActionKind identifies an action inside a transaction.
type ActionKind uint8

const (
	ActionCreateAccount ActionKind = iota + 1
	ActionDeployContract
	ActionFunctionCall
	ActionTransfer
	ActionAddKey
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreateAccount:
		return "CreateAccount"
	case ActionDeployContract:
		return "DeployContract"
	case ActionFunctionCall:
		return "FunctionCall"
	case ActionTransfer:
		return "Transfer"
	case ActionAddKey:
		return "AddKey"
	default:
		return fmt.Sprintf("ActionKind(%d)", uint8(k))
	}
}

// Action is one step of a transaction. Only the fields of its kind are set;
// the rest encode as empty values.
type Action struct {
	Kind       ActionKind
	PublicKey  []byte   // AddKey
	KeyNonce   uint64   // AddKey
	Deposit    *big.Int // Transfer, FunctionCall
	Code       []byte   // DeployContract
	MethodName string   // FunctionCall
	Args       []byte   // FunctionCall
	Gas        uint64   // FunctionCall
}

// Transaction is an unsigned transaction.
type Transaction struct {
	SignerID   string
	PublicKey  []byte
	Nonce      uint64
	ReceiverID string
	BlockHash  string
	Actions    []Action
}

// SignedTransaction is a transaction with the signer's signature over its hash.
type SignedTransaction struct {
	Transaction Transaction
	Signature   []byte
}

// Hash returns the keccak256 hash of the RLP-encoded transaction.
func (tx *Transaction) Hash() (common.Hash, error) {
	enc, err := rlp.EncodeToBytes(tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode transaction: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// Sign signs tx with key. The signature is deterministic for identical inputs.
func Sign(tx Transaction, key *ecdsa.PrivateKey) (*SignedTransaction, error) {
	if key == nil {
		return nil, errors.New("sign: nil key")
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return &SignedTransaction{Transaction: tx, Signature: sig}, nil
}

// Hash returns the hash of the inner transaction.
func (st *SignedTransaction) Hash() common.Hash {
	h, _ := st.Transaction.Hash()
	return h
}

// Verify checks that the signature was produced by the transaction's public key.
func (st *SignedTransaction) Verify() error {
	hash, err := st.Transaction.Hash()
	if err != nil {
		return err
	}
	pub, err := crypto.SigToPub(hash.Bytes(), st.Signature)
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	if got := crypto.FromECDSAPub(pub)[1:]; !bytes.Equal(got, st.Transaction.PublicKey) {
		return errors.New("signature does not match transaction public key")
	}
	return nil
}

// Encode returns the RLP wire encoding.
func (st *SignedTransaction) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(st)
}

// Base64 returns the encoding the send_tx method expects.
func (st *SignedTransaction) Base64() (string, error) {
	enc, err := st.Encode()
	if err != nil {
		return "", fmt.Errorf("encode signed transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}

// DecodeSigned parses the RLP wire encoding.
func DecodeSigned(b []byte) (*SignedTransaction, error) {
	var st SignedTransaction
	if err := rlp.DecodeBytes(b, &st); err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}
	return &st, nil
}
