package account

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// KeyPrefix tags secp256k1 key strings, e.g. "secp256k1:9f3c...".
const KeyPrefix = "secp256k1:"

// GenerateKey creates a fresh secp256k1 key pair.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// ParseSecretKey decodes a prefixed hex secret key.
func ParseSecretKey(s string) (*ecdsa.PrivateKey, error) {
	raw, ok := strings.CutPrefix(s, KeyPrefix)
	if !ok {
		return nil, fmt.Errorf("secret key: missing %q prefix", KeyPrefix)
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("secret key: %w", err)
	}
	return key, nil
}

// FormatSecretKey encodes a secret key with the type prefix.
func FormatSecretKey(key *ecdsa.PrivateKey) string {
	return KeyPrefix + hex.EncodeToString(crypto.FromECDSA(key))
}

// FormatPublicKey encodes the 64-byte uncompressed public key (no 0x04 marker) with the type prefix.
func FormatPublicKey(pub *ecdsa.PublicKey) string {
	return KeyPrefix + hex.EncodeToString(crypto.FromECDSAPub(pub)[1:])
}

// PublicKeyBytes returns the 64-byte public key encoding used on the wire.
func PublicKeyBytes(pub *ecdsa.PublicKey) []byte {
	return crypto.FromECDSAPub(pub)[1:]
}
