package txbuilder

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
)

// DefaultFunctionCallGas is the gas attached to contract calls unless configured.
const DefaultFunctionCallGas = 300_000_000_000_000

// maxU128 bounds deposits.
var maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// ParseAmount parses a decimal u128 amount in the smallest unit.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 || v.Cmp(maxU128) > 0 {
		return nil, fmt.Errorf("amount %q out of u128 range", s)
	}
	return v, nil
}

// Transfer moves deposit from signer to receiver.
func Transfer(deposit *big.Int) Action {
	return Action{Kind: ActionTransfer, Deposit: cloneAmount(deposit)}
}

// CreateAccount creates the receiver account.
func CreateAccount() Action {
	return Action{Kind: ActionCreateAccount, Deposit: new(big.Int)}
}

// AddFullAccessKey adds a full access key to the receiver with key nonce 0.
func AddFullAccessKey(publicKey []byte) Action {
	return Action{Kind: ActionAddKey, PublicKey: publicKey, Deposit: new(big.Int)}
}

// DeployContract deploys code to the receiver.
func DeployContract(code []byte) Action {
	return Action{Kind: ActionDeployContract, Code: code, Deposit: new(big.Int)}
}

// FunctionCall calls method on the receiver contract.
func FunctionCall(method string, args []byte, gas uint64, deposit *big.Int) Action {
	return Action{
		Kind:       ActionFunctionCall,
		MethodName: method,
		Args:       args,
		Gas:        gas,
		Deposit:    cloneAmount(deposit),
	}
}

// TransferActions is the payload of a native transfer.
func TransferActions(amount *big.Int) []Action {
	return []Action{Transfer(amount)}
}

// CreateSubAccountActions creates a sub account, gives it publicKey and funds it.
func CreateSubAccountActions(publicKey []byte, deposit *big.Int) []Action {
	return []Action{
		CreateAccount(),
		AddFullAccessKey(publicKey),
		Transfer(deposit),
	}
}

// CreateContractActions creates a funded sub account and deploys code to it.
func CreateContractActions(publicKey []byte, deposit *big.Int, code []byte) []Action {
	return append(CreateSubAccountActions(publicKey, deposit), DeployContract(code))
}

// FunctionCallActions is the payload of a single contract call.
func FunctionCallActions(method string, args []byte, gas uint64, deposit *big.Int) []Action {
	return []Action{FunctionCall(method, args, gas, deposit)}
}

// ReadWasm loads contract code from path.
func ReadWasm(path string) ([]byte, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wasm: %w", err)
	}
	if len(code) < 4 || string(code[:4]) != "\x00asm" {
		return nil, fmt.Errorf("read wasm: %s is not a wasm module", path)
	}
	return code, nil
}

// ValidateJSONObject checks that args is a JSON object, the only argument shape contracts accept.
func ValidateJSONObject(args []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(args, &obj); err != nil {
		return fmt.Errorf("args must be a JSON object: %w", err)
	}
	if obj == nil {
		return errors.New("args must be a JSON object, got null")
	}
	return nil
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
