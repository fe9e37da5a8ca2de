// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gateway-fm/txbench/internal/account"
	"github.com/gateway-fm/txbench/internal/rpc"
	"github.com/gateway-fm/txbench/internal/txbuilder"
	"github.com/gateway-fm/txbench/internal/verification"
)

// EnvPrefix is prepended to every environment variable, e.g. TXBENCH_RPC_URL.
const EnvPrefix = "TXBENCH"

// Configuration keys. Cobra flags carry the same names.
const (
	KeyRPCURL                = "rpc-url"
	KeyUserDataDir           = "user-data-dir"
	KeySignerKeyPath         = "signer-key-path"
	KeyNumTransfers          = "num-transfers"
	KeyNumSubAccounts        = "num-sub-accounts"
	KeySubAccountPrefix      = "sub-account-prefix"
	KeyInterval              = "interval"
	KeyIntervalMicros        = "interval-duration-micros"
	KeyChannelBufferSize     = "channel-buffer-size"
	KeyAmount                = "amount"
	KeyDeposit               = "deposit"
	KeyWaitUntil             = "wait-until"
	KeySeverity              = "severity"
	KeySelection             = "selection"
	KeySeed                  = "seed"
	KeyRequestTimeout        = "request-timeout"
	KeyRefreshNonces         = "refresh-nonces"
	KeyNonceQueryInterval    = "nonce-query-interval"
	KeyNonceQueryConcurrency = "nonce-query-concurrency"
	KeyBlockRefreshInterval  = "block-refresh-interval"
	KeyDatabasePath          = "db"
	KeyListenAddr            = "listen"
	KeyCORSAllowedOrigins    = "cors-allowed-origins"
	KeyLogLevel              = "log-level"
	KeyNewAccountID          = "new-account-id"
	KeyWasmPath              = "wasm-path"
	KeyReceiverID            = "receiver-id"
	KeyMethodName            = "method-name"
	KeyArgs                  = "args"
	KeyGas                   = "gas"
	KeyRunsLimit             = "limit"
	KeyRunsOffset            = "offset"
)

// Defaults
const (
	DefaultRPCURL                = "http://localhost:3030"
	DefaultNumTransfers          = 1000
	DefaultNumSubAccounts        = 10
	DefaultInterval              = time.Millisecond
	DefaultChannelBufferSize     = 1000
	DefaultAmount                = "1"
	DefaultDeposit               = "1000000000000000000000000" // 1 NEAR in yocto
	DefaultCallDeposit           = "0"
	DefaultArgs                  = "{}"
	DefaultWaitUntil             = "EXECUTED_OPTIMISTIC"
	DefaultSeverity              = "assert"
	DefaultSelection             = "round-robin"
	DefaultSeed                  = 0
	DefaultRequestTimeout        = 0 // wait as long as the RPC client does
	DefaultRefreshNonces         = true
	DefaultNonceQueryInterval    = 150 * time.Microsecond
	DefaultNonceQueryConcurrency = 32
	DefaultBlockRefreshInterval  = 0 // fetch the block hash once
	DefaultDatabasePath          = ""
	DefaultListenAddr            = ""
	DefaultCORSAllowedOrigins    = "*"
	DefaultLogLevel              = "info"
	DefaultGas                   = txbuilder.DefaultFunctionCallGas
	DefaultRunsLimit             = 20

	// NoncesPerAccountInFlight is how many outstanding transactions one signer
	// can carry before the node starts rejecting nonces that arrive out of order.
	NoncesPerAccountInFlight = 20
	maxChannelBufferSize     = 1 << 20
)

// Config holds every knob of the txbench commands.
type Config struct {
	RPCURL        string
	UserDataDir   string
	SignerKeyPath string

	NumTransfers     int
	NumSubAccounts   int
	SubAccountPrefix string

	Interval          time.Duration // pacing interval between dispatches
	ChannelBufferSize int           // admission gate capacity
	Amount            string        // transfer amount, decimal u128
	Deposit           string        // sub account deposit, decimal u128
	WaitUntil         rpc.TxExecutionStatus
	Severity          verification.Severity
	Selection         account.Policy
	Seed              uint64
	RequestTimeout    time.Duration

	RefreshNonces         bool
	NonceQueryInterval    time.Duration
	NonceQueryConcurrency int
	BlockRefreshInterval  time.Duration

	DatabasePath       string // empty disables run history
	ListenAddr         string // empty disables the monitor
	CORSAllowedOrigins string
	LogLevel           string

	NewAccountID string
	WasmPath     string
	ReceiverID   string
	MethodName   string
	Args         string
	Gas          uint64

	RunsLimit  int
	RunsOffset int
}

// NewViper returns a viper instance with defaults and environment binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers the default of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRPCURL, DefaultRPCURL)
	v.SetDefault(KeyNumTransfers, DefaultNumTransfers)
	v.SetDefault(KeyNumSubAccounts, DefaultNumSubAccounts)
	v.SetDefault(KeyInterval, DefaultInterval)
	v.SetDefault(KeyIntervalMicros, 0)
	v.SetDefault(KeyChannelBufferSize, DefaultChannelBufferSize)
	v.SetDefault(KeyAmount, DefaultAmount)
	v.SetDefault(KeyWaitUntil, DefaultWaitUntil)
	v.SetDefault(KeySeverity, DefaultSeverity)
	v.SetDefault(KeySelection, DefaultSelection)
	v.SetDefault(KeySeed, DefaultSeed)
	v.SetDefault(KeyRequestTimeout, time.Duration(DefaultRequestTimeout))
	v.SetDefault(KeyRefreshNonces, DefaultRefreshNonces)
	v.SetDefault(KeyNonceQueryInterval, DefaultNonceQueryInterval)
	v.SetDefault(KeyNonceQueryConcurrency, DefaultNonceQueryConcurrency)
	v.SetDefault(KeyBlockRefreshInterval, time.Duration(DefaultBlockRefreshInterval))
	v.SetDefault(KeyDatabasePath, DefaultDatabasePath)
	v.SetDefault(KeyListenAddr, DefaultListenAddr)
	v.SetDefault(KeyCORSAllowedOrigins, DefaultCORSAllowedOrigins)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyGas, uint64(DefaultGas))
	v.SetDefault(KeyRunsLimit, DefaultRunsLimit)
	v.SetDefault(KeyRunsOffset, 0)
}

// Load reads the configuration out of v. Flags bound to v take precedence over
// environment variables, which take precedence over defaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		RPCURL:                v.GetString(KeyRPCURL),
		UserDataDir:           v.GetString(KeyUserDataDir),
		SignerKeyPath:         v.GetString(KeySignerKeyPath),
		NumTransfers:          v.GetInt(KeyNumTransfers),
		NumSubAccounts:        v.GetInt(KeyNumSubAccounts),
		SubAccountPrefix:      v.GetString(KeySubAccountPrefix),
		Interval:              v.GetDuration(KeyInterval),
		ChannelBufferSize:     v.GetInt(KeyChannelBufferSize),
		Amount:                v.GetString(KeyAmount),
		Deposit:               v.GetString(KeyDeposit),
		Seed:                  v.GetUint64(KeySeed),
		RequestTimeout:        v.GetDuration(KeyRequestTimeout),
		RefreshNonces:         v.GetBool(KeyRefreshNonces),
		NonceQueryInterval:    v.GetDuration(KeyNonceQueryInterval),
		NonceQueryConcurrency: v.GetInt(KeyNonceQueryConcurrency),
		BlockRefreshInterval:  v.GetDuration(KeyBlockRefreshInterval),
		DatabasePath:          v.GetString(KeyDatabasePath),
		ListenAddr:            v.GetString(KeyListenAddr),
		CORSAllowedOrigins:    v.GetString(KeyCORSAllowedOrigins),
		LogLevel:              strings.ToLower(v.GetString(KeyLogLevel)),
		NewAccountID:          v.GetString(KeyNewAccountID),
		WasmPath:              v.GetString(KeyWasmPath),
		ReceiverID:            v.GetString(KeyReceiverID),
		MethodName:            v.GetString(KeyMethodName),
		Args:                  v.GetString(KeyArgs),
		Gas:                   v.GetUint64(KeyGas),
		RunsLimit:             v.GetInt(KeyRunsLimit),
		RunsOffset:            v.GetInt(KeyRunsOffset),
	}

	// The microsecond knob keeps the original command line working.
	if us := v.GetInt64(KeyIntervalMicros); us > 0 {
		cfg.Interval = time.Duration(us) * time.Microsecond
	}

	var err error
	if cfg.WaitUntil, err = rpc.ParseTxExecutionStatus(v.GetString(KeyWaitUntil)); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyWaitUntil, err)
	}
	if cfg.Severity, err = verification.ParseSeverity(v.GetString(KeySeverity)); err != nil {
		return nil, fmt.Errorf("%s: %w", KeySeverity, err)
	}
	if cfg.Selection, err = account.ParsePolicy(v.GetString(KeySelection)); err != nil {
		return nil, fmt.Errorf("%s: %w", KeySelection, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the settings shared by every command.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.ChannelBufferSize <= 0 || c.ChannelBufferSize > maxChannelBufferSize {
		return fmt.Errorf("channel buffer size must be between 1 and %d", maxChannelBufferSize)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative")
	}
	if c.NonceQueryInterval < 0 || c.BlockRefreshInterval < 0 {
		return fmt.Errorf("query intervals cannot be negative")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}

// ValidateBenchmark validates the native transfer benchmark settings.
func (c *Config) ValidateBenchmark() error {
	if c.UserDataDir == "" {
		return errors.New("user data dir is required")
	}
	if c.NumTransfers <= 0 {
		return errors.New("number of transfers must be positive")
	}
	if _, err := txbuilder.ParseAmount(c.Amount); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	return nil
}

// ValidateSubAccounts validates the sub account creation settings.
func (c *Config) ValidateSubAccounts() error {
	if c.SignerKeyPath == "" {
		return errors.New("signer key path is required")
	}
	if c.UserDataDir == "" {
		return errors.New("user data dir is required")
	}
	if c.NumSubAccounts <= 0 {
		return errors.New("number of sub accounts must be positive")
	}
	if _, err := txbuilder.ParseAmount(c.Deposit); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

// ValidateContract validates the contract deployment settings.
func (c *Config) ValidateContract() error {
	if c.SignerKeyPath == "" {
		return errors.New("signer key path is required")
	}
	if c.NewAccountID == "" {
		return errors.New("new account id is required")
	}
	if c.WasmPath == "" {
		return errors.New("wasm path is required")
	}
	if c.UserDataDir == "" {
		return errors.New("user data dir is required")
	}
	if _, err := txbuilder.ParseAmount(c.Deposit); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

// ValidateCall validates the contract call settings.
func (c *Config) ValidateCall() error {
	if c.SignerKeyPath == "" {
		return errors.New("signer key path is required")
	}
	if c.ReceiverID == "" {
		return errors.New("receiver id is required")
	}
	if c.MethodName == "" {
		return errors.New("method name is required")
	}
	if c.Gas == 0 {
		return errors.New("gas must be positive")
	}
	if err := txbuilder.ValidateJSONObject([]byte(c.Args)); err != nil {
		return fmt.Errorf("args: %w", err)
	}
	if _, err := txbuilder.ParseAmount(c.Deposit); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

// RecommendedAccounts returns how many signers keep every one of concurrency
// outstanding transactions within NoncesPerAccountInFlight of its signer's head.
func RecommendedAccounts(concurrency int) int {
	if concurrency <= 0 {
		return 2
	}
	return max(2, int(math.Ceil(float64(concurrency)/NoncesPerAccountInFlight)))
}

// CheckPoolSufficiency returns a warning when the pool is small for the gate
// capacity, empty string otherwise.
func CheckPoolSufficiency(numAccounts, concurrency int) string {
	if numAccounts <= 0 || concurrency <= 0 {
		return ""
	}
	recommended := RecommendedAccounts(concurrency)
	if numAccounts >= recommended {
		return ""
	}
	return fmt.Sprintf(
		"Small account pool for the channel buffer size: %d accounts share up to %d outstanding transactions "+
			"(~%d per signer). Recommended: %d accounts.",
		numAccounts, concurrency, (concurrency+numAccounts-1)/numAccounts, recommended,
	)
}
