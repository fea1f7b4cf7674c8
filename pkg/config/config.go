// Package config provides configuration management for the raffle node.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/tyler-smith/go-bip39"
)

// Default values.
var (
	DefaultChainID          = uint64(31337)
	DefaultEnv              = "local"
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 8545
	DefaultAccountCount     = 10
	DefaultBalance          = new(big.Int).Mul(big.NewInt(10000), big.NewInt(1e18)) // 10000 ETH
	DefaultMnemonic         = "test test test test test test test test test test test junk"
	DefaultDerivationPath   = "m/44'/60'/0'/0/"
	DefaultKeeperMode       = "auto"
	DefaultKeeperInterval   = time.Second
	DefaultAllowOrigin      = "*"
	DefaultEntranceFee      = new(big.Int).Div(big.NewInt(1e18), big.NewInt(100)) // 0.01 ETH
	DefaultInterval         = uint64(30)
	DefaultGasLane          = common.HexToHash("0xd89b2bf150e3b9e13446986e571fb9cab24b13cea0a43ea20a6049a85cc807cc")
	DefaultCallbackGasLimit = uint32(500000)
	DefaultVRFBaseFee       = new(big.Int).Div(big.NewInt(1e18), big.NewInt(4)) // 0.25 LINK
	DefaultVRFGasPriceLink  = big.NewInt(1e9)
	DefaultSubscriptionFund = new(big.Int).Mul(big.NewInt(30), big.NewInt(1e18)) // 30 LINK
)

var validKeeperModes = map[string]bool{
	"auto":     true,
	"interval": true,
	"manual":   true,
}

var validEnvs = map[string]bool{
	"local": true,
	"dev":   true,
	"prod":  true,
}

// Config defines the node configuration.
type Config struct {
	// Network configuration
	ChainID uint64 `json:"chainId" toml:"chainId"`
	Env     string `json:"env" toml:"env"` // local, dev, prod

	// Server configuration
	Host        string `json:"host" toml:"host"`
	Port        int    `json:"port" toml:"port"`
	AllowOrigin string `json:"allowOrigin" toml:"allowOrigin"`

	// Account configuration
	AccountCount   int      `json:"accountCount" toml:"accountCount"`
	DefaultBalance *big.Int `json:"defaultBalance" toml:"defaultBalance"`
	Mnemonic       string   `json:"mnemonic" toml:"mnemonic"`
	DerivationPath string   `json:"derivationPath" toml:"derivationPath"`

	// Keeper configuration
	KeeperMode     string        `json:"keeperMode" toml:"keeperMode"` // auto, interval, manual
	KeeperInterval time.Duration `json:"keeperInterval" toml:"keeperInterval"`

	Raffle RaffleConfig `json:"raffle" toml:"raffle"`
	VRF    VRFConfig    `json:"vrf" toml:"vrf"`

	// HistoryPath is the bbolt file recording settled rounds. Empty disables it.
	HistoryPath string `json:"historyPath,omitempty" toml:"historyPath"`
}

// RaffleConfig defines the raffle deployment parameters.
type RaffleConfig struct {
	EntranceFee      *big.Int    `json:"entranceFee" toml:"entranceFee"`
	Interval         uint64      `json:"interval" toml:"interval"` // seconds
	GasLane          common.Hash `json:"gasLane" toml:"gasLane"`
	CallbackGasLimit uint32      `json:"callbackGasLimit" toml:"callbackGasLimit"`
}

// VRFConfig defines the coordinator mock.
type VRFConfig struct {
	BaseFee          *big.Int `json:"baseFee" toml:"baseFee"`
	GasPriceLink     *big.Int `json:"gasPriceLink" toml:"gasPriceLink"`
	SubscriptionFund *big.Int `json:"subscriptionFund" toml:"subscriptionFund"`
	// AutoFulfill answers every request as soon as it is made.
	AutoFulfill bool `json:"autoFulfill" toml:"autoFulfill"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		ChainID:        DefaultChainID,
		Env:            DefaultEnv,
		Host:           DefaultHost,
		Port:           DefaultPort,
		AllowOrigin:    DefaultAllowOrigin,
		AccountCount:   DefaultAccountCount,
		DefaultBalance: new(big.Int).Set(DefaultBalance),
		Mnemonic:       DefaultMnemonic,
		DerivationPath: DefaultDerivationPath,
		KeeperMode:     DefaultKeeperMode,
		KeeperInterval: DefaultKeeperInterval,
		Raffle: RaffleConfig{
			EntranceFee:      new(big.Int).Set(DefaultEntranceFee),
			Interval:         DefaultInterval,
			GasLane:          DefaultGasLane,
			CallbackGasLimit: DefaultCallbackGasLimit,
		},
		VRF: VRFConfig{
			BaseFee:          new(big.Int).Set(DefaultVRFBaseFee),
			GasPriceLink:     new(big.Int).Set(DefaultVRFGasPriceLink),
			SubscriptionFund: new(big.Int).Set(DefaultSubscriptionFund),
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.ChainID == 0 {
		errs = append(errs, "chainId must be greater than 0")
	}

	if !validEnvs[c.Env] {
		errs = append(errs, "env must be one of: local, dev, prod")
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if c.AccountCount <= 0 {
		errs = append(errs, "accountCount must be greater than 0")
	}

	if c.Mnemonic != "" && !bip39.IsMnemonicValid(c.Mnemonic) {
		errs = append(errs, "mnemonic is invalid")
	}

	if !validKeeperModes[c.KeeperMode] {
		errs = append(errs, "keeperMode must be one of: auto, interval, manual")
	}

	if c.KeeperMode == "interval" && c.KeeperInterval <= 0 {
		errs = append(errs, "keeperInterval must be positive in interval mode")
	}

	if c.Raffle.EntranceFee == nil || c.Raffle.EntranceFee.Sign() <= 0 {
		errs = append(errs, "raffle.entranceFee must be greater than 0")
	}

	if c.Raffle.CallbackGasLimit == 0 {
		errs = append(errs, "raffle.callbackGasLimit must be greater than 0")
	}

	if c.VRF.BaseFee != nil && c.VRF.BaseFee.Sign() < 0 {
		errs = append(errs, "vrf.baseFee must not be negative")
	}

	if c.VRF.GasPriceLink != nil && c.VRF.GasPriceLink.Sign() < 0 {
		errs = append(errs, "vrf.gasPriceLink must not be negative")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or TOML file, chosen by extension.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return MergeWithDefaults(&cfg), nil
}

// MergeWithDefaults merges partial config with default values. Raffle
// parameters missing from partial come from the preset of its chain.
func MergeWithDefaults(partial *Config) *Config {
	def := Default()
	if partial.ChainID != 0 {
		def.ChainID = partial.ChainID
	}
	if network, ok := ForChain(def.ChainID); ok {
		network.apply(def)
	}

	if partial.Env != "" {
		def.Env = partial.Env
	}
	if partial.Host != "" {
		def.Host = partial.Host
	}
	if partial.Port != 0 {
		def.Port = partial.Port
	}
	if partial.AllowOrigin != "" {
		def.AllowOrigin = partial.AllowOrigin
	}
	if partial.AccountCount != 0 {
		def.AccountCount = partial.AccountCount
	}
	if partial.DefaultBalance != nil {
		def.DefaultBalance = partial.DefaultBalance
	}
	if partial.Mnemonic != "" {
		def.Mnemonic = partial.Mnemonic
	}
	if partial.DerivationPath != "" {
		def.DerivationPath = partial.DerivationPath
	}
	if partial.KeeperMode != "" {
		def.KeeperMode = partial.KeeperMode
	}
	if partial.KeeperInterval != 0 {
		def.KeeperInterval = partial.KeeperInterval
	}

	if partial.Raffle.EntranceFee != nil {
		def.Raffle.EntranceFee = partial.Raffle.EntranceFee
	}
	if partial.Raffle.Interval != 0 {
		def.Raffle.Interval = partial.Raffle.Interval
	}
	if partial.Raffle.GasLane != (common.Hash{}) {
		def.Raffle.GasLane = partial.Raffle.GasLane
	}
	if partial.Raffle.CallbackGasLimit != 0 {
		def.Raffle.CallbackGasLimit = partial.Raffle.CallbackGasLimit
	}

	if partial.VRF.BaseFee != nil {
		def.VRF.BaseFee = partial.VRF.BaseFee
	}
	if partial.VRF.GasPriceLink != nil {
		def.VRF.GasPriceLink = partial.VRF.GasPriceLink
	}
	if partial.VRF.SubscriptionFund != nil {
		def.VRF.SubscriptionFund = partial.VRF.SubscriptionFund
	}
	def.VRF.AutoFulfill = partial.VRF.AutoFulfill
	def.HistoryPath = partial.HistoryPath

	return def
}

// Copy creates a deep copy of the configuration.
func (c *Config) Copy() *Config {
	copied := *c

	copied.DefaultBalance = copyBig(c.DefaultBalance)
	copied.Raffle.EntranceFee = copyBig(c.Raffle.EntranceFee)
	copied.VRF.BaseFee = copyBig(c.VRF.BaseFee)
	copied.VRF.GasPriceLink = copyBig(c.VRF.GasPriceLink)
	copied.VRF.SubscriptionFund = copyBig(c.VRF.SubscriptionFund)

	return &copied
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// ServerAddr returns the server address string.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsAutoKeeper returns true if upkeep is checked after every state change.
func (c *Config) IsAutoKeeper() bool {
	return c.KeeperMode == "auto"
}

// IsIntervalKeeper returns true if upkeep is polled on a timer.
func (c *Config) IsIntervalKeeper() bool {
	return c.KeeperMode == "interval"
}

// IsManualKeeper returns true if upkeep only runs on request.
func (c *Config) IsManualKeeper() bool {
	return c.KeeperMode == "manual"
}

// HasHistory returns true if winner history is persisted.
func (c *Config) HasHistory() bool {
	return c.HistoryPath != ""
}
