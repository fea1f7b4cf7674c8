package config

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Network holds the per-chain raffle parameters.
type Network struct {
	Name             string
	ChainID          uint64
	EntranceFee      *big.Int
	Interval         uint64
	GasLane          common.Hash
	CallbackGasLimit uint32
	// Coordinator is the published VRF coordinator. Zero on development
	// chains, where a mock is deployed instead.
	Coordinator common.Address
}

// IsDevelopment reports whether the coordinator must be mocked.
func (n Network) IsDevelopment() bool {
	return n.Coordinator == (common.Address{})
}

func (n Network) apply(cfg *Config) {
	cfg.Raffle.EntranceFee = new(big.Int).Set(n.EntranceFee)
	cfg.Raffle.Interval = n.Interval
	cfg.Raffle.GasLane = n.GasLane
	cfg.Raffle.CallbackGasLimit = n.CallbackGasLimit
}

var networks = map[uint64]Network{
	31337: {
		Name:             "localhost",
		ChainID:          31337,
		EntranceFee:      DefaultEntranceFee,
		Interval:         30,
		GasLane:          DefaultGasLane,
		CallbackGasLimit: 500000,
	},
	11155111: {
		Name:             "sepolia",
		ChainID:          11155111,
		EntranceFee:      DefaultEntranceFee,
		Interval:         30,
		GasLane:          common.HexToHash("0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c"),
		CallbackGasLimit: 500000,
		Coordinator:      common.HexToAddress("0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625"),
	},
	5: {
		Name:             "goerli",
		ChainID:          5,
		EntranceFee:      DefaultEntranceFee,
		Interval:         30,
		GasLane:          common.HexToHash("0x79d3d8832d904592c0bf9818b621522c988bb8b0c05cdc3b15aea1b6e8db0c15"),
		CallbackGasLimit: 500000,
		Coordinator:      common.HexToAddress("0x2Ca8E0C643bDe4C2E08ab1fA0da3401AdAD7734D"),
	},
}

// ForChain returns the preset for chainID.
func ForChain(chainID uint64) (Network, bool) {
	n, ok := networks[chainID]
	return n, ok
}

// Network returns the preset for the configured chain, or a development
// network named after the chain ID.
func (c *Config) Network() Network {
	if n, ok := ForChain(c.ChainID); ok {
		return n
	}
	return Network{
		Name:             "custom",
		ChainID:          c.ChainID,
		EntranceFee:      c.Raffle.EntranceFee,
		Interval:         c.Raffle.Interval,
		GasLane:          c.Raffle.GasLane,
		CallbackGasLimit: c.Raffle.CallbackGasLimit,
	}
}
