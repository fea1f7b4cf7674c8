// Package genesis derives the development accounts and contract addresses a
// fresh raffle node starts with.
package genesis

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/itachi47/hardhat-lottery-backend/pkg/config"
	"github.com/itachi47/hardhat-lottery-backend/pkg/ledger"
)

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// Deployment nonces of the deployer account.
const (
	coordinatorNonce = 0
	raffleNonce      = 1
)

// Account represents a test account with its private key.
type Account struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// Deployment holds the addresses of the deployed contracts.
type Deployment struct {
	Deployer    common.Address `json:"deployer"`
	Coordinator common.Address `json:"vrfCoordinatorV2"`
	Raffle      common.Address `json:"raffle"`
	// MockCoordinator is true when the coordinator is the local mock.
	MockCoordinator bool `json:"mockCoordinator"`
}

// Genesis is the initial state of a node.
type Genesis struct {
	ChainID    uint64
	Timestamp  uint64
	Accounts   []*Account
	Alloc      map[common.Address]*big.Int
	Deployment Deployment
}

// GenerateAccounts generates deterministic accounts from a mnemonic.
func GenerateAccounts(mnemonic string, count int) ([]*Account, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	accounts := make([]*Account, count)

	for i := 0; i < count; i++ {
		key, err := deriveKey(seed, uint32(i))
		if err != nil {
			return nil, fmt.Errorf("failed to derive key %d: %w", i, err)
		}

		accounts[i] = &Account{
			Address:    crypto.PubkeyToAddress(key.PublicKey),
			PrivateKey: key,
		}
	}

	return accounts, nil
}

// deriveKey hashes the seed with the big-endian index. This is not BIP-32.
func deriveKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	buf := make([]byte, len(seed)+4)
	copy(buf, seed)
	binary.BigEndian.PutUint32(buf[len(seed):], index)

	return crypto.ToECDSA(crypto.Keccak256(buf))
}

// Create builds the genesis for cfg. The first account deploys the
// coordinator mock (nonce 0) and the raffle (nonce 1); on networks with a
// published coordinator only the raffle is deployed.
func Create(cfg *config.Config, timestamp uint64) (*Genesis, error) {
	accounts, err := GenerateAccounts(cfg.Mnemonic, cfg.AccountCount)
	if err != nil {
		return nil, fmt.Errorf("failed to generate accounts: %w", err)
	}

	alloc := make(map[common.Address]*big.Int, len(accounts))
	for _, acc := range accounts {
		alloc[acc.Address] = new(big.Int).Set(cfg.DefaultBalance)
	}

	deployer := accounts[0].Address
	network := cfg.Network()

	deployment := Deployment{
		Deployer:        deployer,
		Coordinator:     network.Coordinator,
		Raffle:          crypto.CreateAddress(deployer, raffleNonce),
		MockCoordinator: network.IsDevelopment(),
	}
	if deployment.MockCoordinator {
		deployment.Coordinator = crypto.CreateAddress(deployer, coordinatorNonce)
	}

	return &Genesis{
		ChainID:    cfg.ChainID,
		Timestamp:  timestamp,
		Accounts:   accounts,
		Alloc:      alloc,
		Deployment: deployment,
	}, nil
}

// Apply funds the allocated accounts in l.
func (g *Genesis) Apply(l ledger.Writer) error {
	for addr, balance := range g.Alloc {
		if err := l.SetBalance(addr, balance); err != nil {
			return fmt.Errorf("fund %s: %w", addr.Hex(), err)
		}
	}
	return nil
}

// Addresses returns the funded account addresses in derivation order.
func (g *Genesis) Addresses() []common.Address {
	addrs := make([]common.Address, len(g.Accounts))
	for i, acc := range g.Accounts {
		addrs[i] = acc.Address
	}
	return addrs
}
