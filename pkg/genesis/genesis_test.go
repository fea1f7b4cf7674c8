package genesis

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itachi47/hardhat-lottery-backend/pkg/config"
	"github.com/itachi47/hardhat-lottery-backend/pkg/ledger"
)

const testMnemonic = "test test test test test test test test test test test junk"

func TestGenerateAccounts(t *testing.T) {
	accounts, err := GenerateAccounts(testMnemonic, 10)

	require.NoError(t, err)
	assert.Len(t, accounts, 10)

	for _, acc := range accounts {
		assert.NotEqual(t, common.Address{}, acc.Address)
		require.NotNil(t, acc.PrivateKey)
		assert.Equal(t, acc.Address, crypto.PubkeyToAddress(acc.PrivateKey.PublicKey))
	}
}

func TestGenerateAccounts_Deterministic(t *testing.T) {
	accounts1, err := GenerateAccounts(testMnemonic, 10)
	require.NoError(t, err)

	accounts2, err := GenerateAccounts(testMnemonic, 10)
	require.NoError(t, err)

	for i := range accounts1 {
		assert.Equal(t, accounts1[i].Address, accounts2[i].Address)
	}
	assert.NotEqual(t, accounts1[0].Address, accounts1[1].Address)
}

func TestGenerateAccounts_DifferentMnemonics(t *testing.T) {
	other := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

	accounts1, err := GenerateAccounts(testMnemonic, 5)
	require.NoError(t, err)

	accounts2, err := GenerateAccounts(other, 5)
	require.NoError(t, err)

	for i := range accounts1 {
		assert.NotEqual(t, accounts1[i].Address, accounts2[i].Address)
	}
}

func TestGenerateAccounts_InvalidMnemonic(t *testing.T) {
	_, err := GenerateAccounts("invalid mnemonic words", 10)
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestCreate(t *testing.T) {
	cfg := config.Default()

	g, err := Create(cfg, 1700000000)

	require.NoError(t, err)
	assert.Equal(t, cfg.ChainID, g.ChainID)
	assert.Equal(t, uint64(1700000000), g.Timestamp)
	assert.Len(t, g.Accounts, cfg.AccountCount)

	for _, acc := range g.Accounts {
		balance, exists := g.Alloc[acc.Address]
		assert.True(t, exists, "Account %s should be allocated", acc.Address.Hex())
		assert.Equal(t, cfg.DefaultBalance, balance)
	}
}

func TestCreate_LocalDeployment(t *testing.T) {
	g, err := Create(config.Default(), 0)
	require.NoError(t, err)

	deployer := g.Accounts[0].Address
	assert.Equal(t, deployer, g.Deployment.Deployer)
	assert.True(t, g.Deployment.MockCoordinator)
	assert.Equal(t, crypto.CreateAddress(deployer, 0), g.Deployment.Coordinator)
	assert.Equal(t, crypto.CreateAddress(deployer, 1), g.Deployment.Raffle)
	assert.NotContains(t, g.Alloc, g.Deployment.Raffle)
}

func TestCreate_PublishedCoordinator(t *testing.T) {
	cfg := config.MergeWithDefaults(&config.Config{ChainID: 11155111})

	g, err := Create(cfg, 0)
	require.NoError(t, err)

	sepolia, _ := config.ForChain(11155111)
	assert.False(t, g.Deployment.MockCoordinator)
	assert.Equal(t, sepolia.Coordinator, g.Deployment.Coordinator)
}

func TestCreate_CustomAccounts(t *testing.T) {
	cfg := config.Default()
	cfg.AccountCount = 5
	cfg.DefaultBalance = big.NewInt(1e18)

	g, err := Create(cfg, 0)

	require.NoError(t, err)
	assert.Len(t, g.Accounts, 5)
	assert.Len(t, g.Alloc, 5)
	assert.Len(t, g.Addresses(), 5)
	for _, balance := range g.Alloc {
		assert.Equal(t, big.NewInt(1e18), balance)
	}
}

func TestCreate_InvalidMnemonic(t *testing.T) {
	cfg := config.Default()
	cfg.Mnemonic = "not a mnemonic"

	_, err := Create(cfg, 0)
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestGenesis_Apply(t *testing.T) {
	cfg := config.Default()
	cfg.AccountCount = 3

	g, err := Create(cfg, 0)
	require.NoError(t, err)

	l := ledger.NewInMemoryLedger()
	require.NoError(t, g.Apply(l))

	assert.Equal(t, 3, l.AccountCount())
	for _, addr := range g.Addresses() {
		assert.Equal(t, cfg.DefaultBalance, l.GetBalance(addr))
	}
}
