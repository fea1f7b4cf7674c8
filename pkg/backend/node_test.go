package backend

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itachi47/hardhat-lottery-backend/pkg/clock"
	"github.com/itachi47/hardhat-lottery-backend/pkg/config"
	"github.com/itachi47/hardhat-lottery-backend/pkg/raffle"
)

const genesisTime = uint64(1700000000)

func newTestNode(t *testing.T, mutate func(cfg *config.Config)) *Node {
	t.Helper()

	cfg := config.Default()
	cfg.KeeperMode = "manual"
	if mutate != nil {
		mutate(cfg)
	}

	n, err := New(cfg, clock.Fixed(genesisTime), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func withConfig(mutate func(cfg *config.Config)) *config.Config {
	cfg := config.Default()
	cfg.KeeperMode = "manual"
	mutate(cfg)
	return cfg
}

func fee() *big.Int {
	return new(big.Int).Set(config.DefaultEntranceFee)
}

func enterAll(t *testing.T, n *Node, players ...common.Address) {
	t.Helper()
	for _, p := range players {
		require.NoError(t, n.EnterRaffle(p, fee()))
	}
}

func TestNode_New(t *testing.T) {
	n := newTestNode(t, nil)

	accounts := n.Accounts()
	require.Len(t, accounts, config.DefaultAccountCount)
	for _, acc := range accounts {
		assert.Equal(t, config.DefaultBalance, n.GetBalance(acc))
	}

	dep := n.Deployment()
	assert.Equal(t, accounts[0], dep.Deployer)
	assert.Equal(t, crypto.CreateAddress(accounts[0], 0), dep.Coordinator)
	assert.Equal(t, crypto.CreateAddress(accounts[0], 1), dep.Raffle)
	assert.True(t, dep.MockCoordinator)

	r := n.Raffle()
	assert.Equal(t, dep.Raffle, r.Address())
	assert.Equal(t, raffle.PhaseOpen, r.RaffleState())
	assert.Equal(t, genesisTime, r.LastTimeStamp())
	assert.Equal(t, config.DefaultEntranceFee, r.EntranceFee())
	assert.Equal(t, config.DefaultInterval, r.Interval())

	balance, consumers, err := n.Coordinator().GetSubscription(r.SubscriptionID())
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSubscriptionFund, balance)
	assert.Equal(t, []common.Address{dep.Raffle}, consumers)

	assert.Equal(t, big.NewInt(31337), n.ChainID())
}

func TestNode_New_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.KeeperMode = "bogus"

	_, err := New(cfg, clock.Fixed(genesisTime), nil)
	assert.Error(t, err)
}

func TestNode_ManualDraw(t *testing.T) {
	n := newTestNode(t, nil)
	accounts := n.Accounts()
	enterAll(t, n, accounts[1], accounts[2], accounts[3])

	_, err := n.PerformUpkeep()
	assert.ErrorIs(t, err, raffle.ErrUpkeepNotNeeded)

	now, err := n.IncreaseTime(config.DefaultInterval + 1)
	require.NoError(t, err)
	assert.Equal(t, genesisTime+config.DefaultInterval+1, now)
	assert.True(t, n.UpkeepStatus().Needed())

	requestID, err := n.PerformUpkeep()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), requestID)
	assert.Equal(t, raffle.PhaseDrawing, n.Raffle().RaffleState())

	assert.ErrorIs(t, n.EnterRaffle(accounts[4], fee()), raffle.ErrRaffleNotOpen)

	// 5 mod 3 picks the third entrant.
	result, err := n.FulfillRandomWords(requestID, []*big.Int{big.NewInt(5)})
	require.NoError(t, err)
	assert.True(t, result.Success)

	r := n.Raffle()
	assert.Equal(t, accounts[3], r.RecentWinner())
	assert.Equal(t, raffle.PhaseOpen, r.RaffleState())
	assert.Equal(t, 0, r.NumberOfPlayers())
	assert.Equal(t, 0, r.Balance().Sign())
	assert.Equal(t, now, r.LastTimeStamp())
	assert.Equal(t, 0, n.GetBalance(r.Address()).Sign())

	pot := new(big.Int).Mul(fee(), big.NewInt(3))
	expected := new(big.Int).Sub(config.DefaultBalance, fee())
	expected.Add(expected, pot)
	assert.Equal(t, expected, n.GetBalance(accounts[3]))
}

func TestNode_FulfillUnknownRequest(t *testing.T) {
	n := newTestNode(t, nil)

	_, err := n.FulfillRandomWords(big.NewInt(9), nil)
	assert.Error(t, err)
}

func TestNode_AutoKeeper(t *testing.T) {
	n := newTestNode(t, func(cfg *config.Config) {
		cfg.KeeperMode = "auto"
	})
	player := n.Accounts()[1]

	enterAll(t, n, player)
	require.NoError(t, n.Mine())
	assert.Equal(t, raffle.PhaseOpen, n.Raffle().RaffleState())

	_, err := n.IncreaseTime(config.DefaultInterval)
	require.NoError(t, err)
	assert.Equal(t, raffle.PhaseOpen, n.Raffle().RaffleState())

	require.NoError(t, n.Mine())
	assert.Equal(t, raffle.PhaseDrawing, n.Raffle().RaffleState())
	assert.Equal(t, big.NewInt(1), n.Raffle().PendingRequestID())
	assert.Equal(t, uint64(1), n.Keeper().Performed())
}

func TestNode_AutoKeeper_OnEntry(t *testing.T) {
	n := newTestNode(t, func(cfg *config.Config) {
		cfg.KeeperMode = "auto"
	})

	_, err := n.IncreaseTime(config.DefaultInterval)
	require.NoError(t, err)

	enterAll(t, n, n.Accounts()[1])
	assert.Equal(t, raffle.PhaseDrawing, n.Raffle().RaffleState())
}

func TestNode_AutoFulfill(t *testing.T) {
	n := newTestNode(t, func(cfg *config.Config) {
		cfg.VRF.AutoFulfill = true
	})
	player := n.Accounts()[1]
	enterAll(t, n, player)

	_, err := n.IncreaseTime(config.DefaultInterval)
	require.NoError(t, err)
	_, err = n.PerformUpkeep()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return n.Raffle().Rounds() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, player, n.Raffle().RecentWinner())
	assert.Equal(t, config.DefaultBalance, n.GetBalance(player))
}

func TestNode_SnapshotRevert(t *testing.T) {
	n := newTestNode(t, nil)
	player := n.Accounts()[1]

	id := n.Snapshot()
	enterAll(t, n, player)
	_, err := n.IncreaseTime(100)
	require.NoError(t, err)

	assert.Equal(t, 1, n.Raffle().NumberOfPlayers())

	assert.True(t, n.Revert(id))
	assert.Equal(t, 0, n.Raffle().NumberOfPlayers())
	assert.Equal(t, 0, n.Raffle().Balance().Sign())
	assert.Equal(t, config.DefaultBalance, n.GetBalance(player))
	assert.Equal(t, genesisTime, n.Now())

	assert.False(t, n.Revert(id))
}

func TestNode_SetBalanceAndDump(t *testing.T) {
	n := newTestNode(t, nil)
	addr := common.HexToAddress("0x1234")

	require.NoError(t, n.SetBalance(addr, big.NewInt(77)))
	assert.Equal(t, big.NewInt(77), n.GetBalance(addr))

	dump := n.DumpLedger()
	assert.Equal(t, "0x4d", dump.Accounts[addr.Hex()].Balance)

	require.NoError(t, n.SetBalance(addr, big.NewInt(1)))
	require.NoError(t, n.LoadLedger(dump))
	assert.Equal(t, big.NewInt(77), n.GetBalance(addr))
}

func TestNode_SetNextTimestamp(t *testing.T) {
	n := newTestNode(t, nil)

	require.NoError(t, n.SetNextTimestamp(genesisTime+500))
	assert.Equal(t, genesisTime+500, n.Now())
	assert.Error(t, n.SetNextTimestamp(genesisTime))
}

func TestNode_History(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		n := newTestNode(t, nil)
		_, err := n.History(10)
		assert.ErrorIs(t, err, ErrHistoryDisabled)
	})

	t.Run("records settled rounds", func(t *testing.T) {
		n := newTestNode(t, func(cfg *config.Config) {
			cfg.HistoryPath = filepath.Join(t.TempDir(), "history.db")
		})
		player := n.Accounts()[2]
		enterAll(t, n, player)

		_, err := n.IncreaseTime(config.DefaultInterval)
		require.NoError(t, err)
		requestID, err := n.PerformUpkeep()
		require.NoError(t, err)
		_, err = n.FulfillRandomWords(requestID, nil)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			records, err := n.History(10)
			return err == nil && len(records) == 1
		}, 2*time.Second, 10*time.Millisecond)

		records, err := n.History(10)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), records[0].Round)
		assert.Equal(t, player, records[0].Winner)
	})
}

func settleOnce(t *testing.T, n *Node, player common.Address) {
	t.Helper()

	enterAll(t, n, player)
	_, err := n.IncreaseTime(config.DefaultInterval)
	require.NoError(t, err)
	requestID, err := n.PerformUpkeep()
	require.NoError(t, err)
	_, err = n.FulfillRandomWords(requestID, nil)
	require.NoError(t, err)
}

func TestNode_History_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	withHistory := func(cfg *config.Config) { cfg.HistoryPath = path }

	first, err := New(withConfig(withHistory), clock.Fixed(genesisTime), nil)
	require.NoError(t, err)
	settleOnce(t, first, first.Accounts()[1])
	require.Eventually(t, func() bool {
		records, err := first.History(0)
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, first.Close())

	second := newTestNode(t, withHistory)
	assert.Equal(t, uint64(1), second.Raffle().Rounds())

	settleOnce(t, second, second.Accounts()[2])
	require.Eventually(t, func() bool {
		records, err := second.History(0)
		return err == nil && len(records) == 2
	}, 2*time.Second, 10*time.Millisecond)

	records, err := second.History(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), records[0].Round)
	assert.Equal(t, second.Accounts()[2], records[0].Winner)
	assert.Equal(t, uint64(1), records[1].Round)
	assert.Equal(t, second.Accounts()[1], records[1].Winner)
}

func TestNode_Close(t *testing.T) {
	cfg := config.Default()
	cfg.KeeperMode = "interval"
	cfg.KeeperInterval = 10 * time.Millisecond

	n, err := New(cfg, clock.Fixed(genesisTime), nil)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	assert.True(t, n.Keeper().Running())

	require.NoError(t, n.Close())
	assert.False(t, n.Keeper().Running())
	assert.ErrorIs(t, n.EnterRaffle(n.Accounts()[1], fee()), ErrClosed)
}
