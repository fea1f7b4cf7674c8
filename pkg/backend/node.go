package backend

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"golang.org/x/exp/slog"

	"github.com/itachi47/hardhat-lottery-backend/pkg/clock"
	"github.com/itachi47/hardhat-lottery-backend/pkg/config"
	"github.com/itachi47/hardhat-lottery-backend/pkg/genesis"
	"github.com/itachi47/hardhat-lottery-backend/pkg/history"
	"github.com/itachi47/hardhat-lottery-backend/pkg/keeper"
	"github.com/itachi47/hardhat-lottery-backend/pkg/ledger"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger/sl"
	"github.com/itachi47/hardhat-lottery-backend/pkg/raffle"
	"github.com/itachi47/hardhat-lottery-backend/pkg/snapshot"
	"github.com/itachi47/hardhat-lottery-backend/pkg/vrf"
)

// Node is a single-process raffle deployment: a ledger of native balances, a
// chain clock, the coordinator mock, the raffle and its keeper.
//
// Every state change runs through Exec, one at a time.
type Node struct {
	cfg     *config.Config
	log     *slog.Logger
	genesis *genesis.Genesis

	ledger      *ledger.InMemoryLedger
	clock       *clock.Manager
	coordinator *vrf.CoordinatorMock
	raffle      *raffle.Raffle
	keeper      *keeper.Keeper
	snapshots   *snapshot.Manager
	history     *history.Store

	subs    []event.Subscription
	pending sync.WaitGroup

	execMu sync.Mutex
	closed bool
}

// New boots a node from cfg. A nil source uses the wall clock.
func New(cfg *config.Config, source clock.Source, log *slog.Logger) (*Node, error) {
	const op = "backend.New"

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	if log == nil {
		log = logger.Discard()
	}

	n := &Node{
		cfg:    cfg.Copy(),
		log:    log,
		ledger: ledger.NewInMemoryLedger(),
		clock:  clock.NewManager(source),
	}

	gen, err := genesis.Create(n.cfg, n.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := gen.Apply(n.ledger); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	n.genesis = gen

	if err := n.deploy(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	mode, err := keeper.ParseMode(n.cfg.KeeperMode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	n.keeper = keeper.New(n.raffle, n.Exec, log)
	n.keeper.SetMode(mode)
	n.keeper.SetInterval(n.cfg.KeeperInterval)

	n.snapshots = snapshot.NewManager(n.ledger, n.clock, n.coordinator, n.raffle)

	if n.cfg.HasHistory() {
		store, err := history.Open(n.cfg.HistoryPath, log)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		last, err := store.LastRound()
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		n.raffle.ResumeRounds(last)
		n.history = store
		n.subs = append(n.subs, store.Follow(n.raffle))
	}

	if n.cfg.VRF.AutoFulfill {
		n.subs = append(n.subs, n.autoFulfill())
	}

	log.Info("node ready",
		slog.Uint64("chain_id", n.cfg.ChainID),
		sl.Address("raffle", gen.Deployment.Raffle),
		sl.Address("coordinator", gen.Deployment.Coordinator),
		slog.String("keeper", mode.String()),
	)

	return n, nil
}

// deploy installs the coordinator mock and the raffle, then registers the
// raffle as a funded subscription consumer.
func (n *Node) deploy() error {
	dep := n.genesis.Deployment

	n.coordinator = vrf.NewCoordinatorMock(dep.Coordinator, n.cfg.VRF.BaseFee, n.cfg.VRF.GasPriceLink)
	subID := n.coordinator.CreateSubscription()
	if err := n.coordinator.FundSubscription(subID, n.cfg.VRF.SubscriptionFund); err != nil {
		return fmt.Errorf("fund subscription: %w", err)
	}

	r, err := raffle.New(raffle.Params{
		Address:            dep.Raffle,
		CoordinatorAddress: dep.Coordinator,
		EntranceFee:        n.cfg.Raffle.EntranceFee,
		Interval:           n.cfg.Raffle.Interval,
		GasLane:            n.cfg.Raffle.GasLane,
		SubscriptionID:     subID,
		CallbackGasLimit:   n.cfg.Raffle.CallbackGasLimit,
	}, n.ledger, n.coordinator, n.clock, n.log)
	if err != nil {
		return fmt.Errorf("deploy raffle: %w", err)
	}
	if err := n.ledger.CreateAccount(dep.Raffle); err != nil {
		return fmt.Errorf("deploy raffle: %w", err)
	}

	if err := n.coordinator.AddConsumer(subID, dep.Raffle); err != nil {
		return fmt.Errorf("add consumer: %w", err)
	}
	n.coordinator.Attach(dep.Raffle, r)
	n.raffle = r

	return nil
}

// autoFulfill answers every randomness request once the call that made it
// has released the executor.
func (n *Node) autoFulfill() event.Subscription {
	ch := make(chan vrf.RequestedEvent, 16)
	sub := n.coordinator.SubscribeRequested(ch)

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case ev := <-ch:
				n.pending.Add(1)
				go func(id *big.Int) {
					defer n.pending.Done()
					if _, err := n.FulfillRandomWords(id, nil); err != nil {
						n.log.Warn("auto fulfilment failed", sl.Big("request_id", id), sl.Err(err))
					}
				}(ev.RequestID)
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	})
}

// Exec runs fn with exclusive access to node state.
func (n *Node) Exec(fn func() error) error {
	n.execMu.Lock()
	defer n.execMu.Unlock()

	if n.closed {
		return ErrClosed
	}
	return fn()
}

// Start starts background automation (interval keeper mode).
func (n *Node) Start() error {
	if n.keeper.Mode() != keeper.ModeInterval {
		return nil
	}
	return n.keeper.Start()
}

// Close stops automation, waits for in-flight fulfilments and closes the
// history store.
func (n *Node) Close() error {
	if n.keeper.Running() {
		_ = n.keeper.Stop()
	}
	for _, sub := range n.subs {
		sub.Unsubscribe()
	}
	n.pending.Wait()

	n.execMu.Lock()
	n.closed = true
	n.execMu.Unlock()

	if n.history != nil {
		return n.history.Close()
	}
	return nil
}

// ChainID returns the chain id.
func (n *Node) ChainID() *big.Int {
	return new(big.Int).SetUint64(n.cfg.ChainID)
}

// Accounts returns the funded accounts.
func (n *Node) Accounts() []common.Address {
	return n.genesis.Addresses()
}

// Deployment returns the contract addresses.
func (n *Node) Deployment() genesis.Deployment {
	return n.genesis.Deployment
}

// Now returns the current chain time.
func (n *Node) Now() uint64 {
	return n.clock.Now()
}

// GetBalance returns the balance of addr.
func (n *Node) GetBalance(addr common.Address) *big.Int {
	return n.ledger.GetBalance(addr)
}

// SetBalance overwrites the balance of addr.
func (n *Node) SetBalance(addr common.Address, balance *big.Int) error {
	return n.Exec(func() error {
		return n.ledger.SetBalance(addr, balance)
	})
}

// DumpLedger exports every balance.
func (n *Node) DumpLedger() *ledger.Dump {
	return n.ledger.Dump()
}

// LoadLedger imports balances from dump.
func (n *Node) LoadLedger(dump *ledger.Dump) error {
	return n.Exec(func() error {
		return n.ledger.Load(dump)
	})
}

// Raffle returns the deployed raffle for read access.
func (n *Node) Raffle() *raffle.Raffle {
	return n.raffle
}

// EnterRaffle enters player paying value.
func (n *Node) EnterRaffle(player common.Address, value *big.Int) error {
	return n.Exec(func() error {
		if err := n.raffle.EnterRaffle(player, value); err != nil {
			return err
		}
		n.keeper.AfterChange()
		return nil
	})
}

// UpkeepStatus evaluates the draw conditions at the current chain time.
func (n *Node) UpkeepStatus() raffle.UpkeepStatus {
	return n.raffle.UpkeepStatusAt(n.clock.Now())
}

// PerformUpkeep starts a draw, returning the randomness request id.
func (n *Node) PerformUpkeep() (*big.Int, error) {
	var requestID *big.Int
	err := n.Exec(func() error {
		var err error
		requestID, err = n.raffle.PerformUpkeep(nil)
		return err
	})
	return requestID, err
}

// Coordinator returns the coordinator mock.
func (n *Node) Coordinator() *vrf.CoordinatorMock {
	return n.coordinator
}

// FulfillRandomWords answers requestID on behalf of the coordinator. Empty
// words are derived from the request id.
func (n *Node) FulfillRandomWords(requestID *big.Int, words []*big.Int) (*vrf.Fulfillment, error) {
	var result *vrf.Fulfillment
	err := n.Exec(func() error {
		var err error
		result, err = n.coordinator.FulfillRandomWordsWithOverride(requestID, n.raffle.Address(), words)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !result.Success {
		n.log.Warn("fulfilment reverted in consumer", sl.Big("request_id", requestID), sl.Err(result.Err))
	}
	return result, nil
}

// FundSubscription adds amount to a coordinator subscription.
func (n *Node) FundSubscription(subID uint64, amount *big.Int) error {
	return n.Exec(func() error {
		return n.coordinator.FundSubscription(subID, amount)
	})
}

// IncreaseTime advances the chain clock.
func (n *Node) IncreaseTime(seconds uint64) (uint64, error) {
	var now uint64
	err := n.Exec(func() error {
		var err error
		now, err = n.clock.IncreaseTime(seconds)
		return err
	})
	return now, err
}

// SetNextTimestamp moves the chain clock to timestamp.
func (n *Node) SetNextTimestamp(timestamp uint64) error {
	return n.Exec(func() error {
		return n.clock.SetTime(timestamp)
	})
}

// Mine seals the current time. In auto keeper mode it gives the keeper a
// chance to start a draw.
func (n *Node) Mine() error {
	return n.Exec(func() error {
		n.keeper.AfterChange()
		return nil
	})
}

// Keeper returns the upkeep automation.
func (n *Node) Keeper() *keeper.Keeper {
	return n.keeper
}

// Snapshot captures the whole node state.
func (n *Node) Snapshot() uint64 {
	var id uint64
	_ = n.Exec(func() error {
		id = n.snapshots.Snapshot()
		return nil
	})
	return id
}

// Revert restores the node state captured by id.
func (n *Node) Revert(id uint64) bool {
	var ok bool
	_ = n.Exec(func() error {
		ok = n.snapshots.Revert(id)
		return nil
	})
	return ok
}

// History returns up to limit settled rounds, newest first.
func (n *Node) History(limit int) ([]history.Record, error) {
	if n.history == nil {
		return nil, ErrHistoryDisabled
	}
	return n.history.Recent(limit)
}

// HistoryRound returns the record of one settled round.
func (n *Node) HistoryRound(round uint64) (history.Record, error) {
	if n.history == nil {
		return history.Record{}, ErrHistoryDisabled
	}
	return n.history.Get(round)
}

// HistoryCount returns the number of recorded rounds.
func (n *Node) HistoryCount() (int, error) {
	if n.history == nil {
		return 0, ErrHistoryDisabled
	}
	return n.history.Count()
}
