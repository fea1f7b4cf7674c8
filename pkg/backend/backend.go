// Package backend assembles the raffle node and exposes it to the transports.
package backend

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/itachi47/hardhat-lottery-backend/pkg/genesis"
	"github.com/itachi47/hardhat-lottery-backend/pkg/history"
	"github.com/itachi47/hardhat-lottery-backend/pkg/keeper"
	"github.com/itachi47/hardhat-lottery-backend/pkg/ledger"
	"github.com/itachi47/hardhat-lottery-backend/pkg/raffle"
	"github.com/itachi47/hardhat-lottery-backend/pkg/vrf"
)

// Errors returned by the backend.
var (
	ErrHistoryDisabled = errors.New("winner history is disabled")
	ErrClosed          = errors.New("node is closed")
)

// Backend is the main interface for the raffle node.
// It coordinates all components and provides the primary API.
type Backend interface {
	// Lifecycle
	Start() error
	Close() error

	// Chain information
	ChainID() *big.Int
	Accounts() []common.Address
	Deployment() genesis.Deployment
	Now() uint64

	// Ledger access
	GetBalance(addr common.Address) *big.Int
	SetBalance(addr common.Address, balance *big.Int) error
	DumpLedger() *ledger.Dump
	LoadLedger(dump *ledger.Dump) error

	// Raffle
	Raffle() *raffle.Raffle
	EnterRaffle(player common.Address, value *big.Int) error
	UpkeepStatus() raffle.UpkeepStatus
	PerformUpkeep() (*big.Int, error)

	// Randomness
	Coordinator() *vrf.CoordinatorMock
	FulfillRandomWords(requestID *big.Int, words []*big.Int) (*vrf.Fulfillment, error)
	FundSubscription(subID uint64, amount *big.Int) error

	// Time control
	IncreaseTime(seconds uint64) (uint64, error)
	SetNextTimestamp(timestamp uint64) error
	Mine() error

	// Automation
	Keeper() *keeper.Keeper

	// Snapshot
	Snapshot() uint64
	Revert(id uint64) bool

	// History
	History(limit int) ([]history.Record, error)
	HistoryRound(round uint64) (history.Record, error)
	HistoryCount() (int, error)
}

var _ Backend = (*Node)(nil)
