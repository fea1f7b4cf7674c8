// Package ledger provides the native-currency world state for the raffle node.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Common errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNegativeAmount    = errors.New("negative amount")
	ErrTransferRejected  = errors.New("transfer rejected by recipient")
)

// Reader provides read-only balance access.
type Reader interface {
	GetBalance(addr common.Address) *big.Int
	Exist(addr common.Address) bool
}

// Writer provides balance modification.
type Writer interface {
	SetBalance(addr common.Address, balance *big.Int) error
	CreateAccount(addr common.Address) error
	DeleteAccount(addr common.Address) error
}

// Manager combines read and write access with value transfers and revertible snapshots.
type Manager interface {
	Reader
	Writer
	Transfer(from, to common.Address, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}

// Receiver is the payable hook of an account that runs code on incoming value.
// Returning an error reverts the transfer.
type Receiver interface {
	Receive(from common.Address, amount *big.Int) error
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(from common.Address, amount *big.Int) error

// Receive calls f(from, amount).
func (f ReceiverFunc) Receive(from common.Address, amount *big.Int) error {
	return f(from, amount)
}

// accountState holds the state of a single account.
type accountState struct {
	Balance  *big.Int
	receiver Receiver
}

func (a *accountState) copy() *accountState {
	copied := &accountState{receiver: a.receiver}
	if a.Balance != nil {
		copied.Balance = new(big.Int).Set(a.Balance)
	}
	return copied
}

type snapshot struct {
	id       int
	accounts map[common.Address]*accountState
}

// InMemoryLedger implements Manager using in-memory storage.
type InMemoryLedger struct {
	accounts   map[common.Address]*accountState
	snapshots  []*snapshot
	nextSnapID int
	mu         sync.RWMutex
}

// NewInMemoryLedger creates an empty ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		accounts:  make(map[common.Address]*accountState),
		snapshots: make([]*snapshot, 0),
	}
}

func (l *InMemoryLedger) getOrCreateAccount(addr common.Address) *accountState {
	if acc, exists := l.accounts[addr]; exists {
		return acc
	}
	acc := &accountState{Balance: big.NewInt(0)}
	l.accounts[addr] = acc
	return acc
}

// GetBalance returns the balance of an account.
func (l *InMemoryLedger) GetBalance(addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if acc, exists := l.accounts[addr]; exists && acc.Balance != nil {
		return new(big.Int).Set(acc.Balance)
	}
	return big.NewInt(0)
}

// Exist returns true if the account exists.
func (l *InMemoryLedger) Exist(addr common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, exists := l.accounts[addr]
	return exists
}

// SetBalance sets the balance of an account.
func (l *InMemoryLedger) SetBalance(addr common.Address, balance *big.Int) error {
	if balance.Sign() < 0 {
		return ErrNegativeAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getOrCreateAccount(addr)
	acc.Balance = new(big.Int).Set(balance)
	return nil
}

// AddBalance credits an account.
func (l *InMemoryLedger) AddBalance(addr common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.getOrCreateAccount(addr)
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return nil
}

// SetReceiver installs a payable hook on an account, creating the account if needed.
// A nil receiver removes the hook.
func (l *InMemoryLedger) SetReceiver(addr common.Address, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.getOrCreateAccount(addr).receiver = r
}

// CreateAccount creates a new account.
func (l *InMemoryLedger) CreateAccount(addr common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts[addr] = &accountState{Balance: big.NewInt(0)}
	return nil
}

// DeleteAccount removes an account.
func (l *InMemoryLedger) DeleteAccount(addr common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.accounts, addr)
	return nil
}

// Transfer moves amount from one account to another. If the recipient has a
// Receiver installed it runs after the balances have moved and without the
// ledger lock held, so it may call back into the ledger. A receiver error
// reverts every change made since the transfer began.
func (l *InMemoryLedger) Transfer(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}

	l.mu.Lock()
	src := l.getOrCreateAccount(from)
	if src.Balance.Cmp(amount) < 0 {
		l.mu.Unlock()
		return ErrInsufficientFunds
	}
	dst := l.getOrCreateAccount(to)
	receiver := dst.receiver

	var snapID int
	if receiver != nil {
		snapID = l.snapshotLocked()
	}

	src.Balance = new(big.Int).Sub(src.Balance, amount)
	dst.Balance = new(big.Int).Add(dst.Balance, amount)
	l.mu.Unlock()

	if receiver == nil {
		return nil
	}

	if err := receiver.Receive(from, amount); err != nil {
		l.RevertToSnapshot(snapID)
		return fmt.Errorf("%w: %v", ErrTransferRejected, err)
	}

	l.DiscardSnapshot(snapID)
	return nil
}

// Snapshot creates an in-memory snapshot for revert.
func (l *InMemoryLedger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.snapshotLocked()
}

func (l *InMemoryLedger) snapshotLocked() int {
	accounts := make(map[common.Address]*accountState, len(l.accounts))
	for addr, acc := range l.accounts {
		accounts[addr] = acc.copy()
	}

	snap := &snapshot{
		id:       l.nextSnapID,
		accounts: accounts,
	}
	l.snapshots = append(l.snapshots, snap)
	l.nextSnapID++

	return snap.id
}

// RevertToSnapshot restores the state captured by id and drops it together
// with every later snapshot.
func (l *InMemoryLedger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapIdx := l.indexOf(id)
	if snapIdx == -1 {
		return
	}

	snap := l.snapshots[snapIdx]
	l.accounts = make(map[common.Address]*accountState, len(snap.accounts))
	for addr, acc := range snap.accounts {
		l.accounts[addr] = acc.copy()
	}

	l.snapshots = l.snapshots[:snapIdx]
}

// DiscardSnapshot forgets a snapshot without touching state.
func (l *InMemoryLedger) DiscardSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapIdx := l.indexOf(id)
	if snapIdx == -1 {
		return
	}
	l.snapshots = append(l.snapshots[:snapIdx], l.snapshots[snapIdx+1:]...)
}

func (l *InMemoryLedger) indexOf(id int) int {
	for i, snap := range l.snapshots {
		if snap.id == id {
			return i
		}
	}
	return -1
}

// SnapshotCount returns the number of live snapshots.
func (l *InMemoryLedger) SnapshotCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.snapshots)
}

// AccountDump represents an account in the ledger dump.
type AccountDump struct {
	Balance string `json:"balance"`
}

// Dump represents a complete ledger dump.
type Dump struct {
	Accounts map[string]AccountDump `json:"accounts"`
}

// Dump exports the current balances as a serializable structure.
func (l *InMemoryLedger) Dump() *Dump {
	l.mu.RLock()
	defer l.mu.RUnlock()

	dump := &Dump{
		Accounts: make(map[string]AccountDump, len(l.accounts)),
	}

	for addr, acc := range l.accounts {
		accountDump := AccountDump{Balance: "0x0"}
		if acc.Balance != nil {
			accountDump.Balance = hexutil.EncodeBig(acc.Balance)
		}
		dump.Accounts[addr.Hex()] = accountDump
	}

	return dump
}

// DumpJSON exports the current balances as JSON.
func (l *InMemoryLedger) DumpJSON() ([]byte, error) {
	return json.Marshal(l.Dump())
}

// Load imports balances from a dump. Receivers already installed are kept.
func (l *InMemoryLedger) Load(dump *Dump) error {
	if dump == nil || dump.Accounts == nil {
		return nil
	}

	balances := make(map[common.Address]*big.Int, len(dump.Accounts))
	for addrHex, accDump := range dump.Accounts {
		balance := big.NewInt(0)
		if accDump.Balance != "" {
			decoded, err := hexutil.DecodeBig(accDump.Balance)
			if err != nil {
				return fmt.Errorf("account %s: %w", addrHex, err)
			}
			balance = decoded
		}
		balances[common.HexToAddress(addrHex)] = balance
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for addr, balance := range balances {
		l.getOrCreateAccount(addr).Balance = balance
	}
	return nil
}

// LoadJSON imports balances from JSON.
func (l *InMemoryLedger) LoadJSON(data []byte) error {
	var dump Dump
	if err := json.Unmarshal(data, &dump); err != nil {
		return err
	}
	return l.Load(&dump)
}

// Clear removes all accounts and snapshots.
func (l *InMemoryLedger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts = make(map[common.Address]*accountState)
	l.snapshots = make([]*snapshot, 0)
	l.nextSnapID = 0
}

// AccountCount returns the number of accounts in the ledger.
func (l *InMemoryLedger) AccountCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}
