// Package raffle implements an automatically drawn lottery whose winner is
// picked from verifiable randomness delivered by an external coordinator.
package raffle

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"golang.org/x/exp/slog"

	"github.com/itachi47/hardhat-lottery-backend/pkg/clock"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger/sl"
	"github.com/itachi47/hardhat-lottery-backend/pkg/vrf"
)

// Randomness request constants.
const (
	RequestConfirmations uint16 = 3
	NumWords             uint32 = 1
)

// Bank moves native value between accounts. A failed Transfer must leave no
// trace, including anything the recipient did while receiving.
type Bank interface {
	Transfer(from, to common.Address, amount *big.Int) error
}

// Coordinator issues randomness requests.
type Coordinator interface {
	RequestRandomWords(req vrf.Request) (*big.Int, error)
}

// Params are the immutable deployment parameters.
type Params struct {
	// Address is the raffle's own account, which holds the pooled funds.
	Address common.Address
	// CoordinatorAddress is the only caller allowed to deliver randomness.
	CoordinatorAddress common.Address
	EntranceFee        *big.Int
	Interval           uint64
	GasLane            common.Hash
	SubscriptionID     uint64
	CallbackGasLimit   uint32
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.EntranceFee == nil || p.EntranceFee.Sign() <= 0 {
		return fmt.Errorf("%w: entrance fee must be positive", ErrInvalidParams)
	}
	if p.Address == (common.Address{}) {
		return fmt.Errorf("%w: raffle address is required", ErrInvalidParams)
	}
	if p.CoordinatorAddress == (common.Address{}) {
		return fmt.Errorf("%w: coordinator address is required", ErrInvalidParams)
	}
	return nil
}

// pool is the mutable lottery state.
type pool struct {
	machine      StateMachine
	treasury     *Treasury
	registry     *Registry
	clock        *DrawClock
	recentWinner common.Address
	rounds       uint64
}

func (p *pool) copy() *pool {
	return &pool{
		machine:      p.machine.copy(),
		treasury:     p.treasury.copy(),
		registry:     p.registry.copy(),
		clock:        p.clock.copy(),
		recentWinner: p.recentWinner,
		rounds:       p.rounds,
	}
}

type poolSnapshot struct {
	id   int
	pool *pool
	logs int
}

// Raffle is a single lottery pool driven by an automation trigger and a
// randomness coordinator.
type Raffle struct {
	params      Params
	bank        Bank
	coordinator Coordinator
	clock       clock.Clock
	log         *slog.Logger

	pool *pool
	logs []*types.Log

	snapshots  []poolSnapshot
	nextSnapID int

	// settling counts settlements whose payout is in flight. Events raised
	// meanwhile are held in deferred until the outermost one commits.
	settling int
	deferred []any

	enterFeed   event.Feed
	requestFeed event.Feed
	winnerFeed  event.Feed

	mu sync.Mutex
}

// New deploys a raffle. The draw clock starts at clk.Now().
func New(params Params, bank Bank, coordinator Coordinator, clk clock.Clock, log *slog.Logger) (*Raffle, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	params.EntranceFee = new(big.Int).Set(params.EntranceFee)

	return &Raffle{
		params:      params,
		bank:        bank,
		coordinator: coordinator,
		clock:       clk,
		log:         log.With(sl.Address("raffle", params.Address)),
		pool: &pool{
			treasury: NewTreasury(params.EntranceFee),
			registry: &Registry{},
			clock:    NewDrawClock(clk.Now(), params.Interval),
		},
	}, nil
}

// EnterRaffle collects value from player and records one entry.
func (r *Raffle) EnterRaffle(player common.Address, value *big.Int) error {
	events, err := r.enter(player, value)
	r.publish(events)
	return err
}

func (r *Raffle) enter(player common.Address, value *big.Int) ([]any, error) {
	const op = "raffle.EnterRaffle"
	log := r.log.With(slog.String("op", op))

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pool.machine.Phase() != PhaseOpen {
		return nil, ErrRaffleNotOpen
	}
	if !r.pool.treasury.Accepts(value) {
		return nil, ErrInsufficientPayment
	}

	if err := r.bank.Transfer(player, r.params.Address, value); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := r.pool.treasury.Deposit(value); err != nil {
		return nil, err
	}
	r.pool.registry.Add(player)

	log.Debug("entry accepted",
		sl.Address("player", player),
		sl.Big("amount", value),
		slog.Int("players", r.pool.registry.Count()),
	)

	ev := EnterEvent{Player: player, Amount: new(big.Int).Set(value), Timestamp: r.clock.Now()}
	return r.emitLocked(ev, ev.Log(r.params.Address)), nil
}

// CheckUpkeepAt reports whether a draw may start at now.
func (r *Raffle) CheckUpkeepAt(now uint64) bool {
	return r.UpkeepStatusAt(now).Needed()
}

// UpkeepStatusAt returns every draw condition evaluated at now.
func (r *Raffle) UpkeepStatusAt(now uint64) UpkeepStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return evaluateUpkeep(r.pool, now)
}

// CheckUpkeep evaluates the draw conditions at the current chain time.
// performData is ignored and returned empty.
func (r *Raffle) CheckUpkeep(performData []byte) (bool, []byte) {
	return r.CheckUpkeepAt(r.clock.Now()), []byte{}
}

// PerformUpkeep starts a draw and returns the coordinator's request id.
// performData is ignored.
func (r *Raffle) PerformUpkeep(performData []byte) (*big.Int, error) {
	events, requestID, err := r.performUpkeep()
	r.publish(events)
	return requestID, err
}

func (r *Raffle) performUpkeep() ([]any, *big.Int, error) {
	const op = "raffle.PerformUpkeep"
	log := r.log.With(slog.String("op", op))

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if !evaluateUpkeep(r.pool, now).Needed() {
		return nil, nil, &UpkeepNotNeededError{
			Balance:    r.pool.treasury.Balance(),
			NumPlayers: r.pool.registry.Count(),
			State:      r.pool.machine.Phase(),
		}
	}

	if err := r.pool.machine.BeginDraw(); err != nil {
		return nil, nil, err
	}

	requestID, err := r.coordinator.RequestRandomWords(vrf.Request{
		KeyHash:              r.params.GasLane,
		SubID:                r.params.SubscriptionID,
		RequestConfirmations: RequestConfirmations,
		CallbackGasLimit:     r.params.CallbackGasLimit,
		NumWords:             NumWords,
		Consumer:             r.params.Address,
	})
	if err != nil {
		r.pool.machine.Abort()
		log.Error("randomness request failed", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: request random words: %w", op, err)
	}
	r.pool.machine.Record(requestID)

	log.Info("draw requested",
		sl.Big("request_id", requestID),
		slog.Int("players", r.pool.registry.Count()),
		sl.Big("balance", r.pool.treasury.balance),
	)

	ev := DrawRequestedEvent{RequestID: new(big.Int).Set(requestID), Timestamp: now}
	return r.emitLocked(ev, ev.Log(r.params.Address)), new(big.Int).Set(requestID), nil
}

// RawFulfillRandomWords settles the outstanding draw. Only the coordinator may
// call it, and only for the pending request id.
func (r *Raffle) RawFulfillRandomWords(caller common.Address, requestID *big.Int, randomWords []*big.Int) error {
	events, err := r.fulfill(caller, requestID, randomWords)
	r.publish(events)
	return err
}

func (r *Raffle) fulfill(caller common.Address, requestID *big.Int, randomWords []*big.Int) ([]any, error) {
	const op = "raffle.RawFulfillRandomWords"
	log := r.log.With(slog.String("op", op), sl.Big("request_id", requestID))

	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.params.CoordinatorAddress {
		return nil, ErrOnlyCoordinator
	}
	if !r.pool.machine.Matches(requestID) {
		log.Warn("rejected randomness for unknown request", sl.Big("pending", r.pool.machine.pending))
		return nil, ErrUnknownRequest
	}
	if len(randomWords) == 0 {
		return nil, ErrInvalidRandomness
	}

	index, err := SelectWinner(randomWords[0], r.pool.registry.Count())
	if err != nil {
		return nil, err
	}
	winner, err := r.pool.registry.Get(index)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()

	snapID := r.snapshotLocked()
	mark := len(r.deferred)
	r.settling++

	_ = r.pool.machine.Complete(requestID)
	r.pool.registry.Clear()
	r.pool.clock.Reset(now)
	r.pool.recentWinner = winner
	r.pool.rounds++
	round := r.pool.rounds

	amount, err := r.pool.treasury.Payout(winner, r.sendUnlocked)
	if err != nil {
		r.revertLocked(snapID)
		r.deferred = r.deferred[:mark]
		r.settling--

		log.Error("payout failed, settlement reverted", sl.Address("winner", winner), sl.Err(err))
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	r.discardLocked(snapID)

	log.Info("winner picked",
		sl.Address("winner", winner),
		sl.Big("amount", amount),
		slog.Uint64("round", round),
	)

	ev := WinnerPickedEvent{
		Winner:    winner,
		Amount:    amount,
		RequestID: new(big.Int).Set(requestID),
		Round:     round,
		Timestamp: now,
	}
	r.appendLogLocked(ev.Log(r.params.Address))
	r.deferred = append(r.deferred, ev)

	r.settling--
	if r.settling > 0 {
		return nil, nil
	}
	events := r.deferred
	r.deferred = nil
	return events, nil
}

// sendUnlocked pays out with the pool lock released so the recipient may call
// back into the raffle.
func (r *Raffle) sendUnlocked(to common.Address, amount *big.Int) error {
	r.mu.Unlock()
	defer r.mu.Lock()

	return r.bank.Transfer(r.params.Address, to, amount)
}

func (r *Raffle) appendLogLocked(lg *types.Log) {
	lg.Index = uint(len(r.logs))
	r.logs = append(r.logs, lg)
}

func (r *Raffle) emitLocked(ev any, lg *types.Log) []any {
	r.appendLogLocked(lg)
	if r.settling > 0 {
		r.deferred = append(r.deferred, ev)
		return nil
	}
	return []any{ev}
}

func (r *Raffle) publish(events []any) {
	for _, ev := range events {
		switch e := ev.(type) {
		case EnterEvent:
			r.enterFeed.Send(e)
		case DrawRequestedEvent:
			r.requestFeed.Send(e)
		case WinnerPickedEvent:
			r.winnerFeed.Send(e)
		}
	}
}

// SubscribeEnter delivers entry events to ch.
func (r *Raffle) SubscribeEnter(ch chan<- EnterEvent) event.Subscription {
	return r.enterFeed.Subscribe(ch)
}

// SubscribeDrawRequested delivers draw request events to ch.
func (r *Raffle) SubscribeDrawRequested(ch chan<- DrawRequestedEvent) event.Subscription {
	return r.requestFeed.Subscribe(ch)
}

// SubscribeWinnerPicked delivers settlement events to ch.
func (r *Raffle) SubscribeWinnerPicked(ch chan<- WinnerPickedEvent) event.Subscription {
	return r.winnerFeed.Subscribe(ch)
}

// Logs returns the emitted logs starting at index from.
func (r *Raffle) Logs(from uint64) []*types.Log {
	r.mu.Lock()
	defer r.mu.Unlock()

	if from >= uint64(len(r.logs)) {
		return []*types.Log{}
	}
	logs := make([]*types.Log, 0, uint64(len(r.logs))-from)
	for _, lg := range r.logs[from:] {
		copied := *lg
		logs = append(logs, &copied)
	}
	return logs
}

// Snapshot records the pool for revert.
func (r *Raffle) Snapshot() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked()
}

// RevertToSnapshot restores the pool recorded by id and drops later snapshots.
func (r *Raffle) RevertToSnapshot(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.revertLocked(id)
}

func (r *Raffle) snapshotLocked() int {
	snap := poolSnapshot{id: r.nextSnapID, pool: r.pool.copy(), logs: len(r.logs)}
	r.snapshots = append(r.snapshots, snap)
	r.nextSnapID++
	return snap.id
}

func (r *Raffle) revertLocked(id int) {
	for i, snap := range r.snapshots {
		if snap.id == id {
			r.pool = snap.pool.copy()
			r.logs = r.logs[:snap.logs]
			r.snapshots = r.snapshots[:i]
			return
		}
	}
}

func (r *Raffle) discardLocked(id int) {
	for i, snap := range r.snapshots {
		if snap.id == id {
			r.snapshots = append(r.snapshots[:i], r.snapshots[i+1:]...)
			return
		}
	}
}

// Address returns the raffle account.
func (r *Raffle) Address() common.Address {
	return r.params.Address
}

// CoordinatorAddress returns the trusted randomness coordinator.
func (r *Raffle) CoordinatorAddress() common.Address {
	return r.params.CoordinatorAddress
}

// SubscriptionID returns the coordinator subscription funding requests.
func (r *Raffle) SubscriptionID() uint64 {
	return r.params.SubscriptionID
}

// GasLane returns the key hash sent with every request.
func (r *Raffle) GasLane() common.Hash {
	return r.params.GasLane
}

// CallbackGasLimit returns the gas budget of the fulfilment callback.
func (r *Raffle) CallbackGasLimit() uint32 {
	return r.params.CallbackGasLimit
}

// RaffleState returns the current phase.
func (r *Raffle) RaffleState() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pool.machine.Phase()
}

// Player returns the entry at index.
func (r *Raffle) Player(index uint64) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pool.registry.Get(index)
}

// Players returns all entries of the current round.
func (r *Raffle) Players() []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pool.registry.Players()
}

// NumberOfPlayers returns the entry count.
func (r *Raffle) NumberOfPlayers() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pool.registry.Count()
}

// Balance returns the pooled funds.
func (r *Raffle) Balance() *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pool.treasury.Balance()
}

// LastTimeStamp returns the time of the last settlement, or of deployment.
func (r *Raffle) LastTimeStamp() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pool.clock.LastSettledAt()
}

// EntranceFee returns the minimum entry payment.
func (r *Raffle) EntranceFee() *big.Int {
	return new(big.Int).Set(r.params.EntranceFee)
}

// Interval returns the minimum round duration in seconds.
func (r *Raffle) Interval() uint64 {
	return r.params.Interval
}

// RecentWinner returns the last paid winner, or the zero address.
func (r *Raffle) RecentWinner() common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pool.recentWinner
}

// PendingRequestID returns the outstanding request id, or nil while OPEN.
func (r *Raffle) PendingRequestID() *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pool.machine.Pending()
}

// Rounds returns the number of settled draws.
func (r *Raffle) Rounds() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pool.rounds
}

// ResumeRounds continues round numbering after settled rounds recorded by an
// earlier run. It only moves the counter forward.
func (r *Raffle) ResumeRounds(settled uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if settled > r.pool.rounds {
		r.pool.rounds = settled
	}
}

// NumWords returns the number of random words requested per draw.
func (r *Raffle) NumWords() uint32 {
	return NumWords
}

// RequestConfirmations returns the confirmations requested per draw.
func (r *Raffle) RequestConfirmations() uint16 {
	return RequestConfirmations
}
