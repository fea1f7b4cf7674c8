// Package vrf provides a local verifiable-randomness coordinator mock that
// mirrors the request/fulfil protocol of a VRF v2 coordinator.
package vrf

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

// Mock deployment defaults.
var (
	DefaultBaseFee      = new(big.Int).Div(big.NewInt(1e18), big.NewInt(4)) // 0.25 LINK
	DefaultGasPriceLink = big.NewInt(1e9)                                   // LINK per gas
)

// Protocol limits.
const (
	MaxConsumers = 100
	MaxNumWords  = 500
)

// Request is a randomness request as submitted by a consumer contract.
type Request struct {
	KeyHash              common.Hash
	SubID                uint64
	RequestConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32
	Consumer             common.Address
}

// Consumer receives fulfilled randomness. caller is the coordinator address.
type Consumer interface {
	RawFulfillRandomWords(caller common.Address, requestID *big.Int, randomWords []*big.Int) error
}

// RequestedEvent is emitted when a request is accepted.
type RequestedEvent struct {
	RequestID *big.Int
	Request   Request
}

// Fulfillment describes the outcome of a fulfilment. Success is false when the
// consumer callback failed; the request is consumed and charged either way.
type Fulfillment struct {
	RequestID *big.Int
	Payment   *big.Int
	Success   bool
	Err       error
}

type subscription struct {
	balance   *big.Int
	consumers []common.Address
}

func (s *subscription) copy() *subscription {
	consumers := make([]common.Address, len(s.consumers))
	copy(consumers, s.consumers)
	return &subscription{
		balance:   new(big.Int).Set(s.balance),
		consumers: consumers,
	}
}

func (s *subscription) hasConsumer(addr common.Address) bool {
	for _, c := range s.consumers {
		if c == addr {
			return true
		}
	}
	return false
}

type pendingRequest struct {
	subID            uint64
	callbackGasLimit uint32
	numWords         uint32
	consumer         common.Address
}

type coordinatorState struct {
	subscriptions map[uint64]*subscription
	requests      map[string]pendingRequest
	nextSubID     uint64
	nextRequestID *big.Int
}

func (s *coordinatorState) copy() *coordinatorState {
	copied := &coordinatorState{
		subscriptions: make(map[uint64]*subscription, len(s.subscriptions)),
		requests:      make(map[string]pendingRequest, len(s.requests)),
		nextSubID:     s.nextSubID,
		nextRequestID: new(big.Int).Set(s.nextRequestID),
	}
	for id, sub := range s.subscriptions {
		copied.subscriptions[id] = sub.copy()
	}
	for id, req := range s.requests {
		copied.requests[id] = req
	}
	return copied
}

type stateSnapshot struct {
	id    int
	state *coordinatorState
}

// CoordinatorMock is an in-process VRF coordinator for local networks.
type CoordinatorMock struct {
	address      common.Address
	baseFee      *big.Int
	gasPriceLink *big.Int

	state     *coordinatorState
	contracts map[common.Address]Consumer

	snapshots  []stateSnapshot
	nextSnapID int

	requestedFeed event.Feed
	fulfilledFeed event.Feed

	mu sync.Mutex
}

// NewCoordinatorMock creates a coordinator deployed at address.
// Nil fees fall back to DefaultBaseFee and DefaultGasPriceLink.
func NewCoordinatorMock(address common.Address, baseFee, gasPriceLink *big.Int) *CoordinatorMock {
	if baseFee == nil {
		baseFee = DefaultBaseFee
	}
	if gasPriceLink == nil {
		gasPriceLink = DefaultGasPriceLink
	}

	return &CoordinatorMock{
		address:      address,
		baseFee:      new(big.Int).Set(baseFee),
		gasPriceLink: new(big.Int).Set(gasPriceLink),
		state: &coordinatorState{
			subscriptions: make(map[uint64]*subscription),
			requests:      make(map[string]pendingRequest),
			nextSubID:     1,
			nextRequestID: big.NewInt(1),
		},
		contracts: make(map[common.Address]Consumer),
	}
}

// Address returns the coordinator address consumers must trust.
func (c *CoordinatorMock) Address() common.Address {
	return c.address
}

// Attach binds the consumer contract living at addr so fulfilments can reach it.
func (c *CoordinatorMock) Attach(addr common.Address, consumer Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.contracts[addr] = consumer
}

// CreateSubscription creates an empty subscription and returns its ID.
func (c *CoordinatorMock) CreateSubscription() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.state.nextSubID
	c.state.subscriptions[id] = &subscription{balance: big.NewInt(0)}
	c.state.nextSubID++
	return id
}

// FundSubscription adds LINK to a subscription.
func (c *CoordinatorMock) FundSubscription(subID uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.state.subscriptions[subID]
	if !ok {
		return ErrInvalidSubscription
	}
	sub.balance = new(big.Int).Add(sub.balance, amount)
	return nil
}

// AddConsumer allows consumer to request randomness on subID.
func (c *CoordinatorMock) AddConsumer(subID uint64, consumer common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.state.subscriptions[subID]
	if !ok {
		return ErrInvalidSubscription
	}
	if sub.hasConsumer(consumer) {
		return nil
	}
	if len(sub.consumers) >= MaxConsumers {
		return ErrTooManyConsumers
	}
	sub.consumers = append(sub.consumers, consumer)
	return nil
}

// RemoveConsumer revokes consumer from subID.
func (c *CoordinatorMock) RemoveConsumer(subID uint64, consumer common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.state.subscriptions[subID]
	if !ok {
		return ErrInvalidSubscription
	}
	for i, addr := range sub.consumers {
		if addr == consumer {
			sub.consumers = append(sub.consumers[:i], sub.consumers[i+1:]...)
			return nil
		}
	}
	return ErrInvalidConsumer
}

// GetSubscription returns the balance and consumers of a subscription.
func (c *CoordinatorMock) GetSubscription(subID uint64) (*big.Int, []common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.state.subscriptions[subID]
	if !ok {
		return nil, nil, ErrInvalidSubscription
	}
	copied := sub.copy()
	return copied.balance, copied.consumers, nil
}

// RequestRandomWords records a request and returns its ID. IDs start at 1.
func (c *CoordinatorMock) RequestRandomWords(req Request) (*big.Int, error) {
	c.mu.Lock()

	sub, ok := c.state.subscriptions[req.SubID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrInvalidSubscription
	}
	if !sub.hasConsumer(req.Consumer) {
		c.mu.Unlock()
		return nil, ErrInvalidConsumer
	}
	if req.NumWords == 0 || req.NumWords > MaxNumWords {
		c.mu.Unlock()
		return nil, ErrNumWordsTooBig
	}

	requestID := new(big.Int).Set(c.state.nextRequestID)
	c.state.nextRequestID.Add(c.state.nextRequestID, big.NewInt(1))
	c.state.requests[requestID.String()] = pendingRequest{
		subID:            req.SubID,
		callbackGasLimit: req.CallbackGasLimit,
		numWords:         req.NumWords,
		consumer:         req.Consumer,
	}
	c.mu.Unlock()

	c.requestedFeed.Send(RequestedEvent{RequestID: new(big.Int).Set(requestID), Request: req})
	return requestID, nil
}

// PendingRequests returns the number of unfulfilled requests.
func (c *CoordinatorMock) PendingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.state.requests)
}

// FulfillRandomWords fulfils requestID for consumer with words derived as
// keccak256(abi.encode(requestID, i)).
func (c *CoordinatorMock) FulfillRandomWords(requestID *big.Int, consumer common.Address) (*Fulfillment, error) {
	return c.FulfillRandomWordsWithOverride(requestID, consumer, nil)
}

// FulfillRandomWordsWithOverride fulfils requestID with the given words, or
// with derived words when words is empty.
func (c *CoordinatorMock) FulfillRandomWordsWithOverride(requestID *big.Int, consumer common.Address, words []*big.Int) (*Fulfillment, error) {
	if requestID == nil {
		return nil, ErrNonexistentRequest
	}

	c.mu.Lock()
	req, ok := c.state.requests[requestID.String()]
	if !ok || req.consumer != consumer {
		c.mu.Unlock()
		return nil, ErrNonexistentRequest
	}

	if len(words) == 0 {
		words = DeriveRandomWords(requestID, req.numWords)
	} else if len(words) != int(req.numWords) || !validWords(words) {
		c.mu.Unlock()
		return nil, ErrInvalidRandomWords
	}

	payment := c.paymentLocked(req.callbackGasLimit)
	sub, ok := c.state.subscriptions[req.subID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrInvalidSubscription
	}
	if sub.balance.Cmp(payment) < 0 {
		c.mu.Unlock()
		return nil, ErrInsufficientBalance
	}

	target := c.contracts[consumer]
	sub.balance = new(big.Int).Sub(sub.balance, payment)
	delete(c.state.requests, requestID.String())
	c.mu.Unlock()

	result := &Fulfillment{
		RequestID: new(big.Int).Set(requestID),
		Payment:   payment,
		Success:   true,
	}

	if target == nil {
		result.Success = false
		result.Err = ErrNoConsumerContract
	} else if err := target.RawFulfillRandomWords(c.address, new(big.Int).Set(requestID), words); err != nil {
		result.Success = false
		result.Err = err
	}

	c.fulfilledFeed.Send(*result)
	return result, nil
}

// validWords reports whether every word fits a uint256.
func validWords(words []*big.Int) bool {
	for _, w := range words {
		if w == nil || w.Sign() < 0 || w.BitLen() > 256 {
			return false
		}
	}
	return true
}

// paymentLocked charges the base fee plus the whole callback gas budget.
func (c *CoordinatorMock) paymentLocked(callbackGasLimit uint32) *big.Int {
	gas := new(big.Int).SetUint64(uint64(callbackGasLimit))
	payment := new(big.Int).Mul(gas, c.gasPriceLink)
	return payment.Add(payment, c.baseFee)
}

// SubscribeRequested delivers every accepted request to ch.
func (c *CoordinatorMock) SubscribeRequested(ch chan<- RequestedEvent) event.Subscription {
	return c.requestedFeed.Subscribe(ch)
}

// SubscribeFulfilled delivers every fulfilment outcome to ch.
func (c *CoordinatorMock) SubscribeFulfilled(ch chan<- Fulfillment) event.Subscription {
	return c.fulfilledFeed.Subscribe(ch)
}

// Snapshot records subscriptions and pending requests for revert.
func (c *CoordinatorMock) Snapshot() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := stateSnapshot{id: c.nextSnapID, state: c.state.copy()}
	c.snapshots = append(c.snapshots, snap)
	c.nextSnapID++
	return snap.id
}

// RevertToSnapshot restores the state recorded by id and drops later snapshots.
func (c *CoordinatorMock) RevertToSnapshot(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, snap := range c.snapshots {
		if snap.id == id {
			c.state = snap.state.copy()
			c.snapshots = c.snapshots[:i]
			return
		}
	}
}

// DeriveRandomWords computes the mock's deterministic words for requestID.
func DeriveRandomWords(requestID *big.Int, numWords uint32) []*big.Int {
	words := make([]*big.Int, numWords)
	idBytes := common.BigToHash(requestID).Bytes()
	for i := uint32(0); i < numWords; i++ {
		index := common.BigToHash(new(big.Int).SetUint64(uint64(i))).Bytes()
		words[i] = new(big.Int).SetBytes(crypto.Keccak256(idBytes, index))
	}
	return words
}
