package rpc

import (
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/itachi47/hardhat-lottery-backend/pkg/history"
)

// UpkeepResult is the raffle_checkUpkeep result.
type UpkeepResult struct {
	UpkeepNeeded bool          `json:"upkeepNeeded"`
	PerformData  hexutil.Bytes `json:"performData"`
	IsOpen       bool          `json:"isOpen"`
	TimePassed   bool          `json:"timePassed"`
	HasBalance   bool          `json:"hasBalance"`
	HasPlayers   bool          `json:"hasPlayers"`
}

// RaffleInfo is the raffle_getInfo result.
type RaffleInfo struct {
	Address              common.Address `json:"address"`
	Coordinator          common.Address `json:"vrfCoordinatorV2"`
	SubscriptionID       hexutil.Uint64 `json:"subscriptionId"`
	GasLane              common.Hash    `json:"gasLane"`
	CallbackGasLimit     hexutil.Uint64 `json:"callbackGasLimit"`
	EntranceFee          *hexutil.Big   `json:"entranceFee"`
	Interval             hexutil.Uint64 `json:"interval"`
	State                string         `json:"raffleState"`
	NumberOfPlayers      hexutil.Uint64 `json:"numberOfPlayers"`
	Balance              *hexutil.Big   `json:"balance"`
	LastTimeStamp        hexutil.Uint64 `json:"lastTimeStamp"`
	RecentWinner         common.Address `json:"recentWinner"`
	PendingRequestID     *hexutil.Big   `json:"pendingRequestId"`
	Rounds               hexutil.Uint64 `json:"rounds"`
	NumWords             hexutil.Uint64 `json:"numWords"`
	RequestConfirmations hexutil.Uint64 `json:"requestConfirmations"`
}

// FulfillmentResult is the vrf_fulfillRandomWords result.
type FulfillmentResult struct {
	RequestID *hexutil.Big `json:"requestId"`
	Payment   *hexutil.Big `json:"payment"`
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`
}

// SubscriptionResult is the vrf_getSubscription result.
type SubscriptionResult struct {
	SubID     hexutil.Uint64   `json:"subId"`
	Balance   *hexutil.Big     `json:"balance"`
	Consumers []common.Address `json:"consumers"`
}

const defaultHistoryLimit = 10

// raffle_enterRaffle enters the raffle with a transaction-like object
// {"from": address, "value": quantity}.
func (s *Server) raffleEnterRaffle(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	tx, ok := args[0].(map[string]interface{})
	if !ok {
		return nil, invalidParams("Invalid transaction object")
	}

	from, ok := parseAddress(tx["from"])
	if !ok {
		return nil, invalidParams("Invalid from address")
	}

	value := new(big.Int)
	if v, present := tx["value"]; present {
		value, ok = parseBig(v)
		if !ok {
			return nil, invalidParams("Invalid value")
		}
	}

	if err := s.backend.EnterRaffle(from, value); err != nil {
		return nil, toErrorObject(err)
	}

	return map[string]interface{}{
		"player":          from.Hex(),
		"numberOfPlayers": hexutil.EncodeUint64(uint64(s.backend.Raffle().NumberOfPlayers())),
	}, nil
}

// raffle_checkUpkeep reports whether a draw may start now.
func (s *Server) raffleCheckUpkeep() (interface{}, *ErrorObject) {
	status := s.backend.UpkeepStatus()
	return &UpkeepResult{
		UpkeepNeeded: status.Needed(),
		PerformData:  hexutil.Bytes{},
		IsOpen:       status.Open,
		TimePassed:   status.TimePassed,
		HasBalance:   status.HasBalance,
		HasPlayers:   status.HasPlayers,
	}, nil
}

// raffle_performUpkeep starts a draw and returns the request id.
func (s *Server) rafflePerformUpkeep() (interface{}, *ErrorObject) {
	requestID, err := s.backend.PerformUpkeep()
	if err != nil {
		return nil, toErrorObject(err)
	}
	return hexutil.EncodeBig(requestID), nil
}

// raffle_getPlayer returns the entrant at index.
func (s *Server) raffleGetPlayer(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	index, ok := parseUint64(args[0])
	if !ok {
		return nil, invalidParams("Invalid index")
	}

	player, err := s.backend.Raffle().Player(index)
	if err != nil {
		return nil, toErrorObject(err)
	}
	return player.Hex(), nil
}

// raffle_getInfo returns every public field of the raffle at once.
func (s *Server) raffleGetInfo() (interface{}, *ErrorObject) {
	r := s.backend.Raffle()

	info := &RaffleInfo{
		Address:              r.Address(),
		Coordinator:          r.CoordinatorAddress(),
		SubscriptionID:       hexutil.Uint64(r.SubscriptionID()),
		GasLane:              r.GasLane(),
		CallbackGasLimit:     hexutil.Uint64(r.CallbackGasLimit()),
		EntranceFee:          (*hexutil.Big)(r.EntranceFee()),
		Interval:             hexutil.Uint64(r.Interval()),
		State:                r.RaffleState().String(),
		NumberOfPlayers:      hexutil.Uint64(r.NumberOfPlayers()),
		Balance:              (*hexutil.Big)(r.Balance()),
		LastTimeStamp:        hexutil.Uint64(r.LastTimeStamp()),
		RecentWinner:         r.RecentWinner(),
		Rounds:               hexutil.Uint64(r.Rounds()),
		NumWords:             hexutil.Uint64(r.NumWords()),
		RequestConfirmations: hexutil.Uint64(r.RequestConfirmations()),
	}
	if id := r.PendingRequestID(); id != nil {
		info.PendingRequestID = (*hexutil.Big)(id)
	}
	return info, nil
}

// raffle_getLogs returns raffle logs starting at an optional log index.
func (s *Server) raffleGetLogs(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var from uint64
	if len(args) > 0 {
		var ok bool
		from, ok = parseUint64(args[0])
		if !ok {
			return nil, invalidParams("Invalid log index")
		}
	}

	return s.backend.Raffle().Logs(from), nil
}

// raffle_getHistory returns settled rounds, newest first.
func (s *Server) raffleGetHistory(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	limit := defaultHistoryLimit
	if len(args) > 0 {
		n, ok := parseUint64(args[0])
		if !ok || n == 0 {
			return nil, invalidParams("Invalid limit")
		}
		limit = int(n)
	}

	records, err := s.backend.History(limit)
	if err != nil {
		return nil, toErrorObject(err)
	}
	return records, nil
}

// raffle_getRound returns one settled round, or null if it was never recorded.
func (s *Server) raffleGetRound(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	round, ok := parseUint64(args[0])
	if !ok || round == 0 {
		return nil, invalidParams("Invalid round")
	}

	rec, err := s.backend.HistoryRound(round)
	if errors.Is(err, history.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, toErrorObject(err)
	}
	return rec, nil
}

// vrf_fulfillRandomWords answers a pending request, optionally with explicit
// random words.
func (s *Server) vrfFulfillRandomWords(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	requestID, ok := parseBig(args[0])
	if !ok {
		return nil, invalidParams("Invalid request ID")
	}

	var words []*big.Int
	if len(args) > 1 && args[1] != nil {
		list, ok := args[1].([]interface{})
		if !ok {
			return nil, invalidParams("Invalid random words")
		}
		for _, w := range list {
			word, ok := parseBig(w)
			if !ok {
				return nil, invalidParams("Invalid random word")
			}
			words = append(words, word)
		}
	}

	result, err := s.backend.FulfillRandomWords(requestID, words)
	if err != nil {
		return nil, toErrorObject(err)
	}

	out := &FulfillmentResult{
		RequestID: (*hexutil.Big)(result.RequestID),
		Payment:   (*hexutil.Big)(result.Payment),
		Success:   result.Success,
	}
	if result.Err != nil {
		out.Error = result.Err.Error()
	}
	return out, nil
}

// vrf_getSubscription returns a subscription, defaulting to the raffle's.
func (s *Server) vrfGetSubscription(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	subID := s.backend.Raffle().SubscriptionID()
	if len(args) > 0 {
		var ok bool
		subID, ok = parseUint64(args[0])
		if !ok {
			return nil, invalidParams("Invalid subscription ID")
		}
	}

	balance, consumers, err := s.backend.Coordinator().GetSubscription(subID)
	if err != nil {
		return nil, toErrorObject(err)
	}
	return &SubscriptionResult{
		SubID:     hexutil.Uint64(subID),
		Balance:   (*hexutil.Big)(balance),
		Consumers: consumers,
	}, nil
}

// vrf_fundSubscription adds LINK to a subscription.
func (s *Server) vrfFundSubscription(params json.RawMessage) (interface{}, *ErrorObject) {
	args, rpcErr := parseArgs(params, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}

	subID, ok := parseUint64(args[0])
	if !ok {
		return nil, invalidParams("Invalid subscription ID")
	}
	amount, ok := parseBig(args[1])
	if !ok {
		return nil, invalidParams("Invalid amount")
	}

	if err := s.backend.FundSubscription(subID, amount); err != nil {
		return nil, toErrorObject(err)
	}
	return true, nil
}
