package raffle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Event topics, keccak256 of the event signatures.
var (
	RaffleEnterTopic           = crypto.Keccak256Hash([]byte("RaffleEnter(address)"))
	RequestedRaffleWinnerTopic = crypto.Keccak256Hash([]byte("RequestedRaffleWinner(uint256)"))
	WinnerPickedTopic          = crypto.Keccak256Hash([]byte("WinnerPicked(address)"))
)

// EnterEvent is emitted for every accepted entry.
type EnterEvent struct {
	Player    common.Address
	Amount    *big.Int
	Timestamp uint64
}

// Log encodes the event with the player as indexed topic and the amount as data.
func (e EnterEvent) Log(contract common.Address) *types.Log {
	return &types.Log{
		Address: contract,
		Topics:  []common.Hash{RaffleEnterTopic, common.BytesToHash(e.Player.Bytes())},
		Data:    common.BigToHash(e.Amount).Bytes(),
	}
}

// DrawRequestedEvent is emitted when a randomness request is issued.
type DrawRequestedEvent struct {
	RequestID *big.Int
	Timestamp uint64
}

// Log encodes the event with the request id as indexed topic.
func (e DrawRequestedEvent) Log(contract common.Address) *types.Log {
	return &types.Log{
		Address: contract,
		Topics:  []common.Hash{RequestedRaffleWinnerTopic, common.BigToHash(e.RequestID)},
	}
}

// WinnerPickedEvent is emitted after a successful payout.
type WinnerPickedEvent struct {
	Winner    common.Address
	Amount    *big.Int
	RequestID *big.Int
	Round     uint64
	Timestamp uint64
}

// Log encodes the event with the winner as indexed topic and the prize as data.
func (e WinnerPickedEvent) Log(contract common.Address) *types.Log {
	return &types.Log{
		Address: contract,
		Topics:  []common.Hash{WinnerPickedTopic, common.BytesToHash(e.Winner.Bytes())},
		Data:    common.BigToHash(e.Amount).Bytes(),
	}
}
