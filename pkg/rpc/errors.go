package rpc

import (
	"errors"

	"github.com/itachi47/hardhat-lottery-backend/pkg/ledger"
	"github.com/itachi47/hardhat-lottery-backend/pkg/raffle"
	"github.com/itachi47/hardhat-lottery-backend/pkg/vrf"
)

// JSON-RPC error codes.
const (
	ErrCodeExecutionReverted = 3
	ErrCodeParseError        = -32700
	ErrCodeInvalidRequest    = -32600
	ErrCodeMethodNotFound    = -32601
	ErrCodeInvalidParams     = -32602
	ErrCodeInternal          = -32603
)

// Revert reasons, named after the contract's custom errors so existing
// client assertions keep matching.
var revertReasons = []struct {
	err    error
	reason string
}{
	{raffle.ErrInsufficientPayment, "Raffle__NotEnoughETHEntered"},
	{raffle.ErrRaffleNotOpen, "Raffle__RaffleNotOpen"},
	{raffle.ErrUpkeepNotNeeded, "Raffle__UpkeepNotNeeded"},
	{raffle.ErrTransferFailed, "Raffle__TransferFailed"},
	{raffle.ErrOnlyCoordinator, "OnlyCoordinatorCanFulfill"},
	{vrf.ErrNonexistentRequest, "nonexistent request"},
}

func invalidParams(message string) *ErrorObject {
	return &ErrorObject{Code: ErrCodeInvalidParams, Message: message}
}

func internalError(err error) *ErrorObject {
	return &ErrorObject{Code: ErrCodeInternal, Message: err.Error()}
}

// toErrorObject maps a backend failure to a JSON-RPC error. Failures of the
// simulated contracts become execution reverts.
func toErrorObject(err error) *ErrorObject {
	for _, r := range revertReasons {
		if errors.Is(err, r.err) {
			msg := r.reason
			if detail := err.Error(); detail != r.reason {
				msg += " (" + detail + ")"
			}
			return &ErrorObject{Code: ErrCodeExecutionReverted, Message: "execution reverted: " + msg}
		}
	}

	if isContractError(err) {
		return &ErrorObject{Code: ErrCodeExecutionReverted, Message: "execution reverted: " + err.Error()}
	}
	return internalError(err)
}

func isContractError(err error) bool {
	contract := []error{
		raffle.ErrUnknownRequest,
		raffle.ErrIndexOutOfRange,
		raffle.ErrNoPlayers,
		raffle.ErrEmptyTreasury,
		raffle.ErrInvalidRandomness,
		vrf.ErrInvalidSubscription,
		vrf.ErrInvalidConsumer,
		vrf.ErrInsufficientBalance,
		vrf.ErrInvalidAmount,
		vrf.ErrInvalidRandomWords,
		ledger.ErrInsufficientFunds,
		ledger.ErrNegativeAmount,
	}
	for _, target := range contract {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
