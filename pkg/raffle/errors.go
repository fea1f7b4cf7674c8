package raffle

import (
	"errors"
	"fmt"
	"math/big"
)

// Raffle errors.
var (
	ErrInsufficientPayment = errors.New("raffle: not enough value to enter")
	ErrRaffleNotOpen       = errors.New("raffle: not open")
	ErrUpkeepNotNeeded     = errors.New("raffle: upkeep not needed")
	ErrTransferFailed      = errors.New("raffle: transfer failed")
	ErrUnknownRequest      = errors.New("raffle: unknown request")
	ErrOnlyCoordinator     = errors.New("raffle: only coordinator can fulfill")
	ErrIndexOutOfRange     = errors.New("raffle: player index out of range")
	ErrNoPlayers           = errors.New("raffle: no players")
	ErrEmptyTreasury       = errors.New("raffle: treasury is empty")
	ErrInvalidRandomness   = errors.New("raffle: invalid random words")
	ErrInvalidParams       = errors.New("raffle: invalid parameters")
)

// UpkeepNotNeededError carries the pool figures that made upkeep unnecessary.
type UpkeepNotNeededError struct {
	Balance    *big.Int
	NumPlayers int
	State      Phase
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("%s (balance=%s, players=%d, state=%s)",
		ErrUpkeepNotNeeded, e.Balance, e.NumPlayers, e.State)
}

// Is reports whether target is ErrUpkeepNotNeeded.
func (e *UpkeepNotNeededError) Is(target error) bool {
	return target == ErrUpkeepNotNeeded
}
