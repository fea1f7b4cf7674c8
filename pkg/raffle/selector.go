package raffle

import "math/big"

// SelectWinner maps a random word onto an entry index as random mod count.
func SelectWinner(random *big.Int, count int) (uint64, error) {
	if count <= 0 {
		return 0, ErrNoPlayers
	}
	if random == nil || random.Sign() < 0 {
		return 0, ErrInvalidRandomness
	}

	idx := new(big.Int).Mod(random, big.NewInt(int64(count)))
	return idx.Uint64(), nil
}
