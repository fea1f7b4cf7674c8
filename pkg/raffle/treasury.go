package raffle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Treasury accumulates entry payments until a winner is paid.
type Treasury struct {
	entranceFee *big.Int
	balance     *big.Int
}

// NewTreasury creates an empty treasury with the given minimum payment.
func NewTreasury(entranceFee *big.Int) *Treasury {
	return &Treasury{
		entranceFee: new(big.Int).Set(entranceFee),
		balance:     big.NewInt(0),
	}
}

// EntranceFee returns the minimum accepted payment.
func (t *Treasury) EntranceFee() *big.Int {
	return new(big.Int).Set(t.entranceFee)
}

// Balance returns the held amount.
func (t *Treasury) Balance() *big.Int {
	return new(big.Int).Set(t.balance)
}

// Accepts reports whether amount covers the entrance fee.
func (t *Treasury) Accepts(amount *big.Int) bool {
	return amount != nil && amount.Cmp(t.entranceFee) >= 0
}

// Deposit adds a payment of at least the entrance fee. Overpayment is kept whole.
func (t *Treasury) Deposit(amount *big.Int) error {
	if !t.Accepts(amount) {
		return ErrInsufficientPayment
	}
	t.balance = new(big.Int).Add(t.balance, amount)
	return nil
}

// Payout zeroes the balance and only then hands the whole amount to send.
// The balance stays zero when send fails; restoring it is up to the caller.
func (t *Treasury) Payout(recipient common.Address, send func(common.Address, *big.Int) error) (*big.Int, error) {
	if t.balance.Sign() == 0 {
		return nil, ErrEmptyTreasury
	}

	amount := t.balance
	t.balance = big.NewInt(0)

	if err := send(recipient, new(big.Int).Set(amount)); err != nil {
		return nil, err
	}
	return amount, nil
}

func (t *Treasury) copy() *Treasury {
	return &Treasury{
		entranceFee: new(big.Int).Set(t.entranceFee),
		balance:     new(big.Int).Set(t.balance),
	}
}
