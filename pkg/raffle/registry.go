package raffle

import "github.com/ethereum/go-ethereum/common"

// Registry is the ordered list of entries for the current round.
// A participant appears once per entry.
type Registry struct {
	players []common.Address
}

// Add appends an entry.
func (r *Registry) Add(player common.Address) {
	r.players = append(r.players, player)
}

// Get returns the entry at index.
func (r *Registry) Get(index uint64) (common.Address, error) {
	if index >= uint64(len(r.players)) {
		return common.Address{}, ErrIndexOutOfRange
	}
	return r.players[index], nil
}

// Count returns the number of entries.
func (r *Registry) Count() int {
	return len(r.players)
}

// Players returns a copy of the entries in insertion order.
func (r *Registry) Players() []common.Address {
	players := make([]common.Address, len(r.players))
	copy(players, r.players)
	return players
}

// Clear empties the registry.
func (r *Registry) Clear() {
	r.players = nil
}

func (r *Registry) copy() *Registry {
	return &Registry{players: r.Players()}
}
