package raffle

// UpkeepStatus breaks down the draw-readiness predicate.
type UpkeepStatus struct {
	Open       bool
	TimePassed bool
	HasBalance bool
	HasPlayers bool
}

// Needed reports whether every condition holds.
func (s UpkeepStatus) Needed() bool {
	return s.Open && s.TimePassed && s.HasBalance && s.HasPlayers
}

// evaluateUpkeep is a pure function of the pool and the supplied time.
func evaluateUpkeep(p *pool, now uint64) UpkeepStatus {
	return UpkeepStatus{
		Open:       p.machine.Phase() == PhaseOpen,
		TimePassed: p.clock.Elapsed(now),
		HasBalance: p.treasury.balance.Sign() > 0,
		HasPlayers: p.registry.Count() > 0,
	}
}
