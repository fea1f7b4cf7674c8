package raffle

// DrawClock measures the time since the last settlement.
type DrawClock struct {
	lastSettledAt uint64
	interval      uint64
}

// NewDrawClock starts a clock at now.
func NewDrawClock(now, interval uint64) *DrawClock {
	return &DrawClock{lastSettledAt: now, interval: interval}
}

// Elapsed reports whether at least interval seconds passed since the last settlement.
func (c *DrawClock) Elapsed(now uint64) bool {
	return now >= c.lastSettledAt && now-c.lastSettledAt >= c.interval
}

// Reset restarts the interval at now.
func (c *DrawClock) Reset(now uint64) {
	c.lastSettledAt = now
}

// LastSettledAt returns the timestamp of the last settlement or of deployment.
func (c *DrawClock) LastSettledAt() uint64 {
	return c.lastSettledAt
}

// Interval returns the minimum round duration in seconds.
func (c *DrawClock) Interval() uint64 {
	return c.interval
}

func (c *DrawClock) copy() *DrawClock {
	copied := *c
	return &copied
}
