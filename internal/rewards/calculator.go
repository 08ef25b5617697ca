package rewards

import (
	"sync"
	"time"
)

const (
	// DefaultInitialRMC is the starting reward multiplier coefficient
	DefaultInitialRMC = 0.0000042
	minRMC            = 2e-12
	halvingPeriod     = 4 * 365 * 24 * time.Hour
)

// Calculator derives the per-installment reward from the remaining supply.
// The coefficient halves every four years and avidity follows the monthly
// contract registration trend.
type Calculator struct {
	mu          sync.Mutex
	rmc         float64
	nextHalving time.Time
	avidity     float64
	cpm         uint64
	lastCPM     uint64
	lastMonth   time.Month
	now         func() time.Time
}

// NewCalculator creates a calculator; now defaults to time.Now
func NewCalculator(initialRMC float64, now func() time.Time) *Calculator {
	if initialRMC <= 0 {
		initialRMC = DefaultInitialRMC
	}
	if now == nil {
		now = time.Now
	}
	current := now()
	return &Calculator{
		rmc:         initialRMC,
		nextHalving: current.Add(halvingPeriod),
		avidity:     1.0,
		lastMonth:   current.Month(),
		now:         now,
	}
}

// Reward returns the reward for one installment, never below minReward
func (c *Calculator) Reward(remainingSupply, minReward uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.now()
	if c.rmc >= minRMC && !current.Before(c.nextHalving) {
		c.rmc /= 2
		c.nextHalving = current.Add(halvingPeriod)
	}
	if current.Month() != c.lastMonth {
		c.adjustAvidity(current.Month())
	}

	reward := float64(remainingSupply) * c.rmc * c.avidity
	if reward < float64(minReward) {
		return minReward
	}
	return uint64(reward)
}

// RecordContract counts a successful reservation towards this month's trend
func (c *Calculator) RecordContract() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cpm++
}

// RMC returns the current coefficient
func (c *Calculator) RMC() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rmc
}

// Avidity returns the current avidity
func (c *Calculator) Avidity() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.avidity
}

func (c *Calculator) adjustAvidity(month time.Month) {
	avidity := c.avidity + 0.1
	if c.cpm > c.lastCPM {
		avidity = c.avidity - 0.1
	}
	if avidity > 1.0 {
		avidity = 1.0
	}
	if avidity < 0.1 {
		avidity = 0.1
	}
	c.avidity = avidity
	c.lastCPM = c.cpm
	c.cpm = 0
	c.lastMonth = month
}
