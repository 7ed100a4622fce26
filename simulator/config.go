package simulator

import (
	"fmt"
	"time"
)

// Config holds parameters for the simulator.
type Config struct {
	Seed int64
	// Interval is the spacing between two samples of one tank.
	Interval time.Duration
	// Steps is the number of samples per tank; 0 runs until cancelled.
	Steps          int
	ConsumptionLPH float64
	// RefillBelowPct triggers a delivery that tops the tank up to RefillToPct.
	RefillBelowPct float64
	RefillToPct    float64
	// NoiseCm is the standard deviation of the distance measurement.
	NoiseCm float64
	// SpikeRate is the probability that a sample is a transient outlier.
	SpikeRate float64
	// DropRate is the probability that a sample is never sent.
	DropRate float64
	// Profile scales consumption per hour of day. All zero means flat.
	Profile [24]float64
	// Realtime waits Interval on the clock between steps.
	Realtime bool
}

func (c *Config) SetDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	if c.ConsumptionLPH <= 0 {
		c.ConsumptionLPH = 40
	}
	if c.RefillBelowPct <= 0 {
		c.RefillBelowPct = 15
	}
	if c.RefillToPct <= 0 {
		c.RefillToPct = 90
	}
	flat := true
	for _, v := range c.Profile {
		if v != 0 {
			flat = false
			break
		}
	}
	if flat {
		for i := range c.Profile {
			c.Profile[i] = 1
		}
	}
}

func (c Config) Validate() error {
	if c.RefillToPct > 100 || c.RefillBelowPct >= c.RefillToPct {
		return fmt.Errorf("refill band [%v, %v] is invalid", c.RefillBelowPct, c.RefillToPct)
	}
	if c.SpikeRate < 0 || c.SpikeRate > 1 || c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("spike and drop rates must be within [0,1]")
	}
	if c.Steps < 0 {
		return fmt.Errorf("steps must not be negative")
	}
	return nil
}
