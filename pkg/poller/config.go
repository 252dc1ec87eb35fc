package poller

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/hthome/hiot/pkg/metrics"
)

const (
	DefaultDeviceInterval = 20 * time.Second
	DefaultEnergyInterval = 30 * time.Minute
)

// Config holds the poll intervals.
type Config struct {
	DeviceInterval time.Duration
	EnergyInterval time.Duration
	Metrics        *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.DeviceInterval <= 0 {
		c.DeviceInterval = DefaultDeviceInterval
	}
	if c.EnergyInterval <= 0 {
		c.EnergyInterval = DefaultEnergyInterval
	}
	return c
}

// Validate checks the intervals.
func (c Config) Validate() error {
	if c.DeviceInterval < time.Second {
		return fmt.Errorf("device scan interval %s is below 1s", c.DeviceInterval)
	}
	if c.EnergyInterval < time.Minute {
		return fmt.Errorf("energy scan interval %s is below 1m", c.EnergyInterval)
	}
	return nil
}

// Configured registers the poll interval flags.
func Configured(m *metrics.Metrics) *Config {
	deviceInterval := lflag.Duration("device-scan-interval", DefaultDeviceInterval, "How often to refresh device state")
	energyInterval := lflag.Duration("energy-scan-interval", DefaultEnergyInterval, "How often to refresh energy usage, fee and goal")

	c := &Config{Metrics: m}

	lflag.Do(func() {
		c.DeviceInterval = *deviceInterval
		c.EnergyInterval = *energyInterval
		if err := c.Validate(); err != nil {
			panic(fmt.Sprintf("poller validation failed: %v", err))
		}
	})

	return c
}
