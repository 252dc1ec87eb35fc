package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hthome/hiot/pkg/hiot"
	"github.com/hthome/hiot/pkg/log"
	"github.com/hthome/hiot/pkg/metrics"
)

const (
	loopDevices = "devices"
	loopEnergy  = "energy"
)

// API is the part of *hiot.Client the poller needs.
type API interface {
	ListDevices(ctx context.Context) ([]hiot.Device, error)
	ListDeviceStates(ctx context.Context) (hiot.DeviceStates, error)
	AllEnergyData(ctx context.Context, date string) hiot.EnergyData
}

// DeviceSink receives every successful device state snapshot.
type DeviceSink interface {
	PublishDeviceStates(ctx context.Context, siteID string, devices []hiot.Device, states hiot.DeviceStates) error
}

// EnergySink receives every energy snapshot.
type EnergySink interface {
	PublishEnergy(ctx context.Context, siteID string, at time.Time, data hiot.EnergyData) error
}

// EnergySinkFunc adapts a function to EnergySink.
type EnergySinkFunc func(ctx context.Context, siteID string, at time.Time, data hiot.EnergyData) error

// PublishEnergy calls f.
func (f EnergySinkFunc) PublishEnergy(ctx context.Context, siteID string, at time.Time, data hiot.EnergyData) error {
	return f(ctx, siteID, at, data)
}

// Poller periodically refreshes device state and energy data for one site
// and keeps the latest snapshots in memory.
type Poller struct {
	api            API
	siteID         string
	deviceInterval time.Duration
	energyInterval time.Duration
	metrics        *metrics.Metrics
	now            func() time.Time
	refresh        chan struct{}

	deviceSinks []DeviceSink
	energySinks []EnergySink

	mu               sync.RWMutex
	devices          []hiot.Device
	states           hiot.DeviceStates
	energy           hiot.EnergyData
	lastDeviceUpdate time.Time
	lastEnergyUpdate time.Time
}

// New returns a Poller for siteID. Sinks must be added before Run.
func New(api API, siteID string, cfg Config) *Poller {
	cfg = cfg.withDefaults()
	return &Poller{
		api:            api,
		siteID:         siteID,
		deviceInterval: cfg.DeviceInterval,
		energyInterval: cfg.EnergyInterval,
		metrics:        cfg.Metrics,
		now:            time.Now,
		refresh:        make(chan struct{}, 1),
	}
}

// AddDeviceSink registers s for device snapshots.
func (p *Poller) AddDeviceSink(s DeviceSink) {
	p.deviceSinks = append(p.deviceSinks, s)
}

// AddEnergySink registers s for energy snapshots.
func (p *Poller) AddEnergySink(s EnergySink) {
	p.energySinks = append(p.energySinks, s)
}

// Run polls until ctx is done. It returns an error only when the hiot
// session cannot be recovered, since that needs new credentials.
func (p *Poller) Run(ctx context.Context) error {
	ctx = log.WithAttrs(ctx, slog.String("siteID", p.siteID))
	log.Ctx(ctx).InfoContext(
		ctx,
		"starting poller",
		slog.Duration("deviceInterval", p.deviceInterval),
		slog.Duration("energyInterval", p.energyInterval),
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return p.loop(ctx, loopDevices, p.deviceInterval, p.refresh, p.RefreshDevices)
	})
	eg.Go(func() error {
		return p.loop(ctx, loopEnergy, p.energyInterval, nil, p.RefreshEnergy)
	})
	return eg.Wait()
}

func (p *Poller) loop(ctx context.Context, name string, interval time.Duration, trigger <-chan struct{}, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, hiot.ErrAuth) {
				log.Ctx(ctx).ErrorContext(ctx, "hiot authentication failed, stopping poller", slog.String("loop", name), slog.Any("error", err))
				return err
			}
			if ctx.Err() == nil {
				log.Ctx(ctx).WarnContext(ctx, "poll failed, keeping previous data", slog.String("loop", name), slog.Any("error", err))
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-trigger:
		}
	}
}

// Refresh asks the device loop to poll now. It never blocks.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// RefreshDevices fetches the device catalog on first use and then the bulk
// device state. On error the previous snapshot is kept.
func (p *Poller) RefreshDevices(ctx context.Context) error {
	p.mu.RLock()
	haveCatalog := p.devices != nil
	p.mu.RUnlock()

	var devices []hiot.Device
	if !haveCatalog {
		var err error
		devices, err = p.api.ListDevices(ctx)
		if err != nil {
			p.metrics.PollResult(loopDevices, err, p.now())
			return err
		}
		log.Ctx(ctx).InfoContext(ctx, "loaded device catalog", slog.Int("devices", len(devices)))
	}

	states, err := p.api.ListDeviceStates(ctx)
	now := p.now()
	p.metrics.PollResult(loopDevices, err, now)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if devices != nil {
		p.devices = devices
	}
	p.states = states
	p.lastDeviceUpdate = now
	catalog := p.devices
	p.mu.Unlock()

	for _, s := range p.deviceSinks {
		if err := s.PublishDeviceStates(ctx, p.siteID, catalog, states); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish device states", slog.Any("error", err))
		}
	}
	return nil
}

// RefreshEnergy fetches the current month's energy data. Individual failures
// are handled by the client so this always produces a snapshot.
func (p *Poller) RefreshEnergy(ctx context.Context) error {
	now := p.now()
	data := p.api.AllEnergyData(ctx, now.Format("2006-01-02"))
	if err := ctx.Err(); err != nil {
		return err
	}
	p.metrics.PollResult(loopEnergy, nil, now)

	p.mu.Lock()
	p.energy = data
	p.lastEnergyUpdate = now
	p.mu.Unlock()

	for _, s := range p.energySinks {
		if err := s.PublishEnergy(ctx, p.siteID, now, data); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish energy data", slog.Any("error", err))
		}
	}
	return nil
}

// SiteID returns the site being polled.
func (p *Poller) SiteID() string {
	return p.siteID
}

// Devices returns the device catalog. The result must not be modified.
func (p *Poller) Devices() []hiot.Device {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.devices
}

// DeviceStates returns the latest bulk snapshot, or nil before the first
// successful poll. The result must not be modified.
func (p *Poller) DeviceStates() hiot.DeviceStates {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.states
}

// Energy returns the latest energy snapshot. The result must not be
// modified.
func (p *Poller) Energy() hiot.EnergyData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.energy
}

// LastUpdate returns when device state was last refreshed.
func (p *Poller) LastUpdate() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastDeviceUpdate
}

// LastEnergyUpdate returns when energy data was last refreshed.
func (p *Poller) LastEnergyUpdate() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastEnergyUpdate
}
