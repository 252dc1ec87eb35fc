package server

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/hthome/hiot/pkg/hiot"
	"github.com/hthome/hiot/pkg/log"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) Authenticated() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockAPI) Households(ctx context.Context) ([]hiot.Household, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]hiot.Household), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPI) DeviceState(ctx context.Context, category, deviceID string) (map[string]any, error) {
	args := m.Called(ctx, category, deviceID)
	if v := args.Get(0); v != nil {
		return v.(map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPI) ControlDevice(ctx context.Context, category, deviceID string, commands []hiot.Status) (map[string]any, error) {
	args := m.Called(ctx, category, deviceID, commands)
	if v := args.Get(0); v != nil {
		return v.(map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}

type fakeSnapshots struct {
	siteID     string
	devices    []hiot.Device
	states     hiot.DeviceStates
	energy     hiot.EnergyData
	lastUpdate time.Time
	lastEnergy time.Time
	refreshes  atomic.Int32
}

func (f *fakeSnapshots) SiteID() string                  { return f.siteID }
func (f *fakeSnapshots) Devices() []hiot.Device          { return f.devices }
func (f *fakeSnapshots) DeviceStates() hiot.DeviceStates { return f.states }
func (f *fakeSnapshots) Energy() hiot.EnergyData         { return f.energy }
func (f *fakeSnapshots) LastUpdate() time.Time           { return f.lastUpdate }
func (f *fakeSnapshots) LastEnergyUpdate() time.Time     { return f.lastEnergy }
func (f *fakeSnapshots) Refresh()                        { f.refreshes.Add(1) }
