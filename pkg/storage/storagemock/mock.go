package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/hthome/hiot/pkg/hiot"
	"github.com/hthome/hiot/pkg/storage"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) UpsertEnergy(ctx context.Context, siteID string, date time.Time, data hiot.EnergyData) error {
	args := m.Called(ctx, siteID, date, data)
	return args.Error(0)
}

func (m *MockDatabase) GetEnergyHistory(ctx context.Context, siteID string, start, end time.Time) ([]storage.EnergySnapshot, error) {
	args := m.Called(ctx, siteID, start, end)
	if v := args.Get(0); v != nil {
		return v.([]storage.EnergySnapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
