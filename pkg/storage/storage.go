package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hthome/hiot/pkg/hiot"
)

// DateLayout is the layout of snapshot dates and document ids.
const DateLayout = "2006-01-02"

var ErrSiteRequired = errors.New("siteID cannot be empty")

// EnergySnapshot is the monthly energy data as fetched on one day.
type EnergySnapshot struct {
	Date      string          `json:"date"`
	Energy    hiot.EnergyData `json:"energy"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Database persists energy snapshots. Credentials and session tokens are
// never stored.
type Database interface {
	// UpsertEnergy stores data as the snapshot for the day of date, replacing
	// an earlier snapshot of the same day.
	UpsertEnergy(ctx context.Context, siteID string, date time.Time, data hiot.EnergyData) error
	// GetEnergyHistory returns the snapshots from start through end, both
	// inclusive, ordered by date.
	GetEnergyHistory(ctx context.Context, siteID string, start, end time.Time) ([]EnergySnapshot, error)

	// Lifecycle
	Close() error
}

// noneProvider stores nothing. It is used when history is not wanted.
type noneProvider struct{}

var _ Database = noneProvider{}

func (noneProvider) UpsertEnergy(ctx context.Context, siteID string, date time.Time, data hiot.EnergyData) error {
	if siteID == "" {
		return ErrSiteRequired
	}
	return nil
}

func (noneProvider) GetEnergyHistory(ctx context.Context, siteID string, start, end time.Time) ([]EnergySnapshot, error) {
	if siteID == "" {
		return nil, ErrSiteRequired
	}
	return nil, nil
}

func (noneProvider) Close() error {
	return nil
}
