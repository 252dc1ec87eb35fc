package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hthome/hiot/pkg/hiot"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	updated := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  randDB,
		now:       func() time.Time { return updated },
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("EmptySiteID", func(t *testing.T) {
		_, err := f.GetEnergyHistory(ctx, "", time.Now(), time.Now())
		assert.ErrorIs(t, err, ErrSiteRequired)
	})

	t.Run("Energy History", func(t *testing.T) {
		day := func(d int) time.Time { return time.Date(2024, 6, d, 9, 30, 0, 0, time.UTC) }
		record := func(usage string) hiot.EnergyData {
			return hiot.EnergyData{
				hiot.EnergyElectric: {
					Usage: map[string]any{"usage": usage},
					Fee:   map[string]any{},
					Goal:  map[string]any{},
				},
			}
		}

		require.NoError(t, f.UpsertEnergy(ctx, "test-site", day(13), record("13")))
		require.NoError(t, f.UpsertEnergy(ctx, "test-site", day(14), record("14")))
		require.NoError(t, f.UpsertEnergy(ctx, "test-site", day(15), record("15a")))
		// same day replaces
		require.NoError(t, f.UpsertEnergy(ctx, "test-site", day(15), record("15b")))

		history, err := f.GetEnergyHistory(ctx, "test-site", day(14), day(15))
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "2024-06-14", history[0].Date)
		assert.Equal(t, "2024-06-15", history[1].Date)
		assert.Equal(t, "15b", history[1].Energy[hiot.EnergyElectric].Usage["usage"])
		assert.True(t, updated.Equal(history[1].UpdatedAt))

		snap, found, err := f.GetEnergySnapshot(ctx, "test-site", day(13))
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "13", snap.Energy[hiot.EnergyElectric].Usage["usage"])

		_, found, err = f.GetEnergySnapshot(ctx, "test-site", day(1))
		require.NoError(t, err)
		assert.False(t, found)
	})
}
