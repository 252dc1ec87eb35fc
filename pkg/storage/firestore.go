package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hthome/hiot/pkg/hiot"
	"github.com/hthome/hiot/pkg/log"
)

const energyHistoryCollection = "energy_history"

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Snapshots live under sites/{siteID}/energy_history with the date
// as the document id.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	now       func() time.Time
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{now: time.Now}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project id is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	if f.now == nil {
		f.now = time.Now
	}
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(siteID, name string) (*firestore.CollectionRef, error) {
	if siteID == "" {
		return nil, ErrSiteRequired
	}
	return f.client.Collection("sites").Doc(siteID).Collection(name), nil
}

// UpsertEnergy stores the snapshot for the day of date.
func (f *FirestoreProvider) UpsertEnergy(ctx context.Context, siteID string, date time.Time, data hiot.EnergyData) error {
	if date.IsZero() {
		return fmt.Errorf("energy snapshot missing date")
	}
	snapshot := EnergySnapshot{
		Date:      date.Format(DateLayout),
		Energy:    data,
		UpdatedAt: f.now().UTC(),
	}
	jsonBytes, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal energy snapshot: %w", err)
	}

	coll, err := f.getCollection(siteID, energyHistoryCollection)
	if err != nil {
		return err
	}
	_, err = coll.Doc(snapshot.Date).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"updatedAt": snapshot.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert energy snapshot: %w", err)
	}
	return nil
}

// GetEnergySnapshot returns the snapshot stored for the day of date. found is
// false when there is none.
func (f *FirestoreProvider) GetEnergySnapshot(ctx context.Context, siteID string, date time.Time) (EnergySnapshot, bool, error) {
	coll, err := f.getCollection(siteID, energyHistoryCollection)
	if err != nil {
		return EnergySnapshot{}, false, err
	}
	doc, err := coll.Doc(date.Format(DateLayout)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return EnergySnapshot{}, false, nil
		}
		return EnergySnapshot{}, false, fmt.Errorf("failed to fetch energy snapshot: %w", err)
	}
	s, err := decodeSnapshot(ctx, siteID, doc)
	if err != nil {
		return EnergySnapshot{}, false, err
	}
	return s, true, nil
}

// GetEnergyHistory retrieves the snapshots from start through end.
func (f *FirestoreProvider) GetEnergyHistory(ctx context.Context, siteID string, start, end time.Time) ([]EnergySnapshot, error) {
	startDocID := start.Format(DateLayout)
	endDocID := end.Format(DateLayout)

	coll, err := f.getCollection(siteID, energyHistoryCollection)
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<=", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var snapshots []EnergySnapshot
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating energy history: %w", err)
		}
		s, err := decodeSnapshot(ctx, siteID, doc)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

func decodeSnapshot(ctx context.Context, siteID string, doc *firestore.DocumentSnapshot) (EnergySnapshot, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "energy snapshot doc missing json", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID), slog.Any("error", err))
		return EnergySnapshot{}, fmt.Errorf("energy snapshot doc %s missing 'json' field: %w", doc.Ref.ID, err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "energy snapshot doc json not string", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID))
		return EnergySnapshot{}, fmt.Errorf("energy snapshot doc %s 'json' field is not string", doc.Ref.ID)
	}

	var s EnergySnapshot
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal energy snapshot", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID), slog.Any("error", err))
		return EnergySnapshot{}, fmt.Errorf("failed to unmarshal energy snapshot (id=%s): %w", doc.Ref.ID, err)
	}
	return s, nil
}
