package database

import (
	"context"
	"path/filepath"
	"testing"

	"turfie/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetVenue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	venue := createTestVenue(t, db, "")
	assert.NotZero(t, venue.ID)
	assert.Equal(t, models.ApprovalPending, venue.ApprovalStatus)

	got, err := db.GetVenue(ctx, venue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NewClockTime(6, 0), got.OpeningTime)
	assert.Equal(t, models.NewClockTime(22, 0), got.ClosingTime)
	assert.True(t, decimal.NewFromInt(500).Equal(got.PricePerHour))

	assert.Equal(t, "Pune", got.City)

	_, err = db.GetVenue(ctx, venue.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateVenue_Invalid(t *testing.T) {
	db := setupTestDB(t)

	err := db.CreateVenue(context.Background(), &models.Venue{
		OwnerID:      1,
		Name:         "Backwards",
		OpeningTime:  models.NewClockTime(22, 0),
		ClosingTime:  models.NewClockTime(6, 0),
		PricePerHour: decimal.NewFromInt(100),
	})
	assert.Error(t, err)
}

func TestSetApprovalStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	venue := createTestVenue(t, db, models.ApprovalPending)

	// Prime the cache so the update has to evict it.
	_, err := db.GetVenue(ctx, venue.ID)
	require.NoError(t, err)

	require.NoError(t, db.SetApprovalStatus(ctx, venue.ID, models.ApprovalApproved))

	got, err := db.GetVenue(ctx, venue.ID)
	require.NoError(t, err)
	assert.True(t, got.IsApproved())

	assert.Error(t, db.SetApprovalStatus(ctx, venue.ID, "bogus"))
	assert.ErrorIs(t, db.SetApprovalStatus(ctx, 9999, models.ApprovalRejected), ErrNotFound)
}

func TestListVenues_FilterByStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	createTestVenue(t, db, models.ApprovalApproved)
	createTestVenue(t, db, models.ApprovalPending)
	createTestVenue(t, db, models.ApprovalRejected)

	all, err := db.ListVenues(ctx, models.VenueFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	approved, err := db.ListVenues(ctx, models.VenueFilter{Status: models.ApprovalApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, models.ApprovalApproved, approved[0].ApprovalStatus)
}

func TestListVenues_FilterByCityAndOwner(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	pune := createTestVenue(t, db, models.ApprovalApproved)
	mumbai := &models.Venue{
		OwnerID:        11,
		Name:           "Harbour Turf",
		City:           "Mumbai",
		OpeningTime:    models.NewClockTime(7, 0),
		ClosingTime:    models.NewClockTime(23, 0),
		PricePerHour:   decimal.NewFromInt(800),
		ApprovalStatus: models.ApprovalApproved,
	}
	require.NoError(t, db.CreateVenue(ctx, mumbai))

	got, err := db.ListVenues(ctx, models.VenueFilter{City: "mumbai"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mumbai.ID, got[0].ID)

	got, err = db.ListVenues(ctx, models.VenueFilter{OwnerID: pune.OwnerID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pune.ID, got[0].ID)

	got, err = db.ListVenues(ctx, models.VenueFilter{City: "Delhi"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSyncVenues_Upsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seed := []models.Venue{
		{ID: 1, OwnerID: 7, Name: "North", OpeningTime: models.NewClockTime(8, 0), ClosingTime: models.NewClockTime(20, 0), PricePerHour: decimal.NewFromInt(300), ApprovalStatus: models.ApprovalApproved},
		{ID: 2, OwnerID: 8, Name: "South", OpeningTime: models.NewClockTime(0, 0), ClosingTime: models.EndOfDay, PricePerHour: decimal.NewFromInt(400)},
	}
	require.NoError(t, db.SyncVenues(ctx, seed))

	seed[0].Name = "North Arena"
	require.NoError(t, db.SyncVenues(ctx, seed[:1]))

	north, err := db.GetVenue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "North Arena", north.Name)

	south, err := db.GetVenue(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, south.ApprovalStatus)
	assert.Equal(t, models.EndOfDay, south.ClosingTime)
}

func TestSyncVenues_RejectsInvalid(t *testing.T) {
	db := setupTestDB(t)

	err := db.SyncVenues(context.Background(), []models.Venue{{ID: 1, Name: "No owner"}})
	assert.Error(t, err)

	venues, err := db.ListVenues(context.Background(), models.VenueFilter{})
	require.NoError(t, err)
	assert.Empty(t, venues)
}

func TestSyncVenues_KeepsAdminApproval(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seed := []models.Venue{
		{ID: 3, OwnerID: 9, Name: "East", OpeningTime: models.NewClockTime(6, 0), ClosingTime: models.NewClockTime(22, 0), PricePerHour: decimal.NewFromInt(500), ApprovalStatus: models.ApprovalPending},
	}
	require.NoError(t, db.SyncVenues(ctx, seed))
	require.NoError(t, db.SetApprovalStatus(ctx, 3, models.ApprovalApproved))

	// A restart syncs the same seed again.
	require.NoError(t, db.SyncVenues(ctx, seed))

	got, err := db.GetVenue(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, got.ApprovalStatus)
}

func TestGetVenue_StaleFillIsDropped(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	venue := createTestVenue(t, db, models.ApprovalPending)
	db.evictVenue(venue.ID)

	// A reader snapshots the generation and reads the pending row...
	db.mu.RLock()
	gen := db.cacheGen
	db.mu.RUnlock()
	stale := *venue

	// ...an approval lands and evicts...
	require.NoError(t, db.SetApprovalStatus(ctx, venue.ID, models.ApprovalApproved))

	// ...and the reader's late fill must not resurrect the old status.
	db.cacheVenueAt(stale, gen)

	got, err := db.GetVenue(ctx, venue.ID)
	require.NoError(t, err)
	assert.True(t, got.IsApproved())
}

func TestSyncVenues_LeavesOwnerListingsAlone(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seed := []models.Venue{
		{ID: 1, OwnerID: 7, Name: "A", OpeningTime: models.NewClockTime(8, 0), ClosingTime: models.NewClockTime(20, 0), PricePerHour: decimal.NewFromInt(300), ApprovalStatus: models.ApprovalApproved},
	}
	require.NoError(t, db.SyncVenues(ctx, seed))

	listing := &models.Venue{
		OwnerID:      77,
		Name:         "Owner listing",
		OpeningTime:  models.NewClockTime(6, 0),
		ClosingTime:  models.NewClockTime(22, 0),
		PricePerHour: decimal.NewFromInt(450),
	}
	require.NoError(t, db.CreateVenue(ctx, listing))
	require.Equal(t, int64(2), listing.ID)

	seed[0].Name = "A renamed"
	seed = append(seed, models.Venue{ID: 2, OwnerID: 11, Name: "B", OpeningTime: models.NewClockTime(9, 0), ClosingTime: models.NewClockTime(17, 0), PricePerHour: decimal.NewFromInt(200)})
	err := db.SyncVenues(ctx, seed)
	require.ErrorIs(t, err, ErrSeedConflict)

	got, err := db.GetVenue(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(77), got.OwnerID)
	assert.Equal(t, "Owner listing", got.Name)
	assert.True(t, decimal.NewFromInt(450).Equal(got.PricePerHour))

	// The failed sync is all or nothing.
	first, err := db.GetVenue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A", first.Name)
}

func TestNewDB_AddsSeededColumnToOldFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	legacy, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = legacy.Exec(`CREATE TABLE venues (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        owner_id INTEGER NOT NULL,
        name TEXT NOT NULL,
        city TEXT NOT NULL DEFAULT '',
        opening_time TEXT NOT NULL,
        closing_time TEXT NOT NULL,
        price_per_hour TEXT NOT NULL,
        approval_status TEXT NOT NULL DEFAULT 'pending',
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    )`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	logger := zerolog.Nop()
	db, err := NewDB(path, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var seeded int
	require.NoError(t, db.Get(&seeded, `SELECT COUNT(*) FROM pragma_table_info('venues') WHERE name = 'seeded'`))
	assert.Equal(t, 1, seeded)

	// Reopening is a no-op.
	require.NoError(t, db.ensureColumn("venues", "seeded", "INTEGER NOT NULL DEFAULT 0"))
}
