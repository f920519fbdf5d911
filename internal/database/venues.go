package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"turfie/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"
)

type venueRow struct {
	ID             int64            `db:"id"`
	OwnerID        int64            `db:"owner_id"`
	Name           string           `db:"name"`
	City           string           `db:"city"`
	OpeningTime    models.ClockTime `db:"opening_time"`
	ClosingTime    models.ClockTime `db:"closing_time"`
	PricePerHour   decimal.Decimal  `db:"price_per_hour"`
	ApprovalStatus string           `db:"approval_status"`
	CreatedAt      time.Time        `db:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"`
}

func (r *venueRow) toModel() *models.Venue {
	return &models.Venue{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		Name:           r.Name,
		City:           r.City,
		OpeningTime:    r.OpeningTime,
		ClosingTime:    r.ClosingTime,
		PricePerHour:   r.PricePerHour,
		ApprovalStatus: models.ApprovalStatus(r.ApprovalStatus),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

var venueColumns = []string{
	"id", "owner_id", "name", "city", "opening_time", "closing_time",
	"price_per_hour", "approval_status", "created_at", "updated_at",
}

func (db *DB) GetVenue(ctx context.Context, id int64) (*models.Venue, error) {
	db.mu.RLock()
	cached, ok := db.venueCache[id]
	gen := db.cacheGen
	db.mu.RUnlock()
	if ok {
		return &cached, nil
	}

	query, args, err := psql.Select(venueColumns...).From("venues").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build venue query: %w", err)
	}

	var row venueRow
	if err := db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get venue %d: %w", id, err)
	}

	venue := row.toModel()
	db.cacheVenueAt(*venue, gen)
	return venue, nil
}

// ListVenues returns the venues matching filter, oldest first. City matches
// case-insensitively.
func (db *DB) ListVenues(ctx context.Context, filter models.VenueFilter) ([]*models.Venue, error) {
	builder := psql.Select(venueColumns...).From("venues").OrderBy("created_at", "id")
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"approval_status": string(filter.Status)})
	}
	if filter.City != "" {
		builder = builder.Where("city = ? COLLATE NOCASE", filter.City)
	}
	if filter.OwnerID != 0 {
		builder = builder.Where(sq.Eq{"owner_id": filter.OwnerID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build venues query: %w", err)
	}

	var rows []venueRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}

	venues := make([]*models.Venue, 0, len(rows))
	for i := range rows {
		venues = append(venues, rows[i].toModel())
	}
	return venues, nil
}

func (db *DB) CreateVenue(ctx context.Context, venue *models.Venue) error {
	if venue.ApprovalStatus == "" {
		venue.ApprovalStatus = models.ApprovalPending
	}
	if err := venue.Validate(); err != nil {
		return err
	}

	now := time.Now()
	query, args, err := psql.Insert("venues").
		Columns("owner_id", "name", "city", "opening_time", "closing_time",
			"price_per_hour", "approval_status", "created_at", "updated_at").
		Values(venue.OwnerID, venue.Name, venue.City, venue.OpeningTime, venue.ClosingTime,
			venue.PricePerHour, string(venue.ApprovalStatus), now, now).
		ToSql()
	if err != nil {
		return fmt.Errorf("build venue insert: %w", err)
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert venue: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("venue id: %w", err)
	}

	venue.ID = id
	venue.CreatedAt = now
	venue.UpdatedAt = now
	db.cacheVenue(*venue)

	db.logger.Info().Int64("venue_id", id).Int64("owner_id", venue.OwnerID).Msg("venue created")
	return nil
}

func (db *DB) SetApprovalStatus(ctx context.Context, id int64, status models.ApprovalStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown approval status %q", status)
	}

	query, args, err := psql.Update("venues").
		Set("approval_status", string(status)).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build approval update: %w", err)
	}

	if err := db.execAffectingOne(ctx, query, args...); err != nil {
		return fmt.Errorf("set approval status of venue %d: %w", id, err)
	}

	db.evictVenue(id)
	db.logger.Info().Int64("venue_id", id).Str("status", string(status)).Msg("venue approval status changed")
	return nil
}

// SyncVenues upserts venues by id from a seed file. Existing reservations are
// untouched. The seed approval status applies only to newly inserted venues;
// once a venue exists its approval is owned by admins. Only rows the seed
// created are updated: a seed id held by an owner-created venue fails the
// whole sync with ErrSeedConflict.
func (db *DB) SyncVenues(ctx context.Context, venues []models.Venue) error {
	for i := range venues {
		if venues[i].ApprovalStatus == "" {
			venues[i].ApprovalStatus = models.ApprovalPending
		}
		if err := venues[i].Validate(); err != nil {
			return fmt.Errorf("venue %d (%s): %w", venues[i].ID, venues[i].Name, err)
		}
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sync: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	for i := range venues {
		v := &venues[i]
		query, args, err := psql.Insert("venues").
			Columns(append(venueColumns, "seeded")...).
			Values(v.ID, v.OwnerID, v.Name, v.City, v.OpeningTime, v.ClosingTime,
				v.PricePerHour, string(v.ApprovalStatus), now, now, 1).
			Suffix(`ON CONFLICT(id) DO UPDATE SET
                owner_id = excluded.owner_id,
                name = excluded.name,
                city = excluded.city,
                opening_time = excluded.opening_time,
                closing_time = excluded.closing_time,
                price_per_hour = excluded.price_per_hour,
                updated_at = excluded.updated_at
            WHERE venues.seeded = 1`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build venue upsert: %w", err)
		}
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("upsert venue %d: %w", v.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("upsert venue %d: %w", v.ID, err)
		}
		if affected == 0 {
			db.logger.Error().Int64("venue_id", v.ID).Str("name", v.Name).Msg("seed venue collides with owner listing")
			return fmt.Errorf("venue %d (%s): %w", v.ID, v.Name, ErrSeedConflict)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync: %w", err)
	}

	db.mu.Lock()
	db.venueCache = make(map[int64]models.Venue)
	db.cacheGen++
	db.mu.Unlock()

	db.logger.Info().Int("count", len(venues)).Msg("venues synced")
	return nil
}

func (db *DB) execAffectingOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) cacheVenue(v models.Venue) {
	db.mu.Lock()
	db.venueCache[v.ID] = v
	db.mu.Unlock()
}

func (db *DB) cacheVenueAt(v models.Venue, gen uint64) {
	db.mu.Lock()
	if db.cacheGen == gen {
		db.venueCache[v.ID] = v
	}
	db.mu.Unlock()
}

func (db *DB) evictVenue(id int64) {
	db.mu.Lock()
	delete(db.venueCache, id)
	db.cacheGen++
	db.mu.Unlock()
}
