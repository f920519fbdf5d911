package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"turfie/internal/domain"
	"turfie/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type reservationRow struct {
	ID          int64           `db:"id"`
	VenueID     int64           `db:"venue_id"`
	RequesterID int64           `db:"requester_id"`
	StartAt     int64           `db:"start_at"`
	EndAt       int64           `db:"end_at"`
	Amount      decimal.Decimal `db:"amount"`
	Status      string          `db:"status"`
	Version     int64           `db:"version"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (r *reservationRow) toModel() *models.Reservation {
	return &models.Reservation{
		ID:          r.ID,
		VenueID:     r.VenueID,
		RequesterID: r.RequesterID,
		StartTime:   time.Unix(r.StartAt, 0).UTC(),
		EndTime:     time.Unix(r.EndAt, 0).UTC(),
		Amount:      r.Amount,
		Status:      models.ReservationStatus(r.Status),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

var reservationColumns = []string{
	"id", "venue_id", "requester_id", "start_at", "end_at",
	"amount", "status", "version", "created_at", "updated_at",
}

// ledgerTx runs ledger statements against either the pool or an open transaction.
type ledgerTx struct {
	ext sqlx.ExtContext
}

var _ domain.LedgerTx = (*ledgerTx)(nil)

func (l *ledgerTx) FindOverlapping(ctx context.Context, venueID int64, start, end time.Time) ([]*models.Reservation, error) {
	return l.selectReservations(ctx, psql.Select(reservationColumns...).
		From("reservations").
		Where(sq.Eq{"venue_id": venueID}).
		Where(sq.NotEq{"status": string(models.StatusCancelled)}).
		Where(sq.Lt{"start_at": end.Unix()}).
		Where(sq.Gt{"end_at": start.Unix()}).
		OrderBy("start_at"))
}

func (l *ledgerTx) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	query, args, err := psql.Select(reservationColumns...).From("reservations").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reservation query: %w", err)
	}

	var row reservationRow
	if err := sqlx.GetContext(ctx, l.ext, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reservation %d: %w", id, err)
	}
	return row.toModel(), nil
}

func (l *ledgerTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	if r.Status == "" {
		r.Status = models.StatusPending
	}
	now := time.Now()
	query, args, err := psql.Insert("reservations").
		Columns("venue_id", "requester_id", "start_at", "end_at", "amount",
			"status", "version", "created_at", "updated_at").
		Values(r.VenueID, r.RequesterID, r.StartTime.Unix(), r.EndTime.Unix(), r.Amount,
			string(r.Status), 1, now, now).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reservation insert: %w", err)
	}

	result, err := l.ext.ExecContext(ctx, query, args...)
	if err != nil {
		if isOverlapViolation(err) {
			return ErrOverlap
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reservation id: %w", err)
	}

	r.ID = id
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// UpdateReservationStatus moves a reservation to status only if its version
// still equals fromVersion, and bumps the version.
func (l *ledgerTx) UpdateReservationStatus(ctx context.Context, id, fromVersion int64, status models.ReservationStatus) error {
	query, args, err := psql.Update("reservations").
		Set("status", string(status)).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id, "version": fromVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}

	result, err := l.ext.ExecContext(ctx, query, args...)
	if err != nil {
		if isOverlapViolation(err) {
			return ErrOverlap
		}
		return fmt.Errorf("update reservation %d status: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := l.GetReservation(ctx, id); err != nil {
			return err
		}
		return ErrConcurrentModification
	}
	return nil
}

func (l *ledgerTx) selectReservations(ctx context.Context, builder sq.SelectBuilder) ([]*models.Reservation, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reservations query: %w", err)
	}

	var rows []reservationRow
	if err := sqlx.SelectContext(ctx, l.ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}

	out := make([]*models.Reservation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (db *DB) ledger() *ledgerTx {
	return &ledgerTx{ext: db.DB}
}

func (db *DB) FindOverlapping(ctx context.Context, venueID int64, start, end time.Time) ([]*models.Reservation, error) {
	return db.ledger().FindOverlapping(ctx, venueID, start, end)
}

func (db *DB) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return db.ledger().GetReservation(ctx, id)
}

func (db *DB) InsertReservation(ctx context.Context, r *models.Reservation) error {
	return db.ledger().InsertReservation(ctx, r)
}

func (db *DB) UpdateReservationStatus(ctx context.Context, id, fromVersion int64, status models.ReservationStatus) error {
	return db.ledger().UpdateReservationStatus(ctx, id, fromVersion, status)
}

// WithinTx runs fn inside one write transaction. The transaction is begun
// IMMEDIATE, so the read-check-insert in fn cannot interleave with another
// writer. fn must only use the LedgerTx it is given.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.LedgerTx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &ledgerTx{ext: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (db *DB) ListReservations(ctx context.Context, filter models.ReservationFilter) ([]*models.Reservation, error) {
	builder := psql.Select(reservationColumns...).From("reservations").OrderBy("start_at", "id")
	if filter.VenueID != 0 {
		builder = builder.Where(sq.Eq{"venue_id": filter.VenueID})
	}
	if filter.RequesterID != 0 {
		builder = builder.Where(sq.Eq{"requester_id": filter.RequesterID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		builder = builder.Where(sq.Eq{"status": statuses})
	}
	if !filter.From.IsZero() {
		builder = builder.Where(sq.Gt{"end_at": filter.From.Unix()})
	}
	if !filter.To.IsZero() {
		builder = builder.Where(sq.Lt{"start_at": filter.To.Unix()})
	}

	limit := filter.Limit
	if limit == 0 {
		limit = models.DefaultListLimit
	}
	if limit > models.MaxListLimit {
		limit = models.MaxListLimit
	}
	builder = builder.Limit(limit)
	if filter.Offset > 0 {
		builder = builder.Offset(filter.Offset)
	}

	return db.ledger().selectReservations(ctx, builder)
}

// ListCompletable returns confirmed reservations whose end is at or before now.
func (db *DB) ListCompletable(ctx context.Context, now time.Time, limit uint64) ([]*models.Reservation, error) {
	if limit == 0 {
		limit = models.DefaultCompletionBatchSize
	}
	return db.ledger().selectReservations(ctx, psql.Select(reservationColumns...).
		From("reservations").
		Where(sq.Eq{"status": string(models.StatusConfirmed)}).
		Where(sq.LtOrEq{"end_at": now.Unix()}).
		OrderBy("end_at", "id").
		Limit(limit))
}

var _ domain.Ledger = (*DB)(nil)
var _ domain.VenueDirectory = (*DB)(nil)
