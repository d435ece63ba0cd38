package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"siteattend/internal/store"
)

// Repository persists the attendance ledger and kiosk devices in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, worker_id, project_id, day, present, hours_worked, overtime_hours,
	photo_url, match_confidence, checkout_photo_url, checked_out_at, source, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.WorkerID, &rec.ProjectID, &rec.Day, &rec.Present, &rec.HoursWorked, &rec.OvertimeHours,
		&rec.PhotoURL, &rec.MatchConfidence, &rec.CheckoutPhotoURL, &rec.CheckedOutAt, &rec.Source, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// Find returns the record for (worker, project, day), or nil.
func (r *Repository) Find(ctx context.Context, workerID, projectID string, day time.Time) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE worker_id = $1 AND project_id = $2 AND day = $3
	`, workerID, projectID, day))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// MarkPresent inserts a present record, or flips an existing absent one. When
// a present record already exists it is returned with created == false.
// The unique (worker_id, project_id, day) constraint arbitrates concurrent calls.
func (r *Repository) MarkPresent(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Source == "" {
		rec.Source = SourceFace
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, worker_id, project_id, day, present, hours_worked, overtime_hours, photo_url, match_confidence, source)
		VALUES ($1, $2, $3, $4, TRUE, $5, 0, $6, $7, $8)
		ON CONFLICT ON CONSTRAINT uniq_attendance_worker_project_day DO UPDATE
		SET present = TRUE,
			hours_worked = EXCLUDED.hours_worked,
			photo_url = EXCLUDED.photo_url,
			match_confidence = EXCLUDED.match_confidence,
			source = EXCLUDED.source,
			updated_at = NOW()
		WHERE attendance_records.present = FALSE
		RETURNING `+recordColumns,
		rec.ID, rec.WorkerID, rec.ProjectID, rec.Day, rec.HoursWorked, rec.PhotoURL, rec.MatchConfidence, rec.Source)
	saved, err := scanRecord(row)
	if err == nil {
		return saved, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, fmt.Errorf("mark present: %w", err)
	}

	existing, err := r.Find(ctx, rec.WorkerID, rec.ProjectID, rec.Day)
	if err != nil {
		return Record{}, false, err
	}
	if existing == nil {
		return Record{}, false, fmt.Errorf("mark present: conflicting record for worker %s vanished", rec.WorkerID)
	}
	return *existing, false, nil
}

// SetCheckout stores the check-out photo once. When the record already has
// one, the stored record is returned with updated == false.
func (r *Repository) SetCheckout(ctx context.Context, recordID string, photoURL *string, at time.Time) (Record, bool, error) {
	saved, err := scanRecord(r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET checkout_photo_url = $2, checked_out_at = $3, updated_at = NOW()
		WHERE id = $1 AND checked_out_at IS NULL
		RETURNING `+recordColumns,
		recordID, photoURL, at))
	if err == nil {
		return saved, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, fmt.Errorf("set checkout: %w", err)
	}
	existing, err := scanRecord(r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`, recordID))
	if err != nil {
		return Record{}, false, fmt.Errorf("load record %s: %w", recordID, err)
	}
	return existing, false, nil
}

// UpsertDay writes a manual day sheet in one transaction. Rows are keyed by
// (worker, project, day); photos and confidences of face records are kept.
func (r *Repository) UpsertDay(ctx context.Context, projectID string, day time.Time, entries []DayEntry) ([]Record, error) {
	out := make([]Record, 0, len(entries))
	err := store.InTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, e := range entries {
			rec, err := scanRecord(tx.QueryRowContext(ctx, `
				INSERT INTO attendance_records
					(id, worker_id, project_id, day, present, hours_worked, overtime_hours, source)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT ON CONSTRAINT uniq_attendance_worker_project_day DO UPDATE
				SET present = EXCLUDED.present,
					hours_worked = EXCLUDED.hours_worked,
					overtime_hours = EXCLUDED.overtime_hours,
					updated_at = NOW()
				RETURNING `+recordColumns,
				uuid.NewString(), e.WorkerID, projectID, day, e.Present, e.HoursWorked, e.OvertimeHours, SourceManual))
			if err != nil {
				if store.IsForeignKeyViolation(err) {
					return fmt.Errorf("%w: unknown worker %s", ErrInvalidInput, e.WorkerID)
				}
				return fmt.Errorf("upsert worker %s: %w", e.WorkerID, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListDay returns every record of a project on day.
func (r *Repository) ListDay(ctx context.Context, projectID string, day time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE project_id = $1 AND day = $2
		ORDER BY worker_id
	`, projectID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
