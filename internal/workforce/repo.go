package workforce

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"siteattend/internal/store"
)

// Repository persists workers, projects and assignments in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const workerColumns = `id, name, name_normalized, pay_mode, pay_rate, face_ref, photo_url, active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanWorker(row scanner) (Worker, error) {
	var w Worker
	err := row.Scan(&w.ID, &w.Name, &w.NameNormalized, &w.PayMode, &w.PayRate, &w.FaceRef, &w.PhotoURL, &w.Active, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

// CreateWorker inserts a worker. An empty ID is generated.
func (r *Repository) CreateWorker(ctx context.Context, in NewWorker) (Worker, error) {
	if err := in.Validate(); err != nil {
		return Worker{}, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO workers (id, name, name_normalized, pay_mode, pay_rate)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+workerColumns,
		in.ID, in.Name, NormalizeName(in.Name), in.PayMode, in.PayRate)
	w, err := scanWorker(row)
	if err != nil {
		if store.IsUniqueViolation(err, "workers_pkey") {
			return Worker{}, invalid("worker %s already exists", in.ID)
		}
		return Worker{}, fmt.Errorf("insert worker: %w", err)
	}
	return w, nil
}

// GetWorker returns a worker by id, or nil when absent.
func (r *Repository) GetWorker(ctx context.Context, id string) (*Worker, error) {
	return r.oneWorker(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = $1`, id)
}

// FindByFaceRef returns the worker holding faceRef, or nil.
func (r *Repository) FindByFaceRef(ctx context.Context, faceRef string) (*Worker, error) {
	return r.oneWorker(ctx, `SELECT `+workerColumns+` FROM workers WHERE face_ref = $1`, faceRef)
}

func (r *Repository) oneWorker(ctx context.Context, query string, arg string) (*Worker, error) {
	w, err := scanWorker(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

// FindByName returns workers whose normalized name equals the normalized query.
func (r *Repository) FindByName(ctx context.Context, name string) ([]Worker, error) {
	return r.listWorkers(ctx, `SELECT `+workerColumns+` FROM workers WHERE name_normalized = $1 ORDER BY id`, NormalizeName(name))
}

// WorkersWithFace lists every worker that has an enrolled face.
func (r *Repository) WorkersWithFace(ctx context.Context) ([]Worker, error) {
	return r.listWorkers(ctx, `SELECT `+workerColumns+` FROM workers WHERE face_ref IS NOT NULL ORDER BY id`)
}

func (r *Repository) listWorkers(ctx context.Context, query string, args ...any) ([]Worker, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// SetFace records a new face reference. A nil photoURL keeps the existing one.
func (r *Repository) SetFace(ctx context.Context, workerID, faceRef string, photoURL *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE workers
		SET face_ref = $2, photo_url = COALESCE($3, photo_url), updated_at = NOW()
		WHERE id = $1
	`, workerID, faceRef, photoURL)
	return affectedOne(res, err)
}

// ClearFace removes the face reference if it still equals faceRef.
func (r *Repository) ClearFace(ctx context.Context, workerID, faceRef string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workers SET face_ref = NULL, updated_at = NOW()
		WHERE id = $1 AND face_ref = $2
	`, workerID, faceRef)
	return err
}

// Deactivate marks a worker inactive and closes open assignments. An
// assignment ends on projectDays[project_id] when present and on day otherwise.
func (r *Repository) Deactivate(ctx context.Context, workerID string, day time.Time, projectDays map[string]time.Time) error {
	return store.InTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE workers SET active = FALSE, updated_at = NOW() WHERE id = $1`, workerID)
		if err := affectedOne(res, err); err != nil {
			return err
		}
		// Assignments starting after the end day cannot end on it; collapse them instead.
		for projectID, end := range projectDays {
			if _, err := tx.ExecContext(ctx, `
				UPDATE assignments SET end_date = GREATEST($3::date, start_date)
				WHERE worker_id = $1 AND project_id = $2 AND end_date IS NULL
			`, workerID, projectID, end); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE assignments SET end_date = GREATEST($2::date, start_date)
			WHERE worker_id = $1 AND end_date IS NULL
		`, workerID, day)
		return err
	})
}

// DeleteCascade removes a worker together with its assignments, attendance
// records and advances. It returns the deleted worker.
func (r *Repository) DeleteCascade(ctx context.Context, workerID string) (*Worker, error) {
	var deleted Worker
	err := store.InTx(ctx, r.db, func(tx *sql.Tx) error {
		w, err := scanWorker(tx.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = $1 FOR UPDATE`, workerID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		for _, q := range []string{
			`DELETE FROM attendance_records WHERE worker_id = $1`,
			`DELETE FROM assignments WHERE worker_id = $1`,
			`DELETE FROM advances WHERE worker_id = $1`,
			`DELETE FROM workers WHERE id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, q, workerID); err != nil {
				return fmt.Errorf("delete worker %s: %w", workerID, err)
			}
		}
		deleted = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

// CreateProject inserts a project. An empty ID is generated.
func (r *Repository) CreateProject(ctx context.Context, p Project) (Project, error) {
	if p.Name == "" {
		return Project{}, invalid("project name is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, name, timezone) VALUES ($1, $2, $3)
		RETURNING created_at
	`, p.ID, p.Name, p.Timezone)
	if err := row.Scan(&p.CreatedAt); err != nil {
		if store.IsUniqueViolation(err, "projects_pkey") {
			return Project{}, invalid("project %s already exists", p.ID)
		}
		return Project{}, err
	}
	return p, nil
}

// GetProject returns a project by id, or nil when absent.
func (r *Repository) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := r.db.QueryRowContext(ctx, `SELECT id, name, timezone, created_at FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Timezone, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Assign opens an assignment.
func (r *Repository) Assign(ctx context.Context, a Assignment) (Assignment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO assignments (id, worker_id, project_id, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, a.ID, a.WorkerID, a.ProjectID, a.StartDate, a.EndDate)
	if err := row.Scan(&a.CreatedAt); err != nil {
		switch {
		case store.IsUniqueViolation(err, "uniq_assignments_open"):
			return Assignment{}, ErrAlreadyAssigned
		case store.IsForeignKeyViolation(err):
			return Assignment{}, ErrNotFound
		}
		return Assignment{}, err
	}
	return a, nil
}

// CloseAssignment sets the inclusive end date of an open assignment.
func (r *Repository) CloseAssignment(ctx context.Context, workerID, assignmentID string, end time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE assignments SET end_date = $3
		WHERE id = $1 AND worker_id = $2 AND end_date IS NULL AND start_date <= $3
	`, assignmentID, workerID, end)
	return affectedOne(res, err)
}

// AssignmentsFor lists the assignments of a worker on a project.
func (r *Repository) AssignmentsFor(ctx context.Context, workerID, projectID string) ([]Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, worker_id, project_id, start_date, end_date, created_at
		FROM assignments
		WHERE worker_id = $1 AND project_id = $2
		ORDER BY start_date
	`, workerID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

// OpenAssignments lists the assignments of a worker that have no end date.
func (r *Repository) OpenAssignments(ctx context.Context, workerID string) ([]Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, worker_id, project_id, start_date, end_date, created_at
		FROM assignments
		WHERE worker_id = $1 AND end_date IS NULL
		ORDER BY start_date
	`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func scanAssignments(rows *sql.Rows) ([]Assignment, error) {
	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.WorkerID, &a.ProjectID, &a.StartDate, &a.EndDate, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddAdvance records an advance or payment.
func (r *Repository) AddAdvance(ctx context.Context, adv Advance) (Advance, error) {
	if adv.ID == "" {
		adv.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO advances (id, worker_id, project_id, kind, amount, day, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, adv.ID, adv.WorkerID, adv.ProjectID, adv.Kind, adv.Amount, adv.Day, adv.Note)
	if err := row.Scan(&adv.CreatedAt); err != nil {
		if store.IsForeignKeyViolation(err) {
			return Advance{}, ErrNotFound
		}
		return Advance{}, err
	}
	return adv, nil
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
