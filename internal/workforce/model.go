// Package workforce owns workers, projects, assignments and the worker
// lifecycle operations that touch the face directory.
package workforce

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"siteattend/internal/calendar"
)

var (
	// ErrNotFound is returned when a worker, project or assignment does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyAssigned is returned when an open assignment already exists.
	ErrAlreadyAssigned = errors.New("worker already has an open assignment on this project")
	// ErrInvalid wraps input validation failures.
	ErrInvalid = errors.New("invalid input")
	// ErrInactive is returned when enrolling a deactivated worker.
	ErrInactive = errors.New("worker is inactive")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// PayMode is how a worker's wage is computed.
type PayMode string

const (
	PayHourly PayMode = "hourly"
	PayDaily  PayMode = "daily"
)

// Valid reports whether m is a known pay mode.
func (m PayMode) Valid() bool {
	return m == PayHourly || m == PayDaily
}

// Worker is a person who may be marked present on projects.
type Worker struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NameNormalized string    `json:"-"`
	PayMode        PayMode   `json:"pay_mode"`
	PayRate        float64   `json:"pay_rate"`
	FaceRef        *string   `json:"face_ref,omitempty"`
	PhotoURL       *string   `json:"photo_url,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasFace reports whether the worker has an enrolled face.
func (w Worker) HasFace() bool {
	return w.FaceRef != nil && *w.FaceRef != ""
}

// NewWorker is the input for creating a worker.
type NewWorker struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	PayMode PayMode `json:"pay_mode"`
	PayRate float64 `json:"pay_rate"`
}

// Validate checks the input and trims the name.
func (n *NewWorker) Validate() error {
	n.Name = strings.TrimSpace(n.Name)
	if n.Name == "" {
		return invalid("name is required")
	}
	if !n.PayMode.Valid() {
		return invalid("pay_mode must be hourly or daily")
	}
	if n.PayRate < 0 {
		return invalid("pay_rate must not be negative")
	}
	return nil
}

// Project is a construction site.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Location returns the project zone, or fallback when unset or unknown.
func (p Project) Location(fallback *time.Location) *time.Location {
	return calendar.Location(p.Timezone, fallback)
}

// Assignment links a worker to a project for a date range. EndDate is
// inclusive; nil means open-ended.
type Assignment struct {
	ID        string     `json:"id"`
	WorkerID  string     `json:"worker_id"`
	ProjectID string     `json:"project_id"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ActiveOn reports whether the assignment covers day.
func (a Assignment) ActiveOn(day time.Time) bool {
	day = calendar.Normalize(day)
	if day.Before(calendar.Normalize(a.StartDate)) {
		return false
	}
	return a.EndDate == nil || !day.After(calendar.Normalize(*a.EndDate))
}

// Eligible reports whether any assignment covers day.
func Eligible(assignments []Assignment, day time.Time) bool {
	for _, a := range assignments {
		if a.ActiveOn(day) {
			return true
		}
	}
	return false
}

// AdvanceKind distinguishes money handed out from wages settled.
type AdvanceKind string

const (
	KindAdvance AdvanceKind = "advance"
	KindPayment AdvanceKind = "payment"
)

// Advance is a money movement recorded against a worker.
type Advance struct {
	ID        string      `json:"id"`
	WorkerID  string      `json:"worker_id"`
	ProjectID *string     `json:"project_id,omitempty"`
	Kind      AdvanceKind `json:"kind"`
	Amount    float64     `json:"amount"`
	Day       time.Time   `json:"day"`
	Note      string      `json:"note,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Validate checks an advance before it is stored.
func (a Advance) Validate() error {
	if a.WorkerID == "" {
		return invalid("worker_id is required")
	}
	if a.Kind != KindAdvance && a.Kind != KindPayment {
		return invalid("kind must be advance or payment")
	}
	if a.Amount <= 0 {
		return invalid("amount must be positive")
	}
	return nil
}
