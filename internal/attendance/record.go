package attendance

import (
	"errors"
	"time"
)

var (
	// ErrInvalidInput is returned before any side effect when the request is unusable.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorage wraps photo storage failures. Callers may retry the request.
	ErrStorage = errors.New("photo storage failure")
	// ErrCheckoutDisabled is returned by MarkCheckout when two-phase marking is off.
	ErrCheckoutDisabled = errors.New("check-out marking is disabled")
)

// Source tells how a record was written.
const (
	SourceFace   = "face"
	SourceManual = "manual"
)

// Record is one ledger row for a worker on a project on a calendar day.
type Record struct {
	ID               string     `json:"id"`
	WorkerID         string     `json:"worker_id"`
	ProjectID        string     `json:"project_id"`
	Day              time.Time  `json:"day"`
	Present          bool       `json:"present"`
	HoursWorked      float64    `json:"hours_worked"`
	OvertimeHours    float64    `json:"overtime_hours"`
	PhotoURL         *string    `json:"photo_url,omitempty"`
	MatchConfidence  *float64   `json:"match_confidence,omitempty"`
	CheckoutPhotoURL *string    `json:"checkout_photo_url,omitempty"`
	CheckedOutAt     *time.Time `json:"checked_out_at,omitempty"`
	Source           string     `json:"source"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CheckedOut reports whether the check-out photo was recorded.
func (r Record) CheckedOut() bool {
	return r.CheckedOutAt != nil
}

// DayEntry is one row of a manual day sheet.
type DayEntry struct {
	WorkerID      string  `json:"worker_id" yaml:"worker_id"`
	Present       bool    `json:"present" yaml:"present"`
	HoursWorked   float64 `json:"hours_worked" yaml:"hours_worked"`
	OvertimeHours float64 `json:"overtime_hours" yaml:"overtime_hours"`
}

// Outcome tags the result of a verification or check-out.
type Outcome string

const (
	OutcomeRecorded          Outcome = "recorded"
	OutcomeAlreadyPresent    Outcome = "already_present"
	OutcomeNoMatchingFace    Outcome = "no_matching_face"
	OutcomeWorkerNotFound    Outcome = "worker_not_found"
	OutcomeNotAssigned       Outcome = "not_assigned_to_project"
	OutcomeCheckedOut        Outcome = "checked_out"
	OutcomeAlreadyCheckedOut Outcome = "already_checked_out"
	OutcomeNotCheckedIn      Outcome = "not_checked_in"
)

// Result is the business outcome of a photo submission. Record is set for
// Recorded, AlreadyPresent, CheckedOut and AlreadyCheckedOut.
type Result struct {
	Outcome    Outcome  `json:"outcome"`
	WorkerID   string   `json:"worker_id,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Record     *Record  `json:"record,omitempty"`
}
