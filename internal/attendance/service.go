// Package attendance keeps the daily attendance ledger and turns kiosk
// photos into ledger entries.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"siteattend/internal/calendar"
	"siteattend/internal/facedir"
	"siteattend/internal/imagecheck"
	"siteattend/internal/metrics"
	"siteattend/internal/workforce"
)

// Ledger stores one record per (worker, project, day).
type Ledger interface {
	Find(ctx context.Context, workerID, projectID string, day time.Time) (*Record, error)
	MarkPresent(ctx context.Context, rec Record) (Record, bool, error)
	SetCheckout(ctx context.Context, recordID string, photoURL *string, at time.Time) (Record, bool, error)
	UpsertDay(ctx context.Context, projectID string, day time.Time, entries []DayEntry) ([]Record, error)
	ListDay(ctx context.Context, projectID string, day time.Time) ([]Record, error)
}

// Workers is the worker directory view needed to resolve a face match.
type Workers interface {
	GetWorker(ctx context.Context, id string) (*workforce.Worker, error)
	FindByFaceRef(ctx context.Context, faceRef string) (*workforce.Worker, error)
	GetProject(ctx context.Context, id string) (*workforce.Project, error)
	AssignmentsFor(ctx context.Context, workerID, projectID string) ([]workforce.Assignment, error)
}

// PhotoStore keeps photos and returns their URL.
type PhotoStore interface {
	Put(ctx context.Context, data []byte, subfolder, filename string) (string, error)
}

// Policy holds the marking rules.
type Policy struct {
	// DefaultHoursWorked is written on every face-verified record.
	DefaultHoursWorked float64
	// Location is the fallback zone for projects without their own.
	Location      *time.Location
	MaxPhotoBytes int
	// Checkout enables the second photo of two-phase marking.
	Checkout bool
	// Clock returns the current instant; nil means time.Now.
	Clock func() time.Time
}

// Service coordinates face verification and the ledger.
type Service struct {
	ledger  Ledger
	workers Workers
	faces   facedir.Directory
	photos  PhotoStore
	policy  Policy
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates a service. photos may be nil when storage is disabled.
func NewService(ledger Ledger, workers Workers, faces facedir.Directory, photos PhotoStore, policy Policy, log *zap.Logger) *Service {
	if policy.DefaultHoursWorked <= 0 {
		policy.DefaultHoursWorked = 8
	}
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	if policy.Clock == nil {
		policy.Clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		ledger:  ledger,
		workers: workers,
		faces:   faces,
		photos:  photos,
		policy:  policy,
		log:     log,
		now:     policy.Clock,
	}
}

// identity is a worker resolved from a photo and cleared to mark today.
type identity struct {
	worker     workforce.Worker
	confidence float64
	day        time.Time
}

// VerifyAndMark identifies the worker in photo and records them present on
// projectID for today. Business outcomes are returned in Result; errors are
// reserved for invalid input and infrastructure failures.
func (s *Service) VerifyAndMark(ctx context.Context, photo []byte, projectID string) (Result, error) {
	info, err := s.validate(photo, projectID)
	if err != nil {
		return Result{}, err
	}

	id, res, err := s.identify(ctx, photo, projectID)
	if err != nil || res != nil {
		return s.finish(projectID, res, err)
	}

	existing, err := s.ledger.Find(ctx, id.worker.ID, projectID, id.day)
	if err != nil {
		return s.finish(projectID, nil, fmt.Errorf("read ledger: %w", err))
	}
	if existing != nil && existing.Present {
		return s.finish(projectID, &Result{
			Outcome: OutcomeAlreadyPresent, WorkerID: id.worker.ID, Confidence: &id.confidence, Record: existing,
		}, nil)
	}

	url, err := s.storePhoto(ctx, photo, info, "checkins", projectID, id)
	if err != nil {
		return s.finish(projectID, nil, err)
	}

	rec, created, err := s.ledger.MarkPresent(ctx, Record{
		WorkerID:        id.worker.ID,
		ProjectID:       projectID,
		Day:             id.day,
		HoursWorked:     s.policy.DefaultHoursWorked,
		PhotoURL:        url,
		MatchConfidence: &id.confidence,
		Source:          SourceFace,
	})
	if err != nil {
		return s.finish(projectID, nil, fmt.Errorf("record attendance: %w", err))
	}
	outcome := OutcomeRecorded
	if !created {
		outcome = OutcomeAlreadyPresent
	}
	return s.finish(projectID, &Result{
		Outcome: outcome, WorkerID: id.worker.ID, Confidence: &id.confidence, Record: &rec,
	}, nil)
}

// MarkCheckout records the check-out photo on today's present record.
func (s *Service) MarkCheckout(ctx context.Context, photo []byte, projectID string) (Result, error) {
	if !s.policy.Checkout {
		return Result{}, ErrCheckoutDisabled
	}
	info, err := s.validate(photo, projectID)
	if err != nil {
		return Result{}, err
	}

	id, res, err := s.identify(ctx, photo, projectID)
	if err != nil || res != nil {
		return s.finish(projectID, res, err)
	}

	existing, err := s.ledger.Find(ctx, id.worker.ID, projectID, id.day)
	if err != nil {
		return s.finish(projectID, nil, fmt.Errorf("read ledger: %w", err))
	}
	result := Result{WorkerID: id.worker.ID, Confidence: &id.confidence, Record: existing}
	switch {
	case existing == nil || !existing.Present:
		result.Outcome = OutcomeNotCheckedIn
		result.Record = nil
		return s.finish(projectID, &result, nil)
	case existing.CheckedOut():
		result.Outcome = OutcomeAlreadyCheckedOut
		return s.finish(projectID, &result, nil)
	}

	url, err := s.storePhoto(ctx, photo, info, "checkouts", projectID, id)
	if err != nil {
		return s.finish(projectID, nil, err)
	}
	rec, updated, err := s.ledger.SetCheckout(ctx, existing.ID, url, s.now().UTC())
	if err != nil {
		return s.finish(projectID, nil, fmt.Errorf("record checkout: %w", err))
	}
	result.Outcome = OutcomeCheckedOut
	if !updated {
		result.Outcome = OutcomeAlreadyCheckedOut
	}
	result.Record = &rec
	return s.finish(projectID, &result, nil)
}

func (s *Service) validate(photo []byte, projectID string) (imagecheck.Info, error) {
	if projectID == "" {
		return imagecheck.Info{}, fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	info, err := imagecheck.Validate(photo, s.policy.MaxPhotoBytes)
	if err != nil {
		return imagecheck.Info{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return info, nil
}

// identify runs the face search and the eligibility checks. A non-nil Result
// is a terminal business outcome.
func (s *Service) identify(ctx context.Context, photo []byte, projectID string) (identity, *Result, error) {
	match, err := s.faces.Search(ctx, photo)
	if err != nil {
		if errors.Is(err, facedir.ErrNoMatch) || errors.Is(err, facedir.ErrNoFaceDetected) {
			return identity{}, &Result{Outcome: OutcomeNoMatchingFace}, nil
		}
		return identity{}, nil, err
	}
	confidence := match.Confidence

	w, err := s.resolveWorker(ctx, match.FaceRef)
	if err != nil {
		return identity{}, nil, fmt.Errorf("resolve worker: %w", err)
	}
	if w == nil {
		s.log.Warn("face directory drift: matched reference has no worker",
			zap.String("face_ref", match.FaceRef), zap.Float64("confidence", confidence))
		return identity{}, &Result{Outcome: OutcomeWorkerNotFound, Confidence: &confidence}, nil
	}
	notAssigned := &Result{Outcome: OutcomeNotAssigned, WorkerID: w.ID, Confidence: &confidence}
	if !w.Active {
		return identity{}, notAssigned, nil
	}

	project, err := s.workers.GetProject(ctx, projectID)
	if err != nil {
		return identity{}, nil, fmt.Errorf("load project: %w", err)
	}
	if project == nil {
		return identity{}, notAssigned, nil
	}
	day := calendar.Day(s.now(), project.Location(s.policy.Location))

	assignments, err := s.workers.AssignmentsFor(ctx, w.ID, projectID)
	if err != nil {
		return identity{}, nil, fmt.Errorf("load assignments: %w", err)
	}
	if !workforce.Eligible(assignments, day) {
		return identity{}, notAssigned, nil
	}
	return identity{worker: *w, confidence: confidence, day: day}, nil, nil
}

// resolveWorker tries the reference as a worker id first, then as a stored
// face reference.
func (s *Service) resolveWorker(ctx context.Context, faceRef string) (*workforce.Worker, error) {
	w, err := s.workers.GetWorker(ctx, faceRef)
	if err != nil || w != nil {
		return w, err
	}
	return s.workers.FindByFaceRef(ctx, faceRef)
}

func (s *Service) storePhoto(ctx context.Context, photo []byte, info imagecheck.Info, kind, projectID string, id identity) (*string, error) {
	if s.photos == nil {
		return nil, nil
	}
	folder := kind + "/" + projectID + "/" + calendar.Format(id.day)
	url, err := s.photos.Put(ctx, photo, folder, id.worker.ID+info.Ext())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return &url, nil
}

// finish logs and counts the outcome of a submission.
func (s *Service) finish(projectID string, res *Result, err error) (Result, error) {
	if err != nil {
		metrics.Verifications.WithLabelValues("error").Inc()
		s.log.Error("attendance submission failed", zap.String("project_id", projectID), zap.Error(err))
		return Result{}, err
	}
	metrics.Verifications.WithLabelValues(string(res.Outcome)).Inc()
	fields := []zap.Field{zap.String("project_id", projectID), zap.String("outcome", string(res.Outcome))}
	if res.WorkerID != "" {
		fields = append(fields, zap.String("worker_id", res.WorkerID))
	}
	s.log.Info("attendance submission", fields...)
	return *res, nil
}

// UpsertDay writes a manual day sheet for a project. Absent rows must carry
// no hours.
func (s *Service) UpsertDay(ctx context.Context, projectID string, day time.Time, entries []DayEntry) ([]Record, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		switch {
		case e.WorkerID == "":
			return nil, fmt.Errorf("%w: worker_id is required", ErrInvalidInput)
		case seen[e.WorkerID]:
			return nil, fmt.Errorf("%w: worker %s listed twice", ErrInvalidInput, e.WorkerID)
		case e.HoursWorked < 0 || e.HoursWorked > 24 || e.OvertimeHours < 0 || e.HoursWorked+e.OvertimeHours > 24:
			return nil, fmt.Errorf("%w: worker %s hours out of range", ErrInvalidInput, e.WorkerID)
		case !e.Present && (e.HoursWorked > 0 || e.OvertimeHours > 0):
			return nil, fmt.Errorf("%w: worker %s absent with hours", ErrInvalidInput, e.WorkerID)
		}
		seen[e.WorkerID] = true
	}
	project, err := s.workers.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("%w: unknown project %s", ErrInvalidInput, projectID)
	}
	return s.ledger.UpsertDay(ctx, projectID, calendar.Normalize(day), entries)
}

// ListDay returns the ledger of a project for day.
func (s *Service) ListDay(ctx context.Context, projectID string, day time.Time) ([]Record, error) {
	return s.ledger.ListDay(ctx, projectID, calendar.Normalize(day))
}

// Today returns the current calendar day of a project.
func (s *Service) Today(ctx context.Context, projectID string) (time.Time, error) {
	project, err := s.workers.GetProject(ctx, projectID)
	if err != nil {
		return time.Time{}, err
	}
	loc := s.policy.Location
	if project != nil {
		loc = project.Location(loc)
	}
	return calendar.Day(s.now(), loc), nil
}
