package workforce

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"siteattend/internal/calendar"
	"siteattend/internal/facedir"
	"siteattend/internal/imagecheck"
	"siteattend/internal/metrics"
)

// Store is the persistence the lifecycle operations need.
type Store interface {
	CreateWorker(ctx context.Context, in NewWorker) (Worker, error)
	GetWorker(ctx context.Context, id string) (*Worker, error)
	FindByFaceRef(ctx context.Context, faceRef string) (*Worker, error)
	FindByName(ctx context.Context, name string) ([]Worker, error)
	SetFace(ctx context.Context, workerID, faceRef string, photoURL *string) error
	ClearFace(ctx context.Context, workerID, faceRef string) error
	Deactivate(ctx context.Context, workerID string, day time.Time, projectDays map[string]time.Time) error
	DeleteCascade(ctx context.Context, workerID string) (*Worker, error)
	CreateProject(ctx context.Context, p Project) (Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	Assign(ctx context.Context, a Assignment) (Assignment, error)
	CloseAssignment(ctx context.Context, workerID, assignmentID string, end time.Time) error
	AssignmentsFor(ctx context.Context, workerID, projectID string) ([]Assignment, error)
	OpenAssignments(ctx context.Context, workerID string) ([]Assignment, error)
	AddAdvance(ctx context.Context, adv Advance) (Advance, error)
}

// PhotoStore keeps photos and returns their URL.
type PhotoStore interface {
	Put(ctx context.Context, data []byte, subfolder, filename string) (string, error)
}

// FaceCleanup schedules a face reference for deletion later.
type FaceCleanup interface {
	EnqueueFaceDelete(ctx context.Context, faceRef string) error
}

// enqueueTimeout bounds handing a face deletion to the cleanup queue.
const enqueueTimeout = 5 * time.Second

// Options configures optional collaborators of Service.
type Options struct {
	Photos        PhotoStore
	Cleanup       FaceCleanup
	Location      *time.Location
	MaxPhotoBytes int
	Clock         func() time.Time
}

// Service runs worker lifecycle operations that span the store and the
// face directory.
type Service struct {
	store   Store
	faces   facedir.Directory
	photos  PhotoStore
	cleanup FaceCleanup
	log     *zap.Logger
	loc     *time.Location
	maxSize int
	now     func() time.Time
}

// NewService wires a Service.
func NewService(store Store, faces facedir.Directory, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		store:   store,
		faces:   faces,
		photos:  opts.Photos,
		cleanup: opts.Cleanup,
		log:     log,
		loc:     opts.Location,
		maxSize: opts.MaxPhotoBytes,
		now:     opts.Clock,
	}
}

func (s *Service) today() time.Time {
	return calendar.Day(s.now(), s.loc)
}

// projectToday is today on the project's site. Projects without a timezone,
// and an empty projectID, use the service location.
func (s *Service) projectToday(ctx context.Context, projectID string) (time.Time, error) {
	if projectID == "" {
		return s.today(), nil
	}
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return time.Time{}, err
	}
	if p == nil {
		return s.today(), nil
	}
	return calendar.Day(s.now(), p.Location(s.loc)), nil
}

// CreateWorker validates and stores a worker.
func (s *Service) CreateWorker(ctx context.Context, in NewWorker) (Worker, error) {
	if err := in.Validate(); err != nil {
		return Worker{}, err
	}
	return s.store.CreateWorker(ctx, in)
}

// GetWorker returns a worker or ErrNotFound.
func (s *Service) GetWorker(ctx context.Context, id string) (Worker, error) {
	w, err := s.store.GetWorker(ctx, id)
	if err != nil {
		return Worker{}, err
	}
	if w == nil {
		return Worker{}, ErrNotFound
	}
	return *w, nil
}

// FindByName looks workers up by accent and case insensitive name.
func (s *Service) FindByName(ctx context.Context, name string) ([]Worker, error) {
	return s.store.FindByName(ctx, name)
}

// EnrollFace indexes the face in photo for the worker and stores the new
// reference. A previous reference is removed from the directory.
func (s *Service) EnrollFace(ctx context.Context, workerID string, photo []byte) (Worker, error) {
	info, err := imagecheck.Validate(photo, s.maxSize)
	if err != nil {
		return Worker{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	w, err := s.GetWorker(ctx, workerID)
	if err != nil {
		return Worker{}, err
	}
	if !w.Active {
		return Worker{}, ErrInactive
	}

	ref, err := s.faces.Index(ctx, photo, w.ID)
	if err != nil {
		metrics.Enrollments.WithLabelValues(enrollResult(err)).Inc()
		return Worker{}, err
	}

	var photoURL *string
	if s.photos != nil {
		url, err := s.photos.Put(ctx, photo, "workers/"+w.ID, "face"+info.Ext())
		if err != nil {
			s.log.Warn("profile photo upload failed", zap.String("worker_id", w.ID), zap.Error(err))
		} else {
			photoURL = &url
		}
	}

	if err := s.store.SetFace(ctx, w.ID, ref, photoURL); err != nil {
		metrics.Enrollments.WithLabelValues("store_error").Inc()
		s.removeFace(ctx, ref)
		return Worker{}, fmt.Errorf("save face reference: %w", err)
	}
	if w.HasFace() && *w.FaceRef != ref {
		s.removeFace(ctx, *w.FaceRef)
	}
	metrics.Enrollments.WithLabelValues("ok").Inc()
	s.log.Info("face enrolled", zap.String("worker_id", w.ID), zap.String("face_ref", ref))

	w.FaceRef = &ref
	if photoURL != nil {
		w.PhotoURL = photoURL
	}
	return w, nil
}

func enrollResult(err error) string {
	switch {
	case errors.Is(err, facedir.ErrNoFaceDetected):
		return "no_face"
	case facedir.IsProviderError(err):
		return "provider_error"
	default:
		return "error"
	}
}

// ClearFace removes the worker's enrolled face.
func (s *Service) ClearFace(ctx context.Context, workerID string) error {
	w, err := s.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	if !w.HasFace() {
		return nil
	}
	if err := s.store.ClearFace(ctx, w.ID, *w.FaceRef); err != nil {
		return err
	}
	s.removeFace(ctx, *w.FaceRef)
	return nil
}

// Deactivate stops a worker from being marked and closes open assignments
// on today's date at each project's site.
func (s *Service) Deactivate(ctx context.Context, workerID string) error {
	open, err := s.store.OpenAssignments(ctx, workerID)
	if err != nil {
		return err
	}
	days := make(map[string]time.Time, len(open))
	for _, a := range open {
		if _, ok := days[a.ProjectID]; ok {
			continue
		}
		day, err := s.projectToday(ctx, a.ProjectID)
		if err != nil {
			return err
		}
		days[a.ProjectID] = day
	}
	return s.store.Deactivate(ctx, workerID, s.today(), days)
}

// DeleteWorker removes the worker and everything referencing it, then
// removes the enrolled face. A face that cannot be removed now is queued.
func (s *Service) DeleteWorker(ctx context.Context, workerID string) error {
	w, err := s.store.DeleteCascade(ctx, workerID)
	if err != nil {
		return err
	}
	s.log.Info("worker deleted", zap.String("worker_id", w.ID))
	if w.HasFace() {
		s.removeFace(ctx, *w.FaceRef)
	}
	return nil
}

// removeFace deletes ref from the directory, queueing it when that fails.
func (s *Service) removeFace(ctx context.Context, ref string) {
	err := s.faces.Delete(ctx, ref)
	if err == nil {
		return
	}
	s.log.Warn("face delete failed", zap.String("face_ref", ref), zap.Error(err))
	if s.cleanup == nil {
		return
	}
	// Detached from the request, but bounded.
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()
	if err := s.cleanup.EnqueueFaceDelete(enqueueCtx, ref); err != nil {
		s.log.Error("face cleanup enqueue failed", zap.String("face_ref", ref), zap.Error(err))
	}
}

// CreateProject stores a project after checking its timezone.
func (s *Service) CreateProject(ctx context.Context, p Project) (Project, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return Project{}, invalid("project name is required")
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return Project{}, invalid("unknown timezone %q", p.Timezone)
		}
	}
	return s.store.CreateProject(ctx, p)
}

// GetProject returns a project or ErrNotFound.
func (s *Service) GetProject(ctx context.Context, id string) (Project, error) {
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return Project{}, err
	}
	if p == nil {
		return Project{}, ErrNotFound
	}
	return *p, nil
}

// Assign opens an assignment for an active worker. A zero start means today.
func (s *Service) Assign(ctx context.Context, a Assignment) (Assignment, error) {
	w, err := s.GetWorker(ctx, a.WorkerID)
	if err != nil {
		return Assignment{}, err
	}
	if !w.Active {
		return Assignment{}, ErrInactive
	}
	p, err := s.GetProject(ctx, a.ProjectID)
	if err != nil {
		return Assignment{}, err
	}
	if a.StartDate.IsZero() {
		a.StartDate = calendar.Day(s.now(), p.Location(s.loc))
	}
	a.StartDate = calendar.Normalize(a.StartDate)
	if a.EndDate != nil {
		end := calendar.Normalize(*a.EndDate)
		if end.Before(a.StartDate) {
			return Assignment{}, invalid("end_date before start_date")
		}
		a.EndDate = &end
	}
	return s.store.Assign(ctx, a)
}

// CloseAssignment ends an open assignment on end, inclusive. A zero end
// means today at the assignment's project.
func (s *Service) CloseAssignment(ctx context.Context, workerID, assignmentID string, end time.Time) error {
	if end.IsZero() {
		open, err := s.store.OpenAssignments(ctx, workerID)
		if err != nil {
			return err
		}
		i := slices.IndexFunc(open, func(a Assignment) bool { return a.ID == assignmentID })
		if i < 0 {
			return ErrNotFound
		}
		if end, err = s.projectToday(ctx, open[i].ProjectID); err != nil {
			return err
		}
	}
	return s.store.CloseAssignment(ctx, workerID, assignmentID, calendar.Normalize(end))
}

// AddAdvance records money given to or settled with a worker.
func (s *Service) AddAdvance(ctx context.Context, adv Advance) (Advance, error) {
	if err := adv.Validate(); err != nil {
		return Advance{}, err
	}
	if adv.Day.IsZero() {
		var projectID string
		if adv.ProjectID != nil {
			projectID = *adv.ProjectID
		}
		day, err := s.projectToday(ctx, projectID)
		if err != nil {
			return Advance{}, err
		}
		adv.Day = day
	}
	adv.Day = calendar.Normalize(adv.Day)
	return s.store.AddAdvance(ctx, adv)
}
