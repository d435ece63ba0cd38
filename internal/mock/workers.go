package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"siteattend/internal/attendance"
	"siteattend/internal/calendar"
	"siteattend/internal/workforce"
)

// MockWorkforce is an in-memory workforce.Store that also serves as the
// attendance.Workers view.
type MockWorkforce struct {
	mu          sync.Mutex
	workers     map[string]*workforce.Worker
	projects    map[string]*workforce.Project
	assignments []workforce.Assignment
	advances    []workforce.Advance
	seq         int

	// Ledger, when set, loses the worker's records on DeleteCascade.
	Ledger *MockLedger

	// Error injection
	GetError     error
	SetFaceError error
	DeleteError  error
}

// NewMockWorkforce creates an empty store.
func NewMockWorkforce() *MockWorkforce {
	return &MockWorkforce{
		workers:  make(map[string]*workforce.Worker),
		projects: make(map[string]*workforce.Project),
	}
}

func (m *MockWorkforce) next(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// AddWorker stores an active worker, optionally with a face reference.
func (m *MockWorkforce) AddWorker(id, name, faceRef string) *workforce.Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &workforce.Worker{
		ID: id, Name: name, NameNormalized: workforce.NormalizeName(name),
		PayMode: workforce.PayDaily, PayRate: 800, Active: true, CreatedAt: time.Now(),
	}
	if faceRef != "" {
		w.FaceRef = &faceRef
	}
	m.workers[id] = w
	return w
}

// AddProject stores a project.
func (m *MockWorkforce) AddProject(id, timezone string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[id] = &workforce.Project{ID: id, Name: id, Timezone: timezone, CreatedAt: time.Now()}
}

// AddAssignment stores an assignment. A nil end is open-ended.
func (m *MockWorkforce) AddAssignment(workerID, projectID string, start time.Time, end *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, workforce.Assignment{
		ID: m.next("asg"), WorkerID: workerID, ProjectID: projectID, StartDate: calendar.Normalize(start), EndDate: end,
	})
}

// Worker returns a copy of the stored worker, or nil.
func (m *MockWorkforce) Worker(id string) *workforce.Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[id]; ok {
		cp := *w
		return &cp
	}
	return nil
}

// Assignments returns every stored assignment of a worker.
func (m *MockWorkforce) Assignments(workerID string) []workforce.Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []workforce.Assignment
	for _, a := range m.assignments {
		if a.WorkerID == workerID {
			out = append(out, a)
		}
	}
	return out
}

// Advances returns the number of stored advances.
func (m *MockWorkforce) Advances() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.advances)
}

// CreateWorker implements workforce.Store.
func (m *MockWorkforce) CreateWorker(ctx context.Context, in workforce.NewWorker) (workforce.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.ID == "" {
		in.ID = m.next("w")
	}
	if _, ok := m.workers[in.ID]; ok {
		return workforce.Worker{}, fmt.Errorf("%w: worker %s already exists", workforce.ErrInvalid, in.ID)
	}
	w := workforce.Worker{
		ID: in.ID, Name: in.Name, NameNormalized: workforce.NormalizeName(in.Name),
		PayMode: in.PayMode, PayRate: in.PayRate, Active: true, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	m.workers[w.ID] = &w
	return w, nil
}

// GetWorker implements workforce.Store.
func (m *MockWorkforce) GetWorker(ctx context.Context, id string) (*workforce.Worker, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	return m.Worker(id), nil
}

// FindByFaceRef implements workforce.Store.
func (m *MockWorkforce) FindByFaceRef(ctx context.Context, faceRef string) (*workforce.Worker, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workers {
		if w.FaceRef != nil && *w.FaceRef == faceRef {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

// FindByName implements workforce.Store.
func (m *MockWorkforce) FindByName(ctx context.Context, name string) ([]workforce.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	norm := workforce.NormalizeName(name)
	var out []workforce.Worker
	for _, w := range m.workers {
		if w.NameNormalized == norm {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetFace implements workforce.Store.
func (m *MockWorkforce) SetFace(ctx context.Context, workerID, faceRef string, photoURL *string) error {
	if m.SetFaceError != nil {
		return m.SetFaceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		return workforce.ErrNotFound
	}
	w.FaceRef = &faceRef
	if photoURL != nil {
		w.PhotoURL = photoURL
	}
	return nil
}

// ClearFace implements workforce.Store.
func (m *MockWorkforce) ClearFace(ctx context.Context, workerID, faceRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[workerID]; ok && w.FaceRef != nil && *w.FaceRef == faceRef {
		w.FaceRef = nil
	}
	return nil
}

// Deactivate implements workforce.Store.
func (m *MockWorkforce) Deactivate(ctx context.Context, workerID string, day time.Time, projectDays map[string]time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		return workforce.ErrNotFound
	}
	w.Active = false
	for i := range m.assignments {
		a := &m.assignments[i]
		if a.WorkerID == workerID && a.EndDate == nil {
			end, ok := projectDays[a.ProjectID]
			if !ok {
				end = day
			}
			if end.Before(a.StartDate) {
				end = a.StartDate
			}
			a.EndDate = &end
		}
	}
	return nil
}

// DeleteCascade implements workforce.Store.
func (m *MockWorkforce) DeleteCascade(ctx context.Context, workerID string) (*workforce.Worker, error) {
	if m.DeleteError != nil {
		return nil, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		return nil, workforce.ErrNotFound
	}
	delete(m.workers, workerID)

	kept := m.assignments[:0]
	for _, a := range m.assignments {
		if a.WorkerID != workerID {
			kept = append(kept, a)
		}
	}
	m.assignments = kept

	advances := m.advances[:0]
	for _, a := range m.advances {
		if a.WorkerID != workerID {
			advances = append(advances, a)
		}
	}
	m.advances = advances

	if m.Ledger != nil {
		m.Ledger.deleteWorker(workerID)
	}
	return w, nil
}

// CreateProject implements workforce.Store.
func (m *MockWorkforce) CreateProject(ctx context.Context, p workforce.Project) (workforce.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = m.next("p")
	}
	p.CreatedAt = time.Now()
	m.projects[p.ID] = &p
	return p, nil
}

// GetProject implements workforce.Store.
func (m *MockWorkforce) GetProject(ctx context.Context, id string) (*workforce.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

// Assign implements workforce.Store, including the open-assignment uniqueness.
func (m *MockWorkforce) Assign(ctx context.Context, a workforce.Assignment) (workforce.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.EndDate == nil {
		for _, existing := range m.assignments {
			if existing.WorkerID == a.WorkerID && existing.ProjectID == a.ProjectID && existing.EndDate == nil {
				return workforce.Assignment{}, workforce.ErrAlreadyAssigned
			}
		}
	}
	if a.ID == "" {
		a.ID = m.next("asg")
	}
	a.CreatedAt = time.Now()
	m.assignments = append(m.assignments, a)
	return a, nil
}

// CloseAssignment implements workforce.Store.
func (m *MockWorkforce) CloseAssignment(ctx context.Context, workerID, assignmentID string, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.assignments {
		a := &m.assignments[i]
		if a.ID == assignmentID && a.WorkerID == workerID && a.EndDate == nil && !end.Before(a.StartDate) {
			a.EndDate = &end
			return nil
		}
	}
	return workforce.ErrNotFound
}

// AssignmentsFor implements workforce.Store.
func (m *MockWorkforce) AssignmentsFor(ctx context.Context, workerID, projectID string) ([]workforce.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []workforce.Assignment
	for _, a := range m.assignments {
		if a.WorkerID == workerID && a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	return out, nil
}

// OpenAssignments implements workforce.Store.
func (m *MockWorkforce) OpenAssignments(ctx context.Context, workerID string) ([]workforce.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []workforce.Assignment
	for _, a := range m.assignments {
		if a.WorkerID == workerID && a.EndDate == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

// AddAdvance implements workforce.Store.
func (m *MockWorkforce) AddAdvance(ctx context.Context, adv workforce.Advance) (workforce.Advance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[adv.WorkerID]; !ok {
		return workforce.Advance{}, workforce.ErrNotFound
	}
	if adv.ID == "" {
		adv.ID = m.next("adv")
	}
	adv.CreatedAt = time.Now()
	m.advances = append(m.advances, adv)
	return adv, nil
}

func (m *MockLedger) deleteWorker(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.records {
		if r.WorkerID == workerID {
			delete(m.records, k)
		}
	}
}

var (
	_ workforce.Store    = (*MockWorkforce)(nil)
	_ attendance.Workers = (*MockWorkforce)(nil)
)
