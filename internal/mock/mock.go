// Package mock provides in-memory implementations of the service
// dependencies for testing.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"time"

	"siteattend/internal/attendance"
	"siteattend/internal/calendar"
	"siteattend/internal/facedir"
	"siteattend/internal/workforce"
)

// Photo returns a valid PNG that is distinct for every seed.
func Photo(seed int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 96, 96))
	c := color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed * 7), A: 255}
	for y := 0; y < 96; y++ {
		for x := 0; x < 96; x++ {
			img.Set(x, y, c)
		}
	}
	img.Set(seed%96, 0, color.RGBA{A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func key(workerID, projectID string, day time.Time) string {
	return workerID + "|" + projectID + "|" + calendar.Format(day)
}

// MockLedger is an in-memory attendance.Ledger. It enforces the
// (worker, project, day) uniqueness the database constraint provides.
type MockLedger struct {
	mu      sync.Mutex
	records map[string]*attendance.Record
	seq     int

	// Error injection
	FindError     error
	MarkError     error
	CheckoutError error
	UpsertError   error
	ListError     error

	// MarkCalls counts MarkPresent invocations.
	MarkCalls int
}

// NewMockLedger creates an empty ledger.
func NewMockLedger() *MockLedger {
	return &MockLedger{records: make(map[string]*attendance.Record)}
}

// Put stores rec directly, replacing any row with the same key.
func (m *MockLedger) Put(rec attendance.Record) attendance.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		m.seq++
		rec.ID = fmt.Sprintf("rec-%d", m.seq)
	}
	rec.Day = calendar.Normalize(rec.Day)
	m.records[key(rec.WorkerID, rec.ProjectID, rec.Day)] = &rec
	return rec
}

// All returns every stored record.
func (m *MockLedger) All() []attendance.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]attendance.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Find returns the record for (worker, project, day), or nil.
func (m *MockLedger) Find(ctx context.Context, workerID, projectID string, day time.Time) (*attendance.Record, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[key(workerID, projectID, day)]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

// MarkPresent inserts or flips a record to present atomically.
func (m *MockLedger) MarkPresent(ctx context.Context, rec attendance.Record) (attendance.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MarkCalls++
	if m.MarkError != nil {
		return attendance.Record{}, false, m.MarkError
	}
	k := key(rec.WorkerID, rec.ProjectID, rec.Day)
	if existing, ok := m.records[k]; ok {
		if existing.Present {
			return *existing, false, nil
		}
		existing.Present = true
		existing.HoursWorked = rec.HoursWorked
		existing.PhotoURL = rec.PhotoURL
		existing.MatchConfidence = rec.MatchConfidence
		existing.Source = rec.Source
		existing.UpdatedAt = time.Now()
		return *existing, true, nil
	}
	m.seq++
	rec.ID = fmt.Sprintf("rec-%d", m.seq)
	rec.Day = calendar.Normalize(rec.Day)
	rec.Present = true
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	m.records[k] = &rec
	return rec, true, nil
}

// SetCheckout stores the check-out photo once.
func (m *MockLedger) SetCheckout(ctx context.Context, recordID string, photoURL *string, at time.Time) (attendance.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CheckoutError != nil {
		return attendance.Record{}, false, m.CheckoutError
	}
	for _, r := range m.records {
		if r.ID != recordID {
			continue
		}
		if r.CheckedOutAt != nil {
			return *r, false, nil
		}
		r.CheckoutPhotoURL = photoURL
		r.CheckedOutAt = &at
		return *r, true, nil
	}
	return attendance.Record{}, false, fmt.Errorf("record %s not found", recordID)
}

// UpsertDay writes manual rows keyed by (worker, project, day).
func (m *MockLedger) UpsertDay(ctx context.Context, projectID string, day time.Time, entries []attendance.DayEntry) ([]attendance.Record, error) {
	if m.UpsertError != nil {
		return nil, m.UpsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]attendance.Record, 0, len(entries))
	for _, e := range entries {
		k := key(e.WorkerID, projectID, day)
		r, ok := m.records[k]
		if !ok {
			m.seq++
			r = &attendance.Record{
				ID: fmt.Sprintf("rec-%d", m.seq), WorkerID: e.WorkerID, ProjectID: projectID,
				Day: calendar.Normalize(day), Source: attendance.SourceManual, CreatedAt: time.Now(),
			}
			m.records[k] = r
		}
		r.Present = e.Present
		r.HoursWorked = e.HoursWorked
		r.OvertimeHours = e.OvertimeHours
		r.UpdatedAt = time.Now()
		out = append(out, *r)
	}
	return out, nil
}

// ListDay returns the records of a project on day.
func (m *MockLedger) ListDay(ctx context.Context, projectID string, day time.Time) ([]attendance.Record, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []attendance.Record
	for _, r := range m.records {
		if r.ProjectID == projectID && r.Day.Equal(calendar.Normalize(day)) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

// MockFaceDirectory is an in-memory facedir.Directory keyed by photo bytes.
type MockFaceDirectory struct {
	mu       sync.Mutex
	subjects map[string]string // face ref -> subject
	photos   map[string]string // photo bytes -> face ref
	seq      int

	// Confidence reported on a hit; defaults to 99.
	Confidence float64

	// Error injection
	IndexError  error
	SearchError error
	DeleteError error

	SearchCalls int
	Deleted     []string
}

// NewMockFaceDirectory creates an empty directory.
func NewMockFaceDirectory() *MockFaceDirectory {
	return &MockFaceDirectory{
		subjects:   make(map[string]string),
		photos:     make(map[string]string),
		Confidence: 99,
	}
}

// Enroll registers photo under faceRef without going through Index.
func (m *MockFaceDirectory) Enroll(photo []byte, faceRef, subjectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[faceRef] = subjectID
	m.photos[string(photo)] = faceRef
}

// Has reports whether faceRef is enrolled.
func (m *MockFaceDirectory) Has(faceRef string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subjects[faceRef]
	return ok
}

// Index enrolls photo and returns a new reference.
func (m *MockFaceDirectory) Index(ctx context.Context, photo []byte, subjectID string) (string, error) {
	if m.IndexError != nil {
		return "", m.IndexError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ref := fmt.Sprintf("face-%d", m.seq)
	m.subjects[ref] = subjectID
	m.photos[string(photo)] = ref
	return ref, nil
}

// Search returns the reference enrolled with the same photo.
func (m *MockFaceDirectory) Search(ctx context.Context, photo []byte) (facedir.Match, error) {
	m.mu.Lock()
	m.SearchCalls++
	m.mu.Unlock()
	if m.SearchError != nil {
		return facedir.Match{}, m.SearchError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.photos[string(photo)]
	if !ok {
		return facedir.Match{}, facedir.ErrNoMatch
	}
	if _, live := m.subjects[ref]; !live {
		return facedir.Match{}, facedir.ErrNoMatch
	}
	return facedir.Match{FaceRef: ref, Confidence: m.Confidence}, nil
}

// Delete removes a reference; absent references succeed.
func (m *MockFaceDirectory) Delete(ctx context.Context, faceRef string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subjects, faceRef)
	m.Deleted = append(m.Deleted, faceRef)
	return nil
}

// MockPhotoStore records uploads.
type MockPhotoStore struct {
	mu      sync.Mutex
	Uploads []string

	PutError error
}

// Put stores nothing and returns a deterministic URL.
func (m *MockPhotoStore) Put(ctx context.Context, data []byte, subfolder, filename string) (string, error) {
	if m.PutError != nil {
		return "", m.PutError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	url := fmt.Sprintf("https://photos.test/%s/%d-%s", subfolder, len(m.Uploads)+1, filename)
	m.Uploads = append(m.Uploads, url)
	return url, nil
}

// Count returns the number of uploads.
func (m *MockPhotoStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Uploads)
}

// MockCleanup records queued face deletions.
type MockCleanup struct {
	mu     sync.Mutex
	Queued []string

	EnqueueError error
}

// EnqueueFaceDelete implements workforce.FaceCleanup.
func (m *MockCleanup) EnqueueFaceDelete(ctx context.Context, faceRef string) error {
	if m.EnqueueError != nil {
		return m.EnqueueError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queued = append(m.Queued, faceRef)
	return nil
}

var (
	_ attendance.Ledger     = (*MockLedger)(nil)
	_ facedir.Directory     = (*MockFaceDirectory)(nil)
	_ attendance.PhotoStore = (*MockPhotoStore)(nil)
	_ workforce.PhotoStore  = (*MockPhotoStore)(nil)
	_ workforce.FaceCleanup = (*MockCleanup)(nil)
)
