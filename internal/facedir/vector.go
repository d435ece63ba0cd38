package facedir

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// Embedder turns an image into a face embedding. It returns
// ErrNoFaceDetected when the image has no face.
type Embedder interface {
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
}

// VectorDirectory is a self-hosted Directory: embeddings come from an
// Embedder and are stored in Postgres with pgvector.
type VectorDirectory struct {
	db        *sql.DB
	embedder  Embedder
	threshold float64
	dim       int
	index     *HNSWIndex
	log       *zap.Logger
}

// NewVectorDirectory creates a directory. threshold is in percent.
func NewVectorDirectory(db *sql.DB, embedder Embedder, threshold float64, log *zap.Logger) *VectorDirectory {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &VectorDirectory{db: db, embedder: embedder, threshold: threshold, log: log}
}

// EnsureSchema creates the pgvector extension and the embeddings table.
// It is separate from the core migrations so deployments using the remote
// face service do not need pgvector installed.
func (d *VectorDirectory) EnsureSchema(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS face_embeddings (
			face_ref    TEXT PRIMARY KEY,
			subject_id  TEXT NOT NULL,
			embedding   vector NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_face_embeddings_subject ON face_embeddings (subject_id);
	`)
	if err != nil {
		return fmt.Errorf("ensure face_embeddings schema: %w", err)
	}
	return nil
}

// EnableHNSW loads every stored embedding into an in-memory index used by Search.
func (d *VectorDirectory) EnableHNSW(ctx context.Context) error {
	rows, err := d.db.QueryContext(ctx, `SELECT face_ref, embedding FROM face_embeddings`)
	if err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	all := make(map[string][]float32)
	for rows.Next() {
		var ref string
		var vec pgvector.Vector
		if err := rows.Scan(&ref, &vec); err != nil {
			return fmt.Errorf("scan embedding: %w", err)
		}
		all[ref] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate embeddings: %w", err)
	}

	idx := NewHNSWIndex()
	idx.Build(all)
	d.index = idx
	d.log.Info("face HNSW index built", zap.Int("faces", idx.Len()))
	return nil
}

// SetDimension makes Index and Search reject embeddings of any other length.
// Zero accepts every length.
func (d *VectorDirectory) SetDimension(n int) {
	d.dim = n
}

func (d *VectorDirectory) checkDim(op string, vec []float32) error {
	if d.dim > 0 && len(vec) != d.dim {
		return &ProviderError{Op: op, Err: fmt.Errorf("embedding has %d dimensions, want %d", len(vec), d.dim)}
	}
	return nil
}

// Index implements Directory.
func (d *VectorDirectory) Index(ctx context.Context, image []byte, subjectID string) (string, error) {
	vec, err := d.embedder.EmbedImage(ctx, image)
	if err != nil {
		return "", err
	}
	if err := d.checkDim("index", vec); err != nil {
		return "", err
	}
	ref := uuid.NewString()
	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO face_embeddings (face_ref, subject_id, embedding)
		VALUES ($1, $2, $3)
	`, ref, subjectID, pgvector.NewVector(vec)); err != nil {
		return "", &ProviderError{Op: "index", Transient: true, Err: fmt.Errorf("insert embedding: %w", err)}
	}
	if d.index != nil {
		d.index.Add(ref, vec)
	}
	return ref, nil
}

// Search implements Directory.
func (d *VectorDirectory) Search(ctx context.Context, image []byte) (Match, error) {
	vec, err := d.embedder.EmbedImage(ctx, image)
	if err != nil {
		if errors.Is(err, ErrNoFaceDetected) {
			return Match{}, ErrNoMatch
		}
		return Match{}, err
	}
	if err := d.checkDim("search", vec); err != nil {
		return Match{}, err
	}

	if d.index != nil && d.index.Len() > 0 {
		m, ok, err := d.searchIndex(ctx, vec)
		if err != nil || ok {
			return m, err
		}
	}
	return d.searchTable(ctx, vec)
}

// searchIndex answers from the HNSW index only when its nearest face clears
// the threshold and still has a row. Anything else goes to the table, which
// also sees faces enrolled by other processes.
func (d *VectorDirectory) searchIndex(ctx context.Context, vec []float32) (Match, bool, error) {
	ref, distance, err := d.index.Nearest(vec)
	if err != nil {
		return Match{}, false, nil
	}
	confidence := similarityPercent(distance)
	if confidence < d.threshold {
		return Match{}, false, nil
	}

	var stored bool
	if err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM face_embeddings WHERE face_ref = $1)`, ref,
	).Scan(&stored); err != nil {
		return Match{}, false, &ProviderError{Op: "search", Transient: true, Err: fmt.Errorf("confirm indexed face: %w", err)}
	}
	if !stored {
		d.index.Delete(ref)
		d.log.Info("dropped stale face from HNSW index", zap.String("face_ref", ref))
		return Match{}, false, nil
	}
	return Match{FaceRef: ref, Confidence: confidence}, true, nil
}

func (d *VectorDirectory) searchTable(ctx context.Context, vec []float32) (Match, error) {
	var (
		ref      string
		stored   pgvector.Vector
		distance float64
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT face_ref, embedding, embedding <=> $1::vector AS distance
		FROM face_embeddings
		ORDER BY embedding <=> $1::vector
		LIMIT 1
	`, pgvector.NewVector(vec)).Scan(&ref, &stored, &distance)
	if errors.Is(err, sql.ErrNoRows) {
		return Match{}, ErrNoMatch
	}
	if err != nil {
		return Match{}, &ProviderError{Op: "search", Transient: true, Err: fmt.Errorf("query nearest face: %w", err)}
	}

	confidence := similarityPercent(distance)
	if confidence < d.threshold {
		return Match{}, ErrNoMatch
	}
	if d.index != nil && !d.index.Has(ref) {
		d.index.Add(ref, stored.Slice())
	}
	return Match{FaceRef: ref, Confidence: confidence}, nil
}

// Delete implements Directory.
func (d *VectorDirectory) Delete(ctx context.Context, faceRef string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM face_embeddings WHERE face_ref = $1`, faceRef); err != nil {
		return &ProviderError{Op: "delete", Transient: true, Err: fmt.Errorf("delete embedding: %w", err)}
	}
	if d.index != nil {
		d.index.Delete(faceRef)
	}
	return nil
}

// Entry is one stored face, used by drift reconciliation.
type Entry struct {
	FaceRef   string
	SubjectID string
}

// Entries lists every stored face reference.
func (d *VectorDirectory) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT face_ref, subject_id FROM face_embeddings ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list face embeddings: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.FaceRef, &e.SubjectID); err != nil {
			return nil, fmt.Errorf("scan face embedding: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
