//go:build integration

package facedir

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"siteattend/internal/store/storetest"
)

type tableEmbedder map[string][]float32

func (e tableEmbedder) EmbedImage(_ context.Context, image []byte) ([]float32, error) {
	vec, ok := e[string(image)]
	if !ok {
		return nil, ErrNoFaceDetected
	}
	return vec, nil
}

func TestVectorDirectory_Postgres(t *testing.T) {
	db := storetest.NewPostgres(t)
	ctx := context.Background()

	embedder := tableEmbedder{
		"ravi":       {1, 0, 0},
		"ravi-again": {0.99, 0.02, 0},
		"sita":       {0, 1, 0},
		"stranger":   {0.5, 0.5, 0.7},
	}

	for _, hnsw := range []bool{false, true} {
		name := "sql"
		if hnsw {
			name = "hnsw"
		}
		t.Run(name, func(t *testing.T) {
			if _, err := db.Client.ExecContext(ctx, `DROP TABLE IF EXISTS face_embeddings`); err != nil {
				t.Fatalf("reset: %v", err)
			}
			dir := NewVectorDirectory(db.Client, embedder, 95, zap.NewNop())
			if err := dir.EnsureSchema(ctx); err != nil {
				t.Fatalf("EnsureSchema: %v", err)
			}
			if hnsw {
				if err := dir.EnableHNSW(ctx); err != nil {
					t.Fatalf("EnableHNSW: %v", err)
				}
			}

			raviRef, err := dir.Index(ctx, []byte("ravi"), "W1")
			if err != nil {
				t.Fatalf("Index ravi: %v", err)
			}
			if _, err := dir.Index(ctx, []byte("sita"), "W2"); err != nil {
				t.Fatalf("Index sita: %v", err)
			}
			if _, err := dir.Index(ctx, []byte("blank wall"), "W3"); !errors.Is(err, ErrNoFaceDetected) {
				t.Errorf("Index without face: got %v", err)
			}

			m, err := dir.Search(ctx, []byte("ravi-again"))
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if m.FaceRef != raviRef || m.Confidence < 95 {
				t.Errorf("Search: got %+v, want %s", m, raviRef)
			}
			if _, err := dir.Search(ctx, []byte("stranger")); !errors.Is(err, ErrNoMatch) {
				t.Errorf("stranger: got %v, want ErrNoMatch", err)
			}

			entries, err := dir.Entries(ctx)
			if err != nil || len(entries) != 2 {
				t.Fatalf("Entries: %v %v", entries, err)
			}

			if err := dir.Delete(ctx, raviRef); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := dir.Delete(ctx, raviRef); err != nil {
				t.Errorf("second Delete must succeed: %v", err)
			}
			if m, err := dir.Search(ctx, []byte("ravi-again")); !errors.Is(err, ErrNoMatch) {
				t.Errorf("deleted face still matches: %+v %v", m, err)
			}
		})
	}
}

func TestVectorDirectory_HNSWFollowsTable(t *testing.T) {
	db := storetest.NewPostgres(t)
	ctx := context.Background()

	embedder := tableEmbedder{
		"ravi":       {1, 0, 0},
		"ravi-again": {0.99, 0.02, 0},
		"sita":       {0, 1, 0},
		"sita-again": {0.02, 0.99, 0},
	}
	if _, err := db.Client.ExecContext(ctx, `DROP TABLE IF EXISTS face_embeddings`); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// Two directories over one table, as two API replicas would be.
	local := NewVectorDirectory(db.Client, embedder, 95, zap.NewNop())
	remote := NewVectorDirectory(db.Client, embedder, 95, zap.NewNop())
	if err := local.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	raviRef, err := local.Index(ctx, []byte("ravi"), "W1")
	if err != nil {
		t.Fatalf("Index ravi: %v", err)
	}
	if err := local.EnableHNSW(ctx); err != nil {
		t.Fatalf("EnableHNSW: %v", err)
	}

	t.Run("row added elsewhere", func(t *testing.T) {
		sitaRef, err := remote.Index(ctx, []byte("sita"), "W2")
		if err != nil {
			t.Fatalf("remote Index: %v", err)
		}
		m, err := local.Search(ctx, []byte("sita-again"))
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if m.FaceRef != sitaRef {
			t.Errorf("FaceRef: got %q, want %q", m.FaceRef, sitaRef)
		}
		if !local.index.Has(sitaRef) {
			t.Error("face found in table was not added to index")
		}
	})

	t.Run("row removed elsewhere", func(t *testing.T) {
		if err := remote.Delete(ctx, raviRef); err != nil {
			t.Fatalf("remote Delete: %v", err)
		}
		if m, err := local.Search(ctx, []byte("ravi-again")); !errors.Is(err, ErrNoMatch) {
			t.Fatalf("stale indexed face matched: %+v %v", m, err)
		}
		if local.index.Has(raviRef) {
			t.Error("stale face still in index")
		}
	})
}
