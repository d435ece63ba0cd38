package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTokenBucket_ExhaustsAndRefills(t *testing.T) {
	clock := time.Unix(1700000000, 0)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		if !l.allow("k") {
			t.Fatalf("request %d denied", i)
		}
	}
	if l.allow("k") {
		t.Fatal("third request allowed past capacity")
	}
	if !l.allow("other") {
		t.Error("keys must not share buckets")
	}

	clock = clock.Add(2 * time.Second)
	if !l.allow("k") {
		t.Error("bucket did not refill")
	}
}

type stubLimiter struct {
	ok  bool
	err error
	key string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.key = key
	return s.ok, s.err
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name string
		lim  *stubLimiter
		want int
	}{
		{"allowed", &stubLimiter{ok: true}, http.StatusOK},
		{"denied", &stubLimiter{ok: false}, http.StatusTooManyRequests},
		{"limiter down fails open", &stubLimiter{err: errors.New("redis down")}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(Middleware(tt.lim, SubjectOrIP, nil))
			r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.RemoteAddr = "10.0.0.7:5555"
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d", w.Code, tt.want)
			}
			if tt.lim.key != "ip:10.0.0.7" {
				t.Errorf("key: got %q, want ip:10.0.0.7", tt.lim.key)
			}
		})
	}
}
