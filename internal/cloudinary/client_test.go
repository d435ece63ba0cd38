package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSign_ExcludesKeyAndSortsParams(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{
		"timestamp": "100",
		"folder":    "a/b",
		"api_key":   "key",
		"file":      "ignored",
	})

	want := fmt.Sprintf("%x", sha1.Sum([]byte("folder=a/b&timestamp=100secret")))
	if got != want {
		t.Errorf("sign() = %s, want %s", got, want)
	}
}

func TestJoinFolder(t *testing.T) {
	tests := []struct {
		base, sub, want string
	}{
		{"", "", ""},
		{"siteattend", "", "siteattend"},
		{"", "checkins", "checkins"},
		{"/siteattend/", "/checkins/p1/", "siteattend/checkins/p1"},
	}
	for _, tt := range tests {
		if got := joinFolder(tt.base, tt.sub); got != tt.want {
			t.Errorf("joinFolder(%q, %q) = %q, want %q", tt.base, tt.sub, got, tt.want)
		}
	}
}

func TestPut_UploadsSignedMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1_1/demo/image/upload" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("folder") != "siteattend/checkins" {
			t.Errorf("folder: got %q", r.FormValue("folder"))
		}
		if r.FormValue("signature") == "" {
			t.Error("missing signature")
		}
		if r.FormValue("overwrite") != "false" {
			t.Error("uploads must never overwrite")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"public_id":"abc","secure_url":"https://res.example/abc.jpg"}`)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "siteattend")
	c.APIBase = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	url, err := c.Put(context.Background(), []byte("jpeg"), "checkins", "capture.jpg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "https://res.example/abc.jpg" {
		t.Errorf("url: got %q", url)
	}
}

func TestPut_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.APIBase = srv.URL

	_, err := c.Put(context.Background(), []byte("jpeg"), "", "x.jpg")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}
