package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"siteattend/internal/facedir"
)

// SearchMatch represents a face match from gallery search.
type SearchMatch struct {
	UserID     string  `json:"user_id"`
	FaceRef    string  `json:"face_ref"`
	Similarity float64 `json:"similarity"`
}

// Client calls the face recognition microservice. It implements
// facedir.Directory and facedir.Embedder.
type Client struct {
	BaseURL   string
	HTTP      *http.Client
	Threshold float64 // percent
}

// New creates a client. Per-call deadlines come from the caller's context;
// the HTTP timeout is only a backstop.
func New(baseURL string, threshold float64) *Client {
	if threshold <= 0 {
		threshold = facedir.DefaultThreshold
	}
	return &Client{
		BaseURL:   baseURL,
		Threshold: threshold,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Index enrolls the best face in image under subjectID.
func (c *Client) Index(ctx context.Context, image []byte, subjectID string) (string, error) {
	var out struct {
		UserID        string `json:"user_id"`
		FaceRef       string `json:"face_ref"`
		Success       bool   `json:"success"`
		FacesDetected int    `json:"faces_detected"`
		Message       string `json:"message"`
	}
	status, err := c.postImage(ctx, "index", "/enroll", image, map[string]string{"user_id": subjectID}, &out)
	if status == http.StatusUnprocessableEntity {
		return "", facedir.ErrNoFaceDetected
	}
	if err != nil {
		return "", err
	}
	if out.FacesDetected == 0 || !out.Success {
		return "", facedir.ErrNoFaceDetected
	}
	ref := out.FaceRef
	if ref == "" {
		ref = out.UserID
	}
	if ref == "" {
		return "", &facedir.ProviderError{Op: "index", Err: fmt.Errorf("enroll response without face reference")}
	}
	return ref, nil
}

// Search performs 1:N identification and returns the single best match at or
// above the client threshold.
func (c *Client) Search(ctx context.Context, image []byte) (facedir.Match, error) {
	var out struct {
		Matches       []SearchMatch `json:"matches"`
		FacesDetected int           `json:"faces_detected"`
	}
	fields := map[string]string{
		"top_k":     "1",
		"threshold": strconv.FormatFloat(c.Threshold/100, 'f', 4, 64),
	}
	status, err := c.postImage(ctx, "search", "/search", image, fields, &out)
	if status == http.StatusUnprocessableEntity {
		return facedir.Match{}, facedir.ErrNoMatch
	}
	if err != nil {
		return facedir.Match{}, err
	}

	var best *SearchMatch
	for i := range out.Matches {
		if best == nil || out.Matches[i].Similarity > best.Similarity {
			best = &out.Matches[i]
		}
	}
	if best == nil {
		return facedir.Match{}, facedir.ErrNoMatch
	}
	confidence := best.Similarity * 100
	if confidence < c.Threshold {
		return facedir.Match{}, facedir.ErrNoMatch
	}
	ref := best.FaceRef
	if ref == "" {
		ref = best.UserID
	}
	return facedir.Match{FaceRef: ref, Confidence: confidence}, nil
}

// Delete removes an enrolled face. A missing face is not an error.
func (c *Client) Delete(ctx context.Context, faceRef string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/gallery/"+url.PathEscape(faceRef), nil)
	if err != nil {
		return &facedir.ProviderError{Op: "delete", Err: err}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &facedir.ProviderError{Op: "delete", Transient: true, Err: fmt.Errorf("face service request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		return statusError("delete", resp)
	}
	return nil
}

// EmbedImage returns the embedding of the most prominent face.
func (c *Client) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	var out struct {
		Embedding     []float32 `json:"embedding"`
		FacesDetected int       `json:"faces_detected"`
	}
	status, err := c.postImage(ctx, "embed", "/embed", image, nil, &out)
	if status == http.StatusUnprocessableEntity {
		return nil, facedir.ErrNoFaceDetected
	}
	if err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 || out.FacesDetected == 0 {
		return nil, facedir.ErrNoFaceDetected
	}
	return out.Embedding, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// postImage sends image as the multipart "photo" field with extra form
// fields and decodes a JSON response into out. It returns the HTTP status
// when a response arrived.
func (c *Client) postImage(ctx context.Context, op, path string, image []byte, fields map[string]string, out any) (int, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return 0, &facedir.ProviderError{Op: op, Err: err}
		}
	}
	part, err := w.CreateFormFile("photo", "capture.jpg")
	if err != nil {
		return 0, &facedir.ProviderError{Op: op, Err: err}
	}
	if _, err := part.Write(image); err != nil {
		return 0, &facedir.ProviderError{Op: op, Err: err}
	}
	if err := w.Close(); err != nil {
		return 0, &facedir.ProviderError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &buf)
	if err != nil {
		return 0, &facedir.ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, &facedir.ProviderError{Op: op, Transient: true, Err: fmt.Errorf("face service request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, statusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, &facedir.ProviderError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return resp.StatusCode, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return &facedir.ProviderError{
		Op:        op,
		Transient: transient,
		Err:       fmt.Errorf("face service error %s: %s", resp.Status, string(body)),
	}
}
