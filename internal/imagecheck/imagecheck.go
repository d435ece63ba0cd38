// Package imagecheck rejects payloads that are not usable face photos before
// they reach the face provider or photo storage.
package imagecheck

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxBytes matches the provider's inline image limit.
	DefaultMaxBytes = 5 << 20
	// MinSide is the smallest width or height accepted.
	MinSide = 80
)

var (
	ErrEmpty      = errors.New("photo is empty")
	ErrTooLarge   = errors.New("photo exceeds size limit")
	ErrNotAnImage = errors.New("photo is not a JPEG, PNG or WebP image")
	ErrTooSmall   = errors.New("photo resolution too small")
)

// Info describes a validated photo.
type Info struct {
	Format string
	Width  int
	Height int
}

// Ext returns the file extension for the format.
func (i Info) Ext() string {
	if i.Format == "jpeg" {
		return ".jpg"
	}
	return "." + i.Format
}

// Validate checks size, format and dimensions. maxBytes <= 0 uses DefaultMaxBytes.
func Validate(data []byte, maxBytes int) (Info, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(data) == 0 {
		return Info{}, ErrEmpty
	}
	if len(data) > maxBytes {
		return Info{}, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), maxBytes)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, ErrNotAnImage
	}
	if cfg.Width < MinSide || cfg.Height < MinSide {
		return Info{}, fmt.Errorf("%w: %dx%d", ErrTooSmall, cfg.Width, cfg.Height)
	}
	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
