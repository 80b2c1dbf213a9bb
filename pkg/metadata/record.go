// Package metadata defines the catalog image record and the size-specific
// download URLs derived from it.
package metadata

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedURL indicates a download URL that does not carry the
// scheme://host/prefix/id/width/height structure.
var ErrMalformedURL = errors.New("malformed download url")

// downloadURLSegments is the number of non-empty "/"-separated segments in
// a well-formed download URL, e.g. https://picsum.photos/id/1002/4312/2868.
const downloadURLSegments = 6

// Record describes one catalog image as returned by the listing endpoint.
type Record struct {
	ID          string `json:"id"`
	Author      string `json:"author"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	URL         string `json:"url"`
	DownloadURL string `json:"download_url"`
}

// URLError reports why a download URL could not be used for derivation.
type URLError struct {
	URL    string
	Reason string
}

// Error implements the error interface.
func (e *URLError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrMalformedURL, e.URL, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedURL.
func (e *URLError) Unwrap() error {
	return ErrMalformedURL
}

// segments splits the download URL the way the catalog formats it, dropping
// the empty element produced by the "//" after the scheme.
func (r Record) segments() ([]string, error) {
	parts := strings.FieldsFunc(r.DownloadURL, func(c rune) bool { return c == '/' })
	if len(parts) != downloadURLSegments {
		return nil, &URLError{
			URL:    r.DownloadURL,
			Reason: fmt.Sprintf("expected %d segments, got %d", downloadURLSegments, len(parts)),
		}
	}
	return parts, nil
}

// embeddedSize returns the width and height encoded in the last two
// segments of the download URL.
func (r Record) embeddedSize() (int, int, error) {
	parts, err := r.segments()
	if err != nil {
		return 0, 0, err
	}

	width, err := strconv.Atoi(parts[4])
	if err != nil || width <= 0 {
		return 0, 0, &URLError{URL: r.DownloadURL, Reason: fmt.Sprintf("width segment %q is not a positive integer", parts[4])}
	}

	height, err := strconv.Atoi(parts[5])
	if err != nil || height <= 0 {
		return 0, 0, &URLError{URL: r.DownloadURL, Reason: fmt.Sprintf("height segment %q is not a positive integer", parts[5])}
	}

	return width, height, nil
}

// AspectRatio returns width/height as embedded in the download URL.
// The record's own Width and Height fields are not consulted.
func (r Record) AspectRatio() (float64, error) {
	width, height, err := r.embeddedSize()
	if err != nil {
		return 0, err
	}
	return float64(width) / float64(height), nil
}

// BaseURL returns the download URL with its sizing suffix stripped.
//
// Example:
//
//	https://picsum.photos/id/1002/4312/2868 -> https://picsum.photos/id/1002
func (r Record) BaseURL() (string, error) {
	parts, err := r.segments()
	if err != nil {
		return "", err
	}
	return parts[0] + "//" + strings.Join(parts[1:4], "/"), nil
}

// Dimensions returns the target width and height for the given size class.
// Height is round(width / aspectRatio).
func (r Record) Dimensions(size SizeClass) (int, int, error) {
	aspect, err := r.AspectRatio()
	if err != nil {
		return 0, 0, err
	}

	width, err := size.TargetWidth(r)
	if err != nil {
		return 0, 0, err
	}

	return width, int(math.Round(float64(width) / aspect)), nil
}

// CacheKey returns the fully resolved size-specific download URL. It is both
// the fetch address and the image cache key.
func (r Record) CacheKey(size SizeClass) (string, error) {
	base, err := r.BaseURL()
	if err != nil {
		return "", err
	}

	width, height, err := r.Dimensions(size)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s/%d/%d", base, width, height), nil
}
