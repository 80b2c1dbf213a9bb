// Package testutil provides testing utilities for the picsum client.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultCatalogSize is the number of images the mock catalog holds.
const DefaultCatalogSize = 1000

// maxRenderedSide caps the generated image size; the requested dimensions
// only matter for the URL.
const maxRenderedSide = 32

// ListRequest records one call to the listing endpoint.
type ListRequest struct {
	Page  int
	Limit int
}

// MockCatalog is a configurable mock Lorem Picsum server for testing.
type MockCatalog struct {
	server *httptest.Server
	mu     sync.RWMutex

	size         int
	handlers     map[string]func(w http.ResponseWriter, r *http.Request)
	pageStatus   map[int]int
	pageBody     map[int]string
	imageBody    map[string][]byte
	delay        time.Duration
	imageGate    chan struct{}
	releaseGate  func()
	listRequests []ListRequest
	pathCounts   map[string]int

	// Tracking
	RequestCount int
}

// NewMockCatalog creates a new mock catalog server.
func NewMockCatalog() *MockCatalog {
	mock := &MockCatalog{
		size:       DefaultCatalogSize,
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		pageStatus: make(map[int]int),
		pageBody:   make(map[int]string),
		imageBody:  make(map[string][]byte),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.pathCounts[r.URL.Path]++
		handler, exists := mock.handlers[r.URL.Path]
		delay := mock.delay
		mock.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}

		if exists {
			handler(w, r)
			return
		}

		switch {
		case r.URL.Path == "/v2/list":
			mock.listHandler(w, r)
		case strings.HasPrefix(r.URL.Path, "/id/"):
			mock.imageHandler(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockCatalog) URL() string {
	return m.server.URL
}

// Close shuts down the mock server. Blocked image requests are released.
func (m *MockCatalog) Close() {
	m.mu.Lock()
	release := m.releaseGate
	m.mu.Unlock()
	if release != nil {
		release()
	}
	m.server.Close()
}

// SetCatalogSize sets how many images the listing endpoint can return.
func (m *MockCatalog) SetCatalogSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size = n
}

// SetHandler sets a custom handler for a specific path.
func (m *MockCatalog) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetPageStatus makes the listing endpoint answer page with status.
func (m *MockCatalog) SetPageStatus(page, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageStatus[page] = status
}

// SetPageBody makes the listing endpoint answer page with a raw body.
func (m *MockCatalog) SetPageBody(page int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageBody[page] = body
}

// SetImageBody overrides the bytes served for an image path such as
// "/id/7/500/375". An empty slice produces an empty 200 response.
func (m *MockCatalog) SetImageBody(path string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageBody[path] = body
}

// SetDelay delays every response.
func (m *MockCatalog) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// BlockImages holds image responses until the returned release func is called.
func (m *MockCatalog) BlockImages() (release func()) {
	gate := make(chan struct{})

	var once sync.Once
	release = func() {
		once.Do(func() {
			m.mu.Lock()
			if m.imageGate == gate {
				m.imageGate = nil
				m.releaseGate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}

	m.mu.Lock()
	m.imageGate = gate
	m.releaseGate = release
	m.mu.Unlock()

	return release
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCatalog) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// PathCount returns how many requests hit path.
func (m *MockCatalog) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// ListRequests returns the listing calls received so far.
func (m *MockCatalog) ListRequests() []ListRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ListRequest, len(m.listRequests))
	copy(out, m.listRequests)
	return out
}

// Reset clears all tracking counters.
func (m *MockCatalog) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.listRequests = nil
	m.pathCounts = make(map[string]int)
}

// Record is the JSON shape served by the listing endpoint.
type Record struct {
	ID          string `json:"id"`
	Author      string `json:"author"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	URL         string `json:"url"`
	DownloadURL string `json:"download_url"`
}

// RecordFor returns the catalog entry for a numeric id.
func (m *MockCatalog) RecordFor(id int) Record {
	width := 400 + (id%5)*100
	height := 300 + (id%3)*50
	return Record{
		ID:          strconv.Itoa(id),
		Author:      fmt.Sprintf("Author %d", id),
		Width:       width,
		Height:      height,
		URL:         fmt.Sprintf("https://unsplash.com/photos/mock-%d", id),
		DownloadURL: fmt.Sprintf("%s/id/%d/%d/%d", m.server.URL, id, width, height),
	}
}

func (m *MockCatalog) listHandler(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	m.mu.Lock()
	m.listRequests = append(m.listRequests, ListRequest{Page: page, Limit: limit})
	status, hasStatus := m.pageStatus[page]
	body, hasBody := m.pageBody[page]
	size := m.size
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	if hasStatus {
		w.WriteHeader(status)
		w.Write([]byte(`{"error":"mock failure"}`))
		return
	}
	if hasBody {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
		return
	}

	if page < 1 || limit < 1 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	records := make([]Record, 0, limit)
	for id := (page - 1) * limit; id < page*limit && id < size; id++ {
		records = append(records, m.RecordFor(id))
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(records)
}

func (m *MockCatalog) imageHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	gate := m.imageGate
	body, hasBody := m.imageBody[r.URL.Path]
	m.mu.RUnlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if hasBody {
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	// /id/{id}/{w}/{h}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 {
		http.NotFound(w, r)
		return
	}
	width, errW := strconv.Atoi(parts[2])
	height, errH := strconv.Atoi(parts[3])
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		http.Error(w, "invalid size", http.StatusBadRequest)
		return
	}

	data, err := RenderJPEG(width, height)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// RenderJPEG returns a small deterministic JPEG whose colour depends on the
// requested size. Sides are capped so tests stay fast.
func RenderJPEG(width, height int) ([]byte, error) {
	w, h := min(width, maxRenderedSide), min(height, maxRenderedSide)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill := color.RGBA{R: uint8(width % 256), G: uint8(height % 256), B: 128, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
