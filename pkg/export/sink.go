// Package export writes full-size catalog images to a directory as JPEG
// files named after the record id.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/picsum-client/pkg/imaging"
	"github.com/Sternrassler/picsum-client/pkg/metadata"
)

var recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "picsum_export_records_total",
	Help: "Exported records by outcome",
}, []string{"outcome"}) // "saved", "failed"

// ManifestFile is written next to the exported images.
const ManifestFile = "manifest.yaml"

// ErrInvalidID is returned for ids that are not a plain file name.
var ErrInvalidID = errors.New("record id is not a valid file name")

// ImageFetcher returns image bytes for a record. *resolver.Resolver
// implements it.
type ImageFetcher interface {
	Fetch(ctx context.Context, rec metadata.Record, size metadata.SizeClass) ([]byte, error)
}

// Sink exports records. The zero value is not usable; Dir and Images are
// required.
type Sink struct {
	// Dir is the existing output directory.
	Dir string

	// Images supplies full-size image bytes.
	Images ImageFetcher

	// Concurrency bounds parallel exports. Zero means 4.
	Concurrency int

	// Quality is the JPEG quality. Zero means imaging.DefaultQuality.
	Quality int

	// MaxDimension downscales larger images. Zero keeps full size.
	MaxDimension int

	// Timeout bounds each record. Zero disables it.
	Timeout time.Duration
}

// RecordError is one failed record.
type RecordError struct {
	ID  string
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("export %s: %v", e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Report summarizes a SaveAll run.
type Report struct {
	Attempted int
	Saved     []string // record ids, sorted
	Failures  []*RecordError
}

// Message returns the user-facing summary line.
func (r Report) Message() string {
	if len(r.Saved) == 1 {
		return "1 file saved."
	}
	return fmt.Sprintf("%d files saved.", len(r.Saved))
}

// ManifestEntry describes one exported file.
type ManifestEntry struct {
	ID     string `yaml:"id"`
	Author string `yaml:"author"`
	File   string `yaml:"file"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// Manifest is the content of ManifestFile.
type Manifest struct {
	Exported time.Time       `yaml:"exported"`
	Count    int             `yaml:"count"`
	Images   []ManifestEntry `yaml:"images"`
}

// FileName returns the export file name for a record id.
func FileName(id string) (string, error) {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return id + ".jpeg", nil
}

// SaveAll exports every record. A failed record does not stop the others;
// failures are listed in the report and joined into the returned error.
func (s *Sink) SaveAll(ctx context.Context, records []metadata.Record) (Report, error) {
	report := Report{Attempted: len(records)}
	if s.Images == nil {
		return report, fmt.Errorf("export: image fetcher is required")
	}

	info, err := os.Stat(s.Dir)
	if err != nil {
		return report, fmt.Errorf("export: output directory: %w", err)
	}
	if !info.IsDir() {
		return report, fmt.Errorf("export: %s is not a directory", s.Dir)
	}

	logger := log.With().Str("component", "export").Str("dir", s.Dir).Logger()
	start := time.Now()

	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var (
		mu      sync.Mutex
		entries []ManifestEntry
	)

	var g errgroup.Group
	g.SetLimit(concurrency)

	for _, rec := range records {
		g.Go(func() error {
			entry, err := s.save(ctx, rec)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				recordsTotal.WithLabelValues("failed").Inc()
				logger.Warn().Err(err).Str("record_id", rec.ID).Msg("Export failed")
				report.Failures = append(report.Failures, &RecordError{ID: rec.ID, Err: err})
				return nil
			}
			recordsTotal.WithLabelValues("saved").Inc()
			report.Saved = append(report.Saved, rec.ID)
			entries = append(entries, entry)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Saved)
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].ID < report.Failures[j].ID })
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	errs := make([]error, 0, len(report.Failures)+1)
	for _, f := range report.Failures {
		errs = append(errs, f)
	}

	if len(entries) > 0 {
		if err := s.writeManifest(entries); err != nil {
			errs = append(errs, err)
		}
	}

	logger.Info().
		Int("saved", len(report.Saved)).
		Int("failed", len(report.Failures)).
		Dur("duration", time.Since(start)).
		Msg(report.Message())

	return report, errors.Join(errs...)
}

func (s *Sink) save(ctx context.Context, rec metadata.Record) (ManifestEntry, error) {
	name, err := FileName(rec.ID)
	if err != nil {
		return ManifestEntry{}, err
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	data, err := s.Images.Fetch(ctx, rec, metadata.Full)
	if err != nil {
		return ManifestEntry{}, err
	}

	encoded, err := imaging.ToJPEG(data, imaging.JPEGOptions{Quality: s.Quality, MaxDimension: s.MaxDimension})
	if err != nil {
		return ManifestEntry{}, err
	}

	if err := writeFileAtomic(filepath.Join(s.Dir, name), encoded); err != nil {
		return ManifestEntry{}, err
	}

	info, err := imaging.Validate(encoded)
	if err != nil {
		return ManifestEntry{}, err
	}

	return ManifestEntry{
		ID:     rec.ID,
		Author: rec.Author,
		File:   name,
		Width:  info.Width,
		Height: info.Height,
	}, nil
}

func (s *Sink) writeManifest(entries []ManifestEntry) error {
	data, err := yaml.Marshal(Manifest{
		Exported: time.Now().UTC().Truncate(time.Second),
		Count:    len(entries),
		Images:   entries,
	})
	if err != nil {
		return fmt.Errorf("export: encode manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.Dir, ManifestFile), data)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ReadManifest loads the manifest from dir.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}
