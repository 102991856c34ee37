// Package seedconfig loads and validates seed.json and cleanup.json, the
// persisted per-source job configuration spec.md §6 describes. No
// JSON-schema library appears anywhere in the retrieved corpus, so
// validation is hand-written Go struct validation over encoding/json.
package seedconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pspoerri/tilecachegw/internal/coord"
)

// CoverageSpec is the persisted form of a coverage: either a bbox or a
// circle, at a single zoom, optionally clipped to a limitedBBox.
type CoverageSpec struct {
	Zoom        int        `json:"zoom"`
	BBox        *[4]float64 `json:"bbox,omitempty"`
	Circle      *CircleSpec `json:"circle,omitempty"`
	LimitedBBox *[4]float64 `json:"limitedBBox,omitempty"`
}

// CircleSpec is the persisted form of a circular coverage.
type CircleSpec struct {
	Center   [2]float64 `json:"center"` // [lon, lat]
	RadiusM  float64    `json:"radius_m"`
}

// ToCoverage converts the persisted form into the coord.Coverage the
// tile-range algebra operates on.
func (c CoverageSpec) ToCoverage() (coord.Coverage, error) {
	cov := coord.Coverage{MinZoom: c.Zoom, MaxZoom: c.Zoom}
	switch {
	case c.BBox != nil && c.Circle != nil:
		return coord.Coverage{}, fmt.Errorf("seedconfig: coverage has both bbox and circle set")
	case c.BBox != nil:
		b := *c.BBox
		cov.Bounds = &coord.BBox{MinLon: b[0], MinLat: b[1], MaxLon: b[2], MaxLat: b[3]}
	case c.Circle != nil:
		cov.Circle = &coord.Circle{CenterLon: c.Circle.Center[0], CenterLat: c.Circle.Center[1], RadiusMeters: c.Circle.RadiusM}
	default:
		return coord.Coverage{}, fmt.Errorf("seedconfig: coverage has neither bbox nor circle set")
	}
	if c.LimitedBBox != nil {
		lb := *c.LimitedBBox
		cov.LimitBounds = &coord.BBox{MinLon: lb[0], MinLat: lb[1], MaxLon: lb[2], MaxLat: lb[3]}
	}
	return cov, nil
}

// SourceSpec is one entry of seed.json's "datas" map: a source's
// back-end selection, coverage list, and origin-fetch configuration.
type SourceSpec struct {
	StoreType        string            `json:"storeType"`
	Scheme           string            `json:"scheme"`
	Coverages        []CoverageSpec    `json:"coverages"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	URL              string            `json:"url,omitempty"`
	RefreshBefore    string            `json:"refreshBefore,omitempty"`
	MaxTry           int               `json:"maxTry,omitempty"`
	Timeout          string            `json:"timeout,omitempty"`
	Concurrency      int               `json:"concurrency,omitempty"`
	StoreTransparent bool              `json:"storeTransparent,omitempty"`
}

// validate checks the fields an open+seed run depends on.
func (s SourceSpec) validate(id string) error {
	switch s.StoreType {
	case "mbtiles", "xyz", "pg", "postgres":
	default:
		return fmt.Errorf("seedconfig: source %q: unknown storeType %q", id, s.StoreType)
	}
	switch s.Scheme {
	case coord.SchemeXYZ, coord.SchemeTMS:
	default:
		return fmt.Errorf("seedconfig: source %q: unknown scheme %q", id, s.Scheme)
	}
	if len(s.Coverages) == 0 {
		return fmt.Errorf("seedconfig: source %q: no coverages", id)
	}
	if s.URL != "" && s.MaxTry <= 0 {
		return fmt.Errorf("seedconfig: source %q: maxTry must be > 0 when url is set", id)
	}
	if s.Concurrency < 0 {
		return fmt.Errorf("seedconfig: source %q: concurrency must be >= 0", id)
	}
	if _, err := s.parseRefreshBefore(); err != nil {
		return fmt.Errorf("seedconfig: source %q: %w", id, err)
	}
	if _, err := s.parseTimeout(); err != nil {
		return fmt.Errorf("seedconfig: source %q: %w", id, err)
	}
	return nil
}

func (s SourceSpec) parseRefreshBefore() (time.Duration, error) {
	if s.RefreshBefore == "" {
		return 0, nil
	}
	return time.ParseDuration(s.RefreshBefore)
}

func (s SourceSpec) parseTimeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(s.Timeout)
}

// RefreshBeforeDuration returns the parsed refresh-before duration (zero if unset).
func (s SourceSpec) RefreshBeforeDuration() time.Duration {
	d, _ := s.parseRefreshBefore()
	return d
}

// TimeoutDuration returns the parsed per-attempt timeout (zero if unset).
func (s SourceSpec) TimeoutDuration() time.Duration {
	d, _ := s.parseTimeout()
	return d
}

// CoverageList converts every persisted CoverageSpec into a coord.Coverage.
func (s SourceSpec) CoverageList() ([]coord.Coverage, error) {
	out := make([]coord.Coverage, 0, len(s.Coverages))
	for i, cs := range s.Coverages {
		cov, err := cs.ToCoverage()
		if err != nil {
			return nil, fmt.Errorf("coverage %d: %w", i, err)
		}
		out = append(out, cov)
	}
	return out, nil
}

// Document is the parsed form of seed.json: the companion-asset id
// lists spec.md §6 names plus the tile-source map this package's
// callers actually act on.
type Document struct {
	Styles   []string              `json:"styles,omitempty"`
	GeoJSONs []string              `json:"geojsons,omitempty"`
	Sprites  []string              `json:"sprites,omitempty"`
	Fonts    []string              `json:"fonts,omitempty"`
	Datas    map[string]SourceSpec `json:"datas"`
}

// Load reads and validates seed.json from path.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seedconfig: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("seedconfig: parse %s: %w", path, err)
	}
	for id, src := range doc.Datas {
		if err := src.validate(id); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

// CleanupSourceSpec is one entry of cleanup.json's "datas" map.
type CleanupSourceSpec struct {
	StoreType     string            `json:"storeType"`
	Scheme        string            `json:"scheme"`
	Coverages     []CoverageSpec    `json:"coverages"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Concurrency   int               `json:"concurrency,omitempty"`
	CleanUpBefore string            `json:"cleanUpBefore"`
}

func (s CleanupSourceSpec) validate(id string) error {
	switch s.StoreType {
	case "mbtiles", "xyz", "pg", "postgres":
	default:
		return fmt.Errorf("seedconfig: source %q: unknown storeType %q", id, s.StoreType)
	}
	switch s.Scheme {
	case coord.SchemeXYZ, coord.SchemeTMS:
	default:
		return fmt.Errorf("seedconfig: source %q: unknown scheme %q", id, s.Scheme)
	}
	if len(s.Coverages) == 0 {
		return fmt.Errorf("seedconfig: source %q: no coverages", id)
	}
	if s.CleanUpBefore == "" {
		return fmt.Errorf("seedconfig: source %q: cleanUpBefore is required", id)
	}
	return nil
}

// CoverageList converts every persisted CoverageSpec into a coord.Coverage.
func (s CleanupSourceSpec) CoverageList() ([]coord.Coverage, error) {
	out := make([]coord.Coverage, 0, len(s.Coverages))
	for i, cs := range s.Coverages {
		cov, err := cs.ToCoverage()
		if err != nil {
			return nil, fmt.Errorf("coverage %d: %w", i, err)
		}
		out = append(out, cov)
	}
	return out, nil
}

// CleanupDocument is the parsed form of cleanup.json.
type CleanupDocument struct {
	Datas map[string]CleanupSourceSpec `json:"datas"`
}

// LoadCleanup reads and validates cleanup.json from path.
func LoadCleanup(path string) (*CleanupDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seedconfig: read %s: %w", path, err)
	}
	var doc CleanupDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("seedconfig: parse %s: %w", path, err)
	}
	for id, src := range doc.Datas {
		if err := src.validate(id); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}
