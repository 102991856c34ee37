package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pspoerri/tilecachegw/internal/coord"
	"github.com/pspoerri/tilecachegw/internal/operator"
	"github.com/pspoerri/tilecachegw/internal/tilerr"
)

// Source is one opened back-end, keyed by the id callers use to refer to
// it across Facade calls (a source-type tag plus its live Backend).
type Source struct {
	ID        string
	StoreType string
	Backend   Backend
}

// Facade is the union interface spec.md §4.7 describes: a small registry
// of opened Sources plus the operations common to all three back-ends,
// each dispatched to the Source's concrete Backend. Operations a back-end
// cannot perform return an error wrapping tilerr.UnsupportedOperation.
type Facade struct {
	log     *logrus.Entry
	mu      sync.RWMutex
	sources map[string]*Source
}

// NewFacade creates an empty Facade. log may be nil, in which case a
// disabled logger is used.
func NewFacade(log *logrus.Entry) *Facade {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &Facade{log: log, sources: map[string]*Source{}}
}

// Open opens (or re-returns, if already open) the source named id. When
// createIfMissing is false, Open fails if the underlying resource (the
// MBTiles file or the XYZ root directory) does not already exist —
// PostgreSQL tables are always created since no out-of-band DDL step
// exists for operators to run first.
func (f *Facade) Open(ctx context.Context, id string, cfg OpenConfig, createIfMissing bool, timeout time.Duration) (*Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sources[id]; ok {
		return s, nil
	}

	if !createIfMissing {
		if err := requireExists(cfg); err != nil {
			return nil, err
		}
	}

	openCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		openCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	backend, err := Open(openCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: facade open %q: %w", id, err)
	}
	s := &Source{ID: id, StoreType: cfg.StoreType, Backend: backend}
	f.sources[id] = s
	f.log.WithFields(logrus.Fields{"source": id, "storeType": cfg.StoreType}).Info("store source opened")
	return s, nil
}

// Close closes and forgets the source named id. A no-op if not open.
func (f *Facade) Close(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return nil
	}
	delete(f.sources, id)
	return s.Backend.Close()
}

func (f *Facade) get(id string) (*Source, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sources[id]
	if !ok {
		return nil, fmt.Errorf("store: facade: source %q is not open", id)
	}
	return s, nil
}

// TileResponse is what GetTile returns on a hit: the raw bytes plus the
// headers a router should set (content-type from the sniffed/declared
// format) and the stored creation time, used by the cache gateway to
// decide whether a background refresh is due.
type TileResponse struct {
	Data    []byte
	Format  string
	Created time.Time
}

// GetTile looks up a tile by key on the named source.
func (f *Facade) GetTile(ctx context.Context, id string, key TileKey) (*TileResponse, error) {
	s, err := f.get(id)
	if err != nil {
		return nil, err
	}
	rec, err := s.Backend.GetTile(ctx, key)
	if err != nil {
		return nil, err
	}
	return &TileResponse{Data: rec.Data, Format: rec.Format, Created: rec.Created}, nil
}

// CreateTile writes (or overwrites) a tile, bounding the call by timeout.
// An empty hash is replaced by the MD5 of data.
func (f *Facade) CreateTile(ctx context.Context, id string, key TileKey, data []byte, format, hash string, timeout time.Duration) error {
	s, err := f.get(id)
	if err != nil {
		return err
	}
	if hash == "" {
		hash = md5Hex(data)
	}
	writeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.Backend.PutTile(writeCtx, key, data, format, hash)
}

// RemoveTile deletes a tile, bounding the call by timeout.
func (f *Facade) RemoveTile(ctx context.Context, id string, key TileKey, timeout time.Duration) error {
	s, err := f.get(id)
	if err != nil {
		return err
	}
	delCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		delCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.Backend.DeleteTile(delCtx, key)
}

// GetExtraInfoFromCoverages reports expected-vs-actual tile counts for a
// set of coverages on the named source.
func (f *Facade) GetExtraInfoFromCoverages(ctx context.Context, id string, coverages []coord.Coverage) (*ExtraInfo, error) {
	s, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return s.Backend.GetExtraInfo(ctx, coverages)
}

// CalculateExtraInfo scans the source for rows with a missing content
// hash — rows upgraded from a legacy MBTiles file, or written through a
// Backend's PutTile with an empty hash — and backfills them in batches, the repair pass
// spec.md's calculateExtraInfo() names. Returns the number of rows
// repaired.
func (f *Facade) CalculateExtraInfo(ctx context.Context, id string) (int, error) {
	s, err := f.get(id)
	if err != nil {
		return 0, err
	}
	return s.Backend.RepairHashes(ctx)
}

// GetMetadata reads the source's tileset-level metadata.
func (f *Facade) GetMetadata(ctx context.Context, id string) (*Metadata, error) {
	s, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return s.Backend.GetMetadata(ctx)
}

// UpdateMetadata reads the current metadata, applies patch, and writes
// the result back, bounding the round trip by timeout.
func (f *Facade) UpdateMetadata(ctx context.Context, id string, patch func(*Metadata), timeout time.Duration) error {
	s, err := f.get(id)
	if err != nil {
		return err
	}
	updCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		updCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	md, err := s.Backend.GetMetadata(updCtx)
	if err != nil {
		return err
	}
	patch(md)
	return s.Backend.PutMetadata(updCtx, md)
}

// CountTiles and Size report the source's coarse inventory numbers.
func (f *Facade) CountTiles(ctx context.Context, id string) (int64, error) {
	n, _, err := f.summary(ctx, id)
	return n, err
}

func (f *Facade) Size(ctx context.Context, id string) (int64, error) {
	_, sz, err := f.summary(ctx, id)
	return sz, err
}

func (f *Facade) summary(ctx context.Context, id string) (int64, int64, error) {
	s, err := f.get(id)
	if err != nil {
		return 0, 0, err
	}
	return s.Backend.Summary(ctx)
}

// Compact issues the source's maintenance pass. PostgreSQL runs VACUUM
// ANALYZE on the tile table; XYZ has no compaction step, since there is
// no single file to rewrite, and fails with tilerr.UnsupportedOperation.
func (f *Facade) Compact(ctx context.Context, id string) error {
	s, err := f.get(id)
	if err != nil {
		return err
	}
	return s.Backend.Compact(ctx)
}

// AddOverviews composites parent tiles for ranges at bounded concurrency,
// using the coverage operator to drive per-tile calls to the Backend
// rather than the Backend's own serial AddOverviews. Fails with
// tilerr.UnsupportedOperation on back-ends that don't support it (PG).
func (f *Facade) AddOverviews(ctx context.Context, id string, concurrency, tileSize int, ranges []coord.TileRange) (operator.Stats, error) {
	s, err := f.get(id)
	if err != nil {
		return operator.Stats{}, err
	}
	if s.StoreType == TypePostgres {
		return operator.Stats{}, fmt.Errorf("store: addOverviews on source %q: %w", id, tilerr.UnsupportedOperation)
	}
	cfg := operator.Config{Concurrency: concurrency, Logger: f.log}
	return operator.Run(ctx, cfg, ranges, func(taskCtx context.Context, z, x, y int) error {
		return s.Backend.AddOverviewTile(taskCtx, z, x, y, tileSize)
	}), nil
}

func requireExists(cfg OpenConfig) error {
	switch cfg.StoreType {
	case TypeMBTiles:
		if !pathExists(cfg.MBTilesPath) {
			return fmt.Errorf("store: mbtiles file %q does not exist: %w", cfg.MBTilesPath, tilerr.SchemaInvalid)
		}
	case TypeXYZ:
		if !pathExists(cfg.XYZRootDir) {
			return fmt.Errorf("store: xyz root %q does not exist: %w", cfg.XYZRootDir, tilerr.SchemaInvalid)
		}
	case TypePostgres:
		// Tables are created on first open regardless; nothing to check up front.
	}
	return nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
