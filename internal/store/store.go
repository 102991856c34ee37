// Package store implements the three tile back-ends (MBTiles, XYZ,
// PostgreSQL) behind one facade interface, dispatched by a storeType tag
// the way arx-os-arxos's storage.Manager resolves a Backend from config.
package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pspoerri/tilecachegw/internal/coord"
)

// md5Hex is the content hash every stored tile row carries: createTile
// computes it inline when its caller passes none, and RepairHashes
// backfills it for rows stored without one (rows upgraded from a legacy
// MBTiles file, or written through a Backend's PutTile with an empty hash).
func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Back-end type tags used in seed.json/cleanup.json and dispatched by Open.
const (
	TypeMBTiles  = "mbtiles"
	TypeXYZ      = "xyz"
	TypePostgres = "postgres"
)

// TileKey addresses a single tile. Scheme records which row convention
// the caller used (xyz or tms); back-ends normalize internally but
// GetTile/PutTile echo back whatever scheme TileKey was constructed with.
type TileKey struct {
	Z, X, Y int
	Scheme  string
}

// XYZRow returns the tile's row number in the XYZ (north-origin) scheme.
func (k TileKey) XYZRow() int {
	return coord.ToXYZRow(k.Z, k.Y, k.Scheme)
}

// TileRecord is a stored tile: its encoded bytes, declared format, a
// content hash for idempotent reseeding, and when it was written.
type TileRecord struct {
	Key     TileKey
	Data    []byte
	Format  string
	Hash    string
	Created time.Time
}

// VectorLayer describes one layer of a vector tileset, mirrored into
// MBTiles' metadata.json "vector_layers" field and the tarkov-style
// TileJSON structures this gateway's HTTP layer (external) consumes.
type VectorLayer struct {
	ID          string
	Description string
	MinZoom     int
	MaxZoom     int
	Fields      map[string]string
}

// Metadata is the tileset-level descriptor stored alongside tiles —
// MBTiles' "metadata" table, the XYZ back-end's metadata.json sidecar, or
// a row in PostgreSQL's tileset_metadata table.
type Metadata struct {
	Name         string
	Format       string
	Bounds       [4]float64 // minLon, minLat, maxLon, maxLat
	Center       [3]float64 // lon, lat, zoom
	MinZoom      int
	MaxZoom      int
	Attribution  string
	Description  string
	VectorLayers []VectorLayer
	Extra        map[string]string
}

// ExtraInfo reports a coverage's expected tile count (from the addressing
// algebra) against the actual number of rows/files present — the basis
// for the inventory seed-mode report. (The seed "if-changed" check reads
// each tile through GetTile instead.)
type ExtraInfo struct {
	Expected int64
	Actual   int64
}

// Backend is the facade every store type implements. Operations a given
// back-end cannot perform (AddOverviews on PostgreSQL, Compact on XYZ)
// return an error wrapping tilerr.UnsupportedOperation rather than being
// silently ignored.
type Backend interface {
	GetTile(ctx context.Context, key TileKey) (*TileRecord, error)
	PutTile(ctx context.Context, key TileKey, data []byte, format, hash string) error
	DeleteTile(ctx context.Context, key TileKey) error

	GetMetadata(ctx context.Context) (*Metadata, error)
	PutMetadata(ctx context.Context, md *Metadata) error

	// AddOverviews composites and writes the parent tiles for ranges
	// (one zoom level up from what was just seeded) using already-stored
	// child tiles. Serial; Facade.AddOverviews drives AddOverviewTile
	// directly through the operator for bounded concurrency instead.
	AddOverviews(ctx context.Context, ranges []coord.TileRange, tileSize int) error

	// AddOverviewTile composites and writes a single parent tile from its
	// four already-stored children.
	AddOverviewTile(ctx context.Context, z, x, y, tileSize int) error

	// Compact reclaims space/rewrites indexes. Only meaningful as an
	// explicit operator-invoked maintenance step, never automatic.
	Compact(ctx context.Context) error

	// GetExtraInfo reports expected-vs-actual tile counts for coverages,
	// used by inventory seed-mode.
	GetExtraInfo(ctx context.Context, coverages []coord.Coverage) (*ExtraInfo, error)

	// RepairHashes scans rows with a NULL or empty hash in batches of
	// 256, computing and writing back the content hash (and, where the
	// column predates it, a created timestamp) until none remain.
	// Returns the number of rows repaired.
	RepairHashes(ctx context.Context) (int, error)

	// Summary reports coarse counts/bytes for inventory service-mode.
	Summary(ctx context.Context) (TileCount int64, TotalBytes int64, err error)

	Type() string
	Close() error
}

// OpenConfig names which back-end to open and how.
type OpenConfig struct {
	StoreType string // mbtiles | xyz | postgres

	// MBTiles
	MBTilesPath string

	// XYZ
	XYZRootDir string
	XYZScheme  string // xyz | tms — recorded on the back-end; files and the side index always use XYZ rows

	// PostgreSQL
	PostgresURI   string
	PostgresTable string

	TileSize int // default 256
}

// Open dispatches to the back-end named by cfg.StoreType, the same
// switch-on-a-config-tag pattern arx-os-arxos's storage.NewFromConfig
// uses to pick among local/S3/Azure backends.
func Open(ctx context.Context, cfg OpenConfig) (Backend, error) {
	if cfg.TileSize == 0 {
		cfg.TileSize = coord.DefaultTileSize
	}
	switch cfg.StoreType {
	case TypeMBTiles:
		return openMBTiles(cfg)
	case TypeXYZ:
		return openXYZ(cfg)
	case TypePostgres:
		return openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("store: unknown store type %q (want mbtiles, xyz, or postgres)", cfg.StoreType)
	}
}
