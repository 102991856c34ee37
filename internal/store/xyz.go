package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pspoerri/tilecachegw/internal/coord"
	"github.com/pspoerri/tilecachegw/internal/filelock"
	"github.com/pspoerri/tilecachegw/internal/overview"
	"github.com/pspoerri/tilecachegw/internal/sqlutil"
	"github.com/pspoerri/tilecachegw/internal/tileformat"
	"github.com/pspoerri/tilecachegw/internal/tilerr"
)

// xyzIndexSchema tracks the hash and creation time of every tile written
// to disk. The files themselves are the tile's source of truth; the side
// index lets GetExtraInfo and Summary count tiles without walking the
// tree, and records each tile's format so GetTile knows its file extension.
const xyzIndexSchema = `
CREATE TABLE IF NOT EXISTS tile_index (
	z INTEGER, x INTEGER, y INTEGER,
	format TEXT, hash TEXT, created INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS tile_index_idx ON tile_index (z, x, y);
`

const xyzIndexFileName = ".tileindex.db"
const xyzMetadataFileName = "metadata.json"
const xyzLockTimeout = 5 * time.Second

type xyzBackend struct {
	root     string
	scheme   string
	tileSize int
	idx      *sql.DB
}

func openXYZ(cfg OpenConfig) (Backend, error) {
	if cfg.XYZRootDir == "" {
		return nil, fmt.Errorf("store: xyz store requires XYZRootDir")
	}
	scheme := cfg.XYZScheme
	if scheme == "" {
		scheme = coord.SchemeXYZ
	}
	if err := os.MkdirAll(cfg.XYZRootDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: xyz mkdir root: %w", err)
	}
	// Clear any lock sentinels orphaned by a writer that crashed mid-write
	// before this process took ownership of the directory.
	filelock.Sweep(cfg.XYZRootDir)
	idx, err := sqlutil.OpenSQLite(filepath.Join(cfg.XYZRootDir, xyzIndexFileName))
	if err != nil {
		return nil, err
	}
	if _, err := idx.Exec(xyzIndexSchema); err != nil {
		idx.Close()
		return nil, fmt.Errorf("store: xyz index schema: %w", err)
	}
	return &xyzBackend{root: cfg.XYZRootDir, scheme: scheme, tileSize: cfg.TileSize, idx: idx}, nil
}

func (b *xyzBackend) Type() string { return TypeXYZ }

func (b *xyzBackend) Close() error { return b.idx.Close() }

// tilePath returns the on-disk path for key, sharded z/x/y the way static
// XYZ tile servers expect to be able to serve the tree directly.
func (b *xyzBackend) tilePath(key TileKey, ext string) string {
	y := coord.ToXYZRow(key.Z, key.Y, key.Scheme)
	return filepath.Join(b.root, strconv.Itoa(key.Z), strconv.Itoa(key.X), fmt.Sprintf("%d.%s", y, ext))
}

func (b *xyzBackend) GetTile(ctx context.Context, key TileKey) (*TileRecord, error) {
	var format, hash string
	var createdUnix int64
	err := b.idx.QueryRowContext(ctx, `SELECT format, hash, created FROM tile_index WHERE z=? AND x=? AND y=?`,
		key.Z, key.X, coord.ToXYZRow(key.Z, key.Y, key.Scheme)).Scan(&format, &hash, &createdUnix)
	if sqlutil.IsNoRows(err) {
		return nil, fmt.Errorf("store: tile z=%d x=%d y=%d: %w", key.Z, key.X, key.Y, tilerr.TileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: xyz index lookup: %w", err)
	}

	ext := tileformat.FileExtensionFor(format)
	data, err := os.ReadFile(b.tilePath(key, ext))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("store: tile file missing for indexed entry z=%d x=%d y=%d: %w", key.Z, key.X, key.Y, tilerr.TileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: xyz read tile: %w", err)
	}
	return &TileRecord{Key: key, Data: data, Format: format, Hash: hash, Created: time.Unix(createdUnix, 0).UTC()}, nil
}

func (b *xyzBackend) PutTile(ctx context.Context, key TileKey, data []byte, format, hash string) error {
	ext := tileformat.FileExtensionFor(format)
	path := b.tilePath(key, ext)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: xyz mkdir: %w", err)
	}
	if err := filelock.WriteFile(ctx, path, data, xyzLockTimeout); err != nil {
		return fmt.Errorf("store: xyz write tile: %w", err)
	}
	return sqlutil.WithBusyRetry(ctx, 5*time.Second, func() error {
		_, err := b.idx.ExecContext(ctx,
			`INSERT INTO tile_index (z, x, y, format, hash, created) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(z, x, y) DO UPDATE SET format = excluded.format, hash = excluded.hash, created = excluded.created`,
			key.Z, key.X, coord.ToXYZRow(key.Z, key.Y, key.Scheme), format, hash, time.Now().Unix())
		return err
	})
}

func (b *xyzBackend) DeleteTile(ctx context.Context, key TileKey) error {
	var format string
	err := b.idx.QueryRowContext(ctx, `SELECT format FROM tile_index WHERE z=? AND x=? AND y=?`,
		key.Z, key.X, coord.ToXYZRow(key.Z, key.Y, key.Scheme)).Scan(&format)
	if sqlutil.IsNoRows(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: xyz delete lookup: %w", err)
	}
	path := b.tilePath(key, tileformat.FileExtensionFor(format))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: xyz delete tile file: %w", err)
	}
	if err := sqlutil.WithBusyRetry(ctx, 5*time.Second, func() error {
		_, err := b.idx.ExecContext(ctx, `DELETE FROM tile_index WHERE z=? AND x=? AND y=?`,
			key.Z, key.X, coord.ToXYZRow(key.Z, key.Y, key.Scheme))
		return err
	}); err != nil {
		return err
	}
	pruneEmptyAncestors(filepath.Dir(path), b.root)
	return nil
}

// pruneEmptyAncestors removes dir and its ancestors, up to but excluding
// root, as long as each is empty — keeps a long-running XYZ store's
// directory tree from accumulating thousands of stale empty "column"
// directories after a cleanup pass deletes every tile under them.
func pruneEmptyAncestors(dir, root string) {
	for dir != root && len(dir) > len(root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (b *xyzBackend) metadataPath() string {
	return filepath.Join(b.root, xyzMetadataFileName)
}

func (b *xyzBackend) GetMetadata(ctx context.Context) (*Metadata, error) {
	data, err := os.ReadFile(b.metadataPath())
	if os.IsNotExist(err) {
		return &Metadata{Extra: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: xyz read metadata: %w", err)
	}
	md := &Metadata{}
	if err := json.Unmarshal(data, md); err != nil {
		return nil, fmt.Errorf("store: xyz parse metadata: %w", err)
	}
	return md, nil
}

func (b *xyzBackend) PutMetadata(ctx context.Context, md *Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("store: xyz marshal metadata: %w", err)
	}
	return filelock.WriteFile(ctx, b.metadataPath(), data, xyzLockTimeout)
}

func (b *xyzBackend) AddOverviews(ctx context.Context, ranges []coord.TileRange, tileSize int) error {
	if tileSize == 0 {
		tileSize = b.tileSize
	}
	for _, r := range ranges {
		for y := r.MinY; y <= r.MaxY; y++ {
			for x := r.MinX; x <= r.MaxX; x++ {
				if err := b.AddOverviewTile(ctx, r.Z, x, y, tileSize); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (b *xyzBackend) AddOverviewTile(ctx context.Context, z, x, y, tileSize int) error {
	childZ := z + 1
	var children [4][]byte
	var format string
	for i, off := range [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		cx, cy := x*2+off[0], y*2+off[1]
		rec, err := b.GetTile(ctx, TileKey{Z: childZ, X: cx, Y: cy, Scheme: coord.SchemeXYZ})
		if err != nil {
			continue
		}
		children[i] = rec.Data
		format = rec.Format
	}
	if format == "" {
		return nil
	}
	data, err := overview.Compose4to1(children, tileSize, tileSize, format, overview.ResamplingBilinear)
	if err != nil {
		return fmt.Errorf("store: compose overview z=%d x=%d y=%d: %w", z, x, y, err)
	}
	return b.PutTile(ctx, TileKey{Z: z, X: x, Y: y, Scheme: coord.SchemeXYZ}, data, format, md5Hex(data))
}

// RepairHashes scans the side index in batches of 256 for rows with a
// missing hash — PutTile stores whatever hash its caller passes, empty
// included — and backfills them from the tile file on disk.
func (b *xyzBackend) RepairHashes(ctx context.Context) (int, error) {
	const batch = 256
	repaired := 0
	for {
		rows, err := b.idx.QueryContext(ctx,
			`SELECT z, x, y, format FROM tile_index WHERE hash IS NULL OR hash = '' LIMIT ?`, batch)
		if err != nil {
			return repaired, fmt.Errorf("store: xyz repair hashes query: %w", err)
		}
		type pending struct {
			z, x, y int
			format  string
		}
		var todo []pending
		for rows.Next() {
			var p pending
			if err := rows.Scan(&p.z, &p.x, &p.y, &p.format); err != nil {
				rows.Close()
				return repaired, fmt.Errorf("store: xyz repair hashes scan: %w", err)
			}
			todo = append(todo, p)
		}
		rows.Close()
		if len(todo) == 0 {
			return repaired, nil
		}
		for _, p := range todo {
			key := TileKey{Z: p.z, X: p.x, Y: p.y, Scheme: coord.SchemeXYZ}
			path := b.tilePath(key, tileformat.FileExtensionFor(p.format))
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if _, err := b.idx.ExecContext(ctx, `UPDATE tile_index SET hash = ? WHERE z = ? AND x = ? AND y = ?`,
				md5Hex(data), p.z, p.x, p.y); err != nil {
				return repaired, fmt.Errorf("store: xyz repair hashes update: %w", err)
			}
			repaired++
		}
	}
}

// Compact is not supported by the XYZ back-end and fails with
// tilerr.UnsupportedOperation: there is no single file to rewrite, and
// the side index is not vacuumed.
func (b *xyzBackend) Compact(ctx context.Context) error {
	return fmt.Errorf("store: xyz compact: %w", tilerr.UnsupportedOperation)
}

func (b *xyzBackend) GetExtraInfo(ctx context.Context, coverages []coord.Coverage) (*ExtraInfo, error) {
	info := &ExtraInfo{}
	for _, cov := range coverages {
		ranges, err := coord.TileRangesForCoverage(cov)
		if err != nil {
			return nil, err
		}
		for _, r := range ranges {
			info.Expected += r.Count()
			minRow, maxRow := xyzRowRange(r)
			var n int64
			err := b.idx.QueryRowContext(ctx,
				`SELECT count(*) FROM tile_index WHERE z = ? AND x BETWEEN ? AND ? AND y BETWEEN ? AND ?`,
				r.Z, r.MinX, r.MaxX, minRow, maxRow).Scan(&n)
			if err != nil {
				return nil, fmt.Errorf("store: xyz extra info: %w", err)
			}
			info.Actual += n
		}
	}
	return info, nil
}

func xyzRowRange(r coord.TileRange) (min, max int) {
	return r.MinY, r.MaxY
}

func (b *xyzBackend) Summary(ctx context.Context) (int64, int64, error) {
	var count int64
	err := b.idx.QueryRowContext(ctx, `SELECT count(*) FROM tile_index`).Scan(&count)
	if err != nil {
		return 0, 0, fmt.Errorf("store: xyz summary: %w", err)
	}
	var totalBytes int64
	err = filepath.Walk(b.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if filepath.Base(path) == xyzIndexFileName || filepath.Base(path) == xyzMetadataFileName {
			return nil
		}
		totalBytes += info.Size()
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("store: xyz summary walk: %w", err)
	}
	return count, totalBytes, nil
}
