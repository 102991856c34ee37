package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pspoerri/tilecachegw/internal/coord"
	"github.com/pspoerri/tilecachegw/internal/overview"
	"github.com/pspoerri/tilecachegw/internal/sqlutil"
	"github.com/pspoerri/tilecachegw/internal/tileformat"
	"github.com/pspoerri/tilecachegw/internal/tilerr"
)

// mbtilesSchema creates the tables the spec.org MBTiles format requires.
// The zoom_level/tile_column/tile_row/tile_data layout and the uniqueness
// index are the ones the tarkov-database-tileserver reader expects on
// read, so files this back-end writes are openable by any MBTiles reader.
// hash/created are not part of the base MBTiles format, so they are added
// by upgradeMBTilesSchema rather than baked into CREATE TABLE — that way
// a pre-existing MBTiles file written by another tool upgrades the same
// way a freshly created one does, instead of failing the first query
// that references a column it never had.
const mbtilesSchema = `
CREATE TABLE IF NOT EXISTS tiles (
	zoom_level  INTEGER,
	tile_column INTEGER,
	tile_row    INTEGER,
	tile_data   BLOB
);
CREATE UNIQUE INDEX IF NOT EXISTS tiles_idx ON tiles (zoom_level, tile_column, tile_row);
CREATE TABLE IF NOT EXISTS metadata (
	name  TEXT,
	value TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS metadata_idx ON metadata (name);
`

type mbtilesBackend struct {
	path string
	db   *sql.DB
}

func openMBTiles(cfg OpenConfig) (Backend, error) {
	if cfg.MBTilesPath == "" {
		return nil, fmt.Errorf("store: mbtiles store requires MBTilesPath")
	}
	db, err := sqlutil.OpenSQLite(cfg.MBTilesPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(mbtilesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: mbtiles schema: %w", err)
	}
	if err := upgradeMBTilesSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &mbtilesBackend{path: cfg.MBTilesPath, db: db}, nil
}

// upgradeMBTilesSchema adds the hash/created columns a legacy MBTiles
// file (one this back-end didn't originally write) won't have yet.
func upgradeMBTilesSchema(db *sql.DB) error {
	cols, err := tableColumns(db, "tiles")
	if err != nil {
		return fmt.Errorf("store: mbtiles inspect schema: %w", err)
	}
	if !cols["hash"] {
		if _, err := db.Exec(`ALTER TABLE tiles ADD COLUMN hash TEXT`); err != nil {
			return fmt.Errorf("store: mbtiles add hash column: %w", err)
		}
	}
	if !cols["created"] {
		if _, err := db.Exec(`ALTER TABLE tiles ADD COLUMN created INTEGER`); err != nil {
			return fmt.Errorf("store: mbtiles add created column: %w", err)
		}
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func (b *mbtilesBackend) Type() string { return TypeMBTiles }

func (b *mbtilesBackend) Close() error { return b.db.Close() }

// tmsRow converts key's row to TMS (the row convention MBTiles always
// stores in, per spec) regardless of which scheme the caller used.
func tmsRow(key TileKey) int {
	return coord.FromXYZRow(key.Z, key.XYZRow(), coord.SchemeTMS)
}

func (b *mbtilesBackend) GetTile(ctx context.Context, key TileKey) (*TileRecord, error) {
	row := tmsRow(key)
	var data []byte
	var hash sql.NullString
	var createdUnix sql.NullInt64
	err := b.db.QueryRowContext(ctx,
		`SELECT tile_data, hash, created FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		key.Z, key.X, row).Scan(&data, &hash, &createdUnix)
	if sqlutil.IsNoRows(err) {
		return nil, fmt.Errorf("store: tile z=%d x=%d y=%d: %w", key.Z, key.X, key.Y, tilerr.TileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: mbtiles get tile: %w", err)
	}
	format := tileformat.Sniff(data)
	// Rows carried over from a legacy file have NULL hash/created; those
	// read back as an empty hash and a zero Created time.
	var created time.Time
	if createdUnix.Valid {
		created = time.Unix(createdUnix.Int64, 0).UTC()
	}
	return &TileRecord{Key: key, Data: data, Format: format, Hash: hash.String, Created: created}, nil
}

func (b *mbtilesBackend) PutTile(ctx context.Context, key TileKey, data []byte, format, hash string) error {
	row := tmsRow(key)
	return sqlutil.WithBusyRetry(ctx, 5*time.Second, func() error {
		_, err := b.db.ExecContext(ctx,
			`INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data, hash, created) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(zoom_level, tile_column, tile_row) DO UPDATE SET tile_data = excluded.tile_data, hash = excluded.hash, created = excluded.created`,
			key.Z, key.X, row, data, hash, time.Now().Unix())
		return err
	})
}

func (b *mbtilesBackend) DeleteTile(ctx context.Context, key TileKey) error {
	row := tmsRow(key)
	return sqlutil.WithBusyRetry(ctx, 5*time.Second, func() error {
		_, err := b.db.ExecContext(ctx, `DELETE FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`, key.Z, key.X, row)
		return err
	})
}

func (b *mbtilesBackend) GetMetadata(ctx context.Context) (*Metadata, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT name, value FROM metadata WHERE value IS NOT ''`)
	if err != nil {
		return nil, fmt.Errorf("store: mbtiles get metadata: %w", err)
	}
	defer rows.Close()

	md := &Metadata{Extra: map[string]string{}}
	have := map[string]bool{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		have[name] = true
		switch name {
		case "name":
			md.Name = value
		case "description":
			md.Description = value
		case "attribution":
			md.Attribution = value
		case "format":
			md.Format = value
		case "minzoom":
			md.MinZoom, _ = strconv.Atoi(value)
		case "maxzoom":
			md.MaxZoom, _ = strconv.Atoi(value)
		case "bounds":
			parseCSVFloats(value, md.Bounds[:])
		case "center":
			parseCSVFloats(value, md.Center[:])
		case "json":
			var ld struct {
				VectorLayers []VectorLayer `json:"vector_layers"`
			}
			if err := json.Unmarshal([]byte(value), &ld); err == nil {
				md.VectorLayers = ld.VectorLayers
			}
		default:
			md.Extra[name] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := b.reconstructFromTiles(ctx, md, have); err != nil {
		return nil, fmt.Errorf("store: mbtiles reconstruct metadata: %w", err)
	}
	return md, nil
}

// reconstructFromTiles fills minzoom/maxzoom/format/bounds/vector_layers
// that the metadata table didn't carry by scanning the tiles table
// directly — a bare or partially-populated metadata table (common for
// hand-assembled MBTiles archives) still needs to report a usable
// tileset descriptor.
func (b *mbtilesBackend) reconstructFromTiles(ctx context.Context, md *Metadata, have map[string]bool) error {
	needsZoom := !have["minzoom"] || !have["maxzoom"]
	needsFormat := !have["format"]
	needsBounds := !have["bounds"]
	needsVectorLayers := !have["json"]

	if needsZoom {
		var minZ, maxZ sql.NullInt64
		if err := b.db.QueryRowContext(ctx, `SELECT min(zoom_level), max(zoom_level) FROM tiles`).Scan(&minZ, &maxZ); err != nil {
			return err
		}
		if minZ.Valid {
			md.MinZoom = int(minZ.Int64)
		}
		if maxZ.Valid {
			md.MaxZoom = int(maxZ.Int64)
		}
	}

	var sampleFormat string
	if needsFormat || needsVectorLayers {
		var data []byte
		err := b.db.QueryRowContext(ctx, `SELECT tile_data FROM tiles LIMIT 1`).Scan(&data)
		if err != nil && !sqlutil.IsNoRows(err) {
			return err
		}
		if err == nil {
			sampleFormat = tileformat.Sniff(data)
			if needsFormat {
				md.Format = sampleFormat
			}
		}
	}

	if needsBounds {
		bounds, err := b.scanBoundsFromTiles(ctx)
		if err != nil {
			return err
		}
		if bounds != nil {
			md.Bounds = *bounds
		}
	}

	if needsVectorLayers && (sampleFormat == tileformat.FormatPBF || md.Format == tileformat.FormatPBF) {
		layers, err := b.unionVectorLayers(ctx)
		if err != nil {
			return err
		}
		md.VectorLayers = layers
	}
	return nil
}

// scanBoundsFromTiles unions, per zoom level present, the WGS84 bbox of
// the min/max stored tile_column/tile_row (the latter stored in TMS,
// converted to XYZ before the coord lookup), then clamps latitude to the
// range Web Mercator can represent.
func (b *mbtilesBackend) scanBoundsFromTiles(ctx context.Context) (*[4]float64, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT zoom_level, min(tile_column), max(tile_column), min(tile_row), max(tile_row) FROM tiles GROUP BY zoom_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var union *[4]float64
	for rows.Next() {
		var z, minX, maxX, minRowTMS, maxRowTMS int
		if err := rows.Scan(&z, &minX, &maxX, &minRowTMS, &maxRowTMS); err != nil {
			return nil, err
		}
		minY := coord.FlipY(z, maxRowTMS) // TMS max row is the northernmost (XYZ min) row
		maxY := coord.FlipY(z, minRowTMS)
		minLon1, minLat1, maxLon1, maxLat1 := coord.TileBounds(z, minX, minY)
		minLon2, minLat2, maxLon2, maxLat2 := coord.TileBounds(z, maxX, maxY)

		minLon, minLat, maxLon, maxLat := minLon1, minLat1, maxLon1, maxLat1
		if minLon2 < minLon {
			minLon = minLon2
		}
		if minLat2 < minLat {
			minLat = minLat2
		}
		if maxLon2 > maxLon {
			maxLon = maxLon2
		}
		if maxLat2 > maxLat {
			maxLat = maxLat2
		}

		if union == nil {
			union = &[4]float64{minLon, minLat, maxLon, maxLat}
			continue
		}
		if minLon < union[0] {
			union[0] = minLon
		}
		if minLat < union[1] {
			union[1] = minLat
		}
		if maxLon > union[2] {
			union[2] = maxLon
		}
		if maxLat > union[3] {
			union[3] = maxLat
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if union != nil {
		union[1] = coord.ClampLat(union[1])
		union[3] = coord.ClampLat(union[3])
	}
	return union, nil
}

// unionVectorLayers decodes every stored tile body as a Mapbox Vector
// Tile and unions the distinct layer names found across all of them.
func (b *mbtilesBackend) unionVectorLayers(ctx context.Context) ([]VectorLayer, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT tile_data FROM tiles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := map[string]struct{}{}
	var layers []VectorLayer
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		for _, name := range tileformat.VectorLayerNames(data) {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			layers = append(layers, VectorLayer{ID: name})
		}
	}
	return layers, rows.Err()
}

func (b *mbtilesBackend) PutMetadata(ctx context.Context, md *Metadata) error {
	entries := map[string]string{
		"name":        md.Name,
		"description": md.Description,
		"attribution": md.Attribution,
		"format":      md.Format,
		"minzoom":     strconv.Itoa(md.MinZoom),
		"maxzoom":     strconv.Itoa(md.MaxZoom),
		"bounds":      formatCSVFloats(md.Bounds[:]),
		"center":      formatCSVFloats(md.Center[:]),
	}
	if len(md.VectorLayers) > 0 {
		j, err := json.Marshal(map[string]any{"vector_layers": md.VectorLayers})
		if err != nil {
			return fmt.Errorf("store: marshal vector_layers: %w", err)
		}
		entries["json"] = string(j)
	}
	for k, v := range md.Extra {
		entries[k] = v
	}

	return sqlutil.WithBusyRetry(ctx, 5*time.Second, func() error {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for k, v := range entries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO metadata (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value`, k, v); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// AddOverviews composites the four children of each parent tile in ranges
// from tiles already present in this file, then writes the composited
// parent — a pyramid build step driven from already-stored tiles rather
// than a freshly rendered raster.
func (b *mbtilesBackend) AddOverviews(ctx context.Context, ranges []coord.TileRange, tileSize int) error {
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

func (b *mbtilesBackend) AddOverviewTile(ctx context.Context, z, x, y, tileSize int) error {
	childZ := z + 1
	var children [4][]byte
	var format string
	for i, off := range [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		cx, cy := x*2+off[0], y*2+off[1]
		rec, err := b.GetTile(ctx, TileKey{Z: childZ, X: cx, Y: cy, Scheme: coord.SchemeXYZ})
		if err != nil {
			if !errors.Is(err, tilerr.TileNotFound) {
				return err
			}
			continue
		}
		children[i] = rec.Data
		format = rec.Format
	}
	if format == "" {
		return nil // no children present; nothing to composite
	}
	data, err := overview.Compose4to1(children, tileSize, tileSize, format, overview.ResamplingBilinear)
	if err != nil {
		return fmt.Errorf("store: compose overview z=%d x=%d y=%d: %w", z, x, y, err)
	}
	return b.PutTile(ctx, TileKey{Z: z, X: x, Y: y, Scheme: coord.SchemeXYZ}, data, format, md5Hex(data))
}

// Compact rewrites the SQLite file with VACUUM, reclaiming space freed by
// tile overwrites/deletes. Run only when the operator asks for it
// explicitly — VACUUM takes an exclusive lock on the whole file.
func (b *mbtilesBackend) Compact(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `VACUUM`)
	if err != nil {
		return fmt.Errorf("store: mbtiles vacuum: %w", err)
	}
	return nil
}

func (b *mbtilesBackend) GetExtraInfo(ctx context.Context, coverages []coord.Coverage) (*ExtraInfo, error) {
	info := &ExtraInfo{}
	for _, cov := range coverages {
		ranges, err := coord.TileRangesForCoverage(cov)
		if err != nil {
			return nil, err
		}
		for _, r := range ranges {
			info.Expected += r.Count()
			minRow, maxRow := tmsRowRange(r)
			var n int64
			err := b.db.QueryRowContext(ctx,
				`SELECT count(*) FROM tiles WHERE zoom_level = ? AND tile_column BETWEEN ? AND ? AND tile_row BETWEEN ? AND ?`,
				r.Z, r.MinX, r.MaxX, minRow, maxRow).Scan(&n)
			if err != nil {
				return nil, fmt.Errorf("store: mbtiles extra info: %w", err)
			}
			info.Actual += n
		}
	}
	return info, nil
}

// tmsRowRange converts r's XYZ row range (north-origin) into the
// corresponding TMS row range (south-origin); FlipY is order-reversing,
// so the XYZ max row maps to the TMS min row and vice versa.
func tmsRowRange(r coord.TileRange) (min, max int) {
	a := coord.FromXYZRow(r.Z, r.MinY, coord.SchemeTMS)
	b := coord.FromXYZRow(r.Z, r.MaxY, coord.SchemeTMS)
	if a > b {
		return b, a
	}
	return a, b
}

// RepairHashes backfills hash (and created, for rows predating that
// column) in batches of 256 until no NULL/empty hash rows remain — the
// repair pass for tiles a write path stored without computing one (the
// overview compositing path did this before it was fixed to hash at
// write time) and for rows upgraded in from a legacy MBTiles file.
func (b *mbtilesBackend) RepairHashes(ctx context.Context) (int, error) {
	total := 0
	for {
		rows, err := b.db.QueryContext(ctx,
			`SELECT zoom_level, tile_column, tile_row, tile_data, created FROM tiles WHERE hash IS NULL OR hash = '' LIMIT 256`)
		if err != nil {
			return total, fmt.Errorf("store: mbtiles repair scan: %w", err)
		}
		type pendingRow struct {
			z, x, y int
			created sql.NullInt64
			data    []byte
		}
		var batch []pendingRow
		for rows.Next() {
			var p pendingRow
			if err := rows.Scan(&p.z, &p.x, &p.y, &p.data, &p.created); err != nil {
				rows.Close()
				return total, err
			}
			batch = append(batch, p)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return total, err
		}
		rows.Close()
		if len(batch) == 0 {
			return total, nil
		}

		for _, p := range batch {
			created := p.created.Int64
			if !p.created.Valid || created == 0 {
				created = time.Now().Unix()
			}
			hash := md5Hex(p.data)
			err := sqlutil.WithBusyRetry(ctx, 5*time.Second, func() error {
				_, err := b.db.ExecContext(ctx,
					`UPDATE tiles SET hash = ?, created = ? WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
					hash, created, p.z, p.x, p.y)
				return err
			})
			if err != nil {
				return total, fmt.Errorf("store: mbtiles repair update: %w", err)
			}
			total++
		}
	}
}

func (b *mbtilesBackend) Summary(ctx context.Context) (int64, int64, error) {
	var count, bytes int64
	err := b.db.QueryRowContext(ctx, `SELECT count(*), coalesce(sum(length(tile_data)), 0) FROM tiles`).Scan(&count, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("store: mbtiles summary: %w", err)
	}
	return count, bytes, nil
}

func parseCSVFloats(s string, out []float64) {
	parts := strings.Split(s, ",")
	for i := 0; i < len(out) && i < len(parts); i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err == nil {
			out[i] = v
		}
	}
}

func formatCSVFloats(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
