package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pspoerri/tilecachegw/internal/coord"
	"github.com/pspoerri/tilecachegw/internal/sqlutil"
	"github.com/pspoerri/tilecachegw/internal/tilerr"
)

func newMBTiles(t *testing.T) Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mbtiles")
	b, err := openMBTiles(OpenConfig{StoreType: TypeMBTiles, MBTilesPath: path, TileSize: 256})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestMBTiles_PutGetTile(t *testing.T) {
	b := newMBTiles(t)
	ctx := context.Background()
	key := TileKey{Z: 3, X: 4, Y: 2, Scheme: coord.SchemeXYZ}

	require.NoError(t, b.PutTile(ctx, key, []byte("tiledata"), "png", "abc123"))

	rec, err := b.GetTile(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("tiledata"), rec.Data)
	require.Equal(t, "abc123", rec.Hash)
}

func TestMBTiles_GetTile_NotFound(t *testing.T) {
	b := newMBTiles(t)
	_, err := b.GetTile(context.Background(), TileKey{Z: 1, X: 0, Y: 0, Scheme: coord.SchemeXYZ})
	require.Error(t, err)
	require.True(t, errors.Is(err, tilerr.TileNotFound))
}

func TestMBTiles_PutTile_Upsert(t *testing.T) {
	b := newMBTiles(t)
	ctx := context.Background()
	key := TileKey{Z: 1, X: 0, Y: 0, Scheme: coord.SchemeXYZ}

	require.NoError(t, b.PutTile(ctx, key, []byte("v1"), "png", "h1"))
	require.NoError(t, b.PutTile(ctx, key, []byte("v2"), "png", "h2"))

	rec, err := b.GetTile(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), rec.Data)
	require.Equal(t, "h2", rec.Hash)
}

func TestMBTiles_DeleteTile(t *testing.T) {
	b := newMBTiles(t)
	ctx := context.Background()
	key := TileKey{Z: 1, X: 0, Y: 0, Scheme: coord.SchemeXYZ}

	require.NoError(t, b.PutTile(ctx, key, []byte("v1"), "png", "h1"))
	require.NoError(t, b.DeleteTile(ctx, key))

	_, err := b.GetTile(ctx, key)
	require.True(t, errors.Is(err, tilerr.TileNotFound))
}

func TestMBTiles_MetadataRoundTrip(t *testing.T) {
	b := newMBTiles(t)
	ctx := context.Background()

	md := &Metadata{
		Name: "test-tileset", Format: "png", MinZoom: 0, MaxZoom: 14,
		Bounds: [4]float64{-180, -85, 180, 85}, Center: [3]float64{0, 0, 2},
		Attribution: "© test", VectorLayers: nil,
	}
	require.NoError(t, b.PutMetadata(ctx, md))

	got, err := b.GetMetadata(ctx)
	require.NoError(t, err)
	require.Equal(t, "test-tileset", got.Name)
	require.Equal(t, 14, got.MaxZoom)
	require.InDelta(t, -180, got.Bounds[0], 0.0001)
}

func TestMBTiles_GetExtraInfo(t *testing.T) {
	b := newMBTiles(t)
	ctx := context.Background()

	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			key := TileKey{Z: 1, X: x, Y: y, Scheme: coord.SchemeXYZ}
			require.NoError(t, b.PutTile(ctx, key, []byte("d"), "png", ""))
		}
	}

	cov := coord.Coverage{
		Bounds:  &coord.BBox{MinLon: -180, MinLat: -85, MaxLon: 180, MaxLat: 85},
		MinZoom: 1, MaxZoom: 1,
	}
	info, err := b.GetExtraInfo(ctx, []coord.Coverage{cov})
	require.NoError(t, err)
	require.Equal(t, int64(4), info.Expected)
	require.Equal(t, int64(4), info.Actual)
}

func TestMBTiles_AddOverviewTile_CompositesChildren(t *testing.T) {
	b := newMBTiles(t)
	ctx := context.Background()

	tileSize := 4
	for _, off := range [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		key := TileKey{Z: 2, X: off[0], Y: off[1], Scheme: coord.SchemeXYZ}
		png := solidPNG(t, tileSize, tileSize)
		require.NoError(t, b.PutTile(ctx, key, png, "png", ""))
	}

	require.NoError(t, b.AddOverviewTile(ctx, 1, 0, 0, tileSize))

	rec, err := b.GetTile(ctx, TileKey{Z: 1, X: 0, Y: 0, Scheme: coord.SchemeXYZ})
	require.NoError(t, err)
	require.NotEmpty(t, rec.Data)
}

func TestMBTiles_Compact(t *testing.T) {
	b := newMBTiles(t)
	ctx := context.Background()
	require.NoError(t, b.PutTile(ctx, TileKey{Z: 0, X: 0, Y: 0, Scheme: coord.SchemeXYZ}, []byte("d"), "png", ""))
	require.NoError(t, b.Compact(ctx))
}

func TestMBTiles_RepairHashes_BackfillsMissingHash(t *testing.T) {
	b := newMBTiles(t)
	ctx := context.Background()
	key := TileKey{Z: 1, X: 0, Y: 0, Scheme: coord.SchemeXYZ}
	require.NoError(t, b.PutTile(ctx, key, []byte("tiledata"), "png", ""))

	n, err := b.RepairHashes(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err := b.GetTile(ctx, key)
	require.NoError(t, err)
	require.Equal(t, md5Hex([]byte("tiledata")), rec.Hash)

	n, err = b.RepairHashes(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n, "a second pass should find nothing left to repair")
}

func TestMBTiles_OpenUpgradesLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.mbtiles")
	db, err := sqlutil.OpenSQLite(path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB);
		CREATE UNIQUE INDEX tiles_idx ON tiles (zoom_level, tile_column, tile_row);
		CREATE TABLE metadata (name TEXT, value TEXT);
		INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (0, 0, 0, X'ff');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	b, err := openMBTiles(OpenConfig{StoreType: TypeMBTiles, MBTilesPath: path, TileSize: 256})
	require.NoError(t, err, "opening a legacy file missing hash/created must not fail")
	defer b.Close()

	rec, err := b.GetTile(context.Background(), TileKey{Z: 0, X: 0, Y: 0, Scheme: coord.SchemeTMS})
	require.NoError(t, err)
	require.Equal(t, []byte{0xff}, rec.Data)
}

func TestMBTiles_GetMetadata_ReconstructsFromTiles(t *testing.T) {
	b := newMBTiles(t)
	ctx := context.Background()
	for _, z := range []int{2, 3} {
		require.NoError(t, b.PutTile(ctx, TileKey{Z: z, X: 0, Y: 0, Scheme: coord.SchemeXYZ}, solidPNG(t, 4, 4), "png", ""))
	}

	md, err := b.GetMetadata(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, md.MinZoom)
	require.Equal(t, 3, md.MaxZoom)
	require.Equal(t, "png", md.Format)
}

func TestMBTiles_GetMetadata_DerivesVectorLayersFromPBF(t *testing.T) {
	b := newMBTiles(t)
	ctx := context.Background()
	require.NoError(t, b.PutTile(ctx, TileKey{Z: 0, X: 0, Y: 0, Scheme: coord.SchemeXYZ}, fakeMVTTile(t, "roads"), "pbf", ""))

	md, err := b.GetMetadata(ctx)
	require.NoError(t, err)
	require.Len(t, md.VectorLayers, 1)
	require.Equal(t, "roads", md.VectorLayers[0].ID)
}

func TestMBTiles_Summary(t *testing.T) {
	b := newMBTiles(t)
	ctx := context.Background()
	require.NoError(t, b.PutTile(ctx, TileKey{Z: 0, X: 0, Y: 0, Scheme: coord.SchemeXYZ}, []byte("abcd"), "png", ""))

	count, bytes, err := b.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, int64(4), bytes)
}
