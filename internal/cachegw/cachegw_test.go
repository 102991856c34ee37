package cachegw

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pspoerri/tilecachegw/internal/store"
)

func newTestFacade(t *testing.T) (*store.Facade, string) {
	t.Helper()
	f := store.NewFacade(nil)
	cfg := store.OpenConfig{StoreType: store.TypeMBTiles, MBTilesPath: filepath.Join(t.TempDir(), "a.mbtiles"), TileSize: 4}
	_, err := f.Open(context.Background(), "a", cfg, true, 0)
	require.NoError(t, err)
	return f, "a"
}

func solidPNG(t *testing.T, transparent bool) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	c := color.RGBA{R: 255, A: 255}
	if transparent {
		c = color.RGBA{}
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestGetTile_LocalHit(t *testing.T) {
	f, id := newTestFacade(t)
	ctx := context.Background()
	key := store.TileKey{Z: 1, X: 0, Y: 0, Scheme: "xyz"}
	require.NoError(t, f.CreateTile(ctx, id, key, solidPNG(t, false), "png", "h", 0))

	gw := New(f, nil)
	gw.Configure(SourceConfig{ID: id})

	res, err := gw.GetTile(ctx, id, key)
	require.NoError(t, err)
	require.False(t, res.Empty)
	require.Equal(t, "image/png", res.ContentType)
}

func TestGetTile_MissNoForward_ReturnsNotFound(t *testing.T) {
	f, id := newTestFacade(t)
	gw := New(f, nil)
	gw.Configure(SourceConfig{ID: id, Forward: false})

	_, err := gw.GetTile(context.Background(), id, store.TileKey{Z: 1, X: 0, Y: 0, Scheme: "xyz"})
	require.Error(t, err)
}

func TestGetTile_MissForwardsToOriginAndStores(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(solidPNG(t, false))
	}))
	defer srv.Close()

	f, id := newTestFacade(t)
	gw := New(f, nil)
	gw.Configure(SourceConfig{ID: id, Forward: true, StoreTiles: true, URL: srv.URL + "/{z}/{x}/{y}.png", MaxTry: 2, Timeout: time.Second})

	key := store.TileKey{Z: 2, X: 1, Y: 1, Scheme: "xyz"}
	res, err := gw.GetTile(context.Background(), id, key)
	require.NoError(t, err)
	require.False(t, res.Empty)
	require.Equal(t, int64(1), hits.Load())

	stored, err := f.GetTile(context.Background(), id, key)
	require.NoError(t, err)
	require.NotEmpty(t, stored.Data)
}

func TestGetTile_Origin404TreatedAsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, id := newTestFacade(t)
	gw := New(f, nil)
	gw.Configure(SourceConfig{ID: id, Forward: true, StoreTiles: true, URL: srv.URL + "/{z}/{x}/{y}.png", MaxTry: 1, Timeout: time.Second})

	res, err := gw.GetTile(context.Background(), id, store.TileKey{Z: 1, X: 0, Y: 0, Scheme: "xyz"})
	require.NoError(t, err)
	require.True(t, res.Empty)
}

func TestGetTile_RetriesUpToMaxTry(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(solidPNG(t, false))
	}))
	defer srv.Close()

	f, id := newTestFacade(t)
	gw := New(f, nil)
	gw.Configure(SourceConfig{ID: id, Forward: true, StoreTiles: true, URL: srv.URL + "/{z}/{x}/{y}.png", MaxTry: 5, Timeout: time.Second})

	res, err := gw.GetTile(context.Background(), id, store.TileKey{Z: 1, X: 0, Y: 0, Scheme: "xyz"})
	require.NoError(t, err)
	require.False(t, res.Empty)
	require.Equal(t, int64(3), attempts.Load())
}

func TestGetTile_TransparentPNGNotStoredByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(solidPNG(t, true))
	}))
	defer srv.Close()

	f, id := newTestFacade(t)
	gw := New(f, nil)
	gw.Configure(SourceConfig{ID: id, Forward: true, StoreTiles: true, StoreTransparent: false, URL: srv.URL + "/{z}/{x}/{y}.png", MaxTry: 1, Timeout: time.Second})

	key := store.TileKey{Z: 1, X: 0, Y: 0, Scheme: "xyz"}
	res, err := gw.GetTile(context.Background(), id, key)
	require.NoError(t, err)
	require.False(t, res.Empty)

	_, err = f.GetTile(context.Background(), id, key)
	require.Error(t, err)
}

func TestBuildURL_SubstitutesCoordsAndSubdomain(t *testing.T) {
	cfg := SourceConfig{URL: "https://{s}.tile.example/{z}/{x}/{y}.png", Subdomains: []string{"a", "b", "c"}}
	url := buildURL(cfg, store.TileKey{Z: 5, X: 4, Y: 3})
	require.Equal(t, "https://b.tile.example/5/4/3.png", url)
}

func TestParseCleanUpBefore_RelativeForm(t *testing.T) {
	before, err := ParseCleanUpBefore("7 days ago")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().AddDate(0, 0, -7), before, time.Minute)
}

func TestParseCleanUpBefore_AbsoluteForm(t *testing.T) {
	before, err := ParseCleanUpBefore("2026-01-01T00:00:00Z")
	require.NoError(t, err)
	require.Equal(t, 2026, before.Year())
}

func TestParseCleanUpBefore_Invalid(t *testing.T) {
	_, err := ParseCleanUpBefore("not a time")
	require.Error(t, err)
}
