// Package cachegw implements the read-through tile cache gateway: the
// 5-step local-hit/miss-forward protocol in front of a store.Facade
// source, origin HTTP fetch with retries, transparent-PNG write
// suppression, and the TTL-based cleanup sweep.
package cachegw

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pspoerri/tilecachegw/internal/store"
	"github.com/pspoerri/tilecachegw/internal/tileformat"
	"github.com/pspoerri/tilecachegw/internal/tilerr"
)

// SourceConfig is a source's cache configuration, the per-source "cache"
// object of spec.md §4.9.
type SourceConfig struct {
	ID               string
	Forward          bool
	StoreTiles       bool
	StoreTransparent bool
	URL              string // e.g. "https://example.com/{z}/{x}/{y}.png", {s} subdomain supported
	Subdomains       []string
	Headers          map[string]string
	MaxTry           int
	Timeout          time.Duration
	RefreshBefore    time.Duration // tiles older than this, relative to now, trigger an async refresh
}

// Gateway serves reads through a store.Facade, forwarding misses to each
// source's configured origin.
type Gateway struct {
	facade   *store.Facade
	client   *http.Client
	log      *logrus.Entry
	configs  sync.Map // string -> SourceConfig
	inflight sync.Map // string (source+key) -> struct{}, de-dupes concurrent background refreshes
	hot      *hotCache // optional, see EnableHotCache
}

// New creates a Gateway over an already-populated Facade.
func New(facade *store.Facade, log *logrus.Entry) *Gateway {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Gateway{
		facade: facade,
		client: &http.Client{},
		log:    log,
	}
}

// Configure registers (or replaces) a source's cache configuration.
func (g *Gateway) Configure(cfg SourceConfig) {
	g.configs.Store(cfg.ID, cfg)
}

func (g *Gateway) config(id string) (SourceConfig, bool) {
	v, ok := g.configs.Load(id)
	if !ok {
		return SourceConfig{}, false
	}
	return v.(SourceConfig), true
}

// Result is what GetTile returns to a router: the bytes plus the headers
// it should set, or Empty=true when the origin authoritatively has no
// tile (204/404) for this key.
type Result struct {
	Data        []byte
	ContentType string
	Empty       bool
}

// GetTile implements spec.md §4.9 steps 1–5. When an in-process hot
// cache is enabled (EnableHotCache), a hit there skips the facade
// entirely; the facade remains the source of truth for everything else,
// including the staleness check that triggers a background refresh.
func (g *Gateway) GetTile(ctx context.Context, sourceID string, key store.TileKey) (*Result, error) {
	cfg, _ := g.config(sourceID)
	hotKey := sourceID + "/" + strconv.Itoa(key.Z) + "/" + strconv.Itoa(key.X) + "/" + strconv.Itoa(key.Y)

	if e, ok := g.hot.get(hotKey); ok {
		return &Result{Data: e.data, ContentType: contentType(e.format)}, nil
	}

	resp, err := g.facade.GetTile(ctx, sourceID, key)
	if err == nil {
		g.hot.put(hotKey, resp.Data, resp.Format)
		if cfg.RefreshBefore > 0 && time.Since(resp.Created) > cfg.RefreshBefore {
			go g.refresh(context.Background(), sourceID, key, cfg)
		}
		return &Result{Data: resp.Data, ContentType: contentType(resp.Format)}, nil
	}
	if !errors.Is(err, tilerr.TileNotFound) {
		return nil, err
	}

	if !cfg.Forward {
		return nil, fmt.Errorf("store: tile z=%d x=%d y=%d: %w", key.Z, key.X, key.Y, tilerr.TileNotFound)
	}

	data, format, empty, err := g.fetchOrigin(ctx, key, cfg)
	if err != nil {
		return nil, err
	}
	if empty {
		return &Result{Empty: true}, nil
	}

	if cfg.StoreTiles && shouldStore(data, format, cfg.StoreTransparent) {
		hash := md5Hex(data)
		if err := g.facade.CreateTile(ctx, sourceID, key, data, format, hash, cfg.Timeout); err != nil {
			g.log.WithError(err).WithFields(logrus.Fields{"source": sourceID, "z": key.Z, "x": key.X, "y": key.Y}).Warn("cache write-back failed")
		}
	}
	g.hot.put(hotKey, data, format)
	return &Result{Data: data, ContentType: contentType(format)}, nil
}

// refresh re-runs the fetch+store path for a tile already served to a
// reader, asynchronously and without blocking the original request.
// Concurrent readers hitting the same stale key de-dupe to a single
// in-flight refresh instead of each firing their own origin fetch.
func (g *Gateway) refresh(ctx context.Context, sourceID string, key store.TileKey, cfg SourceConfig) {
	flightKey := fmt.Sprintf("%s/%d/%d/%d", sourceID, key.Z, key.X, key.Y)
	if _, loaded := g.inflight.LoadOrStore(flightKey, struct{}{}); loaded {
		return
	}
	defer g.inflight.Delete(flightKey)

	data, format, empty, err := g.fetchOrigin(ctx, key, cfg)
	if err != nil || empty {
		return
	}
	if cfg.StoreTiles && shouldStore(data, format, cfg.StoreTransparent) {
		hash := md5Hex(data)
		if err := g.facade.CreateTile(ctx, sourceID, key, data, format, hash, cfg.Timeout); err != nil {
			g.log.WithError(err).WithFields(logrus.Fields{"source": sourceID, "z": key.Z, "x": key.X, "y": key.Y}).Warn("background refresh write failed")
			return
		}
	}
	hotKey := sourceID + "/" + strconv.Itoa(key.Z) + "/" + strconv.Itoa(key.X) + "/" + strconv.Itoa(key.Y)
	g.hot.invalidate(hotKey)
}

// fetchOrigin retries GET url up to cfg.MaxTry times, substituting
// {z}/{x}/{y} (and a {s} subdomain if configured, round-robined by tile
// x the way classic Leaflet tile URL templates do).
func (g *Gateway) fetchOrigin(ctx context.Context, key store.TileKey, cfg SourceConfig) (data []byte, format string, empty bool, err error) {
	url := buildURL(cfg, key)
	var lastErr error
	for attempt := 1; attempt <= max(cfg.MaxTry, 1); attempt++ {
		reqCtx := ctx
		var cancel context.CancelFunc
		if cfg.Timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		data, format, empty, lastErr = g.attemptFetch(reqCtx, url, cfg.Headers)
		if cancel != nil {
			cancel()
		}
		if lastErr == nil {
			return data, format, empty, nil
		}
		g.log.WithError(lastErr).WithFields(logrus.Fields{"url": url, "attempt": attempt}).Debug("origin fetch attempt failed")
	}
	return nil, "", false, fmt.Errorf("store: fetch %s: %w: %v", url, tilerr.OriginUnavailable, lastErr)
}

func (g *Gateway) attemptFetch(ctx context.Context, url string, headers map[string]string) ([]byte, string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", false, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil, "", true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", false, fmt.Errorf("origin returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", false, err
	}
	return body, tileformat.Sniff(body), false, nil
}

// buildURL substitutes {z}, {x}, {y}, and an optional {s} subdomain
// (round-robined by tile x, the common Leaflet/OSM tile URL convention).
func buildURL(cfg SourceConfig, key store.TileKey) string {
	url := cfg.URL
	url = strings.ReplaceAll(url, "{z}", strconv.Itoa(key.Z))
	url = strings.ReplaceAll(url, "{x}", strconv.Itoa(key.X))
	url = strings.ReplaceAll(url, "{y}", strconv.Itoa(key.Y))
	if len(cfg.Subdomains) > 0 {
		url = strings.ReplaceAll(url, "{s}", cfg.Subdomains[key.X%len(cfg.Subdomains)])
	}
	return url
}

// shouldStore implements step 4: skip storing a fully-transparent PNG
// unless the source explicitly wants transparent tiles persisted.
func shouldStore(data []byte, format string, storeTransparent bool) bool {
	if storeTransparent || format != tileformat.FormatPNG {
		return true
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return true // not decodable as PNG despite the sniff; store it and let the reader fail loudly instead of silently dropping data
	}
	return !isFullyTransparent(img)
}

func isFullyTransparent(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a != 0 {
				return false
			}
		}
	}
	return true
}

func contentType(format string) string {
	switch format {
	case tileformat.FormatPNG:
		return "image/png"
	case tileformat.FormatJPEG:
		return "image/jpeg"
	case tileformat.FormatWebP:
		return "image/webp"
	case tileformat.FormatGIF:
		return "image/gif"
	case tileformat.FormatPBF:
		return "application/x-protobuf"
	default:
		return "application/octet-stream"
	}
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
