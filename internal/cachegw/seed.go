package cachegw

import (
	"context"

	"github.com/pspoerri/tilecachegw/internal/coord"
	"github.com/pspoerri/tilecachegw/internal/operator"
	"github.com/pspoerri/tilecachegw/internal/store"
)

// Seed drives a coverage-driven bulk fetch-and-store over ranges: each
// tile is fetched from the source's configured origin and written
// through the same transparency gate GetTile's miss path uses. With
// ifChanged, a tile whose origin MD5 matches the already-stored hash
// is left untouched (the origin is still fetched and counted, but the
// write is skipped), the idempotence check testable property 6 names.
func Seed(ctx context.Context, facade *store.Facade, sourceID string, cfg SourceConfig, ranges []coord.TileRange, ifChanged bool, opCfg operator.Config) operator.Stats {
	g := New(facade, opCfg.Logger)
	return operator.Run(ctx, opCfg, ranges, func(taskCtx context.Context, z, x, y int) error {
		key := store.TileKey{Z: z, X: x, Y: y, Scheme: coord.SchemeXYZ}

		data, format, empty, err := g.fetchOrigin(taskCtx, key, cfg)
		if err != nil {
			return err
		}
		if empty {
			return nil
		}

		if ifChanged {
			hash := md5Hex(data)
			existing, err := facade.GetTile(taskCtx, sourceID, key)
			if err == nil && existing.Format == format && md5Hex(existing.Data) == hash {
				return nil
			}
		}

		if !shouldStore(data, format, cfg.StoreTransparent) {
			return nil
		}
		return facade.CreateTile(taskCtx, sourceID, key, data, format, md5Hex(data), cfg.Timeout)
	})
}
