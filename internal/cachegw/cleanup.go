package cachegw

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pspoerri/tilecachegw/internal/coord"
	"github.com/pspoerri/tilecachegw/internal/operator"
	"github.com/pspoerri/tilecachegw/internal/store"
	"github.com/pspoerri/tilecachegw/internal/tilerr"
)

// ParseCleanUpBefore parses spec.md §4.9's "cleanUpBefore" value: either
// an absolute RFC3339 timestamp, or the relative form "N days ago".
func ParseCleanUpBefore(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	fields := strings.Fields(s)
	if len(fields) == 3 && fields[1] == "days" && fields[2] == "ago" {
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return time.Time{}, fmt.Errorf("cachegw: invalid cleanUpBefore %q: %w", s, err)
		}
		return time.Now().AddDate(0, 0, -n), nil
	}
	return time.Time{}, fmt.Errorf("cachegw: cleanUpBefore %q is neither RFC3339 nor \"N days ago\"", s)
}

// CleanUp removes every tile in ranges whose stored creation time is
// strictly before before (tiles with no recorded creation time are
// treated as old and removed), using the coverage operator for bounded
// concurrency the same way seeding does.
func CleanUp(ctx context.Context, facade *store.Facade, sourceID string, ranges []coord.TileRange, before time.Time, opCfg operator.Config) operator.Stats {
	return operator.Run(ctx, opCfg, ranges, func(taskCtx context.Context, z, x, y int) error {
		key := store.TileKey{Z: z, X: x, Y: y, Scheme: coord.SchemeXYZ}
		resp, err := facade.GetTile(taskCtx, sourceID, key)
		if errors.Is(err, tilerr.TileNotFound) {
			return nil // already absent; nothing to clean
		}
		if err != nil {
			return err
		}
		if resp.Created.IsZero() || resp.Created.Before(before) {
			return facade.RemoveTile(taskCtx, sourceID, key, 0)
		}
		return nil
	})
}
