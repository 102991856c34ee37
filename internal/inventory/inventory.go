// Package inventory reports the two summary views spec.md §4.11 names:
// service-mode (counts/bytes across every configured source, grouped by
// back-end class) and seed-mode (actual-vs-expected tile counts per
// seeded source, built on the facade's GetExtraInfoFromCoverages).
package inventory

import (
	"context"
	"fmt"

	"github.com/pspoerri/tilecachegw/internal/coord"
	"github.com/pspoerri/tilecachegw/internal/store"
)

// SourceSummary is one source's row in a service-mode report.
type SourceSummary struct {
	ID        string
	StoreType string
	TileCount int64
	Bytes     int64
}

// ServiceReport groups SourceSummary rows by back-end class and totals
// tile counts and byte sizes within each class.
type ServiceReport struct {
	Sources    []SourceSummary
	ByType     map[string]ClassTotal
	TotalTiles int64
	TotalBytes int64
}

// ClassTotal is one back-end class's aggregate across its sources.
type ClassTotal struct {
	SourceCount int
	TileCount   int64
	Bytes       int64
}

// Service walks the catalog of configured sources (already open on
// facade) and reports per-source and per-class counts/bytes.
func Service(ctx context.Context, facade *store.Facade, sourceIDs map[string]string) (*ServiceReport, error) {
	report := &ServiceReport{ByType: map[string]ClassTotal{}}

	for id, storeType := range sourceIDs {
		count, err := facade.CountTiles(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("inventory: count tiles for %q: %w", id, err)
		}
		size, err := facade.Size(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("inventory: size for %q: %w", id, err)
		}
		report.Sources = append(report.Sources, SourceSummary{ID: id, StoreType: storeType, TileCount: count, Bytes: size})

		cls := report.ByType[storeType]
		cls.SourceCount++
		cls.TileCount += count
		cls.Bytes += size
		report.ByType[storeType] = cls

		report.TotalTiles += count
		report.TotalBytes += size
	}
	return report, nil
}

// SeedSourceReport is one seeded source's actual-vs-expected tile count.
type SeedSourceReport struct {
	ID       string
	Actual   int64
	Expected int64
}

// Complete reports whether every expected tile for this source is present.
func (r SeedSourceReport) Complete() bool {
	return r.Actual >= r.Expected
}

// Seed reports, for every entry in coveragesByID, the {actual, expect}
// pair built from GetExtraInfoFromCoverages rather than a second ad hoc
// scan of the back-end.
func Seed(ctx context.Context, facade *store.Facade, coveragesByID map[string][]coord.Coverage) ([]SeedSourceReport, error) {
	var reports []SeedSourceReport
	for id, coverages := range coveragesByID {
		info, err := facade.GetExtraInfoFromCoverages(ctx, id, coverages)
		if err != nil {
			return nil, fmt.Errorf("inventory: extra info for %q: %w", id, err)
		}
		reports = append(reports, SeedSourceReport{ID: id, Actual: info.Actual, Expected: info.Expected})
	}
	return reports, nil
}
