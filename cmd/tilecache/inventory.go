package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pspoerri/tilecachegw/internal/coord"
	"github.com/pspoerri/tilecachegw/internal/inventory"
	"github.com/pspoerri/tilecachegw/internal/seedconfig"
	"github.com/pspoerri/tilecachegw/internal/store"
)

func runInventory(args []string) error {
	fs := flag.NewFlagSet("inventory", flag.ExitOnError)
	configPath := fs.String("config", "seed.json", "Path to seed.json (its \"datas\" map is the source catalog)")
	mode := fs.String("mode", "service", "Report mode: service or seed")
	verbose := fs.Bool("verbose", false, "Verbose logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tilecache inventory [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := newLogger(*verbose)
	doc, err := seedconfig.Load(*configPath)
	if err != nil {
		return err
	}
	e := loadEnv()
	facade := store.NewFacade(log)
	ctx := context.Background()

	sourceIDs := map[string]string{}

	for id, src := range doc.Datas {
		openCfg := openConfigFor(e, id, src.StoreType, src.Scheme)
		if openCfg.StoreType == store.TypeMBTiles {
			if err := ensureParentDir(openCfg.MBTilesPath); err != nil {
				return err
			}
		}
		if _, err := facade.Open(ctx, id, openCfg, false, 0); err != nil {
			log.WithError(err).WithField("source", id).Warn("inventory: source not open, skipping")
			continue
		}
		sourceIDs[id] = openCfg.StoreType
	}

	switch *mode {
	case "service":
		report, err := inventory.Service(ctx, facade, sourceIDs)
		if err != nil {
			return err
		}
		printServiceReport(report)
	case "seed":
		covByID, err := coveragesFromDoc(doc, sourceIDs)
		if err != nil {
			return err
		}
		reports, err := inventory.Seed(ctx, facade, covByID)
		if err != nil {
			return err
		}
		printSeedReport(reports)
	default:
		return fmt.Errorf("tilecache: unknown inventory mode %q (want service or seed)", *mode)
	}
	return nil
}

func printServiceReport(r *inventory.ServiceReport) {
	fmt.Printf("%-20s %-10s %12s %14s\n", "SOURCE", "TYPE", "TILES", "BYTES")
	for _, s := range r.Sources {
		fmt.Printf("%-20s %-10s %12d %14d\n", s.ID, s.StoreType, s.TileCount, s.Bytes)
	}
	fmt.Println()
	for storeType, cls := range r.ByType {
		fmt.Printf("%-10s sources=%d tiles=%d bytes=%d\n", storeType, cls.SourceCount, cls.TileCount, cls.Bytes)
	}
	fmt.Printf("\nTOTAL tiles=%d bytes=%d\n", r.TotalTiles, r.TotalBytes)
}

// coveragesFromDoc converts every open source's seed.json coverage list
// into the coord.Coverage form inventory.Seed operates on.
func coveragesFromDoc(doc *seedconfig.Document, sourceIDs map[string]string) (map[string][]coord.Coverage, error) {
	out := map[string][]coord.Coverage{}
	for id := range sourceIDs {
		src, ok := doc.Datas[id]
		if !ok {
			continue
		}
		covs, err := src.CoverageList()
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", id, err)
		}
		out[id] = covs
	}
	return out, nil
}

func printSeedReport(reports []inventory.SeedSourceReport) {
	fmt.Printf("%-20s %12s %12s %10s\n", "SOURCE", "ACTUAL", "EXPECTED", "COMPLETE")
	for _, r := range reports {
		fmt.Printf("%-20s %12d %12d %10t\n", r.ID, r.Actual, r.Expected, r.Complete())
	}
}
