package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/pspoerri/tilecachegw/internal/cachegw"
	"github.com/pspoerri/tilecachegw/internal/coord"
	"github.com/pspoerri/tilecachegw/internal/operator"
	"github.com/pspoerri/tilecachegw/internal/seedconfig"
	"github.com/pspoerri/tilecachegw/internal/store"
)

func runSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", "seed.json", "Path to seed.json")
	sourceFilter := fs.String("source", "", "Only seed this source id (default: all)")
	ifChanged := fs.Bool("if-changed", false, "Skip rewriting a tile whose origin MD5 matches the stored hash")
	concurrencyOverride := fs.Int("concurrency", 0, "Override each source's configured concurrency (0 = use source's own value)")
	progress := fs.Bool("progress", false, "Show a terminal progress bar per source")
	verbose := fs.Bool("verbose", false, "Verbose logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tilecache seed [flags]\n\nFlags:\n")
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

	for id, src := range doc.Datas {
		if *sourceFilter != "" && id != *sourceFilter {
			continue
		}
		if err := seedSource(ctx, facade, e, id, src, *ifChanged, *concurrencyOverride, *progress, log); err != nil {
			log.WithError(err).WithField("source", id).Error("seed failed")
			return err
		}
	}
	return nil
}

func seedSource(ctx context.Context, facade *store.Facade, e env, id string, src seedconfig.SourceSpec, ifChanged bool, concurrencyOverride int, showProgress bool, log *logrus.Entry) error {
	openCfg := openConfigFor(e, id, src.StoreType, src.Scheme)
	if openCfg.StoreType == store.TypeMBTiles {
		if err := ensureParentDir(openCfg.MBTilesPath); err != nil {
			return err
		}
	}
	if _, err := facade.Open(ctx, id, openCfg, true, 0); err != nil {
		return err
	}

	covs, err := src.CoverageList()
	if err != nil {
		return err
	}
	var ranges []coord.TileRange
	for _, cov := range covs {
		r, err := coord.TileRangesForCoverage(cov)
		if err != nil {
			return err
		}
		ranges = append(ranges, r...)
	}

	concurrency := src.Concurrency
	if concurrencyOverride > 0 {
		concurrency = concurrencyOverride
	}

	gwCfg := cachegw.SourceConfig{
		ID:               id,
		Forward:          src.URL != "",
		StoreTiles:       true,
		StoreTransparent: src.StoreTransparent,
		URL:              src.URL,
		MaxTry:           src.MaxTry,
		Timeout:          src.TimeoutDuration(),
		RefreshBefore:    src.RefreshBeforeDuration(),
	}

	opCfg := operator.Config{Concurrency: concurrency, Logger: log}
	if showProgress {
		var total int64
		for _, r := range ranges {
			total += r.Count()
		}
		pb := operator.NewProgressBar("seed "+id, total)
		opCfg.Progress = pb
		defer pb.Finish()
	}

	stats := cachegw.Seed(ctx, facade, id, gwCfg, ranges, ifChanged, opCfg)
	log.WithField("source", id).WithField("issued", stats.Issued).WithField("succeeded", stats.Succeeded).WithField("failed", stats.Failed).Info("seed complete")

	if meta := src.Metadata; len(meta) > 0 {
		if err := facade.UpdateMetadata(ctx, id, func(md *store.Metadata) {
			applyMetadataOverrides(md, meta)
		}, 0); err != nil {
			return err
		}
	}
	return nil
}

// applyMetadataOverrides copies the string-keyed metadata overrides
// seed.json carries per source onto the back-end's own Metadata record.
func applyMetadataOverrides(md *store.Metadata, overrides map[string]string) {
	if v, ok := overrides["name"]; ok {
		md.Name = v
	}
	if v, ok := overrides["description"]; ok {
		md.Description = v
	}
	if v, ok := overrides["attribution"]; ok {
		md.Attribution = v
	}
	if md.Extra == nil {
		md.Extra = map[string]string{}
	}
	for k, v := range overrides {
		switch k {
		case "name", "description", "attribution":
			continue
		}
		md.Extra[k] = v
	}
}
