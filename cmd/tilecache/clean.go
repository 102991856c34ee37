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

func runClean(args []string) error {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	configPath := fs.String("config", "cleanup.json", "Path to cleanup.json")
	sourceFilter := fs.String("source", "", "Only clean this source id (default: all)")
	progress := fs.Bool("progress", false, "Show a terminal progress bar per source")
	verbose := fs.Bool("verbose", false, "Verbose logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tilecache clean [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := newLogger(*verbose)
	doc, err := seedconfig.LoadCleanup(*configPath)
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
		if err := cleanSource(ctx, facade, e, id, src, *progress, log); err != nil {
			log.WithError(err).WithField("source", id).Error("clean failed")
			return err
		}
	}
	return nil
}

func cleanSource(ctx context.Context, facade *store.Facade, e env, id string, src seedconfig.CleanupSourceSpec, showProgress bool, log *logrus.Entry) error {
	openCfg := openConfigFor(e, id, src.StoreType, src.Scheme)
	if openCfg.StoreType == store.TypeMBTiles {
		if err := ensureParentDir(openCfg.MBTilesPath); err != nil {
			return err
		}
	}
	if _, err := facade.Open(ctx, id, openCfg, false, 0); err != nil {
		return err
	}

	before, err := cachegw.ParseCleanUpBefore(src.CleanUpBefore)
	if err != nil {
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

	opCfg := operator.Config{Concurrency: src.Concurrency, Logger: log}
	if showProgress {
		var total int64
		for _, r := range ranges {
			total += r.Count()
		}
		pb := operator.NewProgressBar("clean "+id, total)
		opCfg.Progress = pb
		defer pb.Finish()
	}

	stats := cachegw.CleanUp(ctx, facade, id, ranges, before, opCfg)
	log.WithField("source", id).WithField("issued", stats.Issued).WithField("succeeded", stats.Succeeded).WithField("failed", stats.Failed).Info("clean complete")
	return nil
}
