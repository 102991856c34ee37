package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/pspoerri/tilecachegw/internal/seedconfig"
	"github.com/pspoerri/tilecachegw/internal/store"
	"github.com/pspoerri/tilecachegw/internal/tilerr"
)

func runCompact(args []string) error {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	configPath := fs.String("config", "seed.json", "Path to seed.json")
	sourceFilter := fs.String("source", "", "Only compact this source id (default: all)")
	verbose := fs.Bool("verbose", false, "Verbose logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tilecache compact [flags]\n\nFlags:\n")
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
		openCfg := openConfigFor(e, id, src.StoreType, src.Scheme)
		if openCfg.StoreType == store.TypeMBTiles {
			if err := ensureParentDir(openCfg.MBTilesPath); err != nil {
				return err
			}
		}
		if _, err := facade.Open(ctx, id, openCfg, false, 0); err != nil {
			log.WithError(err).WithField("source", id).Warn("compact: source not open, skipping")
			continue
		}
		if err := facade.Compact(ctx, id); err != nil {
			if errors.Is(err, tilerr.UnsupportedOperation) {
				log.WithField("source", id).Info("compact: unsupported on this back-end, skipping")
				continue
			}
			log.WithError(err).WithField("source", id).Error("compact failed")
			return err
		}
		log.WithField("source", id).Info("compact complete")
	}
	return nil
}
