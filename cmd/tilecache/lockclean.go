package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pspoerri/tilecachegw/internal/filelock"
)

func runLockClean(args []string) error {
	fs := flag.NewFlagSet("lockclean", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "Verbose logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tilecache lockclean [flags] <dir>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := newLogger(*verbose)
	dirs := fs.Args()
	if len(dirs) == 0 {
		fs.Usage()
		return fmt.Errorf("tilecache: lockclean requires at least one directory")
	}

	for _, dir := range dirs {
		removed, err := filelock.Sweep(dir)
		if err != nil {
			return fmt.Errorf("lockclean %s: %w", dir, err)
		}
		log.WithField("dir", dir).WithField("removed", removed).Info("lock sweep complete")
	}
	return nil
}
