// Command tilecache is the operator-facing CLI for the tile cache
// engine: seeding, cleaning, inventory, compaction, and orphan-lock
// cleanup, one subcommand per verb in the style of
// cmd/geotiff2pmtiles's single-binary flag.StringVar/flag.Usage CLI.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "-version" || cmd == "--version" {
		fmt.Printf("tilecache %s (commit %s, built %s)\n", version, commit, buildDate)
		return
	}

	var err error
	switch cmd {
	case "seed":
		err = runSeed(args)
	case "clean":
		err = runClean(args)
	case "inventory":
		err = runInventory(args)
	case "compact":
		err = runCompact(args)
	case "lockclean":
		err = runLockClean(args)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		logrus.WithError(err).Errorf("%s failed", cmd)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: tilecache <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  seed       seed tile coverages from seed.json\n")
	fmt.Fprintf(os.Stderr, "  clean      remove stale tiles per cleanup.json\n")
	fmt.Fprintf(os.Stderr, "  inventory  report tile counts/bytes (service or seed mode)\n")
	fmt.Fprintf(os.Stderr, "  compact    run a back-end's maintenance pass\n")
	fmt.Fprintf(os.Stderr, "  lockclean  sweep orphaned .lock sentinel files\n")
	fmt.Fprintf(os.Stderr, "\nRun \"tilecache <command> -h\" for command-specific flags.\n")
}

// newLogger configures the root logrus logger from -verbose.
func newLogger(verbose bool) *logrus.Entry {
	l := logrus.New()
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return logrus.NewEntry(l)
}
