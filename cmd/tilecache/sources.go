package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pspoerri/tilecachegw/internal/store"
)

// env resolves DATA_DIR and POSTGRESQL_BASE_URI once at startup into a
// typed struct, rather than re-reading os.Getenv ad hoc throughout the
// subcommands.
type env struct {
	DataDir     string
	PostgresURI string
}

func loadEnv() env {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	return env{
		DataDir:     dataDir,
		PostgresURI: os.Getenv("POSTGRESQL_BASE_URI"),
	}
}

// normalizeStoreType maps seed.json/cleanup.json's external storeType
// vocabulary ({mbtiles, xyz, pg}) onto store's internal constant ("pg"
// and "postgres" both mean TypePostgres).
func normalizeStoreType(storeType string) string {
	if storeType == "pg" {
		return store.TypePostgres
	}
	return storeType
}

// openConfigFor builds the store.OpenConfig for source id given its
// declared storeType and scheme, laying MBTiles files and XYZ root
// directories out under DATA_DIR/<back-end>/<id>.
func openConfigFor(e env, id, storeType, scheme string) store.OpenConfig {
	cfg := store.OpenConfig{StoreType: normalizeStoreType(storeType)}
	switch cfg.StoreType {
	case store.TypeMBTiles:
		cfg.MBTilesPath = filepath.Join(e.DataDir, "mbtiles", id+".mbtiles")
	case store.TypeXYZ:
		cfg.XYZRootDir = filepath.Join(e.DataDir, "xyz", id)
		cfg.XYZScheme = scheme
	case store.TypePostgres:
		cfg.PostgresURI = e.PostgresURI
		cfg.PostgresTable = "tiles_" + id
	}
	return cfg
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}
