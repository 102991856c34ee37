// Package tilerr defines the sentinel error kinds shared across the store,
// operator, and cache gateway layers, wrapped with fmt.Errorf's "%w" verb
// so callers can match them with errors.Is.
package tilerr

import "errors"

var (
	// TileNotFound is returned when a tile key has no record in a
	// back-end; the cache gateway passes it on when forwarding to the
	// origin is off.
	TileNotFound = errors.New("tile not found")

	// LockTimeout is returned when a file lock could not be acquired
	// before the configured timeout elapsed.
	LockTimeout = errors.New("lock acquisition timed out")

	// DBTimeout is returned when a SQLite/PostgreSQL statement kept
	// hitting "database is locked"/serialization failures past the
	// configured retry budget.
	DBTimeout = errors.New("database busy timeout exceeded")

	// OriginUnavailable is returned when every retry against an origin
	// server failed (network error or non-2xx/non-404 status).
	OriginUnavailable = errors.New("origin unavailable")

	// OriginEmpty names an origin reply that carries no tile (204 No
	// Content or 404). The cache gateway reports that case as an empty
	// Result rather than returning this error.
	OriginEmpty = errors.New("origin returned no tile data")

	// SchemaInvalid is returned when a back-end's on-disk or in-database
	// schema does not match what this gateway expects.
	SchemaInvalid = errors.New("store schema invalid")

	// UnsupportedOperation is returned when an operation is invoked
	// against a back-end that cannot perform it (e.g. addOverviews
	// against a PostgreSQL back-end, or compact against XYZ).
	UnsupportedOperation = errors.New("operation unsupported by this back-end")
)
