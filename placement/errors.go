package placement

import "errors"

var (
	// ErrTableExists is returned when creating a table whose tablet map is
	// already published.
	ErrTableExists = errors.New("table already has a tablet map")

	// ErrNotEnoughHosts is returned when the requested replication factor
	// exceeds the number of known hosts.
	ErrNotEnoughHosts = errors.New("not enough hosts for replication factor")

	// ErrNoActiveMigration is returned when finishing a migration on a
	// tablet that has no transition recorded.
	ErrNoActiveMigration = errors.New("tablet has no active migration")

	// ErrMigrationInProgress is returned when starting a migration on a
	// tablet that already has one.
	ErrMigrationInProgress = errors.New("tablet already has an active migration")

	// ErrNoTopology is returned for operations before the first topology
	// snapshot is published.
	ErrNoTopology = errors.New("no topology snapshot published yet")
)
