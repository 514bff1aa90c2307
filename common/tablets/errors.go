package tablets

import "errors"

var (
	// ErrTabletMapNotFound is returned when a table has no tablet map, for
	// example because it uses a non-tablet replication strategy.
	ErrTabletMapNotFound = errors.New("tablet map not found")

	// ErrInvalidTabletID indicates a tablet id that does not belong to the
	// map it was used against. Tablet ids are only valid relative to the
	// instance that produced them, so this is an internal consistency fault.
	ErrInvalidTabletID = errors.New("invalid tablet id")

	// ErrInvalidTabletCount indicates a tablet count that is not a power of
	// two. Counts are computed internally, so this is an internal
	// consistency fault rather than a user error.
	ErrInvalidTabletCount = errors.New("tablet count must be a power of two")
)
