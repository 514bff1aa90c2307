package replication

import "errors"

var (
	// ErrTabletsDisabled is returned when tablet options are used while the
	// cluster-wide tablets feature is off.
	ErrTabletsDisabled = errors.New("tablet replication is not enabled")

	// ErrInvalidOption is returned for replication options with malformed
	// values. This is a user-facing configuration error.
	ErrInvalidOption = errors.New("invalid replication option")

	// ErrUnknownStrategy indicates a strategy kind outside the closed set.
	ErrUnknownStrategy = errors.New("unknown replication strategy")

	// ErrInconsistentTopology indicates that a tablet replica references a
	// host the topology snapshot does not know. The tablet map and the
	// topology must agree at all times, so this is an internal consistency
	// fault, not a recoverable condition.
	ErrInconsistentTopology = errors.New("tablet map references a host missing from the topology")
)
