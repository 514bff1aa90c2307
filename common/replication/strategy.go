package replication

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/meridiandb/placement/common/topology"
)

// Options are the free-form key/value options a replication strategy is
// configured with. Strategies consume the keys they recognize and leave the
// rest for generic validation.
type Options map[string]string

// OptionInitialTablets sizes a new table's tablet map. The value is rounded
// up to the next power of two at table creation.
const OptionInitialTablets = "initial_tablets"

// Kind enumerates the closed set of replication strategies.
type Kind int

const (
	// KindTablet gives every table its own tablet-based replica placement.
	KindTablet Kind = iota

	// KindEverywhere replicates every range to every host. Used for small
	// system tables that must be readable locally on any node.
	KindEverywhere
)

func (k Kind) String() string {
	switch k {
	case KindTablet:
		return "tablet"
	case KindEverywhere:
		return "everywhere"
	}
	return "unknown"
}

// Strategy is one table's (or keyspace's) configured replication scheme.
type Strategy struct {
	Kind Kind

	initialTablets uint64
	usesTablets    bool
	perTable       bool
}

func NewStrategy(kind Kind) *Strategy {
	return &Strategy{Kind: kind}
}

// RecognizedOptions returns the option keys this strategy understands.
func (s *Strategy) RecognizedOptions() []string {
	if s.Kind == KindTablet {
		return []string{OptionInitialTablets}
	}
	return nil
}

func parseInitialTablets(val string) (uint64, error) {
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidOption, "%q must be numeric; found %q", OptionInitialTablets, val)
	}
	return n, nil
}

// Validate checks the tablet options without consuming them. Using tablet
// options requires the cluster-wide tablets feature.
func (s *Strategy) Validate(features topology.Features, opts Options) error {
	if s.Kind != KindTablet {
		return nil
	}

	for key, val := range opts {
		if key != OptionInitialTablets {
			continue
		}
		if !features.Tablets {
			return errors.WithStack(ErrTabletsDisabled)
		}
		if _, err := parseInitialTablets(val); err != nil {
			return err
		}
	}

	return nil
}

// Process consumes the tablet options: it records the initial tablet count,
// marks the strategy as tablet-based and per-table, and removes the key so
// downstream generic validation does not reject it as unknown.
func (s *Strategy) Process(opts Options) error {
	if s.Kind != KindTablet {
		return nil
	}

	val, ok := opts[OptionInitialTablets]
	if !ok {
		return nil
	}

	n, err := parseInitialTablets(val)
	if err != nil {
		return err
	}

	s.initialTablets = n
	s.usesTablets = true
	s.perTable = true
	delete(opts, OptionInitialTablets)

	return nil
}

func (s *Strategy) InitialTablets() uint64 {
	return s.initialTablets
}

func (s *Strategy) UsesTablets() bool {
	return s.usesTablets
}

// PerTable reports whether every table gets its own replica placement
// rather than sharing a keyspace-wide scheme.
func (s *Strategy) PerTable() bool {
	return s.perTable
}
