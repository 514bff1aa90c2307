package replication

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/dht"
	"github.com/meridiandb/placement/common/sharder"
	"github.com/meridiandb/placement/common/topology"
)

// ReplicationMap answers "which endpoints hold data for this token" for one
// table against one fixed topology snapshot. Implementations hold a counted
// reference on the snapshot, so everything resolved through a map stays
// consistent with the snapshot it was made from, regardless of later
// publishes. Close releases the reference.
type ReplicationMap interface {
	// NaturalEndpoints returns the endpoints of the token's steady-state
	// replicas.
	NaturalEndpoints(t dht.Token) ([]cluster.Endpoint, error)

	// NaturalEndpointsWithoutReplaced is NaturalEndpoints with hosts that
	// are being replaced filtered out.
	NaturalEndpointsWithoutReplaced(t dht.Token) ([]cluster.Endpoint, error)

	// PendingEndpoints returns the endpoints a token's data is being moved
	// to; empty when the owning tablet (or range) is stable.
	PendingEndpoints(t dht.Token) ([]cluster.Endpoint, error)

	// EndpointsForReading returns a read-path override of the natural
	// endpoints. ok is false when the strategy has no such override.
	EndpointsForReading(t dht.Token) (eps []cluster.Endpoint, ok bool, err error)

	// HasPendingRanges reports whether any range of this table is being
	// moved to the host advertising the given host:port.
	HasPendingRanges(addr string) (bool, error)

	// MakeSplitter returns an iterator over this table's range boundaries.
	MakeSplitter() TokenRangeSplitter

	// Sharder returns the table's shard-affinity function on one host.
	Sharder(host cluster.HostID) (sharder.Sharder, error)

	ReplicationFactor() uint32
	Snapshot() *topology.Snapshot

	// Close releases the map's reference on its snapshot. The map, and any
	// splitter or sharder made from it, must not be used afterwards.
	Close(ctx context.Context) error
}

// MakeReplicationMap builds the replication map for one table. Dispatch is
// over the closed Kind set; adding a strategy means extending this switch.
func MakeReplicationMap(
	table cluster.TableID,
	strat *Strategy,
	snap *topology.Snapshot,
	replicationFactor uint32,
	logger *zap.Logger,
) (ReplicationMap, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strat.Kind {
	case KindTablet:
		return newTabletReplicationMap(table, snap, replicationFactor, logger)
	case KindEverywhere:
		return newEverywhereReplicationMap(snap, logger), nil
	}

	return nil, errors.Wrapf(ErrUnknownStrategy, "kind %d", strat.Kind)
}

// hostsWithoutReplaced filters out hosts being replaced, per the
// replacement-handling policy shared by all strategies.
func hostsWithoutReplaced(snap *topology.Snapshot, hosts []cluster.HostID) []cluster.HostID {
	out := hosts[:0:len(hosts)]
	for _, id := range hosts {
		if h, ok := snap.Host(id); ok && h.State == cluster.HostStateBeingReplaced {
			continue
		}
		out = append(out, id)
	}
	return out
}
