package tablets

import (
	"fmt"

	"github.com/meridiandb/placement/common/cluster"
)

// TabletReplica identifies one execution shard on one node holding a copy
// of a tablet's data.
type TabletReplica struct {
	Host  cluster.HostID
	Shard cluster.ShardID
}

func (r TabletReplica) String() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Shard)
}

// TabletInfo is the steady-state replica set of a single tablet. The set is
// small, bounded by the table's replication factor.
type TabletInfo struct {
	Replicas []TabletReplica
}

func (i TabletInfo) Equal(o TabletInfo) bool {
	return replicasEqual(i.Replicas, o.Replicas)
}

// TabletTransitionInfo describes an in-progress change to a single tablet's
// replica set during a migration or split. Pending is the one replica being
// added; it is cached out of Next for fast lookup.
type TabletTransitionInfo struct {
	Next    []TabletReplica
	Pending TabletReplica
}

func (i TabletTransitionInfo) Equal(o TabletTransitionInfo) bool {
	return replicasEqual(i.Next, o.Next) && i.Pending == o.Pending
}

func replicasEqual(a, b []TabletReplica) bool {
	if len(a) != len(b) {
		return false
	}
	for idx := range a {
		if a[idx] != b[idx] {
			return false
		}
	}
	return true
}
