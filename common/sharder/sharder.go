// Package sharder maps tokens to local execution shards within one node.
package sharder

import (
	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/dht"
	"github.com/meridiandb/placement/common/tablets"
	"github.com/meridiandb/placement/common/topology"
)

// Sharder is a table's shard-affinity function on one host.
type Sharder interface {
	ShardForToken(t dht.Token) cluster.ShardID
}

// TabletSharder derives shard affinity from tablet placement: a token's
// shard is the shard of the tablet replica this host holds. Tokens for
// tablets with no replica on this host fall back to shard zero.
type TabletSharder struct {
	// snap ties the tablet map's lifetime to the snapshot's; the caller
	// must keep a reference on the snapshot while the sharder is in use
	snap *topology.Snapshot
	tmap *tablets.TabletMap
	host cluster.HostID
}

var _ Sharder = (*TabletSharder)(nil)

// NewTabletSharder builds the shard-affinity function of one table on one
// host. The snapshot must stay referenced for as long as the sharder is
// used; sharders obtained through a ReplicationMap are covered by the map's
// own snapshot reference until the map is closed.
func NewTabletSharder(snap *topology.Snapshot, table cluster.TableID, host cluster.HostID) (*TabletSharder, error) {
	tmap, err := snap.Tablets().GetTabletMap(table)
	if err != nil {
		return nil, err
	}

	return &TabletSharder{
		snap: snap,
		tmap: tmap,
		host: host,
	}, nil
}

func (s *TabletSharder) ShardForToken(t dht.Token) cluster.ShardID {
	id := s.tmap.GetTabletID(t)
	shard, ok, err := s.tmap.GetShard(id, s.host)
	if err != nil || !ok {
		return 0
	}
	return shard
}

// SingleSharder sends every token to one fixed shard. Used by strategies
// that have no per-token shard affinity.
type SingleSharder struct {
	Shard cluster.ShardID
}

var _ Sharder = (*SingleSharder)(nil)

func (s *SingleSharder) ShardForToken(t dht.Token) cluster.ShardID {
	return s.Shard
}
