package sharder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/dht"
	"github.com/meridiandb/placement/common/tablets"
	"github.com/meridiandb/placement/common/topology"
)

func TestTabletSharder(t *testing.T) {
	hostA := cluster.NewHostID()
	hostB := cluster.NewHostID()

	tmap, err := tablets.NewTabletMap(2)
	require.NoError(t, err)

	// tablet 0 on hostA shard 3, tablet 1 on hostB only
	require.NoError(t, tmap.SetTablet(0, tablets.TabletInfo{
		Replicas: []tablets.TabletReplica{{Host: hostA, Shard: 3}},
	}))
	require.NoError(t, tmap.SetTablet(1, tablets.TabletInfo{
		Replicas: []tablets.TabletReplica{{Host: hostB, Shard: 1}},
	}))

	table := cluster.NewTableID()
	md := tablets.NewMetadata()
	md.SetTabletMap(table, tmap)

	snap := topology.NewSnapshot(topology.SnapshotOptions{
		Version: 1,
		Tablets: md,
	})

	s, err := NewTabletSharder(snap, table, hostA)
	require.NoError(t, err)

	// tokens below zero live in tablet 0
	assert.Equal(t, cluster.ShardID(3), s.ShardForToken(dht.Token(-1)))
	// tablet 1 has no replica on hostA
	assert.Equal(t, cluster.ShardID(0), s.ShardForToken(dht.Token(0)))

	_, err = NewTabletSharder(snap, cluster.NewTableID(), hostA)
	assert.ErrorIs(t, err, tablets.ErrTabletMapNotFound)
}

func TestSingleSharder(t *testing.T) {
	s := &SingleSharder{Shard: 2}
	assert.Equal(t, cluster.ShardID(2), s.ShardForToken(dht.MinimumToken))
	assert.Equal(t, cluster.ShardID(2), s.ShardForToken(dht.MaximumToken))
}
