package placement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/replication"
	"github.com/meridiandb/placement/common/tablets"
	"github.com/meridiandb/placement/common/topology"
)

func newTestManager(t *testing.T, hostCount int) (*topology.Manager, []cluster.HostID) {
	var ids []cluster.HostID
	var hosts []topology.Host
	for i := 0; i < hostCount; i++ {
		id := cluster.NewHostID()
		ids = append(ids, id)
		hosts = append(hosts, topology.Host{
			ID: id,
			Endpoint: cluster.Endpoint{
				AdvertiseAddr: "10.0.0.1",
				AdvertisePort: 7000 + i,
			},
		})
	}

	snap := topology.NewSnapshot(topology.SnapshotOptions{
		Version:  1,
		Features: topology.Features{Tablets: true},
		Hosts:    hosts,
	})

	return topology.NewManager(topology.ManagerOptions{Initial: snap}), ids
}

func TestCreateTable(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 3)
	d := NewDirector(DirectorOptions{Manager: m})

	table := cluster.NewTableID()
	err := d.CreateTable(ctx, table, replication.NewStrategy(replication.KindTablet),
		replication.Options{replication.OptionInitialTablets: "6"}, 2)
	require.NoError(t, err)

	snap := m.Current()
	assert.Equal(t, uint64(2), snap.Version())

	tmap, err := snap.Tablets().GetTabletMap(table)
	require.NoError(t, err)

	// 6 rounds up to 8
	assert.Equal(t, uint64(8), tmap.TabletCount())

	for _, id := range tmap.TabletIDs() {
		info, err := tmap.GetTabletInfo(id)
		require.NoError(t, err)
		require.Len(t, info.Replicas, 2)
		assert.NotEqual(t, info.Replicas[0].Host, info.Replicas[1].Host)
	}
}

func TestCreateTableDefaultsToOneTablet(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 1)
	d := NewDirector(DirectorOptions{Manager: m})

	table := cluster.NewTableID()
	err := d.CreateTable(ctx, table, replication.NewStrategy(replication.KindTablet),
		replication.Options{}, 1)
	require.NoError(t, err)

	tmap, err := m.Current().Tablets().GetTabletMap(table)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tmap.TabletCount())
}

func TestCreateTableRejections(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 2)
	d := NewDirector(DirectorOptions{Manager: m})

	table := cluster.NewTableID()

	// rf beyond cluster size
	err := d.CreateTable(ctx, table, replication.NewStrategy(replication.KindTablet),
		replication.Options{}, 3)
	assert.ErrorIs(t, err, ErrNotEnoughHosts)

	require.NoError(t, d.CreateTable(ctx, table,
		replication.NewStrategy(replication.KindTablet), replication.Options{}, 2))

	// double create
	err = d.CreateTable(ctx, table, replication.NewStrategy(replication.KindTablet),
		replication.Options{}, 2)
	assert.ErrorIs(t, err, ErrTableExists)

	// malformed option surfaces before anything is published
	before := m.Current().Version()
	err = d.CreateTable(ctx, cluster.NewTableID(),
		replication.NewStrategy(replication.KindTablet),
		replication.Options{replication.OptionInitialTablets: "many"}, 1)
	assert.ErrorIs(t, err, replication.ErrInvalidOption)
	assert.Equal(t, before, m.Current().Version())
}

func TestDropTable(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 2)
	d := NewDirector(DirectorOptions{Manager: m})

	table := cluster.NewTableID()
	require.NoError(t, d.CreateTable(ctx, table,
		replication.NewStrategy(replication.KindTablet), replication.Options{}, 1))

	require.NoError(t, d.DropTable(ctx, table))

	_, err := m.Current().Tablets().GetTabletMap(table)
	assert.ErrorIs(t, err, tablets.ErrTabletMapNotFound)

	err = d.DropTable(ctx, table)
	assert.ErrorIs(t, err, tablets.ErrTabletMapNotFound)
}

func TestTabletMigrationLifecycle(t *testing.T) {
	ctx := context.Background()
	m, ids := newTestManager(t, 3)
	d := NewDirector(DirectorOptions{Manager: m})

	table := cluster.NewTableID()
	require.NoError(t, d.CreateTable(ctx, table,
		replication.NewStrategy(replication.KindTablet),
		replication.Options{replication.OptionInitialTablets: "4"}, 1))

	// hold a reference so the pre-migration snapshot stays readable across
	// the publishes below
	snapBefore := m.Current().Acquire()
	defer func() { require.NoError(t, snapBefore.Release(ctx)) }()

	tmapBefore, err := snapBefore.Tablets().GetTabletMap(table)
	require.NoError(t, err)
	infoBefore, err := tmapBefore.GetTabletInfo(0)
	require.NoError(t, err)

	target := tablets.TabletReplica{Host: ids[2], Shard: 1}
	transition := tablets.TabletTransitionInfo{
		Next:    []tablets.TabletReplica{target},
		Pending: target,
	}

	// finishing before starting is an error
	err = d.FinishTabletMigration(ctx, table, 0)
	assert.ErrorIs(t, err, ErrNoActiveMigration)

	require.NoError(t, d.StartTabletMigration(ctx, table, 0, transition))

	// double start is rejected
	err = d.StartTabletMigration(ctx, table, 0, transition)
	assert.ErrorIs(t, err, ErrMigrationInProgress)

	// the published map carries the transition; the pre-migration map is
	// untouched
	tmapMid, err := m.Current().Tablets().GetTabletMap(table)
	require.NoError(t, err)
	tr, err := tmapMid.GetTabletTransitionInfo(0)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, target, tr.Pending)

	trOld, err := tmapBefore.GetTabletTransitionInfo(0)
	require.NoError(t, err)
	assert.Nil(t, trOld)

	require.NoError(t, d.FinishTabletMigration(ctx, table, 0))

	tmapAfter, err := m.Current().Tablets().GetTabletMap(table)
	require.NoError(t, err)

	infoAfter, err := tmapAfter.GetTabletInfo(0)
	require.NoError(t, err)
	assert.Equal(t, []tablets.TabletReplica{target}, infoAfter.Replicas)
	assert.NotEqual(t, infoBefore.Replicas, infoAfter.Replicas)

	tr, err = tmapAfter.GetTabletTransitionInfo(0)
	require.NoError(t, err)
	assert.Nil(t, tr)

	// other tablets are untouched
	info1After, err := tmapAfter.GetTabletInfo(1)
	require.NoError(t, err)
	info1Before, err := tmapBefore.GetTabletInfo(1)
	require.NoError(t, err)
	assert.Equal(t, info1Before.Replicas, info1After.Replicas)
}

func TestReplicationMapStableAcrossPublishes(t *testing.T) {
	ctx := context.Background()
	m, ids := newTestManager(t, 3)
	d := NewDirector(DirectorOptions{Manager: m})

	table := cluster.NewTableID()
	require.NoError(t, d.CreateTable(ctx, table,
		replication.NewStrategy(replication.KindTablet),
		replication.Options{replication.OptionInitialTablets: "4"}, 2))

	// bind a replication map to the snapshot that created the table
	rm, err := replication.MakeReplicationMap(table,
		replication.NewStrategy(replication.KindTablet), m.Current(), 2, nil)
	require.NoError(t, err)

	tmap, err := m.Current().Tablets().GetTabletMap(table)
	require.NoError(t, err)
	tok, err := tmap.GetFirstToken(0)
	require.NoError(t, err)

	before, err := rm.NaturalEndpoints(tok)
	require.NoError(t, err)
	require.Len(t, before, 2)

	// migrating tablet 0 publishes two newer versions
	target := tablets.TabletReplica{Host: ids[2], Shard: 0}
	require.NoError(t, d.StartTabletMigration(ctx, table, 0, tablets.TabletTransitionInfo{
		Next:    []tablets.TabletReplica{target},
		Pending: target,
	}))
	require.NoError(t, d.FinishTabletMigration(ctx, table, 0))

	// the map keeps resolving against the snapshot it was made from
	after, err := rm.NaturalEndpoints(tok)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NoError(t, rm.Close(ctx))
}

func TestDirectorPublishesToProvider(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 1)

	provider := topology.NewStaticProvider(topology.StaticProviderOptions{})
	d := NewDirector(DirectorOptions{Manager: m, Provider: provider})

	table := cluster.NewTableID()
	require.NoError(t, d.CreateTable(ctx, table,
		replication.NewStrategy(replication.KindTablet), replication.Options{}, 1))

	snap, err := provider.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.Current().Version(), snap.Version())
}

func TestDirectorWithoutTopology(t *testing.T) {
	d := NewDirector(DirectorOptions{Manager: topology.NewManager(topology.ManagerOptions{})})

	err := d.CreateTable(context.Background(), cluster.NewTableID(),
		replication.NewStrategy(replication.KindTablet), replication.Options{}, 1)
	assert.ErrorIs(t, err, ErrNoTopology)
}

func TestSetHosts(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 2)
	d := NewDirector(DirectorOptions{Manager: m})

	table := cluster.NewTableID()
	require.NoError(t, d.CreateTable(ctx, table,
		replication.NewStrategy(replication.KindTablet), replication.Options{}, 1))

	hosts := m.Current().Hosts()

	// an unchanged set is a no-op publish
	before := m.Current().Version()
	require.NoError(t, d.SetHosts(ctx, hosts))
	assert.Equal(t, before, m.Current().Version())

	joined := append(hosts, topology.Host{
		ID:       cluster.NewHostID(),
		Endpoint: cluster.Endpoint{AdvertiseAddr: "10.0.0.9", AdvertisePort: 7000},
	})
	require.NoError(t, d.SetHosts(ctx, joined))

	snap := m.Current()
	assert.Equal(t, before+1, snap.Version())
	assert.Equal(t, 3, snap.HostCount())

	// tablet metadata is carried over untouched
	_, err := snap.Tablets().GetTabletMap(table)
	require.NoError(t, err)
}

func TestRoundUpPow2(t *testing.T) {
	cases := map[uint64]uint64{
		0: 1, 1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 100: 128, 1024: 1024,
	}
	for in, want := range cases {
		assert.Equal(t, want, roundUpPow2(in), "roundUpPow2(%d)", in)
	}
}
