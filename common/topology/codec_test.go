package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/tablets"
)

func TestSnapshotCodecRoundTrip(t *testing.T) {
	hostA := cluster.NewHostID()
	hostB := cluster.NewHostID()

	table := cluster.NewTableID()
	tmap, err := tablets.NewTabletMap(4)
	require.NoError(t, err)

	require.NoError(t, tmap.SetTablet(0, tablets.TabletInfo{
		Replicas: []tablets.TabletReplica{
			{Host: hostA, Shard: 0},
			{Host: hostB, Shard: 3},
		},
	}))
	require.NoError(t, tmap.SetTabletTransitionInfo(2, tablets.TabletTransitionInfo{
		Next: []tablets.TabletReplica{
			{Host: hostA, Shard: 0},
			{Host: hostB, Shard: 1},
		},
		Pending: tablets.TabletReplica{Host: hostB, Shard: 1},
	}))

	md := tablets.NewMetadata()
	md.SetTabletMap(table, tmap)

	snap := NewSnapshot(SnapshotOptions{
		Version:  7,
		Features: Features{Tablets: true},
		Hosts: []Host{
			{
				ID:       hostA,
				Endpoint: cluster.Endpoint{AdvertiseAddr: "10.0.0.1", AdvertisePort: 7000, ServerGroup: "rack1"},
				State:    cluster.HostStateNormal,
			},
			{
				ID:       hostB,
				Endpoint: cluster.Endpoint{AdvertiseAddr: "10.0.0.2", AdvertisePort: 7000, ServerGroup: "rack2"},
				State:    cluster.HostStateBeingReplaced,
			},
		},
		Tablets: md,
	})

	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), decoded.Version())
	assert.True(t, decoded.Features().Tablets)
	assert.Equal(t, 2, decoded.HostCount())

	hb, ok := decoded.Host(hostB)
	require.True(t, ok)
	assert.Equal(t, cluster.HostStateBeingReplaced, hb.State)
	assert.Equal(t, "rack2", hb.Endpoint.ServerGroup)

	dmap, err := decoded.Tablets().GetTabletMap(table)
	require.NoError(t, err)
	assert.True(t, tmap.Equal(dmap))

	tr, err := dmap.GetTabletTransitionInfo(2)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, tablets.TabletReplica{Host: hostB, Shard: 1}, tr.Pending)
}

func TestHostCodecRoundTrip(t *testing.T) {
	host := Host{
		ID:       cluster.NewHostID(),
		Endpoint: cluster.Endpoint{AdvertiseAddr: "10.0.0.1", AdvertisePort: 7000, ServerGroup: "rack1"},
		State:    cluster.HostStateLeaving,
	}

	data, err := EncodeHost(host)
	require.NoError(t, err)

	decoded, err := DecodeHost(data)
	require.NoError(t, err)
	assert.Equal(t, host, decoded)

	_, err = DecodeHost([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeHost([]byte(`{"id": "h", "advertise_addr": "a", "advertise_port": 1, "state": "bogus"}`))
	assert.Error(t, err)
}

func TestDecodeRejectsMalformedSnapshots(t *testing.T) {
	_, err := DecodeSnapshot([]byte("not json"))
	assert.Error(t, err)

	// tablet count mismatch
	_, err = DecodeSnapshot([]byte(`{
		"version": 1,
		"features": {"tablets": true},
		"hosts": [],
		"tables": {"t1": {"tablet_count": 4, "tablets": [[]]}}
	}`))
	assert.Error(t, err)

	// non-power-of-two count
	_, err = DecodeSnapshot([]byte(`{
		"version": 1,
		"features": {"tablets": true},
		"hosts": [],
		"tables": {"t1": {"tablet_count": 3, "tablets": [[], [], []]}}
	}`))
	assert.Error(t, err)

	// unknown host state
	_, err = DecodeSnapshot([]byte(`{
		"version": 1,
		"features": {"tablets": false},
		"hosts": [{"id": "h", "advertise_addr": "a", "advertise_port": 1, "state": "bogus"}],
		"tables": {}
	}`))
	assert.Error(t, err)
}
