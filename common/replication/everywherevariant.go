package replication

import (
	"context"

	"go.uber.org/zap"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/dht"
	"github.com/meridiandb/placement/common/sharder"
	"github.com/meridiandb/placement/common/topology"
)

// everywhereReplicationMap places every range on every host. It never has
// pending movement; joining hosts pick up full copies out of band.
type everywhereReplicationMap struct {
	snap   *topology.Snapshot
	logger *zap.Logger
}

var _ ReplicationMap = (*everywhereReplicationMap)(nil)

func newEverywhereReplicationMap(snap *topology.Snapshot, logger *zap.Logger) *everywhereReplicationMap {
	return &everywhereReplicationMap{
		snap:   snap.Acquire(),
		logger: logger,
	}
}

func (m *everywhereReplicationMap) allHosts() []cluster.HostID {
	hosts := make([]cluster.HostID, 0, m.snap.HostCount())
	for _, h := range m.snap.Hosts() {
		hosts = append(hosts, h.ID)
	}
	return hosts
}

func (m *everywhereReplicationMap) toEndpoints(hosts []cluster.HostID) []cluster.Endpoint {
	eps := make([]cluster.Endpoint, 0, len(hosts))
	for _, id := range hosts {
		if ep, ok := m.snap.EndpointForHost(id); ok {
			eps = append(eps, ep)
		}
	}
	return eps
}

func (m *everywhereReplicationMap) NaturalEndpoints(t dht.Token) ([]cluster.Endpoint, error) {
	return m.toEndpoints(m.allHosts()), nil
}

func (m *everywhereReplicationMap) NaturalEndpointsWithoutReplaced(t dht.Token) ([]cluster.Endpoint, error) {
	return m.toEndpoints(hostsWithoutReplaced(m.snap, m.allHosts())), nil
}

func (m *everywhereReplicationMap) PendingEndpoints(t dht.Token) ([]cluster.Endpoint, error) {
	return nil, nil
}

func (m *everywhereReplicationMap) EndpointsForReading(t dht.Token) ([]cluster.Endpoint, bool, error) {
	return nil, false, nil
}

func (m *everywhereReplicationMap) HasPendingRanges(addr string) (bool, error) {
	return false, nil
}

func (m *everywhereReplicationMap) MakeSplitter() TokenRangeSplitter {
	return &everywhereSplitter{}
}

func (m *everywhereReplicationMap) Sharder(host cluster.HostID) (sharder.Sharder, error) {
	return &sharder.SingleSharder{}, nil
}

func (m *everywhereReplicationMap) ReplicationFactor() uint32 {
	return uint32(m.snap.HostCount())
}

func (m *everywhereReplicationMap) Snapshot() *topology.Snapshot {
	return m.snap
}

func (m *everywhereReplicationMap) Close(ctx context.Context) error {
	return m.snap.Release(ctx)
}
