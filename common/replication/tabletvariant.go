package replication

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/dht"
	"github.com/meridiandb/placement/common/sharder"
	"github.com/meridiandb/placement/common/tablets"
	"github.com/meridiandb/placement/common/topology"
)

// tabletReplicationMap resolves tokens through the table's tablet map. The
// counted snapshot reference keeps the tablet map alive and stable for the
// map's whole lifetime, until Close.
type tabletReplicationMap struct {
	table  cluster.TableID
	snap   *topology.Snapshot
	tmap   *tablets.TabletMap
	rf     uint32
	logger *zap.Logger
}

var _ ReplicationMap = (*tabletReplicationMap)(nil)

func newTabletReplicationMap(
	table cluster.TableID,
	snap *topology.Snapshot,
	replicationFactor uint32,
	logger *zap.Logger,
) (*tabletReplicationMap, error) {
	tmap, err := snap.Tablets().GetTabletMap(table)
	if err != nil {
		return nil, err
	}

	return &tabletReplicationMap{
		table:  table,
		snap:   snap.Acquire(),
		tmap:   tmap,
		rf:     replicationFactor,
		logger: logger,
	}, nil
}

func (m *tabletReplicationMap) endpointForHost(host cluster.HostID) (cluster.Endpoint, error) {
	ep, ok := m.snap.EndpointForHost(host)
	if !ok {
		return cluster.Endpoint{}, errors.Wrapf(ErrInconsistentTopology,
			"host %s (table %s, topology version %d)", host, m.table, m.snap.Version())
	}
	return ep, nil
}

func (m *tabletReplicationMap) toEndpoints(replicas []tablets.TabletReplica) ([]cluster.Endpoint, error) {
	eps := make([]cluster.Endpoint, 0, len(replicas))
	for _, r := range replicas {
		ep, err := m.endpointForHost(r.Host)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

func (m *tabletReplicationMap) NaturalEndpoints(t dht.Token) ([]cluster.Endpoint, error) {
	id := m.tmap.GetTabletID(t)
	info, err := m.tmap.GetTabletInfo(id)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("resolved natural endpoints",
		zap.String("table", string(m.table)),
		zap.Int64("token", int64(t)),
		zap.Uint64("tablet", uint64(id)),
		zap.Int("replicas", len(info.Replicas)))

	return m.toEndpoints(info.Replicas)
}

func (m *tabletReplicationMap) NaturalEndpointsWithoutReplaced(t dht.Token) ([]cluster.Endpoint, error) {
	id := m.tmap.GetTabletID(t)
	info, err := m.tmap.GetTabletInfo(id)
	if err != nil {
		return nil, err
	}

	hosts := make([]cluster.HostID, 0, len(info.Replicas))
	for _, r := range info.Replicas {
		hosts = append(hosts, r.Host)
	}
	hosts = hostsWithoutReplaced(m.snap, hosts)

	eps := make([]cluster.Endpoint, 0, len(hosts))
	for _, host := range hosts {
		ep, err := m.endpointForHost(host)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

func (m *tabletReplicationMap) PendingEndpoints(t dht.Token) ([]cluster.Endpoint, error) {
	id := m.tmap.GetTabletID(t)
	tr, err := m.tmap.GetTabletTransitionInfo(id)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, nil
	}

	m.logger.Debug("resolved pending endpoint",
		zap.String("table", string(m.table)),
		zap.Int64("token", int64(t)),
		zap.Uint64("tablet", uint64(id)),
		zap.String("pending", tr.Pending.String()))

	ep, err := m.endpointForHost(tr.Pending.Host)
	if err != nil {
		return nil, err
	}
	return []cluster.Endpoint{ep}, nil
}

func (m *tabletReplicationMap) EndpointsForReading(t dht.Token) ([]cluster.Endpoint, bool, error) {
	// tablet placement has no read-path override
	return nil, false, nil
}

func (m *tabletReplicationMap) HasPendingRanges(addr string) (bool, error) {
	host, ok := m.snap.HostForAddr(addr)
	if !ok {
		return false, nil
	}

	for _, tr := range m.tmap.Transitions() {
		if tr.Pending.Host == host {
			return true, nil
		}
	}
	return false, nil
}

func (m *tabletReplicationMap) MakeSplitter() TokenRangeSplitter {
	return &tabletSplitter{
		snap: m.snap,
		tmap: m.tmap,
	}
}

func (m *tabletReplicationMap) Sharder(host cluster.HostID) (sharder.Sharder, error) {
	return sharder.NewTabletSharder(m.snap, m.table, host)
}

func (m *tabletReplicationMap) ReplicationFactor() uint32 {
	return m.rf
}

func (m *tabletReplicationMap) Snapshot() *topology.Snapshot {
	return m.snap
}

func (m *tabletReplicationMap) Close(ctx context.Context) error {
	return m.snap.Release(ctx)
}
