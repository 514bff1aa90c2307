package placement

import (
	"context"
	"math/bits"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/replication"
	"github.com/meridiandb/placement/common/tablets"
	"github.com/meridiandb/placement/common/topology"
	"github.com/meridiandb/placement/pkg/metrics"
)

type DirectorOptions struct {
	Logger   *zap.Logger
	Manager  *topology.Manager
	Provider topology.Provider
	Metrics  *metrics.PlacementMetrics
}

// Director drives tablet placement for the cluster. It is the only writer of
// tablet metadata: every operation clones the published state, mutates the
// clone, and publishes the result as a new snapshot version. Operations
// serialize on an internal mutex so admin calls and membership updates
// cannot interleave their read-clone-publish cycles. Exactly one director
// runs per cluster; other nodes follow through a topology provider.
type Director struct {
	logger   *zap.Logger
	manager  *topology.Manager
	provider topology.Provider
	metrics  *metrics.PlacementMetrics

	mu sync.Mutex
}

func NewDirector(opts DirectorOptions) *Director {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Director{
		logger:   logger,
		manager:  opts.Manager,
		provider: opts.Provider,
		metrics:  opts.Metrics,
	}
}

// roundUpPow2 rounds n up to the next power of two; zero becomes one.
func roundUpPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(n-1)
}

// CreateTable allocates and publishes a tablet map for a new table. The
// strategy's options are validated against the cluster features and then
// consumed; the initial tablet count is rounded up to a power of two.
// Replicas are spread round-robin over the known hosts.
func (d *Director) CreateTable(
	ctx context.Context,
	table cluster.TableID,
	strat *replication.Strategy,
	opts replication.Options,
	replicationFactor uint32,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.manager.Current()
	if snap == nil {
		return errors.WithStack(ErrNoTopology)
	}

	if err := strat.Validate(snap.Features(), opts); err != nil {
		return err
	}
	if err := strat.Process(opts); err != nil {
		return err
	}

	if _, err := snap.Tablets().GetTabletMap(table); err == nil {
		return errors.Wrapf(ErrTableExists, "table %s", table)
	}

	hosts := snap.Hosts()
	if int(replicationFactor) > len(hosts) {
		return errors.Wrapf(ErrNotEnoughHosts, "rf %d, hosts %d", replicationFactor, len(hosts))
	}

	count := roundUpPow2(strat.InitialTablets())
	tmap, err := tablets.NewTabletMap(count)
	if err != nil {
		return err
	}

	for _, id := range tmap.TabletIDs() {
		replicas := make([]tablets.TabletReplica, 0, replicationFactor)
		for j := uint32(0); j < replicationFactor; j++ {
			host := hosts[(uint64(id)+uint64(j))%uint64(len(hosts))]
			replicas = append(replicas, tablets.TabletReplica{Host: host.ID, Shard: 0})
		}
		if err := tmap.SetTablet(id, tablets.TabletInfo{Replicas: replicas}); err != nil {
			return err
		}
	}

	md := snap.Tablets().Clone()
	md.SetTabletMap(table, tmap)

	d.logger.Info("created tablet map",
		zap.String("table", string(table)),
		zap.Uint64("tablets", count),
		zap.Uint32("rf", replicationFactor))

	return d.publish(ctx, snap.WithTablets(md))
}

// DropTable removes a table's tablet map from the published metadata.
func (d *Director) DropTable(ctx context.Context, table cluster.TableID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.manager.Current()
	if snap == nil {
		return errors.WithStack(ErrNoTopology)
	}

	if _, err := snap.Tablets().GetTabletMap(table); err != nil {
		return err
	}

	md := snap.Tablets().Clone()
	md.RemoveTabletMap(table)

	d.logger.Info("dropped tablet map", zap.String("table", string(table)))

	return d.publish(ctx, snap.WithTablets(md))
}

// StartTabletMigration records an in-flight replica movement on one tablet
// and publishes the updated map. Writes routed through the new snapshot will
// include the pending replica.
func (d *Director) StartTabletMigration(
	ctx context.Context,
	table cluster.TableID,
	tablet tablets.TabletID,
	info tablets.TabletTransitionInfo,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.manager.Current()
	if snap == nil {
		return errors.WithStack(ErrNoTopology)
	}

	tmap, err := snap.Tablets().GetTabletMap(table)
	if err != nil {
		return err
	}

	if tr, err := tmap.GetTabletTransitionInfo(tablet); err != nil {
		return err
	} else if tr != nil {
		return errors.Wrapf(ErrMigrationInProgress, "table %s tablet %d", table, tablet)
	}

	next := tmap.Clone()
	if err := next.SetTabletTransitionInfo(tablet, info); err != nil {
		return err
	}

	md := snap.Tablets().Clone()
	md.SetTabletMap(table, next)

	d.logger.Info("started tablet migration",
		zap.String("table", string(table)),
		zap.Uint64("tablet", uint64(tablet)),
		zap.String("pending", info.Pending.String()))

	return d.publish(ctx, snap.WithTablets(md))
}

// FinishTabletMigration promotes the tablet's transition target to its
// steady-state replica set and clears the transition.
func (d *Director) FinishTabletMigration(
	ctx context.Context,
	table cluster.TableID,
	tablet tablets.TabletID,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.manager.Current()
	if snap == nil {
		return errors.WithStack(ErrNoTopology)
	}

	tmap, err := snap.Tablets().GetTabletMap(table)
	if err != nil {
		return err
	}

	tr, err := tmap.GetTabletTransitionInfo(tablet)
	if err != nil {
		return err
	}
	if tr == nil {
		return errors.Wrapf(ErrNoActiveMigration, "table %s tablet %d", table, tablet)
	}

	next := tmap.Clone()
	if err := next.SetTablet(tablet, tablets.TabletInfo{Replicas: tr.Next}); err != nil {
		return err
	}
	if err := next.ClearTabletTransitionInfo(tablet); err != nil {
		return err
	}

	md := snap.Tablets().Clone()
	md.SetTabletMap(table, next)

	d.logger.Info("finished tablet migration",
		zap.String("table", string(table)),
		zap.Uint64("tablet", uint64(tablet)))

	return d.publish(ctx, snap.WithTablets(md))
}

// SetHosts publishes a new snapshot carrying the given host set, e.g. when
// membership reports a node joining or leaving. Unchanged sets are ignored
// so lease refreshes do not churn the version.
func (d *Director) SetHosts(ctx context.Context, hosts []topology.Host) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.manager.Current()
	if snap == nil {
		return errors.WithStack(ErrNoTopology)
	}

	if hostsEqual(snap.Hosts(), hosts) {
		return nil
	}

	d.logger.Info("updating the host set",
		zap.Int("previous", snap.HostCount()),
		zap.Int("current", len(hosts)))

	return d.publish(ctx, snap.WithHosts(hosts))
}

func hostsEqual(a, b []topology.Host) bool {
	if len(a) != len(b) {
		return false
	}

	byID := make(map[cluster.HostID]topology.Host, len(a))
	for _, h := range a {
		byID[h.ID] = h
	}
	for _, h := range b {
		if byID[h.ID] != h {
			return false
		}
	}
	return true
}

// publish installs next locally, updates the gauges, and pushes next to the
// provider if one is configured. The replaced snapshot is retired by the
// manager; its metadata is disposed of once the last holder releases it.
func (d *Director) publish(ctx context.Context, next *topology.Snapshot) error {
	if err := d.manager.Publish(ctx, next); err != nil {
		return errors.Wrap(err, "interrupted while disposing of the replaced snapshot")
	}

	if d.metrics != nil {
		d.metrics.SnapshotsPublished.Inc()
		d.metrics.TopologyVersion.Set(float64(next.Version()))
		d.metrics.MetadataMemoryBytes.Set(float64(next.Tablets().ExternalMemoryUsage()))

		for _, table := range next.Tablets().Tables() {
			tmap, err := next.Tablets().GetTabletMap(table)
			if err != nil {
				continue
			}
			d.metrics.TabletCount.WithLabelValues(string(table)).Set(float64(tmap.TabletCount()))
			d.metrics.TabletsInTransition.WithLabelValues(string(table)).Set(float64(len(tmap.Transitions())))
		}
	}

	if d.provider != nil {
		if err := d.provider.Publish(ctx, next); err != nil {
			return errors.Wrap(err, "failed to distribute topology snapshot")
		}
	}

	return nil
}
