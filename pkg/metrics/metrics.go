package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PlacementMetrics struct {
	SnapshotsPublished  prometheus.Counter
	TopologyVersion     prometheus.Gauge
	TabletCount         *prometheus.GaugeVec
	TabletsInTransition *prometheus.GaugeVec
	MetadataMemoryBytes prometheus.Gauge
}

var (
	placementMetrics     *PlacementMetrics
	placementMetricsLock sync.Mutex
)

func GetPlacementMetrics() *PlacementMetrics {
	placementMetricsLock.Lock()

	if placementMetrics != nil {
		placementMetricsLock.Unlock()
		return placementMetrics
	}

	placementMetrics = newPlacementMetrics()

	placementMetricsLock.Unlock()
	return placementMetrics
}

func newPlacementMetrics() *PlacementMetrics {
	return &PlacementMetrics{
		SnapshotsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "placement_snapshots_published_total",
			Help: "Number of topology snapshots published by this node.",
		}),
		TopologyVersion: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "placement_topology_version",
			Help: "Version of the currently published topology snapshot.",
		}),
		TabletCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "placement_tablets",
			Help: "Number of tablets per table.",
		}, []string{"table"}),
		TabletsInTransition: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "placement_tablets_in_transition",
			Help: "Number of tablets with an in-flight migration per table.",
		}, []string{"table"}),
		MetadataMemoryBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "placement_metadata_memory_bytes",
			Help: "Estimated heap held by the published tablet metadata.",
		}),
	}
}
