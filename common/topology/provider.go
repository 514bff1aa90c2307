package topology

import "context"

// Provider distributes topology snapshots between nodes. Exactly one
// process (the topology driver) publishes; everyone else watches.
type Provider interface {
	Publish(ctx context.Context, snap *Snapshot) error

	Watch(ctx context.Context) (<-chan *Snapshot, error)
	Get(ctx context.Context) (*Snapshot, error)
}
