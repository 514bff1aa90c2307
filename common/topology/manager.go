package topology

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

type ManagerOptions struct {
	Logger  *zap.Logger
	Initial *Snapshot
}

// Manager is the single owner of the canonical topology snapshot on this
// node. Readers never take locks: they grab the current snapshot (directly
// or through a Handle) and everything reachable from it stays stable for as
// long as they hold a reference. Readers that keep a snapshot across
// publishes must Acquire it; the metadata of a replaced snapshot is
// disposed of only after its last reference is released. Publishing
// installs a whole new snapshot; published snapshots are never mutated in
// place.
type Manager struct {
	logger  *zap.Logger
	current atomic.Pointer[Snapshot]
}

func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		logger: logger,
	}
	if opts.Initial != nil {
		m.current.Store(opts.Initial)
	}
	return m
}

// Current returns the latest published snapshot, or nil before the first
// publish.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Handle returns a cheap reference that always resolves to the manager's
// latest snapshot. Handles can be freely copied across goroutines.
func (m *Manager) Handle() Handle {
	return Handle{m: m}
}

// Publish installs snap as the canonical snapshot and retires the one it
// replaced. The retired snapshot's metadata is disposed of gently once its
// last holder releases it; when nothing else holds it, Publish performs the
// disposal before returning.
func (m *Manager) Publish(ctx context.Context, snap *Snapshot) error {
	prev := m.current.Swap(snap)

	if prev != nil && snap.Version() <= prev.Version() {
		m.logger.Warn("published topology snapshot does not advance the version",
			zap.Uint64("previous", prev.Version()),
			zap.Uint64("published", snap.Version()))
	}

	m.logger.Debug("published topology snapshot",
		zap.Uint64("version", snap.Version()),
		zap.Int("hosts", snap.HostCount()),
		zap.Int("tables", snap.Tablets().TableCount()))

	if prev != nil {
		return prev.retire(ctx, snap)
	}
	return nil
}

// Handle is a lightweight foreign reference to a Manager's snapshot. It
// holds no data itself; Get resolves back to the owning manager.
type Handle struct {
	m *Manager
}

func (h Handle) Get() *Snapshot {
	return h.m.Current()
}
