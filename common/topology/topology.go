package topology

import (
	"context"
	"sync/atomic"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/tablets"
)

// Features are the cluster-wide capabilities a snapshot was built under.
type Features struct {
	Tablets bool
}

// Host is one node's entry in a topology snapshot.
type Host struct {
	ID       cluster.HostID
	Endpoint cluster.Endpoint
	State    cluster.HostState
}

// Snapshot is one immutable version of the cluster topology: the known
// hosts, their endpoints and lifecycle states, and the tablet metadata of
// every tablet-based table. A published snapshot is never mutated; new
// versions are produced with WithTablets/WithHosts and installed through a
// Manager.
//
// A snapshot is reference counted. It starts with one reference held by its
// creator, which the Manager takes over on publish and drops when the
// snapshot is replaced. Anything that keeps the snapshot beyond a single
// call must Acquire it and Release it when done; tablet metadata of a
// replaced snapshot is disposed of only after the last reference is gone.
type Snapshot struct {
	version  uint64
	features Features

	hosts       map[cluster.HostID]Host
	hostsByAddr map[string]cluster.HostID

	tablets *tablets.Metadata

	refs atomic.Int64

	// set once at retirement, before the publisher's reference is dropped
	successor *Snapshot
}

type SnapshotOptions struct {
	Version  uint64
	Features Features
	Hosts    []Host
	Tablets  *tablets.Metadata
}

func NewSnapshot(opts SnapshotOptions) *Snapshot {
	md := opts.Tablets
	if md == nil {
		md = tablets.NewMetadata()
	}

	hosts := make(map[cluster.HostID]Host, len(opts.Hosts))
	byAddr := make(map[string]cluster.HostID, len(opts.Hosts))
	for _, h := range opts.Hosts {
		hosts[h.ID] = h
		byAddr[h.Endpoint.HostPort()] = h.ID
	}

	s := &Snapshot{
		version:     opts.Version,
		features:    opts.Features,
		hosts:       hosts,
		hostsByAddr: byAddr,
		tablets:     md,
	}
	s.refs.Store(1)
	return s
}

func (s *Snapshot) Version() uint64 {
	return s.version
}

func (s *Snapshot) Features() Features {
	return s.features
}

// Host returns one node's entry, or false if the host id is unknown.
func (s *Snapshot) Host(id cluster.HostID) (Host, bool) {
	h, ok := s.hosts[id]
	return h, ok
}

// EndpointForHost resolves a host id to its advertised endpoint.
func (s *Snapshot) EndpointForHost(id cluster.HostID) (cluster.Endpoint, bool) {
	h, ok := s.hosts[id]
	return h.Endpoint, ok
}

// HostForAddr resolves an advertised host:port back to a host id.
func (s *Snapshot) HostForAddr(addr string) (cluster.HostID, bool) {
	id, ok := s.hostsByAddr[addr]
	return id, ok
}

// Hosts returns all known hosts sorted by id.
func (s *Snapshot) Hosts() []Host {
	ids := maps.Keys(s.hosts)
	slices.Sort(ids)

	hosts := make([]Host, 0, len(ids))
	for _, id := range ids {
		hosts = append(hosts, s.hosts[id])
	}
	return hosts
}

func (s *Snapshot) HostCount() int {
	return len(s.hosts)
}

// Tablets returns the tablet metadata bound to this snapshot. The returned
// metadata is part of the published snapshot and must not be mutated.
func (s *Snapshot) Tablets() *tablets.Metadata {
	return s.tablets
}

// WithTablets derives the next snapshot version with new tablet metadata.
// The host maps are shared with this snapshot.
func (s *Snapshot) WithTablets(md *tablets.Metadata) *Snapshot {
	next := &Snapshot{
		version:     s.version + 1,
		features:    s.features,
		hosts:       s.hosts,
		hostsByAddr: s.hostsByAddr,
		tablets:     md,
	}
	next.refs.Store(1)
	return next
}

// WithHosts derives the next snapshot version with a new host list. The
// tablet metadata is shared with this snapshot.
func (s *Snapshot) WithHosts(hosts []Host) *Snapshot {
	next := NewSnapshot(SnapshotOptions{
		Version:  s.version + 1,
		Features: s.features,
		Hosts:    hosts,
		Tablets:  s.tablets,
	})
	return next
}

// Acquire takes a counted reference on the snapshot and returns it.
func (s *Snapshot) Acquire() *Snapshot {
	s.refs.Add(1)
	return s
}

// Release drops a reference taken with Acquire. Dropping the last
// reference of a retired snapshot disposes of its tablet metadata in
// cooperative chunks, clearing only what the successor does not share. A
// cancelled disposal leaves the remainder to the garbage collector.
func (s *Snapshot) Release(ctx context.Context) error {
	if s.refs.Add(-1) > 0 {
		return nil
	}
	return s.dispose(ctx)
}

// retire drops the publisher's reference once successor has replaced this
// snapshot. The retired snapshot keeps its successor alive until it is
// disposed of itself, so a map shared along the version chain is never
// cleared while an older holder can still reach it.
func (s *Snapshot) retire(ctx context.Context, successor *Snapshot) error {
	s.successor = successor.Acquire()
	return s.Release(ctx)
}

func (s *Snapshot) dispose(ctx context.Context) error {
	if s.successor == nil {
		return s.tablets.ClearGently(ctx)
	}
	if err := s.tablets.ClearRetiredGently(ctx, s.successor.tablets); err != nil {
		return err
	}
	return s.successor.Release(ctx)
}

// ClearGently releases the snapshot's tablet metadata in cooperative
// chunks. Only the owner of a snapshot that was never published may call
// this; replaced snapshots are disposed of through Release instead.
func (s *Snapshot) ClearGently(ctx context.Context) error {
	return s.tablets.ClearGently(ctx)
}
