package cluster

import (
	"net"
	"strconv"

	"github.com/google/uuid"
)

// HostID uniquely identifies a cluster node for its whole lifetime.
// It is assigned when the node first joins and survives address changes.
type HostID string

func NewHostID() HostID {
	return HostID(uuid.NewString())
}

func (h HostID) String() string {
	return string(h)
}

// TableID uniquely identifies a table across the cluster.
type TableID string

func NewTableID() TableID {
	return TableID(uuid.NewString())
}

func (t TableID) String() string {
	return string(t)
}

// ShardID identifies one execution shard within a single node.
type ShardID uint32

// HostState describes where a node is in its membership lifecycle.
type HostState int

const (
	HostStateNormal HostState = iota
	HostStateBeingReplaced
	HostStateLeaving
)

func (s HostState) String() string {
	switch s {
	case HostStateNormal:
		return "normal"
	case HostStateBeingReplaced:
		return "being_replaced"
	case HostStateLeaving:
		return "leaving"
	}
	return "unknown"
}

// Endpoint is the network location a node advertises to its peers.
type Endpoint struct {
	AdvertiseAddr string
	AdvertisePort int
	ServerGroup   string
}

func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.AdvertiseAddr, strconv.Itoa(e.AdvertisePort))
}
