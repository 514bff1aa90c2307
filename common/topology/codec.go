package topology

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/tablets"
)

// wire model for snapshots distributed through external stores

type jsonReplica struct {
	Host  string `json:"host"`
	Shard uint32 `json:"shard"`
}

type jsonTransition struct {
	Next    []jsonReplica `json:"next"`
	Pending jsonReplica   `json:"pending"`
}

type jsonTabletMap struct {
	TabletCount uint64                    `json:"tablet_count"`
	Tablets     [][]jsonReplica           `json:"tablets"`
	Transitions map[string]jsonTransition `json:"transitions,omitempty"`
}

type jsonHost struct {
	ID            string `json:"id"`
	AdvertiseAddr string `json:"advertise_addr"`
	AdvertisePort int    `json:"advertise_port"`
	ServerGroup   string `json:"server_group,omitempty"`
	State         string `json:"state"`
}

type jsonFeatures struct {
	Tablets bool `json:"tablets"`
}

type jsonSnapshot struct {
	Version  uint64                   `json:"version"`
	Features jsonFeatures             `json:"features"`
	Hosts    []jsonHost               `json:"hosts"`
	Tables   map[string]jsonTabletMap `json:"tables"`
}

func hostStateToWire(s cluster.HostState) string {
	return s.String()
}

func hostStateFromWire(s string) (cluster.HostState, error) {
	switch s {
	case "normal":
		return cluster.HostStateNormal, nil
	case "being_replaced":
		return cluster.HostStateBeingReplaced, nil
	case "leaving":
		return cluster.HostStateLeaving, nil
	}
	return 0, errors.Errorf("unknown host state %q", s)
}

func replicasToWire(rs []tablets.TabletReplica) []jsonReplica {
	out := make([]jsonReplica, 0, len(rs))
	for _, r := range rs {
		out = append(out, jsonReplica{Host: string(r.Host), Shard: uint32(r.Shard)})
	}
	return out
}

func replicasFromWire(rs []jsonReplica) []tablets.TabletReplica {
	out := make([]tablets.TabletReplica, 0, len(rs))
	for _, r := range rs {
		out = append(out, tablets.TabletReplica{
			Host:  cluster.HostID(r.Host),
			Shard: cluster.ShardID(r.Shard),
		})
	}
	return out
}

// EncodeHost serializes a single host entry. Used by membership, which
// registers each node's entry separately from full snapshots.
func EncodeHost(h Host) ([]byte, error) {
	return json.Marshal(jsonHost{
		ID:            string(h.ID),
		AdvertiseAddr: h.Endpoint.AdvertiseAddr,
		AdvertisePort: h.Endpoint.AdvertisePort,
		ServerGroup:   h.Endpoint.ServerGroup,
		State:         hostStateToWire(h.State),
	})
}

// DecodeHost rebuilds a host entry from its serialized form.
func DecodeHost(data []byte) (Host, error) {
	var wire jsonHost
	if err := json.Unmarshal(data, &wire); err != nil {
		return Host{}, errors.Wrap(err, "failed to parse host entry")
	}

	state, err := hostStateFromWire(wire.State)
	if err != nil {
		return Host{}, err
	}

	return Host{
		ID: cluster.HostID(wire.ID),
		Endpoint: cluster.Endpoint{
			AdvertiseAddr: wire.AdvertiseAddr,
			AdvertisePort: wire.AdvertisePort,
			ServerGroup:   wire.ServerGroup,
		},
		State: state,
	}, nil
}

// EncodeSnapshot serializes a snapshot for distribution.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	out := jsonSnapshot{
		Version:  s.Version(),
		Features: jsonFeatures{Tablets: s.Features().Tablets},
		Tables:   make(map[string]jsonTabletMap),
	}

	for _, h := range s.Hosts() {
		out.Hosts = append(out.Hosts, jsonHost{
			ID:            string(h.ID),
			AdvertiseAddr: h.Endpoint.AdvertiseAddr,
			AdvertisePort: h.Endpoint.AdvertisePort,
			ServerGroup:   h.Endpoint.ServerGroup,
			State:         hostStateToWire(h.State),
		})
	}

	md := s.Tablets()
	for _, table := range md.Tables() {
		tmap, err := md.GetTabletMap(table)
		if err != nil {
			return nil, err
		}

		wireMap := jsonTabletMap{
			TabletCount: tmap.TabletCount(),
		}
		for _, id := range tmap.TabletIDs() {
			info, err := tmap.GetTabletInfo(id)
			if err != nil {
				return nil, err
			}
			wireMap.Tablets = append(wireMap.Tablets, replicasToWire(info.Replicas))
		}
		if len(tmap.Transitions()) > 0 {
			wireMap.Transitions = make(map[string]jsonTransition)
			for id, tr := range tmap.Transitions() {
				wireMap.Transitions[strconv.FormatUint(uint64(id), 10)] = jsonTransition{
					Next:    replicasToWire(tr.Next),
					Pending: jsonReplica{Host: string(tr.Pending.Host), Shard: uint32(tr.Pending.Shard)},
				}
			}
		}

		out.Tables[string(table)] = wireMap
	}

	return json.Marshal(out)
}

// DecodeSnapshot rebuilds a snapshot from its serialized form.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var wire jsonSnapshot
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.Wrap(err, "failed to parse topology snapshot")
	}

	hosts := make([]Host, 0, len(wire.Hosts))
	for _, h := range wire.Hosts {
		state, err := hostStateFromWire(h.State)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, Host{
			ID: cluster.HostID(h.ID),
			Endpoint: cluster.Endpoint{
				AdvertiseAddr: h.AdvertiseAddr,
				AdvertisePort: h.AdvertisePort,
				ServerGroup:   h.ServerGroup,
			},
			State: state,
		})
	}

	md := tablets.NewMetadata()
	for table, wireMap := range wire.Tables {
		tmap, err := tablets.NewTabletMap(wireMap.TabletCount)
		if err != nil {
			return nil, errors.Wrapf(err, "table %s", table)
		}
		if uint64(len(wireMap.Tablets)) != wireMap.TabletCount {
			return nil, errors.Errorf("table %s: %d tablets serialized, expected %d",
				table, len(wireMap.Tablets), wireMap.TabletCount)
		}

		for i, rs := range wireMap.Tablets {
			err := tmap.SetTablet(tablets.TabletID(i), tablets.TabletInfo{
				Replicas: replicasFromWire(rs),
			})
			if err != nil {
				return nil, errors.Wrapf(err, "table %s", table)
			}
		}

		for idStr, tr := range wireMap.Transitions {
			id, err := strconv.ParseUint(idStr, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "table %s: bad transition key", table)
			}
			err = tmap.SetTabletTransitionInfo(tablets.TabletID(id), tablets.TabletTransitionInfo{
				Next: replicasFromWire(tr.Next),
				Pending: tablets.TabletReplica{
					Host:  cluster.HostID(tr.Pending.Host),
					Shard: cluster.ShardID(tr.Pending.Shard),
				},
			})
			if err != nil {
				return nil, errors.Wrapf(err, "table %s", table)
			}
		}

		md.SetTabletMap(cluster.TableID(table), tmap)
	}

	return NewSnapshot(SnapshotOptions{
		Version:  wire.Version,
		Features: Features{Tablets: wire.Features.Tablets},
		Hosts:    hosts,
		Tablets:  md,
	}), nil
}
