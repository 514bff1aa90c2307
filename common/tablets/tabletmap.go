package tablets

import (
	"context"
	"math/bits"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/common/dht"
	"github.com/meridiandb/placement/utils/gentleclear"
)

// TabletID is an index into one TabletMap. It is only meaningful relative
// to the instance that produced it; different tables, and different
// topology versions of the same table, reuse the same ids.
type TabletID uint64

// TabletMap partitions a table's token ring into a fixed number of tablets.
//
// The map always describes the whole ring: every token is owned by exactly
// one tablet, so the following sequence never fails:
//
//	id := tmap.GetTabletID(t)
//	info, _ := tmap.GetTabletInfo(id)
//
// Each tablet has a TabletInfo and, while it is being migrated or split, a
// TabletTransitionInfo. Once a map has been published as part of a topology
// snapshot it must not be mutated; producing the next version starts from
// Clone.
type TabletMap struct {
	// the implementation assumes len(tablets) == 1 << log2Tablets
	tablets     []TabletInfo
	log2Tablets uint
	transitions map[TabletID]TabletTransitionInfo
}

// NewTabletMap constructs a map with the given number of tablets, all with
// empty replica sets. The count must be a power of two.
func NewTabletMap(tabletCount uint64) (*TabletMap, error) {
	if tabletCount == 0 || tabletCount&(tabletCount-1) != 0 {
		return nil, errors.Wrapf(ErrInvalidTabletCount, "got %d", tabletCount)
	}

	return &TabletMap{
		tablets:     make([]TabletInfo, tabletCount),
		log2Tablets: uint(bits.TrailingZeros64(tabletCount)),
		transitions: make(map[TabletID]TabletTransitionInfo),
	}, nil
}

func (m *TabletMap) TabletCount() uint64 {
	return uint64(len(m.tablets))
}

func (m *TabletMap) checkTabletID(id TabletID) error {
	if uint64(id) >= m.TabletCount() {
		return errors.Wrapf(ErrInvalidTabletID, "%d >= %d", id, m.TabletCount())
	}
	return nil
}

// GetTabletID returns the id of the tablet owning the given token. It is a
// total function of the token and the tablet count.
func (m *TabletMap) GetTabletID(t dht.Token) TabletID {
	return TabletID(dht.TabletOf(m.log2Tablets, t))
}

// GetTabletInfo returns the steady-state replica set of the given tablet.
// The id must belong to this instance.
func (m *TabletMap) GetTabletInfo(id TabletID) (TabletInfo, error) {
	if err := m.checkTabletID(id); err != nil {
		return TabletInfo{}, err
	}
	return m.tablets[id], nil
}

// GetTabletInfoForToken returns the replica set of the tablet owning t.
func (m *TabletMap) GetTabletInfoForToken(t dht.Token) TabletInfo {
	return m.tablets[m.GetTabletID(t)]
}

// GetTabletTransitionInfo returns the transition record of the given
// tablet, or nil if the tablet is stable.
func (m *TabletMap) GetTabletTransitionInfo(id TabletID) (*TabletTransitionInfo, error) {
	if err := m.checkTabletID(id); err != nil {
		return nil, err
	}
	if tr, ok := m.transitions[id]; ok {
		return &tr, nil
	}
	return nil, nil
}

// Transitions returns the in-flight transitions keyed by tablet id. The
// returned map is the live one and must not be modified.
func (m *TabletMap) Transitions() map[TabletID]TabletTransitionInfo {
	return m.transitions
}

// GetLastToken returns the largest token owned by the given tablet.
func (m *TabletMap) GetLastToken(id TabletID) (dht.Token, error) {
	if err := m.checkTabletID(id); err != nil {
		return 0, err
	}
	return dht.LastTokenOf(m.log2Tablets, uint64(id)), nil
}

// GetFirstToken returns the smallest token owned by the given tablet.
func (m *TabletMap) GetFirstToken(id TabletID) (dht.Token, error) {
	if err := m.checkTabletID(id); err != nil {
		return 0, err
	}
	if id == m.FirstTablet() {
		return dht.FirstToken, nil
	}
	return dht.NextToken(dht.LastTokenOf(m.log2Tablets, uint64(id)-1)), nil
}

// GetTokenRange returns the range owning exactly the given tablet's tokens.
// The first tablet's range has an open lower bound at the token-space
// minimum; every other tablet's range starts just after the previous
// tablet's last token. The ranges partition the ring with no gaps or
// overlaps.
func (m *TabletMap) GetTokenRange(id TabletID) (dht.TokenRange, error) {
	if err := m.checkTabletID(id); err != nil {
		return dht.TokenRange{}, err
	}

	last := dht.LastTokenOf(m.log2Tablets, uint64(id))
	if id == m.FirstTablet() {
		return dht.TokenRange{
			Start: dht.Bound{Token: dht.MinimumToken, Inclusive: false},
			End:   dht.Bound{Token: last, Inclusive: true},
		}, nil
	}

	return dht.TokenRange{
		Start: dht.Bound{Token: dht.LastTokenOf(m.log2Tablets, uint64(id)-1), Inclusive: false},
		End:   dht.Bound{Token: last, Inclusive: true},
	}, nil
}

func (m *TabletMap) FirstTablet() TabletID {
	return 0
}

func (m *TabletMap) LastTablet() TabletID {
	return TabletID(m.TabletCount() - 1)
}

// NextTablet returns the tablet following id in ring order, or false past
// the last tablet. The sequence is linear, not a wraparound.
func (m *TabletMap) NextTablet(id TabletID) (TabletID, bool) {
	if id >= m.LastTablet() {
		return 0, false
	}
	return id + 1, true
}

// TabletIDs returns all tablet ids in ring order.
func (m *TabletMap) TabletIDs() []TabletID {
	ids := make([]TabletID, m.TabletCount())
	for i := range ids {
		ids[i] = TabletID(i)
	}
	return ids
}

// GetShard returns the shard holding the given tablet on the given host, or
// false if the host holds no replica. If the tablet is in transition the
// pending replica is also considered; the steady-state replica set is
// preferred in case of ambiguity.
func (m *TabletMap) GetShard(id TabletID, host cluster.HostID) (cluster.ShardID, bool, error) {
	info, err := m.GetTabletInfo(id)
	if err != nil {
		return 0, false, err
	}

	for _, r := range info.Replicas {
		if r.Host == host {
			return r.Shard, true, nil
		}
	}

	if tr, ok := m.transitions[id]; ok && tr.Pending.Host == host {
		return tr.Pending.Shard, true, nil
	}

	return 0, false, nil
}

// SetTablet replaces the steady-state replica set of one tablet. Only valid
// on maps that have not been published yet.
func (m *TabletMap) SetTablet(id TabletID, info TabletInfo) error {
	if err := m.checkTabletID(id); err != nil {
		return err
	}
	m.tablets[id] = info
	return nil
}

// SetTabletTransitionInfo installs or replaces the transition record of one
// tablet. Only valid on maps that have not been published yet.
func (m *TabletMap) SetTabletTransitionInfo(id TabletID, info TabletTransitionInfo) error {
	if err := m.checkTabletID(id); err != nil {
		return err
	}
	m.transitions[id] = info
	return nil
}

// ClearTabletTransitionInfo removes the transition record of one tablet,
// typically when the migration it described has completed.
func (m *TabletMap) ClearTabletTransitionInfo(id TabletID) error {
	if err := m.checkTabletID(id); err != nil {
		return err
	}
	delete(m.transitions, id)
	return nil
}

// Clone returns a map that can be mutated without affecting this one.
// Replica slices are shared; mutators replace whole slots, never edit the
// slices in place.
func (m *TabletMap) Clone() *TabletMap {
	return &TabletMap{
		tablets:     slices.Clone(m.tablets),
		log2Tablets: m.log2Tablets,
		transitions: maps.Clone(m.transitions),
	}
}

func (m *TabletMap) Equal(o *TabletMap) bool {
	if m.TabletCount() != o.TabletCount() {
		return false
	}
	for i := range m.tablets {
		if !m.tablets[i].Equal(o.tablets[i]) {
			return false
		}
	}
	if len(m.transitions) != len(o.transitions) {
		return false
	}
	for id, tr := range m.transitions {
		otr, ok := o.transitions[id]
		if !ok || !tr.Equal(otr) {
			return false
		}
	}
	return true
}

// rough per-entry struct sizes used for memory accounting
const (
	replicaStructSize    = 24
	transitionEntrySize  = 56
	tabletInfoStructSize = 24
)

func replicaSetMemoryUsage(rs []TabletReplica) uint64 {
	total := uint64(cap(rs)) * replicaStructSize
	for _, r := range rs {
		total += uint64(len(r.Host))
	}
	return total
}

// ExternalMemoryUsage estimates the heap memory held by this map, used for
// admission and eviction decisions.
func (m *TabletMap) ExternalMemoryUsage() uint64 {
	total := uint64(cap(m.tablets)) * tabletInfoStructSize
	for _, tablet := range m.tablets {
		total += replicaSetMemoryUsage(tablet.Replicas)
	}
	for _, tr := range m.transitions {
		total += transitionEntrySize + replicaSetMemoryUsage(tr.Next)
	}
	return total
}

// ClearGently releases the map's contents in cooperative chunks. The map is
// not usable afterwards and should be dropped.
func (m *TabletMap) ClearGently(ctx context.Context) error {
	if err := gentleclear.Slice(ctx, m.tablets, 0); err != nil {
		return err
	}
	return gentleclear.Map(ctx, m.transitions, 0)
}

func (m *TabletMap) String() string {
	if m.TabletCount() == 0 {
		return "{}"
	}

	var sb strings.Builder
	sb.WriteString("{")
	for id, tablet := range m.tablets {
		if id != 0 {
			sb.WriteString(",")
		}
		last := dht.LastTokenOf(m.log2Tablets, uint64(id))
		sb.WriteString("\n    [")
		sb.WriteString(strconv.Itoa(id))
		sb.WriteString("]: last_token=")
		sb.WriteString(last.String())
		sb.WriteString(", replicas=")
		sb.WriteString(formatReplicas(tablet.Replicas))
		if tr, ok := m.transitions[TabletID(id)]; ok {
			sb.WriteString(", new_replicas=")
			sb.WriteString(formatReplicas(tr.Next))
			sb.WriteString(", pending=")
			sb.WriteString(tr.Pending.String())
		}
	}
	sb.WriteString("\n  }")
	return sb.String()
}

func formatReplicas(rs []TabletReplica) string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, r := range rs {
		if i != 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(r.String())
	}
	sb.WriteString("]")
	return sb.String()
}
