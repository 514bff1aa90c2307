package tablets

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/meridiandb/placement/common/cluster"
	"github.com/meridiandb/placement/utils/gentleclear"
)

// Metadata holds the tablet maps of every tablet-based table in the
// cluster. Once published as part of a topology snapshot it is immutable;
// the next version is produced by Clone, which copies only the outer
// association and shares the unchanged maps.
type Metadata struct {
	tablets map[cluster.TableID]*TabletMap
}

func NewMetadata() *Metadata {
	return &Metadata{
		tablets: make(map[cluster.TableID]*TabletMap),
	}
}

// GetTabletMap returns the tablet map of the given table, or a
// ErrTabletMapNotFound-wrapped error when the table is not tablet-based.
func (md *Metadata) GetTabletMap(id cluster.TableID) (*TabletMap, error) {
	tmap, ok := md.tablets[id]
	if !ok {
		return nil, errors.Wrapf(ErrTabletMapNotFound, "table %s", id)
	}
	return tmap, nil
}

// SetTabletMap inserts or replaces the tablet map of one table. Only valid
// on metadata that has not been published yet.
func (md *Metadata) SetTabletMap(id cluster.TableID, tmap *TabletMap) {
	md.tablets[id] = tmap
}

// RemoveTabletMap drops the tablet map of one table. Only valid on metadata
// that has not been published yet.
func (md *Metadata) RemoveTabletMap(id cluster.TableID) {
	delete(md.tablets, id)
}

// Tables returns the ids of all tablet-based tables in sorted order.
func (md *Metadata) Tables() []cluster.TableID {
	ids := maps.Keys(md.tablets)
	slices.Sort(ids)
	return ids
}

func (md *Metadata) TableCount() int {
	return len(md.tablets)
}

// Clone returns metadata that can be mutated without affecting this one.
// The tablet maps themselves are shared; replacing a table's map goes
// through SetTabletMap with a freshly built (or cloned) map.
func (md *Metadata) Clone() *Metadata {
	return &Metadata{
		tablets: maps.Clone(md.tablets),
	}
}

func (md *Metadata) Equal(o *Metadata) bool {
	if len(md.tablets) != len(o.tablets) {
		return false
	}
	for id, tmap := range md.tablets {
		omap, ok := o.tablets[id]
		if !ok || !tmap.Equal(omap) {
			return false
		}
	}
	return true
}

// estimated per-entry overhead of the table association
const tableEntrySize = 64

// ExternalMemoryUsage estimates the heap memory held by all tablet maps,
// used for admission and eviction decisions.
func (md *Metadata) ExternalMemoryUsage() uint64 {
	total := uint64(len(md.tablets)) * tableEntrySize
	for id, tmap := range md.tablets {
		total += uint64(len(id)) + tmap.ExternalMemoryUsage()
	}
	return total
}

// ClearGently releases every tablet map in cooperative chunks. The metadata
// is not usable afterwards and should be dropped.
func (md *Metadata) ClearGently(ctx context.Context) error {
	for _, tmap := range md.tablets {
		if err := tmap.ClearGently(ctx); err != nil {
			return err
		}
	}
	return gentleclear.Map(ctx, md.tablets, 0)
}

// ClearRetiredGently releases the maps this metadata no longer shares with
// its successor. Maps still referenced by successor are left untouched, so
// readers of the new snapshot are unaffected; a successor sharing this
// whole metadata leaves it untouched entirely. The caller must ensure no
// reader still holds the snapshot owning this metadata.
func (md *Metadata) ClearRetiredGently(ctx context.Context, successor *Metadata) error {
	if successor == md {
		return nil
	}
	for id, tmap := range md.tablets {
		if successor != nil {
			if kept, ok := successor.tablets[id]; ok && kept == tmap {
				continue
			}
		}
		if err := tmap.ClearGently(ctx); err != nil {
			return err
		}
	}
	return gentleclear.Map(ctx, md.tablets, 0)
}

func (md *Metadata) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, id := range md.Tables() {
		if i != 0 {
			sb.WriteString(",")
		}
		sb.WriteString("\n  ")
		sb.WriteString(string(id))
		sb.WriteString(": ")
		sb.WriteString(md.tablets[id].String())
	}
	sb.WriteString("\n}")
	return sb.String()
}
