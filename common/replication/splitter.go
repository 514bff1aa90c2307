package replication

import (
	"github.com/meridiandb/placement/common/dht"
	"github.com/meridiandb/placement/common/tablets"
	"github.com/meridiandb/placement/common/topology"
)

// TokenRangeSplitter walks a table's range boundaries so scan planners can
// chop a scan exactly where the replica set changes. Reset positions the
// splitter; NextToken then yields each boundary in ring order until
// exhaustion.
type TokenRangeSplitter interface {
	Reset(pos dht.Token)
	NextToken() (dht.Token, bool)
}

// tabletSplitter yields the last token of every tablet from the one owning
// the reset position onwards.
type tabletSplitter struct {
	// snap ties the tablet map's lifetime to the snapshot's; the owning
	// replication map's reference covers the splitter until the map closes
	snap *topology.Snapshot
	tmap *tablets.TabletMap

	next       tablets.TabletID
	positioned bool
}

var _ TokenRangeSplitter = (*tabletSplitter)(nil)

func (s *tabletSplitter) Reset(pos dht.Token) {
	s.next = s.tmap.GetTabletID(pos)
	s.positioned = true
}

func (s *tabletSplitter) NextToken() (dht.Token, bool) {
	if !s.positioned {
		return 0, false
	}

	t, err := s.tmap.GetLastToken(s.next)
	if err != nil {
		// ids produced by this map are always valid for it
		s.positioned = false
		return 0, false
	}

	next, ok := s.tmap.NextTablet(s.next)
	if ok {
		s.next = next
	} else {
		s.positioned = false
	}

	return t, true
}

// everywhereSplitter sees the whole ring as a single segment.
type everywhereSplitter struct {
	positioned bool
}

var _ TokenRangeSplitter = (*everywhereSplitter)(nil)

func (s *everywhereSplitter) Reset(pos dht.Token) {
	s.positioned = true
}

func (s *everywhereSplitter) NextToken() (dht.Token, bool) {
	if !s.positioned {
		return 0, false
	}
	s.positioned = false
	return dht.MaximumToken, true
}
