package topology

import "errors"

var (
	ErrNoPublishedSnapshot = errors.New("no published topology snapshot")
	ErrStaleSnapshot       = errors.New("stale topology snapshot")
)
