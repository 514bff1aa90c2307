package dht

import "fmt"

// Bound is one end of a token range.
type Bound struct {
	Token     Token
	Inclusive bool
}

// TokenRange is a contiguous stretch of the ring between two bounds.
type TokenRange struct {
	Start Bound
	End   Bound
}

func (r TokenRange) Contains(t Token) bool {
	if t < r.Start.Token || (t == r.Start.Token && !r.Start.Inclusive) {
		return false
	}
	if t > r.End.Token || (t == r.End.Token && !r.End.Inclusive) {
		return false
	}
	return true
}

func (r TokenRange) String() string {
	lb, rb := "(", ")"
	if r.Start.Inclusive {
		lb = "["
	}
	if r.End.Inclusive {
		rb = "]"
	}
	return fmt.Sprintf("%s%d, %d%s", lb, int64(r.Start.Token), int64(r.End.Token), rb)
}
