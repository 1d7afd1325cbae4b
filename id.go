package streamrpc

import "go.uber.org/atomic"

// idAllocator is the monotonic per-endpoint StreamId source (§3). A client
// endpoint allocates odd ids starting at 1; a server endpoint never
// allocates on its own, it always reflects the id it observed on the
// inbound InitialRequest metadata for that call.
type idAllocator struct {
	next atomic.Uint64
}

func newClientIDAllocator() *idAllocator {
	a := &idAllocator{}
	a.next.Store(1)
	return a
}

// Next returns the next odd stream id and advances by two.
func (a *idAllocator) Next() uint64 {
	return a.next.Add(2) - 2
}
