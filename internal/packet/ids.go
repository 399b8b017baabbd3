package packet

import "go.uber.org/atomic"

// IDAllocator issues packet identifiers. One allocator is shared by every
// router in a run so ids stay unique for metrics correlation.
type IDAllocator struct {
	hello atomic.Uint64
	data  atomic.Uint64
	ack   atomic.Uint64
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

func (a *IDAllocator) NextHelloID() uint64 { return a.hello.Inc() }
func (a *IDAllocator) NextDataID() uint64  { return a.data.Inc() }
func (a *IDAllocator) NextAckID() uint64   { return a.ack.Inc() }
