package crawl

import "sync"

// PageStride is the pagination step of the feed: each page holds ten posts
// and offsets advance in multiples of it.
const PageStride = 10

// OffsetAllocator dispenses the next page offset to any idle worker. Every
// call returns a strictly increasing multiple of PageStride, starting at
// zero, with no upper bound; termination is the coordinator's job, not the
// allocator's.
type OffsetAllocator struct {
	mu   sync.Mutex
	next int
}

// NewOffsetAllocator creates an allocator positioned at offset zero.
func NewOffsetAllocator() *OffsetAllocator {
	return &OffsetAllocator{}
}

// Next returns the next unissued page offset. Safe for concurrent use; no
// value is ever returned twice.
func (a *OffsetAllocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	offset := a.next
	a.next += PageStride
	return offset
}
