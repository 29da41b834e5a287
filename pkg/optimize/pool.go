package optimize

import (
	"sync"
)

// BytePool is a pool of fixed-size byte buffers used for PCM encode and
// socket reads.
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool creates a new byte pool with specified size
func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Size returns the length of buffers handed out by Get.
func (p *BytePool) Size() int {
	return p.size
}

// Get gets a byte slice of length Size from the pool
func (p *BytePool) Get() []byte {
	return (*p.pool.Get().(*[]byte))[:p.size]
}

// Put returns a byte slice to the pool. Slices that are too small are dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

// SamplePool recycles int16 sample frames.
type SamplePool struct {
	pool sync.Pool
	size int
}

func NewSamplePool(size int) *SamplePool {
	return &SamplePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				s := make([]int16, size)
				return &s
			},
		},
	}
}

func (p *SamplePool) Get() []int16 {
	return (*p.pool.Get().(*[]int16))[:p.size]
}

func (p *SamplePool) Put(s []int16) {
	if cap(s) < p.size {
		return
	}
	s = s[:p.size]
	p.pool.Put(&s)
}
