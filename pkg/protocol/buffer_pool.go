// buffer_pool.go pools the scratch buffers used to assemble outbound frames.
package protocol

import (
	"sync"
)

// BufferPool provides pooled byte slices in three size classes.
type BufferPool struct {
	small  sync.Pool // <= 512 bytes (alerts, app records)
	medium sync.Pool // <= 16KB (hellos, classical key shares)
	large  sync.Pool // <= 1MB + header (PQ key shares)
}

// Buffer size class thresholds.
const (
	smallBufferSize  = 512
	mediumBufferSize = 16 * 1024
	largeBufferSize  = 1<<20 + 4
)

var globalBufferPool = NewBufferPool()

func newClass(size int) sync.Pool {
	return sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	}
}

// NewBufferPool creates a new buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		small:  newClass(smallBufferSize),
		medium: newClass(mediumBufferSize),
		large:  newClass(largeBufferSize),
	}
}

// Get returns a buffer of length size. Sizes above the largest class are
// allocated directly and are never pooled.
func (p *BufferPool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}

	var bufPtr *[]byte
	switch {
	case size <= smallBufferSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= mediumBufferSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= largeBufferSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// Put clears buf and returns it to its class. Buffers that did not come
// from Get are dropped.
func (p *BufferPool) Put(buf []byte) {
	c := cap(buf)
	if c == 0 {
		return
	}
	buf = buf[:c]
	clear(buf)

	switch c {
	case smallBufferSize:
		p.small.Put(&buf)
	case mediumBufferSize:
		p.medium.Put(&buf)
	case largeBufferSize:
		p.large.Put(&buf)
	}
}
