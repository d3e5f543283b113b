// Single producer / single consumer byte ring used for process data
// hand-off between the cyclic path and a consumer.
package ring

import (
	"errors"
	"sync/atomic"
)

var ErrSize = errors.New("ring size must be a power of two")

// A Ring is a fixed size circular byte buffer. Indices grow without
// bound and wrap through the mask, so (write - read) is always the
// number of occupied bytes. Safe for exactly one writer goroutine and
// one reader goroutine, no locks.
type Ring struct {
	buffer []byte
	mask   uint32
	write  atomic.Uint32
	read   atomic.Uint32
}

func New(size uint32) (*Ring, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, ErrSize
	}
	return &Ring{
		buffer: make([]byte, size),
		mask:   size - 1,
	}, nil
}

// Size of the backing buffer
func (r *Ring) Size() uint32 {
	return r.mask + 1
}

// Occupied bytes
func (r *Ring) Occupied() uint32 {
	return r.write.Load() - r.read.Load()
}

// Free bytes
func (r *Ring) Space() uint32 {
	return r.Size() - r.Occupied()
}

func (r *Ring) Reset() {
	r.read.Store(0)
	r.write.Store(0)
}

// Write copies as much of buffer as fits and returns the number of
// bytes written. The write index is published only after the payload
// stores, so a concurrent reader never observes unwritten bytes.
func (r *Ring) Write(buffer []byte) int {
	write := r.write.Load()
	space := r.Size() - (write - r.read.Load())
	n := uint32(len(buffer))
	if n > space {
		n = space
	}
	for i := uint32(0); i < n; i++ {
		r.buffer[(write+i)&r.mask] = buffer[i]
	}
	r.write.Store(write + n)
	return int(n)
}

// Read copies up to len(buffer) occupied bytes out and returns the
// number of bytes read. The read index is published only after the
// loads.
func (r *Ring) Read(buffer []byte) int {
	read := r.read.Load()
	occupied := r.write.Load() - read
	n := uint32(len(buffer))
	if n > occupied {
		n = occupied
	}
	for i := uint32(0); i < n; i++ {
		buffer[i] = r.buffer[(read+i)&r.mask]
	}
	r.read.Store(read + n)
	return int(n)
}
