package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// ChunkSize is the read size used when relaying stream bodies. 64KiB keeps
// syscall overhead low without holding large per-client allocations.
const ChunkSize = 64 * 1024

// Pool hands out fixed-capacity chunk buffers for stream relaying, backed by
// valyala/bytebufferpool so buffers are reused across requests instead of
// being reallocated per chunk.
type Pool struct {
	pool      *bytebufferpool.Pool
	chunkSize int
}

// NewPool creates a pool of chunk buffers of the given size. The pool is
// ready for use immediately.
func NewPool(chunkSize int) *Pool {
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	return &Pool{
		pool:      &bytebufferpool.Pool{},
		chunkSize: chunkSize,
	}
}

// Get returns a buffer whose backing slice is sized to the pool's chunk size.
// The contents are undefined; callers use it as scratch space for io reads.
func (p *Pool) Get() *bytebufferpool.ByteBuffer {
	buf := p.pool.Get()
	if cap(buf.B) < p.chunkSize {
		buf.B = make([]byte, p.chunkSize)
	} else {
		buf.B = buf.B[:p.chunkSize]
	}
	return buf
}

// Put returns a buffer to the pool. Nil buffers are ignored.
func (p *Pool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		p.pool.Put(buf)
	}
}
