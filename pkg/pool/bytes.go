package pool

import (
	"sync"
)

// BytesPool hands out fixed-size byte slices.
type BytesPool struct {
	pool sync.Pool
	size int
}

func NewBytesPool(bufferSize int) *BytesPool {
	p := &BytesPool{size: bufferSize}
	p.pool.New = func() any {
		buf := make([]byte, bufferSize)
		return &buf
	}
	return p
}

// Size is the length of every slice returned by GetBytes.
func (p *BytesPool) Size() int {
	return p.size
}

func (p *BytesPool) GetBytes() []byte {
	return *p.GetBytesPtr()
}

// PutBytes returns buf to the pool. Slices whose capacity is smaller than
// the pool size, such as ones that never came from it, are dropped.
func (p *BytesPool) PutBytes(buf []byte) {
	p.PutBytesPtr(&buf)
}

func (p *BytesPool) GetBytesPtr() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *BytesPool) PutBytesPtr(buf *[]byte) {
	if buf == nil || cap(*buf) < p.size {
		return
	}
	*buf = (*buf)[:p.size]
	p.pool.Put(buf)
}
