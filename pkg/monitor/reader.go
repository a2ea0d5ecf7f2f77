package monitor

import (
	"io"
	"sync/atomic"
)

// ProgressReader counts the bytes read through it. The count may be read
// from any goroutine.
type ProgressReader struct {
	r        io.ReadCloser
	read     atomic.Int64
	callback func(read int64)
}

func NewProgressReader(r io.ReadCloser, cb func(read int64)) *ProgressReader {
	return &ProgressReader{
		r:        r,
		callback: cb,
	}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		total := p.read.Add(int64(n))
		if p.callback != nil {
			p.callback(total)
		}
	}
	return n, err
}

func (p *ProgressReader) BytesRead() int64 {
	return p.read.Load()
}

func (p *ProgressReader) Close() error {
	return p.r.Close()
}
