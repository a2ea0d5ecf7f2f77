package writer

import (
	"sync/atomic"

	"github.com/eric2788/shortrec/pkg/media"
)

// input is a bounded per-track queue in front of the muxer.
type input struct {
	kind    media.TrackKind
	queue   chan *media.Sample
	dropped atomic.Uint64
}

func newInput(kind media.TrackKind, size int) *input {
	return &input{
		kind:  kind,
		queue: make(chan *media.Sample, size),
	}
}

func (in *input) ready() bool {
	return len(in.queue) < cap(in.queue)
}

func (in *input) push(s *media.Sample) bool {
	select {
	case in.queue <- s:
		return true
	default:
		return false
	}
}

func (in *input) close() {
	close(in.queue)
}
