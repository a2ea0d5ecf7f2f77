package mp4

import (
	amp4 "github.com/abema/go-mp4"
	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/mediatime"
)

type chunk struct {
	offset  uint64
	samples uint32
}

// track accumulates the sample tables of one trak until the moov is written.
type track struct {
	id        uint32
	kind      media.TrackKind
	timeScale int32

	// per sample, dts in ticks relative to the session start
	dts   []int64
	cts   []int32
	sizes []uint32
	syncs []uint32

	chunks       []chunk
	lastDuration int64
	firstPTS     int64
}

func newTrack(id uint32, kind media.TrackKind, timeScale int32) *track {
	return &track{
		id:        id,
		kind:      kind,
		timeScale: timeScale,
	}
}

func (t *track) empty() bool {
	return len(t.sizes) == 0
}

func (t *track) count() int {
	return len(t.sizes)
}

// accepts reports whether a sample with the given dts keeps the track monotonic.
func (t *track) accepts(dts int64) bool {
	return t.empty() || dts > t.dts[len(t.dts)-1]
}

func (t *track) add(offset uint64, size uint32, dts, pts int64, duration mediatime.Time, sync, newChunk bool) {
	if t.empty() {
		t.firstPTS = pts
	}
	if newChunk || len(t.chunks) == 0 {
		t.chunks = append(t.chunks, chunk{offset: offset})
	}
	t.chunks[len(t.chunks)-1].samples++

	t.dts = append(t.dts, dts)
	t.cts = append(t.cts, int32(pts-dts))
	t.sizes = append(t.sizes, size)
	if sync {
		t.syncs = append(t.syncs, uint32(len(t.sizes)))
	}
	if duration.Value > 0 {
		t.lastDuration = duration.Ticks(t.timeScale)
	}
}

func (t *track) defaultDelta() int64 {
	if t.kind == media.Audio {
		return 1024
	}
	return int64(t.timeScale) / 30
}

// deltas returns the decode duration of every sample. The last one uses the
// sample's own duration, falling back to the previous delta.
func (t *track) deltas() []int64 {
	out := make([]int64, len(t.dts))
	for i := 0; i+1 < len(t.dts); i++ {
		out[i] = t.dts[i+1] - t.dts[i]
	}
	if n := len(out); n > 0 {
		switch {
		case t.lastDuration > 0:
			out[n-1] = t.lastDuration
		case n > 1:
			out[n-1] = out[n-2]
		default:
			out[n-1] = t.defaultDelta()
		}
	}
	return out
}

// mediaDuration is the track duration in its own timescale.
func (t *track) mediaDuration() int64 {
	var total int64
	for _, d := range t.deltas() {
		total += d
	}
	return total
}

// presentationDelay is how long after the session start the first sample is shown.
func (t *track) presentationDelay() int64 {
	if t.empty() || t.firstPTS < 0 {
		return 0
	}
	return t.firstPTS
}

func (t *track) stts() *amp4.Stts {
	box := &amp4.Stts{}
	for _, d := range t.deltas() {
		if n := len(box.Entries); n > 0 && box.Entries[n-1].SampleDelta == uint32(d) {
			box.Entries[n-1].SampleCount++
			continue
		}
		box.Entries = append(box.Entries, amp4.SttsEntry{SampleCount: 1, SampleDelta: uint32(d)})
	}
	box.EntryCount = uint32(len(box.Entries))
	return box
}

// ctts returns nil when every sample is presented at its decode time.
func (t *track) ctts() *amp4.Ctts {
	reordered := false
	for _, c := range t.cts {
		if c != 0 {
			reordered = true
			break
		}
	}
	if !reordered {
		return nil
	}
	box := &amp4.Ctts{FullBox: amp4.FullBox{Version: 1}}
	for _, c := range t.cts {
		if n := len(box.Entries); n > 0 && box.Entries[n-1].SampleOffsetV1 == c {
			box.Entries[n-1].SampleCount++
			continue
		}
		box.Entries = append(box.Entries, amp4.CttsEntry{SampleCount: 1, SampleOffsetV1: c})
	}
	box.EntryCount = uint32(len(box.Entries))
	return box
}

func (t *track) stss() *amp4.Stss {
	if t.kind != media.Video {
		return nil
	}
	return &amp4.Stss{
		EntryCount:   uint32(len(t.syncs)),
		SampleNumber: t.syncs,
	}
}

func (t *track) stsc() *amp4.Stsc {
	box := &amp4.Stsc{}
	for i, c := range t.chunks {
		if n := len(box.Entries); n > 0 && box.Entries[n-1].SamplesPerChunk == c.samples {
			continue
		}
		box.Entries = append(box.Entries, amp4.StscEntry{
			FirstChunk:             uint32(i + 1),
			SamplesPerChunk:        c.samples,
			SampleDescriptionIndex: 1,
		})
	}
	box.EntryCount = uint32(len(box.Entries))
	return box
}

func (t *track) stsz() *amp4.Stsz {
	return &amp4.Stsz{
		SampleCount: uint32(len(t.sizes)),
		EntrySize:   t.sizes,
	}
}

// chunkOffsets returns stco, or co64 once an offset no longer fits 32 bits.
func (t *track) chunkOffsets() amp4.IImmutableBox {
	large := false
	for _, c := range t.chunks {
		if c.offset > 0xFFFFFFFF {
			large = true
			break
		}
	}
	if large {
		box := &amp4.Co64{EntryCount: uint32(len(t.chunks))}
		for _, c := range t.chunks {
			box.ChunkOffset = append(box.ChunkOffset, c.offset)
		}
		return box
	}
	box := &amp4.Stco{EntryCount: uint32(len(t.chunks))}
	for _, c := range t.chunks {
		box.ChunkOffset = append(box.ChunkOffset, uint32(c.offset))
	}
	return box
}
