package media_test

import (
	"testing"

	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/mediatime"
	"github.com/stretchr/testify/assert"
)

func TestShiftedKeepsOriginal(t *testing.T) {
	s := &media.Sample{
		Kind:    media.Video,
		PTS:     mediatime.New(5000, 1000),
		DTS:     mediatime.New(4966, 1000),
		Payload: []byte{1, 2, 3},
	}
	out := s.Shifted(mediatime.New(4980, 1000))

	assert.Equal(t, mediatime.New(20, 1000), out.PTS)
	assert.Equal(t, mediatime.New(-14, 1000), out.DTS)
	assert.Equal(t, mediatime.New(5000, 1000), s.PTS, "source sample must not change")
}

func TestShiftedLeavesInvalidDTS(t *testing.T) {
	s := &media.Sample{Kind: media.Audio, PTS: mediatime.New(100, 1000)}
	out := s.Shifted(mediatime.New(10, 1000))
	assert.False(t, out.DTS.IsValid())
	assert.Equal(t, mediatime.New(90, 1000), out.DecodeTime())
}

func TestEndAndReady(t *testing.T) {
	s := &media.Sample{PTS: mediatime.New(0, 1000), Duration: mediatime.New(20, 1000)}
	assert.Equal(t, mediatime.New(20, 1000), s.End())
	assert.False(t, s.DataReady())

	s.Payload = []byte{0xff}
	assert.True(t, s.DataReady())
	s.Pending = true
	assert.False(t, s.DataReady())

	s.Duration = mediatime.Invalid
	assert.Equal(t, s.PTS, s.End())
}
