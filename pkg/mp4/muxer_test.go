package mp4_test

import (
	"bytes"
	"testing"

	amp4 "github.com/abema/go-mp4"
	"github.com/aler9/writerseeker"
	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"
	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/mediatime"
	"github.com/eric2788/shortrec/pkg/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{
		0x67, 0x64, 0x00, 0x0c, 0xac, 0x3b, 0x50, 0xb0,
		0x4b, 0x42, 0x00, 0x00, 0x03, 0x00, 0x02, 0x00,
		0x00, 0x03, 0x00, 0x3d, 0x08,
	}
	testPPS    = []byte{0x68, 0xee, 0x3c, 0x80}
	testIDR    = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	testNonIDR = []byte{0x41, 0x9a, 0x21, 0x6c}
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func ms(v int64) mediatime.Time {
	return mediatime.New(v, 1000)
}

func videoSample(pts int64, nalus ...[]byte) *media.Sample {
	return &media.Sample{
		Kind:     media.Video,
		PTS:      ms(pts),
		DTS:      ms(pts),
		Duration: ms(33),
		Payload:  annexB(nalus...),
	}
}

func audioSample(pts int64) *media.Sample {
	return &media.Sample{
		Kind:     media.Audio,
		PTS:      ms(pts),
		Duration: ms(20),
		Payload:  []byte{0x21, 0x10, 0x04, 0x60, 0x8c, 0x1c},
	}
}

func newMuxer(t *testing.T, ws *writerseeker.WriterSeeker) *mp4.Muxer {
	m, err := mp4.NewMuxer(ws, mp4.VideoConfig{
		Width:   375,
		Height:  375,
		Bitrate: 2_000_000,
		Matrix:  mp4.RotationMatrix(90),
	}, mp4.AudioConfig{
		ChannelCount: 1,
		SampleRate:   44100,
		Bitrate:      128000,
	})
	require.NoError(t, err)
	return m
}

func probe(t *testing.T, ws *writerseeker.WriterSeeker) *amp4.ProbeInfo {
	info, err := amp4.Probe(bytes.NewReader(ws.Bytes()))
	require.NoError(t, err)
	return info
}

func trackByCodec(info *amp4.ProbeInfo, codec amp4.Codec) *amp4.Track {
	for _, tr := range info.Tracks {
		if tr.Codec == codec {
			return tr
		}
	}
	return nil
}

func TestMuxerWritesBothTracks(t *testing.T) {
	ws := &writerseeker.WriterSeeker{}
	m := newMuxer(t, ws)
	m.Start(ms(0))

	require.NoError(t, m.WriteSample(audioSample(0)))
	require.NoError(t, m.WriteSample(videoSample(10, testSPS, testPPS, testIDR)))
	require.NoError(t, m.WriteSample(audioSample(20)))
	require.NoError(t, m.WriteSample(videoSample(43, testNonIDR)))
	require.NoError(t, m.WriteSample(audioSample(40)))
	require.NoError(t, m.Close())

	info := probe(t, ws)
	require.Len(t, info.Tracks, 2)

	video := trackByCodec(info, amp4.CodecAVC1)
	require.NotNil(t, video)
	assert.Len(t, video.Samples, 2)
	assert.Equal(t, uint32(mp4.VideoTimeScale), video.Timescale)
	require.NotNil(t, video.AVC)
	assert.Equal(t, uint16(375), video.AVC.Width)
	assert.Equal(t, uint16(375), video.AVC.Height)

	audio := trackByCodec(info, amp4.CodecMP4A)
	require.NotNil(t, audio)
	assert.Len(t, audio.Samples, 3)
	assert.Equal(t, uint32(44100), audio.Timescale)
}

func TestMuxerRotationMatrix(t *testing.T) {
	ws := &writerseeker.WriterSeeker{}
	m := newMuxer(t, ws)
	m.Start(ms(0))
	require.NoError(t, m.WriteSample(videoSample(0, testSPS, testPPS, testIDR)))
	require.NoError(t, m.Close())

	boxes, err := amp4.ExtractBoxWithPayload(bytes.NewReader(ws.Bytes()), nil,
		amp4.BoxPath{amp4.BoxTypeMoov(), amp4.BoxTypeTrak(), amp4.BoxTypeTkhd()})
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	tkhd := boxes[0].Payload.(*amp4.Tkhd)
	assert.Equal(t, mp4.Rotate90Matrix, tkhd.Matrix)
	assert.Equal(t, uint32(375<<16), tkhd.Width)
}

func TestMuxerSkipsUnusableSamples(t *testing.T) {
	ws := &writerseeker.WriterSeeker{}
	m := newMuxer(t, ws)
	m.Start(ms(100))

	// presented before the session start
	require.NoError(t, m.WriteSample(audioSample(80)))
	// no IDR yet
	require.NoError(t, m.WriteSample(videoSample(110, testNonIDR)))
	require.NoError(t, m.WriteSample(videoSample(143, testSPS, testPPS, testIDR)))
	// goes back in time
	require.NoError(t, m.WriteSample(videoSample(120, testNonIDR)))
	require.NoError(t, m.WriteSample(audioSample(100)))

	assert.Equal(t, 3, m.Skipped())
	assert.Equal(t, 1, m.SampleCount(media.Video))
	assert.Equal(t, 1, m.SampleCount(media.Audio))
	require.NoError(t, m.Close())
}

func TestMuxerUnwrapsADTS(t *testing.T) {
	ws := &writerseeker.WriterSeeker{}
	m := newMuxer(t, ws)
	m.Start(ms(0))

	pkts := mpeg4audio.ADTSPackets{
		{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 44100, ChannelCount: 1, AU: []byte{0x01, 0x02, 0x03}},
		{Type: mpeg4audio.ObjectTypeAACLC, SampleRate: 44100, ChannelCount: 1, AU: []byte{0x04, 0x05}},
	}
	enc, err := pkts.Marshal()
	require.NoError(t, err)

	require.NoError(t, m.WriteSample(&media.Sample{Kind: media.Audio, PTS: ms(0), Payload: enc}))
	assert.Equal(t, 2, m.SampleCount(media.Audio))
	require.NoError(t, m.Close())

	audio := trackByCodec(probe(t, ws), amp4.CodecMP4A)
	require.NotNil(t, audio)
	require.Len(t, audio.Samples, 2)
	assert.Equal(t, uint32(3), audio.Samples[0].Size)
	assert.Equal(t, uint32(1024), audio.Samples[0].TimeDelta)
}

func TestMuxerDelaysLateTrack(t *testing.T) {
	ws := &writerseeker.WriterSeeker{}
	m := newMuxer(t, ws)
	m.Start(ms(0))

	require.NoError(t, m.WriteSample(audioSample(0)))
	require.NoError(t, m.WriteSample(audioSample(20)))
	require.NoError(t, m.WriteSample(videoSample(500, testSPS, testPPS, testIDR)))
	require.NoError(t, m.Close())

	boxes, err := amp4.ExtractBoxWithPayload(bytes.NewReader(ws.Bytes()), nil,
		amp4.BoxPath{amp4.BoxTypeMoov(), amp4.BoxTypeTrak(), amp4.BoxTypeEdts(), amp4.BoxTypeElst()})
	require.NoError(t, err)
	require.Len(t, boxes, 2)

	video := boxes[0].Payload.(*amp4.Elst)
	require.Len(t, video.Entries, 2)
	assert.Equal(t, int32(-1), video.Entries[0].MediaTimeV0)
	assert.Equal(t, uint32(500), video.Entries[0].SegmentDurationV0)

	audio := boxes[1].Payload.(*amp4.Elst)
	assert.Len(t, audio.Entries, 1)
}

func TestMuxerRejectsUseAfterClose(t *testing.T) {
	ws := &writerseeker.WriterSeeker{}
	m := newMuxer(t, ws)

	assert.ErrorIs(t, m.WriteSample(audioSample(0)), mp4.ErrNotStarted)
	m.Start(ms(0))
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.WriteSample(audioSample(0)), mp4.ErrClosed)
	assert.ErrorIs(t, m.Close(), mp4.ErrClosed)
}

func TestNewMuxerValidatesAudio(t *testing.T) {
	_, err := mp4.NewMuxer(&writerseeker.WriterSeeker{}, mp4.VideoConfig{}, mp4.AudioConfig{})
	assert.Error(t, err)
}
