package flv_test

import (
	"bytes"
	"testing"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"
	"github.com/eric2788/shortrec/pkg/flv"
	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/mediatime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{
		0x67, 0x64, 0x00, 0x0c, 0xac, 0x3b, 0x50, 0xb0,
		0x4b, 0x42, 0x00, 0x00, 0x03, 0x00, 0x02, 0x00,
		0x00, 0x03, 0x00, 0x3d, 0x08,
	}
	testPPS = []byte{0x68, 0xee, 0x3c, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
)

func encodeStream(t *testing.T) []byte {
	var buf bytes.Buffer
	enc := flv.NewEncoder(&buf)

	aacConf, err := (&mpeg4audio.Config{
		Type:         mpeg4audio.ObjectTypeAACLC,
		SampleRate:   44100,
		ChannelCount: 1,
	}).Marshal()
	require.NoError(t, err)

	avcc, err := h264.AVCCMarshal([][]byte{testIDR})
	require.NoError(t, err)

	require.NoError(t, enc.WriteAVCConfig(0, testSPS, testPPS))
	require.NoError(t, enc.WriteAACConfig(0, aacConf))
	require.NoError(t, enc.WriteVideo(0, 66, true, avcc))
	require.NoError(t, enc.WriteAudio(10, []byte{0x21, 0x10, 0x04}))
	require.NoError(t, enc.WriteVideo(33, -33, false, avcc))
	return buf.Bytes()
}

func TestDemuxerWholeStream(t *testing.T) {
	d := flv.NewDemuxer()
	defer d.Close()

	samples, err := d.Feed(encodeStream(t))
	require.NoError(t, err)
	require.Len(t, samples, 3)

	video := samples[0]
	assert.Equal(t, media.Video, video.Kind)
	assert.True(t, video.KeyFrame)
	assert.Equal(t, 0, video.DTS.Compare(mediatime.New(0, 1000)))
	assert.Equal(t, 0, video.PTS.Compare(mediatime.New(66, 1000)))
	require.NotNil(t, video.Video)
	assert.Equal(t, testSPS, video.Video.SPS)
	assert.Equal(t, testPPS, video.Video.PPS)

	nalus, err := h264.AVCCUnmarshal(video.Payload)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{testIDR}, nalus)

	audio := samples[1]
	assert.Equal(t, media.Audio, audio.Kind)
	assert.Equal(t, []byte{0x21, 0x10, 0x04}, audio.Payload)
	require.NotNil(t, audio.Audio)
	assert.Equal(t, 44100, audio.Audio.SampleRate)
	assert.Equal(t, 1, audio.Audio.ChannelCount)
	assert.Equal(t, 0, audio.Duration.Compare(mediatime.New(1024, 44100)))

	assert.False(t, samples[2].KeyFrame)
	assert.Equal(t, 0, samples[2].PTS.Compare(mediatime.New(0, 1000)), "negative composition time")
}

func TestDemuxerSplitInput(t *testing.T) {
	stream := encodeStream(t)
	d := flv.NewDemuxer()
	defer d.Close()

	var samples []*media.Sample
	for i := 0; i < len(stream); i += 7 {
		end := min(i+7, len(stream))
		got, err := d.Feed(stream[i:end])
		require.NoError(t, err)
		samples = append(samples, got...)
	}
	assert.Len(t, samples, 3)
	require.NotNil(t, d.AudioParams())
	assert.Equal(t, 44100, d.AudioParams().SampleRate)
}

func TestDemuxerRejectsNonFLV(t *testing.T) {
	d := flv.NewDemuxer()
	defer d.Close()

	_, err := d.Feed([]byte("not an flv stream"))
	assert.ErrorIs(t, err, flv.ErrNotFlvFile)
}

func TestDemuxerSkipsAudioBeforeConfig(t *testing.T) {
	var buf bytes.Buffer
	enc := flv.NewEncoder(&buf)
	require.NoError(t, enc.WriteAudio(0, []byte{0x01}))

	d := flv.NewDemuxer()
	defer d.Close()
	samples, err := d.Feed(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, samples)
	assert.Equal(t, 1, d.Skipped())
}

func TestDemuxerRejectsUnknownTag(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, flv.WriteHeader(&buf))
	require.NoError(t, flv.WriteTag(&buf, &flv.Tag{Type: 0x05, Data: []byte{1, 2}}))

	d := flv.NewDemuxer()
	defer d.Close()
	_, err := d.Feed(buf.Bytes())
	assert.ErrorIs(t, err, flv.ErrInvalidTag)
}
