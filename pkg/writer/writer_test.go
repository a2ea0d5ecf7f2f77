package writer_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	amp4 "github.com/abema/go-mp4"
	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/mediatime"
	"github.com/eric2788/shortrec/pkg/writer"
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

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func videoSample(pts int64) *media.Sample {
	return &media.Sample{
		Kind:     media.Video,
		PTS:      mediatime.New(pts, 1000),
		Duration: mediatime.New(33, 1000),
		Payload:  annexB(testSPS, testPPS, testIDR),
	}
}

func audioSample(pts int64) *media.Sample {
	return &media.Sample{
		Kind:     media.Audio,
		PTS:      mediatime.New(pts, 1000),
		Duration: mediatime.New(23, 1000),
		Payload:  []byte{0x21, 0x10, 0x04, 0x60, 0x8c, 0x1c},
	}
}

func newWriter(t *testing.T) (*writer.Writer, string) {
	path := filepath.Join(t.TempDir(), "video0.mp4")
	w, err := writer.New(path, 375, 375, 1, 44100)
	require.NoError(t, err)
	return w, path
}

func finish(t *testing.T, w *writer.Writer) {
	done := make(chan struct{})
	w.Finish(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("finish callback was not called")
	}
}

func TestWriterLifecycle(t *testing.T) {
	w, path := newWriter(t)
	assert.Equal(t, writer.Unopened, w.Status())
	assert.False(t, w.StartTime().IsValid())

	pending := videoSample(0)
	pending.Pending = true
	w.Write(pending, media.Video)
	assert.Equal(t, writer.Unopened, w.Status(), "a sample without ready data must not open the session")

	w.Write(videoSample(100), media.Video)
	assert.Equal(t, writer.Writing, w.Status())
	assert.Equal(t, 0, w.StartTime().Compare(mediatime.New(100, 1000)))

	w.Write(audioSample(100), media.Audio)
	w.Write(audioSample(123), media.Audio)
	w.Write(videoSample(133), media.Video)

	finish(t, w)
	assert.Equal(t, writer.Finished, w.Status())
	assert.NoError(t, w.Err())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	info, err := amp4.Probe(f)
	require.NoError(t, err)
	assert.Len(t, info.Tracks, 2)
}

func TestWriterReplacesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video0.mp4")
	require.NoError(t, os.WriteFile(path, []byte("previous recording"), 0644))

	w, err := writer.New(path, 375, 375, 1, 44100)
	require.NoError(t, err)
	w.Write(videoSample(0), media.Video)
	finish(t, w)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "previous recording")
	assert.Equal(t, "ftyp", string(data[4:8]))
}

func TestWriterOutputNotWritable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	_, err := writer.New(filepath.Join(blocker, "video0.mp4"), 375, 375, 1, 44100)
	assert.ErrorIs(t, err, writer.ErrOutputNotWritable)
}

func TestWriterFinishWithoutSamples(t *testing.T) {
	w, _ := newWriter(t)
	finish(t, w)
	assert.Equal(t, writer.Failed, w.Status())
	assert.ErrorIs(t, w.Err(), writer.ErrSessionNotStarted)
}

func TestWriterFinishCallsBackOnce(t *testing.T) {
	w, _ := newWriter(t)
	w.Write(videoSample(0), media.Video)

	calls := make(chan struct{}, 2)
	w.Finish(func() { calls <- struct{}{} })
	w.Finish(func() { calls <- struct{}{} })

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("finish callback was not called")
	}
	select {
	case <-calls:
		t.Fatal("second finish must be ignored")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWriterIgnoresWritesAfterFinish(t *testing.T) {
	w, _ := newWriter(t)
	w.Write(videoSample(0), media.Video)
	finish(t, w)

	assert.NotPanics(t, func() {
		w.Write(videoSample(33), media.Video)
		w.Write(audioSample(33), media.Audio)
	})
	assert.Equal(t, writer.Finished, w.Status())
}

func TestWriterFailsOnCorruptSample(t *testing.T) {
	w, _ := newWriter(t)
	w.Write(&media.Sample{
		Kind:    media.Video,
		PTS:     mediatime.New(0, 1000),
		Payload: []byte{0xff, 0x01},
	}, media.Video)

	require.Eventually(t, func() bool {
		return w.Status() == writer.Failed
	}, 5*time.Second, 10*time.Millisecond)
	require.Error(t, w.Err())

	// no-op once failed
	w.Write(videoSample(33), media.Video)
	finish(t, w)
	assert.Equal(t, writer.Failed, w.Status())
}
