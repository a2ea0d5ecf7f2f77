package writer

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/mediatime"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// idleWriter is an opened session whose muxing loop is not running, so
// queued samples stay in the track inputs.
func idleWriter(path string, queueSize int) *Writer {
	w := &Writer{
		path:    path,
		video:   newInput(media.Video, queueSize),
		audio:   newInput(media.Audio, queueSize),
		dropLog: rate.Sometimes{Interval: time.Second},
		done:    make(chan struct{}),
	}
	w.status.Store(int32(Writing))
	return w
}

func sample(kind media.TrackKind, pts int64) *media.Sample {
	return &media.Sample{Kind: kind, PTS: mediatime.New(pts, 1000), Payload: []byte{0x01}}
}

func TestFullTrackDoesNotBlockTheOther(t *testing.T) {
	w := idleWriter("video0.mp4", 2)

	for i := int64(0); i < 5; i++ {
		w.Write(sample(media.Video, i*33), media.Video)
	}
	assert.False(t, w.ReadyForMoreMediaData(media.Video))
	assert.Equal(t, uint64(3), w.Dropped(media.Video))

	assert.True(t, w.ReadyForMoreMediaData(media.Audio))
	w.Write(sample(media.Audio, 0), media.Audio)
	w.Write(sample(media.Audio, 23), media.Audio)
	assert.Len(t, w.audio.queue, 2)
	assert.Zero(t, w.Dropped(media.Audio))

	w.Write(sample(media.Audio, 46), media.Audio)
	assert.Equal(t, uint64(1), w.Dropped(media.Audio))
	assert.Equal(t, uint64(3), w.Dropped(media.Video), "audio drops are counted on their own track")
}

func TestUnknownTrackKindIsDropped(t *testing.T) {
	w := idleWriter("video0.mp4", 2)
	unknown := media.TrackKind(7)

	assert.NotPanics(t, func() { w.Write(sample(unknown, 0), unknown) })
	assert.Empty(t, w.video.queue)
	assert.Empty(t, w.audio.queue)
	assert.False(t, w.ReadyForMoreMediaData(unknown))
	assert.Zero(t, w.Dropped(unknown))
}

func TestFailedWriterLogsOnce(t *testing.T) {
	hook := test.NewLocal(logrus.StandardLogger())
	t.Cleanup(func() { logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks)) })

	path := "failed-" + time.Now().Format("150405.000000") + ".mp4"
	w := idleWriter(path, 2)
	w.fail(errors.New("disk full"))

	for i := int64(0); i < 4; i++ {
		w.Write(sample(media.Video, i*33), media.Video)
		w.Write(sample(media.Audio, i*23), media.Audio)
	}

	var failures int
	for _, e := range hook.AllEntries() {
		if e.Data["file"] == path && e.Level == logrus.ErrorLevel && strings.Contains(e.Message, "disk full") {
			failures++
		}
	}
	require.Equal(t, 1, failures)
	assert.Empty(t, w.video.queue, "a failed writer accepts nothing")
	assert.Zero(t, w.Dropped(media.Video))
}
