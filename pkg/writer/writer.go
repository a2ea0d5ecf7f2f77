package writer

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/mediatime"
	"github.com/eric2788/shortrec/pkg/mp4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var logger = logrus.WithField("pkg", "writer")

type Status int32

const (
	Unopened Status = iota
	Writing
	Finished
	Failed
)

func (s Status) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Writing:
		return "writing"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrOutputNotWritable = errors.New("output location is not writable")
	ErrSessionNotStarted = errors.New("no sample was written before finish")
)

type Settings struct {
	VideoBitrate int
	AudioBitrate int
	// Rotation is applied through the video track's display matrix.
	Rotation  int
	QueueSize int
}

type Option func(*Settings)

func WithVideoBitrate(bps int) Option {
	return func(s *Settings) { s.VideoBitrate = bps }
}

func WithAudioBitrate(bps int) Option {
	return func(s *Settings) { s.AudioBitrate = bps }
}

func WithRotation(degrees int) Option {
	return func(s *Settings) { s.Rotation = degrees }
}

func WithQueueSize(size int) Option {
	return func(s *Settings) {
		if size > 0 {
			s.QueueSize = size
		}
	}
}

func defaultSettings() Settings {
	return Settings{
		VideoBitrate: 2_000_000,
		AudioBitrate: 128_000,
		Rotation:     90,
		QueueSize:    64,
	}
}

// Writer owns one output container with a video and an audio track.
// Write is called from the delivery goroutine; muxing happens on a goroutine
// owned by the Writer so a slow track never stalls the caller.
type Writer struct {
	path   string
	file   *os.File
	muxer  *mp4.Muxer
	status atomic.Int32

	video *input
	audio *input

	qmu     sync.RWMutex
	closing bool

	errMu sync.Mutex
	err   error

	startTime     mediatime.Time
	failureLogged atomic.Bool
	dropLog       rate.Sometimes

	done       chan struct{}
	finishOnce sync.Once
}

// New prepares the container at path. Any file already at path is removed.
func New(path string, frameHeight, frameWidth, audioChannels, audioSampleRate int, opts ...Option) (*Writer, error) {
	settings := defaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrOutputNotWritable, "remove existing %s: %v", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(ErrOutputNotWritable, "create directory for %s: %v", path, err)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, errors.Wrapf(ErrOutputNotWritable, "create %s: %v", path, err)
	}

	muxer, err := mp4.NewMuxer(file, mp4.VideoConfig{
		Width:   frameWidth,
		Height:  frameHeight,
		Bitrate: settings.VideoBitrate,
		Matrix:  mp4.RotationMatrix(settings.Rotation),
	}, mp4.AudioConfig{
		ChannelCount: audioChannels,
		SampleRate:   audioSampleRate,
		Bitrate:      settings.AudioBitrate,
	})
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, errors.Wrap(err, "prepare container")
	}

	w := &Writer{
		path:    path,
		file:    file,
		muxer:   muxer,
		video:   newInput(media.Video, settings.QueueSize),
		audio:   newInput(media.Audio, settings.QueueSize),
		dropLog: rate.Sometimes{Interval: time.Second},
		done:    make(chan struct{}),
	}
	go w.run()

	logger.WithField("file", path).
		Debugf("writer prepared: %dx%d video, %d ch %d Hz audio", frameWidth, frameHeight, audioChannels, audioSampleRate)
	return w, nil
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Status() Status {
	return Status(w.status.Load())
}

func (w *Writer) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// StartTime is the session start, valid once the first sample was written.
func (w *Writer) StartTime() mediatime.Time {
	if w.Status() == Unopened {
		return mediatime.Invalid
	}
	return w.startTime
}

func (w *Writer) Dropped(kind media.TrackKind) uint64 {
	if in := w.input(kind); in != nil {
		return in.dropped.Load()
	}
	return 0
}

// ReadyForMoreMediaData reports whether the track input can take another sample.
func (w *Writer) ReadyForMoreMediaData(kind media.TrackKind) bool {
	in := w.input(kind)
	return in != nil && in.ready()
}

// Write hands s to the track input of kind. The first sample with a ready
// payload opens the session at its presentation time. Samples are dropped,
// never queued, when the input is full.
func (w *Writer) Write(s *media.Sample, kind media.TrackKind) {
	if !s.DataReady() {
		return
	}
	in := w.input(kind)
	if in == nil {
		logger.WithField("file", w.path).Warnf("no track for kind %d, sample dropped", kind)
		return
	}

	if w.status.CompareAndSwap(int32(Unopened), int32(Writing)) {
		w.startTime = s.PTS
		w.muxer.Start(s.PTS)
		logger.WithField("file", w.path).
			Infof("start writing, isVideo = %v, start time = %v", kind == media.Video, s.PTS)
	}

	if w.Status() == Failed {
		if w.failureLogged.CompareAndSwap(false, true) {
			logger.WithField("file", w.path).
				Errorf("error occurred, isVideo = %v, status = %v: %v", kind == media.Video, w.Status(), w.Err())
		}
		return
	}

	w.qmu.RLock()
	defer w.qmu.RUnlock()
	if w.closing {
		return
	}

	if !in.ready() || !in.push(copySample(s)) {
		in.dropped.Add(1)
		w.dropLog.Do(func() {
			logger.WithField("file", w.path).Debugf("%s input not ready, dropping sample at %v", kind, s.PTS)
		})
	}
}

// Finish finalizes the container asynchronously and calls callback once when
// done, whether or not finalization succeeded. Later calls are ignored.
func (w *Writer) Finish(callback func()) {
	w.finishOnce.Do(func() {
		w.qmu.Lock()
		w.closing = true
		w.video.close()
		w.audio.close()
		w.qmu.Unlock()

		go func() {
			if callback != nil {
				defer callback()
			}
			<-w.done
			w.finalize()
		}()
	})
}

func (w *Writer) finalize() {
	l := logger.WithField("file", w.path)

	switch w.Status() {
	case Unopened:
		w.fail(ErrSessionNotStarted)
	case Writing:
		if err := w.muxer.Close(); err != nil {
			w.fail(err)
		}
	}

	if err := w.file.Sync(); err != nil && w.Status() != Failed {
		w.fail(errors.Wrap(err, "sync output"))
	}
	if err := w.file.Close(); err != nil && w.Status() != Failed {
		w.fail(errors.Wrap(err, "close output"))
	}

	if w.status.CompareAndSwap(int32(Writing), int32(Finished)) {
		l.Infof("finished writing: %d video / %d audio samples, %d skipped, %d/%d dropped",
			w.muxer.SampleCount(media.Video), w.muxer.SampleCount(media.Audio), w.muxer.Skipped(),
			w.Dropped(media.Video), w.Dropped(media.Audio))
		return
	}
	l.Warnf("finished with status %v: %v", w.Status(), w.Err())
}

func (w *Writer) run() {
	defer close(w.done)
	video, audio := w.video.queue, w.audio.queue
	for video != nil || audio != nil {
		select {
		case s, ok := <-video:
			if !ok {
				video = nil
				continue
			}
			w.mux(s)
		case s, ok := <-audio:
			if !ok {
				audio = nil
				continue
			}
			w.mux(s)
		}
	}
}

func (w *Writer) mux(s *media.Sample) {
	if w.Status() == Failed {
		return
	}
	if err := w.muxer.WriteSample(s); err != nil {
		w.fail(err)
	}
}

func (w *Writer) fail(err error) {
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()
	w.status.Store(int32(Failed))
}

func (w *Writer) input(kind media.TrackKind) *input {
	switch kind {
	case media.Video:
		return w.video
	case media.Audio:
		return w.audio
	default:
		return nil
	}
}

// copySample detaches s from the buffer borrowed from the capture source.
func copySample(s *media.Sample) *media.Sample {
	out := *s
	out.Payload = append([]byte(nil), s.Payload...)
	return &out
}
