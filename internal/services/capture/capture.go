package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eric2788/shortrec/internal/modules/config"
	"github.com/eric2788/shortrec/internal/services/path"
	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/mediatime"
	"github.com/eric2788/shortrec/pkg/pipeline"
	"github.com/eric2788/shortrec/pkg/writer"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

var logger = logrus.WithField("service", "capture")

type State string

const (
	Idle      State = "idle"
	Recording State = "recording"
	Paused    State = "paused"
)

var ErrNoWriter = fmt.Errorf("nothing was recorded")
var ErrWriterFailed = fmt.Errorf("writer failed")
var ErrFinishing = fmt.Errorf("previous recording is still being finalized")

// Writer is the container sink samples are forwarded to.
type Writer interface {
	Write(s *media.Sample, kind media.TrackKind)
	Finish(callback func())
	Status() writer.Status
	Err() error
	Path() string
}

type WriterFactory func(path string, frameHeight, frameWidth, channels, sampleRate int) (Writer, error)

// Service coordinates one recording session at a time. Every control call
// and every OnSample call runs under the same lock.
type Service struct {
	mu sync.Mutex

	state                State
	discontinuityPending bool
	timeOffset           mediatime.Time
	lastAudioPTS         *mediatime.Time
	fileIndex            int
	writer               Writer

	startedAt time.Time
	recorded  time.Duration
	resumedAt time.Time
	cancelTTL context.CancelFunc
	session   uint64
	// finalizations started by Stop that have not settled fileIndex yet
	pending int

	forwarded [2]*xsync.Counter
	dropped   [2]*xsync.Counter

	newWriter   WriterFactory
	newPipeline func() *pipeline.Pipe[string]
	onAutoStop  func(path string)

	finishing sync.WaitGroup
	paths     *path.Service
	cfg       *config.Config
	ctx       context.Context
}

type Option func(*Service)

func WithWriterFactory(f WriterFactory) Option {
	return func(s *Service) { s.newWriter = f }
}

// WithPipeline sets the stage a finalized file goes through before it counts as persisted.
func WithPipeline(f func() *pipeline.Pipe[string]) Option {
	return func(s *Service) { s.newPipeline = f }
}

func WithAutoStopCallback(f func(path string)) Option {
	return func(s *Service) { s.onAutoStop = f }
}

func New(ctx context.Context, cfg *config.Config, paths *path.Service, opts ...Option) *Service {
	s := &Service{
		state:       Idle,
		paths:       paths,
		cfg:         cfg,
		ctx:         ctx,
		newPipeline: func() *pipeline.Pipe[string] { return pipeline.New[string]() },
	}
	for i := range s.forwarded {
		s.forwarded[i] = xsync.NewCounter()
		s.dropped[i] = xsync.NewCounter()
	}
	s.newWriter = s.defaultWriter
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) defaultWriter(path string, frameHeight, frameWidth, channels, sampleRate int) (Writer, error) {
	w, err := writer.New(path, frameHeight, frameWidth, channels, sampleRate,
		writer.WithVideoBitrate(s.cfg.VideoBitrate),
		writer.WithAudioBitrate(s.cfg.AudioBitrate),
		writer.WithQueueSize(s.cfg.TrackQueueSize),
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Start begins a new session. It does nothing unless the service is idle,
// and fails with ErrFinishing while the previous recording still owns the
// output path.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		logger.Debugf("start ignored while %s", s.state)
		return nil
	}
	if s.pending > 0 {
		logger.Warnf("start refused, %d recording(s) still being finalized", s.pending)
		return ErrFinishing
	}
	s.session++
	s.timeOffset = mediatime.Time{}
	s.discontinuityPending = false
	s.state = Recording

	now := time.Now()
	s.startedAt = now
	s.resumedAt = now
	s.recorded = 0
	s.watchDuration(s.session)

	for i := range s.forwarded {
		s.forwarded[i].Reset()
		s.dropped[i].Reset()
	}
	logger.Infof("recording started, file index %d", s.fileIndex)
	return nil
}

func (s *Service) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Recording {
		return
	}
	s.state = Paused
	s.discontinuityPending = true
	s.recorded += time.Since(s.resumedAt)
	logger.Infof("recording paused after %v", s.recorded.Round(time.Millisecond))
}

// Resume continues a paused session. The discontinuity stays pending until
// the next audio sample measures the gap.
func (s *Service) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Paused {
		return
	}
	s.state = Recording
	s.resumedAt = time.Now()
	logger.Info("recording resumed")
}

// Stop ends the session immediately. If anything was recorded, the file is
// finalized and persisted on another goroutine and onFinished receives the
// persisted location. onFinished is never called when nothing was recorded
// or when finalization or persistence fails. Stop reports whether a writer
// was handed to finalization.
func (s *Service) Stop(onFinished func(path string)) bool {
	s.mu.Lock()
	w := s.endSessionLocked()
	s.mu.Unlock()
	return s.finish(w, onFinished)
}

func (s *Service) endSessionLocked() Writer {
	if s.state == Recording {
		s.recorded += time.Since(s.resumedAt)
	}
	s.state = Idle
	if s.cancelTTL != nil {
		s.cancelTTL()
		s.cancelTTL = nil
	}
	if s.discontinuityPending {
		logger.Debug("stopping with an unresolved discontinuity")
	}
	w := s.writer
	s.writer = nil
	if w != nil {
		s.pending++
		s.finishing.Add(1)
	}
	return w
}

func (s *Service) finish(w Writer, onFinished func(path string)) bool {
	if w == nil {
		logger.Warn("stop requested but no writer exists, nothing was recorded")
		return false
	}

	go func() {
		defer s.finishing.Done()
		l := logger.WithField("file", w.Path())

		persisted, err := s.finalizeAndPersist(w)

		s.mu.Lock()
		s.pending--
		if err == nil {
			s.fileIndex++
		}
		s.mu.Unlock()

		if err != nil {
			l.Error(err)
			return
		}

		l.Infof("recording persisted to %s", persisted)
		if onFinished != nil {
			onFinished(persisted)
		}
	}()
	return true
}

func (s *Service) finalizeAndPersist(w Writer) (string, error) {
	output, err := Finalize(context.Background(), w)
	if err != nil {
		return "", fmt.Errorf("cannot finalize recording: %w", err)
	}
	persisted, err := s.persist(output)
	if err != nil {
		return "", fmt.Errorf("cannot persist recording: %w", err)
	}
	return persisted, nil
}

// Finalize finishes w and reports the file it produced. The finish itself
// is never cancelled; ctx only bounds the wait.
func Finalize(ctx context.Context, w Writer) (string, error) {
	done := make(chan struct{})
	w.Finish(func() { close(done) })

	select {
	case <-done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if status := w.Status(); status != writer.Finished {
		return "", fmt.Errorf("%w: status %v: %v", ErrWriterFailed, status, w.Err())
	}
	return w.Path(), nil
}

func (s *Service) persist(output string) (string, error) {
	pipe := s.newPipeline()
	logger.Debugf("persisting %s through %v", output, pipe.Names())
	if err := pipe.Open(s.ctx); err != nil {
		return "", err
	}
	defer pipe.Close()
	return pipe.Process(s.ctx, output)
}

// OnSample is the ingestion entry point for the capture source. Calls must
// come from a single goroutine.
func (s *Service) OnSample(sample *media.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := sample.Kind
	if kind != media.Video && kind != media.Audio {
		logger.Warnf("dropping sample of unknown track kind %d", kind)
		return
	}
	if s.state != Recording {
		s.dropped[kind].Inc()
		return
	}

	if s.writer == nil && kind == media.Audio {
		s.constructWriter(sample)
	}

	if s.discontinuityPending {
		if kind == media.Video {
			s.dropped[kind].Inc()
			return
		}
		s.recalculateOffset(sample.PTS)
	}

	if !s.timeOffset.IsZero() {
		sample = sample.Shifted(s.timeOffset)
	}

	if kind == media.Audio {
		end := sample.End()
		s.lastAudioPTS = &end
	}

	if s.writer == nil {
		s.dropped[kind].Inc()
		return
	}
	s.writer.Write(sample, kind)
	s.forwarded[kind].Inc()
}

func (s *Service) recalculateOffset(rawPTS mediatime.Time) {
	if s.lastAudioPTS != nil {
		if !s.timeOffset.IsZero() {
			rawPTS = rawPTS.Sub(s.timeOffset)
		}
		delta := rawPTS.Sub(*s.lastAudioPTS)
		if s.timeOffset.IsZero() {
			s.timeOffset = delta
		} else {
			s.timeOffset = s.timeOffset.Add(delta)
		}
		logger.Debugf("discontinuity of %v, time offset now %v", delta, s.timeOffset)
	}
	s.lastAudioPTS = nil
	s.discontinuityPending = false
}

func (s *Service) constructWriter(sample *media.Sample) {
	if sample.Audio == nil || sample.Audio.SampleRate <= 0 || sample.Audio.ChannelCount <= 0 {
		logger.Warn("audio sample without stream parameters, writer not created")
		return
	}
	output := s.paths.OutputPath(s.fileIndex)
	w, err := s.newWriter(output, s.cfg.FrameWidth, s.cfg.FrameWidth, sample.Audio.ChannelCount, sample.Audio.SampleRate)
	if err != nil {
		logger.Errorf("cannot create writer for %s: %v", output, err)
		return
	}
	s.writer = w
	logger.WithField("file", output).
		Infof("writer created: %d ch %d Hz", sample.Audio.ChannelCount, sample.Audio.SampleRate)
}

// watchDuration stops session once its recorded time, pauses excluded,
// reaches MaxRecordingSeconds. Caller holds the lock.
func (s *Service) watchDuration(session uint64) {
	if s.cfg.MaxRecordingSeconds <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelTTL = cancel
	limit := time.Duration(s.cfg.MaxRecordingSeconds) * time.Second

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if s.session != session || s.state == Idle {
					s.mu.Unlock()
					return
				}
				elapsed := s.elapsedLocked()
				if elapsed < limit {
					s.mu.Unlock()
					continue
				}
				logger.Infof("maximum recording time reached (%v), stopping", elapsed.Round(time.Millisecond))
				w := s.endSessionLocked()
				s.mu.Unlock()
				s.finish(w, s.onAutoStop)
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Elapsed is the recorded time of the current session, excluding pauses.
func (s *Service) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *Service) elapsedLocked() time.Duration {
	if s.state == Recording {
		return s.recorded + time.Since(s.resumedAt)
	}
	return s.recorded
}

// Wait blocks until every pending finalization is done or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.finishing.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func NewService(lc fx.Lifecycle, cfg *config.Config, paths *path.Service, pipe *Pipeline) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, cfg, paths,
		WithPipeline(pipe.New),
		WithAutoStopCallback(func(path string) {
			logger.Infof("auto stopped recording saved: %s", path)
		}),
	)

	lc.Append(fx.StopHook(func(ctx context.Context) error {
		defer cancel()
		if s.Status() != Idle {
			s.Stop(nil)
		}
		return s.Wait(ctx)
	}))
	return s
}
