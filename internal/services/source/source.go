package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eric2788/shortrec/internal/modules/config"
	"github.com/eric2788/shortrec/pkg/flv"
	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/monitor"
	"github.com/eric2788/shortrec/pkg/pool"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

const chunkSize = 32 * 1024

var logger = logrus.WithField("service", "source")

var ErrSourceActive = fmt.Errorf("a capture source is already attached")
var ErrNoSource = fmt.Errorf("no capture source attached")

// Sink receives every demuxed sample, one at a time, from a single goroutine.
type Sink interface {
	OnSample(sample *media.Sample)
}

type Capture struct {
	source    string
	startTime time.Time
	bytesRead atomic.Int64
	samples   atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Service reads an FLV stream from a URL or a local file and delivers its
// samples to a Sink.
type Service struct {
	mu      sync.Mutex
	current *Capture

	client *resty.Client
	pool   *pool.BytesPool
	cfg    *config.Config
	ctx    context.Context
}

func New(ctx context.Context, cfg *config.Config) *Service {
	return &Service{
		client: resty.New().
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
			SetDoNotParseResponse(true).
			SetHeader("Accept", "*/*"),
		pool: pool.NewBytesPool(chunkSize),
		cfg:  cfg,
		ctx:  ctx,
	}
}

func NewService(lc fx.Lifecycle, cfg *config.Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, cfg)
	lc.Append(fx.StopHook(func() {
		s.Detach()
		cancel()
	}))
	return s
}

// Attach starts delivering samples from source to sink until the stream
// ends or Detach is called.
func (s *Service) Attach(source string, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		select {
		case <-s.current.done:
		default:
			return ErrSourceActive
		}
	}

	ctx, cancel := context.WithCancel(s.ctx)
	rc, err := s.open(ctx, source)
	if err != nil {
		cancel()
		return err
	}

	c := &Capture{
		source:    source,
		startTime: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.current = c

	go func() {
		defer close(c.done)
		defer cancel()
		c.err = s.run(ctx, c, rc, sink)
		l := logger.WithField("source", source)
		if c.err != nil && !errors.Is(c.err, context.Canceled) {
			l.Errorf("capture source stopped: %v", c.err)
		} else {
			l.Infof("capture source ended: %d samples, %d bytes", c.samples.Load(), c.bytesRead.Load())
		}
	}()
	return nil
}

// Detach stops the attached source and waits for its delivery to end.
func (s *Service) Detach() bool {
	s.mu.Lock()
	c := s.current
	s.current = nil
	s.mu.Unlock()

	if c == nil {
		return false
	}
	c.cancel()
	<-c.done
	return true
}

// Wait blocks until the attached source ends.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()

	if c == nil {
		return ErrNoSource
	}
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) open(ctx context.Context, source string) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := s.client.R().SetContext(ctx).Get(source)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch %s", source)
		}
		if resp.StatusCode() >= 400 {
			resp.RawBody().Close()
			return nil, fmt.Errorf("fetch %s: unexpected status %s", source, resp.Status())
		}
		return resp.RawBody(), nil
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, errors.Wrap(err, "open source")
	}
	return f, nil
}

func (s *Service) run(ctx context.Context, c *Capture, rc io.ReadCloser, sink Sink) error {
	var reader io.Reader = monitor.NewProgressReader(rc, func(read int64) {
		c.bytesRead.Store(read)
	})
	if limit := s.cfg.SourceReadLimit; limit > 0 {
		reader = pool.NewLimitReader(ctx, reader, limit, max(limit, chunkSize))
	}

	chunks := make(chan []byte, 16)
	g, gctx := errgroup.WithContext(ctx)

	// unblocks a pending Read once either side gives up
	go func() {
		<-gctx.Done()
		_ = rc.Close()
	}()

	g.Go(func() error {
		defer close(chunks)
		defer rc.Close()
		return s.read(gctx, reader, chunks)
	})

	g.Go(func() error {
		demuxer := flv.NewDemuxer()
		defer demuxer.Close()
		pacer := newPacer(s.cfg.SourceRealtime)

		for chunk := range chunks {
			samples, err := demuxer.Feed(chunk)
			s.pool.PutBytes(chunk)
			if err != nil {
				return err
			}
			for _, sample := range samples {
				if err := pacer.wait(gctx, sample); err != nil {
					return err
				}
				sink.OnSample(sample)
				c.samples.Add(1)
			}
		}
		return gctx.Err()
	})

	return g.Wait()
}

func (s *Service) read(ctx context.Context, r io.Reader, ch chan<- []byte) error {
	for {
		buf := s.pool.GetBytes()
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case ch <- buf[:n]:
			case <-ctx.Done():
				s.pool.PutBytes(buf)
				return ctx.Err()
			}
		} else {
			s.pool.PutBytes(buf)
		}
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
