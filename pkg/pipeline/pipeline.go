package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("pkg", "pipeline")

type Pipe[T any] struct {
	processors []*ProcessorInfo[T]
}

func New[T any](processors ...*ProcessorInfo[T]) *Pipe[T] {
	return &Pipe[T]{
		processors: processors,
	}
}

func (p *Pipe[T]) AddProcessors(processors ...*ProcessorInfo[T]) {
	p.processors = append(p.processors, processors...)
}

// Names lists the processors in the order an item passes through them.
func (p *Pipe[T]) Names() []string {
	names := make([]string, len(p.processors))
	for i, processor := range p.processors {
		names[i] = processor.name
	}
	return names
}

func (p *Pipe[T]) Process(ctx context.Context, item T) (T, error) {
	var currentItem T = item
	for _, processor := range p.processors {
		select {
		case <-ctx.Done():
			return currentItem, ctx.Err()
		default:
			var err error
			currentItem, err = p.process(ctx, processor, currentItem)
			if err != nil {
				return currentItem, err
			}
		}
	}
	return currentItem, nil
}

// Open opens every processor in order. When one fails, the processors
// opened before it are closed again and the pipe must not be used.
func (p *Pipe[T]) Open(ctx context.Context) error {
	for i, processor := range p.processors {
		if err := processor.processor.Open(ctx, processor.logger); err != nil {
			for _, opened := range p.processors[:i] {
				if cerr := opened.close(); cerr != nil {
					opened.logger.Errorf("error closing processor: %v", cerr)
				}
			}
			return errors.Wrapf(err, "open processor %s", processor.name)
		}
	}
	return nil
}

// Close closes the processors in reverse order.
func (p *Pipe[T]) Close() {
	for i := len(p.processors) - 1; i >= 0; i-- {
		processor := p.processors[i]
		if err := processor.close(); err != nil {
			processor.logger.Errorf("error closing processor: %v", err)
		}
	}
}

func (p *Pipe[T]) process(ctx context.Context, tp *ProcessorInfo[T], item T) (T, error) {
	start := time.Now()
	c, cancel := context.WithTimeout(ctx, tp.timeout)
	defer cancel()
	defer func() {
		elapsed := time.Since(start)
		if elapsed > 500*time.Millisecond {
			tp.logger.Warnf("processor took too long to execute: %vms", elapsed.Milliseconds())
		} else {
			tp.logger.Debugf("processor executed: %vms", elapsed.Milliseconds())
		}
	}()
	next, err := tp.process(c, item)
	if err != nil {
		switch tp.errorStrategy {
		case StopOnError:
			return item, err
		case ContinueOnError:
			tp.logger.Warnf("continuing despite error in processor %s: %v", tp.name, err)
			return item, nil
		case RetryOnError:
			for range tp.maxRetries {
				tp.logger.Warnf("retrying processor %s due to error: %v", tp.name, err)
				select {
				case <-time.After(tp.retryInterval):
					c, cancel = context.WithTimeout(ctx, tp.timeout)
					next, retryErr := tp.process(c, item)
					cancel()
					if retryErr == nil {
						tp.logger.Infof("processor %s succeeded on retry", tp.name)
						return next, nil
					}
					err = retryErr
				case <-ctx.Done():
					return item, ctx.Err()
				}
			}
			tp.logger.Errorf("processor %s failed after %d retries", tp.name, tp.maxRetries)
			return item, err
		}
	}
	return next, err
}
