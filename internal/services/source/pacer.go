package source

import (
	"context"
	"time"

	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/mediatime"
)

// pacer releases samples no faster than their decode timestamps advance.
type pacer struct {
	enabled   bool
	started   bool
	wallStart time.Time
	first     mediatime.Time
}

func newPacer(enabled bool) *pacer {
	return &pacer{enabled: enabled}
}

func (p *pacer) wait(ctx context.Context, s *media.Sample) error {
	if !p.enabled {
		return nil
	}
	ts := s.DecodeTime()
	if !p.started {
		p.started = true
		p.wallStart = time.Now()
		p.first = ts
		return nil
	}
	delay := time.Until(p.wallStart.Add(ts.Sub(p.first).Duration()))
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
