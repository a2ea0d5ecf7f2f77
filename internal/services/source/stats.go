package source

import "time"

type Stats struct {
	Source         string  `json:"source"`
	Running        bool    `json:"running"`
	BytesRead      int64   `json:"bytes_read"`
	Samples        int64   `json:"samples"`
	StartTime      int64   `json:"start_time"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Error          string  `json:"error,omitempty"`
}

func (s *Service) Stats() (*Stats, bool) {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()

	if c == nil {
		return nil, false
	}
	stats := &Stats{
		Source:         c.source,
		Running:        true,
		BytesRead:      c.bytesRead.Load(),
		Samples:        c.samples.Load(),
		StartTime:      c.startTime.Unix(),
		ElapsedSeconds: time.Since(c.startTime).Seconds(),
	}
	select {
	case <-c.done:
		stats.Running = false
		if c.err != nil {
			stats.Error = c.err.Error()
		}
	default:
	}
	return stats, true
}
