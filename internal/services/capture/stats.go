package capture

import (
	"github.com/eric2788/shortrec/pkg/media"
	"github.com/eric2788/shortrec/pkg/mediatime"
)

type Stats struct {
	State                State   `json:"state"`
	FileIndex            int     `json:"file_index"`
	OutputPath           string  `json:"output_path"`
	StartTime            int64   `json:"start_time"`
	ElapsedSeconds       float64 `json:"elapsed_seconds"`
	TimeOffsetSeconds    float64 `json:"time_offset_seconds"`
	DiscontinuityPending bool    `json:"discontinuity_pending"`
	WriterStatus         string  `json:"writer_status,omitempty"`
	Finishing            int     `json:"finishing"`
	VideoForwarded       int64   `json:"video_forwarded"`
	AudioForwarded       int64   `json:"audio_forwarded"`
	VideoDropped         int64   `json:"video_dropped"`
	AudioDropped         int64   `json:"audio_dropped"`
}

func (s *Service) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) FileIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileIndex
}

// OutputPath is where the next writer of this session is created.
func (s *Service) OutputPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		return s.writer.Path()
	}
	return s.paths.OutputPath(s.fileIndex)
}

func (s *Service) TimeOffset() mediatime.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeOffset
}

func (s *Service) DiscontinuityPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discontinuityPending
}

// Finishing is the number of stopped recordings not yet finalized and persisted.
func (s *Service) Finishing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Service) HasWriter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer != nil
}

func (s *Service) Stats() *Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{
		State:                s.state,
		FileIndex:            s.fileIndex,
		OutputPath:           s.paths.OutputPath(s.fileIndex),
		ElapsedSeconds:       s.elapsedLocked().Seconds(),
		TimeOffsetSeconds:    s.timeOffset.Seconds(),
		DiscontinuityPending: s.discontinuityPending,
		Finishing:            s.pending,
		VideoForwarded:       s.forwarded[media.Video].Value(),
		AudioForwarded:       s.forwarded[media.Audio].Value(),
		VideoDropped:         s.dropped[media.Video].Value(),
		AudioDropped:         s.dropped[media.Audio].Value(),
	}
	if !s.startedAt.IsZero() {
		stats.StartTime = s.startedAt.Unix()
	}
	if s.writer != nil {
		stats.OutputPath = s.writer.Path()
		stats.WriterStatus = s.writer.Status().String()
	}
	return stats
}
