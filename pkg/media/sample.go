package media

import "github.com/eric2788/shortrec/pkg/mediatime"

type TrackKind int

const (
	Video TrackKind = iota
	Audio
)

func (k TrackKind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	default:
		return "unknown"
	}
}

// AudioParams describes the audio stream a sample belongs to.
type AudioParams struct {
	ChannelCount int
	SampleRate   int
	// Config is the MPEG-4 AudioSpecificConfig, if the source knows it.
	Config []byte
}

// VideoParams carries H.264 parameter sets delivered out of band.
type VideoParams struct {
	SPS []byte
	PPS []byte
}

// Sample is one timed media buffer. Video payloads are H.264 access units in
// Annex-B or 4-byte AVCC form; audio payloads are raw or ADTS framed AAC.
type Sample struct {
	Kind     TrackKind
	PTS      mediatime.Time
	DTS      mediatime.Time
	Duration mediatime.Time
	Payload  []byte

	// Pending is set while the source is still filling Payload.
	Pending  bool
	KeyFrame bool

	Audio *AudioParams
	Video *VideoParams
}

func (s *Sample) IsVideo() bool {
	return s.Kind == Video
}

// DataReady reports whether the payload can be consumed.
func (s *Sample) DataReady() bool {
	return !s.Pending && len(s.Payload) > 0
}

// DecodeTime returns DTS, falling back to PTS for streams without reordering.
func (s *Sample) DecodeTime() mediatime.Time {
	if s.DTS.IsValid() {
		return s.DTS
	}
	return s.PTS
}

// End returns PTS + Duration, or PTS when the duration is not positive.
func (s *Sample) End() mediatime.Time {
	if s.Duration.Value > 0 {
		return s.PTS.Add(s.Duration)
	}
	return s.PTS
}

// Shifted returns a copy of s with offset subtracted from its decode and
// presentation timestamps. The payload is shared.
func (s *Sample) Shifted(offset mediatime.Time) *Sample {
	out := *s
	if out.PTS.IsValid() {
		out.PTS = out.PTS.Sub(offset)
	}
	if out.DTS.IsValid() {
		out.DTS = out.DTS.Sub(offset)
	}
	return &out
}
