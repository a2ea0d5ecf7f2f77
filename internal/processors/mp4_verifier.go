package processors

import (
	"context"
	"fmt"
	"os"
	"time"

	amp4 "github.com/abema/go-mp4"
	"github.com/eric2788/shortrec/pkg/pipeline"
	"github.com/sirupsen/logrus"
)

var ErrEmptyRecording = fmt.Errorf("recording has no samples")

// Mp4VerifierProcessor checks that a finalized file is a readable MP4 with
// at least one non-empty track before it goes anywhere else.
type Mp4VerifierProcessor struct{}

func NewMp4Verifier() *pipeline.ProcessorInfo[string] {
	return pipeline.NewProcessorInfo(
		"mp4-verifier",
		&Mp4VerifierProcessor{},
		pipeline.WithTimeout[string](30*time.Second),
	)
}

func (p *Mp4VerifierProcessor) Open(ctx context.Context, log *logrus.Entry) error {
	return nil
}

func (p *Mp4VerifierProcessor) Process(ctx context.Context, log *logrus.Entry, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return path, err
	}
	defer f.Close()

	info, err := amp4.Probe(f)
	if err != nil {
		return path, fmt.Errorf("probe %s: %w", path, err)
	}

	samples := 0
	for _, track := range info.Tracks {
		samples += len(track.Samples)
		log.Debugf("track %d: codec %v, %d samples, timescale %d", track.TrackID, track.Codec, len(track.Samples), track.Timescale)
	}
	if samples == 0 {
		return path, ErrEmptyRecording
	}

	log.WithField("file", path).Infof("verified: %d tracks, %d samples, %.2fs",
		len(info.Tracks), samples, float64(info.Duration)/float64(max(info.Timescale, 1)))
	return path, nil
}

func (p *Mp4VerifierProcessor) Close() error {
	return nil
}
