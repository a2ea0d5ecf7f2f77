package processors

import (
	"context"
	"time"

	"github.com/eric2788/shortrec/internal/services/library"
	"github.com/eric2788/shortrec/pkg/pipeline"
	"github.com/sirupsen/logrus"
)

type Persister interface {
	Persist(ctx context.Context, src string) (*library.Entry, error)
}

// LibraryPersisterProcessor hands a finished recording to the media library
// and passes on the persisted location.
type LibraryPersisterProcessor struct {
	lib Persister
}

func NewLibraryPersister(lib Persister) *pipeline.ProcessorInfo[string] {
	return pipeline.NewProcessorInfo(
		"library-persister",
		&LibraryPersisterProcessor{lib: lib},
		pipeline.WithTimeout[string](1*time.Minute),
	)
}

func (p *LibraryPersisterProcessor) Open(ctx context.Context, log *logrus.Entry) error {
	return nil
}

func (p *LibraryPersisterProcessor) Process(ctx context.Context, log *logrus.Entry, path string) (string, error) {
	entry, err := p.lib.Persist(ctx, path)
	if err != nil {
		return path, err
	}
	log.Infof("%s persisted as entry %s", path, entry.ID)
	return entry.Path, nil
}

func (p *LibraryPersisterProcessor) Close() error {
	return nil
}
