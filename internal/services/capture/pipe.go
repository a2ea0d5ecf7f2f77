package capture

import (
	"github.com/eric2788/shortrec/internal/processors"
	"github.com/eric2788/shortrec/internal/services/library"
	"github.com/eric2788/shortrec/pkg/pipeline"
)

// Pipeline builds the stages a finalized recording passes through before it
// counts as persisted.
type Pipeline struct {
	lib *library.Service
}

func NewPipeline(lib *library.Service) *Pipeline {
	return &Pipeline{lib: lib}
}

func (p *Pipeline) New() *pipeline.Pipe[string] {
	return pipeline.New(
		// reject files the writer could not complete
		processors.NewMp4Verifier(),
		// copy into the library and index it
		processors.NewLibraryPersister(p.lib),
	)
}
