package path

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eric2788/shortrec/internal/modules/config"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("service", "path")

var ErrInvalidFilePath = fmt.Errorf("invalid file path")
var ErrAccessDenied = fmt.Errorf("access denied")

type Service struct {
	cfg *config.Config
}

func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg: cfg,
	}
}

// OutputPath is the recording target for fileIndex: {OutputDir}/video{fileIndex}.{FileExtension}.
func (s *Service) OutputPath(fileIndex int) string {
	ext := strings.TrimPrefix(s.cfg.FileExtension, ".")
	return filepath.Join(s.cfg.OutputDir, fmt.Sprintf("video%d.%s", fileIndex, ext))
}

// LibraryPath resolves name inside the library directory, rejecting traversal.
func (s *Service) LibraryPath(name string) (string, error) {
	return s.validate(s.cfg.LibraryDir, name)
}

func (s *Service) EnsureDirs() error {
	for _, dir := range []string{s.cfg.OutputDir, s.cfg.LibraryDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) validate(base, path string) (string, error) {
	baseAbs, err := filepath.Abs(base)
	if err != nil {
		logger.Errorf("invalid base path for %s: %v", base, err)
		return "", ErrInvalidFilePath
	}

	fullPathAbs, err := filepath.Abs(filepath.Join(baseAbs, path))
	if err != nil {
		logger.Errorf("invalid path for %s: %v", path, err)
		return "", ErrInvalidFilePath
	}

	if !strings.HasPrefix(fullPathAbs, baseAbs+string(os.PathSeparator)) {
		logger.Errorf("path traversal detected: %s", path)
		return "", ErrAccessDenied
	}

	return fullPathAbs, nil
}
