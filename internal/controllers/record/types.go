package record

import (
	"github.com/eric2788/shortrec/internal/services/capture"
	"github.com/eric2788/shortrec/internal/services/source"
)

type (
	Status struct {
		State      capture.State `json:"state"`
		FileIndex  int           `json:"file_index"`
		OutputPath string        `json:"output_path"`
	}

	StopResult struct {
		Stopped  bool   `json:"stopped"`
		Detached bool   `json:"detached"`
		Path     string `json:"path,omitempty"`
	}

	DiskStats struct {
		Path        string  `json:"path"`
		FreeMB      uint64  `json:"free_mb"`
		TotalMB     uint64  `json:"total_mb"`
		UsedPercent float64 `json:"used_percent"`
	}

	Stats struct {
		Capture *capture.Stats `json:"capture"`
		Source  *source.Stats  `json:"source,omitempty"`
		Disk    *DiskStats     `json:"disk,omitempty"`
	}
)
