package record

import (
	"context"
	"errors"
	"time"

	"github.com/eric2788/shortrec/internal/modules/config"
	"github.com/eric2788/shortrec/internal/services/capture"
	"github.com/eric2788/shortrec/internal/services/source"
	"github.com/gofiber/fiber/v3"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("controller", "record")

const stopWaitTimeout = 2 * time.Minute

type diskFunc func(path string) (*disk.UsageStat, error)

type Controller struct {
	capture *capture.Service
	source  *source.Service
	cfg     *config.Config
	disk    diskFunc
}

func NewController(app *fiber.App, cfg *config.Config, captureSvc *capture.Service, sourceSvc *source.Service) *Controller {
	return newController(app, cfg, captureSvc, sourceSvc, disk.Usage)
}

func newController(app *fiber.App, cfg *config.Config, captureSvc *capture.Service, sourceSvc *source.Service, du diskFunc) *Controller {
	rc := &Controller{
		capture: captureSvc,
		source:  sourceSvc,
		cfg:     cfg,
		disk:    du,
	}
	record := app.Group("/record")
	record.Post("/start", rc.startRecording)
	record.Post("/pause", rc.pauseRecording)
	record.Post("/resume", rc.resumeRecording)
	record.Post("/stop", rc.stopRecording)
	record.Get("/status", rc.getRecordingStatus)
	record.Get("/stats", rc.getRecordingStats)
	return rc
}

// @Summary Start recording
// @Description Start a recording session. When "source" is given, an FLV file path or http(s) URL is attached as the capture source.
// @Tags record
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param source query string false "FLV file path or URL"
// @Success 200 {object} Status "Recording started"
// @Failure 409 {string} string "A capture source is already attached, or the previous recording is still being finalized"
// @Failure 502 {string} string "Cannot open the capture source"
// @Failure 507 {string} string "Not enough free disk space"
// @Router /record/start [post]
func (r *Controller) startRecording(ctx fiber.Ctx) error {
	if usage, err := r.disk(r.cfg.OutputDir); err != nil {
		logger.Warnf("cannot read disk usage of %s: %v", r.cfg.OutputDir, err)
	} else if free := usage.Free / 1024 / 1024; r.cfg.MinFreeDiskMB > 0 && free < uint64(r.cfg.MinFreeDiskMB) {
		logger.Warnf("refusing to record with %dMB free (minimum %dMB)", free, r.cfg.MinFreeDiskMB)
		return fiber.NewError(fiber.StatusInsufficientStorage, "not enough free disk space")
	}

	src := ctx.Query("source", "")
	wasIdle := r.capture.Status() == capture.Idle
	if err := r.capture.Start(); err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}

	if src != "" {
		if err := r.source.Attach(src, r.capture); err != nil {
			logger.Errorf("error attaching source %s: %v", src, err)
			if wasIdle {
				r.capture.Stop(nil)
			}
			if errors.Is(err, source.ErrSourceActive) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusBadGateway, "cannot open capture source")
		}
	}
	return ctx.JSON(r.status())
}

// @Summary Pause recording
// @Description Pause the active session. Samples are dropped until it is resumed.
// @Tags record
// @Security BearerAuth
// @Produce json
// @Success 200 {object} Status "Current status"
// @Router /record/pause [post]
func (r *Controller) pauseRecording(ctx fiber.Ctx) error {
	r.capture.Pause()
	return ctx.JSON(r.status())
}

// @Summary Resume recording
// @Description Resume a paused session
// @Tags record
// @Security BearerAuth
// @Produce json
// @Success 200 {object} Status "Current status"
// @Router /record/resume [post]
func (r *Controller) resumeRecording(ctx fiber.Ctx) error {
	r.capture.Resume()
	return ctx.JSON(r.status())
}

// @Summary Stop recording
// @Description Stop the session and detach the capture source. With "wait=true" the response carries the persisted file path.
// @Tags record
// @Security BearerAuth
// @Produce json
// @Param wait query bool false "Wait for the recording to be persisted"
// @Success 200 {object} StopResult "Recording stopped"
// @Failure 500 {string} string "Recording could not be persisted"
// @Failure 504 {string} string "Timed out waiting for persistence"
// @Router /record/stop [post]
func (r *Controller) stopRecording(ctx fiber.Ctx) error {
	result := StopResult{
		Stopped:  r.capture.Status() != capture.Idle,
		Detached: r.source.Detach(),
	}
	persisted := make(chan string, 1)
	recorded := r.capture.Stop(func(path string) {
		persisted <- path
	})

	if ctx.Query("wait", "") != "true" || !recorded {
		return ctx.JSON(result)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), stopWaitTimeout)
	defer cancel()
	if err := r.capture.Wait(waitCtx); err != nil {
		logger.Warnf("stopped recording is still being persisted: %v", err)
		return fiber.NewError(fiber.StatusGatewayTimeout, "timed out waiting for persistence")
	}
	select {
	case result.Path = <-persisted:
		return ctx.JSON(result)
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "recording could not be persisted")
	}
}

// @Summary Get recording status
// @Description Get the session state and the file the next recording is written to
// @Tags record
// @Security BearerAuth
// @Produce json
// @Success 200 {object} Status "Recording status"
// @Router /record/status [get]
func (r *Controller) getRecordingStatus(ctx fiber.Ctx) error {
	return ctx.JSON(r.status())
}

// @Summary Get recording statistics
// @Description Get session counters, capture source progress and free disk space
// @Tags record
// @Security BearerAuth
// @Produce json
// @Success 200 {object} Stats "Recording statistics"
// @Router /record/stats [get]
func (r *Controller) getRecordingStats(ctx fiber.Ctx) error {
	stats := &Stats{Capture: r.capture.Stats()}
	if s, ok := r.source.Stats(); ok {
		stats.Source = s
	}
	if usage, err := r.disk(r.cfg.OutputDir); err != nil {
		logger.Debugf("cannot read disk usage of %s: %v", r.cfg.OutputDir, err)
	} else {
		stats.Disk = &DiskStats{
			Path:        usage.Path,
			FreeMB:      usage.Free / 1024 / 1024,
			TotalMB:     usage.Total / 1024 / 1024,
			UsedPercent: usage.UsedPercent,
		}
	}
	return ctx.JSON(stats)
}

func (r *Controller) status() *Status {
	return &Status{
		State:      r.capture.Status(),
		FileIndex:  r.capture.FileIndex(),
		OutputPath: r.capture.OutputPath(),
	}
}
