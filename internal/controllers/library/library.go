package library

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/eric2788/shortrec/internal/services/library"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("controller", "library")

type Controller struct {
	libSvc *library.Service
}

type DownloadLinkResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

func NewController(app *fiber.App, libSvc *library.Service) *Controller {
	lc := &Controller{libSvc: libSvc}

	lib := app.Group("/library")
	lib.Get("/", lc.listEntries)
	lib.Get("/persisting", lc.listPersisting)
	lib.Get("/:id", lc.getEntry)
	lib.Get("/:id/link", lc.createDownloadLink)
	lib.Delete("/:id", lc.deleteEntry)

	app.Get("/download", lc.download)
	return lc
}

// @Summary List recordings
// @Description List every persisted recording, newest first
// @Tags library
// @Security BearerAuth
// @Produce json
// @Success 200 {array} library.Entry "Library entries"
// @Router /library [get]
func (c *Controller) listEntries(ctx fiber.Ctx) error {
	entries, err := c.libSvc.List()
	if err != nil {
		logger.Errorf("error listing library: %v", err)
		return fiber.ErrInternalServerError
	}
	return ctx.JSON(entries)
}

// @Summary List recordings being persisted
// @Description Recordings still being copied into the library, keyed by source path
// @Tags library
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]string "Source path to start time"
// @Router /library/persisting [get]
func (c *Controller) listPersisting(ctx fiber.Ctx) error {
	return ctx.JSON(c.libSvc.Persisting())
}

// @Summary Get a recording
// @Tags library
// @Security BearerAuth
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} library.Entry "Library entry"
// @Failure 404 {string} string "Not found"
// @Router /library/{id} [get]
func (c *Controller) getEntry(ctx fiber.Ctx) error {
	entry, err := c.libSvc.Get(ctx.Params("id"))
	if err != nil {
		return c.parseFiberError(err)
	}
	return ctx.JSON(entry)
}

// @Summary Delete a recording
// @Description Remove a recording from the library and delete its file
// @Tags library
// @Security BearerAuth
// @Param id path string true "Entry ID"
// @Success 204 "No Content"
// @Failure 404 {string} string "Not found"
// @Router /library/{id} [delete]
func (c *Controller) deleteEntry(ctx fiber.Ctx) error {
	if err := c.libSvc.Delete(ctx.Params("id")); err != nil {
		logger.Warnf("error deleting entry %s: %v", ctx.Params("id"), err)
		return c.parseFiberError(err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

// @Summary Create download link
// @Description Create a signed download link for a recording. Accepts optional "ttl" query in seconds (default 3600).
// @Tags library
// @Security BearerAuth
// @Produce json
// @Param id path string true "Entry ID"
// @Param ttl query int false "TTL in seconds"
// @Success 201 {object} DownloadLinkResponse "Download link"
// @Failure 400 {string} string "Bad request"
// @Failure 404 {string} string "Not found"
// @Router /library/{id}/link [get]
func (c *Controller) createDownloadLink(ctx fiber.Ctx) error {
	ttlStr := ctx.Query("ttl", "")
	ttlSeconds := int64(3600)
	if ttlStr != "" {
		n, err := strconv.ParseInt(ttlStr, 10, 64)
		if err != nil || n <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid ttl")
		}
		ttlSeconds = n
	}
	ttl := time.Duration(ttlSeconds) * time.Second

	token, err := c.libSvc.DownloadToken(ctx.Params("id"), ttl)
	if err != nil {
		logger.Warnf("error creating download token for %s: %v", ctx.Params("id"), err)
		return c.parseFiberError(err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(&DownloadLinkResponse{
		URL:       "/download?token=" + token,
		ExpiresIn: int(ttl.Seconds()),
	})
}

// @Summary Download a recording
// @Description Download a recording with a signed token (no auth required)
// @Tags library
// @Produce octet-stream
// @Param token query string true "Download token"
// @Success 200 {file} binary "File stream"
// @Failure 400 {string} string "Bad request"
// @Failure 404 {string} string "Not found"
// @Router /download [get]
func (c *Controller) download(ctx fiber.Ctx) error {
	token := ctx.Query("token", "")
	if token == "" {
		return fiber.ErrBadRequest
	}
	entry, err := c.libSvc.ResolveToken(token)
	if errors.Is(err, library.ErrEntryNotFound) {
		return fiber.ErrNotFound
	} else if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if _, err := os.Stat(entry.Path); err != nil {
		logger.Warnf("library file of %s is unavailable: %v", entry.ID, err)
		return c.parseFiberError(err)
	}
	ctx.Attachment(entry.Name) // SendFile does not set the filename
	return ctx.SendFile(entry.Path, fiber.SendFile{
		ByteRange: true,
	})
}

func (c *Controller) parseFiberError(err error) error {
	switch {
	case errors.Is(err, library.ErrEntryNotFound), os.IsNotExist(err):
		return fiber.NewError(fiber.StatusNotFound, "recording not found")
	case os.IsPermission(err):
		return fiber.NewError(fiber.StatusForbidden, "cannot access recording")
	default:
		return fiber.ErrInternalServerError
	}
}
