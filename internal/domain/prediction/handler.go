package prediction

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/neuroscan/neuroscan/internal/platform/middleware"
)

// imageField is the multipart field browsers submit the scan under.
const imageField = "image"

type Handler struct {
	relay  *Relay
	logger zerolog.Logger
}

func NewHandler(relay *Relay, logger zerolog.Logger) *Handler {
	return &Handler{relay: relay, logger: logger}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/predict", h.Predict)
}

func (h *Handler) Predict(c echo.Context) error {
	fh, err := formImage(c)
	if errors.Is(err, ErrNoFile) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No image uploaded"})
	}
	if err != nil {
		return err
	}

	src, err := fh.Open()
	if err != nil {
		return h.fail(c, &StorageError{Op: "open upload", Path: fh.Filename, Err: err})
	}
	defer src.Close()

	payload, err := h.relay.Relay(c.Request().Context(), fh.Filename, src)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSONBlob(http.StatusOK, payload)
}

// formImage returns the uploaded image part, or ErrNoFile when the request
// has none or is not a readable multipart form. An oversized body keeps its
// 413.
func formImage(c echo.Context) (*multipart.FileHeader, error) {
	fh, err := c.FormFile(imageField)
	if he, ok := middleware.BodyTooLarge(err); ok {
		return nil, he
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFile, err)
	}
	return fh, nil
}

func (h *Handler) fail(c echo.Context, err error) error {
	evt := h.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(c))
	var ue *UpstreamError
	if errors.As(err, &ue) {
		evt = evt.Int("upstream_status", ue.StatusCode)
	}
	evt.Msg("prediction relay failed")

	// The request deadline passed; the timeout middleware answers 504.
	if ctxErr := c.Request().Context().Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return errors.Join(ctxErr, err)
	}

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error":   "Internal Server Error",
		"details": err.Error(),
	})
}
