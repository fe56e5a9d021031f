package patient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/neuroscan/neuroscan/internal/platform/db"
	"github.com/neuroscan/neuroscan/internal/platform/middleware"
	"github.com/neuroscan/neuroscan/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/add-patient", h.AddPatient)
	e.GET("/search-patient", h.SearchPatients)
}

// flexString binds either a JSON string or a JSON number, so clients may
// send doctorId and patientAge in either form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// UnmarshalParam implements echo.BindUnmarshaler for form and query values.
func (f *flexString) UnmarshalParam(param string) error {
	*f = flexString(param)
	return nil
}

type addPatientRequest struct {
	DoctorID       flexString `json:"doctorId" form:"doctorId"`
	PatientName    string     `json:"patientName" form:"patientName"`
	PatientAge     flexString `json:"patientAge" form:"patientAge"`
	PatientGender  string     `json:"patientGender" form:"patientGender"`
	PatientHistory string     `json:"patientHistory" form:"patientHistory"`
	PatientContact string     `json:"patientContact" form:"patientContact"`
}

func (h *Handler) AddPatient(c echo.Context) error {
	var req addPatientRequest
	if err := c.Bind(&req); err != nil {
		if he, ok := middleware.BodyTooLarge(err); ok {
			return he
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "All fields are required"})
	}

	id, err := h.svc.Create(c.Request().Context(), CreateInput{
		DoctorID:       string(req.DoctorID),
		PatientName:    req.PatientName,
		PatientAge:     string(req.PatientAge),
		PatientGender:  req.PatientGender,
		PatientHistory: req.PatientHistory,
		PatientContact: req.PatientContact,
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, map[string]interface{}{
			"message":   "Patient added successfully!",
			"patientId": id,
		})
	case errors.Is(err, ErrMissingField):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "All fields are required"})
	case errors.Is(err, ErrInvalidAge):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": ErrInvalidAge.Error()})
	default:
		h.logger.Error().Err(err).
			Str("request_id", middleware.GetRequestID(c)).
			Msg("add patient failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "Database error",
			"details": db.Detail(err),
		})
	}
}

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c)

	items, err := h.svc.Search(c.Request().Context(), c.QueryParam("q"), pg.Limit, pg.Offset)
	switch {
	case err == nil:
		if link := pg.LinkHeader(c.Request().URL.Path, c.QueryParams(), len(items)); link != "" {
			c.Response().Header().Set("Link", link)
		}
		return c.JSON(http.StatusOK, items)
	case errors.Is(err, ErrEmptyQuery):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing search query."})
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"message": "No patient found."})
	default:
		h.logger.Error().Err(err).
			Str("request_id", middleware.GetRequestID(c)).
			Msg("patient search failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "Database query failed.",
			"details": db.Detail(err),
		})
	}
}
