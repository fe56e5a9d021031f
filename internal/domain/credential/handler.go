package credential

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/neuroscan/neuroscan/internal/platform/middleware"
)

const (
	landingPage   = "/index.html"
	dashboardPage = "/dashboard.html"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the browser form endpoints. mw is applied to both
// routes, typically the auth rate limiter.
func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.POST("/registration", h.Register, mw...)
	e.POST("/login", h.Login, mw...)
}

type registrationForm struct {
	Name     string `json:"name" form:"name"`
	Email    string `json:"email" form:"email"`
	RegNo    string `json:"reg_no" form:"reg_no"`
	Password string `json:"password" form:"password"`
}

type loginForm struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func redirect(c echo.Context, page, key, value string) error {
	return c.Redirect(http.StatusSeeOther, page+"?"+url.Values{key: {value}}.Encode())
}

func (h *Handler) Register(c echo.Context) error {
	var form registrationForm
	if err := c.Bind(&form); err != nil {
		return redirect(c, landingPage, "error", "missing_fields")
	}

	err := h.svc.Register(c.Request().Context(), RegisterInput{
		Name:     form.Name,
		Email:    form.Email,
		RegNo:    form.RegNo,
		Password: form.Password,
	})
	switch {
	case err == nil:
		return redirect(c, landingPage, "success", "registered")
	case errors.Is(err, ErrMissingField):
		return redirect(c, landingPage, "error", "missing_fields")
	case errors.Is(err, ErrSecretTooLong):
		return redirect(c, landingPage, "error", "password_too_long")
	case errors.Is(err, ErrEmailTaken):
		return redirect(c, landingPage, "error", "email_exists")
	default:
		h.logger.Error().Err(err).
			Str("request_id", middleware.GetRequestID(c)).
			Msg("registration failed")
		return redirect(c, landingPage, "error", "database_error")
	}
}

func (h *Handler) Login(c echo.Context) error {
	var form loginForm
	if err := c.Bind(&form); err != nil {
		return redirect(c, landingPage, "error", "missing_credentials")
	}

	name, err := h.svc.Authenticate(c.Request().Context(), form.Email, form.Password)
	switch {
	case err == nil:
		return redirect(c, dashboardPage, "user", name)
	case errors.Is(err, ErrMissingField):
		return redirect(c, landingPage, "error", "missing_credentials")
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidSecret):
		return redirect(c, landingPage, "error", "invalid_login")
	default:
		h.logger.Error().Err(err).
			Str("request_id", middleware.GetRequestID(c)).
			Msg("login failed")
		return redirect(c, landingPage, "error", "login_failed")
	}
}
