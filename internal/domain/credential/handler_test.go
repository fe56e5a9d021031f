package credential

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/neuroscan/neuroscan/internal/platform/db"
)

func newTestHandler(repo *mockRepo, logs *bytes.Buffer) (*echo.Echo, *Handler) {
	h := NewHandler(newTestService(repo, nil), zerolog.New(logs))
	e := echo.New()
	h.RegisterRoutes(e)
	return e, h
}

func postForm(e *echo.Echo, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func registration() url.Values {
	return url.Values{
		"name":     {"Dr. Ada"},
		"email":    {"ada@clinic.test"},
		"reg_no":   {"MC-1001"},
		"password": {"s3cret-pass"},
	}
}

func assertRedirect(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if got := rec.Header().Get(echo.HeaderLocation); got != want {
		t.Errorf("expected redirect to %s, got %s", want, got)
	}
}

func TestHandler_RegisterThenLogin(t *testing.T) {
	var logs bytes.Buffer
	e, _ := newTestHandler(newMockRepo(), &logs)

	rec := postForm(e, "/registration", registration())
	assertRedirect(t, rec, "/index.html?success=registered")

	rec = postForm(e, "/login", url.Values{"email": {"ada@clinic.test"}, "password": {"s3cret-pass"}})
	assertRedirect(t, rec, "/dashboard.html?user=Dr.+Ada")

	if strings.Contains(logs.String(), "s3cret-pass") {
		t.Error("plaintext secret must never be logged")
	}
}

func TestHandler_RegisterJSON(t *testing.T) {
	var logs bytes.Buffer
	repo := newMockRepo()
	e, _ := newTestHandler(repo, &logs)

	body := `{"name":"Dr. Ada","email":"ada@clinic.test","reg_no":"MC-1001","password":"s3cret-pass"}`
	req := httptest.NewRequest(http.MethodPost, "/registration", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assertRedirect(t, rec, "/index.html?success=registered")
	if _, ok := repo.byEmail["ada@clinic.test"]; !ok {
		t.Error("expected credential to be stored")
	}
}

func TestHandler_RegisterMissingField(t *testing.T) {
	var logs bytes.Buffer
	repo := newMockRepo()
	e, _ := newTestHandler(repo, &logs)

	form := registration()
	form.Del("reg_no")
	rec := postForm(e, "/registration", form)

	assertRedirect(t, rec, "/index.html?error=missing_fields")
	if len(repo.byEmail) != 0 {
		t.Error("nothing should be inserted")
	}
}

func TestHandler_RegisterPasswordTooLong(t *testing.T) {
	var logs bytes.Buffer
	e, _ := newTestHandler(newMockRepo(), &logs)

	form := registration()
	form.Set("password", strings.Repeat("p", 80))
	assertRedirect(t, postForm(e, "/registration", form), "/index.html?error=password_too_long")
}

func TestHandler_RegisterDuplicateEmail(t *testing.T) {
	var logs bytes.Buffer
	e, _ := newTestHandler(newMockRepo(), &logs)

	postForm(e, "/registration", registration())
	assertRedirect(t, postForm(e, "/registration", registration()), "/index.html?error=email_exists")
}

func TestHandler_RegisterStorageFailure(t *testing.T) {
	var logs bytes.Buffer
	repo := newMockRepo()
	repo.failErr = db.Wrap("insert credential", errors.New("connection reset"))
	e, _ := newTestHandler(repo, &logs)

	assertRedirect(t, postForm(e, "/registration", registration()), "/index.html?error=database_error")

	out := logs.String()
	if !strings.Contains(out, "connection reset") {
		t.Errorf("expected storage diagnostic in log, got %s", out)
	}
	if strings.Contains(out, "s3cret-pass") {
		t.Error("plaintext secret must never be logged")
	}
}

func TestHandler_LoginFailuresAreIndistinguishable(t *testing.T) {
	var logs bytes.Buffer
	e, _ := newTestHandler(newMockRepo(), &logs)
	postForm(e, "/registration", registration())

	unknown := postForm(e, "/login", url.Values{"email": {"ghost@clinic.test"}, "password": {"s3cret-pass"}})
	wrong := postForm(e, "/login", url.Values{"email": {"ada@clinic.test"}, "password": {"nope"}})

	assertRedirect(t, unknown, "/index.html?error=invalid_login")
	assertRedirect(t, wrong, "/index.html?error=invalid_login")
}

func TestHandler_LoginMissingCredentials(t *testing.T) {
	var logs bytes.Buffer
	e, _ := newTestHandler(newMockRepo(), &logs)

	assertRedirect(t, postForm(e, "/login", url.Values{"email": {"ada@clinic.test"}}), "/index.html?error=missing_credentials")
}

func TestHandler_LoginStorageFailure(t *testing.T) {
	var logs bytes.Buffer
	repo := newMockRepo()
	repo.failErr = db.Wrap("select credential", errors.New("statement timeout"))
	e, _ := newTestHandler(repo, &logs)

	rec := postForm(e, "/login", url.Values{"email": {"ada@clinic.test"}, "password": {"s3cret-pass"}})
	assertRedirect(t, rec, "/index.html?error=login_failed")
	if strings.Contains(logs.String(), "s3cret-pass") {
		t.Error("plaintext secret must never be logged")
	}
}

func TestHandler_RegisterRoutesAppliesMiddleware(t *testing.T) {
	var logs bytes.Buffer
	h := NewHandler(newTestService(newMockRepo(), nil), zerolog.New(&logs))
	e := echo.New()

	calls := 0
	count := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			calls++
			return next(c)
		}
	}
	h.RegisterRoutes(e, count)

	postForm(e, "/registration", registration())
	postForm(e, "/login", url.Values{})
	if calls != 2 {
		t.Errorf("expected middleware on both routes, got %d calls", calls)
	}
}
