package auth

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestEcho(keys []string, public ...string) *echo.Echo {
	e := echo.New()
	e.Use(APIKeyMiddleware(keys, public...))
	e.GET("/pools/:id", func(c echo.Context) error {
		if idx, ok := c.Get(ContextKeyIndex).(int); ok {
			c.Response().Header().Set("X-Key-Index", strconv.Itoa(idx))
		}
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func serve(e *echo.Echo, target, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if key != "" {
		req.Header.Set(HeaderAPIKey, key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyMiddleware_NoKeyConfigured(t *testing.T) {
	rec := serve(newTestEcho(nil), "/pools/p1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with no key configured, got %d", rec.Code)
	}
}

func TestAPIKeyMiddleware_ValidKey(t *testing.T) {
	rec := serve(newTestEcho([]string{"secret-key"}), "/pools/p1", "secret-key")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with valid key, got %d", rec.Code)
	}
}

func TestAPIKeyMiddleware_InvalidKey(t *testing.T) {
	rec := serve(newTestEcho([]string{"secret-key"}), "/pools/p1", "wrong-key")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 with invalid key, got %d", rec.Code)
	}
}

func TestAPIKeyMiddleware_MissingKey(t *testing.T) {
	rec := serve(newTestEcho([]string{"secret-key"}), "/pools/p1", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with missing key, got %d", rec.Code)
	}
}

func TestAPIKeyMiddleware_QueryParam(t *testing.T) {
	rec := serve(newTestEcho([]string{"secret-key"}), "/pools/p1?api_key=secret-key", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with key in query param, got %d", rec.Code)
	}
}

func TestAPIKeyMiddleware_RotatedKeys(t *testing.T) {
	e := newTestEcho([]string{"old-key", "new-key"})
	rec := serve(e, "/pools/p1", "new-key")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with second key, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Key-Index"); got != "1" {
		t.Errorf("expected matched key index 1, got %q", got)
	}
}

func TestAPIKeyMiddleware_PublicPath(t *testing.T) {
	e := newTestEcho([]string{"secret-key"}, "/health")
	if rec := serve(e, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("expected public path to skip auth, got %d", rec.Code)
	}
	if rec := serve(e, "/pools/p1", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected other paths to require a key, got %d", rec.Code)
	}
}

func TestParseKeys(t *testing.T) {
	got := ParseKeys(" a , ,b,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("ParseKeys() = %q", got)
	}
	if ParseKeys("") != nil {
		t.Error("ParseKeys(\"\") should be empty")
	}
}
