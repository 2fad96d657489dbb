package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Where operator API keys are read from.
const (
	HeaderAPIKey = "X-API-Key"
	QueryAPIKey  = "api_key"
)

// ContextKeyIndex is the echo context key holding the position of the
// matched key in the accepted list.
const ContextKeyIndex = "api_key_index"

// ParseKeys splits a comma-separated key list and drops blanks. Listing a
// new key next to the old one lets operators rotate without downtime.
func ParseKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// APIKeyMiddleware validates the X-API-Key header against the accepted keys.
// With no keys configured authentication is disabled (local mode). Requests
// for the public paths skip the check.
func APIKeyMiddleware(keys []string, public ...string) echo.MiddlewareFunc {
	skip := make(map[string]bool, len(public))
	for _, p := range public {
		skip[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(keys) == 0 || skip[c.Path()] {
				return next(c)
			}

			provided := c.Request().Header.Get(HeaderAPIKey)
			if provided == "" {
				provided = c.QueryParam(QueryAPIKey)
			}
			if provided == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing API key",
				})
			}

			idx := match(keys, provided)
			if idx < 0 {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "invalid API key",
				})
			}
			c.Set(ContextKeyIndex, idx)
			return next(c)
		}
	}
}

// match compares provided against every key so timing does not reveal
// which one matched.
func match(keys []string, provided string) int {
	idx := -1
	for i, k := range keys {
		if subtle.ConstantTimeCompare([]byte(provided), []byte(k)) == 1 && idx < 0 {
			idx = i
		}
	}
	return idx
}
