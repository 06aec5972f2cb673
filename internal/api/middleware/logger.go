// Package middleware holds HTTP middleware for the sync API.
package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Query parameter names whose values never belong in a log line. Sync
// triggers may carry cursor overrides and table filters, which are loggable;
// anything credential-shaped is not.
var redactedParams = []string{"token", "secret", "password", "key", "api_key"}

func sensitiveParam(name string) bool {
	name = strings.ToLower(name)
	for _, p := range redactedParams {
		if name == p || strings.HasSuffix(name, "_"+p) {
			return true
		}
	}
	return false
}

// redactQuery rewrites a raw query string with credential-shaped values
// masked. Queries that do not parse are dropped rather than logged raw.
func redactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "[UNPARSEABLE]"
	}

	changed := false
	for name := range values {
		if sensitiveParam(name) {
			values[name] = []string{"[REDACTED]"}
			changed = true
		}
	}
	if !changed {
		return rawQuery
	}
	return values.Encode()
}

// RequestLogger logs one line per request. Requests against an organization
// route carry the org id from the path, and handler errors recorded on the
// context are included. The level follows the response status.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if route := c.FullPath(); route != "" {
			event = event.Str("route", route)
		}
		if orgID := c.Param("id"); orgID != "" {
			event = event.Str("org_id", orgID)
		}
		if query := redactQuery(c.Request.URL.RawQuery); query != "" {
			event = event.Str("query", query)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("request")
	}
}
