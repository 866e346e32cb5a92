package observability

import (
	"time"

	"github.com/gin-gonic/gin"
)

// observe records every admin request as a metric sample and one log record
// tagged with the core it reports on. Failed requests log above debug,
// except a not-ready probe.
func (a *Admin) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		took := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		a.metrics.RecordHTTPRequest(a.core, c.Request.Method, route, status, took)

		event := a.log.Debug()
		switch {
		case status == 503 && route == "/ready":
		case status >= 500:
			event = a.log.Error()
		case status >= 400:
			event = a.log.Warn()
		}
		event.
			Str("core", a.core).
			Str("route", route).
			Int("status", status).
			Dur("took", took).
			Msg("admin request")
	}
}
