package observability

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	unmatchedRoute  = "unmatched"
)

// AccessLog tags every status request with an id, logs it and counts it by
// route. Successful hits on quiet routes (health checks, scrapes) log at
// trace level.
func AccessLog(logger zerolog.Logger, quiet ...string) gin.HandlerFunc {
	quietRoutes := make(map[string]struct{}, len(quiet))
	for _, route := range quiet {
		quietRoutes[route] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		id := requestID(c.GetHeader(RequestIDHeader))
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		RecordHTTPRequest(c.Request.Method, route, status, elapsed)

		_, isQuiet := quietRoutes[route]
		event := logger.Debug()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case isQuiet:
			event = logger.Trace()
		}
		event.
			Str("request_id", id).
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Bool("bearer", strings.HasPrefix(c.GetHeader("Authorization"), "Bearer ")).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("status.http_request")
	}
}

// RequestID returns the id AccessLog assigned to the request, if any.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// requestID keeps a caller-supplied UUID and mints one otherwise.
func requestID(incoming string) string {
	if id, err := uuid.Parse(strings.TrimSpace(incoming)); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
