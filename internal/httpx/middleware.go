package httpx

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/metrics"
)

// CORS lets the browser UI talk to the gateway from another origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// AccessLog logs one line per request and records its metrics.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		took := time.Since(start)
		metrics.ObserveHTTP(c.Request.Method, route, status, took)

		log := jww.DEBUG
		if status >= http.StatusInternalServerError {
			log = jww.WARN
		}
		log.Printf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, took.Round(time.Millisecond))
	}
}

// statusOf maps the error taxonomy to HTTP.
func statusOf(err error) int {
	if errors.Is(err, errs.ErrInvalidTransition) {
		return http.StatusConflict
	}
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuth:
		return http.StatusUnauthorized
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindNetwork:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abort(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		jww.ERROR.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": err.Error(),
		"kind":  errs.KindOf(err).String(),
	})
}
