package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSConfig lists the browser origins allowed to call the control API.
// An entry ending in "*" matches any origin with that prefix, so
// "chrome-extension://*" admits every extension.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
	AllowedHeaders []string `yaml:"allowedHeaders"`
	MaxAge         string   `yaml:"maxAge"`
}

// CORSMiddleware answers preflights and sets CORS headers for allowed origins.
// Requests without an Origin header pass through untouched.
func CORSMiddleware(cfg CORSConfig) gin.HandlerFunc {
	allowedHeaders := strings.Join(cfg.AllowedHeaders, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !originAllowed(origin, cfg.AllowedOrigins) {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if allowedHeaders != "" {
			h.Set("Access-Control-Allow-Headers", allowedHeaders)
		}
		h.Set("Access-Control-Expose-Headers", traceIDHeader+", "+requestIDHeader)
		if cfg.MaxAge != "" {
			h.Set("Access-Control-Max-Age", cfg.MaxAge)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, item := range allowed {
		item = strings.TrimSpace(item)
		switch {
		case item == "":
		case item == "*":
			return true
		case strings.HasSuffix(item, "*"):
			if strings.HasPrefix(strings.ToLower(origin), strings.ToLower(strings.TrimSuffix(item, "*"))) {
				return true
			}
		case strings.EqualFold(item, origin):
			return true
		}
	}
	return false
}
