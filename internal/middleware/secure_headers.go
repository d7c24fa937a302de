package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// SecureHeadersConfig contains configuration for secure headers
type SecureHeadersConfig struct {
	UseHSTS               bool
	HSTSMaxAge            time.Duration
	HSTSIncludeSubdomains bool

	XFrameOptions  string
	ReferrerPolicy string
	// NoStorePaths are answered with caching disabled
	NoStorePaths map[string]bool
}

// DefaultSecureHeadersConfig returns the default secure headers configuration.
// HSTS is only sent in production.
func DefaultSecureHeadersConfig(environment string) SecureHeadersConfig {
	return SecureHeadersConfig{
		UseHSTS:               environment == "production",
		HSTSMaxAge:            365 * 24 * time.Hour,
		HSTSIncludeSubdomains: true,
		XFrameOptions:         "DENY",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		NoStorePaths: map[string]bool{
			"/api/auth/login":            true,
			"/api/auth/register":         true,
			"/api/auth/me":               true,
			"/api/auth/refresh":          true,
			"/api/users/change-password": true,
		},
	}
}

// SecureHeadersMiddleware adds security headers to responses
func SecureHeadersMiddleware(config SecureHeadersConfig) gin.HandlerFunc {
	hsts := "max-age=" + strconv.FormatInt(int64(config.HSTSMaxAge.Seconds()), 10)
	if config.HSTSIncludeSubdomains {
		hsts += "; includeSubDomains"
	}

	return func(c *gin.Context) {
		if config.UseHSTS {
			c.Header("Strict-Transport-Security", hsts)
		}
		c.Header("X-Frame-Options", config.XFrameOptions)
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", config.ReferrerPolicy)

		if config.NoStorePaths[c.Request.URL.Path] {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Header("Pragma", "no-cache")
		}

		c.Next()
	}
}
