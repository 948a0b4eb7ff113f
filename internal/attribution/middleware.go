package attribution

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
)

// Capture records ad parameters from landing-page requests into cookies.
func Capture(logger *logging.LoggerV2) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			if attr, ok := FromQuery(c.Request.URL.Query()); ok {
				if err := WriteCookies(c.Writer, attr, time.Now()); err != nil {
					logger.Warn("Failed to store attribution cookies", logging.Fields{"error": err})
				} else {
					logger.Debug("Ad source captured", logging.Fields{
						"params": len(attr),
						"path":   c.Request.URL.Path,
					})
				}
			}
		}
		c.Next()
	}
}
