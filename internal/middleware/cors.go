package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Webhook-Secret"
)

// Origins is a parsed CORS allow-list. The zero value and "*" allow every origin.
type Origins struct {
	any     bool
	allowed map[string]struct{}
	list    []string
}

// ParseOrigins reads a comma-separated allow-list such as "http://localhost:3000,https://app.example".
// Origins compare case-insensitively and without a trailing slash.
func ParseOrigins(s string) Origins {
	o := Origins{allowed: make(map[string]struct{})}
	for _, raw := range strings.Split(s, ",") {
		origin := normalizeOrigin(raw)
		if origin == "" {
			continue
		}
		if origin == "*" {
			o.any = true
		}
		if _, dup := o.allowed[origin]; !dup {
			o.allowed[origin] = struct{}{}
			o.list = append(o.list, origin)
		}
	}
	if len(o.list) == 0 {
		o.any = true
	}
	return o
}

// Allows reports whether a browser origin may call the API.
func (o Origins) Allows(origin string) bool {
	if o.any || len(o.allowed) == 0 {
		return true
	}
	_, ok := o.allowed[normalizeOrigin(origin)]
	return ok
}

// Wildcard reports whether every origin is allowed.
func (o Origins) Wildcard() bool { return o.any || len(o.allowed) == 0 }

// List returns the configured origins in their original order.
func (o Origins) List() []string { return append([]string(nil), o.list...) }

func normalizeOrigin(s string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(s), "/"))
}

// CORS answers preflight requests and tags responses for allowed browser origins. Requests
// without an Origin header are not cross-origin and pass through untouched. A preflight
// from an origin outside the list is refused with 403.
func CORS(origins Origins, maxAge time.Duration) gin.HandlerFunc {
	age := strconv.Itoa(int(maxAge / time.Second))
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
		if !origins.Allows(origin) {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		if origins.Wildcard() {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}
		if preflight {
			c.Header("Access-Control-Allow-Methods", corsAllowMethods)
			c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			if maxAge > 0 {
				c.Header("Access-Control-Max-Age", age)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
