package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"EscrowSettle/internal/auth"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors   = make(map[string]*visitor)
	visitorsMu sync.Mutex

	// Limits per endpoint group
	authLimit       = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	settlementLimit = rate.Limit(100.0 / 60.0)  // 100 requests per minute
	queryLimit      = rate.Limit(1000.0 / 60.0) // 1000 requests per minute
)

func init() {
	go cleanupVisitors()
}

func getLimiter(path, clientID string) *rate.Limiter {
	visitorsMu.Lock()
	defer visitorsMu.Unlock()

	key := clientID + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = authLimit
		case path == "/api/v1/settlements/cross" || path == "/api/v1/settlements/same":
			limit = settlementLimit
		default:
			limit = queryLimit
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, 5),
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		visitorsMu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		visitorsMu.Unlock()
	}
}

// RateLimit throttles per caller and path. Authenticated callers are
// keyed by account, anonymous ones by client IP.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("account_id")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		limiter := getLimiter(c.FullPath(), clientID)
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, Response{
				Success: false,
				Error:   &Error{Code: ErrCodeBadRequest, Message: "Rate limit exceeded. Please try again later."},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates the bearer token and puts the caller's account
// identity and role into the request context.
func JWTAuth(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(bearerToken[1])
		if err != nil {
			Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		account, err := claims.AccountUUID()
		if err != nil {
			Unauthorized(c, "Invalid account in token")
			c.Abort()
			return
		}

		c.Set("account_id", claims.AccountID)
		c.Set("account", account)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireOperator gates routes on the operator role claim. The engine
// re-checks the caller against the live guard, so a stale operator
// token still cannot settle after an operator transfer.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != auth.RoleOperator {
			Forbidden(c, "Operator role required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// callerAccount pulls the authenticated account set by JWTAuth.
func callerAccount(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get("account")
	if !ok {
		return uuid.Nil, false
	}
	account, ok := v.(uuid.UUID)
	return account, ok
}
