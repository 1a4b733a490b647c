package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	headerUserID         = "X-User-ID"
	headerUserRoles      = "X-User-Roles"
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"

	identityKey = "identity"
)

// requestID echoes the caller's request id or assigns one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(headerRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// accessLog writes one line per request.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetString(headerRequestID)).
			Str("trace_id", traceID(c.Request.Context())).
			Msg("request")
	}
}

// authenticated reads the identity the gateway established. Requests without
// one are rejected with 401.
func authenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(headerUserID))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthenticated.Error()})
			return
		}

		var roles []string
		for _, r := range strings.Split(c.GetHeader(headerUserRoles), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, strings.ToUpper(r))
			}
		}
		c.Set(identityKey, Identity{UserID: userID, Roles: roles})
		c.Next()
	}
}

func identityFrom(c *gin.Context) Identity {
	id, _ := c.Get(identityKey)
	identity, _ := id.(Identity)
	return identity
}
