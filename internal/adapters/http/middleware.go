package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/syncfm/resolver/internal/apikey"
	"github.com/syncfm/resolver/internal/app"
	"github.com/syncfm/resolver/internal/domain"
)

// Context keys set by Authenticate.
const (
	ctxKeyID = "api_key_id"
	ctxTier  = "api_key_tier"
)

// Authenticate resolves an optional API key on the request. Requests without
// a key proceed anonymously on the free tier, identified by client IP.
// A presented key must verify against an active record; the credential store
// being unreachable fails closed, since a key cannot be verified if its
// record cannot be read.
func (h *Handler) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := apikey.ExtractKey(c)
		if key == "" {
			c.Next()
			return
		}

		if !apikey.IsValidFormat(key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_key",
				Message: "malformed API key",
			})
			return
		}

		records, err := h.creds.ListActive(c.Request.Context())
		if err != nil {
			h.logger.Error().Err(err).Msg("credential store unreachable")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
				Error:   "auth_unavailable",
				Message: "key verification is temporarily unavailable",
			})
			return
		}

		for _, rec := range records {
			if apikey.Verify(key, rec.KeyHash) {
				c.Set(ctxKeyID, rec.ID)
				c.Set(ctxTier, rec.Tier)
				c.Request = c.Request.WithContext(app.WithUsageKeyID(c.Request.Context(), rec.ID))
				h.touchKey(rec.ID)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_key",
			Message: "unknown API key",
		})
	}
}

// RequireKey gates administrative routes on a verified API key.
func (h *Handler) RequireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ctxKeyID); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: "an API key is required",
			})
			return
		}
		c.Next()
	}
}

// RateLimit admits or rejects the request under the caller's fixed-window
// quota. The limiter fails open on store outages, so this middleware can
// only reject over-quota callers, never block on infrastructure failure.
func (h *Handler) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier, tier := callerIdentity(c)
		limit := h.cfg.LimitForTier(tier)

		res := h.limiter.Check(c.Request.Context(), identifier, limit, h.cfg.RateLimitWindow)
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Success {
			c.Header("Retry-After", strconv.FormatInt(int64(time.Until(res.ResetAt).Seconds())+1, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate_limit_exceeded",
				Message: "too many requests, try again later",
			})
			return
		}
		c.Next()
	}
}

// callerIdentity derives the rate-limit identifier and tier for a request:
// the key record id for authenticated callers, the client IP otherwise.
func callerIdentity(c *gin.Context) (string, domain.Tier) {
	if id, ok := c.Get(ctxKeyID); ok {
		tier := domain.TierFree
		if t, ok := c.Get(ctxTier); ok {
			tier = t.(domain.Tier)
		}
		return id.(string), tier
	}
	return "ip:" + c.ClientIP(), domain.TierFree
}

// touchKey updates a key's last-used timestamp in the background; failures
// are logged and dropped.
func (h *Handler) touchKey(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.creds.Touch(ctx, id, time.Now().UTC()); err != nil {
			h.logger.Debug().Err(err).Str("key_id", id).Msg("key touch dropped")
		}
	}()
}
