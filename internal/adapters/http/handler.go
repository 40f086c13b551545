package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/syncfm/resolver/internal/apikey"
	"github.com/syncfm/resolver/internal/app"
	"github.com/syncfm/resolver/internal/config"
	"github.com/syncfm/resolver/internal/domain"
	"github.com/syncfm/resolver/internal/ports"
	"github.com/syncfm/resolver/internal/ratelimit"
)

// maxBatchSize bounds a single batch conversion request.
const maxBatchSize = 50

// Handler holds the HTTP handlers wrapping the conversion core.
type Handler struct {
	service ports.ConversionService
	creds   ports.CredentialStore
	limiter *ratelimit.Limiter
	cfg     *config.Config
	logger  zerolog.Logger
}

// NewHandler creates a new HTTP handler over the given core components.
func NewHandler(service ports.ConversionService, creds ports.CredentialStore, limiter *ratelimit.Limiter, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		creds:   creds,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
	}
}

// RegisterRoutes sets up all API routes on the given Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	r.GET("/to/:service", h.Authenticate(), h.RateLimit(), h.ResolveService)
	r.GET("/s/:code", h.ResolveShortcode)

	api := r.Group("/api/v1", h.Authenticate(), h.RateLimit())
	{
		api.GET("/detect", h.Detect)
		api.POST("/convert", h.Convert)
		api.POST("/convert/batch", h.ConvertBatch)
		api.GET("/entities", h.GetEntity)
		api.GET("/ratelimit", h.RateLimitStatus)

		admin := api.Group("", h.RequireKey())
		{
			admin.GET("/keys", h.ListKeys)
			admin.POST("/keys", h.CreateKey)
			admin.DELETE("/keys/:id", h.DeactivateKey)
			admin.DELETE("/ratelimit/:identifier", h.ResetRateLimit)
		}
	}
}

// Health returns a simple health check response.
//
//	@Summary		Health check
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	map[string]string
//	@Router			/health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Detect detects the entity type of an external URL and converts it.
//
//	@Summary		Detect and convert a streaming URL
//	@Description	Detects the entity type of the given URL and converts it to the
//	@Description	target provider. Defaults to the configured default provider.
//	@Tags			conversion
//	@Produce		json
//	@Param			url		query		string	true	"External streaming URL"
//	@Param			target	query		string	false	"Target provider"	Enums(spotify, ytmusic, applemusic)
//	@Success		200	{object}	domain.ConvertResult
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/detect [get]
func (h *Handler) Detect(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "query parameter 'url' is required",
		})
		return
	}

	target := h.cfg.DefaultConversionService
	if raw := c.Query("target"); raw != "" {
		svc, ok := domain.ParseService(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_service",
				Message: "unknown target service: " + raw,
			})
			return
		}
		target = svc
	}

	result, err := h.service.DetectAndConvert(c.Request.Context(), rawURL, target)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Convert converts an entity reference to one target provider.
//
//	@Summary		Convert an entity
//	@Description	Converts the given input to the requested provider. A response
//	@Description	with url null means the conversion ran but no equivalent exists
//	@Description	yet on that provider; this is not an error.
//	@Tags			conversion
//	@Accept			json
//	@Produce		json
//	@Param			request	body		domain.ConvertRequest	true	"Conversion request"
//	@Success		200	{object}	domain.ConvertResult
//	@Failure		400	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/convert [post]
func (h *Handler) Convert(c *gin.Context) {
	var req domain.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "invalid request body: " + err.Error(),
		})
		return
	}

	result, err := h.service.Convert(c.Request.Context(), req)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// BatchRequest is the payload of a batch conversion.
type BatchRequest struct {
	Requests []domain.ConvertRequest `json:"requests"`
}

// ConvertBatch converts several entity references concurrently.
//
//	@Summary		Convert a batch of entities
//	@Description	Fans the conversions out over a bounded worker pool. Items are
//	@Description	returned in input order; a failed item never aborts its batch.
//	@Tags			conversion
//	@Accept			json
//	@Produce		json
//	@Param			request	body		BatchRequest	true	"Batch of conversion requests"
//	@Success		200	{object}	map[string][]ports.BatchItem
//	@Failure		400	{object}	ErrorResponse
//	@Router			/api/v1/convert/batch [post]
func (h *Handler) ConvertBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "invalid request body: " + err.Error(),
		})
		return
	}
	if len(req.Requests) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "requests must not be empty",
		})
		return
	}
	if len(req.Requests) > maxBatchSize {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "batch_too_large",
			Message: "a batch may contain at most 50 requests",
		})
		return
	}

	items := h.service.ConvertBatch(c.Request.Context(), req.Requests)
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetEntity returns a stored entity with its normalized outcome.
//
//	@Summary		Get a stored entity
//	@Tags			entities
//	@Produce		json
//	@Param			syncId	query		string	true	"Entity sync id"
//	@Param			type	query		string	true	"Entity type"	Enums(song, album, artist, playlist)
//	@Success		200	{object}	map[string]any
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/v1/entities [get]
func (h *Handler) GetEntity(c *gin.Context) {
	syncID := c.Query("syncId")
	rawType := c.Query("type")
	if syncID == "" || rawType == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "query parameters 'syncId' and 'type' are required",
		})
		return
	}
	entityType, ok := domain.ParseEntityType(rawType)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_type",
			Message: "unknown entity type: " + rawType,
		})
		return
	}

	entity, out, err := h.service.GetEntity(c.Request.Context(), syncID, entityType)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity": entity, "outcome": out})
}

// ResolveService converts ?url= to the provider named in the path and
// redirects to the result. The reserved identity alias returns the converted
// data as JSON instead, using the configured default provider.
//
//	@Summary		Resolve a URL for a provider
//	@Tags			conversion
//	@Produce		json
//	@Param			service	path		string	true	"Provider name, alias or the identity alias"
//	@Param			url		query		string	true	"External streaming URL"
//	@Success		302
//	@Success		200	{object}	domain.ConvertResult
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/to/{service} [get]
func (h *Handler) ResolveService(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "query parameter 'url' is required",
		})
		return
	}

	param := c.Param("service")
	identity := param == config.IdentityAlias

	var target domain.Service
	switch {
	case identity:
		target = h.cfg.DefaultConversionService
	default:
		svc, ok := domain.ParseService(param)
		if !ok {
			svc, ok = config.SubdomainAliases[param]
		}
		if !ok {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_service",
				Message: "unknown service: " + param,
			})
			return
		}
		target = svc
	}

	result, err := h.service.DetectAndConvert(c.Request.Context(), rawURL, target)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	if identity || result.URL == nil {
		c.JSON(http.StatusOK, result)
		return
	}
	c.Redirect(http.StatusFound, *result.URL)
}

// ResolveShortcode resolves a shortcode and always redirects: to the in-app
// viewer on success, to the error page with an errorType tag otherwise.
//
//	@Summary		Resolve a shortcode
//	@Tags			conversion
//	@Param			code	path	string	true	"Shortcode token"
//	@Success		302
//	@Router			/s/{code} [get]
func (h *Handler) ResolveShortcode(c *gin.Context) {
	res := h.service.ResolveShortcode(c.Request.Context(), c.Param("code"))
	c.Redirect(http.StatusFound, res.Location)
}

// RateLimitStatus reports the caller's current quota without consuming it.
//
//	@Summary		Rate limit status
//	@Tags			ratelimit
//	@Produce		json
//	@Success		200	{object}	ratelimit.Result
//	@Router			/api/v1/ratelimit [get]
func (h *Handler) RateLimitStatus(c *gin.Context) {
	identifier, tier := callerIdentity(c)
	res := h.limiter.Status(c.Request.Context(), identifier, h.cfg.LimitForTier(tier), h.cfg.RateLimitWindow)
	c.JSON(http.StatusOK, res)
}

// ResetRateLimit clears every window counter for an identifier.
//
//	@Summary		Reset rate limit counters
//	@Tags			ratelimit
//	@Produce		json
//	@Param			identifier	path	string	true	"Rate limit identifier"
//	@Success		200	{object}	map[string]int
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/ratelimit/{identifier} [delete]
func (h *Handler) ResetRateLimit(c *gin.Context) {
	deleted, err := h.limiter.Reset(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "failed to reset rate limit",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// CreateKeyRequest is the payload for creating an API key.
type CreateKeyRequest struct {
	Name string `json:"name" binding:"required"`
	Tier string `json:"tier"`
}

// CreateKey generates a new API key. The plaintext appears in this response
// exactly once and is never recoverable afterwards.
//
//	@Summary		Create an API key
//	@Tags			keys
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CreateKeyRequest	true	"Key name and tier"
//	@Success		201	{object}	map[string]any
//	@Failure		400	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/keys [post]
func (h *Handler) CreateKey(c *gin.Context) {
	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "field 'name' is required",
		})
		return
	}

	tier := domain.TierFree
	if req.Tier != "" {
		switch domain.Tier(req.Tier) {
		case domain.TierFree, domain.TierPro, domain.TierEnterprise:
			tier = domain.Tier(req.Tier)
		default:
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_tier",
				Message: "unknown tier: " + req.Tier,
			})
			return
		}
	}

	generated, err := apikey.Generate()
	if err != nil {
		h.logger.Error().Err(err).Msg("api key generation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "failed to generate key",
		})
		return
	}

	rec := domain.APIKeyRecord{
		ID:        uuid.NewString(),
		Name:      req.Name,
		KeyHash:   generated.Hash,
		KeyPrefix: generated.DisplayPrefix,
		Tier:      tier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.creds.Insert(c.Request.Context(), rec); err != nil {
		h.logger.Error().Err(err).Str("key_id", rec.ID).Msg("api key insert failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "failed to store key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"key": generated.Key, "record": rec})
}

// ListKeys returns the active key records (hashes are never serialized).
//
//	@Summary		List active API keys
//	@Tags			keys
//	@Produce		json
//	@Success		200	{array}		domain.APIKeyRecord
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/keys [get]
func (h *Handler) ListKeys(c *gin.Context) {
	records, err := h.creds.ListActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "failed to list keys",
		})
		return
	}
	c.JSON(http.StatusOK, records)
}

// DeactivateKey soft-deletes an API key.
//
//	@Summary		Deactivate an API key
//	@Tags			keys
//	@Param			id	path	string	true	"Key record id"
//	@Success		204
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/v1/keys/{id} [delete]
func (h *Handler) DeactivateKey(c *gin.Context) {
	if err := h.creds.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "no such key",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "failed to deactivate key",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeServiceError maps orchestrator errors onto the error taxonomy:
// validation errors carry their reason tag with 400, resolution errors are
// 404s, anything else is a generic internal error whose detail lives only
// in the logs.
func (h *Handler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrMissingFields):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing_fields", Message: err.Error()})
	case errors.Is(err, app.ErrInvalidType):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_type", Message: err.Error()})
	case errors.Is(err, app.ErrInvalidService):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_service", Message: err.Error()})
	case errors.Is(err, ports.ErrUnresolvable):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unresolvable", Message: "the reference could not be resolved"})
	case errors.Is(err, ports.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "entity not found"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "conversion failed"})
	}
}
