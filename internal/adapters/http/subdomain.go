package http

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/syncfm/resolver/internal/config"
	"github.com/syncfm/resolver/internal/ports"
)

// reservedPrefixes are never rewritten by the subdomain router, so internal
// API calls, framework assets and well-known files keep working on aliased
// hosts without redirect loops.
var reservedPrefixes = []string{
	"/api/",
	"/swagger/",
	"/.well-known/",
	"/health",
	"/to/",
	"/s/",
	"/_assets/",
}

// singleSlashScheme repairs the common case where one slash of the embedded
// URL's scheme was collapsed in transit ("https:/open.spotify.com/...").
var singleSlashScheme = regexp.MustCompile(`^(https?):/([^/])`)

// SubdomainRouter classifies every inbound request by host and path before
// normal routing. Aliased subdomains turn their path into a resolution call
// for the aliased provider; the bare root intercepts only embedded external
// URLs. Everything else passes through unmodified, and any classification
// failure fails open to routing: the request proceeds as if unclassified.
type SubdomainRouter struct {
	engine  *gin.Engine
	catalog ports.CatalogService
	root    string
	logger  zerolog.Logger
}

// NewSubdomainRouter creates the router middleware host. root is the bare
// local root domain, including the port when one is used locally.
func NewSubdomainRouter(engine *gin.Engine, catalog ports.CatalogService, root string, logger zerolog.Logger) *SubdomainRouter {
	return &SubdomainRouter{
		engine:  engine,
		catalog: catalog,
		root:    root,
		logger:  logger,
	}
}

// Middleware returns the gin handler to install as the outermost middleware.
func (sr *SubdomainRouter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := subdomainLabel(c.Request.Host, sr.root)

		if sub != "" && sub != "www" {
			sr.routeSubdomain(c, sub)
			return
		}
		sr.routeRoot(c)
	}
}

// routeSubdomain maps an aliased host onto the per-service resolution
// endpoint. Reserved paths and unknown subdomains pass through.
func (sr *SubdomainRouter) routeSubdomain(c *gin.Context, sub string) {
	path := c.Request.URL.EscapedPath()
	if hasReservedPrefix(path) {
		c.Next()
		return
	}

	var serviceParam string
	if svc, ok := config.SubdomainAliases[sub]; ok {
		serviceParam = string(svc)
	} else if sub == config.IdentityAlias {
		serviceParam = config.IdentityAlias
	} else {
		c.Next()
		return
	}

	embedded := decodeEmbeddedURL(path, c.Request.URL.RawQuery)

	q := url.Values{}
	q.Set("url", embedded)
	c.Request.URL.Path = "/to/" + serviceParam
	c.Request.URL.RawQuery = q.Encode()

	// Re-dispatch: /to/ is reserved, so re-entry passes straight through.
	sr.engine.HandleContext(c)
	c.Abort()
}

// routeRoot intercepts only embedded external URLs on the bare root. Type
// detection failures pass the request through rather than erroring.
func (sr *SubdomainRouter) routeRoot(c *gin.Context) {
	path := c.Request.URL.EscapedPath()
	if !strings.HasPrefix(path, "/http") {
		c.Next()
		return
	}

	embedded := decodeEmbeddedURL(path, c.Request.URL.RawQuery)

	t, err := sr.catalog.DetectEntityType(c.Request.Context(), embedded)
	if err != nil {
		sr.logger.Debug().Err(err).Str("url", embedded).Msg("type detection failed, passing through")
		c.Next()
		return
	}

	c.Redirect(http.StatusFound, "/"+string(t)+"?url="+url.QueryEscape(embedded))
	c.Abort()
}

// subdomainLabel derives the subdomain from a host header. In order: the
// bare root has none; a host under the root's suffix with at least two
// labels contributes its first label; any host with at least three labels
// contributes its first label; everything else has none.
func subdomainLabel(host, root string) string {
	if host == root {
		return ""
	}
	if strings.HasSuffix(host, "."+root) {
		if labels := strings.Split(host, "."); len(labels) >= 2 {
			return labels[0]
		}
	}
	if labels := strings.Split(host, "."); len(labels) >= 3 {
		return labels[0]
	}
	return ""
}

func hasReservedPrefix(path string) bool {
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// decodeEmbeddedURL reassembles the external URL carried in the path plus
// query string, percent-decodes it and repairs a collapsed scheme slash.
func decodeEmbeddedURL(escapedPath, rawQuery string) string {
	raw := strings.TrimPrefix(escapedPath, "/")
	if rawQuery != "" {
		raw += "?" + rawQuery
	}
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	return singleSlashScheme.ReplaceAllString(raw, "$1://$2")
}
