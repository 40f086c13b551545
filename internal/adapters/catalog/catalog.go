// Package catalog implements the HTTP client for the Catalog Conversion
// Service, the external component that performs actual per-provider lookups
// and conversions. The core only ever talks to it through ports.CatalogService.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/syncfm/resolver/internal/domain"
	"github.com/syncfm/resolver/internal/ports"
)

// Client talks to the catalog service over HTTP with a bearer token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a catalog client. If httpClient is nil, a client with a
// 15 second timeout is used so no catalog call can block indefinitely.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, token: token, client: httpClient}
}

// -- API payload types (internal) --------------------------------------------

type detectResponse struct {
	Type string `json:"type"`
}

type entityPayload struct {
	SyncID      string                                `json:"sync_id"`
	Type        string                                `json:"type"`
	Title       string                                `json:"title"`
	Artist      string                                `json:"artist"`
	ExternalIDs map[string]string                     `json:"external_ids"`
	Errors      map[string]conversionErrorPayload     `json:"conversion_errors"`
	Warnings    map[string]conversionWarningPayload   `json:"conversion_warnings"`
}

type conversionErrorPayload struct {
	LastAttempt time.Time `json:"last_attempt"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error"`
	Retryable   bool      `json:"retryable"`
	ErrorType   string    `json:"error_type"`
}

type conversionWarningPayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type resolveRequest struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type convertRequest struct {
	Target string `json:"target"`
}

func (p *entityPayload) toDomain() *domain.Entity {
	e := &domain.Entity{
		SyncID:      p.SyncID,
		Type:        domain.EntityType(p.Type),
		Title:       p.Title,
		Artist:      p.Artist,
		ExternalIDs: domain.ExternalIDMap{},
	}
	for svc, id := range p.ExternalIDs {
		e.ExternalIDs[domain.Service(svc)] = id
	}
	for svc, entry := range p.Errors {
		if e.Errors == nil {
			e.Errors = map[domain.Service]domain.ConversionError{}
		}
		e.Errors[domain.Service(svc)] = domain.ConversionError{
			LastAttempt: entry.LastAttempt,
			Attempts:    entry.Attempts,
			LastError:   entry.LastError,
			Retryable:   entry.Retryable,
			ErrorType:   entry.ErrorType,
		}
	}
	for svc, entry := range p.Warnings {
		if e.Warnings == nil {
			e.Warnings = map[domain.Service]domain.ConversionWarning{}
		}
		e.Warnings[domain.Service(svc)] = domain.ConversionWarning{
			Message:   entry.Message,
			Timestamp: entry.Timestamp,
		}
	}
	return e
}

// -- CatalogService implementation -------------------------------------------

func (c *Client) DetectEntityType(ctx context.Context, rawURL string) (domain.EntityType, error) {
	endpoint := fmt.Sprintf("%s/v1/detect?url=%s", c.baseURL, url.QueryEscape(rawURL))

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("catalog: detect entity type: %w", err)
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("catalog: failed to parse detect response: %w", err)
	}

	t, ok := domain.ParseEntityType(resp.Type)
	if !ok {
		return "", ports.ErrUnresolvable
	}
	return t, nil
}

func (c *Client) FetchEntityFromURL(ctx context.Context, rawURL string, t domain.EntityType) (*domain.Entity, error) {
	payload, _ := json.Marshal(resolveRequest{URL: rawURL, Type: string(t)})
	endpoint := c.baseURL + "/v1/entities/resolve"

	body, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch entity from url: %w", err)
	}
	return c.parseEntity(body)
}

func (c *Client) FetchEntity(ctx context.Context, syncID string, t domain.EntityType) (*domain.Entity, error) {
	endpoint := fmt.Sprintf("%s/v1/entities/%s/%s", c.baseURL, url.PathEscape(string(t)), url.PathEscape(syncID))

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch entity %s/%s: %w", t, syncID, err)
	}
	return c.parseEntity(body)
}

func (c *Client) FetchEntityByShortToken(ctx context.Context, token string, t domain.EntityType) (*domain.Entity, error) {
	endpoint := fmt.Sprintf("%s/v1/entities/%s/by-token/%s", c.baseURL, url.PathEscape(string(t)), url.PathEscape(token))

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch entity by token: %w", err)
	}
	return c.parseEntity(body)
}

func (c *Client) ConvertEntity(ctx context.Context, entity *domain.Entity, target domain.Service) (*domain.Entity, error) {
	payload, _ := json.Marshal(convertRequest{Target: string(target)})
	endpoint := fmt.Sprintf("%s/v1/entities/%s/convert", c.baseURL, url.PathEscape(entity.SyncID))

	body, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("catalog: convert entity %s to %s: %w", entity.SyncID, target, err)
	}
	return c.parseEntity(body)
}

// BuildProviderURL derives the canonical provider URL for an entity from its
// external id map. An empty string means the provider has no usable id yet.
func (c *Client) BuildProviderURL(entity *domain.Entity, svc domain.Service) string {
	if entity == nil {
		return ""
	}
	id := entity.ExternalIDs[svc]
	if id == "" {
		return ""
	}

	switch svc {
	case domain.ServiceSpotify:
		switch entity.Type {
		case domain.EntityTypeSong:
			return "https://open.spotify.com/track/" + id
		case domain.EntityTypeAlbum:
			return "https://open.spotify.com/album/" + id
		case domain.EntityTypeArtist:
			return "https://open.spotify.com/artist/" + id
		}
	case domain.ServiceYTMusic:
		switch entity.Type {
		case domain.EntityTypeSong:
			return "https://music.youtube.com/watch?v=" + id
		case domain.EntityTypeAlbum:
			return "https://music.youtube.com/playlist?list=" + id
		case domain.EntityTypeArtist:
			return "https://music.youtube.com/channel/" + id
		}
	case domain.ServiceAppleMusic:
		switch entity.Type {
		case domain.EntityTypeSong:
			return "https://music.apple.com/song/" + id
		case domain.EntityTypeAlbum:
			return "https://music.apple.com/album/" + id
		case domain.EntityTypeArtist:
			return "https://music.apple.com/artist/" + id
		}
	}
	return ""
}

// -- HTTP plumbing ------------------------------------------------------------

func (c *Client) parseEntity(body []byte) (*domain.Entity, error) {
	var payload entityPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("catalog: failed to parse entity response: %w", err)
	}
	return payload.toDomain(), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ports.ErrNotFound
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, ports.ErrUnresolvable
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
