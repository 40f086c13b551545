package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncfm/resolver/internal/domain"
	"github.com/syncfm/resolver/internal/outcome"
	"github.com/syncfm/resolver/internal/ports"
	"github.com/syncfm/resolver/internal/shortcode"
)

// Validation errors. These are rejected at the boundary before any catalog
// call is made; the handler maps each onto a machine-readable reason tag.
var (
	ErrMissingFields  = errors.New("service, input and type are required")
	ErrInvalidType    = errors.New("unrecognized entity type")
	ErrInvalidService = errors.New("unrecognized service")
)

// errorPagePath is the UI error route shortcode failures redirect to. The
// page itself is external; the core only classifies and forwards parameters.
const errorPagePath = "/error"

// Service implements ports.ConversionService. It decides, per entity type,
// which catalog operation to invoke and how to shape the result; it never
// retries and never leaks catalog error detail past its own logs.
type Service struct {
	catalog        ports.CatalogService
	usage          ports.UsageRecorder
	logger         zerolog.Logger
	defaultService domain.Service
	workers        int
}

// NewService creates the conversion orchestrator. defaultService is the
// provider used when the identity alias asks for a conversion without naming
// one. usage may be nil to disable usage recording.
func NewService(catalog ports.CatalogService, usage ports.UsageRecorder, logger zerolog.Logger, defaultService domain.Service, workers int) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		catalog:        catalog,
		usage:          usage,
		logger:         logger,
		defaultService: defaultService,
		workers:        workers,
	}
}

// DefaultService exposes the configured identity-alias conversion target.
func (s *Service) DefaultService() domain.Service {
	return s.defaultService
}

func (s *Service) DetectAndConvert(ctx context.Context, rawURL string, target domain.Service) (*domain.ConvertResult, error) {
	t, err := s.catalog.DetectEntityType(ctx, rawURL)
	if err != nil {
		if errors.Is(err, ports.ErrUnresolvable) {
			return nil, ports.ErrUnresolvable
		}
		s.logger.Error().Err(err).
			Str("url", rawURL).
			Str("stage", "detect").
			Msg("entity type detection failed")
		return nil, fmt.Errorf("detect entity type: %w", err)
	}

	return s.Convert(ctx, domain.ConvertRequest{
		Service: string(target),
		Input:   rawURL,
		Type:    string(t),
	})
}

func (s *Service) Convert(ctx context.Context, req domain.ConvertRequest) (*domain.ConvertResult, error) {
	if req.Service == "" || req.Input == "" || req.Type == "" {
		return nil, ErrMissingFields
	}

	entityType, ok := domain.ParseEntityType(req.Type)
	if !ok {
		return nil, ErrInvalidType
	}

	// Playlists are a recognized type with no conversion support. This is
	// policy: the result is a successful "no URL" for every service, and
	// the catalog is never called.
	if entityType == domain.EntityTypePlaylist {
		return &domain.ConvertResult{
			URL: nil,
			Warning: &domain.ConversionWarning{
				Message:   "playlist conversion is not supported",
				Timestamp: time.Now().UTC(),
			},
		}, nil
	}

	target, ok := domain.ParseService(req.Service)
	if !ok {
		return nil, ErrInvalidService
	}

	entity, err := s.catalog.FetchEntityFromURL(ctx, req.Input, entityType)
	if err != nil {
		s.logger.Error().Err(err).
			Str("input", req.Input).
			Str("service", string(target)).
			Str("type", string(entityType)).
			Str("stage", "fetch").
			Msg("failed to fetch entity")
		return nil, fmt.Errorf("fetch %s entity: %w", entityType, err)
	}

	converted, err := s.catalog.ConvertEntity(ctx, entity, target)
	if err != nil {
		s.logger.Error().Err(err).
			Str("input", req.Input).
			Str("service", string(target)).
			Str("type", string(entityType)).
			Str("stage", "convert").
			Msg("failed to convert entity")
		return nil, fmt.Errorf("convert %s entity: %w", entityType, err)
	}

	out := outcome.Normalize(converted, nil)
	result := &domain.ConvertResult{
		Entity:  converted,
		Outcome: &out,
	}

	if providerURL := s.catalog.BuildProviderURL(converted, target); providerURL != "" {
		result.URL = &providerURL
	} else if warning, ok := converted.Warnings[target]; ok {
		// No equivalent found yet is an expected terminal state, not a
		// fault: url stays null and the provider's warning rides along.
		result.Warning = &warning
	}

	s.recordUsage(ctx, target, entityType, req.Input)
	return result, nil
}

// ConvertBatch fans Convert out over a bounded worker pool. Results are
// returned in input order; each item carries either a result or an error
// string, so one bad request never aborts its batch.
func (s *Service) ConvertBatch(ctx context.Context, reqs []domain.ConvertRequest) []ports.BatchItem {
	type indexedItem struct {
		index int
		item  ports.BatchItem
	}

	reqCh := make(chan struct {
		index int
		req   domain.ConvertRequest
	}, len(reqs))
	resultCh := make(chan indexedItem, len(reqs))

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range reqCh {
				batch := ports.BatchItem{Request: item.req}

				select {
				case <-ctx.Done():
					batch.Error = "context cancelled"
					resultCh <- indexedItem{index: item.index, item: batch}
					continue
				default:
				}

				result, err := s.Convert(ctx, item.req)
				if err != nil {
					batch.Error = err.Error()
				} else {
					batch.Result = result
				}
				resultCh <- indexedItem{index: item.index, item: batch}
			}
		}()
	}

	for i, req := range reqs {
		reqCh <- struct {
			index int
			req   domain.ConvertRequest
		}{index: i, req: req}
	}
	close(reqCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	items := make([]ports.BatchItem, len(reqs))
	for ir := range resultCh {
		items[ir.index] = ir.item
	}
	return items
}

func (s *Service) GetEntity(ctx context.Context, syncID string, t domain.EntityType) (*domain.Entity, *domain.Outcome, error) {
	entity, err := s.catalog.FetchEntity(ctx, syncID, t)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, nil, ports.ErrNotFound
		}
		s.logger.Error().Err(err).
			Str("sync_id", syncID).
			Str("type", string(t)).
			Str("stage", "fetch").
			Msg("failed to fetch stored entity")
		return nil, nil, fmt.Errorf("fetch entity %s: %w", syncID, err)
	}

	out := outcome.Normalize(entity, nil)
	return entity, &out, nil
}

// ResolveShortcode always resolves to a redirect target. Decode failures and
// fetch failures classify as errorType=resolve, conversion failures as
// errorType=conversion; both carry enough parameters for the error page to
// describe what failed.
func (s *Service) ResolveShortcode(ctx context.Context, code string) ports.ShortcodeResolution {
	decoded, err := shortcode.Decode(code)
	if err != nil {
		return errorRedirect("resolve", "", code, "unrecognized shortcode")
	}

	entity, err := s.catalog.FetchEntityByShortToken(ctx, decoded.ID, decoded.EntityType)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("code", code).
			Str("type", string(decoded.EntityType)).
			Msg("shortcode lookup failed")
		return errorRedirect("resolve", string(decoded.EntityType), code, "entity not found")
	}

	if _, err := s.catalog.ConvertEntity(ctx, entity, s.defaultService); err != nil {
		s.logger.Error().Err(err).
			Str("code", code).
			Str("sync_id", entity.SyncID).
			Str("type", string(decoded.EntityType)).
			Str("service", string(s.defaultService)).
			Msg("shortcode conversion failed")
		return errorRedirect("conversion", string(decoded.EntityType), code, "conversion failed")
	}

	return ports.ShortcodeResolution{
		Location: fmt.Sprintf("/%s/%s", decoded.EntityType, url.PathEscape(entity.SyncID)),
	}
}

func errorRedirect(errorType, entityType, code, message string) ports.ShortcodeResolution {
	q := url.Values{}
	q.Set("errorType", errorType)
	if entityType != "" {
		q.Set("type", entityType)
	}
	q.Set("code", code)
	q.Set("message", message)
	return ports.ShortcodeResolution{Location: errorPagePath + "?" + q.Encode()}
}

// recordUsage dispatches a best-effort usage event in the background. Its
// latency and failures never touch the request path; a failed write is
// logged at debug and dropped.
func (s *Service) recordUsage(ctx context.Context, svc domain.Service, t domain.EntityType, input string) {
	if s.usage == nil {
		return
	}

	ev := domain.UsageEvent{
		Service:    svc,
		EntityType: t,
		Input:      input,
		OccurredAt: time.Now().UTC(),
	}
	if keyID, ok := ctx.Value(usageKeyIDContextKey{}).(string); ok {
		ev.KeyID = keyID
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.usage.RecordUsage(bgCtx, ev); err != nil {
			s.logger.Debug().Err(err).Msg("usage event dropped")
		}
	}()
}

type usageKeyIDContextKey struct{}

// WithUsageKeyID tags a request context with the authenticated key id so
// usage events can attribute conversions.
func WithUsageKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, usageKeyIDContextKey{}, keyID)
}
