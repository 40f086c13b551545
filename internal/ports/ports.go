package ports

import (
	"context"
	"errors"
	"time"

	"github.com/syncfm/resolver/internal/domain"
)

// Sentinel errors shared across port implementations. Callers classify with
// errors.Is so that "we don't know what this is" (ErrUnresolvable), "we know
// it but it isn't stored" (ErrNotFound) and real faults stay distinct.
var (
	ErrUnresolvable = errors.New("reference could not be resolved")
	ErrNotFound     = errors.New("entity not found")
)

// CatalogService is the narrow interface to the external Catalog Conversion
// Service, the component that performs actual per-provider lookups and
// conversions. Every call may fail; the core never assumes success.
type CatalogService interface {
	// DetectEntityType probes an external streaming URL and reports which
	// kind of entity it points at. Returns ErrUnresolvable for URLs the
	// catalog does not recognize.
	DetectEntityType(ctx context.Context, rawURL string) (domain.EntityType, error)

	// FetchEntityFromURL resolves an external URL into a catalog entity of
	// the given type, creating or converting it as needed.
	FetchEntityFromURL(ctx context.Context, rawURL string, t domain.EntityType) (*domain.Entity, error)

	// FetchEntity returns the stored entity for a sync id, or ErrNotFound.
	FetchEntity(ctx context.Context, syncID string, t domain.EntityType) (*domain.Entity, error)

	// FetchEntityByShortToken resolves a shortcode identifier into its
	// entity, or ErrNotFound.
	FetchEntityByShortToken(ctx context.Context, token string, t domain.EntityType) (*domain.Entity, error)

	// ConvertEntity asks the catalog to populate the entity's identifier for
	// the target provider. The returned entity carries the updated external
	// id map plus any per-provider error/warning entries.
	ConvertEntity(ctx context.Context, entity *domain.Entity, target domain.Service) (*domain.Entity, error)

	// BuildProviderURL derives the canonical provider URL for an entity, or
	// "" when the entity has no usable identifier on that provider.
	BuildProviderURL(entity *domain.Entity, svc domain.Service) string
}

// CounterStore is the shared atomic counter backing the rate limiter.
// IncrWindow must be a single atomic increment on the store side; the
// returned value is the counter after this call's increment.
type CounterStore interface {
	// IncrWindow atomically increments key and, only when this increment
	// created the counter, sets its expiry to ttl.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// GetCount reads a counter without incrementing. Absent counters read
	// as zero.
	GetCount(ctx context.Context, key string) (int64, error)

	// DeleteMatching removes every key matching the glob pattern and
	// returns how many were deleted.
	DeleteMatching(ctx context.Context, pattern string) (int, error)
}

// CredentialStore persists API key records. Verification scans active
// records, so implementations must keep that set bounded. Store failures
// propagate: authentication fails closed when records cannot be read.
type CredentialStore interface {
	ListActive(ctx context.Context) ([]domain.APIKeyRecord, error)
	Insert(ctx context.Context, rec domain.APIKeyRecord) error
	Touch(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id string) error
}

// UsageRecorder captures analytics about completed conversions. Recording is
// best-effort: failures are logged and dropped, never surfaced to the caller.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ev domain.UsageEvent) error
}

// BatchItem pairs one request of a batch conversion with its result or error.
type BatchItem struct {
	Request domain.ConvertRequest `json:"request"`
	Result  *domain.ConvertResult `json:"result,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// ShortcodeResolution is the terminal decision for a shortcode request.
// Location is always set: either the resolved target URL or an error page
// with an errorType tag and enough parameters to describe the failure.
type ShortcodeResolution struct {
	Location string
}

// ConversionService is the driving port for the conversion orchestrator.
type ConversionService interface {
	// DetectAndConvert detects the entity type of an external URL and
	// converts it to the target provider.
	DetectAndConvert(ctx context.Context, rawURL string, target domain.Service) (*domain.ConvertResult, error)

	// Convert dispatches a single conversion by entity type. Requests with
	// any missing field fail validation before a downstream call is made.
	Convert(ctx context.Context, req domain.ConvertRequest) (*domain.ConvertResult, error)

	// ConvertBatch fans Convert out over a bounded worker pool, preserving
	// input order in its results.
	ConvertBatch(ctx context.Context, reqs []domain.ConvertRequest) []BatchItem

	// GetEntity returns a stored entity plus its normalized outcome.
	GetEntity(ctx context.Context, syncID string, t domain.EntityType) (*domain.Entity, *domain.Outcome, error)

	// ResolveShortcode decodes a shortcode, fetches its entity and converts
	// it, classifying every failure into a redirect decision.
	ResolveShortcode(ctx context.Context, code string) ShortcodeResolution
}
