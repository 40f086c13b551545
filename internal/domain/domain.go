package domain

import "time"

// EntityType identifies the kind of music entity a reference points at.
type EntityType string

const (
	EntityTypeSong     EntityType = "song"
	EntityTypeAlbum    EntityType = "album"
	EntityTypeArtist   EntityType = "artist"
	EntityTypePlaylist EntityType = "playlist"
)

// ParseEntityType maps a raw string onto a known EntityType.
func ParseEntityType(s string) (EntityType, bool) {
	switch EntityType(s) {
	case EntityTypeSong, EntityTypeAlbum, EntityTypeArtist, EntityTypePlaylist:
		return EntityType(s), true
	}
	return "", false
}

// Service identifies a streaming provider.
type Service string

const (
	ServiceSpotify    Service = "spotify"
	ServiceYTMusic    Service = "ytmusic"
	ServiceAppleMusic Service = "applemusic"
)

// DefaultServiceOrder is the provider order used for outcome reports unless
// a caller overrides it.
var DefaultServiceOrder = []Service{ServiceSpotify, ServiceYTMusic, ServiceAppleMusic}

// ParseService maps a raw string onto a known Service.
func ParseService(s string) (Service, bool) {
	switch Service(s) {
	case ServiceSpotify, ServiceYTMusic, ServiceAppleMusic:
		return Service(s), true
	}
	return "", false
}

// ExternalIDMap holds the per-provider external identifier of an entity.
// A provider is available for the entity iff its key is present and non-empty.
type ExternalIDMap map[Service]string

// Available reports whether the entity has a usable identifier on svc.
func (m ExternalIDMap) Available(svc Service) bool {
	return m[svc] != ""
}

// ConversionError records a failed conversion attempt for one provider.
// These entries are produced by the catalog service; the core only reads them.
type ConversionError struct {
	LastAttempt time.Time `json:"last_attempt"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	Retryable   bool      `json:"retryable"`
	ErrorType   string    `json:"error_type,omitempty"`
}

// ConversionWarning is a non-fatal note attached to a provider conversion.
type ConversionWarning struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Entity is the provider-agnostic representation of a song, album, artist
// or playlist, carrying whatever per-provider state the catalog service has
// accumulated for it.
type Entity struct {
	SyncID      string                        `json:"sync_id"`
	Type        EntityType                    `json:"type"`
	Title       string                        `json:"title,omitempty"`
	Artist      string                        `json:"artist,omitempty"`
	ExternalIDs ExternalIDMap                 `json:"external_ids"`
	Errors      map[Service]ConversionError   `json:"conversion_errors,omitempty"`
	Warnings    map[Service]ConversionWarning `json:"conversion_warnings,omitempty"`
}

// ProviderStatus is the derived availability of an entity on one provider.
// It is computed fresh on every normalization and never persisted.
type ProviderStatus struct {
	Service   Service `json:"service"`
	Available bool    `json:"available"`
	Reason    string  `json:"reason,omitempty"`
	Retryable bool    `json:"retryable,omitempty"`
	Warning   string  `json:"warning,omitempty"`
}

// Outcome summarizes an entity's conversion state across providers.
// HasPartialSuccess is true iff some providers are available and some are
// missing, i.e. a mixed state rather than total success or total failure.
type Outcome struct {
	Statuses          []ProviderStatus `json:"statuses"`
	AvailableServices []Service        `json:"available_services"`
	MissingServices   []Service        `json:"missing_services"`
	HasPartialSuccess bool             `json:"has_partial_success"`
	LastErrorAt       *time.Time       `json:"last_error_at,omitempty"`
}

// ConvertRequest is the payload of a conversion call. All three fields are
// required; validation happens in the orchestrator so that a missing field
// never triggers a downstream call.
type ConvertRequest struct {
	Service string `json:"service"`
	Input   string `json:"input"`
	Type    string `json:"type"`
}

// ConvertResult is the outcome of a single conversion. URL is nil when the
// conversion ran but produced no usable link for the requested provider,
// which is an expected terminal state, not an error.
type ConvertResult struct {
	URL     *string            `json:"url"`
	Entity  *Entity            `json:"entity,omitempty"`
	Outcome *Outcome           `json:"outcome,omitempty"`
	Warning *ConversionWarning `json:"warning,omitempty"`
}

// Tier is a subscription tier used to derive rate limits.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// APIKeyRecord is the persisted form of an API key. Only the bcrypt hash and
// a short display prefix are stored; the plaintext is shown once at creation
// and never recoverable.
type APIKeyRecord struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Tier       Tier       `json:"tier"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// UsageEvent is a best-effort analytics record emitted after a conversion.
// Recording it must never block or fail the request that produced it.
type UsageEvent struct {
	KeyID      string     `json:"key_id,omitempty"`
	Service    Service    `json:"service"`
	EntityType EntityType `json:"entity_type"`
	Input      string     `json:"input"`
	OccurredAt time.Time  `json:"occurred_at"`
}
