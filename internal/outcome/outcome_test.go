package outcome

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syncfm/resolver/internal/domain"
)

func entityWith(ids domain.ExternalIDMap) *domain.Entity {
	return &domain.Entity{
		SyncID:      "sync-1",
		Type:        domain.EntityTypeSong,
		ExternalIDs: ids,
	}
}

func TestNormalize_AllAvailable(t *testing.T) {
	e := entityWith(domain.ExternalIDMap{
		domain.ServiceSpotify:    "sp-1",
		domain.ServiceYTMusic:    "yt-1",
		domain.ServiceAppleMusic: "am-1",
	})

	out := Normalize(e, nil)

	assert.Len(t, out.AvailableServices, 3)
	assert.Empty(t, out.MissingServices)
	assert.False(t, out.HasPartialSuccess)
	assert.Nil(t, out.LastErrorAt)
}

func TestNormalize_PartialSuccess(t *testing.T) {
	e := entityWith(domain.ExternalIDMap{
		domain.ServiceSpotify: "sp-1",
	})

	out := Normalize(e, nil)

	assert.Equal(t, []domain.Service{domain.ServiceSpotify}, out.AvailableServices)
	assert.Equal(t, []domain.Service{domain.ServiceYTMusic, domain.ServiceAppleMusic}, out.MissingServices)
	assert.True(t, out.HasPartialSuccess)
}

func TestNormalize_TotalFailureIsNotPartial(t *testing.T) {
	out := Normalize(entityWith(domain.ExternalIDMap{}), nil)

	assert.Empty(t, out.AvailableServices)
	assert.Len(t, out.MissingServices, 3)
	assert.False(t, out.HasPartialSuccess)
}

func TestNormalize_PartialSuccessInvariant(t *testing.T) {
	// hasPartialSuccess <=> both partitions non-empty, for every id subset.
	services := domain.DefaultServiceOrder
	for mask := 0; mask < 1<<len(services); mask++ {
		ids := domain.ExternalIDMap{}
		for i, svc := range services {
			if mask&(1<<i) != 0 {
				ids[svc] = "id"
			}
		}
		out := Normalize(entityWith(ids), nil)
		want := len(out.AvailableServices) > 0 && len(out.MissingServices) > 0
		assert.Equal(t, want, out.HasPartialSuccess, "mask %b", mask)
	}
}

func TestNormalize_EmptyIDCountsAsMissing(t *testing.T) {
	e := entityWith(domain.ExternalIDMap{domain.ServiceSpotify: ""})

	out := Normalize(e, []domain.Service{domain.ServiceSpotify})

	require.Len(t, out.Statuses, 1)
	assert.False(t, out.Statuses[0].Available)
}

func TestNormalize_ErrorAndWarningEntries(t *testing.T) {
	older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	e := entityWith(domain.ExternalIDMap{domain.ServiceSpotify: "sp-1"})
	e.Errors = map[domain.Service]domain.ConversionError{
		domain.ServiceYTMusic:    {LastAttempt: newer, Attempts: 3, LastError: "quota exceeded", Retryable: true},
		domain.ServiceAppleMusic: {LastAttempt: older, Attempts: 1, LastError: "no match"},
	}
	e.Warnings = map[domain.Service]domain.ConversionWarning{
		domain.ServiceSpotify: {Message: "matched by title only", Timestamp: older},
	}

	out := Normalize(e, nil)

	require.Len(t, out.Statuses, 3)
	assert.Equal(t, "matched by title only", out.Statuses[0].Warning)
	assert.Equal(t, "quota exceeded", out.Statuses[1].Reason)
	assert.True(t, out.Statuses[1].Retryable)
	assert.Equal(t, "no match", out.Statuses[2].Reason)
	require.NotNil(t, out.LastErrorAt)
	assert.Equal(t, newer, *out.LastErrorAt)
}

func TestNormalize_CustomOrderPreserved(t *testing.T) {
	e := entityWith(domain.ExternalIDMap{domain.ServiceAppleMusic: "am-1"})
	order := []domain.Service{domain.ServiceAppleMusic, domain.ServiceSpotify}

	out := Normalize(e, order)

	require.Len(t, out.Statuses, 2)
	assert.Equal(t, domain.ServiceAppleMusic, out.Statuses[0].Service)
	assert.Equal(t, domain.ServiceSpotify, out.Statuses[1].Service)
}

func TestNormalize_Idempotent(t *testing.T) {
	e := entityWith(domain.ExternalIDMap{domain.ServiceSpotify: "sp-1"})
	e.Errors = map[domain.Service]domain.ConversionError{
		domain.ServiceYTMusic: {LastAttempt: time.Now().UTC(), LastError: "boom"},
	}

	first := Normalize(e, nil)
	second := Normalize(e, nil)

	assert.Equal(t, first, second)
}

func TestNormalize_NilEntity(t *testing.T) {
	out := Normalize(nil, nil)
	assert.Empty(t, out.Statuses)
	assert.False(t, out.HasPartialSuccess)
}
