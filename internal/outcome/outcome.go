// Package outcome turns a converted entity's per-provider state into a
// uniform status report. Normalization is a pure transform: no side effects,
// and the same entity always yields the same report.
package outcome

import (
	"time"

	"github.com/syncfm/resolver/internal/domain"
)

// Normalize computes the provider-by-provider availability of an entity.
// Providers are evaluated in the given order; a nil or empty order falls
// back to domain.DefaultServiceOrder. Error and warning entries are
// attached when present; their absence is normal.
func Normalize(entity *domain.Entity, order []domain.Service) domain.Outcome {
	if len(order) == 0 {
		order = domain.DefaultServiceOrder
	}

	out := domain.Outcome{
		Statuses:          make([]domain.ProviderStatus, 0, len(order)),
		AvailableServices: []domain.Service{},
		MissingServices:   []domain.Service{},
	}
	if entity == nil {
		return out
	}

	var lastErrorAt time.Time

	for _, svc := range order {
		status := domain.ProviderStatus{
			Service:   svc,
			Available: entity.ExternalIDs.Available(svc),
		}

		if entry, ok := entity.Errors[svc]; ok {
			status.Reason = entry.LastError
			status.Retryable = entry.Retryable
			if entry.LastAttempt.After(lastErrorAt) {
				lastErrorAt = entry.LastAttempt
			}
		}
		if warning, ok := entity.Warnings[svc]; ok {
			status.Warning = warning.Message
		}

		if status.Available {
			out.AvailableServices = append(out.AvailableServices, svc)
		} else {
			out.MissingServices = append(out.MissingServices, svc)
		}
		out.Statuses = append(out.Statuses, status)
	}

	out.HasPartialSuccess = len(out.AvailableServices) > 0 && len(out.MissingServices) > 0
	if !lastErrorAt.IsZero() {
		out.LastErrorAt = &lastErrorAt
	}
	return out
}
