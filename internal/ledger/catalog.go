package ledger

import (
	"context"
	"errors"
	"fmt"

	"smm-store/internal/catalog"
	"smm-store/internal/domain"
	"smm-store/internal/provider"
)

const catalogCacheKey = "catalog:services"

// RefreshCatalog pulls the upstream catalog, replaces the base records and
// returns the effective view. Concurrent callers share one upstream call.
// When the panel is unreachable and a cached catalog exists, the cached copy
// is served instead. The shared refresh does not stop when the caller that
// started it goes away.
func (s *Service) RefreshCatalog(ctx context.Context) ([]domain.Service, error) {
	_, err, shared := s.refreshes.Do("catalog", func() (any, error) {
		return nil, s.refreshCatalog(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("catalog refresh shared")
	}
	return s.store.EffectiveServices(ctx), nil
}

func (s *Service) refreshCatalog(ctx context.Context) error {
	upstream, err := s.provider.Services(ctx)
	if err != nil {
		if !isTransportError(err) {
			return fmt.Errorf("fetch catalog: %w", err)
		}
		var cached []provider.Service
		found, cacheErr := s.cache.GetJSON(ctx, catalogCacheKey, &cached)
		if cacheErr != nil {
			s.logger.Warn("catalog cache read failed", "error", cacheErr)
		}
		if !found {
			return fmt.Errorf("fetch catalog: %w", err)
		}
		s.logger.Warn("serving cached catalog", "error", err, "services", len(cached))
		upstream = cached
	} else if err := s.cache.SetJSON(ctx, catalogCacheKey, upstream, s.catalogTTL); err != nil {
		s.logger.Warn("catalog cache write failed", "error", err)
	}

	services := catalog.NormalizeAll(upstream)
	s.store.SetServices(ctx, services)
	s.logger.Info("catalog refreshed", "services", len(services))
	return nil
}

// SeedCatalogIfEmpty fills an empty base catalog from upstream. Failures are
// logged only.
func (s *Service) SeedCatalogIfEmpty(ctx context.Context) {
	if len(s.store.Services(ctx)) > 0 {
		return
	}
	if _, err := s.RefreshCatalog(ctx); err != nil {
		s.logger.Warn("catalog seed failed", "error", err)
	}
}

// isTransportError reports whether err came from failing to reach the panel
// rather than from the panel answering.
func isTransportError(err error) bool {
	var apiErr *provider.APIError
	switch {
	case errors.As(err, &apiErr),
		errors.Is(err, provider.ErrMissingAPIKey),
		errors.Is(err, provider.ErrInvalidCredential),
		errors.Is(err, provider.ErrUnexpectedResponse),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
