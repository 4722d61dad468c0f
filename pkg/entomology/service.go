package entomology

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vectorwatch/platform/pkg/common/apperrors"
	"github.com/vectorwatch/platform/pkg/common/logger"
	"github.com/vectorwatch/platform/pkg/common/models"
	"github.com/vectorwatch/platform/pkg/observability/metrics"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339}

type Service struct {
	store Store
	cache Cache
}

type Option func(*Service)

// WithCache enables read-through caching of computed responses.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetMetrics computes the household and entomological indicators of a
// district over [startDate, endDate). Input is validated before any query.
func (s *Service) GetMetrics(ctx context.Context, req models.MetricsRequest) (models.MetricsResponse, error) {
	district := strings.TrimSpace(req.District)
	if district == "" {
		return models.MetricsResponse{}, apperrors.Validation("district is required")
	}
	start, err := parseDate("startDate", req.StartDate)
	if err != nil {
		return models.MetricsResponse{}, err
	}
	end, err := parseDate("endDate", req.EndDate)
	if err != nil {
		return models.MetricsResponse{}, err
	}
	if !start.Before(end) {
		return models.MetricsResponse{}, apperrors.Validation("startDate must be before endDate")
	}

	key := cacheKey(district, start, end)
	log := logger.WithField("cache_key", key)
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			log.WithError(err).Warn("metrics cache read failed")
		} else if ok {
			metrics.ObserveMetricsQuery(true)
			return cached, nil
		}
	}

	active, err := s.store.CountActiveSites(ctx, district)
	if err != nil {
		return models.MetricsResponse{}, fmt.Errorf("counting active sites: %w", err)
	}
	visits, err := s.store.HouseVisits(ctx, district, start, end)
	if err != nil {
		return models.MetricsResponse{}, fmt.Errorf("loading house visits: %w", err)
	}
	resp := Aggregate(visits, active, Days(start, end))
	metrics.ObserveMetricsQuery(false)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, resp); err != nil {
			log.WithError(err).Warn("metrics cache write failed")
		}
	}
	return resp, nil
}

// InvalidateDistrict drops every cached window of district.
func (s *Service) InvalidateDistrict(ctx context.Context, district string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.InvalidateDistrict(ctx, district); err != nil {
		return err
	}
	metrics.ObserveCacheInvalidation()
	return nil
}

func parseDate(name, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, apperrors.Validation("%s is required", name)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperrors.Validation("%s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", name)
}
