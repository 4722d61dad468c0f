package conflicts

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vectorwatch/platform/pkg/common/apperrors"
	"github.com/vectorwatch/platform/pkg/common/logger"
	"github.com/vectorwatch/platform/pkg/common/models"
	"github.com/vectorwatch/platform/pkg/gateway/auth"
	"github.com/vectorwatch/platform/pkg/observability/metrics"
)

const eventSource = "surveillance-api"

type Service struct {
	store        Store
	events       EventPublisher
	cache        CacheInvalidator
	writeTimeout time.Duration
	defaultSize  int
	maxSize      int
	now          func() time.Time
}

type Option func(*Service)

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithCacheInvalidator(c CacheInvalidator) Option {
	return func(s *Service) { s.cache = c }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

func WithPageSizes(defaultSize, maxSize int) Option {
	return func(s *Service) {
		if defaultSize > 0 && maxSize >= defaultSize {
			s.defaultSize = defaultSize
			s.maxSize = maxSize
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		writeTimeout: 15 * time.Second,
		defaultSize:  20,
		maxSize:      100,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveConflict merges duplicate sessions of one site and month into the
// submitted values and records the before and after state in the audit log.
// Either every session, every form and the audit row are written, or none.
func (s *Service) ResolveConflict(ctx context.Context, ac auth.AuthContext, req models.ResolveConflictRequest) (models.ResolveConflictResult, error) {
	resolution, err := s.resolve(ctx, ac, req)
	if err != nil {
		metrics.ObserveResolutionFailure(apperrors.IsClientFacing(err))
		if apperrors.IsDataIntegrity(err) {
			logger.Log.WithError(err).Error("session data integrity violation")
		}
		return models.ResolveConflictResult{}, err
	}

	metrics.ObserveResolution(len(resolution.SessionIDs))
	logger.WithFields(logrus.Fields{
		"resolution_id": resolution.ID,
		"site_id":       resolution.SiteID,
		"month":         resolution.Month,
		"year":          resolution.Year,
		"session_ids":   resolution.SessionIDs,
		"caller":        ac.Kind.String(),
	}).Info("session conflict resolved")

	s.afterCommit(ctx, resolution)

	return models.ResolveConflictResult{
		Message:             "Conflict resolved successfully",
		ResolutionID:        resolution.ID,
		UpdatedSessionCount: len(resolution.SessionIDs),
	}, nil
}

func (s *Service) resolve(ctx context.Context, ac auth.AuthContext, req models.ResolveConflictRequest) (*models.SessionConflictResolution, error) {
	if !ac.Authenticated() {
		return nil, apperrors.Forbidden("authentication required")
	}
	ids, err := normalizeIDs(req.SessionIDs)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	sessions, err := s.store.FindSessions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}
	if missing := missingIDs(ids, sessions); len(missing) > 0 {
		return nil, &apperrors.NotFoundError{Entity: "sessions", IDs: missing}
	}
	p, err := checkPartition(sessions)
	if err != nil {
		return nil, err
	}
	if !ac.CanAccessSite(p.SiteID) {
		return nil, apperrors.Forbidden("no access to site %d", p.SiteID)
	}

	// The write phase must finish or roll back even if the client goes away.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	resolution := &models.SessionConflictResolution{
		ResolvedBy: ac.UserID,
		SessionIDs: ids,
		SiteID:     p.SiteID,
		Month:      p.Month,
		Year:       p.Year,
	}
	err = s.store.WithSiteLock(writeCtx, p.SiteID, func(tx Tx) error {
		return s.apply(writeCtx, tx, p, req, resolution)
	})
	if err != nil {
		if apperrors.IsClientFacing(err) || apperrors.IsDataIntegrity(err) {
			return nil, err
		}
		logger.Log.WithError(err).WithField("site_id", p.SiteID).Error("conflict resolution rolled back")
		return nil, &apperrors.ConflictResolutionFailedError{Cause: err}
	}
	return resolution, nil
}

func (s *Service) apply(ctx context.Context, tx Tx, p partition, req models.ResolveConflictRequest, resolution *models.SessionConflictResolution) error {
	ids := resolution.SessionIDs

	locked, err := tx.LockSessions(ctx, ids)
	if err != nil {
		return fmt.Errorf("locking sessions: %w", err)
	}
	if missing := missingIDs(ids, locked); len(missing) > 0 {
		return &apperrors.NotFoundError{Entity: "sessions", IDs: missing}
	}
	current, err := checkPartition(locked)
	if err != nil {
		return err
	}
	if current != p {
		return apperrors.Validation("sessions changed while the resolution was pending")
	}

	forms, err := tx.FormsForSessions(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading surveillance forms: %w", err)
	}
	before, err := beforeSnapshot(ids, locked, forms)
	if err != nil {
		return err
	}

	if updates := req.ResolvedData.Updates(); len(updates) > 0 {
		n, err := tx.UpdateSessions(ctx, ids, updates)
		if err != nil {
			return fmt.Errorf("updating sessions: %w", err)
		}
		if n != int64(len(ids)) {
			return fmt.Errorf("updated %d of %d sessions", n, len(ids))
		}
	}

	if req.ResolvedSurveillanceForm != nil && len(forms) > 0 {
		if updates := req.ResolvedSurveillanceForm.Updates(); len(updates) > 0 {
			n, err := tx.UpdateForms(ctx, ids, updates)
			if err != nil {
				return fmt.Errorf("updating surveillance forms: %w", err)
			}
			if n != int64(len(forms)) {
				return fmt.Errorf("updated %d of %d surveillance forms", n, len(forms))
			}
		}
	}

	after, err := afterSnapshot(ids, req)
	if err != nil {
		return err
	}
	resolution.BeforeData = before
	resolution.AfterData = after
	resolution.CreatedAt = s.now().UTC()
	if err := tx.InsertResolution(ctx, resolution); err != nil {
		return fmt.Errorf("recording resolution: %w", err)
	}
	return nil
}

// beforeSnapshot captures sessions in request order together with their
// forms. Sessions without a form carry no surveillanceForm key.
func beforeSnapshot(ids []int64, sessions []models.Session, forms []models.SurveillanceForm) (map[string]interface{}, error) {
	byID := make(map[int64]models.Session, len(sessions))
	for _, session := range sessions {
		byID[session.ID] = session
	}
	formBySession := make(map[int64]models.SurveillanceForm, len(forms))
	for _, form := range forms {
		formBySession[form.SessionID] = form
	}

	snapshots := make([]models.SessionSnapshot, 0, len(ids))
	for _, id := range ids {
		snap := models.SessionSnapshot{Session: byID[id]}
		if form, ok := formBySession[id]; ok {
			f := form
			snap.SurveillanceForm = &f
		}
		snapshots = append(snapshots, snap)
	}
	data, err := models.ToMap(struct {
		Sessions []models.SessionSnapshot `json:"sessions"`
	}{Sessions: snapshots})
	if err != nil {
		return nil, fmt.Errorf("encoding before snapshot: %w", err)
	}
	return data, nil
}

func afterSnapshot(ids []int64, req models.ResolveConflictRequest) (map[string]interface{}, error) {
	resolved, err := models.ToMap(req.ResolvedData)
	if err != nil {
		return nil, fmt.Errorf("encoding resolved data: %w", err)
	}
	after := map[string]interface{}{
		"sessionIds":   ids,
		"resolvedData": resolved,
	}
	if req.ResolvedSurveillanceForm != nil {
		form, err := models.ToMap(req.ResolvedSurveillanceForm)
		if err != nil {
			return nil, fmt.Errorf("encoding resolved surveillance form: %w", err)
		}
		after["resolvedSurveillanceForm"] = form
	}
	return after, nil
}

// afterCommit runs side effects of a committed resolution. Failures are
// logged only; the resolution itself stands.
func (s *Service) afterCommit(ctx context.Context, resolution *models.SessionConflictResolution) {
	if s.events == nil && s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	log := logger.WithField("resolution_id", resolution.ID)
	district, err := s.store.SiteDistrict(ctx, resolution.SiteID)
	if err != nil {
		log.WithError(err).Warn("could not look up site district")
	}

	if s.events != nil {
		data := map[string]interface{}{
			"resolutionId": resolution.ID,
			"siteId":       resolution.SiteID,
			"district":     district,
			"month":        resolution.Month,
			"year":         resolution.Year,
			"sessionIds":   resolution.SessionIDs,
		}
		if resolution.ResolvedBy != nil {
			data["resolvedBy"] = *resolution.ResolvedBy
		}
		key := strconv.FormatInt(resolution.SiteID, 10)
		if err := s.events.PublishEvent(ctx, models.EventSessionConflictResolved, eventSource, key, data); err != nil {
			log.WithError(err).Warn("failed to publish resolution event")
		}
	}

	if s.cache != nil && district != "" {
		if err := s.cache.InvalidateDistrict(ctx, district); err != nil {
			log.WithError(err).WithField("district", district).Warn("failed to invalidate metrics cache")
		}
	}
}

// ConflictLogs lists past resolutions newest first. Site-scoped callers only
// see resolutions for their own sites.
func (s *Service) ConflictLogs(ctx context.Context, ac auth.AuthContext, filter models.ConflictLogFilter, page models.Page) (models.ConflictLogPage, error) {
	if !ac.Authenticated() {
		return models.ConflictLogPage{}, apperrors.Forbidden("authentication required")
	}
	if err := validateFilter(filter); err != nil {
		return models.ConflictLogPage{}, err
	}
	if filter.SiteID != nil && !ac.CanAccessSite(*filter.SiteID) {
		return models.ConflictLogPage{}, apperrors.Forbidden("no access to site %d", *filter.SiteID)
	}
	page, err := s.normalizePage(page)
	if err != nil {
		return models.ConflictLogPage{}, err
	}
	metrics.ObserveConflictLogQuery()

	result := models.ConflictLogPage{
		Items:    []models.SessionConflictResolution{},
		Page:     page.Page,
		PageSize: page.Size,
	}
	scope := ac.SiteScope()
	if scope != nil && len(scope) == 0 {
		return result, nil
	}

	items, total, err := s.store.ListResolutions(ctx, filter, scope, page)
	if err != nil {
		return models.ConflictLogPage{}, fmt.Errorf("listing resolutions: %w", err)
	}
	if items != nil {
		result.Items = items
	}
	result.Total = total
	result.TotalPages = int((total + int64(page.Size) - 1) / int64(page.Size))
	return result, nil
}

// FindConflicts lists groups of sessions sharing a site and month, the
// candidates an operator picks from when resolving.
func (s *Service) FindConflicts(ctx context.Context, ac auth.AuthContext, filter models.ConflictLogFilter) ([]models.ConflictGroup, error) {
	if !ac.Authenticated() {
		return nil, apperrors.Forbidden("authentication required")
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	if filter.SiteID != nil && !ac.CanAccessSite(*filter.SiteID) {
		return nil, apperrors.Forbidden("no access to site %d", *filter.SiteID)
	}
	scope := ac.SiteScope()
	if scope != nil && len(scope) == 0 {
		return []models.ConflictGroup{}, nil
	}
	groups, err := s.store.FindConflictGroups(ctx, filter, scope)
	if err != nil {
		return nil, fmt.Errorf("finding conflict groups: %w", err)
	}
	if groups == nil {
		groups = []models.ConflictGroup{}
	}
	return groups, nil
}

func validateFilter(filter models.ConflictLogFilter) error {
	if filter.Month != nil && (*filter.Month < 1 || *filter.Month > 12) {
		return apperrors.Validation("month must be between 1 and 12")
	}
	if filter.Year != nil && *filter.Year < 1 {
		return apperrors.Validation("year must be positive")
	}
	if filter.SessionID != nil && *filter.SessionID <= 0 {
		return apperrors.Validation("sessionId must be positive")
	}
	return nil
}

// normalizePage clamps size into [1, maxSize] and rejects pages whose offset
// would not fit in an int.
func (s *Service) normalizePage(page models.Page) (models.Page, error) {
	if page.Page < 1 {
		page.Page = 1
	}
	if page.Size < 1 {
		page.Size = s.defaultSize
	}
	if page.Size > s.maxSize {
		page.Size = s.maxSize
	}
	if maxPage := math.MaxInt / page.Size; page.Page > maxPage {
		return page, apperrors.Validation("page must be at most %d", maxPage)
	}
	return page, nil
}
