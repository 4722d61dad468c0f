package conflicts

import (
	"context"

	"github.com/vectorwatch/platform/pkg/common/models"
)

// Store is the storage access the resolver needs. The gorm Repository is the
// production implementation.
type Store interface {
	FindSessions(ctx context.Context, ids []int64) ([]models.Session, error)
	SiteDistrict(ctx context.Context, siteID int64) (string, error)
	// WithSiteLock runs fn in one transaction holding an exclusive lock
	// for siteID. fn returning an error rolls back every write it made.
	WithSiteLock(ctx context.Context, siteID int64, fn func(tx Tx) error) error
	// ListResolutions applies filter and restricts to scope unless scope is
	// nil. Results are newest first.
	ListResolutions(ctx context.Context, filter models.ConflictLogFilter, scope []int64, page models.Page) ([]models.SessionConflictResolution, int64, error)
	FindConflictGroups(ctx context.Context, filter models.ConflictLogFilter, scope []int64) ([]models.ConflictGroup, error)
}

type Tx interface {
	LockSessions(ctx context.Context, ids []int64) ([]models.Session, error)
	FormsForSessions(ctx context.Context, sessionIDs []int64) ([]models.SurveillanceForm, error)
	UpdateSessions(ctx context.Context, ids []int64, updates map[string]interface{}) (int64, error)
	UpdateForms(ctx context.Context, sessionIDs []int64, updates map[string]interface{}) (int64, error)
	InsertResolution(ctx context.Context, resolution *models.SessionConflictResolution) error
}

// EventPublisher is satisfied by kafka.Producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, source, key string, data map[string]interface{}) error
}

// CacheInvalidator drops cached aggregates for a district.
type CacheInvalidator interface {
	InvalidateDistrict(ctx context.Context, district string) error
}
