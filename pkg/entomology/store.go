package entomology

import (
	"context"
	"time"

	"github.com/vectorwatch/platform/pkg/common/models"
)

// HouseVisit is one session in range joined with its optional surveillance
// form and its specimen counts.
type HouseVisit struct {
	SiteID          int64              `gorm:"column:site_id"`
	SessionID       int64              `gorm:"column:session_id"`
	Type            models.SessionType `gorm:"column:type"`
	Occupancy       *int               `gorm:"column:occupancy"`
	LlinsAvailable  *int               `gorm:"column:llins_available"`
	PeopleUnderLlin *int               `gorm:"column:people_under_llin"`
	SpecimenCount   int                `gorm:"column:specimen_count"`
	FedCount        int                `gorm:"column:fed_count"`
}

type Store interface {
	CountActiveSites(ctx context.Context, district string) (int64, error)
	// HouseVisits returns sessions of the district whose bucket date falls
	// in [start, end).
	HouseVisits(ctx context.Context, district string, start, end time.Time) ([]HouseVisit, error)
}

// Cache holds computed responses. A miss is (zero, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (models.MetricsResponse, bool, error)
	Set(ctx context.Context, key string, value models.MetricsResponse) error
	InvalidateDistrict(ctx context.Context, district string) error
}
