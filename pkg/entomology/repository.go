package entomology

import (
	"context"
	"strings"
	"time"

	"github.com/vectorwatch/platform/pkg/storage"
	"gorm.io/gorm"
)

const houseVisitsQuery = `
SELECT s.site_id,
       s.id AS session_id,
       s.type,
       f.num_people_slept_in_house AS occupancy,
       f.num_llins_available AS llins_available,
       f.num_people_slept_under_llin AS people_under_llin,
       COUNT(sp.id) AS specimen_count,
       COUNT(sp.id) FILTER (WHERE LOWER(sp.abdomen_status) IN ?) AS fed_count
FROM sessions s
JOIN sites st ON st.id = s.site_id
LEFT JOIN surveillance_forms f ON f.session_id = s.id
LEFT JOIN specimens sp ON sp.session_id = s.id
WHERE st.district = ?
  AND COALESCE(s.collection_date, s.created_at) >= ?
  AND COALESCE(s.collection_date, s.created_at) < ?
GROUP BY s.site_id, s.id, s.type, f.num_people_slept_in_house, f.num_llins_available, f.num_people_slept_under_llin
ORDER BY s.site_id, s.id`

type Repository struct {
	db          *gorm.DB
	fedStatuses []string
}

// NewRepository matches abdomen statuses against fedStatuses ignoring case.
func NewRepository(db *gorm.DB, fedStatuses []string) *Repository {
	lowered := make([]string, 0, len(fedStatuses))
	for _, status := range fedStatuses {
		if status = strings.ToLower(strings.TrimSpace(status)); status != "" {
			lowered = append(lowered, status)
		}
	}
	return &Repository{db: db, fedStatuses: lowered}
}

func (r *Repository) CountActiveSites(ctx context.Context, district string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&storage.SiteRow{}).
		Where("district = ? AND is_active = ?", district, true).
		Count(&count).Error
	return count, err
}

func (r *Repository) HouseVisits(ctx context.Context, district string, start, end time.Time) ([]HouseVisit, error) {
	var visits []HouseVisit
	err := r.db.WithContext(ctx).
		Raw(houseVisitsQuery, r.fedStatuses, district, start.UTC(), end.UTC()).
		Scan(&visits).Error
	if err != nil {
		return nil, err
	}
	return visits, nil
}
