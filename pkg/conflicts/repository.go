package conflicts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vectorwatch/platform/pkg/common/apperrors"
	"github.com/vectorwatch/platform/pkg/common/models"
	"github.com/vectorwatch/platform/pkg/storage"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// advisoryNamespace keeps site locks apart from other advisory lock users.
const advisoryNamespace int64 = 0x5e55 << 40

const bucketExpr = "(COALESCE(collection_date, created_at) AT TIME ZONE 'UTC')"

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindSessions(ctx context.Context, ids []int64) ([]models.Session, error) {
	var rows []storage.SessionRow
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return sessionModels(rows), nil
}

func (r *Repository) SiteDistrict(ctx context.Context, siteID int64) (string, error) {
	var site storage.SiteRow
	if err := r.db.WithContext(ctx).Select("id", "district").First(&site, "id = ?", siteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", &apperrors.NotFoundError{Entity: "site", IDs: []int64{siteID}}
		}
		return "", err
	}
	return site.District, nil
}

func (r *Repository) WithSiteLock(ctx context.Context, siteID int64, fn func(tx Tx) error) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Exec("SELECT pg_advisory_xact_lock(?)", advisoryNamespace|(siteID&(1<<40-1))).Error; err != nil {
			return fmt.Errorf("acquiring site lock: %w", err)
		}
		return fn(&gormTx{db: db})
	})
}

func (r *Repository) ListResolutions(ctx context.Context, filter models.ConflictLogFilter, scope []int64, page models.Page) ([]models.SessionConflictResolution, int64, error) {
	filtered := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&storage.ResolutionRow{})
		if filter.SiteID != nil {
			query = query.Where("site_id = ?", *filter.SiteID)
		}
		if filter.Month != nil {
			query = query.Where("month = ?", *filter.Month)
		}
		if filter.Year != nil {
			query = query.Where("year = ?", *filter.Year)
		}
		if filter.SessionID != nil {
			query = query.Where("session_ids @> ?::jsonb", fmt.Sprintf("[%d]", *filter.SessionID))
		}
		if scope != nil {
			query = query.Where("site_id IN ?", scope)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []storage.ResolutionRow
	if err := filtered().Order("created_at DESC").Order("id DESC").
		Limit(page.Size).Offset(page.Offset()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	items := make([]models.SessionConflictResolution, 0, len(rows))
	for _, row := range rows {
		items = append(items, resolutionModel(row))
	}
	return items, total, nil
}

func (r *Repository) FindConflictGroups(ctx context.Context, filter models.ConflictLogFilter, scope []int64) ([]models.ConflictGroup, error) {
	query := r.db.WithContext(ctx).Model(&storage.SessionRow{}).
		Select(fmt.Sprintf(
			"site_id, EXTRACT(MONTH FROM %[1]s)::int AS month, EXTRACT(YEAR FROM %[1]s)::int AS year, json_agg(id ORDER BY id) AS session_ids",
			bucketExpr,
		)).
		Where("COALESCE(collection_date, created_at) IS NOT NULL")
	if filter.SiteID != nil {
		query = query.Where("site_id = ?", *filter.SiteID)
	}
	if filter.Month != nil {
		query = query.Where(fmt.Sprintf("EXTRACT(MONTH FROM %s) = ?", bucketExpr), *filter.Month)
	}
	if filter.Year != nil {
		query = query.Where(fmt.Sprintf("EXTRACT(YEAR FROM %s) = ?", bucketExpr), *filter.Year)
	}
	if scope != nil {
		query = query.Where("site_id IN ?", scope)
	}

	var rows []struct {
		SiteID     int64          `gorm:"column:site_id"`
		Month      int            `gorm:"column:month"`
		Year       int            `gorm:"column:year"`
		SessionIDs datatypes.JSON `gorm:"column:session_ids"`
	}
	if err := query.Group("site_id, month, year").
		Having("COUNT(*) > 1").
		Order("year DESC, month DESC, site_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	groups := make([]models.ConflictGroup, 0, len(rows))
	for _, row := range rows {
		var ids []int64
		if err := json.Unmarshal(row.SessionIDs, &ids); err != nil {
			return nil, fmt.Errorf("decoding session ids for site %d: %w", row.SiteID, err)
		}
		groups = append(groups, models.ConflictGroup{
			SiteID:     row.SiteID,
			Month:      row.Month,
			Year:       row.Year,
			SessionIDs: ids,
		})
	}
	return groups, nil
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockSessions(ctx context.Context, ids []int64) ([]models.Session, error) {
	var rows []storage.SessionRow
	if err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return sessionModels(rows), nil
}

func (t *gormTx) FormsForSessions(ctx context.Context, sessionIDs []int64) ([]models.SurveillanceForm, error) {
	var rows []storage.SurveillanceFormRow
	if err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("session_id IN ?", sessionIDs).
		Order("session_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	forms := make([]models.SurveillanceForm, 0, len(rows))
	for _, row := range rows {
		forms = append(forms, row.ToModel())
	}
	return forms, nil
}

func (t *gormTx) UpdateSessions(ctx context.Context, ids []int64, updates map[string]interface{}) (int64, error) {
	result := t.db.WithContext(ctx).Model(&storage.SessionRow{}).Where("id IN ?", ids).Updates(updates)
	return result.RowsAffected, result.Error
}

func (t *gormTx) UpdateForms(ctx context.Context, sessionIDs []int64, updates map[string]interface{}) (int64, error) {
	result := t.db.WithContext(ctx).Model(&storage.SurveillanceFormRow{}).Where("session_id IN ?", sessionIDs).Updates(updates)
	return result.RowsAffected, result.Error
}

func (t *gormTx) InsertResolution(ctx context.Context, resolution *models.SessionConflictResolution) error {
	before, err := json.Marshal(resolution.BeforeData)
	if err != nil {
		return fmt.Errorf("encoding before data: %w", err)
	}
	after, err := json.Marshal(resolution.AfterData)
	if err != nil {
		return fmt.Errorf("encoding after data: %w", err)
	}
	row := &storage.ResolutionRow{
		ResolvedBy: resolution.ResolvedBy,
		SessionIDs: datatypes.JSONSlice[int64](resolution.SessionIDs),
		SiteID:     resolution.SiteID,
		Month:      resolution.Month,
		Year:       resolution.Year,
		BeforeData: datatypes.JSON(before),
		AfterData:  datatypes.JSON(after),
		CreatedAt:  resolution.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := t.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	resolution.ID = row.ID
	resolution.CreatedAt = row.CreatedAt
	return nil
}

func sessionModels(rows []storage.SessionRow) []models.Session {
	sessions := make([]models.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.ToModel())
	}
	return sessions
}

func resolutionModel(row storage.ResolutionRow) models.SessionConflictResolution {
	return models.SessionConflictResolution{
		ID:         row.ID,
		ResolvedBy: row.ResolvedBy,
		SessionIDs: []int64(row.SessionIDs),
		SiteID:     row.SiteID,
		Month:      row.Month,
		Year:       row.Year,
		BeforeData: jsonMap(row.BeforeData),
		AfterData:  jsonMap(row.AfterData),
		CreatedAt:  row.CreatedAt.UTC(),
	}
}

func jsonMap(data datatypes.JSON) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	var result map[string]interface{}
	_ = json.Unmarshal(data, &result)
	return result
}
