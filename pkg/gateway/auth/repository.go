package auth

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type userSiteModel struct {
	UserID    int64     `gorm:"primaryKey;column:user_id"`
	SiteID    int64     `gorm:"primaryKey;column:site_id;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (userSiteModel) TableName() string { return "user_sites" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&userSiteModel{})
}

func (r *Repository) SitesForUser(ctx context.Context, userID int64) ([]int64, error) {
	sites := []int64{}
	err := r.db.WithContext(ctx).
		Model(&userSiteModel{}).
		Where("user_id = ?", userID).
		Order("site_id").
		Pluck("site_id", &sites).Error
	if err != nil {
		return nil, err
	}
	return sites, nil
}
