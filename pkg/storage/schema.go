package storage

import (
	"time"

	"github.com/vectorwatch/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Row models shared by the conflict and entomology repositories.

type SiteRow struct {
	ID          int64     `gorm:"primaryKey;autoIncrement;column:id"`
	ProgramID   *int64    `gorm:"column:program_id;index"`
	Name        string    `gorm:"column:name"`
	District    string    `gorm:"column:district;index"`
	HouseNumber string    `gorm:"column:house_number"`
	Latitude    *float64  `gorm:"column:latitude"`
	Longitude   *float64  `gorm:"column:longitude"`
	IsActive    bool      `gorm:"column:is_active;default:true"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (SiteRow) TableName() string { return "sites" }

type SessionRow struct {
	ID                     int64      `gorm:"primaryKey;autoIncrement;column:id"`
	SiteID                 int64      `gorm:"column:site_id;index;not null"`
	DeviceID               *int64     `gorm:"column:device_id"`
	CollectorTitle         string     `gorm:"column:collector_title"`
	CollectorName          string     `gorm:"column:collector_name"`
	CollectorLastTrainedOn *time.Time `gorm:"column:collector_last_trained_on"`
	CollectionDate         *time.Time `gorm:"column:collection_date;index"`
	CollectionMethod       string     `gorm:"column:collection_method"`
	SpecimenCondition      string     `gorm:"column:specimen_condition"`
	CreatedAt              *time.Time `gorm:"column:created_at;autoCreateTime:false"`
	CompletedAt            *time.Time `gorm:"column:completed_at"`
	Notes                  string     `gorm:"column:notes"`
	Latitude               *float64   `gorm:"column:latitude"`
	Longitude              *float64   `gorm:"column:longitude"`
	Type                   string     `gorm:"column:type;default:DATA_COLLECTION"`
	HardwareID             string     `gorm:"column:hardware_id"`
	TotalSpecimens         int        `gorm:"column:total_specimens"`
	UpdatedAt              time.Time  `gorm:"column:updated_at"`
}

func (SessionRow) TableName() string { return "sessions" }

func (r SessionRow) ToModel() models.Session {
	return models.Session{
		ID:                     r.ID,
		SiteID:                 r.SiteID,
		DeviceID:               r.DeviceID,
		CollectorTitle:         r.CollectorTitle,
		CollectorName:          r.CollectorName,
		CollectorLastTrainedOn: utcPtr(r.CollectorLastTrainedOn),
		CollectionDate:         utcPtr(r.CollectionDate),
		CollectionMethod:       r.CollectionMethod,
		SpecimenCondition:      r.SpecimenCondition,
		CreatedAt:              utcPtr(r.CreatedAt),
		CompletedAt:            utcPtr(r.CompletedAt),
		Notes:                  r.Notes,
		Latitude:               r.Latitude,
		Longitude:              r.Longitude,
		Type:                   models.SessionType(r.Type),
		HardwareID:             r.HardwareID,
		TotalSpecimens:         r.TotalSpecimens,
		UpdatedAt:              r.UpdatedAt.UTC(),
	}
}

type SurveillanceFormRow struct {
	ID                      int64     `gorm:"primaryKey;autoIncrement;column:id"`
	SessionID               int64     `gorm:"column:session_id;uniqueIndex;not null"`
	NumPeopleSleptInHouse   *int      `gorm:"column:num_people_slept_in_house"`
	WasIrsConducted         string    `gorm:"column:was_irs_conducted"`
	MonthsSinceIrs          *int      `gorm:"column:months_since_irs"`
	NumLlinsAvailable       *int      `gorm:"column:num_llins_available"`
	LlinType                string    `gorm:"column:llin_type"`
	LlinBrand               string    `gorm:"column:llin_brand"`
	NumPeopleSleptUnderLlin *int      `gorm:"column:num_people_slept_under_llin"`
	CreatedAt               time.Time `gorm:"column:created_at"`
	UpdatedAt               time.Time `gorm:"column:updated_at"`
}

func (SurveillanceFormRow) TableName() string { return "surveillance_forms" }

func (r SurveillanceFormRow) ToModel() models.SurveillanceForm {
	return models.SurveillanceForm{
		ID:                      r.ID,
		SessionID:               r.SessionID,
		NumPeopleSleptInHouse:   r.NumPeopleSleptInHouse,
		WasIrsConducted:         r.WasIrsConducted,
		MonthsSinceIrs:          r.MonthsSinceIrs,
		NumLlinsAvailable:       r.NumLlinsAvailable,
		LlinType:                r.LlinType,
		LlinBrand:               r.LlinBrand,
		NumPeopleSleptUnderLlin: r.NumPeopleSleptUnderLlin,
		CreatedAt:               r.CreatedAt.UTC(),
		UpdatedAt:               r.UpdatedAt.UTC(),
	}
}

type SpecimenRow struct {
	ID            int64     `gorm:"primaryKey;autoIncrement;column:id"`
	SessionID     int64     `gorm:"column:session_id;index;not null"`
	SpecimenID    string    `gorm:"column:specimen_id"`
	Species       string    `gorm:"column:species"`
	Sex           string    `gorm:"column:sex"`
	AbdomenStatus string    `gorm:"column:abdomen_status"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (SpecimenRow) TableName() string { return "specimens" }

type SpecimenImageRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id"`
	SpecimenID int64     `gorm:"column:specimen_id;index;not null"`
	URL        string    `gorm:"column:url"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (SpecimenImageRow) TableName() string { return "specimen_images" }

// ResolutionRow is append-only. Nothing in this module updates or deletes it.
type ResolutionRow struct {
	ID         int64                      `gorm:"primaryKey;autoIncrement;column:id"`
	ResolvedBy *int64                     `gorm:"column:resolved_by;index"`
	SessionIDs datatypes.JSONSlice[int64] `gorm:"column:session_ids;type:jsonb;not null"`
	SiteID     int64                      `gorm:"column:site_id;index;not null"`
	Month      int                        `gorm:"column:month;index:idx_resolution_bucket"`
	Year       int                        `gorm:"column:year;index:idx_resolution_bucket"`
	BeforeData datatypes.JSON             `gorm:"column:before_data;type:jsonb"`
	AfterData  datatypes.JSON             `gorm:"column:after_data;type:jsonb"`
	CreatedAt  time.Time                  `gorm:"column:created_at;index"`
}

func (ResolutionRow) TableName() string { return "session_conflict_resolutions" }

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&SiteRow{},
		&SessionRow{},
		&SurveillanceFormRow{},
		&SpecimenRow{},
		&SpecimenImageRow{},
		&ResolutionRow{},
	)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
