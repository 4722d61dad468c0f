package models

import (
	"time"
)

// Event bus envelope
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const EventSessionConflictResolved = "session.conflict_resolved"

type SessionType string

const (
	SessionTypeSurveillance   SessionType = "SURVEILLANCE"
	SessionTypeDataCollection SessionType = "DATA_COLLECTION"
)

func (t SessionType) Valid() bool {
	return t == SessionTypeSurveillance || t == SessionTypeDataCollection
}

// Site is a physical house visited by collectors.
type Site struct {
	ID          int64     `json:"id"`
	ProgramID   *int64    `json:"programId,omitempty"`
	Name        string    `json:"name"`
	District    string    `json:"district"`
	HouseNumber string    `json:"houseNumber,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Session is one field collection event at a site.
type Session struct {
	ID                     int64       `json:"id"`
	SiteID                 int64       `json:"siteId"`
	DeviceID               *int64      `json:"deviceId,omitempty"`
	CollectorTitle         string      `json:"collectorTitle"`
	CollectorName          string      `json:"collectorName"`
	CollectorLastTrainedOn *time.Time  `json:"collectorLastTrainedOn,omitempty"`
	CollectionDate         *time.Time  `json:"collectionDate,omitempty"`
	CollectionMethod       string      `json:"collectionMethod"`
	SpecimenCondition      string      `json:"specimenCondition"`
	CreatedAt              *time.Time  `json:"createdAt,omitempty"`
	CompletedAt            *time.Time  `json:"completedAt,omitempty"`
	Notes                  string      `json:"notes"`
	Latitude               *float64    `json:"latitude,omitempty"`
	Longitude              *float64    `json:"longitude,omitempty"`
	Type                   SessionType `json:"type"`
	HardwareID             string      `json:"hardwareId"`
	TotalSpecimens         int         `json:"totalSpecimens"`
	UpdatedAt              time.Time   `json:"updatedAt"`
}

// BucketDate is the date used to group sessions by month: the collection
// date when present, otherwise the creation date.
func (s Session) BucketDate() (time.Time, bool) {
	if s.CollectionDate != nil {
		return s.CollectionDate.UTC(), true
	}
	if s.CreatedAt != nil {
		return s.CreatedAt.UTC(), true
	}
	return time.Time{}, false
}

// SurveillanceForm holds household data captured with a session. At most
// one exists per session.
type SurveillanceForm struct {
	ID                      int64     `json:"id"`
	SessionID               int64     `json:"sessionId"`
	NumPeopleSleptInHouse   *int      `json:"numPeopleSleptInHouse,omitempty"`
	WasIrsConducted         string    `json:"wasIrsConducted,omitempty"`
	MonthsSinceIrs          *int      `json:"monthsSinceIrs,omitempty"`
	NumLlinsAvailable       *int      `json:"numLlinsAvailable,omitempty"`
	LlinType                string    `json:"llinType,omitempty"`
	LlinBrand               string    `json:"llinBrand,omitempty"`
	NumPeopleSleptUnderLlin *int      `json:"numPeopleSleptUnderLlin,omitempty"`
	CreatedAt               time.Time `json:"createdAt"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

type Specimen struct {
	ID            int64     `json:"id"`
	SessionID     int64     `json:"sessionId"`
	SpecimenID    string    `json:"specimenId"`
	Species       string    `json:"species,omitempty"`
	Sex           string    `json:"sex,omitempty"`
	AbdomenStatus string    `json:"abdomenStatus,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type SpecimenImage struct {
	ID         int64     `json:"id"`
	SpecimenID int64     `json:"specimenId"`
	URL        string    `json:"url"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SessionConflictResolution is an append-only audit entry for one
// resolution.
type SessionConflictResolution struct {
	ID         int64                  `json:"id"`
	ResolvedBy *int64                 `json:"resolvedBy,omitempty"`
	SessionIDs []int64                `json:"sessionIds"`
	SiteID     int64                  `json:"siteId"`
	Month      int                    `json:"month"`
	Year       int                    `json:"year"`
	BeforeData map[string]interface{} `json:"beforeData"`
	AfterData  map[string]interface{} `json:"afterData"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// SessionSnapshot is a session as captured in the before-data of a
// resolution. A missing form stays missing.
type SessionSnapshot struct {
	Session
	SurveillanceForm *SurveillanceForm `json:"surveillanceForm,omitempty"`
}

// ConflictGroup lists sessions that share a site and a month and are
// therefore candidates for resolution.
type ConflictGroup struct {
	SiteID     int64   `json:"siteId"`
	Month      int     `json:"month"`
	Year       int     `json:"year"`
	SessionIDs []int64 `json:"sessionIds"`
}
