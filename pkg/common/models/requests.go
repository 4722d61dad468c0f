package models

import (
	"encoding/json"
	"time"
)

// ResolvedSessionData carries the session fields an operator chose. A nil
// field was not submitted and is left untouched on every session.
// Timestamps are epoch milliseconds.
type ResolvedSessionData struct {
	CollectorTitle         *string      `json:"collectorTitle,omitempty"`
	CollectorName          *string      `json:"collectorName,omitempty"`
	CollectionDate         *int64       `json:"collectionDate,omitempty"`
	CollectionMethod       *string      `json:"collectionMethod,omitempty"`
	SpecimenCondition      *string      `json:"specimenCondition,omitempty"`
	CreatedAt              *int64       `json:"createdAt,omitempty"`
	CompletedAt            *int64       `json:"completedAt,omitempty"`
	Notes                  *string      `json:"notes,omitempty"`
	Latitude               *float64     `json:"latitude,omitempty"`
	Longitude              *float64     `json:"longitude,omitempty"`
	Type                   *SessionType `json:"type,omitempty"`
	CollectorLastTrainedOn *int64       `json:"collectorLastTrainedOn,omitempty"`
	HardwareID             *string      `json:"hardwareId,omitempty"`
	TotalSpecimens         *int         `json:"totalSpecimens,omitempty"`
}

// Updates maps each submitted field to its column.
func (d ResolvedSessionData) Updates() map[string]interface{} {
	updates := make(map[string]interface{})
	putString(updates, "collector_title", d.CollectorTitle)
	putString(updates, "collector_name", d.CollectorName)
	putMillis(updates, "collection_date", d.CollectionDate)
	putString(updates, "collection_method", d.CollectionMethod)
	putString(updates, "specimen_condition", d.SpecimenCondition)
	putMillis(updates, "created_at", d.CreatedAt)
	putMillis(updates, "completed_at", d.CompletedAt)
	putString(updates, "notes", d.Notes)
	if d.Latitude != nil {
		updates["latitude"] = *d.Latitude
	}
	if d.Longitude != nil {
		updates["longitude"] = *d.Longitude
	}
	if d.Type != nil {
		updates["type"] = string(*d.Type)
	}
	putMillis(updates, "collector_last_trained_on", d.CollectorLastTrainedOn)
	putString(updates, "hardware_id", d.HardwareID)
	if d.TotalSpecimens != nil {
		updates["total_specimens"] = *d.TotalSpecimens
	}
	return updates
}

type ResolvedSurveillanceForm struct {
	NumPeopleSleptInHouse   *int    `json:"numPeopleSleptInHouse,omitempty"`
	WasIrsConducted         *string `json:"wasIrsConducted,omitempty"`
	MonthsSinceIrs          *int    `json:"monthsSinceIrs,omitempty"`
	NumLlinsAvailable       *int    `json:"numLlinsAvailable,omitempty"`
	LlinType                *string `json:"llinType,omitempty"`
	LlinBrand               *string `json:"llinBrand,omitempty"`
	NumPeopleSleptUnderLlin *int    `json:"numPeopleSleptUnderLlin,omitempty"`
}

func (f ResolvedSurveillanceForm) Updates() map[string]interface{} {
	updates := make(map[string]interface{})
	putInt(updates, "num_people_slept_in_house", f.NumPeopleSleptInHouse)
	putString(updates, "was_irs_conducted", f.WasIrsConducted)
	putInt(updates, "months_since_irs", f.MonthsSinceIrs)
	putInt(updates, "num_llins_available", f.NumLlinsAvailable)
	putString(updates, "llin_type", f.LlinType)
	putString(updates, "llin_brand", f.LlinBrand)
	putInt(updates, "num_people_slept_under_llin", f.NumPeopleSleptUnderLlin)
	return updates
}

type ResolveConflictRequest struct {
	SessionIDs               []int64                   `json:"sessionIds"`
	ResolvedData             ResolvedSessionData       `json:"resolvedData"`
	ResolvedSurveillanceForm *ResolvedSurveillanceForm `json:"resolvedSurveillanceForm,omitempty"`
}

type ResolveConflictResult struct {
	Message             string `json:"message"`
	ResolutionID        int64  `json:"resolutionId"`
	UpdatedSessionCount int    `json:"updatedSessionCount"`
}

type ConflictLogFilter struct {
	SiteID    *int64
	Month     *int
	Year      *int
	SessionID *int64
}

type Page struct {
	Page int
	Size int
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Size
}

type ConflictLogPage struct {
	Items      []SessionConflictResolution `json:"items"`
	Page       int                         `json:"page"`
	PageSize   int                         `json:"pageSize"`
	Total      int64                       `json:"total"`
	TotalPages int                         `json:"totalPages"`
}

type MetricsRequest struct {
	District  string
	StartDate string
	EndDate   string
}

type SiteInformation struct {
	HousesUsedForCollection    int64 `json:"housesUsedForCollection"`
	PeopleInAllHousesInspected int64 `json:"peopleInAllHousesInspected"`
}

type EntomologicalSummary struct {
	VectorDensity                   float64 `json:"vectorDensity"`
	FedMosquitoesToPeopleSleptRatio float64 `json:"fedMosquitoesToPeopleSleptRatio"`
	TotalLlins                      int64   `json:"totalLlins"`
	TotalPeopleSleptUnderLlin       int64   `json:"totalPeopleSleptUnderLlin"`
	LlinsPerPerson                  float64 `json:"llinsPerPerson"`
}

type MetricsResponse struct {
	SiteInformation      SiteInformation      `json:"siteInformation"`
	EntomologicalSummary EntomologicalSummary `json:"entomologicalSummary"`
}

// ToMap round-trips v through JSON so snapshots stored in the audit log
// carry the same field names the API exposes.
func ToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func putString(m map[string]interface{}, column string, v *string) {
	if v != nil {
		m[column] = *v
	}
}

func putInt(m map[string]interface{}, column string, v *int) {
	if v != nil {
		m[column] = *v
	}
}

func putMillis(m map[string]interface{}, column string, v *int64) {
	if v != nil {
		m[column] = MillisToTime(*v)
	}
}
