package conflicts

import (
	"math"
	"sort"

	"github.com/vectorwatch/platform/pkg/common/apperrors"
	"github.com/vectorwatch/platform/pkg/common/models"
)

// partition is the (site, month, year) bucket every session in a resolution
// must share.
type partition struct {
	SiteID int64
	Month  int
	Year   int
}

// normalizeIDs drops duplicates while keeping the submitted order.
func normalizeIDs(ids []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, apperrors.Validation("session id %d is not valid", id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) < 2 {
		return nil, apperrors.Validation("at least two distinct session ids are required")
	}
	return out, nil
}

func validateRequest(req models.ResolveConflictRequest) error {
	d := req.ResolvedData
	if d.Type != nil && !d.Type.Valid() {
		return apperrors.Validation("type must be one of %s, %s", models.SessionTypeSurveillance, models.SessionTypeDataCollection)
	}
	if d.Latitude != nil && (math.IsNaN(*d.Latitude) || *d.Latitude < -90 || *d.Latitude > 90) {
		return apperrors.Validation("latitude must be between -90 and 90")
	}
	if d.Longitude != nil && (math.IsNaN(*d.Longitude) || *d.Longitude < -180 || *d.Longitude > 180) {
		return apperrors.Validation("longitude must be between -180 and 180")
	}
	if d.TotalSpecimens != nil && *d.TotalSpecimens < 0 {
		return apperrors.Validation("totalSpecimens must not be negative")
	}
	if f := req.ResolvedSurveillanceForm; f != nil {
		counts := map[string]*int{
			"numPeopleSleptInHouse":   f.NumPeopleSleptInHouse,
			"monthsSinceIrs":          f.MonthsSinceIrs,
			"numLlinsAvailable":       f.NumLlinsAvailable,
			"numPeopleSleptUnderLlin": f.NumPeopleSleptUnderLlin,
		}
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if v := counts[name]; v != nil && *v < 0 {
				return apperrors.Validation("%s must not be negative", name)
			}
		}
	}
	return nil
}

// missingIDs returns the ids in want that are absent from sessions.
func missingIDs(want []int64, sessions []models.Session) []int64 {
	found := make(map[int64]struct{}, len(sessions))
	for _, s := range sessions {
		found[s.ID] = struct{}{}
	}
	var missing []int64
	for _, id := range want {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// checkPartition verifies that sessions share one site and one calendar
// month (UTC) of their bucket date.
func checkPartition(sessions []models.Session) (partition, error) {
	if len(sessions) == 0 {
		return partition{}, apperrors.Validation("no sessions to resolve")
	}
	siteID := sessions[0].SiteID
	for _, s := range sessions[1:] {
		if s.SiteID != siteID {
			return partition{}, apperrors.Validation("all sessions must belong to the same site")
		}
	}

	var p partition
	for i, s := range sessions {
		bucket, ok := s.BucketDate()
		if !ok {
			return partition{}, &apperrors.DataIntegrityError{
				SessionID: s.ID,
				Message:   "session has neither a collection date nor a creation date",
			}
		}
		if i == 0 {
			p = partition{SiteID: siteID, Month: int(bucket.Month()), Year: bucket.Year()}
			continue
		}
		if int(bucket.Month()) != p.Month || bucket.Year() != p.Year {
			return partition{}, apperrors.Validation("all sessions must fall in the same month and year")
		}
	}
	return p, nil
}
