package entomology

import (
	"math"
	"sort"
	"time"

	"github.com/vectorwatch/platform/pkg/common/models"
)

// house is every visit to one site in range reduced to a single sample.
type house struct {
	occupancy       int
	hasOccupancy    bool
	llins           int
	specimens       int
	fed             int
	hasSurveillance bool
}

// Days counts the calendar days covered by [start, end), rounding a partial
// day up.
func Days(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

// Aggregate computes district indicators from house visits. Visits are
// reduced per house first and averages are taken across houses, so a house
// visited many times weighs as much as a house visited once.
func Aggregate(visits []HouseVisit, activeSites int64, days int) models.MetricsResponse {
	houses := make(map[int64]*house)
	var totalLlins, totalUnderLlin int64

	for _, v := range visits {
		h, ok := houses[v.SiteID]
		if !ok {
			h = &house{}
			houses[v.SiteID] = h
		}
		if v.Occupancy != nil {
			if !h.hasOccupancy || *v.Occupancy > h.occupancy {
				h.occupancy = *v.Occupancy
			}
			h.hasOccupancy = true
		}
		if v.LlinsAvailable != nil {
			if *v.LlinsAvailable > h.llins {
				h.llins = *v.LlinsAvailable
			}
			totalLlins += int64(*v.LlinsAvailable)
		}
		if v.PeopleUnderLlin != nil {
			totalUnderLlin += int64(*v.PeopleUnderLlin)
		}
		h.specimens += v.SpecimenCount
		h.fed += v.FedCount
		if v.Type == models.SessionTypeSurveillance {
			h.hasSurveillance = true
		}
	}

	// Map order is random; sum in site order so float results are stable.
	siteIDs := make([]int64, 0, len(houses))
	for id := range houses {
		siteIDs = append(siteIDs, id)
	}
	sort.Slice(siteIDs, func(i, j int) bool { return siteIDs[i] < siteIDs[j] })

	var people int64
	var density, fedRatio, llinRatio mean
	for _, id := range siteIDs {
		h := houses[id]
		if h.hasOccupancy {
			people += int64(h.occupancy)
		}
		if h.hasSurveillance && days > 0 {
			density.add(float64(h.specimens) / float64(days))
		}
		if h.hasOccupancy && h.occupancy > 0 {
			fedRatio.add(float64(h.fed) / float64(h.occupancy))
			llinRatio.add(float64(h.llins) / float64(h.occupancy))
		}
	}

	return models.MetricsResponse{
		SiteInformation: models.SiteInformation{
			HousesUsedForCollection:    activeSites,
			PeopleInAllHousesInspected: people,
		},
		EntomologicalSummary: models.EntomologicalSummary{
			VectorDensity:                   round2(density.value()),
			FedMosquitoesToPeopleSleptRatio: round2(fedRatio.value()),
			TotalLlins:                      totalLlins,
			TotalPeopleSleptUnderLlin:       totalUnderLlin,
			LlinsPerPerson:                  round2(llinRatio.value()),
		},
	}
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.n++
}

func (m mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
