package analysis

import (
	"sort"

	"github.com/catherinevee/endpointmgr/internal/models"
)

// DefaultThreshold is the minimum non-endpoint call count that flags a gap
const DefaultThreshold = 5

// Analyzer detects endpoint gaps in normalized traffic
type Analyzer struct {
	threshold int
}

// New creates an analyzer; thresholds below 1 fall back to the default
func New(threshold int) *Analyzer {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Analyzer{threshold: threshold}
}

// FindGaps partitions events by (service, region), counts calls that
// bypassed an endpoint, and returns every partition at or above the
// threshold. Empty input yields an empty result. Candidates are sorted by
// (service, region) so output is deterministic; consumers must not read
// meaning into the order.
func (a *Analyzer) FindGaps(events []models.TrafficEvent) []models.GapCandidate {
	type key struct {
		service models.TrackedService
		region  string
	}

	counts := make(map[key]int)
	for _, e := range events {
		if e.UsedEndpoint {
			continue
		}
		counts[key{service: e.Service, region: e.Region}]++
	}

	candidates := make([]models.GapCandidate, 0, len(counts))
	for k, n := range counts {
		if n < a.threshold {
			continue
		}
		candidates = append(candidates, models.GapCandidate{
			Service:      k.service,
			Region:       k.region,
			MissingCount: n,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Service != candidates[j].Service {
			return candidates[i].Service < candidates[j].Service
		}
		return candidates[i].Region < candidates[j].Region
	})

	return candidates
}
