package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/catherinevee/endpointmgr/internal/models"
)

func events(service models.TrackedService, region string, missing, covered int) []models.TrafficEvent {
	var out []models.TrafficEvent
	for i := 0; i < missing; i++ {
		out = append(out, models.TrafficEvent{Service: service, Region: region, Operation: "GetObject"})
	}
	for i := 0; i < covered; i++ {
		out = append(out, models.TrafficEvent{Service: service, Region: region, Operation: "GetObject", UsedEndpoint: true, EndpointID: "vpce-1"})
	}
	return out
}

func TestFindGaps(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		events    []models.TrafficEvent
		want      []models.GapCandidate
	}{
		{
			name:      "empty input",
			threshold: 5,
			events:    nil,
			want:      []models.GapCandidate{},
		},
		{
			name:      "below threshold",
			threshold: 5,
			events:    events(models.ServiceS3, "us-east-1", 4, 0),
			want:      []models.GapCandidate{},
		},
		{
			name:      "endpoint calls do not count toward the threshold",
			threshold: 5,
			events:    events(models.ServiceS3, "us-east-1", 2, 4),
			want:      []models.GapCandidate{},
		},
		{
			name:      "exactly at threshold",
			threshold: 5,
			events:    events(models.ServiceS3, "region-a", 5, 0),
			want: []models.GapCandidate{
				{Service: models.ServiceS3, Region: "region-a", MissingCount: 5},
			},
		},
		{
			name:      "partitions are independent per service and region",
			threshold: 3,
			events: append(append(
				events(models.ServiceS3, "us-east-1", 3, 1),
				events(models.ServiceS3, "us-west-2", 2, 0)...),
				events(models.ServiceECR, "us-east-1", 4, 0)...),
			want: []models.GapCandidate{
				{Service: models.ServiceECR, Region: "us-east-1", MissingCount: 4},
				{Service: models.ServiceS3, Region: "us-east-1", MissingCount: 3},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.threshold).FindGaps(tt.events)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindGapsDeterministicOrder(t *testing.T) {
	evs := append(append(
		events(models.ServiceS3, "us-west-2", 5, 0),
		events(models.ServiceS3, "us-east-1", 5, 0)...),
		events(models.ServiceECR, "us-west-2", 5, 0)...)

	a := New(5)
	first := a.FindGaps(evs)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, a.FindGaps(evs))
	}
}

func TestFindGapsThresholdMonotonic(t *testing.T) {
	evs := append(append(append(
		events(models.ServiceS3, "us-east-1", 7, 1),
		events(models.ServiceS3, "us-west-2", 5, 0)...),
		events(models.ServiceECR, "us-east-1", 4, 2)...),
		events(models.ServiceECR, "eu-west-1", 2, 0)...)

	// Lowering the threshold only ever grows the result set.
	for threshold := 8; threshold > 1; threshold-- {
		higher := New(threshold).FindGaps(evs)
		lower := New(threshold - 1).FindGaps(evs)

		assert.GreaterOrEqual(t, len(lower), len(higher))

		flagged := make(map[string]bool, len(lower))
		for _, c := range lower {
			flagged[c.Key()] = true
		}
		for _, c := range higher {
			assert.True(t, flagged[c.Key()],
				"candidate %s flagged at threshold %d but not at %d", c.Key(), threshold, threshold-1)
		}
	}
}

func TestNewFallsBackOnInvalidThreshold(t *testing.T) {
	evs := events(models.ServiceS3, "us-east-1", DefaultThreshold-1, 0)
	assert.Empty(t, New(0).FindGaps(evs))
	assert.Empty(t, New(-3).FindGaps(evs))

	evs = events(models.ServiceS3, "us-east-1", DefaultThreshold, 0)
	assert.Len(t, New(0).FindGaps(evs), 1)
}
