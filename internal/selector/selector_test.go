package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/endpointmgr/internal/apperrors"
	"github.com/catherinevee/endpointmgr/internal/models"
)

func subnet(id, zone, state string) models.Subnet {
	return models.Subnet{ID: id, AvailabilityZone: zone, State: state}
}

func TestSelectSubnets(t *testing.T) {
	tests := []struct {
		name    string
		maxAZ   int
		subnets []models.Subnet
		want    []string
	}{
		{
			name:  "one subnet per zone up to maxAZ",
			maxAZ: 3,
			subnets: []models.Subnet{
				subnet("subnet-a1", "us-east-1a", "available"),
				subnet("subnet-b1", "us-east-1b", "available"),
				subnet("subnet-c1", "us-east-1c", "available"),
				subnet("subnet-c2", "us-east-1c", "available"),
			},
			want: []string{"subnet-a1", "subnet-b1", "subnet-c1"},
		},
		{
			name:  "maxAZ caps the spread",
			maxAZ: 2,
			subnets: []models.Subnet{
				subnet("subnet-a1", "us-east-1a", "available"),
				subnet("subnet-b1", "us-east-1b", "available"),
				subnet("subnet-c1", "us-east-1c", "available"),
			},
			want: []string{"subnet-a1", "subnet-b1"},
		},
		{
			name:  "unavailable subnets are excluded",
			maxAZ: 3,
			subnets: []models.Subnet{
				subnet("subnet-a1", "us-east-1a", "pending"),
				subnet("subnet-a2", "us-east-1a", "available"),
				subnet("subnet-b1", "us-east-1b", "available"),
			},
			want: []string{"subnet-a2", "subnet-b1"},
		},
		{
			name:    "no available subnets yields empty selection",
			maxAZ:   3,
			subnets: []models.Subnet{subnet("subnet-a1", "us-east-1a", "pending")},
			want:    nil,
		},
		{
			name:  "lowest subnet ID wins within a zone",
			maxAZ: 3,
			subnets: []models.Subnet{
				subnet("subnet-a9", "us-east-1a", "available"),
				subnet("subnet-a1", "us-east-1a", "available"),
			},
			want: []string{"subnet-a1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.maxAZ).SelectSubnets(tt.subnets)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectRouteTables(t *testing.T) {
	subnets := []models.Subnet{
		subnet("subnet-a1", "us-east-1a", "available"),
		subnet("subnet-b1", "us-east-1b", "available"),
		subnet("subnet-c1", "us-east-1c", "available"),
	}

	t.Run("explicit association per zone", func(t *testing.T) {
		tables := []models.RouteTable{
			{ID: "rtb-main", Main: true},
			{ID: "rtb-a", AssociatedSubnets: []string{"subnet-a1"}},
			{ID: "rtb-b", AssociatedSubnets: []string{"subnet-b1"}},
			{ID: "rtb-c", AssociatedSubnets: []string{"subnet-c1"}},
		}
		got, err := New(3).SelectRouteTables(subnets, tables)
		require.NoError(t, err)
		assert.Equal(t, []string{"rtb-a", "rtb-b", "rtb-c"}, got)
	})

	t.Run("shared table selected once", func(t *testing.T) {
		tables := []models.RouteTable{
			{ID: "rtb-shared", AssociatedSubnets: []string{"subnet-a1", "subnet-b1", "subnet-c1"}},
		}
		got, err := New(3).SelectRouteTables(subnets, tables)
		require.NoError(t, err)
		assert.Equal(t, []string{"rtb-shared"}, got)
	})

	t.Run("main table covers unassociated zones at most once", func(t *testing.T) {
		tables := []models.RouteTable{
			{ID: "rtb-main", Main: true},
			{ID: "rtb-a", AssociatedSubnets: []string{"subnet-a1"}},
		}
		got, err := New(3).SelectRouteTables(subnets, tables)
		require.NoError(t, err)
		assert.Equal(t, []string{"rtb-a", "rtb-main"}, got)
	})

	t.Run("no subnets falls back to main table alone", func(t *testing.T) {
		tables := []models.RouteTable{{ID: "rtb-main", Main: true}}
		got, err := New(3).SelectRouteTables(nil, tables)
		require.NoError(t, err)
		assert.Equal(t, []string{"rtb-main"}, got)
	})

	t.Run("no association and no main table fails", func(t *testing.T) {
		tables := []models.RouteTable{
			{ID: "rtb-x", AssociatedSubnets: []string{"subnet-elsewhere"}},
		}
		_, err := New(3).SelectRouteTables(subnets, tables)
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindSelection))
	})

	t.Run("main table already chosen explicitly is not duplicated", func(t *testing.T) {
		tables := []models.RouteTable{
			{ID: "rtb-main", Main: true, AssociatedSubnets: []string{"subnet-a1"}},
		}
		got, err := New(3).SelectRouteTables(subnets, tables)
		require.NoError(t, err)
		assert.Equal(t, []string{"rtb-main"}, got)
	})
}
