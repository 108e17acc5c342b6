package selector

import (
	"sort"

	"github.com/catherinevee/endpointmgr/internal/apperrors"
	"github.com/catherinevee/endpointmgr/internal/models"
)

// DefaultMaxAZ is the number of availability zones spread across by default
const DefaultMaxAZ = 3

const subnetStateAvailable = "available"

// Selector picks AZ-diverse resources for endpoint placement. Selection is
// pure and recomputed fresh on every provisioning attempt; topology may
// change between proposal and execution.
type Selector struct {
	maxAZ int
}

// New creates a selector; maxAZ below 1 falls back to the default
func New(maxAZ int) *Selector {
	if maxAZ < 1 {
		maxAZ = DefaultMaxAZ
	}
	return &Selector{maxAZ: maxAZ}
}

// byZone groups available subnets by AZ, each group sorted by subnet ID,
// and returns the sorted zone names
func byZone(subnets []models.Subnet) (map[string][]models.Subnet, []string) {
	groups := make(map[string][]models.Subnet)
	for _, s := range subnets {
		if s.State != subnetStateAvailable {
			continue
		}
		groups[s.AvailabilityZone] = append(groups[s.AvailabilityZone], s)
	}

	zones := make([]string, 0, len(groups))
	for zone, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		zones = append(zones, zone)
	}
	sort.Strings(zones)
	return groups, zones
}

// SelectSubnets picks one available subnet from each of the first maxAZ
// zones (zone names sorted lexicographically). No available subnets yields
// an empty selection, not an error; the caller decides how to surface it.
func (s *Selector) SelectSubnets(subnets []models.Subnet) []string {
	groups, zones := byZone(subnets)

	var selected []string
	for _, zone := range zones {
		if len(selected) == s.maxAZ {
			break
		}
		selected = append(selected, groups[zone][0].ID)
	}
	return selected
}

// SelectRouteTables picks, for each of the first maxAZ zones, the route
// table explicitly associated with a subnet in that zone; zones with no
// explicit association fall back to the VPC's main route table, which is
// included at most once. No explicit association anywhere and no main table
// is a selection failure.
func (s *Selector) SelectRouteTables(subnets []models.Subnet, tables []models.RouteTable) ([]string, error) {
	groups, zones := byZone(subnets)

	tableBySubnet := make(map[string]string)
	var mainTable string
	for _, rt := range tables {
		if rt.Main {
			mainTable = rt.ID
		}
		for _, subnetID := range rt.AssociatedSubnets {
			tableBySubnet[subnetID] = rt.ID
		}
	}

	var selected []string
	chosen := make(map[string]bool)
	mainNeeded := false
	for i, zone := range zones {
		if i == s.maxAZ {
			break
		}
		zoneTable := ""
		for _, subnet := range groups[zone] {
			if id, ok := tableBySubnet[subnet.ID]; ok {
				zoneTable = id
				break
			}
		}
		if zoneTable == "" {
			mainNeeded = true
			continue
		}
		if !chosen[zoneTable] {
			chosen[zoneTable] = true
			selected = append(selected, zoneTable)
		}
	}

	if mainNeeded || len(selected) == 0 {
		if mainTable == "" {
			if len(selected) == 0 {
				return nil, apperrors.New(apperrors.KindSelection,
					"no route table is explicitly associated and the VPC has no main route table")
			}
		} else if !chosen[mainTable] {
			selected = append(selected, mainTable)
		}
	}

	if len(selected) == 0 {
		return nil, apperrors.New(apperrors.KindSelection, "no usable route tables found")
	}

	return selected, nil
}
