package models

import (
	"fmt"
	"strings"
	"time"
)

// TrackedService identifies an AWS service whose traffic is audited
type TrackedService string

const (
	ServiceS3  TrackedService = "S3"
	ServiceECR TrackedService = "ECR"
)

// EndpointType represents the VPC endpoint flavor a service requires
type EndpointType string

const (
	EndpointTypeGateway   EndpointType = "Gateway"
	EndpointTypeInterface EndpointType = "Interface"
)

// TrafficEvent is one normalized audit-log record. Immutable once created;
// produced by the collector and consumed by the analyzer within a single pass.
type TrafficEvent struct {
	Time          time.Time      `json:"time"`
	Service       TrackedService `json:"service"`
	Operation     string         `json:"operation"`
	ActorIdentity string         `json:"actor_identity"`
	UsedEndpoint  bool           `json:"used_endpoint"`
	EndpointID    string         `json:"endpoint_id,omitempty"`
	Region        string         `json:"region"`
}

// GapCandidate is a (service, region) pair whose non-endpoint call count met
// the detection threshold
type GapCandidate struct {
	Service      TrackedService `json:"service"`
	Region       string         `json:"region"`
	MissingCount int            `json:"missing_count"`
}

// Key returns a stable identifier for the candidate
func (g GapCandidate) Key() string {
	return fmt.Sprintf("%s/%s", g.Service, g.Region)
}

// NetworkContext describes the network placement resolved from a reference
// instance or supplied manually. Carried forward in workflow payloads, never
// mutated.
type NetworkContext struct {
	VPCID            string   `json:"vpc_id"`
	SubnetID         string   `json:"subnet_id,omitempty"`
	SecurityGroupIDs []string `json:"security_group_ids,omitempty"`
}

// HASelection is the AZ-diverse resource set chosen for one provisioning
// attempt. Exactly one of SubnetIDs or RouteTableIDs is populated depending
// on the endpoint type. Recomputed fresh on every attempt.
type HASelection struct {
	SubnetIDs     []string `json:"subnet_ids,omitempty"`
	RouteTableIDs []string `json:"route_table_ids,omitempty"`
}

// Empty reports whether the selection contains no resources
func (s HASelection) Empty() bool {
	return len(s.SubnetIDs) == 0 && len(s.RouteTableIDs) == 0
}

// ProvisioningProposal is the full creation request presented for human
// confirmation. It round-trips through the notifier callback verbatim; the
// execution step trusts nothing in it except identity fields, and re-resolves
// the rest against live state.
type ProvisioningProposal struct {
	Service          TrackedService `json:"service"`
	Region           string         `json:"region"`
	VPCID            string         `json:"vpc_id"`
	EndpointType     EndpointType   `json:"endpoint_type"`
	ServiceName      string         `json:"service_name"`
	Selection        HASelection    `json:"selection"`
	SecurityGroupIDs []string       `json:"security_group_ids,omitempty"`
	InstanceID       string         `json:"instance_id,omitempty"`
	MissingCount     int            `json:"missing_count"`
}

// Subnet is the inspector's view of a VPC subnet
type Subnet struct {
	ID               string `json:"id"`
	AvailabilityZone string `json:"availability_zone"`
	State            string `json:"state"`
	Name             string `json:"name,omitempty"`
}

// RouteTable is the inspector's view of a VPC route table
type RouteTable struct {
	ID                string   `json:"id"`
	Main              bool     `json:"main"`
	AssociatedSubnets []string `json:"associated_subnets"`
}

// VPCEndpoint is the inspector's view of an existing endpoint resource
type VPCEndpoint struct {
	ID          string `json:"id"`
	ServiceName string `json:"service_name"`
	State       string `json:"state"`
	Type        string `json:"type"`
}

// CreatedEndpoint is the provisioning API's response for a create call
type CreatedEndpoint struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// EndpointTypeFor returns the endpoint flavor a tracked service needs. S3
// traffic goes through a Gateway endpoint; ECR docker pulls need an
// Interface endpoint.
func EndpointTypeFor(service TrackedService) EndpointType {
	if service == ServiceS3 {
		return EndpointTypeGateway
	}
	return EndpointTypeInterface
}

// EndpointServiceName returns the provider service name to provision for a
// tracked service in a region. ECR maps to the ecr.dkr endpoint because
// docker push/pull is the dominant traffic source; ecr.api is a separate
// endpoint.
func EndpointServiceName(service TrackedService, region string) string {
	switch service {
	case ServiceS3:
		return fmt.Sprintf("com.amazonaws.%s.s3", region)
	case ServiceECR:
		return fmt.Sprintf("com.amazonaws.%s.ecr.dkr", region)
	default:
		return fmt.Sprintf("com.amazonaws.%s.%s", region, strings.ToLower(string(service)))
	}
}
