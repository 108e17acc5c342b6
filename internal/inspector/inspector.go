package inspector

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/catherinevee/endpointmgr/internal/apperrors"
	"github.com/catherinevee/endpointmgr/internal/models"
)

// EC2API is the network inventory and provisioning surface used by the
// inspector. Satisfied by *ec2.Client.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeRouteTables(ctx context.Context, params *ec2.DescribeRouteTablesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error)
	DescribeVpcEndpoints(ctx context.Context, params *ec2.DescribeVpcEndpointsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcEndpointsOutput, error)
	CreateVpcEndpoint(ctx context.Context, params *ec2.CreateVpcEndpointInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcEndpointOutput, error)
}

// terminalEndpointStates are excluded from existence checks. The API returns
// VPC endpoint states in lowercase, unlike the SDK's PascalCase enum
// constants, so matching is case-insensitive.
var terminalEndpointStates = map[string]bool{
	"deleted":  true,
	"deleting": true,
	"failed":   true,
}

// Inspector resolves network topology through the inventory API
type Inspector struct {
	api EC2API
}

// New creates an inspector over an inventory API
func New(api EC2API) *Inspector {
	return &Inspector{api: api}
}

// ResolveInstanceNetwork returns the VPC, subnet, and security groups of a
// compute instance. A missing instance is a resolution failure distinct from
// a transport error.
func (i *Inspector) ResolveInstanceNetwork(ctx context.Context, instanceID string) (*models.NetworkContext, error) {
	out, err := i.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindResolution, err, fmt.Sprintf("failed to describe instance %s", instanceID))
	}

	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			if inst.VpcId == nil || *inst.VpcId == "" {
				return nil, apperrors.Newf(apperrors.KindResolution, "instance %s has no VPC placement", instanceID)
			}

			ctx := &models.NetworkContext{
				VPCID: *inst.VpcId,
			}
			if inst.SubnetId != nil {
				ctx.SubnetID = *inst.SubnetId
			}
			for _, sg := range inst.SecurityGroups {
				if sg.GroupId != nil {
					ctx.SecurityGroupIDs = append(ctx.SecurityGroupIDs, *sg.GroupId)
				}
			}
			return ctx, nil
		}
	}

	return nil, apperrors.Newf(apperrors.KindResolution, "instance %s not found", instanceID)
}

// ListSubnets returns the subnets of a VPC
func (i *Inspector) ListSubnets(ctx context.Context, vpcID string) ([]models.Subnet, error) {
	out, err := i.api.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{vpcFilter(vpcID)},
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindResolution, err, fmt.Sprintf("failed to list subnets of %s", vpcID))
	}

	subnets := make([]models.Subnet, 0, len(out.Subnets))
	for _, s := range out.Subnets {
		if s.SubnetId == nil || s.AvailabilityZone == nil {
			continue
		}
		subnet := models.Subnet{
			ID:               *s.SubnetId,
			AvailabilityZone: *s.AvailabilityZone,
			State:            string(s.State),
		}
		for _, tag := range s.Tags {
			if tag.Key != nil && *tag.Key == "Name" && tag.Value != nil {
				subnet.Name = *tag.Value
			}
		}
		subnets = append(subnets, subnet)
	}
	return subnets, nil
}

// ListRouteTables returns the route tables of a VPC with their explicit
// subnet associations; the main table is flagged
func (i *Inspector) ListRouteTables(ctx context.Context, vpcID string) ([]models.RouteTable, error) {
	out, err := i.api.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{vpcFilter(vpcID)},
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindResolution, err, fmt.Sprintf("failed to list route tables of %s", vpcID))
	}

	tables := make([]models.RouteTable, 0, len(out.RouteTables))
	for _, rt := range out.RouteTables {
		if rt.RouteTableId == nil {
			continue
		}
		table := models.RouteTable{ID: *rt.RouteTableId}
		for _, assoc := range rt.Associations {
			if assoc.Main != nil && *assoc.Main {
				table.Main = true
			}
			if assoc.SubnetId != nil {
				table.AssociatedSubnets = append(table.AssociatedSubnets, *assoc.SubnetId)
			}
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// ExistingEndpoints returns non-terminal endpoint resources for a
// (VPC, service name) pair. A query failure means "unknown", which callers
// must treat as blocking rather than as an empty result.
func (i *Inspector) ExistingEndpoints(ctx context.Context, vpcID, serviceName string) ([]models.VPCEndpoint, error) {
	out, err := i.api.DescribeVpcEndpoints(ctx, &ec2.DescribeVpcEndpointsInput{
		Filters: []ec2types.Filter{
			vpcFilter(vpcID),
			{Name: aws.String("service-name"), Values: []string{serviceName}},
		},
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindExistenceCheck, err,
			fmt.Sprintf("could not determine whether %s already has a %s endpoint", vpcID, serviceName))
	}

	var existing []models.VPCEndpoint
	for _, ep := range out.VpcEndpoints {
		if ep.VpcEndpointId == nil || terminalEndpointStates[strings.ToLower(string(ep.State))] {
			continue
		}
		existing = append(existing, models.VPCEndpoint{
			ID:          *ep.VpcEndpointId,
			ServiceName: aws.ToString(ep.ServiceName),
			State:       string(ep.State),
			Type:        string(ep.VpcEndpointType),
		})
	}
	return existing, nil
}

// CreateEndpoint issues the provisioning call for a proposal. The selection
// and security groups must already be re-resolved against current state.
func (i *Inspector) CreateEndpoint(ctx context.Context, proposal models.ProvisioningProposal, extraTags map[string]string) (*models.CreatedEndpoint, error) {
	tags := []ec2types.Tag{
		{Key: aws.String("Name"), Value: aws.String(fmt.Sprintf("%s-%s-endpoint", proposal.VPCID, proposal.Service))},
		{Key: aws.String("CreatedBy"), Value: aws.String("endpointmgr")},
	}
	for k, v := range extraTags {
		tags = append(tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	input := &ec2.CreateVpcEndpointInput{
		VpcId:           aws.String(proposal.VPCID),
		ServiceName:     aws.String(proposal.ServiceName),
		VpcEndpointType: ec2types.VpcEndpointType(proposal.EndpointType),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeVpcEndpoint,
			Tags:         tags,
		}},
	}

	switch proposal.EndpointType {
	case models.EndpointTypeGateway:
		input.RouteTableIds = proposal.Selection.RouteTableIDs
	case models.EndpointTypeInterface:
		input.SubnetIds = proposal.Selection.SubnetIDs
		input.SecurityGroupIds = proposal.SecurityGroupIDs
		input.PrivateDnsEnabled = aws.Bool(true)
	default:
		return nil, apperrors.Newf(apperrors.KindProvisioning, "unsupported endpoint type %q", proposal.EndpointType)
	}

	out, err := i.api.CreateVpcEndpoint(ctx, input)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindProvisioning, err,
			fmt.Sprintf("failed to create %s endpoint in %s", proposal.ServiceName, proposal.VPCID))
	}
	if out.VpcEndpoint == nil || out.VpcEndpoint.VpcEndpointId == nil {
		return nil, apperrors.New(apperrors.KindProvisioning, "create call succeeded but returned no endpoint ID")
	}

	return &models.CreatedEndpoint{
		ID:    *out.VpcEndpoint.VpcEndpointId,
		State: string(out.VpcEndpoint.State),
	}, nil
}

func vpcFilter(vpcID string) ec2types.Filter {
	return ec2types.Filter{Name: aws.String("vpc-id"), Values: []string{vpcID}}
}
