package cost

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/olekukonko/tablewriter"
)

const natGatewayService = "Amazon VPC NAT Gateway"

// NatAPI is the gateway inventory surface. Satisfied by *ec2.Client.
type NatAPI interface {
	DescribeNatGateways(ctx context.Context, params *ec2.DescribeNatGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNatGatewaysOutput, error)
}

// BillingAPI is the cost query surface. Satisfied by *costexplorer.Client.
type BillingAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// Report summarizes NAT gateway spend over a window
type Report struct {
	Start      time.Time
	End        time.Time
	TotalCost  float64
	Gateways   []Gateway
	AboveFloor bool
}

// Gateway is one available NAT gateway
type Gateway struct {
	ID       string
	VPCID    string
	SubnetID string
}

// NatGatewayCosts lists available NAT gateways and the service-level
// unblended cost over the window. Cost Explorer bills at service
// granularity, so the total covers all gateways together.
func NatGatewayCosts(ctx context.Context, natAPI NatAPI, billing BillingAPI, start, end time.Time, costFloor float64) (*Report, error) {
	report := &Report{Start: start, End: end}

	var token *string
	for {
		out, err := natAPI.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("failed to list NAT gateways: %w", err)
		}
		for _, nat := range out.NatGateways {
			if nat.State != ec2types.NatGatewayStateAvailable || nat.NatGatewayId == nil {
				continue
			}
			report.Gateways = append(report.Gateways, Gateway{
				ID:       *nat.NatGatewayId,
				VPCID:    aws.ToString(nat.VpcId),
				SubnetID: aws.ToString(nat.SubnetId),
			})
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}

	costOut, err := billing.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(start.Format("2006-01-02")),
			End:   aws.String(end.Format("2006-01-02")),
		},
		Granularity: cetypes.GranularityDaily,
		Metrics:     []string{"UnblendedCost"},
		Filter: &cetypes.Expression{
			Dimensions: &cetypes.DimensionValues{
				Key:    cetypes.DimensionService,
				Values: []string{natGatewayService},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query NAT gateway cost: %w", err)
	}

	for _, day := range costOut.ResultsByTime {
		metric, ok := day.Total["UnblendedCost"]
		if !ok || metric.Amount == nil {
			continue
		}
		amount, err := strconv.ParseFloat(*metric.Amount, 64)
		if err != nil {
			continue
		}
		report.TotalCost += amount
	}

	report.AboveFloor = report.TotalCost > costFloor
	return report, nil
}

// Render prints the report as a table
func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "NAT gateway cost %s to %s: $%.2f\n",
		r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"), r.TotalCost)
	if r.AboveFloor {
		fmt.Fprintln(w, "Spend is above the configured floor; VPC endpoints may reduce it.")
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAT Gateway", "VPC", "Subnet"})
	for _, gw := range r.Gateways {
		table.Append([]string{gw.ID, gw.VPCID, gw.SubnetID})
	}
	table.Render()
}
