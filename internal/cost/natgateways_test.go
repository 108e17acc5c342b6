package cost

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNatAPI struct {
	pages []*ec2.DescribeNatGatewaysOutput
	calls int
}

func (f *fakeNatAPI) DescribeNatGateways(ctx context.Context, params *ec2.DescribeNatGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNatGatewaysOutput, error) {
	out := f.pages[f.calls]
	f.calls++
	return out, nil
}

type fakeBilling struct {
	out *costexplorer.GetCostAndUsageOutput
}

func (f *fakeBilling) GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error) {
	return f.out, nil
}

func day(amount string) cetypes.ResultByTime {
	return cetypes.ResultByTime{
		Total: map[string]cetypes.MetricValue{
			"UnblendedCost": {Amount: aws.String(amount)},
		},
	}
}

func TestNatGatewayCosts(t *testing.T) {
	natAPI := &fakeNatAPI{pages: []*ec2.DescribeNatGatewaysOutput{
		{
			NatGateways: []ec2types.NatGateway{
				{NatGatewayId: aws.String("nat-1"), State: ec2types.NatGatewayStateAvailable, VpcId: aws.String("vpc-1"), SubnetId: aws.String("subnet-1")},
				{NatGatewayId: aws.String("nat-gone"), State: ec2types.NatGatewayStateDeleted},
			},
			NextToken: aws.String("more"),
		},
		{
			NatGateways: []ec2types.NatGateway{
				{NatGatewayId: aws.String("nat-2"), State: ec2types.NatGatewayStateAvailable, VpcId: aws.String("vpc-2")},
			},
		},
	}}
	billing := &fakeBilling{out: &costexplorer.GetCostAndUsageOutput{
		ResultsByTime: []cetypes.ResultByTime{day("1.50"), day("2.25"), day("0.25")},
	}}

	end := time.Now().UTC()
	report, err := NatGatewayCosts(context.Background(), natAPI, billing, end.AddDate(0, 0, -10), end, 1.0)
	require.NoError(t, err)

	assert.Equal(t, 2, natAPI.calls)
	require.Len(t, report.Gateways, 2)
	assert.Equal(t, "nat-1", report.Gateways[0].ID)
	assert.Equal(t, "nat-2", report.Gateways[1].ID)
	assert.InDelta(t, 4.0, report.TotalCost, 0.001)
	assert.True(t, report.AboveFloor)
}

func TestNatGatewayCostsBelowFloor(t *testing.T) {
	natAPI := &fakeNatAPI{pages: []*ec2.DescribeNatGatewaysOutput{{}}}
	billing := &fakeBilling{out: &costexplorer.GetCostAndUsageOutput{
		ResultsByTime: []cetypes.ResultByTime{day("0.10")},
	}}

	end := time.Now().UTC()
	report, err := NatGatewayCosts(context.Background(), natAPI, billing, end.AddDate(0, 0, -1), end, 1.0)
	require.NoError(t, err)
	assert.False(t, report.AboveFloor)
}

func TestReportRender(t *testing.T) {
	report := &Report{
		Start:      time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		TotalCost:  12.5,
		AboveFloor: true,
		Gateways:   []Gateway{{ID: "nat-1", VPCID: "vpc-1", SubnetID: "subnet-1"}},
	}

	var b strings.Builder
	report.Render(&b)
	out := b.String()
	assert.Contains(t, out, "$12.50")
	assert.Contains(t, out, "nat-1")
	assert.Contains(t, out, "above the configured floor")
}
