package workflow

import (
	"context"

	"github.com/catherinevee/endpointmgr/internal/awsclients"
	"github.com/catherinevee/endpointmgr/internal/collector"
	"github.com/catherinevee/endpointmgr/internal/inspector"
)

// awsClientFactory adapts the process-wide client registry to the
// ClientFactory surface the steps consume
type awsClientFactory struct {
	registry *awsclients.Registry
}

// NewAWSClients wraps a client registry as a ClientFactory
func NewAWSClients(registry *awsclients.Registry) ClientFactory {
	return &awsClientFactory{registry: registry}
}

func (f *awsClientFactory) EC2(ctx context.Context, region string) (inspector.EC2API, error) {
	return f.registry.EC2(ctx, region)
}

func (f *awsClientFactory) CloudTrail(ctx context.Context, region string) (collector.LookupAPI, error) {
	return f.registry.CloudTrail(ctx, region)
}

func (f *awsClientFactory) WaitLookup(ctx context.Context) error {
	return f.registry.WaitLookup(ctx)
}
