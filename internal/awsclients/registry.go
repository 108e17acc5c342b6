package awsclients

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"golang.org/x/time/rate"
)

// Credentials holds optional static credentials; when empty the default
// provider chain (environment, shared config, instance role) is used.
type Credentials struct {
	AccessKey string
	SecretKey string
	Token     string
}

// Registry hands out per-region AWS service clients. It replaces ad hoc
// global client caches: one registry is created per process and passed
// explicitly to whatever needs clients.
type Registry struct {
	creds   *Credentials
	mu      sync.Mutex
	configs map[string]aws.Config

	// CloudTrail LookupEvents is throttled hard by the API, so all lookups
	// made through this registry share one limiter.
	lookupLimiter *rate.Limiter
}

// NewRegistry creates a new client registry
func NewRegistry(creds *Credentials) *Registry {
	return &Registry{
		creds:         creds,
		configs:       make(map[string]aws.Config),
		lookupLimiter: rate.NewLimiter(rate.Limit(2), 1),
	}
}

// configFor loads (or returns a cached) aws.Config for a region
func (r *Registry) configFor(ctx context.Context, region string) (aws.Config, error) {
	if region == "" {
		return aws.Config{}, fmt.Errorf("region must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg, ok := r.configs[region]; ok {
		return cfg, nil
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if r.creds != nil && r.creds.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(r.creds.AccessKey, r.creds.SecretKey, r.creds.Token),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config for region %s: %w", region, err)
	}

	r.configs[region] = cfg
	return cfg, nil
}

// EC2 returns an EC2 client for the region
func (r *Registry) EC2(ctx context.Context, region string) (*ec2.Client, error) {
	cfg, err := r.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return ec2.NewFromConfig(cfg), nil
}

// CloudTrail returns a CloudTrail client for the region
func (r *Registry) CloudTrail(ctx context.Context, region string) (*cloudtrail.Client, error) {
	cfg, err := r.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return cloudtrail.NewFromConfig(cfg), nil
}

// CostExplorer returns a Cost Explorer client. The Cost Explorer API is
// global but still wants a signing region.
func (r *Registry) CostExplorer(ctx context.Context, region string) (*costexplorer.Client, error) {
	cfg, err := r.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return costexplorer.NewFromConfig(cfg), nil
}

// ValidateCredentials verifies the credential chain with STS GetCallerIdentity
func (r *Registry) ValidateCredentials(ctx context.Context, region string) error {
	cfg, err := r.configFor(ctx, region)
	if err != nil {
		return err
	}

	out, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("invalid AWS credentials: %w", err)
	}
	if out.Account == nil || *out.Account == "" {
		return fmt.Errorf("invalid AWS credentials: no account ID returned")
	}
	return nil
}

// WaitLookup blocks until a CloudTrail lookup call is allowed under the
// shared rate limit
func (r *Registry) WaitLookup(ctx context.Context) error {
	return r.lookupLimiter.Wait(ctx)
}
