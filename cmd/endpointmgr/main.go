package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/catherinevee/endpointmgr/internal/awsclients"
	"github.com/catherinevee/endpointmgr/internal/collector"
	"github.com/catherinevee/endpointmgr/internal/config"
	"github.com/catherinevee/endpointmgr/internal/cost"
	"github.com/catherinevee/endpointmgr/internal/jobs"
	"github.com/catherinevee/endpointmgr/internal/logger"
	"github.com/catherinevee/endpointmgr/internal/models"
	"github.com/catherinevee/endpointmgr/internal/notify"
	"github.com/catherinevee/endpointmgr/internal/workflow"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "audit":
		err = runAudit(os.Args[2:])
	case "instance":
		err = runInstance(os.Args[2:])
	case "nat-costs":
		err = runNatCosts(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `endpointmgr audits egress traffic for AWS API calls that bypass VPC
endpoints and provisions missing endpoints with AZ-diverse placement.

Usage:
  endpointmgr audit     --region <region> [--hours N | --days N] [--vpc-id <id> --security-groups <ids>] [--instance-id <id>] [--auto-approve]
  endpointmgr instance  --instance-id <id> --region <region> [--hours N | --days N]
  endpointmgr nat-costs --region <region> [--days N]

audit and instance are mutually exclusive modes: audit takes an explicit
window and an optional reference instance, instance scopes everything to
one instance and its region.
`)
}

// window derives the collection window from --hours/--days flags
func window(hours, days int, fallback time.Duration) collector.Window {
	end := time.Now().UTC()
	var span time.Duration
	switch {
	case hours > 0:
		span = time.Duration(hours) * time.Hour
	case days > 0:
		span = time.Duration(days) * 24 * time.Hour
	default:
		span = fallback
	}
	return collector.Window{Start: end.Add(-span), End: end}
}

func setup(configPath string) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Initialize(cfg.Logging)
	return cfg, logger.Get(), nil
}

// promptDecision is the interactive confirmation adapter: the workflow core
// only sees a decision function.
func promptDecision(autoApprove bool) workflow.DecisionFunc {
	return func(p models.ProvisioningProposal) bool {
		if autoApprove {
			return true
		}
		fmt.Printf("Create the %s endpoint (%s) in %s? [y/N]: ", p.Service, p.ServiceName, p.VPCID)
		reader := bufio.NewReader(os.Stdin)
		answer, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(answer), "y")
	}
}

func runAudit(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	region := fs.String("region", "", "region to audit (required)")
	hours := fs.Int("hours", 0, "window length in hours")
	days := fs.Int("days", 0, "window length in days")
	instanceID := fs.String("instance-id", "", "optional reference instance for network context")
	vpcID := fs.String("vpc-id", "", "manual network context: VPC ID")
	securityGroups := fs.String("security-groups", "", "manual network context: comma-separated security group IDs")
	autoApprove := fs.Bool("auto-approve", false, "create endpoints without prompting")
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	if *region == "" {
		return fmt.Errorf("--region is required")
	}
	if *instanceID != "" && *vpcID != "" {
		return fmt.Errorf("--instance-id and --vpc-id are mutually exclusive")
	}

	cfg, log, err := setup(*configPath)
	if err != nil {
		return err
	}

	var manual *models.NetworkContext
	if *vpcID != "" {
		manual = &models.NetworkContext{VPCID: *vpcID}
		if *securityGroups != "" {
			manual.SecurityGroupIDs = strings.Split(*securityGroups, ",")
		}
	}

	registry := awsclients.NewRegistry(nil)
	ctx := context.Background()
	if err := registry.ValidateCredentials(ctx, *region); err != nil {
		return err
	}

	queue := jobs.NewQueue(4, log)
	orch := workflow.New(cfg, workflow.NewAWSClients(registry), queue, notify.NewConsole(), log).
		WithDecision(promptDecision(*autoApprove)).
		WithSnapshots(*instanceID == "")

	if err := orch.StartAudit(workflow.CollectPayload{
		Window:     window(*hours, *days, cfg.Audit.Window),
		Region:     *region,
		InstanceID: *instanceID,
		Network:    manual,
	}); err != nil {
		return err
	}

	queue.Drain()
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return queue.Shutdown(shutdownCtx)
}

func runInstance(args []string) error {
	fs := flag.NewFlagSet("instance", flag.ExitOnError)
	instanceID := fs.String("instance-id", "", "instance to audit (required)")
	region := fs.String("region", "", "instance region (required)")
	hours := fs.Int("hours", 0, "window length in hours")
	days := fs.Int("days", 0, "window length in days")
	maxEvents := fs.Int("max-events", 20, "recent events to print before analysis")
	autoApprove := fs.Bool("auto-approve", false, "create endpoints without prompting")
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	if *instanceID == "" || *region == "" {
		return fmt.Errorf("--instance-id and --region are required")
	}

	cfg, log, err := setup(*configPath)
	if err != nil {
		return err
	}

	registry := awsclients.NewRegistry(nil)
	ctx := context.Background()
	if err := registry.ValidateCredentials(ctx, *region); err != nil {
		return err
	}

	win := window(*hours, *days, 24*time.Hour)

	// Print the instance's recent tracked traffic before the gap analysis.
	ct, err := registry.CloudTrail(ctx, *region)
	if err != nil {
		return err
	}
	result, err := collector.New(cfg.Audit, registry, log).Collect(ctx, ct, win, *instanceID)
	if err != nil {
		return err
	}
	printRecentEvents(result.Events, *instanceID, *maxEvents)

	queue := jobs.NewQueue(4, log)
	orch := workflow.New(cfg, workflow.NewAWSClients(registry), queue, notify.NewConsole(), log).
		WithDecision(promptDecision(*autoApprove))

	if err := orch.StartAudit(workflow.CollectPayload{
		Window:     win,
		Region:     *region,
		InstanceID: *instanceID,
	}); err != nil {
		return err
	}

	queue.Drain()
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return queue.Shutdown(shutdownCtx)
}

func printRecentEvents(events []models.TrafficEvent, instanceID string, max int) {
	if len(events) == 0 {
		fmt.Printf("No tracked-service events found for instance %s.\n", instanceID)
		return
	}

	sorted := make([]models.TrafficEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.After(sorted[j].Time) })

	yes := color.New(color.FgGreen).Sprint("yes")
	no := color.New(color.FgRed).Sprint("no")

	fmt.Printf("Recent events for instance %s (newest first, up to %d):\n", instanceID, max)
	for i, e := range sorted {
		if i == max {
			fmt.Printf("... %d more not shown\n", len(sorted)-max)
			break
		}
		used := no
		if e.UsedEndpoint {
			used = yes
		}
		fmt.Printf("  %s  %-24s endpoint=%s service=%s actor=%s\n",
			e.Time.Format(time.RFC3339), e.Operation, used, e.Service, e.ActorIdentity)
	}
}

func runNatCosts(args []string) error {
	fs := flag.NewFlagSet("nat-costs", flag.ExitOnError)
	region := fs.String("region", "", "region to inspect (required)")
	days := fs.Int("days", 10, "billing window length in days")
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	if *region == "" {
		return fmt.Errorf("--region is required")
	}

	cfg, _, err := setup(*configPath)
	if err != nil {
		return err
	}

	registry := awsclients.NewRegistry(nil)
	ctx := context.Background()

	ec2Client, err := registry.EC2(ctx, *region)
	if err != nil {
		return err
	}
	billing, err := registry.CostExplorer(ctx, *region)
	if err != nil {
		return err
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -*days)
	report, err := cost.NatGatewayCosts(ctx, ec2Client, billing, start, end, cfg.Cost.CostFloor)
	if err != nil {
		return err
	}

	report.Render(os.Stdout)
	return nil
}
