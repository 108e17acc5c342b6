package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/catherinevee/endpointmgr/internal/analysis"
	"github.com/catherinevee/endpointmgr/internal/apperrors"
	"github.com/catherinevee/endpointmgr/internal/collector"
	"github.com/catherinevee/endpointmgr/internal/config"
	"github.com/catherinevee/endpointmgr/internal/inspector"
	"github.com/catherinevee/endpointmgr/internal/jobs"
	"github.com/catherinevee/endpointmgr/internal/logger"
	"github.com/catherinevee/endpointmgr/internal/models"
	"github.com/catherinevee/endpointmgr/internal/notify"
	"github.com/catherinevee/endpointmgr/internal/selector"
)

// ClientFactory hands out per-region API clients to workflow steps. One
// factory is owned by the process and passed in; steps hold no clients of
// their own.
type ClientFactory interface {
	EC2(ctx context.Context, region string) (inspector.EC2API, error)
	CloudTrail(ctx context.Context, region string) (collector.LookupAPI, error)
	WaitLookup(ctx context.Context) error
}

// DecisionFunc decides a proposal without human interaction. When set on the
// orchestrator it replaces the AwaitingConfirmation suspension: true means
// execute immediately, false means cancel. The CLI binds this to a flag or a
// terminal prompt; the core never prompts.
type DecisionFunc func(models.ProvisioningProposal) bool

// Orchestrator sequences collection, analysis, proposal, confirmation, and
// execution as independent queue-dispatched steps. Steps carry their full
// state in the payload and tolerate at-least-once delivery through the
// existence check and fresh selection performed at the start of Proposing
// and Executing.
type Orchestrator struct {
	cfg     *config.Config
	clients ClientFactory
	queue   *jobs.Queue
	sender  notify.Sender
	decide  DecisionFunc
	log     logger.Logger

	// snapshots enables the CSV side effect of manual-mode collection
	snapshots bool
}

// New creates an orchestrator and registers its step handlers on the queue
func New(cfg *config.Config, clients ClientFactory, queue *jobs.Queue, sender notify.Sender, log logger.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		clients: clients,
		queue:   queue,
		sender:  sender,
		log:     log,
	}
	queue.RegisterHandler(StepCollect, o.handleCollect)
	queue.RegisterHandler(StepAnalyze, o.handleAnalyze)
	queue.RegisterHandler(StepPropose, o.handlePropose)
	queue.RegisterHandler(StepExecute, o.handleExecute)
	return o
}

// WithDecision sets a non-interactive confirmation decision
func (o *Orchestrator) WithDecision(decide DecisionFunc) *Orchestrator {
	o.decide = decide
	return o
}

// WithSnapshots enables CSV snapshot persistence for complete manual-mode
// collection passes
func (o *Orchestrator) WithSnapshots(enabled bool) *Orchestrator {
	o.snapshots = enabled
	return o
}

// StartAudit begins a workflow instance in the Collecting state
func (o *Orchestrator) StartAudit(payload CollectPayload) error {
	if _, err := o.queue.Enqueue(StepCollect, payload); err != nil {
		return fmt.Errorf("failed to start audit: %w", err)
	}
	return nil
}

// HandleApproval resumes a suspended workflow from an approval callback. The
// proposal is rebuilt from the callback token alone; nothing is re-derived
// from memory.
func (o *Orchestrator) HandleApproval(ctx context.Context, token, responseURL string) error {
	proposal, err := notify.DecodeProposal(token)
	if err != nil {
		o.report(ctx, responseURL, fmt.Sprintf("Confirmation payload could not be decoded: %v", err))
		return err
	}

	o.report(ctx, responseURL, fmt.Sprintf("Creating the %s endpoint in %s...", proposal.Service, proposal.VPCID))

	if _, err := o.queue.Enqueue(StepExecute, ExecutePayload{Proposal: proposal, ResponseURL: responseURL}); err != nil {
		return fmt.Errorf("failed to schedule execution: %w", err)
	}
	return nil
}

// HandleRejection terminates a suspended workflow as cancelled
func (o *Orchestrator) HandleRejection(ctx context.Context, responseURL string) {
	o.report(ctx, responseURL, "Endpoint creation cancelled.")
}

// handleCollect runs the Collecting state: drain the audit log, persist
// snapshots for complete manual-mode passes, then move to Analyzing
func (o *Orchestrator) handleCollect(ctx context.Context, job *jobs.Job) error {
	var payload CollectPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("invalid collect payload: %w", err)
	}

	api, err := o.clients.CloudTrail(ctx, payload.Region)
	if err != nil {
		o.report(ctx, payload.ResponseURL, fmt.Sprintf("Audit aborted: %v", err))
		return nil
	}

	coll := collector.New(o.cfg.Audit, o.clients, o.log)
	result, err := coll.Collect(ctx, api, payload.Window, payload.InstanceID)
	if err != nil {
		o.report(ctx, payload.ResponseURL, fmt.Sprintf("Audit log collection failed: %v", err))
		return nil
	}

	// A partially drained window must not drive analysis: missing pages would
	// understate counts and could provision from a skewed picture.
	if !result.Complete {
		o.report(ctx, payload.ResponseURL, "Audit log collection ended early; aborting this pass without analysis.")
		return nil
	}

	if o.snapshots && payload.InstanceID == "" {
		if err := collector.WriteSnapshots(o.cfg.Audit.LatestCSV, o.cfg.Audit.CumulativeCSV, result.Events); err != nil {
			o.log.Warn("snapshot persistence failed", logger.Err(err))
		}
	}

	if len(result.Events) == 0 {
		o.report(ctx, payload.ResponseURL, "No tracked-service traffic found in the window.")
		return nil
	}

	_, err = o.queue.Enqueue(StepAnalyze, AnalyzePayload{
		Events:      result.Events,
		Region:      payload.Region,
		InstanceID:  payload.InstanceID,
		Network:     payload.Network,
		ResponseURL: payload.ResponseURL,
	})
	return err
}

// handleAnalyze runs the Analyzing state: detect gaps and fan out one
// Proposing sub-workflow per candidate. Candidates are independent; a
// failure in one never reaches its siblings.
func (o *Orchestrator) handleAnalyze(ctx context.Context, job *jobs.Job) error {
	var payload AnalyzePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("invalid analyze payload: %w", err)
	}

	gaps := analysis.New(o.cfg.Audit.Threshold).FindGaps(payload.Events)
	if len(gaps) == 0 {
		o.report(ctx, payload.ResponseURL, fmt.Sprintf(
			"Analysis complete: no (service, region) pair had %d or more calls bypassing a VPC endpoint.",
			o.cfg.Audit.Threshold))
		return nil
	}

	for _, candidate := range gaps {
		// Instance-scoped audits only act in the instance's region; manual
		// audits act on every region the traffic was found in.
		if payload.InstanceID != "" && payload.Region != "" && candidate.Region != payload.Region {
			o.reportCandidate(ctx, payload.ResponseURL, candidate, fmt.Sprintf(
				"outside the audited region %s, skipped", payload.Region))
			continue
		}
		if _, err := o.queue.Enqueue(StepPropose, ProposePayload{
			Candidate:   candidate,
			InstanceID:  payload.InstanceID,
			Network:     payload.Network,
			ResponseURL: payload.ResponseURL,
		}); err != nil {
			o.log.Error("failed to fan out candidate",
				logger.String("candidate", candidate.Key()), logger.Err(err))
		}
	}
	return nil
}

// handlePropose runs the Proposing state for one candidate: resolve the
// network context, check for an existing endpoint, select HA resources, and
// deliver the proposal. Re-running it with the same payload is safe; the
// existence check short-circuits duplicates.
func (o *Orchestrator) handlePropose(ctx context.Context, job *jobs.Job) error {
	var payload ProposePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("invalid propose payload: %w", err)
	}
	candidate := payload.Candidate

	api, err := o.clients.EC2(ctx, candidate.Region)
	if err != nil {
		o.reportCandidate(ctx, payload.ResponseURL, candidate, fmt.Sprintf("region %s is unreachable: %v", candidate.Region, err))
		return nil
	}
	insp := inspector.New(api)

	network, err := o.resolveNetwork(ctx, insp, payload.InstanceID, payload.Network)
	if err != nil {
		o.reportCandidate(ctx, payload.ResponseURL, candidate, fmt.Sprintf("network context could not be resolved: %v", err))
		return nil
	}

	serviceName := models.EndpointServiceName(candidate.Service, candidate.Region)
	existing, err := insp.ExistingEndpoints(ctx, network.VPCID, serviceName)
	if err != nil {
		// Unknown is not empty: without a definitive answer we must not
		// provision.
		o.reportCandidate(ctx, payload.ResponseURL, candidate, fmt.Sprintf("existence check failed, not proceeding: %v", err))
		return nil
	}
	if len(existing) > 0 {
		o.reportCandidate(ctx, payload.ResponseURL, candidate, fmt.Sprintf(
			"skipped: VPC %s already has a %s endpoint (%s, state %s)",
			network.VPCID, serviceName, existing[0].ID, existing[0].State))
		return nil
	}

	proposal, err := o.buildProposal(ctx, insp, candidate, *network, payload.InstanceID)
	if err != nil {
		o.reportCandidate(ctx, payload.ResponseURL, candidate, fmt.Sprintf("no viable resources: %v", err))
		return nil
	}

	if o.decide != nil {
		if o.decide(*proposal) {
			_, err := o.queue.Enqueue(StepExecute, ExecutePayload{Proposal: *proposal, ResponseURL: payload.ResponseURL})
			return err
		}
		o.reportCandidate(ctx, payload.ResponseURL, candidate, "creation declined")
		return nil
	}

	msg := notify.ProposalMessage(*proposal, o.cfg.Notifier.PayloadByteBudget)
	if err := o.sender.Send(ctx, o.destination(payload.ResponseURL), msg); err != nil {
		o.log.Error("proposal delivery failed", logger.String("candidate", candidate.Key()), logger.Err(err))
		return err
	}
	// The workflow instance now suspends; an approval or rejection callback
	// carries the proposal payload into the next step.
	return nil
}

// handleExecute runs the Executing state: everything is re-resolved against
// current state before the create call, because topology may have drifted
// between proposal and confirmation.
func (o *Orchestrator) handleExecute(ctx context.Context, job *jobs.Job) error {
	var payload ExecutePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("invalid execute payload: %w", err)
	}
	approved := payload.Proposal
	candidate := models.GapCandidate{Service: approved.Service, Region: approved.Region, MissingCount: approved.MissingCount}

	api, err := o.clients.EC2(ctx, approved.Region)
	if err != nil {
		o.reportCandidate(ctx, payload.ResponseURL, candidate, fmt.Sprintf("region %s is unreachable: %v", approved.Region, err))
		return nil
	}
	insp := inspector.New(api)

	var manual *models.NetworkContext
	if approved.InstanceID == "" {
		manual = &models.NetworkContext{VPCID: approved.VPCID, SecurityGroupIDs: approved.SecurityGroupIDs}
	}
	network, err := o.resolveNetwork(ctx, insp, approved.InstanceID, manual)
	if err != nil {
		o.reportCandidate(ctx, payload.ResponseURL, candidate, fmt.Sprintf("network context could not be re-resolved: %v", err))
		return nil
	}
	if network.VPCID != approved.VPCID {
		o.reportCandidate(ctx, payload.ResponseURL, candidate, fmt.Sprintf(
			"aborted: the reference instance moved from %s to %s after the proposal was approved",
			approved.VPCID, network.VPCID))
		return nil
	}

	existing, err := insp.ExistingEndpoints(ctx, approved.VPCID, approved.ServiceName)
	if err != nil {
		o.reportCandidate(ctx, payload.ResponseURL, candidate, fmt.Sprintf("existence check failed, not proceeding: %v", err))
		return nil
	}
	if len(existing) > 0 {
		o.reportCandidate(ctx, payload.ResponseURL, candidate, fmt.Sprintf(
			"skipped: endpoint %s already exists (state %s)", existing[0].ID, existing[0].State))
		return nil
	}

	fresh, err := o.buildProposal(ctx, insp, candidate, *network, approved.InstanceID)
	if err != nil {
		o.reportCandidate(ctx, payload.ResponseURL, candidate, fmt.Sprintf("resources are no longer viable: %v", err))
		return nil
	}

	tags := map[string]string{}
	if approved.InstanceID != "" {
		tags["CreatedFromReferenceInstance"] = approved.InstanceID
	}

	created, err := insp.CreateEndpoint(ctx, *fresh, tags)
	if err != nil {
		o.reportCandidate(ctx, payload.ResponseURL, candidate, fmt.Sprintf("creation failed: %v", err))
		return nil
	}

	o.report(ctx, payload.ResponseURL, fmt.Sprintf(
		"VPC endpoint creation requested.\nID: %s\nState: %s (pending is expected)", created.ID, created.State))
	return nil
}

// buildProposal runs HA selection for a candidate against current topology
func (o *Orchestrator) buildProposal(ctx context.Context, insp *inspector.Inspector, candidate models.GapCandidate, network models.NetworkContext, instanceID string) (*models.ProvisioningProposal, error) {
	endpointType := models.EndpointTypeFor(candidate.Service)
	sel := selector.New(o.cfg.Selector.MaxAZ)

	subnets, err := insp.ListSubnets(ctx, network.VPCID)
	if err != nil {
		return nil, err
	}

	proposal := &models.ProvisioningProposal{
		Service:      candidate.Service,
		Region:       candidate.Region,
		VPCID:        network.VPCID,
		EndpointType: endpointType,
		ServiceName:  models.EndpointServiceName(candidate.Service, candidate.Region),
		InstanceID:   instanceID,
		MissingCount: candidate.MissingCount,
	}

	switch endpointType {
	case models.EndpointTypeGateway:
		tables, err := insp.ListRouteTables(ctx, network.VPCID)
		if err != nil {
			return nil, err
		}
		routeTableIDs, err := sel.SelectRouteTables(subnets, tables)
		if err != nil {
			return nil, err
		}
		proposal.Selection = models.HASelection{RouteTableIDs: routeTableIDs}

	case models.EndpointTypeInterface:
		subnetIDs := sel.SelectSubnets(subnets)
		if len(subnetIDs) == 0 {
			return nil, apperrors.Newf(apperrors.KindSelection, "VPC %s has no available subnets", network.VPCID)
		}
		if len(network.SecurityGroupIDs) == 0 {
			return nil, apperrors.Newf(apperrors.KindSelection, "no security groups available for the interface endpoint in %s", network.VPCID)
		}
		proposal.Selection = models.HASelection{SubnetIDs: subnetIDs}
		proposal.SecurityGroupIDs = network.SecurityGroupIDs
	}

	return proposal, nil
}

// resolveNetwork resolves the network context from the reference instance,
// or uses the manually supplied one
func (o *Orchestrator) resolveNetwork(ctx context.Context, insp *inspector.Inspector, instanceID string, manual *models.NetworkContext) (*models.NetworkContext, error) {
	if instanceID != "" {
		return insp.ResolveInstanceNetwork(ctx, instanceID)
	}
	if manual != nil && manual.VPCID != "" {
		return manual, nil
	}
	return nil, apperrors.New(apperrors.KindResolution, "no reference instance and no manual network context supplied")
}

// destination returns the workflow's own response URL, falling back to the
// configured webhook when the workflow carries none
func (o *Orchestrator) destination(responseURL string) string {
	if responseURL != "" {
		return responseURL
	}
	return o.cfg.Notifier.WebhookURL
}

// report sends a plain-text workflow message, logging delivery failures
// instead of propagating them
func (o *Orchestrator) report(ctx context.Context, responseURL, text string) {
	msg := notify.Message{Text: text, ReplaceOriginal: true}
	if err := o.sender.Send(ctx, o.destination(responseURL), msg); err != nil {
		o.log.Warn("workflow report delivery failed", logger.Err(err))
	}
}

// reportCandidate prefixes a report with the candidate it belongs to
func (o *Orchestrator) reportCandidate(ctx context.Context, responseURL string, candidate models.GapCandidate, text string) {
	o.report(ctx, responseURL, fmt.Sprintf("[%s in %s] %s", candidate.Service, candidate.Region, text))
}
