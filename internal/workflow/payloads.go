package workflow

import (
	"github.com/catherinevee/endpointmgr/internal/collector"
	"github.com/catherinevee/endpointmgr/internal/jobs"
	"github.com/catherinevee/endpointmgr/internal/models"
)

// Step types dispatched through the queue. Each step is an independently
// invocable unit of work carrying its full state in the payload.
const (
	StepCollect jobs.StepType = "collect"
	StepAnalyze jobs.StepType = "analyze"
	StepPropose jobs.StepType = "propose"
	StepExecute jobs.StepType = "execute"
)

// CollectPayload starts a workflow instance: drain the audit log over the
// window, then hand the events to analysis
type CollectPayload struct {
	Window      collector.Window       `json:"window"`
	Region      string                 `json:"region"`
	InstanceID  string                 `json:"instance_id,omitempty"`
	Network     *models.NetworkContext `json:"network,omitempty"`
	ResponseURL string                 `json:"response_url,omitempty"`
}

// AnalyzePayload carries the normalized events into gap analysis
type AnalyzePayload struct {
	Events      []models.TrafficEvent  `json:"events"`
	Region      string                 `json:"region"`
	InstanceID  string                 `json:"instance_id,omitempty"`
	Network     *models.NetworkContext `json:"network,omitempty"`
	ResponseURL string                 `json:"response_url,omitempty"`
}

// ProposePayload is the per-candidate fan-out: resolve resources, check
// existence, build and deliver a proposal
type ProposePayload struct {
	Candidate   models.GapCandidate    `json:"candidate"`
	InstanceID  string                 `json:"instance_id,omitempty"`
	Network     *models.NetworkContext `json:"network,omitempty"`
	ResponseURL string                 `json:"response_url,omitempty"`
}

// ExecutePayload carries an approved proposal into execution. Everything the
// step needs is in the proposal; resources are still re-resolved against
// live state before the create call.
type ExecutePayload struct {
	Proposal    models.ProvisioningProposal `json:"proposal"`
	ResponseURL string                      `json:"response_url,omitempty"`
}
