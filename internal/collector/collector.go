package collector

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"

	"github.com/catherinevee/endpointmgr/internal/apperrors"
	"github.com/catherinevee/endpointmgr/internal/config"
	"github.com/catherinevee/endpointmgr/internal/logger"
	"github.com/catherinevee/endpointmgr/internal/models"
)

// MaxWindow is the upstream audit-log lookup limit
const MaxWindow = 90 * 24 * time.Hour

const lookupPageSize = 1000

// LookupAPI is the audit-log source. Satisfied by *cloudtrail.Client.
type LookupAPI interface {
	LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)
}

// Limiter throttles lookup calls. Satisfied by *awsclients.Registry.
type Limiter interface {
	WaitLookup(ctx context.Context) error
}

// Window bounds one collection pass
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate checks the window against the upstream lookup limits
func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return apperrors.Newf(apperrors.KindCollection, "window end %s is not after start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	if w.End.Sub(w.Start) > MaxWindow {
		return apperrors.Newf(apperrors.KindCollection, "window exceeds the %d-day lookup limit", int(MaxWindow.Hours()/24))
	}
	return nil
}

// Result holds one collection pass. Complete reports whether every page was
// drained; only complete passes may be analyzed or persisted.
type Result struct {
	Events   []models.TrafficEvent
	Complete bool
	Skipped  int
}

// Collector normalizes raw audit-log entries into TrafficEvents
type Collector struct {
	cfg     config.AuditConfig
	limiter Limiter
	log     logger.Logger
}

// New creates a collector
func New(cfg config.AuditConfig, limiter Limiter, log logger.Logger) *Collector {
	return &Collector{cfg: cfg, limiter: limiter, log: log}
}

// rawEvent is the embedded audit record payload
type rawEvent struct {
	EventTime     string `json:"eventTime"`
	EventSource   string `json:"eventSource"`
	EventName     string `json:"eventName"`
	AwsRegion     string `json:"awsRegion"`
	VpcEndpointID string `json:"vpcEndpointId"`
	UserIdentity  struct {
		ARN         string `json:"arn"`
		PrincipalID string `json:"principalId"`
		UserName    string `json:"userName"`
	} `json:"userIdentity"`
}

// Collect drains the audit log over the window and returns the normalized
// events for tracked services. With instanceID set, only events whose
// principal identity carries ":<instanceID>" are kept; identity substring
// matching is a heuristic inherited from the upstream log format, not an
// exact ownership check.
//
// A failure on the very first page is fatal. A failure on a later page ends
// the pass early: the events drained so far are returned with
// Complete=false, and callers must not analyze or persist a partial window.
func (c *Collector) Collect(ctx context.Context, api LookupAPI, window Window, instanceID string) (*Result, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	res := &Result{}
	input := &cloudtrail.LookupEventsInput{
		StartTime:  aws.Time(window.Start),
		EndTime:    aws.Time(window.End),
		MaxResults: aws.Int32(lookupPageSize),
	}

	page := 0
	for {
		if c.limiter != nil {
			if err := c.limiter.WaitLookup(ctx); err != nil {
				return nil, apperrors.Wrap(apperrors.KindCollection, err, "lookup rate wait interrupted")
			}
		}

		out, err := api.LookupEvents(ctx, input)
		if err != nil {
			if page == 0 {
				return nil, apperrors.Wrap(apperrors.KindCollection, err, "audit log lookup failed on first page")
			}
			c.log.Warn("audit log lookup failed mid-pagination, ending pass early",
				logger.Int("page", page), logger.Err(err))
			return res, nil
		}
		page++

		for _, raw := range out.Events {
			event, err := c.normalize(raw.CloudTrailEvent, instanceID)
			if err != nil {
				res.Skipped++
				continue
			}
			if event == nil {
				continue
			}
			res.Events = append(res.Events, *event)
		}

		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		input.NextToken = out.NextToken
	}

	res.Complete = true
	c.log.Info("collection pass complete",
		logger.Int("pages", page),
		logger.Int("events", len(res.Events)),
		logger.Int("skipped", res.Skipped))
	return res, nil
}

// normalize converts one raw record. A nil event with nil error means the
// record was filtered out; a non-nil error means it was malformed and
// skipped.
func (c *Collector) normalize(payload *string, instanceID string) (*models.TrafficEvent, error) {
	if payload == nil || *payload == "" {
		return nil, nil
	}

	var raw rawEvent
	if err := json.Unmarshal([]byte(*payload), &raw); err != nil {
		c.log.Warn("skipping malformed audit record", logger.Err(err))
		return nil, apperrors.Wrap(apperrors.KindParse, err, "malformed audit record")
	}

	service, tracked := c.cfg.TrackedServices[raw.EventSource]
	if !tracked {
		return nil, nil
	}
	if raw.AwsRegion == "" {
		return nil, nil
	}
	if instanceID != "" && !strings.Contains(raw.UserIdentity.PrincipalID, ":"+instanceID) {
		return nil, nil
	}

	eventTime, err := time.Parse(time.RFC3339, raw.EventTime)
	if err != nil {
		c.log.Warn("skipping audit record with unparseable time",
			logger.String("event_time", raw.EventTime), logger.Err(err))
		return nil, apperrors.Wrap(apperrors.KindParse, err, "unparseable event time")
	}

	actor := raw.UserIdentity.ARN
	if actor == "" {
		actor = raw.UserIdentity.PrincipalID
	}

	return &models.TrafficEvent{
		Time:          eventTime,
		Service:       service,
		Operation:     raw.EventName,
		ActorIdentity: actor,
		UsedEndpoint:  raw.VpcEndpointID != "",
		EndpointID:    raw.VpcEndpointID,
		Region:        raw.AwsRegion,
	}, nil
}
