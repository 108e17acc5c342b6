package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/catherinevee/endpointmgr/internal/apperrors"
	"github.com/catherinevee/endpointmgr/internal/models"
)

// Action identifiers carried in confirmation callbacks
const (
	ActionApprove = "create_endpoint_yes"
	ActionReject  = "create_endpoint_no"
)

// Block is one Block Kit element of an outgoing message
type Block struct {
	Type     string    `json:"type"`
	Text     *Text     `json:"text,omitempty"`
	Elements []Element `json:"elements,omitempty"`
}

// Text is a Block Kit text object
type Text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// Element is a Block Kit interactive element
type Element struct {
	Type     string `json:"type"`
	Text     *Text  `json:"text,omitempty"`
	Style    string `json:"style,omitempty"`
	Value    string `json:"value,omitempty"`
	ActionID string `json:"action_id,omitempty"`
}

// Message is an outgoing chat message
type Message struct {
	ResponseType    string  `json:"response_type,omitempty"`
	ReplaceOriginal bool    `json:"replace_original,omitempty"`
	Text            string  `json:"text,omitempty"`
	Blocks          []Block `json:"blocks,omitempty"`
}

// Sender delivers messages to a callback URL. The workflow reports every
// terminal outcome through a Sender.
type Sender interface {
	Send(ctx context.Context, responseURL string, msg Message) error
}

// Webhook sends messages over Slack-compatible response URLs
type Webhook struct {
	client *http.Client
}

// NewWebhook creates a webhook sender
func NewWebhook() *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a message to the response URL
func (w *Webhook) Send(ctx context.Context, responseURL string, msg Message) error {
	if responseURL == "" {
		return apperrors.New(apperrors.KindNotification, "no response URL to deliver to")
	}
	if msg.ResponseType == "" {
		msg.ResponseType = "in_channel"
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return apperrors.Wrap(apperrors.KindNotification, err, "failed to encode message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responseURL, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(apperrors.KindNotification, err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindNotification, err, "message delivery failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apperrors.Newf(apperrors.KindNotification, "message delivery failed with status %d", resp.StatusCode)
	}
	return nil
}

// EncodeProposal serializes a proposal for transport through a callback
// token. The execution step rebuilds the proposal from this payload alone.
func EncodeProposal(p models.ProvisioningProposal) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindNotification, err, "failed to encode proposal")
	}
	return string(data), nil
}

// DecodeProposal rebuilds a proposal from a callback token
func DecodeProposal(token string) (models.ProvisioningProposal, error) {
	var p models.ProvisioningProposal
	if err := json.Unmarshal([]byte(token), &p); err != nil {
		return p, apperrors.Wrap(apperrors.KindNotification, err, "failed to decode proposal payload")
	}
	return p, nil
}

// ProposalMessage builds the confirmation request for a proposal. When the
// serialized proposal exceeds the payload budget the buttons are replaced by
// a manual-action notice, since a truncated payload could not round-trip.
func ProposalMessage(p models.ProvisioningProposal, payloadBudget int) Message {
	summary := fmt.Sprintf(
		"*Proposal (%s in %s):* %d calls bypassed a VPC endpoint\nVPC: `%s`\nService: `%s` (%s)\n%s",
		p.Service, p.Region, p.MissingCount, p.VPCID, p.ServiceName, p.EndpointType, selectionSummary(p),
	)

	msg := Message{
		ReplaceOriginal: true,
		Blocks: []Block{
			{Type: "section", Text: &Text{Type: "mrkdwn", Text: summary}},
		},
	}

	token, err := EncodeProposal(p)
	if err != nil || len(token) > payloadBudget {
		msg.Blocks = append(msg.Blocks, Block{
			Type: "section",
			Text: &Text{Type: "mrkdwn", Text: "Proposal payload is too large to carry through a confirmation button. Manual action required."},
		})
		return msg
	}

	msg.Blocks = append(msg.Blocks,
		Block{
			Type: "section",
			Text: &Text{Type: "mrkdwn", Text: fmt.Sprintf("Create the *%s* endpoint with the resources above?", p.Service)},
		},
		Block{
			Type: "actions",
			Elements: []Element{
				{
					Type:     "button",
					Text:     &Text{Type: "plain_text", Text: "Yes, create", Emoji: true},
					Style:    "primary",
					Value:    token,
					ActionID: ActionApprove,
				},
				{
					Type:     "button",
					Text:     &Text{Type: "plain_text", Text: "No, cancel", Emoji: true},
					Style:    "danger",
					Value:    token,
					ActionID: ActionReject,
				},
			},
		},
	)
	return msg
}

func selectionSummary(p models.ProvisioningProposal) string {
	switch p.EndpointType {
	case models.EndpointTypeGateway:
		return fmt.Sprintf("Route tables: `%s`", strings.Join(p.Selection.RouteTableIDs, "`, `"))
	default:
		return fmt.Sprintf("Subnets: `%s`\nSecurity groups: `%s`",
			strings.Join(p.Selection.SubnetIDs, "`, `"),
			strings.Join(p.SecurityGroupIDs, "`, `"))
	}
}
