package billing

import (
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// EventType is a billing provider event type
type EventType string

const (
	EventSubscriptionCreated EventType = "subscription.created"
	EventSubscriptionUpdated EventType = "subscription.updated"
	EventSubscriptionDeleted EventType = "subscription.deleted"
	EventPaymentFailed       EventType = "invoice.payment_failed"
	EventInvoicePaid         EventType = "invoice.paid"
)

// Event is a webhook event from the billing provider
type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

// EventData is the tenant-specific payload of an event
type EventData struct {
	TenantID string           `json:"tenant_id"`
	Tier     tenancy.PlanTier `json:"tier,omitempty"`
	// Limits overrides the plan catalog, e.g. for negotiated enterprise plans
	Limits *tenancy.Limits `json:"limits,omitempty"`
}

// Outcome reports what processing an event did
type Outcome struct {
	EventID  string `json:"event_id"`
	Type     string `json:"type"`
	TenantID string `json:"tenant_id,omitempty"`
	// Applied is false for replayed and ignored events
	Applied bool `json:"applied"`
	Ignored bool `json:"ignored,omitempty"`
}
