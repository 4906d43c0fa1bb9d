package enums

// WebhookDecision is the terminal state of the intake state machine for one
// inbound event.
type WebhookDecision string

const (
	DecisionIgnored              WebhookDecision = "ignored"
	DecisionImportScheduled      WebhookDecision = "import_scheduled"
	DecisionUpdateScheduled      WebhookDecision = "update_scheduled"
	DecisionCancelScheduled      WebhookDecision = "cancel_scheduled"
	DecisionFulfillmentScheduled WebhookDecision = "fulfillment_scheduled"
	DecisionTransactionScheduled WebhookDecision = "transaction_scheduled"
)

var validWebhookDecisions = []WebhookDecision{
	DecisionIgnored,
	DecisionImportScheduled,
	DecisionUpdateScheduled,
	DecisionCancelScheduled,
	DecisionFulfillmentScheduled,
	DecisionTransactionScheduled,
}

// IsValid reports whether the value matches a known decision.
func (d WebhookDecision) IsValid() bool {
	for _, candidate := range validWebhookDecisions {
		if candidate == d {
			return true
		}
	}
	return false
}
