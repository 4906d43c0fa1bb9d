package enums

// FulfillmentInternalStatus tracks whether a shipment event has been applied
// to its order. Each fulfillment is applied at most once.
type FulfillmentInternalStatus string

const (
	FulfillmentDraft   FulfillmentInternalStatus = "draft"
	FulfillmentSkipped FulfillmentInternalStatus = "skipped"
	FulfillmentFailed  FulfillmentInternalStatus = "failed"
	FulfillmentDone    FulfillmentInternalStatus = "done"
)

var validFulfillmentStatuses = []FulfillmentInternalStatus{
	FulfillmentDraft,
	FulfillmentSkipped,
	FulfillmentFailed,
	FulfillmentDone,
}

// IsValid reports whether the value matches the canonical internal status.
func (s FulfillmentInternalStatus) IsValid() bool {
	for _, candidate := range validFulfillmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Applied reports whether the fulfillment already consumed its one
// application attempt.
func (s FulfillmentInternalStatus) Applied() bool {
	return s == FulfillmentDone || s == FulfillmentSkipped
}
