package enums

// OrderLineKind distinguishes product lines from the synthetic lines the
// import pipeline appends.
type OrderLineKind string

const (
	LineProduct    OrderLineKind = "product"
	LineDelivery   OrderLineKind = "delivery"
	LineGiftWrap   OrderLineKind = "gift_wrap"
	LineDiscount   OrderLineKind = "discount"
	LineDifference OrderLineKind = "difference"
)

var validOrderLineKinds = []OrderLineKind{
	LineProduct,
	LineDelivery,
	LineGiftWrap,
	LineDiscount,
	LineDifference,
}

// IsValid reports whether the value matches a known line kind.
func (k OrderLineKind) IsValid() bool {
	for _, candidate := range validOrderLineKinds {
		if candidate == k {
			return true
		}
	}
	return false
}
