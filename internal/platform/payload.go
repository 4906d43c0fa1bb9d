package platform

import "github.com/shopspring/decimal"

// OrderPayload is the normalized order shape every adapter hands to the
// import pipeline. Adapters translate their platform's wire format into this
// struct; nothing downstream knows platform payload shapes.
type OrderPayload struct {
	Code      string `json:"code" validate:"required"`
	StateCode string `json:"state_code"`
	Currency  string `json:"currency" validate:"required"`

	Customer CustomerPayload `json:"customer"`
	Billing  *AddressPayload `json:"billing,omitempty"`
	Shipping *AddressPayload `json:"shipping,omitempty"`

	Lines []LinePayload `json:"lines"`

	Delivery *DeliveryPayload `json:"delivery,omitempty"`
	GiftWrap *GiftWrapPayload `json:"gift_wrap,omitempty"`

	// Discount carries the aggregate order discount when the platform does
	// not expose a per-line breakdown.
	Discount *AggregateDiscount `json:"discount,omitempty"`

	PaymentMethodCode string `json:"payment_method_code"`
	PaymentMethodName string `json:"payment_method_name"`

	// AmountTotal is the platform-reported grand total, used by the
	// total-difference correction.
	AmountTotal decimal.Decimal `json:"amount_total"`

	FulfillmentGroups []FulfillmentGroup `json:"fulfillment_groups,omitempty"`
	Refunds           []RefundLine       `json:"refunds,omitempty"`
}

// CustomerPayload identifies the buyer on the platform side.
type CustomerPayload struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AddressPayload is a shipping or billing address as reported.
type AddressPayload struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// LinePayload is one product line of the external order.
type LinePayload struct {
	ExternalLineID string `json:"external_line_id"`

	// TemplateCode and VariantCode form the composite product code
	// "<template>-<variant>" the mapping engine resolves against.
	TemplateCode string `json:"template_code"`
	VariantCode  string `json:"variant_code"`

	Name            string          `json:"name"`
	Quantity        decimal.Decimal `json:"quantity"`
	PriceUnit       decimal.Decimal `json:"price_unit"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxCodes        []string        `json:"tax_codes,omitempty"`
}

// ProductCode returns the composite code used for product mapping.
func (l LinePayload) ProductCode() string {
	if l.VariantCode == "" {
		return l.TemplateCode
	}
	return l.TemplateCode + "-" + l.VariantCode
}

// DeliveryPayload describes the shipping charge of the order.
type DeliveryPayload struct {
	CarrierCode string          `json:"carrier_code"`
	CarrierName string          `json:"carrier_name"`
	Price       decimal.Decimal `json:"price"`
	TaxCodes    []string        `json:"tax_codes,omitempty"`
}

// GiftWrapPayload describes a gift-wrap charge; the platform reports both
// tax-inclusive and tax-exclusive prices and the integration setting decides
// which one lands on the line.
type GiftWrapPayload struct {
	PriceTaxIncl decimal.Decimal `json:"price_tax_incl"`
	PriceTaxExcl decimal.Decimal `json:"price_tax_excl"`
	TaxCodes     []string        `json:"tax_codes,omitempty"`
}

// AggregateDiscount is the order-level discount without per-line breakdown.
type AggregateDiscount struct {
	TotalTaxIncl decimal.Decimal `json:"total_tax_incl"`
	TotalTaxExcl decimal.Decimal `json:"total_tax_excl"`
}

// FulfillmentGroup is one fulfillment order the platform split the order
// into, pinned to a stock location.
type FulfillmentGroup struct {
	LocationCode string      `json:"location_code"`
	Lines        []GroupLine `json:"lines"`
}

// GroupLine is one (external line, pending quantity) pair inside a group.
type GroupLine struct {
	LineID   string          `json:"line_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// RefundLine is one refunded quantity; Quantity is always a negative
// adjustment against the ordered quantity.
type RefundLine struct {
	LineID   string          `json:"line_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// FulfillmentPayload is one shipment event from the platform.
type FulfillmentPayload struct {
	Code            string      `json:"code" validate:"required"`
	OrderCode       string      `json:"order_code" validate:"required"`
	PlatformStatus  string      `json:"platform_status"`
	TrackingNumber  string      `json:"tracking_number"`
	TrackingCarrier string      `json:"tracking_carrier"`
	TrackingURL     string      `json:"tracking_url"`
	Lines           []GroupLine `json:"lines"`
}

// TransactionPayload is one payment or refund event from the platform.
type TransactionPayload struct {
	ExternalStrID string          `json:"external_str_id" validate:"required"`
	OrderCode     string          `json:"order_code" validate:"required"`
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}
