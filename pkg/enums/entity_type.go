package enums

import "fmt"

// EntityType discriminates external mirror records and mappings. The typed
// registry replaces name-interpolated model lookup: every dispatch on an
// entity kind goes through a switch on this type.
type EntityType string

const (
	EntityProduct       EntityType = "product"
	EntityTemplate      EntityType = "product_template"
	EntityOrder         EntityType = "order"
	EntityCustomer      EntityType = "customer"
	EntityTax           EntityType = "tax"
	EntityCarrier       EntityType = "carrier"
	EntityPaymentMethod EntityType = "payment_method"
	EntityPricelist     EntityType = "pricelist"
	EntityCategory      EntityType = "category"
	EntityLocation      EntityType = "location"
	EntityAttribute     EntityType = "attribute"
	EntityFeature       EntityType = "feature"
	EntityOrderStatus   EntityType = "order_status"
)

var validEntityTypes = []EntityType{
	EntityProduct,
	EntityTemplate,
	EntityOrder,
	EntityCustomer,
	EntityTax,
	EntityCarrier,
	EntityPaymentMethod,
	EntityPricelist,
	EntityCategory,
	EntityLocation,
	EntityAttribute,
	EntityFeature,
	EntityOrderStatus,
}

// IsValid reports whether the value matches a known entity type.
func (e EntityType) IsValid() bool {
	for _, candidate := range validEntityTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEntityType converts raw input into EntityType.
func ParseEntityType(value string) (EntityType, error) {
	for _, candidate := range validEntityTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entity type %q", value)
}
