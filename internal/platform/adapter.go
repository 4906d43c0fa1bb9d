package platform

import (
	"context"

	"github.com/shopspring/decimal"
)

// Adapter is the per-platform client boundary. Implementations own
// pagination, query bodies, and rate-limit backoff; the connector core only
// sees normalized records keyed by platform-native codes.
type Adapter interface {
	GetProductTemplates(ctx context.Context, codes []string) ([]TemplateRecord, error)
	GetTaxes(ctx context.Context) ([]TaxRecord, error)
	GetSaleOrderStatuses(ctx context.Context) ([]StatusRecord, error)
	GetCategories(ctx context.Context) ([]CategoryRecord, error)
	CancelFulfillment(ctx context.Context, id string) error
	CancelOrder(ctx context.Context, id string, params CancelParams) error
}

// CancelParams carries the optional knobs for a platform-side order cancel.
type CancelParams struct {
	Reason        string
	NotifyBuyer   bool
	RestockLines  bool
	RefundPayment bool
}

// TemplateRecord is one product template as reported by the platform.
type TemplateRecord struct {
	ID       string
	Name     string
	Variants []VariantRecord
}

// VariantRecord is one sellable variant of a template.
type VariantRecord struct {
	ID        string
	SKU       string
	Name      string
	ListPrice decimal.Decimal
}

// TaxRecord is one platform tax definition.
type TaxRecord struct {
	ID            string
	Name          string
	Percent       decimal.Decimal
	PriceIncluded bool
}

// StatusRecord is one platform workflow state.
type StatusRecord struct {
	ID   string
	Name string
	Code string
}

// CategoryRecord is one platform category node.
type CategoryRecord struct {
	ID       string
	Name     string
	ParentID string
}
