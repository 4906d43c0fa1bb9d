package squareshop

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/pkg/config"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

var (
	errAccessTokenRequired = stdErrors.New("square access token is required")
	errLoggerRequired      = stdErrors.New("square logger is required")
	errInvalidSquareEnv    = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
)

// Adapter implements the platform boundary against the Square Catalog and
// Orders APIs. Pagination and error mapping stay inside this package.
type Adapter struct {
	sdk    *sqclient.Client
	logger *logger.Logger
}

// New initializes the Square adapter and validates the credentials.
func New(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Adapter, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env := cfg.Environment()
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, errInvalidSquareEnv
	}
	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(accessToken),
	)

	logg.Info(ctx, "square adapter initialized")
	return &Adapter{sdk: sdk, logger: logg}, nil
}

// GetProductTemplates lists catalog items; when codes are given the result
// is filtered to those item ids.
func (a *Adapter) GetProductTemplates(ctx context.Context, codes []string) ([]platform.TemplateRecord, error) {
	wanted := map[string]bool{}
	for _, code := range codes {
		wanted[code] = true
	}

	var records []platform.TemplateRecord
	err := a.listCatalog(ctx, "ITEM", func(obj *sq.CatalogObject) {
		item := obj.GetItem()
		if item == nil || item.ItemData == nil {
			return
		}
		if len(wanted) > 0 && !wanted[item.ID] {
			return
		}
		record := platform.TemplateRecord{
			ID:   item.ID,
			Name: stringValue(item.ItemData.Name),
		}
		for _, variation := range item.ItemData.Variations {
			v := variation.GetItemVariation()
			if v == nil || v.ItemVariationData == nil {
				continue
			}
			record.Variants = append(record.Variants, platform.VariantRecord{
				ID:        v.ID,
				SKU:       stringValue(v.ItemVariationData.Sku),
				Name:      stringValue(v.ItemVariationData.Name),
				ListPrice: moneyValue(v.ItemVariationData.PriceMoney),
			})
		}
		records = append(records, record)
	})
	if err != nil {
		return nil, a.mapSquareError(err, "list catalog items")
	}
	return records, nil
}

// GetTaxes lists catalog tax definitions.
func (a *Adapter) GetTaxes(ctx context.Context) ([]platform.TaxRecord, error) {
	var records []platform.TaxRecord
	err := a.listCatalog(ctx, "TAX", func(obj *sq.CatalogObject) {
		tax := obj.GetTax()
		if tax == nil || tax.TaxData == nil {
			return
		}
		percent, convErr := decimal.NewFromString(stringValue(tax.TaxData.Percentage))
		if convErr != nil {
			percent = decimal.Zero
		}
		inclusive := tax.TaxData.InclusionType != nil &&
			*tax.TaxData.InclusionType == sq.TaxInclusionTypeInclusive
		records = append(records, platform.TaxRecord{
			ID:            tax.ID,
			Name:          stringValue(tax.TaxData.Name),
			Percent:       percent,
			PriceIncluded: inclusive,
		})
	})
	if err != nil {
		return nil, a.mapSquareError(err, "list catalog taxes")
	}
	return records, nil
}

// GetSaleOrderStatuses returns Square's fixed order-state machine. Square
// has no configurable workflow states.
func (a *Adapter) GetSaleOrderStatuses(ctx context.Context) ([]platform.StatusRecord, error) {
	return []platform.StatusRecord{
		{ID: "DRAFT", Name: "Draft", Code: "draft"},
		{ID: "OPEN", Name: "Open", Code: "open"},
		{ID: "COMPLETED", Name: "Completed", Code: "done"},
		{ID: "CANCELED", Name: "Canceled", Code: "canceled"},
	}, nil
}

// GetCategories lists catalog categories.
func (a *Adapter) GetCategories(ctx context.Context) ([]platform.CategoryRecord, error) {
	var records []platform.CategoryRecord
	err := a.listCatalog(ctx, "CATEGORY", func(obj *sq.CatalogObject) {
		cat := obj.GetCategory()
		if cat == nil || cat.CategoryData == nil {
			return
		}
		record := platform.CategoryRecord{
			ID:   stringValue(cat.ID),
			Name: stringValue(cat.CategoryData.Name),
		}
		if parent := cat.CategoryData.ParentCategory; parent != nil {
			record.ParentID = stringValue(parent.ID)
		}
		records = append(records, record)
	})
	if err != nil {
		return nil, a.mapSquareError(err, "list catalog categories")
	}
	return records, nil
}

// CancelFulfillment cancels one fulfillment of an order. The id is
// "<orderID>/<fulfillmentUID>" because Square addresses fulfillments only
// through their order.
func (a *Adapter) CancelFulfillment(ctx context.Context, id string) error {
	orderID, fulfillmentUID, ok := strings.Cut(id, "/")
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("fulfillment id %q must be <orderID>/<fulfillmentUID>", id))
	}

	order, err := a.getOrder(ctx, orderID)
	if err != nil {
		return err
	}

	state := sq.FulfillmentStateCanceled
	update := &sq.UpdateOrderRequest{
		OrderID: orderID,
		Order: &sq.Order{
			LocationID: order.LocationID,
			Version:    order.Version,
			Fulfillments: []*sq.Fulfillment{
				{UID: sq.String(fulfillmentUID), State: &state},
			},
		},
	}
	if _, err := a.sdk.Orders.Update(ctx, update); err != nil {
		return a.mapSquareError(err, "cancel fulfillment")
	}
	return nil
}

// CancelOrder moves the order to the CANCELED state.
func (a *Adapter) CancelOrder(ctx context.Context, id string, params platform.CancelParams) error {
	order, err := a.getOrder(ctx, id)
	if err != nil {
		return err
	}

	state := sq.OrderStateCanceled
	update := &sq.UpdateOrderRequest{
		OrderID: id,
		Order: &sq.Order{
			LocationID: order.LocationID,
			Version:    order.Version,
			State:      &state,
		},
	}
	if _, err := a.sdk.Orders.Update(ctx, update); err != nil {
		return a.mapSquareError(err, "cancel order")
	}

	if a.logger != nil {
		ctx = a.logger.WithFields(ctx, map[string]any{
			"order_id": id,
			"reason":   params.Reason,
		})
		a.logger.Info(ctx, "square order canceled")
	}
	return nil
}

func (a *Adapter) getOrder(ctx context.Context, id string) (*sq.Order, error) {
	resp, err := a.sdk.Orders.Get(ctx, &sq.GetOrdersRequest{OrderID: id})
	if err != nil {
		return nil, a.mapSquareError(err, "get order")
	}
	order := resp.GetOrder()
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("square order %q not found", id))
	}
	return order, nil
}

func (a *Adapter) listCatalog(ctx context.Context, objectType string, visit func(*sq.CatalogObject)) error {
	page, err := a.sdk.Catalog.List(ctx, &sq.ListCatalogRequest{Types: sq.String(objectType)})
	if err != nil {
		return err
	}
	for page != nil {
		for _, obj := range page.Results {
			if obj != nil {
				visit(obj)
			}
		}
		page, err = page.GetNextPage(ctx)
		if stdErrors.Is(err, sqcore.ErrNoPages) {
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if stdErrors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.StatusCode)
		return pkgerrors.Wrap(code, err, fmt.Sprintf("square %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s failed", op))
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return pkgerrors.CodeUnauthorized
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	default:
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return pkgerrors.CodeDependency
		}
		return pkgerrors.CodeAPIImport
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func moneyValue(m *sq.Money) decimal.Decimal {
	if m == nil || m.Amount == nil {
		return decimal.Zero
	}
	// Square reports amounts in minor units.
	return decimal.NewFromInt(*m.Amount).Shift(-2)
}
