package imports

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lucasferrero/channelsync-backend/internal/allocation"
	"github.com/lucasferrero/channelsync-backend/internal/discounts"
	"github.com/lucasferrero/channelsync-backend/internal/mapping"
	"github.com/lucasferrero/channelsync-backend/internal/platform"
	"github.com/lucasferrero/channelsync-backend/pkg/db"
	"github.com/lucasferrero/channelsync-backend/pkg/db/models"
	"github.com/lucasferrero/channelsync-backend/pkg/enums"
	pkgerrors "github.com/lucasferrero/channelsync-backend/pkg/errors"
	"github.com/lucasferrero/channelsync-backend/pkg/logger"
	"github.com/lucasferrero/channelsync-backend/pkg/money"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// mapper is the slice of the mapping engine the pipeline consumes.
type mapper interface {
	GetOrCreateExternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, attrs mapping.ExternalAttrs) (*models.ExternalRecord, error)
	MappingFor(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string) (*models.Mapping, error)
	TryMapByReference(ctx context.Context, ext *models.ExternalRecord, lookup mapping.ReferenceLookup) (*uuid.UUID, error)
	CreateOrUpdateMapping(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, binding mapping.Binding) (*models.Mapping, error)
	ToInternal(ctx context.Context, integrationID uuid.UUID, kind enums.EntityType, code string, required bool) (*uuid.UUID, error)
}

// cancelChecker surfaces cancellation intent recorded by the scheduler.
type cancelChecker interface {
	HasPendingCancel(ctx context.Context, integrationID uuid.UUID, code string) (bool, error)
}

// Service is the order import pipeline.
type Service interface {
	// CreateOrder materializes an internal order from a normalized payload.
	// A nil order with nil error means the import was skipped on purpose
	// (pending cancel).
	CreateOrder(ctx context.Context, integration *models.Integration, payload platform.OrderPayload) (*models.Order, error)
	UpdateOrderState(ctx context.Context, integration *models.Integration, payload platform.OrderPayload) (*models.Order, error)
	CancelOrder(ctx context.Context, integration *models.Integration, code string) (*models.Order, error)
}

// ServiceParams collects the import pipeline dependencies. Adapter is
// optional; without it the live product re-import step is skipped. Partners
// defaults to the factory built from Repo and Mapping.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Mapping  mapper
	Jobs     cancelChecker
	Adapter  platform.Adapter
	Partners PartnerFactory
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	tx       txRunner
	mapping  mapper
	jobs     cancelChecker
	adapter  platform.Adapter
	partners PartnerFactory
	logger   *logger.Logger
}

// NewService builds the import pipeline with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("imports repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Mapping == nil {
		return nil, fmt.Errorf("mapping service required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("cancel checker required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	partners := params.Partners
	if partners == nil {
		partners = NewPartnerFactory(params.Repo, params.Mapping)
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		mapping:  params.Mapping,
		jobs:     params.Jobs,
		adapter:  params.Adapter,
		partners: partners,
		logger:   params.Logger,
	}, nil
}

// lineDraft is one internal order line before persistence, carrying the tax
// context the total computation needs.
type lineDraft struct {
	kind           enums.OrderLineKind
	externalLineID string
	productID      *uuid.UUID
	locationID     *uuid.UUID
	name           string
	quantity       decimal.Decimal
	priceUnit      decimal.Decimal
	discountPct    decimal.Decimal
	taxIDs         []string
	taxPercent     decimal.Decimal
	taxIncluded    bool
}

// taxResolution is a resolved tax set for one line.
type taxResolution struct {
	ids      []string
	percent  decimal.Decimal
	key      string
	included bool
}

func (s *service) CreateOrder(ctx context.Context, integration *models.Integration, payload platform.OrderPayload) (*models.Order, error) {
	if integration == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "integration required")
	}
	if payload.Code == "" || payload.Currency == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order payload requires code and currency")
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"integration_id": integration.ID.String(),
		"order_code":     payload.Code,
	})

	pending, err := s.jobs.HasPendingCancel(ctx, integration.ID, payload.Code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check pending cancel")
	}
	if pending {
		s.logger.Info(ctx, "order import skipped, cancel pending")
		return nil, nil
	}

	existing, err := s.findImportedOrder(ctx, integration, payload.Code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Info(ctx, "order already imported")
		return existing, nil
	}

	partnerResult, err := s.partners.Resolve(ctx, integration, payload.Customer, payload.Billing, payload.Shipping)
	if err != nil {
		return nil, err
	}

	paymentMethodID, err := s.resolvePaymentMethod(ctx, integration, payload)
	if err != nil {
		return nil, err
	}
	pricelistID, err := s.resolvePricelist(ctx, partnerResult.Partner, payload.Currency)
	if err != nil {
		return nil, err
	}
	statusID, err := s.resolveStatus(ctx, payload.StateCode)
	if err != nil {
		return nil, err
	}

	drafts, notes, err := s.buildProductLines(ctx, integration, payload)
	if err != nil {
		return nil, err
	}
	synthetic, moreNotes, err := s.buildSyntheticLines(ctx, integration, payload, drafts)
	if err != nil {
		return nil, err
	}
	drafts = append(drafts, synthetic...)
	notes = append(notes, moreNotes...)

	if integration.TotalDifferenceCorrection {
		diffDraft, err := s.differenceLine(integration, payload, drafts)
		if err != nil {
			return nil, err
		}
		if diffDraft != nil {
			drafts = append(drafts, *diffDraft)
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal order payload")
	}

	order := &models.Order{
		ID:              uuid.New(),
		IntegrationID:   integration.ID,
		Code:            payload.Code,
		PartnerID:       partnerResult.Partner.ID,
		PricelistID:     pricelistID,
		PaymentMethodID: paymentMethodID,
		StatusID:        statusID,
		Currency:        payload.Currency,
		State:           "draft",
		AmountTotal:     money.Round(payload.AmountTotal),
		RawPayload:      raw,
	}
	if len(notes) > 0 {
		info := strings.Join(notes, "\n")
		order.InternalInfo = &info
	}

	order, err = s.persistOrder(ctx, order, partnerResult, drafts)
	if err != nil {
		return nil, err
	}

	// The mapping binds last so a partially imported order never looks
	// finished to the idempotence check.
	if _, err := s.mapping.GetOrCreateExternal(ctx, integration.ID, enums.EntityOrder, payload.Code, mapping.ExternalAttrs{
		Name:    payload.Code,
		Payload: raw,
	}); err != nil {
		return nil, err
	}
	if _, err := s.mapping.CreateOrUpdateMapping(ctx, integration.ID, enums.EntityOrder, payload.Code, mapping.BindTo(order.ID)); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "order imported")
	return order, nil
}

// errOrderAlreadyImported aborts persistOrder's transaction when the unique
// index reports a concurrent import, so address rows created for the losing
// attempt are rolled back instead of committed orphaned.
var errOrderAlreadyImported = stdErrors.New("order already imported concurrently")

func (s *service) persistOrder(ctx context.Context, order *models.Order, partnerResult *PartnerResult, drafts []lineDraft) (*models.Order, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if partnerResult.Billing != nil {
			if err := repo.CreateAddress(ctx, partnerResult.Billing); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create billing address")
			}
			order.BillingAddressID = &partnerResult.Billing.ID
		}
		if partnerResult.Shipping != nil {
			if err := repo.CreateAddress(ctx, partnerResult.Shipping); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create shipping address")
			}
			order.ShippingAddressID = &partnerResult.Shipping.ID
		}

		if err := repo.CreateOrder(ctx, order); err != nil {
			if db.IsUniqueViolation(err, "ux_orders_scope_code") {
				return errOrderAlreadyImported
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		lines := make([]models.OrderLine, 0, len(drafts))
		for _, draft := range drafts {
			lines = append(lines, models.OrderLine{
				ID:              uuid.New(),
				OrderID:         order.ID,
				Kind:            draft.kind,
				ExternalLineID:  draft.externalLineID,
				ProductID:       draft.productID,
				LocationID:      draft.locationID,
				Name:            draft.name,
				Quantity:        draft.quantity,
				PriceUnit:       draft.priceUnit,
				DiscountPercent: draft.discountPct,
				TaxIDs:          pq.StringArray(draft.taxIDs),
			})
		}
		if err := repo.CreateLines(ctx, lines); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order lines")
		}
		order.Lines = lines
		return nil
	})
	if stdErrors.Is(err, errOrderAlreadyImported) {
		winner, findErr := s.repo.FindOrderByCode(ctx, order.IntegrationID, order.Code)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load concurrently imported order")
		}
		return winner, nil
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// findImportedOrder runs the idempotence check: a bound order mapping for the
// code means the import already happened.
func (s *service) findImportedOrder(ctx context.Context, integration *models.Integration, code string) (*models.Order, error) {
	record, err := s.mapping.MappingFor(ctx, integration.ID, enums.EntityOrder, code)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNoExternal) {
			return nil, nil
		}
		return nil, err
	}
	if record == nil || record.InternalID == nil {
		return nil, nil
	}
	order, err := s.repo.FindOrderByID(ctx, *record.InternalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load imported order")
	}
	return order, nil
}

// resolvePaymentMethod matches by mapped code, then by name, then creates
// and maps a new method.
func (s *service) resolvePaymentMethod(ctx context.Context, integration *models.Integration, payload platform.OrderPayload) (*uuid.UUID, error) {
	code := payload.PaymentMethodCode
	name := payload.PaymentMethodName
	if code == "" && name == "" {
		return nil, nil
	}
	if name == "" {
		name = code
	}

	if code != "" {
		id, err := s.mapping.ToInternal(ctx, integration.ID, enums.EntityPaymentMethod, code, false)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
	}

	method, err := s.repo.FindPaymentMethodByName(ctx, name)
	if err != nil && !stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find payment method by name")
	}
	if method == nil {
		method = &models.PaymentMethod{ID: uuid.New(), Name: name}
		if err := s.repo.CreatePaymentMethod(ctx, method); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment method")
		}
	}

	if code != "" {
		if _, err := s.mapping.GetOrCreateExternal(ctx, integration.ID, enums.EntityPaymentMethod, code, mapping.ExternalAttrs{Name: name}); err != nil {
			return nil, err
		}
		if _, err := s.mapping.CreateOrUpdateMapping(ctx, integration.ID, enums.EntityPaymentMethod, code, mapping.BindTo(method.ID)); err != nil {
			return nil, err
		}
	}
	return &method.ID, nil
}

// resolvePricelist prefers the partner's pricelist when its currency matches,
// then any pricelist in the order currency, then creates one.
func (s *service) resolvePricelist(ctx context.Context, partner *models.Partner, currency string) (uuid.UUID, error) {
	if partner.PricelistID != nil {
		pricelist, err := s.repo.FindPricelistByID(ctx, *partner.PricelistID)
		if err != nil && !stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load partner pricelist")
		}
		if pricelist != nil && pricelist.Currency == currency {
			return pricelist.ID, nil
		}
	}

	pricelist, err := s.repo.FindPricelistByCurrency(ctx, currency)
	if err != nil && !stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find pricelist by currency")
	}
	if pricelist != nil {
		return pricelist.ID, nil
	}

	created := &models.Pricelist{
		ID:       uuid.New(),
		Name:     currency + " imports",
		Currency: currency,
	}
	if err := s.repo.CreatePricelist(ctx, created); err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create pricelist")
	}
	return created.ID, nil
}

// resolveStatus maps the platform workflow-state code to a sub-status; no
// match just leaves the order without one.
func (s *service) resolveStatus(ctx context.Context, stateCode string) (*uuid.UUID, error) {
	if stateCode == "" {
		return nil, nil
	}
	status, err := s.repo.FindStatusByCode(ctx, stateCode)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find order status")
	}
	return &status.ID, nil
}

// buildProductLines resolves every payload line and splits quantities across
// fulfillment groups.
func (s *service) buildProductLines(ctx context.Context, integration *models.Integration, payload platform.OrderPayload) ([]lineDraft, []string, error) {
	taxCache := map[string]taxResolution{}

	base := make(map[string]lineDraft, len(payload.Lines))
	order := make([]string, 0, len(payload.Lines))
	for _, line := range payload.Lines {
		productID, err := s.resolveProduct(ctx, integration, line)
		if err != nil {
			return nil, nil, err
		}
		taxes, err := s.resolveTaxes(ctx, integration, line.TaxCodes, taxCache)
		if err != nil {
			return nil, nil, err
		}

		discount := line.DiscountPercent
		if integration.DiscountAsSeparateLine {
			discount = decimal.Zero
		}

		draft := lineDraft{
			kind:           enums.LineProduct,
			externalLineID: line.ExternalLineID,
			productID:      productID,
			name:           line.Name,
			quantity:       line.Quantity,
			priceUnit:      line.PriceUnit,
			discountPct:    discount,
			taxIDs:         taxes.ids,
			taxPercent:     taxes.percent,
			taxIncluded:    taxes.included,
		}
		base[line.ExternalLineID] = draft
		order = append(order, line.ExternalLineID)
	}

	if len(payload.FulfillmentGroups) == 0 {
		drafts := make([]lineDraft, 0, len(order))
		var notes []string
		for _, id := range order {
			draft := base[id]
			draft.quantity = effectiveQuantity(draft.quantity, id, payload.Refunds)
			if draft.quantity.Sign() <= 0 {
				notes = append(notes, fmt.Sprintf("line %s dropped: fully refunded", id))
				continue
			}
			drafts = append(drafts, draft)
		}
		return drafts, notes, nil
	}

	allocations, notes := allocation.Allocate(payload.Lines, payload.FulfillmentGroups, payload.Refunds)

	allocated := map[string]decimal.Decimal{}
	var drafts []lineDraft
	for _, alloc := range allocations {
		draft, ok := base[alloc.LineID]
		if !ok {
			continue
		}
		locationID, note, err := s.resolveLocation(ctx, integration, alloc.LocationCode)
		if err != nil {
			return nil, nil, err
		}
		if note != "" {
			notes = append(notes, note)
		}
		draft.quantity = alloc.Quantity
		draft.locationID = locationID
		drafts = append(drafts, draft)
		allocated[alloc.LineID] = allocated[alloc.LineID].Add(alloc.Quantity)
	}

	// Quantity the groups did not cover stays on an unassigned line so the
	// order total survives partial fulfillment.
	for _, id := range order {
		draft := base[id]
		remainder := effectiveQuantity(draft.quantity, id, payload.Refunds).Sub(allocated[id])
		if remainder.Sign() <= 0 {
			continue
		}
		draft.quantity = remainder
		drafts = append(drafts, draft)
	}
	return drafts, notes, nil
}

func effectiveQuantity(ordered decimal.Decimal, lineID string, refunds []platform.RefundLine) decimal.Decimal {
	out := ordered
	for _, refund := range refunds {
		if refund.LineID == lineID {
			out = out.Add(refund.Quantity)
		}
	}
	return out
}

// resolveProduct maps the composite code, falling back to a live template
// re-import and then the configured fallback product.
func (s *service) resolveProduct(ctx context.Context, integration *models.Integration, line platform.LinePayload) (*uuid.UUID, error) {
	code := line.ProductCode()
	id, err := s.mapping.ToInternal(ctx, integration.ID, enums.EntityProduct, code, false)
	if err != nil {
		return nil, err
	}
	if id != nil {
		return id, nil
	}

	if s.adapter != nil && line.TemplateCode != "" {
		id, err = s.reimportTemplate(ctx, integration, line.TemplateCode, code)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
	}

	if integration.FallbackProductID != nil {
		return integration.FallbackProductID, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation,
		fmt.Sprintf("product %q is not mapped on integration %q and no fallback product is configured", code, integration.Name))
}

// reimportTemplate fetches the template live and mirrors its variants. The
// adapter call happens before any transaction is opened.
func (s *service) reimportTemplate(ctx context.Context, integration *models.Integration, templateCode, wantedCode string) (*uuid.UUID, error) {
	templates, err := s.adapter.GetProductTemplates(ctx, []string{templateCode})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "live template re-import")
	}

	var wanted *models.ExternalRecord
	for _, template := range templates {
		for _, variant := range template.Variants {
			variantCode := template.ID + "-" + variant.ID
			ext, err := s.mapping.GetOrCreateExternal(ctx, integration.ID, enums.EntityProduct, variantCode, mapping.ExternalAttrs{
				Name:      variant.Name,
				Reference: variant.SKU,
			})
			if err != nil {
				return nil, err
			}
			if variantCode == wantedCode {
				wanted = ext
			}
		}
	}
	if wanted == nil {
		return nil, nil
	}
	return s.mapping.TryMapByReference(ctx, wanted, nil)
}

// resolveTaxes maps every tax code of a line; a miss blocks the job until
// the tax is mapped.
func (s *service) resolveTaxes(ctx context.Context, integration *models.Integration, codes []string, cache map[string]taxResolution) (taxResolution, error) {
	if len(codes) == 0 {
		return taxResolution{}, nil
	}
	sorted := append([]string(nil), codes...)
	sort.Strings(sorted)
	key := strings.Join(sorted, "+")
	if cached, ok := cache[key]; ok {
		return cached, nil
	}

	ids := make([]uuid.UUID, 0, len(sorted))
	for _, code := range sorted {
		// Mirror the tax first so a miss surfaces as an unmapped pair the
		// operator can complete, which then requeues this job.
		if _, err := s.mapping.GetOrCreateExternal(ctx, integration.ID, enums.EntityTax, code, mapping.ExternalAttrs{Name: code}); err != nil {
			return taxResolution{}, err
		}
		id, err := s.mapping.ToInternal(ctx, integration.ID, enums.EntityTax, code, true)
		if err != nil {
			return taxResolution{}, err
		}
		ids = append(ids, *id)
	}

	taxes, err := s.repo.FindTaxesByIDs(ctx, ids)
	if err != nil {
		return taxResolution{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load taxes")
	}

	out := taxResolution{key: key}
	for _, id := range ids {
		out.ids = append(out.ids, id.String())
	}
	for _, tax := range taxes {
		out.percent = out.percent.Add(tax.AmountPercent)
		if tax.PriceIncluded {
			out.included = true
		}
	}
	cache[key] = out
	return out, nil
}

func (s *service) resolveLocation(ctx context.Context, integration *models.Integration, code string) (*uuid.UUID, string, error) {
	if code == "" {
		return nil, "", nil
	}
	id, err := s.mapping.ToInternal(ctx, integration.ID, enums.EntityLocation, code, false)
	if err != nil {
		return nil, "", err
	}
	if id != nil {
		return id, "", nil
	}
	location, err := s.repo.FindLocationByCode(ctx, code)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Sprintf("location %q unknown, allocation left unassigned", code), nil
		}
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find location")
	}
	return &location.ID, "", nil
}

// buildSyntheticLines appends delivery, gift-wrap and discount lines.
func (s *service) buildSyntheticLines(ctx context.Context, integration *models.Integration, payload platform.OrderPayload, productDrafts []lineDraft) ([]lineDraft, []string, error) {
	taxCache := map[string]taxResolution{}
	var drafts []lineDraft
	var notes []string

	if payload.Delivery != nil {
		draft, err := s.deliveryLine(ctx, integration, *payload.Delivery, taxCache)
		if err != nil {
			return nil, nil, err
		}
		drafts = append(drafts, draft)
	}

	if payload.GiftWrap != nil {
		draft, err := s.giftWrapLine(ctx, integration, *payload.GiftWrap, taxCache)
		if err != nil {
			return nil, nil, err
		}
		drafts = append(drafts, draft)
	}

	if payload.Discount != nil && integration.DiscountAsSeparateLine {
		discountDrafts, note := discountLines(productDrafts, *payload.Discount)
		drafts = append(drafts, discountDrafts...)
		if note != "" {
			notes = append(notes, note)
		}
	}

	return drafts, notes, nil
}

func (s *service) deliveryLine(ctx context.Context, integration *models.Integration, delivery platform.DeliveryPayload, taxCache map[string]taxResolution) (lineDraft, error) {
	// Resolving the carrier keeps the mirror and mapping current even
	// though the line itself only carries the display name.
	if _, err := s.resolveCarrier(ctx, integration, delivery); err != nil {
		return lineDraft{}, err
	}
	taxes, err := s.resolveTaxes(ctx, integration, delivery.TaxCodes, taxCache)
	if err != nil {
		return lineDraft{}, err
	}

	name := delivery.CarrierName
	if name == "" {
		name = "Delivery"
	}
	return lineDraft{
		kind:        enums.LineDelivery,
		name:        name,
		quantity:    decimal.NewFromInt(1),
		priceUnit:   money.Round(delivery.Price),
		taxIDs:      taxes.ids,
		taxPercent:  taxes.percent,
		taxIncluded: taxes.included,
	}, nil
}

// resolveCarrier maps the carrier code, tries the internal reference, and
// auto-creates the carrier as a last resort.
func (s *service) resolveCarrier(ctx context.Context, integration *models.Integration, delivery platform.DeliveryPayload) (*uuid.UUID, error) {
	if delivery.CarrierCode == "" {
		return nil, nil
	}
	id, err := s.mapping.ToInternal(ctx, integration.ID, enums.EntityCarrier, delivery.CarrierCode, false)
	if err != nil {
		return nil, err
	}
	if id != nil {
		return id, nil
	}

	carrier, err := s.repo.FindCarrierByReference(ctx, delivery.CarrierCode)
	if err != nil && !stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find carrier by reference")
	}
	if carrier == nil {
		name := delivery.CarrierName
		if name == "" {
			name = delivery.CarrierCode
		}
		carrier = &models.Carrier{ID: uuid.New(), Name: name, Reference: delivery.CarrierCode}
		if err := s.repo.CreateCarrier(ctx, carrier); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create carrier")
		}
	}

	if _, err := s.mapping.GetOrCreateExternal(ctx, integration.ID, enums.EntityCarrier, delivery.CarrierCode, mapping.ExternalAttrs{
		Name:      carrier.Name,
		Reference: delivery.CarrierCode,
	}); err != nil {
		return nil, err
	}
	if _, err := s.mapping.CreateOrUpdateMapping(ctx, integration.ID, enums.EntityCarrier, delivery.CarrierCode, mapping.BindTo(carrier.ID)); err != nil {
		return nil, err
	}
	return &carrier.ID, nil
}

func (s *service) giftWrapLine(ctx context.Context, integration *models.Integration, giftWrap platform.GiftWrapPayload, taxCache map[string]taxResolution) (lineDraft, error) {
	if integration.GiftWrapProductID == nil {
		return lineDraft{}, pkgerrors.New(pkgerrors.CodeAPIImport,
			fmt.Sprintf("order carries gift wrap but integration %q has no gift-wrap product configured", integration.Name))
	}
	taxes, err := s.resolveTaxes(ctx, integration, giftWrap.TaxCodes, taxCache)
	if err != nil {
		return lineDraft{}, err
	}

	price := giftWrap.PriceTaxExcl
	if integration.GiftWrapTaxIncluded {
		price = giftWrap.PriceTaxIncl
	}
	return lineDraft{
		kind:        enums.LineGiftWrap,
		productID:   integration.GiftWrapProductID,
		name:        "Gift wrap",
		quantity:    decimal.NewFromInt(1),
		priceUnit:   money.Round(price),
		taxIDs:      taxes.ids,
		taxPercent:  taxes.percent,
		taxIncluded: taxes.included || integration.GiftWrapTaxIncluded,
	}, nil
}

// discountLines runs the aggregate discount allocator over the product
// drafts and materializes its result.
func discountLines(productDrafts []lineDraft, discount platform.AggregateDiscount) ([]lineDraft, string) {
	eligible := make([]discounts.Line, 0, len(productDrafts))
	for _, draft := range productDrafts {
		if draft.kind != enums.LineProduct {
			continue
		}
		subtotal := money.Round(draft.quantity.Mul(draft.priceUnit))
		eligible = append(eligible, discounts.Line{
			ID:         draft.externalLineID,
			Subtotal:   subtotal,
			TaxKey:     strings.Join(draft.taxIDs, "+"),
			TaxPercent: draft.taxPercent,
			TaxIDs:     draft.taxIDs,
		})
	}

	allocated, note := discounts.Allocate(eligible, discount.TotalTaxIncl, discount.TotalTaxExcl)

	drafts := make([]lineDraft, 0, len(allocated))
	for _, line := range allocated {
		drafts = append(drafts, lineDraft{
			kind:           enums.LineDiscount,
			externalLineID: line.LineID,
			name:           "Discount",
			quantity:       decimal.NewFromInt(1),
			priceUnit:      line.Amount,
			taxIDs:         line.TaxIDs,
			taxPercent:     line.TaxPercent,
		})
	}
	return drafts, note
}

// differenceLine compensates the gap between the platform total and the
// computed one with a single correction line.
func (s *service) differenceLine(integration *models.Integration, payload platform.OrderPayload, drafts []lineDraft) (*lineDraft, error) {
	diff := money.Diff(payload.AmountTotal, computedTotal(drafts))
	if money.IsZero(diff) {
		return nil, nil
	}

	productID := integration.PositiveDifferenceProductID
	if diff.Sign() < 0 {
		productID = integration.NegativeDifferenceProductID
	}
	if productID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeAPIImport,
			fmt.Sprintf("total difference of %s on integration %q but no difference product configured for that sign",
				diff.StringFixed(money.Precision), integration.Name))
	}

	return &lineDraft{
		kind:        enums.LineDifference,
		productID:   productID,
		name:        "Total difference correction",
		quantity:    decimal.NewFromInt(1),
		priceUnit:   diff,
		taxIncluded: true,
	}, nil
}

// computedTotal is the tax-inclusive grand total the drafts would produce.
func computedTotal(drafts []lineDraft) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	total := decimal.Zero
	for _, draft := range drafts {
		amount := draft.quantity.Mul(draft.priceUnit)
		if draft.discountPct.Sign() != 0 {
			amount = amount.Mul(hundred.Sub(draft.discountPct)).Div(hundred)
		}
		if !draft.taxIncluded && draft.taxPercent.Sign() != 0 {
			amount = amount.Add(amount.Mul(draft.taxPercent).Div(hundred))
		}
		total = total.Add(amount)
	}
	return money.Round(total)
}

func (s *service) UpdateOrderState(ctx context.Context, integration *models.Integration, payload platform.OrderPayload) (*models.Order, error) {
	if integration == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "integration required")
	}
	if payload.Code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order code required")
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"integration_id": integration.ID.String(),
		"order_code":     payload.Code,
	})

	pending, err := s.jobs.HasPendingCancel(ctx, integration.ID, payload.Code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check pending cancel")
	}
	if pending {
		s.logger.Info(ctx, "order update skipped, cancel pending")
		return nil, nil
	}

	order, err := s.findOrder(ctx, integration, payload.Code)
	if err != nil {
		return nil, err
	}
	if payload.StateCode == "" {
		return order, nil
	}

	statusID, err := s.resolveStatus(ctx, payload.StateCode)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateOrderState(ctx, order.ID, payload.StateCode, statusID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order state")
	}
	order.State = payload.StateCode
	if statusID != nil {
		order.StatusID = statusID
	}
	s.logger.Info(ctx, "order state updated")
	return order, nil
}

// CancelOrder is idempotent: missing or already canceled orders are no-ops.
func (s *service) CancelOrder(ctx context.Context, integration *models.Integration, code string) (*models.Order, error) {
	if integration == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "integration required")
	}
	ctx = s.logger.WithFields(ctx, map[string]any{
		"integration_id": integration.ID.String(),
		"order_code":     code,
	})

	order, err := s.findOrder(ctx, integration, code)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			s.logger.Info(ctx, "cancel skipped, order never imported")
			return nil, nil
		}
		return nil, err
	}
	if order.State == "canceled" {
		return order, nil
	}

	if err := s.repo.UpdateOrderState(ctx, order.ID, "canceled", nil); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
	}
	order.State = "canceled"
	s.logger.Info(ctx, "order canceled")
	return order, nil
}

// findOrder resolves through the mapping first and falls back to the code
// column for orders imported before mapping completed.
func (s *service) findOrder(ctx context.Context, integration *models.Integration, code string) (*models.Order, error) {
	imported, err := s.findImportedOrder(ctx, integration, code)
	if err != nil {
		return nil, err
	}
	if imported != nil {
		return imported, nil
	}
	order, err := s.repo.FindOrderByCode(ctx, integration.ID, code)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("order %q not imported", code))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find order by code")
	}
	return order, nil
}
