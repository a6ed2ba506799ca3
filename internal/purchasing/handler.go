package purchasing

import (
	"time"

	"trattoria-backend/internal/httpx"
	"trattoria-backend/internal/models"
	"trattoria-backend/internal/money"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type ItemRequest struct {
	IngredientID uint             `json:"ingredient_id" validate:"required"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Unit         string           `json:"unit" validate:"max=20"`
	UnitPrice    *decimal.Decimal `json:"unit_price"`
}

type CreatePurchaseOrderRequest struct {
	SupplierID           uint            `json:"supplier_id" validate:"required"`
	OrderDate            string          `json:"order_date"`
	ExpectedDeliveryDate string          `json:"expected_delivery_date"`
	Items                []ItemRequest   `json:"items" validate:"required,min=1,dive"`
	DiscountAmount       decimal.Decimal `json:"discount_amount"`
	ShippingCost         decimal.Decimal `json:"shipping_cost"`
	Notes                string          `json:"notes" validate:"max=1000"`
}

// UpdatePurchaseOrderRequest leaves absent fields untouched.
type UpdatePurchaseOrderRequest struct {
	ExpectedVersion      *int64           `json:"expected_version"`
	SupplierID           *uint            `json:"supplier_id"`
	OrderDate            *string          `json:"order_date"`
	ExpectedDeliveryDate *string          `json:"expected_delivery_date"`
	ActualDeliveryDate   *string          `json:"actual_delivery_date"`
	Items                *[]ItemRequest   `json:"items" validate:"omitempty,min=1,dive"`
	DiscountAmount       *decimal.Decimal `json:"discount_amount"`
	ShippingCost         *decimal.Decimal `json:"shipping_cost"`
	Status               *Status          `json:"status"`
	InvoiceNumber        *string          `json:"invoice_number" validate:"omitempty,max=64"`
	Notes                *string          `json:"notes" validate:"omitempty,max=1000"`
}

type StatusRequest struct {
	Status             Status  `json:"status" validate:"required"`
	ActualDeliveryDate string  `json:"actual_delivery_date"`
	InvoiceNumber      *string `json:"invoice_number" validate:"omitempty,max=64"`
	ExpectedVersion    *int64  `json:"expected_version"`
}

type ReceiptRequest struct {
	Items []struct {
		ItemID   uint            `json:"item_id" validate:"required"`
		Quantity decimal.Decimal `json:"quantity"`
	} `json:"items" validate:"required,min=1,dive"`
}

type ItemResponse struct {
	ID               uint   `json:"id"`
	IngredientID     uint   `json:"ingredient_id"`
	Quantity         string `json:"quantity"`
	Unit             string `json:"unit"`
	UnitPrice        string `json:"unit_price"`
	TotalPrice       string `json:"total_price"`
	ReceivedQuantity string `json:"received_quantity"`
}

type PurchaseOrderResponse struct {
	ID                   uint           `json:"id"`
	OrderNumber          string         `json:"order_number"`
	SupplierID           uint           `json:"supplier_id"`
	Status               Status         `json:"status"`
	AllowedNext          []Status       `json:"allowed_next"`
	OrderDate            string         `json:"order_date"`
	ExpectedDeliveryDate *string        `json:"expected_delivery_date"`
	ActualDeliveryDate   *string        `json:"actual_delivery_date"`
	Subtotal             string         `json:"subtotal"`
	DiscountAmount       string         `json:"discount_amount"`
	TaxAmount            string         `json:"tax_amount"`
	ShippingCost         string         `json:"shipping_cost"`
	Total                string         `json:"total"`
	InvoiceNumber        *string        `json:"invoice_number"`
	Notes                string         `json:"notes"`
	Version              int64          `json:"version"`
	Items                []ItemResponse `json:"items"`
}

func toResponse(po *models.PurchaseOrder) PurchaseOrderResponse {
	resp := PurchaseOrderResponse{
		ID:                   po.ID,
		OrderNumber:          po.OrderNumber,
		SupplierID:           po.SupplierID,
		Status:               po.Status,
		AllowedNext:          AllowedNext(po.Status),
		OrderDate:            po.OrderDate.Format(httpx.DateTimeLayout),
		ExpectedDeliveryDate: httpx.FormatTime(po.ExpectedDeliveryDate),
		ActualDeliveryDate:   httpx.FormatTime(po.ActualDeliveryDate),
		Subtotal:             money.Format(po.Subtotal),
		DiscountAmount:       money.Format(po.DiscountAmount),
		TaxAmount:            money.Format(po.TaxAmount),
		ShippingCost:         money.Format(po.ShippingCost),
		Total:                money.Format(po.Total),
		InvoiceNumber:        po.InvoiceNumber,
		Notes:                po.Notes,
		Version:              po.Version,
		Items:                make([]ItemResponse, 0, len(po.Items)),
	}
	for _, it := range po.Items {
		resp.Items = append(resp.Items, ItemResponse{
			ID:               it.ID,
			IngredientID:     it.IngredientID,
			Quantity:         it.Quantity.String(),
			Unit:             it.Unit,
			UnitPrice:        it.UnitPrice.StringFixed(4),
			TotalPrice:       money.Format(it.TotalPrice),
			ReceivedQuantity: it.ReceivedQuantity.String(),
		})
	}
	return resp
}

func itemInputs(reqs []ItemRequest) []ItemInput {
	out := make([]ItemInput, len(reqs))
	for i, r := range reqs {
		out[i] = ItemInput{IngredientID: r.IngredientID, Quantity: r.Quantity, Unit: r.Unit, UnitPrice: r.UnitPrice}
	}
	return out
}

func optionalDate(field string, s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	return httpx.ParseDate(field, *s)
}

// POST /api/purchase-orders
func CreatePurchaseOrderHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreatePurchaseOrderRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}
		orderDate, err := httpx.ParseDate("order_date", body.OrderDate)
		if err != nil {
			return err
		}
		expected, err := httpx.ParseDate("expected_delivery_date", body.ExpectedDeliveryDate)
		if err != nil {
			return err
		}

		po, err := svc.Create(c.UserContext(), CreateInput{
			SupplierID:           body.SupplierID,
			OrderDate:            orderDate,
			ExpectedDeliveryDate: expected,
			Items:                itemInputs(body.Items),
			DiscountAmount:       body.DiscountAmount,
			ShippingCost:         body.ShippingCost,
			Notes:                body.Notes,
		})
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(toResponse(po))
	}
}

// GET /api/purchase-orders?status=sent&supplier_id=2&from=2025-01-01&to=2025-02-01
func ListPurchaseOrdersHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		f := ListFilter{Status: Status(c.Query("status"))}
		if f.Status != "" && !f.Status.Valid() {
			return fiber.NewError(fiber.StatusBadRequest, "unknown status "+string(f.Status))
		}
		if id := c.QueryInt("supplier_id"); id > 0 {
			f.SupplierID = uint(id)
		}
		var err error
		if f.From, err = httpx.ParseDate("from", c.Query("from")); err != nil {
			return err
		}
		if f.To, err = httpx.ParseDate("to", c.Query("to")); err != nil {
			return err
		}

		orders, err := svc.List(c.UserContext(), f)
		if err != nil {
			return err
		}
		out := make([]PurchaseOrderResponse, 0, len(orders))
		for i := range orders {
			out = append(out, toResponse(&orders[i]))
		}
		return c.JSON(out)
	}
}

// GET /api/purchase-orders/:id
func GetPurchaseOrderHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		po, err := svc.Get(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(po))
	}
}

// PUT /api/purchase-orders/:id
func UpdatePurchaseOrderHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		var body UpdatePurchaseOrderRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}

		in := UpdateInput{
			ExpectedVersion: body.ExpectedVersion,
			SupplierID:      body.SupplierID,
			DiscountAmount:  body.DiscountAmount,
			ShippingCost:    body.ShippingCost,
			Status:          body.Status,
			InvoiceNumber:   body.InvoiceNumber,
			Notes:           body.Notes,
		}
		if in.OrderDate, err = optionalDate("order_date", body.OrderDate); err != nil {
			return err
		}
		if in.ExpectedDeliveryDate, err = optionalDate("expected_delivery_date", body.ExpectedDeliveryDate); err != nil {
			return err
		}
		if in.ActualDeliveryDate, err = optionalDate("actual_delivery_date", body.ActualDeliveryDate); err != nil {
			return err
		}
		if body.Items != nil {
			items := itemInputs(*body.Items)
			in.Items = &items
		}

		po, err := svc.Update(c.UserContext(), id, in)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(po))
	}
}

// POST /api/purchase-orders/:id/status
func TransitionPurchaseOrderHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		var body StatusRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}
		delivered, err := httpx.ParseDate("actual_delivery_date", body.ActualDeliveryDate)
		if err != nil {
			return err
		}

		po, err := svc.Transition(c.UserContext(), id, TransitionInput{
			Status:             body.Status,
			ActualDeliveryDate: delivered,
			InvoiceNumber:      body.InvoiceNumber,
			ExpectedVersion:    body.ExpectedVersion,
		})
		if err != nil {
			return err
		}
		return c.JSON(toResponse(po))
	}
}

// POST /api/purchase-orders/:id/receipts
func ReceivePurchaseOrderHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		var body ReceiptRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}
		receipts := make([]ItemReceipt, len(body.Items))
		for i, it := range body.Items {
			receipts[i] = ItemReceipt{ItemID: it.ItemID, Quantity: it.Quantity}
		}

		po, err := svc.RecordReceipt(c.UserContext(), id, receipts)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(po))
	}
}

// DELETE /api/purchase-orders/:id
func DeletePurchaseOrderHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		if err := svc.Delete(c.UserContext(), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/purchase-orders/:id/verify
func VerifyPurchaseOrderHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		d, err := svc.Verify(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"order_id":         d.OrderID,
			"order_number":     d.OrderNumber,
			"drifted":          d.Drifted(),
			"stored_total":     money.Format(d.Stored.Total),
			"recomputed_total": money.Format(d.Recomputed.Total),
			"bad_items":        d.BadItems,
		})
	}
}
