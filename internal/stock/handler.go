package stock

import (
	"strings"

	"trattoria-backend/internal/httpx"
	"trattoria-backend/internal/money"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type ReceiveStockRequest struct {
	IngredientID uint                `json:"ingredient_id" validate:"required"`
	BatchCode    string              `json:"batch_code" validate:"max=64"`
	Quantity     decimal.Decimal     `json:"quantity"`
	CostPerUnit  *decimal.Decimal    `json:"cost_per_unit"`
	MinThreshold decimal.Decimal     `json:"min_threshold"`
	MaxThreshold decimal.NullDecimal `json:"max_threshold"`
	ExpiryDate   string              `json:"expiry_date"` // "2025-12-09"
	ReceivedAt   string              `json:"received_at"`
}

type QuantityRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Note     string          `json:"note" validate:"max=200"`
}

type ThresholdsRequest struct {
	MinThreshold decimal.Decimal     `json:"min_threshold"`
	MaxThreshold decimal.NullDecimal `json:"max_threshold"`
}

type StockLotResponse struct {
	ID                uint    `json:"id"`
	IngredientID      uint    `json:"ingredient_id"`
	BatchCode         string  `json:"batch_code"`
	AvailableQuantity string  `json:"available_quantity"`
	ReservedQuantity  string  `json:"reserved_quantity"`
	MinThreshold      string  `json:"min_threshold"`
	MaxThreshold      *string `json:"max_threshold"`
	ExpiryDate        *string `json:"expiry_date"`
	CostPerUnit       string  `json:"cost_per_unit"`
	ValueAtCost       string  `json:"value_at_cost"`
	ReceivedAt        string  `json:"received_at"`
	Status            Status  `json:"status"`
}

func toResponse(v LotView) StockLotResponse {
	resp := StockLotResponse{
		ID:                v.ID,
		IngredientID:      v.IngredientID,
		BatchCode:         v.BatchCode,
		AvailableQuantity: v.AvailableQuantity.String(),
		ReservedQuantity:  v.ReservedQuantity.String(),
		MinThreshold:      v.MinThreshold.String(),
		ExpiryDate:        httpx.FormatTime(v.ExpiryDate),
		CostPerUnit:       v.CostPerUnit.StringFixed(4),
		ValueAtCost:       money.Format(v.AvailableQuantity.Mul(v.CostPerUnit)),
		ReceivedAt:        v.ReceivedAt.Format(httpx.DateTimeLayout),
		Status:            v.Status,
	}
	if v.MaxThreshold.Valid {
		s := v.MaxThreshold.Decimal.String()
		resp.MaxThreshold = &s
	}
	return resp
}

func toResponses(views []LotView) []StockLotResponse {
	out := make([]StockLotResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toResponse(v))
	}
	return out
}

// POST /api/stock-lots
func ReceiveStockHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ReceiveStockRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}
		expiry, err := httpx.ParseDate("expiry_date", body.ExpiryDate)
		if err != nil {
			return err
		}
		receivedAt, err := httpx.ParseDate("received_at", body.ReceivedAt)
		if err != nil {
			return err
		}

		lot, err := svc.RecordReceipt(c.UserContext(), ReceiptInput{
			IngredientID: body.IngredientID,
			BatchCode:    body.BatchCode,
			Quantity:     body.Quantity,
			CostPerUnit:  body.CostPerUnit,
			MinThreshold: body.MinThreshold,
			MaxThreshold: body.MaxThreshold,
			ExpiryDate:   expiry,
			ReceivedAt:   receivedAt,
		})
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(toResponse(lot))
	}
}

// GET /api/stock-lots?ingredient_id=3&status=low,critical
func ListStockLotsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var f ListFilter
		if id := c.QueryInt("ingredient_id"); id > 0 {
			f.IngredientID = uint(id)
		}
		if raw := c.Query("status"); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				st := Status(strings.TrimSpace(part))
				if !st.Valid() {
					return fiber.NewError(fiber.StatusBadRequest, "unknown status "+string(st))
				}
				f.Statuses = append(f.Statuses, st)
			}
		}

		lots, err := svc.List(c.UserContext(), f)
		if err != nil {
			return err
		}
		return c.JSON(toResponses(lots))
	}
}

// GET /api/stock-alerts
func StockAlertsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lots, err := svc.Alerts(c.UserContext())
		if err != nil {
			return err
		}

		counts := make(map[Status]int)
		for _, l := range lots {
			counts[l.Status]++
		}
		return c.JSON(fiber.Map{
			"lots":   toResponses(lots),
			"counts": counts,
		})
	}
}

// GET /api/stock-lots/:id
func GetStockLotHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		lot, err := svc.Get(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(lot))
	}
}

type quantityOp func(svc *Service, c *fiber.Ctx, id uint, body QuantityRequest) (LotView, error)

func quantityHandler(svc *Service, apply quantityOp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		var body QuantityRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}
		lot, err := apply(svc, c, id, body)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(lot))
	}
}

// POST /api/stock-lots/:id/consume
func ConsumeStockHandler(svc *Service) fiber.Handler {
	return quantityHandler(svc, func(svc *Service, c *fiber.Ctx, id uint, body QuantityRequest) (LotView, error) {
		return svc.Consume(c.UserContext(), id, body.Quantity, body.Note)
	})
}

// POST /api/stock-lots/:id/reserve
func ReserveStockHandler(svc *Service) fiber.Handler {
	return quantityHandler(svc, func(svc *Service, c *fiber.Ctx, id uint, body QuantityRequest) (LotView, error) {
		return svc.Reserve(c.UserContext(), id, body.Quantity)
	})
}

// POST /api/stock-lots/:id/release
func ReleaseStockHandler(svc *Service) fiber.Handler {
	return quantityHandler(svc, func(svc *Service, c *fiber.Ctx, id uint, body QuantityRequest) (LotView, error) {
		return svc.Release(c.UserContext(), id, body.Quantity)
	})
}

// PUT /api/stock-lots/:id/thresholds
func UpdateThresholdsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		var body ThresholdsRequest
		if err := httpx.Bind(c, &body); err != nil {
			return err
		}
		lot, err := svc.UpdateThresholds(c.UserContext(), id, body.MinThreshold, body.MaxThreshold)
		if err != nil {
			return err
		}
		return c.JSON(toResponse(lot))
	}
}

// DELETE /api/stock-lots/:id
func DeleteStockLotHandler(svc *Service) fiber.Handler {
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
