package purchasing

import (
	"strings"
	"time"

	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/models"
)

type Status = models.PurchaseOrderStatus

// transitions lists every legal status change. Statuses with no entry are
// terminal.
var transitions = map[Status][]Status{
	models.POStatusDraft:     {models.POStatusSent, models.POStatusCancelled},
	models.POStatusSent:      {models.POStatusConfirmed, models.POStatusCancelled},
	models.POStatusConfirmed: {models.POStatusDelivered, models.POStatusCancelled},
	models.POStatusDelivered: {models.POStatusInvoiced},
	models.POStatusInvoiced:  {models.POStatusPaid},
}

// Goods have arrived: the order can no longer be cancelled or deleted.
var settled = map[Status]bool{
	models.POStatusDelivered: true,
	models.POStatusInvoiced:  true,
	models.POStatusPaid:      true,
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func CanCancel(s Status) bool { return CanTransition(s, models.POStatusCancelled) }

func CanDelete(s Status) bool { return !settled[s] }

func IsTerminal(s Status) bool { return len(transitions[s]) == 0 }

// ItemsEditable reports whether items, discount and shipping may still change.
func ItemsEditable(s Status) bool {
	return s == models.POStatusDraft || s == models.POStatusSent || s == models.POStatusConfirmed
}

// AllowedNext returns the statuses reachable from s in one step.
func AllowedNext(s Status) []Status {
	return append([]Status(nil), transitions[s]...)
}

type TransitionOptions struct {
	ActualDeliveryDate *time.Time
	InvoiceNumber      *string
}

// Transition moves po to status to and applies the side effects of entering
// it. It is the only code path that writes PurchaseOrder.Status after
// creation. Requesting the current status is a no-op and reports false.
func Transition(po *models.PurchaseOrder, to Status, opts TransitionOptions, now time.Time) (bool, error) {
	const op = "purchasing.Transition"

	if !to.Valid() {
		return false, apperr.Validation(op, "unknown status %q", to)
	}
	if po.Status == to {
		return false, nil
	}
	if to == models.POStatusCancelled && settled[po.Status] {
		return false, apperr.Conflict(op, "order %s is %s and can no longer be cancelled", po.OrderNumber, po.Status)
	}
	if !CanTransition(po.Status, to) {
		return false, apperr.Conflict(op, "order %s cannot move from %s to %s", po.OrderNumber, po.Status, to)
	}

	switch to {
	case models.POStatusDelivered:
		if opts.ActualDeliveryDate != nil {
			d := *opts.ActualDeliveryDate
			po.ActualDeliveryDate = &d
		}
	case models.POStatusInvoiced:
		if opts.InvoiceNumber != nil {
			if n := strings.TrimSpace(*opts.InvoiceNumber); n != "" {
				po.InvoiceNumber = &n
			}
		}
	}

	po.Status = to
	po.StatusChangedAt = now
	return true, nil
}
