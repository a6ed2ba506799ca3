package purchasing

import (
	"testing"
	"time"

	"trattoria-backend/internal/apperr"
	"trattoria-backend/internal/models"

	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]Status]bool{
		{models.POStatusDraft, models.POStatusSent}:          true,
		{models.POStatusDraft, models.POStatusCancelled}:     true,
		{models.POStatusSent, models.POStatusConfirmed}:      true,
		{models.POStatusSent, models.POStatusCancelled}:      true,
		{models.POStatusConfirmed, models.POStatusDelivered}: true,
		{models.POStatusConfirmed, models.POStatusCancelled}: true,
		{models.POStatusDelivered, models.POStatusInvoiced}:  true,
		{models.POStatusInvoiced, models.POStatusPaid}:       true,
	}

	now := time.Date(2025, 1, 20, 8, 0, 0, 0, time.UTC)
	for _, from := range models.PurchaseOrderStatuses {
		for _, to := range models.PurchaseOrderStatuses {
			if from == to {
				continue
			}
			require.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)

			po := &models.PurchaseOrder{OrderNumber: "ORD-202501-001", Status: from}
			changed, err := Transition(po, to, TransitionOptions{}, now)
			if allowed[[2]Status{from, to}] {
				require.NoError(t, err)
				require.True(t, changed)
				require.Equal(t, to, po.Status)
				require.Equal(t, now, po.StatusChangedAt)
			} else {
				require.ErrorIs(t, err, apperr.ErrConflict, "%s -> %s", from, to)
				require.Equal(t, from, po.Status)
			}
		}
	}
}

func TestCancelAndDeleteRejectedIffSettled(t *testing.T) {
	settledStatuses := map[Status]bool{
		models.POStatusDelivered: true,
		models.POStatusInvoiced:  true,
		models.POStatusPaid:      true,
	}
	for _, s := range models.PurchaseOrderStatuses {
		require.Equal(t, !settledStatuses[s], CanDelete(s), "delete from %s", s)
		if s == models.POStatusCancelled {
			continue
		}
		require.Equal(t, !settledStatuses[s], CanCancel(s), "cancel from %s", s)

		po := &models.PurchaseOrder{Status: s}
		_, err := Transition(po, models.POStatusCancelled, TransitionOptions{}, time.Now())
		if settledStatuses[s] {
			require.ErrorIs(t, err, apperr.ErrConflict)
		} else {
			require.NoError(t, err)
		}
	}
}

func TestTransitionSideEffects(t *testing.T) {
	now := time.Date(2025, 1, 20, 8, 0, 0, 0, time.UTC)
	delivered := time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC)

	po := &models.PurchaseOrder{Status: models.POStatusConfirmed}
	_, err := Transition(po, models.POStatusDelivered, TransitionOptions{}, now)
	require.NoError(t, err)
	require.Nil(t, po.ActualDeliveryDate, "no date is invented")

	po = &models.PurchaseOrder{Status: models.POStatusConfirmed}
	_, err = Transition(po, models.POStatusDelivered, TransitionOptions{ActualDeliveryDate: &delivered}, now)
	require.NoError(t, err)
	require.Equal(t, delivered, *po.ActualDeliveryDate)

	invoice := " FT-2025/118 "
	_, err = Transition(po, models.POStatusInvoiced, TransitionOptions{InvoiceNumber: &invoice}, now)
	require.NoError(t, err)
	require.Equal(t, "FT-2025/118", *po.InvoiceNumber)

	po = &models.PurchaseOrder{Status: models.POStatusDelivered}
	_, err = Transition(po, models.POStatusInvoiced, TransitionOptions{}, now)
	require.NoError(t, err, "a missing invoice number is not an error")
	require.Nil(t, po.InvoiceNumber)
}

func TestTransitionNoopAndUnknown(t *testing.T) {
	po := &models.PurchaseOrder{Status: models.POStatusSent}
	changed, err := Transition(po, models.POStatusSent, TransitionOptions{}, time.Now())
	require.NoError(t, err)
	require.False(t, changed)
	require.True(t, po.StatusChangedAt.IsZero())

	_, err = Transition(po, Status("archived"), TransitionOptions{}, time.Now())
	require.ErrorIs(t, err, apperr.ErrValidation)

	require.True(t, IsTerminal(models.POStatusPaid))
	require.True(t, IsTerminal(models.POStatusCancelled))
	require.False(t, IsTerminal(models.POStatusDelivered))
	require.Equal(t, []Status{models.POStatusSent, models.POStatusCancelled}, AllowedNext(models.POStatusDraft))
}
