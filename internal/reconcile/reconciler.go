// Package reconcile repairs orders whose submission stopped after the header was
// written. An order's amount is recomputed from the line items that actually exist.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
)

const (
	resultUpdated = "updated"
	resultFailed  = "failed"
)

var orderItemFields = []string{"id", "order", "product", "quantity", "price"}

type Reconciler struct {
	store   clients.ItemStore
	ledger  repository.Ledger
	cfg     config.ReconcileConfig
	metrics *metrics.Metrics
	logger  *logging.LoggerV2
	now     func() time.Time
}

var _ events.IncompleteOrderHandler = (*Reconciler)(nil)

func NewReconciler(
	store clients.ItemStore,
	ledger repository.Ledger,
	cfg config.ReconcileConfig,
	m *metrics.Metrics,
	logger *logging.LoggerV2,
) *Reconciler {
	return &Reconciler{
		store:   store,
		ledger:  ledger,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// ReconcileOrder sets the order's amount to the sum of its persisted line items.
func (r *Reconciler) ReconcileOrder(ctx context.Context, orderID models.ItemID) (decimal.Decimal, error) {
	records, err := r.store.List(ctx, models.CollectionOrderItems, clients.Query{
		Filter: clients.Eq("order", orderID),
		Fields: orderItemFields,
		Limit:  -1,
	})
	if err != nil {
		return decimal.Zero, err
	}

	items, err := clients.DecodeAll[models.OrderItem](records)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}

	if _, err := r.store.Update(ctx, models.CollectionOrders, orderID, map[string]any{
		"amount": models.Number(total),
	}); err != nil {
		return decimal.Zero, err
	}

	r.logger.Info("Order reconciled", logging.Fields{
		"order_id": orderID,
		"items":    len(items),
		"amount":   total.String(),
	})
	return total, nil
}

// HandleIncomplete reconciles one order and marks its ledger entry.
func (r *Reconciler) HandleIncomplete(ctx context.Context, submissionID uuid.UUID, orderID models.ItemID) error {
	total, err := r.ReconcileOrder(ctx, orderID)
	if err != nil {
		r.metrics.ObserveReconciled(resultFailed)
		return err
	}
	r.metrics.ObserveReconciled(resultUpdated)

	if submissionID == uuid.Nil {
		return nil
	}
	if err := r.ledger.MarkReconciled(ctx, submissionID, total); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return nil
}

// Sweep reconciles one batch of failed or stalled submissions and returns how many
// were repaired. A failing order does not stop the batch.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	subs, err := r.ledger.ListIncomplete(ctx, r.now().Add(-r.cfg.GracePeriod), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, sub := range subs {
		if ctx.Err() != nil {
			return repaired, ctx.Err()
		}
		if err := r.HandleIncomplete(ctx, sub.ID, models.ItemID(sub.OrderID)); err != nil {
			r.logger.Warn("Reconciliation failed", logging.Fields{
				"submission_id": sub.ID,
				"order_id":      sub.OrderID,
				"error":         err.Error(),
			})
			continue
		}
		repaired++
	}

	if len(subs) > 0 {
		r.logger.Info("Reconciliation sweep finished", logging.Fields{
			"candidates": len(subs),
			"repaired":   repaired,
		})
	}
	return repaired, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("Reconciliation loop started", logging.Fields{
		"interval": r.cfg.Interval.String(),
		"grace":    r.cfg.GracePeriod.String(),
	})

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciliation loop stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Reconciliation sweep failed", logging.Fields{"error": err.Error()})
			}
		}
	}
}
