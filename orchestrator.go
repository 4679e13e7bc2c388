/*
Copyright 2025 Bunlink Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package bunlink

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	bunjangapi "github.com/bunlink/bunlink/bunjang"
	"github.com/bunlink/bunlink/config"
	"github.com/bunlink/bunlink/internal/apierror"
	"github.com/bunlink/bunlink/model"
)

// skuPidPrefix is the inline fallback carried in a line item's SKU when the
// ledger has no row for the listing.
const skuPidPrefix = "PID:"

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

// ProcessShopifyOrder buys each line item of a storefront order on Bunjang.
// Line items are independent: one item failing never blocks the others, and
// every attempted item ends up with exactly one outcome tag on the order.
//
// The whole operation is idempotent. A persisted order marker short-circuits
// re-delivered events; within a run, items that already carry an outcome tag
// are skipped, and the ledger refuses a second purchase for the same product.
// A line item whose product lock is held elsewhere is left untagged and the
// job fails so the queue re-delivers it.
func (l *Bunlink) ProcessShopifyOrder(ctx context.Context, orderID string, opts model.OrchestrationOptions) (*model.OrchestrationResult, error) {
	ctx, span := tracer.Start(ctx, "ProcessShopifyOrder")
	defer span.End()

	marker, err := l.datasource.GetOrderMarker(ctx, orderID)
	if err != nil {
		return nil, logAndRecordError(span, "failed to read order marker: ", err)
	}
	if marker != nil {
		logrus.WithField("order", orderID).Info("order already processed, short-circuiting")
		return &model.OrchestrationResult{Success: true, CreatedOrderIDs: marker.BunjangOrderIDs}, nil
	}

	order, err := l.shopify.GetOrder(ctx, orderID)
	if err != nil {
		return nil, logAndRecordError(span, "failed to fetch storefront order: ", err)
	}
	if order == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "storefront order not found", nil)
	}
	if order.Cancelled {
		if err := l.datasource.RecordOrderMarker(ctx, orderID, order.BunjangOrderIDs); err != nil {
			return nil, err
		}
		return &model.OrchestrationResult{Success: false, SkippedItems: len(order.LineItems)}, nil
	}

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if cfg.Reconciliation.SkipAvailabilityCheck {
		// Operator override for when the source's availability signal is
		// known to be wrong; purchases go straight to the order call.
		opts.SkipAvailabilityCheck = true
	}

	result := &model.OrchestrationResult{CreatedOrderIDs: append([]string{}, order.BunjangOrderIDs...)}
	tags := append([]string{}, order.Tags...)
	jobID := "order:" + orderID
	lockMissed := false
	urgent := false
	newTags := 0

	for _, item := range order.LineItems {
		pid := l.resolveLineItemPid(ctx, item)
		if pid == "" {
			// Not a synced product; the storefront sells other things too.
			result.SkippedItems++
			continue
		}
		if _, tagged := order.OutcomeFor(pid); tagged {
			result.SkippedItems++
			continue
		}

		locked, err := l.lockProduct(ctx, pid, jobID)
		if err != nil {
			return nil, err
		}
		if locked == nil {
			logrus.WithFields(logrus.Fields{"order": orderID, "pid": pid}).
				Warn("product locked by another worker, leaving item for retry")
			lockMissed = true
			continue
		}

		outcome, bunjangOrderID := l.purchaseLineItem(ctx, locked, opts)
		if outcome.IsError() {
			l.unlockProduct(ctx, pid, jobID, fmt.Errorf("purchase failed: %s", outcome.Token()))
		} else {
			l.unlockProduct(ctx, pid, jobID, nil)
		}

		if bunjangOrderID != "" {
			result.CreatedOrderIDs = append(result.CreatedOrderIDs, bunjangOrderID)
		}
		tags = append(tags, model.FormatOutcomeTag(pid, outcome))
		newTags++
		if outcome.Kind != model.OutcomeSuccess {
			result.FailedItems++
			if model.IsUrgentOutcome(outcome) {
				urgent = true
			}
		}
	}

	if newTags > 0 || len(result.CreatedOrderIDs) > len(order.BunjangOrderIDs) {
		if err := l.shopify.UpdateOrder(ctx, orderID, tags, result.CreatedOrderIDs); err != nil {
			return nil, logAndRecordError(span, "failed to tag storefront order: ", err)
		}
	}

	if result.FailedItems > 0 {
		if err := l.scheduleCancellation(ctx, orderID, urgent); err != nil {
			logrus.WithField("order", orderID).Errorf("failed to schedule cancellation: %v", err)
		}
	}

	if lockMissed {
		// No marker: the job must come back for the untagged items.
		return result, apierror.NewAPIError(apierror.ErrLocked, "some line items are locked by other workers", nil)
	}

	if err := l.datasource.RecordOrderMarker(ctx, orderID, result.CreatedOrderIDs); err != nil {
		return nil, logAndRecordError(span, "failed to record order marker: ", err)
	}
	result.Success = len(result.CreatedOrderIDs) > 0
	return result, nil
}

// purchaseLineItem runs the downstream purchase for one locked product and
// returns its outcome plus the Bunjang order id when one was created.
func (l *Bunlink) purchaseLineItem(ctx context.Context, product *model.SyncedProduct, opts model.OrchestrationOptions) (model.Outcome, string) {
	pid := product.BunjangPid

	// A previous partial run may have bought the product but died before
	// tagging the order; the ledger remembers.
	if len(product.BunjangOrderIDs) > 0 {
		return model.Outcome{Kind: model.OutcomeSuccess}, product.BunjangOrderIDs[len(product.BunjangOrderIDs)-1]
	}
	if product.SoldFrom == model.SoldFromBunjang || product.SoldFrom == model.SoldFromBoth {
		return model.Outcome{Kind: model.OutcomeNoStock}, ""
	}

	detail, err := l.bunjang.GetProductDetail(ctx, pid)
	if err != nil {
		return model.ErrorOutcome(bunjangapi.ErrorCode(err)), ""
	}
	if detail == nil {
		return model.Outcome{Kind: model.OutcomeNotFound}, ""
	}
	if !opts.SkipAvailabilityCheck {
		switch {
		case detail.Quantity <= 0, detail.Status == "SOLD_OUT":
			return model.Outcome{Kind: model.OutcomeNoStock}, ""
		case detail.Status != "SELLING":
			return model.Outcome{Kind: model.OutcomeNotSelling}, ""
		}
	}

	balance, err := l.bunjang.GetPointBalance(ctx)
	if err != nil {
		return model.ErrorOutcome(bunjangapi.ErrorCode(err)), ""
	}
	if balance.LessThan(detail.Price) {
		logrus.WithFields(logrus.Fields{"pid": pid, "price": detail.Price, "balance": balance}).
			Error("point balance below product price")
		return model.ErrorOutcome("INSUFFICIENT_POINTS"), ""
	}

	if product.SoldFrom == model.SoldFromNone {
		ok, err := l.datasource.UpdateSoldFromCAS(ctx, pid, model.SoldFromNone, model.SoldFromShopify, true)
		if err != nil {
			return model.ErrorOutcome(bunjangapi.ErrorCode(err)), ""
		}
		if !ok {
			// Sold on the source between the read and the write.
			return model.Outcome{Kind: model.OutcomeNoStock}, ""
		}
	}

	bunjangOrderID, err := l.bunjang.CreateOrder(ctx, pid, detail.Price)
	if err != nil {
		return model.ErrorOutcome(bunjangapi.ErrorCode(err)), ""
	}
	if err := l.datasource.AppendBunjangOrderID(ctx, pid, bunjangOrderID); err != nil {
		// The order exists downstream; losing the ledger write must not turn
		// a success into a retried purchase.
		logrus.WithFields(logrus.Fields{"pid": pid, "bunjang_order": bunjangOrderID}).
			Errorf("failed to record bunjang order on ledger: %v", err)
	}
	return model.Outcome{Kind: model.OutcomeSuccess}, bunjangOrderID
}

// resolveLineItemPid maps a line item to its Bunjang pid: ledger lookup by
// listing gid first, inline SKU fallback second.
func (l *Bunlink) resolveLineItemPid(ctx context.Context, item model.LineItem) string {
	if item.ProductGid != "" {
		product, err := l.datasource.GetSyncedProductByShopifyGid(ctx, item.ProductGid)
		if err != nil {
			logrus.Errorf("ledger lookup by gid %s failed: %v", item.ProductGid, err)
		} else if product != nil {
			return product.BunjangPid
		}
	}
	if strings.HasPrefix(item.Sku, skuPidPrefix) {
		return strings.TrimPrefix(item.Sku, skuPidPrefix)
	}
	return ""
}
