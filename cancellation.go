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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bunlink/bunlink/config"
	"github.com/bunlink/bunlink/internal/apierror"
	"github.com/bunlink/bunlink/internal/notification"
	"github.com/bunlink/bunlink/model"
	shopifyapi "github.com/bunlink/bunlink/shopify"
)

// errorTagPatterns returns the configured patterns, falling back to the
// built-in vocabulary.
func errorTagPatterns() []string {
	cfg, err := config.Fetch()
	if err != nil || len(cfg.Reconciliation.ErrorTagPatterns) == 0 {
		return model.DefaultErrorTagPatterns
	}
	return cfg.Reconciliation.ErrorTagPatterns
}

// DecideCancellation reads an order's tag set and the ledger and decides
// what, if anything, has to be undone. Line items partition into failed
// (carrying an error outcome tag) and succeeded (a Success tag, or a Bunjang
// order recorded on the ledger when the tag write died). All items failed
// means full cancel; a partial refund of just the failed items requires at
// least one recorded success. Error tags with no success anywhere are an
// ambiguous signal and cancel the whole order.
func (l *Bunlink) DecideCancellation(ctx context.Context, order *model.ShopifyOrder) (model.CancellationDecision, error) {
	ctx, span := tracer.Start(ctx, "DecideCancellation")
	defer span.End()

	if order.Cancelled {
		return model.CancellationDecision{Action: model.ActionAlreadyCancelled}, nil
	}

	patterns := errorTagPatterns()
	var failed []model.FailedItem
	succeeded := 0
	for _, item := range order.LineItems {
		pid := l.resolveLineItemPid(ctx, item)
		if pid == "" {
			continue
		}
		outcome, tagged := order.OutcomeFor(pid)
		if tagged && outcome.Kind == model.OutcomeSuccess {
			succeeded++
			continue
		}
		if !tagged {
			product, err := l.datasource.GetSyncedProduct(ctx, pid)
			if err == nil && product != nil && len(product.BunjangOrderIDs) > 0 {
				succeeded++
			}
			continue
		}
		tag := model.FormatOutcomeTag(pid, outcome)
		if model.MatchesErrorTag(tag, patterns) {
			failed = append(failed, model.FailedItem{LineItemID: item.ID, Pid: pid, Outcome: outcome})
		}
	}

	if len(failed) == 0 {
		return model.CancellationDecision{Action: model.ActionNoFailedItems}, nil
	}
	if len(failed) == len(order.LineItems) {
		return model.CancellationDecision{
			Action:      model.ActionFullCancel,
			FailedItems: failed,
			Reason:      "every line item failed downstream",
		}, nil
	}
	if succeeded == 0 {
		logrus.WithFields(logrus.Fields{"order": order.ID, "failed_items": len(failed)}).
			Warn("failed line items but no recorded success anywhere, cancelling the whole order")
		return model.CancellationDecision{
			Action:      model.ActionFullCancel,
			FailedItems: failed,
			Reason:      "line items failed downstream and none succeeded",
		}, nil
	}
	return model.CancellationDecision{
		Action:      model.ActionPartialRefund,
		FailedItems: failed,
		Reason:      "a subset of line items failed downstream",
	}, nil
}

// ExecuteCancellation applies the cancellation decision for an order: a full
// cancel or a partial refund, followed by the matching audit tag. The audit
// tag doubles as the idempotence marker, so a re-delivered job does nothing.
func (l *Bunlink) ExecuteCancellation(ctx context.Context, orderID string) (model.CancellationDecision, error) {
	ctx, span := tracer.Start(ctx, "ExecuteCancellation")
	defer span.End()

	order, err := l.shopify.GetOrder(ctx, orderID)
	if err != nil {
		return model.CancellationDecision{}, err
	}
	if order == nil {
		return model.CancellationDecision{}, apierror.NewAPIError(apierror.ErrNotFound, "storefront order not found", nil)
	}

	if order.HasTag(model.TagAutoCancelled) || order.HasTag(model.TagPartialRefund) {
		logrus.WithField("order", orderID).Info("cancellation already executed")
		return model.CancellationDecision{Action: model.ActionAlreadyCancelled}, nil
	}

	decision, err := l.DecideCancellation(ctx, order)
	if err != nil {
		return decision, err
	}

	switch decision.Action {
	case model.ActionAlreadyCancelled, model.ActionNoFailedItems:
		return decision, nil

	case model.ActionFullCancel:
		if err := l.shopify.CancelOrder(ctx, orderID, true); err != nil {
			notification.NotifyError(err)
			return decision, err
		}
		if err := l.shopify.UpdateOrder(ctx, orderID, append(order.Tags, model.TagAutoCancelled), nil); err != nil {
			return decision, err
		}
		logrus.WithFields(logrus.Fields{"order": orderID, "failed_items": len(decision.FailedItems)}).
			Info("order fully cancelled")
		return decision, nil

	case model.ActionPartialRefund:
		items := make([]shopifyapi.RefundLineItem, 0, len(decision.FailedItems))
		for _, failed := range decision.FailedItems {
			items = append(items, shopifyapi.RefundLineItem{LineItemID: failed.LineItemID, Quantity: 1})
		}
		if err := l.shopify.CreateRefund(ctx, orderID, items, decision.Reason); err != nil {
			notification.NotifyError(err)
			return decision, err
		}
		if err := l.shopify.UpdateOrder(ctx, orderID, append(order.Tags, model.TagPartialRefund), nil); err != nil {
			return decision, err
		}
		logrus.WithFields(logrus.Fields{"order": orderID, "refunded_items": len(items)}).
			Info("order partially refunded")
		return decision, nil
	}
	return decision, nil
}

// scheduleCancellation enqueues the delayed cancellation decision for an
// order with failed items. Urgent failures skip the delay.
func (l *Bunlink) scheduleCancellation(ctx context.Context, orderID string, urgent bool) error {
	if l.queue == nil {
		return nil
	}
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	delay := time.Duration(cfg.Reconciliation.CancelDelaySeconds) * time.Second
	if urgent {
		delay = 0
	}
	return l.queue.queueCancellation(ctx, orderID, delay)
}
