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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bunlink/bunlink/model"
)

// taggedOrder builds an order whose line items already carry outcome tags.
func taggedOrder(outcomes map[string]string) (*model.ShopifyOrder, *fakeDataSource) {
	ds := newFakeDataSource()
	order := &model.ShopifyOrder{ID: "5479150518334"}
	i := 0
	for pid, token := range outcomes {
		i++
		gid := "gid://shopify/Product/" + pid
		order.LineItems = append(order.LineItems, model.LineItem{
			ID: "li-" + pid, Quantity: 1, ProductGid: gid,
		})
		ds.addProduct(&model.SyncedProduct{BunjangPid: pid, ShopifyGid: gid})
		order.Tags = append(order.Tags, "PID-"+pid+"-"+token)
	}
	return order, ds
}

func TestDecideCancellation_FullCancel(t *testing.T) {
	order, ds := taggedOrder(map[string]string{"111": "NotFound", "222": "NoStock"})
	l := newTestBunlink(ds, newFakeStorefront(), newFakeMarketplace())

	decision, err := l.DecideCancellation(context.Background(), order)
	assert.NoError(t, err)
	assert.Equal(t, model.ActionFullCancel, decision.Action)
	assert.Len(t, decision.FailedItems, 2)
}

func TestDecideCancellation_PartialRefund(t *testing.T) {
	order, ds := taggedOrder(map[string]string{"111": "Success", "222": "NotSelling"})
	l := newTestBunlink(ds, newFakeStorefront(), newFakeMarketplace())

	decision, err := l.DecideCancellation(context.Background(), order)
	assert.NoError(t, err)
	assert.Equal(t, model.ActionPartialRefund, decision.Action)
	assert.Len(t, decision.FailedItems, 1)
	assert.Equal(t, "222", decision.FailedItems[0].Pid)
}

func TestDecideCancellation_NoSuccessAnywhereMeansFullCancel(t *testing.T) {
	// One item failed, the other was never tagged and the ledger recorded no
	// Bunjang order for it: a partial refund would strand the untagged item,
	// so the whole order comes down.
	order, ds := taggedOrder(map[string]string{"111": "NotFound"})
	gid := "gid://shopify/Product/222"
	order.LineItems = append(order.LineItems, model.LineItem{ID: "li-222", Quantity: 1, ProductGid: gid})
	ds.addProduct(&model.SyncedProduct{BunjangPid: "222", ShopifyGid: gid})
	l := newTestBunlink(ds, newFakeStorefront(), newFakeMarketplace())

	decision, err := l.DecideCancellation(context.Background(), order)
	assert.NoError(t, err)
	assert.Equal(t, model.ActionFullCancel, decision.Action)
	assert.Len(t, decision.FailedItems, 1)
	assert.Equal(t, "111", decision.FailedItems[0].Pid)
}

func TestDecideCancellation_LedgerOrderCountsAsSuccess(t *testing.T) {
	// The untagged item's ledger row carries a Bunjang order: the purchase
	// landed even though the tag write died, so the failed item alone is
	// refunded.
	order, ds := taggedOrder(map[string]string{"111": "NotFound"})
	gid := "gid://shopify/Product/222"
	order.LineItems = append(order.LineItems, model.LineItem{ID: "li-222", Quantity: 1, ProductGid: gid})
	ds.addProduct(&model.SyncedProduct{BunjangPid: "222", ShopifyGid: gid, BunjangOrderIDs: []string{"bo-222"}})
	l := newTestBunlink(ds, newFakeStorefront(), newFakeMarketplace())

	decision, err := l.DecideCancellation(context.Background(), order)
	assert.NoError(t, err)
	assert.Equal(t, model.ActionPartialRefund, decision.Action)
	assert.Len(t, decision.FailedItems, 1)
	assert.Equal(t, "111", decision.FailedItems[0].Pid)
}

func TestDecideCancellation_NoFailedItems(t *testing.T) {
	order, ds := taggedOrder(map[string]string{"111": "Success", "222": "Success"})
	l := newTestBunlink(ds, newFakeStorefront(), newFakeMarketplace())

	decision, err := l.DecideCancellation(context.Background(), order)
	assert.NoError(t, err)
	assert.Equal(t, model.ActionNoFailedItems, decision.Action)
}

func TestDecideCancellation_AlreadyCancelled(t *testing.T) {
	order, ds := taggedOrder(map[string]string{"111": "NotFound"})
	order.Cancelled = true
	l := newTestBunlink(ds, newFakeStorefront(), newFakeMarketplace())

	decision, err := l.DecideCancellation(context.Background(), order)
	assert.NoError(t, err)
	assert.Equal(t, model.ActionAlreadyCancelled, decision.Action)
}

func TestDecideCancellation_ErrorCodeOutcomeIsFailure(t *testing.T) {
	order, ds := taggedOrder(map[string]string{"111": "INSUFFICIENT_POINTS", "222": "Success"})
	l := newTestBunlink(ds, newFakeStorefront(), newFakeMarketplace())

	decision, err := l.DecideCancellation(context.Background(), order)
	assert.NoError(t, err)
	assert.Equal(t, model.ActionPartialRefund, decision.Action)
	assert.Equal(t, "111", decision.FailedItems[0].Pid)
}

func TestExecuteCancellation_FullCancel(t *testing.T) {
	order, ds := taggedOrder(map[string]string{"111": "NotFound", "222": "NoStock"})
	store := newFakeStorefront()
	store.orders[order.ID] = order
	l := newTestBunlink(ds, store, newFakeMarketplace())

	decision, err := l.ExecuteCancellation(context.Background(), order.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ActionFullCancel, decision.Action)
	assert.Equal(t, 1, store.cancelCalls)
	assert.Zero(t, store.refundCalls)
	assert.True(t, order.HasTag(model.TagAutoCancelled))
}

func TestExecuteCancellation_PartialRefund(t *testing.T) {
	order, ds := taggedOrder(map[string]string{"111": "Success", "222": "NotSelling"})
	store := newFakeStorefront()
	store.orders[order.ID] = order
	l := newTestBunlink(ds, store, newFakeMarketplace())

	decision, err := l.ExecuteCancellation(context.Background(), order.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ActionPartialRefund, decision.Action)
	assert.Zero(t, store.cancelCalls)
	assert.Equal(t, 1, store.refundCalls)
	assert.Len(t, store.lastRefundItems, 1)
	assert.Equal(t, "li-222", store.lastRefundItems[0].LineItemID)
	assert.True(t, order.HasTag(model.TagPartialRefund))
}

func TestExecuteCancellation_AuditTagMakesItIdempotent(t *testing.T) {
	order, ds := taggedOrder(map[string]string{"111": "NotFound"})
	order.Tags = append(order.Tags, model.TagAutoCancelled)
	store := newFakeStorefront()
	store.orders[order.ID] = order
	l := newTestBunlink(ds, store, newFakeMarketplace())

	decision, err := l.ExecuteCancellation(context.Background(), order.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ActionAlreadyCancelled, decision.Action)
	assert.Zero(t, store.cancelCalls)
	assert.Zero(t, store.refundCalls)
	assert.Zero(t, store.updateCalls)
}

func TestExecuteCancellation_NoFailedItemsDoesNothing(t *testing.T) {
	order, ds := taggedOrder(map[string]string{"111": "Success"})
	store := newFakeStorefront()
	store.orders[order.ID] = order
	l := newTestBunlink(ds, store, newFakeMarketplace())

	decision, err := l.ExecuteCancellation(context.Background(), order.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ActionNoFailedItems, decision.Action)
	assert.Zero(t, store.cancelCalls)
	assert.Zero(t, store.refundCalls)
}
