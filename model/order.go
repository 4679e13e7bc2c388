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

package model

import "time"

// ShopifyOrder is the storefront order as bunlink sees it: the tag set and
// the bunjang-order-ids metafield are the durable record of what happened to
// each line item, recomputed from the order every time it is inspected.
type ShopifyOrder struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Cancelled       bool       `json:"cancelled"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	Tags            []string   `json:"tags"`
	LineItems       []LineItem `json:"line_items"`
	BunjangOrderIDs []string   `json:"bunjang_order_ids"`
	CreatedAt       time.Time  `json:"created_at"`
}

// LineItem is one purchasable line of a Shopify order. ProductGid resolves to
// a ledger entry; Sku carries the inline "PID:<id>" fallback when the ledger
// has no row for the listing.
type LineItem struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Quantity   int      `json:"quantity"`
	ProductGid string   `json:"product_gid"`
	Sku        string   `json:"sku,omitempty"`
	Properties []string `json:"properties,omitempty"`
}

// HasTag reports whether the order carries the exact tag.
func (o *ShopifyOrder) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// OutcomeFor returns the recorded outcome tag for the given pid, if any.
func (o *ShopifyOrder) OutcomeFor(pid string) (Outcome, bool) {
	for _, t := range o.Tags {
		p, outcome, ok := ParseOutcomeTag(t)
		if ok && p == pid {
			return outcome, true
		}
	}
	return Outcome{}, false
}

// OrchestrationResult is what the order orchestrator hands back to the queue
// worker. Success is true when at least one line item produced a Bunjang
// order; callers needing partial-failure handling must read the per-item tags.
type OrchestrationResult struct {
	Success         bool     `json:"success"`
	CreatedOrderIDs []string `json:"created_order_ids"`
	FailedItems     int      `json:"failed_items"`
	SkippedItems    int      `json:"skipped_items"`
}

// OrchestrationOptions tune a single orchestration run.
type OrchestrationOptions struct {
	// SkipAvailabilityCheck bypasses the Bunjang status/stock check for
	// environments where the upstream state is known stale.
	SkipAvailabilityCheck bool `json:"skip_availability_check,omitempty"`
}

// CancellationAction is the decision the cancellation engine arrives at for
// an order whose tag set contains error outcomes.
type CancellationAction string

const (
	ActionAlreadyCancelled CancellationAction = "alreadyCancelled"
	ActionFullCancel       CancellationAction = "fullCancel"
	ActionPartialRefund    CancellationAction = "partialRefund"
	ActionNoFailedItems    CancellationAction = "NO_FAILED_ITEMS"
)

// CancellationDecision pairs the action with the line items it applies to.
type CancellationDecision struct {
	Action      CancellationAction `json:"action"`
	FailedItems []FailedItem       `json:"failed_items,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// FailedItem is a line item whose outcome tag is an error outcome.
type FailedItem struct {
	LineItemID string  `json:"line_item_id"`
	Pid        string  `json:"pid"`
	Outcome    Outcome `json:"outcome"`
}

// OrderMarker is the persisted idempotence record for one processed Shopify
// order. Its existence means orchestration already ran to completion for the
// order; re-delivered events short-circuit on it.
type OrderMarker struct {
	ID              int64     `json:"id"`
	ShopifyOrderID  string    `json:"shopify_order_id"`
	BunjangOrderIDs []string  `json:"bunjang_order_ids"`
	ProcessedAt     time.Time `json:"processed_at"`
}
