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

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sync statuses for a synced product. A product starts PENDING after catalog
// ingestion and moves between these states on every sync attempt.
const (
	SyncStatusSynced       = "SYNCED"
	SyncStatusError        = "ERROR"
	SyncStatusPending      = "PENDING"
	SyncStatusPartialError = "PARTIAL_ERROR"
	SyncStatusSkipped      = "SKIPPED"
	SyncStatusProcessing   = "PROCESSING"
)

// Processing statuses guard per-product mutual exclusion. A lock is valid iff
// the status is "processing" and the expiry is in the future.
const (
	ProcessingIdle       = "idle"
	ProcessingInProgress = "processing"
	ProcessingCompleted  = "completed"
	ProcessingFailed     = "failed"
)

// SoldOrigin identifies which marketplace a sale signal came from.
type SoldOrigin string

const (
	SoldFromNone    SoldOrigin = ""
	SoldFromBunjang SoldOrigin = "bunjang"
	SoldFromShopify SoldOrigin = "shopify"
	SoldFromBoth    SoldOrigin = "both"
)

// SyncedProduct is the authoritative ledger entry for one Bunjang product.
// Every component reads and writes cross-marketplace state through it.
type SyncedProduct struct {
	ID                int64  `json:"id"`
	BunjangPid        string `json:"bunjang_pid"`
	ShopifyGid        string `json:"shopify_gid,omitempty"`
	ShopifyInventoryItemGid string `json:"shopify_inventory_item_gid,omitempty"`

	SyncStatus        string     `json:"sync_status"`
	SyncAttemptCount  int        `json:"sync_attempt_count"`
	SyncRetryCount    int        `json:"sync_retry_count"`
	LastSyncAttemptAt *time.Time `json:"last_sync_attempt_at,omitempty"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`

	ProcessingStatus     string     `json:"processing_status"`
	ProcessingStartedAt  *time.Time `json:"processing_started_at,omitempty"`
	ProcessingJobID      string     `json:"processing_job_id,omitempty"`
	ProcessingLockExpiry *time.Time `json:"processing_lock_expiry,omitempty"`
	ProcessingError      string     `json:"processing_error,omitempty"`

	SoldFrom            SoldOrigin `json:"sold_from"`
	SoldAt              *time.Time `json:"sold_at,omitempty"`
	SoldFromBunjangAt   *time.Time `json:"sold_from_bunjang_at,omitempty"`
	SoldFromShopifyAt   *time.Time `json:"sold_from_shopify_at,omitempty"`
	PendingShopifyOrder bool       `json:"pending_shopify_order"`
	BunjangOrderIDs     []string   `json:"bunjang_order_ids"`

	// Denormalized mirror of the Shopify listing, kept for idempotent
	// comparisons before issuing mutations.
	ShopifyTitle  string   `json:"shopify_title,omitempty"`
	ShopifyStatus string   `json:"shopify_status,omitempty"`
	ShopifyTags   []string `json:"shopify_tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasValidLock reports whether the entry is locked at the given instant.
// An expired lock is treated as abandoned regardless of processing status.
func (p *SyncedProduct) HasValidLock(now time.Time) bool {
	if p.ProcessingStatus != ProcessingInProgress {
		return false
	}
	return p.ProcessingLockExpiry != nil && now.Before(*p.ProcessingLockExpiry)
}

// IsSoldOut reports whether the entry reached the terminal sold-on-both
// state. A sold-out product is never re-listed.
func (p *SyncedProduct) IsSoldOut() bool {
	return p.SoldFrom == SoldFromBoth
}

// HasRecordedOrder reports whether a Bunjang order has already been created
// or is pending for this product.
func (p *SyncedProduct) HasRecordedOrder() bool {
	return p.PendingShopifyOrder || len(p.BunjangOrderIDs) > 0
}

// HasBunjangOrder reports whether the given Bunjang order id is already
// recorded on this entry.
func (p *SyncedProduct) HasBunjangOrder(orderID string) bool {
	for _, id := range p.BunjangOrderIDs {
		if id == orderID {
			return true
		}
	}
	return false
}

// GenerateUUIDWithSuffix generates a prefixed unique identifier, e.g.
// "job_9f1c...". Matches the id format used across bunlink records.
func GenerateUUIDWithSuffix(module string) string {
	return fmt.Sprintf("%s_%s", module, uuid.New().String())
}
