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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/bunlink/bunlink/internal/apierror"
	"github.com/bunlink/bunlink/model"
)

const syncedProductColumns = `
	id, bunjang_pid, shopify_gid, shopify_inventory_item_gid,
	sync_status, sync_attempt_count, sync_retry_count, last_sync_attempt_at, last_synced_at,
	processing_status, processing_started_at, processing_job_id, processing_lock_expiry, processing_error,
	sold_from, sold_at, sold_from_bunjang_at, sold_from_shopify_at,
	pending_shopify_order, bunjang_order_ids,
	shopify_title, shopify_status, shopify_tags,
	created_at, updated_at`

// scanSyncedProduct scans one ledger row in syncedProductColumns order.
func scanSyncedProduct(row interface{ Scan(...interface{}) error }) (*model.SyncedProduct, error) {
	p := &model.SyncedProduct{}
	var (
		shopifyGid, invItemGid, jobID, procErr    sql.NullString
		title, status                             sql.NullString
		lastAttempt, lastSynced                   sql.NullTime
		procStarted, procExpiry                   sql.NullTime
		soldAt, soldBunjangAt, soldShopifyAt      sql.NullTime
		soldFrom                                  string
	)
	err := row.Scan(
		&p.ID, &p.BunjangPid, &shopifyGid, &invItemGid,
		&p.SyncStatus, &p.SyncAttemptCount, &p.SyncRetryCount, &lastAttempt, &lastSynced,
		&p.ProcessingStatus, &procStarted, &jobID, &procExpiry, &procErr,
		&soldFrom, &soldAt, &soldBunjangAt, &soldShopifyAt,
		&p.PendingShopifyOrder, pq.Array(&p.BunjangOrderIDs),
		&title, &status, pq.Array(&p.ShopifyTags),
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ShopifyGid = shopifyGid.String
	p.ShopifyInventoryItemGid = invItemGid.String
	p.ProcessingJobID = jobID.String
	p.ProcessingError = procErr.String
	p.ShopifyTitle = title.String
	p.ShopifyStatus = status.String
	p.SoldFrom = model.SoldOrigin(soldFrom)
	if lastAttempt.Valid {
		p.LastSyncAttemptAt = &lastAttempt.Time
	}
	if lastSynced.Valid {
		p.LastSyncedAt = &lastSynced.Time
	}
	if procStarted.Valid {
		p.ProcessingStartedAt = &procStarted.Time
	}
	if procExpiry.Valid {
		p.ProcessingLockExpiry = &procExpiry.Time
	}
	if soldAt.Valid {
		p.SoldAt = &soldAt.Time
	}
	if soldBunjangAt.Valid {
		p.SoldFromBunjangAt = &soldBunjangAt.Time
	}
	if soldShopifyAt.Valid {
		p.SoldFromShopifyAt = &soldShopifyAt.Time
	}
	return p, nil
}

// CreateSyncedProduct inserts a new ledger entry for a Bunjang product.
func (d Datasource) CreateSyncedProduct(ctx context.Context, product *model.SyncedProduct) (*model.SyncedProduct, error) {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Saving synced product to db")
	defer span.End()

	if product.SyncStatus == "" {
		product.SyncStatus = model.SyncStatusPending
	}
	if product.ProcessingStatus == "" {
		product.ProcessingStatus = model.ProcessingIdle
	}
	product.CreatedAt = time.Now()
	product.UpdatedAt = product.CreatedAt

	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO bunlink.synced_products
			(bunjang_pid, shopify_gid, shopify_inventory_item_gid, sync_status, processing_status,
			 sold_from, pending_shopify_order, bunjang_order_ids, shopify_title, shopify_status, shopify_tags,
			 created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13)
		RETURNING id
	`, product.BunjangPid, product.ShopifyGid, product.ShopifyInventoryItemGid,
		product.SyncStatus, product.ProcessingStatus, string(product.SoldFrom),
		product.PendingShopifyOrder, pq.Array(product.BunjangOrderIDs),
		product.ShopifyTitle, product.ShopifyStatus, pq.Array(product.ShopifyTags),
		product.CreatedAt, product.UpdatedAt,
	).Scan(&product.ID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to create synced product", err)
	}
	return product, nil
}

// GetSyncedProduct fetches the ledger entry for a pid. When duplicate rows
// exist the most recently updated one wins, matching the duplicate
// resolution policy. Returns (nil, nil) when no row exists.
func (d Datasource) GetSyncedProduct(ctx context.Context, pid string) (*model.SyncedProduct, error) {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Fetching synced product from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+syncedProductColumns+`
		FROM bunlink.synced_products
		WHERE bunjang_pid = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, pid)
	p, err := scanSyncedProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetSyncedProductByShopifyGid resolves a ledger entry from its Shopify
// listing id. Returns (nil, nil) when no row references the listing.
func (d Datasource) GetSyncedProductByShopifyGid(ctx context.Context, gid string) (*model.SyncedProduct, error) {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Fetching synced product by shopify gid")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+syncedProductColumns+`
		FROM bunlink.synced_products
		WHERE shopify_gid = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, gid)
	p, err := scanSyncedProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AcquireProductLock is the single atomic compare-and-set the whole system
// serializes on: the UPDATE only matches while no valid lock exists, so two
// workers racing on the same pid get exactly one winner. Returns (nil, nil)
// when the lock is held elsewhere (or no row exists) — callers skip, they do
// not retry synchronously.
func (d Datasource) AcquireProductLock(ctx context.Context, pid, jobID string, ttl time.Duration) (*model.SyncedProduct, error) {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Acquiring product lock")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE bunlink.synced_products
		SET processing_status = $2,
			processing_job_id = $3,
			processing_started_at = NOW(),
			processing_lock_expiry = NOW() + make_interval(secs => $4),
			processing_error = NULL,
			updated_at = NOW()
		WHERE bunjang_pid = $1
		  AND (processing_status <> $2 OR processing_lock_expiry IS NULL OR processing_lock_expiry <= NOW())
		RETURNING `+syncedProductColumns+`
	`, pid, model.ProcessingInProgress, jobID, ttl.Seconds())
	p, err := scanSyncedProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ReleaseProductLock clears the lock fields and records the final processing
// status for the attempt. The job id guard keeps a worker that outlived its
// TTL from clearing a lock another worker has since acquired.
func (d Datasource) ReleaseProductLock(ctx context.Context, pid, jobID, finalStatus, processingError string) error {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Releasing product lock")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE bunlink.synced_products
		SET processing_status = $2,
			processing_job_id = NULL,
			processing_lock_expiry = NULL,
			processing_error = NULLIF($3, ''),
			updated_at = NOW()
		WHERE bunjang_pid = $1 AND processing_status = $4 AND processing_job_id = $5
	`, pid, finalStatus, processingError, model.ProcessingInProgress, jobID)
	return err
}

// SweepStuckProductLocks force-fails locks whose worker went away: started
// longer ago than olderThan and already past their expiry. Running it twice
// is harmless, and a lock whose expiry is still in the future is never
// touched.
func (d Datasource) SweepStuckProductLocks(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Sweeping stuck product locks")
	defer span.End()

	message := fmt.Sprintf("force-failed by sweep: lock held past %s without release", olderThan)
	res, err := d.Conn.ExecContext(ctx, `
		UPDATE bunlink.synced_products
		SET processing_status = $1,
			processing_error = $2,
			processing_job_id = NULL,
			processing_lock_expiry = NULL,
			updated_at = NOW()
		WHERE processing_status = $3
		  AND processing_started_at < NOW() - make_interval(secs => $4)
		  AND (processing_lock_expiry IS NULL OR processing_lock_expiry <= NOW())
	`, model.ProcessingFailed, message, model.ProcessingInProgress, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FindDuplicateSyncedProducts returns the rows of every pid that has more
// than one ledger entry, newest first within each group.
func (d Datasource) FindDuplicateSyncedProducts(ctx context.Context) (map[string][]*model.SyncedProduct, error) {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Finding duplicate synced products")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+syncedProductColumns+`
		FROM bunlink.synced_products
		WHERE bunjang_pid IN (
			SELECT bunjang_pid FROM bunlink.synced_products
			GROUP BY bunjang_pid HAVING COUNT(*) > 1
		)
		ORDER BY bunjang_pid, updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make(map[string][]*model.SyncedProduct)
	for rows.Next() {
		p, err := scanSyncedProduct(rows)
		if err != nil {
			return nil, err
		}
		groups[p.BunjangPid] = append(groups[p.BunjangPid], p)
	}
	return groups, rows.Err()
}

// DeleteSyncedProductsByIDs removes the given rows. Only the duplicate
// resolution policy calls this; ledger entries are otherwise never deleted.
func (d Datasource) DeleteSyncedProductsByIDs(ctx context.Context, ids []int64) (int64, error) {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Deleting duplicate synced products")
	defer span.End()

	res, err := d.Conn.ExecContext(ctx, `
		DELETE FROM bunlink.synced_products WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateSoldFromCAS transitions sold_from only when the stored value still
// equals expected, preventing lost updates when the Bunjang poll and the
// Shopify webhook race. Returns false when the compare failed.
func (d Datasource) UpdateSoldFromCAS(ctx context.Context, pid string, expected, next model.SoldOrigin, pendingOrder bool) (bool, error) {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Updating sold_from")
	defer span.End()

	res, err := d.Conn.ExecContext(ctx, `
		UPDATE bunlink.synced_products
		SET sold_from = $3,
			sold_at = COALESCE(sold_at, NOW()),
			sold_from_bunjang_at = CASE WHEN $3 IN ('bunjang', 'both') AND sold_from_bunjang_at IS NULL THEN NOW() ELSE sold_from_bunjang_at END,
			sold_from_shopify_at = CASE WHEN $3 IN ('shopify', 'both') AND sold_from_shopify_at IS NULL THEN NOW() ELSE sold_from_shopify_at END,
			pending_shopify_order = CASE WHEN $4 THEN TRUE ELSE pending_shopify_order END,
			updated_at = NOW()
		WHERE bunjang_pid = $1 AND sold_from = $2
	`, pid, string(expected), string(next), pendingOrder)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// AppendBunjangOrderID records a created downstream order on the ledger and
// clears the pending flag. Idempotent: an already recorded id is a no-op.
func (d Datasource) AppendBunjangOrderID(ctx context.Context, pid, orderID string) error {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Recording bunjang order on ledger")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE bunlink.synced_products
		SET bunjang_order_ids = array_append(bunjang_order_ids, $2),
			pending_shopify_order = FALSE,
			updated_at = NOW()
		WHERE bunjang_pid = $1 AND NOT (bunjang_order_ids @> ARRAY[$2])
	`, pid, orderID)
	return err
}

// UpdateSyncStatus records the result of a sync attempt and bumps the
// attempt counter. A SYNCED status also stamps last_synced_at.
func (d Datasource) UpdateSyncStatus(ctx context.Context, pid, status string) error {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Updating sync status")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE bunlink.synced_products
		SET sync_status = $2,
			sync_attempt_count = sync_attempt_count + 1,
			sync_retry_count = CASE WHEN $2 = 'ERROR' THEN sync_retry_count + 1 ELSE sync_retry_count END,
			last_sync_attempt_at = NOW(),
			last_synced_at = CASE WHEN $2 = 'SYNCED' THEN NOW() ELSE last_synced_at END,
			updated_at = NOW()
		WHERE bunjang_pid = $1
	`, pid, status)
	return err
}

// UpdateShopifyMirror refreshes the denormalized copy of the Shopify listing
// used for idempotent comparisons.
func (d Datasource) UpdateShopifyMirror(ctx context.Context, pid, title, status string, tags []string) error {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Updating shopify mirror")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE bunlink.synced_products
		SET shopify_title = NULLIF($2, ''),
			shopify_status = NULLIF($3, ''),
			shopify_tags = $4,
			updated_at = NOW()
		WHERE bunjang_pid = $1
	`, pid, title, status, pq.Array(tags))
	return err
}

// ListSyncedProductsByStatus pages ledger entries by sync status, oldest
// attempt first, for the batch backfill job.
func (d Datasource) ListSyncedProductsByStatus(ctx context.Context, status string, limit int) ([]*model.SyncedProduct, error) {
	ctx, span := otel.Tracer("Ledger").Start(ctx, "Listing synced products by status")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+syncedProductColumns+`
		FROM bunlink.synced_products
		WHERE sync_status = $1
		ORDER BY last_sync_attempt_at ASC NULLS FIRST
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*model.SyncedProduct
	for rows.Next() {
		p, err := scanSyncedProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
