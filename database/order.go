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
	"log"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/bunlink/bunlink/model"
)

const orderMarkerCacheTTL = 24 * time.Hour

func orderMarkerCacheKey(shopifyOrderID string) string {
	return "marker:" + shopifyOrderID
}

// GetOrderMarker returns the idempotence marker for a Shopify order, or
// (nil, nil) when the order was never processed.
func (d Datasource) GetOrderMarker(ctx context.Context, shopifyOrderID string) (*model.OrderMarker, error) {
	ctx, span := otel.Tracer("Orders").Start(ctx, "Fetching order marker")
	defer span.End()

	if d.Cache != nil {
		cached := &model.OrderMarker{}
		if err := d.Cache.Get(ctx, orderMarkerCacheKey(shopifyOrderID), cached); err == nil && cached.ShopifyOrderID != "" {
			return cached, nil
		}
	}

	marker := &model.OrderMarker{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, shopify_order_id, bunjang_order_ids, processed_at
		FROM bunlink.order_markers
		WHERE shopify_order_id = $1
	`, shopifyOrderID).Scan(&marker.ID, &marker.ShopifyOrderID, pq.Array(&marker.BunjangOrderIDs), &marker.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, orderMarkerCacheKey(shopifyOrderID), marker, orderMarkerCacheTTL); err != nil {
			log.Printf("failed to cache order marker %s: %v", shopifyOrderID, err)
		}
	}
	return marker, nil
}

// FindOrderMarkerByBunjangOrderID resolves which Shopify order a Bunjang
// order was created for. Returns (nil, nil) when the Bunjang order was not
// created by this system.
func (d Datasource) FindOrderMarkerByBunjangOrderID(ctx context.Context, bunjangOrderID string) (*model.OrderMarker, error) {
	ctx, span := otel.Tracer("Orders").Start(ctx, "Resolving order marker by bunjang order")
	defer span.End()

	marker := &model.OrderMarker{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT id, shopify_order_id, bunjang_order_ids, processed_at
		FROM bunlink.order_markers
		WHERE bunjang_order_ids @> ARRAY[$1]
	`, bunjangOrderID).Scan(&marker.ID, &marker.ShopifyOrderID, pq.Array(&marker.BunjangOrderIDs), &marker.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return marker, nil
}

// RecordOrderMarker persists the marker that makes orchestration of a Shopify
// order exactly-once. Upserts so a re-run that created additional Bunjang
// orders extends the recorded set instead of failing.
func (d Datasource) RecordOrderMarker(ctx context.Context, shopifyOrderID string, bunjangOrderIDs []string) error {
	ctx, span := otel.Tracer("Orders").Start(ctx, "Recording order marker")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO bunlink.order_markers (shopify_order_id, bunjang_order_ids, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (shopify_order_id) DO UPDATE
		SET bunjang_order_ids = (
			SELECT ARRAY(SELECT DISTINCT unnest(bunlink.order_markers.bunjang_order_ids || EXCLUDED.bunjang_order_ids))
		)
	`, shopifyOrderID, pq.Array(bunjangOrderIDs))
	if err != nil {
		return err
	}

	// Drop the cached marker so the next read sees the merged array.
	if d.Cache != nil {
		if err := d.Cache.Delete(ctx, orderMarkerCacheKey(shopifyOrderID)); err != nil {
			log.Printf("failed to invalidate order marker cache %s: %v", shopifyOrderID, err)
		}
	}
	return nil
}
