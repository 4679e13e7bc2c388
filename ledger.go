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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bunlink/bunlink/config"
	"github.com/bunlink/bunlink/internal/notification"
	"github.com/bunlink/bunlink/model"
)

// GetSyncedProduct returns the ledger entry for a pid, or (nil, nil) when the
// product was never synced.
func (l *Bunlink) GetSyncedProduct(ctx context.Context, pid string) (*model.SyncedProduct, error) {
	ctx, span := tracer.Start(ctx, "GetSyncedProduct")
	defer span.End()

	return l.datasource.GetSyncedProduct(ctx, pid)
}

// GetOrCreateSyncedProduct returns the existing ledger entry for pid or
// creates a fresh PENDING one. Concurrent first-time callers may both insert;
// the duplicate sweep collapses the extras later.
func (l *Bunlink) GetOrCreateSyncedProduct(ctx context.Context, pid, shopifyGid, inventoryItemGid string) (*model.SyncedProduct, error) {
	ctx, span := tracer.Start(ctx, "GetOrCreateSyncedProduct")
	defer span.End()

	existing, err := l.datasource.GetSyncedProduct(ctx, pid)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return l.datasource.CreateSyncedProduct(ctx, &model.SyncedProduct{
		BunjangPid:              pid,
		ShopifyGid:              shopifyGid,
		ShopifyInventoryItemGid: inventoryItemGid,
	})
}

// lockProduct acquires the per-product processing lock with the configured
// TTL. A nil product with nil error means the lock is held elsewhere.
func (l *Bunlink) lockProduct(ctx context.Context, pid, jobID string) (*model.SyncedProduct, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(cfg.Reconciliation.LockTTLSeconds) * time.Second
	return l.datasource.AcquireProductLock(ctx, pid, jobID, ttl)
}

// unlockProduct releases the lock held under jobID. A release after the TTL
// expired and another job re-acquired the lock is a no-op.
func (l *Bunlink) unlockProduct(ctx context.Context, pid, jobID string, procErr error) {
	finalStatus := model.ProcessingCompleted
	message := ""
	if procErr != nil {
		finalStatus = model.ProcessingFailed
		message = procErr.Error()
	}
	if err := l.datasource.ReleaseProductLock(ctx, pid, jobID, finalStatus, message); err != nil {
		logrus.WithField("pid", pid).Errorf("failed to release product lock: %v", err)
	}
}

// ResolveDuplicateSyncedProducts collapses every pid with multiple ledger
// rows down to its most recently updated row. The losing rows are deleted and
// the event is reported: duplicates mean two first-time syncs raced, and the
// kept row may carry state from only one of them.
func (l *Bunlink) ResolveDuplicateSyncedProducts(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "ResolveDuplicateSyncedProducts")
	defer span.End()

	groups, err := l.datasource.FindDuplicateSyncedProducts(ctx)
	if err != nil {
		return 0, err
	}
	if len(groups) == 0 {
		return 0, nil
	}

	var staleIDs []int64
	for pid, rows := range groups {
		// rows are newest-first; everything after the head is stale.
		for _, stale := range rows[1:] {
			staleIDs = append(staleIDs, stale.ID)
		}
		logrus.WithFields(logrus.Fields{
			"pid":  pid,
			"kept": rows[0].ID,
			"rows": len(rows),
		}).Warn("collapsed duplicate ledger rows")
	}

	deleted, err := l.datasource.DeleteSyncedProductsByIDs(ctx, staleIDs)
	if err != nil {
		return 0, err
	}
	notification.NotifyError(fmt.Errorf("ledger held %d duplicate rows across %d products; collapsed to newest", deleted, len(groups)))
	return deleted, nil
}
