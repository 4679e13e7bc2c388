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
	redlock "github.com/bunlink/bunlink/internal/lock"
	"github.com/bunlink/bunlink/model"
	shopifyapi "github.com/bunlink/bunlink/shopify"
)

// SweepResult summarizes one pass of the periodic sweep.
type SweepResult struct {
	StuckLocksFailed    int64 `json:"stuck_locks_failed"`
	DuplicatesCollapsed int64 `json:"duplicates_collapsed"`
}

// SweepStuckLocks force-fails product locks abandoned by dead workers and
// collapses duplicate ledger rows. A Redis lock makes the sweep a singleton
// across worker instances; when another instance holds it the pass is a
// silent no-op. The sweep never touches a lock whose TTL has not expired:
// an alive worker is given its full window.
func (l *Bunlink) SweepStuckLocks(ctx context.Context) (*SweepResult, error) {
	ctx, span := tracer.Start(ctx, "SweepStuckLocks")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	guard := redlock.NewLocker(l.redis, "sweep:stuck-locks", model.GenerateUUIDWithSuffix("sweep"))
	if err := guard.Lock(ctx, time.Duration(cfg.Reconciliation.StuckLockTimeoutMins)*time.Minute); err != nil {
		logrus.Infof("sweep not started: %v", err)
		return &SweepResult{}, nil
	}
	defer func() {
		if err := guard.Unlock(ctx); err != nil {
			logrus.Errorf("failed to release sweep guard: %v", err)
		}
	}()

	olderThan := time.Duration(cfg.Reconciliation.StuckLockTimeoutMins) * time.Minute
	failed, err := l.datasource.SweepStuckProductLocks(ctx, olderThan)
	if err != nil {
		return nil, err
	}
	if failed > 0 {
		logrus.WithField("count", failed).Warn("force-failed abandoned product locks")
	}

	collapsed, err := l.ResolveDuplicateSyncedProducts(ctx)
	if err != nil {
		return nil, err
	}

	return &SweepResult{StuckLocksFailed: failed, DuplicatesCollapsed: collapsed}, nil
}

// backfillBatchSize bounds one backfill pass; the cron brings the rest later.
const backfillBatchSize = 500

// BackfillPendingSync re-enqueues sync jobs for every product whose last sync
// did not land, pausing periodically to stay inside the source marketplace's
// request budget.
func (l *Bunlink) BackfillPendingSync(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "BackfillPendingSync")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, status := range []string{model.SyncStatusPending, model.SyncStatusError} {
		products, err := l.datasource.ListSyncedProductsByStatus(ctx, status, backfillBatchSize)
		if err != nil {
			return enqueued, err
		}
		for _, product := range products {
			if err := l.queue.QueueProductSync(ctx, product.BunjangPid); err != nil {
				return enqueued, err
			}
			enqueued++
			if enqueued%cfg.Bunjang.BatchPauseEveryN == 0 {
				select {
				case <-time.After(time.Duration(cfg.Bunjang.BatchPauseMs) * time.Millisecond):
				case <-ctx.Done():
					return enqueued, ctx.Err()
				}
			}
		}
	}
	logrus.WithField("count", enqueued).Info("backfill pass enqueued sync jobs")
	return enqueued, nil
}

// SyncProduct reconciles one product's storefront listing with its live
// source state under the product lock. A product that went out of sale on
// the source is treated as sold there; a live one has its title and quantity
// mirrored.
func (l *Bunlink) SyncProduct(ctx context.Context, pid string) error {
	ctx, span := tracer.Start(ctx, "SyncProduct")
	defer span.End()

	jobID := "sync:" + pid
	product, err := l.lockProduct(ctx, pid, jobID)
	if err != nil {
		return err
	}
	if product == nil {
		logrus.WithField("pid", pid).Info("product locked elsewhere, skipping sync")
		return nil
	}

	syncErr := l.syncLockedProduct(ctx, product)
	l.unlockProduct(ctx, pid, jobID, syncErr)

	status := model.SyncStatusSynced
	if syncErr != nil {
		status = model.SyncStatusError
	}
	if err := l.datasource.UpdateSyncStatus(ctx, pid, status); err != nil {
		logrus.WithField("pid", pid).Errorf("failed to record sync status: %v", err)
	}
	return syncErr
}

func (l *Bunlink) syncLockedProduct(ctx context.Context, product *model.SyncedProduct) error {
	pid := product.BunjangPid

	detail, err := l.bunjang.GetProductDetail(ctx, pid)
	if err != nil {
		return err
	}
	if detail == nil || !detail.IsSelling() {
		// Gone or no longer buyable at the source. If nothing sold it yet on
		// our ledger, record it as sold at the source so the storefront
		// listing comes down.
		if product.SoldFrom == model.SoldFromNone {
			return l.HandleProductSold(ctx, pid, model.SoldFromBunjang)
		}
		return nil
	}

	if product.ShopifyGid != "" && product.ShopifyTitle != detail.Name {
		title := detail.Name
		if err := l.shopify.UpdateListing(ctx, product.ShopifyGid, shopifyapi.ListingUpdate{Title: &title}); err != nil {
			return err
		}
	}
	if product.ShopifyInventoryItemGid != "" {
		if err := l.shopify.SetInventoryLevel(ctx, product.ShopifyInventoryItemGid, detail.Quantity); err != nil {
			return err
		}
	}
	if err := l.datasource.UpdateShopifyMirror(ctx, pid, detail.Name, product.ShopifyStatus, product.ShopifyTags); err != nil {
		return err
	}
	return nil
}
