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

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bunlink/bunlink/config"
	"github.com/bunlink/bunlink/internal/apierror"
	"github.com/bunlink/bunlink/model"
)

// orderPollCheckpointKey stores the high-water mark of the Bunjang order
// status poll.
const orderPollCheckpointKey = "bunlink:order-poll:checkpoint"

const orderPollPageSize = 100

// IngestProduct registers a Bunjang product in the synchronization ledger
// against its storefront listing and enqueues the first sync.
func (l *Bunlink) IngestProduct(ctx context.Context, pid, shopifyGid, inventoryItemGid string) (*model.SyncedProduct, error) {
	ctx, span := tracer.Start(ctx, "IngestProduct")
	defer span.End()

	if pid == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "pid is required", nil)
	}
	product, err := l.GetOrCreateSyncedProduct(ctx, pid, shopifyGid, inventoryItemGid)
	if err != nil {
		return nil, err
	}
	if l.queue != nil {
		if err := l.queue.QueueProductSync(ctx, pid); err != nil {
			return nil, err
		}
	}
	return product, nil
}

// GetOrderMarker looks up the processing marker of a storefront order. Nil
// without error means the order was never processed.
func (l *Bunlink) GetOrderMarker(ctx context.Context, shopifyOrderID string) (*model.OrderMarker, error) {
	return l.datasource.GetOrderMarker(ctx, shopifyOrderID)
}

// PollBunjangOrders walks the Bunjang orders whose status changed since the
// last poll and mirrors each status onto the storefront order that bought it,
// as a "BunjangStatus-<code>" tag. Orders not created by this system are
// skipped. The checkpoint only advances after a fully successful pass, so a
// failed pass re-reads the same window; tagging is idempotent.
func (l *Bunlink) PollBunjangOrders(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "PollBunjangOrders")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return 0, err
	}

	since, err := l.orderPollCheckpoint(ctx)
	if err != nil {
		return 0, err
	}
	passStarted := time.Now()

	tagged := 0
	requests := 0
	for page := 0; ; page++ {
		orders, err := l.bunjang.GetOrders(ctx, since, page, orderPollPageSize)
		if err != nil {
			return tagged, err
		}
		requests++
		if requests%cfg.Bunjang.BatchPauseEveryN == 0 {
			select {
			case <-time.After(time.Duration(cfg.Bunjang.BatchPauseMs) * time.Millisecond):
			case <-ctx.Done():
				return tagged, ctx.Err()
			}
		}
		if len(orders) == 0 {
			break
		}

		for _, order := range orders {
			marker, err := l.datasource.FindOrderMarkerByBunjangOrderID(ctx, order.ID)
			if err != nil {
				return tagged, err
			}
			if marker == nil {
				continue
			}
			if err := l.tagStorefrontOrderStatus(ctx, marker.ShopifyOrderID, order.Status); err != nil {
				return tagged, err
			}
			tagged++
		}
		if len(orders) < orderPollPageSize {
			break
		}
	}

	if err := l.redis.Set(ctx, orderPollCheckpointKey, passStarted.UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return tagged, err
	}
	logrus.WithFields(logrus.Fields{"since": since, "tagged": tagged}).Info("bunjang order poll completed")
	return tagged, nil
}

// orderPollCheckpoint loads the last successful poll time; a fresh system
// looks one day back.
func (l *Bunlink) orderPollCheckpoint(ctx context.Context) (time.Time, error) {
	value, err := l.redis.Get(ctx, orderPollCheckpointKey).Result()
	if err == redis.Nil {
		return time.Now().Add(-24 * time.Hour), nil
	}
	if err != nil {
		return time.Time{}, err
	}
	checkpoint, err := time.Parse(time.RFC3339, value)
	if err != nil {
		logrus.Warnf("discarding unparseable poll checkpoint %q", value)
		return time.Now().Add(-24 * time.Hour), nil
	}
	return checkpoint, nil
}

// tagStorefrontOrderStatus adds the Bunjang status tag to a storefront order
// unless it already carries it.
func (l *Bunlink) tagStorefrontOrderStatus(ctx context.Context, shopifyOrderID, statusCode string) error {
	order, err := l.shopify.GetOrder(ctx, shopifyOrderID)
	if err != nil {
		return err
	}
	if order == nil {
		logrus.WithField("order", shopifyOrderID).Warn("storefront order vanished, skipping status tag")
		return nil
	}
	tag := model.FormatBunjangStatusTag(statusCode)
	if order.HasTag(tag) {
		return nil
	}
	return l.shopify.UpdateOrder(ctx, shopifyOrderID, append(order.Tags, tag), nil)
}
