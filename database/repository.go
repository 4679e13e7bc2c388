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
	"time"

	"github.com/bunlink/bunlink/model"
)

type IDataSource interface {
	ledger
	orderMarker
}

type ledger interface {
	CreateSyncedProduct(ctx context.Context, product *model.SyncedProduct) (*model.SyncedProduct, error)
	GetSyncedProduct(ctx context.Context, pid string) (*model.SyncedProduct, error)
	GetSyncedProductByShopifyGid(ctx context.Context, gid string) (*model.SyncedProduct, error)
	AcquireProductLock(ctx context.Context, pid, jobID string, ttl time.Duration) (*model.SyncedProduct, error)
	ReleaseProductLock(ctx context.Context, pid, jobID, finalStatus, processingError string) error
	SweepStuckProductLocks(ctx context.Context, olderThan time.Duration) (int64, error)
	FindDuplicateSyncedProducts(ctx context.Context) (map[string][]*model.SyncedProduct, error)
	DeleteSyncedProductsByIDs(ctx context.Context, ids []int64) (int64, error)
	UpdateSoldFromCAS(ctx context.Context, pid string, expected, next model.SoldOrigin, pendingOrder bool) (bool, error)
	AppendBunjangOrderID(ctx context.Context, pid, orderID string) error
	UpdateSyncStatus(ctx context.Context, pid, status string) error
	UpdateShopifyMirror(ctx context.Context, pid, title, status string, tags []string) error
	ListSyncedProductsByStatus(ctx context.Context, status string, limit int) ([]*model.SyncedProduct, error)
}

type orderMarker interface {
	GetOrderMarker(ctx context.Context, shopifyOrderID string) (*model.OrderMarker, error)
	FindOrderMarkerByBunjangOrderID(ctx context.Context, bunjangOrderID string) (*model.OrderMarker, error)
	RecordOrderMarker(ctx context.Context, shopifyOrderID string, bunjangOrderIDs []string) error
}
