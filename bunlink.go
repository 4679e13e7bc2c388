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

// Package bunlink keeps a source marketplace (Bunjang) and a storefront
// (Shopify) agreeing about which single-quantity products are still for sale,
// and buys a product on the source when the storefront sells it first.
package bunlink

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	bunjangapi "github.com/bunlink/bunlink/bunjang"
	"github.com/bunlink/bunlink/config"
	"github.com/bunlink/bunlink/database"
	redis_db "github.com/bunlink/bunlink/internal/redis-db"
	"github.com/bunlink/bunlink/model"
	shopifyapi "github.com/bunlink/bunlink/shopify"
)

var tracer = otel.Tracer("bunlink")

// StorefrontClient is the slice of the Shopify client the reconciliation
// services depend on.
type StorefrontClient interface {
	GetOrder(ctx context.Context, orderID string) (*model.ShopifyOrder, error)
	UpdateOrder(ctx context.Context, orderID string, tags []string, bunjangOrderIDs []string) error
	CancelOrder(ctx context.Context, orderID string, notifyCustomer bool) error
	CreateRefund(ctx context.Context, orderID string, items []shopifyapi.RefundLineItem, note string) error
	UpdateListing(ctx context.Context, productGid string, update shopifyapi.ListingUpdate) error
	SetInventoryLevel(ctx context.Context, inventoryItemGid string, quantity int) error
}

// MarketplaceClient is the slice of the Bunjang client the reconciliation
// services depend on.
type MarketplaceClient interface {
	GetProductDetail(ctx context.Context, pid string) (*bunjangapi.Product, error)
	CreateOrder(ctx context.Context, pid string, price decimal.Decimal) (string, error)
	GetPointBalance(ctx context.Context) (decimal.Decimal, error)
	GetOrders(ctx context.Context, statusChangedSince time.Time, page, size int) ([]bunjangapi.Order, error)
}

// Bunlink is the main struct wiring the datasource, the queue and the two
// marketplace clients together.
type Bunlink struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	shopify    StorefrontClient
	bunjang    MarketplaceClient
}

// NewBunlink initializes a new instance of Bunlink with the provided
// datasource. It fetches the configuration and initializes the Redis client,
// the queue and the marketplace clients.
func NewBunlink(db database.IDataSource) (*Bunlink, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient(configuration.Redis.Dns)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	newBunlink := &Bunlink{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		shopify:    shopifyapi.NewClientWithConfig(&configuration.Shopify),
		bunjang:    bunjangapi.NewClientWithConfig(&configuration.Bunjang),
	}
	return newBunlink, nil
}

// NewBunlinkWithClients wires explicit collaborators. Embedders and tests use
// it to swap marketplace clients or skip the queue.
func NewBunlinkWithClients(db database.IDataSource, store StorefrontClient, market MarketplaceClient, redisClient redis.UniversalClient, queue *Queue) *Bunlink {
	return &Bunlink{
		datasource: db,
		queue:      queue,
		redis:      redisClient,
		shopify:    store,
		bunjang:    market,
	}
}
