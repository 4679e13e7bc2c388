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
	"sort"
	"time"

	"github.com/shopspring/decimal"

	bunjangapi "github.com/bunlink/bunlink/bunjang"
	"github.com/bunlink/bunlink/model"
	shopifyapi "github.com/bunlink/bunlink/shopify"
)

// fakeDataSource is an in-memory database.IDataSource with one ledger row per
// pid, enough for service-level behavior tests.
type fakeDataSource struct {
	products   map[string]*model.SyncedProduct
	markers    map[string]*model.OrderMarker
	lockHeld   map[string]bool // pids whose lock acquisition must fail
	duplicates map[string][]*model.SyncedProduct
	nextID     int64

	releaseCalls int
	sweepResult  int64
	deletedIDs   []int64
}

func newFakeDataSource() *fakeDataSource {
	return &fakeDataSource{
		products: make(map[string]*model.SyncedProduct),
		markers:  make(map[string]*model.OrderMarker),
		lockHeld: make(map[string]bool),
	}
}

func (f *fakeDataSource) addProduct(p *model.SyncedProduct) *model.SyncedProduct {
	f.nextID++
	p.ID = f.nextID
	if p.ProcessingStatus == "" {
		p.ProcessingStatus = model.ProcessingIdle
	}
	f.products[p.BunjangPid] = p
	return p
}

func (f *fakeDataSource) CreateSyncedProduct(_ context.Context, p *model.SyncedProduct) (*model.SyncedProduct, error) {
	if p.SyncStatus == "" {
		p.SyncStatus = model.SyncStatusPending
	}
	return f.addProduct(p), nil
}

func (f *fakeDataSource) GetSyncedProduct(_ context.Context, pid string) (*model.SyncedProduct, error) {
	return f.products[pid], nil
}

func (f *fakeDataSource) GetSyncedProductByShopifyGid(_ context.Context, gid string) (*model.SyncedProduct, error) {
	for _, p := range f.products {
		if p.ShopifyGid == gid {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeDataSource) AcquireProductLock(_ context.Context, pid, jobID string, ttl time.Duration) (*model.SyncedProduct, error) {
	p := f.products[pid]
	if p == nil || f.lockHeld[pid] {
		return nil, nil
	}
	now := time.Now()
	expiry := now.Add(ttl)
	p.ProcessingStatus = model.ProcessingInProgress
	p.ProcessingJobID = jobID
	p.ProcessingStartedAt = &now
	p.ProcessingLockExpiry = &expiry
	return p, nil
}

func (f *fakeDataSource) ReleaseProductLock(_ context.Context, pid, jobID, finalStatus, processingError string) error {
	f.releaseCalls++
	p := f.products[pid]
	if p == nil || p.ProcessingJobID != jobID {
		return nil
	}
	p.ProcessingStatus = finalStatus
	p.ProcessingJobID = ""
	p.ProcessingLockExpiry = nil
	p.ProcessingError = processingError
	return nil
}

func (f *fakeDataSource) SweepStuckProductLocks(_ context.Context, _ time.Duration) (int64, error) {
	return f.sweepResult, nil
}

func (f *fakeDataSource) FindDuplicateSyncedProducts(_ context.Context) (map[string][]*model.SyncedProduct, error) {
	return f.duplicates, nil
}

func (f *fakeDataSource) DeleteSyncedProductsByIDs(_ context.Context, ids []int64) (int64, error) {
	f.deletedIDs = append(f.deletedIDs, ids...)
	return int64(len(ids)), nil
}

func (f *fakeDataSource) UpdateSoldFromCAS(_ context.Context, pid string, expected, next model.SoldOrigin, pendingOrder bool) (bool, error) {
	p := f.products[pid]
	if p == nil || p.SoldFrom != expected {
		return false, nil
	}
	p.SoldFrom = next
	if pendingOrder {
		p.PendingShopifyOrder = true
	}
	return true, nil
}

func (f *fakeDataSource) AppendBunjangOrderID(_ context.Context, pid, orderID string) error {
	p := f.products[pid]
	if p == nil {
		return nil
	}
	if !p.HasBunjangOrder(orderID) {
		p.BunjangOrderIDs = append(p.BunjangOrderIDs, orderID)
	}
	p.PendingShopifyOrder = false
	return nil
}

func (f *fakeDataSource) UpdateSyncStatus(_ context.Context, pid, status string) error {
	if p := f.products[pid]; p != nil {
		p.SyncStatus = status
	}
	return nil
}

func (f *fakeDataSource) UpdateShopifyMirror(_ context.Context, pid, title, status string, tags []string) error {
	if p := f.products[pid]; p != nil {
		p.ShopifyTitle = title
		p.ShopifyStatus = status
		p.ShopifyTags = tags
	}
	return nil
}

func (f *fakeDataSource) ListSyncedProductsByStatus(_ context.Context, status string, limit int) ([]*model.SyncedProduct, error) {
	var out []*model.SyncedProduct
	for _, p := range f.products {
		if p.SyncStatus == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDataSource) GetOrderMarker(_ context.Context, shopifyOrderID string) (*model.OrderMarker, error) {
	return f.markers[shopifyOrderID], nil
}

func (f *fakeDataSource) FindOrderMarkerByBunjangOrderID(_ context.Context, bunjangOrderID string) (*model.OrderMarker, error) {
	for _, m := range f.markers {
		for _, id := range m.BunjangOrderIDs {
			if id == bunjangOrderID {
				return m, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeDataSource) RecordOrderMarker(_ context.Context, shopifyOrderID string, bunjangOrderIDs []string) error {
	f.markers[shopifyOrderID] = &model.OrderMarker{
		ShopifyOrderID:  shopifyOrderID,
		BunjangOrderIDs: append([]string{}, bunjangOrderIDs...),
		ProcessedAt:     time.Now(),
	}
	return nil
}

// fakeStorefront records every Shopify mutation so tests can assert exact
// call counts.
type fakeStorefront struct {
	orders map[string]*model.ShopifyOrder

	getOrderCalls  int
	updateCalls    int
	cancelCalls    int
	refundCalls    int
	listingCalls   int
	inventoryCalls int

	lastRefundItems []shopifyapi.RefundLineItem
	lastListing     shopifyapi.ListingUpdate
	lastInventory   int
}

func newFakeStorefront() *fakeStorefront {
	return &fakeStorefront{orders: make(map[string]*model.ShopifyOrder)}
}

func (f *fakeStorefront) totalCalls() int {
	return f.getOrderCalls + f.updateCalls + f.cancelCalls + f.refundCalls + f.listingCalls + f.inventoryCalls
}

func (f *fakeStorefront) GetOrder(_ context.Context, orderID string) (*model.ShopifyOrder, error) {
	f.getOrderCalls++
	return f.orders[orderID], nil
}

func (f *fakeStorefront) UpdateOrder(_ context.Context, orderID string, tags []string, bunjangOrderIDs []string) error {
	f.updateCalls++
	if order := f.orders[orderID]; order != nil {
		order.Tags = tags
		if bunjangOrderIDs != nil {
			order.BunjangOrderIDs = bunjangOrderIDs
		}
	}
	return nil
}

func (f *fakeStorefront) CancelOrder(_ context.Context, orderID string, _ bool) error {
	f.cancelCalls++
	if order := f.orders[orderID]; order != nil {
		order.Cancelled = true
	}
	return nil
}

func (f *fakeStorefront) CreateRefund(_ context.Context, _ string, items []shopifyapi.RefundLineItem, _ string) error {
	f.refundCalls++
	f.lastRefundItems = items
	return nil
}

func (f *fakeStorefront) UpdateListing(_ context.Context, _ string, update shopifyapi.ListingUpdate) error {
	f.listingCalls++
	f.lastListing = update
	return nil
}

func (f *fakeStorefront) SetInventoryLevel(_ context.Context, _ string, quantity int) error {
	f.inventoryCalls++
	f.lastInventory = quantity
	return nil
}

// fakeMarketplace serves product details and point balances and records
// created orders.
type fakeMarketplace struct {
	details map[string]*bunjangapi.Product
	balance decimal.Decimal
	orders  []bunjangapi.Order

	createErr     error
	createdOrders []string
	detailCalls   int
	createCalls   int
	balanceCalls  int
}

func newFakeMarketplace() *fakeMarketplace {
	return &fakeMarketplace{
		details: make(map[string]*bunjangapi.Product),
		balance: decimal.NewFromInt(1_000_000),
	}
}

func (f *fakeMarketplace) totalCalls() int {
	return f.detailCalls + f.createCalls + f.balanceCalls
}

func (f *fakeMarketplace) GetProductDetail(_ context.Context, pid string) (*bunjangapi.Product, error) {
	f.detailCalls++
	return f.details[pid], nil
}

func (f *fakeMarketplace) CreateOrder(_ context.Context, pid string, _ decimal.Decimal) (string, error) {
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	orderID := "bo-" + pid
	f.createdOrders = append(f.createdOrders, orderID)
	return orderID, nil
}

func (f *fakeMarketplace) GetPointBalance(_ context.Context) (decimal.Decimal, error) {
	f.balanceCalls++
	return f.balance, nil
}

func (f *fakeMarketplace) GetOrders(_ context.Context, _ time.Time, page, size int) ([]bunjangapi.Order, error) {
	start := page * size
	if start >= len(f.orders) {
		return nil, nil
	}
	end := start + size
	if end > len(f.orders) {
		end = len(f.orders)
	}
	return f.orders[start:end], nil
}

func sellingProduct(pid, name string, price int64) *bunjangapi.Product {
	return &bunjangapi.Product{
		Pid:      pid,
		Name:     name,
		Price:    decimal.NewFromInt(price),
		Quantity: 1,
		Status:   bunjangapi.ProductSelling,
	}
}

// newTestBunlink wires a Bunlink instance from fakes; no Redis and no queue.
func newTestBunlink(ds *fakeDataSource, store *fakeStorefront, market *fakeMarketplace) *Bunlink {
	return &Bunlink{datasource: ds, shopify: store, bunjang: market}
}
