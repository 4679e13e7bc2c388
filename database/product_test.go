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
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/bunlink/bunlink/model"
)

var productColumns = []string{
	"id", "bunjang_pid", "shopify_gid", "shopify_inventory_item_gid",
	"sync_status", "sync_attempt_count", "sync_retry_count", "last_sync_attempt_at", "last_synced_at",
	"processing_status", "processing_started_at", "processing_job_id", "processing_lock_expiry", "processing_error",
	"sold_from", "sold_at", "sold_from_bunjang_at", "sold_from_shopify_at",
	"pending_shopify_order", "bunjang_order_ids",
	"shopify_title", "shopify_status", "shopify_tags",
	"created_at", "updated_at",
}

func productRow(id int64, pid, processingStatus, soldFrom string) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, pid, "gid://shopify/Product/1", "gid://shopify/InventoryItem/1",
		model.SyncStatusSynced, 1, 0, now, now,
		processingStatus, nil, nil, nil, nil,
		soldFrom, nil, nil, nil,
		false, "{}",
		"Vintage jacket", "ACTIVE", "{}",
		now, now,
	}
}

func addProductRow(rows *sqlmock.Rows, values []driver.Value) *sqlmock.Rows {
	return rows.AddRow(values...)
}

func TestCreateSyncedProduct_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("INSERT INTO bunlink.synced_products").
		WithArgs("342351629", "gid://shopify/Product/1", "", model.SyncStatusPending, model.ProcessingIdle,
			"", false, sqlmock.AnyArg(), "", "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	created, err := ds.CreateSyncedProduct(context.Background(), &model.SyncedProduct{
		BunjangPid: "342351629",
		ShopifyGid: "gid://shopify/Product/1",
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(7), created.ID)
	assert.Equal(t, model.SyncStatusPending, created.SyncStatus)
	assert.WithinDuration(t, time.Now(), created.CreatedAt, time.Second)
}

func TestGetSyncedProduct_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM bunlink.synced_products WHERE bunjang_pid").
		WithArgs("unknown-pid").
		WillReturnRows(sqlmock.NewRows(productColumns))

	product, err := ds.GetSyncedProduct(context.Background(), "unknown-pid")
	assert.NoError(t, err)
	assert.Nil(t, product)
}

func TestAcquireProductLock_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := addProductRow(sqlmock.NewRows(productColumns), productRow(1, "342351629", model.ProcessingInProgress, ""))
	mock.ExpectQuery("UPDATE bunlink.synced_products").
		WithArgs("342351629", model.ProcessingInProgress, "job-1", float64(120)).
		WillReturnRows(rows)

	product, err := ds.AcquireProductLock(context.Background(), "342351629", "job-1", 120*time.Second)
	assert.NoError(t, err)
	assert.NotNil(t, product)
	assert.Equal(t, "342351629", product.BunjangPid)
	assert.Equal(t, model.ProcessingInProgress, product.ProcessingStatus)
}

func TestAcquireProductLock_HeldElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	// The CAS matched no row: another worker holds an unexpired lock.
	mock.ExpectQuery("UPDATE bunlink.synced_products").
		WithArgs("342351629", model.ProcessingInProgress, "job-2", float64(120)).
		WillReturnRows(sqlmock.NewRows(productColumns))

	product, err := ds.AcquireProductLock(context.Background(), "342351629", "job-2", 120*time.Second)
	assert.NoError(t, err)
	assert.Nil(t, product)
}

func TestReleaseProductLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE bunlink.synced_products").
		WithArgs("342351629", model.ProcessingCompleted, "", model.ProcessingInProgress, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.ReleaseProductLock(context.Background(), "342351629", "job-1", model.ProcessingCompleted, "")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseProductLock_StaleJobMatchesNoRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	// The lock was re-acquired under another job id; the stale worker's
	// release must update nothing.
	mock.ExpectExec("UPDATE bunlink.synced_products").
		WithArgs("342351629", model.ProcessingCompleted, "", model.ProcessingInProgress, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.ReleaseProductLock(context.Background(), "342351629", "job-1", model.ProcessingCompleted, "")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepStuckProductLocks(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE bunlink.synced_products").
		WithArgs(model.ProcessingFailed, sqlmock.AnyArg(), model.ProcessingInProgress, float64(900)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	swept, err := ds.SweepStuckProductLocks(context.Background(), 15*time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), swept)
}

func TestSweepStuckProductLocks_NothingStuck(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE bunlink.synced_products").
		WithArgs(model.ProcessingFailed, sqlmock.AnyArg(), model.ProcessingInProgress, float64(900)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	swept, err := ds.SweepStuckProductLocks(context.Background(), 15*time.Minute)
	assert.NoError(t, err)
	assert.Zero(t, swept)
}

func TestUpdateSoldFromCAS_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE bunlink.synced_products").
		WithArgs("342351629", "", "bunjang", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := ds.UpdateSoldFromCAS(context.Background(), "342351629", model.SoldFromNone, model.SoldFromBunjang, false)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateSoldFromCAS_Conflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	// sold_from changed under us; the compare fails and no row is touched.
	mock.ExpectExec("UPDATE bunlink.synced_products").
		WithArgs("342351629", "", "shopify", true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := ds.UpdateSoldFromCAS(context.Background(), "342351629", model.SoldFromNone, model.SoldFromShopify, true)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendBunjangOrderID(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE bunlink.synced_products").
		WithArgs("342351629", "bo-20260801-001").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.AppendBunjangOrderID(context.Background(), "342351629", "bo-20260801-001")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDuplicateSyncedProducts(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows(productColumns)
	rows = addProductRow(rows, productRow(12, "111", model.ProcessingIdle, ""))
	rows = addProductRow(rows, productRow(3, "111", model.ProcessingIdle, ""))
	rows = addProductRow(rows, productRow(9, "222", model.ProcessingIdle, "bunjang"))
	rows = addProductRow(rows, productRow(4, "222", model.ProcessingIdle, ""))

	mock.ExpectQuery("SELECT (.+) FROM bunlink.synced_products").
		WillReturnRows(rows)

	groups, err := ds.FindDuplicateSyncedProducts(context.Background())
	assert.NoError(t, err)
	assert.Len(t, groups, 2)
	assert.Len(t, groups["111"], 2)
	assert.Equal(t, int64(12), groups["111"][0].ID)
	assert.Len(t, groups["222"], 2)
	assert.Equal(t, model.SoldFromBunjang, groups["222"][0].SoldFrom)
}

func TestDeleteSyncedProductsByIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("DELETE FROM bunlink.synced_products").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := ds.DeleteSyncedProductsByIDs(context.Background(), []int64{3, 4})
	assert.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestUpdateSyncStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE bunlink.synced_products").
		WithArgs("342351629", model.SyncStatusError).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateSyncStatus(context.Background(), "342351629", model.SyncStatusError)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSyncedProductsByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows(productColumns)
	rows = addProductRow(rows, productRow(1, "111", model.ProcessingIdle, ""))
	rows = addProductRow(rows, productRow(2, "222", model.ProcessingIdle, ""))

	mock.ExpectQuery("SELECT (.+) FROM bunlink.synced_products WHERE sync_status").
		WithArgs(model.SyncStatusError, 50).
		WillReturnRows(rows)

	products, err := ds.ListSyncedProductsByStatus(context.Background(), model.SyncStatusError, 50)
	assert.NoError(t, err)
	assert.Len(t, products, 2)
	assert.Equal(t, "111", products[0].BunjangPid)
}
