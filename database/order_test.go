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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestGetOrderMarker_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows([]string{"id", "shopify_order_id", "bunjang_order_ids", "processed_at"}).
		AddRow(int64(1), "5479150518334", `{"bo-1","bo-2"}`, time.Now())

	mock.ExpectQuery("SELECT id, shopify_order_id, bunjang_order_ids, processed_at FROM bunlink.order_markers").
		WithArgs("5479150518334").
		WillReturnRows(rows)

	marker, err := ds.GetOrderMarker(context.Background(), "5479150518334")
	assert.NoError(t, err)
	assert.NotNil(t, marker)
	assert.Equal(t, []string{"bo-1", "bo-2"}, marker.BunjangOrderIDs)
}

func TestGetOrderMarker_NotProcessed(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT id, shopify_order_id, bunjang_order_ids, processed_at FROM bunlink.order_markers").
		WithArgs("5479150518334").
		WillReturnRows(sqlmock.NewRows([]string{"id", "shopify_order_id", "bunjang_order_ids", "processed_at"}))

	marker, err := ds.GetOrderMarker(context.Background(), "5479150518334")
	assert.NoError(t, err)
	assert.Nil(t, marker)
}

func TestRecordOrderMarker(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO bunlink.order_markers").
		WithArgs("5479150518334", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.RecordOrderMarker(context.Background(), "5479150518334", []string{"bo-1"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
