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

package bunjang

import (
	"context"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/bunlink/bunlink/config"
)

func newTestClient() *Client {
	return NewClientWithConfig(&config.BunjangConfig{
		ApiBase:     "https://openapi.bunjang.co.kr",
		AccessToken: "test-token",
	})
}

func TestGetProductDetail_Selling(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://openapi.bunjang.co.kr/api/v2/products/342351629",
		httpmock.NewStringResponder(200, `{
			"data": {"pid": "342351629", "name": "Vintage jacket", "price": 50000, "quantity": 1, "saleStatus": "SELLING", "updatedAt": "2026-08-01T10:00:00Z"}
		}`))

	product, err := newTestClient().GetProductDetail(context.Background(), "342351629")
	assert.NoError(t, err)
	assert.NotNil(t, product)
	assert.True(t, product.IsSelling())
	assert.True(t, product.Price.Equal(decimal.NewFromInt(50000)))
}

func TestGetProductDetail_SoldOutIsNotSelling(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://openapi.bunjang.co.kr/api/v2/products/342351629",
		httpmock.NewStringResponder(200, `{
			"data": {"pid": "342351629", "name": "Vintage jacket", "price": 50000, "quantity": 0, "saleStatus": "SOLD_OUT"}
		}`))

	product, err := newTestClient().GetProductDetail(context.Background(), "342351629")
	assert.NoError(t, err)
	assert.NotNil(t, product)
	assert.False(t, product.IsSelling())
}

func TestGetProductDetail_NotFound(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://openapi.bunjang.co.kr/api/v2/products/999",
		httpmock.NewStringResponder(404, `{"errorCode": "PRODUCT_NOT_FOUND", "reason": "product does not exist"}`))

	product, err := newTestClient().GetProductDetail(context.Background(), "999")
	assert.NoError(t, err)
	assert.Nil(t, product)
}

func TestCreateOrder_Success(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://openapi.bunjang.co.kr/api/v2/orders",
		httpmock.NewStringResponder(200, `{"data": {"id": "bo-20260801-001"}}`))

	orderID, err := newTestClient().CreateOrder(context.Background(), "342351629", decimal.NewFromInt(50000))
	assert.NoError(t, err)
	assert.Equal(t, "bo-20260801-001", orderID)
}

func TestCreateOrder_InsufficientPoints(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://openapi.bunjang.co.kr/api/v2/orders",
		httpmock.NewStringResponder(400, `{"errorCode": "INSUFFICIENT_POINTS", "reason": "not enough points"}`))

	_, err := newTestClient().CreateOrder(context.Background(), "342351629", decimal.NewFromInt(50000))
	assert.Error(t, err)
	assert.Equal(t, "INSUFFICIENT_POINTS", ErrorCode(err))
}

func TestGetPointBalance(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://openapi.bunjang.co.kr/api/v1/points/balance",
		httpmock.NewStringResponder(200, `{"data": {"balance": 40000}}`))

	balance, err := newTestClient().GetPointBalance(context.Background())
	assert.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(40000)))
}

func TestGetOrders(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^https://openapi\.bunjang\.co\.kr/api/v2/orders\?.*`,
		httpmock.NewStringResponder(200, `{
			"data": {"orders": [
				{"id": "bo-1", "pid": "342351629", "status": "PAYMENT_COMPLETED", "updatedAt": "2026-08-01T10:00:00Z"},
				{"id": "bo-2", "pid": "111", "status": "SHIPPING", "updatedAt": "2026-08-01T11:00:00Z"}
			]}
		}`))

	orders, err := newTestClient().GetOrders(context.Background(), time.Now().Add(-time.Hour), 0, 100)
	assert.NoError(t, err)
	assert.Len(t, orders, 2)
	assert.Equal(t, "PAYMENT_COMPLETED", orders[0].Status)
}

func TestErrorCode_NonAPIError(t *testing.T) {
	assert.Equal(t, "", ErrorCode(context.DeadlineExceeded))
}
