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

// Package bunjang is the source-marketplace REST client. Failures carry the
// marketplace's own error code (INSUFFICIENT_POINTS, INVALID_ACCESS_TOKEN and
// friends) so callers can turn them into per-item outcome tags.
package bunjang

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bunlink/bunlink/config"
	"github.com/bunlink/bunlink/internal/request"
)

// APIError is a structured failure from the Bunjang API. Code is stable and
// machine-readable; Message is for humans.
type APIError struct {
	Code    string `json:"errorCode"`
	Message string `json:"reason"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bunjang: %s", e.Code)
	}
	return fmt.Sprintf("bunjang: %s (%s)", e.Code, e.Message)
}

// ErrorCode extracts the Bunjang error code from err, or "" when err is not
// an APIError.
func ErrorCode(err error) string {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Code
	}
	return ""
}

type Client struct {
	base  string
	token string
}

// NewClient builds a client from the loaded configuration.
func NewClient() (*Client, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return NewClientWithConfig(&cfg.Bunjang), nil
}

func NewClientWithConfig(cfg *config.BunjangConfig) *Client {
	return &Client{base: cfg.ApiBase, token: cfg.AccessToken}
}

type envelope struct {
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"errorCode"`
	Reason    string          `json:"reason"`
}

// do runs one API call and unmarshals the data field into out. Error
// responses come back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out interface{}) error {
	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var req *http.Request
	var err error
	if payload != nil {
		body, mErr := request.ToJsonReq(payload)
		if mErr != nil {
			return mErr
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	}
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	var env envelope
	resp, err := request.Call(req, &env)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 || env.ErrorCode != "" {
		code := env.ErrorCode
		if code == "" {
			code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		}
		return &APIError{Code: code, Message: env.Reason}
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// Product sale statuses as Bunjang reports them.
const (
	ProductSelling  = "SELLING"
	ProductSoldOut  = "SOLD_OUT"
	ProductReserved = "RESERVED"
	ProductHidden   = "HIDDEN"
	ProductDeleted  = "DELETED"
)

type Product struct {
	Pid       string          `json:"pid"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Status    string          `json:"saleStatus"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// IsSelling reports whether the product can still be bought.
func (p *Product) IsSelling() bool {
	return p.Status == ProductSelling && p.Quantity > 0
}

// GetProductDetail fetches the live state of a product. A product Bunjang no
// longer knows about returns (nil, nil), not an error: deletion is a normal
// lifecycle event upstream.
func (c *Client) GetProductDetail(ctx context.Context, pid string) (*Product, error) {
	var product Product
	err := c.do(ctx, http.MethodGet, "/api/v2/products/"+pid, nil, nil, &product)
	if apiErr, ok := err.(*APIError); ok && (apiErr.Code == "PRODUCT_NOT_FOUND" || apiErr.Code == "HTTP_404") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

type createOrderRequest struct {
	Product struct {
		ID    string          `json:"id"`
		Price decimal.Decimal `json:"price"`
	} `json:"product"`
}

type createdOrder struct {
	ID string `json:"id"`
}

// CreateOrder places a point-funded order for the product at the given price
// and returns the new Bunjang order id. The price is echoed back to Bunjang
// as a guard against buying at a price that moved since the storefront sale.
func (c *Client) CreateOrder(ctx context.Context, pid string, price decimal.Decimal) (string, error) {
	var body createOrderRequest
	body.Product.ID = pid
	body.Product.Price = price

	var order createdOrder
	if err := c.do(ctx, http.MethodPost, "/api/v2/orders", nil, body, &order); err != nil {
		return "", err
	}
	return order.ID, nil
}

type pointBalance struct {
	Balance decimal.Decimal `json:"balance"`
}

// GetPointBalance returns the current point balance of the buying account.
func (c *Client) GetPointBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance pointBalance
	if err := c.do(ctx, http.MethodGet, "/api/v1/points/balance", nil, nil, &balance); err != nil {
		return decimal.Zero, err
	}
	return balance.Balance, nil
}

// Order is one Bunjang order as the status poller sees it.
type Order struct {
	ID        string    `json:"id"`
	Pid       string    `json:"pid"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type orderPage struct {
	Orders []Order `json:"orders"`
}

// GetOrders lists orders whose status changed since the given time, one page
// at a time.
func (c *Client) GetOrders(ctx context.Context, statusChangedSince time.Time, page, size int) ([]Order, error) {
	query := url.Values{}
	query.Set("statusUpdateStartDate", statusChangedSince.UTC().Format(time.RFC3339))
	query.Set("page", fmt.Sprintf("%d", page))
	query.Set("size", fmt.Sprintf("%d", size))

	var result orderPage
	if err := c.do(ctx, http.MethodGet, "/api/v2/orders", query, nil, &result); err != nil {
		return nil, err
	}
	return result.Orders, nil
}
