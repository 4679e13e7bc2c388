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

package shopify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/bunlink/bunlink/model"
)

const metafieldOrderIDsKey = "bunjang_order_ids"

const getOrderQuery = `
query getOrder($id: ID!, $namespace: String!, $key: String!) {
  order(id: $id) {
    id
    name
    cancelledAt
    createdAt
    tags
    lineItems(first: 50) {
      nodes {
        id
        title
        quantity
        sku
        product { id }
      }
    }
    metafield(namespace: $namespace, key: $key) { value }
  }
}`

type orderNode struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	CancelledAt *time.Time `json:"cancelledAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	Tags        []string   `json:"tags"`
	LineItems   struct {
		Nodes []struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Quantity int    `json:"quantity"`
			Sku      string `json:"sku"`
			Product  *struct {
				ID string `json:"id"`
			} `json:"product"`
		} `json:"nodes"`
	} `json:"lineItems"`
	Metafield *struct {
		Value string `json:"value"`
	} `json:"metafield"`
}

func (n *orderNode) toModel() *model.ShopifyOrder {
	order := &model.ShopifyOrder{
		ID:          n.ID,
		Name:        n.Name,
		Cancelled:   n.CancelledAt != nil,
		CancelledAt: n.CancelledAt,
		Tags:        n.Tags,
		CreatedAt:   n.CreatedAt,
	}
	for _, item := range n.LineItems.Nodes {
		li := model.LineItem{
			ID:       item.ID,
			Title:    item.Title,
			Quantity: item.Quantity,
			Sku:      item.Sku,
		}
		if item.Product != nil {
			li.ProductGid = item.Product.ID
		}
		order.LineItems = append(order.LineItems, li)
	}
	if n.Metafield != nil && n.Metafield.Value != "" {
		// Metafield is a JSON array of Bunjang order ids; a malformed value is
		// treated as empty rather than failing the whole fetch.
		_ = json.Unmarshal([]byte(n.Metafield.Value), &order.BunjangOrderIDs)
	}
	return order
}

// GetOrder fetches an order with its line items, tags and the recorded
// Bunjang order ids. Returns (nil, nil) when the order does not exist.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*model.ShopifyOrder, error) {
	var resp struct {
		Order *orderNode `json:"order"`
	}
	err := c.execute(ctx, getOrderQuery, map[string]interface{}{
		"id":        OrderGid(orderID),
		"namespace": c.namespace,
		"key":       metafieldOrderIDsKey,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, nil
	}
	return resp.Order.toModel(), nil
}

const orderUpdateMutation = `
mutation orderUpdate($input: OrderInput!) {
  orderUpdate(input: $input) {
    order { id tags }
    userErrors { field message }
  }
}`

const metafieldsSetMutation = `
mutation metafieldsSet($metafields: [MetafieldsSetInput!]!) {
  metafieldsSet(metafields: $metafields) {
    metafields { key }
    userErrors { field message }
  }
}`

// UpdateOrder replaces the order's tag set and, when bunjangOrderIDs is
// non-nil, rewrites the bunjang order ids metafield. Tags are the durable
// per-line-item outcome record, so callers always pass the complete set.
func (c *Client) UpdateOrder(ctx context.Context, orderID string, tags []string, bunjangOrderIDs []string) error {
	var resp struct {
		OrderUpdate struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"orderUpdate"`
	}
	err := c.execute(ctx, orderUpdateMutation, map[string]interface{}{
		"input": map[string]interface{}{
			"id":   OrderGid(orderID),
			"tags": tags,
		},
	}, &resp)
	if err != nil {
		return err
	}
	if err := userErrorsToError("orderUpdate", resp.OrderUpdate.UserErrors); err != nil {
		return err
	}

	if bunjangOrderIDs == nil {
		return nil
	}
	value, err := json.Marshal(bunjangOrderIDs)
	if err != nil {
		return err
	}
	var mfResp struct {
		MetafieldsSet struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"metafieldsSet"`
	}
	err = c.execute(ctx, metafieldsSetMutation, map[string]interface{}{
		"metafields": []map[string]interface{}{
			{
				"ownerId":   OrderGid(orderID),
				"namespace": c.namespace,
				"key":       metafieldOrderIDsKey,
				"type":      "json",
				"value":     string(value),
			},
		},
	}, &mfResp)
	if err != nil {
		return err
	}
	return userErrorsToError("metafieldsSet", mfResp.MetafieldsSet.UserErrors)
}

const orderCancelMutation = `
mutation orderCancel($orderId: ID!, $reason: OrderCancelReason!, $refund: Boolean!, $restock: Boolean!, $notifyCustomer: Boolean) {
  orderCancel(orderId: $orderId, reason: $reason, refund: $refund, restock: $restock, notifyCustomer: $notifyCustomer) {
    job { id }
    orderCancelUserErrors { field message }
  }
}`

// CancelOrder cancels the whole order with a refund. Restock is always false:
// inventory on the storefront mirrors the source marketplace and is corrected
// by the synchronization ledger, never by Shopify's own restocking.
func (c *Client) CancelOrder(ctx context.Context, orderID string, notifyCustomer bool) error {
	var resp struct {
		OrderCancel struct {
			OrderCancelUserErrors []UserError `json:"orderCancelUserErrors"`
		} `json:"orderCancel"`
	}
	err := c.execute(ctx, orderCancelMutation, map[string]interface{}{
		"orderId":        OrderGid(orderID),
		"reason":         "OTHER",
		"refund":         true,
		"restock":        false,
		"notifyCustomer": notifyCustomer,
	}, &resp)
	if err != nil {
		return err
	}
	return userErrorsToError("orderCancel", resp.OrderCancel.OrderCancelUserErrors)
}

const refundCreateMutation = `
mutation refundCreate($input: RefundInput!) {
  refundCreate(input: $input) {
    refund { id }
    userErrors { field message }
  }
}`

// RefundLineItem names one line item to refund in full.
type RefundLineItem struct {
	LineItemID string
	Quantity   int
}

// CreateRefund refunds the given line items without restocking. Used when
// only a subset of an order's items failed downstream.
func (c *Client) CreateRefund(ctx context.Context, orderID string, items []RefundLineItem, note string) error {
	if len(items) == 0 {
		return errors.New("refund requires at least one line item")
	}
	refundItems := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		refundItems = append(refundItems, map[string]interface{}{
			"lineItemId":  item.LineItemID,
			"quantity":    item.Quantity,
			"restockType": "NO_RESTOCK",
		})
	}
	var resp struct {
		RefundCreate struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"refundCreate"`
	}
	err := c.execute(ctx, refundCreateMutation, map[string]interface{}{
		"input": map[string]interface{}{
			"orderId":         OrderGid(orderID),
			"note":            note,
			"notify":          true,
			"refundLineItems": refundItems,
		},
	}, &resp)
	if err != nil {
		return err
	}
	return userErrorsToError("refundCreate", resp.RefundCreate.UserErrors)
}
