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

	"github.com/pkg/errors"
)

// ListingUpdate carries the fields of one productUpdate call. Nil fields are
// left untouched on the listing, so a sold-out transition is exactly one
// mutation regardless of how many fields it changes.
type ListingUpdate struct {
	Status *string
	Title  *string
	Tags   []string
}

const (
	ListingActive   = "ACTIVE"
	ListingDraft    = "DRAFT"
	ListingArchived = "ARCHIVED"
)

const productUpdateMutation = `
mutation productUpdate($input: ProductInput!) {
  productUpdate(input: $input) {
    product { id status title tags }
    userErrors { field message }
  }
}`

// UpdateListing applies one productUpdate mutation to the listing.
func (c *Client) UpdateListing(ctx context.Context, productGid string, update ListingUpdate) error {
	input := map[string]interface{}{"id": productGid}
	if update.Status != nil {
		input["status"] = *update.Status
	}
	if update.Title != nil {
		input["title"] = *update.Title
	}
	if update.Tags != nil {
		input["tags"] = update.Tags
	}
	if len(input) == 1 {
		return errors.New("listing update has no fields to change")
	}

	var resp struct {
		ProductUpdate struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"productUpdate"`
	}
	err := c.execute(ctx, productUpdateMutation, map[string]interface{}{"input": input}, &resp)
	if err != nil {
		return err
	}
	return userErrorsToError("productUpdate", resp.ProductUpdate.UserErrors)
}

const inventorySetMutation = `
mutation inventorySetOnHandQuantities($input: InventorySetOnHandQuantitiesInput!) {
  inventorySetOnHandQuantities(input: $input) {
    inventoryAdjustmentGroup { id }
    userErrors { field message }
  }
}`

// SetInventoryLevel sets the on-hand quantity of an inventory item at the
// configured location. Quantities are absolute, so repeating the call is
// harmless.
func (c *Client) SetInventoryLevel(ctx context.Context, inventoryItemGid string, quantity int) error {
	var resp struct {
		InventorySetOnHandQuantities struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"inventorySetOnHandQuantities"`
	}
	err := c.execute(ctx, inventorySetMutation, map[string]interface{}{
		"input": map[string]interface{}{
			"reason": "correction",
			"setQuantities": []map[string]interface{}{
				{
					"inventoryItemId": inventoryItemGid,
					"locationId":      c.locationGid,
					"quantity":        quantity,
				},
			},
		},
	}, &resp)
	if err != nil {
		return err
	}
	return userErrorsToError("inventorySetOnHandQuantities", resp.InventorySetOnHandQuantities.UserErrors)
}
