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
package model

import (
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// IngestProduct registers a Bunjang product in the synchronization ledger and
// links it to its storefront listing.
type IngestProduct struct {
	Pid                     string `json:"pid"`
	ShopifyGid              string `json:"shopify_gid"`
	ShopifyInventoryItemGid string `json:"shopify_inventory_item_gid"`
}

func (p *IngestProduct) ValidateIngestProduct() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Pid, validation.Required, is.Digit),
	)
}

// OrderWebhook is the subset of Shopify's orders/create webhook payload the
// system needs. Everything else about the order is re-fetched from the Admin
// API inside the worker, so a webhook can stay a thin trigger.
type OrderWebhook struct {
	ID                int64  `json:"id"`
	AdminGraphqlApiID string `json:"admin_graphql_api_id"`
}

func (o *OrderWebhook) ValidateOrderWebhook() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.ID, validation.Required),
	)
}

// OrderID returns the numeric order id as a string, which is how order ids
// travel through the rest of the system.
func (o *OrderWebhook) OrderID() string {
	return strconv.FormatInt(o.ID, 10)
}

// ProcessOrder re-drives orchestration of one storefront order by hand.
type ProcessOrder struct {
	SkipAvailabilityCheck bool `json:"skip_availability_check"`
}
