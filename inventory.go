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

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bunlink/bunlink/internal/apierror"
	"github.com/bunlink/bunlink/model"
	shopifyapi "github.com/bunlink/bunlink/shopify"
)

const soldFromCASAttempts = 3

// soldTransition describes one step of the sold-from state machine.
type soldTransition struct {
	next model.SoldOrigin
	// withdrawListing takes the listing off the storefront: exactly one
	// listing mutation plus one inventory mutation.
	withdrawListing bool
	// flagSoldOut additionally tags the withdrawn listing sold-out. Set on
	// transitions into the terminal both state, where the product is gone on
	// every marketplace; a listing withdrawn for a source-only sale stays
	// unflagged.
	flagSoldOut bool
	// pendingOrder is set when the transition owes Bunjang a purchase; the
	// order orchestrator clears it once the order exists.
	pendingOrder bool
}

// transitionFor computes the next sold-from state. orderPending reports
// whether a Bunjang purchase is already pending or created for the product.
// A nil result means the event is already absorbed and nothing may be called
// on either marketplace.
func transitionFor(current model.SoldOrigin, origin model.SoldOrigin, orderPending bool) *soldTransition {
	if current == model.SoldFromBoth || current == origin {
		return nil
	}
	switch {
	case current == model.SoldFromNone && origin == model.SoldFromShopify:
		// The storefront sale already zeroed its own inventory; the listing
		// stays visible until the downstream purchase settles.
		return &soldTransition{next: model.SoldFromShopify, pendingOrder: true}
	case origin == model.SoldFromBunjang:
		if current == model.SoldFromShopify || orderPending {
			// Sold on both sides.
			return &soldTransition{next: model.SoldFromBoth, withdrawListing: true, flagSoldOut: true}
		}
		return &soldTransition{next: model.SoldFromBunjang, withdrawListing: true}
	case current == model.SoldFromBunjang && origin == model.SoldFromShopify:
		// The storefront order will fail downstream and the cancellation
		// engine refunds it.
		return &soldTransition{next: model.SoldFromBoth, withdrawListing: true, flagSoldOut: true}
	}
	return nil
}

// HandleProductSold records that the product sold on the given marketplace
// and pushes the storefront to match. Safe to re-deliver: an absorbed event
// touches neither marketplace. The ledger write is a compare-and-set against
// the sold-from value the decision was computed from, retried a bounded
// number of times when a concurrent event wins the race.
func (l *Bunlink) HandleProductSold(ctx context.Context, pid string, origin model.SoldOrigin) error {
	ctx, span := tracer.Start(ctx, "HandleProductSold")
	defer span.End()

	if origin != model.SoldFromBunjang && origin != model.SoldFromShopify {
		return apierror.NewAPIError(apierror.ErrBadRequest, "sold origin must be a marketplace", nil)
	}

	for attempt := 0; attempt < soldFromCASAttempts; attempt++ {
		product, err := l.datasource.GetSyncedProduct(ctx, pid)
		if err != nil {
			return err
		}
		if product == nil {
			return apierror.NewAPIError(apierror.ErrNotFound, "product is not in the synchronization ledger", nil)
		}

		transition := transitionFor(product.SoldFrom, origin, product.HasRecordedOrder())
		if transition == nil {
			logrus.WithFields(logrus.Fields{"pid": pid, "sold_from": product.SoldFrom, "origin": origin}).
				Info("sold event already absorbed")
			return nil
		}

		// Marketplace mutations run before the ledger write: if they fail the
		// ledger still says the work is owed, and a retry repeats mutations
		// that are themselves idempotent (absolute status, absolute quantity).
		if transition.withdrawListing {
			if err := l.withdrawListing(ctx, product, transition.flagSoldOut); err != nil {
				return err
			}
		}

		ok, err := l.datasource.UpdateSoldFromCAS(ctx, pid, product.SoldFrom, transition.next, transition.pendingOrder)
		if err != nil {
			return err
		}
		if ok {
			logrus.WithFields(logrus.Fields{"pid": pid, "from": product.SoldFrom, "to": transition.next}).
				Info("sold-from transition recorded")
			return nil
		}
		// Lost the race; recompute from the fresh state.
	}
	return errors.Errorf("sold-from transition for %s kept losing races after %d attempts", pid, soldFromCASAttempts)
}

// withdrawListing takes the listing off the storefront: one product mutation
// to DRAFT and one inventory mutation to zero. When flagged, the sold-out tag
// rides the same productUpdate call so it costs no extra mutation.
func (l *Bunlink) withdrawListing(ctx context.Context, product *model.SyncedProduct, flagSoldOut bool) error {
	if product.ShopifyGid == "" {
		return apierror.NewAPIError(apierror.ErrBadRequest, "ledger entry has no storefront listing", nil)
	}

	status := shopifyapi.ListingDraft
	update := shopifyapi.ListingUpdate{Status: &status}
	if flagSoldOut {
		update.Tags = model.WithSoldOutTag(product.ShopifyTags)
	}
	if err := l.shopify.UpdateListing(ctx, product.ShopifyGid, update); err != nil {
		return errors.Wrap(err, "taking listing off storefront")
	}
	if product.ShopifyInventoryItemGid != "" {
		if err := l.shopify.SetInventoryLevel(ctx, product.ShopifyInventoryItemGid, 0); err != nil {
			return errors.Wrap(err, "zeroing storefront inventory")
		}
	}
	return nil
}
