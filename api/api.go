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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bunlink/bunlink"
	"github.com/bunlink/bunlink/api/middleware"
	model2 "github.com/bunlink/bunlink/api/model"
	"github.com/bunlink/bunlink/config"
	"github.com/bunlink/bunlink/internal/apierror"
	"github.com/bunlink/bunlink/model"
)

type Api struct {
	bunlink *bunlink.Bunlink
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/webhooks/shopify/orders-create", a.OrderCreatedWebhook)

	router.POST("/products", a.IngestProduct)
	router.GET("/products/:pid", a.GetProduct)
	router.POST("/products/:pid/sync", a.QueueProductSync)

	router.POST("/orders/:id/process", a.ProcessOrder)
	router.POST("/orders/:id/cancel", a.CancelOrder)
	router.GET("/orders/:id/marker", a.GetOrderMarker)

	router.POST("/sweep", a.Sweep)
	router.POST("/backfill", a.Backfill)
	router.POST("/poll-orders", a.PollOrders)

	return a.router
}

func NewAPI(b *bunlink.Bunlink) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{bunlink: b, router: r}
}

// OrderCreatedWebhook receives Shopify's orders/create webhook and enqueues
// orchestration. The worker re-fetches the order, so redeliveries cost one
// idempotent enqueue.
func (a Api) OrderCreatedWebhook(c *gin.Context) {
	var payload model2.OrderWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := payload.ValidateOrderWebhook(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := a.bunlink.Queue().QueueOrderProcessing(c.Request.Context(), payload.OrderID(), model.OrchestrationOptions{})
	if err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"order_id": payload.OrderID()})
}

func (a Api) handleError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}
