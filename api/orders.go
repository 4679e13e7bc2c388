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

	model2 "github.com/bunlink/bunlink/api/model"
	"github.com/bunlink/bunlink/model"
)

// ProcessOrder re-drives orchestration of one order through the queue. Useful
// after fixing a configuration problem or replaying a missed webhook.
func (a Api) ProcessOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var payload model2.ProcessOrder
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
			return
		}
	}

	options := model.OrchestrationOptions{SkipAvailabilityCheck: payload.SkipAvailabilityCheck}
	if err := a.bunlink.Queue().QueueOrderProcessing(c.Request.Context(), id, options); err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"order_id": id})
}

// CancelOrder runs the cancellation decision for an order synchronously and
// reports what was done.
func (a Api) CancelOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	decision, err := a.bunlink.ExecuteCancellation(c.Request.Context(), id)
	if err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

func (a Api) GetOrderMarker(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	marker, err := a.bunlink.GetOrderMarker(c.Request.Context(), id)
	if err != nil {
		a.handleError(c, err)
		return
	}
	if marker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order has not been processed"})
		return
	}

	c.JSON(http.StatusOK, marker)
}
