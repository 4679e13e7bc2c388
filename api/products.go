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
)

func (a Api) IngestProduct(c *gin.Context) {
	var newProduct model2.IngestProduct
	if err := c.ShouldBindJSON(&newProduct); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := newProduct.ValidateIngestProduct()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.bunlink.IngestProduct(c.Request.Context(), newProduct.Pid, newProduct.ShopifyGid, newProduct.ShopifyInventoryItemGid)
	if err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetProduct(c *gin.Context) {
	pid, passed := c.Params.Get("pid")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pid is required. pass pid in the route /:pid"})
		return
	}

	resp, err := a.bunlink.GetSyncedProduct(c.Request.Context(), pid)
	if err != nil {
		a.handleError(c, err)
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) QueueProductSync(c *gin.Context) {
	pid, passed := c.Params.Get("pid")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pid is required. pass pid in the route /:pid"})
		return
	}

	if err := a.bunlink.Queue().QueueProductSync(c.Request.Context(), pid); err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"pid": pid})
}
