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
)

// Sweep runs the stuck-lock sweep out of schedule. The cron worker runs the
// same code; this endpoint exists for operators.
func (a Api) Sweep(c *gin.Context) {
	result, err := a.bunlink.SweepStuckLocks(c.Request.Context())
	if err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Backfill re-enqueues syncs for every ledger entry still pending or in error.
func (a Api) Backfill(c *gin.Context) {
	enqueued, err := a.bunlink.BackfillPendingSync(c.Request.Context())
	if err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"enqueued": enqueued})
}

// PollOrders runs the Bunjang order status poll out of schedule.
func (a Api) PollOrders(c *gin.Context) {
	tagged, err := a.bunlink.PollBunjangOrders(c.Request.Context())
	if err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tagged": tagged})
}
