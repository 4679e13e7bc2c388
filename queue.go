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
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bunlink/bunlink/config"
	redis_db "github.com/bunlink/bunlink/internal/redis-db"
	"github.com/bunlink/bunlink/model"
)

// Task type names. Each doubles as the queue name prefix in asynqmon.
const (
	TaskOrderProcess = "order:process"
	TaskOrderCancel  = "order:cancel"
	TaskProductSync  = "product:sync"
	TaskSweep        = "sweep:run"
	TaskBackfill     = "sync:backfill"
	TaskOrderPoll    = "order:poll"
)

// Queue wraps the asynq client used to hand work to the background workers.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// OrderTaskPayload is the payload of both order tasks.
type OrderTaskPayload struct {
	OrderID string                     `json:"order_id"`
	Options model.OrchestrationOptions `json:"options"`
}

// SyncTaskPayload is the payload of a product sync task.
type SyncTaskPayload struct {
	Pid string `json:"pid"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// enqueue submits a task and absorbs duplicate-id conflicts: a task that is
// already queued or running under the same stable id is the desired state,
// not an error.
func (q *Queue) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	info, err := q.Client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		log.Printf(" [*] Task already enqueued, skipping: %s", task.Type())
		return nil
	}
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued %s: %s", task.Type(), info.ID)
	return nil
}

// QueueOrderProcessing enqueues orchestration of a storefront order. The task
// id is derived from the order id so a webhook redelivery never produces a
// second concurrent job.
func (q *Queue) QueueOrderProcessing(ctx context.Context, orderID string, options model.OrchestrationOptions) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(OrderTaskPayload{OrderID: orderID, Options: options})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskOrderProcess, payload,
		asynq.TaskID("order:"+orderID),
		asynq.Queue(cfg.Queue.OrderQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	)
	return q.enqueue(ctx, task)
}

// queueCancellation enqueues the cancellation decision for an order after
// the given delay.
func (q *Queue) queueCancellation(ctx context.Context, orderID string, delay time.Duration) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(OrderTaskPayload{OrderID: orderID})
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.TaskID("cancel:" + orderID),
		asynq.Queue(cfg.Queue.CancellationQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	task := asynq.NewTask(TaskOrderCancel, payload, opts...)
	return q.enqueue(ctx, task)
}

// QueueProductSync enqueues a sync of one product's ledger entry against both
// marketplaces.
func (q *Queue) QueueProductSync(ctx context.Context, pid string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(SyncTaskPayload{Pid: pid})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskProductSync, payload,
		asynq.TaskID("sync:"+pid),
		asynq.Queue(cfg.Queue.SyncQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	)
	return q.enqueue(ctx, task)
}

// Queue returns the queue handle for callers outside the root package.
func (l *Bunlink) Queue() *Queue {
	return l.queue
}

// ProcessOrderTask is the asynq handler for TaskOrderProcess.
func (l *Bunlink) ProcessOrderTask(ctx context.Context, t *asynq.Task) error {
	var payload OrderTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	_, err := l.ProcessShopifyOrder(ctx, payload.OrderID, payload.Options)
	return err
}

// ProcessCancellationTask is the asynq handler for TaskOrderCancel.
func (l *Bunlink) ProcessCancellationTask(ctx context.Context, t *asynq.Task) error {
	var payload OrderTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	_, err := l.ExecuteCancellation(ctx, payload.OrderID)
	return err
}

// ProcessSyncTask is the asynq handler for TaskProductSync.
func (l *Bunlink) ProcessSyncTask(ctx context.Context, t *asynq.Task) error {
	var payload SyncTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	return l.SyncProduct(ctx, payload.Pid)
}

// ProcessSweepTask is the asynq handler for the scheduled stuck-lock sweep.
func (l *Bunlink) ProcessSweepTask(ctx context.Context, _ *asynq.Task) error {
	result, err := l.SweepStuckLocks(ctx)
	if err != nil {
		return err
	}
	log.Printf(" [*] Sweep complete: %d stuck locks failed, %d duplicates collapsed",
		result.StuckLocksFailed, result.DuplicatesCollapsed)
	return nil
}

// ProcessBackfillTask is the asynq handler for the scheduled sync backfill.
func (l *Bunlink) ProcessBackfillTask(ctx context.Context, _ *asynq.Task) error {
	enqueued, err := l.BackfillPendingSync(ctx)
	if err != nil {
		return err
	}
	log.Printf(" [*] Backfill complete: %d syncs enqueued", enqueued)
	return nil
}

// ProcessOrderPollTask is the asynq handler for the scheduled Bunjang order
// status poll.
func (l *Bunlink) ProcessOrderPollTask(ctx context.Context, _ *asynq.Task) error {
	tagged, err := l.PollBunjangOrders(ctx)
	if err != nil {
		return err
	}
	log.Printf(" [*] Order poll complete: %d storefront orders tagged", tagged)
	return nil
}
