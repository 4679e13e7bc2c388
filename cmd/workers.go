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

package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/spf13/cobra"

	"github.com/bunlink/bunlink"
	"github.com/bunlink/bunlink/config"
	redis_db "github.com/bunlink/bunlink/internal/redis-db"
)

// initializeQueues gives order processing the most workers: a storefront sale
// races the same product selling on Bunjang, so orchestration latency is the
// window in which an oversell can happen.
func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.OrderQueue:        3,
		cfg.Queue.CancellationQueue: 2,
		cfg.Queue.SyncQueue:         2,
		cfg.Queue.SweepQueue:        1,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: conf.Queue.WorkerConcurrency,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *bunlinkInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(bunlink.TaskOrderProcess, b.bunlink.ProcessOrderTask)
	mux.HandleFunc(bunlink.TaskOrderCancel, b.bunlink.ProcessCancellationTask)
	mux.HandleFunc(bunlink.TaskProductSync, b.bunlink.ProcessSyncTask)
	mux.HandleFunc(bunlink.TaskSweep, b.bunlink.ProcessSweepTask)
	mux.HandleFunc(bunlink.TaskBackfill, b.bunlink.ProcessBackfillTask)
	mux.HandleFunc(bunlink.TaskOrderPoll, b.bunlink.ProcessOrderPollTask)
}

// initializeScheduler registers the periodic jobs: the stuck-lock sweep, the
// pending-sync backfill and the Bunjang order status poll. All three run on
// the sweep queue so a backlog of order tasks never starves them.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		nil,
	)

	entries := []struct {
		spec string
		task string
	}{
		{conf.Queue.SweepCronSpec, bunlink.TaskSweep},
		{conf.Queue.BackfillCronSpec, bunlink.TaskBackfill},
		{conf.Queue.OrderPollCronSpec, bunlink.TaskOrderPoll},
	}
	for _, entry := range entries {
		_, err := scheduler.Register(entry.spec, asynq.NewTask(entry.task, nil),
			asynq.Queue(conf.Queue.SweepQueue))
		if err != nil {
			return nil, fmt.Errorf("error registering %s: %v", entry.task, err)
		}
	}

	return scheduler, nil
}

// workerCommands defines the "workers" command to start worker processes.
// The workers consume the order, cancellation, sync and sweep queues, and a
// scheduler feeds the periodic jobs.
func workerCommands(b *bunlinkInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start bunlink workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues(conf)

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatal(err)
			}
			go func() {
				if err := scheduler.Run(); err != nil {
					log.Fatalf("could not run scheduler: %v", err)
				}
			}()

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
