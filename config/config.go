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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5002"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SecretKey string `json:"secret_key" envconfig:"BUNLINK_SERVER_SECRET_KEY"`
	Secure    bool   `json:"secure" envconfig:"BUNLINK_SERVER_SECURE"`
	Port      string `json:"port" envconfig:"BUNLINK_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"BUNLINK_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"BUNLINK_REDIS_DNS"`
}

// BunjangConfig holds the source-marketplace API credentials and the
// self-imposed rate-limit budget for batch jobs (Bunjang enforces request
// ceilings independent of this system).
type BunjangConfig struct {
	ApiBase          string `json:"api_base" envconfig:"BUNLINK_BUNJANG_API_BASE"`
	AccessToken      string `json:"access_token" envconfig:"BUNLINK_BUNJANG_ACCESS_TOKEN"`
	BatchPauseEveryN int    `json:"batch_pause_every_n" envconfig:"BUNLINK_BUNJANG_BATCH_PAUSE_EVERY_N"`
	BatchPauseMs     int    `json:"batch_pause_ms" envconfig:"BUNLINK_BUNJANG_BATCH_PAUSE_MS"`
}

// ShopifyConfig holds the storefront Admin API credentials.
type ShopifyConfig struct {
	ShopDomain         string `json:"shop_domain" envconfig:"BUNLINK_SHOPIFY_SHOP_DOMAIN"`
	AdminToken         string `json:"admin_token" envconfig:"BUNLINK_SHOPIFY_ADMIN_TOKEN"`
	ApiVersion         string `json:"api_version" envconfig:"BUNLINK_SHOPIFY_API_VERSION"`
	LocationGid        string `json:"location_gid" envconfig:"BUNLINK_SHOPIFY_LOCATION_GID"`
	MetafieldNamespace string `json:"metafield_namespace" envconfig:"BUNLINK_SHOPIFY_METAFIELD_NAMESPACE"`
	MaxRetryAttempts   uint64 `json:"max_retry_attempts" envconfig:"BUNLINK_SHOPIFY_MAX_RETRY_ATTEMPTS"`
}

type QueueConfig struct {
	OrderQueue        string `json:"order_queue" envconfig:"BUNLINK_QUEUE_ORDER"`
	CancellationQueue string `json:"cancellation_queue" envconfig:"BUNLINK_QUEUE_CANCELLATION"`
	SyncQueue         string `json:"sync_queue" envconfig:"BUNLINK_QUEUE_SYNC"`
	SweepQueue        string `json:"sweep_queue" envconfig:"BUNLINK_QUEUE_SWEEP"`
	MonitoringPort    string `json:"monitoring_port" envconfig:"BUNLINK_QUEUE_MONITORING_PORT"`
	WorkerConcurrency int    `json:"worker_concurrency" envconfig:"BUNLINK_QUEUE_WORKER_CONCURRENCY"`
	MaxRetryAttempts  int    `json:"max_retry_attempts" envconfig:"BUNLINK_QUEUE_MAX_RETRY_ATTEMPTS"`
	SweepCronSpec     string `json:"sweep_cron_spec" envconfig:"BUNLINK_QUEUE_SWEEP_CRON_SPEC"`
	BackfillCronSpec  string `json:"backfill_cron_spec" envconfig:"BUNLINK_QUEUE_BACKFILL_CRON_SPEC"`
	OrderPollCronSpec string `json:"order_poll_cron_spec" envconfig:"BUNLINK_QUEUE_ORDER_POLL_CRON_SPEC"`
}

// ReconciliationConfig carries the lock and sweep windows. Lock TTLs are
// seconds-to-minutes: a stuck worker is recovered only by TTL expiry plus the
// periodic sweep.
type ReconciliationConfig struct {
	LockTTLSeconds        int      `json:"lock_ttl_seconds" envconfig:"BUNLINK_LOCK_TTL_SECONDS"`
	StuckLockTimeoutMins  int      `json:"stuck_lock_timeout_mins" envconfig:"BUNLINK_STUCK_LOCK_TIMEOUT_MINS"`
	CancelDelaySeconds    int      `json:"cancel_delay_seconds" envconfig:"BUNLINK_CANCEL_DELAY_SECONDS"`
	ErrorTagPatterns      []string `json:"error_tag_patterns"`
	SkipAvailabilityCheck bool     `json:"skip_availability_check" envconfig:"BUNLINK_SKIP_AVAILABILITY_CHECK"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"BUNLINK_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"BUNLINK_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"BUNLINK_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName    string               `json:"project_name" envconfig:"BUNLINK_PROJECT_NAME"`
	Server         ServerConfig         `json:"server"`
	DataSource     DataSourceConfig     `json:"data_source"`
	Redis          RedisConfig          `json:"redis"`
	Bunjang        BunjangConfig        `json:"bunjang"`
	Shopify        ShopifyConfig        `json:"shopify"`
	Queue          QueueConfig          `json:"queue"`
	Reconciliation ReconciliationConfig `json:"reconciliation"`
	RateLimit      RateLimitConfig      `json:"rate_limit"`
	Notification   Notification         `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("bunlink", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called bunlink.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Bunlink"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.addStackDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// addStackDefaults fills the marketplace, queue and reconciliation defaults
// that don't need hard validation.
func (cnf *Configuration) addStackDefaults() {
	if cnf.Bunjang.ApiBase == "" {
		cnf.Bunjang.ApiBase = "https://openapi.bunjang.co.kr"
	}
	if cnf.Bunjang.BatchPauseEveryN <= 0 {
		cnf.Bunjang.BatchPauseEveryN = 25
	}
	if cnf.Bunjang.BatchPauseMs <= 0 {
		cnf.Bunjang.BatchPauseMs = 1000
	}

	if cnf.Shopify.ApiVersion == "" {
		cnf.Shopify.ApiVersion = "2024-10"
	}
	if cnf.Shopify.MetafieldNamespace == "" {
		cnf.Shopify.MetafieldNamespace = "bunlink"
	}
	if cnf.Shopify.MaxRetryAttempts == 0 {
		cnf.Shopify.MaxRetryAttempts = 5
	}

	if cnf.Queue.OrderQueue == "" {
		cnf.Queue.OrderQueue = "bunlink:order"
	}
	if cnf.Queue.CancellationQueue == "" {
		cnf.Queue.CancellationQueue = "bunlink:cancellation"
	}
	if cnf.Queue.SyncQueue == "" {
		cnf.Queue.SyncQueue = "bunlink:sync"
	}
	if cnf.Queue.SweepQueue == "" {
		cnf.Queue.SweepQueue = "bunlink:sweep"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5555"
	}
	if cnf.Queue.WorkerConcurrency <= 0 {
		cnf.Queue.WorkerConcurrency = 10
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.SweepCronSpec == "" {
		cnf.Queue.SweepCronSpec = "*/10 * * * *"
	}
	if cnf.Queue.BackfillCronSpec == "" {
		// Backfill runs on an hours scale, not minutes.
		cnf.Queue.BackfillCronSpec = "0 */6 * * *"
	}
	if cnf.Queue.OrderPollCronSpec == "" {
		cnf.Queue.OrderPollCronSpec = "*/5 * * * *"
	}

	if cnf.Reconciliation.LockTTLSeconds <= 0 {
		cnf.Reconciliation.LockTTLSeconds = 120
	}
	if cnf.Reconciliation.StuckLockTimeoutMins <= 0 {
		cnf.Reconciliation.StuckLockTimeoutMins = 15
	}
	if cnf.Reconciliation.CancelDelaySeconds <= 0 {
		cnf.Reconciliation.CancelDelaySeconds = 60
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.addStackDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
