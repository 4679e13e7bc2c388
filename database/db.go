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

package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/bunlink/bunlink/config"
	"github.com/bunlink/bunlink/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		newCache, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("cache unavailable, reads go straight to the database: %v", errCache)
		}
		instance = &Datasource{Conn: con, Cache: newCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createSchema(db)
	if err != nil {
		return nil, err
	}
	err = createSyncedProductTable(db)
	if err != nil {
		return nil, err
	}
	err = createOrderMarkerTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS bunlink`)
	return err
}

// createSyncedProductTable creates the synchronization ledger. bunjang_pid is
// deliberately indexed but not UNIQUE: duplicate rows are possible under
// concurrent first-time ingestion and are detected and collapsed by the
// periodic sweep rather than rejected at write time.
func createSyncedProductTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bunlink.synced_products (
			id SERIAL PRIMARY KEY,
			bunjang_pid TEXT NOT NULL,
			shopify_gid TEXT,
			shopify_inventory_item_gid TEXT,
			sync_status TEXT NOT NULL DEFAULT 'PENDING',
			sync_attempt_count INT NOT NULL DEFAULT 0,
			sync_retry_count INT NOT NULL DEFAULT 0,
			last_sync_attempt_at TIMESTAMPTZ,
			last_synced_at TIMESTAMPTZ,
			processing_status TEXT NOT NULL DEFAULT 'idle',
			processing_started_at TIMESTAMPTZ,
			processing_job_id TEXT,
			processing_lock_expiry TIMESTAMPTZ,
			processing_error TEXT,
			sold_from TEXT NOT NULL DEFAULT '',
			sold_at TIMESTAMPTZ,
			sold_from_bunjang_at TIMESTAMPTZ,
			sold_from_shopify_at TIMESTAMPTZ,
			pending_shopify_order BOOLEAN NOT NULL DEFAULT FALSE,
			bunjang_order_ids TEXT[] NOT NULL DEFAULT '{}',
			shopify_title TEXT,
			shopify_status TEXT,
			shopify_tags TEXT[],
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_synced_products_pid ON bunlink.synced_products (bunjang_pid);
		CREATE INDEX IF NOT EXISTS idx_synced_products_shopify_gid ON bunlink.synced_products (shopify_gid);
		CREATE INDEX IF NOT EXISTS idx_synced_products_processing ON bunlink.synced_products (processing_status, processing_started_at)
	`)
	if err != nil {
		log.Printf("Error creating synced_products table: %v", err)
	}
	return err
}

// createOrderMarkerTable creates the idempotence marker per Shopify order:
// re-delivered order events short-circuit on an existing marker instead of
// creating duplicate Bunjang orders.
func createOrderMarkerTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bunlink.order_markers (
			id SERIAL PRIMARY KEY,
			shopify_order_id TEXT NOT NULL UNIQUE,
			bunjang_order_ids TEXT[] NOT NULL DEFAULT '{}',
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating order_markers table: %v", err)
	}
	return err
}
