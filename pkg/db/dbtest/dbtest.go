// Package dbtest opens throwaway in-memory sqlite databases for repository
// tests. The schema mirrors the goose migrations with sqlite-compatible
// types; ids are assigned by the tests since sqlite has no uuid default.
package dbtest

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT,
		total_spends REAL NOT NULL DEFAULT 0,
		visit_count INTEGER NOT NULL DEFAULT 0,
		last_seen DATETIME,
		last_purchase_date DATETIME,
		tags TEXT NOT NULL DEFAULT '[]',
		custom_fields TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX idx_customers_email ON customers (email)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		order_number TEXT NOT NULL,
		total_amount REAL NOT NULL DEFAULT 0,
		order_date DATETIME,
		status TEXT NOT NULL DEFAULT 'Pending',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX idx_orders_order_number ON orders (order_number)`,
	`CREATE TABLE order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL
	)`,
	`CREATE TABLE campaigns (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		rules TEXT NOT NULL DEFAULT '[]',
		objective TEXT,
		message_template TEXT,
		created_by TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'DRAFT',
		last_launched_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX idx_campaigns_name_created_by ON campaigns (name, created_by)`,
	`CREATE TABLE delivery_logs (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		message TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		vendor_message_id TEXT,
		sent_at DATETIME,
		delivered_at DATETIME,
		failed_reason TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX idx_delivery_logs_campaign_customer ON delivery_logs (campaign_id, customer_id)`,
	`CREATE TABLE campaign_quotas (
		owner_id TEXT PRIMARY KEY,
		campaign_count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Open returns a fresh in-memory database with the full schema applied.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	// Every pooled connection to :memory: would get its own empty database;
	// pin the pool to a single connection.
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("failed to get sql db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("failed to apply test schema: %v", err)
		}
	}
	return conn
}
