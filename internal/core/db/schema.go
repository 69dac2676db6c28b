package db

func (db *DB) initSchema() error {
	schema := `
	-- Brands (restaurant groups)
	CREATE TABLE IF NOT EXISTS brands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Locations (individual restaurant locations per platform)
	CREATE TABLE IF NOT EXISTS locations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		brand_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		platform TEXT NOT NULL,
		platform_id TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (brand_id) REFERENCES brands(id),
		UNIQUE(brand_id, platform, platform_id)
	);

	-- Orders (one row per order transaction)
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		location_id INTEGER NOT NULL,
		platform TEXT NOT NULL,
		order_id TEXT NOT NULL,
		order_date DATE,
		gross_value REAL DEFAULT 0,
		commission REAL DEFAULT 0,
		commission_rate REAL DEFAULT 0,
		vat REAL DEFAULT 0,
		net_payout REAL DEFAULT 0,
		refund REAL DEFAULT 0,
		refund_reason TEXT,
		refund_fault TEXT,
		promo_restaurant REAL DEFAULT 0,
		promo_platform REAL DEFAULT 0,
		tips REAL DEFAULT 0,
		adjustments REAL DEFAULT 0,
		ad_fee REAL DEFAULT 0,
		discount_commission REAL DEFAULT 0,
		is_cash INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (location_id) REFERENCES locations(id),
		UNIQUE(platform, order_id)
	);

	CREATE INDEX IF NOT EXISTS idx_orders_location ON orders(location_id);
	CREATE INDEX IF NOT EXISTS idx_orders_date ON orders(order_date);
	CREATE INDEX IF NOT EXISTS idx_orders_platform ON orders(platform);
	CREATE INDEX IF NOT EXISTS idx_locations_brand ON locations(brand_id);
	CREATE INDEX IF NOT EXISTS idx_locations_platform ON locations(platform);

	-- Import log (which downloaded files are already in the database)
	CREATE TABLE IF NOT EXISTS imports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL UNIQUE,
		platform TEXT NOT NULL,
		rows_imported INTEGER DEFAULT 0,
		imported_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Sync run history
	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT UNIQUE,
		platform TEXT NOT NULL,
		window_start DATE,
		window_end DATE,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		status TEXT NOT NULL,
		entities_total INTEGER DEFAULT 0,
		entities_failed INTEGER DEFAULT 0,
		files_downloaded INTEGER DEFAULT 0,
		orders_imported INTEGER DEFAULT 0,
		duration_seconds REAL DEFAULT 0,
		error_message TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_platform ON sync_runs(platform);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_created ON sync_runs(created_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}
