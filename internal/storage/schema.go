package storage

const Schema = `
CREATE TABLE IF NOT EXISTS channel_listing (
	listing_id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id TEXT NOT NULL,
	source_msg_id TEXT NOT NULL,
	title TEXT,
	body TEXT,
	url TEXT,
	posted_at DATETIME,
	is_extracted BOOLEAN NOT NULL DEFAULT 0,
	listed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(chat_id, source_msg_id)
);

CREATE TABLE IF NOT EXISTS raw_messages (
	raw_id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id TEXT NOT NULL,
	combined_text TEXT NOT NULL,
	source_url TEXT,
	received_at DATETIME NOT NULL,
	is_deduplicated BOOLEAN NOT NULL DEFAULT 0,
	is_duplicate BOOLEAN NOT NULL DEFAULT 0,
	is_scored BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS news_scoring (
	score_id INTEGER PRIMARY KEY AUTOINCREMENT,
	raw_id INTEGER NOT NULL,
	decision TEXT,
	score REAL NOT NULL DEFAULT 0,
	scored_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ai_queue (
	news_id INTEGER PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'PENDING',
	retries INTEGER NOT NULL DEFAULT 0,
	error_log TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS news_ai (
	news_id INTEGER PRIMARY KEY,
	received_date DATETIME,
	category_code TEXT,
	sub_type_code TEXT,
	company_name TEXT,
	ticker TEXT,
	exchange TEXT,
	country_code TEXT,
	headline TEXT,
	summary TEXT,
	sentiment TEXT,
	language_code TEXT,
	url TEXT,
	impact_score INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	ai_model TEXT,
	ai_config_id INTEGER,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS final_news (
	news_id INTEGER PRIMARY KEY,
	received_date DATETIME,
	headline TEXT,
	summary TEXT,
	company_name TEXT,
	ticker TEXT,
	exchange TEXT,
	country_code TEXT,
	sentiment TEXT,
	url TEXT,
	impact_score INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS system_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT OR IGNORE INTO system_settings (key, value) VALUES ('news_sync_enabled', 'true');

CREATE INDEX IF NOT EXISTS idx_listing_extracted ON channel_listing(is_extracted);
CREATE INDEX IF NOT EXISTS idx_raw_dedup ON raw_messages(is_deduplicated, raw_id);
CREATE INDEX IF NOT EXISTS idx_raw_scored ON raw_messages(is_scored, is_duplicate);
CREATE INDEX IF NOT EXISTS idx_raw_received ON raw_messages(received_at);
CREATE INDEX IF NOT EXISTS idx_scoring_raw ON news_scoring(raw_id);
CREATE INDEX IF NOT EXISTS idx_scoring_scored_at ON news_scoring(scored_at);
CREATE INDEX IF NOT EXISTS idx_queue_status ON ai_queue(status, created_at, news_id);
CREATE INDEX IF NOT EXISTS idx_final_created ON final_news(created_at DESC);
`
