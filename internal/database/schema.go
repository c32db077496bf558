package database

// Schema is the full database schema, applied on startup by Migrate.
// Monetary amounts are stored as TEXT and parsed into decimals by the
// repositories. Timestamps are Unix seconds.
const Schema = `
CREATE TABLE IF NOT EXISTS funds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    cash TEXT NOT NULL DEFAULT '0',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS issuers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    country TEXT,
    industry TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS issuer_attributes (
    issuer_id INTEGER NOT NULL REFERENCES issuers(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (issuer_id, name)
);

CREATE TABLE IF NOT EXISTS securities (
    ticker TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    issuer_id INTEGER REFERENCES issuers(id),
    asset_class TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS security_attributes (
    ticker TEXT NOT NULL REFERENCES securities(ticker) ON DELETE CASCADE,
    name TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (ticker, name)
);

CREATE TABLE IF NOT EXISTS security_prices (
    ticker TEXT NOT NULL REFERENCES securities(ticker) ON DELETE CASCADE,
    price_date TEXT NOT NULL,
    price TEXT NOT NULL,
    PRIMARY KEY (ticker, price_date)
);

CREATE TABLE IF NOT EXISTS holdings (
    fund_id INTEGER NOT NULL REFERENCES funds(id),
    ticker TEXT NOT NULL REFERENCES securities(ticker),
    shares INTEGER NOT NULL CHECK (shares > 0),
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (fund_id, ticker)
);

CREATE TABLE IF NOT EXISTS holdings_staging (
    fund_id INTEGER NOT NULL REFERENCES funds(id),
    ticker TEXT NOT NULL REFERENCES securities(ticker),
    trade_id INTEGER NOT NULL,
    shares INTEGER NOT NULL CHECK (shares >= 0),
    PRIMARY KEY (fund_id, ticker, trade_id)
);

CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    fund_id INTEGER NOT NULL REFERENCES funds(id),
    ticker TEXT NOT NULL,
    direction TEXT NOT NULL CHECK (direction IN ('BUY', 'SELL')),
    shares INTEGER NOT NULL,
    price TEXT,
    total_value TEXT,
    status TEXT NOT NULL,
    reason TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_fund_status ON trades(fund_id, status);

CREATE TABLE IF NOT EXISTS rules (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    alert_message TEXT,
    numerator_logic TEXT NOT NULL DEFAULT '',
    denominator_type TEXT NOT NULL,
    alert_if TEXT CHECK (alert_if IN ('above', 'below')),
    alert_level TEXT NOT NULL DEFAULT '0',
    trade_mode INTEGER NOT NULL DEFAULT 1,
    portfolio_mode INTEGER NOT NULL DEFAULT 1,
    active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_attachments (
    rule_id INTEGER NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
    fund_id INTEGER NOT NULL REFERENCES funds(id) ON DELETE CASCADE,
    PRIMARY KEY (rule_id, fund_id)
);

CREATE TABLE IF NOT EXISTS alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    rule_id INTEGER NOT NULL REFERENCES rules(id),
    fund_id INTEGER NOT NULL REFERENCES funds(id),
    trade_id INTEGER,
    batch_run_id TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    percentage TEXT,
    alert_level TEXT,
    holdings_triggered TEXT,
    resolution_note TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_trade ON alerts(trade_id);
CREATE INDEX IF NOT EXISTS idx_alerts_fund_status ON alerts(fund_id, status);
`
