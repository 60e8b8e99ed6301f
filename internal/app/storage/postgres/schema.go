package postgres

import "context"

// Bootstrap creates the marketplace tables when they do not exist yet. It is
// idempotent and intended for dev/test databases; production deployments run
// the same DDL through their migration tooling.
func (s *Store) Bootstrap(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS mp_clients (
    id                    TEXT PRIMARY KEY,
    company_name          TEXT NOT NULL,
    contact_email         TEXT NOT NULL DEFAULT '',
    tier                  TEXT NOT NULL DEFAULT 'starter',
    active                BOOLEAN NOT NULL DEFAULT true,
    credits_balance       INTEGER NOT NULL DEFAULT 0 CHECK (credits_balance >= 0),
    lifetime_credits_used INTEGER NOT NULL DEFAULT 0,
    rate_limit_per_second INTEGER NOT NULL DEFAULT 10,
    created_at            TIMESTAMPTZ NOT NULL,
    updated_at            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS mp_api_keys (
    id                TEXT PRIMARY KEY,
    client_id         TEXT NOT NULL REFERENCES mp_clients(id),
    name              TEXT NOT NULL DEFAULT '',
    prefix            TEXT NOT NULL UNIQUE,
    hash              TEXT NOT NULL,
    active            BOOLEAN NOT NULL DEFAULT true,
    allowed_endpoints JSONB NOT NULL DEFAULT '[]',
    expires_at        TIMESTAMPTZ,
    last_used_at      TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS mp_leads (
    id            TEXT PRIMARY KEY,
    source        TEXT NOT NULL DEFAULT '',
    property_type TEXT NOT NULL DEFAULT '',
    location      TEXT NOT NULL DEFAULT '',
    intent        TEXT NOT NULL DEFAULT '',
    score         INTEGER NOT NULL DEFAULT 0,
    contact_name  TEXT NOT NULL DEFAULT '',
    contact_email TEXT NOT NULL DEFAULT '',
    contact_phone TEXT NOT NULL DEFAULT '',
    is_sold       BOOLEAN NOT NULL DEFAULT false,
    sold_to       TEXT,
    sold_price    INTEGER NOT NULL DEFAULT 0,
    sold_at       TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS mp_leads_available_idx ON mp_leads (score DESC) WHERE is_sold = false;

CREATE TABLE IF NOT EXISTS mp_lead_purchases (
    id         TEXT PRIMARY KEY,
    lead_id    TEXT NOT NULL REFERENCES mp_leads(id),
    client_id  TEXT NOT NULL REFERENCES mp_clients(id),
    price      INTEGER NOT NULL,
    snapshot   JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS mp_credit_transactions (
    id            TEXT PRIMARY KEY,
    client_id     TEXT NOT NULL REFERENCES mp_clients(id),
    delta         INTEGER NOT NULL,
    balance_after INTEGER NOT NULL,
    reason        TEXT NOT NULL DEFAULT '',
    reference     TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS mp_market_insights (
    id              TEXT PRIMARY KEY,
    region          TEXT NOT NULL,
    median_price    INTEGER NOT NULL DEFAULT 0,
    price_trend_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
    demand_score    INTEGER NOT NULL DEFAULT 0,
    available_leads INTEGER NOT NULL DEFAULT 0,
    period          TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL,
    UNIQUE (region, period)
);

CREATE TABLE IF NOT EXISTS mp_valuations (
    id              TEXT PRIMARY KEY,
    property_id     TEXT NOT NULL,
    estimated_value INTEGER NOT NULL,
    confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
    method          TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS mp_valuations_property_idx ON mp_valuations (property_id, created_at DESC);

CREATE TABLE IF NOT EXISTS mp_usage_records (
    id           TEXT PRIMARY KEY,
    client_id    TEXT NOT NULL,
    api_key_id   TEXT NOT NULL,
    endpoint     TEXT NOT NULL,
    method       TEXT NOT NULL,
    params       JSONB NOT NULL DEFAULT '{}',
    status       INTEGER NOT NULL,
    credits_used INTEGER NOT NULL DEFAULT 0,
    latency_ms   BIGINT NOT NULL DEFAULT 0,
    remote_addr  TEXT NOT NULL DEFAULT '',
    user_agent   TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS mp_usage_client_idx ON mp_usage_records (client_id, created_at DESC);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
