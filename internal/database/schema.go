package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schemas = map[string][]string{
	MySQL: {`CREATE TABLE IF NOT EXISTS reports (
  id                   CHAR(36)     NOT NULL PRIMARY KEY,
  order_id             VARCHAR(255) NOT NULL,
  email                VARCHAR(320) NOT NULL,
  vin                  CHAR(17)     NULL,
  plate                VARCHAR(16)  NULL,
  state                VARCHAR(3)   NULL,
  report_type          VARCHAR(16)  NOT NULL DEFAULT 'standard',
  amount_cents         BIGINT       NOT NULL DEFAULT 0,
  currency             CHAR(3)      NOT NULL DEFAULT 'aud',
  status               VARCHAR(16)  NOT NULL DEFAULT 'pending',
  search_number        VARCHAR(64)  NULL,
  certificate_number   VARCHAR(64)  NULL,
  certificate_filename VARCHAR(255) NULL,
  pdf_base64           LONGTEXT     NULL,
  normalized_json      LONGTEXT     NULL,
  attempts             INT          NOT NULL DEFAULT 0,
  last_error           VARCHAR(255) NULL,
  delivered_at         DATETIME     NULL,
  created_at           DATETIME     NOT NULL,
  updated_at           DATETIME     NOT NULL,
  UNIQUE KEY uq_reports_order_id (order_id),
  KEY idx_reports_status_created (status, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},

	Postgres: {`CREATE TABLE IF NOT EXISTS reports (
  id                   UUID         PRIMARY KEY,
  order_id             TEXT         NOT NULL UNIQUE,
  email                TEXT         NOT NULL,
  vin                  VARCHAR(17),
  plate                VARCHAR(16),
  state                VARCHAR(3),
  report_type          VARCHAR(16)  NOT NULL DEFAULT 'standard',
  amount_cents         BIGINT       NOT NULL DEFAULT 0,
  currency             VARCHAR(3)   NOT NULL DEFAULT 'aud',
  status               VARCHAR(16)  NOT NULL DEFAULT 'pending',
  search_number        TEXT,
  certificate_number   TEXT,
  certificate_filename TEXT,
  pdf_base64           TEXT,
  normalized_json      TEXT,
  attempts             INTEGER      NOT NULL DEFAULT 0,
  last_error           TEXT,
  delivered_at         TIMESTAMPTZ,
  created_at           TIMESTAMPTZ  NOT NULL,
  updated_at           TIMESTAMPTZ  NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_status_created ON reports (status, created_at)`},

	SQLite: {`CREATE TABLE IF NOT EXISTS reports (
  id                   TEXT    PRIMARY KEY,
  order_id             TEXT    NOT NULL UNIQUE,
  email                TEXT    NOT NULL,
  vin                  TEXT,
  plate                TEXT,
  state                TEXT,
  report_type          TEXT    NOT NULL DEFAULT 'standard',
  amount_cents         INTEGER NOT NULL DEFAULT 0,
  currency             TEXT    NOT NULL DEFAULT 'aud',
  status               TEXT    NOT NULL DEFAULT 'pending',
  search_number        TEXT,
  certificate_number   TEXT,
  certificate_filename TEXT,
  pdf_base64           TEXT,
  normalized_json      TEXT,
  attempts             INTEGER NOT NULL DEFAULT 0,
  last_error           TEXT,
  delivered_at         DATETIME,
  created_at           DATETIME NOT NULL,
  updated_at           DATETIME NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_status_created ON reports (status, created_at)`},
}

// Migrate creates the reports table for driver if it does not exist.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	stmts, ok := schemas[driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", driver)
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate %s: %w", driver, err)
		}
	}
	return nil
}
