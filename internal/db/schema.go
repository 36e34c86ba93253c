package db

import "fmt"

// QueueTable is the name of the pending outbound message table.
const QueueTable = "discord_queue"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS discord_queue (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id   TEXT    NOT NULL,
		thread_id    TEXT,
		webhook_body TEXT    NOT NULL,
		created_at   INTEGER NOT NULL,
		retry_count  INTEGER DEFAULT 0,
		last_error   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_discord_queue_session_created
		ON discord_queue(session_id, created_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS discord_queue (
		id           BIGSERIAL PRIMARY KEY,
		session_id   TEXT    NOT NULL,
		thread_id    TEXT,
		webhook_body TEXT    NOT NULL,
		created_at   BIGINT  NOT NULL,
		retry_count  INTEGER DEFAULT 0,
		last_error   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_discord_queue_session_created
		ON discord_queue(session_id, created_at)`,
}

// Schema returns the DDL applied by Migrate for driver.
func Schema(driver string) ([]string, error) {
	switch driver {
	case DriverSQLite, "":
		return sqliteSchema, nil
	case DriverPostgres:
		return postgresSchema, nil
	}
	return nil, fmt.Errorf("unsupported driver %q", driver)
}
