package postgres

import (
	"database/sql"

	migrate "github.com/rubenv/sql-migrate"
)

// This file maintains the database migration code.  See
// https://github.com/rubenv/sql-migrate for details of what goes in
// here.  This runs "outside" the normal repository flow, either at
// initial startup or from an external tool.

var migrationSource = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "1-scheduled-execution",
			Up: []string{
				`CREATE TABLE scheduled_execution (
					task_name TEXT NOT NULL,
					task_instance TEXT NOT NULL,
					execution_time TIMESTAMP WITH TIME ZONE NOT NULL,
					picked BOOLEAN NOT NULL DEFAULT FALSE,
					picked_by TEXT,
					last_heartbeat TIMESTAMP WITH TIME ZONE,
					last_success TIMESTAMP WITH TIME ZONE,
					last_failure TIMESTAMP WITH TIME ZONE,
					version BIGINT NOT NULL DEFAULT 1,
					PRIMARY KEY (task_name, task_instance)
				)`,
				`CREATE INDEX scheduled_execution_due
					ON scheduled_execution (execution_time)
					WHERE picked = FALSE`,
				`CREATE INDEX scheduled_execution_heartbeat
					ON scheduled_execution (last_heartbeat)
					WHERE picked = TRUE`,
			},
			Down: []string{
				`DROP TABLE scheduled_execution`,
			},
		},
	},
}

// Upgrade upgrades a database to the latest database schema version.
func Upgrade(db *sql.DB) error {
	_, err := migrate.Exec(db, "postgres", migrationSource, migrate.Up)
	return err
}

// Drop clears a database by running all of the migrations in reverse,
// ultimately resulting in dropping all of the tables.
func Drop(db *sql.DB) error {
	_, err := migrate.Exec(db, "postgres", migrationSource, migrate.Down)
	return err
}
