package model

import (
	"strings"

	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// OpenDB opens or creates the label store database, and runs migrations
func OpenDB(log logs.Log, config dbh.DBConfig, flags dbh.DBConnectFlags) (*gorm.DB, error) {
	log.Infof("Opening labelstore DB")
	return dbh.OpenDB(log, config, Migrations(log, config.Driver), flags)
}

// Migrations are written for Postgres, and the ID columns are adjusted for Sqlite
func Migrations(log logs.Log, driver string) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	sql := func(s string) string {
		if driver == dbh.DriverSqlite {
			return strings.ReplaceAll(s, "BIGSERIAL PRIMARY KEY", "INTEGER PRIMARY KEY")
		}
		return s
	}

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx, sql(`
		CREATE TABLE auth_user(id BIGSERIAL PRIMARY KEY, username TEXT NOT NULL, email TEXT, password TEXT NOT NULL, is_admin BOOLEAN NOT NULL DEFAULT FALSE, created_at TIMESTAMP);
		CREATE UNIQUE INDEX idx_auth_user_username ON auth_user(username);

		CREATE TABLE auth_session(key TEXT PRIMARY KEY, auth_user_id BIGINT NOT NULL, created_at TIMESTAMP, expires_at TIMESTAMP);
		CREATE INDEX idx_auth_session_auth_user_id ON auth_session(auth_user_id);
		CREATE INDEX idx_auth_session_expires_at ON auth_session(expires_at);
	`)))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx, sql(`
		CREATE TABLE project(id BIGSERIAL PRIMARY KEY, name TEXT NOT NULL, labels TEXT, created_by BIGINT NOT NULL, created_at TIMESTAMP NOT NULL, updated_at TIMESTAMP NOT NULL);

		CREATE TABLE task(id BIGSERIAL PRIMARY KEY, project_id BIGINT, name TEXT NOT NULL, mode TEXT NOT NULL, subset TEXT NOT NULL DEFAULT '',
			overlap INT NOT NULL DEFAULT 0, start_frame INT NOT NULL DEFAULT 0, stop_frame INT NOT NULL DEFAULT 0, frame_step INT NOT NULL DEFAULT 1,
			labels TEXT, created_by BIGINT NOT NULL, created_at TIMESTAMP NOT NULL, updated_at TIMESTAMP NOT NULL);
		CREATE INDEX idx_task_name ON task(name);
		CREATE INDEX idx_task_project_id ON task(project_id);

		CREATE TABLE frame(task_id BIGINT NOT NULL, frame INT NOT NULL, path TEXT NOT NULL, width INT NOT NULL, height INT NOT NULL, PRIMARY KEY(task_id, frame));
	`)))

	return migs
}
