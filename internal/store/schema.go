package store

import (
	"context"
	"database/sql"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS students (
	id            TEXT PRIMARY KEY,
	full_name     TEXT NOT NULL,
	matric_number TEXT NOT NULL,
	faculty       TEXT NOT NULL,
	department    TEXT NOT NULL,
	photo_url     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'Pending' CHECK (status IN ('Pending', 'Verified', 'Rejected')),
	created_at    TIMESTAMPTZ NOT NULL,
	verified_at   TIMESTAMPTZ,
	verified_by   TEXT
);
DROP INDEX IF EXISTS idx_students_matric;
CREATE UNIQUE INDEX IF NOT EXISTS idx_students_matric_unique ON students (matric_number);
CREATE INDEX IF NOT EXISTS idx_students_created ON students (created_at);

CREATE TABLE IF NOT EXISTS scan_logs (
	id          TEXT PRIMARY KEY,
	student_id  TEXT NOT NULL,
	admin_id    TEXT NOT NULL,
	admin_email TEXT NOT NULL,
	scanned_at  TIMESTAMPTZ NOT NULL,
	raw_qr_data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_logs_student ON scan_logs (student_id, scanned_at);

CREATE TABLE IF NOT EXISTS admins (
	id            TEXT PRIMARY KEY,
	email         TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token      TEXT PRIMARY KEY,
	admin_id   TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked    BOOLEAN NOT NULL DEFAULT FALSE
);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS students (
	id            TEXT PRIMARY KEY,
	full_name     TEXT NOT NULL,
	matric_number TEXT NOT NULL,
	faculty       TEXT NOT NULL,
	department    TEXT NOT NULL,
	photo_url     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'Pending' CHECK (status IN ('Pending', 'Verified', 'Rejected')),
	created_at    DATETIME NOT NULL,
	verified_at   DATETIME,
	verified_by   TEXT
);
DROP INDEX IF EXISTS idx_students_matric;
CREATE UNIQUE INDEX IF NOT EXISTS idx_students_matric_unique ON students (matric_number);
CREATE INDEX IF NOT EXISTS idx_students_created ON students (created_at);

CREATE TABLE IF NOT EXISTS scan_logs (
	id          TEXT PRIMARY KEY,
	student_id  TEXT NOT NULL,
	admin_id    TEXT NOT NULL,
	admin_email TEXT NOT NULL,
	scanned_at  DATETIME NOT NULL,
	raw_qr_data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_logs_student ON scan_logs (student_id, scanned_at);

CREATE TABLE IF NOT EXISTS admins (
	id            TEXT PRIMARY KEY,
	email         TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token      TEXT PRIMARY KEY,
	admin_id   TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	revoked    BOOLEAN NOT NULL DEFAULT FALSE
);
`

// Migrate applies the schema for driver. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	schema := postgresSchema
	if driver == "sqlite" {
		schema = sqliteSchema
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}
