package store

// schemaStatements returns the DDL for both backends. The two dialects agree
// closely enough (TEXT primary keys, a JSON payload column, integer version
// counters) that a single statement list serves both; autoincrement/JSON
// column typing is the only place they diverge, handled by the jsonColumn
// and auditIDColumn parameters passed in from OpenSQLite and OpenPostgres.
func schemaStatements(jsonColumn, auditIDColumn string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS endpoints (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			config_flags ` + jsonColumn + ` NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			username TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			external_id TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			data ` + jsonColumn + ` NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (endpoint_id, id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users(endpoint_id, username)`,
		`CREATE INDEX IF NOT EXISTS idx_users_display_name ON users(endpoint_id, display_name)`,
		`CREATE INDEX IF NOT EXISTS idx_users_external_id ON users(endpoint_id, external_id)`,
		`CREATE TABLE IF NOT EXISTS groups (
			endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			data ` + jsonColumn + ` NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (endpoint_id, id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_groups_display_name ON groups(endpoint_id, display_name)`,
		`CREATE TABLE IF NOT EXISTS memberships (
			endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
			group_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			display TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (endpoint_id, group_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships(endpoint_id, user_id)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id ` + auditIDColumn + `,
			endpoint_id TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			status INTEGER NOT NULL,
			remote_addr TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_endpoint_ts ON audit_log(endpoint_id, ts)`,
	}
}
