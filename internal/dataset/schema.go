package dataset

// Core tables created at open when absent. Domain tables are expected to
// exist alongside them; anything present in the catalog becomes an entity.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS pd_users (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	c_login    TEXT NOT NULL UNIQUE,
	c_password TEXT NOT NULL,
	c_claims   TEXT NOT NULL DEFAULT '',
	b_disabled INTEGER NOT NULL DEFAULT 0,
	sn_delete  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pd_accesses (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	f_user          INTEGER,
	c_claim         TEXT,
	table_name      TEXT,
	is_creatable    INTEGER NOT NULL DEFAULT 0,
	is_editable     INTEGER NOT NULL DEFAULT 0,
	is_deletable    INTEGER NOT NULL DEFAULT 0,
	is_fullcontrol  INTEGER NOT NULL DEFAULT 0,
	record_criteria TEXT,
	column_name     TEXT NOT NULL DEFAULT '',
	rpc_function    TEXT NOT NULL DEFAULT '',
	operation       TEXT NOT NULL DEFAULT '',
	n_access        INTEGER NOT NULL DEFAULT 1,
	sn_delete       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pd_ui_actions (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	c_view   TEXT NOT NULL,
	c_action TEXT NOT NULL,
	c_claim  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ad_audits (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	fn_user    INTEGER,
	d_date     TEXT,
	c_data     TEXT,
	c_type     TEXT,
	c_app_name TEXT
);

CREATE TABLE IF NOT EXISTS cd_settings (
	c_key   TEXT PRIMARY KEY,
	c_value TEXT NOT NULL
);

INSERT OR IGNORE INTO cd_settings (c_key, c_value) VALUES ('data_version', '1.0.0.0');
`
