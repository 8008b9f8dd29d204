package db

import (
	"context"
	"database/sql"
)

const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`

	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		icon_url TEXT NOT NULL DEFAULT '',
		public_key TEXT NOT NULL,
		private_key TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(username, domain)
	)`

	sqlCreateStatusesTable = `CREATE TABLE IF NOT EXISTS statuses (
		id TEXT NOT NULL PRIMARY KEY,
		url TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL,
		type TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		sensitive INTEGER NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL,
		recipients_to TEXT NOT NULL DEFAULT '[]',
		recipients_cc TEXT NOT NULL DEFAULT '[]',
		reply TEXT NOT NULL DEFAULT '',
		conversation TEXT NOT NULL DEFAULT '',
		original_status_id TEXT NOT NULL DEFAULT '',
		choices TEXT NOT NULL DEFAULT '[]',
		media_ids TEXT NOT NULL DEFAULT '[]',
		attachments TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL
	)`

	sqlCreateStatusesIndices = `
		CREATE INDEX IF NOT EXISTS idx_statuses_actor_id ON statuses(actor_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_statuses_original ON statuses(original_status_id);
	`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		target_actor_id TEXT NOT NULL,
		status TEXT NOT NULL,
		uri TEXT NOT NULL DEFAULT '',
		inbox TEXT NOT NULL DEFAULT '',
		shared_inbox TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`

	// at most one Requested or Accepted edge per pair
	sqlCreateFollowsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_follows_active ON follows(actor_id, target_actor_id)
			WHERE status IN ('Requested', 'Accepted');
		CREATE INDEX IF NOT EXISTS idx_follows_target ON follows(target_actor_id, status);
		CREATE INDEX IF NOT EXISTS idx_follows_uri ON follows(uri);
	`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		actor_id TEXT NOT NULL,
		status_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY(actor_id, status_id)
	)`

	sqlCreateLikesIndices = `
		CREATE INDEX IF NOT EXISTS idx_likes_status_id ON likes(status_id);
	`

	sqlCreateMediasTable = `CREATE TABLE IF NOT EXISTS medias (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		original_path TEXT NOT NULL,
		original_bytes INTEGER NOT NULL,
		original_mime TEXT NOT NULL,
		original_width INTEGER NOT NULL,
		original_height INTEGER NOT NULL,
		thumbnail_path TEXT,
		thumbnail_bytes INTEGER,
		thumbnail_mime TEXT,
		thumbnail_width INTEGER,
		thumbnail_height INTEGER,
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`

	sqlCreateTimelinesTable = `CREATE TABLE IF NOT EXISTS timelines (
		actor_id TEXT NOT NULL,
		status_id TEXT NOT NULL,
		timeline TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY(actor_id, status_id, timeline)
	)`

	sqlCreateTimelinesIndices = `
		CREATE INDEX IF NOT EXISTS idx_timelines_page ON timelines(actor_id, timeline, created_at DESC, status_id DESC);
		CREATE INDEX IF NOT EXISTS idx_timelines_status_id ON timelines(status_id);
	`

	sqlCreateDeliveriesTable = `CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		inbox TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_retry_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`

	sqlCreateDeliveriesIndices = `
		CREATE INDEX IF NOT EXISTS idx_deliveries_next_retry ON deliveries(next_retry_at);
	`
)

var migrations = []struct {
	name string
	sql  string
}{
	{"accounts", sqlCreateAccountsTable},
	{"actors", sqlCreateActorsTable},
	{"statuses", sqlCreateStatusesTable},
	{"statuses indices", sqlCreateStatusesIndices},
	{"follows", sqlCreateFollowsTable},
	{"follows indices", sqlCreateFollowsIndices},
	{"likes", sqlCreateLikesTable},
	{"likes indices", sqlCreateLikesIndices},
	{"medias", sqlCreateMediasTable},
	{"timelines", sqlCreateTimelinesTable},
	{"timelines indices", sqlCreateTimelinesIndices},
	{"deliveries", sqlCreateDeliveriesTable},
	{"deliveries indices", sqlCreateDeliveriesIndices},
}

// RunMigrations creates missing tables and indices. It is safe to run on
// every start.
func (db *DB) RunMigrations(ctx context.Context) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, m := range migrations {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				db.log.Error("Migration failed", "step", m.name, "err", err)
				return err
			}
			db.log.Debug("Migration applied", "step", m.name)
		}
		return nil
	})
}
