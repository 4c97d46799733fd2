package storage

const (
	kvTable = `
	CREATE TABLE IF NOT EXISTS watchtower_kv (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, key)
	);
	`
	queryUpsert = `
	INSERT INTO watchtower_kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;
	`
	queryDelete = `
	DELETE FROM watchtower_kv WHERE namespace = ? AND key = ?;
	`
	queryLoadAll = `
	SELECT key, value FROM watchtower_kv WHERE namespace = ? ORDER BY key;
	`
)
