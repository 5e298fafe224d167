package sqlite

// Schema is the embedded DDL for the sqlite backend. Every statement is
// idempotent (IF NOT EXISTS) so opening an existing data directory is safe.
//
// The memories table carries the record payload, the denormalized content
// text and the embedding blob. The memories_fts virtual table mirrors content
// for ranked keyword search and is kept in sync by triggers.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id           TEXT PRIMARY KEY,
	content      TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	memory_type  TEXT NOT NULL DEFAULT 'fact',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	is_latest    INTEGER NOT NULL DEFAULT 1,
	version      INTEGER NOT NULL DEFAULT 1,
	event_date   DATETIME,
	content_hash TEXT NOT NULL,
	metadata     TEXT,
	embedding    BLOB,
	dimension    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_memories_user_latest ON memories(user_id, is_latest);
CREATE INDEX IF NOT EXISTS idx_memories_user_hash   ON memories(user_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_memories_created     ON memories(created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content,
	content='memories',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE OF content ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TABLE IF NOT EXISTS history (
	id             TEXT PRIMARY KEY,
	memory_id      TEXT NOT NULL,
	action         TEXT NOT NULL,
	previous_value TEXT NOT NULL DEFAULT '',
	new_value      TEXT NOT NULL DEFAULT '',
	user_id        TEXT NOT NULL,
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_memory ON history(memory_id, created_at);
CREATE INDEX IF NOT EXISTS idx_history_user   ON history(user_id);

CREATE TABLE IF NOT EXISTS graph_entities (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT '',
	user_id    TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE(name, user_id)
);

CREATE TABLE IF NOT EXISTS graph_memory_nodes (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_relations (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	relationship TEXT NOT NULL,
	target       TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	confidence   REAL NOT NULL DEFAULT 0,
	reason       TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_graph_relations_user ON graph_relations(user_id, created_at);
`
