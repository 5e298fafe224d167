package postgres

import "fmt"

// baseSchema is the DDL shared by every deployment. The embedding is always
// stored as BYTEA so the fallback scan works even without pgvector; the
// vector column and its ANN index are added separately when the extension is
// present.
const baseSchema = `
CREATE TABLE IF NOT EXISTS memories (
	id           TEXT PRIMARY KEY,
	content      TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	memory_type  TEXT NOT NULL DEFAULT 'fact',
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	is_latest    BOOLEAN NOT NULL DEFAULT TRUE,
	version      INTEGER NOT NULL DEFAULT 1,
	event_date   TIMESTAMPTZ,
	content_hash TEXT NOT NULL,
	metadata     JSONB,
	embedding    BYTEA,
	dimension    INTEGER NOT NULL DEFAULT 0,
	content_tsv  tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
);

CREATE INDEX IF NOT EXISTS idx_memories_user_latest ON memories(user_id, is_latest);
CREATE INDEX IF NOT EXISTS idx_memories_user_hash   ON memories(user_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_memories_tsv         ON memories USING GIN (content_tsv);

CREATE TABLE IF NOT EXISTS history (
	id             TEXT PRIMARY KEY,
	memory_id      TEXT NOT NULL,
	action         TEXT NOT NULL,
	previous_value TEXT NOT NULL DEFAULT '',
	new_value      TEXT NOT NULL DEFAULT '',
	user_id        TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_memory ON history(memory_id, created_at);
CREATE INDEX IF NOT EXISTS idx_history_user   ON history(user_id);

CREATE TABLE IF NOT EXISTS graph_entities (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT '',
	user_id    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE(name, user_id)
);

CREATE TABLE IF NOT EXISTS graph_memory_nodes (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_relations (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	relationship TEXT NOT NULL,
	target       TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	reason       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_graph_relations_user ON graph_relations(user_id, created_at);
`

// vectorMigration adds the typed pgvector column and its cosine ANN index.
// Applied only when the vector extension is installed.
func vectorMigration(dimension int) string {
	return fmt.Sprintf(`
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memories' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE memories ADD COLUMN embedding_vec vector(%d);
    END IF;
END $$;

CREATE INDEX IF NOT EXISTS idx_memories_vec_cosine
    ON memories USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100);
`, dimension)
}
