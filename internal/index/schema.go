package index

// migration is one ordered, idempotent schema step. Steps never rewritten
// in place; new columns/tables are added by new migrations.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{1, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS skills (
	id              TEXT NOT NULL,
	layer           TEXT NOT NULL,
	name            TEXT NOT NULL,
	version         TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	author          TEXT NOT NULL DEFAULT '',
	tags            TEXT NOT NULL DEFAULT '[]',
	source_path     TEXT NOT NULL DEFAULT '',
	git_remote      TEXT NOT NULL DEFAULT '',
	git_commit      TEXT NOT NULL DEFAULT '',
	content_hash    TEXT NOT NULL,
	body            TEXT NOT NULL,
	metadata_json   TEXT NOT NULL DEFAULT '{}',
	assets_json     TEXT NOT NULL DEFAULT '{}',
	token_count     INTEGER NOT NULL DEFAULT 0,
	quality_score   REAL NOT NULL DEFAULT 0,
	deprecated      INTEGER NOT NULL DEFAULT 0,
	deprecation_note TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	PRIMARY KEY (id, layer)
);
CREATE INDEX IF NOT EXISTS idx_skills_name ON skills(name);
CREATE INDEX IF NOT EXISTS idx_skills_deprecated ON skills(deprecated);

CREATE TABLE IF NOT EXISTS skill_aliases (
	from_id    TEXT NOT NULL PRIMARY KEY,
	to_id      TEXT NOT NULL,
	alias_type TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS skills_fts USING fts5(
	id UNINDEXED,
	layer UNINDEXED,
	name,
	description,
	body,
	tags,
	tokenize = 'porter unicode61'
);

CREATE TABLE IF NOT EXISTS skill_embeddings (
	skill_id TEXT NOT NULL,
	layer    TEXT NOT NULL,
	model    TEXT NOT NULL,
	dims     INTEGER NOT NULL,
	vector   BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (skill_id, layer, model)
);

CREATE TABLE IF NOT EXISTS skill_slices (
	id             TEXT NOT NULL PRIMARY KEY,
	skill_id       TEXT NOT NULL,
	layer          TEXT NOT NULL,
	slice_type     TEXT NOT NULL,
	token_estimate INTEGER NOT NULL,
	utility        REAL NOT NULL,
	coverage_group TEXT NOT NULL DEFAULT '',
	tags_json      TEXT NOT NULL DEFAULT '[]',
	conditions_json TEXT NOT NULL DEFAULT '[]',
	section_title  TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL,
	ordinal        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_slices_skill ON skill_slices(skill_id, layer);

CREATE TABLE IF NOT EXISTS skill_dependencies (
	skill_id   TEXT NOT NULL,
	layer      TEXT NOT NULL,
	depends_on TEXT NOT NULL,
	kind       TEXT NOT NULL,
	PRIMARY KEY (skill_id, layer, depends_on, kind)
);

CREATE TABLE IF NOT EXISTS skill_dependency_graph (
	capability TEXT NOT NULL,
	provider_skill_id TEXT NOT NULL,
	provider_layer TEXT NOT NULL,
	PRIMARY KEY (capability, provider_skill_id, provider_layer)
);

CREATE TABLE IF NOT EXISTS sync_state (
	remote            TEXT NOT NULL,
	skill_id          TEXT NOT NULL,
	last_seen_remote  TEXT NOT NULL DEFAULT '',
	last_pushed_local TEXT NOT NULL DEFAULT '',
	vector_clock_json TEXT NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	PRIMARY KEY (remote, skill_id)
);

CREATE TABLE IF NOT EXISTS tx_log (
	id            TEXT NOT NULL PRIMARY KEY,
	entity_type   TEXT NOT NULL,
	phase         TEXT NOT NULL,
	staged_paths_json TEXT NOT NULL DEFAULT '[]',
	index_plan    TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tx_log_phase ON tx_log(phase);

CREATE TABLE IF NOT EXISTS resolved_skill_cache (
	cache_key   TEXT NOT NULL PRIMARY KEY,
	skill_id    TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	resolved_json TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS skill_usage_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	skill_id   TEXT NOT NULL,
	layer      TEXT NOT NULL,
	event      TEXT NOT NULL,
	context_json TEXT NOT NULL DEFAULT '{}',
	occurred_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_skill ON skill_usage_events(skill_id, layer);
`},
	{2, `
ALTER TABLE skill_slices ADD COLUMN quality_score REAL NOT NULL DEFAULT 0;
`},
}
