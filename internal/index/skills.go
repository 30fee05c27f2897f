package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// UpsertSkill writes a skill row and refreshes its FTS entry. Both writes
// happen in one transaction so the full-text index never drifts from the
// row it mirrors.
func (s *Store) UpsertSkill(ctx context.Context, sk skill.Skill) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return upsertSkillTx(tx, sk)
	})
}

func upsertSkillTx(tx *sql.Tx, sk skill.Skill) error {
	tags, err := json.Marshal(sk.Tags)
	if err != nil {
		return apperr.Wrap(apperr.Invalid, err, "marshal tags")
	}
	meta, err := json.Marshal(sk.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.Invalid, err, "marshal metadata")
	}
	assets, err := json.Marshal(sk.Assets)
	if err != nil {
		return apperr.Wrap(apperr.Invalid, err, "marshal assets")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := sk.Derived.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.Exec(`
		INSERT INTO skills (id, layer, name, version, description, author, tags, source_path,
			git_remote, git_commit, content_hash, body, metadata_json, assets_json,
			token_count, quality_score, deprecated, deprecation_note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, layer) DO UPDATE SET
			name=excluded.name, version=excluded.version, description=excluded.description,
			author=excluded.author, tags=excluded.tags, source_path=excluded.source_path,
			git_remote=excluded.git_remote, git_commit=excluded.git_commit,
			content_hash=excluded.content_hash, body=excluded.body,
			metadata_json=excluded.metadata_json, assets_json=excluded.assets_json,
			token_count=excluded.token_count, quality_score=excluded.quality_score,
			deprecated=excluded.deprecated, deprecation_note=excluded.deprecation_note,
			updated_at=excluded.updated_at
	`,
		sk.ID, string(sk.Provenance.Layer), sk.Name, sk.Version, sk.Description, sk.Author, string(tags),
		sk.Provenance.SourcePath, sk.Provenance.GitRemote, sk.Provenance.GitCommit, sk.ContentHash, sk.Body,
		string(meta), string(assets), sk.Derived.TokenCount, sk.Derived.QualityScore, boolToInt(sk.Derived.Deprecated),
		sk.Derived.DeprecationNote, createdAt.Format(time.RFC3339), now,
	)
	if err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "upsert skill").WithContext("skill_id", sk.ID)
	}

	if _, err := tx.Exec(`DELETE FROM skills_fts WHERE id = ? AND layer = ?`, sk.ID, string(sk.Provenance.Layer)); err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "clear fts entry")
	}
	if _, err := tx.Exec(`INSERT INTO skills_fts (id, layer, name, description, body, tags) VALUES (?, ?, ?, ?, ?, ?)`,
		sk.ID, string(sk.Provenance.Layer), sk.Name, sk.Description, sk.Body, joinTags(sk.Tags)); err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "update fts entry")
	}
	return nil
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetSkill returns a skill by id at a specific layer.
func (s *Store) GetSkill(ctx context.Context, id string, layer skill.Layer) (*skill.Skill, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, layer, name, version, description, author, tags,
		source_path, git_remote, git_commit, content_hash, body, metadata_json, assets_json,
		token_count, quality_score, deprecated, deprecation_note, created_at, updated_at
		FROM skills WHERE id = ? AND layer = ?`, id, string(layer))
	sk, err := scanSkill(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "skill not found").WithContext("skill_id", id).WithContext("layer", string(layer))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "scan skill")
	}
	return sk, nil
}

// GetHighestLayer returns the highest-ranked layer's row for id across all
// layers the skill exists at, implementing layer precedence for reads.
func (s *Store) GetHighestLayer(ctx context.Context, id string) (*skill.Skill, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, layer, name, version, description, author, tags,
		source_path, git_remote, git_commit, content_hash, body, metadata_json, assets_json,
		token_count, quality_score, deprecated, deprecation_note, created_at, updated_at
		FROM skills WHERE id = ?`, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "query skill layers")
	}
	defer rows.Close()

	var best *skill.Skill
	for rows.Next() {
		sk, err := scanSkillRows(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.DbOpen, err, "scan skill")
		}
		if best == nil || sk.Provenance.Layer.Rank() > best.Provenance.Layer.Rank() {
			best = sk
		}
	}
	if best == nil {
		return nil, apperr.New(apperr.NotFound, "skill not found").WithContext("skill_id", id)
	}
	return best, nil
}

// ListSkills returns all skills, optionally restricted to one layer.
func (s *Store) ListSkills(ctx context.Context, layer skill.Layer) ([]skill.Skill, error) {
	var rows *sql.Rows
	var err error
	query := `SELECT id, layer, name, version, description, author, tags,
		source_path, git_remote, git_commit, content_hash, body, metadata_json, assets_json,
		token_count, quality_score, deprecated, deprecation_note, created_at, updated_at FROM skills`
	if layer != "" {
		rows, err = s.db.QueryContext(ctx, query+` WHERE layer = ? ORDER BY id`, string(layer))
	} else {
		rows, err = s.db.QueryContext(ctx, query+` ORDER BY id, layer`)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "list skills")
	}
	defer rows.Close()

	var out []skill.Skill
	for rows.Next() {
		sk, err := scanSkillRows(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.DbOpen, err, "scan skill")
		}
		out = append(out, *sk)
	}
	return out, nil
}

// SkillMeta is the lean, body-free projection of a skill row used by
// search filters so candidate evaluation never pulls full bodies off
// disk before fusion has narrowed the set.
type SkillMeta struct {
	ID         string
	Layer      skill.Layer
	Tags       []string
	Quality    float64
	Deprecated bool
}

// ListSkillMeta returns metadata-only rows for the given ids, skipping
// the body/assets/content_hash columns entirely.
func (s *Store) ListSkillMeta(ctx context.Context, ids []string) (map[string]SkillMeta, error) {
	out := make(map[string]SkillMeta, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT id, layer, tags, quality_score, deprecated FROM skills WHERE id IN (` + strings.Join(placeholders, ",") + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "list skill metadata")
	}
	defer rows.Close()

	for rows.Next() {
		var m SkillMeta
		var layer, tags string
		var deprecated int
		if err := rows.Scan(&m.ID, &layer, &tags, &m.Quality, &deprecated); err != nil {
			return nil, apperr.Wrap(apperr.DbOpen, err, "scan skill metadata")
		}
		m.Layer = skill.Layer(layer)
		m.Deprecated = deprecated != 0
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return nil, apperr.Wrap(apperr.Invalid, err, "unmarshal tags")
		}
		out[m.ID+":"+string(m.Layer)] = m
	}
	return out, nil
}

// DeleteSkill removes a skill row (and its FTS shadow) at one layer.
// Invariant I8: a skill is deleted only when no alias resolves to it
// transitively; deleting out from under a live alias would strand the
// chain at a dangling canonical id.
func (s *Store) DeleteSkill(ctx context.Context, id string, layer skill.Layer) error {
	blocking, err := s.aliasesResolvingTo(ctx, id)
	if err != nil {
		return err
	}
	if len(blocking) > 0 {
		return apperr.New(apperr.Invalid, "skill has live aliases pointing to it").
			WithContext("skill_id", id).WithContext("aliases", strings.Join(blocking, ","))
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM skills WHERE id = ? AND layer = ?`, id, string(layer)); err != nil {
			return apperr.Wrap(apperr.DbOpen, err, "delete skill")
		}
		if _, err := tx.Exec(`DELETE FROM skills_fts WHERE id = ? AND layer = ?`, id, string(layer)); err != nil {
			return apperr.Wrap(apperr.DbOpen, err, "delete fts entry")
		}
		if _, err := tx.Exec(`DELETE FROM skill_slices WHERE skill_id = ? AND layer = ?`, id, string(layer)); err != nil {
			return apperr.Wrap(apperr.DbOpen, err, "delete slices")
		}
		if _, err := tx.Exec(`DELETE FROM skill_embeddings WHERE skill_id = ? AND layer = ?`, id, string(layer)); err != nil {
			return apperr.Wrap(apperr.DbOpen, err, "delete embeddings")
		}
		if _, err := tx.Exec(`DELETE FROM skill_dependencies WHERE skill_id = ? AND layer = ?`, id, string(layer)); err != nil {
			return apperr.Wrap(apperr.DbOpen, err, "delete dependencies")
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSkill(row *sql.Row) (*skill.Skill, error) {
	return scanSkillGeneric(row)
}

func scanSkillRows(rows *sql.Rows) (*skill.Skill, error) {
	return scanSkillGeneric(rows)
}

func scanSkillGeneric(r rowScanner) (*skill.Skill, error) {
	var sk skill.Skill
	var layer, tags, meta, assets, createdAt, updatedAt string
	var deprecated int

	err := r.Scan(&sk.ID, &layer, &sk.Name, &sk.Version, &sk.Description, &sk.Author, &tags,
		&sk.Provenance.SourcePath, &sk.Provenance.GitRemote, &sk.Provenance.GitCommit, &sk.ContentHash, &sk.Body,
		&meta, &assets, &sk.Derived.TokenCount, &sk.Derived.QualityScore, &deprecated, &sk.Derived.DeprecationNote,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	sk.Provenance.Layer = skill.Layer(layer)
	sk.Derived.Deprecated = deprecated != 0
	if err := json.Unmarshal([]byte(tags), &sk.Tags); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &sk.Metadata); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(assets), &sk.Assets); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		sk.Derived.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		sk.Derived.UpdatedAt = t
	}
	return &sk, nil
}

// UpsertAlias records or updates a from->to alias mapping.
func (s *Store) UpsertAlias(ctx context.Context, a skill.Alias) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skill_aliases (from_id, to_id, alias_type, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(from_id) DO UPDATE SET to_id=excluded.to_id, alias_type=excluded.alias_type
	`, a.FromID, a.ToID, a.AliasType, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "upsert alias").WithContext("from_id", a.FromID)
	}
	return nil
}

// ResolveAlias follows the alias chain from id to its canonical target,
// detecting cycles. Returns id unchanged if it is not an alias.
func (s *Store) ResolveAlias(ctx context.Context, id string) (string, []string, error) {
	visited := map[string]bool{id: true}
	var chain []string
	current := id
	for {
		var to string
		err := s.db.QueryRowContext(ctx, `SELECT to_id FROM skill_aliases WHERE from_id = ?`, current).Scan(&to)
		if err == sql.ErrNoRows {
			return current, chain, nil
		}
		if err != nil {
			return "", nil, apperr.Wrap(apperr.DbOpen, err, "resolve alias")
		}
		if visited[to] {
			return "", nil, apperr.New(apperr.Invalid, "alias cycle detected").WithContext("skill_id", id)
		}
		visited[to] = true
		chain = append(chain, to)
		current = to
	}
}

// aliasesResolvingTo returns every alias from_id whose chain terminates at
// id, used by DeleteSkill to enforce invariant I8.
func (s *Store) aliasesResolvingTo(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT from_id FROM skill_aliases`)
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "list aliases")
	}
	var fromIDs []string
	for rows.Next() {
		var from string
		if err := rows.Scan(&from); err != nil {
			rows.Close()
			return nil, apperr.Wrap(apperr.DbOpen, err, "scan alias")
		}
		fromIDs = append(fromIDs, from)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, apperr.Wrap(apperr.DbOpen, err, "iterate aliases")
	}
	rows.Close()

	var blocking []string
	for _, from := range fromIDs {
		canonical, _, err := s.ResolveAlias(ctx, from)
		if err != nil {
			return nil, err
		}
		if canonical == id {
			blocking = append(blocking, from)
		}
	}
	return blocking, nil
}
