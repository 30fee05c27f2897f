package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// UpsertSyncState writes the current sync state for one (remote, skill) pair.
func (s *Store) UpsertSyncState(ctx context.Context, st skill.SyncState) error {
	vc, err := json.Marshal(st.VectorClock)
	if err != nil {
		return apperr.Wrap(apperr.Invalid, err, "marshal vector clock")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_state (remote, skill_id, last_seen_remote, last_pushed_local, vector_clock_json, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(remote, skill_id) DO UPDATE SET
			last_seen_remote=excluded.last_seen_remote, last_pushed_local=excluded.last_pushed_local,
			vector_clock_json=excluded.vector_clock_json, status=excluded.status, updated_at=excluded.updated_at
	`, st.Remote, st.SkillID, st.LastSeenRemote, st.LastPushedLocal, string(vc), string(st.Status), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "upsert sync state").WithContext("skill_id", st.SkillID)
	}
	return nil
}

// GetSyncState reads the sync state for one (remote, skill) pair, if any.
func (s *Store) GetSyncState(ctx context.Context, remote, skillID string) (*skill.SyncState, error) {
	var st skill.SyncState
	var vc, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT remote, skill_id, last_seen_remote, last_pushed_local, vector_clock_json, status
		FROM sync_state WHERE remote = ? AND skill_id = ?
	`, remote, skillID).Scan(&st.Remote, &st.SkillID, &st.LastSeenRemote, &st.LastPushedLocal, &vc, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "get sync state")
	}
	st.Status = skill.SyncStatus(status)
	if err := json.Unmarshal([]byte(vc), &st.VectorClock); err != nil {
		return nil, apperr.Wrap(apperr.Invalid, err, "unmarshal vector clock")
	}
	return &st, nil
}

// ListSyncState returns every tracked (remote, skill) pair for a remote.
func (s *Store) ListSyncState(ctx context.Context, remote string) ([]skill.SyncState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT remote, skill_id, last_seen_remote, last_pushed_local, vector_clock_json, status
		FROM sync_state WHERE remote = ?
	`, remote)
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "list sync state")
	}
	defer rows.Close()

	var out []skill.SyncState
	for rows.Next() {
		var st skill.SyncState
		var vc, status string
		if err := rows.Scan(&st.Remote, &st.SkillID, &st.LastSeenRemote, &st.LastPushedLocal, &vc, &status); err != nil {
			return nil, apperr.Wrap(apperr.DbOpen, err, "scan sync state")
		}
		st.Status = skill.SyncStatus(status)
		if err := json.Unmarshal([]byte(vc), &st.VectorClock); err != nil {
			return nil, apperr.Wrap(apperr.Invalid, err, "unmarshal vector clock")
		}
		out = append(out, st)
	}
	return out, nil
}

// PutResolvedCache stores a resolved spec keyed by the caller's composite
// cache key (skill id + hash of transitive dependency content hashes).
func (s *Store) PutResolvedCache(ctx context.Context, cacheKey, skillID, contentHash string, resolved skill.ResolvedSkillSpec) error {
	blob, err := json.Marshal(resolved)
	if err != nil {
		return apperr.Wrap(apperr.Invalid, err, "marshal resolved spec")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resolved_skill_cache (cache_key, skill_id, content_hash, resolved_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET content_hash=excluded.content_hash, resolved_json=excluded.resolved_json, created_at=excluded.created_at
	`, cacheKey, skillID, contentHash, string(blob), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "put resolved cache")
	}
	return nil
}

// GetResolvedCache returns a cached resolved spec if cacheKey's stored
// content hash still matches contentHash; a mismatch is treated as a miss.
func (s *Store) GetResolvedCache(ctx context.Context, cacheKey, contentHash string) (*skill.ResolvedSkillSpec, bool, error) {
	var storedHash, blob string
	err := s.db.QueryRowContext(ctx, `SELECT content_hash, resolved_json FROM resolved_skill_cache WHERE cache_key = ?`, cacheKey).Scan(&storedHash, &blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Wrap(apperr.DbOpen, err, "get resolved cache")
	}
	if storedHash != contentHash {
		return nil, false, nil
	}
	var resolved skill.ResolvedSkillSpec
	if err := json.Unmarshal([]byte(blob), &resolved); err != nil {
		return nil, false, apperr.Wrap(apperr.Invalid, err, "unmarshal resolved spec")
	}
	return &resolved, true, nil
}

// InvalidateResolvedCache drops every cached entry derived from skillID,
// used when a skill (or an ancestor it depends on) changes.
func (s *Store) InvalidateResolvedCache(ctx context.Context, skillID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM resolved_skill_cache WHERE skill_id = ?`, skillID)
	if err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "invalidate resolved cache")
	}
	return nil
}
