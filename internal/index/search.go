package index

import (
	"context"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
)

// FTSHit is one BM25-ranked full-text match.
type FTSHit struct {
	SkillID string
	Layer   string
	Score   float64 // raw bm25() score; lower is better, per SQLite convention
}

// SearchFTS runs a full-text query against skills_fts and returns the top
// limit matches ranked by SQLite's bm25().
func (s *Store) SearchFTS(ctx context.Context, query string, limit int) ([]FTSHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, layer, bm25(skills_fts) AS score
		FROM skills_fts
		WHERE skills_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "full text search").WithContext("query", query)
	}
	defer rows.Close()

	var out []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.SkillID, &h.Layer, &h.Score); err != nil {
			return nil, apperr.Wrap(apperr.DbOpen, err, "scan fts hit")
		}
		out = append(out, h)
	}
	return out, nil
}
