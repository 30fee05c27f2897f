package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"
	"time"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// UpsertEmbedding stores a dense vector for a skill under a named model.
func (s *Store) UpsertEmbedding(ctx context.Context, skillID string, layer skill.Layer, model string, vector []float32) error {
	blob := encodeVector(vector)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skill_embeddings (skill_id, layer, model, dims, vector, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(skill_id, layer, model) DO UPDATE SET dims=excluded.dims, vector=excluded.vector, updated_at=excluded.updated_at
	`, skillID, string(layer), model, len(vector), blob, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return apperr.Wrap(apperr.DbOpen, err, "upsert embedding").WithContext("skill_id", skillID)
	}
	return nil
}

// Embedding pairs a skill identity with its stored vector.
type Embedding struct {
	SkillID string
	Layer   skill.Layer
	Vector  []float32
}

// ListEmbeddings returns every stored vector for a model, for brute-force
// cosine scanning by the search layer.
func (s *Store) ListEmbeddings(ctx context.Context, model string) ([]Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT skill_id, layer, vector FROM skill_embeddings WHERE model = ?`, model)
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "list embeddings")
	}
	defer rows.Close()

	var out []Embedding
	for rows.Next() {
		var e Embedding
		var layer string
		var blob []byte
		if err := rows.Scan(&e.SkillID, &layer, &blob); err != nil {
			return nil, apperr.Wrap(apperr.DbOpen, err, "scan embedding")
		}
		e.Layer = skill.Layer(layer)
		e.Vector = decodeVector(blob)
		out = append(out, e)
	}
	return out, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : i*4+4]))
	}
	return out
}

// ReplaceSlices atomically swaps a skill's slice set (the slicer
// recomputes the full set on every resolve; there is no incremental diff).
func (s *Store) ReplaceSlices(ctx context.Context, skillID string, layer skill.Layer, slices []skill.Slice) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM skill_slices WHERE skill_id = ? AND layer = ?`, skillID, string(layer)); err != nil {
			return apperr.Wrap(apperr.DbOpen, err, "clear slices")
		}
		for i, sl := range slices {
			tags, err := json.Marshal(sl.Tags)
			if err != nil {
				return apperr.Wrap(apperr.Invalid, err, "marshal slice tags")
			}
			conditions, err := json.Marshal(sl.Conditions)
			if err != nil {
				return apperr.Wrap(apperr.Invalid, err, "marshal slice conditions")
			}
			_, err = tx.Exec(`
				INSERT INTO skill_slices (id, skill_id, layer, slice_type, token_estimate, utility,
					coverage_group, tags_json, conditions_json, section_title, content, ordinal, quality_score)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, sl.ID, skillID, string(layer), string(sl.SliceType), sl.TokenEstimate, sl.Utility,
				sl.CoverageGroup, string(tags), string(conditions), sl.SectionTitle, sl.Content, i, sl.QualityScore)
			if err != nil {
				return apperr.Wrap(apperr.DbOpen, err, "insert slice").WithContext("slice_id", sl.ID)
			}
		}
		return nil
	})
}

// ListSlices returns a skill's slices in their original order.
func (s *Store) ListSlices(ctx context.Context, skillID string, layer skill.Layer) ([]skill.Slice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slice_type, token_estimate, utility, coverage_group, tags_json, conditions_json, section_title, content, quality_score
		FROM skill_slices WHERE skill_id = ? AND layer = ? ORDER BY ordinal
	`, skillID, string(layer))
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "list slices")
	}
	defer rows.Close()

	var out []skill.Slice
	for rows.Next() {
		var sl skill.Slice
		var sliceType, tags, conditions string
		if err := rows.Scan(&sl.ID, &sliceType, &sl.TokenEstimate, &sl.Utility, &sl.CoverageGroup, &tags, &conditions, &sl.SectionTitle, &sl.Content, &sl.QualityScore); err != nil {
			return nil, apperr.Wrap(apperr.DbOpen, err, "scan slice")
		}
		sl.SliceType = skill.SliceType(sliceType)
		if err := json.Unmarshal([]byte(tags), &sl.Tags); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(conditions), &sl.Conditions); err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, nil
}

// Dependency is one edge of the capability graph, read back from storage.
type Dependency struct {
	SkillID   string
	Layer     skill.Layer
	DependsOn string
	Kind      string // "requires" or "provides"
}

// ReplaceDependencies swaps a skill's declared requires/provides edges.
func (s *Store) ReplaceDependencies(ctx context.Context, skillID string, layer skill.Layer, deps []Dependency) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM skill_dependencies WHERE skill_id = ? AND layer = ?`, skillID, string(layer)); err != nil {
			return apperr.Wrap(apperr.DbOpen, err, "clear dependencies")
		}
		for _, d := range deps {
			if _, err := tx.Exec(`INSERT INTO skill_dependencies (skill_id, layer, depends_on, kind) VALUES (?, ?, ?, ?)`,
				skillID, string(layer), d.DependsOn, d.Kind); err != nil {
				return apperr.Wrap(apperr.DbOpen, err, "insert dependency")
			}
			if d.Kind == "provides" {
				if _, err := tx.Exec(`
					INSERT INTO skill_dependency_graph (capability, provider_skill_id, provider_layer) VALUES (?, ?, ?)
					ON CONFLICT(capability, provider_skill_id, provider_layer) DO NOTHING
				`, d.DependsOn, skillID, string(layer)); err != nil {
					return apperr.Wrap(apperr.DbOpen, err, "insert capability provider")
				}
			}
		}
		return nil
	})
}

// ListDependencies returns every requires/provides edge for all skills, the
// raw material for DependencyResolver's capability graph.
func (s *Store) ListDependencies(ctx context.Context) ([]Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT skill_id, layer, depends_on, kind FROM skill_dependencies`)
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "list dependencies")
	}
	defer rows.Close()

	var out []Dependency
	for rows.Next() {
		var d Dependency
		var layer string
		if err := rows.Scan(&d.SkillID, &layer, &d.DependsOn, &d.Kind); err != nil {
			return nil, apperr.Wrap(apperr.DbOpen, err, "scan dependency")
		}
		d.Layer = skill.Layer(layer)
		out = append(out, d)
	}
	return out, nil
}

// ProvidersOf returns the skills that declare "provides" for capability.
func (s *Store) ProvidersOf(ctx context.Context, capability string) ([]Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider_skill_id, provider_layer FROM skill_dependency_graph WHERE capability = ?`, capability)
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "query capability providers")
	}
	defer rows.Close()

	var out []Dependency
	for rows.Next() {
		var d Dependency
		var layer string
		if err := rows.Scan(&d.SkillID, &layer); err != nil {
			return nil, apperr.Wrap(apperr.DbOpen, err, "scan capability provider")
		}
		d.Layer = skill.Layer(layer)
		d.Kind = "provides"
		d.DependsOn = capability
		out = append(out, d)
	}
	return out, nil
}

// RequiresOf returns the capability names skillID declares with "requires",
// the other half of depgraph's GraphSource alongside ProvidersOf.
func (s *Store) RequiresOf(ctx context.Context, skillID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT depends_on FROM skill_dependencies WHERE skill_id = ? AND kind = 'requires'`, skillID)
	if err != nil {
		return nil, apperr.Wrap(apperr.DbOpen, err, "query skill requirements").WithContext("skill_id", skillID)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var capability string
		if err := rows.Scan(&capability); err != nil {
			return nil, apperr.Wrap(apperr.DbOpen, err, "scan skill requirement")
		}
		out = append(out, capability)
	}
	return out, nil
}
