// Package search implements the hybrid BM25 + semantic retrieval layer
// (spec §4.J): independent ranked candidate lists fused with reciprocal
// rank fusion, then filtered against lean metadata.
package search

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/greenforestpath/meta-skill-sub001/internal/cache"
	"github.com/greenforestpath/meta-skill-sub001/internal/embedder"
	"github.com/greenforestpath/meta-skill-sub001/internal/index"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// rrfK is the reciprocal rank fusion smoothing constant (spec §4.J).
const rrfK = 60.0

// fetchMultiple is how many times the user's limit each system fetches
// before fusion, to absorb post-fusion filtering.
const fetchMultiple = 50

// semanticParallelThreshold is the embedding count above which the
// cosine scan splits across goroutines.
const semanticParallelThreshold = 2000

// Weights scales each candidate system's contribution to the fused score.
type Weights struct {
	BM25     float64
	Semantic float64
}

// DefaultWeights matches spec §4.J's stated defaults.
func DefaultWeights() Weights {
	return Weights{BM25: 0.5, Semantic: 0.5}
}

// Filter narrows fused results by metadata, evaluated without loading
// any skill body.
type Filter struct {
	Layer             skill.Layer // empty = any layer
	Tags              []string    // any-match
	MinQuality        float64
	IncludeDeprecated bool
}

// Result is one fused, filtered search hit.
type Result struct {
	SkillID string
	Layer   skill.Layer
	Score   float64
}

// Searcher runs hybrid search over an index's full-text and embedding
// tables.
type Searcher struct {
	idx      *index.Store
	embedder embedder.Embedder
	model    string
	results  *cache.Cache[[]Result]
}

// New builds a Searcher. model names the embedding model whose vectors
// ListEmbeddings should return (skills may carry embeddings from more
// than one model over time). Fused results are not cached.
func New(idx *index.Store, emb embedder.Embedder, model string) *Searcher {
	return &Searcher{idx: idx, embedder: emb, model: model}
}

// NewCached builds a Searcher that memoizes fused, filtered results for ttl:
// the index changes on every write, so a short TTL (seconds, not minutes)
// is what keeps repeated identical queries from re-running BM25 and a full
// cosine scan within one interactive session without risking a stale
// answer after the next write.
func NewCached(idx *index.Store, emb embedder.Embedder, model string, ttl time.Duration, maxEntries int) *Searcher {
	return &Searcher{idx: idx, embedder: emb, model: model, results: cache.New[[]Result](ttl, maxEntries)}
}

// Search runs BM25 and semantic candidate retrieval, fuses them with RRF,
// applies filter, and returns the top limit results.
func (s *Searcher) Search(ctx context.Context, query string, limit int, weights Weights, filter Filter) ([]Result, error) {
	key := cacheKey(query, limit, weights, filter)
	if s.results != nil {
		if hit, ok := s.results.Get(key); ok {
			return hit, nil
		}
	}

	fetchLimit := limit * fetchMultiple
	if fetchLimit <= 0 {
		fetchLimit = fetchMultiple
	}

	bm25Ranked, err := s.bm25Candidates(ctx, query, fetchLimit)
	if err != nil {
		return nil, err
	}
	semanticRanked, err := s.semanticCandidates(ctx, query, fetchLimit)
	if err != nil {
		return nil, err
	}

	fused := fuse(map[string][]candidate{
		"bm25":     bm25Ranked,
		"semantic": semanticRanked,
	}, map[string]float64{
		"bm25":     weights.BM25,
		"semantic": weights.Semantic,
	})

	filtered, err := s.applyFilter(ctx, fused, filter)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}

	if s.results != nil {
		s.results.Set(key, filtered)
	}
	return filtered, nil
}

// cacheKey builds a deterministic key for one Search call's parameters.
func cacheKey(query string, limit int, weights Weights, filter Filter) string {
	tags := append([]string(nil), filter.Tags...)
	sort.Strings(tags)
	return fmt.Sprintf("q=%s|l=%d|w=%.2f,%.2f|layer=%s|tags=%s|minq=%.2f|dep=%t",
		query, limit, weights.BM25, weights.Semantic, filter.Layer,
		strings.Join(tags, ","), filter.MinQuality, filter.IncludeDeprecated)
}

// CacheSize reports the number of memoized result sets currently held, or
// 0 for a Searcher built with New (no cache). Used by doctor to surface
// cache pressure without exposing the cache's internals.
func (s *Searcher) CacheSize() int {
	if s.results == nil {
		return 0
	}
	return s.results.Len()
}

// InvalidateCache drops every memoized Search result. Callers that hold a
// cached Searcher must call this after any index write (skill upsert,
// delete, embedding replace) so readers never see a stale fused result
// past the next mutation.
func (s *Searcher) InvalidateCache() {
	if s.results != nil {
		s.results.Clear()
	}
}

// candidate is one system's ranked hit prior to fusion.
type candidate struct {
	key   string // skillID + ":" + layer
	rank  int    // 1-indexed within this system's list
}

func (s *Searcher) bm25Candidates(ctx context.Context, query string, limit int) ([]candidate, error) {
	hits, err := s.idx.SearchFTS(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, len(hits))
	for i, h := range hits {
		out[i] = candidate{key: h.SkillID + ":" + h.Layer, rank: i + 1}
	}
	return out, nil
}

func (s *Searcher) semanticCandidates(ctx context.Context, query string, limit int) ([]candidate, error) {
	if s.embedder == nil {
		return nil, nil
	}
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	embeddings, err := s.idx.ListEmbeddings(ctx, s.model)
	if err != nil {
		return nil, err
	}
	scored, err := cosineScan(ctx, queryVec, embeddings)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].key < scored[j].key
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	out := make([]candidate, len(scored))
	for i, sc := range scored {
		out[i] = candidate{key: sc.key, rank: i + 1}
	}
	return out, nil
}

type scoredEmbedding struct {
	key   string
	score float64
}

// cosineScan scores every embedding against queryVec. Above
// semanticParallelThreshold entries, the scan splits across
// runtime.GOMAXPROCS(0) goroutines via errgroup; the per-scale choice is
// cosmetic since a full scan is cheap at the sizes this system expects,
// but real deployments with large embedding tables benefit from it.
func cosineScan(ctx context.Context, queryVec []float32, embeddings []index.Embedding) ([]scoredEmbedding, error) {
	if len(embeddings) <= semanticParallelThreshold {
		out := make([]scoredEmbedding, len(embeddings))
		for i, e := range embeddings {
			out[i] = scoredEmbedding{key: e.SkillID + ":" + string(e.Layer), score: cosine(queryVec, e.Vector)}
		}
		return out, nil
	}

	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	chunkSize := (len(embeddings) + workers - 1) / workers

	results := make([][]scoredEmbedding, workers)
	g, _ := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		start := w * chunkSize
		if start >= len(embeddings) {
			continue
		}
		end := start + chunkSize
		if end > len(embeddings) {
			end = len(embeddings)
		}
		g.Go(func() error {
			chunk := embeddings[start:end]
			local := make([]scoredEmbedding, len(chunk))
			for i, e := range chunk {
				local[i] = scoredEmbedding{key: e.SkillID + ":" + string(e.Layer), score: cosine(queryVec, e.Vector)}
			}
			results[w] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []scoredEmbedding
	for _, chunk := range results {
		out = append(out, chunk...)
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// fuse combines each system's ranked candidate list into one score per
// key via reciprocal rank fusion, weighted per system, summed, and sorted
// descending (lexicographic tie-break on key for determinism).
func fuse(systems map[string][]candidate, weights map[string]float64) []Result {
	scores := make(map[string]float64)
	for system, ranked := range systems {
		weight := weights[system]
		for _, c := range ranked {
			scores[c.key] += weight * (1.0 / (rrfK + float64(c.rank)))
		}
	}

	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if scores[keys[i]] != scores[keys[j]] {
			return scores[keys[i]] > scores[keys[j]]
		}
		return keys[i] < keys[j]
	})

	out := make([]Result, 0, len(keys))
	for _, k := range keys {
		skillID, layer := splitKey(k)
		out = append(out, Result{SkillID: skillID, Layer: layer, Score: scores[k]})
	}
	return out
}

func splitKey(key string) (string, skill.Layer) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[:i], skill.Layer(key[i+1:])
		}
	}
	return key, ""
}

// applyFilter drops results failing layer/tag/quality/deprecation
// criteria, consulting only lean metadata rows.
func (s *Searcher) applyFilter(ctx context.Context, results []Result, filter Filter) ([]Result, error) {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.SkillID
	}
	meta, err := s.idx.ListSkillMeta(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		m, ok := meta[r.SkillID+":"+string(r.Layer)]
		if !ok {
			continue
		}
		if filter.Layer != "" && m.Layer != filter.Layer {
			continue
		}
		if m.Quality < filter.MinQuality {
			continue
		}
		if m.Deprecated && !filter.IncludeDeprecated {
			continue
		}
		if len(filter.Tags) > 0 && !anyTagMatches(filter.Tags, m.Tags) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func anyTagMatches(want, have []string) bool {
	haveSet := make(map[string]bool, len(have))
	for _, t := range have {
		haveSet[t] = true
	}
	for _, w := range want {
		if haveSet[w] {
			return true
		}
	}
	return false
}
