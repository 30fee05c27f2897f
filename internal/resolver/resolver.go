// Package resolver implements inheritance and composition resolution
// (spec §4.F): merging a skill's extends-chain and includes into one
// ResolvedSkillSpec, backed by a two-level cache.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/index"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

const maxInheritanceDepth = 16

// SpecSource resolves a skill id to its raw (unresolved) spec and content
// hash. Implementations typically read SKILL.md via the archive and parse
// it with speclens, or read the already-parsed body+hash from the index.
type SpecSource interface {
	RawSpec(ctx context.Context, skillID string) (skill.SkillSpec, string, error)
}

// Resolver performs inheritance/composition resolution with an L1
// in-memory LRU and an L2 SQLite-backed cache.
type Resolver struct {
	source SpecSource
	idx    *index.Store
	l1     *lru.Cache[string, skill.ResolvedSkillSpec]
}

// New builds a Resolver. l1Size is the in-memory LRU capacity (spec §4.F
// default: 256).
func New(source SpecSource, idx *index.Store, l1Size int) (*Resolver, error) {
	cache, err := lru.New[string, skill.ResolvedSkillSpec](l1Size)
	if err != nil {
		return nil, apperr.Wrap(apperr.Invalid, err, "create resolution cache")
	}
	return &Resolver{source: source, idx: idx, l1: cache}, nil
}

// Resolve returns the fully merged spec for skillID, using cached results
// when the transitive dependency content hashes have not changed. skillID
// is first followed through any alias chain to its canonical id.
func (r *Resolver) Resolve(ctx context.Context, skillID string) (skill.ResolvedSkillSpec, error) {
	canonical, _, err := r.idx.ResolveAlias(ctx, skillID)
	if err != nil {
		return skill.ResolvedSkillSpec{}, err
	}
	skillID = canonical

	chain, warnings, err := r.buildChain(ctx, skillID, nil, 0)
	if err != nil {
		return skill.ResolvedSkillSpec{}, err
	}

	depHash := dependencyHash(chain)
	cacheKey := skillID + ":" + depHash

	if cached, ok := r.l1.Get(cacheKey); ok {
		return cached, nil
	}
	if cached, hit, err := r.idx.GetResolvedCache(ctx, cacheKey, depHash); err == nil && hit {
		r.l1.Add(cacheKey, *cached)
		return *cached, nil
	}

	merged := chain[0].spec
	for i := 1; i < len(chain); i++ {
		merged = mergeSpec(merged, chain[i].spec)
	}

	includedIDs, merged, includeWarnings, err := r.applyIncludes(ctx, merged)
	if err != nil {
		return skill.ResolvedSkillSpec{}, err
	}
	warnings = append(warnings, includeWarnings...)

	chainIDs := make([]string, len(chain))
	for i, c := range chain {
		chainIDs[i] = c.id
	}

	resolved := skill.ResolvedSkillSpec{
		Spec:             merged,
		InheritanceChain: chainIDs,
		IncludedSkillIDs: includedIDs,
		Warnings:         warnings,
	}

	r.l1.Add(cacheKey, resolved)
	if err := r.idx.PutResolvedCache(ctx, cacheKey, skillID, depHash, resolved); err != nil {
		return resolved, err
	}
	return resolved, nil
}

// Invalidate evicts every cached entry for skillID from both levels; the
// caller is responsible for walking skill_dependency_graph to find
// transitive dependents and calling this for each.
func (r *Resolver) Invalidate(ctx context.Context, skillID string) error {
	for _, key := range r.l1.Keys() {
		if len(key) > len(skillID) && key[:len(skillID)] == skillID && key[len(skillID)] == ':' {
			r.l1.Remove(key)
		}
	}
	return r.idx.InvalidateResolvedCache(ctx, skillID)
}

type chainEntry struct {
	id   string
	hash string
	spec skill.SkillSpec
}

// buildChain walks the extends chain from root to skillID (leaf last),
// detecting cycles and recording a DeepInheritance warning once depth
// exceeds maxInheritanceDepth.
func (r *Resolver) buildChain(ctx context.Context, skillID string, visited []string, depth int) ([]chainEntry, []string, error) {
	for _, v := range visited {
		if v == skillID {
			return nil, nil, apperr.New(apperr.CyclicInherit, "cyclic inheritance detected").
				WithContext("chain", joinIDs(append(visited, skillID)))
		}
	}

	spec, hash, err := r.source.RawSpec(ctx, skillID)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.ParentNotFound, err, "resolve parent skill").WithContext("skill_id", skillID)
	}

	var warnings []string
	if depth > maxInheritanceDepth {
		warnings = append(warnings, "inheritance depth exceeds "+itoa(maxInheritanceDepth)+" at "+skillID)
	}

	entry := chainEntry{id: skillID, hash: hash, spec: spec}

	if spec.Extends == "" {
		return []chainEntry{entry}, warnings, nil
	}

	parentChain, parentWarnings, err := r.buildChain(ctx, spec.Extends, append(visited, skillID), depth+1)
	if err != nil {
		return nil, nil, err
	}
	return append(parentChain, entry), append(parentWarnings, warnings...), nil
}

// applyIncludes merges each declared include's fully resolved sections
// into target, in declared order, never overwriting a locally declared
// section (by id).
func (r *Resolver) applyIncludes(ctx context.Context, target skill.SkillSpec) ([]string, skill.SkillSpec, []string, error) {
	if len(target.Includes) == 0 {
		return nil, target, nil, nil
	}

	present := make(map[string]bool, len(target.Sections))
	for _, s := range target.Sections {
		present[s.ID] = true
	}

	var includedIDs []string
	var warnings []string
	for _, includeID := range target.Includes {
		resolved, err := r.Resolve(ctx, includeID)
		if err != nil {
			return nil, target, nil, apperr.Wrap(apperr.ParentNotFound, err, "resolve included skill").WithContext("skill_id", includeID)
		}
		includedIDs = append(includedIDs, includeID)
		warnings = append(warnings, resolved.Warnings...)

		for _, s := range resolved.Spec.Sections {
			if present[s.ID] {
				continue
			}
			target.Sections = append(target.Sections, s)
			present[s.ID] = true
		}
	}
	return includedIDs, target, warnings, nil
}

// mergeSpec merges child onto parent: child replaces identity and any
// non-empty metadata field; same-id sections merge their block lists per
// each section's replace_* flags and block type.
func mergeSpec(parent, child skill.SkillSpec) skill.SkillSpec {
	out := parent

	if child.Name != "" {
		out.Name = child.Name
	}
	if child.Description != "" {
		out.Description = child.Description
	}
	out.Metadata = mergeMetadata(parent.Metadata, child.Metadata)
	out.Extends = child.Extends
	out.Includes = child.Includes
	out.FormatVersion = child.FormatVersion

	byID := make(map[string]int, len(out.Sections))
	for i, s := range out.Sections {
		byID[s.ID] = i
	}

	for _, cs := range child.Sections {
		if i, ok := byID[cs.ID]; ok {
			out.Sections[i] = mergeSection(out.Sections[i], cs)
		} else {
			out.Sections = append(out.Sections, cs)
			byID[cs.ID] = len(out.Sections) - 1
		}
	}
	return out
}

func mergeMetadata(parent, child skill.Metadata) skill.Metadata {
	out := parent
	if len(child.Tags) > 0 {
		out.Tags = child.Tags
	}
	if len(child.Requires) > 0 {
		out.Requires = child.Requires
	}
	if len(child.Provides) > 0 {
		out.Provides = child.Provides
	}
	if len(child.Platforms) > 0 {
		out.Platforms = child.Platforms
	}
	if len(child.ContextFilters) > 0 {
		out.ContextFilters = child.ContextFilters
	}
	if len(child.ContextTags.ProjectTypes) > 0 || len(child.ContextTags.FilePatterns) > 0 ||
		len(child.ContextTags.Tools) > 0 || len(child.ContextTags.Signals) > 0 {
		out.ContextTags = child.ContextTags
	}
	return out
}

// mergeSection merges child's blocks onto parent's, honoring replace_*
// flags per block type, then rebuilds in canonical block-type order.
func mergeSection(parent, child skill.Section) skill.Section {
	out := skill.Section{ID: parent.ID, Title: child.Title}
	if out.Title == "" {
		out.Title = parent.Title
	}

	byType := func(blocks []skill.Block, t skill.BlockType) []skill.Block {
		var matched []skill.Block
		for _, b := range blocks {
			if b.BlockType == t {
				matched = append(matched, b)
			}
		}
		return matched
	}

	var merged []skill.Block
	appendType := func(t skill.BlockType, replace bool) {
		if replace {
			merged = append(merged, byType(child.Blocks, t)...)
			return
		}
		merged = append(merged, byType(parent.Blocks, t)...)
		merged = append(merged, byType(child.Blocks, t)...)
	}

	appendType(skill.BlockText, false)
	appendType(skill.BlockCommand, false)
	appendType(skill.BlockRule, child.ReplaceRules)
	appendType(skill.BlockCode, child.ReplaceExamples)
	appendType(skill.BlockPitfall, child.ReplacePitfalls)
	appendType(skill.BlockChecklist, child.ReplaceChecklist)

	out.Blocks = merged
	out.ReplaceRules = child.ReplaceRules
	out.ReplaceExamples = child.ReplaceExamples
	out.ReplacePitfalls = child.ReplacePitfalls
	out.ReplaceChecklist = child.ReplaceChecklist
	return out
}

func dependencyHash(chain []chainEntry) string {
	parts := make([]string, len(chain))
	for i, c := range chain {
		parts[i] = c.id + "@" + c.hash
	}
	sort.Strings(parts)

	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += "->"
		}
		out += id
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
