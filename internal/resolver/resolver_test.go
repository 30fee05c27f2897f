package resolver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/index"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

type fakeSource struct {
	specs  map[string]skill.SkillSpec
	hashes map[string]string
}

func (f *fakeSource) RawSpec(_ context.Context, id string) (skill.SkillSpec, string, error) {
	spec, ok := f.specs[id]
	if !ok {
		return skill.SkillSpec{}, "", apperr.New(apperr.NotFound, "no such skill").WithContext("skill_id", id)
	}
	return spec, f.hashes[id], nil
}

func newTestResolver(t *testing.T, src SpecSource) *Resolver {
	t.Helper()
	idx, err := index.Open(filepath.Join(t.TempDir(), "ms.db"))
	if err != nil {
		t.Fatalf("index.Open() error: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	r, err := New(src, idx, 64)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return r
}

func TestResolveSingleSkillNoInheritance(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		specs: map[string]skill.SkillSpec{
			"base": {Name: "Base", Description: "d", Sections: []skill.Section{{ID: "s1", Title: "S1", Blocks: []skill.Block{{ID: "b1", BlockType: skill.BlockText, Content: "hello"}}}}},
		},
		hashes: map[string]string{"base": "h1"},
	}
	r := newTestResolver(t, src)

	resolved, err := r.Resolve(context.Background(), "base")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resolved.Spec.Name != "Base" || len(resolved.InheritanceChain) != 1 {
		t.Fatalf("Resolve() = %+v", resolved)
	}
}

func TestResolveMergesInheritanceChain(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		specs: map[string]skill.SkillSpec{
			"parent": {
				Name: "Parent", Description: "parent desc",
				Sections: []skill.Section{{ID: "rules", Title: "Rules", Blocks: []skill.Block{{ID: "r1", BlockType: skill.BlockRule, Content: "parent rule"}}}},
			},
			"child": {
				Name: "Child", Extends: "parent",
				Sections: []skill.Section{{ID: "rules", Title: "Rules", Blocks: []skill.Block{{ID: "r2", BlockType: skill.BlockRule, Content: "child rule"}}}},
			},
		},
		hashes: map[string]string{"parent": "hp", "child": "hc"},
	}
	r := newTestResolver(t, src)

	resolved, err := r.Resolve(context.Background(), "child")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resolved.Spec.Name != "Child" {
		t.Fatalf("Resolve() Name = %q, want Child", resolved.Spec.Name)
	}
	if len(resolved.InheritanceChain) != 2 || resolved.InheritanceChain[0] != "parent" || resolved.InheritanceChain[1] != "child" {
		t.Fatalf("Resolve() InheritanceChain = %v", resolved.InheritanceChain)
	}
	if len(resolved.Spec.Sections) != 1 || len(resolved.Spec.Sections[0].Blocks) != 2 {
		t.Fatalf("Resolve() merged rules section = %+v", resolved.Spec.Sections[0])
	}
}

func TestResolveReplaceRulesOverridesParent(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		specs: map[string]skill.SkillSpec{
			"parent": {
				Name:     "Parent",
				Sections: []skill.Section{{ID: "rules", Title: "Rules", Blocks: []skill.Block{{ID: "r1", BlockType: skill.BlockRule, Content: "parent rule"}}}},
			},
			"child": {
				Name:    "Child",
				Extends: "parent",
				Sections: []skill.Section{{
					ID: "rules", Title: "Rules", ReplaceRules: true,
					Blocks: []skill.Block{{ID: "r2", BlockType: skill.BlockRule, Content: "child rule"}},
				}},
			},
		},
		hashes: map[string]string{"parent": "hp", "child": "hc"},
	}
	r := newTestResolver(t, src)

	resolved, err := r.Resolve(context.Background(), "child")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if len(resolved.Spec.Sections[0].Blocks) != 1 || resolved.Spec.Sections[0].Blocks[0].Content != "child rule" {
		t.Fatalf("Resolve() with ReplaceRules = %+v", resolved.Spec.Sections[0].Blocks)
	}
}

func TestResolveDetectsInheritanceCycle(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		specs: map[string]skill.SkillSpec{
			"a": {Name: "A", Extends: "b"},
			"b": {Name: "B", Extends: "a"},
		},
		hashes: map[string]string{"a": "ha", "b": "hb"},
	}
	r := newTestResolver(t, src)

	_, err := r.Resolve(context.Background(), "a")
	if !apperr.Is(err, apperr.CyclicInherit) {
		t.Fatalf("Resolve() error = %v, want CyclicInherit", err)
	}
}

func TestResolveAppliesIncludesWithoutOverwritingLocal(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		specs: map[string]skill.SkillSpec{
			"lib": {
				Name:     "Lib",
				Sections: []skill.Section{{ID: "shared", Title: "Shared", Blocks: []skill.Block{{ID: "s1", BlockType: skill.BlockText, Content: "lib content"}}}},
			},
			"main": {
				Name:     "Main",
				Includes: []string{"lib"},
				Sections: []skill.Section{{ID: "main-only", Title: "Main only", Blocks: []skill.Block{{ID: "m1", BlockType: skill.BlockText, Content: "main content"}}}},
			},
		},
		hashes: map[string]string{"lib": "hl", "main": "hm"},
	}
	r := newTestResolver(t, src)

	resolved, err := r.Resolve(context.Background(), "main")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if len(resolved.Spec.Sections) != 2 {
		t.Fatalf("Resolve() Sections = %d, want 2", len(resolved.Spec.Sections))
	}
	if len(resolved.IncludedSkillIDs) != 1 || resolved.IncludedSkillIDs[0] != "lib" {
		t.Fatalf("Resolve() IncludedSkillIDs = %v", resolved.IncludedSkillIDs)
	}
}

func TestResolveCachesSecondCall(t *testing.T) {
	t.Parallel()
	calls := 0
	src := &fakeSource{specs: map[string]skill.SkillSpec{"solo": {Name: "Solo"}}, hashes: map[string]string{"solo": "h1"}}
	countingSource := countingSpecSource{src, &calls}
	r := newTestResolver(t, countingSource)

	if _, err := r.Resolve(context.Background(), "solo"); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "solo"); err != nil {
		t.Fatalf("Resolve() second call error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("RawSpec() called %d times, want 1 (second Resolve should hit cache)", calls)
	}
}

type countingSpecSource struct {
	*fakeSource
	calls *int
}

func (c countingSpecSource) RawSpec(ctx context.Context, id string) (skill.SkillSpec, string, error) {
	*c.calls++
	return c.fakeSource.RawSpec(ctx, id)
}
