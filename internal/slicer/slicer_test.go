package slicer

import (
	"testing"

	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

func sampleSpec() skill.SkillSpec {
	return skill.SkillSpec{
		Name: "Writing Go tests",
		Sections: []skill.Section{
			{
				ID:    "overview",
				Title: "Overview",
				Blocks: []skill.Block{
					{ID: "overview-b0", BlockType: skill.BlockText, Content: "Use table-driven tests."},
				},
			},
			{
				ID:    "rules",
				Title: "Rules",
				Blocks: []skill.Block{
					{ID: "policy-naming", BlockType: skill.BlockRule, Content: "Name tests Test<Subject><Scenario>."},
					{ID: "r1", BlockType: skill.BlockRule, Content: "Use subtests for table cases."},
				},
			},
			{
				ID:    "examples",
				Title: "Examples",
				Blocks: []skill.Block{
					{ID: "examples-b0", BlockType: skill.BlockCode, Lang: "go", Content: "func TestAdd(t *testing.T) {}"},
					{ID: "command-run", BlockType: skill.BlockCode, Lang: "bash", Content: "go test ./..."},
				},
			},
			{
				ID:    "pitfalls",
				Title: "Pitfalls",
				Blocks: []skill.Block{
					{ID: "pitfalls-b0", BlockType: skill.BlockPitfall, Content: "Do not share *testing.T across goroutines."},
				},
			},
			{
				ID:    "checklist",
				Title: "Checklist",
				Blocks: []skill.Block{
					{ID: "checklist-b0", BlockType: skill.BlockChecklist, Content: "- [ ] tests pass"},
				},
			},
		},
	}
}

func TestSliceProducesOneSlicePerBlock(t *testing.T) {
	t.Parallel()
	spec := sampleSpec()
	slices := Slice(spec)

	wantCount := 0
	for _, s := range spec.Sections {
		wantCount += len(s.Blocks)
	}
	if len(slices) != wantCount {
		t.Fatalf("Slice() returned %d slices, want %d", len(slices), wantCount)
	}
}

func TestSliceClassifiesPolicyByIDPrefix(t *testing.T) {
	t.Parallel()
	slices := Slice(sampleSpec())
	var policy *skill.Slice
	for i := range slices {
		if slices[i].ID == "policy-naming" {
			policy = &slices[i]
		}
	}
	if policy == nil {
		t.Fatal("expected a slice with id policy-naming")
	}
	if policy.SliceType != skill.SlicePolicy {
		t.Fatalf("SliceType = %q, want policy", policy.SliceType)
	}
	if policy.Utility != 0.95 {
		t.Fatalf("Utility = %v, want 0.95", policy.Utility)
	}
}

func TestSliceClassifiesPlainRule(t *testing.T) {
	t.Parallel()
	slices := Slice(sampleSpec())
	var rule *skill.Slice
	for i := range slices {
		if slices[i].ID == "r1" {
			rule = &slices[i]
		}
	}
	if rule == nil {
		t.Fatal("expected a slice with id r1")
	}
	if rule.SliceType != skill.SliceRule || rule.Utility != 0.90 {
		t.Fatalf("rule slice = %+v", rule)
	}
}

func TestSliceCodeDefaultsToExampleUnlessHinted(t *testing.T) {
	t.Parallel()
	slices := Slice(sampleSpec())
	var example, command *skill.Slice
	for i := range slices {
		switch slices[i].ID {
		case "examples-b0":
			example = &slices[i]
		case "command-run":
			command = &slices[i]
		}
	}
	if example == nil || example.SliceType != skill.SliceExample {
		t.Fatalf("example slice = %+v", example)
	}
	if command == nil || command.SliceType != skill.SliceCommand {
		t.Fatalf("command slice = %+v", command)
	}
}

func TestSlicePitfallAndChecklistUtility(t *testing.T) {
	t.Parallel()
	slices := Slice(sampleSpec())
	for _, s := range slices {
		switch s.ID {
		case "pitfalls-b0":
			if s.SliceType != skill.SlicePitfall || s.Utility != 0.85 {
				t.Fatalf("pitfall slice = %+v", s)
			}
		case "checklist-b0":
			if s.SliceType != skill.SliceChecklist || s.Utility != 0.75 {
				t.Fatalf("checklist slice = %+v", s)
			}
		}
	}
}

func TestSliceTokenEstimateIsCeilDivFourWithFloor(t *testing.T) {
	t.Parallel()
	spec := skill.SkillSpec{
		Sections: []skill.Section{{
			ID: "s", Title: "",
			Blocks: []skill.Block{{ID: "tiny", BlockType: skill.BlockText, Content: "ab"}},
		}},
	}
	slices := Slice(spec)
	if len(slices) != 1 {
		t.Fatalf("Slice() = %d slices, want 1", len(slices))
	}
	if slices[0].TokenEstimate != 1 {
		t.Fatalf("TokenEstimate = %d, want 1 (floor)", slices[0].TokenEstimate)
	}
}

func TestSliceCoverageGroupMatchesSectionID(t *testing.T) {
	t.Parallel()
	spec := sampleSpec()
	sectionOf := map[string]string{}
	for _, sec := range spec.Sections {
		for _, b := range sec.Blocks {
			sectionOf[b.ID] = sec.ID
		}
	}
	slices := Slice(spec)
	for _, s := range slices {
		if s.CoverageGroup == "" {
			t.Fatalf("slice %q has empty CoverageGroup", s.ID)
		}
		if s.CoverageGroup != sectionOf[s.ID] {
			t.Fatalf("slice %q CoverageGroup = %q, want %q", s.ID, s.CoverageGroup, sectionOf[s.ID])
		}
	}
}
