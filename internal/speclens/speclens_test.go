package speclens

import (
	"testing"

	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

const sampleDoc = `# Writing Go tests

Use table-driven tests and subtests for clarity.

## Conventions

Name test functions Test<Subject><Scenario>.

` + "```go\nfunc TestAdd(t *testing.T) {}\n```" + `

## Pitfalls

Do not share *testing.T across goroutines without t.Run.
`

func TestParseBasicShape(t *testing.T) {
	t.Parallel()
	spec, err := Parse(sampleDoc)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if spec.Name != "Writing Go tests" {
		t.Fatalf("Parse() Name = %q", spec.Name)
	}
	if spec.Description != "Use table-driven tests and subtests for clarity." {
		t.Fatalf("Parse() Description = %q", spec.Description)
	}
	if len(spec.Sections) != 2 {
		t.Fatalf("Parse() Sections = %d, want 2", len(spec.Sections))
	}
	if spec.Sections[0].Title != "Conventions" || spec.Sections[0].ID != "conventions" {
		t.Fatalf("Parse() Sections[0] = %+v", spec.Sections[0])
	}
	if len(spec.Sections[0].Blocks) != 2 {
		t.Fatalf("Parse() Sections[0].Blocks = %d, want 2", len(spec.Sections[0].Blocks))
	}
	if spec.Sections[0].Blocks[1].BlockType != skill.BlockCode || spec.Sections[0].Blocks[1].Lang != "go" {
		t.Fatalf("Parse() Sections[0].Blocks[1] = %+v", spec.Sections[0].Blocks[1])
	}
}

func TestParseRejectsMissingTitle(t *testing.T) {
	t.Parallel()
	_, err := Parse("no heading here\n")
	if err == nil {
		t.Fatal("Parse() error = nil, want error for missing title")
	}
}

func TestRoundTripIsIdempotentAfterFirstCompile(t *testing.T) {
	t.Parallel()
	spec, err := Parse(sampleDoc)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	compiled := Compile(spec)
	reparsed, err := Parse(compiled)
	if err != nil {
		t.Fatalf("Parse(Compile()) error: %v", err)
	}

	if reparsed.Name != spec.Name || reparsed.Description != spec.Description {
		t.Fatalf("round trip identity mismatch: %+v vs %+v", reparsed, spec)
	}
	if len(reparsed.Sections) != len(spec.Sections) {
		t.Fatalf("round trip section count mismatch: %d vs %d", len(reparsed.Sections), len(spec.Sections))
	}

	recompiled := Compile(reparsed)
	if compiled != recompiled {
		t.Fatalf("Compile() is not stable across a second round trip:\n--- first ---\n%s\n--- second ---\n%s", compiled, recompiled)
	}
}

func TestCompileEndsWithSingleTrailingNewline(t *testing.T) {
	t.Parallel()
	spec := skill.SkillSpec{Name: "X", Description: "Y"}
	out := Compile(spec)
	if out == "" || out[len(out)-1] != '\n' {
		t.Fatalf("Compile() does not end with newline: %q", out)
	}
	if len(out) >= 2 && out[len(out)-2] == '\n' {
		t.Fatalf("Compile() ends with more than one trailing newline: %q", out)
	}
}

func TestParseInfersBlockTypeFromSectionHeading(t *testing.T) {
	t.Parallel()
	doc := `# Deploying services

Ship small, ship often.

## Rules

Always run migrations before the rolling restart.

## Pitfalls

Do not skip the health check gate.

## Checklist

Confirm the canary is green.

## Commands

Run the release with the deploy script.

## Notes

Everything else stays plain text.
`
	spec, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(spec.Sections) != 5 {
		t.Fatalf("Sections = %d, want 5", len(spec.Sections))
	}

	want := map[string]skill.BlockType{
		"rules":     skill.BlockRule,
		"pitfalls":  skill.BlockPitfall,
		"checklist": skill.BlockChecklist,
		"commands":  skill.BlockCommand,
		"notes":     skill.BlockText,
	}
	for _, section := range spec.Sections {
		if len(section.Blocks) != 1 {
			t.Fatalf("section %q Blocks = %d, want 1", section.ID, len(section.Blocks))
		}
		if got := section.Blocks[0].BlockType; got != want[section.ID] {
			t.Fatalf("section %q block type = %q, want %q", section.ID, got, want[section.ID])
		}
	}
}

func TestSlugDeterministic(t *testing.T) {
	t.Parallel()
	if Slug("Common Pitfalls!") != "common-pitfalls" {
		t.Fatalf("Slug() = %q", Slug("Common Pitfalls!"))
	}
	if Slug("  Multiple   Spaces  ") != "multiple-spaces" {
		t.Fatalf("Slug() = %q", Slug("  Multiple   Spaces  "))
	}
}
