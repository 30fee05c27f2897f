// Package testutil provides shared test fixtures for the skill store: a
// minimal valid SKILL.md body and a matching skill.Skill, so package tests
// that need "some skill" don't each hand-roll their own frontmatter.
package testutil

import "github.com/greenforestpath/meta-skill-sub001/internal/skill"

// SampleSkillMarkdown returns a minimal, valid SKILL.md body: frontmatter
// plus one Overview section, enough for speclens/marshal to parse and for
// slicer to produce at least one slice.
func SampleSkillMarkdown(name, overview string) []byte {
	return []byte("---\nformat_version: 1\n---\n# " + name + "\n\n## Overview\n" + overview + "\n")
}

// SampleSkill returns a skill.Skill wrapping SampleSkillMarkdown's body
// under the given id and layer, ready to pass to tx.Manager.WriteSkill or
// index.Store.UpsertSkill.
func SampleSkill(id string, layer skill.Layer) skill.Skill {
	body := SampleSkillMarkdown(id, "Do the thing carefully.")
	return skill.Skill{
		ID:          id,
		Name:        id,
		Version:     "1.0.0",
		Description: "a sample skill for tests",
		Provenance:  skill.Provenance{Layer: layer},
		Body:        string(body),
	}
}
