// Package slicer walks a resolved spec's sections/blocks and emits the
// atomic, packable Slices that Disclosure and Search operate on
// (spec §4.G).
package slicer

import (
	"strings"

	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// utility is the fixed lookup table from spec §4.G.
var utility = map[skill.SliceType]float64{
	skill.SlicePolicy:    0.95,
	skill.SliceRule:      0.90,
	skill.SlicePitfall:   0.85,
	skill.SliceChecklist: 0.75,
	skill.SliceCommand:   0.70,
	skill.SliceExample:   0.65,
	skill.SliceOverview:  0.55,
	skill.SliceReference: 0.40,
}

// Slice walks spec's sections in order and classifies every block into a
// Slice. Classification prefers the block's declared type, refined by id
// prefix and content cues: a Rule-typed block whose id is prefixed
// "policy" becomes Policy; a Code block becomes Example unless its id
// hints "command" or "reference".
func Slice(spec skill.SkillSpec) []skill.Slice {
	var out []skill.Slice
	for _, section := range spec.Sections {
		coverageGroup := section.ID
		for _, block := range section.Blocks {
			sliceType := classify(block)
			content := block.Content
			tokenEstimate := estimateTokens(section.Title, content)

			out = append(out, skill.Slice{
				ID:            sliceID(block),
				SliceType:     sliceType,
				TokenEstimate: tokenEstimate,
				Utility:       utility[sliceType],
				CoverageGroup: coverageGroup,
				SectionTitle:  section.Title,
				Content:       content,
			})
		}
	}
	return out
}

func sliceID(block skill.Block) string {
	if block.ID != "" {
		return block.ID
	}
	return string(block.BlockType) + "-0"
}

// classify maps a block's declared type to its richer Slice type using id
// prefix and content cues, per spec §4.G.
func classify(block skill.Block) skill.SliceType {
	id := strings.ToLower(block.ID)

	switch block.BlockType {
	case skill.BlockRule:
		if strings.HasPrefix(id, "policy") {
			return skill.SlicePolicy
		}
		return skill.SliceRule
	case skill.BlockPitfall:
		return skill.SlicePitfall
	case skill.BlockChecklist:
		return skill.SliceChecklist
	case skill.BlockCommand:
		return skill.SliceCommand
	case skill.BlockCode:
		switch {
		case strings.HasPrefix(id, "command"):
			return skill.SliceCommand
		case strings.HasPrefix(id, "reference"):
			return skill.SliceReference
		default:
			return skill.SliceExample
		}
	default: // BlockText
		switch {
		case strings.HasPrefix(id, "policy"):
			return skill.SlicePolicy
		case strings.HasPrefix(id, "reference"):
			return skill.SliceReference
		case strings.HasPrefix(id, "overview"):
			return skill.SliceOverview
		default:
			return skill.SliceOverview
		}
	}
}

// estimateTokens returns ceil(chars/4) with a floor of 1, folding the
// section header's cost into the estimate without including the header
// text in the stored content.
func estimateTokens(sectionTitle, content string) int {
	chars := len(sectionTitle) + len(content)
	n := (chars + 3) / 4
	if n < 1 {
		return 1
	}
	return n
}
