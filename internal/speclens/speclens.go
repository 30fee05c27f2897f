// Package speclens converts between a skill's Markdown source and its
// structured SkillSpec (spec §4.E). The parser is a hand-rolled line
// scanner rather than a general Markdown AST library: a general-purpose
// parser normalizes things (list markers, emphasis, whitespace) in ways
// that would make byte-exact round-tripping harder to guarantee than a
// purpose-built scanner tied to this one fixed document shape.
package speclens

import (
	"regexp"
	"strings"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slug produces a deterministic, lowercase, hyphenated id from a title.
func Slug(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = nonSlugChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "section"
	}
	return s
}

// Parse reads a SKILL.md document into a SkillSpec. Parsing is strict and
// total: a top-level "# Name" sets the title, paragraphs up to the first
// "## " heading form the description, and each "## Title" opens a section
// whose blocks are fenced code (-> Code) or the text between fences, which
// takes the section's inferred type (see sectionDefaultBlockType).
func Parse(content string) (skill.SkillSpec, error) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	idx := 0
	for idx < len(lines) && strings.TrimSpace(lines[idx]) == "" {
		idx++
	}
	if idx >= len(lines) || !strings.HasPrefix(lines[idx], "# ") {
		return skill.SkillSpec{}, apperr.New(apperr.Invalid, "skill document must begin with a top-level '# Name' heading")
	}
	name := strings.TrimSpace(strings.TrimPrefix(lines[idx], "# "))
	idx++

	descLines, idx := collectUntilHeading(lines, idx, "## ")
	description := strings.TrimSpace(joinParagraphs(descLines))

	var sections []skill.Section
	for idx < len(lines) {
		line := lines[idx]
		if !strings.HasPrefix(line, "## ") {
			idx++
			continue
		}
		title := strings.TrimSpace(strings.TrimPrefix(line, "## "))
		idx++

		var bodyLines []string
		bodyLines, idx = collectUntilHeading(lines, idx, "## ")

		section := skill.Section{ID: Slug(title), Title: title}
		section.Blocks = parseBlocks(section.ID, sectionDefaultBlockType(section.ID), bodyLines)
		sections = append(sections, section)
	}

	return skill.SkillSpec{
		FormatVersion: 1,
		Name:          name,
		Description:   description,
		Sections:      sections,
	}, nil
}

// collectUntilHeading returns the lines from idx up to (not including) the
// next line with the given prefix, and the advanced index.
func collectUntilHeading(lines []string, idx int, prefix string) ([]string, int) {
	start := idx
	for idx < len(lines) && !strings.HasPrefix(lines[idx], prefix) {
		idx++
	}
	return lines[start:idx], idx
}

// joinParagraphs trims leading/trailing blank lines and joins the rest
// with single newlines, collapsing runs of blank lines to one.
func joinParagraphs(lines []string) string {
	var out []string
	blank := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, l)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// sectionDefaultBlockType infers the BlockType a section's plain-paragraph
// blocks should carry from its slug, so headings like "## Rules" or
// "## Pitfalls" produce the matching block type without needing any inline
// Markdown syntax to say so. Fenced code always parses as BlockCode
// regardless of the section it appears in.
func sectionDefaultBlockType(sectionID string) skill.BlockType {
	switch {
	case strings.Contains(sectionID, "polic"):
		return skill.BlockRule
	case strings.Contains(sectionID, "rule"), strings.Contains(sectionID, "invariant"), strings.Contains(sectionID, "convention"):
		return skill.BlockRule
	case strings.Contains(sectionID, "pitfall"), strings.Contains(sectionID, "gotcha"), strings.Contains(sectionID, "warning"):
		return skill.BlockPitfall
	case strings.Contains(sectionID, "checklist"):
		return skill.BlockChecklist
	case strings.Contains(sectionID, "command"):
		return skill.BlockCommand
	default:
		return skill.BlockText
	}
}

// parseBlocks splits a section body into blocks, in the order they appear.
// Fenced code always becomes BlockCode; everything else takes defaultType,
// the section's inferred default. Ids are deterministic, of the form
// "<section-id>-b<ordinal>".
func parseBlocks(sectionID string, defaultType skill.BlockType, lines []string) []skill.Block {
	var blocks []skill.Block
	var para []string
	ordinal := 0

	flush := func() {
		text := strings.TrimSpace(joinParagraphs(para))
		if text != "" {
			blocks = append(blocks, skill.Block{
				ID:        blockID(sectionID, ordinal),
				BlockType: defaultType,
				Content:   text,
			})
			ordinal++
		}
		para = nil
	}

	i := 0
	for i < len(lines) {
		line := lines[i]
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			flush()
			lang := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "```"))
			i++
			var code []string
			for i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
				code = append(code, lines[i])
				i++
			}
			if i < len(lines) {
				i++ // skip closing fence
			}
			blocks = append(blocks, skill.Block{
				ID:        blockID(sectionID, ordinal),
				BlockType: skill.BlockCode,
				Content:   strings.Join(code, "\n"),
				Lang:      lang,
			})
			ordinal++
			continue
		}
		para = append(para, line)
		i++
	}
	flush()
	return blocks
}

func blockID(sectionID string, ordinal int) string {
	return sectionID + "-b" + itoa(ordinal)
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

// Compile renders a SkillSpec back into its canonical Markdown form:
// normalized blank lines, a single trailing newline, and fences
// reproduced exactly as parsed. Compile(Parse(x)) is not guaranteed to
// equal x byte-for-byte (whitespace is normalized), but
// Parse(Compile(Parse(x))) is always equal to Parse(x).
func Compile(spec skill.SkillSpec) string {
	var b strings.Builder

	b.WriteString("# ")
	b.WriteString(spec.Name)
	b.WriteString("\n\n")

	if spec.Description != "" {
		b.WriteString(spec.Description)
		b.WriteString("\n\n")
	}

	for _, section := range spec.Sections {
		b.WriteString("## ")
		b.WriteString(section.Title)
		b.WriteString("\n\n")

		for _, block := range section.Blocks {
			switch block.BlockType {
			case skill.BlockCode:
				b.WriteString("```")
				b.WriteString(block.Lang)
				b.WriteString("\n")
				b.WriteString(block.Content)
				b.WriteString("\n```\n\n")
			default:
				b.WriteString(block.Content)
				b.WriteString("\n\n")
			}
		}
	}

	out := strings.TrimRight(b.String(), "\n") + "\n"
	return out
}
