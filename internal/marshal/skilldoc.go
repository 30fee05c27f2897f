package marshal

import (
	"gopkg.in/yaml.v3"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
	"github.com/greenforestpath/meta-skill-sub001/internal/speclens"
)

// skillFrontmatter is the typed shape of a SKILL.md's YAML frontmatter
// block: everything the body's Markdown structure cannot itself express
// (declared metadata, inheritance, composition).
type skillFrontmatter struct {
	FormatVersion  int               `yaml:"format_version"`
	Tags           []string          `yaml:"tags,omitempty"`
	Requires       []string          `yaml:"requires,omitempty"`
	Provides       []string          `yaml:"provides,omitempty"`
	Platforms      []string          `yaml:"platforms,omitempty"`
	ContextFilters map[string]string `yaml:"context_filters,omitempty"`
	Extends        string            `yaml:"extends,omitempty"`
	Includes       []string          `yaml:"includes,omitempty"`

	ProjectTypes  []string             `yaml:"project_types,omitempty"`
	FilePatterns  []string             `yaml:"file_patterns,omitempty"`
	Tools         []string             `yaml:"tools,omitempty"`
	ContextSignals []contextSignalYAML `yaml:"context_signals,omitempty"`
}

// contextSignalYAML is the on-disk shape of a skill.ContextSignal.
type contextSignalYAML struct {
	Regex  string  `yaml:"regex"`
	Weight float64 `yaml:"weight"`
}

// DecodeSkillSpec splits a SKILL.md file into its YAML frontmatter and
// Markdown body, decodes the frontmatter into declared metadata, and
// parses the body into sections via speclens. This is the one place the
// two halves of a skill document (declared shape, authored content) are
// stitched back into a single skill.SkillSpec.
func DecodeSkillSpec(content []byte) (skill.SkillSpec, error) {
	doc, err := Parse(content)
	if err != nil {
		return skill.SkillSpec{}, apperr.Wrap(apperr.Invalid, err, "parse skill document frontmatter")
	}

	var fm skillFrontmatter
	if len(doc.Frontmatter) > 0 {
		raw, err := yaml.Marshal(doc.Frontmatter)
		if err != nil {
			return skill.SkillSpec{}, apperr.Wrap(apperr.Invalid, err, "re-marshal frontmatter")
		}
		if err := yaml.Unmarshal(raw, &fm); err != nil {
			return skill.SkillSpec{}, apperr.Wrap(apperr.Invalid, err, "decode skill frontmatter")
		}
	}

	spec, err := speclens.Parse(doc.Body)
	if err != nil {
		return skill.SkillSpec{}, err
	}

	spec.FormatVersion = fm.FormatVersion
	spec.Extends = fm.Extends
	spec.Includes = fm.Includes
	signals := make([]skill.ContextSignal, 0, len(fm.ContextSignals))
	for _, s := range fm.ContextSignals {
		signals = append(signals, skill.ContextSignal{Regex: s.Regex, Weight: s.Weight})
	}
	spec.Metadata = skill.Metadata{
		Tags:           fm.Tags,
		Requires:       fm.Requires,
		Provides:       fm.Provides,
		Platforms:      fm.Platforms,
		ContextFilters: fm.ContextFilters,
		ContextTags: skill.ContextTags{
			ProjectTypes: fm.ProjectTypes,
			FilePatterns: fm.FilePatterns,
			Tools:        fm.Tools,
			Signals:      signals,
		},
	}
	return spec, nil
}

// EncodeSkillSpec is the inverse of DecodeSkillSpec: it renders spec's
// declared metadata as YAML frontmatter and its sections as a Markdown
// body via speclens, then combines them into one SKILL.md document.
func EncodeSkillSpec(spec skill.SkillSpec) ([]byte, error) {
	signals := make([]contextSignalYAML, 0, len(spec.Metadata.ContextTags.Signals))
	for _, s := range spec.Metadata.ContextTags.Signals {
		signals = append(signals, contextSignalYAML{Regex: s.Regex, Weight: s.Weight})
	}
	fm := skillFrontmatter{
		FormatVersion:  spec.FormatVersion,
		Tags:           spec.Metadata.Tags,
		Requires:       spec.Metadata.Requires,
		Provides:       spec.Metadata.Provides,
		Platforms:      spec.Metadata.Platforms,
		ContextFilters: spec.Metadata.ContextFilters,
		Extends:        spec.Extends,
		Includes:       spec.Includes,
		ProjectTypes:   spec.Metadata.ContextTags.ProjectTypes,
		FilePatterns:   spec.Metadata.ContextTags.FilePatterns,
		Tools:          spec.Metadata.ContextTags.Tools,
		ContextSignals: signals,
	}

	raw, err := yaml.Marshal(fm)
	if err != nil {
		return nil, apperr.Wrap(apperr.Invalid, err, "marshal skill frontmatter")
	}
	var frontmatter map[string]any
	if err := yaml.Unmarshal(raw, &frontmatter); err != nil {
		return nil, apperr.Wrap(apperr.Invalid, err, "decode intermediate frontmatter")
	}

	doc := &Document{Frontmatter: frontmatter, Body: speclens.Compile(spec)}
	return Render(doc)
}
