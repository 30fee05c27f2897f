// Package skill defines the core domain types shared across the store,
// resolver, slicer, disclosure, search, and sync subsystems.
package skill

import "time"

// Layer is a skill's provenance tier. Layers form a precedence lattice:
// User > Project > Org > Base. Duplicate ids across layers are resolved by
// layer in the index; they are never deleted across layers.
type Layer string

const (
	LayerBase    Layer = "base"
	LayerOrg     Layer = "org"
	LayerProject Layer = "project"
	LayerUser    Layer = "user"
)

// Rank returns the layer's precedence; higher wins.
func (l Layer) Rank() int {
	switch l {
	case LayerUser:
		return 3
	case LayerProject:
		return 2
	case LayerOrg:
		return 1
	case LayerBase:
		return 0
	default:
		return -1
	}
}

// Provenance records where a skill's source came from.
type Provenance struct {
	SourcePath   string
	Layer        Layer
	GitRemote    string
	GitCommit    string
}

// Metadata is the free-form, queryable shape of a skill's declared metadata.
type Metadata struct {
	Tags           []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Requires       []string          `json:"requires,omitempty" yaml:"requires,omitempty"`
	Provides       []string          `json:"provides,omitempty" yaml:"provides,omitempty"`
	Platforms      []string          `json:"platforms,omitempty" yaml:"platforms,omitempty"`
	ContextFilters map[string]string `json:"context_filters,omitempty" yaml:"context_filters,omitempty"`
	ContextTags    ContextTags       `json:"context_tags,omitempty" yaml:"context_tags,omitempty"`
}

// AssetManifest lists the script and reference files that travel alongside
// a skill's SKILL.md.
type AssetManifest struct {
	Scripts    []string `json:"scripts,omitempty" yaml:"scripts,omitempty"`
	References []string `json:"references,omitempty" yaml:"references,omitempty"`
}

// Derived holds values computed from a skill's content rather than declared
// by its author.
type Derived struct {
	TokenCount      int       `json:"token_count"`
	QualityScore    float64   `json:"quality_score"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Deprecated      bool      `json:"deprecated"`
	DeprecationNote string    `json:"deprecation_note,omitempty"`
}

// Skill is the identity + presentation + provenance + body record for one
// skill document, as held by the Index (spec §3).
type Skill struct {
	ID          string
	Name        string
	Version     string
	Description string
	Author      string
	Tags        []string

	Provenance Provenance

	ContentHash string

	Body     string
	Metadata Metadata
	Assets   AssetManifest

	Derived Derived
}

// AliasType is a literal alias kind. Unknown values are accepted and stored
// verbatim (spec §6).
type AliasType string

const (
	AliasDeprecated AliasType = "deprecated"
	AliasRename     AliasType = "rename"
	AliasGeneric    AliasType = "alias"
)

// Alias maps a secondary id to a canonical id.
type Alias struct {
	FromID    string
	ToID      string
	AliasType string
}

// BlockType enumerates the kinds of content a Block can carry.
type BlockType string

const (
	BlockText      BlockType = "text"
	BlockRule      BlockType = "rule"
	BlockCode      BlockType = "code"
	BlockCommand   BlockType = "command"
	BlockPitfall   BlockType = "pitfall"
	BlockChecklist BlockType = "checklist"
)

// Block is the smallest body element of a section.
type Block struct {
	ID        string
	BlockType BlockType
	Content   string
	Lang      string // fence language, Code blocks only
}

// Section is an ordered group of blocks under a titled heading.
type Section struct {
	ID                string
	Title             string
	Blocks            []Block
	ReplaceRules      bool
	ReplaceExamples   bool
	ReplacePitfalls   bool
	ReplaceChecklist  bool
}

// SkillSpec is the structured form parsed from a skill's Markdown body.
type SkillSpec struct {
	FormatVersion int
	Name          string
	Description   string
	Metadata      Metadata
	Sections      []Section
	Extends       string
	Includes      []string
}

// ResolvedSkillSpec is the output of inheritance + composition resolution.
type ResolvedSkillSpec struct {
	Spec              SkillSpec
	InheritanceChain  []string // root -> leaf
	IncludedSkillIDs  []string
	Warnings          []string
}

// SliceType enumerates the atomic packable unit kinds.
type SliceType string

const (
	SliceOverview  SliceType = "overview"
	SliceRule      SliceType = "rule"
	SlicePolicy    SliceType = "policy"
	SliceCommand   SliceType = "command"
	SliceExample   SliceType = "example"
	SlicePitfall   SliceType = "pitfall"
	SliceChecklist SliceType = "checklist"
	SliceReference SliceType = "reference"
)

// Slice is an atomic, packable derivative of a Block.
type Slice struct {
	ID            string
	SliceType     SliceType
	TokenEstimate int
	Utility       float64
	CoverageGroup string
	Tags          []string
	Conditions    []string
	SectionTitle  string
	Content       string
	// QualityScore is the owning skill's derived quality score (see
	// internal/quality), stamped onto every slice at index time so
	// Disclosure's ordering can break a utility tie in favor of the
	// higher-quality skill when slices from more than one skill are
	// being packed together (e.g. a dependency plan's bundled slices).
	QualityScore float64
}

// PackContract declares the shape a pack must satisfy.
type PackContract struct {
	ID              string
	Description     string
	RequiredGroups  []string
	MandatorySlices []string
	MaxPerGroup     map[string]int
	GroupWeights    map[string]float64
	TagWeights      map[string]float64
}

// SyncStatus is the per-(remote, skill) state machine's current state.
type SyncStatus string

const (
	SyncInSync      SyncStatus = "in_sync"
	SyncLocalAhead  SyncStatus = "local_ahead"
	SyncRemoteAhead SyncStatus = "remote_ahead"
	SyncDiverged    SyncStatus = "diverged"
	SyncConflict    SyncStatus = "conflict"
)

// VectorClock is a per-machine monotonic counter map.
type VectorClock map[string]int64

// Dominates reports whether vc dominates other (vc >= other in every
// component and > in at least one, or they are equal).
func (vc VectorClock) Dominates(other VectorClock) bool {
	strictlyGreater := false
	for machine, v := range other {
		if vc[machine] < v {
			return false
		}
		if vc[machine] > v {
			strictlyGreater = true
		}
	}
	for machine, v := range vc {
		if _, ok := other[machine]; !ok && v > 0 {
			strictlyGreater = true
		}
	}
	return strictlyGreater || vc.Equal(other)
}

// Equal reports whether two vector clocks carry identical counters.
func (vc VectorClock) Equal(other VectorClock) bool {
	if len(vc) != len(other) {
		return false
	}
	for k, v := range vc {
		if other[k] != v {
			return false
		}
	}
	return true
}

// Comparable reports whether vc and other are ordered (one dominates the
// other) as opposed to concurrent/conflicting.
func (vc VectorClock) Comparable(other VectorClock) bool {
	return vc.Dominates(other) || other.Dominates(vc)
}

// SyncState tracks one (remote, skill) pair's synchronization state.
type SyncState struct {
	Remote           string
	SkillID          string
	LastSeenRemote   string
	LastPushedLocal  string
	VectorClock      VectorClock
	Status           SyncStatus
}

// DisclosureLevel is an ordinal amount of a skill's content to reveal.
type DisclosureLevel string

const (
	LevelMinimal  DisclosureLevel = "minimal"
	LevelOverview DisclosureLevel = "overview"
	LevelStandard DisclosureLevel = "standard"
	LevelFull     DisclosureLevel = "full"
	LevelComplete DisclosureLevel = "complete"
)

// Rank returns the level's ordinal position; higher reveals more.
func (l DisclosureLevel) Rank() int {
	switch l {
	case LevelMinimal:
		return 0
	case LevelOverview:
		return 1
	case LevelStandard:
		return 2
	case LevelFull:
		return 3
	case LevelComplete:
		return 4
	default:
		return -1
	}
}

// PackMode selects the greedy-fill strategy a Pack plan uses under budget.
type PackMode string

const (
	PackBalanced     PackMode = "balanced"
	PackUtilityFirst PackMode = "utility_first"
	PackCoverageFirst PackMode = "coverage_first"
	PackPitfallSafe  PackMode = "pitfall_safe"
)

// TokenBudget bounds a Pack plan's selection.
type TokenBudget struct {
	Tokens      int
	Mode        PackMode
	MaxPerGroup map[string]int
	Contract    *PackContract
}

// DisclosedContent is the result of either a Level or Pack plan: the
// selected slices, in presentation order, plus bookkeeping.
type DisclosedContent struct {
	Slices          []Slice
	TotalTokens     int
	Level           DisclosureLevel // set by a level plan, empty for a pack plan
	IncludeScripts  bool
	IncludeRefs     bool
}

// DependencyMode selects how DependencyResolver assigns disclosure to a
// root skill's transitive dependencies.
type DependencyMode string

const (
	DepModeOff      DependencyMode = "off"
	DepModeAuto     DependencyMode = "auto"
	DepModeFull     DependencyMode = "full"
	DepModeOverview DependencyMode = "overview"
)

// DependencyPlanNode is one skill's assigned position and disclosure level
// in a DependencyResolver plan.
type DependencyPlanNode struct {
	SkillID string
	Level   DisclosureLevel
}

// DependencyPlan is the deterministic, topologically sorted output of
// DependencyResolver.Plan.
type DependencyPlan struct {
	Nodes             []DependencyPlanNode
	MissingCapabilities []string
	Cycles            [][]string
}

// ContextSignal is a regex/weight pair a skill declares to detect its own
// relevance in a working context's content snippets.
type ContextSignal struct {
	Regex  string
	Weight float64
}

// ContextTags is a skill's declared affinity for working contexts,
// scored by ContextScorer against a WorkingContext.
type ContextTags struct {
	ProjectTypes []string
	FilePatterns []string
	Tools        []string
	Signals      []ContextSignal
}

// DetectedProject is one project type recognized in the caller's
// workspace, with a confidence in [0,1].
type DetectedProject struct {
	ProjectType string
	Confidence  float64
}

// WorkingContext is the caller-supplied description of its current
// workspace, used to rank skills by situational relevance.
type WorkingContext struct {
	DetectedProjects []DetectedProject
	RecentFiles      []string
	DetectedTools    []string
	ContentSnippets  []string
}

// TxPhase enumerates the lifecycle of a two-phase commit transaction.
type TxPhase string

const (
	TxPrepared   TxPhase = "prepared"
	TxArchived   TxPhase = "archived"
	TxCommitted  TxPhase = "committed"
	TxRolledBack TxPhase = "rolled_back"
)

// TxRecord is the durable record of one in-flight or completed mutation.
type TxRecord struct {
	ID          string
	EntityType  string
	Phase       TxPhase
	StagedPaths []string
	IndexPlan   string // opaque, serialized plan for index mutations
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
