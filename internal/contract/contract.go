// Package contract resolves a PackContract by name: one of the built-in
// presets, or an entry from the workspace's custom_contracts.json.
package contract

import (
	"encoding/json"
	"os"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

// builtins are shipped as data, not code (spec §9 design note): a small
// set of presets that cover the common pack shapes without requiring a
// custom_contracts.json for the simple cases.
var builtins = map[string]skill.PackContract{
	"minimal-safe": {
		ID:              "minimal-safe",
		Description:     "Weights the rules group at 1.0; no mandatory slices and no required groups, so the pack is the mode's plain greedy fill.",
		RequiredGroups:  nil,
		MandatorySlices: nil,
		GroupWeights:    map[string]float64{"rules": 1.0},
	},
	"full-coverage": {
		ID:             "full-coverage",
		Description:    "At least one slice from every coverage group present in the skill.",
		RequiredGroups: nil, // populated per-skill by the caller from its own groups
		GroupWeights:   map[string]float64{},
	},
}

// Resolve looks up name among the built-in presets first, then among
// customPath's entries (by PackContract.ID). Returns (nil, nil) if name is
// empty.
func Resolve(name, customPath string) (*skill.PackContract, error) {
	if name == "" {
		return nil, nil
	}
	if c, ok := builtins[name]; ok {
		out := c
		return &out, nil
	}
	custom, err := loadCustom(customPath)
	if err != nil {
		return nil, err
	}
	for _, c := range custom {
		if c.ID == name {
			out := c
			return &out, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "no pack contract named "+name).WithContext("contract", name)
}

func loadCustom(path string) ([]skill.PackContract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.Invalid, err, "read custom contracts file").WithContext("path", path)
	}
	var contracts []skill.PackContract
	if err := json.Unmarshal(data, &contracts); err != nil {
		return nil, apperr.Wrap(apperr.Invalid, err, "parse custom contracts file").WithContext("path", path)
	}
	return contracts, nil
}
