package contract

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/greenforestpath/meta-skill-sub001/internal/apperr"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

func TestResolveEmptyNameReturnsNil(t *testing.T) {
	t.Parallel()
	got, err := Resolve("", "/nonexistent/custom_contracts.json")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Resolve(\"\") = %+v, want nil", got)
	}
}

func TestResolveBuiltinMinimalSafe(t *testing.T) {
	t.Parallel()
	got, err := Resolve("minimal-safe", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got == nil || got.ID != "minimal-safe" {
		t.Fatalf("Resolve(minimal-safe) = %+v", got)
	}
}

func TestResolveBuiltinFullCoverage(t *testing.T) {
	t.Parallel()
	got, err := Resolve("full-coverage", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got == nil || got.ID != "full-coverage" {
		t.Fatalf("Resolve(full-coverage) = %+v", got)
	}
}

func TestResolveUnknownNameWithNoCustomFileIsNotFound(t *testing.T) {
	t.Parallel()
	_, err := Resolve("does-not-exist", filepath.Join(t.TempDir(), "custom_contracts.json"))
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("Resolve() error = %v, want NotFound", err)
	}
}

func TestResolveCustomContractByID(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "custom_contracts.json")
	contracts := []skill.PackContract{
		{ID: "team-default", Description: "our house style", GroupWeights: map[string]float64{"rules": 2.0}},
	}
	data, err := json.Marshal(contracts)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	got, err := Resolve("team-default", path)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got == nil || got.ID != "team-default" || got.GroupWeights["rules"] != 2.0 {
		t.Fatalf("Resolve(team-default) = %+v", got)
	}
}

func TestResolveCustomFileMissingFallsThroughToNotFound(t *testing.T) {
	t.Parallel()
	_, err := Resolve("whatever", filepath.Join(t.TempDir(), "missing.json"))
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("Resolve() error = %v, want NotFound", err)
	}
}

func TestResolveCustomFileMalformedIsInvalid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "custom_contracts.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	_, err := Resolve("whatever", path)
	if !apperr.Is(err, apperr.Invalid) {
		t.Fatalf("Resolve() error = %v, want Invalid", err)
	}
}
