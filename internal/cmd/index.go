package cmd

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/greenforestpath/meta-skill-sub001/internal/appctx"
	"github.com/greenforestpath/meta-skill-sub001/internal/marshal"
	"github.com/greenforestpath/meta-skill-sub001/internal/quality"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
	"github.com/greenforestpath/meta-skill-sub001/internal/slicer"
)

var indexLayerFlag string

var indexCmd = &cobra.Command{
	Use:   "index <dir>",
	Short: "Index a skill directory's SKILL.md (and any sibling assets) into the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVar(&indexLayerFlag, "layer", "user", "layer to write under: base, org, project, user")
}

func runIndex(cmd *cobra.Command, args []string) error {
	dir := args[0]
	skillID := filepath.Base(filepath.Clean(dir))

	files, err := loadSkillDir(dir)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := appctx.Open(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	handle, err := app.Lock(defaultLockTimeout)
	if err != nil {
		return err
	}
	defer handle.Release()

	ctx := cmd.Context()
	spec, err := marshal.DecodeSkillSpec(files["SKILL.md"])
	if err != nil {
		return err
	}

	sk := skill.Skill{
		ID:          skillID,
		Name:        spec.Name,
		Version:     "1.0.0",
		Description: spec.Description,
		Tags:        spec.Metadata.Tags,
		Provenance:  skill.Provenance{Layer: skill.Layer(indexLayerFlag)},
		Body:        string(files["SKILL.md"]),
		Metadata:    spec.Metadata,
	}

	commit, err := app.Tx.WriteSkill(ctx, sk, files, "index", "ms", "ms@localhost")
	if err != nil {
		return err
	}

	slices := slicer.Slice(spec)
	qs := quality.Score(sk.Body, slices)
	for i := range slices {
		slices[i].QualityScore = qs
	}
	if err := app.Index.ReplaceSlices(ctx, skillID, sk.Provenance.Layer, slices); err != nil {
		return err
	}
	app.InvalidateSearchCache()

	return render(cmd.OutOrStdout(), cfg, map[string]string{"skill_id": skillID, "commit": commit}, nil, func(w io.Writer) error {
		_, err := io.WriteString(w, "indexed "+skillID+" at "+commit+"\n")
		return err
	})
}

// loadSkillDir reads SKILL.md and every sibling regular file under dir into
// an in-memory file set for WriteSkill, the same shape tx.Manager stages
// into the archive.
func loadSkillDir(dir string) (map[string][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := map[string][]byte{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out[e.Name()] = data
	}
	if _, ok := out["SKILL.md"]; !ok {
		return nil, os.ErrNotExist
	}
	return out, nil
}
