package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/greenforestpath/meta-skill-sub001/internal/appctx"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

var listLayerFlag string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed skills",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listLayerFlag, "layer", "", "restrict to one layer: base, org, project, user")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := appctx.Open(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	layers := []skill.Layer{skill.LayerBase, skill.LayerOrg, skill.LayerProject, skill.LayerUser}
	if listLayerFlag != "" {
		layers = []skill.Layer{skill.Layer(listLayerFlag)}
	}

	var all []skill.Skill
	for _, layer := range layers {
		skills, err := app.Index.ListSkills(cmd.Context(), layer)
		if err != nil {
			return err
		}
		all = append(all, skills...)
	}

	return render(cmd.OutOrStdout(), cfg, all, nil, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLAYER\tVERSION\tUPDATED\tNAME")
		for _, sk := range all {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", sk.ID, sk.Provenance.Layer, sk.Version, relativeTime(sk.UpdatedAt), sk.Name)
		}
		return tw.Flush()
	})
}
